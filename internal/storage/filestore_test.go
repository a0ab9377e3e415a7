// File: internal/storage/filestore_test.go
package storage

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(filepath.Join(t.TempDir(), "state"), zaptest.NewLogger(t))
	require.NoError(t, err)
	return s
}

func TestFileStore_RoundTrip(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, ok, err := s.Get("identity.secret")
	require.NoError(t, err)
	assert.False(t, ok, "fresh store has no value")

	require.NoError(t, s.Set("identity.secret", "deadbeef"))

	got, ok, err := s.Get("identity.secret")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "deadbeef", got)

	// Overwrite replaces, never appends.
	require.NoError(t, s.Set("identity.secret", "cafe"))
	got, ok, err = s.Get("identity.secret")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "cafe", got)
}

func TestFileStore_RemoveIsIdempotent(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.Set("identity.secret", "deadbeef"))
	require.NoError(t, s.Remove("identity.secret"))

	_, ok, err := s.Get("identity.secret")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Remove("identity.secret"), "removing a missing key is a no-op")
}

func TestFileStore_RestrictsPermissions(t *testing.T) {
	t.Parallel()
	dir := filepath.Join(t.TempDir(), "state")
	s, err := NewFileStore(dir, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, s.Set("identity.secret", "deadbeef"))

	dirInfo, err := os.Stat(dir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())

	fileInfo, err := os.Stat(filepath.Join(dir, "identity.secret"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), fileInfo.Mode().Perm())
}

func TestFileStore_SanitizesKeys(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	require.NoError(t, s.Set("weird/../key", "v"))
	got, ok, err := s.Get("weird/../key")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", got)

	// The value must live inside the state dir, not beside it.
	entries, err := os.ReadDir(s.dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotContains(t, entries[0].Name(), "/")
}

func TestFileStore_RejectsEmptyDir(t *testing.T) {
	t.Parallel()
	_, err := NewFileStore("", nil)
	require.Error(t, err)
}

package service

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xkoreth/quill-cli/internal/config"
)

// newTestConfig returns defaults with the keystore rooted in a temp dir so
// tests never touch the real ~/.quill.
func newTestConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := config.NewDefaultConfig()
	cfg.SetKeystoreDir(t.TempDir())
	return cfg
}

// writeManifest drops a YAML command manifest into a temp dir and returns
// its path.
func writeManifest(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "commands.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

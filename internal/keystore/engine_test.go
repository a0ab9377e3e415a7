// File: internal/keystore/engine_test.go
package keystore

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkoreth/quill-cli/api/protocol"
	"github.com/xkoreth/quill-cli/internal/storage"
)

// Well-known development account: this secret must always derive this
// address, or signing is incompatible with every counterparty.
const (
	knownSecret  = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	knownAddress = "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"
)

// twelveWordPhrase is a reference phrase with a valid checksum.
const twelveWordPhrase = "legal winner thank year wave sausage worth useful legal winner thank yellow"

func newTestEngine(t *testing.T) (*Engine, *storage.MemStore) {
	t.Helper()
	store := storage.NewMemStore()
	e, err := New(store, zaptest.NewLogger(t))
	require.NoError(t, err)
	return e, store
}

func TestEngine_EnsureGeneratesThenReuses(t *testing.T) {
	t.Parallel()
	e, store := newTestEngine(t)

	assert.False(t, e.Has())

	created, address, err := e.Ensure()
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, ValidAddress(address), "generated address must be checksummed: %s", address)
	assert.True(t, e.Has())

	createdAgain, sameAddress, err := e.Ensure()
	require.NoError(t, err)
	assert.False(t, createdAgain)
	assert.Equal(t, address, sameAddress)

	// A new engine over the same store resumes the same identity.
	reloaded, err := New(store, zaptest.NewLogger(t))
	require.NoError(t, err)
	reloadedAddress, err := reloaded.Address()
	require.NoError(t, err)
	assert.Equal(t, address, reloadedAddress)
}

func TestEngine_KnownSecretDerivesKnownAddress(t *testing.T) {
	t.Parallel()
	e, store := newTestEngine(t)

	address, err := e.ImportSecretHex(knownSecret)
	require.NoError(t, err)
	assert.Equal(t, knownAddress, address)

	// The persisted form is bare lowercase hex.
	stored, ok, err := store.Get("identity.secret")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, strings.TrimPrefix(knownSecret, "0x"), stored)
}

func TestEngine_SignIsDeterministicAndRecoverable(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)

	_, err := e.ImportSecretHex(knownSecret)
	require.NoError(t, err)

	message := []byte(`"deploy service-a"`)

	first, err := e.Sign(message)
	require.NoError(t, err)
	second, err := e.Sign(message)
	require.NoError(t, err)

	assert.Equal(t, knownAddress, first.Address)
	assert.Equal(t, first.Signature, second.Signature, "deterministic nonces imply identical signatures")
	assert.True(t, strings.HasPrefix(first.Signature, "0x"))
	assert.Len(t, first.Signature, 2+130, "0x plus 65 bytes of hex")

	vByte := first.Signature[len(first.Signature)-2:]
	assert.Contains(t, []string{"1b", "1c"}, vByte, "recovery byte must be 27 or 28")

	recovered, err := RecoverAddress(message, first.Signature)
	require.NoError(t, err)
	assert.Equal(t, knownAddress, recovered)

	// A different message recovers to the signer only with its own signature.
	other, err := e.Sign([]byte("other"))
	require.NoError(t, err)
	assert.NotEqual(t, first.Signature, other.Signature)

	mismatched, err := RecoverAddress([]byte("other"), first.Signature)
	if err == nil {
		assert.NotEqual(t, knownAddress, mismatched)
	}
}

func TestEngine_MnemonicExportImportRoundTrip(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)

	address, err := e.Generate()
	require.NoError(t, err)

	phrase, err := e.ExportMnemonic()
	require.NoError(t, err)
	require.Len(t, strings.Fields(phrase), 24)

	require.NoError(t, e.Reset())
	assert.False(t, e.Has())

	imported, err := e.ImportMnemonic(phrase)
	require.NoError(t, err)
	assert.Equal(t, address, imported, "phrase round trip must preserve the address")
}

func TestEngine_TwelveWordImportPreservesAddressAcrossExport(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)

	address, err := e.ImportMnemonic(twelveWordPhrase)
	require.NoError(t, err)
	assert.True(t, ValidAddress(address))

	// The equivalent 24-word phrase denotes the same identity.
	exported, err := e.ExportMnemonic()
	require.NoError(t, err)
	require.Len(t, strings.Fields(exported), 24)

	require.NoError(t, e.Reset())
	reimported, err := e.ImportMnemonic(exported)
	require.NoError(t, err)
	assert.Equal(t, address, reimported)
}

func TestEngine_ImportNormalizesPhraseSpelling(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)

	address, err := e.ImportMnemonic(twelveWordPhrase)
	require.NoError(t, err)

	noisy := "  " + strings.ToUpper(strings.ReplaceAll(twelveWordPhrase, " ", "   ")) + "\n"
	same, err := e.ImportMnemonic(noisy)
	require.NoError(t, err)
	assert.Equal(t, address, same)
}

func TestEngine_RejectsInvalidMnemonics(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)

	testCases := []struct {
		name   string
		phrase string
	}{
		{"three words", "invalid invalid invalid"},
		{"empty", ""},
		{"unsupported fifteen words", strings.TrimSpace(strings.Repeat("legal winner thank year wave ", 3))},
		{"bad checksum", strings.TrimSpace(strings.Repeat("abandon ", 24))},
		{"unknown word", strings.Replace(twelveWordPhrase, "legal", "blorp", 1)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := e.ImportMnemonic(tc.phrase)
			require.ErrorIs(t, err, protocol.ErrInvalidMnemonic)
		})
	}

	// A failed import never clobbers the active identity.
	address, err := e.Generate()
	require.NoError(t, err)
	_, err = e.ImportMnemonic("invalid invalid invalid")
	require.ErrorIs(t, err, protocol.ErrInvalidMnemonic)
	current, err := e.Address()
	require.NoError(t, err)
	assert.Equal(t, address, current)
}

func TestEngine_NoIdentityErrors(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)

	_, err := e.Address()
	assert.ErrorIs(t, err, protocol.ErrNoIdentity)

	_, err = e.Sign([]byte("anything"))
	assert.ErrorIs(t, err, protocol.ErrNoIdentity)

	_, err = e.ExportMnemonic()
	assert.ErrorIs(t, err, protocol.ErrNoIdentity)
}

func TestEngine_ShortSecretHasNoPhrase(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)

	address, err := e.ImportSecretHex("0x01")
	require.NoError(t, err)
	assert.True(t, ValidAddress(address))

	phrase, err := e.ExportMnemonic()
	require.NoError(t, err, "unrepresentable secrets export empty, not an error")
	assert.Empty(t, phrase)

	// Signing still works for short scalars.
	signed, err := e.Sign([]byte("m"))
	require.NoError(t, err)
	recovered, err := RecoverAddress([]byte("m"), signed.Signature)
	require.NoError(t, err)
	assert.Equal(t, address, recovered)
}

func TestEngine_PersistFailureKeepsIdentityInMemory(t *testing.T) {
	t.Parallel()
	store := storage.NewMemStore()
	store.FailSet = errors.New("disk full")

	e, err := New(store, zaptest.NewLogger(t))
	require.NoError(t, err)

	created, address, err := e.Ensure()
	require.NoError(t, err, "persistence failure must not fail creation")
	assert.True(t, created)
	assert.True(t, e.Has())

	got, err := e.Address()
	require.NoError(t, err)
	assert.Equal(t, address, got)

	// Nothing reached the store, so a fresh engine sees no identity.
	store.FailSet = nil
	fresh, err := New(store, zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.False(t, fresh.Has())
}

func TestEngine_ResetClearsStore(t *testing.T) {
	t.Parallel()
	e, store := newTestEngine(t)

	_, _, err := e.Ensure()
	require.NoError(t, err)
	require.NoError(t, e.Reset())

	assert.False(t, e.Has())
	_, ok, err := store.Get("identity.secret")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_CorruptStoreFailsLoad(t *testing.T) {
	t.Parallel()
	store := storage.NewMemStore()
	require.NoError(t, store.Set("identity.secret", "not-hex"))

	_, err := New(store, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt")
}

func TestEngine_RecoverAddressRejectsMalformedSignatures(t *testing.T) {
	t.Parallel()

	_, err := RecoverAddress([]byte("m"), "0x1234")
	require.Error(t, err)

	_, err = RecoverAddress([]byte("m"), "zz")
	require.Error(t, err)

	bad := "0x" + strings.Repeat("00", 64) + "ff" // recovery id 255
	_, err = RecoverAddress([]byte("m"), bad)
	require.Error(t, err)
}

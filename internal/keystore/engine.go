// Package keystore owns identity custody: generating, importing, exporting
// and persisting the secp256k1 secret, and producing recoverable signatures
// over Keccak-256 digests. The active identity lives in memory; the store
// only ever sees the secret as lowercase hex under a single key.
package keystore

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"go.uber.org/zap"

	"github.com/xkoreth/quill-cli/api/protocol"
	"github.com/xkoreth/quill-cli/internal/storage"
)

// secretKey is the single storage key the engine uses.
const secretKey = "identity.secret"

// Engine implements protocol.Signer over a storage.Store. Safe for
// concurrent use.
type Engine struct {
	store storage.Store
	log   *zap.Logger

	mu      sync.RWMutex
	secret  []byte
	address string
}

var _ protocol.Signer = (*Engine)(nil)

// New loads any persisted identity and returns the engine. A present but
// undecodable secret is an error; silently regenerating over it would
// destroy the identity.
func New(store storage.Store, logger *zap.Logger) (*Engine, error) {
	if store == nil {
		return nil, errors.New("keystore: store is required")
	}
	if logger == nil {
		return nil, errors.New("keystore: logger is required")
	}

	e := &Engine{store: store, log: logger.Named("keystore")}
	if err := e.load(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) load() error {
	raw, ok, err := e.store.Get(secretKey)
	if err != nil {
		return fmt.Errorf("failed to read identity: %w", err)
	}
	if !ok {
		return nil
	}
	secret, err := parseSecretHex(raw)
	if err != nil {
		return fmt.Errorf("stored identity is corrupt: %w", err)
	}
	if !usableScalar(secret) {
		return errors.New("stored identity is corrupt: unusable scalar")
	}
	e.adoptLocked(secret)
	e.log.Debug("Loaded persisted identity", zap.String("address", e.address))
	return nil
}

// adoptLocked installs secret as the active identity and derives its
// address. Caller holds e.mu (or is the constructor).
func (e *Engine) adoptLocked(secret []byte) {
	priv := secp256k1.PrivKeyFromBytes(secret)
	e.secret = secret
	e.address = AddressFromPubKey(priv.PubKey())
	priv.Zero()
}

// persistLocked writes the active secret. A storage failure downgrades to a
// warning: the in-memory identity stays active for this process.
func (e *Engine) persistLocked() {
	if err := e.store.Set(secretKey, hex.EncodeToString(e.secret)); err != nil {
		e.log.Warn("Identity not persisted; continuing in memory", zap.Error(err))
	}
}

// Has reports whether an identity is active.
func (e *Engine) Has() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.secret != nil
}

// Address returns the active identity's EIP-55 address.
func (e *Engine) Address() (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.secret == nil {
		return "", protocol.ErrNoIdentity
	}
	return e.address, nil
}

// Ensure returns the active identity, generating and persisting a fresh one
// when none exists. created reports whether generation happened.
func (e *Engine) Ensure() (created bool, address string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.secret != nil {
		return false, e.address, nil
	}
	if err := e.generateLocked(); err != nil {
		return false, "", err
	}
	return true, e.address, nil
}

// Generate unconditionally replaces the active identity with a fresh one.
func (e *Engine) Generate() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.generateLocked(); err != nil {
		return "", err
	}
	return e.address, nil
}

func (e *Engine) generateLocked() error {
	// A draw at or above the curve order has probability ~2^-128; the retry
	// bound exists so a broken entropy source cannot spin forever.
	for attempt := 0; attempt < 8; attempt++ {
		secret := make([]byte, secretLen)
		if _, err := rand.Read(secret); err != nil {
			return fmt.Errorf("entropy source failed: %w", err)
		}
		if !usableScalar(secret) {
			continue
		}
		e.adoptLocked(secret)
		e.persistLocked()
		e.log.Info("Generated identity", zap.String("address", e.address))
		return nil
	}
	return errors.New("entropy source kept producing unusable scalars")
}

// ImportMnemonic replaces the active identity with the one the phrase
// denotes. Destructive; the previous identity is gone once this returns.
func (e *Engine) ImportMnemonic(phrase string) (string, error) {
	secret, err := secretFromMnemonic(phrase)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.adoptLocked(secret)
	e.persistLocked()
	e.log.Info("Imported identity from mnemonic", zap.String("address", e.address))
	return e.address, nil
}

// ImportSecretHex replaces the active identity with a raw hex secret of up
// to 32 bytes. Short secrets are legal but have no exportable phrase.
func (e *Engine) ImportSecretHex(raw string) (string, error) {
	secret, err := parseSecretHex(raw)
	if err != nil {
		return "", fmt.Errorf("invalid secret: %w", err)
	}
	if !usableScalar(secret) {
		return "", errors.New("invalid secret: zero or out-of-range scalar")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.adoptLocked(secret)
	e.persistLocked()
	e.log.Info("Imported identity from raw secret", zap.String("address", e.address))
	return e.address, nil
}

// ExportMnemonic returns the 24-word phrase for the active identity, or an
// empty string when the secret is not phrase-representable.
func (e *Engine) ExportMnemonic() (string, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.secret == nil {
		return "", protocol.ErrNoIdentity
	}
	return mnemonicFromSecret(e.secret)
}

// Reset discards the active identity from memory and storage.
func (e *Engine) Reset() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.secret = nil
	e.address = ""
	if err := e.store.Remove(secretKey); err != nil {
		return fmt.Errorf("failed to clear persisted identity: %w", err)
	}
	e.log.Info("Identity reset")
	return nil
}

// Sign produces the detached signature for message: Keccak-256 digest, no
// personal-message prefix, RFC-6979 deterministic nonce, 65-byte r||s||v hex
// with v in {27, 28}.
func (e *Engine) Sign(message []byte) (*protocol.SignedMessage, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.secret == nil {
		return nil, protocol.ErrNoIdentity
	}

	priv := secp256k1.PrivKeyFromBytes(e.secret)
	defer priv.Zero()

	compact := ecdsa.SignCompact(priv, Keccak256(message), false)
	if len(compact) != 65 {
		return nil, protocol.NewSigningError(fmt.Errorf("unexpected compact signature length %d", len(compact)))
	}

	// SignCompact leads with the recovery code; the wire format trails it.
	sig := make([]byte, 65)
	copy(sig[0:32], compact[1:33])
	copy(sig[32:64], compact[33:65])
	sig[64] = compact[0]

	return &protocol.SignedMessage{
		Address:   e.address,
		Signature: "0x" + hex.EncodeToString(sig),
	}, nil
}

// RecoverAddress returns the EIP-55 address that produced sigHex over
// message. Recovery ids 0/1 and 27/28 are both accepted.
func RecoverAddress(message []byte, sigHex string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(sigHex), "0x"))
	if err != nil {
		return "", fmt.Errorf("malformed signature hex: %w", err)
	}
	if len(raw) != 65 {
		return "", fmt.Errorf("signature must be 65 bytes, got %d", len(raw))
	}

	v := raw[64]
	if v < 27 {
		v += 27
	}
	if v != 27 && v != 28 {
		return "", fmt.Errorf("unsupported recovery id %d", raw[64])
	}

	compact := make([]byte, 65)
	compact[0] = v
	copy(compact[1:33], raw[0:32])
	copy(compact[33:65], raw[32:64])

	pub, _, err := ecdsa.RecoverCompact(compact, Keccak256(message))
	if err != nil {
		return "", fmt.Errorf("signature recovery failed: %w", err)
	}
	return AddressFromPubKey(pub), nil
}

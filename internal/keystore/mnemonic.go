// File: internal/keystore/mnemonic.go
package keystore

import (
	"fmt"
	"strings"

	bip39 "github.com/tyler-smith/go-bip39"

	"github.com/xkoreth/quill-cli/api/protocol"
)

// secretLen is the scalar width of the curve. Only secrets of exactly this
// length have a derivable recovery phrase.
const secretLen = 32

// normalizePhrase lowercases a phrase and collapses all whitespace runs to
// single spaces, the only form BIP-39 validation accepts.
func normalizePhrase(phrase string) string {
	return strings.Join(strings.Fields(strings.ToLower(phrase)), " ")
}

// secretFromMnemonic maps a recovery phrase onto the 32-byte secret it
// denotes. A 24-word phrase carries the secret directly as its entropy; a
// 12-word phrase contributes the first 32 bytes of its BIP-39 seed. Any
// other word count, unknown word, bad checksum, or resulting out-of-range
// scalar is ErrInvalidMnemonic.
func secretFromMnemonic(phrase string) ([]byte, error) {
	phrase = normalizePhrase(phrase)

	var secret []byte
	switch len(strings.Fields(phrase)) {
	case 24:
		entropy, err := bip39.EntropyFromMnemonic(phrase)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", protocol.ErrInvalidMnemonic, err)
		}
		secret = entropy
	case 12:
		if !bip39.IsMnemonicValid(phrase) {
			return nil, fmt.Errorf("%w: checksum or word list mismatch", protocol.ErrInvalidMnemonic)
		}
		secret = bip39.NewSeed(phrase, "")[:secretLen]
	default:
		return nil, fmt.Errorf("%w: expected 12 or 24 words", protocol.ErrInvalidMnemonic)
	}

	if !usableScalar(secret) {
		return nil, fmt.Errorf("%w: phrase maps outside the curve order", protocol.ErrInvalidMnemonic)
	}
	return secret, nil
}

// mnemonicFromSecret derives the 24-word phrase whose entropy is the secret.
// Only full-width secrets have one.
func mnemonicFromSecret(secret []byte) (string, error) {
	if len(secret) != secretLen {
		return "", nil
	}
	phrase, err := bip39.NewMnemonic(secret)
	if err != nil {
		return "", fmt.Errorf("failed to derive mnemonic: %w", err)
	}
	return phrase, nil
}

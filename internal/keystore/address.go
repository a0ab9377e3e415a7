// File: internal/keystore/address.go
package keystore

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"golang.org/x/crypto/sha3"
)

// Keccak256 returns the legacy Keccak-256 digest of the concatenated inputs.
// This is the pre-NIST padding variant; it is not sha3-256.
func Keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, b := range data {
		h.Write(b)
	}
	return h.Sum(nil)
}

// AddressFromPubKey derives the account address for a public key: the last
// twenty bytes of Keccak256 over the uncompressed point without its 0x04
// prefix, rendered with EIP-55 checksum casing.
func AddressFromPubKey(pub *secp256k1.PublicKey) string {
	raw := pub.SerializeUncompressed()
	digest := Keccak256(raw[1:])
	return ChecksumAddress(hex.EncodeToString(digest[12:]))
}

// ChecksumAddress applies EIP-55 casing to a 40-digit hex address, with or
// without a 0x prefix, and returns it 0x-prefixed.
func ChecksumAddress(addr string) string {
	bare := strings.ToLower(strings.TrimPrefix(addr, "0x"))
	digest := Keccak256([]byte(bare))

	out := make([]byte, 0, len(bare)+2)
	out = append(out, '0', 'x')
	for i := 0; i < len(bare); i++ {
		c := bare[i]
		if c >= 'a' && c <= 'f' {
			nibble := digest[i/2]
			if i%2 == 0 {
				nibble >>= 4
			} else {
				nibble &= 0x0f
			}
			if nibble >= 8 {
				c -= 'a' - 'A'
			}
		}
		out = append(out, c)
	}
	return string(out)
}

// ValidAddress reports whether addr is a 0x-prefixed 20-byte hex address
// with a correct EIP-55 checksum. All-lowercase and all-uppercase hex are
// accepted as unchecksummed forms.
func ValidAddress(addr string) bool {
	if len(addr) != 42 || !strings.HasPrefix(addr, "0x") {
		return false
	}
	bare := addr[2:]
	if _, err := hex.DecodeString(bare); err != nil {
		return false
	}
	if bare == strings.ToLower(bare) || bare == strings.ToUpper(bare) {
		return true
	}
	return ChecksumAddress(addr) == addr
}

// parseSecretHex decodes a 0x-optional hex secret of 1..32 bytes.
func parseSecretHex(raw string) ([]byte, error) {
	bare := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if bare == "" {
		return nil, fmt.Errorf("empty secret")
	}
	b, err := hex.DecodeString(strings.ToLower(bare))
	if err != nil {
		return nil, fmt.Errorf("malformed hex: %w", err)
	}
	if len(b) > secretLen {
		return nil, fmt.Errorf("secret exceeds %d bytes", secretLen)
	}
	return b, nil
}

// usableScalar reports whether b is a non-zero scalar below the curve order
// when interpreted big-endian. Secrets of fewer than 32 bytes are allowed;
// 32-byte secrets at or above the order are not.
func usableScalar(b []byte) bool {
	if len(b) == 0 || len(b) > secretLen {
		return false
	}
	var s secp256k1.ModNScalar
	overflow := s.SetByteSlice(b)
	ok := !overflow && !s.IsZero()
	s.Zero()
	return ok
}

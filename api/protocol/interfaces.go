// File: api/protocol/interfaces.go
package protocol

// Signer produces recoverable signatures binding a payload to the active
// identity. Implementations must be safe for concurrent use.
type Signer interface {
	// Address returns the EIP-55 checksummed address of the active identity,
	// or ErrNoIdentity when none is stored.
	Address() (string, error)
	// Sign hashes message with Keccak-256 (no personal-message prefix) and
	// signs the digest, returning the address and the 0x-prefixed 65-byte
	// r||s||v signature. Failures are reported as *SigningError.
	Sign(message []byte) (*SignedMessage, error)
}

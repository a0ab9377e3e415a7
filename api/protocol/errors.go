// File: api/protocol/errors.go
package protocol

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure modes callers are expected to branch on.
// Match with errors.Is; wrapped variants carry context.
var (
	// ErrNoIdentity: an operation needed a stored secret and none exists.
	ErrNoIdentity = errors.New("no identity configured")
	// ErrInvalidMnemonic: the supplied phrase failed BIP-39 validation.
	ErrInvalidMnemonic = errors.New("invalid mnemonic phrase")
	// ErrNotConnected: a session send was attempted outside connected state.
	ErrNotConnected = errors.New("session not connected")
	// ErrTimeout: a pending command exceeded its resolution window.
	ErrTimeout = errors.New("command timed out")
	// ErrAborted: the connection dropped while the command was pending.
	ErrAborted = errors.New("command aborted by disconnect")
	// ErrUnknownLocalCommand: no local handler is registered for the name.
	ErrUnknownLocalCommand = errors.New("unknown local command")
)

// SigningError wraps a key custody failure. The wrapped cause is preserved
// and the command is guaranteed not to have been sent.
type SigningError struct {
	Cause error
}

func (e *SigningError) Error() string { return fmt.Sprintf("signing failed: %v", e.Cause) }
func (e *SigningError) Unwrap() error { return e.Cause }

// NewSigningError wraps cause; nil cause yields a generic signing failure.
func NewSigningError(cause error) *SigningError {
	if cause == nil {
		cause = errors.New("unspecified cause")
	}
	return &SigningError{Cause: cause}
}

// TransportError reports a websocket or HTTP level failure with the
// operation that produced it.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("transport %s: %v", e.Op, e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// StatusFor maps a resolution error onto the Result disposition it implies.
func StatusFor(err error) ResultStatus {
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, ErrTimeout):
		return ResultTimeout
	case errors.Is(err, ErrAborted):
		return ResultAborted
	default:
		return ResultError
	}
}

// File: api/protocol/descriptor.go
package protocol

import "strings"

// HandlerKind classifies how a named command is dispatched.
type HandlerKind string

const (
	// KindLocal runs in-process and never touches the network.
	KindLocal HandlerKind = "local"
	// KindAuthenticatedSession rides the persistent connection and may carry
	// an identity signature.
	KindAuthenticatedSession HandlerKind = "authenticated-session"
	// KindStatelessRequest performs a one-shot HTTP exchange with no session
	// and no pending record.
	KindStatelessRequest HandlerKind = "stateless-request"
)

// Valid reports whether k is one of the three dispatch kinds.
func (k HandlerKind) Valid() bool {
	switch k {
	case KindLocal, KindAuthenticatedSession, KindStatelessRequest:
		return true
	}
	return false
}

// StatelessSpec describes the HTTP exchange backing a stateless-request
// command.
type StatelessSpec struct {
	Endpoint string            `json:"endpoint" mapstructure:"endpoint"`
	Method   string            `json:"method" mapstructure:"method"`
	Headers  map[string]string `json:"headers,omitempty" mapstructure:"headers"`
}

// CommandDescriptor is the routing metadata for one named command. Routing is
// driven entirely by this record; command names carry no behavior of their
// own apart from the always-signed floor (see router).
type CommandDescriptor struct {
	Name              string         `json:"name" mapstructure:"name"`
	Kind              HandlerKind    `json:"kind" mapstructure:"kind"`
	RequiresSignature bool           `json:"requiresSignature" mapstructure:"requires_signature"`
	Stateless         *StatelessSpec `json:"stateless,omitempty" mapstructure:"stateless"`
	Description       string         `json:"description,omitempty" mapstructure:"description"`
}

// Normalized returns the descriptor with its name trimmed and lowercased.
// Descriptor lookups are case-insensitive by name.
func (d CommandDescriptor) Normalized() CommandDescriptor {
	d.Name = strings.ToLower(strings.TrimSpace(d.Name))
	return d
}

// Package protocol defines the shared contract surface of the client: wire
// frames, connection and event vocabulary, command descriptors, and the error
// taxonomy. It carries no behavior beyond trivial helpers so that every layer
// (keystore, session, router, cmd) can depend on it without cycles.
package protocol

import "time"

// ConnectionStatus is the externally visible state of the managed session.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
)

// ConnectionState is a point-in-time snapshot of the session. Reads are
// wait-free; the snapshot never mutates after publication.
type ConnectionState struct {
	Status            ConnectionStatus
	ReconnectAttempts int
	LastError         error
}

// EventType names a stream on the session event bus.
type EventType string

const (
	// EventStatus carries a *StatusEvent on every state transition.
	EventStatus EventType = "status"
	// EventCommandResult carries a *Result when a pending command resolves.
	EventCommandResult EventType = "command_result"
	// EventNotice carries the raw decoded payload of any inbound frame the
	// client does not recognize.
	EventNotice EventType = "notice"
)

// Event is a single occurrence published on the session bus. Payload is
// *StatusEvent for EventStatus, *Result for EventCommandResult, and the
// decoded frame for EventNotice.
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler observes events. Handlers run synchronously on the emitting
// goroutine and must not call back into blocking session methods.
type EventHandler func(Event)

// SubscriptionID identifies one registered handler for removal.
type SubscriptionID uint64

// StatusEvent is the payload emitted on the status stream for every
// connection state transition, in transition order.
type StatusEvent struct {
	Status            ConnectionStatus `json:"status"`
	Timestamp         time.Time        `json:"timestamp"`
	ReconnectAttempts int              `json:"reconnectAttempts"`
	Error             string           `json:"error,omitempty"`
}

// File: api/protocol/frames.go
package protocol

// FrameType discriminates envelopes on the wire.
type FrameType string

const (
	FrameCommand       FrameType = "command"
	FrameHello         FrameType = "hello"
	FrameCommandResult FrameType = "command_result"
)

// SignedMessage binds a payload to an identity: the EIP-55 address of the
// signing key and the 65-byte recoverable signature as 0x-prefixed hex.
type SignedMessage struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

// CommandFrame is the outbound envelope for a remote command. Auth is present
// only when the command required a signature.
type CommandFrame struct {
	Type    FrameType      `json:"type"`
	ID      string         `json:"id"`
	Payload string         `json:"payload"`
	Auth    *SignedMessage `json:"auth,omitempty"`
}

// HelloFrame introduces the client identity once the transport opens, before
// the session reports connected.
type HelloFrame struct {
	Type    FrameType `json:"type"`
	Address string    `json:"address"`
}

// ResultFrame is the inbound resolution for a previously sent command. ID
// echoes the CommandFrame it answers; older counterparties may omit it.
type ResultFrame struct {
	Type    FrameType   `json:"type"`
	ID      string      `json:"id,omitempty"`
	OK      bool        `json:"ok"`
	Payload interface{} `json:"payload,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ResultStatus is the terminal disposition of an executed command.
type ResultStatus string

const (
	// ResultPending is returned by fire-and-forget execution while the
	// command is still awaiting resolution.
	ResultPending ResultStatus = "PENDING"
	ResultSuccess ResultStatus = "SUCCESS"
	ResultError   ResultStatus = "ERROR"
	ResultTimeout ResultStatus = "TIMEOUT"
	ResultAborted ResultStatus = "ABORTED"
)

// Result is the outcome of a routed command. Every pending command produces
// exactly one Result, regardless of how many outcomes race for it.
type Result struct {
	ID      string       `json:"id,omitempty"`
	Status  ResultStatus `json:"status"`
	Payload interface{}  `json:"payload,omitempty"`
	Err     error        `json:"-"`
	Error   string       `json:"error,omitempty"`
}

// Final reports whether the result carries a terminal disposition.
func (r Result) Final() bool { return r.Status != ResultPending }

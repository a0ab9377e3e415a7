// File: internal/session/manager.go

// Package session maintains the managed connection to a command relay: a
// single websocket session with explicit status reporting, exponential
// reconnect, keepalive probing, and at-most-once resolution of every command
// sent through it.
package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkoreth/quill-cli/api/protocol"
	"github.com/xkoreth/quill-cli/internal/clock"
	"github.com/xkoreth/quill-cli/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// connHolder wraps the interface so it can live in an atomic.Pointer.
type connHolder struct {
	conn Conn
}

// Manager owns the relay session lifecycle. All exported methods are safe for
// concurrent use. Event handlers run synchronously on the emitting goroutine:
// they may inspect Status and send commands, but must not call Connect,
// Disconnect or Reconnect without hopping to another goroutine first.
type Manager struct {
	cfg    config.SessionConfig
	log    *zap.Logger
	clk    clock.Clock
	dialer Dialer
	signer protocol.Signer

	backoff BackoffPolicy
	limiter *rate.Limiter

	events  *emitter
	pending *pendingTable

	// snapshot is the wait-free view served by Status. connPtr mirrors the
	// active connection the same way so SendCommand never touches mu and
	// event handlers can send without risking the transition locks.
	snapshot atomic.Pointer[protocol.ConnectionState]
	connPtr  atomic.Pointer[connHolder]

	// mu guards the fields below. emitMu is acquired while mu is still held
	// (never the other way around) so events are published in exactly the
	// order state changed.
	mu         sync.Mutex
	emitMu     sync.Mutex
	epoch      uint64
	status     protocol.ConnectionStatus
	attempts   int
	lastErr    error
	conn       Conn
	connDone   chan struct{}
	lifeCtx    context.Context
	lifeCancel context.CancelFunc

	wg sync.WaitGroup
}

// New constructs a Manager. The signer is optional: without one no hello
// frame is sent and commands go out unauthenticated. A nil clk falls back to
// the system clock.
func New(cfg config.SessionConfig, dialer Dialer, signer protocol.Signer, clk clock.Clock, logger *zap.Logger) (*Manager, error) {
	if dialer == nil {
		return nil, fmt.Errorf("session manager requires a dialer")
	}
	if logger == nil {
		return nil, fmt.Errorf("session manager requires a logger")
	}
	if clk == nil {
		clk = clock.System()
	}

	m := &Manager{
		cfg:     cfg,
		log:     logger.Named("session"),
		clk:     clk,
		dialer:  dialer,
		signer:  signer,
		backoff: NewBackoffPolicy(cfg.Backoff),
		events:  newEmitter(logger.Named("session")),
		pending: newPendingTable(clk, logger.Named("session")),
		status:  protocol.StatusDisconnected,
	}
	if cfg.RateLimit.Enabled {
		m.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.Rate), cfg.RateLimit.Burst)
	}
	// Every resolution, including timeouts and aborts, surfaces on the bus.
	m.pending.notify = func(result protocol.Result) {
		m.emit(protocol.Event{Type: protocol.EventCommandResult, Payload: &result})
	}
	m.publishSnapshotLocked()
	return m, nil
}

// Status returns the current connection snapshot.
func (m *Manager) Status() protocol.ConnectionState {
	return *m.snapshot.Load()
}

// On subscribes a handler to an event stream.
func (m *Manager) On(eventType protocol.EventType, handler protocol.EventHandler) protocol.SubscriptionID {
	return m.events.On(eventType, handler)
}

// Off removes a subscription, reporting whether it existed.
func (m *Manager) Off(id protocol.SubscriptionID) bool {
	return m.events.Off(id)
}

// Connect dials the configured relay. It blocks through the initial dial and
// any backoff retries, returning nil once the session reports connected or
// the terminal error once attempts are exhausted. ctx cancels the sequence.
func (m *Manager) Connect(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if m.cfg.URL == "" {
		return fmt.Errorf("no relay URL configured")
	}

	m.mu.Lock()
	if m.status != protocol.StatusDisconnected {
		status := m.status
		m.mu.Unlock()
		return fmt.Errorf("cannot connect while session is %s", status)
	}
	m.epoch++
	epoch := m.epoch
	life, cancel := context.WithCancel(context.Background())
	m.lifeCtx, m.lifeCancel = life, cancel
	m.status = protocol.StatusConnecting
	m.attempts = 0
	m.lastErr = nil
	m.publishSnapshotLocked()
	m.emitMu.Lock()
	m.mu.Unlock()
	m.events.Emit(m.statusEvent(protocol.StatusConnecting, 0, nil))
	m.emitMu.Unlock()

	return m.runDialCycle(ctx, life, epoch, 0)
}

// Disconnect tears the session down deliberately: in-flight commands resolve
// aborted, no reconnect is attempted, and the terminal disconnected status
// carries no error. Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.status == protocol.StatusDisconnected {
		m.mu.Unlock()
		return
	}
	m.epoch++
	if m.lifeCancel != nil {
		m.lifeCancel()
		m.lifeCancel = nil
	}
	if m.connDone != nil {
		close(m.connDone)
		m.connDone = nil
	}
	conn := m.conn
	m.conn = nil
	m.connPtr.Store(nil)
	m.status = protocol.StatusDisconnected
	m.attempts = 0
	m.lastErr = nil
	m.publishSnapshotLocked()
	m.emitMu.Lock()
	m.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	m.events.Emit(m.statusEvent(protocol.StatusDisconnected, 0, nil))
	m.emitMu.Unlock()

	m.pending.abortAll(protocol.ErrAborted)
	m.log.Info("Session disconnected by request")
}

// Reconnect tears down any current session and dials again, picking up the
// identity the signer currently holds.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.Disconnect()
	return m.Connect(ctx)
}

// Close disconnects and waits for the session goroutines to drain.
func (m *Manager) Close() {
	m.Disconnect()
	m.wg.Wait()
}

// SendCommand transmits a command frame and registers it for resolution. It
// returns the command id and a channel that yields exactly one Result: the
// correlated reply, a timeout after ttl, an abort, or a transport failure.
// It fails fast with ErrNotConnected when the session is not connected.
func (m *Manager) SendCommand(ctx context.Context, payload string, auth *protocol.SignedMessage, ttl time.Duration) (string, <-chan protocol.Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	holder := m.connPtr.Load()
	if holder == nil || m.snapshot.Load().Status != protocol.StatusConnected {
		return "", nil, protocol.ErrNotConnected
	}
	conn := holder.conn

	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			return "", nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	frame := protocol.CommandFrame{
		Type:    protocol.FrameCommand,
		ID:      uuid.New().String(),
		Payload: payload,
		Auth:    auth,
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return "", nil, fmt.Errorf("failed to encode command frame: %w", err)
	}

	// Register before writing: the reply must never race its own bookkeeping.
	ch := m.pending.register(frame.ID, ttl)
	m.log.Debug("Sending command",
		zap.String("command_id", frame.ID),
		zap.Bool("signed", auth != nil),
	)

	if err := conn.WriteMessage(data); err != nil {
		m.pending.fail(frame.ID, &protocol.TransportError{Op: "write", Err: err})
	}
	return frame.ID, ch, nil
}

// -- connection lifecycle --

// runDialCycle drives dial attempts for one epoch. attempt 0 dials
// immediately under the connecting status; attempts >= 1 wait out their
// backoff delay first, under the reconnecting status already published.
func (m *Manager) runDialCycle(ctx, life context.Context, epoch uint64, attempt int) error {
	for {
		if attempt >= 1 {
			delay := m.backoff.Delay(attempt)
			m.log.Debug("Waiting before reconnect attempt",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
			)
			select {
			case <-m.clk.After(delay):
			case <-ctx.Done():
				m.toDisconnected(epoch, ctx.Err())
				return ctx.Err()
			case <-life.Done():
				// Deliberate disconnect; state is already terminal.
				return protocol.ErrAborted
			}
		}

		conn, err := m.dialOnce(ctx)
		if err == nil {
			if m.activate(epoch, conn) {
				return nil
			}
			// A Disconnect won the race while we were dialing.
			conn.Close()
			return protocol.ErrAborted
		}

		attempt++
		if attempt > m.backoff.MaxAttempts {
			m.toDisconnected(epoch, err)
			return fmt.Errorf("connect failed after %d attempts: %w", attempt, err)
		}
		if !m.toReconnecting(epoch, attempt, err) {
			return protocol.ErrAborted
		}
	}
}

// dialOnce performs a single dial plus the hello introduction.
func (m *Manager) dialOnce(ctx context.Context) (Conn, error) {
	conn, err := m.dialer.DialContext(ctx, m.cfg.URL)
	if err != nil {
		m.log.Warn("Dial failed", zap.Error(err))
		return nil, err
	}
	if err := m.sendHello(conn); err != nil {
		conn.Close()
		m.log.Warn("Hello frame rejected", zap.Error(err))
		return nil, err
	}
	return conn, nil
}

// sendHello introduces the configured identity before the session is
// reported connected. Without an identity the introduction is skipped.
func (m *Manager) sendHello(conn Conn) error {
	if !m.cfg.SendHello || m.signer == nil {
		return nil
	}
	address, err := m.signer.Address()
	if err != nil {
		m.log.Debug("No identity configured; skipping hello frame")
		return nil
	}

	data, err := json.Marshal(protocol.HelloFrame{Type: protocol.FrameHello, Address: address})
	if err != nil {
		return fmt.Errorf("failed to encode hello frame: %w", err)
	}
	if err := conn.WriteMessage(data); err != nil {
		return &protocol.TransportError{Op: "hello", Err: err}
	}
	return nil
}

// activate installs an established connection for the given epoch and starts
// its read and keepalive loops. It reports false when the epoch went stale.
func (m *Manager) activate(epoch uint64, conn Conn) bool {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return false
	}
	m.conn = conn
	m.connPtr.Store(&connHolder{conn: conn})
	m.connDone = make(chan struct{})
	done := m.connDone
	m.status = protocol.StatusConnected
	m.attempts = 0
	m.lastErr = nil
	m.publishSnapshotLocked()

	m.wg.Add(2)
	go m.readLoop(epoch, conn)
	go m.keepalive(conn, done)

	m.emitMu.Lock()
	m.mu.Unlock()
	m.events.Emit(m.statusEvent(protocol.StatusConnected, 0, nil))
	m.emitMu.Unlock()

	m.log.Info("Session connected", zap.String("url", m.cfg.URL))
	return true
}

// readLoop consumes inbound frames until the connection fails.
func (m *Manager) readLoop(epoch uint64, conn Conn) {
	defer m.wg.Done()

	for {
		data, err := conn.ReadMessage()
		if err != nil {
			m.connectionLost(epoch, err)
			return
		}
		m.handleInbound(data)
	}
}

// keepalive pings the peer every PingInterval until the connection is retired.
func (m *Manager) keepalive(conn Conn, done <-chan struct{}) {
	defer m.wg.Done()

	ticker := m.clk.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.Ping(); err != nil {
				m.log.Debug("Keepalive ping failed", zap.Error(err))
				// The read deadline will surface the dead link shortly.
				return
			}
		}
	}
}

// connectionLost handles an established connection failing underneath us:
// pending commands abort, the status moves to reconnecting, and a background
// dial cycle starts with a fresh attempt counter.
func (m *Manager) connectionLost(epoch uint64, cause error) {
	m.mu.Lock()
	if epoch != m.epoch || m.conn == nil {
		// A Disconnect or a newer connection already retired this epoch.
		m.mu.Unlock()
		return
	}
	m.epoch++
	newEpoch := m.epoch
	if m.connDone != nil {
		close(m.connDone)
		m.connDone = nil
	}
	conn := m.conn
	m.conn = nil
	m.connPtr.Store(nil)
	life := m.lifeCtx
	m.status = protocol.StatusReconnecting
	m.attempts = 1
	m.lastErr = cause
	m.publishSnapshotLocked()
	m.emitMu.Lock()
	m.mu.Unlock()

	conn.Close()
	m.events.Emit(m.statusEvent(protocol.StatusReconnecting, 1, cause))
	m.emitMu.Unlock()

	m.log.Warn("Session lost; reconnecting", zap.Error(cause))
	m.pending.abortAll(protocol.ErrAborted)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.runDialCycle(life, life, newEpoch, 1)
	}()
}

// toReconnecting publishes attempt N of a reconnect cycle.
func (m *Manager) toReconnecting(epoch uint64, attempt int, cause error) bool {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return false
	}
	m.status = protocol.StatusReconnecting
	m.attempts = attempt
	m.lastErr = cause
	m.publishSnapshotLocked()
	m.emitMu.Lock()
	m.mu.Unlock()
	m.events.Emit(m.statusEvent(protocol.StatusReconnecting, attempt, cause))
	m.emitMu.Unlock()
	return true
}

// toDisconnected publishes the terminal failure state for an exhausted or
// canceled dial cycle.
func (m *Manager) toDisconnected(epoch uint64, cause error) {
	m.mu.Lock()
	if epoch != m.epoch {
		m.mu.Unlock()
		return
	}
	if m.lifeCancel != nil {
		m.lifeCancel()
		m.lifeCancel = nil
	}
	attempts := m.attempts
	m.status = protocol.StatusDisconnected
	m.lastErr = cause
	m.publishSnapshotLocked()
	m.emitMu.Lock()
	m.mu.Unlock()
	m.events.Emit(m.statusEvent(protocol.StatusDisconnected, attempts, cause))
	m.emitMu.Unlock()

	m.log.Error("Session unrecoverable; giving up", zap.Error(cause))
}

// -- inbound dispatch --

// inboundFrame is the permissive decode shape for anything the relay sends.
type inboundFrame struct {
	Type    string      `json:"type"`
	ID      string      `json:"id"`
	OK      *bool       `json:"ok"`
	Payload interface{} `json:"payload"`
	Error   string      `json:"error"`
}

// looksLikeCommandResult reports whether a frame should be treated as the
// resolution of a pending command: either it says so, or it carries no type
// at all but is shaped like a result.
func looksLikeCommandResult(frame inboundFrame) bool {
	if frame.Type == string(protocol.FrameCommandResult) {
		return true
	}
	return frame.Type == "" && frame.OK != nil
}

func (m *Manager) handleInbound(data []byte) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		m.log.Warn("Discarding malformed frame", zap.Error(err), zap.ByteString("frame", data))
		return
	}

	if looksLikeCommandResult(frame) {
		m.resolveInbound(frame)
		return
	}

	// Anything unrecognized surfaces as a notice rather than being dropped.
	var payload interface{}
	_ = json.Unmarshal(data, &payload)
	m.emit(protocol.Event{Type: protocol.EventNotice, Payload: payload})
}

func (m *Manager) resolveInbound(frame inboundFrame) {
	result := protocol.Result{
		ID:      frame.ID,
		Status:  protocol.ResultSuccess,
		Payload: frame.Payload,
	}
	if frame.OK == nil || !*frame.OK {
		result.Status = protocol.ResultError
		result.Error = frame.Error
		if result.Error == "" {
			result.Error = "command failed"
		}
	}

	if frame.ID != "" {
		if !m.pending.resolve(frame.ID, result) {
			m.log.Warn("Discarding reply for unknown or completed command",
				zap.String("command_id", frame.ID))
		}
		return
	}
	if id, ok := m.pending.resolveOldest(result); ok {
		m.log.Debug("Correlated id-less reply with oldest pending command",
			zap.String("command_id", id))
	} else {
		m.log.Warn("Discarding id-less reply; no commands pending")
	}
}

// -- helpers --

// emit publishes a non-status event under the ordering lock.
func (m *Manager) emit(event protocol.Event) {
	m.emitMu.Lock()
	m.events.Emit(event)
	m.emitMu.Unlock()
}

func (m *Manager) statusEvent(status protocol.ConnectionStatus, attempts int, cause error) protocol.Event {
	payload := &protocol.StatusEvent{
		Status:            status,
		Timestamp:         m.clk.Now().UTC(),
		ReconnectAttempts: attempts,
	}
	if cause != nil {
		payload.Error = cause.Error()
	}
	return protocol.Event{Type: protocol.EventStatus, Payload: payload}
}

// publishSnapshotLocked refreshes the wait-free Status view. Caller holds mu.
func (m *Manager) publishSnapshotLocked() {
	m.snapshot.Store(&protocol.ConnectionState{
		Status:            m.status,
		ReconnectAttempts: m.attempts,
		LastError:         m.lastErr,
	})
}

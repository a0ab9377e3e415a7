// File: internal/session/events.go
package session

import (
	"sync"

	"go.uber.org/zap"

	"github.com/xkoreth/quill-cli/api/protocol"
)

// subscription pairs a handler with its identity so Off can remove it.
type subscription struct {
	id protocol.SubscriptionID
	fn protocol.EventHandler
}

// emitter is a typed pub/sub dispatcher. Handlers run synchronously on the
// emitting goroutine in registration order; Emit snapshots the handler list
// first, so subscriptions added or removed during dispatch take effect only
// for subsequent events.
type emitter struct {
	log *zap.Logger

	mu       sync.RWMutex
	nextID   protocol.SubscriptionID
	handlers map[protocol.EventType][]subscription
}

func newEmitter(logger *zap.Logger) *emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &emitter{
		log:      logger.Named("events"),
		handlers: make(map[protocol.EventType][]subscription),
	}
}

// On registers a handler for an event type and returns its subscription id.
func (e *emitter) On(eventType protocol.EventType, handler protocol.EventHandler) protocol.SubscriptionID {
	if handler == nil {
		return 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	id := e.nextID
	e.handlers[eventType] = append(e.handlers[eventType], subscription{id: id, fn: handler})
	return id
}

// Off removes a subscription. It reports whether the id was known.
func (e *emitter) Off(id protocol.SubscriptionID) bool {
	if id == 0 {
		return false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for eventType, subs := range e.handlers {
		for i, sub := range subs {
			if sub.id == id {
				e.handlers[eventType] = append(subs[:i], subs[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Emit delivers the event to every handler registered for its type. A
// panicking handler is logged and skipped; one bad subscriber must not take
// down the read loop.
func (e *emitter) Emit(event protocol.Event) {
	e.mu.RLock()
	subs := e.handlers[event.Type]
	snapshot := make([]subscription, len(subs))
	copy(snapshot, subs)
	e.mu.RUnlock()

	for _, sub := range snapshot {
		e.invoke(sub, event)
	}
}

func (e *emitter) invoke(sub subscription, event protocol.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("Event handler panicked",
				zap.Uint64("subscription", uint64(sub.id)),
				zap.String("event_type", string(event.Type)),
				zap.Any("panic", r),
			)
		}
	}()
	sub.fn(event)
}

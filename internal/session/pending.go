// File: internal/session/pending.go
package session

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkoreth/quill-cli/api/protocol"
	"github.com/xkoreth/quill-cli/internal/clock"
)

// pendingEntry is one command awaiting its reply.
type pendingEntry struct {
	id  string
	seq uint64
	ch  chan protocol.Result
	ttl *clock.Timer
}

// pendingTable tracks in-flight commands. Every entry resolves exactly once:
// with the correlated reply, a timeout, an abort, or a transport failure,
// whichever lands first. Later outcomes for the same id are dropped.
type pendingTable struct {
	log *zap.Logger
	clk clock.Clock
	// notify, when set, observes every resolution. Called outside the lock.
	notify func(protocol.Result)

	mu      sync.Mutex
	seq     uint64
	entries map[string]*pendingEntry
}

func newPendingTable(clk clock.Clock, logger *zap.Logger) *pendingTable {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &pendingTable{
		log:     logger.Named("pending"),
		clk:     clk,
		entries: make(map[string]*pendingEntry),
	}
}

// register creates an entry for id and arms its timeout. The returned channel
// is buffered; the resolver never blocks on a slow caller.
func (t *pendingTable) register(id string, ttl time.Duration) <-chan protocol.Result {
	entry := &pendingEntry{
		id: id,
		ch: make(chan protocol.Result, 1),
	}

	t.mu.Lock()
	t.seq++
	entry.seq = t.seq
	if ttl > 0 {
		// Armed under the lock so a racing resolve always sees the timer.
		entry.ttl = t.clk.AfterFunc(ttl, func() {
			t.fail(id, protocol.ErrTimeout)
		})
	}
	t.entries[id] = entry
	t.mu.Unlock()

	return entry.ch
}

// resolve completes the entry for id with the given result. It reports false
// when the id is unknown or already resolved.
func (t *pendingTable) resolve(id string, result protocol.Result) bool {
	t.mu.Lock()
	entry, ok := t.entries[id]
	if ok {
		delete(t.entries, id)
	}
	t.mu.Unlock()

	if !ok {
		return false
	}
	t.complete(entry, result)
	return true
}

// resolveOldest completes the longest-waiting entry. Used for replies that
// carry no id: the counterparty answers in order, so the oldest unresolved
// command is the only defensible match.
func (t *pendingTable) resolveOldest(result protocol.Result) (string, bool) {
	t.mu.Lock()
	var oldest *pendingEntry
	for _, entry := range t.entries {
		if oldest == nil || entry.seq < oldest.seq {
			oldest = entry
		}
	}
	if oldest != nil {
		delete(t.entries, oldest.id)
	}
	t.mu.Unlock()

	if oldest == nil {
		return "", false
	}
	result.ID = oldest.id
	t.complete(oldest, result)
	return oldest.id, true
}

// fail completes the entry for id with an error outcome.
func (t *pendingTable) fail(id string, err error) bool {
	return t.resolve(id, protocol.Result{
		ID:     id,
		Status: protocol.StatusFor(err),
		Err:    err,
		Error:  err.Error(),
	})
}

// abortAll fails every outstanding entry with err, oldest first.
func (t *pendingTable) abortAll(err error) int {
	t.mu.Lock()
	remaining := make([]*pendingEntry, 0, len(t.entries))
	for _, entry := range t.entries {
		remaining = append(remaining, entry)
	}
	t.entries = make(map[string]*pendingEntry)
	t.mu.Unlock()

	// Oldest first keeps abort delivery in submission order.
	for i := 1; i < len(remaining); i++ {
		for j := i; j > 0 && remaining[j].seq < remaining[j-1].seq; j-- {
			remaining[j], remaining[j-1] = remaining[j-1], remaining[j]
		}
	}

	for _, entry := range remaining {
		t.complete(entry, protocol.Result{
			ID:     entry.id,
			Status: protocol.StatusFor(err),
			Err:    err,
			Error:  err.Error(),
		})
	}
	return len(remaining)
}

// size returns the number of unresolved entries.
func (t *pendingTable) size() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

func (t *pendingTable) complete(entry *pendingEntry, result protocol.Result) {
	if entry.ttl != nil {
		entry.ttl.Stop()
	}
	entry.ch <- result

	t.log.Debug("Command resolved",
		zap.String("command_id", entry.id),
		zap.String("status", string(result.Status)),
	)
	if t.notify != nil {
		t.notify(result)
	}
}

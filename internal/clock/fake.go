// File: internal/clock/fake.go
package clock

import (
	"sort"
	"sync"
	"time"
)

// NewFake returns a FakeClock pinned to start. Time moves only through
// Advance. Safe for concurrent use.
func NewFake(start time.Time) *FakeClock {
	f := &FakeClock{now: start}
	f.scheduled = sync.NewCond(&f.mu)
	return f
}

// FakeClock is a deterministic Clock for tests. Scheduled work fires in
// deadline order when Advance crosses its deadline. AfterFunc callbacks run
// synchronously inside Advance; they must not call Advance themselves.
type FakeClock struct {
	mu        sync.Mutex
	now       time.Time
	pending   []*pendingTimer
	scheduled *sync.Cond
}

// pendingTimer is one registered After, AfterFunc or ticker entry.
type pendingTimer struct {
	deadline time.Time
	ch       chan time.Time // nil for AfterFunc entries
	fn       func()         // nil for channel entries
	interval time.Duration  // non-zero only for tickers
	stopped  bool
	fired    bool
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.now
		return ch
	}
	c.register(&pendingTimer{deadline: c.now.Add(d), ch: ch})
	return ch
}

func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()
	if d <= 0 {
		c.mu.Unlock()
		f()
		return &Timer{stop: func() bool { return false }}
	}
	defer c.mu.Unlock()

	p := &pendingTimer{deadline: c.now.Add(d), fn: f}
	c.register(p)
	return &Timer{stop: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if p.stopped || p.fired {
			return false
		}
		p.stopped = true
		return true
	}}
}

func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	p := &pendingTimer{deadline: c.now.Add(d), ch: ch, interval: d}
	c.register(p)
	return &Ticker{C: ch, stop: func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		p.stopped = true
	}}
}

// register appends under c.mu and wakes AwaitScheduled waiters.
func (c *FakeClock) register(p *pendingTimer) {
	c.pending = append(c.pending, p)
	c.scheduled.Broadcast()
}

// Advance moves the clock forward by d and fires everything whose deadline
// falls within the new time, in deadline order. Channel sends never block;
// a full channel drops the tick.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	target := c.now
	c.mu.Unlock()

	for {
		due := c.takeDue(target)
		if len(due) == 0 {
			return
		}
		sort.Slice(due, func(i, j int) bool { return due[i].deadline.Before(due[j].deadline) })
		for _, p := range due {
			if p.fn != nil {
				p.fn()
				continue
			}
			select {
			case p.ch <- target:
			default:
			}
		}
	}
}

// takeDue removes entries due at or before target, rescheduling tickers.
func (c *FakeClock) takeDue(target time.Time) []*pendingTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	var due, rest []*pendingTimer
	for _, p := range c.pending {
		switch {
		case p.stopped:
		case !p.deadline.After(target):
			due = append(due, p)
		default:
			rest = append(rest, p)
		}
	}
	for _, p := range due {
		if p.interval > 0 {
			p.deadline = p.deadline.Add(p.interval)
			rest = append(rest, p)
		} else {
			p.fired = true
		}
	}
	c.pending = rest
	return due
}

// AwaitScheduled blocks until at least n entries are pending. It closes the
// race between a goroutine arming a timer and the test advancing the clock.
func (c *FakeClock) AwaitScheduled(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.activeLocked() < n {
		c.scheduled.Wait()
	}
}

// Scheduled returns the number of active pending entries.
func (c *FakeClock) Scheduled() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.activeLocked()
}

func (c *FakeClock) activeLocked() int {
	n := 0
	for _, p := range c.pending {
		if !p.stopped {
			n++
		}
	}
	return n
}

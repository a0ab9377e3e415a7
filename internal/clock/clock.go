// Package clock abstracts timers so session scheduling is deterministic in
// tests. Production code injects System(); tests inject NewFake and drive
// time with Advance.
package clock

import "time"

// Clock is the timer surface the session layer depends on. Anything that
// would call time.Now, time.After, time.AfterFunc or time.NewTicker takes a
// Clock instead.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once d has elapsed. A d <= 0
	// delivers immediately.
	After(d time.Duration) <-chan time.Time

	// AfterFunc schedules f after d. Stop on the returned Timer cancels the
	// pending call; it reports false when f already ran.
	AfterFunc(d time.Duration, f func()) *Timer

	// NewTicker delivers ticks on C every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a cancelable scheduled call.
type Timer struct {
	stop func() bool
}

// Stop cancels the timer. It reports whether the call was still pending.
func (t *Timer) Stop() bool { return t.stop() }

// Ticker delivers periodic ticks on C. C has capacity 1; ticks the consumer
// misses are dropped, matching time.Ticker.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns the ticker off. C is not closed.
func (t *Ticker) Stop() { t.stop() }

// System returns the Clock backed by the time package.
func System() Clock { return systemClock{} }

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

func (systemClock) AfterFunc(d time.Duration, f func()) *Timer {
	t := time.AfterFunc(d, f)
	return &Timer{stop: t.Stop}
}

func (systemClock) NewTicker(d time.Duration) *Ticker {
	t := time.NewTicker(d)
	return &Ticker{C: t.C, stop: t.Stop}
}

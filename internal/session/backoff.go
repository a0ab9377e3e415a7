// File: internal/session/backoff.go
package session

import (
	"math/rand"
	"time"

	"github.com/xkoreth/quill-cli/internal/config"
)

// BackoffPolicy computes reconnect delays: exponential doubling from Base,
// capped at Max, with optional jitter shaving up to Jitter*delay off each
// wait so synchronized clients do not redial in lockstep.
type BackoffPolicy struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
	// Jitter in [0, 1]. 0 keeps delays exact.
	Jitter float64

	// rnd returns a value in [0, 1). Injectable for deterministic tests;
	// nil uses math/rand.
	rnd func() float64
}

// NewBackoffPolicy builds a policy from the session backoff configuration.
func NewBackoffPolicy(cfg config.BackoffConfig) BackoffPolicy {
	return BackoffPolicy{
		Base:        cfg.Base,
		Max:         cfg.Max,
		MaxAttempts: cfg.MaxAttempts,
		Jitter:      cfg.Jitter,
	}
}

// Delay returns the wait before reconnect attempt n (1-based). Attempt 1
// waits Base, attempt 2 waits 2*Base, and so on up to Max.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	delay := p.Base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.Max || delay <= 0 {
			// Cap reached, or the doubling overflowed.
			delay = p.Max
			break
		}
	}
	if p.Max > 0 && delay > p.Max {
		delay = p.Max
	}

	if p.Jitter <= 0 {
		return delay
	}
	jitter := p.Jitter
	if jitter > 1 {
		jitter = 1
	}
	rnd := p.rnd
	if rnd == nil {
		rnd = rand.Float64
	}
	// Shave a random share of the jitter window; never exceed the exact delay.
	return delay - time.Duration(float64(delay)*jitter*rnd())
}

// File: internal/session/backoff_test.go
package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkoreth/quill-cli/internal/config"
)

func TestNewBackoffPolicy_FromConfig(t *testing.T) {
	t.Parallel()

	policy := NewBackoffPolicy(config.BackoffConfig{
		Base:        2 * time.Second,
		Max:         45 * time.Second,
		MaxAttempts: 7,
		Jitter:      0.25,
	})

	assert.Equal(t, 2*time.Second, policy.Base)
	assert.Equal(t, 45*time.Second, policy.Max)
	assert.Equal(t, 7, policy.MaxAttempts)
	assert.InDelta(t, 0.25, policy.Jitter, 1e-9)
}

func TestBackoffPolicy_Delay_ExponentialWithCap(t *testing.T) {
	t.Parallel()

	policy := BackoffPolicy{Base: time.Second, Max: 30 * time.Second}

	testCases := []struct {
		name     string
		attempt  int
		expected time.Duration
	}{
		{"first attempt waits the base delay", 1, time.Second},
		{"second attempt doubles", 2, 2 * time.Second},
		{"third attempt doubles again", 3, 4 * time.Second},
		{"fifth attempt", 5, 16 * time.Second},
		{"sixth attempt hits the cap", 6, 30 * time.Second},
		{"later attempts stay capped", 12, 30 * time.Second},
		{"zero attempt clamps to the first", 0, time.Second},
		{"negative attempt clamps to the first", -4, time.Second},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.expected, policy.Delay(tc.attempt))
		})
	}
}

func TestBackoffPolicy_Delay_JitterShavesDeterministically(t *testing.T) {
	t.Parallel()

	// -- Setup --
	// rnd is pinned so the shaved share is exact: delay - delay*jitter*rnd.
	policy := BackoffPolicy{
		Base:   8 * time.Second,
		Max:    30 * time.Second,
		Jitter: 0.5,
		rnd:    func() float64 { return 0.5 },
	}

	// -- Execution & Assertions --
	// 8s - 8s*0.5*0.5 = 6s.
	assert.Equal(t, 6*time.Second, policy.Delay(1))
	// 16s - 16s*0.5*0.5 = 12s.
	assert.Equal(t, 12*time.Second, policy.Delay(2))
}

func TestBackoffPolicy_Delay_JitterBounds(t *testing.T) {
	t.Parallel()

	policy := BackoffPolicy{
		Base:   time.Second,
		Max:    30 * time.Second,
		Jitter: 0.5,
	}

	// With live randomness the delay stays inside (base/2, base].
	for i := 0; i < 200; i++ {
		delay := policy.Delay(1)
		require.Greater(t, delay, 500*time.Millisecond)
		require.LessOrEqual(t, delay, time.Second)
	}
}

func TestBackoffPolicy_Delay_JitterAboveOneIsClamped(t *testing.T) {
	t.Parallel()

	policy := BackoffPolicy{
		Base:   4 * time.Second,
		Max:    30 * time.Second,
		Jitter: 7.0,
		rnd:    func() float64 { return 0.5 },
	}

	// Jitter clamps to 1: 4s - 4s*1*0.5 = 2s.
	assert.Equal(t, 2*time.Second, policy.Delay(1))
}

func TestBackoffPolicy_Delay_ZeroJitterIsExact(t *testing.T) {
	t.Parallel()

	policy := BackoffPolicy{Base: 3 * time.Second, Max: 30 * time.Second}

	first := policy.Delay(2)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, policy.Delay(2))
	}
}

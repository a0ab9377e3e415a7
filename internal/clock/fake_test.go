// File: internal/clock/fake_test.go
package clock

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testEpoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func TestFakeClock_AdvanceFiresInDeadlineOrder(t *testing.T) {
	t.Parallel()
	fc := NewFake(testEpoch)

	var order []int
	fc.AfterFunc(3*time.Second, func() { order = append(order, 3) })
	fc.AfterFunc(1*time.Second, func() { order = append(order, 1) })
	fc.AfterFunc(2*time.Second, func() { order = append(order, 2) })

	fc.Advance(5 * time.Second)

	assert.Equal(t, []int{1, 2, 3}, order)
	assert.Equal(t, 0, fc.Scheduled())
	assert.Equal(t, testEpoch.Add(5*time.Second), fc.Now())
}

func TestFakeClock_AfterDeliversOnce(t *testing.T) {
	t.Parallel()
	fc := NewFake(testEpoch)

	ch := fc.After(10 * time.Second)
	fc.Advance(9 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired before deadline")
	default:
	}

	fc.Advance(time.Second)
	select {
	case at := <-ch:
		assert.Equal(t, testEpoch.Add(10*time.Second), at)
	default:
		t.Fatal("did not fire at deadline")
	}

	// One-shot: nothing further on subsequent advances.
	fc.Advance(time.Minute)
	select {
	case <-ch:
		t.Fatal("fired twice")
	default:
	}
}

func TestFakeClock_StopPreventsCallback(t *testing.T) {
	t.Parallel()
	fc := NewFake(testEpoch)

	var fired atomic.Bool
	timer := fc.AfterFunc(time.Second, func() { fired.Store(true) })

	require.True(t, timer.Stop())
	require.False(t, timer.Stop(), "second stop reports not pending")

	fc.Advance(time.Minute)
	assert.False(t, fired.Load())
}

func TestFakeClock_NonPositiveAfterFuncRunsInline(t *testing.T) {
	t.Parallel()
	fc := NewFake(testEpoch)

	ran := false
	timer := fc.AfterFunc(0, func() { ran = true })
	assert.True(t, ran)
	assert.False(t, timer.Stop())
}

func TestFakeClock_TickerRepeatsAndStops(t *testing.T) {
	t.Parallel()
	fc := NewFake(testEpoch)

	ticker := fc.NewTicker(time.Second)
	ticks := 0
	for i := 0; i < 3; i++ {
		fc.Advance(time.Second)
		select {
		case <-ticker.C:
			ticks++
		default:
		}
	}
	assert.Equal(t, 3, ticks)

	ticker.Stop()
	fc.Advance(time.Minute)
	select {
	case <-ticker.C:
		t.Fatal("tick after Stop")
	default:
	}
}

func TestFakeClock_AwaitScheduledSynchronizes(t *testing.T) {
	t.Parallel()
	fc := NewFake(testEpoch)

	fired := make(chan struct{})
	go func() {
		<-fc.After(5 * time.Second)
		close(fired)
	}()

	fc.AwaitScheduled(1)
	fc.Advance(5 * time.Second)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("waiter never fired")
	}
}

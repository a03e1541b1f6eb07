package poller

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPollerTicksOnInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var calls atomic.Int32
	p := New(clock, OperatorInterval, "test", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	p.Start(context.Background())
	defer p.Stop()

	for i := 1; i <= 3; i++ {
		assert.NoError(t, clock.BlockUntilContext(context.Background(), 1))
		clock.Advance(OperatorInterval)
		want := int32(i)
		waitFor(t, func() bool { return calls.Load() == want })
	}
	polls, failures, _ := p.Stats()
	check.Equal(t, 3, polls)
	check.Equal(t, 0, failures)
}

func TestPollerKeepsRunningAfterFailures(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var calls atomic.Int32
	boom := errors.New("store unreachable")
	p := New(clock, BidderInterval, "test", func(ctx context.Context) error {
		if calls.Add(1) <= 2 {
			return boom
		}
		return nil
	})
	p.Start(context.Background())
	defer p.Stop()

	for i := 1; i <= 3; i++ {
		assert.NoError(t, clock.BlockUntilContext(context.Background(), 1))
		clock.Advance(BidderInterval)
		want := int32(i)
		waitFor(t, func() bool { return calls.Load() == want })
	}
	waitFor(t, func() bool {
		polls, _, _ := p.Stats()
		return polls == 3
	})
	_, failures, lastErr := p.Stats()
	check.Equal(t, 2, failures)
	check.NoError(t, lastErr)
	check.True(t, p.Running())
}

func TestTriggerPollsImmediately(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var calls atomic.Int32
	p := New(clock, time.Hour, "test", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	p.Start(context.Background())
	defer p.Stop()

	p.Trigger()
	waitFor(t, func() bool { return calls.Load() == 1 })
}

func TestStopHaltsPolling(t *testing.T) {
	clock := clockwork.NewFakeClock()
	var calls atomic.Int32
	p := New(clock, OperatorInterval, "test", func(ctx context.Context) error {
		calls.Add(1)
		return nil
	})
	p.Start(context.Background())
	assert.NoError(t, clock.BlockUntilContext(context.Background(), 1))

	p.Stop()
	check.False(t, p.Running())
	clock.Advance(10 * OperatorInterval)
	time.Sleep(10 * time.Millisecond)
	check.Equal(t, int32(0), calls.Load())

	p.Stop() // idempotent
}

func TestContextCancelStopsPoller(t *testing.T) {
	clock := clockwork.NewFakeClock()
	ctx, cancel := context.WithCancel(context.Background())
	p := New(clock, OperatorInterval, "test", func(ctx context.Context) error { return nil })
	p.Start(ctx)
	cancel()
	p.Stop()
	check.False(t, p.Running())
}

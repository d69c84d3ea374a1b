package backoff

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(sleep SleepFunc) *Scheduler {
	return New(Options{
		Base:       2 * time.Second,
		JitterMax:  time.Second,
		MaxRetries: 3,
		Rand:       rand.New(rand.NewSource(7)),
		Sleep:      sleep,
	})
}

func TestRetryWindowDoublesPerAttempt(t *testing.T) {
	s := newTestScheduler(nil)

	cases := []struct {
		attempt int
		lo, hi  time.Duration
	}{
		{1, 2 * time.Second, 3 * time.Second},
		{2, 4 * time.Second, 5 * time.Second},
		{3, 8 * time.Second, 9 * time.Second},
		// capped at MaxRetries
		{4, 8 * time.Second, 9 * time.Second},
		{0, 2 * time.Second, 3 * time.Second},
	}
	for _, tc := range cases {
		lo, hi := s.RetryWindow(tc.attempt)
		assert.Equal(t, tc.lo, lo, "attempt %d", tc.attempt)
		assert.Equal(t, tc.hi, hi, "attempt %d", tc.attempt)
	}
}

func TestRetryBackOffStaysInWindowAndIncreases(t *testing.T) {
	s := newTestScheduler(nil)
	for run := 0; run < 50; run++ {
		b := s.NewRetryBackOff()
		b.Reset()
		prev := time.Duration(0)
		for attempt := 1; attempt <= 3; attempt++ {
			d := b.NextBackOff()
			lo, hi := s.RetryWindow(attempt)
			require.GreaterOrEqual(t, d, lo)
			require.LessOrEqual(t, d, hi)
			require.Greater(t, d, prev)
			prev = d
		}
	}
}

func TestBetweenIsInclusiveAndDegenerate(t *testing.T) {
	s := newTestScheduler(nil)
	for i := 0; i < 200; i++ {
		d := s.Between(10*time.Millisecond, 20*time.Millisecond)
		require.GreaterOrEqual(t, d, 10*time.Millisecond)
		require.LessOrEqual(t, d, 20*time.Millisecond)
	}
	assert.Equal(t, 5*time.Millisecond, s.Between(5*time.Millisecond, 5*time.Millisecond))
	assert.Equal(t, 5*time.Millisecond, s.Between(5*time.Millisecond, time.Millisecond))
}

func TestWaitUsesInjectedSleep(t *testing.T) {
	var slept []time.Duration
	s := newTestScheduler(func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	})

	d, err := s.Wait(context.Background(), 2*time.Second, 5*time.Second)
	require.NoError(t, err)
	require.Len(t, slept, 1)
	assert.Equal(t, d, slept[0])
	assert.GreaterOrEqual(t, d, 2*time.Second)
	assert.LessOrEqual(t, d, 5*time.Second)
}

func TestSleepHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	err := Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}

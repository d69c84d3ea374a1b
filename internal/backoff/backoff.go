// Package backoff computes politeness pauses and retry backoff windows.
//
// Politeness pauses are drawn uniformly from a [min, max] window. Retry
// backoff for attempt k (1-based) is drawn from
// [base*2^(k-1), base*2^(k-1)+jitterMax].
package backoff

import (
	"context"
	"math/rand"
	"sync"
	"time"

	cbackoff "github.com/cenkalti/backoff/v4"
)

// SleepFunc blocks for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Options configures a Scheduler.
type Options struct {
	Base      time.Duration
	JitterMax time.Duration
	// MaxRetries caps the exponent; attempts beyond it reuse its window.
	MaxRetries int
	// Rand and Sleep are replaceable for tests.
	Rand  *rand.Rand
	Sleep SleepFunc
}

// Scheduler draws random waits and performs politeness sleeps.
type Scheduler struct {
	base       time.Duration
	jitterMax  time.Duration
	maxRetries int
	sleep      SleepFunc

	mu  sync.Mutex
	rnd *rand.Rand
}

// New builds a scheduler. A nil Rand seeds from the clock; a nil Sleep uses a timer.
func New(opts Options) *Scheduler {
	rnd := opts.Rand
	if rnd == nil {
		rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = Sleep
	}
	return &Scheduler{
		base:       opts.Base,
		jitterMax:  opts.JitterMax,
		maxRetries: opts.MaxRetries,
		sleep:      sleep,
		rnd:        rnd,
	}
}

// Between returns a uniformly random duration in [min, max].
func (s *Scheduler) Between(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return min + time.Duration(s.rnd.Int63n(int64(max-min)+1))
}

// Wait sleeps for a random duration in [min, max] and returns how long it waited.
func (s *Scheduler) Wait(ctx context.Context, min, max time.Duration) (time.Duration, error) {
	d := s.Between(min, max)
	if d <= 0 {
		return 0, ctx.Err()
	}
	return d, s.sleep(ctx, d)
}

// RetryWindow returns the bounds the backoff for the given attempt is drawn from.
func (s *Scheduler) RetryWindow(attempt int) (time.Duration, time.Duration) {
	if attempt < 1 {
		attempt = 1
	}
	if s.maxRetries > 0 && attempt > s.maxRetries {
		attempt = s.maxRetries
	}
	lower := s.base << uint(attempt-1)
	return lower, lower + s.jitterMax
}

// RetryDelay draws the backoff for the given attempt.
func (s *Scheduler) RetryDelay(attempt int) time.Duration {
	lo, hi := s.RetryWindow(attempt)
	return s.Between(lo, hi)
}

// NewRetryBackOff returns a fresh backoff sequence for one retried operation.
func (s *Scheduler) NewRetryBackOff() cbackoff.BackOff {
	return &retryBackOff{scheduler: s}
}

type retryBackOff struct {
	scheduler *Scheduler
	attempt   int
}

func (b *retryBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.scheduler.RetryDelay(b.attempt)
}

func (b *retryBackOff) Reset() {
	b.attempt = 0
}

// Sleep blocks for d, returning early with ctx.Err() on cancellation.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package crawler

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"citycrawler/internal/config"
	"citycrawler/internal/fetcher"
	"citycrawler/pkg/types"
)

// Throttle wraps a Fetcher with per-host politeness: a minimum gap between
// requests (robots Crawl-delay) and an optional token bucket.
type Throttle struct {
	next        fetcher.Fetcher
	gap         time.Duration
	rate        config.RateLimitConfig
	rateEnabled bool

	mu       sync.Mutex
	last     map[string]time.Time
	limiters map[string]*rate.Limiter
}

// NewThrottle decorates next. A zero gap and a disabled rate limit make it a
// pass-through.
func NewThrottle(next fetcher.Fetcher, gap time.Duration, rateCfg config.RateLimitConfig) *Throttle {
	return &Throttle{
		next:        next,
		gap:         gap,
		rate:        rateCfg,
		rateEnabled: rateCfg.Enabled(),
		last:        make(map[string]time.Time),
		limiters:    make(map[string]*rate.Limiter),
	}
}

// Fetch waits for the host's turn, then delegates.
func (t *Throttle) Fetch(ctx context.Context, rawURL string) (*types.Page, error) {
	host := ""
	if u, err := url.Parse(rawURL); err == nil {
		host = strings.ToLower(u.Hostname())
	}
	if err := t.Wait(ctx, host); err != nil {
		return nil, err
	}
	return t.next.Fetch(ctx, rawURL)
}

// Wait blocks until politeness constraints for the host are satisfied.
func (t *Throttle) Wait(ctx context.Context, host string) error {
	if t == nil || host == "" {
		return nil
	}
	if t.gap <= 0 && !t.rateEnabled {
		return nil
	}

	var sleep time.Duration
	var limiter *rate.Limiter
	now := time.Now()

	t.mu.Lock()
	if t.gap > 0 {
		if last, ok := t.last[host]; ok {
			if rest := last.Add(t.gap).Sub(now); rest > 0 {
				sleep = rest
			}
		}
	}
	if t.rateEnabled {
		limiter = t.ensureLimiterLocked(host)
	}
	t.mu.Unlock()

	if sleep > 0 {
		timer := time.NewTimer(sleep)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}

	t.mu.Lock()
	t.last[host] = time.Now()
	t.mu.Unlock()
	return nil
}

func (t *Throttle) ensureLimiterLocked(host string) *rate.Limiter {
	if limiter, ok := t.limiters[host]; ok {
		return limiter
	}
	interval := t.rate.Window.Duration / time.Duration(t.rate.Requests)
	if interval <= 0 {
		interval = time.Millisecond
	}
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	t.limiters[host] = limiter
	return limiter
}

package crawler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"citycrawler/internal/config"
	"citycrawler/pkg/types"
)

type countingFetcher struct{ calls int }

func (c *countingFetcher) Fetch(context.Context, string) (*types.Page, error) {
	c.calls++
	return &types.Page{}, nil
}

func TestThrottleEnforcesGapPerHost(t *testing.T) {
	next := &countingFetcher{}
	th := NewThrottle(next, 60*time.Millisecond, config.RateLimitConfig{})
	ctx := context.Background()

	start := time.Now()
	_, err := th.Fetch(ctx, "https://example.com/cities/?page=1")
	require.NoError(t, err)
	_, err = th.Fetch(ctx, "https://other.org/?page=1")
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 60*time.Millisecond, "different hosts do not wait on each other")

	_, err = th.Fetch(ctx, "https://EXAMPLE.com/cities/?page=2")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	assert.Equal(t, 3, next.calls)
}

func TestThrottleRateLimit(t *testing.T) {
	next := &countingFetcher{}
	th := NewThrottle(next, 0, config.RateLimitConfig{Requests: 1, Window: config.DurationFrom(50 * time.Millisecond)})

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := th.Fetch(context.Background(), "https://example.com/")
		require.NoError(t, err)
	}
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestThrottleHonoursCancellation(t *testing.T) {
	next := &countingFetcher{}
	th := NewThrottle(next, time.Hour, config.RateLimitConfig{})

	_, err := th.Fetch(context.Background(), "https://example.com/")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = th.Fetch(ctx, "https://example.com/")
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, next.calls)
}

func TestFootprintRejectsDuplicates(t *testing.T) {
	fp := NewFootprint()
	assert.True(t, fp.Discover("berlin", "u1"))
	assert.False(t, fp.Discover("berlin", "u2"))
	assert.True(t, fp.Discover("hamburg", "u3"))

	fp.Mark("berlin", StatusDone, 4, nil)
	fp.Mark("missing", StatusDone, 1, nil)

	states := fp.States()
	require.Len(t, states, 2)
	assert.Equal(t, "u1", states[0].URL)
	assert.Equal(t, StatusDone, states[0].Status)
	assert.False(t, states[0].FinishedAt.IsZero())
	assert.Equal(t, StatusPending, states[1].Status)
	assert.Equal(t, 1, fp.Count(StatusDone))
}

package ratelimit

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryLimiter is a per-process fixed window counter backed by go-cache.
// Use it for single-instance deployments and tests.
type MemoryLimiter struct {
	cache  *gocache.Cache
	max    int64
	window time.Duration
	now    func() time.Time
}

// NewMemoryLimiter creates a limiter allowing max hits per window.
func NewMemoryLimiter(max int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		cache:  gocache.New(window, time.Minute),
		max:    int64(max),
		window: window,
		now:    time.Now,
	}
}

// Allow records a hit for key.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	now := l.now()
	k, start := windowKey("", key, l.window, now)
	reset := start.Add(l.window)

	// Add fails when the window already exists; the increment below counts either way.
	_ = l.cache.Add(k, int64(0), reset.Sub(now)+time.Second)
	hits, err := l.cache.IncrementInt64(k, 1)
	if err != nil {
		return Result{}, err
	}

	ttl := reset.Sub(now)
	res := Result{
		Allowed:     hits <= l.max,
		Remaining:   max(l.max-hits, 0),
		CurrentHits: hits,
		WindowTTL:   ttl,
	}
	if !res.Allowed {
		res.RetryAfter = ttl
	}
	return res, nil
}

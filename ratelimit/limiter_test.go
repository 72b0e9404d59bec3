package ratelimit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "subscribe:203.0.113.7", Key("subscribe", "203.0.113.7"))
	assert.Equal(t, "subscribe:a_b", Key("subscribe", "a b"))
}

func TestTokenKey_HidesToken(t *testing.T) {
	token := "s3cr3t-token-value"
	key := TokenKey("unsubscribe", token)

	assert.True(t, strings.HasPrefix(key, "unsubscribe:token:"))
	assert.NotContains(t, key, token)
	assert.Len(t, strings.TrimPrefix(key, "unsubscribe:token:"), 64)
	assert.Equal(t, key, TokenKey("unsubscribe", token))
	assert.NotEqual(t, key, TokenKey("unsubscribe", token+"x"))
}

func TestWindowKey(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 42, 0, time.UTC)
	key, start := windowKey("rl:", "subscribe:1.2.3.4", time.Minute, now)

	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), start)
	assert.Equal(t, "rl:subscribe:1.2.3.4:1772366400", key)
}

func TestRedisLimiter_Result(t *testing.T) {
	l := NewRedisLimiter(nil, "", 2, time.Minute)
	assert.Equal(t, "courier:rl:", l.Prefix)

	res := l.result(2, 30*time.Second)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(0), res.Remaining)
	assert.Zero(t, res.RetryAfter)

	res = l.result(3, 30*time.Second)
	assert.False(t, res.Allowed)
	assert.Equal(t, 30*time.Second, res.RetryAfter)

	res = l.result(3, -1)
	assert.Equal(t, time.Minute, res.RetryAfter)
}

func TestMemoryLimiter_FixedWindow(t *testing.T) {
	l := NewMemoryLimiter(3, time.Minute)
	now := time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC)
	l.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := l.Allow(ctx, "subscribe:1.2.3.4")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "hit %d", i)
		assert.Equal(t, int64(3-i), res.Remaining)
	}

	res, err := l.Allow(ctx, "subscribe:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, 50*time.Second, res.RetryAfter)

	// other keys have their own counter
	res, err = l.Allow(ctx, "subscribe:5.6.7.8")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	// next window starts fresh
	now = now.Add(time.Minute)
	res, err = l.Allow(ctx, "subscribe:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(1), res.CurrentHits)
}

func TestExceededError(t *testing.T) {
	err := &ExceededError{Key: "k", RetryAfter: 5 * time.Second}
	assert.Contains(t, err.Error(), "5s")
}

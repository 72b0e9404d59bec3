package courier_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/coregx/courier"
	"github.com/coregx/courier/model"
	"github.com/coregx/courier/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string) (ratelimit.Result, error) {
	return ratelimit.Result{}, errors.New("dial tcp 127.0.0.1:6379: connect: connection refused")
}

type countingMetrics struct {
	courier.NoopMetrics
	limited map[string]int
}

func (m *countingMetrics) RateLimited(action string) { m.limited[action]++ }

func newPublic(t *testing.T, h *harness, limiter ratelimit.Limiter, metrics courier.Metrics) *courier.PublicService {
	t.Helper()
	ps, err := courier.NewPublicService(
		courier.WithPublicConsent(h.consent),
		courier.WithRateLimiter(limiter),
		courier.WithPublicLogger(&courier.NoopLogger{}),
		courier.WithPublicMetrics(metrics),
	)
	require.NoError(t, err)
	return ps
}

func TestPublic_SubscribeRateLimitedPerClient(t *testing.T) {
	h := newHarness(t)
	metrics := &countingMetrics{limited: map[string]int{}}
	ps := newPublic(t, h, ratelimit.NewMemoryLimiter(2, time.Hour), metrics)
	ctx := context.Background()
	req := courier.SubscribeRequest{Email: "a@x.com", Topic: model.TopicBlog}

	for i := 0; i < 2; i++ {
		_, err := ps.Subscribe(ctx, "10.0.0.1", req)
		require.NoError(t, err)
	}

	_, err := ps.Subscribe(ctx, "10.0.0.1", req)
	require.Error(t, err)
	assert.True(t, courier.IsRateLimited(err))

	var exceeded *ratelimit.ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Positive(t, exceeded.RetryAfter)
	assert.Equal(t, 1, metrics.limited[courier.ActionSubscribe])

	_, err = ps.Subscribe(ctx, "10.0.0.2", req)
	assert.NoError(t, err, "other clients have their own window")
}

func TestPublic_UnsubscribeHidesUnknownTokens(t *testing.T) {
	h := newHarness(t)
	ps := newPublic(t, h, nil, courier.NoopMetrics{})
	ctx := context.Background()

	sub, err := ps.Subscribe(ctx, "10.0.0.1", courier.SubscribeRequest{Email: "a@x.com", Topic: model.TopicPress})
	require.NoError(t, err)

	assert.NoError(t, ps.Unsubscribe(ctx, "10.0.0.1", "forged-token"))
	assert.NoError(t, ps.Unsubscribe(ctx, "10.0.0.1", sub.UnsubscribeToken))
	assert.NoError(t, ps.Unsubscribe(ctx, "10.0.0.1", sub.UnsubscribeToken))

	stored, err := h.repos.Subscription.FindByToken(ctx, sub.UnsubscribeToken)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionUnsubscribed, stored.Status)

	err = ps.Unsubscribe(ctx, "10.0.0.1", "")
	assert.True(t, courier.IsValidation(err))
}

func TestPublic_UnsubscribeRateLimited(t *testing.T) {
	h := newHarness(t)
	ps := newPublic(t, h, ratelimit.NewMemoryLimiter(2, time.Hour), courier.NoopMetrics{})
	ctx := context.Background()

	require.NoError(t, ps.Unsubscribe(ctx, "10.0.0.1", "t1"))
	require.NoError(t, ps.Unsubscribe(ctx, "10.0.0.1", "t2"))

	err := ps.Unsubscribe(ctx, "10.0.0.1", "t3")
	assert.True(t, courier.IsRateLimited(err))

	require.NoError(t, ps.Unsubscribe(ctx, "10.0.0.2", "t1"))
	err = ps.Unsubscribe(ctx, "10.0.0.3", "t1")
	assert.True(t, courier.IsRateLimited(err), "the token has its own counter")
}

func TestPublic_LimiterFailureFailsOpen(t *testing.T) {
	h := newHarness(t)
	ps := newPublic(t, h, brokenLimiter{}, courier.NoopMetrics{})

	_, err := ps.Subscribe(context.Background(), "10.0.0.1", courier.SubscribeRequest{Email: "a@x.com", Topic: model.TopicBlog})
	assert.NoError(t, err)
}

func TestNewPublicService_RequiresConsent(t *testing.T) {
	_, err := courier.NewPublicService(courier.WithPublicLogger(&courier.NoopLogger{}))
	assert.Equal(t, courier.ErrCodeConfiguration, courier.ErrorCode(err))
}

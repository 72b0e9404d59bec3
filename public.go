package courier

import (
	"context"
	"fmt"

	"github.com/coregx/courier/model"
	"github.com/coregx/courier/ratelimit"
)

// Rate limit actions.
const (
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
)

// PublicService exposes the unauthenticated consent endpoints behind a rate limiter.
//
// Unsubscribe never reveals whether a token exists: unknown and already-used
// tokens produce the same successful outcome.
type PublicService struct {
	consent *ConsentStore
	limiter ratelimit.Limiter
	logger  Logger
	metrics Metrics
}

// PublicOption configures a PublicService.
type PublicOption func(*PublicService) error

// NewPublicService creates a new PublicService with the provided options.
//
// Required options:
//   - WithPublicConsent: consent store
//   - WithPublicLogger: logger instance
//
// Optional options:
//   - WithRateLimiter: limiter shared by subscribe and unsubscribe (default: none)
//   - WithPublicMetrics
func NewPublicService(opts ...PublicOption) (*PublicService, error) {
	ps := &PublicService{metrics: NoopMetrics{}}

	for _, opt := range opts {
		if err := opt(ps); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply public service option", err)
		}
	}

	if ps.consent == nil {
		return nil, NewError(ErrCodeConfiguration, "ConsentStore is required (use WithPublicConsent)")
	}
	if ps.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithPublicLogger)")
	}

	return ps, nil
}

// WithPublicConsent sets the consent store.
func WithPublicConsent(consent *ConsentStore) PublicOption {
	return func(ps *PublicService) error {
		if consent == nil {
			return fmt.Errorf("consent store cannot be nil")
		}
		ps.consent = consent
		return nil
	}
}

// WithRateLimiter sets the limiter. Without one, requests are never limited.
func WithRateLimiter(limiter ratelimit.Limiter) PublicOption {
	return func(ps *PublicService) error {
		ps.limiter = limiter
		return nil
	}
}

// WithPublicLogger sets the logger instance. Logger is required.
func WithPublicLogger(logger Logger) PublicOption {
	return func(ps *PublicService) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		ps.logger = logger
		return nil
	}
}

// WithPublicMetrics sets the metrics sink.
func WithPublicMetrics(metrics Metrics) PublicOption {
	return func(ps *PublicService) error {
		if metrics == nil {
			return fmt.Errorf("metrics cannot be nil")
		}
		ps.metrics = metrics
		return nil
	}
}

// Subscribe opts an address into a topic. client identifies the caller for
// rate limiting (usually the remote IP).
func (ps *PublicService) Subscribe(ctx context.Context, client string, req SubscribeRequest) (model.Subscription, error) {
	if err := ps.allow(ctx, ActionSubscribe, ratelimit.Key(ActionSubscribe, client)); err != nil {
		return model.Subscription{}, err
	}
	return ps.consent.UpsertSubscription(ctx, req)
}

// Unsubscribe flips the subscription owning token to unsubscribed.
// The per-token counter is keyed by the token's hash, never the raw token.
func (ps *PublicService) Unsubscribe(ctx context.Context, client, token string) error {
	if token == "" {
		return NewError(ErrCodeValidation, "token is required")
	}
	if err := ps.allow(ctx, ActionUnsubscribe, ratelimit.Key(ActionUnsubscribe, client)); err != nil {
		return err
	}
	if err := ps.allow(ctx, ActionUnsubscribe, ratelimit.TokenKey(ActionUnsubscribe, token)); err != nil {
		return err
	}

	err := ps.consent.UnsubscribeByToken(ctx, token)
	if IsNotFound(err) {
		ps.logger.Debugf("Unsubscribe with unknown token from client=%s", client)
		return nil
	}
	return err
}

// allow checks one counter. Limiter failures fail open with a warning so a
// Redis outage never blocks consent changes.
func (ps *PublicService) allow(ctx context.Context, action, key string) error {
	if ps.limiter == nil {
		return nil
	}

	res, err := ps.limiter.Allow(ctx, key)
	if err != nil {
		ps.logger.Warnf("Rate limiter unavailable for %s, allowing request: %v", action, err)
		return nil
	}
	if res.Allowed {
		return nil
	}

	ps.metrics.RateLimited(action)
	return NewErrorWithCause(ErrCodeRateLimited, "too many "+action+" requests",
		&ratelimit.ExceededError{Key: key, RetryAfter: res.RetryAfter})
}

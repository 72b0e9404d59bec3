package courier

import (
	"context"
	"fmt"
	"time"

	"github.com/coregx/courier/model"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// ConsentStore manages per-user preferences and per-email topic subscriptions.
//
// Key operations:
//   - GetOrCreatePreference: lazy creation with all flags enabled
//   - UpdatePreference: partial flag update
//   - UpsertSubscription: subscribe or resubscribe, keeping the token stable
//   - UnsubscribeByToken: one atomic update keyed on the token
//
// Thread safety: Safe for concurrent use. Concurrent first access relies on the
// repositories' unique indexes, never on application locks.
type ConsentStore struct {
	subscriptions SubscriptionRepository
	preferences   PreferenceRepository
	logger        Logger
	notifier      Notifier
}

// ConsentStoreOption is a function that configures a ConsentStore.
type ConsentStoreOption func(*ConsentStore) error

// NewConsentStore creates a new ConsentStore with the provided options.
//
// Required options:
//   - WithConsentRepositories: subscription and preference repositories
//   - WithConsentLogger: logger instance
//
// Optional options:
//   - WithConsentNotifier: notifier for subscription changes (default: NoOpNotifier)
func NewConsentStore(opts ...ConsentStoreOption) (*ConsentStore, error) {
	cs := &ConsentStore{
		notifier: &NoOpNotifier{},
	}

	for _, opt := range opts {
		if err := opt(cs); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply consent store option", err)
		}
	}

	if cs.subscriptions == nil {
		return nil, NewError(ErrCodeConfiguration, "SubscriptionRepository is required (use WithConsentRepositories)")
	}
	if cs.preferences == nil {
		return nil, NewError(ErrCodeConfiguration, "PreferenceRepository is required (use WithConsentRepositories)")
	}
	if cs.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithConsentLogger)")
	}

	return cs, nil
}

// WithConsentRepositories sets the required repositories. Both must not be nil.
func WithConsentRepositories(subscriptions SubscriptionRepository, preferences PreferenceRepository) ConsentStoreOption {
	return func(cs *ConsentStore) error {
		if subscriptions == nil {
			return fmt.Errorf("subscription repository cannot be nil")
		}
		if preferences == nil {
			return fmt.Errorf("preference repository cannot be nil")
		}
		cs.subscriptions = subscriptions
		cs.preferences = preferences
		return nil
	}
}

// WithConsentLogger sets the logger instance. Logger is required.
func WithConsentLogger(logger Logger) ConsentStoreOption {
	return func(cs *ConsentStore) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		cs.logger = logger
		return nil
	}
}

// WithConsentNotifier sets the notifier called after subscription changes.
func WithConsentNotifier(notifier Notifier) ConsentStoreOption {
	return func(cs *ConsentStore) error {
		if notifier == nil {
			return fmt.Errorf("notifier cannot be nil")
		}
		cs.notifier = notifier
		return nil
	}
}

// GetOrCreatePreference returns the user's preference row, inserting the
// defaults on first access. When two callers race on the insert, the loser
// re-reads the winner's row.
func (cs *ConsentStore) GetOrCreatePreference(ctx context.Context, userID string) (model.Preference, error) {
	if userID == "" {
		return model.Preference{}, NewError(ErrCodeValidation, "user ID is required")
	}

	pref, err := cs.preferences.FindByUserID(ctx, userID)
	if err == nil {
		return pref, nil
	}
	if !IsNoData(err) {
		return pref, NewErrorWithCause(ErrCodeDatabase, "failed to load preference", err)
	}

	pref, err = cs.preferences.Insert(ctx, model.NewPreference(userID))
	if err == nil {
		cs.logger.Debugf("Preference created with defaults: user_id=%s", userID)
		return pref, nil
	}
	if !IsDuplicateKey(err) {
		return pref, NewErrorWithCause(ErrCodeDatabase, "failed to create preference", err)
	}

	pref, err = cs.preferences.FindByUserID(ctx, userID)
	if err != nil {
		return pref, NewErrorWithCause(ErrCodeDatabase, "failed to reload preference", err)
	}
	return pref, nil
}

// UpdatePreference applies a partial flag update. Nil flags are left unchanged.
func (cs *ConsentStore) UpdatePreference(ctx context.Context, userID string, flags model.PreferenceFlags) (model.Preference, error) {
	pref, err := cs.GetOrCreatePreference(ctx, userID)
	if err != nil {
		return pref, err
	}
	if flags.IsEmpty() {
		return pref, nil
	}

	pref.Apply(flags)
	pref, err = cs.preferences.Save(ctx, pref)
	if err != nil {
		return pref, NewErrorWithCause(ErrCodeDatabase, "failed to save preference", err)
	}

	cs.logger.Infof("Preference updated: user_id=%s", userID)
	return pref, nil
}

// SubscribeRequest represents a request to opt an email address into a topic.
type SubscribeRequest struct {
	Email  string      `json:"email"`
	Topic  model.Topic `json:"topic"`
	Source string      `json:"source"`           // Free-form origin (optional)
	UserID string      `json:"userId,omitempty"` // Linked account (optional)
}

// Validate checks the request fields.
func (r SubscribeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.EmailFormat),
		validation.Field(&r.Topic, validation.Required, validation.In(topicValues(model.Topics)...)),
		validation.Field(&r.Source, validation.Length(0, 64)),
	)
}

// UpsertSubscription subscribes an address to a topic. An existing
// (email, topic) row is flipped back to subscribed and keeps its token.
func (cs *ConsentStore) UpsertSubscription(ctx context.Context, req SubscribeRequest) (model.Subscription, error) {
	req.Email = model.NormalizeEmail(req.Email)
	if err := validationError("invalid subscribe request", req.Validate()); err != nil {
		return model.Subscription{}, err
	}
	email := req.Email

	sub, err := cs.subscriptions.FindByEmailTopic(ctx, email, req.Topic)
	switch {
	case err == nil:
		return cs.resubscribe(ctx, sub, req)
	case !IsNoData(err):
		return sub, NewErrorWithCause(ErrCodeDatabase, "failed to load subscription", err)
	}

	sub, err = model.NewSubscription(email, req.Topic, req.Source, req.UserID)
	if err != nil {
		return sub, NewErrorWithCause(ErrCodeDatabase, "failed to create subscription", err)
	}

	created, err := cs.subscriptions.Insert(ctx, sub)
	if err != nil {
		if !IsDuplicateKey(err) {
			return created, NewErrorWithCause(ErrCodeDatabase, "failed to insert subscription", err)
		}
		// Lost the race against a concurrent subscribe for the same pair.
		existing, findErr := cs.subscriptions.FindByEmailTopic(ctx, email, req.Topic)
		if findErr != nil {
			return existing, NewErrorWithCause(ErrCodeDatabase, "failed to reload subscription", findErr)
		}
		return cs.resubscribe(ctx, existing, req)
	}

	cs.logger.Infof("Subscription created: id=%s, topic=%s, source=%s", created.ID, created.Topic, created.Source)
	notify(cs.logger, "SubscriptionChanged", func() error { return cs.notifier.SubscriptionChanged(ctx, created) })
	return created, nil
}

func (cs *ConsentStore) resubscribe(ctx context.Context, sub model.Subscription, req SubscribeRequest) (model.Subscription, error) {
	wasSubscribed := sub.IsSubscribed()
	sub.Resubscribe(req.Source, req.UserID)

	sub, err := cs.subscriptions.Save(ctx, sub)
	if err != nil {
		return sub, NewErrorWithCause(ErrCodeDatabase, "failed to save subscription", err)
	}

	if !wasSubscribed {
		cs.logger.Infof("Subscription reactivated: id=%s, topic=%s", sub.ID, sub.Topic)
		notify(cs.logger, "SubscriptionChanged", func() error { return cs.notifier.SubscriptionChanged(ctx, sub) })
	}
	return sub, nil
}

// UnsubscribeByToken flips the subscription owning token to unsubscribed.
// Returns a NotFound error when no subscription owns the token. A token that
// was already used still matches and succeeds.
func (cs *ConsentStore) UnsubscribeByToken(ctx context.Context, token string) error {
	if token == "" {
		return NewError(ErrCodeValidation, "token is required")
	}

	matched, err := cs.subscriptions.UnsubscribeByToken(ctx, token, time.Now().UTC())
	if err != nil {
		return NewErrorWithCause(ErrCodeDatabase, "failed to unsubscribe", err)
	}
	if !matched {
		return NewError(ErrCodeNotFound, "subscription not found")
	}

	if sub, err := cs.subscriptions.FindByToken(ctx, token); err == nil {
		cs.logger.Infof("Subscription unsubscribed: id=%s, topic=%s", sub.ID, sub.Topic)
		notify(cs.logger, "SubscriptionChanged", func() error { return cs.notifier.SubscriptionChanged(ctx, sub) })
	}
	return nil
}

func topicValues(topics []model.Topic) []interface{} {
	out := make([]interface{}, len(topics))
	for i, t := range topics {
		out[i] = t
	}
	return out
}

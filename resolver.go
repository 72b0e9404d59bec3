package courier

import (
	"context"
	"fmt"

	"github.com/coregx/courier/model"
)

// RecipientResolver builds the consent-filtered recipient list of an editorial topic.
//
// The list is the union of:
//   - subscribed Subscription rows for the topic
//   - active, email-verified users whose effective preference allows the topic
//
// merged by lower-cased email. A subscription's unsubscribe token always wins
// over the account-derived entry; account-only recipients get the preference
// center URL instead.
type RecipientResolver struct {
	subscriptions  SubscriptionRepository
	preferences    PreferenceRepository
	users          UserDirectory
	preferencesURL string
	logger         Logger
}

// ResolverOption is a function that configures a RecipientResolver.
type ResolverOption func(*RecipientResolver) error

// NewRecipientResolver creates a new RecipientResolver with the provided options.
//
// Required options:
//   - WithResolverSources: subscription repository, preference repository, user directory
//   - WithResolverLogger: logger instance
//
// Optional options:
//   - WithPreferencesURL: link handed to account-only recipients
func NewRecipientResolver(opts ...ResolverOption) (*RecipientResolver, error) {
	rr := &RecipientResolver{}

	for _, opt := range opts {
		if err := opt(rr); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply resolver option", err)
		}
	}

	if rr.subscriptions == nil || rr.preferences == nil || rr.users == nil {
		return nil, NewError(ErrCodeConfiguration, "subscription, preference and user sources are required (use WithResolverSources)")
	}
	if rr.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithResolverLogger)")
	}

	return rr, nil
}

// WithResolverSources sets the data sources. All must not be nil.
func WithResolverSources(subscriptions SubscriptionRepository, preferences PreferenceRepository, users UserDirectory) ResolverOption {
	return func(rr *RecipientResolver) error {
		if subscriptions == nil {
			return fmt.Errorf("subscription repository cannot be nil")
		}
		if preferences == nil {
			return fmt.Errorf("preference repository cannot be nil")
		}
		if users == nil {
			return fmt.Errorf("user directory cannot be nil")
		}
		rr.subscriptions = subscriptions
		rr.preferences = preferences
		rr.users = users
		return nil
	}
}

// WithResolverLogger sets the logger instance. Logger is required.
func WithResolverLogger(logger Logger) ResolverOption {
	return func(rr *RecipientResolver) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		rr.logger = logger
		return nil
	}
}

// WithPreferencesURL sets the preference center URL given to recipients
// without a subscription token.
func WithPreferencesURL(url string) ResolverOption {
	return func(rr *RecipientResolver) error {
		rr.preferencesURL = url
		return nil
	}
}

// ResolveEditorialRecipients returns the deduplicated recipients of topic.
// Only blog, press and product are accepted; other topics are a ValidationError.
func (rr *RecipientResolver) ResolveEditorialRecipients(ctx context.Context, topic model.Topic) ([]model.Recipient, error) {
	if !topic.IsEditorial() {
		return nil, NewError(ErrCodeValidation, fmt.Sprintf("topic %q is not an editorial topic", topic))
	}

	subs, err := rr.subscriptions.FindSubscribed(ctx, topic)
	if err != nil && !IsNoData(err) {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to load subscriptions", err)
	}

	users, err := rr.users.ListActiveVerified(ctx)
	if err != nil && !IsNoData(err) {
		return nil, NewErrorWithCause(ErrCodeDatabase, "failed to load users", err)
	}

	userIDs := make([]string, 0, len(users))
	for _, u := range users {
		userIDs = append(userIDs, u.ID)
	}
	prefs := map[string]model.Preference{}
	if len(userIDs) > 0 {
		prefs, err = rr.preferences.FindByUserIDs(ctx, userIDs)
		if err != nil && !IsNoData(err) {
			return nil, NewErrorWithCause(ErrCodeDatabase, "failed to load preferences", err)
		}
	}

	index := make(map[string]int, len(subs)+len(users))
	recipients := make([]model.Recipient, 0, len(subs)+len(users))

	for _, s := range subs {
		if !s.IsSubscribed() || s.Topic != topic {
			continue
		}
		email := model.NormalizeEmail(s.Email)
		if _, seen := index[email]; seen {
			continue
		}
		index[email] = len(recipients)
		recipients = append(recipients, model.Recipient{
			Email:            email,
			UserID:           s.UserID.String,
			UnsubscribeToken: s.UnsubscribeToken,
		})
	}

	for _, u := range users {
		// Verification gates eligibility entirely, whatever the flags say.
		if !u.Active || !u.EmailVerified {
			continue
		}
		pref, ok := prefs[u.ID]
		if !ok {
			pref = model.DefaultPreference(u.ID)
		}
		if !pref.AllowsTopic(topic) {
			continue
		}

		email := model.NormalizeEmail(u.Email)
		if i, seen := index[email]; seen {
			if recipients[i].UserID == "" {
				recipients[i].UserID = u.ID
			}
			continue
		}
		index[email] = len(recipients)
		recipients = append(recipients, model.Recipient{
			Email:          email,
			UserID:         u.ID,
			PreferencesURL: rr.preferencesURL,
		})
	}

	rr.logger.Debugf("Resolved %d recipients for topic=%s (%d subscriptions, %d users)",
		len(recipients), topic, len(subs), len(users))

	return recipients, nil
}

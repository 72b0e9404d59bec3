package courier

import (
	"context"
	"time"

	"github.com/coregx/courier/model"
)

// MessageFilter represents admin query options for messages.
// Used by MessageRepository.List and MessageRepository.Count.
type MessageFilter struct {
	Query    string              // Substring match on to_email, subject or template_key (empty = no filter)
	Status   model.MessageStatus // Exact status (empty = no filter)
	Topic    model.Topic         // Exact topic (empty = no filter)
	Page     int                 // 1-based page
	PageSize int                 // Rows per page
}

// Offset returns the row offset of the filter's page.
func (f MessageFilter) Offset() int {
	if f.Page <= 1 {
		return 0
	}
	return (f.Page - 1) * f.PageSize
}

// MessageRepository defines the persistence interface for outbound messages.
// Messages are never hard-deleted.
//
// Implementations must be safe for concurrent use and must enforce a unique
// index on idempotency_key.
type MessageRepository interface {
	// Load retrieves a message by ID.
	// Returns ErrNoData if not found.
	Load(ctx context.Context, id string) (model.Message, error)

	// Insert stores a new message.
	// Returns ErrDuplicateKey if the idempotency key is already taken.
	Insert(ctx context.Context, m model.Message) (model.Message, error)

	// Save updates an existing message.
	Save(ctx context.Context, m model.Message) (model.Message, error)

	// FindByIdempotencyKey retrieves the message owning key.
	// Returns ErrNoData if not found.
	FindByIdempotencyKey(ctx context.Context, key string) (model.Message, error)

	// FindByProviderMessageID retrieves the message the provider knows as providerMessageID.
	// Returns ErrNoData if not found.
	FindByProviderMessageID(ctx context.Context, providerMessageID string) (model.Message, error)

	// ClaimForRetry moves a failed message back to queued, increments attempts
	// and clears the error, but only while the row is still failed with the
	// given attempt count. Returns false when another caller won the race.
	ClaimForRetry(ctx context.Context, id string, attempts int) (bool, error)

	// UpdateStatus sets the status (and backfilled sentAt) of a message.
	UpdateStatus(ctx context.Context, id string, status model.MessageStatus, sentAt *time.Time) error

	// List retrieves one page of messages matching the filter.
	// Results are ordered by created_at DESC (newest first).
	List(ctx context.Context, filter MessageFilter) ([]model.Message, error)

	// Count returns the number of messages matching the filter, ignoring paging.
	Count(ctx context.Context, filter MessageFilter) (int64, error)
}

// EventRepository defines the persistence interface for provider delivery events.
// Events are immutable once created.
type EventRepository interface {
	// Insert stores a new event.
	// Returns ErrDuplicateKey if provider_event_id already exists.
	Insert(ctx context.Context, e model.Event) (model.Event, error)

	// FindByProviderEventID retrieves an event by the provider's event id.
	// Returns ErrNoData if not found.
	FindByProviderEventID(ctx context.Context, providerEventID string) (model.Event, error)

	// FindByMessageID retrieves all events correlated with a message.
	// Results are ordered by occurred_at ASC. Returns empty slice if none found.
	FindByMessageID(ctx context.Context, messageID string) ([]model.Event, error)
}

// SubscriptionRepository defines the persistence interface for email-level topic subscriptions.
// Implementations must enforce unique (email, topic) and unique unsubscribe_token.
type SubscriptionRepository interface {
	// FindByEmailTopic retrieves the subscription of a normalized email for a topic.
	// Returns ErrNoData if not found.
	FindByEmailTopic(ctx context.Context, email string, topic model.Topic) (model.Subscription, error)

	// FindByToken retrieves a subscription by its unsubscribe token.
	// Returns ErrNoData if not found.
	FindByToken(ctx context.Context, token string) (model.Subscription, error)

	// Insert stores a new subscription.
	// Returns ErrDuplicateKey if (email, topic) or the token already exists.
	Insert(ctx context.Context, s model.Subscription) (model.Subscription, error)

	// Save updates an existing subscription.
	Save(ctx context.Context, s model.Subscription) (model.Subscription, error)

	// UnsubscribeByToken atomically flips the row owning token to unsubscribed
	// and stamps unsubscribed_at. Returns false when no row matched.
	UnsubscribeByToken(ctx context.Context, token string, at time.Time) (bool, error)

	// FindSubscribed retrieves all subscribed rows for a topic.
	// Returns empty slice if none found.
	FindSubscribed(ctx context.Context, topic model.Topic) ([]model.Subscription, error)
}

// PreferenceRepository defines the persistence interface for per-user consent flags.
// Implementations must enforce a unique index on user_id.
type PreferenceRepository interface {
	// FindByUserID retrieves the preference row of a user.
	// Returns ErrNoData if not found.
	FindByUserID(ctx context.Context, userID string) (model.Preference, error)

	// FindByUserIDs retrieves the preference rows of many users, keyed by user id.
	// Users without a row are absent from the map.
	FindByUserIDs(ctx context.Context, userIDs []string) (map[string]model.Preference, error)

	// Insert stores a new preference row.
	// Returns ErrDuplicateKey if the user already has one.
	Insert(ctx context.Context, p model.Preference) (model.Preference, error)

	// Save updates an existing preference row.
	Save(ctx context.Context, p model.Preference) (model.Preference, error)
}

// UserDirectory reads accounts owned by the host application.
type UserDirectory interface {
	// ListActiveVerified returns every active user with a verified email.
	ListActiveVerified(ctx context.Context) ([]model.User, error)
}

// Transactor runs fn so that every repository call made with the ctx it
// receives commits or rolls back together. Returning an error from fn rolls
// back. Repositories not bound to the Transactor ignore it.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

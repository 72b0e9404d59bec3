package relica

import (
	"context"
	"database/sql"
	"time"

	"github.com/coregx/courier"
	"github.com/coregx/courier/model"
	"github.com/coregx/relica"
)

// SubscriptionRepository implements courier.SubscriptionRepository using Relica.
type SubscriptionRepository struct {
	db          *relica.DB
	tablePrefix string
}

// NewSubscriptionRepository creates a new SubscriptionRepository with default table prefix.
func NewSubscriptionRepository(sqlDB *sql.DB, driverName string) *SubscriptionRepository {
	return &SubscriptionRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: defaultPrefix}
}

// NewSubscriptionRepositoryWithPrefix creates a new SubscriptionRepository with custom table prefix.
func NewSubscriptionRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *SubscriptionRepository {
	return &SubscriptionRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: prefix}
}

func (r *SubscriptionRepository) tableName() string {
	return r.tablePrefix + "subscription"
}

// FindByEmailTopic retrieves the subscription of an (email, topic) pair.
func (r *SubscriptionRepository) FindByEmailTopic(ctx context.Context, email string, topic model.Topic) (model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("email = ? AND topic = ?", email, topic).
		One(&sub)
	if err != nil {
		return sub, queryError("failed to find subscription", err)
	}
	return sub, nil
}

// FindByToken retrieves the subscription owning an unsubscribe token.
func (r *SubscriptionRepository) FindByToken(ctx context.Context, token string) (model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).Select("*").From(r.tableName()).Where("unsubscribe_token = ?", token).One(&sub)
	if err != nil {
		return sub, queryError("failed to find subscription by token", err)
	}
	return sub, nil
}

// Insert creates a subscription. Returns courier.ErrDuplicateKey when the
// (email, topic) pair or the token already exists.
func (r *SubscriptionRepository) Insert(ctx context.Context, s model.Subscription) (model.Subscription, error) {
	err := r.db.WithContext(ctx).Model(&s).Table(r.tableName()).Insert()
	if err != nil {
		return s, insertError("failed to insert subscription", err)
	}
	return s, nil
}

// Save updates an existing subscription.
func (r *SubscriptionRepository) Save(ctx context.Context, s model.Subscription) (model.Subscription, error) {
	s.UpdatedAt = time.Now().UTC()
	err := r.db.WithContext(ctx).Model(&s).Table(r.tableName()).Update()
	if err != nil {
		return s, courier.NewErrorWithCause(courier.ErrCodeDatabase, "failed to update subscription", err)
	}
	return s, nil
}

// UnsubscribeByToken flips the subscription owning token in one conditional
// UPDATE. An already unsubscribed row still matches; its unsubscribed_at is kept.
func (r *SubscriptionRepository) UnsubscribeByToken(ctx context.Context, token string, at time.Time) (bool, error) {
	res, err := r.db.WithContext(ctx).Update(r.tableName()).
		Set(map[string]interface{}{
			"status":          model.SubscriptionUnsubscribed,
			"unsubscribed_at": at.UTC(),
			"updated_at":      at.UTC(),
		}).
		Where("unsubscribe_token = ? AND status = ?", token, model.SubscriptionSubscribed).
		Execute()
	if err != nil {
		return false, courier.NewErrorWithCause(courier.ErrCodeDatabase, "failed to unsubscribe", err)
	}
	flipped, err := rowsAffected(res)
	if err != nil {
		return false, courier.NewErrorWithCause(courier.ErrCodeDatabase, "failed to read unsubscribe result", err)
	}
	if flipped {
		return true, nil
	}

	_, err = r.FindByToken(ctx, token)
	if courier.IsNoData(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// FindSubscribed retrieves every subscribed row of a topic.
func (r *SubscriptionRepository) FindSubscribed(ctx context.Context, topic model.Topic) ([]model.Subscription, error) {
	var subs []model.Subscription
	err := r.db.WithContext(ctx).Select("*").
		From(r.tableName()).
		Where("topic = ? AND status = ?", topic, model.SubscriptionSubscribed).
		OrderBy("created_at ASC").
		All(&subs)
	if err != nil {
		return nil, courier.NewErrorWithCause(courier.ErrCodeDatabase, "failed to find subscribed rows", err)
	}
	if len(subs) == 0 {
		return nil, courier.ErrNoData
	}
	return subs, nil
}

package memory

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/coregx/courier"
	"github.com/coregx/courier/model"
)

// SubscriptionRepository implements courier.SubscriptionRepository in memory.
type SubscriptionRepository struct {
	mu   sync.RWMutex
	rows map[string]model.Subscription
}

// NewSubscriptionRepository creates an empty repository.
func NewSubscriptionRepository() *SubscriptionRepository {
	return &SubscriptionRepository{rows: make(map[string]model.Subscription)}
}

// FindByEmailTopic retrieves the subscription of an email for a topic.
func (r *SubscriptionRepository) FindByEmailTopic(_ context.Context, email string, topic model.Topic) (model.Subscription, error) {
	return r.findFirst(func(s model.Subscription) bool { return s.Email == email && s.Topic == topic })
}

// FindByToken retrieves a subscription by its unsubscribe token.
func (r *SubscriptionRepository) FindByToken(_ context.Context, token string) (model.Subscription, error) {
	return r.findFirst(func(s model.Subscription) bool { return s.UnsubscribeToken == token })
}

// Insert stores a new subscription, enforcing unique (email, topic) and token.
func (r *SubscriptionRepository) Insert(_ context.Context, s model.Subscription) (model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, row := range r.rows {
		if row.ID == s.ID || (row.Email == s.Email && row.Topic == s.Topic) || row.UnsubscribeToken == s.UnsubscribeToken {
			return s, courier.ErrDuplicateKey
		}
	}
	r.rows[s.ID] = s
	return s, nil
}

// Save updates an existing subscription.
func (r *SubscriptionRepository) Save(_ context.Context, s model.Subscription) (model.Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rows[s.ID]; !ok {
		return s, courier.ErrNoData
	}
	r.rows[s.ID] = s
	return s, nil
}

// UnsubscribeByToken flips the row owning token to unsubscribed.
func (r *SubscriptionRepository) UnsubscribeByToken(_ context.Context, token string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range r.rows {
		if s.UnsubscribeToken != token {
			continue
		}
		if !s.IsSubscribed() {
			return true, nil
		}
		s.Status = model.SubscriptionUnsubscribed
		s.UnsubscribedAt = sql.NullTime{Time: at, Valid: true}
		s.UpdatedAt = at
		r.rows[id] = s
		return true, nil
	}
	return false, nil
}

// FindSubscribed retrieves all subscribed rows for a topic, oldest first.
func (r *SubscriptionRepository) FindSubscribed(_ context.Context, topic model.Topic) ([]model.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []model.Subscription{}
	for _, s := range r.rows {
		if s.Topic == topic && s.Status == model.SubscriptionSubscribed {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Len returns the number of stored subscriptions.
func (r *SubscriptionRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}

func (r *SubscriptionRepository) findFirst(match func(model.Subscription) bool) (model.Subscription, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.rows {
		if match(s) {
			return s, nil
		}
	}
	return model.Subscription{}, courier.ErrNoData
}

package model

import (
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus is the consent state of an address for one topic.
type SubscriptionStatus string

const (
	SubscriptionSubscribed   SubscriptionStatus = "subscribed"
	SubscriptionUnsubscribed SubscriptionStatus = "unsubscribed"
)

// unsubscribeTokenBytes is the amount of entropy in an unsubscribe token.
const unsubscribeTokenBytes = 32

// Subscription is an email-address-level opt-in to a topic, independent of
// user accounts. It is how anonymous visitors subscribe to the blog or press.
//
// Each subscription:
//   - Is unique per (email, topic), email stored lower-cased
//   - Owns a stable unsubscribe token that survives resubscription
//   - Has UnsubscribedAt set exactly when the status is unsubscribed
//
// Subscriptions are never deleted; unsubscribing flips the status.
type Subscription struct {
	ID               string             `json:"id" db:"id"`
	Email            string             `json:"email" db:"email"`
	Topic            Topic              `json:"topic" db:"topic"`
	Status           SubscriptionStatus `json:"status" db:"status"`
	UnsubscribeToken string             `json:"-" db:"unsubscribe_token"`
	UnsubscribedAt   sql.NullTime       `json:"unsubscribedAt" db:"unsubscribed_at"`
	Source           string             `json:"source" db:"source"` // Free-form origin, e.g. "blog-footer"
	UserID           sql.NullString     `json:"userId" db:"user_id"`
	CreatedAt        time.Time          `json:"createdAt" db:"created_at"`
	UpdatedAt        time.Time          `json:"updatedAt" db:"updated_at"`
}

// TableName returns the database table name for Subscription.
func (s Subscription) TableName() string {
	return tablePrefix + "subscription"
}

// NewSubscription creates a subscribed row with a fresh unsubscribe token.
func NewSubscription(email string, topic Topic, source, userID string) (Subscription, error) {
	token, err := NewUnsubscribeToken()
	if err != nil {
		return Subscription{}, err
	}
	now := time.Now().UTC()
	return Subscription{
		ID:               uuid.NewString(),
		Email:            NormalizeEmail(email),
		Topic:            topic,
		Status:           SubscriptionSubscribed,
		UnsubscribeToken: token,
		Source:           source,
		UserID:           nullString(userID),
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

// Resubscribe flips the row back to subscribed. The token is kept so links
// in previously sent emails keep working.
func (s *Subscription) Resubscribe(source, userID string) {
	s.Status = SubscriptionSubscribed
	s.UnsubscribedAt = sql.NullTime{}
	if source != "" {
		s.Source = source
	}
	if userID != "" {
		s.UserID = nullString(userID)
	}
	s.UpdatedAt = time.Now().UTC()
}

// Unsubscribe flips the row to unsubscribed and stamps UnsubscribedAt.
func (s *Subscription) Unsubscribe() {
	now := time.Now().UTC()
	s.Status = SubscriptionUnsubscribed
	s.UnsubscribedAt = sql.NullTime{Time: now, Valid: true}
	s.UpdatedAt = now
}

// IsSubscribed reports whether the address currently receives the topic.
func (s *Subscription) IsSubscribed() bool {
	return s.Status == SubscriptionSubscribed
}

// NewUnsubscribeToken returns a URL-safe random token.
func NewUnsubscribeToken() (string, error) {
	b := make([]byte, unsubscribeTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate unsubscribe token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

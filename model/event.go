package model

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// EventType is the normalized kind of a provider delivery callback.
type EventType string

const (
	EventSent            EventType = "sent"
	EventDelivered       EventType = "delivered"
	EventBounced         EventType = "bounced"
	EventOpened          EventType = "opened"
	EventClicked         EventType = "clicked"
	EventComplained      EventType = "complained"
	EventFailed          EventType = "failed"
	EventSuppressed      EventType = "suppressed"
	EventScheduled       EventType = "scheduled"
	EventDeliveryDelayed EventType = "delivery_delayed"
)

// EventTypes lists every known event type.
var EventTypes = []EventType{
	EventSent, EventDelivered, EventBounced, EventOpened, EventClicked,
	EventComplained, EventFailed, EventSuppressed, EventScheduled, EventDeliveryDelayed,
}

// IsValid reports whether t is a known event type.
func (t EventType) IsValid() bool {
	for _, known := range EventTypes {
		if t == known {
			return true
		}
	}
	return false
}

// MessageStatus returns the message status an event of this type moves to.
// Scheduled and delivery_delayed are informational and move nothing.
func (t EventType) MessageStatus() (MessageStatus, bool) {
	switch t {
	case EventSent:
		return StatusSent, true
	case EventDelivered:
		return StatusDelivered, true
	case EventBounced:
		return StatusBounced, true
	case EventOpened:
		return StatusOpened, true
	case EventClicked:
		return StatusClicked, true
	case EventComplained:
		return StatusComplained, true
	case EventFailed:
		return StatusFailed, true
	case EventSuppressed:
		return StatusSuppressed, true
	}
	return "", false
}

// Event is one normalized provider callback. Events are immutable once stored;
// ProviderEventID is the only deduplication key for replayed webhooks.
type Event struct {
	ID              string         `json:"id" db:"id"`
	ProviderEventID string         `json:"providerEventId" db:"provider_event_id"`
	MessageID       sql.NullString `json:"messageId" db:"message_id"` // Weak reference, null when uncorrelated
	Type            EventType      `json:"type" db:"type"`
	Email           string         `json:"email" db:"email"`
	OccurredAt      time.Time      `json:"occurredAt" db:"occurred_at"`
	Payload         string         `json:"payload" db:"payload"`
	CreatedAt       time.Time      `json:"createdAt" db:"created_at"`
}

// TableName returns the database table name for Event.
func (e Event) TableName() string {
	return tablePrefix + "event"
}

// NewEvent creates an event ready for insertion.
func NewEvent(providerEventID, messageID string, eventType EventType, email string, occurredAt time.Time, payload string) Event {
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}
	if payload == "" {
		payload = "{}"
	}
	return Event{
		ID:              uuid.NewString(),
		ProviderEventID: providerEventID,
		MessageID:       nullString(messageID),
		Type:            eventType,
		Email:           NormalizeEmail(email),
		OccurredAt:      occurredAt.UTC(),
		Payload:         payload,
		CreatedAt:       time.Now().UTC(),
	}
}

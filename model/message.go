package model

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// MessageStatus represents the lifecycle state of an outbound email.
type MessageStatus string

const (
	// StatusQueued is the initial state and the state a retried message returns to.
	StatusQueued MessageStatus = "queued"

	// StatusSent indicates the provider accepted the message.
	StatusSent MessageStatus = "sent"

	// StatusDelivered indicates the provider reported delivery to the mailbox.
	StatusDelivered MessageStatus = "delivered"

	// StatusOpened indicates the recipient opened the message.
	StatusOpened MessageStatus = "opened"

	// StatusClicked indicates the recipient clicked a tracked link.
	StatusClicked MessageStatus = "clicked"

	// StatusFailed indicates the send attempt failed. Only failed messages can be retried.
	StatusFailed MessageStatus = "failed"

	// StatusBounced indicates the receiving server rejected the message.
	StatusBounced MessageStatus = "bounced"

	// StatusComplained indicates the recipient marked the message as spam.
	StatusComplained MessageStatus = "complained"

	// StatusSuppressed indicates the provider refused to send to a suppressed address.
	StatusSuppressed MessageStatus = "suppressed"
)

// MessageStatuses lists every known status.
var MessageStatuses = []MessageStatus{
	StatusQueued, StatusSent, StatusDelivered, StatusOpened, StatusClicked,
	StatusFailed, StatusBounced, StatusComplained, StatusSuppressed,
}

// IsValid reports whether s is a known status.
func (s MessageStatus) IsValid() bool {
	for _, known := range MessageStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// ReachedSent reports whether s implies the provider accepted the message.
func (s MessageStatus) ReachedSent() bool {
	switch s {
	case StatusSent, StatusDelivered, StatusOpened, StatusClicked, StatusBounced, StatusComplained:
		return true
	}
	return false
}

// MessageType classifies why a message is sent.
type MessageType string

const (
	MessageTypeTransactional MessageType = "transactional"
	MessageTypeEditorial     MessageType = "editorial"
	MessageTypeSystem        MessageType = "system"
)

// IsValid reports whether t is a known message type.
func (t MessageType) IsValid() bool {
	switch t {
	case MessageTypeTransactional, MessageTypeEditorial, MessageTypeSystem:
		return true
	}
	return false
}

// Message is one attempted or completed email send.
//
// The rendered content is snapshotted at send time so historical messages stay
// inspectable after templates change, and so a retry resends exactly what was
// rendered originally. Messages are never hard-deleted; they are the audit trail.
//
// Lifecycle:
//  1. Created by the dispatch pipeline with status=queued, attempts=0
//  2. Send attempt → MarkSent (provider id recorded) or MarkFailed (error recorded)
//  3. Provider callbacks move the status via ApplyStatus
//  4. Failed messages go back to queued through ResetForRetry (attempts+1)
type Message struct {
	ID                string         `json:"id" db:"id"`
	IdempotencyKey    sql.NullString `json:"idempotencyKey" db:"idempotency_key"`
	RequestHash       string         `json:"requestHash" db:"request_hash"` // Fingerprint of the dispatch request
	ToEmail           string         `json:"toEmail" db:"to_email"`
	ToUserID          sql.NullString `json:"toUserId" db:"to_user_id"` // Back-reference only, no ownership
	Provider          string         `json:"provider" db:"provider"`
	TemplateKey       string         `json:"templateKey" db:"template_key"`
	MessageType       MessageType    `json:"messageType" db:"message_type"`
	Topic             sql.NullString `json:"topic" db:"topic"`
	Subject           string         `json:"subject" db:"subject"`
	FromEmail         string         `json:"fromEmail" db:"from_email"`
	ReplyTo           string         `json:"replyTo" db:"reply_to"`
	HTML              string         `json:"html" db:"html"`
	TextBody          string         `json:"textBody" db:"text_body"`
	Status            MessageStatus  `json:"status" db:"status"`
	ProviderMessageID sql.NullString `json:"providerMessageId" db:"provider_message_id"`
	Attempts          int            `json:"attempts" db:"attempts"`
	ErrorMessage      sql.NullString `json:"errorMessage" db:"error_message"`
	ScheduledAt       sql.NullTime   `json:"scheduledAt" db:"scheduled_at"`
	SentAt            sql.NullTime   `json:"sentAt" db:"sent_at"`
	Payload           string         `json:"payload" db:"payload"`   // JSON render payload
	Metadata          string         `json:"metadata" db:"metadata"` // JSON audit metadata
	CreatedAt         time.Time      `json:"createdAt" db:"created_at"`
	UpdatedAt         time.Time      `json:"updatedAt" db:"updated_at"`
}

// TableName returns the database table name for Message.
func (m Message) TableName() string {
	return tablePrefix + "message"
}

// MessageParams holds everything needed to create a queued message.
type MessageParams struct {
	IdempotencyKey string
	RequestHash    string
	ToEmail        string
	ToUserID       string
	Provider       string
	TemplateKey    string
	MessageType    MessageType
	Topic          Topic
	Subject        string
	FromEmail      string
	ReplyTo        string
	HTML           string
	TextBody       string
	Payload        string
	Metadata       string
	ScheduledAt    *time.Time
}

// NewMessage creates a queued message with a fresh ID and zero attempts.
func NewMessage(p MessageParams) Message {
	now := time.Now().UTC()
	m := Message{
		ID:             uuid.NewString(),
		IdempotencyKey: nullString(p.IdempotencyKey),
		RequestHash:    p.RequestHash,
		ToEmail:        NormalizeEmail(p.ToEmail),
		ToUserID:       nullString(p.ToUserID),
		Provider:       p.Provider,
		TemplateKey:    p.TemplateKey,
		MessageType:    p.MessageType,
		Topic:          nullString(string(p.Topic)),
		Subject:        p.Subject,
		FromEmail:      p.FromEmail,
		ReplyTo:        p.ReplyTo,
		HTML:           p.HTML,
		TextBody:       p.TextBody,
		Status:         StatusQueued,
		Attempts:       0,
		Payload:        p.Payload,
		Metadata:       p.Metadata,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if m.MessageType == "" {
		m.MessageType = MessageTypeTransactional
	}
	if m.Payload == "" {
		m.Payload = "{}"
	}
	if m.Metadata == "" {
		m.Metadata = "{}"
	}
	if p.ScheduledAt != nil {
		m.ScheduledAt = sql.NullTime{Time: p.ScheduledAt.UTC(), Valid: true}
	}
	return m
}

// MarkSent records a successful send attempt. The error from any previous
// attempt is cleared.
func (m *Message) MarkSent(providerMessageID string) {
	now := time.Now().UTC()
	m.Status = StatusSent
	m.ProviderMessageID = nullString(providerMessageID)
	m.ErrorMessage = sql.NullString{}
	m.SentAt = sql.NullTime{Time: now, Valid: true}
	m.UpdatedAt = now
}

// MarkFailed records a failed send attempt. Attempts are not touched: the
// counter only moves when an operator retries.
func (m *Message) MarkFailed(errorMessage string) {
	m.Status = StatusFailed
	m.ErrorMessage = sql.NullString{String: errorMessage, Valid: true}
	m.UpdatedAt = time.Now().UTC()
}

// ResetForRetry moves a failed message back to queued, bumps the attempt
// counter and clears the previous error.
func (m *Message) ResetForRetry() {
	m.Status = StatusQueued
	m.Attempts++
	m.ErrorMessage = sql.NullString{}
	m.SentAt = sql.NullTime{}
	m.UpdatedAt = time.Now().UTC()
}

// ApplyStatus sets the status reported by a provider callback.
// SentAt is backfilled with at when the new status implies the message was sent.
func (m *Message) ApplyStatus(status MessageStatus, at time.Time) {
	m.Status = status
	if status.ReachedSent() && !m.SentAt.Valid {
		m.SentAt = sql.NullTime{Time: at.UTC(), Valid: true}
	}
	m.UpdatedAt = time.Now().UTC()
}

// IsRetryable reports whether an operator retry may pick up this message.
func (m *Message) IsRetryable() bool {
	return m.Status == StatusFailed
}

// TopicValue returns the message topic, or "" when none was set.
func (m *Message) TopicValue() Topic {
	if !m.Topic.Valid {
		return ""
	}
	return Topic(m.Topic.String)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

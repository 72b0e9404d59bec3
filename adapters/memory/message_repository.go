package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coregx/courier"
	"github.com/coregx/courier/model"
)

// MessageRepository implements courier.MessageRepository in memory.
type MessageRepository struct {
	mu   sync.RWMutex
	rows map[string]model.Message
}

// NewMessageRepository creates an empty repository.
func NewMessageRepository() *MessageRepository {
	return &MessageRepository{rows: make(map[string]model.Message)}
}

// Load retrieves a message by ID.
func (r *MessageRepository) Load(_ context.Context, id string) (model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.rows[id]
	if !ok {
		return model.Message{}, courier.ErrNoData
	}
	return m, nil
}

// Insert stores a new message, enforcing the unique idempotency key.
func (r *MessageRepository) Insert(_ context.Context, m model.Message) (model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rows[m.ID]; ok {
		return m, courier.ErrDuplicateKey
	}
	if m.IdempotencyKey.Valid {
		for _, row := range r.rows {
			if row.IdempotencyKey.Valid && row.IdempotencyKey.String == m.IdempotencyKey.String {
				return m, courier.ErrDuplicateKey
			}
		}
	}
	r.rows[m.ID] = m
	return m, nil
}

// Save updates an existing message.
func (r *MessageRepository) Save(_ context.Context, m model.Message) (model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rows[m.ID]; !ok {
		return m, courier.ErrNoData
	}
	m.UpdatedAt = time.Now().UTC()
	r.rows[m.ID] = m
	return m, nil
}

// FindByIdempotencyKey retrieves the message owning key.
func (r *MessageRepository) FindByIdempotencyKey(_ context.Context, key string) (model.Message, error) {
	return r.findFirst(func(m model.Message) bool {
		return m.IdempotencyKey.Valid && m.IdempotencyKey.String == key
	})
}

// FindByProviderMessageID retrieves the message the provider knows as providerMessageID.
func (r *MessageRepository) FindByProviderMessageID(_ context.Context, providerMessageID string) (model.Message, error) {
	return r.findFirst(func(m model.Message) bool {
		return m.ProviderMessageID.Valid && m.ProviderMessageID.String == providerMessageID
	})
}

// ClaimForRetry moves a failed message with the given attempt count back to queued.
func (r *MessageRepository) ClaimForRetry(_ context.Context, id string, attempts int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.rows[id]
	if !ok || m.Status != model.StatusFailed || m.Attempts != attempts {
		return false, nil
	}
	m.ResetForRetry()
	r.rows[id] = m
	return true, nil
}

// UpdateStatus sets the status and sent_at of a message.
func (r *MessageRepository) UpdateStatus(_ context.Context, id string, status model.MessageStatus, sentAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.rows[id]
	if !ok {
		return courier.ErrNoData
	}
	m.Status = status
	if sentAt != nil {
		m.SentAt.Time, m.SentAt.Valid = *sentAt, true
	}
	m.UpdatedAt = time.Now().UTC()
	r.rows[id] = m
	return nil
}

// List retrieves one page of messages matching the filter, newest first.
func (r *MessageRepository) List(_ context.Context, filter courier.MessageFilter) ([]model.Message, error) {
	matched := r.filter(filter)

	start := filter.Offset()
	if start >= len(matched) {
		return []model.Message{}, nil
	}
	end := len(matched)
	if filter.PageSize > 0 && start+filter.PageSize < end {
		end = start + filter.PageSize
	}
	return matched[start:end], nil
}

// Count returns the number of messages matching the filter.
func (r *MessageRepository) Count(_ context.Context, filter courier.MessageFilter) (int64, error) {
	return int64(len(r.filter(filter))), nil
}

func (r *MessageRepository) filter(f courier.MessageFilter) []model.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()

	q := strings.ToLower(strings.TrimSpace(f.Query))
	out := make([]model.Message, 0, len(r.rows))
	for _, m := range r.rows {
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		if f.Topic != "" && m.TopicValue() != f.Topic {
			continue
		}
		if q != "" &&
			!strings.Contains(strings.ToLower(m.ToEmail), q) &&
			!strings.Contains(strings.ToLower(m.Subject), q) &&
			!strings.Contains(strings.ToLower(m.TemplateKey), q) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (r *MessageRepository) findFirst(match func(model.Message) bool) (model.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, m := range r.rows {
		if match(m) {
			return m, nil
		}
	}
	return model.Message{}, courier.ErrNoData
}

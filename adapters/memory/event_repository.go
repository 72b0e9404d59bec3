package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/coregx/courier"
	"github.com/coregx/courier/model"
)

// EventRepository implements courier.EventRepository in memory.
type EventRepository struct {
	mu         sync.RWMutex
	rows       []model.Event
	byProvider map[string]int
}

// NewEventRepository creates an empty repository.
func NewEventRepository() *EventRepository {
	return &EventRepository{byProvider: make(map[string]int)}
}

// Insert stores a new event, enforcing the unique provider event id.
func (r *EventRepository) Insert(_ context.Context, e model.Event) (model.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byProvider[e.ProviderEventID]; ok {
		return e, courier.ErrDuplicateKey
	}
	r.byProvider[e.ProviderEventID] = len(r.rows)
	r.rows = append(r.rows, e)
	return e, nil
}

// FindByProviderEventID retrieves an event by the provider's event id.
func (r *EventRepository) FindByProviderEventID(_ context.Context, providerEventID string) (model.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.byProvider[providerEventID]
	if !ok {
		return model.Event{}, courier.ErrNoData
	}
	return r.rows[i], nil
}

// FindByMessageID retrieves all events of a message, oldest first.
func (r *EventRepository) FindByMessageID(_ context.Context, messageID string) ([]model.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := []model.Event{}
	for _, e := range r.rows {
		if e.MessageID.Valid && e.MessageID.String == messageID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].OccurredAt.Before(out[j].OccurredAt) })
	return out, nil
}

// Len returns the number of stored events.
func (r *EventRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}

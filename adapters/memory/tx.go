package memory

import (
	"context"

	"github.com/coregx/courier"
	"github.com/coregx/courier/model"
)

var _ courier.Transactor = (*Repositories)(nil)

// InTx implements courier.Transactor for the message and event repositories.
// A failed fn restores both to their state before the call. It is not
// isolated from concurrent writers.
func (r *Repositories) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	messages := r.Message.snapshot()
	events := r.Event.snapshot()

	if err := fn(ctx); err != nil {
		r.Message.restore(messages)
		r.Event.restore(events)
		return err
	}
	return nil
}

func (r *MessageRepository) snapshot() map[string]model.Message {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows := make(map[string]model.Message, len(r.rows))
	for id, m := range r.rows {
		rows[id] = m
	}
	return rows
}

func (r *MessageRepository) restore(rows map[string]model.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = rows
}

type eventSnapshot struct {
	rows       []model.Event
	byProvider map[string]int
}

func (r *EventRepository) snapshot() eventSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := eventSnapshot{
		rows:       append([]model.Event(nil), r.rows...),
		byProvider: make(map[string]int, len(r.byProvider)),
	}
	for k, v := range r.byProvider {
		s.byProvider[k] = v
	}
	return s
}

func (r *EventRepository) restore(s eventSnapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = s.rows
	r.byProvider = s.byProvider
}

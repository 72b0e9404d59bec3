package relica

import (
	"context"
	"database/sql"

	"github.com/coregx/courier/model"
	"github.com/coregx/relica"
)

// EventRepository implements courier.EventRepository using Relica.
type EventRepository struct {
	db          *relica.DB
	tablePrefix string
}

// NewEventRepository creates a new EventRepository with default table prefix.
func NewEventRepository(sqlDB *sql.DB, driverName string) *EventRepository {
	return &EventRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: defaultPrefix}
}

// NewEventRepositoryWithPrefix creates a new EventRepository with custom table prefix.
func NewEventRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *EventRepository {
	return &EventRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: prefix}
}

func (r *EventRepository) tableName() string {
	return r.tablePrefix + "event"
}

// Insert stores an event. A replayed provider_event_id returns courier.ErrDuplicateKey.
func (r *EventRepository) Insert(ctx context.Context, e model.Event) (model.Event, error) {
	err := querier(ctx, r.db).Model(&e).Table(r.tableName()).Insert()
	if err != nil {
		return e, insertError("failed to insert event", err)
	}
	return e, nil
}

// FindByProviderEventID retrieves an event by the provider's id.
func (r *EventRepository) FindByProviderEventID(ctx context.Context, providerEventID string) (model.Event, error) {
	var e model.Event
	err := querier(ctx, r.db).Select("*").From(r.tableName()).Where("provider_event_id = ?", providerEventID).One(&e)
	if err != nil {
		return e, queryError("failed to find event", err)
	}
	return e, nil
}

// FindByMessageID retrieves the events of a message, oldest first.
func (r *EventRepository) FindByMessageID(ctx context.Context, messageID string) ([]model.Event, error) {
	var events []model.Event
	err := querier(ctx, r.db).Select("*").
		From(r.tableName()).
		Where("message_id = ?", messageID).
		OrderBy("occurred_at ASC").
		All(&events)
	if err != nil {
		return nil, queryError("failed to find events by message", err)
	}
	return events, nil
}

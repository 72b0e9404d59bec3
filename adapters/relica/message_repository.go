package relica

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/coregx/courier"
	"github.com/coregx/courier/model"
	"github.com/coregx/relica"
)

// MessageRepository implements courier.MessageRepository using Relica.
type MessageRepository struct {
	db          *relica.DB
	tablePrefix string
}

// NewMessageRepository creates a new MessageRepository with default table prefix.
func NewMessageRepository(sqlDB *sql.DB, driverName string) *MessageRepository {
	return &MessageRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: defaultPrefix}
}

// NewMessageRepositoryWithPrefix creates a new MessageRepository with custom table prefix.
func NewMessageRepositoryWithPrefix(sqlDB *sql.DB, driverName, prefix string) *MessageRepository {
	return &MessageRepository{db: relica.WrapDB(sqlDB, driverName), tablePrefix: prefix}
}

func (r *MessageRepository) tableName() string {
	return r.tablePrefix + "message"
}

// Load retrieves a message by ID.
func (r *MessageRepository) Load(ctx context.Context, id string) (model.Message, error) {
	var msg model.Message
	err := querier(ctx, r.db).Select("*").From(r.tableName()).Where("id = ?", id).One(&msg)
	if err != nil {
		return msg, queryError("failed to load message", err)
	}
	return msg, nil
}

// Insert creates a message. The unique index on idempotency_key turns a
// concurrent duplicate into courier.ErrDuplicateKey.
func (r *MessageRepository) Insert(ctx context.Context, m model.Message) (model.Message, error) {
	err := querier(ctx, r.db).Model(&m).Table(r.tableName()).Insert()
	if err != nil {
		return m, insertError("failed to insert message", err)
	}
	return m, nil
}

// Save updates every column of an existing message.
func (r *MessageRepository) Save(ctx context.Context, m model.Message) (model.Message, error) {
	m.UpdatedAt = time.Now().UTC()
	err := querier(ctx, r.db).Model(&m).Table(r.tableName()).Update()
	if err != nil {
		return m, courier.NewErrorWithCause(courier.ErrCodeDatabase, "failed to update message", err)
	}
	return m, nil
}

// FindByIdempotencyKey retrieves the message created with key.
func (r *MessageRepository) FindByIdempotencyKey(ctx context.Context, key string) (model.Message, error) {
	var msg model.Message
	err := querier(ctx, r.db).Select("*").From(r.tableName()).Where("idempotency_key = ?", key).One(&msg)
	if err != nil {
		return msg, queryError("failed to find message by idempotency key", err)
	}
	return msg, nil
}

// FindByProviderMessageID retrieves the message the provider knows as providerMessageID.
func (r *MessageRepository) FindByProviderMessageID(ctx context.Context, providerMessageID string) (model.Message, error) {
	var msg model.Message
	err := querier(ctx, r.db).Select("*").
		From(r.tableName()).
		Where("provider_message_id = ?", providerMessageID).
		OrderBy("created_at DESC").
		Limit(1).
		One(&msg)
	if err != nil {
		return msg, queryError("failed to find message by provider id", err)
	}
	return msg, nil
}

// ClaimForRetry moves a failed message back to queued in one conditional
// UPDATE. Only the caller whose attempts value still matches wins.
func (r *MessageRepository) ClaimForRetry(ctx context.Context, id string, attempts int) (bool, error) {
	res, err := querier(ctx, r.db).Update(r.tableName()).
		Set(map[string]interface{}{
			"status":        model.StatusQueued,
			"attempts":      attempts + 1,
			"error_message": nil,
			"sent_at":       nil,
			"updated_at":    time.Now().UTC(),
		}).
		Where("id = ? AND status = ? AND attempts = ?", id, model.StatusFailed, attempts).
		Execute()
	if err != nil {
		return false, courier.NewErrorWithCause(courier.ErrCodeDatabase, "failed to claim message for retry", err)
	}
	claimed, err := rowsAffected(res)
	if err != nil {
		return false, courier.NewErrorWithCause(courier.ErrCodeDatabase, "failed to read claim result", err)
	}
	return claimed, nil
}

// UpdateStatus sets the delivery status, and sent_at when given.
func (r *MessageRepository) UpdateStatus(ctx context.Context, id string, status model.MessageStatus, sentAt *time.Time) error {
	cols := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if sentAt != nil {
		cols["sent_at"] = sentAt.UTC()
	}

	_, err := querier(ctx, r.db).Update(r.tableName()).
		Set(cols).
		Where("id = ?", id).
		Execute()
	if err != nil {
		return courier.NewErrorWithCause(courier.ErrCodeDatabase, "failed to update message status", err)
	}
	return nil
}

// List retrieves one page of messages matching the filter, newest first.
func (r *MessageRepository) List(ctx context.Context, filter courier.MessageFilter) ([]model.Message, error) {
	var messages []model.Message

	q := querier(ctx, r.db).Select("*").From(r.tableName())
	if where, args := messageWhere(filter); where != "" {
		q = q.Where(where, args...)
	}
	err := q.OrderBy("created_at DESC").
		Limit(int64(filter.PageSize)).
		Offset(int64(filter.Offset())).
		All(&messages)
	if err != nil {
		return nil, courier.NewErrorWithCause(courier.ErrCodeDatabase, "failed to list messages", err)
	}
	return messages, nil
}

// Count returns the number of messages matching the filter.
func (r *MessageRepository) Count(ctx context.Context, filter courier.MessageFilter) (int64, error) {
	var count int64

	q := querier(ctx, r.db).Select("COUNT(*)").From(r.tableName())
	if where, args := messageWhere(filter); where != "" {
		q = q.Where(where, args...)
	}
	if err := q.One(&count); err != nil {
		return 0, courier.NewErrorWithCause(courier.ErrCodeDatabase, "failed to count messages", err)
	}
	return count, nil
}

// messageWhere builds the WHERE clause shared by List and Count.
// Query matches to_email, subject and template_key case-insensitively.
func messageWhere(f courier.MessageFilter) (string, []interface{}) {
	var (
		conds []string
		args  []interface{}
	)
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, f.Status)
	}
	if f.Topic != "" {
		conds = append(conds, "topic = ?")
		args = append(args, f.Topic)
	}
	if query := strings.ToLower(strings.TrimSpace(f.Query)); query != "" {
		like := "%" + query + "%"
		conds = append(conds, "(LOWER(to_email) LIKE ? OR LOWER(subject) LIKE ? OR LOWER(template_key) LIKE ?)")
		args = append(args, like, like, like)
	}
	return strings.Join(conds, " AND "), args
}

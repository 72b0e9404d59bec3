package courier

import (
	"context"
	"fmt"

	"github.com/coregx/courier/model"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Paging limits for ListMessages.
const (
	DefaultPageSize = 25
	MaxPageSize     = 100
)

// MessagePage is one page of the admin message list.
type MessagePage struct {
	Items    []model.Message `json:"items"`
	Total    int64           `json:"total"`
	Page     int             `json:"page"`
	PageSize int             `json:"pageSize"`
}

// MessageDetail is a message plus every provider event correlated with it.
type MessageDetail struct {
	Message model.Message `json:"message"`
	Events  []model.Event `json:"events"`
}

// AdminService is the operator-facing query and retry surface.
// Authorization is the caller's job.
type AdminService struct {
	messages   MessageRepository
	events     EventRepository
	dispatcher *Dispatcher
	resolver   *RecipientResolver
	logger     Logger
}

// AdminOption configures an AdminService.
type AdminOption func(*AdminService) error

// NewAdminService creates a new AdminService with the provided options.
//
// Required options:
//   - WithAdminRepositories: message and event repositories
//   - WithAdminDispatcher: dispatcher used for retries
//   - WithAdminLogger: logger instance
//
// Optional options:
//   - WithAdminResolver: enables recipient previews
func NewAdminService(opts ...AdminOption) (*AdminService, error) {
	as := &AdminService{}

	for _, opt := range opts {
		if err := opt(as); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply admin option", err)
		}
	}

	if as.messages == nil || as.events == nil {
		return nil, NewError(ErrCodeConfiguration, "MessageRepository and EventRepository are required (use WithAdminRepositories)")
	}
	if as.dispatcher == nil {
		return nil, NewError(ErrCodeConfiguration, "Dispatcher is required (use WithAdminDispatcher)")
	}
	if as.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithAdminLogger)")
	}

	return as, nil
}

// WithAdminRepositories sets the repositories the admin queries read.
func WithAdminRepositories(messages MessageRepository, events EventRepository) AdminOption {
	return func(as *AdminService) error {
		if messages == nil {
			return fmt.Errorf("message repository cannot be nil")
		}
		if events == nil {
			return fmt.Errorf("event repository cannot be nil")
		}
		as.messages = messages
		as.events = events
		return nil
	}
}

// WithAdminDispatcher sets the dispatcher used by Retry and BulkRetry.
func WithAdminDispatcher(dispatcher *Dispatcher) AdminOption {
	return func(as *AdminService) error {
		if dispatcher == nil {
			return fmt.Errorf("dispatcher cannot be nil")
		}
		as.dispatcher = dispatcher
		return nil
	}
}

// WithAdminResolver sets the resolver used by Recipients.
func WithAdminResolver(resolver *RecipientResolver) AdminOption {
	return func(as *AdminService) error {
		as.resolver = resolver
		return nil
	}
}

// WithAdminLogger sets the logger instance. Logger is required.
func WithAdminLogger(logger Logger) AdminOption {
	return func(as *AdminService) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		as.logger = logger
		return nil
	}
}

// normalizeFilter applies paging defaults and validates the filter.
func normalizeFilter(f MessageFilter) (MessageFilter, error) {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize <= 0 {
		f.PageSize = DefaultPageSize
	}
	if f.PageSize > MaxPageSize {
		f.PageSize = MaxPageSize
	}

	err := validation.ValidateStruct(&f,
		validation.Field(&f.Query, validation.Length(0, 254)),
		validation.Field(&f.Status, validation.In(statusValues()...)),
		validation.Field(&f.Topic, validation.In(topicValues(model.Topics)...)),
	)
	return f, validationError("invalid message filter", err)
}

// ListMessages returns one page of messages, newest first.
// Page defaults to 1 and PageSize to 25 (capped at 100).
func (as *AdminService) ListMessages(ctx context.Context, filter MessageFilter) (MessagePage, error) {
	filter, err := normalizeFilter(filter)
	if err != nil {
		return MessagePage{}, err
	}

	total, err := as.messages.Count(ctx, filter)
	if err != nil {
		return MessagePage{}, NewErrorWithCause(ErrCodeDatabase, "failed to count messages", err)
	}

	items := []model.Message{}
	if total > int64(filter.Offset()) {
		items, err = as.messages.List(ctx, filter)
		if err != nil && !IsNoData(err) {
			return MessagePage{}, NewErrorWithCause(ErrCodeDatabase, "failed to list messages", err)
		}
		if items == nil {
			items = []model.Message{}
		}
	}

	return MessagePage{
		Items:    items,
		Total:    total,
		Page:     filter.Page,
		PageSize: filter.PageSize,
	}, nil
}

// GetMessage returns a message with its events.
// Returns a NotFound error if the message does not exist.
func (as *AdminService) GetMessage(ctx context.Context, id string) (MessageDetail, error) {
	msg, err := as.messages.Load(ctx, id)
	if err != nil {
		if IsNoData(err) {
			return MessageDetail{}, NewErrorWithCause(ErrCodeNotFound, "message not found", err)
		}
		return MessageDetail{}, NewErrorWithCause(ErrCodeDatabase, "failed to load message", err)
	}

	events, err := as.events.FindByMessageID(ctx, id)
	if err != nil && !IsNoData(err) {
		return MessageDetail{}, NewErrorWithCause(ErrCodeDatabase, "failed to load events", err)
	}
	if events == nil {
		events = []model.Event{}
	}

	return MessageDetail{Message: msg, Events: events}, nil
}

// Retry resends one failed message. See Dispatcher.Retry.
func (as *AdminService) Retry(ctx context.Context, id string) (RetryResult, error) {
	return as.dispatcher.Retry(ctx, id)
}

// BulkRetry resends many messages. See Dispatcher.BulkRetry.
func (as *AdminService) BulkRetry(ctx context.Context, ids []string) (BulkRetryResult, error) {
	if len(ids) == 0 {
		return BulkRetryResult{}, NewError(ErrCodeValidation, "at least one message id is required")
	}
	if len(ids) > MaxPageSize {
		return BulkRetryResult{}, NewError(ErrCodeValidation, fmt.Sprintf("at most %d message ids per request", MaxPageSize))
	}
	return as.dispatcher.BulkRetry(ctx, ids), nil
}

// Recipients previews the resolved recipient list of an editorial topic.
func (as *AdminService) Recipients(ctx context.Context, topic model.Topic) ([]model.Recipient, error) {
	if as.resolver == nil {
		return nil, NewError(ErrCodeConfiguration, "recipient resolver is not configured")
	}
	return as.resolver.ResolveEditorialRecipients(ctx, topic)
}

func statusValues() []interface{} {
	out := make([]interface{}, len(model.MessageStatuses))
	for i, s := range model.MessageStatuses {
		out[i] = s
	}
	return out
}

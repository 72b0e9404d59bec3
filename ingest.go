package courier

import (
	"context"
	"fmt"
	"time"

	"github.com/coregx/courier/model"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// ProviderEvent is a delivery callback already mapped from provider JSON
// into the fixed event set (see webhook/resend).
type ProviderEvent struct {
	ProviderEventID   string          `json:"providerEventId"`
	Type              model.EventType `json:"type"`
	ProviderMessageID string          `json:"providerMessageId,omitempty"`
	Email             string          `json:"email,omitempty"`
	OccurredAt        time.Time       `json:"occurredAt"`
	Payload           model.Data      `json:"payload,omitempty"`
}

// Validate checks the event fields.
func (e ProviderEvent) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.ProviderEventID, validation.Required, validation.Length(1, 255)),
		validation.Field(&e.Type, validation.Required, validation.In(eventTypeValues()...)),
		validation.Field(&e.ProviderMessageID, validation.Length(0, 255)),
		validation.Field(&e.Email, is.EmailFormat),
	)
}

// IngestResult describes what a single ingestion did.
type IngestResult struct {
	EventID       string              `json:"eventId,omitempty"`
	MessageID     string              `json:"messageId,omitempty"`
	Duplicate     bool                `json:"duplicate"`     // providerEventId was already stored
	StatusApplied bool                `json:"statusApplied"` // message status moved
	Status        model.MessageStatus `json:"status,omitempty"`
}

// Ingester consumes normalized provider events.
type Ingester interface {
	Ingest(ctx context.Context, event ProviderEvent) (IngestResult, error)
}

// EventIngestor deduplicates provider events and advances message state.
//
// The event row is inserted first; the status transition only runs when the
// insert actually happened. A replayed webhook therefore never applies a
// transition twice, even though the state machine has no ordering guard.
type EventIngestor struct {
	events   EventRepository
	messages MessageRepository
	store    *MessageStore
	tx       Transactor
	logger   Logger
	notifier Notifier
	metrics  Metrics
}

// IngestorOption is a function that configures an EventIngestor.
type IngestorOption func(*EventIngestor) error

// NewEventIngestor creates a new EventIngestor with the provided options.
//
// Required options:
//   - WithIngestRepositories: event and message repositories
//   - WithIngestLogger: logger instance
//
// Optional options:
//   - WithIngestPolicy: status transition policy (default: PermissivePolicy)
//   - WithIngestTransactor: stores the event and its status change atomically
//   - WithIngestNotifier, WithIngestMetrics
func NewEventIngestor(opts ...IngestorOption) (*EventIngestor, error) {
	ei := &EventIngestor{
		notifier: &NoOpNotifier{},
		metrics:  NoopMetrics{},
	}

	for _, opt := range opts {
		if err := opt(ei); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply ingestor option", err)
		}
	}

	if ei.events == nil || ei.messages == nil {
		return nil, NewError(ErrCodeConfiguration, "EventRepository and MessageRepository are required (use WithIngestRepositories)")
	}
	if ei.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithIngestLogger)")
	}
	if ei.store == nil {
		ei.store = NewMessageStore(ei.messages, nil)
	}

	return ei, nil
}

// WithIngestRepositories sets the required repositories.
func WithIngestRepositories(events EventRepository, messages MessageRepository) IngestorOption {
	return func(ei *EventIngestor) error {
		if events == nil {
			return fmt.Errorf("event repository cannot be nil")
		}
		if messages == nil {
			return fmt.Errorf("message repository cannot be nil")
		}
		ei.events = events
		ei.messages = messages
		return nil
	}
}

// WithIngestPolicy sets the status transition policy.
// Must be applied after WithIngestRepositories.
func WithIngestPolicy(policy StatusTransitionPolicy) IngestorOption {
	return func(ei *EventIngestor) error {
		if policy == nil {
			return fmt.Errorf("policy cannot be nil")
		}
		if ei.messages == nil {
			return fmt.Errorf("WithIngestPolicy requires WithIngestRepositories first")
		}
		ei.store = NewMessageStore(ei.messages, policy)
		return nil
	}
}

// WithIngestTransactor makes the event insert and the status transition one
// unit of work. Without it a failed transition leaves the event stored, and
// the provider's redelivery is then dropped as a duplicate.
func WithIngestTransactor(tx Transactor) IngestorOption {
	return func(ei *EventIngestor) error {
		if tx == nil {
			return fmt.Errorf("transactor cannot be nil")
		}
		ei.tx = tx
		return nil
	}
}

// WithIngestLogger sets the logger instance. Logger is required.
func WithIngestLogger(logger Logger) IngestorOption {
	return func(ei *EventIngestor) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		ei.logger = logger
		return nil
	}
}

// WithIngestNotifier sets the notifier called for every newly stored event.
func WithIngestNotifier(notifier Notifier) IngestorOption {
	return func(ei *EventIngestor) error {
		if notifier == nil {
			return fmt.Errorf("notifier cannot be nil")
		}
		ei.notifier = notifier
		return nil
	}
}

// WithIngestMetrics sets the metrics sink.
func WithIngestMetrics(metrics Metrics) IngestorOption {
	return func(ei *EventIngestor) error {
		if metrics == nil {
			return fmt.Errorf("metrics cannot be nil")
		}
		ei.metrics = metrics
		return nil
	}
}

// Ingest stores a provider event and, unless it is a replay, applies the
// mapped status to the correlated message.
//
// Events that cannot be correlated to a message are still stored with a null
// message id. Scheduled and delivery_delayed events never move a status.
func (ei *EventIngestor) Ingest(ctx context.Context, event ProviderEvent) (IngestResult, error) {
	var result IngestResult

	if err := validationError("invalid provider event", event.Validate()); err != nil {
		return result, err
	}

	var messageID string
	if event.ProviderMessageID != "" {
		msg, err := ei.messages.FindByProviderMessageID(ctx, event.ProviderMessageID)
		switch {
		case err == nil:
			messageID = msg.ID
		case IsNoData(err):
			ei.logger.Debugf("Provider event %s has no matching message (provider_message_id=%s)",
				event.ProviderEventID, event.ProviderMessageID)
		default:
			return result, NewErrorWithCause(ErrCodeDatabase, "failed to correlate provider event", err)
		}
	}

	payload, err := model.EncodeData(event.Payload)
	if err != nil {
		return result, NewErrorWithCause(ErrCodeValidation, "event payload is not serializable", err)
	}

	status, moves := event.Type.MessageStatus()

	var (
		stored   model.Event
		inserted bool
		msg      model.Message
		applied  bool
	)
	err = ei.inTx(ctx, func(ctx context.Context) error {
		var err error
		stored, err = ei.events.Insert(ctx, model.NewEvent(
			event.ProviderEventID, messageID, event.Type, event.Email, event.OccurredAt, payload,
		))
		if err != nil {
			return err
		}
		inserted = true
		if !moves || messageID == "" {
			return nil
		}
		msg, applied, err = ei.store.UpdateStatusByProviderMessageID(ctx, event.ProviderMessageID, status, stored.OccurredAt)
		return err
	})
	switch {
	case err == nil:
	case IsDuplicateKey(err) && !inserted:
		ei.logger.Debugf("Duplicate provider event ignored: provider_event_id=%s", event.ProviderEventID)
		ei.metrics.EventIngested(string(event.Type), true)
		result.Duplicate = true
		result.MessageID = messageID
		return result, nil
	case !inserted:
		return result, NewErrorWithCause(ErrCodeDatabase, "failed to store provider event", err)
	default:
		ei.logger.Errorf("Provider event %s not stored, status transition failed: %v", event.ProviderEventID, err)
		return result, err
	}

	result.EventID = stored.ID
	result.MessageID = messageID
	ei.metrics.EventIngested(string(event.Type), false)
	notify(ei.logger, "EventIngested", func() error { return ei.notifier.EventIngested(ctx, stored) })

	if !moves || messageID == "" {
		return result, nil
	}
	result.StatusApplied = applied
	result.Status = msg.Status
	if applied {
		ei.logger.Debugf("Message %s moved to %s by provider event %s", msg.ID, status, event.ProviderEventID)
	} else {
		ei.logger.Infof("Transition %s -> %s rejected for message %s", msg.Status, status, msg.ID)
	}

	return result, nil
}

// inTx runs fn inside the configured Transactor, or directly without one.
func (ei *EventIngestor) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if ei.tx == nil {
		return fn(ctx)
	}
	return ei.tx.InTx(ctx, fn)
}

func eventTypeValues() []interface{} {
	out := make([]interface{}, len(model.EventTypes))
	for i, t := range model.EventTypes {
		out[i] = t
	}
	return out
}

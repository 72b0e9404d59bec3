package courier

import (
	"context"
	"sync"
	"time"

	"github.com/coregx/courier/model"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// DispatchMode selects whether the caller waits for the send attempt.
type DispatchMode string

const (
	// ModeSync runs the whole pipeline in the caller's goroutine and surfaces
	// ProviderError. The message row records the failure either way.
	ModeSync DispatchMode = "sync"

	// ModeFireAndForget returns immediately and runs the pipeline detached from
	// the caller's cancellation. Every failure becomes a logged warning.
	ModeFireAndForget DispatchMode = "fire_and_forget"
)

// DispatchRequest asks the pipeline to send one templated email.
type DispatchRequest struct {
	TemplateKey    string            `json:"templateKey"`
	To             string            `json:"to"`
	ToUserID       string            `json:"toUserId,omitempty"`
	Topic          model.Topic       `json:"topic,omitempty"`
	MessageType    model.MessageType `json:"messageType,omitempty"`
	IdempotencyKey string            `json:"idempotencyKey,omitempty"`
	Payload        model.Data        `json:"payload,omitempty"`
	Metadata       model.Data        `json:"metadata,omitempty"`
	ScheduledAt    *time.Time        `json:"scheduledAt,omitempty"`
	Mode           DispatchMode      `json:"mode,omitempty"`
}

// Validate checks the request fields.
func (r DispatchRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.TemplateKey, validation.Required, validation.Length(1, 128)),
		validation.Field(&r.To, validation.Required, validation.Length(3, 254), is.EmailFormat),
		validation.Field(&r.Topic, validation.In(topicValues(model.Topics)...)),
		validation.Field(&r.MessageType, validation.In(
			model.MessageTypeTransactional, model.MessageTypeEditorial, model.MessageTypeSystem)),
		validation.Field(&r.IdempotencyKey, validation.Length(0, 512)),
		validation.Field(&r.Mode, validation.In(ModeSync, ModeFireAndForget)),
	)
}

// DispatchResult reports what the pipeline did.
type DispatchResult struct {
	MessageID string              `json:"messageId,omitempty"`
	Status    model.MessageStatus `json:"status,omitempty"`
	Replayed  bool                `json:"replayed"` // Idempotency key matched an existing message
	Detached  bool                `json:"detached"` // Fire-and-forget: outcome is only logged
}

// RetryResult reports the outcome of a single retry.
type RetryResult struct {
	Outcome string        `json:"outcome"` // RetryQueued or RetrySkipped
	Message model.Message `json:"message"`
}

// BulkRetryResult holds per-category counts of a bulk retry.
type BulkRetryResult struct {
	Queued  int `json:"queued"`
	Skipped int `json:"skipped"`
	Missing int `json:"missing"`
}

// Dispatcher runs the create → render → send → persist → notify pipeline
// and the admin retry path.
//
// There is no background loop and no automatic retry: a failed send stays
// failed until an operator calls Retry.
//
// Thread safety: Safe for concurrent use. Concurrent dispatches with the same
// idempotency key are resolved by the repository's unique index.
type Dispatcher struct {
	store       *MessageStore
	renderer    Renderer
	sender      Sender
	fromEmail   string
	replyTo     string
	defaultMode DispatchMode
	logger      Logger
	notifier    Notifier
	metrics     Metrics

	inflight sync.WaitGroup
}

// NewDispatcher creates a new dispatcher with the provided options.
//
// Required options:
//   - WithMessageStore: message store
//   - WithDelivery: renderer and sender
//   - WithSenderIdentity: From address
//   - WithLogger: logger instance
//
// Optional options:
//   - WithNotifier (default: NoOpNotifier)
//   - WithMetrics (default: NoopMetrics)
//   - WithDefaultMode (default: ModeSync)
func NewDispatcher(opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{
		defaultMode: ModeSync,
		notifier:    &NoOpNotifier{},
		metrics:     NoopMetrics{},
	}

	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply option", err)
		}
	}

	if d.store == nil {
		return nil, NewError(ErrCodeConfiguration, "MessageStore is required (use WithMessageStore)")
	}
	if d.renderer == nil {
		return nil, NewError(ErrCodeConfiguration, "Renderer is required (use WithDelivery)")
	}
	if d.sender == nil {
		return nil, NewError(ErrCodeConfiguration, "Sender is required (use WithDelivery)")
	}
	if d.fromEmail == "" {
		return nil, NewError(ErrCodeConfiguration, "From address is required (use WithSenderIdentity)")
	}
	if d.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithLogger)")
	}

	return d, nil
}

// Dispatch sends one templated email.
//
// The process:
//  1. Idempotency lookup: an existing message is returned unchanged (no render, no send)
//  2. Render subject/html/text
//  3. Create the queued message with the rendered snapshot
//  4. Send; record sent or failed (never retried automatically)
//  5. Notify and return the message id and final status
//
// In ModeFireAndForget the call returns at once with Detached=true and a nil
// error; the pipeline keeps running after ctx is cancelled. Use Wait to drain.
func (d *Dispatcher) Dispatch(ctx context.Context, req DispatchRequest) (DispatchResult, error) {
	mode := req.Mode
	if mode == "" {
		mode = d.defaultMode
	}
	if mode != ModeFireAndForget {
		return d.dispatch(ctx, req)
	}

	detached := context.WithoutCancel(ctx)
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		if _, err := d.dispatch(detached, req); err != nil {
			d.logger.Warnf("Fire-and-forget dispatch failed: template=%s, to=%s, error=%v",
				req.TemplateKey, req.To, err)
		}
	}()

	return DispatchResult{Detached: true}, nil
}

// Wait blocks until every fire-and-forget dispatch has finished.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

func (d *Dispatcher) dispatch(ctx context.Context, req DispatchRequest) (DispatchResult, error) {
	req.To = model.NormalizeEmail(req.To)
	if err := validationError("invalid dispatch request", req.Validate()); err != nil {
		return DispatchResult{}, err
	}

	hash, err := requestHash(req.TemplateKey, req.To, req.Topic, req.Payload)
	if err != nil {
		return DispatchResult{}, NewErrorWithCause(ErrCodeValidation, "payload is not serializable", err)
	}

	if req.IdempotencyKey != "" {
		existing, found, err := d.store.FindByIdempotencyKey(ctx, req.IdempotencyKey)
		if err != nil {
			return DispatchResult{}, err
		}
		if found {
			return d.replay(existing, hash, req.IdempotencyKey)
		}
	}

	rendered, err := d.renderer.Render(ctx, req.TemplateKey, req.Payload)
	if err != nil {
		if ErrorCode(err) != "" {
			return DispatchResult{}, err
		}
		return DispatchResult{}, NewErrorWithCause(ErrCodeValidation, "failed to render template "+req.TemplateKey, err)
	}

	payload, err := model.EncodeData(req.Payload)
	if err != nil {
		return DispatchResult{}, NewErrorWithCause(ErrCodeValidation, "payload is not serializable", err)
	}
	metadata, err := model.EncodeData(req.Metadata)
	if err != nil {
		return DispatchResult{}, NewErrorWithCause(ErrCodeValidation, "metadata is not serializable", err)
	}

	msg := model.NewMessage(model.MessageParams{
		IdempotencyKey: req.IdempotencyKey,
		RequestHash:    hash,
		ToEmail:        req.To,
		ToUserID:       req.ToUserID,
		Provider:       d.sender.Name(),
		TemplateKey:    req.TemplateKey,
		MessageType:    req.MessageType,
		Topic:          req.Topic,
		Subject:        rendered.Subject,
		FromEmail:      d.fromEmail,
		ReplyTo:        d.replyTo,
		HTML:           rendered.HTML,
		TextBody:       rendered.Text,
		Payload:        payload,
		Metadata:       metadata,
		ScheduledAt:    req.ScheduledAt,
	})

	created, replayed, err := d.store.Create(ctx, msg)
	if err != nil {
		if IsConflict(err) {
			d.metrics.DispatchCompleted(req.TemplateKey, OutcomeConflict)
		}
		return DispatchResult{}, err
	}
	if replayed {
		d.logger.Debugf("Concurrent dispatch won the idempotency key %s", req.IdempotencyKey)
		d.metrics.DispatchCompleted(req.TemplateKey, OutcomeReplayed)
		return DispatchResult{MessageID: created.ID, Status: created.Status, Replayed: true}, nil
	}

	d.logger.Debugf("Message created: id=%s, template=%s, to=%s", created.ID, created.TemplateKey, created.ToEmail)

	final, err := d.send(ctx, created)
	return DispatchResult{MessageID: final.ID, Status: final.Status}, err
}

func (d *Dispatcher) replay(existing model.Message, hash, key string) (DispatchResult, error) {
	if existing.RequestHash != hash {
		d.metrics.DispatchCompleted(existing.TemplateKey, OutcomeConflict)
		return DispatchResult{}, conflictError(key)
	}
	d.logger.Debugf("Idempotent replay: key=%s, message_id=%s", key, existing.ID)
	d.metrics.DispatchCompleted(existing.TemplateKey, OutcomeReplayed)
	return DispatchResult{MessageID: existing.ID, Status: existing.Status, Replayed: true}, nil
}

// send hands the stored snapshot to the sender and records the outcome.
// A sender failure is returned as ProviderError after it has been persisted.
func (d *Dispatcher) send(ctx context.Context, msg model.Message) (model.Message, error) {
	res, sendErr := d.sender.Send(ctx, outboundFromMessage(msg))
	if sendErr != nil {
		failed, err := d.store.MarkFailed(ctx, msg.ID, sendErr.Error())
		if err != nil {
			d.logger.Errorf("Failed to record send failure for message %s: %v", msg.ID, err)
			return msg, err
		}
		d.metrics.DispatchCompleted(msg.TemplateKey, OutcomeFailed)
		notify(d.logger, "MessageFailed", func() error { return d.notifier.MessageFailed(ctx, failed, sendErr) })
		return failed, NewErrorWithCause(ErrCodeProvider, "provider "+d.sender.Name()+" rejected message "+msg.ID, sendErr)
	}

	sent, err := d.store.MarkSent(ctx, msg.ID, res.ProviderMessageID)
	if err != nil {
		d.logger.Errorf("Message %s was accepted by %s but could not be marked sent: %v", msg.ID, d.sender.Name(), err)
		return msg, err
	}
	d.metrics.DispatchCompleted(msg.TemplateKey, OutcomeSent)
	notify(d.logger, "MessageSent", func() error { return d.notifier.MessageSent(ctx, sent) })
	return sent, nil
}

// Retry resends a failed message's stored snapshot as-is.
//
// Returns a NotFound error if the message does not exist. Messages that are
// not failed (or that a concurrent retry claimed first) are skipped. A failed
// resend is not an error here: the returned message carries status failed and
// the new error text.
func (d *Dispatcher) Retry(ctx context.Context, id string) (RetryResult, error) {
	msg, claimed, err := d.store.IncrementAttempts(ctx, id)
	if err != nil {
		if IsNotFound(err) {
			d.metrics.RetryCompleted(RetryMissing)
		}
		return RetryResult{}, err
	}
	if !claimed {
		d.metrics.RetryCompleted(RetrySkipped)
		d.logger.Debugf("Retry skipped: message %s is %s", id, msg.Status)
		return RetryResult{Outcome: RetrySkipped, Message: msg}, nil
	}

	d.logger.Infof("Retrying message %s (attempt %d)", msg.ID, msg.Attempts)
	d.metrics.RetryCompleted(RetryQueued)

	final, err := d.send(ctx, msg)
	if err != nil && !IsProviderError(err) {
		return RetryResult{Outcome: RetryQueued, Message: final}, err
	}
	return RetryResult{Outcome: RetryQueued, Message: final}, nil
}

// BulkRetry retries every id independently and returns per-category counts.
// No single id aborts the batch.
func (d *Dispatcher) BulkRetry(ctx context.Context, ids []string) BulkRetryResult {
	var result BulkRetryResult
	for _, id := range ids {
		res, err := d.Retry(ctx, id)
		switch {
		case IsNotFound(err):
			result.Missing++
		case err != nil:
			d.logger.Warnf("Bulk retry: message %s not retried: %v", id, err)
			if res.Outcome == RetryQueued {
				result.Queued++
			} else {
				result.Skipped++
			}
		case res.Outcome == RetryQueued:
			result.Queued++
		default:
			result.Skipped++
		}
	}
	d.logger.Infof("Bulk retry finished: queued=%d, skipped=%d, missing=%d",
		result.Queued, result.Skipped, result.Missing)
	return result
}

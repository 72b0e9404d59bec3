package courier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/coregx/courier/model"
)

// MessageStore owns the Message state machine and idempotent creation.
// Provider-driven status changes go through the configured StatusTransitionPolicy.
type MessageStore struct {
	repo   MessageRepository
	policy StatusTransitionPolicy
}

// NewMessageStore creates a store over repo. A nil policy means PermissivePolicy.
func NewMessageStore(repo MessageRepository, policy StatusTransitionPolicy) *MessageStore {
	if policy == nil {
		policy = PermissivePolicy{}
	}
	return &MessageStore{repo: repo, policy: policy}
}

// Get loads a message. Returns a NotFound error if it does not exist.
func (s *MessageStore) Get(ctx context.Context, id string) (model.Message, error) {
	msg, err := s.repo.Load(ctx, id)
	if err != nil {
		if IsNoData(err) {
			return msg, NewErrorWithCause(ErrCodeNotFound, "message not found", err)
		}
		return msg, NewErrorWithCause(ErrCodeDatabase, "failed to load message", err)
	}
	return msg, nil
}

// FindByIdempotencyKey looks up the message owning key.
// The boolean is false when no message owns it.
func (s *MessageStore) FindByIdempotencyKey(ctx context.Context, key string) (model.Message, bool, error) {
	msg, err := s.repo.FindByIdempotencyKey(ctx, key)
	if err != nil {
		if IsNoData(err) {
			return msg, false, nil
		}
		return msg, false, NewErrorWithCause(ErrCodeDatabase, "failed to look up idempotency key", err)
	}
	return msg, true, nil
}

// Create inserts a queued message.
//
// When the idempotency key is already taken, the stored row is returned with
// replayed=true if it was created from the same request, and a Conflict
// error if the request hash differs.
func (s *MessageStore) Create(ctx context.Context, msg model.Message) (stored model.Message, replayed bool, err error) {
	created, err := s.repo.Insert(ctx, msg)
	if err == nil {
		return created, false, nil
	}
	if !IsDuplicateKey(err) || !msg.IdempotencyKey.Valid {
		return created, false, NewErrorWithCause(ErrCodeDatabase, "failed to insert message", err)
	}

	existing, found, err := s.FindByIdempotencyKey(ctx, msg.IdempotencyKey.String)
	if err != nil {
		return existing, false, err
	}
	if !found {
		return existing, false, NewError(ErrCodeDatabase, "idempotency key rejected but no message owns it")
	}
	if existing.RequestHash != msg.RequestHash {
		return existing, false, conflictError(msg.IdempotencyKey.String)
	}
	return existing, true, nil
}

// MarkSent records the provider's acceptance and clears the previous error.
func (s *MessageStore) MarkSent(ctx context.Context, id, providerMessageID string) (model.Message, error) {
	msg, err := s.Get(ctx, id)
	if err != nil {
		return msg, err
	}
	msg.MarkSent(providerMessageID)
	return s.save(ctx, msg)
}

// MarkFailed records a failed attempt with the sender's error text.
func (s *MessageStore) MarkFailed(ctx context.Context, id, errorMessage string) (model.Message, error) {
	msg, err := s.Get(ctx, id)
	if err != nil {
		return msg, err
	}
	msg.MarkFailed(errorMessage)
	return s.save(ctx, msg)
}

// IncrementAttempts moves a failed message back to queued with attempts+1
// and no error. The boolean is false when the message is not failed, or when
// a concurrent retry claimed it first.
func (s *MessageStore) IncrementAttempts(ctx context.Context, id string) (model.Message, bool, error) {
	msg, err := s.Get(ctx, id)
	if err != nil {
		return msg, false, err
	}
	if !msg.IsRetryable() {
		return msg, false, nil
	}

	claimed, err := s.repo.ClaimForRetry(ctx, id, msg.Attempts)
	if err != nil {
		return msg, false, NewErrorWithCause(ErrCodeDatabase, "failed to claim message for retry", err)
	}
	if !claimed {
		return msg, false, nil
	}

	msg.ResetForRetry()
	return msg, true, nil
}

// UpdateStatusByProviderMessageID applies a provider-reported status.
// The boolean is false when the policy rejected the transition.
// Returns a NotFound error if no message carries providerMessageID.
func (s *MessageStore) UpdateStatusByProviderMessageID(ctx context.Context, providerMessageID string, status model.MessageStatus, at time.Time) (model.Message, bool, error) {
	msg, err := s.repo.FindByProviderMessageID(ctx, providerMessageID)
	if err != nil {
		if IsNoData(err) {
			return msg, false, NewErrorWithCause(ErrCodeNotFound, "message not found for provider id", err)
		}
		return msg, false, NewErrorWithCause(ErrCodeDatabase, "failed to load message by provider id", err)
	}

	if !s.policy.Allow(msg.Status, status) {
		return msg, false, nil
	}

	msg.ApplyStatus(status, at)
	var sentAt *time.Time
	if msg.SentAt.Valid {
		sentAt = &msg.SentAt.Time
	}
	if err := s.repo.UpdateStatus(ctx, msg.ID, msg.Status, sentAt); err != nil {
		return msg, false, NewErrorWithCause(ErrCodeDatabase, "failed to update message status", err)
	}
	return msg, true, nil
}

func (s *MessageStore) save(ctx context.Context, msg model.Message) (model.Message, error) {
	msg, err := s.repo.Save(ctx, msg)
	if err != nil {
		return msg, NewErrorWithCause(ErrCodeDatabase, "failed to save message", err)
	}
	return msg, nil
}

func conflictError(key string) *Error {
	return NewError(ErrCodeConflict, "idempotency key "+key+" was already used for a different request")
}

// requestHash fingerprints the parts of a dispatch request that decide what
// gets sent. Map keys are marshaled in sorted order, so equal payloads hash equally.
func requestHash(templateKey, to string, topic model.Topic, payload model.Data) (string, error) {
	if payload == nil {
		payload = model.Data{}
	}
	doc := struct {
		TemplateKey string      `json:"t"`
		To          string      `json:"r"`
		Topic       model.Topic `json:"c"`
		Payload     model.Data  `json:"p"`
	}{templateKey, model.NormalizeEmail(to), topic, payload}

	b, err := json.Marshal(doc)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

package courier_test

import (
	"context"
	"sync"
	"testing"

	"github.com/coregx/courier"
	"github.com/coregx/courier/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDispatcher_RequiredOptions(t *testing.T) {
	tests := []struct {
		name string
		opts []courier.Option
	}{
		{"no options", nil},
		{"missing delivery", []courier.Option{
			courier.WithMessageStore(courier.NewMessageStore(nil, nil)),
			courier.WithSenderIdentity("a@acme.test", ""),
			courier.WithLogger(&courier.NoopLogger{}),
		}},
		{"nil logger", []courier.Option{courier.WithLogger(nil)}},
		{"empty from", []courier.Option{courier.WithSenderIdentity("", "")}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := courier.NewDispatcher(tt.opts...)
			require.Error(t, err)
			assert.Equal(t, courier.ErrCodeConfiguration, courier.ErrorCode(err))
		})
	}
}

func TestDispatch_SendsAndSnapshots(t *testing.T) {
	h := newHarness(t)

	res := h.dispatch(t, courier.DispatchRequest{
		TemplateKey: "welcome",
		To:          "New.User@Example.com",
		ToUserID:    "user-1",
		Topic:       model.TopicAccount,
		Payload:     model.Data{"title": "Hi"},
		Metadata:    model.Data{"requestId": "r-1"},
	})

	assert.Equal(t, model.StatusSent, res.Status)
	assert.False(t, res.Replayed)

	msg := h.load(t, res.MessageID)
	assert.Equal(t, "new.user@example.com", msg.ToEmail)
	assert.Equal(t, "user-1", msg.ToUserID.String)
	assert.Equal(t, "stub", msg.Provider)
	assert.Equal(t, "welcome: Hi", msg.Subject)
	assert.Equal(t, "<p>Hi</p>", msg.HTML)
	assert.Equal(t, "Hi", msg.TextBody)
	assert.Equal(t, "Acme <no-reply@acme.test>", msg.FromEmail)
	assert.Equal(t, "support@acme.test", msg.ReplyTo)
	assert.Equal(t, "prov-1", msg.ProviderMessageID.String)
	assert.Equal(t, 0, msg.Attempts)
	assert.True(t, msg.SentAt.Valid)
	assert.JSONEq(t, `{"title":"Hi"}`, msg.Payload)
	assert.JSONEq(t, `{"requestId":"r-1"}`, msg.Metadata)

	require.Len(t, h.sender.sent, 1)
	assert.Equal(t, msg.ID, h.sender.sent[0].MessageID)
	assert.Equal(t, "new.user@example.com", h.sender.sent[0].To)
}

func TestDispatch_NormalizesRecipientBeforeValidation(t *testing.T) {
	h := newHarness(t)
	req := courier.DispatchRequest{TemplateKey: "welcome", To: "  Ada@Example.COM\n", IdempotencyKey: "welcome-ada"}

	first := h.dispatch(t, req)
	assert.Equal(t, model.StatusSent, first.Status)
	assert.Equal(t, "ada@example.com", h.load(t, first.MessageID).ToEmail)

	req.To = "ada@example.com"
	second := h.dispatch(t, req)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.MessageID, second.MessageID)
	assert.Equal(t, 1, h.sender.Calls())
}

func TestDispatch_Idempotency(t *testing.T) {
	h := newHarness(t)
	req := courier.DispatchRequest{
		TemplateKey:    "password-changed",
		To:             "user@example.com",
		Topic:          model.TopicSecurity,
		IdempotencyKey: "pwd-change-7",
		Payload:        model.Data{"title": "Password changed"},
	}

	first := h.dispatch(t, req)
	second := h.dispatch(t, req)

	assert.Equal(t, first.MessageID, second.MessageID)
	assert.True(t, second.Replayed)
	assert.Equal(t, model.StatusSent, second.Status)
	assert.Equal(t, int32(1), h.renderer.calls.Load(), "second call must not render")
	assert.Equal(t, 1, h.sender.Calls(), "second call must not send")

	total, err := h.repos.Message.Count(context.Background(), courier.MessageFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestDispatch_IdempotencyReplayDoesNotResendFailed(t *testing.T) {
	h := newHarness(t)
	h.sender.FailNext(1)
	req := courier.DispatchRequest{TemplateKey: "welcome", To: "a@example.com", IdempotencyKey: "k-1"}

	_, err := h.dispatcher.Dispatch(context.Background(), req)
	require.Error(t, err)

	res := h.dispatch(t, req)
	assert.True(t, res.Replayed)
	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Equal(t, 1, h.sender.Calls())
}

func TestDispatch_ConflictOnDifferentPayload(t *testing.T) {
	h := newHarness(t)

	h.dispatch(t, courier.DispatchRequest{
		TemplateKey: "welcome", To: "a@example.com", IdempotencyKey: "k-1",
		Payload: model.Data{"title": "one"},
	})

	_, err := h.dispatcher.Dispatch(context.Background(), courier.DispatchRequest{
		TemplateKey: "welcome", To: "a@example.com", IdempotencyKey: "k-1",
		Payload: model.Data{"title": "two"},
	})

	require.Error(t, err)
	assert.True(t, courier.IsConflict(err))
	assert.Equal(t, 1, h.sender.Calls())
}

func TestDispatch_ConcurrentDuplicatesCreateOneRow(t *testing.T) {
	h := newHarness(t)
	req := courier.DispatchRequest{TemplateKey: "welcome", To: "a@example.com", IdempotencyKey: "race-1"}

	const callers = 8
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.dispatcher.Dispatch(context.Background(), req)
			assert.NoError(t, err)
			ids[i] = res.MessageID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, h.sender.Calls())
	total, err := h.repos.Message.Count(context.Background(), courier.MessageFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
}

func TestDispatch_SyncProviderFailure(t *testing.T) {
	h := newHarness(t)
	h.sender.FailNext(1)

	res, err := h.dispatcher.Dispatch(context.Background(), courier.DispatchRequest{
		TemplateKey: "contact-received", To: "a@example.com", Mode: courier.ModeSync,
	})

	require.Error(t, err)
	assert.True(t, courier.IsProviderError(err))
	assert.Equal(t, model.StatusFailed, res.Status)

	msg := h.load(t, res.MessageID)
	assert.Equal(t, model.StatusFailed, msg.Status)
	assert.Contains(t, msg.ErrorMessage.String, "421")
	assert.False(t, msg.SentAt.Valid)
	assert.Equal(t, 0, msg.Attempts)
	assert.Equal(t, 1, h.sender.Calls(), "no automatic retry")
}

func TestDispatch_FireAndForget(t *testing.T) {
	h := newHarness(t)
	h.sender.FailNext(1)

	ctx, cancel := context.WithCancel(context.Background())
	res, err := h.dispatcher.Dispatch(ctx, courier.DispatchRequest{
		TemplateKey: "session-revoked", To: "a@example.com", Mode: courier.ModeFireAndForget,
		IdempotencyKey: "ff-1",
	})
	cancel()

	require.NoError(t, err, "failures are never returned to the caller")
	assert.True(t, res.Detached)

	h.dispatcher.Wait()

	msg, err := h.repos.Message.FindByIdempotencyKey(context.Background(), "ff-1")
	require.NoError(t, err)
	assert.Equal(t, model.StatusFailed, msg.Status)
}

func TestDispatch_DefaultModeFireAndForget(t *testing.T) {
	h := newHarness(t, courier.WithDefaultMode(courier.ModeFireAndForget))

	res, err := h.dispatcher.Dispatch(context.Background(), courier.DispatchRequest{TemplateKey: "welcome", To: "bad-address"})
	require.NoError(t, err)
	assert.True(t, res.Detached)
	h.dispatcher.Wait()
	assert.Equal(t, 0, h.sender.Calls())
}

func TestDispatch_Validation(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		req  courier.DispatchRequest
	}{
		{"missing template", courier.DispatchRequest{To: "a@example.com"}},
		{"missing recipient", courier.DispatchRequest{TemplateKey: "welcome"}},
		{"bad recipient", courier.DispatchRequest{TemplateKey: "welcome", To: "not-an-email"}},
		{"unknown topic", courier.DispatchRequest{TemplateKey: "welcome", To: "a@example.com", Topic: "weather"}},
		{"unknown type", courier.DispatchRequest{TemplateKey: "welcome", To: "a@example.com", MessageType: "promo"}},
		{"unknown template", courier.DispatchRequest{TemplateKey: "unknown", To: "a@example.com"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.dispatcher.Dispatch(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, courier.IsValidation(err), err.Error())
		})
	}
	assert.Equal(t, 0, h.sender.Calls())
}

func TestRetry_FailedThenSucceeds(t *testing.T) {
	h := newHarness(t)
	h.sender.FailNext(1)

	res, err := h.dispatcher.Dispatch(context.Background(), courier.DispatchRequest{
		TemplateKey:    "password-changed",
		To:             "user@example.com",
		IdempotencyKey: "pwd-change-42",
		Payload:        model.Data{"title": "Password changed"},
	})
	require.Error(t, err)

	retry, err := h.dispatcher.Retry(context.Background(), res.MessageID)
	require.NoError(t, err)
	assert.Equal(t, courier.RetryQueued, retry.Outcome)

	msg := h.load(t, res.MessageID)
	assert.Equal(t, model.StatusSent, msg.Status)
	assert.Equal(t, 1, msg.Attempts)
	assert.False(t, msg.ErrorMessage.Valid)
	assert.True(t, msg.SentAt.Valid)
	assert.Equal(t, int32(1), h.renderer.calls.Load(), "retry resends the stored snapshot")
	require.Len(t, h.sender.sent, 1)
	assert.Equal(t, "password-changed: Password changed", h.sender.sent[0].Subject)
}

func TestRetry_FailsAgain(t *testing.T) {
	h := newHarness(t)
	h.sender.FailNext(2)

	res, _ := h.dispatcher.Dispatch(context.Background(), courier.DispatchRequest{TemplateKey: "welcome", To: "a@example.com"})

	retry, err := h.dispatcher.Retry(context.Background(), res.MessageID)
	require.NoError(t, err)
	assert.Equal(t, courier.RetryQueued, retry.Outcome)
	assert.Equal(t, model.StatusFailed, retry.Message.Status)

	msg := h.load(t, res.MessageID)
	assert.Equal(t, model.StatusFailed, msg.Status)
	assert.Equal(t, 1, msg.Attempts)
	assert.True(t, msg.ErrorMessage.Valid)
}

func TestRetry_SkipsNonFailed(t *testing.T) {
	h := newHarness(t)
	res := h.dispatch(t, courier.DispatchRequest{TemplateKey: "welcome", To: "a@example.com"})

	retry, err := h.dispatcher.Retry(context.Background(), res.MessageID)
	require.NoError(t, err)
	assert.Equal(t, courier.RetrySkipped, retry.Outcome)

	msg := h.load(t, res.MessageID)
	assert.Equal(t, model.StatusSent, msg.Status)
	assert.Equal(t, 0, msg.Attempts)
	assert.Equal(t, 1, h.sender.Calls())
}

func TestRetry_NotFound(t *testing.T) {
	h := newHarness(t)

	_, err := h.dispatcher.Retry(context.Background(), "does-not-exist")
	require.Error(t, err)
	assert.True(t, courier.IsNotFound(err))
}

func TestBulkRetry_Counts(t *testing.T) {
	h := newHarness(t)

	h.sender.FailNext(2)
	failedA, _ := h.dispatcher.Dispatch(context.Background(), courier.DispatchRequest{TemplateKey: "welcome", To: "a@example.com"})
	failedB, _ := h.dispatcher.Dispatch(context.Background(), courier.DispatchRequest{TemplateKey: "welcome", To: "b@example.com"})
	sent := h.dispatch(t, courier.DispatchRequest{TemplateKey: "welcome", To: "c@example.com"})

	h.sender.FailNext(0)
	result := h.dispatcher.BulkRetry(context.Background(), []string{
		failedA.MessageID, sent.MessageID, "missing-1", failedB.MessageID, "missing-2",
	})

	assert.Equal(t, courier.BulkRetryResult{Queued: 2, Skipped: 1, Missing: 2}, result)
	assert.Equal(t, model.StatusSent, h.load(t, failedA.MessageID).Status)
	assert.Equal(t, model.StatusSent, h.load(t, failedB.MessageID).Status)
}

func TestBulkRetry_DuplicateIDsRetryOnce(t *testing.T) {
	h := newHarness(t)
	h.sender.FailNext(1)
	failed, _ := h.dispatcher.Dispatch(context.Background(), courier.DispatchRequest{TemplateKey: "welcome", To: "a@example.com"})

	result := h.dispatcher.BulkRetry(context.Background(), []string{failed.MessageID, failed.MessageID})

	assert.Equal(t, 1, result.Queued)
	assert.Equal(t, 1, result.Skipped)
	assert.Equal(t, 1, h.load(t, failed.MessageID).Attempts)
}

package courier_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/coregx/courier"
	"github.com/coregx/courier/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedMessages(t *testing.T, h *harness) {
	t.Helper()
	for i := 0; i < 3; i++ {
		h.dispatch(t, courier.DispatchRequest{
			TemplateKey: "welcome",
			To:          fmt.Sprintf("user%d@example.com", i),
			Topic:       model.TopicAccount,
			Payload:     model.Data{"title": "Welcome"},
		})
	}
	h.sender.FailNext(1)
	_, err := h.dispatcher.Dispatch(context.Background(), courier.DispatchRequest{
		TemplateKey: "security-alert",
		To:          "ops@example.com",
		Topic:       model.TopicSecurity,
		Payload:     model.Data{"title": "New login"},
	})
	require.Error(t, err)
}

func TestAdmin_ListMessages(t *testing.T) {
	h := newHarness(t)
	seedMessages(t, h)
	ctx := context.Background()

	tests := []struct {
		name      string
		filter    courier.MessageFilter
		wantTotal int64
		wantItems int
		wantSize  int
	}{
		{"defaults", courier.MessageFilter{}, 4, 4, courier.DefaultPageSize},
		{"by status", courier.MessageFilter{Status: model.StatusFailed}, 1, 1, courier.DefaultPageSize},
		{"by topic", courier.MessageFilter{Topic: model.TopicAccount}, 3, 3, courier.DefaultPageSize},
		{"query on email", courier.MessageFilter{Query: "OPS@"}, 1, 1, courier.DefaultPageSize},
		{"query on template", courier.MessageFilter{Query: "welcome"}, 3, 3, courier.DefaultPageSize},
		{"second page", courier.MessageFilter{Page: 2, PageSize: 3}, 4, 1, 3},
		{"past the end", courier.MessageFilter{Page: 9, PageSize: 3}, 4, 0, 3},
		{"page size capped", courier.MessageFilter{PageSize: 1000}, 4, 4, courier.MaxPageSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := h.admin.ListMessages(ctx, tt.filter)
			require.NoError(t, err)
			assert.Equal(t, tt.wantTotal, page.Total)
			assert.Len(t, page.Items, tt.wantItems)
			assert.NotNil(t, page.Items)
			assert.Equal(t, tt.wantSize, page.PageSize)
		})
	}
}

func TestAdmin_ListMessagesValidation(t *testing.T) {
	h := newHarness(t)

	for _, f := range []courier.MessageFilter{{Status: "lost"}, {Topic: "weather"}} {
		_, err := h.admin.ListMessages(context.Background(), f)
		require.Error(t, err)
		assert.True(t, courier.IsValidation(err))
	}
}

func TestAdmin_GetMessageWithEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res := h.dispatch(t, courier.DispatchRequest{
		TemplateKey: "welcome",
		To:          "a@example.com",
		Topic:       model.TopicAccount,
	})
	msg := h.load(t, res.MessageID)

	_, err := h.ingestor.Ingest(ctx, courier.ProviderEvent{
		ProviderEventID:   "evt-1",
		Type:              model.EventDelivered,
		ProviderMessageID: msg.ProviderMessageID.String,
	})
	require.NoError(t, err)

	detail, err := h.admin.GetMessage(ctx, res.MessageID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDelivered, detail.Message.Status)
	require.Len(t, detail.Events, 1)
	assert.Equal(t, "evt-1", detail.Events[0].ProviderEventID)

	_, err = h.admin.GetMessage(ctx, "missing")
	assert.True(t, courier.IsNotFound(err))
}

func TestAdmin_RetryFailedMessage(t *testing.T) {
	h := newHarness(t)
	seedMessages(t, h)
	ctx := context.Background()

	page, err := h.admin.ListMessages(ctx, courier.MessageFilter{Status: model.StatusFailed})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)

	res, err := h.admin.Retry(ctx, page.Items[0].ID)
	require.NoError(t, err)
	assert.Equal(t, courier.RetryQueued, res.Outcome)
	assert.Equal(t, model.StatusSent, res.Message.Status)
}

func TestAdmin_BulkRetryLimits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.admin.BulkRetry(ctx, nil)
	assert.True(t, courier.IsValidation(err))

	ids := make([]string, courier.MaxPageSize+1)
	for i := range ids {
		ids[i] = fmt.Sprintf("id-%d", i)
	}
	_, err = h.admin.BulkRetry(ctx, ids)
	assert.True(t, courier.IsValidation(err))

	res, err := h.admin.BulkRetry(ctx, ids[:3])
	require.NoError(t, err)
	assert.Equal(t, 3, res.Missing)
}

func TestAdmin_RecipientsPreview(t *testing.T) {
	h := newHarness(t)
	h.repos.Users.Put(model.User{ID: "u1", Email: "u1@x.com", Active: true, EmailVerified: true})

	recipients, err := h.admin.Recipients(context.Background(), model.TopicBlog)
	require.NoError(t, err)
	assert.Len(t, recipients, 1)
}

package courier_test

import (
	"context"
	"testing"

	"github.com/coregx/courier"
	"github.com/coregx/courier/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBroadcaster(t *testing.T, h *harness) *courier.Broadcaster {
	t.Helper()
	b, err := courier.NewBroadcaster(
		courier.WithBroadcastPipeline(h.resolver, h.dispatcher),
		courier.WithBroadcastLogger(&courier.NoopLogger{}),
		courier.WithUnsubscribeURL("https://acme.test/unsubscribe"),
	)
	require.NoError(t, err)
	return b
}

func TestBroadcast_PayloadPerRecipient(t *testing.T) {
	h := newHarness(t)
	b := newBroadcaster(t, h)
	ctx := context.Background()

	sub, err := h.consent.UpsertSubscription(ctx, courier.SubscribeRequest{Email: "reader@x.com", Topic: model.TopicBlog})
	require.NoError(t, err)
	h.repos.Users.Put(model.User{ID: "u1", Email: "member@x.com", Active: true, EmailVerified: true})

	res, err := b.Broadcast(ctx, courier.BroadcastRequest{
		Topic:       model.TopicBlog,
		TemplateKey: "blog-post",
		CampaignKey: "hello-world",
		Payload:     model.Data{"title": "Hello"},
	})
	require.NoError(t, err)
	assert.Equal(t, courier.BroadcastResult{Recipients: 2, Sent: 2}, res)

	reader, err := h.repos.Message.FindByIdempotencyKey(ctx, "blog:hello-world:reader@x.com")
	require.NoError(t, err)
	payload, err := model.DecodeData(reader.Payload)
	require.NoError(t, err)
	assert.Equal(t, sub.UnsubscribeToken, payload["unsubscribeToken"])
	assert.Contains(t, payload["unsubscribeUrl"], "https://acme.test/unsubscribe?token=")
	assert.Equal(t, "Hello", payload["title"])
	assert.Equal(t, model.MessageTypeEditorial, reader.MessageType)

	member, err := h.repos.Message.FindByIdempotencyKey(ctx, "blog:hello-world:member@x.com")
	require.NoError(t, err)
	payload, err = model.DecodeData(member.Payload)
	require.NoError(t, err)
	assert.Equal(t, "https://acme.test/account/email", payload["preferencesUrl"])
	assert.NotContains(t, payload, "unsubscribeToken")
	assert.Equal(t, "u1", member.ToUserID.String)
}

func TestBroadcast_RerunOnlyReachesMissedRecipients(t *testing.T) {
	h := newHarness(t)
	b := newBroadcaster(t, h)
	ctx := context.Background()

	for _, email := range []string{"a@x.com", "b@x.com"} {
		_, err := h.consent.UpsertSubscription(ctx, courier.SubscribeRequest{Email: email, Topic: model.TopicPress})
		require.NoError(t, err)
	}
	req := courier.BroadcastRequest{Topic: model.TopicPress, TemplateKey: "press-release", CampaignKey: "q3"}

	res, err := b.Broadcast(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)

	_, err = h.consent.UpsertSubscription(ctx, courier.SubscribeRequest{Email: "c@x.com", Topic: model.TopicPress})
	require.NoError(t, err)

	res, err = b.Broadcast(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, courier.BroadcastResult{Recipients: 3, Sent: 1, Duplicate: 2}, res)
	assert.Equal(t, 3, h.sender.Calls())
}

func TestBroadcast_RerunAfterAccountHolderSubscribesIsDuplicate(t *testing.T) {
	h := newHarness(t)
	b := newBroadcaster(t, h)
	ctx := context.Background()

	h.repos.Users.Put(model.User{ID: "u1", Email: "member@x.com", Active: true, EmailVerified: true})
	req := courier.BroadcastRequest{Topic: model.TopicBlog, TemplateKey: "blog-post", CampaignKey: "launch"}

	res, err := b.Broadcast(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, courier.BroadcastResult{Recipients: 1, Sent: 1}, res)

	// The payload now carries an unsubscribe token instead of the preference link.
	_, err = h.consent.UpsertSubscription(ctx, courier.SubscribeRequest{Email: "member@x.com", Topic: model.TopicBlog})
	require.NoError(t, err)

	res, err = b.Broadcast(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, courier.BroadcastResult{Recipients: 1, Duplicate: 1}, res)
	assert.Equal(t, 1, h.sender.Calls())
}

func TestBroadcast_FailuresDoNotAbort(t *testing.T) {
	h := newHarness(t)
	b := newBroadcaster(t, h)
	ctx := context.Background()

	for _, email := range []string{"a@x.com", "b@x.com", "c@x.com"} {
		_, err := h.consent.UpsertSubscription(ctx, courier.SubscribeRequest{Email: email, Topic: model.TopicProduct})
		require.NoError(t, err)
	}
	h.sender.FailNext(1)

	res, err := b.Broadcast(ctx, courier.BroadcastRequest{Topic: model.TopicProduct, TemplateKey: "release", CampaignKey: "v2"})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Recipients)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 2, res.Sent)
}

func TestBroadcast_Validation(t *testing.T) {
	h := newHarness(t)
	b := newBroadcaster(t, h)

	tests := []courier.BroadcastRequest{
		{Topic: model.TopicSecurity, TemplateKey: "x", CampaignKey: "c"},
		{Topic: model.TopicBlog, CampaignKey: "c"},
		{Topic: model.TopicBlog, TemplateKey: "x"},
	}
	for _, req := range tests {
		_, err := b.Broadcast(context.Background(), req)
		assert.True(t, courier.IsValidation(err))
	}
}

package courier_test

import (
	"context"
	"testing"

	"github.com/coregx/courier"
	"github.com/coregx/courier/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_MasterFlagOverridesTopicFlag(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.repos.Users.Put(model.User{ID: "u1", Email: "u1@x.com", Active: true, EmailVerified: true})
	_, err := h.consent.UpdatePreference(ctx, "u1", model.PreferenceFlags{
		EditorialEnabled:   boolPtr(false),
		BlogUpdatesEnabled: boolPtr(true),
	})
	require.NoError(t, err)

	recipients, err := h.resolver.ResolveEditorialRecipients(ctx, model.TopicBlog)
	require.NoError(t, err)
	assert.Empty(t, recipients)
}

func TestResolver_TokenWinsOverAccountEntry(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.repos.Users.Put(model.User{ID: "u1", Email: "A@X.com", Active: true, EmailVerified: true})
	sub, err := h.consent.UpsertSubscription(ctx, courier.SubscribeRequest{Email: "a@x.com", Topic: model.TopicBlog})
	require.NoError(t, err)

	recipients, err := h.resolver.ResolveEditorialRecipients(ctx, model.TopicBlog)
	require.NoError(t, err)
	require.Len(t, recipients, 1)

	r := recipients[0]
	assert.Equal(t, "a@x.com", r.Email)
	assert.Equal(t, sub.UnsubscribeToken, r.UnsubscribeToken)
	assert.Equal(t, "u1", r.UserID)
	assert.Empty(t, r.PreferencesURL)
}

func TestResolver_AccountOnlyRecipientGetsPreferencesURL(t *testing.T) {
	h := newHarness(t)

	h.repos.Users.Put(model.User{ID: "u1", Email: "u1@x.com", Active: true, EmailVerified: true})

	recipients, err := h.resolver.ResolveEditorialRecipients(context.Background(), model.TopicProduct)
	require.NoError(t, err)
	require.Len(t, recipients, 1)
	assert.False(t, recipients[0].HasToken())
	assert.Equal(t, "https://acme.test/account/email", recipients[0].PreferencesURL)
}

func TestResolver_SkipsIneligibleUsers(t *testing.T) {
	h := newHarness(t)

	h.repos.Users.Put(model.User{ID: "u1", Email: "unverified@x.com", Active: true, EmailVerified: false})
	h.repos.Users.Put(model.User{ID: "u2", Email: "inactive@x.com", Active: false, EmailVerified: true})
	h.repos.Users.Put(model.User{ID: "u3", Email: "ok@x.com", Active: true, EmailVerified: true})

	recipients, err := h.resolver.ResolveEditorialRecipients(context.Background(), model.TopicBlog)
	require.NoError(t, err)
	require.Len(t, recipients, 1)
	assert.Equal(t, "ok@x.com", recipients[0].Email)
}

func TestResolver_UnsubscribedRowsAreExcluded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	kept, err := h.consent.UpsertSubscription(ctx, courier.SubscribeRequest{Email: "kept@x.com", Topic: model.TopicPress})
	require.NoError(t, err)
	gone, err := h.consent.UpsertSubscription(ctx, courier.SubscribeRequest{Email: "gone@x.com", Topic: model.TopicPress})
	require.NoError(t, err)
	_, err = h.consent.UpsertSubscription(ctx, courier.SubscribeRequest{Email: "blog@x.com", Topic: model.TopicBlog})
	require.NoError(t, err)
	require.NoError(t, h.consent.UnsubscribeByToken(ctx, gone.UnsubscribeToken))

	recipients, err := h.resolver.ResolveEditorialRecipients(ctx, model.TopicPress)
	require.NoError(t, err)
	require.Len(t, recipients, 1)
	assert.Equal(t, kept.UnsubscribeToken, recipients[0].UnsubscribeToken)
}

func TestResolver_RejectsNonEditorialTopics(t *testing.T) {
	h := newHarness(t)

	for _, topic := range []model.Topic{model.TopicSecurity, model.TopicAccount, model.TopicContact, "weather"} {
		_, err := h.resolver.ResolveEditorialRecipients(context.Background(), topic)
		require.Error(t, err, topic)
		assert.True(t, courier.IsValidation(err), topic)
	}
}

package courier_test

import (
	"context"
	"sync"
	"testing"

	"github.com/coregx/courier"
	"github.com/coregx/courier/adapters/memory"
	"github.com/coregx/courier/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsent_SubscribeUnsubscribeResubscribeKeepsToken(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.consent.UpsertSubscription(ctx, courier.SubscribeRequest{Email: "a@x.com", Topic: model.TopicPress, Source: "footer"})
	require.NoError(t, err)
	token := first.UnsubscribeToken
	require.NotEmpty(t, token)

	require.NoError(t, h.consent.UnsubscribeByToken(ctx, token))
	unsubscribed, err := h.repos.Subscription.FindByToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, model.SubscriptionUnsubscribed, unsubscribed.Status)
	assert.True(t, unsubscribed.UnsubscribedAt.Valid)

	again, err := h.consent.UpsertSubscription(ctx, courier.SubscribeRequest{Email: "a@x.com", Topic: model.TopicPress})
	require.NoError(t, err)
	assert.Equal(t, token, again.UnsubscribeToken)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, model.SubscriptionSubscribed, again.Status)
	assert.False(t, again.UnsubscribedAt.Valid)
	assert.Equal(t, 1, h.repos.Subscription.Len())
}

func TestConsent_EmailIsNormalized(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	a, err := h.consent.UpsertSubscription(ctx, courier.SubscribeRequest{Email: "  Reader@Example.COM", Topic: model.TopicBlog})
	require.NoError(t, err)
	b, err := h.consent.UpsertSubscription(ctx, courier.SubscribeRequest{Email: "reader@example.com", Topic: model.TopicBlog})
	require.NoError(t, err)

	assert.Equal(t, "reader@example.com", a.Email)
	assert.Equal(t, a.ID, b.ID)
	assert.Equal(t, 1, h.repos.Subscription.Len())
}

func TestConsent_SameEmailDifferentTopics(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	blog, err := h.consent.UpsertSubscription(ctx, courier.SubscribeRequest{Email: "a@x.com", Topic: model.TopicBlog})
	require.NoError(t, err)
	press, err := h.consent.UpsertSubscription(ctx, courier.SubscribeRequest{Email: "a@x.com", Topic: model.TopicPress})
	require.NoError(t, err)

	assert.NotEqual(t, blog.UnsubscribeToken, press.UnsubscribeToken)
	assert.Equal(t, 2, h.repos.Subscription.Len())
}

func TestConsent_SubscribeValidation(t *testing.T) {
	h := newHarness(t)

	tests := []courier.SubscribeRequest{
		{Topic: model.TopicBlog},
		{Email: "not-an-email", Topic: model.TopicBlog},
		{Email: "a@x.com"},
		{Email: "a@x.com", Topic: "weather"},
	}
	for _, req := range tests {
		_, err := h.consent.UpsertSubscription(context.Background(), req)
		require.Error(t, err)
		assert.True(t, courier.IsValidation(err))
	}
}

func TestConsent_UnsubscribeUnknownToken(t *testing.T) {
	h := newHarness(t)

	err := h.consent.UnsubscribeByToken(context.Background(), "no-such-token")
	require.Error(t, err)
	assert.True(t, courier.IsNotFound(err))

	err = h.consent.UnsubscribeByToken(context.Background(), "")
	assert.True(t, courier.IsValidation(err))
}

func TestConsent_UnsubscribeTwiceSucceeds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	sub, err := h.consent.UpsertSubscription(ctx, courier.SubscribeRequest{Email: "a@x.com", Topic: model.TopicBlog})
	require.NoError(t, err)

	require.NoError(t, h.consent.UnsubscribeByToken(ctx, sub.UnsubscribeToken))
	require.NoError(t, h.consent.UnsubscribeByToken(ctx, sub.UnsubscribeToken))
}

func TestConsent_GetOrCreatePreference(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.consent.GetOrCreatePreference(ctx, "user-1")
	require.NoError(t, err)
	second, err := h.consent.GetOrCreatePreference(ctx, "user-1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, first.EditorialEnabled)
	assert.True(t, first.SecurityAlertsEnabled)
	assert.Equal(t, 1, h.repos.Preference.Len())

	_, err = h.consent.GetOrCreatePreference(ctx, "")
	assert.True(t, courier.IsValidation(err))
}

func TestConsent_GetOrCreatePreferenceConcurrent(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	ids := make([]string, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := h.consent.GetOrCreatePreference(context.Background(), "user-1")
			assert.NoError(t, err)
			ids[i] = p.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Equal(t, 1, h.repos.Preference.Len())
}

// racingPreferences reports no row on the first lookup, as if another
// request inserted it right after.
type racingPreferences struct {
	*memory.PreferenceRepository
	lookups int
}

func (r *racingPreferences) FindByUserID(ctx context.Context, userID string) (model.Preference, error) {
	r.lookups++
	if r.lookups == 1 {
		_, _ = r.PreferenceRepository.Insert(ctx, model.NewPreference(userID))
		return model.Preference{}, courier.ErrNoData
	}
	return r.PreferenceRepository.FindByUserID(ctx, userID)
}

func TestConsent_GetOrCreatePreferenceResolvesDuplicateInsert(t *testing.T) {
	prefs := &racingPreferences{PreferenceRepository: memory.NewPreferenceRepository()}
	consent, err := courier.NewConsentStore(
		courier.WithConsentRepositories(memory.NewSubscriptionRepository(), prefs),
		courier.WithConsentLogger(&courier.NoopLogger{}),
	)
	require.NoError(t, err)

	p, err := consent.GetOrCreatePreference(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", p.UserID)
	assert.Equal(t, 2, prefs.lookups)
	assert.Equal(t, 1, prefs.Len())
}

func TestConsent_UpdatePreferencePartial(t *testing.T) {
	h := newHarness(t)

	p, err := h.consent.UpdatePreference(context.Background(), "user-1", model.PreferenceFlags{
		PressUpdatesEnabled: boolPtr(false),
	})
	require.NoError(t, err)
	assert.False(t, p.PressUpdatesEnabled)
	assert.True(t, p.BlogUpdatesEnabled)

	p, err = h.consent.UpdatePreference(context.Background(), "user-1", model.PreferenceFlags{
		EditorialEnabled: boolPtr(false),
	})
	require.NoError(t, err)
	assert.False(t, p.EditorialEnabled)
	assert.False(t, p.PressUpdatesEnabled, "earlier update is kept")

	stored, err := h.repos.Preference.FindByUserID(context.Background(), "user-1")
	require.NoError(t, err)
	assert.False(t, stored.EditorialEnabled)
}

func TestNewConsentStore_RequiresRepositories(t *testing.T) {
	_, err := courier.NewConsentStore(courier.WithConsentLogger(&courier.NoopLogger{}))
	require.Error(t, err)
	assert.Equal(t, courier.ErrCodeConfiguration, courier.ErrorCode(err))
}

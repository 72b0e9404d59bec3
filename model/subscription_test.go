package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscription_TableName(t *testing.T) {
	sub := Subscription{}
	assert.Equal(t, "courier_subscription", sub.TableName())
}

func TestNewSubscription(t *testing.T) {
	sub, err := NewSubscription("  Reader@Example.COM ", TopicBlog, "blog-footer", "")
	require.NoError(t, err)

	assert.NotEmpty(t, sub.ID)
	assert.Equal(t, "reader@example.com", sub.Email)
	assert.Equal(t, TopicBlog, sub.Topic)
	assert.Equal(t, SubscriptionSubscribed, sub.Status)
	assert.NotEmpty(t, sub.UnsubscribeToken)
	assert.False(t, sub.UnsubscribedAt.Valid)
	assert.False(t, sub.UserID.Valid)
	assert.Equal(t, "blog-footer", sub.Source)
	assert.WithinDuration(t, time.Now(), sub.CreatedAt, time.Second)
}

func TestNewSubscription_UniqueTokens(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		sub, err := NewSubscription("a@example.com", TopicPress, "", "")
		require.NoError(t, err)
		assert.False(t, seen[sub.UnsubscribeToken], "token reused")
		seen[sub.UnsubscribeToken] = true
	}
}

func TestSubscription_UnsubscribeAndResubscribe(t *testing.T) {
	sub, err := NewSubscription("a@example.com", TopicBlog, "footer", "")
	require.NoError(t, err)
	token := sub.UnsubscribeToken

	sub.Unsubscribe()
	assert.Equal(t, SubscriptionUnsubscribed, sub.Status)
	assert.True(t, sub.UnsubscribedAt.Valid)
	assert.False(t, sub.IsSubscribed())

	sub.Resubscribe("landing", "user-1")
	assert.Equal(t, SubscriptionSubscribed, sub.Status)
	assert.False(t, sub.UnsubscribedAt.Valid)
	assert.Equal(t, token, sub.UnsubscribeToken)
	assert.Equal(t, "landing", sub.Source)
	assert.Equal(t, "user-1", sub.UserID.String)
}

func TestSubscription_ResubscribeKeepsSourceWhenEmpty(t *testing.T) {
	sub, err := NewSubscription("a@example.com", TopicBlog, "footer", "")
	require.NoError(t, err)

	sub.Unsubscribe()
	sub.Resubscribe("", "")

	assert.Equal(t, "footer", sub.Source)
	assert.False(t, sub.UserID.Valid)
}

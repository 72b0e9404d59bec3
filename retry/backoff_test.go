package retry

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultStrategy(t *testing.T) {
	strategy := DefaultStrategy()

	assert.Equal(t, 0, strategy.MaxAttempts)
	assert.Equal(t, time.Second, strategy.BaseDelay)
	assert.Equal(t, time.Minute, strategy.MaxDelay)
	assert.Equal(t, 2.0, strategy.ExponentialBase)
}

func TestStrategy_Delay(t *testing.T) {
	strategy := DefaultStrategy()

	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{"negative attempt", -1, time.Second},
		{"first retry", 0, time.Second},
		{"doubles", 1, 2 * time.Second},
		{"keeps growing", 3, 8 * time.Second},
		{"just under cap", 5, 32 * time.Second},
		{"capped", 6, time.Minute},
		{"large attempt still capped", 100, time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, strategy.Delay(tt.attempt))
		})
	}
}

func TestStrategy_IsRetryable(t *testing.T) {
	assert.True(t, DefaultStrategy().IsRetryable(1000), "unlimited")

	limited := Strategy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, ExponentialBase: 2}
	assert.True(t, limited.IsRetryable(2))
	assert.False(t, limited.IsRetryable(3))
}

func TestStrategy_DoRetriesUntilSuccess(t *testing.T) {
	s := Strategy{BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, ExponentialBase: 2}

	calls := 0
	var seen []int
	err := s.Do(context.Background(), func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	}, func(attempt int, _ error) { seen = append(seen, attempt) })

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []int{0, 1}, seen)
}

func TestStrategy_DoGivesUp(t *testing.T) {
	s := Strategy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, ExponentialBase: 2}
	boom := errors.New("boom")

	err := s.Do(context.Background(), func(context.Context) error { return boom }, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "giving up after 2 attempts")
}

func TestStrategy_DoStopsOnCancel(t *testing.T) {
	s := Strategy{BaseDelay: time.Hour, MaxDelay: time.Hour, ExponentialBase: 2}
	ctx, cancel := context.WithCancel(context.Background())

	err := s.Do(ctx, func(context.Context) error {
		cancel()
		return errors.New("down")
	}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStrategy_Schedule(t *testing.T) {
	schedule := DefaultStrategy().Schedule(3)

	assert.True(t, strings.HasPrefix(schedule, "Retry Schedule:\n"))
	assert.Contains(t, schedule, "Attempt 1: after 1s")
	assert.Contains(t, schedule, "Attempt 3: after 4s")
}

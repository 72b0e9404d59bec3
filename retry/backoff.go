// Package retry provides exponential backoff for reconnecting to brokers and
// other flaky dependencies.
package retry

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"
)

// Strategy defines the backoff between consecutive attempts.
//
// The schedule follows: delay = min(BaseDelay * ExponentialBase^attempt, MaxDelay)
//
// Example with defaults (1s base, 2.0 exponential, 1m max):
//
//	Attempt 0: 1s
//	Attempt 1: 2s
//	Attempt 2: 4s
//	...
//	Attempt 6+: 1m
type Strategy struct {
	MaxAttempts     int           // Attempts before giving up; 0 means unlimited
	BaseDelay       time.Duration // Delay before the first retry
	MaxDelay        time.Duration // Delay cap
	ExponentialBase float64       // Backoff multiplier (e.g., 2.0 for doubling)
}

// DefaultStrategy returns the reconnect strategy used by the AMQP relay:
// unlimited attempts, 1s→1m exponential backoff.
func DefaultStrategy() Strategy {
	return Strategy{
		MaxAttempts:     0,
		BaseDelay:       time.Second,
		MaxDelay:        time.Minute,
		ExponentialBase: 2.0,
	}
}

// Delay calculates the wait before retry number attempt (0-based).
func (s Strategy) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return s.BaseDelay
	}

	delay := float64(s.BaseDelay) * math.Pow(s.ExponentialBase, float64(attempt))
	if delay > float64(s.MaxDelay) {
		return s.MaxDelay
	}
	return time.Duration(delay)
}

// IsRetryable reports whether another attempt is allowed after attempt failures.
func (s Strategy) IsRetryable(attempt int) bool {
	return s.MaxAttempts <= 0 || attempt < s.MaxAttempts
}

// Wait sleeps for Delay(attempt) or until ctx is done.
func (s Strategy) Wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(s.Delay(attempt))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do calls fn until it succeeds, the attempts run out, or ctx is done.
// onError, when set, sees every failure before the wait.
func (s Strategy) Do(ctx context.Context, fn func(ctx context.Context) error, onError func(attempt int, err error)) error {
	for attempt := 0; ; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if onError != nil {
			onError(attempt, err)
		}
		if !s.IsRetryable(attempt + 1) {
			return fmt.Errorf("giving up after %d attempts: %w", attempt+1, err)
		}
		if waitErr := s.Wait(ctx, attempt); waitErr != nil {
			return waitErr
		}
	}
}

// Schedule returns a human-readable description of the first n delays.
//
// Example output:
//
//	Retry Schedule:
//	  Attempt 1: after 1s
//	  Attempt 2: after 2s
func (s Strategy) Schedule(n int) string {
	var b strings.Builder
	b.WriteString("Retry Schedule:\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "  Attempt %d: after %v\n", i+1, s.Delay(i))
	}
	return b.String()
}

package courier

// Metrics records engine counters. The metrics package provides a
// Prometheus implementation.
type Metrics interface {
	// DispatchCompleted records one dispatch outcome: sent, failed, replayed or conflict.
	DispatchCompleted(templateKey, outcome string)

	// EventIngested records one provider event by type; duplicate marks replays.
	EventIngested(eventType string, duplicate bool)

	// RetryCompleted records one retry outcome: queued, skipped or missing.
	RetryCompleted(outcome string)

	// RateLimited records one rejected public request.
	RateLimited(action string)
}

// Dispatch outcomes reported to Metrics.
const (
	OutcomeSent     = "sent"
	OutcomeFailed   = "failed"
	OutcomeReplayed = "replayed"
	OutcomeConflict = "conflict"
)

// Retry outcomes reported to Metrics.
const (
	RetryQueued  = "queued"
	RetrySkipped = "skipped"
	RetryMissing = "missing"
)

// NoopMetrics discards everything.
type NoopMetrics struct{}

// DispatchCompleted does nothing.
func (NoopMetrics) DispatchCompleted(_, _ string) {}

// EventIngested does nothing.
func (NoopMetrics) EventIngested(_ string, _ bool) {}

// RetryCompleted does nothing.
func (NoopMetrics) RetryCompleted(_ string) {}

// RateLimited does nothing.
func (NoopMetrics) RateLimited(_ string) {}

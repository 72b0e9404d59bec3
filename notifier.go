package courier

import (
	"context"

	"github.com/coregx/courier/model"
)

// Notifier receives callbacks about engine events (sends, failures, provider
// events, consent changes). It is the emit-event step of the dispatch pipeline.
//
// Implementations might publish to a message bus, page on-call, or log.
// Returned errors are logged and never fail the originating operation.
type Notifier interface {
	// MessageSent is called after a provider accepted a message.
	MessageSent(ctx context.Context, msg model.Message) error

	// MessageFailed is called after a send attempt failed.
	MessageFailed(ctx context.Context, msg model.Message, cause error) error

	// EventIngested is called after a new (non-duplicate) provider event was stored.
	EventIngested(ctx context.Context, event model.Event) error

	// SubscriptionChanged is called after a subscribe, resubscribe or unsubscribe.
	SubscriptionChanged(ctx context.Context, sub model.Subscription) error
}

// NoOpNotifier is a no-op implementation of Notifier.
type NoOpNotifier struct{}

// MessageSent does nothing.
func (n *NoOpNotifier) MessageSent(_ context.Context, _ model.Message) error { return nil }

// MessageFailed does nothing.
func (n *NoOpNotifier) MessageFailed(_ context.Context, _ model.Message, _ error) error { return nil }

// EventIngested does nothing.
func (n *NoOpNotifier) EventIngested(_ context.Context, _ model.Event) error { return nil }

// SubscriptionChanged does nothing.
func (n *NoOpNotifier) SubscriptionChanged(_ context.Context, _ model.Subscription) error {
	return nil
}

// LoggingNotifier writes every notification to a Logger.
type LoggingNotifier struct {
	logger Logger
}

// NewLoggingNotifier creates a new LoggingNotifier.
func NewLoggingNotifier(logger Logger) *LoggingNotifier {
	return &LoggingNotifier{logger: logger}
}

// MessageSent logs the accepted message.
func (n *LoggingNotifier) MessageSent(_ context.Context, msg model.Message) error {
	n.logger.Infof("Message sent: id=%s, to=%s, template=%s, provider_id=%s",
		msg.ID, msg.ToEmail, msg.TemplateKey, msg.ProviderMessageID.String)
	return nil
}

// MessageFailed logs the failed attempt.
func (n *LoggingNotifier) MessageFailed(_ context.Context, msg model.Message, cause error) error {
	n.logger.Warnf("Message failed: id=%s, to=%s, template=%s, attempts=%d, error=%v",
		msg.ID, msg.ToEmail, msg.TemplateKey, msg.Attempts, cause)
	return nil
}

// EventIngested logs the stored event.
func (n *LoggingNotifier) EventIngested(_ context.Context, event model.Event) error {
	n.logger.Infof("Provider event stored: provider_event_id=%s, type=%s, message_id=%s",
		event.ProviderEventID, event.Type, event.MessageID.String)
	return nil
}

// SubscriptionChanged logs the new consent state.
func (n *LoggingNotifier) SubscriptionChanged(_ context.Context, sub model.Subscription) error {
	n.logger.Infof("Subscription %s: id=%s, topic=%s", sub.Status, sub.ID, sub.Topic)
	return nil
}

// notify runs fn and downgrades its error to a warning.
func notify(logger Logger, what string, fn func() error) {
	if err := fn(); err != nil {
		logger.Warnf("Notifier %s failed: %v", what, err)
	}
}

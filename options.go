package courier

import (
	"fmt"
)

// Option is a function that configures a Dispatcher.
//
// Example:
//
//	dispatcher, err := courier.NewDispatcher(
//	    courier.WithMessageStore(courier.NewMessageStore(repos.Message, nil)),
//	    courier.WithDelivery(catalog, smtpSender),
//	    courier.WithSenderIdentity("Acme <no-reply@acme.test>", "support@acme.test"),
//	    courier.WithLogger(logger),
//	)
type Option func(*Dispatcher) error

// WithMessageStore sets the message store the pipeline writes to.
//
// This is a required option for NewDispatcher.
func WithMessageStore(store *MessageStore) Option {
	return func(d *Dispatcher) error {
		if store == nil {
			return fmt.Errorf("message store cannot be nil")
		}
		d.store = store
		return nil
	}
}

// WithDelivery sets the renderer and the sender. Both are required and must not be nil.
//
// This is a required option for NewDispatcher.
//
// Parameters:
//   - renderer: Turns template key + payload into subject/html/text
//   - sender: Hands the rendered email to the provider
func WithDelivery(renderer Renderer, sender Sender) Option {
	return func(d *Dispatcher) error {
		if renderer == nil {
			return fmt.Errorf("renderer cannot be nil")
		}
		if sender == nil {
			return fmt.Errorf("sender cannot be nil")
		}
		d.renderer = renderer
		d.sender = sender
		return nil
	}
}

// WithSenderIdentity sets the From and Reply-To addresses snapshotted on every message.
// From is required.
func WithSenderIdentity(from, replyTo string) Option {
	return func(d *Dispatcher) error {
		if from == "" {
			return fmt.Errorf("from address cannot be empty")
		}
		d.fromEmail = from
		d.replyTo = replyTo
		return nil
	}
}

// WithLogger sets the logger instance for the dispatcher.
// Logger is required and must not be nil.
//
// Use NoopLogger for silent operation or adapters/zaplog for structured logs.
func WithLogger(logger Logger) Option {
	return func(d *Dispatcher) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		d.logger = logger
		return nil
	}
}

// WithNotifier sets an optional notifier for send outcomes.
// If not provided, NoOpNotifier is used.
func WithNotifier(notifier Notifier) Option {
	return func(d *Dispatcher) error {
		if notifier == nil {
			return fmt.Errorf("notifier cannot be nil")
		}
		d.notifier = notifier
		return nil
	}
}

// WithMetrics sets an optional metrics sink. If not provided, NoopMetrics is used.
func WithMetrics(metrics Metrics) Option {
	return func(d *Dispatcher) error {
		if metrics == nil {
			return fmt.Errorf("metrics cannot be nil")
		}
		d.metrics = metrics
		return nil
	}
}

// WithDefaultMode sets the mode used when a request leaves Mode unset.
// The default is ModeSync.
func WithDefaultMode(mode DispatchMode) Option {
	return func(d *Dispatcher) error {
		switch mode {
		case ModeSync, ModeFireAndForget:
			d.defaultMode = mode
			return nil
		}
		return fmt.Errorf("unknown dispatch mode %q", mode)
	}
}

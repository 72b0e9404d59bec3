// Package courier turns business events into durable, idempotent, retryable
// outbound email while honoring per-user and per-topic consent, and reconciles
// asynchronous provider delivery events.
//
// Works both as a library embedded in the application that owns users and
// content AND as a standalone service with a REST API (cmd/courier-server).
//
// # Features
//
//   - Idempotent dispatch: a reused idempotency key returns the original message
//     without rendering or sending again; a different request under the same key
//     is a Conflict
//   - Rendered snapshots: subject, HTML and text are stored on the message, so
//     retries resend exactly what was rendered the first time
//   - Manual retries only: a failed send stays failed until an operator retries it
//   - Provider event deduplication keyed by the provider's event id
//   - Consent: per-topic subscriptions with unguessable unsubscribe tokens plus
//     per-user preference flags with an editorial master switch
//   - Recipient resolution for editorial topics, merging subscribers and account
//     holders into one deduplicated list
//   - Rate-limited public subscribe/unsubscribe that never reveals whether a
//     token exists
//   - Options Pattern for service configuration
//   - Multi-Database Support: MySQL, PostgreSQL, SQLite via Relica adapters
//   - Embedded Migrations for easy database setup
//
// # Quick Start
//
// Apply the embedded migrations and create the repositories:
//
//	db, _ := sql.Open("sqlite3", "courier.db")
//	if _, err := courier.ApplyMigrations(ctx, db, "sqlite3"); err != nil {
//	    log.Fatal(err)
//	}
//	repos := relica.NewRepositories(db, "sqlite3")
//
// Create the dispatcher:
//
//	catalog, _ := templates.Default()
//	dispatcher, _ := courier.NewDispatcher(
//	    courier.WithMessageStore(courier.NewMessageStore(repos.Message, nil)),
//	    courier.WithDelivery(catalog, smtpSender),
//	    courier.WithSenderIdentity("Acme <no-reply@acme.test>", ""),
//	    courier.WithLogger(logger),
//	)
//
// Send a templated email:
//
//	res, err := dispatcher.Dispatch(ctx, courier.DispatchRequest{
//	    TemplateKey:    "password-changed",
//	    To:             "ada@example.com",
//	    IdempotencyKey: "password-changed:" + eventID,
//	    Payload:        model.Data{"name": "Ada"},
//	    Mode:           courier.ModeFireAndForget,
//	})
//
// # Message Lifecycle
//
//	queued → sent → delivered | bounced | complained | opened | clicked
//	queued → failed → (operator retry) → queued → ...
//
// Provider events move the status through the configured
// StatusTransitionPolicy. PermissivePolicy applies whatever arrives;
// ForwardOnlyPolicy ignores events that would move a message backwards.
//
// # Database Schema
//
// The embedded migrations create five tables:
//
//	courier_message       - Outbound messages with their rendered snapshot
//	courier_event         - Provider delivery events, unique per provider event id
//	courier_subscription  - Per-topic subscriptions with unsubscribe tokens
//	courier_preference    - Per-user consent flags
//	courier_user          - Read-only user directory (replaceable by a view)
//
// Table prefix can be customized (default: "courier_").
package courier

// Package app assembles the courier services from storage, delivery and
// policy collaborators.
package app

import (
	"fmt"
	"net/http"

	"github.com/coregx/courier"
	"github.com/coregx/courier/ratelimit"
	"github.com/coregx/courier/webhook/resend"
)

// Storage is the set of repositories the engine runs on.
type Storage struct {
	Messages      courier.MessageRepository
	Events        courier.EventRepository
	Subscriptions courier.SubscriptionRepository
	Preferences   courier.PreferenceRepository
	Users         courier.UserDirectory

	// Tx makes event ingestion atomic. Optional.
	Tx courier.Transactor
}

// Deps holds everything Build needs.
type Deps struct {
	Storage  Storage
	Renderer courier.Renderer
	Sender   courier.Sender
	Limiter  ratelimit.Limiter // nil disables rate limiting
	Logger   courier.Logger
	Metrics  courier.Metrics // nil means NoopMetrics
	Notifier courier.Notifier // nil means LoggingNotifier

	From           string
	ReplyTo        string
	UnsubscribeURL string
	PreferencesURL string
	DefaultMode    courier.DispatchMode
	ForwardOnly    bool // Reject backward status transitions from provider events

	WebhookVerifier *resend.Verifier // nil accepts unsigned webhooks
}

// Engine is the assembled set of services.
type Engine struct {
	Dispatcher  *courier.Dispatcher
	Ingestor    *courier.EventIngestor
	Consent     *courier.ConsentStore
	Resolver    *courier.RecipientResolver
	Broadcaster *courier.Broadcaster
	Public      *courier.PublicService
	Preferences *courier.PreferenceCenter
	Admin       *courier.AdminService
	Webhook     http.Handler
}

// Build wires the services together.
func Build(d Deps) (*Engine, error) {
	if d.Logger == nil {
		d.Logger = &courier.NoopLogger{}
	}
	if d.Metrics == nil {
		d.Metrics = courier.NoopMetrics{}
	}
	if d.Notifier == nil {
		d.Notifier = courier.NewLoggingNotifier(d.Logger)
	}
	if d.DefaultMode == "" {
		d.DefaultMode = courier.ModeSync
	}

	var policy courier.StatusTransitionPolicy = courier.PermissivePolicy{}
	if d.ForwardOnly {
		policy = courier.ForwardOnlyPolicy{}
	}

	s := d.Storage
	e := &Engine{}
	var err error

	e.Dispatcher, err = courier.NewDispatcher(
		courier.WithMessageStore(courier.NewMessageStore(s.Messages, policy)),
		courier.WithDelivery(d.Renderer, d.Sender),
		courier.WithSenderIdentity(d.From, d.ReplyTo),
		courier.WithLogger(d.Logger),
		courier.WithNotifier(d.Notifier),
		courier.WithMetrics(d.Metrics),
		courier.WithDefaultMode(d.DefaultMode),
	)
	if err != nil {
		return nil, fmt.Errorf("dispatcher: %w", err)
	}

	ingestOpts := []courier.IngestorOption{
		courier.WithIngestRepositories(s.Events, s.Messages),
		courier.WithIngestPolicy(policy),
		courier.WithIngestLogger(d.Logger),
		courier.WithIngestNotifier(d.Notifier),
		courier.WithIngestMetrics(d.Metrics),
	}
	if s.Tx != nil {
		ingestOpts = append(ingestOpts, courier.WithIngestTransactor(s.Tx))
	}
	e.Ingestor, err = courier.NewEventIngestor(ingestOpts...)
	if err != nil {
		return nil, fmt.Errorf("event ingestor: %w", err)
	}

	e.Consent, err = courier.NewConsentStore(
		courier.WithConsentRepositories(s.Subscriptions, s.Preferences),
		courier.WithConsentLogger(d.Logger),
		courier.WithConsentNotifier(d.Notifier),
	)
	if err != nil {
		return nil, fmt.Errorf("consent store: %w", err)
	}

	e.Resolver, err = courier.NewRecipientResolver(
		courier.WithResolverSources(s.Subscriptions, s.Preferences, s.Users),
		courier.WithResolverLogger(d.Logger),
		courier.WithPreferencesURL(d.PreferencesURL),
	)
	if err != nil {
		return nil, fmt.Errorf("recipient resolver: %w", err)
	}

	e.Broadcaster, err = courier.NewBroadcaster(
		courier.WithBroadcastPipeline(e.Resolver, e.Dispatcher),
		courier.WithBroadcastLogger(d.Logger),
		courier.WithUnsubscribeURL(d.UnsubscribeURL),
	)
	if err != nil {
		return nil, fmt.Errorf("broadcaster: %w", err)
	}

	e.Public, err = courier.NewPublicService(
		courier.WithPublicConsent(e.Consent),
		courier.WithRateLimiter(d.Limiter),
		courier.WithPublicLogger(d.Logger),
		courier.WithPublicMetrics(d.Metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("public service: %w", err)
	}

	e.Preferences, err = courier.NewPreferenceCenter(e.Consent, nil)
	if err != nil {
		return nil, fmt.Errorf("preference center: %w", err)
	}

	e.Admin, err = courier.NewAdminService(
		courier.WithAdminRepositories(s.Messages, s.Events),
		courier.WithAdminDispatcher(e.Dispatcher),
		courier.WithAdminResolver(e.Resolver),
		courier.WithAdminLogger(d.Logger),
	)
	if err != nil {
		return nil, fmt.Errorf("admin service: %w", err)
	}

	e.Webhook = resend.NewHandler(e.Ingestor, d.WebhookVerifier, d.Logger)
	return e, nil
}

package courier_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/coregx/courier"
	"github.com/coregx/courier/adapters/memory"
	"github.com/coregx/courier/model"
	"github.com/stretchr/testify/require"
)

// stubRenderer renders "<key>: <title>" and counts calls.
type stubRenderer struct {
	calls atomic.Int32
}

func (r *stubRenderer) Render(_ context.Context, key string, payload model.Data) (courier.Rendered, error) {
	r.calls.Add(1)
	if key == "unknown" {
		return courier.Rendered{}, courier.NewError(courier.ErrCodeValidation, "unknown template")
	}
	title, _ := payload["title"].(string)
	return courier.Rendered{
		Subject: fmt.Sprintf("%s: %s", key, title),
		HTML:    "<p>" + title + "</p>",
		Text:    title,
	}, nil
}

// stubSender fails the next failNext sends, then succeeds.
type stubSender struct {
	mu       sync.Mutex
	failNext int
	sent     []courier.OutboundEmail
	calls    int
}

func (s *stubSender) Name() string { return "stub" }

func (s *stubSender) Send(_ context.Context, email courier.OutboundEmail) (courier.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.failNext > 0 {
		s.failNext--
		return courier.SendResult{}, errors.New("smtp: 421 service not available")
	}
	s.sent = append(s.sent, email)
	return courier.SendResult{ProviderMessageID: fmt.Sprintf("prov-%d", s.calls)}, nil
}

func (s *stubSender) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubSender) FailNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = n
}

type harness struct {
	repos      *memory.Repositories
	renderer   *stubRenderer
	sender     *stubSender
	store      *courier.MessageStore
	dispatcher *courier.Dispatcher
	consent    *courier.ConsentStore
	resolver   *courier.RecipientResolver
	ingestor   *courier.EventIngestor
	admin      *courier.AdminService
}

func newHarness(t *testing.T, opts ...courier.Option) *harness {
	t.Helper()

	h := &harness{
		repos:    memory.NewRepositories(),
		renderer: &stubRenderer{},
		sender:   &stubSender{},
	}
	logger := &courier.NoopLogger{}
	h.store = courier.NewMessageStore(h.repos.Message, nil)

	var err error
	h.dispatcher, err = courier.NewDispatcher(append([]courier.Option{
		courier.WithMessageStore(h.store),
		courier.WithDelivery(h.renderer, h.sender),
		courier.WithSenderIdentity("Acme <no-reply@acme.test>", "support@acme.test"),
		courier.WithLogger(logger),
	}, opts...)...)
	require.NoError(t, err)

	h.consent, err = courier.NewConsentStore(
		courier.WithConsentRepositories(h.repos.Subscription, h.repos.Preference),
		courier.WithConsentLogger(logger),
	)
	require.NoError(t, err)

	h.resolver, err = courier.NewRecipientResolver(
		courier.WithResolverSources(h.repos.Subscription, h.repos.Preference, h.repos.Users),
		courier.WithResolverLogger(logger),
		courier.WithPreferencesURL("https://acme.test/account/email"),
	)
	require.NoError(t, err)

	h.ingestor, err = courier.NewEventIngestor(
		courier.WithIngestRepositories(h.repos.Event, h.repos.Message),
		courier.WithIngestLogger(logger),
	)
	require.NoError(t, err)

	h.admin, err = courier.NewAdminService(
		courier.WithAdminRepositories(h.repos.Message, h.repos.Event),
		courier.WithAdminDispatcher(h.dispatcher),
		courier.WithAdminResolver(h.resolver),
		courier.WithAdminLogger(logger),
	)
	require.NoError(t, err)

	return h
}

func (h *harness) dispatch(t *testing.T, req courier.DispatchRequest) courier.DispatchResult {
	t.Helper()
	res, err := h.dispatcher.Dispatch(context.Background(), req)
	require.NoError(t, err)
	return res
}

func (h *harness) load(t *testing.T, id string) model.Message {
	t.Helper()
	msg, err := h.repos.Message.Load(context.Background(), id)
	require.NoError(t, err)
	return msg
}

func boolPtr(b bool) *bool { return &b }

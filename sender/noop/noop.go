// Package noop provides a Sender that accepts every message without sending it.
// Use it in development and in tests of the HTTP layer.
package noop

import (
	"context"
	"sync"

	"github.com/coregx/courier"
	"github.com/google/uuid"
)

// Sender records accepted emails in memory.
type Sender struct {
	mu   sync.Mutex
	sent []courier.OutboundEmail
}

var _ courier.Sender = (*Sender)(nil)

// New creates a noop sender.
func New() *Sender {
	return &Sender{}
}

// Name implements courier.Sender.
func (s *Sender) Name() string { return "noop" }

// Send accepts the email and returns a generated provider id.
func (s *Sender) Send(ctx context.Context, email courier.OutboundEmail) (courier.SendResult, error) {
	if err := ctx.Err(); err != nil {
		return courier.SendResult{}, err
	}
	s.mu.Lock()
	s.sent = append(s.sent, email)
	s.mu.Unlock()
	return courier.SendResult{ProviderMessageID: "noop-" + uuid.NewString()}, nil
}

// Sent returns a copy of every accepted email.
func (s *Sender) Sent() []courier.OutboundEmail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]courier.OutboundEmail(nil), s.sent...)
}

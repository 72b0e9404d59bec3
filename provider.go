package courier

import (
	"context"

	"github.com/coregx/courier/model"
)

// Rendered is the output of a template render.
type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

// Renderer turns a template key and payload into email content.
// Implementations must be pure: same input, same output, no side effects.
type Renderer interface {
	// Render returns a ValidationError for unknown template keys.
	Render(ctx context.Context, templateKey string, payload model.Data) (Rendered, error)
}

// RendererFunc adapts a plain function to Renderer.
type RendererFunc func(ctx context.Context, templateKey string, payload model.Data) (Rendered, error)

// Render calls f.
func (f RendererFunc) Render(ctx context.Context, templateKey string, payload model.Data) (Rendered, error) {
	return f(ctx, templateKey, payload)
}

// OutboundEmail is what a Sender transmits.
type OutboundEmail struct {
	MessageID string // Courier message id, usable as a provider tag
	From      string
	To        string
	ReplyTo   string
	Subject   string
	HTML      string
	Text      string
	Headers   map[string]string
}

// SendResult carries the provider's handle for an accepted message.
type SendResult struct {
	ProviderMessageID string
}

// Sender hands an email to a delivery provider.
// Timeouts are the sender's responsibility.
type Sender interface {
	// Name identifies the provider, stored on every message.
	Name() string

	// Send returns an error when the provider did not accept the message.
	Send(ctx context.Context, email OutboundEmail) (SendResult, error)
}

// outboundFromMessage rebuilds the send request from a stored snapshot.
func outboundFromMessage(m model.Message) OutboundEmail {
	return OutboundEmail{
		MessageID: m.ID,
		From:      m.FromEmail,
		To:        m.ToEmail,
		ReplyTo:   m.ReplyTo,
		Subject:   m.Subject,
		HTML:      m.HTML,
		Text:      m.TextBody,
	}
}

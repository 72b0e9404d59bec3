// Package smtp sends email over SMTP with go-mail.
package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/coregx/courier"
	gomail "github.com/go-mail/mail"
	"github.com/google/uuid"
)

// TLS modes.
const (
	TLSAuto     = "auto"     // STARTTLS when the server offers it
	TLSStartTLS = "starttls" // same negotiation as auto
	TLSSSL      = "ssl"      // implicit TLS, usually port 465
	TLSNone     = "none"
)

// Config holds the SMTP connection settings.
type Config struct {
	Host               string
	Port               int
	Username           string
	Password           string
	TLSMode            string
	InsecureSkipVerify bool
	Timeout            time.Duration
}

// Sender implements courier.Sender over SMTP.
//
// SMTP returns no message handle, so the sender generates the Message-ID
// header itself and reports it as the provider message id.
type Sender struct {
	cfg    Config
	dialer *gomail.Dialer
}

var _ courier.Sender = (*Sender)(nil)

// New creates an SMTP sender.
func New(cfg Config) (*Sender, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("smtp host is required")
	}
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.TLSMode == "" {
		cfg.TLSMode = TLSAuto
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.Timeout = cfg.Timeout
	d.TLSConfig = &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // opt-in for local relays
	}
	switch cfg.TLSMode {
	case TLSSSL:
		d.SSL = true
	case TLSNone:
		d.StartTLSPolicy = gomail.NoStartTLS
	case TLSAuto, TLSStartTLS:
	default:
		return nil, fmt.Errorf("unknown smtp TLS mode %q", cfg.TLSMode)
	}

	return &Sender{cfg: cfg, dialer: d}, nil
}

// Name implements courier.Sender.
func (s *Sender) Name() string { return "smtp" }

// Send dials the server and transmits one message.
func (s *Sender) Send(ctx context.Context, email courier.OutboundEmail) (courier.SendResult, error) {
	if err := ctx.Err(); err != nil {
		return courier.SendResult{}, err
	}

	msg, messageID := buildMessage(email)
	if err := s.dialer.DialAndSend(msg); err != nil {
		return courier.SendResult{}, fmt.Errorf("smtp send: %w", err)
	}
	return courier.SendResult{ProviderMessageID: messageID}, nil
}

// buildMessage renders a multipart/alternative message (text first, then
// HTML) and returns it with its Message-ID.
func buildMessage(email courier.OutboundEmail) (*gomail.Message, string) {
	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), senderDomain(email.From))

	m := gomail.NewMessage()
	m.SetHeader("From", email.From)
	m.SetHeader("To", email.To)
	m.SetHeader("Subject", email.Subject)
	m.SetHeader("Message-ID", messageID)
	if email.ReplyTo != "" {
		m.SetHeader("Reply-To", email.ReplyTo)
	}
	if email.MessageID != "" {
		m.SetHeader("X-Courier-Message-Id", email.MessageID)
	}
	for k, v := range email.Headers {
		m.SetHeader(k, v)
	}

	switch {
	case email.Text != "" && email.HTML != "":
		m.SetBody("text/plain", email.Text)
		m.AddAlternative("text/html", email.HTML)
	case email.HTML != "":
		m.SetBody("text/html", email.HTML)
	default:
		m.SetBody("text/plain", email.Text)
	}
	return m, messageID
}

// senderDomain extracts the domain of a From value such as "Acme <no-reply@acme.test>".
func senderDomain(from string) string {
	addr := from
	if parsed, err := mail.ParseAddress(from); err == nil {
		addr = parsed.Address
	}
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}

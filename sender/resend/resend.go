// Package resend sends email through the Resend HTTP API.
package resend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coregx/courier"
)

// DefaultBaseURL is the public Resend API endpoint.
const DefaultBaseURL = "https://api.resend.com"

// Sender implements courier.Sender for Resend.
type Sender struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

var _ courier.Sender = (*Sender)(nil)

// Option configures a Sender.
type Option func(*Sender)

// WithBaseURL overrides the API endpoint.
func WithBaseURL(u string) Option {
	return func(s *Sender) { s.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the HTTP client (default: 10s timeout).
func WithHTTPClient(c *http.Client) Option {
	return func(s *Sender) { s.client = c }
}

// New creates a Resend sender.
func New(apiKey string, opts ...Option) (*Sender, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("resend API key is required")
	}
	s := &Sender{
		apiKey:  apiKey,
		baseURL: DefaultBaseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Name implements courier.Sender.
func (s *Sender) Name() string { return "resend" }

type tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type sendRequest struct {
	From    string            `json:"from"`
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html,omitempty"`
	Text    string            `json:"text,omitempty"`
	ReplyTo string            `json:"reply_to,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Tags    []tag             `json:"tags,omitempty"`
}

type sendResponse struct {
	ID string `json:"id"`
}

type errorResponse struct {
	StatusCode int    `json:"statusCode"`
	Name       string `json:"name"`
	Message    string `json:"message"`
}

// Send posts the email to /emails and returns Resend's email id.
func (s *Sender) Send(ctx context.Context, email courier.OutboundEmail) (courier.SendResult, error) {
	body := sendRequest{
		From:    email.From,
		To:      []string{email.To},
		Subject: email.Subject,
		HTML:    email.HTML,
		Text:    email.Text,
		ReplyTo: email.ReplyTo,
		Headers: email.Headers,
	}
	if email.MessageID != "" {
		body.Tags = []tag{{Name: "courier_message_id", Value: email.MessageID}}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return courier.SendResult{}, fmt.Errorf("encode resend request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/emails", bytes.NewReader(payload))
	if err != nil {
		return courier.SendResult{}, fmt.Errorf("build resend request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return courier.SendResult{}, fmt.Errorf("resend request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return courier.SendResult{}, fmt.Errorf("read resend response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr errorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Message != "" {
			return courier.SendResult{}, fmt.Errorf("resend: %d %s: %s", resp.StatusCode, apiErr.Name, apiErr.Message)
		}
		return courier.SendResult{}, fmt.Errorf("resend: unexpected status %d", resp.StatusCode)
	}

	var out sendResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return courier.SendResult{}, fmt.Errorf("decode resend response: %w", err)
	}
	if out.ID == "" {
		return courier.SendResult{}, fmt.Errorf("resend: response without id")
	}
	return courier.SendResult{ProviderMessageID: out.ID}, nil
}

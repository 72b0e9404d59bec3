// Package resend maps Resend webhooks onto courier provider events.
//
// Resend delivers webhooks through Svix: every request carries svix-id,
// svix-timestamp and svix-signature headers. The svix-id is stable across
// redeliveries and becomes the provider event id, which is what makes
// redelivered webhooks idempotent.
package resend

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coregx/courier"
	"github.com/coregx/courier/model"
)

// Svix header names.
const (
	HeaderID        = "svix-id"
	HeaderTimestamp = "svix-timestamp"
	HeaderSignature = "svix-signature"
)

// DefaultTolerance is the accepted clock skew of svix-timestamp.
const DefaultTolerance = 5 * time.Minute

// ErrInvalidSignature is returned when a webhook fails verification.
var ErrInvalidSignature = errors.New("resend webhook: invalid signature")

var eventTypes = map[string]model.EventType{
	"email.sent":             model.EventSent,
	"email.delivered":        model.EventDelivered,
	"email.delivery_delayed": model.EventDeliveryDelayed,
	"email.bounced":          model.EventBounced,
	"email.complained":       model.EventComplained,
	"email.opened":           model.EventOpened,
	"email.clicked":          model.EventClicked,
	"email.failed":           model.EventFailed,
	"email.suppressed":       model.EventSuppressed,
	"email.scheduled":        model.EventScheduled,
}

type webhook struct {
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

type webhookData struct {
	EmailID string   `json:"email_id"`
	To      []string `json:"to"`
}

// Parse maps a Resend webhook body into a ProviderEvent. svixID is the value
// of the svix-id header; when empty the id is derived from the payload.
// Unknown event types return a ValidationError.
func Parse(body []byte, svixID string) (courier.ProviderEvent, error) {
	var w webhook
	if err := json.Unmarshal(body, &w); err != nil {
		return courier.ProviderEvent{}, courier.NewErrorWithCause(courier.ErrCodeValidation, "malformed resend webhook", err)
	}

	eventType, ok := eventTypes[w.Type]
	if !ok {
		return courier.ProviderEvent{}, courier.NewError(courier.ErrCodeValidation, fmt.Sprintf("unsupported resend event type %q", w.Type))
	}

	var data webhookData
	if len(w.Data) > 0 {
		if err := json.Unmarshal(w.Data, &data); err != nil {
			return courier.ProviderEvent{}, courier.NewErrorWithCause(courier.ErrCodeValidation, "malformed resend webhook data", err)
		}
	}

	payload := model.Data{}
	if len(w.Data) > 0 {
		_ = json.Unmarshal(w.Data, &payload)
	}

	id := svixID
	if id == "" {
		id = fmt.Sprintf("resend:%s:%s:%d", w.Type, data.EmailID, w.CreatedAt.UnixNano())
	}

	event := courier.ProviderEvent{
		ProviderEventID:   id,
		Type:              eventType,
		ProviderMessageID: data.EmailID,
		OccurredAt:        w.CreatedAt,
		Payload:           payload,
	}
	if len(data.To) > 0 {
		event.Email = model.NormalizeEmail(data.To[0])
	}
	return event, nil
}

// Verifier checks Svix signatures.
type Verifier struct {
	secret    []byte
	tolerance time.Duration
	now       func() time.Time
}

// NewVerifier creates a verifier from the signing secret shown in the
// Resend dashboard ("whsec_..." followed by base64).
func NewVerifier(secret string) (*Verifier, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, "whsec_"))
	if err != nil {
		return nil, fmt.Errorf("decode webhook secret: %w", err)
	}
	if len(key) == 0 {
		return nil, fmt.Errorf("webhook secret is empty")
	}
	return &Verifier{secret: key, tolerance: DefaultTolerance, now: time.Now}, nil
}

// Verify checks the signature headers against body.
func (v *Verifier) Verify(header http.Header, body []byte) error {
	id := header.Get(HeaderID)
	ts := header.Get(HeaderTimestamp)
	sigs := header.Get(HeaderSignature)
	if id == "" || ts == "" || sigs == "" {
		return ErrInvalidSignature
	}

	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrInvalidSignature
	}
	skew := v.now().Sub(time.Unix(sec, 0))
	if skew > v.tolerance || skew < -v.tolerance {
		return ErrInvalidSignature
	}

	expected := v.sign(id, ts, body)
	for _, part := range strings.Fields(sigs) {
		version, sig, ok := strings.Cut(part, ",")
		if !ok || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

func (v *Verifier) sign(id, ts string, body []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write([]byte(id + "." + ts + "."))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

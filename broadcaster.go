package courier

import (
	"context"
	"fmt"
	"net/url"

	"github.com/coregx/courier/model"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Broadcaster fans an editorial email out to every consenting recipient of a topic.
type Broadcaster struct {
	resolver       *RecipientResolver
	dispatcher     *Dispatcher
	unsubscribeURL string
	logger         Logger
}

// BroadcasterOption configures a Broadcaster.
type BroadcasterOption func(*Broadcaster) error

// NewBroadcaster creates a new Broadcaster with the provided options.
//
// Required options:
//   - WithBroadcastPipeline: resolver and dispatcher
//   - WithBroadcastLogger: logger instance
//
// Optional options:
//   - WithUnsubscribeURL: base link; the token is appended as ?token=
func NewBroadcaster(opts ...BroadcasterOption) (*Broadcaster, error) {
	b := &Broadcaster{}

	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, NewErrorWithCause(ErrCodeConfiguration, "failed to apply broadcaster option", err)
		}
	}

	if b.resolver == nil || b.dispatcher == nil {
		return nil, NewError(ErrCodeConfiguration, "RecipientResolver and Dispatcher are required (use WithBroadcastPipeline)")
	}
	if b.logger == nil {
		return nil, NewError(ErrCodeConfiguration, "Logger is required (use WithBroadcastLogger)")
	}

	return b, nil
}

// WithBroadcastPipeline sets the resolver and the dispatcher.
func WithBroadcastPipeline(resolver *RecipientResolver, dispatcher *Dispatcher) BroadcasterOption {
	return func(b *Broadcaster) error {
		if resolver == nil {
			return fmt.Errorf("resolver cannot be nil")
		}
		if dispatcher == nil {
			return fmt.Errorf("dispatcher cannot be nil")
		}
		b.resolver = resolver
		b.dispatcher = dispatcher
		return nil
	}
}

// WithBroadcastLogger sets the logger instance. Logger is required.
func WithBroadcastLogger(logger Logger) BroadcasterOption {
	return func(b *Broadcaster) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		b.logger = logger
		return nil
	}
}

// WithUnsubscribeURL sets the public unsubscribe link base.
func WithUnsubscribeURL(base string) BroadcasterOption {
	return func(b *Broadcaster) error {
		if base != "" {
			if _, err := url.Parse(base); err != nil {
				return fmt.Errorf("invalid unsubscribe URL: %w", err)
			}
		}
		b.unsubscribeURL = base
		return nil
	}
}

// BroadcastRequest represents one editorial campaign.
type BroadcastRequest struct {
	Topic       model.Topic `json:"topic"`
	TemplateKey string      `json:"templateKey"`
	CampaignKey string      `json:"campaignKey"` // Stable per campaign, e.g. the post slug
	Payload     model.Data  `json:"payload,omitempty"`
}

// Validate checks the request fields.
func (r BroadcastRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Topic, validation.Required, validation.In(topicValues(model.EditorialTopics)...)),
		validation.Field(&r.TemplateKey, validation.Required, validation.Length(1, 128)),
		validation.Field(&r.CampaignKey, validation.Required, validation.Length(1, 128)),
	)
}

// BroadcastResult counts per-recipient outcomes.
type BroadcastResult struct {
	Recipients int `json:"recipients"`
	Sent       int `json:"sent"`
	Failed     int `json:"failed"`
	Duplicate  int `json:"duplicate"` // Already sent by an earlier run of the same campaign
}

// Broadcast resolves the topic's recipients and dispatches once per recipient.
//
// Each message uses the idempotency key "<topic>:<campaignKey>:<email>", so
// re-running a campaign only reaches recipients that were missed. Every
// payload gets the recipient's unsubscribeToken (and unsubscribeUrl) or, for
// account-only recipients, preferencesUrl. Per-recipient failures never abort
// the batch.
func (b *Broadcaster) Broadcast(ctx context.Context, req BroadcastRequest) (BroadcastResult, error) {
	var result BroadcastResult

	if err := validationError("invalid broadcast request", req.Validate()); err != nil {
		return result, err
	}

	recipients, err := b.resolver.ResolveEditorialRecipients(ctx, req.Topic)
	if err != nil {
		return result, err
	}
	result.Recipients = len(recipients)

	for _, r := range recipients {
		res, err := b.dispatcher.Dispatch(ctx, DispatchRequest{
			TemplateKey:    req.TemplateKey,
			To:             r.Email,
			ToUserID:       r.UserID,
			Topic:          req.Topic,
			MessageType:    model.MessageTypeEditorial,
			IdempotencyKey: fmt.Sprintf("%s:%s:%s", req.Topic, req.CampaignKey, r.Email),
			Payload:        b.recipientPayload(req.Payload, r),
			Metadata:       model.Data{"campaignKey": req.CampaignKey},
			Mode:           ModeSync,
		})
		switch {
		case IsConflict(err):
			// The key already holds this campaign's message for the address; only
			// the per-recipient links changed since (e.g. the user subscribed).
			result.Duplicate++
		case err != nil:
			result.Failed++
			b.logger.Warnf("Broadcast %s/%s: recipient %s failed: %v", req.Topic, req.CampaignKey, r.Email, err)
		case res.Replayed:
			result.Duplicate++
		default:
			result.Sent++
		}
	}

	b.logger.Infof("Broadcast %s/%s finished: recipients=%d, sent=%d, failed=%d, duplicate=%d",
		req.Topic, req.CampaignKey, result.Recipients, result.Sent, result.Failed, result.Duplicate)

	return result, nil
}

func (b *Broadcaster) recipientPayload(base model.Data, r model.Recipient) model.Data {
	payload := base.Clone()
	payload["email"] = r.Email
	if r.HasToken() {
		payload["unsubscribeToken"] = r.UnsubscribeToken
		if b.unsubscribeURL != "" {
			payload["unsubscribeUrl"] = b.unsubscribeURL + "?token=" + url.QueryEscape(r.UnsubscribeToken)
		}
		return payload
	}
	payload["preferencesUrl"] = r.PreferencesURL
	return payload
}

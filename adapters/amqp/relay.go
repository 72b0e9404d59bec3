// Package amqp relays provider events from a RabbitMQ queue into the engine.
//
// Deployments that terminate provider webhooks at an edge collector publish
// the raw callbacks to a durable queue; the Relay consumes them with manual
// acknowledgements and hands each one to a courier.Ingester. Because event
// ingestion is idempotent on the provider event id, redelivered messages are
// harmless.
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/coregx/courier"
	"github.com/coregx/courier/retry"
	"github.com/streadway/amqp"
)

// DefaultQueue is the queue consumed when none is configured.
const DefaultQueue = "courier.provider_events"

// Decoder turns a delivery into a provider event. Returning a validation
// error drops the message.
type Decoder func(d amqp.Delivery) (courier.ProviderEvent, error)

// DecodeProviderEvent decodes a delivery whose body is a JSON courier.ProviderEvent.
func DecodeProviderEvent(d amqp.Delivery) (courier.ProviderEvent, error) {
	var event courier.ProviderEvent
	if err := json.Unmarshal(d.Body, &event); err != nil {
		return event, courier.NewErrorWithCause(courier.ErrCodeValidation, "malformed provider event", err)
	}
	return event, nil
}

// HeaderString returns a string header of d, or "".
func HeaderString(d amqp.Delivery, key string) string {
	switch v := d.Headers[key].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	}
	return ""
}

type outcome int

const (
	ack outcome = iota
	drop
	requeue
)

// Relay consumes provider events from an AMQP queue.
type Relay struct {
	url      string
	queue    string
	prefetch int
	ingester courier.Ingester
	decode   Decoder
	strategy retry.Strategy
	logger   courier.Logger

	mu   sync.Mutex
	conn *amqp.Connection
}

// Option configures a Relay.
type Option func(*Relay) error

// NewRelay creates a relay.
//
// Required: url and ingester.
//
// Optional options:
//   - WithQueue: queue name (default: courier.provider_events)
//   - WithPrefetch: unacknowledged deliveries in flight (default: 10)
//   - WithDecoder: body decoding (default: DecodeProviderEvent)
//   - WithReconnectStrategy: backoff between reconnects (default: retry.DefaultStrategy)
//   - WithLogger
func NewRelay(url string, ingester courier.Ingester, opts ...Option) (*Relay, error) {
	if url == "" {
		return nil, courier.NewError(courier.ErrCodeConfiguration, "AMQP url is required")
	}
	if ingester == nil {
		return nil, courier.NewError(courier.ErrCodeConfiguration, "Ingester is required")
	}

	r := &Relay{
		url:      url,
		queue:    DefaultQueue,
		prefetch: 10,
		ingester: ingester,
		decode:   DecodeProviderEvent,
		strategy: retry.DefaultStrategy(),
		logger:   &courier.NoopLogger{},
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, courier.NewErrorWithCause(courier.ErrCodeConfiguration, "failed to apply relay option", err)
		}
	}

	return r, nil
}

// WithQueue sets the queue name.
func WithQueue(name string) Option {
	return func(r *Relay) error {
		if name == "" {
			return fmt.Errorf("queue name cannot be empty")
		}
		r.queue = name
		return nil
	}
}

// WithPrefetch sets the channel QoS prefetch count.
func WithPrefetch(n int) Option {
	return func(r *Relay) error {
		if n < 1 {
			return fmt.Errorf("prefetch must be positive, got %d", n)
		}
		r.prefetch = n
		return nil
	}
}

// WithDecoder sets the delivery decoder.
func WithDecoder(decode Decoder) Option {
	return func(r *Relay) error {
		if decode == nil {
			return fmt.Errorf("decoder cannot be nil")
		}
		r.decode = decode
		return nil
	}
}

// WithReconnectStrategy sets the backoff used between connection attempts
// and before requeueing a delivery that failed transiently.
func WithReconnectStrategy(s retry.Strategy) Option {
	return func(r *Relay) error {
		r.strategy = s
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(logger courier.Logger) Option {
	return func(r *Relay) error {
		if logger == nil {
			return fmt.Errorf("logger cannot be nil")
		}
		r.logger = logger
		return nil
	}
}

// Run consumes until ctx is cancelled, reconnecting whenever the broker
// connection drops. It returns nil on cancellation.
func (r *Relay) Run(ctx context.Context) error {
	for {
		var deliveries <-chan amqp.Delivery
		err := r.strategy.Do(ctx, func(ctx context.Context) error {
			var err error
			deliveries, err = r.connect()
			return err
		}, func(attempt int, err error) {
			r.logger.Warnf("AMQP connect attempt %d failed: %v", attempt+1, err)
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("connect to AMQP: %w", err)
		}

		r.logger.Infof("AMQP relay consuming queue=%s", r.queue)
		if done := r.consume(ctx, deliveries); done {
			r.close()
			return nil
		}
		r.logger.Warnf("AMQP delivery channel closed, reconnecting")
		r.close()
	}
}

func (r *Relay) connect() (<-chan amqp.Delivery, error) {
	conn, err := amqp.Dial(r.url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if _, err := ch.QueueDeclare(r.queue, true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %s: %w", r.queue, err)
	}
	if err := ch.Qos(r.prefetch, 0, false); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(r.queue, "", false, false, false, false, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("consume %s: %w", r.queue, err)
	}

	r.mu.Lock()
	r.conn = conn
	r.mu.Unlock()
	return deliveries, nil
}

func (r *Relay) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn != nil {
		_ = r.conn.Close()
		r.conn = nil
	}
}

// consume reports true when ctx ended, false when the channel closed.
func (r *Relay) consume(ctx context.Context, deliveries <-chan amqp.Delivery) bool {
	for {
		select {
		case <-ctx.Done():
			return true
		case d, ok := <-deliveries:
			if !ok {
				return false
			}
			r.settle(ctx, d, r.handle(ctx, d))
		}
	}
}

func (r *Relay) settle(ctx context.Context, d amqp.Delivery, o outcome) {
	var err error
	switch o {
	case ack:
		err = d.Ack(false)
	case drop:
		// Acknowledged: redelivering a message that can never be ingested
		// would only block the queue.
		err = d.Ack(false)
	case requeue:
		// Back off before handing the message back so a broken dependency
		// does not turn into a hot redelivery loop.
		_ = r.strategy.Wait(ctx, 0)
		err = d.Nack(false, true)
	}
	if err != nil {
		r.logger.Errorf("Failed to settle delivery %d: %v", d.DeliveryTag, err)
	}
}

// handle decodes and ingests one delivery.
func (r *Relay) handle(ctx context.Context, d amqp.Delivery) outcome {
	event, err := r.decode(d)
	if err != nil {
		if courier.IsValidation(err) {
			r.logger.Warnf("Dropping undecodable delivery %d: %v", d.DeliveryTag, err)
			return drop
		}
		r.logger.Errorf("Failed to decode delivery %d: %v", d.DeliveryTag, err)
		return requeue
	}

	res, err := r.ingester.Ingest(ctx, event)
	switch {
	case err == nil:
		if res.Duplicate {
			r.logger.Debugf("Duplicate provider event %s acknowledged", event.ProviderEventID)
		}
		return ack
	case courier.IsValidation(err):
		r.logger.Warnf("Dropping invalid provider event %s: %v", event.ProviderEventID, err)
		return drop
	case errors.Is(err, context.Canceled):
		return requeue
	default:
		r.logger.Errorf("Failed to ingest provider event %s: %v", event.ProviderEventID, err)
		return requeue
	}
}

package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mikey/phish-guard/internal/core"
	"github.com/mikey/phish-guard/internal/tracing"
	"github.com/mikey/phish-guard/internal/utils"
	"github.com/opentracing/opentracing-go"
	"github.com/pkg/errors"
	"github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	DefaultExchange       = "phish-guard"
	DefaultMaxRetries     = 3
	DefaultPublishTimeout = 5 * time.Second
)

// PublisherConfig tunes delivery of lifecycle events
type PublisherConfig struct {
	Exchange       string
	MaxRetries     int
	PublishTimeout time.Duration
}

// Envelope wraps an event on the wire
type Envelope struct {
	ID          string      `json:"id"`
	Event       *core.Event `json:"event"`
	UberTraceID string      `json:"uber_trace_id,omitempty"`
	PublishedAt time.Time   `json:"published_at"`
}

// RabbitMQPublisher publishes lifecycle events to a topic exchange with
// publisher confirms. The routing key is the event type.
type RabbitMQPublisher struct {
	url    string
	config PublisherConfig
	logger *zap.Logger

	mu         sync.Mutex
	connection *amqp091.Connection
	channel    *amqp091.Channel
}

// NewRabbitMQPublisher dials url and declares the exchange
func NewRabbitMQPublisher(url string, config PublisherConfig, logger *zap.Logger) (*RabbitMQPublisher, error) {
	if config.Exchange == "" {
		config.Exchange = DefaultExchange
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = DefaultPublishTimeout
	}
	p := &RabbitMQPublisher{url: url, config: config, logger: logger}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

// connect requires p.mu
func (p *RabbitMQPublisher) connect() error {
	conn, err := amqp091.Dial(p.url)
	if err != nil {
		return errors.Wrap(err, "failed to connect to RabbitMQ")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return errors.Wrap(err, "failed to open publish channel")
	}
	if err := ch.ExchangeDeclare(p.config.Exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return errors.Wrapf(err, "failed to declare exchange %s", p.config.Exchange)
	}
	if err := ch.Confirm(false); err != nil {
		conn.Close()
		return errors.Wrap(err, "failed to enable publisher confirms")
	}
	p.connection = conn
	p.channel = ch
	return nil
}

func (p *RabbitMQPublisher) ensureChannel() error {
	if p.connection == nil || p.connection.IsClosed() || p.channel == nil || p.channel.IsClosed() {
		if p.connection != nil && !p.connection.IsClosed() {
			p.connection.Close()
		}
		return p.connect()
	}
	return nil
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, event *core.Event) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "RabbitMQPublisher.Publish")
	defer span.Finish()
	tracing.TagEntity(span, event.QuarantineID)
	span.SetTag("event.type", string(event.Type))

	body, err := json.Marshal(NewEnvelope(span, event))
	if err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}

	for attempt := 1; attempt <= p.config.MaxRetries; attempt++ {
		if err = p.publishWithConfirm(ctx, string(event.Type), body); err == nil {
			return nil
		}
		p.logger.Warn("Publish attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		if ctx.Err() != nil {
			break
		}
		if attempt < p.config.MaxRetries {
			time.Sleep(100 * time.Millisecond * time.Duration(attempt))
		}
	}
	tracing.TraceErr(span, err)
	return errors.Wrapf(err, "failed to publish %s", event.Type)
}

func (p *RabbitMQPublisher) publishWithConfirm(ctx context.Context, routingKey string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureChannel(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.PublishTimeout)
	defer cancel()

	confirm, err := p.channel.PublishWithDeferredConfirmWithContext(ctx,
		p.config.Exchange,
		routingKey,
		false,
		false,
		amqp091.Publishing{
			DeliveryMode: amqp091.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		})
	if err != nil {
		return errors.Wrap(err, "failed to publish message")
	}
	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return errors.Wrap(err, "publish confirmation failed")
	}
	if !acked {
		return errors.New("message was not confirmed by server")
	}
	return nil
}

// Close shuts down the channel and connection
func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var err error
	if p.channel != nil {
		err = p.channel.Close()
	}
	if p.connection != nil {
		if closeErr := p.connection.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}

// NewEnvelope stamps an event with an id and the trace of span
func NewEnvelope(span opentracing.Span, event *core.Event) *Envelope {
	env := &Envelope{
		ID:          utils.NewID("evt"),
		Event:       event,
		PublishedAt: time.Now().UTC(),
	}
	if span != nil {
		carrier := opentracing.TextMapCarrier{}
		if err := span.Tracer().Inject(span.Context(), opentracing.TextMap, carrier); err == nil {
			env.UberTraceID = carrier["uber-trace-id"]
		}
	}
	return env
}

package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"player-portal/internal/observability"
	"player-portal/internal/telemetry"
)

const appID = "player-portal"

// Publisher publishes audit records and realtime event mirrors.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// NewPublisher connects to the exchange. Without a URL, or when the broker
// cannot be reached, events are only logged.
func NewPublisher(amqpURL, exchange string) Publisher {
	if amqpURL == "" {
		slog.Info("rabbitmq disabled, using noop", slog.String("reason", "empty amqp url"))
		return noopPublisher{reason: "empty amqp url"}
	}

	p, err := dial(amqpURL, exchange)
	if err != nil {
		slog.Warn("rabbitmq disabled, using noop", slog.String("reason", err.Error()))
		return noopPublisher{reason: err.Error()}
	}
	slog.Info("rabbitmq connected", slog.String("exchange", exchange))
	return p
}

func dial(amqpURL, exchange string) (*amqpPublisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &amqpPublisher{conn: conn, ch: ch, exchange: exchange}, nil
}

type amqpPublisher struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func (p *amqpPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	msg, err := publishing(event, time.Now())
	if err != nil {
		return err
	}

	err = p.ch.PublishWithContext(ctx, p.exchange, routingKey, false, false, msg)
	if err != nil {
		slog.ErrorContext(ctx, "rabbitmq publish failed",
			slog.String("routing_key", routingKey),
			slog.String("type", msg.Type),
			slog.Any("error", err))
	}
	return err
}

// publishing wraps an audit or event envelope into an AMQP message. Consumers
// dedupe on MessageId and join logs on CorrelationId.
func publishing(event any, now time.Time) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, err
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		AppId:        appID,
		Timestamp:    now,
		Headers:      amqp.Table{},
		Body:         body,
	}
	switch envelope := event.(type) {
	case observability.EventEnvelope:
		msg.Type = envelope.EventName
		for key, value := range envelope.Headers {
			msg.Headers[key] = value
		}
		msg.CorrelationId = envelope.Headers["x-request-id"]
	case telemetry.AuditEnvelope:
		msg.Type = envelope.Action
		msg.CorrelationId = envelope.RequestID
		if envelope.TraceID != "" {
			msg.Headers["trace_id"] = envelope.TraceID
		}
	}
	return msg, nil
}

func (p *amqpPublisher) Close() error {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}

type noopPublisher struct {
	reason string
}

func (noopPublisher) Publish(ctx context.Context, routingKey string, event any) error {
	msg, err := publishing(event, time.Now())
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "rabbitmq noop publish",
		slog.String("routing_key", routingKey),
		slog.String("type", msg.Type),
		slog.String("correlation_id", msg.CorrelationId))
	return nil
}

func (noopPublisher) Close() error {
	return nil
}

// PublisherMode reports the publisher mode for logging.
func PublisherMode(p Publisher) string {
	switch p.(type) {
	case *amqpPublisher:
		return "amqp"
	case noopPublisher:
		return "noop"
	default:
		return "unknown"
	}
}

func PublisherNoopReason(p Publisher) string {
	if publisher, ok := p.(noopPublisher); ok {
		return publisher.reason
	}
	return ""
}

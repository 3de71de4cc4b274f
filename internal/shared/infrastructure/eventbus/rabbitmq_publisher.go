package eventbus

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ExchangeName is the topic exchange all nekosync events go through.
// Consumers bind queues with patterns like "license.*" or "sync.#".
const ExchangeName = "nekosync.events"

// RabbitMQPublisher publishes events to a RabbitMQ topic exchange. The
// channel is not safe for concurrent publishes, so a mutex serializes them.
type RabbitMQPublisher struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	logger  *slog.Logger
}

// NewRabbitMQPublisher connects to the broker at url and declares the
// event exchange.
func NewRabbitMQPublisher(url string, logger *slog.Logger) (*RabbitMQPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	durable, autoDelete, internal, noWait := true, false, false, false
	if err := ch.ExchangeDeclare(ExchangeName, "topic", durable, autoDelete, internal, noWait, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", ExchangeName, err)
	}

	logger.Info("event publisher connected", "exchange", ExchangeName)
	return &RabbitMQPublisher{conn: conn, channel: ch, logger: logger}, nil
}

// Publish sends payload to the event exchange under routingKey. Messages
// are persistent so a broker restart does not drop them.
func (p *RabbitMQPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	mandatory, immediate := false, false
	err := p.channel.PublishWithContext(ctx, ExchangeName, routingKey, mandatory, immediate, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		AppId:        "nekosync",
		Body:         payload,
	})
	if err != nil {
		p.logger.Error("failed to publish event", "routing_key", routingKey, "error", err)
		return fmt.Errorf("failed to publish %s: %w", routingKey, err)
	}

	p.logger.Debug("event published", "routing_key", routingKey, "bytes", len(payload))
	return nil
}

// Close shuts down the channel and connection.
func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			p.logger.Warn("failed to close channel", "error", err)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			return err
		}
	}
	return nil
}

// NoopPublisher drops events. Used when no broker is configured; the CLI
// works fine without one.
type NoopPublisher struct {
	logger *slog.Logger
}

// NewNoopPublisher creates a publisher that only logs at debug level.
func NewNoopPublisher(logger *slog.Logger) *NoopPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NoopPublisher{logger: logger}
}

func (p *NoopPublisher) Publish(ctx context.Context, routingKey string, payload []byte) error {
	p.logger.Debug("event dropped, no broker configured", "routing_key", routingKey)
	return nil
}

func (p *NoopPublisher) Close() error { return nil }

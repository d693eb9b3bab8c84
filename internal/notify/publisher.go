// Package notify delivers outbound user notifications over RabbitMQ. The
// notification-send worker is the only producer; downstream delivery
// services (email, push) consume from the exchange.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrClosed is returned when publishing after Close.
var ErrClosed = errors.New("notify: publisher is closed")

// Message is one outbound notification.
type Message struct {
	SessionID uuid.UUID `json:"session_id"`
	Kind      string    `json:"kind"`
	Subject   string    `json:"subject"`
	Body      string    `json:"body"`
	SentAt    time.Time `json:"sent_at"`
}

// Publisher delivers notification messages to an exchange.
type Publisher interface {
	// Publish delivers one message. An error means the message was not
	// handed to the broker; callers rely on job retries for redelivery.
	Publish(ctx context.Context, msg Message) error

	// Close releases the broker connection. Idempotent.
	Close() error
}

// AMQPPublisher implements Publisher over a RabbitMQ connection.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewAMQPPublisher dials the broker and declares the notification exchange.
// If logger is nil, a default logger will be used.
func NewAMQPPublisher(url, exchange string, logger *slog.Logger) (*AMQPPublisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "notify_publisher"))

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to create channel: %w", err)
	}

	err = channel.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		_ = channel.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	logger.Info("notification publisher connected",
		slog.String("exchange", exchange))

	return &AMQPPublisher{
		conn:     conn,
		channel:  channel,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// Ensure AMQPPublisher implements Publisher
var _ Publisher = (*AMQPPublisher)(nil)

// Publish implements Publisher.Publish
// Messages are routed by notification kind, e.g. "notification.render_ready".
func (p *AMQPPublisher) Publish(ctx context.Context, msg Message) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.mu.Unlock()

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	routingKey := "notification." + msg.Kind

	err = p.channel.PublishWithContext(
		ctx,
		p.exchange, // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
		},
	)
	if err != nil {
		p.logger.Error("failed to publish notification",
			slog.Any("error", err),
			slog.String("kind", msg.Kind),
			slog.String("session_id", msg.SessionID.String()))
		return fmt.Errorf("failed to publish notification: %w", err)
	}

	p.logger.Debug("notification published",
		slog.String("kind", msg.Kind),
		slog.String("session_id", msg.SessionID.String()))
	return nil
}

// Close implements Publisher.Close
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if err := p.channel.Close(); err != nil {
		_ = p.conn.Close()
		return fmt.Errorf("failed to close channel: %w", err)
	}
	if err := p.conn.Close(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}
	return nil
}

// NopPublisher is a Publisher that drops every message. Used when no broker
// is configured.
type NopPublisher struct {
	logger *slog.Logger
}

// NewNopPublisher creates a publisher that logs and discards messages.
func NewNopPublisher(logger *slog.Logger) *NopPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NopPublisher{logger: logger.With(slog.String("component", "notify_publisher"))}
}

var _ Publisher = (*NopPublisher)(nil)

// Publish implements Publisher.Publish
func (p *NopPublisher) Publish(_ context.Context, msg Message) error {
	p.logger.Debug("notification discarded, no broker configured",
		slog.String("kind", msg.Kind),
		slog.String("session_id", msg.SessionID.String()))
	return nil
}

// Close implements Publisher.Close
func (p *NopPublisher) Close() error { return nil }

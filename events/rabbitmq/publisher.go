// Package rabbitmq publishes payment events to a RabbitMQ topic exchange.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	amqp "github.com/rabbitmq/amqp091-go"

	x402 "github.com/Zyzgsfi/agentpay"
)

// Defaults used when Config leaves a field empty.
const (
	DefaultExchange       = "agentpay.payments"
	DefaultRoutingPrefix  = "payment"
	DefaultPublishTimeout = 2 * time.Second
)

// Channel is the subset of *amqp.Channel the publisher uses.
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Config configures a Publisher.
type Config struct {
	URL string

	// Exchange is declared as a durable topic exchange.
	Exchange string

	// RoutingPrefix is joined with the event type: "payment.success".
	RoutingPrefix string

	// PublishTimeout bounds each publish.
	PublishTimeout time.Duration

	// DialAttempts is how often Dial tries to connect. Default 5.
	DialAttempts int

	Logger *slog.Logger
}

// Message is the JSON body of a published event.
type Message struct {
	x402.PaymentEvent
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"durationMs"`
}

// Publisher sends PaymentEvents to an exchange.
type Publisher struct {
	conn    *amqp.Connection
	channel Channel
	cfg     Config
	logger  *slog.Logger
}

// Dial connects to cfg.URL with exponential backoff, opens a channel and
// declares the exchange.
func Dial(ctx context.Context, cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq: url is required")
	}
	attempts := cfg.DialAttempts
	if attempts <= 0 {
		attempts = 5
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Second
	b.MaxInterval = 16 * time.Second
	conn, err := backoff.Retry(ctx, func() (*amqp.Connection, error) {
		conn, err := amqp.Dial(cfg.URL)
		if err != nil {
			logger.Warn("rabbitmq dial failed", "error", err)
		}
		return conn, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(attempts)))
	if err != nil {
		return nil, fmt.Errorf("rabbitmq: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("rabbitmq: open channel: %w", err)
	}
	p, err := NewPublisher(ch, cfg)
	if err != nil {
		conn.Close()
		return nil, err
	}
	p.conn = conn
	return p, nil
}

// NewPublisher declares the exchange on ch and returns a Publisher over it.
func NewPublisher(ch Channel, cfg Config) (*Publisher, error) {
	if cfg.Exchange == "" {
		cfg.Exchange = DefaultExchange
	}
	if cfg.RoutingPrefix == "" {
		cfg.RoutingPrefix = DefaultRoutingPrefix
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := ch.ExchangeDeclare(
		cfg.Exchange, // name
		"topic",      // type
		true,         // durable
		false,        // auto-deleted
		false,        // internal
		false,        // no-wait
		nil,          // arguments
	); err != nil {
		return nil, fmt.Errorf("rabbitmq: declare exchange %s: %w", cfg.Exchange, err)
	}
	return &Publisher{channel: ch, cfg: cfg, logger: logger}, nil
}

// Publish sends event with routing key "<prefix>.<type>".
func (p *Publisher) Publish(ctx context.Context, event x402.PaymentEvent) error {
	msg := Message{PaymentEvent: event, DurationMS: event.Duration.Milliseconds()}
	if event.Error != nil {
		msg.Error = event.Error.Error()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.PublishTimeout)
	defer cancel()
	return p.channel.PublishWithContext(ctx,
		p.cfg.Exchange,
		p.RoutingKey(event.Type),
		false, false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    event.Timestamp,
			DeliveryMode: amqp.Persistent,
		},
	)
}

// RoutingKey returns the routing key for events of type t.
func (p *Publisher) RoutingKey(t x402.PaymentEventType) string {
	return p.cfg.RoutingPrefix + "." + string(t)
}

// Callback returns a PaymentCallback that publishes every event and logs
// publish failures.
func (p *Publisher) Callback() x402.PaymentCallback {
	return func(event x402.PaymentEvent) {
		if err := p.Publish(context.Background(), event); err != nil {
			p.logger.Error("failed to publish payment event", "type", event.Type, "tx", event.Transaction, "error", err)
		}
	}
}

// Close closes the channel and, when Dial opened it, the connection.
func (p *Publisher) Close() error {
	err := p.channel.Close()
	if p.conn != nil {
		if cerr := p.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

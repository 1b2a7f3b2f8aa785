// Package bus connects the service to its AMQP broker: a publisher for the
// outbound lifecycle events and the notification channel, and a consumer
// for inbound add-torrent commands with manual acknowledgment.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sethvargo/go-retry"

	"torrentbridge/internal/events"
)

// dialAttempts bounds startup connection retries.
const dialAttempts = 5

// Dial connects to the broker with exponential backoff. The URL is never
// logged because it carries credentials.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*amqp.Connection, error) {
	var conn *amqp.Connection

	backoff := retry.WithMaxRetries(dialAttempts, retry.NewExponential(time.Second))

	err := retry.Do(ctx, backoff, func(_ context.Context) error {
		c, dialErr := amqp.Dial(url)
		if dialErr != nil {
			logger.Warn("amqp dial failed, retrying", slog.String("error", dialErr.Error()))
			return retry.RetryableError(dialErr)
		}

		conn = c

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bus: dialing broker: %w", err)
	}

	logger.Info("connected to amqp broker")

	return conn, nil
}

// Publisher delivers lifecycle events to the main topic exchange and
// polling-failure alerts to a separate notification exchange.
type Publisher struct {
	ch             *amqp.Channel
	exchange       string
	notifyExchange string
	logger         *slog.Logger
}

// NewPublisher opens a channel and declares both exchanges (topic, durable).
func NewPublisher(conn *amqp.Connection, exchange, notifyExchange string, logger *slog.Logger) (*Publisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("bus: opening publisher channel: %w", err)
	}

	for _, name := range []string{exchange, notifyExchange} {
		if err := ch.ExchangeDeclare(name, "topic", true, false, false, false, nil); err != nil {
			ch.Close()
			return nil, fmt.Errorf("bus: declaring exchange %s: %w", name, err)
		}
	}

	return &Publisher{
		ch:             ch,
		exchange:       exchange,
		notifyExchange: notifyExchange,
		logger:         logger,
	}, nil
}

// Publish sends one event to the main exchange under the given routing key.
func (p *Publisher) Publish(ctx context.Context, routingKey string, payload any) error {
	return p.publish(ctx, p.exchange, routingKey, payload)
}

// Notify sends a polling-failure alert to the notification exchange, kept
// apart from the main event stream.
func (p *Publisher) Notify(ctx context.Context, alert events.PollingFailure) error {
	return p.publish(ctx, p.notifyExchange, events.RoutingPollingFailure, alert)
}

func (p *Publisher) publish(ctx context.Context, exchange, routingKey string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("bus: encoding %s payload: %w", routingKey, err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         body,
	}

	if err := p.ch.PublishWithContext(ctx, exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("bus: publishing %s: %w", routingKey, err)
	}

	p.logger.Debug("published message",
		slog.String("exchange", exchange),
		slog.String("routing_key", routingKey),
	)

	return nil
}

// Close closes the publisher channel. The shared connection is closed by
// the daemon.
func (p *Publisher) Close() error {
	return p.ch.Close()
}

// SendCommand enqueues one add-torrent command on the command queue via the
// default exchange. Used by the CLI to inject work without a producer service.
func SendCommand(ctx context.Context, conn *amqp.Connection, queue string, cmd Command) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("bus: opening command channel: %w", err)
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("bus: declaring queue %s: %w", queue, err)
	}

	body, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("bus: encoding command: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Body:         body,
	}

	if err := ch.PublishWithContext(ctx, "", queue, false, false, msg); err != nil {
		return fmt.Errorf("bus: sending command: %w", err)
	}

	return nil
}

package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"

	"torrentbridge/internal/qbit"
)

// Handler processes one validated add-torrent command. A retriable error
// requeues the message; any other error drops it.
type Handler interface {
	Handle(ctx context.Context, cmd Command) error
}

// Consumer reads add-torrent commands from the command queue with manual
// acknowledgment. Retry and dead-lettering policy live at the broker; the
// consumer only decides ack, requeue, or drop per message.
type Consumer struct {
	ch         *amqp.Channel
	queue      string
	categories []string
	handler    Handler
	logger     *slog.Logger
}

// NewConsumer opens a channel, declares the durable command queue, and
// limits prefetch to one in-flight message.
func NewConsumer(conn *amqp.Connection, queue string, categories []string, handler Handler, logger *slog.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("bus: opening consumer channel: %w", err)
	}

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		return nil, fmt.Errorf("bus: declaring queue %s: %w", queue, err)
	}

	if err := ch.Qos(1, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("bus: setting qos: %w", err)
	}

	return &Consumer{
		ch:         ch,
		queue:      queue,
		categories: categories,
		handler:    handler,
		logger:     logger,
	}, nil
}

// ErrDeliveriesClosed reports that the broker closed the delivery channel
// outside of shutdown, meaning the connection or channel died.
var ErrDeliveriesClosed = errors.New("bus: delivery channel closed")

// Run consumes until ctx is canceled or the channel closes.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.ch.ConsumeWithContext(ctx, c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("bus: starting consumer on %s: %w", c.queue, err)
	}

	c.logger.Info("consuming add-torrent commands", slog.String("queue", c.queue))

	return c.consume(ctx, deliveries)
}

// consume drains deliveries until the channel closes. The library closes it
// on shutdown but also when the connection or channel dies; the latter must
// surface as an error, otherwise the daemon would keep polling while
// command consumption is silently dead.
func (c *Consumer) consume(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for delivery := range deliveries {
		c.handleDelivery(ctx, delivery)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	c.logger.Error("broker closed the delivery channel", slog.String("queue", c.queue))

	return fmt.Errorf("%w: %s", ErrDeliveriesClosed, c.queue)
}

// handleDelivery parses, validates, and dispatches one message, then
// acknowledges it according to the error classification.
func (c *Consumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	var cmd Command

	if err := json.Unmarshal(d.Body, &cmd); err != nil {
		c.logger.Warn("discarding malformed command", slog.String("error", err.Error()))
		c.reject(d)

		return
	}

	if err := cmd.Validate(c.categories); err != nil {
		c.logger.Warn("rejecting invalid command",
			slog.String("id", cmd.RequestID),
			slog.String("error", err.Error()),
		)
		c.reject(d)

		return
	}

	if err := c.handler.Handle(ctx, cmd); err != nil {
		if qbit.IsRetriable(err) {
			c.logger.Warn("submit failed, requeueing command",
				slog.String("id", cmd.RequestID),
				slog.String("error", err.Error()),
			)
			c.requeue(d)
		} else {
			c.logger.Error("submit failed permanently, dropping command",
				slog.String("id", cmd.RequestID),
				slog.String("error", err.Error()),
			)
			c.reject(d)
		}

		return
	}

	if err := d.Ack(false); err != nil {
		c.logger.Error("failed to ack command", slog.String("error", err.Error()))
	}
}

func (c *Consumer) reject(d amqp.Delivery) {
	if err := d.Reject(false); err != nil {
		c.logger.Error("failed to reject command", slog.String("error", err.Error()))
	}
}

func (c *Consumer) requeue(d amqp.Delivery) {
	if err := d.Nack(false, true); err != nil {
		c.logger.Error("failed to nack command", slog.String("error", err.Error()))
	}
}

// Close closes the consumer channel, which ends Run's delivery loop.
func (c *Consumer) Close() error {
	return c.ch.Close()
}

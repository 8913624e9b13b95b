package queue

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler processes one message payload. Message bodies carry the same
// base64-encoded event JSON as push delivery, so both paths share a decoder.
type Handler func(ctx context.Context, payload string) error

// AMQPConsumer drains history events from a durable queue. Messages the
// handler reports as permanently unprocessable are dropped, everything else
// is requeued.
type AMQPConsumer struct {
	url            string
	queue          string
	handler        Handler
	isPermanent    func(error) bool
	reconnectDelay time.Duration
	prefetch       int
}

type AMQPConsumerConfig struct {
	URL     string
	Queue   string
	Handler Handler
	// IsPermanent classifies handler errors. Permanent failures are dropped
	// instead of requeued; nil means every failure is retried.
	IsPermanent    func(error) bool
	ReconnectDelay time.Duration
	Prefetch       int
}

func NewAMQPConsumer(cfg AMQPConsumerConfig) (*AMQPConsumer, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("amqp url required")
	}
	queue := strings.TrimSpace(cfg.Queue)
	if queue == "" {
		return nil, errors.New("amqp queue required")
	}
	if cfg.Handler == nil {
		return nil, errors.New("handler required")
	}
	isPermanent := cfg.IsPermanent
	if isPermanent == nil {
		isPermanent = func(error) bool { return false }
	}
	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 5 * time.Second
	}
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 8
	}
	return &AMQPConsumer{
		url:            url,
		queue:          queue,
		handler:        cfg.Handler,
		isPermanent:    isPermanent,
		reconnectDelay: reconnectDelay,
		prefetch:       prefetch,
	}, nil
}

// Run consumes until the context is cancelled, reconnecting on broker loss.
func (c *AMQPConsumer) Run(ctx context.Context) error {
	for {
		if err := c.consume(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			slog.Warn("amqp consumer disconnected", "queue", c.queue, "err", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.reconnectDelay):
		}
	}
}

func (c *AMQPConsumer) consume(ctx context.Context) error {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return err
	}
	q, err := ch.QueueDeclare(c.queue, true, false, false, false, nil)
	if err != nil {
		return err
	}
	deliveries, err := ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	slog.Info("amqp consumer started", "queue", q.Name)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handleDelivery(ctx, d)
		}
	}
}

func (c *AMQPConsumer) handleDelivery(ctx context.Context, d amqp.Delivery) {
	err := c.handler(ctx, string(d.Body))
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			slog.Warn("failed to ack message", "queue", c.queue, "err", ackErr)
		}
		return
	}
	if c.isPermanent(err) {
		slog.Warn("dropping unprocessable message", "queue", c.queue, "err", err)
		_ = d.Nack(false, false)
		return
	}
	slog.Error("message handling failed, requeueing", "queue", c.queue, "err", err)
	_ = d.Nack(false, true)
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/service-order-auth/internal/queue"
)

// AMQPPublisher ships audit events to RabbitMQ.  Publish only enqueues into a
// bounded buffer; Run owns the broker connection and drains the buffer.
// When the buffer is full the event is dropped and logged.
type AMQPPublisher struct {
	url       string
	queueName string
	events    chan queue.AuthEvent
	logger    *slog.Logger
}

func NewAMQPPublisher(url string, buffer int, logger *slog.Logger) *AMQPPublisher {
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AMQPPublisher{
		url:       url,
		queueName: queue.AuthEventsQueue,
		events:    make(chan queue.AuthEvent, buffer),
		logger:    logger.With("module", "service.publisher", "layer", "infrastructure"),
	}
}

// Publish enqueues ev without blocking.
func (p *AMQPPublisher) Publish(_ context.Context, ev queue.AuthEvent) {
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("audit buffer full, event dropped", "event_type", ev.Type, "session_id", ev.SessionID)
	}
}

// Run connects to the broker and publishes buffered events until ctx is
// done.  Connection failures are retried with exponential backoff capped at
// 30s.
func (p *AMQPPublisher) Run(ctx context.Context) {
	backoff := time.Second
	for ctx.Err() == nil {
		err := p.session(ctx)
		if ctx.Err() != nil {
			return
		}
		p.logger.Warn("rabbitmq session ended", "error", err, "retry_in", backoff.String())
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (p *AMQPPublisher) session(ctx context.Context) error {
	conn, err := amqp.Dial(p.url)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(p.queueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	p.logger.Info("rabbitmq publisher connected", "queue", p.queueName)

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case aerr := <-closed:
			return fmt.Errorf("connection closed: %v", aerr)
		case ev := <-p.events:
			if err := p.publish(ctx, ch, ev); err != nil {
				p.logger.Error("publish audit event failed", "event_type", ev.Type, "error", err)
				return err
			}
		}
	}
}

func (p *AMQPPublisher) publish(ctx context.Context, ch *amqp.Channel, ev queue.AuthEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return ch.PublishWithContext(pctx, "", p.queueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         ev.Type,
		Body:         body,
	})
}

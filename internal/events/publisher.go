package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Publisher sends repair requests and domain events to durable queues over
// one broker connection opened at startup.
type Publisher struct {
	conn        *amqp.Connection
	mu          sync.Mutex
	ch          *amqp.Channel
	repairQueue string
	eventsQueue string
	logger      *zap.Logger
}

// NewPublisher dials the broker and declares both queues
func NewPublisher(url, repairQueue, eventsQueue string, logger *zap.Logger) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	for _, name := range []string{repairQueue, eventsQueue} {
		if err := declareQueue(ch, name); err != nil {
			ch.Close()
			conn.Close()
			return nil, err
		}
	}

	return &Publisher{
		conn:        conn,
		ch:          ch,
		repairQueue: repairQueue,
		eventsQueue: eventsQueue,
		logger:      logger,
	}, nil
}

// declareQueue is idempotent; queues are durable so messages survive broker restarts.
func declareQueue(ch *amqp.Channel, name string) error {
	if _, err := ch.QueueDeclare(
		name,  // name
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		nil,   // args
	); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", name, err)
	}
	return nil
}

// EnqueueRepair publishes a repair request
func (p *Publisher) EnqueueRepair(ctx context.Context, req RepairRequest) error {
	if req.RequestedAt.IsZero() {
		req.RequestedAt = time.Now().UTC()
	}
	return p.publish(ctx, p.repairQueue, req)
}

// PublishPaymentCompleted publishes a sale notification
func (p *Publisher) PublishPaymentCompleted(ctx context.Context, event PaymentCompletedEvent) error {
	return p.publish(ctx, p.eventsQueue, event)
}

func (p *Publisher) publish(ctx context.Context, queue string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}

	// amqp channels are not safe for concurrent publishing
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ch.PublishWithContext(ctx,
		"",    // default exchange
		queue, // routing key = queue name
		false, // mandatory
		false, // immediate
		msg,
	); err != nil {
		p.logger.Error("Failed to publish message", zap.String("queue", queue), zap.Error(err))
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}

	return nil
}

// Close releases the channel and the connection
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ch.Close(); err != nil {
		p.logger.Warn("Failed to close channel", zap.Error(err))
	}
	return p.conn.Close()
}

// Nop drops every message. It is injected when no broker is configured;
// the reconciler still converges state without it.
type Nop struct{}

func (Nop) EnqueueRepair(context.Context, RepairRequest) error { return nil }

func (Nop) PublishPaymentCompleted(context.Context, PaymentCompletedEvent) error { return nil }

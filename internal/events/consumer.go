package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Replayer re-invokes an operation described by a repair request
type Replayer interface {
	Replay(ctx context.Context, req RepairRequest) error
}

// RepairConsumer drains the repair queue and hands each request to a Replayer.
// Delivery is at-least-once; replays are safe because every step is idempotent.
type RepairConsumer struct {
	url      string
	queue    string
	replayer Replayer
	logger   *zap.Logger
	delay    func(attempt int) time.Duration
}

// NewRepairConsumer creates a consumer for the given queue
func NewRepairConsumer(url, queue string, replayer Replayer, logger *zap.Logger) *RepairConsumer {
	return &RepairConsumer{
		url:      url,
		queue:    queue,
		replayer: replayer,
		logger:   logger,
		delay:    RepairDelay,
	}
}

// RepairDelay spaces out successive attempts at the same repair
func RepairDelay(attempt int) time.Duration {
	d := time.Duration(attempt) * 2 * time.Second
	if d > time.Minute {
		d = time.Minute
	}
	return d
}

// Run keeps a consumer attached to the broker, reconnecting with backoff,
// until ctx is cancelled.
func (c *RepairConsumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := amqp.Dial(c.url)
		if err != nil {
			c.logger.Warn("Repair consumer failed to dial broker",
				zap.Error(err),
				zap.Duration("retry_in", backoff),
			)
			if !sleep(ctx, backoff) {
				return nil
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return nil
		}

		c.logger.Warn("Repair consume loop ended, reconnecting", zap.Error(err))
		if !sleep(ctx, 2*time.Second) {
			return nil
		}
	}
}

func (c *RepairConsumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(10, 0, false); err != nil {
		c.logger.Warn("Repair consumer failed to set QoS", zap.Error(err))
	}

	if err := declareQueue(ch, c.queue); err != nil {
		return err
	}

	msgs, err := ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	c.logger.Info("Repair consumer started", zap.String("queue", c.queue))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.handle(ctx, d.Body); err != nil {
				c.logger.Error("Repair failed", zap.Error(err))
				// the replayer re-enqueues retryable failures itself, up to
				// a fixed number of attempts; the reconciler covers the rest
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}

func (c *RepairConsumer) handle(ctx context.Context, body []byte) error {
	var req RepairRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("unmarshal repair request: %w", err)
	}
	if req.Operation == "" {
		return errors.New("repair request without operation")
	}

	if !sleep(ctx, c.delay(req.Attempt)) {
		return ctx.Err()
	}

	c.logger.Info("Replaying operation",
		zap.String("operation", req.Operation),
		zap.Int("attempt", req.Attempt),
	)
	return c.replayer.Replay(ctx, req)
}

// sleep waits for d or until ctx is done, reporting whether the full wait elapsed
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/sabaipics/face-indexer/internal/indexing/metrics"
)

// Handler processes one claimed batch. Implementations settle every
// message themselves (Ack or Retry); the consumer only delivers.
type Handler interface {
	HandleBatch(ctx context.Context, msgs []*Message)
}

// Consumer polls a queue and feeds batches to a handler.
type Consumer struct {
	queue   *Queue
	handler Handler
}

// NewConsumer creates a consumer for one queue.
func NewConsumer(q *Queue, handler Handler) *Consumer {
	return &Consumer{queue: q, handler: handler}
}

// Run polls until the context is canceled. An empty poll sleeps the
// configured interval; a non-empty one claims again immediately so a
// backlog drains at full speed.
func (c *Consumer) Run(ctx context.Context) error {
	name := c.queue.cfg.Name
	slog.Info("queue consumer started",
		"queue", name,
		"batch_size", c.queue.cfg.BatchSize,
		"max_attempts", c.queue.cfg.MaxAttempts)

	depthTicker := time.NewTicker(15 * time.Second)
	defer depthTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("queue consumer stopped", "queue", name)
			return nil
		case <-depthTicker.C:
			if depth, err := c.queue.Depth(ctx); err == nil {
				metrics.QueueDepth.WithLabelValues(name).Set(float64(depth))
			}
		default:
		}

		msgs, err := c.queue.Claim(ctx)
		if err != nil {
			slog.Error("failed to claim batch", "queue", name, "error", err)
			if !sleep(ctx, c.queue.cfg.PollInterval) {
				return nil
			}
			continue
		}

		if len(msgs) == 0 {
			if !sleep(ctx, c.queue.cfg.PollInterval) {
				return nil
			}
			continue
		}

		metrics.BatchesClaimed.WithLabelValues(name).Inc()
		c.handler.HandleBatch(ctx, msgs)
	}
}

// sleep waits for d unless the context ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// Package cleanup consumes event-teardown jobs and soft-deletes the
// event's photo rows. Same ack/retry shape as the indexing pipeline,
// without the provider and pacing stages.
package cleanup

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/sabaipics/face-indexer/internal/core/domain"
	"github.com/sabaipics/face-indexer/internal/faceapi"
	"github.com/sabaipics/face-indexer/internal/indexing/metrics"
	"github.com/sabaipics/face-indexer/internal/indexing/telemetry"
	"github.com/sabaipics/face-indexer/internal/infra/queue"
	"github.com/sabaipics/face-indexer/internal/infra/storage"
)

// Default redelivery delay for database failures.
const defaultRetryDelay = time.Minute

// Delivery is one claimed queue message.
type Delivery interface {
	Attempts() int
	Body() []byte
	Ack(ctx context.Context) error
	Retry(ctx context.Context, delay time.Duration, lastErr string) error
}

// Config holds cleanup consumer settings.
type Config struct {
	// RetryDelay is the redelivery delay on database failure. Default: 1m.
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// Orchestrator processes cleanup_event batches.
type Orchestrator struct {
	photos storage.PhotoRepository
	events storage.EventRepository
	faces  faceapi.FaceService
	sink   *telemetry.Sink
	delay  time.Duration
}

// New creates a cleanup orchestrator. The face service tears down the
// event's collection alongside the photo rows.
func New(photos storage.PhotoRepository, events storage.EventRepository, faces faceapi.FaceService, sink *telemetry.Sink, cfg Config) *Orchestrator {
	delay := cfg.RetryDelay
	if delay == 0 {
		delay = defaultRetryDelay
	}
	return &Orchestrator{photos: photos, events: events, faces: faces, sink: sink, delay: delay}
}

// HandleBatch adapts the queue's message type onto Handle.
func (o *Orchestrator) HandleBatch(ctx context.Context, msgs []*queue.Message) {
	for _, m := range msgs {
		o.Handle(ctx, queueDelivery{m})
	}
}

// Handle settles one message: ack on success or when the event never
// existed, retry on database failure.
func (o *Orchestrator) Handle(ctx context.Context, d Delivery) {
	var job domain.CleanupJob
	if err := json.Unmarshal(d.Body(), &job); err != nil {
		slog.Error("malformed cleanup job, acking", "error", err)
		o.ack(ctx, d)
		return
	}
	log := slog.With("event_id", job.EventID, "attempt", d.Attempts())

	exists, err := o.events.Exists(ctx, job.EventID)
	if err != nil {
		o.retry(ctx, d, job.EventID, err)
		return
	}
	if !exists {
		log.Info("event does not exist, acking cleanup")
		o.ack(ctx, d)
		return
	}

	deleted, err := o.photos.SoftDeleteByEvent(ctx, job.EventID)
	if err != nil {
		o.retry(ctx, d, job.EventID, err)
		return
	}

	// Collection teardown is best effort: a leaked provider collection is
	// reclaimable later, the photo soft-deletion is the durable part.
	if err := o.faces.DeleteCollection(ctx, job.EventID); err != nil {
		o.sink.Warning("failed to delete face collection",
			telemetry.Tags{ErrorType: "face_service", EventID: job.EventID},
			"error", err.Error())
	}

	metrics.PhotosCleaned.Add(float64(deleted))
	log.Info("event photos soft-deleted", "photos", deleted)
	o.ack(ctx, d)
}

func (o *Orchestrator) retry(ctx context.Context, d Delivery, eventID string, cause error) {
	o.sink.Warning("event cleanup will retry",
		telemetry.Tags{ErrorType: "database", EventID: eventID},
		"attempt", d.Attempts(), "error", cause.Error())
	if err := d.Retry(ctx, o.delay, cause.Error()); err != nil {
		slog.Error("failed to retry cleanup message", "event_id", eventID, "error", err)
	}
}

func (o *Orchestrator) ack(ctx context.Context, d Delivery) {
	if err := d.Ack(ctx); err != nil {
		slog.Error("failed to ack cleanup message", "error", err)
	}
}

// queueDelivery adapts *queue.Message to Delivery.
type queueDelivery struct {
	m *queue.Message
}

func (d queueDelivery) Attempts() int { return d.m.Attempts }
func (d queueDelivery) Body() []byte  { return d.m.Body }

func (d queueDelivery) Ack(ctx context.Context) error {
	return d.m.Ack(ctx)
}

func (d queueDelivery) Retry(ctx context.Context, delay time.Duration, lastErr string) error {
	return d.m.Retry(ctx, delay, lastErr)
}

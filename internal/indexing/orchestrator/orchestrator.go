// Package orchestrator is the core of the pipeline: it consumes batches
// of index_photo jobs, paces provider calls through the shared rate
// limiter, classifies every outcome, persists successes atomically, and
// settles each message as ack or retry.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sabaipics/face-indexer/internal/core/domain"
	"github.com/sabaipics/face-indexer/internal/faceapi"
	"github.com/sabaipics/face-indexer/internal/indexing/metrics"
	"github.com/sabaipics/face-indexer/internal/indexing/telemetry"
	"github.com/sabaipics/face-indexer/internal/infra/objectstore"
	"github.com/sabaipics/face-indexer/internal/infra/queue"
	"github.com/sabaipics/face-indexer/internal/infra/storage"
	"github.com/sabaipics/face-indexer/internal/ratelimit"
)

// ObjectStore is the slice of object storage the pipeline needs.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// Delivery is one claimed queue message. Attempts is 1-based.
type Delivery interface {
	Attempts() int
	Body() []byte
	Ack(ctx context.Context) error
	Retry(ctx context.Context, delay time.Duration, lastErr string) error
}

// Config holds orchestrator settings.
type Config struct {
	// Provider is the active face service name ("rekognition" or
	// "hosted"), used as a metric label.
	Provider string `yaml:"provider"`

	// MaxRetries is redeliveries after the first attempt; zero means the
	// first attempt is the only one. Must equal the queue's
	// max_attempts - 1, which config.Load derives when unset.
	MaxRetries int `yaml:"max_retries"`

	// MaxFaces caps indexed faces per photo. Default: 20.
	MaxFaces int `yaml:"max_faces"`

	// QualityFilter is passed through to the provider. Default: "AUTO".
	QualityFilter string `yaml:"quality_filter"`

	// NormalBackoff and ThrottleBackoff schedule redelivery delays per
	// attempt; empty means built-in defaults.
	NormalBackoff   []time.Duration `yaml:"normal_backoff"`
	ThrottleBackoff []time.Duration `yaml:"throttle_backoff"`

	// ThrottleReport is the cool-down length sent to the rate limiter
	// when a batch observed throttling. Default: 5s.
	ThrottleReport time.Duration `yaml:"throttle_report"`
}

func (c Config) withDefaults() Config {
	if c.MaxFaces == 0 {
		c.MaxFaces = 20
	}
	if c.QualityFilter == "" {
		c.QualityFilter = "AUTO"
	}
	if c.ThrottleReport == 0 {
		c.ThrottleReport = 5 * time.Second
	}
	return c
}

// Orchestrator processes index_photo batches.
type Orchestrator struct {
	store   storage.Gateway
	objects ObjectStore
	faces   faceapi.FaceService
	limiter ratelimit.Limiter
	sink    *telemetry.Sink
	policy  Policy
	cfg     Config

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) bool
}

// New creates an orchestrator.
func New(store storage.Gateway, objects ObjectStore, faces faceapi.FaceService, limiter ratelimit.Limiter, sink *telemetry.Sink, cfg Config) *Orchestrator {
	cfg = cfg.withDefaults()
	return &Orchestrator{
		store:   store,
		objects: objects,
		faces:   faces,
		limiter: limiter,
		sink:    sink,
		policy: Policy{
			MaxRetries:      cfg.MaxRetries,
			NormalBackoff:   cfg.NormalBackoff,
			ThrottleBackoff: cfg.ThrottleBackoff,
		}.withDefaults(),
		cfg:   cfg,
		now:   time.Now,
		sleep: sleep,
	}
}

// HandleBatch adapts the queue's message type onto Handle.
func (o *Orchestrator) HandleBatch(ctx context.Context, msgs []*queue.Message) {
	batch := make([]Delivery, len(msgs))
	for i, m := range msgs {
		batch[i] = queueDelivery{m}
	}
	o.Handle(ctx, batch)
}

// item carries one job through the batch stages.
type item struct {
	delivery Delivery
	job      domain.IndexJob

	perr            *ProcessingError
	result          *faceapi.IndexResult
	alreadyTerminal bool
	unsettled       bool
}

// Handle runs one batch end to end. Provider calls are launched
// concurrently with staggered start times; results are then processed
// sequentially in original batch order so persistence and settlement
// ordering stays deterministic.
func (o *Orchestrator) Handle(ctx context.Context, batch []Delivery) {
	if len(batch) == 0 {
		return
	}

	items := make([]*item, len(batch))
	for i, d := range batch {
		it := &item{delivery: d}
		if err := json.Unmarshal(d.Body(), &it.job); err != nil {
			it.perr = transformErr("decode job payload", err)
		}
		items[i] = it
	}

	res, err := o.limiter.ReserveBatch(ctx, len(batch))
	if err != nil {
		slog.Warn("rate limiter unavailable, proceeding unpaced", "error", err)
		res = ratelimit.Reservation{}
	}
	if !o.sleep(ctx, res.Delay) {
		return
	}

	// Paced initiation only: calls are staggered at kickoff and then run
	// concurrently, completion order is provider-controlled.
	var wg sync.WaitGroup
	for i, it := range items {
		if it.perr != nil {
			continue
		}
		wg.Add(1)
		go func(it *item, offset time.Duration) {
			defer wg.Done()
			if !o.sleep(ctx, offset) {
				it.unsettled = true
				return
			}
			o.processOne(ctx, it)
		}(it, time.Duration(i)*res.Interval)
	}
	wg.Wait()

	throttled := false
	for _, it := range items {
		if it.unsettled {
			continue
		}
		if o.settle(ctx, it) {
			throttled = true
		}
	}

	// One aggregated report per batch no matter how many jobs throttled.
	if throttled {
		if err := o.limiter.ReportThrottle(ctx, o.cfg.ThrottleReport); err != nil {
			slog.Warn("failed to report throttle", "error", err)
		} else {
			metrics.ThrottleReports.Inc()
		}
	}
}

// processOne runs the concurrent stages for one job: status check, image
// fetch, collection ensure, provider call. Persistence is deferred to the
// sequential settle phase.
func (o *Orchestrator) processOne(ctx context.Context, it *item) {
	photo, err := o.store.Photos().GetByID(ctx, it.job.PhotoID)
	if err != nil {
		if errors.Is(err, storage.ErrPhotoNotFound) {
			it.perr = notFoundErr("photo")
			return
		}
		it.perr = databaseErr("get photo", err)
		return
	}
	if photo.Status == domain.PhotoStatusIndexed || photo.Status == domain.PhotoStatusFailed {
		it.alreadyTerminal = true
		return
	}

	image, err := o.objects.Get(ctx, it.job.StorageKey)
	if err != nil {
		if errors.Is(err, objectstore.ErrObjectNotFound) {
			it.perr = notFoundErr("image")
			return
		}
		it.perr = databaseErr("fetch image", err)
		return
	}

	if perr := o.ensureCollection(ctx, it.job.EventID); perr != nil {
		it.perr = perr
		return
	}

	result, err := o.faces.IndexPhoto(ctx, it.job.EventID, it.job.PhotoID, image, faceapi.IndexOptions{
		MaxFaces:      o.cfg.MaxFaces,
		QualityFilter: o.cfg.QualityFilter,
	})
	if err != nil {
		it.perr = faceServiceErr(err)
		return
	}
	it.result = result
}

// ensureCollection makes sure the event's face-index namespace exists,
// creating it on first use. Two workers racing the creation both succeed.
func (o *Orchestrator) ensureCollection(ctx context.Context, eventID string) *ProcessingError {
	event, err := o.store.Events().GetByID(ctx, eventID)
	if err != nil {
		if errors.Is(err, storage.ErrEventNotFound) {
			return notFoundErr("event")
		}
		return databaseErr("get event", err)
	}
	if event.FaceCollectionID != nil {
		return nil
	}

	collectionID, err := o.faces.CreateCollection(ctx, eventID)
	if err != nil {
		return faceServiceErr(err)
	}
	if _, err := o.store.Events().ClaimCollection(ctx, eventID, collectionID); err != nil {
		return databaseErr("claim collection", err)
	}
	return nil
}

// settle decides ack/retry for one job and reports whether it observed a
// throttle signal.
func (o *Orchestrator) settle(ctx context.Context, it *item) bool {
	d := it.delivery
	log := slog.With("photo_id", it.job.PhotoID, "event_id", it.job.EventID, "attempt", d.Attempts())

	if it.alreadyTerminal {
		log.Info("photo already terminal, acking redelivery")
		o.ack(ctx, it, log)
		return false
	}

	perr := it.perr
	if perr == nil {
		perr = o.persist(ctx, it)
	}
	if perr == nil {
		metrics.PhotosIndexed.WithLabelValues(o.cfg.Provider).Inc()
		metrics.FacesIndexed.Add(float64(len(it.result.Faces)))
		log.Info("photo indexed",
			"faces", len(it.result.Faces),
			"unindexed", len(it.result.Unindexed))
		o.ack(ctx, it, log)
		return false
	}

	dec := o.policy.Decide(perr, d.Attempts())
	tags := telemetry.Tags{
		ErrorType: string(perr.Type),
		PhotoID:   it.job.PhotoID,
		EventID:   it.job.EventID,
	}

	if dec.terminal {
		o.sink.Error("photo indexing failed", tags,
			"error_name", dec.errorName, "attempt", d.Attempts(), "error", perr.Error())
		metrics.PhotosFailed.WithLabelValues(o.cfg.Provider, dec.errorName).Inc()
		if err := o.store.Photos().MarkFailed(ctx, it.job.PhotoID, dec.errorName); err != nil {
			// Terminal state not durable yet; leave the message to the
			// queue's dead-letter ceiling instead of acking blind.
			log.Error("failed to mark photo failed", "error", err)
			if rerr := d.Retry(ctx, backoffAt(o.policy.NormalBackoff, d.Attempts()), dec.errorName); rerr != nil {
				log.Error("failed to retry message", "error", rerr)
			}
			return dec.throttle
		}
		o.ack(ctx, it, log)
		return dec.throttle
	}

	backoff := "normal"
	if dec.throttle {
		backoff = "throttle"
	}
	o.sink.Warning("photo indexing will retry", tags,
		"error_name", dec.errorName, "attempt", d.Attempts(),
		"delay", dec.delay, "error", perr.Error())
	metrics.PhotoRetries.WithLabelValues(o.cfg.Provider, backoff).Inc()
	if err := o.store.Photos().MarkRetrying(ctx, it.job.PhotoID, dec.errorName); err != nil {
		log.Warn("failed to mark photo retrying", "error", err)
	}
	if err := d.Retry(ctx, dec.delay, dec.errorName); err != nil {
		log.Error("failed to retry message", "error", err)
	}
	return dec.throttle
}

// persist commits the success writes for one photo in a fresh transaction:
// all face rows plus the status flip, together or not at all.
func (o *Orchestrator) persist(ctx context.Context, it *item) *ProcessingError {
	uow, err := o.store.NewUnitOfWork(ctx)
	if err != nil {
		return databaseErr("begin unit of work", err)
	}
	defer uow.Rollback()

	faces := make([]domain.Face, 0, len(it.result.Faces))
	for _, f := range it.result.Faces {
		faces = append(faces, domain.Face{
			ID:             uuid.NewString(),
			PhotoID:        it.job.PhotoID,
			ExternalFaceID: f.ExternalFaceID,
			BoundingBox:    f.BoundingBox,
			Confidence:     f.Confidence,
			RawResponse:    f.Raw,
		})
	}

	if err := uow.InsertFaces(ctx, faces); err != nil {
		if errors.Is(err, storage.ErrAlreadyApplied) {
			return o.reconcileApplied(ctx, it.job.PhotoID)
		}
		return databaseErr("insert faces", err)
	}
	if err := uow.MarkPhotoIndexed(ctx, it.job.PhotoID, len(faces), o.now()); err != nil {
		return databaseErr("mark photo indexed", err)
	}
	if err := uow.Commit(); err != nil {
		return databaseErr("commit unit of work", err)
	}
	return nil
}

// reconcileApplied finishes a photo whose face rows were written by an
// earlier delivery. The violated transaction cannot carry further
// statements, so the status flip runs in a fresh unit using the face
// count on record rather than this run's result.
func (o *Orchestrator) reconcileApplied(ctx context.Context, photoID string) *ProcessingError {
	count, err := o.store.Faces().CountByPhoto(ctx, photoID)
	if err != nil {
		return databaseErr("count faces", err)
	}

	uow, err := o.store.NewUnitOfWork(ctx)
	if err != nil {
		return databaseErr("begin unit of work", err)
	}
	defer uow.Rollback()

	if err := uow.MarkPhotoIndexed(ctx, photoID, count, o.now()); err != nil {
		return databaseErr("mark photo indexed", err)
	}
	if err := uow.Commit(); err != nil {
		return databaseErr("commit unit of work", err)
	}
	return nil
}

func (o *Orchestrator) ack(ctx context.Context, it *item, log *slog.Logger) {
	if err := it.delivery.Ack(ctx); err != nil {
		log.Error("failed to ack message", "error", err)
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

// sleep waits for d unless the context ends first.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

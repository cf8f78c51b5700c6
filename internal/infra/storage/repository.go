package storage

import (
	"context"
	"errors"
	"time"

	"github.com/sabaipics/face-indexer/internal/core/domain"
)

var (
	// ErrPhotoNotFound is returned when a photo row doesn't exist.
	ErrPhotoNotFound = errors.New("photo not found")

	// ErrEventNotFound is returned when an event row doesn't exist or is
	// deleted.
	ErrEventNotFound = errors.New("event not found")

	// ErrAlreadyApplied is returned when a write hit a uniqueness
	// constraint that signals the state transition already happened.
	// Callers treat it as a non-retryable (but successful) outcome.
	ErrAlreadyApplied = errors.New("state transition already applied")
)

// PhotoRepository handles photo status reads and simple writes over the
// shared non-transactional connection.
type PhotoRepository interface {
	// GetByID retrieves a photo row.
	GetByID(ctx context.Context, photoID string) (*domain.Photo, error)

	// MarkRetrying records a non-terminal failure: retryable=true and the
	// classified error name, status unchanged.
	MarkRetrying(ctx context.Context, photoID, errorName string) error

	// MarkFailed moves the photo to its terminal failed state. Never
	// regresses a photo that already reached indexed.
	MarkFailed(ctx context.Context, photoID, errorName string) error

	// SoftDeleteByEvent stamps deleted_at on every live photo of an event
	// and returns how many rows were touched.
	SoftDeleteByEvent(ctx context.Context, eventID string) (int64, error)
}

// EventRepository handles the per-event face-collection namespace.
type EventRepository interface {
	// GetByID retrieves a live event.
	GetByID(ctx context.Context, eventID string) (*domain.Event, error)

	// Exists reports whether the event row is present, deleted or not.
	Exists(ctx context.Context, eventID string) (bool, error)

	// ClaimCollection stores collectionID on the event if no collection is
	// recorded yet and returns whichever ID won. Two workers racing the
	// first photo of an event both get a usable ID back.
	ClaimCollection(ctx context.Context, eventID, collectionID string) (string, error)
}

// FaceRepository reads face rows.
type FaceRepository interface {
	// CountByPhoto returns how many face rows the photo has on record.
	// Used to reconcile the face count when a redelivered job finds its
	// rows already written.
	CountByPhoto(ctx context.Context, photoID string) (int, error)
}

// FaceEmbedding is one face vector pending storage for the self-hosted
// provider's pgvector search path.
type FaceEmbedding struct {
	FaceID  string
	PhotoID string
	Vector  []float32
}

// EmbeddingMatch is one nearest-neighbor hit.
type EmbeddingMatch struct {
	PhotoID    string
	FaceID     string
	Similarity float64
}

// EmbeddingRepository stores and searches face vectors (pgvector).
type EmbeddingRepository interface {
	Insert(ctx context.Context, eventID string, embeddings []FaceEmbedding) error
	Search(ctx context.Context, eventID string, vector []float32, limit int) ([]EmbeddingMatch, error)
	DeleteByEvent(ctx context.Context, eventID string) error
}

// UnitOfWork bundles the per-photo success writes into one database
// transaction: insert the face rows and flip the photo status together,
// or not at all. A unit is acquired fresh per photo and never reused.
type UnitOfWork interface {
	// InsertFaces saves the photo's face rows. Naturally idempotent:
	// a redelivered job inserting the same (photo, external face) pairs
	// is a no-op.
	InsertFaces(ctx context.Context, faces []domain.Face) error

	// MarkPhotoIndexed flips the photo to indexed, sets the face count,
	// stamps indexedAt, and clears retry markers. Conditioned on the
	// current status so a redelivery cannot double-apply.
	MarkPhotoIndexed(ctx context.Context, photoID string, faceCount int, indexedAt time.Time) error

	// Commit commits the transaction.
	Commit() error

	// Rollback rolls back the transaction. Safe to call after Commit.
	Rollback() error
}

// Gateway is the two-mode persistence surface the pipeline consumes:
// shared repositories for point reads/writes, and a fresh transactional
// unit per "insert faces + flip status" atomic write.
type Gateway interface {
	Photos() PhotoRepository
	Events() EventRepository
	Faces() FaceRepository
	NewUnitOfWork(ctx context.Context) (UnitOfWork, error)
}

package domain

import "time"

type PhotoStatus string

const (
	PhotoStatusUploading PhotoStatus = "uploading"
	PhotoStatusIndexing  PhotoStatus = "indexing"
	PhotoStatusIndexed   PhotoStatus = "indexed"
	PhotoStatusFailed    PhotoStatus = "failed"
)

// Photo represents an uploaded photo and its indexing state.
// Status moves monotonically per attempt: a photo only reaches "indexed"
// once its faces are durably persisted in the same transaction as the
// status flip, and "failed" is only set on the last allowed attempt or
// for non-retryable errors.
type Photo struct {
	ID         string
	EventID    string
	StorageKey string
	Status     PhotoStatus

	// Retry bookkeeping, set on non-terminal failures.
	Retryable *bool
	ErrorName *string

	FaceCount int
	IndexedAt *time.Time
	DeletedAt *time.Time
}

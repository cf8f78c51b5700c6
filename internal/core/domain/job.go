package domain

// IndexJob asks the pipeline to index one uploaded photo. The payload is
// immutable and identified by PhotoID; the upstream uploader enqueues
// exactly one job per photo, delivered at-least-once.
type IndexJob struct {
	PhotoID    string `json:"photoId"`
	EventID    string `json:"eventId"`
	StorageKey string `json:"storageKey"`
}

// CleanupJob asks the pipeline to soft-delete every photo of a torn-down
// event.
type CleanupJob struct {
	EventID string `json:"eventId"`
}

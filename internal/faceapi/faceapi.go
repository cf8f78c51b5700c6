// Package faceapi defines the uniform interface over face-recognition
// providers and the shared error taxonomy the pipeline branches on.
// Adding a new concrete provider means adding a translation into this
// vocabulary, not touching the orchestrator.
package faceapi

import (
	"context"
	"encoding/json"

	"github.com/sabaipics/face-indexer/internal/core/domain"
)

// IndexOptions tune a single IndexPhoto call.
type IndexOptions struct {
	// MaxFaces caps how many faces the provider may index per photo.
	MaxFaces int
	// QualityFilter is the provider's quality threshold ("AUTO", "LOW",
	// "MEDIUM", "HIGH", or "NONE" to index everything detected).
	QualityFilter string
}

// IndexedFace is one face the provider accepted into the event's index.
type IndexedFace struct {
	// ExternalFaceID is the provider's opaque face identifier.
	ExternalFaceID string
	BoundingBox    domain.BoundingBox
	Confidence     float64
	// Raw is the provider's original face record, kept for audit.
	Raw json.RawMessage
}

// UnindexedFace is a detected face the provider rejected, with the
// provider's reasons (face too small, low quality, ...).
type UnindexedFace struct {
	BoundingBox domain.BoundingBox
	Reasons     []string
}

// IndexResult is the outcome of a successful IndexPhoto call.
type IndexResult struct {
	Faces     []IndexedFace
	Unindexed []UnindexedFace
}

// Match is one photo matched by a face search. When the same photo matches
// with several detected faces the matches are deduplicated by photo,
// keeping the maximum similarity and tallying FaceCount.
type Match struct {
	PhotoID string
	// Similarity is normalized to 0..1 regardless of provider.
	Similarity float64
	FaceCount  int
}

// FaceService is the uniform provider interface. Implementations never
// panic on provider failures; every failure path comes back as an *Error.
type FaceService interface {
	// IndexPhoto detects and indexes the faces of one photo into the
	// event's collection.
	IndexPhoto(ctx context.Context, eventID, photoID string, image []byte, opts IndexOptions) (*IndexResult, error)

	// SearchByImage finds photos of the event containing the face in the
	// probe image, sorted descending by similarity.
	SearchByImage(ctx context.Context, eventID string, image []byte, maxResults int, minSimilarity float64) ([]Match, error)

	// CreateCollection creates the event's face-index namespace and
	// returns the provider collection ID.
	CreateCollection(ctx context.Context, eventID string) (string, error)

	// DeleteCollection tears down the event's face-index namespace.
	DeleteCollection(ctx context.Context, eventID string) error
}

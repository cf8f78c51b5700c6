package domain

import "encoding/json"

// BoundingBox locates a face within its photo as 0..1 ratios of the
// image dimensions, independent of resolution.
type BoundingBox struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
}

// Face is one successfully indexed face. Faces are owned by their photo,
// cascade-deleted with it, and never mutated after creation.
type Face struct {
	ID             string
	PhotoID        string
	ExternalFaceID string
	BoundingBox    BoundingBox
	Confidence     float64
	RawResponse    json.RawMessage
}

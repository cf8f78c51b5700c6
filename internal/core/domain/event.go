package domain

import "time"

// Event is a photo event (a race, a wedding, ...). Each event owns one
// face-index namespace at the provider; FaceCollectionID is nil until the
// first photo of the event is indexed and the collection is created lazily.
type Event struct {
	ID               string
	FaceCollectionID *string
	DeletedAt        *time.Time
}

package cleanup

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sabaipics/face-indexer/internal/core/domain"
	"github.com/sabaipics/face-indexer/internal/faceapi"
	"github.com/sabaipics/face-indexer/internal/indexing/telemetry"
)

type fakeDelivery struct {
	attempts int
	body     []byte

	acked      bool
	retried    bool
	retryDelay time.Duration
	lastErr    string
}

func (d *fakeDelivery) Attempts() int { return d.attempts }
func (d *fakeDelivery) Body() []byte  { return d.body }

func (d *fakeDelivery) Ack(context.Context) error {
	d.acked = true
	return nil
}

func (d *fakeDelivery) Retry(_ context.Context, delay time.Duration, lastErr string) error {
	d.retried = true
	d.retryDelay = delay
	d.lastErr = lastErr
	return nil
}

type fakePhotos struct {
	deleteErr error
	deleted   []string
	rows      int64
}

func (f *fakePhotos) GetByID(context.Context, string) (*domain.Photo, error) { return nil, nil }
func (f *fakePhotos) MarkRetrying(context.Context, string, string) error     { return nil }
func (f *fakePhotos) MarkFailed(context.Context, string, string) error       { return nil }

func (f *fakePhotos) SoftDeleteByEvent(_ context.Context, eventID string) (int64, error) {
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	f.deleted = append(f.deleted, eventID)
	return f.rows, nil
}

type fakeEvents struct {
	existing  map[string]bool
	existsErr error
}

func (f *fakeEvents) GetByID(context.Context, string) (*domain.Event, error) { return nil, nil }
func (f *fakeEvents) ClaimCollection(context.Context, string, string) (string, error) {
	return "", nil
}

func (f *fakeEvents) Exists(_ context.Context, eventID string) (bool, error) {
	if f.existsErr != nil {
		return false, f.existsErr
	}
	return f.existing[eventID], nil
}

type fakeFaces struct {
	faceapi.FaceService
	deleted   []string
	deleteErr error
}

func (f *fakeFaces) DeleteCollection(_ context.Context, eventID string) error {
	if f.deleteErr != nil {
		return f.deleteErr
	}
	f.deleted = append(f.deleted, eventID)
	return nil
}

func jobBody(t *testing.T, eventID string) []byte {
	t.Helper()
	body, err := json.Marshal(domain.CleanupJob{EventID: eventID})
	if err != nil {
		t.Fatalf("marshal job: %v", err)
	}
	return body
}

func newOrchestrator(photos *fakePhotos, events *fakeEvents, faces *fakeFaces, cfg Config) *Orchestrator {
	sink := telemetry.NewSink(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return New(photos, events, faces, sink, cfg)
}

func TestCleanupSoftDeletesAndAcks(t *testing.T) {
	photos := &fakePhotos{rows: 12}
	events := &fakeEvents{existing: map[string]bool{"e1": true}}
	faces := &fakeFaces{}
	o := newOrchestrator(photos, events, faces, Config{})

	d := &fakeDelivery{attempts: 1, body: jobBody(t, "e1")}
	o.Handle(context.Background(), d)

	if !d.acked || d.retried {
		t.Fatalf("acked=%v retried=%v, want acked only", d.acked, d.retried)
	}
	if len(photos.deleted) != 1 || photos.deleted[0] != "e1" {
		t.Errorf("soft-deleted = %v, want [e1]", photos.deleted)
	}
	if len(faces.deleted) != 1 || faces.deleted[0] != "e1" {
		t.Errorf("collections deleted = %v, want [e1]", faces.deleted)
	}
}

func TestCleanupAcksWhenEventNeverExisted(t *testing.T) {
	photos := &fakePhotos{}
	events := &fakeEvents{existing: map[string]bool{}}
	o := newOrchestrator(photos, events, &fakeFaces{}, Config{})

	d := &fakeDelivery{attempts: 1, body: jobBody(t, "ghost")}
	o.Handle(context.Background(), d)

	if !d.acked || d.retried {
		t.Fatalf("acked=%v retried=%v, want acked only", d.acked, d.retried)
	}
	if len(photos.deleted) != 0 {
		t.Errorf("soft-deleted = %v, want none", photos.deleted)
	}
}

func TestCleanupRetriesOnDatabaseError(t *testing.T) {
	photos := &fakePhotos{deleteErr: errors.New("connection reset")}
	events := &fakeEvents{existing: map[string]bool{"e1": true}}
	o := newOrchestrator(photos, events, &fakeFaces{}, Config{RetryDelay: 30 * time.Second})

	d := &fakeDelivery{attempts: 1, body: jobBody(t, "e1")}
	o.Handle(context.Background(), d)

	if d.acked || !d.retried {
		t.Fatalf("acked=%v retried=%v, want retried only", d.acked, d.retried)
	}
	if d.retryDelay != 30*time.Second {
		t.Errorf("retry delay = %v, want 30s", d.retryDelay)
	}
	if d.lastErr == "" {
		t.Error("retry carries no last error")
	}
}

func TestCleanupSucceedsWhenCollectionDeleteFails(t *testing.T) {
	photos := &fakePhotos{rows: 3}
	events := &fakeEvents{existing: map[string]bool{"e1": true}}
	faces := &fakeFaces{deleteErr: errors.New("provider down")}
	o := newOrchestrator(photos, events, faces, Config{})

	d := &fakeDelivery{attempts: 1, body: jobBody(t, "e1")}
	o.Handle(context.Background(), d)

	if !d.acked || d.retried {
		t.Fatalf("acked=%v retried=%v, want acked only", d.acked, d.retried)
	}
}

func TestCleanupAcksMalformedJob(t *testing.T) {
	o := newOrchestrator(&fakePhotos{}, &fakeEvents{}, &fakeFaces{}, Config{})

	d := &fakeDelivery{attempts: 1, body: []byte("not json")}
	o.Handle(context.Background(), d)

	if !d.acked || d.retried {
		t.Fatalf("acked=%v retried=%v, want acked only", d.acked, d.retried)
	}
}

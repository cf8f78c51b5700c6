package hosted

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sabaipics/face-indexer/internal/faceapi"
	"github.com/sabaipics/face-indexer/internal/infra/storage"
)

type fakeEmbeddings struct {
	inserted    map[string][]storage.FaceEmbedding
	hits        []storage.EmbeddingMatch
	deleted     []string
	searchLimit int
}

func newFakeEmbeddings() *fakeEmbeddings {
	return &fakeEmbeddings{inserted: make(map[string][]storage.FaceEmbedding)}
}

func (f *fakeEmbeddings) Insert(_ context.Context, eventID string, embeddings []storage.FaceEmbedding) error {
	f.inserted[eventID] = append(f.inserted[eventID], embeddings...)
	return nil
}

func (f *fakeEmbeddings) Search(_ context.Context, eventID string, _ []float32, limit int) ([]storage.EmbeddingMatch, error) {
	f.searchLimit = limit
	if limit < len(f.hits) {
		return f.hits[:limit], nil
	}
	return f.hits, nil
}

func (f *fakeEmbeddings) DeleteByEvent(_ context.Context, eventID string) error {
	f.deleted = append(f.deleted, eventID)
	return nil
}

func extractServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestIndexPhotoStoresEmbeddings(t *testing.T) {
	srv := extractServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/extract" {
			t.Errorf("path = %q, want /extract", r.URL.Path)
		}
		var req extractRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Image == "" {
			t.Error("request image is empty")
		}
		json.NewEncoder(w).Encode(extractResponse{
			Faces: []extractedFace{
				{
					Embedding:   []float32{0.1, 0.2, 0.3},
					BoundingBox: extractedBox{X: 0.25, Y: 0.1, Width: 0.2, Height: 0.3},
					Confidence:  0.93,
				},
				{
					Embedding:   []float32{0.4, 0.5, 0.6},
					BoundingBox: extractedBox{X: 0.6, Y: 0.2, Width: 0.15, Height: 0.25},
					Confidence:  0.88,
				},
			},
			Model: "buffalo_l",
		})
	})

	embeddings := newFakeEmbeddings()
	client, err := NewClient(Config{BaseURL: srv.URL}, embeddings)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	result, err := client.IndexPhoto(context.Background(), "e1", "p1", []byte("jpeg"), faceapi.IndexOptions{MaxFaces: 20})
	if err != nil {
		t.Fatalf("IndexPhoto() error = %v", err)
	}
	if len(result.Faces) != 2 {
		t.Fatalf("len(Faces) = %d, want 2", len(result.Faces))
	}
	if result.Faces[0].BoundingBox.Left != 0.25 || result.Faces[0].BoundingBox.Top != 0.1 {
		t.Errorf("BoundingBox = %+v, want Left 0.25 Top 0.1", result.Faces[0].BoundingBox)
	}
	if len(embeddings.inserted["e1"]) != 2 {
		t.Fatalf("stored embeddings = %d, want 2", len(embeddings.inserted["e1"]))
	}
	if embeddings.inserted["e1"][0].FaceID != result.Faces[0].ExternalFaceID {
		t.Error("stored embedding face ID does not match indexed face")
	}
}

func TestIndexPhotoFaceIDsAreStable(t *testing.T) {
	if deriveFaceID("p1", 0) != deriveFaceID("p1", 0) {
		t.Error("same photo and index produced different IDs")
	}
	if deriveFaceID("p1", 0) == deriveFaceID("p1", 1) {
		t.Error("different indexes produced the same ID")
	}
	if deriveFaceID("p1", 0) == deriveFaceID("p2", 0) {
		t.Error("different photos produced the same ID")
	}
}

func TestExtractStatusMapping(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantKind      faceapi.Kind
		wantRetryable bool
		wantThrottle  bool
	}{
		{name: "bad request is invalid input", status: http.StatusBadRequest, wantKind: faceapi.KindInvalidInput},
		{name: "rate limited is throttle", status: http.StatusTooManyRequests, wantKind: faceapi.KindProviderFailed, wantRetryable: true, wantThrottle: true},
		{name: "unavailable is retryable", status: http.StatusServiceUnavailable, wantKind: faceapi.KindProviderFailed, wantRetryable: true},
		{name: "server error is retryable", status: http.StatusInternalServerError, wantKind: faceapi.KindProviderFailed, wantRetryable: true},
		{name: "unexpected status is terminal", status: http.StatusForbidden, wantKind: faceapi.KindProviderFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := extractServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			})
			client, err := NewClient(Config{BaseURL: srv.URL}, newFakeEmbeddings())
			if err != nil {
				t.Fatalf("NewClient() error = %v", err)
			}

			_, err = client.IndexPhoto(context.Background(), "e1", "p1", []byte("jpeg"), faceapi.IndexOptions{})
			fe, ok := faceapi.As(err)
			if !ok {
				t.Fatalf("IndexPhoto() error = %v, want taxonomy error", err)
			}
			if fe.Kind != tt.wantKind {
				t.Errorf("Kind = %q, want %q", fe.Kind, tt.wantKind)
			}
			if fe.Kind == faceapi.KindProviderFailed {
				if fe.Retryable != tt.wantRetryable {
					t.Errorf("Retryable = %v, want %v", fe.Retryable, tt.wantRetryable)
				}
				if fe.Throttle != tt.wantThrottle {
					t.Errorf("Throttle = %v, want %v", fe.Throttle, tt.wantThrottle)
				}
			}
		})
	}
}

func TestSearchByImageMergesPerPhoto(t *testing.T) {
	srv := extractServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(extractResponse{
			Faces: []extractedFace{{Embedding: []float32{0.1, 0.2}, Confidence: 0.95}},
		})
	})

	embeddings := newFakeEmbeddings()
	embeddings.hits = []storage.EmbeddingMatch{
		{PhotoID: "p1", FaceID: "f1", Similarity: 0.91},
		{PhotoID: "p2", FaceID: "f2", Similarity: 0.97},
		{PhotoID: "p1", FaceID: "f3", Similarity: 0.95},
		{PhotoID: "p3", FaceID: "f4", Similarity: 0.40},
	}
	client, err := NewClient(Config{BaseURL: srv.URL}, embeddings)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	matches, err := client.SearchByImage(context.Background(), "e1", []byte("probe"), 10, 0.8)
	if err != nil {
		t.Fatalf("SearchByImage() error = %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("len(matches) = %d, want 2", len(matches))
	}
	if matches[0].PhotoID != "p2" || matches[0].Similarity != 0.97 {
		t.Errorf("matches[0] = %+v, want p2 at 0.97", matches[0])
	}
	if matches[1].PhotoID != "p1" || matches[1].Similarity != 0.95 || matches[1].FaceCount != 2 {
		t.Errorf("matches[1] = %+v, want p1 at 0.95 with 2 faces", matches[1])
	}
}

func TestSearchByImageOverfetchesNeighbors(t *testing.T) {
	srv := extractServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(extractResponse{
			Faces: []extractedFace{{Embedding: []float32{0.1, 0.2}, Confidence: 0.95}},
		})
	})

	// Qualifying photos sit past the raw result limit behind
	// sub-threshold rows and a second face of p1.
	embeddings := newFakeEmbeddings()
	embeddings.hits = []storage.EmbeddingMatch{
		{PhotoID: "p1", FaceID: "f1", Similarity: 0.95},
		{PhotoID: "p1", FaceID: "f2", Similarity: 0.90},
		{PhotoID: "px", FaceID: "f3", Similarity: 0.30},
		{PhotoID: "py", FaceID: "f4", Similarity: 0.30},
		{PhotoID: "p2", FaceID: "f5", Similarity: 0.93},
		{PhotoID: "p3", FaceID: "f6", Similarity: 0.91},
	}
	client, err := NewClient(Config{BaseURL: srv.URL}, embeddings)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	matches, err := client.SearchByImage(context.Background(), "e1", []byte("probe"), 2, 0.8)
	if err != nil {
		t.Fatalf("SearchByImage() error = %v", err)
	}
	if embeddings.searchLimit != 8 {
		t.Errorf("neighbor fetch limit = %d, want 8", embeddings.searchLimit)
	}
	if len(matches) != 2 {
		t.Fatalf("len(matches) = %d, want capped at 2", len(matches))
	}
	if matches[0].PhotoID != "p1" || matches[1].PhotoID != "p2" {
		t.Errorf("matches = [%s %s], want [p1 p2]", matches[0].PhotoID, matches[1].PhotoID)
	}
}

func TestSearchByImageRejectsFacelessProbe(t *testing.T) {
	srv := extractServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(extractResponse{})
	})
	client, err := NewClient(Config{BaseURL: srv.URL}, newFakeEmbeddings())
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	_, err = client.SearchByImage(context.Background(), "e1", []byte("probe"), 10, 0.8)
	fe, ok := faceapi.As(err)
	if !ok || fe.Kind != faceapi.KindInvalidInput {
		t.Fatalf("SearchByImage() error = %v, want invalid_input", err)
	}
}

func TestDeleteCollectionDropsEmbeddings(t *testing.T) {
	srv := extractServer(t, func(w http.ResponseWriter, r *http.Request) {})
	embeddings := newFakeEmbeddings()
	client, err := NewClient(Config{BaseURL: srv.URL}, embeddings)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	if err := client.DeleteCollection(context.Background(), "e1"); err != nil {
		t.Fatalf("DeleteCollection() error = %v", err)
	}
	if len(embeddings.deleted) != 1 || embeddings.deleted[0] != "e1" {
		t.Errorf("deleted = %v, want [e1]", embeddings.deleted)
	}
}

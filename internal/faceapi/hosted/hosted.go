// Package hosted implements the face service on the self-hosted
// InsightFace extraction API. The extractor only computes embeddings;
// collections are a local convention and similarity search runs against
// pgvector, so this provider needs the embedding repository alongside the
// HTTP endpoint.
package hosted

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/sabaipics/face-indexer/internal/core/domain"
	"github.com/sabaipics/face-indexer/internal/faceapi"
	"github.com/sabaipics/face-indexer/internal/indexing/metrics"
	"github.com/sabaipics/face-indexer/internal/infra/storage"
)

const providerName = "hosted"

// neighborOverfetch multiplies the nearest-neighbor fetch size: hits are
// per face and unfiltered, so sub-threshold rows and same-photo faces
// would otherwise starve the distinct-photo limit.
const neighborOverfetch = 4

// Config holds the extraction endpoint settings.
type Config struct {
	// BaseURL is the extraction API root, e.g. "http://recognition:8000".
	BaseURL string `yaml:"base_url"`

	// MinConfidence drops detections below this score. Default: 0.5.
	MinConfidence float64 `yaml:"min_confidence"`

	// Timeout bounds one extraction call. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`
}

func (c Config) withDefaults() Config {
	if c.MinConfidence == 0 {
		c.MinConfidence = 0.5
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

// Client implements faceapi.FaceService on the extraction API plus
// pgvector.
type Client struct {
	http       *http.Client
	cfg        Config
	embeddings storage.EmbeddingRepository
}

// NewClient creates a client for the given extraction endpoint.
func NewClient(cfg Config, embeddings storage.EmbeddingRepository) (*Client, error) {
	cfg = cfg.withDefaults()
	if cfg.BaseURL == "" {
		return nil, errors.New("extraction base_url is required")
	}
	if embeddings == nil {
		return nil, errors.New("embedding repository is required")
	}
	return &Client{
		http:       &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		embeddings: embeddings,
	}, nil
}

type extractRequest struct {
	Image         string  `json:"image"`
	MaxFaces      int     `json:"max_faces,omitempty"`
	MinConfidence float64 `json:"min_confidence"`
}

type extractedBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type extractedFace struct {
	Embedding   []float32    `json:"embedding"`
	BoundingBox extractedBox `json:"bounding_box"`
	Confidence  float64      `json:"confidence"`
}

type extractResponse struct {
	Faces       []extractedFace `json:"faces"`
	ImageWidth  int             `json:"image_width"`
	ImageHeight int             `json:"image_height"`
	Model       string          `json:"model"`
	InferenceMS float64         `json:"inference_ms"`
}

// IndexPhoto extracts the photo's faces and stores their embeddings for
// later search. Face IDs are derived from the photo ID and detection
// order, so a redelivered job regenerates the same IDs.
func (c *Client) IndexPhoto(ctx context.Context, eventID, photoID string, image []byte, opts faceapi.IndexOptions) (*faceapi.IndexResult, error) {
	resp, err := c.extract(ctx, image, opts.MaxFaces)
	if err != nil {
		return nil, err
	}

	result := &faceapi.IndexResult{}
	pending := make([]storage.FaceEmbedding, 0, len(resp.Faces))
	for i, face := range resp.Faces {
		faceID := deriveFaceID(photoID, i)
		raw, _ := json.Marshal(struct {
			BoundingBox extractedBox `json:"bounding_box"`
			Confidence  float64      `json:"confidence"`
			Model       string       `json:"model"`
		}{face.BoundingBox, face.Confidence, resp.Model})

		result.Faces = append(result.Faces, faceapi.IndexedFace{
			ExternalFaceID: faceID,
			BoundingBox:    toBoundingBox(face.BoundingBox),
			Confidence:     face.Confidence,
			Raw:            raw,
		})
		pending = append(pending, storage.FaceEmbedding{
			FaceID:  faceID,
			PhotoID: photoID,
			Vector:  face.Embedding,
		})
	}

	if len(pending) > 0 {
		if err := c.embeddings.Insert(ctx, eventID, pending); err != nil {
			return nil, faceapi.NewProviderFailed(providerName, "ConnectionError", fmt.Errorf("store embeddings: %w", err))
		}
	}
	return result, nil
}

// SearchByImage extracts the probe face and runs a nearest-neighbor
// search over the event's stored embeddings, one entry per photo, best
// similarity first.
func (c *Client) SearchByImage(ctx context.Context, eventID string, image []byte, maxResults int, minSimilarity float64) ([]faceapi.Match, error) {
	resp, err := c.extract(ctx, image, 1)
	if err != nil {
		return nil, err
	}
	if len(resp.Faces) == 0 {
		return nil, faceapi.NewInvalidInput("image", "no face detected in probe image")
	}

	limit := maxResults
	if limit <= 0 {
		limit = 50
	}
	hits, err := c.embeddings.Search(ctx, eventID, resp.Faces[0].Embedding, limit*neighborOverfetch)
	if err != nil {
		return nil, faceapi.NewProviderFailed(providerName, "ConnectionError", fmt.Errorf("search embeddings: %w", err))
	}

	byPhoto := make(map[string]*faceapi.Match)
	order := make([]string, 0, len(hits))
	for _, hit := range hits {
		if hit.Similarity < minSimilarity {
			continue
		}
		m, ok := byPhoto[hit.PhotoID]
		if !ok {
			byPhoto[hit.PhotoID] = &faceapi.Match{PhotoID: hit.PhotoID, Similarity: hit.Similarity, FaceCount: 1}
			order = append(order, hit.PhotoID)
			continue
		}
		m.FaceCount++
		if hit.Similarity > m.Similarity {
			m.Similarity = hit.Similarity
		}
	}

	matches := make([]faceapi.Match, 0, len(order))
	for _, id := range order {
		matches = append(matches, *byPhoto[id])
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// CreateCollection is a local naming convention: there is no remote
// namespace to create, embeddings are partitioned by event in the store.
func (c *Client) CreateCollection(_ context.Context, eventID string) (string, error) {
	return "pgvector-" + eventID, nil
}

// DeleteCollection drops the event's stored embeddings.
func (c *Client) DeleteCollection(ctx context.Context, eventID string) error {
	if err := c.embeddings.DeleteByEvent(ctx, eventID); err != nil {
		return faceapi.NewProviderFailed(providerName, "ConnectionError", fmt.Errorf("delete embeddings: %w", err))
	}
	return nil
}

// extract calls POST /extract with the image inlined as base64.
func (c *Client) extract(ctx context.Context, image []byte, maxFaces int) (*extractResponse, error) {
	if len(image) == 0 {
		return nil, faceapi.NewInvalidInput("image", "empty image bytes")
	}

	body, err := json.Marshal(extractRequest{
		Image:         base64.StdEncoding.EncodeToString(image),
		MaxFaces:      maxFaces,
		MinConfidence: c.cfg.MinConfidence,
	})
	if err != nil {
		return nil, faceapi.NewInvalidInput("image", err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/extract", bytes.NewReader(body))
	if err != nil {
		return nil, faceapi.NewProviderFailed(providerName, "ConnectionError", err)
	}
	req.Header.Set("Content-Type", "application/json")

	metrics.ProviderCalls.WithLabelValues(providerName, "extract").Inc()
	start := time.Now()
	resp, err := c.http.Do(req)
	metrics.ProviderLatency.WithLabelValues(providerName, "extract").Observe(time.Since(start).Seconds())
	if err != nil {
		name := "ConnectionError"
		if errors.Is(err, context.DeadlineExceeded) {
			name = "RequestTimeout"
		}
		metrics.ProviderErrors.WithLabelValues(providerName, name).Inc()
		return nil, faceapi.NewProviderFailed(providerName, name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp)
	}

	var out extractResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		metrics.ProviderErrors.WithLabelValues(providerName, "InternalServerError").Inc()
		return nil, faceapi.NewProviderFailed(providerName, "InternalServerError", fmt.Errorf("decode response: %w", err))
	}
	return &out, nil
}

// statusError maps non-200 responses into the shared taxonomy.
func (c *Client) statusError(resp *http.Response) error {
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

	var name string
	switch {
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return faceapi.NewInvalidInput("image", string(detail))
	case resp.StatusCode == http.StatusTooManyRequests:
		name = "ThrottlingException"
	case resp.StatusCode == http.StatusServiceUnavailable:
		name = "ServiceUnavailable"
	case resp.StatusCode >= 500:
		name = "InternalServerError"
	default:
		name = fmt.Sprintf("HTTP%d", resp.StatusCode)
	}
	metrics.ProviderErrors.WithLabelValues(providerName, name).Inc()
	return faceapi.NewProviderFailed(providerName, name, fmt.Errorf("extract returned %s", resp.Status))
}

// faceIDNamespace seeds the deterministic face IDs.
var faceIDNamespace = uuid.MustParse("9f2c1af0-52fb-4c43-9f0e-3a8b6f6f1d7e")

// deriveFaceID produces a stable UUID for the nth detection of a photo.
func deriveFaceID(photoID string, index int) string {
	return uuid.NewSHA1(faceIDNamespace, []byte(fmt.Sprintf("%s:%d", photoID, index))).String()
}

func toBoundingBox(b extractedBox) domain.BoundingBox {
	return domain.BoundingBox{
		Width:  b.Width,
		Height: b.Height,
		Left:   b.X,
		Top:    b.Y,
	}
}

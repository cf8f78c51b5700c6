// Package rekognition implements the face service on AWS Rekognition
// collections. One collection per event, faces keyed by the photo ID via
// ExternalImageId.
package rekognition

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsrekognition "github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/aws/smithy-go"

	"github.com/sabaipics/face-indexer/internal/core/domain"
	"github.com/sabaipics/face-indexer/internal/faceapi"
	"github.com/sabaipics/face-indexer/internal/indexing/metrics"
)

const providerName = "rekognition"

// api is the slice of the Rekognition SDK the client uses.
type api interface {
	IndexFaces(ctx context.Context, in *awsrekognition.IndexFacesInput, opts ...func(*awsrekognition.Options)) (*awsrekognition.IndexFacesOutput, error)
	SearchFacesByImage(ctx context.Context, in *awsrekognition.SearchFacesByImageInput, opts ...func(*awsrekognition.Options)) (*awsrekognition.SearchFacesByImageOutput, error)
	CreateCollection(ctx context.Context, in *awsrekognition.CreateCollectionInput, opts ...func(*awsrekognition.Options)) (*awsrekognition.CreateCollectionOutput, error)
	DeleteCollection(ctx context.Context, in *awsrekognition.DeleteCollectionInput, opts ...func(*awsrekognition.Options)) (*awsrekognition.DeleteCollectionOutput, error)
}

// Config holds Rekognition adapter settings.
type Config struct {
	// CollectionPrefix namespaces collections per deployment, so staging
	// and production can share an AWS account. Default: "event".
	CollectionPrefix string `yaml:"collection_prefix"`
}

// Client implements faceapi.FaceService on Rekognition.
type Client struct {
	api    api
	prefix string
}

// NewClient creates a client from a resolved AWS config.
func NewClient(awsCfg aws.Config, cfg Config) *Client {
	return newClient(awsrekognition.NewFromConfig(awsCfg), cfg)
}

func newClient(api api, cfg Config) *Client {
	prefix := cfg.CollectionPrefix
	if prefix == "" {
		prefix = "event"
	}
	return &Client{api: api, prefix: prefix}
}

// collectionID derives the deterministic collection name for an event.
func (c *Client) collectionID(eventID string) string {
	return fmt.Sprintf("%s-%s", c.prefix, eventID)
}

// IndexPhoto indexes the photo's faces into the event's collection.
func (c *Client) IndexPhoto(ctx context.Context, eventID, photoID string, image []byte, opts faceapi.IndexOptions) (*faceapi.IndexResult, error) {
	if len(image) == 0 {
		return nil, faceapi.NewInvalidInput("image", "empty image bytes")
	}

	collection := c.collectionID(eventID)
	in := &awsrekognition.IndexFacesInput{
		CollectionId:    aws.String(collection),
		Image:           &types.Image{Bytes: image},
		ExternalImageId: aws.String(photoID),
	}
	if opts.MaxFaces > 0 {
		in.MaxFaces = aws.Int32(int32(opts.MaxFaces))
	}
	if opts.QualityFilter != "" {
		in.QualityFilter = types.QualityFilter(opts.QualityFilter)
	}

	out, err := c.call(ctx, "index_faces", func() (any, error) {
		return c.api.IndexFaces(ctx, in)
	})
	if err != nil {
		return nil, translate(err, "collection", collection)
	}
	resp := out.(*awsrekognition.IndexFacesOutput)

	result := &faceapi.IndexResult{}
	for _, rec := range resp.FaceRecords {
		if rec.Face == nil || rec.Face.FaceId == nil {
			continue
		}
		raw, _ := json.Marshal(rec.Face)
		result.Faces = append(result.Faces, faceapi.IndexedFace{
			ExternalFaceID: aws.ToString(rec.Face.FaceId),
			BoundingBox:    toBoundingBox(rec.Face.BoundingBox),
			Confidence:     float64(aws.ToFloat32(rec.Face.Confidence)) / 100,
			Raw:            raw,
		})
	}
	for _, uf := range resp.UnindexedFaces {
		entry := faceapi.UnindexedFace{}
		if uf.FaceDetail != nil {
			entry.BoundingBox = toBoundingBox(uf.FaceDetail.BoundingBox)
		}
		for _, reason := range uf.Reasons {
			entry.Reasons = append(entry.Reasons, string(reason))
		}
		result.Unindexed = append(result.Unindexed, entry)
	}
	return result, nil
}

// SearchByImage matches the probe face against the event's collection and
// returns one entry per photo, best similarity first.
func (c *Client) SearchByImage(ctx context.Context, eventID string, image []byte, maxResults int, minSimilarity float64) ([]faceapi.Match, error) {
	if len(image) == 0 {
		return nil, faceapi.NewInvalidInput("image", "empty image bytes")
	}

	collection := c.collectionID(eventID)
	in := &awsrekognition.SearchFacesByImageInput{
		CollectionId:       aws.String(collection),
		Image:              &types.Image{Bytes: image},
		FaceMatchThreshold: aws.Float32(float32(minSimilarity * 100)),
	}
	if maxResults > 0 {
		in.MaxFaces = aws.Int32(int32(maxResults))
	}

	out, err := c.call(ctx, "search_faces", func() (any, error) {
		return c.api.SearchFacesByImage(ctx, in)
	})
	if err != nil {
		return nil, translate(err, "collection", collection)
	}
	resp := out.(*awsrekognition.SearchFacesByImageOutput)

	matches := make([]rawMatch, 0, len(resp.FaceMatches))
	for _, fm := range resp.FaceMatches {
		if fm.Face == nil || fm.Face.ExternalImageId == nil {
			continue
		}
		matches = append(matches, rawMatch{
			photoID:    aws.ToString(fm.Face.ExternalImageId),
			similarity: float64(aws.ToFloat32(fm.Similarity)) / 100,
		})
	}
	return mergeMatches(matches), nil
}

// CreateCollection creates the event's collection. Losing the creation
// race to another worker counts as success.
func (c *Client) CreateCollection(ctx context.Context, eventID string) (string, error) {
	collection := c.collectionID(eventID)
	_, err := c.call(ctx, "create_collection", func() (any, error) {
		return c.api.CreateCollection(ctx, &awsrekognition.CreateCollectionInput{
			CollectionId: aws.String(collection),
		})
	})
	if err != nil {
		terr := translate(err, "collection", collection)
		if faceapi.IsAlreadyExists(terr) {
			return collection, nil
		}
		return "", terr
	}
	return collection, nil
}

// DeleteCollection tears down the event's collection. Deleting a
// collection that is already gone counts as success.
func (c *Client) DeleteCollection(ctx context.Context, eventID string) error {
	collection := c.collectionID(eventID)
	_, err := c.call(ctx, "delete_collection", func() (any, error) {
		return c.api.DeleteCollection(ctx, &awsrekognition.DeleteCollectionInput{
			CollectionId: aws.String(collection),
		})
	})
	if err != nil {
		terr := translate(err, "collection", collection)
		var fe *faceapi.Error
		if errors.As(terr, &fe) && fe.Kind == faceapi.KindNotFound {
			return nil
		}
		return terr
	}
	return nil
}

// call wraps one SDK invocation with latency and error metrics.
func (c *Client) call(ctx context.Context, op string, fn func() (any, error)) (any, error) {
	metrics.ProviderCalls.WithLabelValues(providerName, op).Inc()
	start := time.Now()
	out, err := fn()
	metrics.ProviderLatency.WithLabelValues(providerName, op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ProviderErrors.WithLabelValues(providerName, errorCode(err)).Inc()
	}
	return out, err
}

// rawMatch is one per-face search hit before per-photo merging.
type rawMatch struct {
	photoID    string
	similarity float64
}

// mergeMatches collapses per-face hits into per-photo matches, keeping the
// best similarity and counting matched faces, sorted best first.
func mergeMatches(raw []rawMatch) []faceapi.Match {
	byPhoto := make(map[string]*faceapi.Match)
	order := make([]string, 0, len(raw))
	for _, rm := range raw {
		m, ok := byPhoto[rm.photoID]
		if !ok {
			byPhoto[rm.photoID] = &faceapi.Match{PhotoID: rm.photoID, Similarity: rm.similarity, FaceCount: 1}
			order = append(order, rm.photoID)
			continue
		}
		m.FaceCount++
		if rm.similarity > m.Similarity {
			m.Similarity = rm.similarity
		}
	}

	matches := make([]faceapi.Match, 0, len(order))
	for _, id := range order {
		matches = append(matches, *byPhoto[id])
	}
	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	return matches
}

func toBoundingBox(bb *types.BoundingBox) domain.BoundingBox {
	if bb == nil {
		return domain.BoundingBox{}
	}
	return domain.BoundingBox{
		Width:  float64(aws.ToFloat32(bb.Width)),
		Height: float64(aws.ToFloat32(bb.Height)),
		Left:   float64(aws.ToFloat32(bb.Left)),
		Top:    float64(aws.ToFloat32(bb.Top)),
	}
}

// translate maps an SDK error into the shared taxonomy.
func translate(err error, resource, id string) error {
	var notFound *types.ResourceNotFoundException
	if errors.As(err, &notFound) {
		return faceapi.NewNotFound(resource, id)
	}

	var badFormat *types.InvalidImageFormatException
	if errors.As(err, &badFormat) {
		return faceapi.NewInvalidInput("image", "unsupported image format")
	}
	var tooLarge *types.ImageTooLargeException
	if errors.As(err, &tooLarge) {
		return faceapi.NewInvalidInput("image", "image exceeds provider size limit")
	}
	var badParam *types.InvalidParameterException
	if errors.As(err, &badParam) {
		return faceapi.NewInvalidInput("request", aws.ToString(badParam.Message))
	}

	return faceapi.NewProviderFailed(providerName, errorCode(err), err)
}

// errorCode extracts the provider error name, falling back to
// ConnectionError for transport-level failures.
func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return "ConnectionError"
}

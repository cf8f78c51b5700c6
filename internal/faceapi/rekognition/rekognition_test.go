package rekognition

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsrekognition "github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/aws/smithy-go"

	"github.com/sabaipics/face-indexer/internal/faceapi"
)

type fakeAPI struct {
	indexFaces       func(*awsrekognition.IndexFacesInput) (*awsrekognition.IndexFacesOutput, error)
	searchFaces      func(*awsrekognition.SearchFacesByImageInput) (*awsrekognition.SearchFacesByImageOutput, error)
	createCollection func(*awsrekognition.CreateCollectionInput) (*awsrekognition.CreateCollectionOutput, error)
	deleteCollection func(*awsrekognition.DeleteCollectionInput) (*awsrekognition.DeleteCollectionOutput, error)
}

func (f *fakeAPI) IndexFaces(_ context.Context, in *awsrekognition.IndexFacesInput, _ ...func(*awsrekognition.Options)) (*awsrekognition.IndexFacesOutput, error) {
	return f.indexFaces(in)
}

func (f *fakeAPI) SearchFacesByImage(_ context.Context, in *awsrekognition.SearchFacesByImageInput, _ ...func(*awsrekognition.Options)) (*awsrekognition.SearchFacesByImageOutput, error) {
	return f.searchFaces(in)
}

func (f *fakeAPI) CreateCollection(_ context.Context, in *awsrekognition.CreateCollectionInput, _ ...func(*awsrekognition.Options)) (*awsrekognition.CreateCollectionOutput, error) {
	return f.createCollection(in)
}

func (f *fakeAPI) DeleteCollection(_ context.Context, in *awsrekognition.DeleteCollectionInput, _ ...func(*awsrekognition.Options)) (*awsrekognition.DeleteCollectionOutput, error) {
	return f.deleteCollection(in)
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		wantKind      faceapi.Kind
		wantRetryable bool
		wantThrottle  bool
	}{
		{
			name:     "missing collection is not found",
			err:      &types.ResourceNotFoundException{Message: aws.String("collection not found")},
			wantKind: faceapi.KindNotFound,
		},
		{
			name:     "bad image format is invalid input",
			err:      &types.InvalidImageFormatException{Message: aws.String("bad format")},
			wantKind: faceapi.KindInvalidInput,
		},
		{
			name:     "oversized image is invalid input",
			err:      &types.ImageTooLargeException{Message: aws.String("too large")},
			wantKind: faceapi.KindInvalidInput,
		},
		{
			name:     "rejected parameter is invalid input",
			err:      &types.InvalidParameterException{Message: aws.String("bad parameter")},
			wantKind: faceapi.KindInvalidInput,
		},
		{
			name:          "throttling is retryable with throttle flag",
			err:           &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"},
			wantKind:      faceapi.KindProviderFailed,
			wantRetryable: true,
			wantThrottle:  true,
		},
		{
			name:          "throughput exceeded is retryable with throttle flag",
			err:           &smithy.GenericAPIError{Code: "ProvisionedThroughputExceededException", Message: "over budget"},
			wantKind:      faceapi.KindProviderFailed,
			wantRetryable: true,
			wantThrottle:  true,
		},
		{
			name:          "internal server error is retryable without throttle",
			err:           &smithy.GenericAPIError{Code: "InternalServerError", Message: "boom"},
			wantKind:      faceapi.KindProviderFailed,
			wantRetryable: true,
		},
		{
			name:     "access denied is terminal",
			err:      &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "no"},
			wantKind: faceapi.KindProviderFailed,
		},
		{
			name:          "transport failure is retryable connection error",
			err:           errors.New("dial tcp: connection refused"),
			wantKind:      faceapi.KindProviderFailed,
			wantRetryable: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := translate(tt.err, "collection", "event-e1")
			fe, ok := faceapi.As(got)
			if !ok {
				t.Fatalf("translate() = %v, want taxonomy error", got)
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

func TestIndexPhoto(t *testing.T) {
	api := &fakeAPI{
		indexFaces: func(in *awsrekognition.IndexFacesInput) (*awsrekognition.IndexFacesOutput, error) {
			if got := aws.ToString(in.CollectionId); got != "event-e1" {
				t.Errorf("CollectionId = %q, want %q", got, "event-e1")
			}
			if got := aws.ToString(in.ExternalImageId); got != "p1" {
				t.Errorf("ExternalImageId = %q, want %q", got, "p1")
			}
			if got := aws.ToInt32(in.MaxFaces); got != 20 {
				t.Errorf("MaxFaces = %d, want 20", got)
			}
			return &awsrekognition.IndexFacesOutput{
				FaceRecords: []types.FaceRecord{
					{Face: &types.Face{
						FaceId:     aws.String("f1"),
						Confidence: aws.Float32(99.5),
						BoundingBox: &types.BoundingBox{
							Width: aws.Float32(0.2), Height: aws.Float32(0.3),
							Left: aws.Float32(0.1), Top: aws.Float32(0.4),
						},
					}},
				},
				UnindexedFaces: []types.UnindexedFace{
					{Reasons: []types.Reason{types.ReasonLowConfidence}},
				},
			}, nil
		},
	}
	client := newClient(api, Config{})

	result, err := client.IndexPhoto(context.Background(), "e1", "p1", []byte("jpeg"), faceapi.IndexOptions{MaxFaces: 20, QualityFilter: "AUTO"})
	if err != nil {
		t.Fatalf("IndexPhoto() error = %v", err)
	}
	if len(result.Faces) != 1 {
		t.Fatalf("len(Faces) = %d, want 1", len(result.Faces))
	}
	face := result.Faces[0]
	if face.ExternalFaceID != "f1" {
		t.Errorf("ExternalFaceID = %q, want %q", face.ExternalFaceID, "f1")
	}
	if face.Confidence != 0.995 {
		t.Errorf("Confidence = %v, want 0.995", face.Confidence)
	}
	if face.BoundingBox.Left != 0.1 || face.BoundingBox.Top != 0.4 {
		t.Errorf("BoundingBox = %+v", face.BoundingBox)
	}
	if len(result.Unindexed) != 1 || len(result.Unindexed[0].Reasons) != 1 {
		t.Fatalf("Unindexed = %+v, want one face with one reason", result.Unindexed)
	}
}

func TestIndexPhotoRejectsEmptyImage(t *testing.T) {
	client := newClient(&fakeAPI{}, Config{})

	_, err := client.IndexPhoto(context.Background(), "e1", "p1", nil, faceapi.IndexOptions{})
	fe, ok := faceapi.As(err)
	if !ok || fe.Kind != faceapi.KindInvalidInput {
		t.Fatalf("IndexPhoto() error = %v, want invalid_input", err)
	}
}

func TestSearchByImageMergesPerPhoto(t *testing.T) {
	api := &fakeAPI{
		searchFaces: func(in *awsrekognition.SearchFacesByImageInput) (*awsrekognition.SearchFacesByImageOutput, error) {
			if got := aws.ToFloat32(in.FaceMatchThreshold); got != 80 {
				t.Errorf("FaceMatchThreshold = %v, want 80", got)
			}
			return &awsrekognition.SearchFacesByImageOutput{
				FaceMatches: []types.FaceMatch{
					{Similarity: aws.Float32(91), Face: &types.Face{ExternalImageId: aws.String("p1")}},
					{Similarity: aws.Float32(97), Face: &types.Face{ExternalImageId: aws.String("p2")}},
					{Similarity: aws.Float32(95), Face: &types.Face{ExternalImageId: aws.String("p1")}},
				},
			}, nil
		},
	}
	client := newClient(api, Config{})

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

func TestCreateCollectionToleratesExisting(t *testing.T) {
	api := &fakeAPI{
		createCollection: func(in *awsrekognition.CreateCollectionInput) (*awsrekognition.CreateCollectionOutput, error) {
			return nil, &types.ResourceAlreadyExistsException{Message: aws.String("exists")}
		},
	}
	client := newClient(api, Config{CollectionPrefix: "prod"})

	id, err := client.CreateCollection(context.Background(), "e1")
	if err != nil {
		t.Fatalf("CreateCollection() error = %v", err)
	}
	if id != "prod-e1" {
		t.Errorf("collection ID = %q, want %q", id, "prod-e1")
	}
}

func TestDeleteCollectionToleratesMissing(t *testing.T) {
	api := &fakeAPI{
		deleteCollection: func(in *awsrekognition.DeleteCollectionInput) (*awsrekognition.DeleteCollectionOutput, error) {
			return nil, &types.ResourceNotFoundException{Message: aws.String("gone")}
		},
	}
	client := newClient(api, Config{})

	if err := client.DeleteCollection(context.Background(), "e1"); err != nil {
		t.Fatalf("DeleteCollection() error = %v", err)
	}
}

package config

import (
	"errors"
	"fmt"

	"github.com/sabaipics/face-indexer/internal/faceapi/hosted"
	"github.com/sabaipics/face-indexer/internal/faceapi/rekognition"
	"github.com/sabaipics/face-indexer/internal/indexing/cleanup"
	"github.com/sabaipics/face-indexer/internal/indexing/orchestrator"
	"github.com/sabaipics/face-indexer/internal/infra/objectstore"
	"github.com/sabaipics/face-indexer/internal/infra/queue"
	redisclient "github.com/sabaipics/face-indexer/internal/infra/redis"
	"github.com/sabaipics/face-indexer/internal/infra/storage/postgres"
	"github.com/sabaipics/face-indexer/internal/ratelimit"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server       ServerConfig        `yaml:"server"`
	Logging      LoggingConfig       `yaml:"logging"`
	Database     postgres.Config     `yaml:"database"`
	Redis        redisclient.Config  `yaml:"redis"`
	Storage      objectstore.Config  `yaml:"storage"`
	Queues       QueuesConfig        `yaml:"queues"`
	RateLimit    ratelimit.Config    `yaml:"rate_limit"`
	Pipeline     orchestrator.Config `yaml:"pipeline"`
	Cleanup      cleanup.Config      `yaml:"cleanup"`
	FaceProvider FaceProviderConfig  `yaml:"face_provider"`
}

// ServerConfig holds health/metrics HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// QueuesConfig holds the two consumer queues.
type QueuesConfig struct {
	IndexPhoto   queue.Config `yaml:"index_photo"`
	CleanupEvent queue.Config `yaml:"cleanup_event"`
}

// FaceProviderConfig selects and configures the active face service.
type FaceProviderConfig struct {
	// Provider is "rekognition" or "hosted".
	Provider string `yaml:"provider"`

	Rekognition RekognitionConfig `yaml:"rekognition"`
	Hosted      hosted.Config     `yaml:"hosted"`
}

// RekognitionConfig holds the cloud provider settings.
type RekognitionConfig struct {
	Region string `yaml:"region"`

	rekognition.Config `yaml:",inline"`
}

// Validate fails fast on settings that would misbehave at runtime, in
// particular the retry-ceiling coupling between the queue and the
// pipeline.
func (c *AppConfig) Validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if c.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}

	// The queue's delivery ceiling and the pipeline's retry budget are the
	// same number seen from two sides; a mismatch silently changes how
	// many attempts a photo really gets.
	if c.Queues.IndexPhoto.MaxAttempts != c.Pipeline.MaxRetries+1 {
		return fmt.Errorf(
			"queues.index_photo.max_attempts (%d) must equal pipeline.max_retries+1 (%d)",
			c.Queues.IndexPhoto.MaxAttempts, c.Pipeline.MaxRetries+1)
	}

	switch c.FaceProvider.Provider {
	case "rekognition":
		if c.FaceProvider.Rekognition.Region == "" {
			return errors.New("face_provider.rekognition.region is required")
		}
	case "hosted":
		if c.FaceProvider.Hosted.BaseURL == "" {
			return errors.New("face_provider.hosted.base_url is required")
		}
	default:
		return fmt.Errorf("face_provider.provider must be \"rekognition\" or \"hosted\", got %q", c.FaceProvider.Provider)
	}
	return nil
}

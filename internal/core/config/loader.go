package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/sabaipics/face-indexer/internal/infra/queue"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if necessary
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Queues.IndexPhoto.MaxAttempts == 0 {
		cfg.Queues.IndexPhoto.MaxAttempts = queue.DefaultMaxAttempts
	}
	if cfg.Pipeline.MaxRetries == 0 {
		cfg.Pipeline.MaxRetries = cfg.Queues.IndexPhoto.MaxAttempts - 1
	}

	// Queue names are fixed by the pipeline contract, not configurable.
	cfg.Queues.IndexPhoto.Name = queue.QueueIndexPhoto
	cfg.Queues.CleanupEvent.Name = queue.QueueCleanupEvent

	// The orchestrator's metric label follows the selected provider.
	cfg.Pipeline.Provider = cfg.FaceProvider.Provider

	return &cfg, nil
}

package queue

import (
	"testing"
	"time"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{Name: QueueIndexPhoto}.withDefaults()

	if cfg.BatchSize != DefaultBatchSize {
		t.Errorf("BatchSize = %d, want %d", cfg.BatchSize, DefaultBatchSize)
	}
	if cfg.PollInterval != DefaultPollInterval {
		t.Errorf("PollInterval = %v, want %v", cfg.PollInterval, DefaultPollInterval)
	}
	if cfg.Lease != DefaultLease {
		t.Errorf("Lease = %v, want %v", cfg.Lease, DefaultLease)
	}
	if cfg.MaxAttempts != DefaultMaxAttempts {
		t.Errorf("MaxAttempts = %d, want %d", cfg.MaxAttempts, DefaultMaxAttempts)
	}
}

func TestConfigExplicitValuesKept(t *testing.T) {
	cfg := Config{
		Name:         QueueCleanupEvent,
		BatchSize:    5,
		PollInterval: time.Second,
		Lease:        time.Minute,
		MaxAttempts:  7,
	}.withDefaults()

	if cfg.BatchSize != 5 || cfg.PollInterval != time.Second ||
		cfg.Lease != time.Minute || cfg.MaxAttempts != 7 {
		t.Errorf("explicit values overwritten: %+v", cfg)
	}
}

func TestNewRequiresNameAndHandle(t *testing.T) {
	if _, err := New(nil, Config{Name: QueueIndexPhoto}); err == nil {
		t.Error("New accepted a nil db handle")
	}
}

// Package ratelimit paces outbound face-provider calls across every
// worker instance. Reservations go through one serialized authority (a
// Lua script on a shared Redis key) so aggregate throughput converges to
// the configured ceiling no matter how many processes call concurrently.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// Default limiter configuration values.
const (
	DefaultRequestsPerSecond  = 50
	DefaultThrottleMultiplier = 4.0
	DefaultKeyPrefix          = "facelimit"
)

// Reservation is a granted slice of the global pacing schedule.
type Reservation struct {
	// Delay is how long the caller must wait before issuing its first call.
	Delay time.Duration
	// Interval is the minimum spacing between successive calls within the
	// batch.
	Interval time.Duration
}

// Limiter grants pacing slots and absorbs throttle feedback.
type Limiter interface {
	// ReserveBatch atomically advances the global schedule by n slots.
	// It never refuses; under contention it degrades to larger delays.
	ReserveBatch(ctx context.Context, n int) (Reservation, error)

	// ReportThrottle records that the provider signaled throttling and
	// widens the effective interval for at least d. Repeated reports
	// extend the cool-down.
	ReportThrottle(ctx context.Context, d time.Duration) error
}

// Config holds limiter configuration.
type Config struct {
	// RequestsPerSecond is the global ceiling across all workers.
	// Default: 50.
	RequestsPerSecond int `yaml:"requests_per_second"`

	// ThrottleMultiplier widens the slot interval while a throttle
	// cool-down is active. Default: 4.
	ThrottleMultiplier float64 `yaml:"throttle_multiplier"`

	// KeyPrefix namespaces the limiter's Redis keys. Default: "facelimit".
	KeyPrefix string `yaml:"key_prefix"`
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.RequestsPerSecond < 0 {
		return errors.New("requests_per_second cannot be negative")
	}
	if c.ThrottleMultiplier < 0 {
		return errors.New("throttle_multiplier cannot be negative")
	}
	if c.ThrottleMultiplier != 0 && c.ThrottleMultiplier < 1 {
		return errors.New("throttle_multiplier must be >= 1")
	}
	return nil
}

func (c Config) withDefaults() Config {
	if c.RequestsPerSecond == 0 {
		c.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if c.ThrottleMultiplier == 0 {
		c.ThrottleMultiplier = DefaultThrottleMultiplier
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
	return c
}

// Interval returns the baseline spacing between slots.
func (c Config) Interval() time.Duration {
	cfg := c.withDefaults()
	return time.Second / time.Duration(cfg.RequestsPerSecond)
}

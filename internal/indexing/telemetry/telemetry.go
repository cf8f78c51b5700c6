// Package telemetry is the structured error/warning sink for the
// pipeline: slog for operators tailing logs, prometheus for alerting.
package telemetry

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var captures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "indexer_telemetry_captures_total",
		Help: "Structured error/warning captures by severity and type",
	},
	[]string{"severity", "error_type"},
)

// Tags identify which job a capture belongs to.
type Tags struct {
	ErrorType string
	PhotoID   string
	EventID   string
}

// Sink captures pipeline failures for operator escalation.
type Sink struct {
	log *slog.Logger
}

// NewSink creates a sink logging through the given logger.
func NewSink(log *slog.Logger) *Sink {
	if log == nil {
		log = slog.Default()
	}
	return &Sink{log: log}
}

// Warning captures a non-terminal failure: retries remain, no escalation
// needed yet.
func (s *Sink) Warning(msg string, tags Tags, extras ...any) {
	captures.WithLabelValues("warning", tags.ErrorType).Inc()
	s.log.Warn(msg, s.args(tags, extras)...)
}

// Error captures a terminal or non-retryable failure.
func (s *Sink) Error(msg string, tags Tags, extras ...any) {
	captures.WithLabelValues("error", tags.ErrorType).Inc()
	s.log.Error(msg, s.args(tags, extras)...)
}

func (s *Sink) args(tags Tags, extras []any) []any {
	args := []any{
		"error_type", tags.ErrorType,
		"photo_id", tags.PhotoID,
		"event_id", tags.EventID,
	}
	return append(args, extras...)
}

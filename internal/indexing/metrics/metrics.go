package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PhotosIndexed tracks photos that reached the indexed state
	PhotosIndexed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_photos_indexed_total",
			Help: "Total number of photos successfully indexed",
		},
		[]string{"provider"},
	)

	// PhotosFailed tracks photos that reached the terminal failed state
	PhotosFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_photos_failed_total",
			Help: "Total number of photos marked failed",
		},
		[]string{"provider", "error_name"},
	)

	// PhotoRetries tracks scheduled redeliveries
	PhotoRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_photo_retries_total",
			Help: "Total number of photo jobs scheduled for redelivery",
		},
		[]string{"provider", "backoff"},
	)

	// FacesIndexed tracks indexed face rows
	FacesIndexed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "indexer_faces_indexed_total",
			Help: "Total number of face rows persisted",
		},
	)

	// ProviderCalls tracks provider API calls
	ProviderCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_provider_calls_total",
			Help: "Total number of face provider calls",
		},
		[]string{"provider", "operation"},
	)

	// ProviderErrors tracks provider failures by taxonomy outcome
	ProviderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_provider_errors_total",
			Help: "Total number of face provider errors",
		},
		[]string{"provider", "error_name"},
	)

	// ProviderLatency tracks provider call latency
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "indexer_provider_latency_seconds",
			Help:    "Face provider call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "operation"},
	)

	// ThrottleReports tracks aggregated throttle reports to the limiter
	ThrottleReports = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "indexer_throttle_reports_total",
			Help: "Total number of throttle reports sent to the rate limiter",
		},
	)

	// QueueDepth tracks pending messages per queue
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "indexer_queue_depth",
			Help: "Number of pending messages in the queue",
		},
		[]string{"queue"},
	)

	// BatchesClaimed tracks claimed delivery batches per queue
	BatchesClaimed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "indexer_batches_claimed_total",
			Help: "Total number of delivery batches claimed",
		},
		[]string{"queue"},
	)

	// PhotosCleaned tracks soft-deleted photo rows from event teardowns
	PhotosCleaned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "indexer_photos_cleaned_total",
			Help: "Total number of photo rows soft-deleted by cleanup",
		},
	)
)

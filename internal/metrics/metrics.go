// Package metrics provides Prometheus metrics for shuttle observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "shuttle"

// Label constants for consistent labeling across metrics.
const (
	LabelDirection = "direction" // upload, download
	LabelResult    = "result"    // success, failure, cancelled
	LabelTransport = "transport" // http, socket
	LabelFormat    = "format"    // binary, compressed-text, text
	LabelState     = "state"     // degraded, recovered
)

// Counters track cumulative values that only increase.
var (
	// TransfersTotal counts whole transfer sessions by outcome.
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transfers_total",
			Help:      "Total transfer sessions by direction and result",
		},
		[]string{LabelDirection, LabelResult},
	)

	// ChunksCompletedTotal counts chunks that reached completed state.
	ChunksCompletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_completed_total",
			Help:      "Total chunks transferred successfully",
		},
	)

	// ChunksFailedTotal counts chunks that exhausted their retries.
	ChunksFailedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_failed_total",
			Help:      "Total chunks that failed permanently",
		},
	)

	// ChunkRetriesTotal counts chunk retry attempts.
	ChunkRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_retries_total",
			Help:      "Total chunk retry attempts",
		},
	)

	// BytesTransferredTotal counts payload bytes moved.
	BytesTransferredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_transferred_total",
			Help:      "Total payload bytes transferred",
		},
		[]string{LabelDirection},
	)

	// PoolConnectionsCreatedTotal counts new pooled transport handles.
	PoolConnectionsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_connections_created_total",
			Help:      "Total transport handles created by the connection pool",
		},
	)

	// PoolConnectionsReusedTotal counts pool hits.
	PoolConnectionsReusedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pool_connections_reused_total",
			Help:      "Total transport handles reused from the connection pool",
		},
	)

	// HealthTransitionsTotal counts session health transitions.
	HealthTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "health_transitions_total",
			Help:      "Total session health transitions by state",
		},
		[]string{LabelState},
	)

	// CapabilityProbesTotal counts capability negotiation attempts by result.
	CapabilityProbesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capability_probes_total",
			Help:      "Total capability probes by result",
		},
		[]string{LabelResult},
	)
)

// Gauges track values that can go up and down.
var (
	// ChunksInFlight tracks chunks currently being transferred.
	ChunksInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chunks_in_flight",
			Help:      "Chunks currently in flight",
		},
	)

	// HealthScore tracks the most recent session health score (0-100).
	HealthScore = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_score",
			Help:      "Current transfer session health score (0-100)",
		},
	)

	// AdaptiveChunkSizeBytes tracks the current adaptive chunk size.
	AdaptiveChunkSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "adaptive_chunk_size_bytes",
			Help:      "Current adaptive chunk size in bytes",
		},
	)
)

// Histograms track distributions.
var (
	// ChunkDurationSeconds tracks chunk transfer latency.
	ChunkDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chunk_duration_seconds",
			Help:      "Chunk transfer duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{LabelDirection},
	)
)

// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CapturedPacketsTotal counts frames handed to the raw-packet queue.
	CapturedPacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dgawatch_captured_packets_total",
			Help: "Total number of frames captured and queued",
		},
		[]string{"interface", "storage"},
	)

	// CaptureDropsTotal mirrors driver statistics: dropped by kernel or by interface.
	CaptureDropsTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dgawatch_capture_drops",
			Help: "Frames dropped by the capture driver as last reported",
		},
		[]string{"interface", "reason"},
	)

	// ExtractErrorsTotal counts frames the extractor discarded.
	ExtractErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dgawatch_extract_errors_total",
			Help: "Total number of frames discarded by the DNS extractor",
		},
		[]string{"reason"},
	)

	// ExtractedNamesTotal counts names folded into batches, duplicates included.
	ExtractedNamesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dgawatch_extracted_names_total",
			Help: "Total number of domain names extracted from DNS messages",
		},
	)

	// FlushedBatchesTotal counts batches flushed by trigger.
	FlushedBatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dgawatch_flushed_batches_total",
			Help: "Total number of domain batches flushed",
		},
		[]string{"trigger"},
	)

	// BatchSize tracks the number of distinct names per flushed batch.
	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dgawatch_batch_size",
			Help:    "Distinct domain names per flushed batch",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1, 2, 4, ..., 2048
		},
	)

	// LookupsTotal counts per-name list lookups.
	LookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dgawatch_lookups_total",
			Help: "Total number of reputation lookups by list and result",
		},
		[]string{"list", "result"},
	)

	// LookupLatencySeconds measures store round trips per list query.
	LookupLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dgawatch_lookup_latency_seconds",
			Help:    "Latency of reputation list queries in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		},
		[]string{"list"},
	)

	// BlacklistHitsTotal counts blacklisted names seen.
	BlacklistHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dgawatch_blacklist_hits_total",
			Help: "Total number of blacklisted domain names observed",
		},
	)

	// AuditWritesTotal counts audit records by outcome.
	AuditWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dgawatch_audit_writes_total",
			Help: "Total number of audit record writes",
		},
		[]string{"result"},
	)

	// PublishAttemptsTotal counts publish attempts by backend and result.
	PublishAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dgawatch_publish_attempts_total",
			Help: "Total number of publish attempts",
		},
		[]string{"backend", "result"},
	)

	// RetriesTotal counts failed attempts that were followed by another attempt.
	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dgawatch_retries_total",
			Help: "Total number of retried operations",
		},
		[]string{"operation"},
	)

	// QueueDepth tracks the number of queued elements per pipeline queue.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dgawatch_queue_depth",
			Help: "Current number of elements held in a pipeline queue",
		},
		[]string{"queue"},
	)

	// QueueCapacity exposes the capacity each queue was built with.
	QueueCapacity = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dgawatch_queue_capacity",
			Help: "Configured capacity of a pipeline queue",
		},
		[]string{"queue"},
	)

	// StageStatus tracks stage state (0=stopped, 1=running, 2=error).
	StageStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dgawatch_stage_status",
			Help: "Current status of pipeline stages (0=stopped, 1=running, 2=error)",
		},
		[]string{"stage"},
	)
)

// StageStatusValue represents stage status as a numeric value for Prometheus gauge
const (
	StageStatusStopped = 0
	StageStatusRunning = 1
	StageStatusError   = 2
)

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline-wide Prometheus instrumentation, grounded on
// tracing/metrics.go's per-concern HistogramVec/CounterVec/GaugeVec shape,
// narrowed from its original workflow-engine concerns (actions, GDPR,
// trace storage) to this pipeline's concerns (sync, processing, detection,
// segmentation, queue health). Per-task-kind audit counters live in
// internal/audit instead, since they're already scoped there.
type Metrics struct {
	SyncDuration      *prometheus.HistogramVec
	SyncErrors        *prometheus.CounterVec
	BatchesProcessed  *prometheus.CounterVec
	SignalRecordsWritten *prometheus.CounterVec
	DetectionDuration *prometheus.HistogramVec
	TransitionsFound  *prometheus.CounterVec
	SegmentationDuration prometheus.Histogram
	QueueDepth        *prometheus.GaugeVec
	TokenRefreshes    *prometheus.CounterVec
}

// NewMetrics registers the pipeline's Prometheus metrics under namespace,
// the way tracing/metrics.go's NewMetrics does for the workflow engine.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "pipeline"
	}

	return &Metrics{
		SyncDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_duration_seconds",
			Help:      "Duration of one stream sync attempt.",
			Buckets:   []float64{.1, .5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"source_name", "stream_name", "status"}),

		SyncErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_errors_total",
			Help:      "Sync attempts that ended in an error.",
		}, []string{"source_name", "kind"}),

		BatchesProcessed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_processed_total",
			Help:      "Raw batches turned into signal records.",
		}, []string{"stream_name", "status"}),

		SignalRecordsWritten: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signal_records_written_total",
			Help:      "Signal records written by UpsertSignalRecord (including duplicates, which update the existing row).",
		}, []string{"signal_name"}),

		DetectionDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "detection_duration_seconds",
			Help:      "Duration of one signal's transition detection pass.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"signal_name", "detector"}),

		TransitionsFound: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_found_total",
			Help:      "Transitions surviving the confidence filter, by detector.",
		}, []string{"signal_name", "detector"}),

		SegmentationDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "segmentation_duration_seconds",
			Help:      "Duration of one day's segmentation pass.",
			Buckets:   prometheus.DefBuckets,
		}),

		QueueDepth: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Queued task count by kind, sampled periodically.",
		}, []string{"task_kind"}),

		TokenRefreshes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "OAuth token refresh attempts by source and outcome.",
		}, []string{"source_name", "outcome"}),
	}
}

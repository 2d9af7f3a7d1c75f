// Package metrics provides access to Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "previewd"

// Web
var (
	HTTPResponseStatuses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "web",
			Name:      "http_response_statuses_total",
		},
		[]string{"status"},
	)
	HTTPResponseTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "web",
			Name:      "http_response_time_seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 15, 30},
		},
		[]string{"path"},
	)
)

// Pipeline
var (
	PipelineResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "results_total",
		},
		[]string{"status"},
	)
	PipelineDenials = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "policy_denials_total",
		},
	)
	PipelineMemoHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "failure_memo_hits_total",
		},
	)
)

// Throttle
var (
	ThrottleInUse = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "throttle",
			Name:      "slots_in_use",
		},
	)
	ThrottleWaitTime = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "throttle",
			Name:      "wait_time_seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)
)

// Extract
var (
	ExtractErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "extract",
			Name:      "errors_total",
		},
		[]string{"cause"},
	)
	ExtractDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "extract",
			Name:      "duration_seconds",
			Buckets:   []float64{0.2, 0.5, 1, 2, 5, 10, 15},
		},
	)
	ExtractOriginalSizes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "extract",
			Name:      "original_size_bytes",
			Buckets: []float64{
				256 << 10, // 256 KiB
				1 << 20,   // 1 MiB
				3 << 20,   // 3 MiB
				10 << 20,  // 10 MiB
				50 << 20,  // 50 MiB
				200 << 20, // 200 MiB
				1 << 30,   // 1 GiB
			},
		},
	)
	ThumbnailSizes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "extract",
			Name:      "thumbnail_size_bytes",
			Buckets: []float64{
				4 << 10,   // 4 KiB
				16 << 10,  // 16 KiB
				64 << 10,  // 64 KiB
				256 << 10, // 256 KiB
				1 << 20,   // 1 MiB
			},
		},
	)
)

// Cache
var (
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
		},
	)
	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
		},
	)
	CacheErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "errors_total",
		},
	)
)

// Init values for common labels.
func init() {
	for _, status := range []string{"200", "400", "403", "404", "500", "502"} {
		HTTPResponseStatuses.With(prometheus.Labels{"status": status}).Add(0)
	}
	for _, status := range []string{"decoded", "denied", "failed", "cancelled"} {
		PipelineResults.With(prometheus.Labels{"status": status}).Add(0)
	}
}

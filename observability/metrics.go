package observability

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type rpcMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

type runtimeMetrics struct {
	steps      *prometheus.CounterVec
	queueDepth prometheus.Gauge
	drains     prometheus.Histogram
	corrupted  prometheus.Counter
}

var (
	rpcMetricsOnce sync.Once
	rpcRegistry    *rpcMetrics

	runtimeMetricsOnce sync.Once
	runtimeRegistry    *runtimeMetrics
)

// RPCMetrics returns the lazily-initialised registry recording JSON-RPC
// activity.
func RPCMetrics() *rpcMetrics {
	rpcMetricsOnce.Do(func() {
		rpcRegistry = &rpcMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "forward",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "Total JSON-RPC requests segmented by module and method.",
			}, []string{"module", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "forward",
				Subsystem: "rpc",
				Name:      "errors_total",
				Help:      "Total JSON-RPC errors segmented by module, method, and status code.",
			}, []string{"module", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "forward",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"module", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "forward",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by throttling policies.",
			}, []string{"module", "reason"}),
		}
		prometheus.MustRegister(
			rpcRegistry.requests,
			rpcRegistry.errors,
			rpcRegistry.latency,
			rpcRegistry.throttles,
		)
	})
	return rpcRegistry
}

// Observe records the outcome of an RPC request. The status code should be
// the HTTP status ultimately written to the response writer.
func (m *rpcMetrics) Observe(module, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(module, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(module, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(module, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" so dashboards stay consistent.
func (m *rpcMetrics) RecordThrottle(module, reason string) {
	if m == nil {
		return
	}
	if module == "" {
		module = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(module, reason).Inc()
}

// RuntimeMetrics returns the registry recording step scheduler activity.
func RuntimeMetrics() *runtimeMetrics {
	runtimeMetricsOnce.Do(func() {
		runtimeRegistry = &runtimeMetrics{
			steps: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "forward",
				Subsystem: "runtime",
				Name:      "steps_total",
				Help:      "Journaled steps executed segmented by kind and outcome.",
			}, []string{"kind", "outcome"}),
			queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "forward",
				Subsystem: "runtime",
				Name:      "queue_depth",
				Help:      "Journaled steps awaiting execution.",
			}),
			drains: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "forward",
				Subsystem: "runtime",
				Name:      "drain_duration_seconds",
				Help:      "Time spent draining the step queue to quiescence.",
				Buckets:   prometheus.DefBuckets,
			}),
			corrupted: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "forward",
				Subsystem: "runtime",
				Name:      "journal_corruptions_total",
				Help:      "Journal entries rejected by checksum verification.",
			}),
		}
		prometheus.MustRegister(
			runtimeRegistry.steps,
			runtimeRegistry.queueDepth,
			runtimeRegistry.drains,
			runtimeRegistry.corrupted,
		)
	})
	return runtimeRegistry
}

// ObserveStep records one executed step.
func (m *runtimeMetrics) ObserveStep(kind string, err error) {
	if m == nil {
		return
	}
	if kind == "" {
		kind = "unknown"
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.steps.WithLabelValues(kind, outcome).Inc()
}

// SetQueueDepth publishes the current journal backlog.
func (m *runtimeMetrics) SetQueueDepth(depth uint64) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}

// ObserveDrain records the duration of one drain-to-quiescence pass.
func (m *runtimeMetrics) ObserveDrain(duration time.Duration) {
	if m == nil {
		return
	}
	m.drains.Observe(duration.Seconds())
}

// RecordJournalCorruption counts a checksum rejection.
func (m *runtimeMetrics) RecordJournalCorruption() {
	if m == nil {
		return
	}
	m.corrupted.Inc()
}

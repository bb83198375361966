// Package prometheus implements the component metrics interfaces with
// Prometheus collectors registered on the global metrics registry.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittosmb/pkg/dispatch"
	"github.com/marmos91/dittosmb/pkg/metrics"
)

// dispatchMetrics is the Prometheus implementation of dispatch.Metrics.
type dispatchMetrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	queueWait  prometheus.Histogram
	queueDepth prometheus.Gauge
	abandoned  *prometheus.CounterVec
	panics     *prometheus.CounterVec
}

// NewDispatchMetrics returns dispatcher metrics, or nil when metrics are
// disabled so the dispatcher keeps its no-op implementation.
func NewDispatchMetrics() dispatch.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return newDispatchMetrics(metrics.GetRegistry())
}

func newDispatchMetrics(reg prometheus.Registerer) *dispatchMetrics {
	return &dispatchMetrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittosmb_native_operations_total",
				Help: "Total number of native SMB calls by kind and status",
			},
			[]string{"kind", "status"},
		),
		duration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittosmb_native_operation_duration_seconds",
				Help: "Duration of native SMB calls in seconds",
				Buckets: []float64{
					0.0001, // 100µs
					0.001,  // 1ms
					0.01,   // 10ms
					0.1,    // 100ms
					1,      // 1s
					10,     // 10s
				},
			},
			[]string{"kind"},
		),
		queueWait: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "dittosmb_dispatch_queue_wait_seconds",
				Help:    "Time operations spend queued before the worker picks them up",
				Buckets: prometheus.ExponentialBuckets(0.0001, 10, 6),
			},
		),
		queueDepth: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittosmb_dispatch_queue_depth",
				Help: "Number of operations waiting for the worker",
			},
		),
		abandoned: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittosmb_dispatch_abandoned_total",
				Help: "Results dropped because the caller stopped waiting",
			},
			[]string{"kind"},
		),
		panics: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittosmb_dispatch_panics_total",
				Help: "Panics recovered from native calls",
			},
			[]string{"kind"},
		),
	}
}

func (m *dispatchMetrics) ObserveOperation(kind, status string, duration time.Duration) {
	m.operations.WithLabelValues(kind, status).Inc()
	m.duration.WithLabelValues(kind).Observe(duration.Seconds())
}

func (m *dispatchMetrics) ObserveQueueWait(duration time.Duration) {
	m.queueWait.Observe(duration.Seconds())
}

func (m *dispatchMetrics) RecordQueueDepth(depth int) {
	m.queueDepth.Set(float64(depth))
}

func (m *dispatchMetrics) RecordAbandoned(kind string) {
	m.abandoned.WithLabelValues(kind).Inc()
}

func (m *dispatchMetrics) RecordPanic(kind string) {
	m.panics.WithLabelValues(kind).Inc()
}

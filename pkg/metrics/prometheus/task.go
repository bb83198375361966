package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittosmb/pkg/metrics"
	"github.com/marmos91/dittosmb/pkg/task"
)

// taskMetrics is the Prometheus implementation of task.Metrics.
type taskMetrics struct {
	started  prometheus.Counter
	joined   prometheus.Counter
	running  prometheus.Gauge
	finished *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewTaskMetrics returns background task metrics, or nil when metrics are
// disabled.
func NewTaskMetrics() task.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return newTaskMetrics(metrics.GetRegistry())
}

func newTaskMetrics(reg prometheus.Registerer) *taskMetrics {
	return &taskMetrics{
		started: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittosmb_tasks_started_total",
				Help: "Background refresh tasks started",
			},
		),
		joined: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "dittosmb_tasks_joined_total",
				Help: "Requests that joined an already running task",
			},
		),
		running: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittosmb_tasks_running",
				Help: "Background tasks currently running",
			},
		),
		finished: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittosmb_tasks_finished_total",
				Help: "Background tasks finished by status",
			},
			[]string{"status"},
		),
		duration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "dittosmb_task_duration_seconds",
				Help: "Duration of background tasks in seconds",
				Buckets: []float64{
					0.001, // 1ms
					0.01,  // 10ms
					0.1,   // 100ms
					1,     // 1s
					10,    // 10s
					60,    // 1m
				},
			},
		),
	}
}

func (m *taskMetrics) RecordStarted() {
	m.started.Inc()
	m.running.Inc()
}

func (m *taskMetrics) RecordJoined() {
	m.joined.Inc()
}

func (m *taskMetrics) RecordFinished(status string, duration time.Duration) {
	m.running.Dec()
	m.finished.WithLabelValues(status).Inc()
	m.duration.Observe(duration.Seconds())
}

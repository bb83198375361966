package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/marmos91/dittosmb/pkg/cache"
	"github.com/marmos91/dittosmb/pkg/metrics"
)

// cacheMetrics is the Prometheus implementation of cache.Metrics.
type cacheMetrics struct {
	lookups      *prometheus.CounterVec
	entries      prometheus.Gauge
	stickyErrors *prometheus.CounterVec
}

// NewCacheMetrics returns metadata cache metrics, or nil when metrics are
// disabled.
func NewCacheMetrics() cache.Metrics {
	if !metrics.IsEnabled() {
		return nil
	}
	return newCacheMetrics(metrics.GetRegistry())
}

func newCacheMetrics(reg prometheus.Registerer) *cacheMetrics {
	return &cacheMetrics{
		lookups: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittosmb_cache_lookups_total",
				Help: "Metadata cache lookups by result (hit, miss, expired)",
			},
			[]string{"state"},
		),
		entries: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name: "dittosmb_cache_entries",
				Help: "Number of cached documents",
			},
		),
		stickyErrors: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittosmb_cache_sticky_errors_total",
				Help: "Sticky load errors stored and handed back",
			},
			[]string{"event"},
		),
	}
}

func (m *cacheMetrics) RecordLookup(state string) {
	m.lookups.WithLabelValues(state).Inc()
}

func (m *cacheMetrics) RecordEntries(n int) {
	m.entries.Set(float64(n))
}

func (m *cacheMetrics) RecordStickyError(event string) {
	m.stickyErrors.WithLabelValues(event).Inc()
}

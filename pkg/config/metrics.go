package config

import (
	"sync"

	"github.com/marmos91/dittosmb/pkg/cache"
	"github.com/marmos91/dittosmb/pkg/dispatch"
	"github.com/marmos91/dittosmb/pkg/metrics"
	promMetrics "github.com/marmos91/dittosmb/pkg/metrics/prometheus"
	"github.com/marmos91/dittosmb/pkg/task"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled).
	// Initialize creates it once the components it health-checks exist.
	Server *metrics.Server

	// The collectors below are nil when metrics are disabled; components
	// treat nil as their no-op implementation.
	Dispatch dispatch.Metrics
	Cache    cache.Metrics
	Tasks    task.Metrics
}

var (
	// Collectors register on the global registry, so they are created once
	// per process.
	collectorsOnce sync.Once
	collectors     MetricsResult
)

// InitializeMetrics creates the metrics components described by cfg.
//
// When metrics are enabled the global Prometheus registry is initialized and
// every component gets a Prometheus collector. Otherwise an empty result is
// returned. Server is left nil.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Metrics.Enabled {
		return &MetricsResult{}
	}

	metrics.InitRegistry()
	collectorsOnce.Do(func() {
		collectors = MetricsResult{
			Dispatch: promMetrics.NewDispatchMetrics(),
			Cache:    promMetrics.NewCacheMetrics(),
			Tasks:    promMetrics.NewTaskMetrics(),
		}
	})

	result := collectors
	return &result
}

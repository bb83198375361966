package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittosmb/internal/logger"
	"github.com/marmos91/dittosmb/internal/ratelimiter"
	"github.com/marmos91/dittosmb/pkg/cache"
	"github.com/marmos91/dittosmb/pkg/dispatch"
	"github.com/marmos91/dittosmb/pkg/facade"
	"github.com/marmos91/dittosmb/pkg/metrics"
	"github.com/marmos91/dittosmb/pkg/provider"
	"github.com/marmos91/dittosmb/pkg/share"
	"github.com/marmos91/dittosmb/pkg/smburi"
	"github.com/marmos91/dittosmb/pkg/task"
)

// Runtime holds every component built from a configuration.
type Runtime struct {
	Provider   *provider.Provider
	Dispatcher *dispatch.Dispatcher
	Shares     *share.Manager
	Metrics    *MetricsResult
}

// Initialize builds the component graph described by cfg:
//  1. Creates metrics collectors (no-op when disabled)
//  2. Creates the native client and starts the dispatcher around it
//  3. Opens the share store and loads the share registry
//  4. Creates the cache, task manager and provider
//  5. Creates the metrics HTTP server when metrics are enabled
//
// Shares listed in cfg.Shares.Mounts are not mounted; see MountConfigured.
func Initialize(ctx context.Context, cfg *Config) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("configuration is nil")
	}
	logger.Debug("Initializing runtime from configuration")

	m := InitializeMetrics(cfg)

	client, err := CreateNativeClient(&cfg.Native)
	if err != nil {
		return nil, err
	}
	d := dispatch.New(client,
		dispatch.WithQueueSize(cfg.Dispatcher.QueueSize),
		dispatch.WithMetrics(m.Dispatch),
	)
	f := facade.New(d)

	store, err := CreateShareStore(ctx, &cfg.Shares.Store)
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	shares, err := share.NewManager(ctx, store, f.Credentials())
	if err != nil {
		_ = store.Close()
		_ = d.Close()
		return nil, err
	}

	p, err := provider.New(provider.Options{
		Client:      f,
		Cache:       cache.New(cache.WithTTL(cfg.Cache.TTL), cache.WithMetrics(m.Cache)),
		Tasks:       task.New(task.WithMetrics(m.Tasks)),
		Shares:      shares,
		StatLimiter: ratelimiter.New(cfg.Tasks.StatRate, cfg.Tasks.StatBurst),
	})
	if err != nil {
		_ = shares.Close()
		_ = d.Close()
		return nil, err
	}

	rt := &Runtime{
		Provider:   p,
		Dispatcher: d,
		Shares:     shares,
		Metrics:    m,
	}
	if cfg.Metrics.Enabled {
		m.Server = metrics.NewServer(metrics.ServerConfig{
			Port:            cfg.Metrics.Port,
			Health:          rt.Health,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		})
	}

	logger.Info("Runtime initialized: native=%s, share_store=%s, cache_ttl=%s",
		cfg.Native.Type, cfg.Shares.Store.Type, cfg.Cache.TTL)
	return rt, nil
}

// Health reports an error once the dispatcher has stopped.
func (r *Runtime) Health() error {
	if r.Dispatcher.Closed() {
		return dispatch.ErrClosed
	}
	return nil
}

// MountConfigured mounts every configured share that is not mounted yet.
// Failures are logged and returned together; they do not stop the others.
func (r *Runtime) MountConfigured(ctx context.Context, mounts []MountConfig) error {
	var errs []error
	for _, mc := range mounts {
		id, err := smburi.Parse(mc.URI)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if r.Shares.IsMounted(id) {
			logger.Debug("Share %s already mounted", id)
			continue
		}
		if err := r.Provider.Mount(ctx, id, mc.Domain, mc.Username, mc.Password); err != nil {
			logger.Warn("Failed to mount %s: %v", id, err)
			errs = append(errs, fmt.Errorf("mount %s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// Close stops background work, then the dispatcher, then the share store.
func (r *Runtime) Close(ctx context.Context) error {
	var errs []error
	if err := r.Provider.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("provider: %w", err))
	}
	if err := r.Dispatcher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("dispatcher: %w", err))
	}
	if err := r.Shares.Close(); err != nil {
		errs = append(errs, fmt.Errorf("share store: %w", err))
	}
	return errors.Join(errs...)
}

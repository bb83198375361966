package config

import (
	"path/filepath"
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced; explicit values are preserved. Backend-specific
// maps get their defaults here too so that generated config files show them.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyDispatcherDefaults(&cfg.Dispatcher)
	applyCacheDefaults(&cfg.Cache)
	applyTasksDefaults(&cfg.Tasks)
	applyNativeDefaults(&cfg.Native)
	applySharesDefaults(&cfg.Shares)
	applyMetricsDefaults(&cfg.Metrics)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyDispatcherDefaults(cfg *DispatcherConfig) {
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 64
	}
}

func applyCacheDefaults(cfg *CacheConfig) {
	if cfg.TTL == 0 {
		cfg.TTL = time.Minute
	}
}

func applyTasksDefaults(cfg *TasksConfig) {
	if cfg.StatBurst == 0 {
		cfg.StatBurst = cfg.StatRate
	}
}

func applyNativeDefaults(cfg *NativeConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.SMB2 == nil {
		cfg.SMB2 = make(map[string]any)
	}

	if _, ok := cfg.SMB2["port"]; !ok {
		cfg.SMB2["port"] = 445
	}
	if _, ok := cfg.SMB2["dial_timeout"]; !ok {
		cfg.SMB2["dial_timeout"] = "10s"
	}
}

func applySharesDefaults(cfg *SharesConfig) {
	if cfg.Store.Type == "" {
		cfg.Store.Type = "memory"
	}
	if cfg.Store.Badger == nil {
		cfg.Store.Badger = make(map[string]any)
	}
	if _, ok := cfg.Store.Badger["path"]; !ok {
		cfg.Store.Badger["path"] = defaultBadgerPath()
	}
	if cfg.Mounts == nil {
		cfg.Mounts = []MountConfig{}
	}
}

func defaultBadgerPath() string {
	return filepath.Join(GetConfigDir(), "shares.db")
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// GetDefaultConfig returns a Config with all default values applied.
//
// This is useful for generating sample configuration files and for tests.
func GetDefaultConfig() *Config {
	cfg := &Config{
		Native: NativeConfig{
			Memory: map[string]any{
				"shares": []string{"smb://localhost/public"},
			},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete dittosmb configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (DITTOSMB_*)
//  2. Configuration file (YAML or TOML)
//  3. Default values
//
// Backend Configuration Pattern:
// Each backend defines its own configuration type. The Config struct carries
// type-specific maps (e.g., native.smb2, shares.store.badger) and only the map
// matching the selected type is decoded, by the factory for that type.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains process-wide settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Dispatcher configures the native request queue
	Dispatcher DispatcherConfig `mapstructure:"dispatcher" yaml:"dispatcher"`

	// Cache configures the metadata cache
	Cache CacheConfig `mapstructure:"cache" yaml:"cache"`

	// Tasks configures background refresh tasks
	Tasks TasksConfig `mapstructure:"tasks" yaml:"tasks"`

	// Native selects the SMB client backend
	Native NativeConfig `mapstructure:"native" yaml:"native"`

	// Shares configures the share registry and the shares mounted at startup
	Shares SharesConfig `mapstructure:"shares" yaml:"shares"`

	// Metrics configures Prometheus collection
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains process-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"required,gt=0"`
}

// DispatcherConfig configures the single-thread dispatcher.
type DispatcherConfig struct {
	// QueueSize is the number of operations that can wait for the worker
	// before Do blocks
	QueueSize int `mapstructure:"queue_size" yaml:"queue_size" validate:"gte=0"`
}

// CacheConfig configures the metadata cache.
type CacheConfig struct {
	// TTL is how long a cached document counts as fresh
	TTL time.Duration `mapstructure:"ttl" yaml:"ttl" validate:"gt=0"`
}

// TasksConfig configures background tasks.
type TasksConfig struct {
	// StatRate is the number of attribute lookups per second issued by the
	// background stat pass. 0 means unlimited.
	StatRate uint `mapstructure:"stat_rate" yaml:"stat_rate"`

	// StatBurst is the burst size of the stat pass. Defaults to StatRate.
	StatBurst uint `mapstructure:"stat_burst" yaml:"stat_burst"`
}

// NativeConfig selects the native SMB client.
type NativeConfig struct {
	// Type specifies which client implementation to use
	// Valid values: memory, smb2
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory smb2"`

	// Memory contains memory-client configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory" yaml:"memory"`

	// SMB2 contains SMB client configuration
	// Only used when Type = "smb2"
	SMB2 map[string]any `mapstructure:"smb2" yaml:"smb2"`
}

// SharesConfig configures the share registry.
type SharesConfig struct {
	// Store persists the list of mounted shares
	Store StoreConfig `mapstructure:"store" yaml:"store"`

	// Mounts are mounted at startup by the serve command
	Mounts []MountConfig `mapstructure:"mounts" yaml:"mounts" validate:"dive"`
}

// StoreConfig selects the share record store.
type StoreConfig struct {
	// Type specifies which store implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`
}

// MountConfig describes a share mounted at startup.
type MountConfig struct {
	// URI is the share, e.g. smb://nas/public
	URI string `mapstructure:"uri" yaml:"uri" validate:"required,startswith=smb://"`

	Domain   string `mapstructure:"domain" yaml:"domain,omitempty"`
	Username string `mapstructure:"username" yaml:"username,omitempty"`

	// Password is only handed to the native credential cache, never stored
	Password string `mapstructure:"password" yaml:"password,omitempty"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	// Enabled turns on collection and the metrics HTTP server
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port of the metrics server
	Port int `mapstructure:"port" yaml:"port" validate:"omitempty,min=1,max=65535"`
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DITTOSMB_*)
//  2. Configuration file
//  3. Default values
//
// An empty configPath uses the default location; a missing file is not an
// error.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DITTOSMB_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DITTOSMB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only applies to keys viper knows about.
	for _, key := range []string{
		"logging.level", "logging.format", "logging.output",
		"server.shutdown_timeout",
		"dispatcher.queue_size",
		"cache.ttl",
		"tasks.stat_rate", "tasks.stat_burst",
		"native.type",
		"shares.store.type",
		"metrics.enabled", "metrics.port",
	} {
		_ = v.BindEnv(key)
	}

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return nil
}

// getConfigDir returns $XDG_CONFIG_HOME/dittosmb, ~/.config/dittosmb, or "."
// when no home directory is known.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dittosmb")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dittosmb")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}

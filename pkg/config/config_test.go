package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_DefaultConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "info"

native:
  type: "memory"
  memory:
    shares:
      - smb://localhost/public
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected normalized level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.Server.ShutdownTimeout)
	}
	if cfg.Cache.TTL != time.Minute {
		t.Errorf("Expected default cache ttl 1m, got %v", cfg.Cache.TTL)
	}
	if cfg.Dispatcher.QueueSize != 64 {
		t.Errorf("Expected default queue_size 64, got %d", cfg.Dispatcher.QueueSize)
	}
	if cfg.Shares.Store.Type != "memory" {
		t.Errorf("Expected default share store 'memory', got %q", cfg.Shares.Store.Type)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error with missing config file, got: %v", err)
	}

	if cfg.Logging.Level != "INFO" {
		t.Errorf("Expected default level 'INFO', got %q", cfg.Logging.Level)
	}
	if cfg.Native.Type != "memory" {
		t.Errorf("Expected default native type 'memory', got %q", cfg.Native.Type)
	}
}

func TestLoad_DefaultLocation(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	dir := filepath.Join(tmpDir, "dittosmb")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("cache:\n  ttl: 5s\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Cache.TTL != 5*time.Second {
		t.Errorf("Expected ttl 5s from default location, got %v", cfg.Cache.TTL)
	}
	if !ConfigExists() {
		t.Error("Expected ConfigExists to find the file")
	}
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte("cache:\n  ttl: 5s\nlogging:\n  level: INFO\n"), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("DITTOSMB_CACHE_TTL", "90s")
	t.Setenv("DITTOSMB_LOGGING_LEVEL", "debug")
	t.Setenv("DITTOSMB_METRICS_PORT", "9191")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Cache.TTL != 90*time.Second {
		t.Errorf("Expected env ttl 90s, got %v", cfg.Cache.TTL)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected env level DEBUG, got %q", cfg.Logging.Level)
	}
	if cfg.Metrics.Port != 9191 {
		t.Errorf("Expected env metrics port 9191, got %d", cfg.Metrics.Port)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	configContent := `
logging:
  level: INFO
  invalid yaml here [[[
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_TOML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.toml")

	configContent := `
[logging]
level = "WARN"
format = "json"

[shares.store]
type = "badger"

[[shares.mounts]]
uri = "smb://nas/public"
username = "alice"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load TOML config: %v", err)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Expected format 'json', got %q", cfg.Logging.Format)
	}
	if cfg.Shares.Store.Type != "badger" {
		t.Errorf("Expected share store 'badger', got %q", cfg.Shares.Store.Type)
	}
	if len(cfg.Shares.Mounts) != 1 || cfg.Shares.Mounts[0].Username != "alice" {
		t.Errorf("Expected one mount for alice, got %+v", cfg.Shares.Mounts)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"UnknownNativeType", "native:\n  type: nfs\n", "Type"},
		{"UnknownStoreType", "shares:\n  store:\n    type: sqlite\n", "Type"},
		{"BadLogFormat", "logging:\n  format: xml\n", "Format"},
		{"MountNotShare", "shares:\n  mounts:\n    - uri: smb://nas\n", "not a share"},
		{"MountWrongScheme", "shares:\n  mounts:\n    - uri: http://nas/x\n", "URI"},
		{"NegativeTTL", "cache:\n  ttl: -1s\n", "TTL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.content), 0644); err != nil {
				t.Fatal(err)
			}
			_, err := Load(configPath)
			if err == nil {
				t.Fatal("Expected validation error, got nil")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %q, got: %v", tt.want, err)
			}
		})
	}
}

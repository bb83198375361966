package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrConfigExists is returned by InitConfig when a file is already present
// and force is not set.
var ErrConfigExists = errors.New("config file already exists")

const configHeader = `# dittosmb Configuration File
#
# Every key can be overridden with an environment variable, e.g.
# DITTOSMB_LOGGING_LEVEL=DEBUG or DITTOSMB_CACHE_TTL=30s.
#
# native.type selects the SMB client: "memory" (in-process tree, for trying
# things out) or "smb2" (network). shares.store.type selects where mounted
# shares are remembered: "memory" or "badger". Passwords listed under
# shares.mounts are never written to the share store.

`

// InitConfig writes the default configuration to the default location and
// returns its path.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes the default configuration to path, creating parent
// directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%w: %s (use --force to overwrite)", ErrConfigExists, path)
		}
	}

	data, err := yaml.Marshal(GetDefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to encode default config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(configHeader), data...), 0o600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const configHeader = `# dittomq configuration file
#
# Every key can be overridden with an environment variable: upper-case the
# path, replace dots with underscores and prefix DITTOMQ_, for example
# DITTOMQ_LOGGING_LEVEL=DEBUG or DITTOMQ_STORE_TYPE=badger.
#
# Store types: memory (lost on exit), badger, sqlite, postgres.

`

// InitConfig writes a default configuration file to the default location
// and returns its path. An existing file is only replaced with force.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	return path, InitConfigToPath(path, force)
}

// InitConfigToPath writes a default configuration file to path.
func InitConfigToPath(path string, force bool) error {
	return WriteInitialConfig(GetDefaultConfig(), path, force)
}

// WriteInitialConfig writes cfg with the explanatory header to path.
func WriteInitialConfig(cfg *Config, path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		return fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, append([]byte(configHeader), data...), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

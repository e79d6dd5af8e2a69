// Package config loads the carrel configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// TokenEnvVar overrides the catalog token from the environment, keeping
// the credential out of the config file.
const TokenEnvVar = "CARREL_CATALOG_TOKEN"

// Config is the full application configuration.
type Config struct {
	// DatabasePath is the SQLite file holding documents and the sync queue.
	DatabasePath string `yaml:"database_path"`

	Catalog CatalogConfig `yaml:"catalog"`
	Sync    SyncConfig    `yaml:"sync"`
}

// CatalogConfig points at the remote catalog.
type CatalogConfig struct {
	BaseURL string `yaml:"base_url"`
	Token   string `yaml:"token"`
}

// SyncConfig tunes the sync coordinator.
type SyncConfig struct {
	Interval    time.Duration `yaml:"interval"`
	MaxRetries  int           `yaml:"max_retries"`
	BackoffBase time.Duration `yaml:"backoff_base"`
}

// Default returns the configuration used when no file exists.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		DatabasePath: filepath.Join(home, ".carrel", "carrel.db"),
		Catalog: CatalogConfig{
			BaseURL: "https://catalog.carrel.dev",
		},
		Sync: SyncConfig{
			Interval:    5 * time.Minute,
			MaxRetries:  3,
			BackoffBase: 30 * time.Second,
		},
	}
}

// Load reads the config file at path, layered over defaults. A missing
// file is not an error; the defaults apply. The catalog token can always
// be supplied through the environment instead of the file.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// fall through to env override and validation
	case err != nil:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if token := os.Getenv(TokenEnvVar); token != "" {
		cfg.Catalog.Token = token
	}

	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.DatabasePath == "" {
		return fmt.Errorf("database_path must not be empty")
	}
	if c.Catalog.BaseURL == "" {
		return fmt.Errorf("catalog.base_url must not be empty")
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be positive, got %s", c.Sync.Interval)
	}
	if c.Sync.MaxRetries < 1 {
		return fmt.Errorf("sync.max_retries must be at least 1, got %d", c.Sync.MaxRetries)
	}
	if c.Sync.BackoffBase <= 0 {
		return fmt.Errorf("sync.backoff_base must be positive, got %s", c.Sync.BackoffBase)
	}
	return nil
}

// Package config loads application configuration: a YAML file with
// FAMLEDGER_* environment overrides, plus the per-device identity file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the full application configuration.
type Config struct {
	// Folder is the shared ledger folder (inside a cloud-synced mount).
	Folder string `mapstructure:"folder" yaml:"folder"`

	// CachePath is the local SQLite cache location.
	CachePath string `mapstructure:"cache_path" yaml:"cache_path"`

	Sync  SyncConfig  `mapstructure:"sync" yaml:"sync"`
	Audit AuditConfig `mapstructure:"audit" yaml:"audit"`
}

// SyncConfig tunes the merge engine and the folder watcher.
type SyncConfig struct {
	MaxAttempts      int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	RetryBackoff     time.Duration `mapstructure:"retry_backoff" yaml:"retry_backoff"`
	DebounceInterval time.Duration `mapstructure:"debounce_interval" yaml:"debounce_interval"`
	PollInterval     time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
}

// AuditConfig controls the conflict audit log.
type AuditConfig struct {
	// Path of the rotated audit log file. Empty disables the file and
	// audit lines go to stderr.
	Path       string `mapstructure:"path" yaml:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
}

// Default returns the configuration used before the user runs init.
func Default() *Config {
	dataDir := defaultDataDir()
	return &Config{
		CachePath: filepath.Join(dataDir, "cache.db"),
		Sync: SyncConfig{
			MaxAttempts:      3,
			RetryBackoff:     250 * time.Millisecond,
			DebounceInterval: 500 * time.Millisecond,
			PollInterval:     5 * time.Minute,
		},
		Audit: AuditConfig{
			Path:       filepath.Join(dataDir, "audit.log"),
			MaxSizeMB:  5,
			MaxBackups: 3,
		},
	}
}

// DefaultPath returns the standard config file location.
func DefaultPath() string {
	return filepath.Join(defaultDataDir(), "config.yaml")
}

func defaultDataDir() string {
	base, err := os.UserConfigDir()
	if err != nil {
		base = "."
	}
	return filepath.Join(base, "famledger")
}

// Load reads the config file at path, layering FAMLEDGER_* environment
// variables on top (FAMLEDGER_FOLDER, FAMLEDGER_SYNC_MAX_ATTEMPTS, ...).
// A missing file is not an error: defaults plus environment apply.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("FAMLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	v.SetDefault("folder", cfg.Folder)
	v.SetDefault("cache_path", cfg.CachePath)
	v.SetDefault("sync.max_attempts", cfg.Sync.MaxAttempts)
	v.SetDefault("sync.retry_backoff", cfg.Sync.RetryBackoff)
	v.SetDefault("sync.debounce_interval", cfg.Sync.DebounceInterval)
	v.SetDefault("sync.poll_interval", cfg.Sync.PollInterval)
	v.SetDefault("audit.path", cfg.Audit.Path)
	v.SetDefault("audit.max_size_mb", cfg.Audit.MaxSizeMB)
	v.SetDefault("audit.max_backups", cfg.Audit.MaxBackups)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// Write saves the config as YAML, creating parent directories.
func (c *Config) Write(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}

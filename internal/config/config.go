// Package config handles configuration loading and validation for coldfront.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coldfront/coldfront/internal/record"
)

// Config holds the engine configuration.
type Config struct {
	// DataDir holds the SQLite database (live records, archive index,
	// run summaries, run lock).
	DataDir string `yaml:"data_dir"`

	// ArchiveDir is the cold-tier root directory.
	ArchiveDir string `yaml:"archive_dir"`

	AgeThresholdDays int    `yaml:"age_threshold_days"` // default: 90
	BatchSize        int    `yaml:"batch_size"`         // default: 100, doubles as concurrency width
	AgeField         string `yaml:"age_field"`          // "created_at" (default) or "updated_at"
	MigrateRetries   int    `yaml:"migrate_retries"`    // per-record retry budget, default: 3

	RunLockTTL          string `yaml:"run_lock_ttl"`          // duration string, default "15m"
	ReconcileStaleAfter string `yaml:"reconcile_stale_after"` // duration string, default "30m"

	RetainIndexAfterRestore bool `yaml:"retain_index_after_restore"`

	LogLevel string `yaml:"log_level"` // default "info"
}

const (
	defaultLockTTL    = 15 * time.Minute
	defaultStaleAfter = 30 * time.Minute
)

// Default returns a configuration with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from a YAML file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "/var/lib/coldfront"
	}
	if c.ArchiveDir == "" {
		c.ArchiveDir = c.DataDir + "/archive"
	}
	if c.AgeThresholdDays == 0 {
		c.AgeThresholdDays = 90
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
	if c.AgeField == "" {
		c.AgeField = string(record.AgeCreated)
	}
	if c.MigrateRetries == 0 {
		c.MigrateRetries = 3
	}
	if c.RunLockTTL == "" {
		c.RunLockTTL = "15m"
	}
	if c.ReconcileStaleAfter == "" {
		c.ReconcileStaleAfter = "30m"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate checks the configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.AgeThresholdDays < 0 {
		return fmt.Errorf("age_threshold_days must not be negative")
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be at least 1")
	}
	if c.MigrateRetries < 1 {
		return fmt.Errorf("migrate_retries must be at least 1")
	}
	if !record.AgeField(c.AgeField).Valid() {
		return fmt.Errorf("age_field must be %q or %q, got %q", record.AgeCreated, record.AgeUpdated, c.AgeField)
	}
	if _, err := time.ParseDuration(c.RunLockTTL); err != nil {
		return fmt.Errorf("invalid run_lock_ttl: %w", err)
	}
	if _, err := time.ParseDuration(c.ReconcileStaleAfter); err != nil {
		return fmt.Errorf("invalid reconcile_stale_after: %w", err)
	}
	return nil
}

// AgeThreshold returns the archival age threshold as a duration.
func (c *Config) AgeThreshold() time.Duration {
	return time.Duration(c.AgeThresholdDays) * 24 * time.Hour
}

// LockTTL returns the run-lock lease duration. An unparseable or
// non-positive value falls back to the default rather than yielding an
// instantly expired lock on a hand-built Config.
func (c *Config) LockTTL() time.Duration {
	d, err := time.ParseDuration(c.RunLockTTL)
	if err != nil || d <= 0 {
		return defaultLockTTL
	}
	return d
}

// StaleAfter returns the reconciliation staleness window, falling back
// to the default when the configured value does not parse.
func (c *Config) StaleAfter() time.Duration {
	d, err := time.ParseDuration(c.ReconcileStaleAfter)
	if err != nil || d <= 0 {
		return defaultStaleAfter
	}
	return d
}

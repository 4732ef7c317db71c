// Package config provides the configuration system for NexData.
// A single Config structure covers the storage engine, file formats,
// autosave and the REST client, with defaults that match the desktop
// application's behavior.
package config

import (
	"fmt"
	"time"
)

// Config is the top-level configuration for the NexData engine.
type Config struct {
	// DataDir is the directory holding the database file and autosave
	// snapshots. Created on first use if absent.
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`

	// DatabasePath overrides the default <data_dir>/nexdata.db location.
	DatabasePath string `yaml:"database_path" mapstructure:"database_path"`

	// Storage controls the memory-vs-database routing decision.
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`

	// Autosave controls periodic snapshotting of the working dataset.
	Autosave AutosaveConfig `yaml:"autosave" mapstructure:"autosave"`

	// API configures the generic REST client.
	API APIConfig `yaml:"api" mapstructure:"api"`

	// LogLevel sets logging verbosity (debug, info, warn, error).
	LogLevel string `yaml:"log_level" mapstructure:"log_level"`
}

// StorageConfig holds the adaptive storage thresholds. The thresholds are
// fixed constants by default, not derived from available system memory; they
// are exposed here so callers can tune them per deployment.
type StorageConfig struct {
	// RowThreshold routes datasets with more rows to the database backend.
	RowThreshold int `yaml:"row_threshold" mapstructure:"row_threshold"`
	// SizeThresholdMB routes datasets with a larger estimated footprint
	// to the database backend.
	SizeThresholdMB float64 `yaml:"size_threshold_mb" mapstructure:"size_threshold_mb"`
	// DefaultPageLimit caps unbounded reads in database mode.
	DefaultPageLimit int `yaml:"default_page_limit" mapstructure:"default_page_limit"`
	// StatsSampleSize bounds the sample used for dataset statistics.
	StatsSampleSize int `yaml:"stats_sample_size" mapstructure:"stats_sample_size"`
	// WriteBatchSize bounds the number of rows written per statement.
	WriteBatchSize int `yaml:"write_batch_size" mapstructure:"write_batch_size"`
}

// AutosaveConfig holds autosave settings.
type AutosaveConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
	// Keep is the number of most recent snapshots retained.
	Keep int    `yaml:"keep" mapstructure:"keep"`
	Dir  string `yaml:"dir" mapstructure:"dir"`
}

// APIConfig holds REST client settings.
type APIConfig struct {
	RequestsPerSecond float64       `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int           `yaml:"burst" mapstructure:"burst"`
	Timeout           time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxPages          int           `yaml:"max_pages" mapstructure:"max_pages"`
	PerPage           int           `yaml:"per_page" mapstructure:"per_page"`
}

// Default returns a Config with the engine's standard defaults.
func Default() *Config {
	return &Config{
		DataDir:      "data",
		DatabasePath: "",
		Storage: StorageConfig{
			RowThreshold:     100_000,
			SizeThresholdMB:  100,
			DefaultPageLimit: 10_000,
			StatsSampleSize:  10_000,
			WriteBatchSize:   10_000,
		},
		Autosave: AutosaveConfig{
			Enabled:  false,
			Interval: 5 * time.Minute,
			Keep:     5,
			Dir:      "",
		},
		API: APIConfig{
			RequestsPerSecond: 10,
			Burst:             1,
			Timeout:           30 * time.Second,
			MaxPages:          0,
			PerPage:           100,
		},
		LogLevel: "info",
	}
}

// Validate validates the configuration for correctness.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Storage.RowThreshold <= 0 {
		return fmt.Errorf("storage.row_threshold must be positive")
	}
	if c.Storage.SizeThresholdMB <= 0 {
		return fmt.Errorf("storage.size_threshold_mb must be positive")
	}
	if c.Storage.DefaultPageLimit <= 0 {
		return fmt.Errorf("storage.default_page_limit must be positive")
	}
	if c.Storage.StatsSampleSize <= 0 {
		return fmt.Errorf("storage.stats_sample_size must be positive")
	}
	if c.Storage.WriteBatchSize <= 0 {
		return fmt.Errorf("storage.write_batch_size must be positive")
	}
	if c.Autosave.Enabled && c.Autosave.Interval <= 0 {
		return fmt.Errorf("autosave.interval must be positive when autosave is enabled")
	}
	if c.API.RequestsPerSecond < 0 {
		return fmt.Errorf("api.requests_per_second cannot be negative")
	}
	return nil
}

// DatabaseFile returns the effective database file path.
func (c *Config) DatabaseFile() string {
	if c.DatabasePath != "" {
		return c.DatabasePath
	}
	return c.DataDir + "/nexdata.db"
}

// AutosaveDir returns the effective autosave directory.
func (c *Config) AutosaveDir() string {
	if c.Autosave.Dir != "" {
		return c.Autosave.Dir
	}
	return c.DataDir + "/autosave"
}

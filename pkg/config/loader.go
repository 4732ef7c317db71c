package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Load reads a YAML configuration file into a Config, applying defaults for
// unset keys and NEXDATA_* environment variable overrides. An empty path
// returns the defaults with environment overrides applied.
func Load(filePath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("NEXDATA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := Default()
	v.SetDefault("data_dir", defaults.DataDir)
	v.SetDefault("database_path", defaults.DatabasePath)
	v.SetDefault("log_level", defaults.LogLevel)
	v.SetDefault("storage.row_threshold", defaults.Storage.RowThreshold)
	v.SetDefault("storage.size_threshold_mb", defaults.Storage.SizeThresholdMB)
	v.SetDefault("storage.default_page_limit", defaults.Storage.DefaultPageLimit)
	v.SetDefault("storage.stats_sample_size", defaults.Storage.StatsSampleSize)
	v.SetDefault("storage.write_batch_size", defaults.Storage.WriteBatchSize)
	v.SetDefault("autosave.enabled", defaults.Autosave.Enabled)
	v.SetDefault("autosave.interval", defaults.Autosave.Interval)
	v.SetDefault("autosave.keep", defaults.Autosave.Keep)
	v.SetDefault("autosave.dir", defaults.Autosave.Dir)
	v.SetDefault("api.requests_per_second", defaults.API.RequestsPerSecond)
	v.SetDefault("api.burst", defaults.API.Burst)
	v.SetDefault("api.timeout", defaults.API.Timeout)
	v.SetDefault("api.max_pages", defaults.API.MaxPages)
	v.SetDefault("api.per_page", defaults.API.PerPage)

	if filePath != "" {
		v.SetConfigFile(filePath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes a configuration to a YAML file.
func Save(filePath string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal YAML: %w", err)
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil { //nolint:gosec
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

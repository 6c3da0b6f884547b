/*
Copyright 2026 The ClusterLens Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package config loads process configuration from defaults, an optional
// YAML file, and CLUSTERLENS_-prefixed environment variables, in
// ascending precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of the process.
type Config struct {
	// SyncInterval is the period between full synchronization passes.
	SyncInterval time.Duration `mapstructure:"syncInterval" yaml:"syncInterval"`

	// WatchTimeout bounds each watch stream before it reconnects.
	WatchTimeout time.Duration `mapstructure:"watchTimeout" yaml:"watchTimeout"`

	// MaxWatchRetries is the consecutive-failure budget per watcher.
	MaxWatchRetries int `mapstructure:"maxWatchRetries" yaml:"maxWatchRetries"`

	// GraphTTL is the maximum node age before eviction may reclaim it.
	GraphTTL time.Duration `mapstructure:"graphTTL" yaml:"graphTTL"`

	// GraphMemoryBudgetMB caps the estimated graph footprint.
	GraphMemoryBudgetMB int `mapstructure:"graphMemoryBudgetMB" yaml:"graphMemoryBudgetMB"`

	// SummaryMaxSizeKB caps serialized cluster summaries.
	SummaryMaxSizeKB int `mapstructure:"summaryMaxSizeKB" yaml:"summaryMaxSizeKB"`

	// QueryCacheTTL bounds how long query results are served from cache.
	QueryCacheTTL time.Duration `mapstructure:"queryCacheTTL" yaml:"queryCacheTTL"`

	// QueryCacheSize bounds the query cache entry count.
	QueryCacheSize int `mapstructure:"queryCacheSize" yaml:"queryCacheSize"`

	// Kubeconfig is the path to a kubeconfig file. Empty selects the
	// in-cluster configuration.
	Kubeconfig string `mapstructure:"kubeconfig" yaml:"kubeconfig"`

	// LogLevel is the logging verbosity: info, debug, trace, warn, or
	// error.
	LogLevel string `mapstructure:"logLevel" yaml:"logLevel"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		SyncInterval:        5 * time.Minute,
		WatchTimeout:        5 * time.Minute,
		MaxWatchRetries:     5,
		GraphTTL:            time.Hour,
		GraphMemoryBudgetMB: 512,
		SummaryMaxSizeKB:    10,
		QueryCacheTTL:       2 * time.Minute,
		QueryCacheSize:      256,
		LogLevel:            "info",
	}
}

// Load resolves the effective configuration. path may be empty, in
// which case only defaults and environment overrides apply.
func Load(path string) (Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetDefault("syncInterval", cfg.SyncInterval)
	v.SetDefault("watchTimeout", cfg.WatchTimeout)
	v.SetDefault("maxWatchRetries", cfg.MaxWatchRetries)
	v.SetDefault("graphTTL", cfg.GraphTTL)
	v.SetDefault("graphMemoryBudgetMB", cfg.GraphMemoryBudgetMB)
	v.SetDefault("summaryMaxSizeKB", cfg.SummaryMaxSizeKB)
	v.SetDefault("queryCacheTTL", cfg.QueryCacheTTL)
	v.SetDefault("queryCacheSize", cfg.QueryCacheSize)
	v.SetDefault("kubeconfig", cfg.Kubeconfig)
	v.SetDefault("logLevel", cfg.LogLevel)

	v.SetEnvPrefix("CLUSTERLENS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("error unmarshalling configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks for invalid configuration values.
func (c *Config) Validate() error {
	if c.SyncInterval <= 0 {
		return fmt.Errorf("syncInterval must be > 0, got %s", c.SyncInterval)
	}
	if c.WatchTimeout <= 0 {
		return fmt.Errorf("watchTimeout must be > 0, got %s", c.WatchTimeout)
	}
	if c.MaxWatchRetries < 0 {
		return fmt.Errorf("maxWatchRetries must be >= 0, got %d", c.MaxWatchRetries)
	}
	if c.GraphTTL <= 0 {
		return fmt.Errorf("graphTTL must be > 0, got %s", c.GraphTTL)
	}
	if c.GraphMemoryBudgetMB < 0 {
		return fmt.Errorf("graphMemoryBudgetMB must be >= 0, got %d", c.GraphMemoryBudgetMB)
	}
	if c.SummaryMaxSizeKB <= 0 {
		return fmt.Errorf("summaryMaxSizeKB must be > 0, got %d", c.SummaryMaxSizeKB)
	}
	if c.QueryCacheTTL <= 0 {
		return fmt.Errorf("queryCacheTTL must be > 0, got %s", c.QueryCacheTTL)
	}
	if c.QueryCacheSize <= 0 {
		return fmt.Errorf("queryCacheSize must be > 0, got %d", c.QueryCacheSize)
	}
	switch strings.ToLower(c.LogLevel) {
	case "info", "debug", "trace", "warn", "error":
	default:
		return fmt.Errorf("logLevel must be one of info, debug, trace, warn, error; got %q", c.LogLevel)
	}
	return nil
}

// Dump renders the effective configuration as YAML for startup logging.
func (c *Config) Dump() string {
	out, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Sprintf("<unrenderable config: %v>", err)
	}
	return string(out)
}

// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for tasksync. It supports a four-layer
// override chain (defaults -> config file -> environment -> CLI flags).
// Cloud credentials are additionally merged with the values stored by
// "tasksync cloud set".
package config

import "time"

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	DataDir string        `toml:"data_dir"`
	Cloud   CloudConfig   `toml:"cloud"`
	Sync    SyncConfig    `toml:"sync"`
	Network NetworkConfig `toml:"network"`
	Logging LoggingConfig `toml:"logging"`
	Events  EventsConfig  `toml:"events"`
}

// SyncConfig controls the sync scheduler and pull batching.
type SyncConfig struct {
	Interval           string `toml:"interval"`
	PullBatchSize      int    `toml:"pull_batch_size"`
	TokenRefreshMargin string `toml:"token_refresh_margin"`
	MaxQueryPages      int    `toml:"max_query_pages"`
}

// NetworkConfig controls outbound HTTP behavior.
type NetworkConfig struct {
	RequestTimeout string `toml:"request_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// LoggingConfig controls log output behavior: level, format, and rotation.
type LoggingConfig struct {
	LogLevel         string `toml:"log_level"`
	LogFile          string `toml:"log_file"`
	LogFormat        string `toml:"log_format"`
	LogRetentionDays int    `toml:"log_retention_days"`
}

// EventsConfig controls the local change-event server. An empty address
// disables it.
type EventsConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	DataDir    *string // --data-dir flag
}

// SyncInterval returns the parsed sync interval. Validated configs always
// parse; the default is returned otherwise.
func (c *Config) SyncInterval() time.Duration {
	return durationOr(c.Sync.Interval, defaultSyncIntervalDur)
}

// TokenRefreshMargin returns the parsed token refresh margin.
func (c *Config) TokenRefreshMargin() time.Duration {
	return durationOr(c.Sync.TokenRefreshMargin, defaultTokenMarginDur)
}

// RequestTimeout returns the parsed per-request HTTP timeout.
func (c *Config) RequestTimeout() time.Duration {
	return durationOr(c.Network.RequestTimeout, defaultRequestTimeoutDur)
}

func durationOr(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}

	return d
}

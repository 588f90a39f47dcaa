package config

import "time"

// Default values for configuration options. These represent the "layer 0"
// of the four-layer override chain.
const (
	defaultSyncInterval       = "10s"
	defaultPullBatchSize      = 200
	defaultTokenRefreshMargin = "60s"
	defaultMaxQueryPages      = 50
	defaultRequestTimeout     = "30s"
	defaultUserAgent          = "tasksync/0.1"
	defaultLogLevel           = "info"
	defaultLogFormat          = "auto"
	defaultLogRetentionDays   = 30
	defaultFirestoreDatabase  = "(default)"

	defaultSyncIntervalDur   = 10 * time.Second
	defaultTokenMarginDur    = 60 * time.Second
	defaultRequestTimeoutDur = 30 * time.Second
)

// DefaultConfig returns a Config populated with all default values.
// This is used both as the starting point for TOML decoding (so unset
// fields retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		Sync: SyncConfig{
			Interval:           defaultSyncInterval,
			PullBatchSize:      defaultPullBatchSize,
			TokenRefreshMargin: defaultTokenRefreshMargin,
			MaxQueryPages:      defaultMaxQueryPages,
		},
		Network: NetworkConfig{
			RequestTimeout: defaultRequestTimeout,
			UserAgent:      defaultUserAgent,
		},
		Logging: LoggingConfig{
			LogLevel:         defaultLogLevel,
			LogFormat:        defaultLogFormat,
			LogRetentionDays: defaultLogRetentionDays,
		},
	}
}

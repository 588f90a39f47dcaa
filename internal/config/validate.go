package config

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// Validation range constants.
const (
	minPullBatchSize  = 1
	maxPullBatchSize  = 1000
	minQueryPages     = 1
	maxQueryPages     = 1000
	minLogRetention   = 1
	minSyncInterval   = 1 * time.Second
	minRequestTimeout = 1 * time.Second
	minTokenMargin    = 1 * time.Second
	maxTokenMargin    = 30 * time.Minute
	loopbackHostname  = "localhost"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

// Validate checks all configuration values and returns all errors found.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateSync(&cfg.Sync)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateEvents(&cfg.Events)...)

	return errors.Join(errs...)
}

func validateSync(s *SyncConfig) []error {
	var errs []error

	if err := validateDuration("interval", s.Interval, minSyncInterval); err != nil {
		errs = append(errs, err)
	}

	if s.PullBatchSize < minPullBatchSize || s.PullBatchSize > maxPullBatchSize {
		errs = append(errs, fmt.Errorf("pull_batch_size: must be between %d and %d, got %d",
			minPullBatchSize, maxPullBatchSize, s.PullBatchSize))
	}

	if s.MaxQueryPages < minQueryPages || s.MaxQueryPages > maxQueryPages {
		errs = append(errs, fmt.Errorf("max_query_pages: must be between %d and %d, got %d",
			minQueryPages, maxQueryPages, s.MaxQueryPages))
	}

	d, err := time.ParseDuration(s.TokenRefreshMargin)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("token_refresh_margin: invalid duration %q: %w", s.TokenRefreshMargin, err))
	case d < minTokenMargin || d > maxTokenMargin:
		errs = append(errs, fmt.Errorf("token_refresh_margin: must be between %s and %s, got %s",
			minTokenMargin, maxTokenMargin, s.TokenRefreshMargin))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	if err := validateDuration("request_timeout", n.RequestTimeout, minRequestTimeout); err != nil {
		errs = append(errs, err)
	}

	if n.UserAgent == "" {
		errs = append(errs, errors.New("user_agent: must not be empty"))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !validLogLevels[l.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", l.LogLevel))
	}

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	if l.LogRetentionDays < minLogRetention {
		errs = append(errs, fmt.Errorf("log_retention_days: must be >= %d, got %d",
			minLogRetention, l.LogRetentionDays))
	}

	return errs
}

// validateEvents requires the event server to bind a loopback address; the
// stream carries no authentication.
func validateEvents(e *EventsConfig) []error {
	if e.ListenAddr == "" {
		return nil
	}

	host, _, err := net.SplitHostPort(e.ListenAddr)
	if err != nil {
		return []error{fmt.Errorf("listen_addr: %w", err)}
	}

	if host == loopbackHostname {
		return nil
	}

	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return []error{fmt.Errorf("listen_addr: must be a loopback address, got %q", e.ListenAddr)}
	}

	return nil
}

func validateDuration(field, value string, minimum time.Duration) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: invalid duration %q: %w", field, value, err)
	}

	if d < minimum {
		return fmt.Errorf("%s: must be at least %s, got %s", field, minimum, value)
	}

	return nil
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Defaults(t *testing.T) {
	assert.NoError(t, Validate(DefaultConfig()))
}

func TestValidate_Fields(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "bad interval", mutate: func(c *Config) { c.Sync.Interval = "soon" }, wantErr: "interval"},
		{name: "interval too short", mutate: func(c *Config) { c.Sync.Interval = "100ms" }, wantErr: "at least"},
		{name: "batch too large", mutate: func(c *Config) { c.Sync.PullBatchSize = 5000 }, wantErr: "pull_batch_size"},
		{name: "zero pages", mutate: func(c *Config) { c.Sync.MaxQueryPages = 0 }, wantErr: "max_query_pages"},
		{name: "negative margin", mutate: func(c *Config) { c.Sync.TokenRefreshMargin = "-1s" }, wantErr: "token_refresh_margin"},
		{name: "zero margin", mutate: func(c *Config) { c.Sync.TokenRefreshMargin = "0s" }, wantErr: "token_refresh_margin"},
		{name: "empty user agent", mutate: func(c *Config) { c.Network.UserAgent = "" }, wantErr: "user_agent"},
		{name: "bad format", mutate: func(c *Config) { c.Logging.LogFormat = "xml" }, wantErr: "log_format"},
		{name: "zero retention", mutate: func(c *Config) { c.Logging.LogRetentionDays = 0 }, wantErr: "log_retention_days"},
		{name: "loopback v4", mutate: func(c *Config) { c.Events.ListenAddr = "127.0.0.1:0" }},
		{name: "loopback v6", mutate: func(c *Config) { c.Events.ListenAddr = "[::1]:7878" }},
		{name: "localhost", mutate: func(c *Config) { c.Events.ListenAddr = "localhost:7878" }},
		{name: "public addr", mutate: func(c *Config) { c.Events.ListenAddr = "0.0.0.0:7878" }, wantErr: "loopback"},
		{name: "no port", mutate: func(c *Config) { c.Events.ListenAddr = "127.0.0.1" }, wantErr: "listen_addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestClosestMatch(t *testing.T) {
	assert.Equal(t, "log_level", closestMatch("log_levle", knownKeys["logging"]))
	assert.Equal(t, "sync", closestMatch("SYNC", knownKeys[""]))
	assert.Empty(t, closestMatch("completely_unrelated", knownKeys["sync"]))
	assert.Equal(t, 3, levenshtein("kitten", "sitting"))
	assert.Equal(t, 4, levenshtein("", "abcd"))
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 500, cfg.Feed.TokensPerConnection)
	assert.Equal(t, 10, cfg.Feed.MaxConnections)
	assert.Equal(t, 10*time.Second, cfg.Feed.PingInterval.Duration)
	assert.Equal(t, 2*time.Second, cfg.Feed.BackoffBase.Duration)
	assert.Equal(t, 60*time.Second, cfg.Feed.BackoffCap.Duration)
	assert.Equal(t, 60*time.Second, cfg.Portfolio.ReloadFallback.Duration)
	assert.Equal(t, 200, cfg.Portfolio.TopMarkets)
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "bogus"
	cfg.LogLevel = "loud"
	cfg.Redis.Addr = ""
	cfg.Feed.QueueSize = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
	assert.Contains(t, err.Error(), "unknown log_level")
	assert.Contains(t, err.Error(), "redis: addr")
	assert.Contains(t, err.Error(), "feed: queue_size")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("COVERBOT_REDIS_ADDR", "redis.internal:6400")
	t.Setenv("COVERBOT_FEED_TOKENS_PER_CONNECTION", "250")
	t.Setenv("COVERBOT_PORTFOLIO_RELOAD_FALLBACK", "90s")
	t.Setenv("COVERBOT_PIPELINE_TAGS", "politics, sports")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	assert.Equal(t, "redis.internal:6400", cfg.Redis.Addr)
	assert.Equal(t, 250, cfg.Feed.TokensPerConnection)
	assert.Equal(t, 90*time.Second, cfg.Portfolio.ReloadFallback.Duration)
	assert.Equal(t, []string{"politics", "sports"}, cfg.Pipeline.Tags)
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Reasoning.APIKey = "sk-secret"
	cfg.Database.Password = "hunter2"
	cfg.S3.SecretKey = "minio-secret"

	red := RedactedConfig(&cfg)
	assert.Equal(t, "***", red.Reasoning.APIKey)
	assert.Equal(t, "***", red.Database.Password)
	assert.Equal(t, "***", red.S3.SecretKey)

	// Original untouched.
	assert.Equal(t, "sk-secret", cfg.Reasoning.APIKey)
}

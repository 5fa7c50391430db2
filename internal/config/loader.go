package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies COVERBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known COVERBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Polymarket ──
	setStr(&cfg.Polymarket.GammaHost, "COVERBOT_POLYMARKET_GAMMA_HOST")
	setStr(&cfg.Polymarket.WsHost, "COVERBOT_POLYMARKET_WS_HOST")

	// ── Reasoning ──
	setStr(&cfg.Reasoning.BaseURL, "COVERBOT_REASONING_BASE_URL")
	setStr(&cfg.Reasoning.APIKey, "COVERBOT_REASONING_API_KEY")
	setStr(&cfg.Reasoning.APIKey, "OPENAI_API_KEY") // compatibility alias
	setStr(&cfg.Reasoning.Model, "COVERBOT_REASONING_MODEL")
	setInt(&cfg.Reasoning.MaxConcurrent, "COVERBOT_REASONING_MAX_CONCURRENT")
	setDuration(&cfg.Reasoning.Timeout, "COVERBOT_REASONING_TIMEOUT")

	// ── Database ──
	setStr(&cfg.Database.DSN, "COVERBOT_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "COVERBOT_DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "COVERBOT_DATABASE_HOST")
	setInt(&cfg.Database.Port, "COVERBOT_DATABASE_PORT")
	setStr(&cfg.Database.Database, "COVERBOT_DATABASE_NAME")
	setStr(&cfg.Database.User, "COVERBOT_DATABASE_USER")
	setStr(&cfg.Database.Password, "COVERBOT_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "COVERBOT_DATABASE_SSLMODE")
	setInt(&cfg.Database.PoolMaxConns, "COVERBOT_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "COVERBOT_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "COVERBOT_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "COVERBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "COVERBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "COVERBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "COVERBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "COVERBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "COVERBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "COVERBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "COVERBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "COVERBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "COVERBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "COVERBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "COVERBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "COVERBOT_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.SeedKey, "COVERBOT_S3_SEED_KEY")

	// ── Feed ──
	setInt(&cfg.Feed.TokensPerConnection, "COVERBOT_FEED_TOKENS_PER_CONNECTION")
	setInt(&cfg.Feed.MaxConnections, "COVERBOT_FEED_MAX_CONNECTIONS")
	setDuration(&cfg.Feed.PingInterval, "COVERBOT_FEED_PING_INTERVAL")
	setDuration(&cfg.Feed.BackoffBase, "COVERBOT_FEED_BACKOFF_BASE")
	setDuration(&cfg.Feed.BackoffCap, "COVERBOT_FEED_BACKOFF_CAP")
	setDuration(&cfg.Feed.IdleWait, "COVERBOT_FEED_IDLE_WAIT")
	setDuration(&cfg.Feed.RefreshInterval, "COVERBOT_FEED_REFRESH_INTERVAL")
	setInt(&cfg.Feed.QueueSize, "COVERBOT_FEED_QUEUE_SIZE")

	// ── Portfolio ──
	setStr(&cfg.Portfolio.SnapshotPath, "COVERBOT_PORTFOLIO_SNAPSHOT_PATH")
	setDuration(&cfg.Portfolio.ReloadFallback, "COVERBOT_PORTFOLIO_RELOAD_FALLBACK")
	setFloat64(&cfg.Portfolio.PriceFloor, "COVERBOT_PORTFOLIO_PRICE_FLOOR")
	setFloat64(&cfg.Portfolio.PriceEpsilon, "COVERBOT_PORTFOLIO_PRICE_EPSILON")
	setFloat64(&cfg.Portfolio.MinViability, "COVERBOT_PORTFOLIO_MIN_VIABILITY")
	setInt(&cfg.Portfolio.TopMarkets, "COVERBOT_PORTFOLIO_TOP_MARKETS")
	setDuration(&cfg.Portfolio.FlushInterval, "COVERBOT_PORTFOLIO_FLUSH_INTERVAL")

	// ── Pipeline ──
	setStringSlice(&cfg.Pipeline.Tags, "COVERBOT_PIPELINE_TAGS")
	setInt(&cfg.Pipeline.PageSize, "COVERBOT_PIPELINE_PAGE_SIZE")
	setInt(&cfg.Pipeline.MaxPages, "COVERBOT_PIPELINE_MAX_PAGES")
	setInt(&cfg.Pipeline.MaxCandidates, "COVERBOT_PIPELINE_MAX_CANDIDATES")
	setBool(&cfg.Pipeline.SeedImport, "COVERBOT_PIPELINE_SEED_IMPORT")
	setBool(&cfg.Pipeline.ArchiveToS3, "COVERBOT_PIPELINE_ARCHIVE_TO_S3")
	setDuration(&cfg.Pipeline.Interval, "COVERBOT_PIPELINE_INTERVAL")

	// ── Server ──
	setInt(&cfg.Server.Port, "COVERBOT_SERVER_PORT")
	setStr(&cfg.Server.APIKey, "COVERBOT_SERVER_API_KEY")
	setStringSlice(&cfg.Server.CORSOrigins, "COVERBOT_SERVER_CORS_ORIGINS")

	// ── Top-level ──
	setStr(&cfg.Mode, "COVERBOT_MODE")
	setStr(&cfg.LogLevel, "COVERBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

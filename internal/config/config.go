// Package config defines the top-level configuration for the coverbot
// service and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by COVERBOT_* environment variables.
type Config struct {
	Polymarket PolymarketConfig `toml:"polymarket"`
	Reasoning  ReasoningConfig  `toml:"reasoning"`
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Feed       FeedConfig       `toml:"feed"`
	Portfolio  PortfolioConfig  `toml:"portfolio"`
	Pipeline   PipelineConfig   `toml:"pipeline"`
	Server     ServerConfig     `toml:"server"`
	Mode       string           `toml:"mode"`
	LogLevel   string           `toml:"log_level"`
}

// PolymarketConfig holds Polymarket API endpoints.
type PolymarketConfig struct {
	GammaHost string `toml:"gamma_host"`
	WsHost    string `toml:"ws_host"`
}

// ReasoningConfig holds reasoning-service connection parameters. The service
// extracts group implications and judges candidate pairs; calls are expensive
// and rate-limited, so results are cached permanently.
type ReasoningConfig struct {
	BaseURL       string   `toml:"base_url"`
	APIKey        string   `toml:"api_key"`
	Model         string   `toml:"model"`
	MaxConcurrent int      `toml:"max_concurrent"`
	Timeout       duration `toml:"timeout"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters. Used for snapshot
// archives and the seed bootstrap.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	SeedKey        string `toml:"seed_key"`
}

// FeedConfig holds websocket feed parameters.
type FeedConfig struct {
	// TokensPerConnection is the per-connection subscription ceiling.
	TokensPerConnection int      `toml:"tokens_per_connection"`
	MaxConnections      int      `toml:"max_connections"`
	PingInterval        duration `toml:"ping_interval"`
	BackoffBase         duration `toml:"backoff_base"`
	BackoffCap          duration `toml:"backoff_cap"`
	IdleWait            duration `toml:"idle_wait"`
	RefreshInterval     duration `toml:"refresh_interval"`
	QueueSize           int      `toml:"queue_size"`
}

// PortfolioConfig holds portfolio cache parameters.
type PortfolioConfig struct {
	SnapshotPath   string   `toml:"snapshot_path"`
	ReloadFallback duration `toml:"reload_fallback"`
	PriceFloor     float64  `toml:"price_floor"`
	PriceEpsilon   float64  `toml:"price_epsilon"`
	ProfitEpsilon  float64  `toml:"profit_epsilon"`
	MinViability   float64  `toml:"min_viability"`
	TopMarkets     int      `toml:"top_markets"`
	FlushInterval  duration `toml:"flush_interval"`
}

// PipelineConfig holds batch pipeline parameters.
type PipelineConfig struct {
	Tags          []string `toml:"tags"`
	PageSize      int      `toml:"page_size"`
	MaxPages      int      `toml:"max_pages"`
	MaxCandidates int      `toml:"max_candidates"`
	SeedImport    bool     `toml:"seed_import"`
	ArchiveToS3   bool     `toml:"archive_to_s3"`
	Interval      duration `toml:"interval"`
}

// ServerConfig holds HTTP API server parameters. An empty APIKey disables
// authentication.
type ServerConfig struct {
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Polymarket: PolymarketConfig{
			GammaHost: "https://gamma-api.polymarket.com",
			WsHost:    "wss://ws-subscriptions-clob.polymarket.com",
		},
		Reasoning: ReasoningConfig{
			BaseURL:       "https://api.openai.com/v1",
			Model:         "gpt-4o-mini",
			MaxConcurrent: 4,
			Timeout:       duration{120 * time.Second},
		},
		Database: DatabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "coverbot",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "coverbot-data",
			UseSSL:         false,
			ForcePathStyle: true,
			SeedKey:        "seed/seed_snapshot.json",
		},
		Feed: FeedConfig{
			TokensPerConnection: 500,
			MaxConnections:      10,
			PingInterval:        duration{10 * time.Second},
			BackoffBase:         duration{2 * time.Second},
			BackoffCap:          duration{60 * time.Second},
			IdleWait:            duration{5 * time.Second},
			RefreshInterval:     duration{5 * time.Second},
			QueueSize:           10_000,
		},
		Portfolio: PortfolioConfig{
			SnapshotPath:   "data/portfolios.json",
			ReloadFallback: duration{60 * time.Second},
			PriceFloor:     0.001,
			PriceEpsilon:   0.001,
			ProfitEpsilon:  0.001,
			MinViability:   0.9,
			TopMarkets:     200,
			FlushInterval:  duration{500 * time.Millisecond},
		},
		Pipeline: PipelineConfig{
			Tags:          []string{"politics"},
			PageSize:      100,
			MaxPages:      20,
			MaxCandidates: 500,
			SeedImport:    true,
			ArchiveToS3:   false,
			Interval:      duration{0},
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"serve":    true,
	"pipeline": true,
	"full":     true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: serve, pipeline, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Polymarket endpoints
	if c.Polymarket.GammaHost == "" {
		errs = append(errs, "polymarket: gamma_host must not be empty")
	}
	if c.Polymarket.WsHost == "" {
		errs = append(errs, "polymarket: ws_host must not be empty")
	}

	// Reasoning — needed whenever the pipeline can run.
	if c.Mode == "pipeline" || c.Mode == "full" {
		if c.Reasoning.BaseURL == "" {
			errs = append(errs, "reasoning: base_url must not be empty for mode "+c.Mode)
		}
		if c.Reasoning.MaxConcurrent < 1 {
			errs = append(errs, "reasoning: max_concurrent must be >= 1")
		}
	}

	// Database
	if strings.TrimSpace(c.Database.DSN) == "" {
		if c.Database.Host == "" {
			errs = append(errs, "database: host must not be empty (or set database.dsn)")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
		}
		if c.Database.Database == "" {
			errs = append(errs, "database: database must not be empty")
		}
	}
	if c.Database.PoolMaxConns < 1 {
		errs = append(errs, "database: pool_max_conns must be >= 1")
	}
	if c.Database.PoolMinConns < 0 {
		errs = append(errs, "database: pool_min_conns must be >= 0")
	}
	if c.Database.PoolMinConns > c.Database.PoolMaxConns {
		errs = append(errs, "database: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3
	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Feed
	if c.Feed.TokensPerConnection < 1 {
		errs = append(errs, "feed: tokens_per_connection must be >= 1")
	}
	if c.Feed.MaxConnections < 1 {
		errs = append(errs, "feed: max_connections must be >= 1")
	}
	if c.Feed.PingInterval.Duration <= 0 {
		errs = append(errs, "feed: ping_interval must be > 0")
	}
	if c.Feed.BackoffBase.Duration <= 0 || c.Feed.BackoffCap.Duration < c.Feed.BackoffBase.Duration {
		errs = append(errs, "feed: backoff_base must be > 0 and backoff_cap >= backoff_base")
	}
	if c.Feed.QueueSize < 1 {
		errs = append(errs, "feed: queue_size must be >= 1")
	}

	// Portfolio
	if c.Portfolio.SnapshotPath == "" {
		errs = append(errs, "portfolio: snapshot_path must not be empty")
	}
	if c.Portfolio.MinViability < 0 || c.Portfolio.MinViability > 1 {
		errs = append(errs, fmt.Sprintf("portfolio: min_viability must be in [0,1], got %v", c.Portfolio.MinViability))
	}
	if c.Portfolio.TopMarkets < 1 {
		errs = append(errs, "portfolio: top_markets must be >= 1")
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	// Pipeline
	if c.Pipeline.PageSize < 1 {
		errs = append(errs, "pipeline: page_size must be >= 1")
	}
	if c.Pipeline.MaxPages < 1 {
		errs = append(errs, "pipeline: max_pages must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

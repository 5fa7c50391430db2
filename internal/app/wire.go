package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/coverbot/internal/blob/s3"
	"github.com/alanyoungcy/coverbot/internal/cache/redis"
	"github.com/alanyoungcy/coverbot/internal/config"
	"github.com/alanyoungcy/coverbot/internal/domain"
	"github.com/alanyoungcy/coverbot/internal/platform/polymarket"
	"github.com/alanyoungcy/coverbot/internal/platform/reasoning"
	"github.com/alanyoungcy/coverbot/internal/state"
	"github.com/alanyoungcy/coverbot/internal/store/postgres"
)

// Dependencies bundles every dependency the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Durable pipeline state over the Postgres stores.
	State *state.PipelineState

	// Redis-backed infrastructure.
	QuoteCache  domain.QuoteCache
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Object storage. Nil unless archiving or seed import is enabled.
	Archive *s3blob.SnapshotArchive

	// External services.
	Gamma     *polymarket.GammaClient
	Reasoning *reasoning.Client
}

// pipelineEnabled reports whether the mode runs the batch pipeline.
func pipelineEnabled(mode string) bool {
	switch mode {
	case "pipeline", "full":
		return true
	default:
		return false
	}
}

// feedEnabled reports whether the mode runs the live price feed and API.
func feedEnabled(mode string) bool {
	switch mode {
	case "serve", "full":
		return true
	default:
		return false
	}
}

// needsS3 returns true when object storage must be wired.
func needsS3(cfg *config.Config) bool {
	return cfg.Pipeline.ArchiveToS3 || cfg.Pipeline.SeedImport
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Database.DSN,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		Database: cfg.Database.Database,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		SSLMode:  cfg.Database.SSLMode,
		MaxConns: cfg.Database.PoolMaxConns,
		MinConns: cfg.Database.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Database.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.State = state.New(state.Stores{
		Groups:       postgres.NewGroupStore(pool),
		Markets:      postgres.NewMarketStore(pool),
		Implications: postgres.NewImplicationStore(pool),
		Pairs:        postgres.NewValidatedPairStore(pool),
		Portfolios:   postgres.NewPortfolioStore(pool),
		Runs:         postgres.NewRunStore(pool),
		Metadata:     postgres.NewMetadataStore(pool),
		Resetter:     pgClient,
	}, logger)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.QuoteCache = redis.NewQuoteCache(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- S3 blob storage ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archive = s3blob.NewSnapshotArchive(s3Client)
	}

	// --- External services ---
	deps.Gamma = polymarket.NewGammaClient(cfg.Polymarket.GammaHost, logger)
	if pipelineEnabled(cfg.Mode) {
		deps.Reasoning = reasoning.NewClient(
			cfg.Reasoning.BaseURL,
			cfg.Reasoning.APIKey,
			cfg.Reasoning.Model,
			cfg.Reasoning.Timeout.Duration,
		)
	}

	return deps, cleanup, nil
}

// Package app provides the top-level application lifecycle management for
// the coverbot service. It wires together all dependencies (stores, caches,
// blob storage, feed, pipeline, and API server) and starts the appropriate
// goroutines based on the configured operating mode.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alanyoungcy/coverbot/internal/config"
	"github.com/alanyoungcy/coverbot/internal/snapshot"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, selects the
// operating mode, starts the corresponding goroutines, and blocks until the
// context is cancelled. On return it runs all registered cleanup functions.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	if err := a.startupState(ctx, deps); err != nil {
		return err
	}

	mode := strings.ToLower(a.cfg.Mode)
	switch mode {
	case "serve":
		return a.ServeMode(ctx, deps)
	case "pipeline":
		return a.PipelineMode(ctx, deps)
	case "full":
		return a.FullMode(ctx, deps)
	default:
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}
}

// startupState clears orphaned runs left by a previous process and, when the
// database is empty, bootstraps the reasoning caches from the seed snapshot
// in object storage.
func (a *App) startupState(ctx context.Context, deps *Dependencies) error {
	cleaned, err := deps.State.CleanupOrphanRuns(ctx)
	if err != nil {
		return fmt.Errorf("app: cleanup orphan runs: %w", err)
	}
	if cleaned > 0 {
		a.logger.InfoContext(ctx, "cleaned up orphaned runs", slog.Int("count", cleaned))
	}

	if !a.cfg.Pipeline.SeedImport || deps.Archive == nil {
		return nil
	}

	stats, err := deps.State.Stats(ctx)
	if err != nil {
		return fmt.Errorf("app: read dataset stats: %w", err)
	}
	if stats.Groups > 0 {
		// Already bootstrapped; the seed only fills an empty database.
		return nil
	}

	data, err := deps.Archive.FetchSeed(ctx, a.cfg.S3.SeedKey)
	if err != nil {
		a.logger.WarnContext(ctx, "seed snapshot unavailable, starting empty",
			slog.String("key", a.cfg.S3.SeedKey),
			slog.String("error", err.Error()),
		)
		return nil
	}

	seed, err := snapshot.DecodeSeed(data)
	if err != nil {
		return fmt.Errorf("app: decode seed snapshot: %w", err)
	}
	if err := deps.State.ImportSeed(ctx, seed); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("app: import seed snapshot: %w", err)
	}

	a.logger.InfoContext(ctx, "imported seed snapshot",
		slog.Int("groups", len(seed.Groups)),
		slog.Int("implications", len(seed.Implications)),
		slog.Int("pairs", len(seed.ValidatedPairs)),
	)
	return nil
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

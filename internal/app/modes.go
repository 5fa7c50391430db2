package app

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/coverbot/internal/domain"
	"github.com/alanyoungcy/coverbot/internal/feed"
	"github.com/alanyoungcy/coverbot/internal/pipeline"
	"github.com/alanyoungcy/coverbot/internal/server"
	"github.com/alanyoungcy/coverbot/internal/server/handler"
	"github.com/alanyoungcy/coverbot/internal/server/ws"
	"github.com/alanyoungcy/coverbot/internal/service"
)

// shutdownGrace bounds how long the HTTP server may drain in-flight
// requests after the run context is cancelled.
const shutdownGrace = 10 * time.Second

// feedStack bundles the live-feed services that serve and full mode share.
type feedStack struct {
	resolver *service.TokenResolver
	cache    *service.PortfolioCache
	priceSvc *service.PriceService
	agg      *feed.Aggregator
}

// ServeMode runs the live price feed, the repricing cache, and the HTTP +
// WebSocket API. The batch pipeline does not run in this mode.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	stack := a.buildFeedStack(deps)
	a.startFeed(ctx, g, deps, stack)
	a.startHTTPServer(ctx, g, deps, stack, nil)
	return g.Wait()
}

// PipelineMode runs the batch pipeline and nothing else. With a zero
// interval it executes exactly one run and exits; otherwise it loops.
func (a *App) PipelineMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting pipeline mode")

	runner := a.buildRunner(deps)
	if a.cfg.Pipeline.Interval.Duration <= 0 {
		return runner.RunOnce(ctx)
	}
	return runner.RunLoop(ctx, a.cfg.Pipeline.Interval.Duration)
}

// FullMode runs the pipeline loop, the live feed, and the API server in one
// process.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	runner := a.buildRunner(deps)
	g.Go(func() error {
		return runner.RunLoop(ctx, a.cfg.Pipeline.Interval.Duration)
	})

	stack := a.buildFeedStack(deps)
	a.startFeed(ctx, g, deps, stack)
	a.startHTTPServer(ctx, g, deps, stack, runner)
	return g.Wait()
}

// buildRunner wires the batch pipeline runner from config and dependencies.
func (a *App) buildRunner(deps *Dependencies) *pipeline.Runner {
	cfg := pipeline.RunnerConfig{
		Tags:          a.cfg.Pipeline.Tags,
		MaxCandidates: a.cfg.Pipeline.MaxCandidates,
		MinViability:  a.cfg.Portfolio.MinViability,
		PriceFloor:    a.cfg.Portfolio.PriceFloor,
		SnapshotPath:  a.cfg.Portfolio.SnapshotPath,
		ArchiveToS3:   a.cfg.Pipeline.ArchiveToS3,
		MaxConcurrent: a.cfg.Reasoning.MaxConcurrent,
	}

	fetcher := &pagedFetcher{
		gamma:    deps.Gamma,
		pageSize: a.cfg.Pipeline.PageSize,
		maxPages: a.cfg.Pipeline.MaxPages,
	}

	var archiver domain.SnapshotArchiver
	if deps.Archive != nil {
		archiver = deps.Archive
	}

	return pipeline.NewRunner(
		cfg,
		deps.State,
		fetcher,
		deps.Reasoning,
		deps.Reasoning,
		archiver,
		deps.LockManager,
		a.logger,
	)
}

// pagedFetcher adapts the Gamma client to the event fetcher contract with
// the configured page size and page budget.
type pagedFetcher struct {
	gamma interface {
		FetchEventsPaged(ctx context.Context, tags []string, pageSize, maxPages int) ([]domain.RawEvent, error)
	}
	pageSize int
	maxPages int
}

func (f *pagedFetcher) FetchEvents(ctx context.Context, tags []string) ([]domain.RawEvent, error) {
	return f.gamma.FetchEventsPaged(ctx, tags, f.pageSize, f.maxPages)
}

// buildFeedStack wires the token resolver, portfolio cache, price service,
// and feed aggregator that keep prices flowing into the API surface.
func (a *App) buildFeedStack(deps *Dependencies) *feedStack {
	resolver := service.NewTokenResolver(service.TokenResolverConfig{
		SnapshotPath: a.cfg.Portfolio.SnapshotPath,
		TopMarkets:   a.cfg.Portfolio.TopMarkets,
	}, deps.Gamma, a.logger)

	cache := service.NewPortfolioCache(service.PortfolioCacheConfig{
		SnapshotPath:   a.cfg.Portfolio.SnapshotPath,
		ReloadFallback: a.cfg.Portfolio.ReloadFallback.Duration,
		PriceFloor:     a.cfg.Portfolio.PriceFloor,
		PriceEpsilon:   a.cfg.Portfolio.PriceEpsilon,
		ProfitEpsilon:  a.cfg.Portfolio.ProfitEpsilon,
	}, a.logger)

	queue := make(chan domain.PriceEvent, a.cfg.Feed.QueueSize)

	wsURL := strings.TrimRight(a.cfg.Polymarket.WsHost, "/") + "/ws/market"
	factory := func() feed.Conn {
		return feed.NewConnection(feed.ConnectionConfig{
			WSURL:        wsURL,
			TokenCeiling: a.cfg.Feed.TokensPerConnection,
			PingInterval: a.cfg.Feed.PingInterval.Duration,
			BackoffBase:  a.cfg.Feed.BackoffBase.Duration,
			BackoffCap:   a.cfg.Feed.BackoffCap.Duration,
			IdleWait:     a.cfg.Feed.IdleWait.Duration,
		}, queue, a.logger)
	}

	agg := feed.NewAggregator(feed.AggregatorConfig{
		TokensPerConnection: a.cfg.Feed.TokensPerConnection,
		MaxConnections:      a.cfg.Feed.MaxConnections,
		RefreshInterval:     a.cfg.Feed.RefreshInterval.Duration,
	}, resolver, factory, a.logger)

	priceSvc := service.NewPriceService(
		queue,
		resolver,
		cache,
		deps.QuoteCache,
		deps.SignalBus,
		a.cfg.Portfolio.FlushInterval.Duration,
		a.logger,
	)

	return &feedStack{
		resolver: resolver,
		cache:    cache,
		priceSvc: priceSvc,
		agg:      agg,
	}
}

// startFeed loads the portfolio cache, resolves the initial token universe,
// and launches the feed aggregator and price service.
func (a *App) startFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies, stack *feedStack) {
	if err := stack.cache.Load(); err != nil {
		a.logger.WarnContext(ctx, "initial portfolio load failed",
			slog.String("error", err.Error()),
		)
	}
	a.warmPrices(ctx, deps, stack)
	if _, err := stack.resolver.MaybeRefresh(ctx); err != nil {
		a.logger.WarnContext(ctx, "initial token resolution failed",
			slog.String("error", err.Error()),
		)
	}

	g.Go(func() error {
		return stack.agg.Run(ctx)
	})
	g.Go(func() error {
		return stack.priceSvc.Run(ctx)
	})
}

// warmPrices reprices the freshly loaded portfolios from the Redis quote
// mirror so a restarted process serves live-ish prices before the first
// feed tick arrives. Failures degrade to snapshot prices.
func (a *App) warmPrices(ctx context.Context, deps *Dependencies, stack *feedStack) {
	ids := stack.cache.MarketIDs()
	if len(ids) == 0 {
		return
	}
	quotes, err := deps.QuoteCache.GetQuotes(ctx, ids)
	if err != nil {
		a.logger.WarnContext(ctx, "quote mirror warm-up failed",
			slog.String("error", err.Error()),
		)
		return
	}
	if len(quotes) == 0 {
		return
	}
	delta := stack.cache.UpdatePrices(quotes, time.Now())
	a.logger.InfoContext(ctx, "portfolios warmed from quote mirror",
		slog.Int("markets", len(quotes)),
		slog.Int("repriced", len(delta.Changed)),
	)
}

// startHTTPServer builds the handler set, attaches the WebSocket hub, and
// runs the HTTP server until the context is cancelled. runner may be nil
// when no pipeline loop runs in this process.
func (a *App) startHTTPServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	stack *feedStack,
	runner *pipeline.Runner,
) {
	hub := ws.NewHub(deps.SignalBus, []string{service.DeltaChannel}, stack.cache, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	var trigger handler.PipelineTrigger
	if runner != nil {
		trigger = runner
	}

	handlers := server.Handlers{
		Health:     handler.NewHealthHandler(a.logger),
		Portfolios: handler.NewPortfolioHandler(stack.cache, a.logger),
		Quotes:     handler.NewQuoteHandler(deps.QuoteCache, deps.SignalBus, service.DeltaChannel, a.logger),
		Runs:       handler.NewRunHandler(deps.State, a.logger),
		Pipeline:   handler.NewPipelineHandler(trigger, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, handlers, hub, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

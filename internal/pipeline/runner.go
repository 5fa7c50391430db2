package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/alanyoungcy/coverbot/internal/domain"
	"github.com/alanyoungcy/coverbot/internal/snapshot"
	"github.com/alanyoungcy/coverbot/internal/state"
)

// Pipeline step names recorded on the run row.
const (
	StepFetchEvents     = "fetch_events"
	StepBuildGroups     = "build_groups"
	StepExtract         = "extract_implications"
	StepExpandPairs     = "expand_pairs"
	StepValidatePairs   = "validate_pairs"
	StepBuildPortfolios = "build_portfolios"
	StepSavePortfolios  = "save_portfolios"
	StepExportSnapshot  = "export_snapshot"
)

// runLockTTL bounds how long a crashed process can hold the pipeline
// lock.
const runLockTTL = 30 * time.Minute

// validateBatchSize is how many candidate pairs go to the reasoning
// service per request.
const validateBatchSize = 20

// RunnerConfig holds batch run parameters.
type RunnerConfig struct {
	Tags          []string
	MaxCandidates int
	MinViability  float64
	PriceFloor    float64
	SnapshotPath  string
	ArchiveToS3   bool
	// MaxConcurrent bounds parallel reasoning-service calls during
	// implication extraction.
	MaxConcurrent int
}

// Runner executes full pipeline runs: listings in, portfolio snapshot
// out. All durable state goes through the pipeline state; external
// collaborators are injected as interfaces.
type Runner struct {
	cfg       RunnerConfig
	state     *state.PipelineState
	fetcher   domain.EventFetcher
	extractor domain.ReasoningExtractor
	validator domain.ReasoningValidator
	archiver  domain.SnapshotArchiver // optional
	lock      domain.LockManager      // optional
	logger    *slog.Logger
	trigger   chan struct{}
}

// NewRunner wires a pipeline runner. archiver and lock may be nil.
func NewRunner(
	cfg RunnerConfig,
	st *state.PipelineState,
	fetcher domain.EventFetcher,
	extractor domain.ReasoningExtractor,
	validator domain.ReasoningValidator,
	archiver domain.SnapshotArchiver,
	lock domain.LockManager,
	logger *slog.Logger,
) *Runner {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 5
	}
	return &Runner{
		cfg:       cfg,
		state:     st,
		fetcher:   fetcher,
		extractor: extractor,
		validator: validator,
		archiver:  archiver,
		lock:      lock,
		logger:    logger.With(slog.String("component", "pipeline")),
		trigger:   make(chan struct{}, 1),
	}
}

// Trigger requests an extra run from the loop. Non-blocking; the request
// is dropped when one is already pending.
func (r *Runner) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// RunLoop executes one run immediately, then again on every interval tick
// and on every Trigger call until ctx is cancelled. An interval of zero
// disables the ticker so runs happen only on demand.
func (r *Runner) RunLoop(ctx context.Context, interval time.Duration) error {
	if err := r.RunOnce(ctx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.Error("pipeline run failed", slog.String("error", err.Error()))
	}

	var tick <-chan time.Time
	if interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick:
		case <-r.trigger:
		}
		if err := r.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Error("pipeline run failed", slog.String("error", err.Error()))
		}
	}
}

// RunOnce executes one full pipeline run.
func (r *Runner) RunOnce(ctx context.Context) (err error) {
	if r.lock != nil {
		unlock, lockErr := r.lock.Acquire(ctx, "pipeline_run", runLockTTL)
		if lockErr != nil {
			if errors.Is(lockErr, domain.ErrLockHeld) {
				r.logger.Info("pipeline run skipped, another process holds the lock")
				return nil
			}
			return fmt.Errorf("pipeline: acquire run lock: %w", lockErr)
		}
		defer unlock()
	}

	run, err := r.state.StartRun(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrRunActive) {
			r.logger.Info("pipeline run skipped, a run is already active")
			return nil
		}
		return err
	}
	started := time.Now()
	r.logger.Info("pipeline run started", slog.String("run_id", run.ID))

	defer func() {
		if cerr := r.state.CompleteRun(ctx, run.ID, err); cerr != nil {
			r.logger.Error("failed to finalize run",
				slog.String("run_id", run.ID),
				slog.String("error", cerr.Error()))
		}
		r.logger.Info("pipeline run finished",
			slog.String("run_id", run.ID),
			slog.Duration("elapsed", time.Since(started)),
			slog.Bool("ok", err == nil),
		)
	}()

	groups, err := r.syncGroups(ctx, run.ID)
	if err != nil {
		return err
	}
	if err = r.extractImplications(ctx, run.ID, groups); err != nil {
		return err
	}
	if err = r.judgePairs(ctx, run.ID, groups); err != nil {
		return err
	}
	if err = r.publishPortfolios(ctx, run.ID, groups); err != nil {
		return err
	}

	if err = r.state.MarkRunFinished(ctx, time.Now().UTC()); err != nil {
		return err
	}
	return nil
}

// syncGroups fetches listings and replaces the stored group set.
func (r *Runner) syncGroups(ctx context.Context, runID string) ([]domain.Group, error) {
	if err := r.state.SetStep(ctx, runID, StepFetchEvents); err != nil {
		return nil, err
	}
	events, err := r.fetcher.FetchEvents(ctx, r.cfg.Tags)
	if err != nil {
		return nil, fmt.Errorf("pipeline: fetch events: %w", err)
	}

	if err := r.state.SetStep(ctx, runID, StepBuildGroups); err != nil {
		return nil, err
	}
	groups := BuildGroups(events, time.Now().UTC())
	if err := r.state.ReplaceGroups(ctx, groups); err != nil {
		return nil, err
	}
	r.logger.Info("groups synced",
		slog.Int("events", len(events)),
		slog.Int("groups", len(groups)),
	)
	return groups, nil
}

// extractImplications asks the reasoning service about groups without
// a cached judgment, bounded by MaxConcurrent. A failed group is
// skipped, not fatal: the next run retries it.
func (r *Runner) extractImplications(ctx context.Context, runID string, groups []domain.Group) error {
	if err := r.state.SetStep(ctx, runID, StepExtract); err != nil {
		return err
	}
	known, err := r.state.KnownImplicationGroups(ctx)
	if err != nil {
		return err
	}

	byPartition := make(map[string][]domain.Group)
	for _, g := range groups {
		byPartition[g.Partition] = append(byPartition[g.Partition], g)
	}

	var (
		mu        sync.Mutex
		extracted int
		skipped   int
	)
	sem := semaphore.NewWeighted(int64(r.cfg.MaxConcurrent))
	eg, egCtx := errgroup.WithContext(ctx)

	for _, g := range groups {
		if _, ok := known[g.ID]; ok {
			continue
		}
		eg.Go(func() error {
			if err := sem.Acquire(egCtx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			imp, err := r.extractor.ExtractImplications(egCtx, g, candidatesFor(g, byPartition[g.Partition]))
			if err != nil {
				r.logger.Warn("implication extraction failed, skipping group",
					slog.String("group_id", g.ID),
					slog.String("error", err.Error()),
				)
				mu.Lock()
				skipped++
				mu.Unlock()
				return nil
			}
			if err := r.state.SaveImplication(egCtx, imp); err != nil {
				return err
			}
			mu.Lock()
			extracted++
			mu.Unlock()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("pipeline: extract implications: %w", err)
	}

	r.logger.Info("implications extracted",
		slog.Int("new", extracted),
		slog.Int("skipped", skipped),
		slog.Int("cached", len(known)),
	)
	return nil
}

// candidatesFor returns the other groups in the same partition, the
// plausible covers for one group.
func candidatesFor(g domain.Group, partition []domain.Group) []domain.Group {
	out := make([]domain.Group, 0, len(partition))
	for _, other := range partition {
		if other.ID != g.ID {
			out = append(out, other)
		}
	}
	return out
}

// judgePairs expands implications into candidates and has the
// reasoning service judge the new ones in batches.
func (r *Runner) judgePairs(ctx context.Context, runID string, groups []domain.Group) error {
	if err := r.state.SetStep(ctx, runID, StepExpandPairs); err != nil {
		return err
	}
	implications, err := r.state.ImplicationsByGroup(ctx)
	if err != nil {
		return err
	}
	knownPairs, err := r.state.KnownPairIDs(ctx)
	if err != nil {
		return err
	}
	candidates := ExpandPairs(groups, implications, knownPairs, r.cfg.MaxCandidates)
	r.logger.Info("pairs expanded",
		slog.Int("candidates", len(candidates)),
		slog.Int("already_judged", len(knownPairs)),
	)
	if len(candidates) == 0 {
		return nil
	}

	if err := r.state.SetStep(ctx, runID, StepValidatePairs); err != nil {
		return err
	}
	var judged, failed int
	for start := 0; start < len(candidates); start += validateBatchSize {
		end := min(start+validateBatchSize, len(candidates))
		batch := candidates[start:end]

		results, err := r.validator.ValidatePairs(ctx, batch)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.logger.Warn("pair validation batch failed, skipping",
				slog.Int("batch_start", start),
				slog.String("error", err.Error()),
			)
			failed += len(batch)
			continue
		}
		for _, pair := range results {
			if err := r.state.SavePair(ctx, pair); err != nil {
				return err
			}
			judged++
		}
	}
	r.logger.Info("pairs judged", slog.Int("judged", judged), slog.Int("failed", failed))
	return nil
}

// publishPortfolios rebuilds portfolios from viable pairs and current
// prices, persists them, and exports the snapshot.
func (r *Runner) publishPortfolios(ctx context.Context, runID string, groups []domain.Group) error {
	if err := r.state.SetStep(ctx, runID, StepBuildPortfolios); err != nil {
		return err
	}
	viable, err := r.state.ViablePairs(ctx, r.cfg.MinViability)
	if err != nil {
		return err
	}

	markets := make(map[string]domain.Market)
	for _, g := range groups {
		for _, m := range g.Markets {
			markets[m.ID] = m
		}
	}
	portfolios := BuildPortfolios(viable, MarketPrices(markets), r.cfg.PriceFloor, time.Now().UTC())

	if err := r.state.SetStep(ctx, runID, StepSavePortfolios); err != nil {
		return err
	}
	deduped, err := r.state.SavePortfolios(ctx, portfolios)
	if err != nil {
		return err
	}
	r.logger.Info("portfolios saved",
		slog.Int("portfolios", len(portfolios)),
		slog.Int("viable_pairs", len(viable)),
		slog.Int("deduped", deduped),
	)

	if err := r.state.SetStep(ctx, runID, StepExportSnapshot); err != nil {
		return err
	}
	return r.exportSnapshot(ctx, runID, portfolios)
}

// RebuildPrices refreshes portfolios from stored pairs and the latest
// stored prices without touching the reasoning service. Used between
// full runs when only prices moved.
func (r *Runner) RebuildPrices(ctx context.Context) error {
	groups, err := r.state.Groups(ctx)
	if err != nil {
		return err
	}
	viable, err := r.state.ViablePairs(ctx, r.cfg.MinViability)
	if err != nil {
		return err
	}

	markets := make(map[string]domain.Market)
	for _, g := range groups {
		for _, m := range g.Markets {
			markets[m.ID] = m
		}
	}
	portfolios := BuildPortfolios(viable, MarketPrices(markets), r.cfg.PriceFloor, time.Now().UTC())

	if _, err := r.state.SavePortfolios(ctx, portfolios); err != nil {
		return err
	}
	return r.exportSnapshot(ctx, "", portfolios)
}

// exportSnapshot writes the live snapshot and optionally archives a
// copy to object storage.
func (r *Runner) exportSnapshot(ctx context.Context, runID string, portfolios []domain.Portfolio) error {
	records := make([]snapshot.PortfolioRecord, len(portfolios))
	for i, p := range portfolios {
		records[i] = snapshot.FromDomain(p)
	}
	if err := snapshot.WritePortfolios(r.cfg.SnapshotPath, records, runID); err != nil {
		return err
	}
	r.logger.Info("snapshot exported",
		slog.String("path", r.cfg.SnapshotPath),
		slog.Int("portfolios", len(records)),
	)

	if !r.cfg.ArchiveToS3 || r.archiver == nil || runID == "" {
		return nil
	}
	data, err := os.ReadFile(r.cfg.SnapshotPath)
	if err != nil {
		return fmt.Errorf("pipeline: read snapshot for archive: %w", err)
	}
	key, err := r.archiver.ArchiveSnapshot(ctx, runID, data)
	if err != nil {
		// Archival is best effort; the local snapshot is the source
		// the live services read.
		r.logger.Warn("snapshot archive failed", slog.String("error", err.Error()))
		return nil
	}
	r.logger.Info("snapshot archived", slog.String("key", key))
	return nil
}

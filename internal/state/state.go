// Package state coordinates durable pipeline state: run lifecycle,
// the insert-only reasoning caches, and portfolio persistence.
package state

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/coverbot/internal/domain"
	"github.com/alanyoungcy/coverbot/internal/snapshot"
)

// Resetter wipes every table. Implemented by the postgres client.
type Resetter interface {
	Reset(ctx context.Context) error
}

// Stores bundles the persistence interfaces the pipeline state works
// over.
type Stores struct {
	Groups       domain.GroupStore
	Markets      domain.MarketStore
	Implications domain.ImplicationStore
	Pairs        domain.ValidatedPairStore
	Portfolios   domain.PortfolioStore
	Runs         domain.RunStore
	Metadata     domain.MetadataStore
	Resetter     Resetter
}

// PipelineState is the single entry point for pipeline persistence.
// One instance is shared by the run loop; it owns no in-memory caches
// beyond what a single run needs.
type PipelineState struct {
	stores Stores
	logger *slog.Logger
}

// New creates a PipelineState over the given stores.
func New(stores Stores, logger *slog.Logger) *PipelineState {
	return &PipelineState{
		stores: stores,
		logger: logger.With(slog.String("component", "pipeline_state")),
	}
}

// CleanupOrphanRuns transitions every run still marked running to
// failed and returns how many were repaired. Called once at process
// start: a running row at that point is leftover from a crash.
func (ps *PipelineState) CleanupOrphanRuns(ctx context.Context) (int, error) {
	running, err := ps.stores.Runs.ListRunning(ctx)
	if err != nil {
		return 0, fmt.Errorf("state: list running runs: %w", err)
	}
	for _, run := range running {
		if err := ps.stores.Runs.Complete(ctx, run.ID, domain.RunStatusFailed, "orphaned: process restarted mid-run"); err != nil {
			return 0, fmt.Errorf("state: fail orphan run %s: %w", run.ID, err)
		}
		ps.logger.Warn("orphaned run marked failed",
			slog.String("run_id", run.ID),
			slog.String("last_step", run.Step),
		)
	}
	return len(running), nil
}

// StartRun creates a new running run. Returns domain.ErrRunActive when
// another run is still in flight.
func (ps *PipelineState) StartRun(ctx context.Context) (domain.Run, error) {
	running, err := ps.stores.Runs.ListRunning(ctx)
	if err != nil {
		return domain.Run{}, fmt.Errorf("state: check active runs: %w", err)
	}
	if len(running) > 0 {
		return domain.Run{}, fmt.Errorf("state: run %s: %w", running[0].ID, domain.ErrRunActive)
	}

	run := domain.Run{
		ID:        uuid.New().String(),
		Status:    domain.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if err := ps.stores.Runs.Create(ctx, run); err != nil {
		return domain.Run{}, fmt.Errorf("state: create run: %w", err)
	}
	return run, nil
}

// SetStep records pipeline progress for operator diagnostics.
func (ps *PipelineState) SetStep(ctx context.Context, runID, step string) error {
	if err := ps.stores.Runs.SetStep(ctx, runID, step); err != nil {
		return fmt.Errorf("state: set step %q: %w", step, err)
	}
	return nil
}

// CompleteRun finishes a run; a non-nil runErr marks it failed.
func (ps *PipelineState) CompleteRun(ctx context.Context, runID string, runErr error) error {
	status := domain.RunStatusCompleted
	msg := ""
	if runErr != nil {
		status = domain.RunStatusFailed
		msg = runErr.Error()
	}
	if err := ps.stores.Runs.Complete(ctx, runID, status, msg); err != nil {
		return fmt.Errorf("state: complete run %s: %w", runID, err)
	}
	return nil
}

// RecentRuns returns the newest runs for operator surfaces.
func (ps *PipelineState) RecentRuns(ctx context.Context, limit int) ([]domain.Run, error) {
	return ps.stores.Runs.ListRecent(ctx, limit)
}

// Run returns a single run by id.
func (ps *PipelineState) Run(ctx context.Context, id string) (domain.Run, error) {
	return ps.stores.Runs.GetByID(ctx, id)
}

// ----------------------------------------------------------------------
// Reasoning caches
// ----------------------------------------------------------------------

// KnownImplicationGroups returns the set of group ids that already hold
// a cached judgment, so the extraction step only pays for new groups.
func (ps *PipelineState) KnownImplicationGroups(ctx context.Context) (map[string]struct{}, error) {
	ids, err := ps.stores.Implications.ListGroupIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("state: list cached implication groups: %w", err)
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// KnownPairIDs returns the set of pair ids already judged.
func (ps *PipelineState) KnownPairIDs(ctx context.Context) (map[string]struct{}, error) {
	ids, err := ps.stores.Pairs.ListIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("state: list cached pair ids: %w", err)
	}
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set, nil
}

// ImplicationsByGroup loads every cached judgment keyed by group id.
func (ps *PipelineState) ImplicationsByGroup(ctx context.Context) (map[string]domain.Implication, error) {
	ids, err := ps.stores.Implications.ListGroupIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("state: list implication groups: %w", err)
	}
	out := make(map[string]domain.Implication, len(ids))
	for _, id := range ids {
		imp, err := ps.stores.Implications.GetByGroup(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("state: load implication %s: %w", id, err)
		}
		out[id] = imp
	}
	return out, nil
}

// SaveImplication caches one judgment; existing group ids are never
// overwritten.
func (ps *PipelineState) SaveImplication(ctx context.Context, imp domain.Implication) error {
	if err := ps.stores.Implications.Insert(ctx, imp); err != nil {
		return fmt.Errorf("state: save implication %s: %w", imp.GroupID, err)
	}
	return nil
}

// SavePair caches one judged pair.
func (ps *PipelineState) SavePair(ctx context.Context, pair domain.ValidatedPair) error {
	if err := ps.stores.Pairs.Insert(ctx, pair); err != nil {
		return fmt.Errorf("state: save pair %s: %w", pair.PairID, err)
	}
	return nil
}

// ViablePairs returns judged pairs passing the viability filter.
func (ps *PipelineState) ViablePairs(ctx context.Context, minScore float64) ([]domain.ValidatedPair, error) {
	pairs, err := ps.stores.Pairs.ListViable(ctx, minScore)
	if err != nil {
		return nil, fmt.Errorf("state: list viable pairs: %w", err)
	}
	return pairs, nil
}

// ----------------------------------------------------------------------
// Groups, markets, portfolios
// ----------------------------------------------------------------------

// ReplaceGroups swaps the full group list and upserts member markets.
func (ps *PipelineState) ReplaceGroups(ctx context.Context, groups []domain.Group) error {
	if err := ps.stores.Groups.ReplaceAll(ctx, groups); err != nil {
		return fmt.Errorf("state: replace groups: %w", err)
	}
	var markets []domain.Market
	for _, g := range groups {
		markets = append(markets, g.Markets...)
	}
	if err := ps.stores.Markets.UpsertBatch(ctx, markets); err != nil {
		return fmt.Errorf("state: upsert group markets: %w", err)
	}
	return nil
}

// Groups returns every stored group with members.
func (ps *PipelineState) Groups(ctx context.Context) ([]domain.Group, error) {
	return ps.stores.Groups.List(ctx)
}

// Market returns one market row.
func (ps *PipelineState) Market(ctx context.Context, id string) (domain.Market, error) {
	return ps.stores.Markets.GetByID(ctx, id)
}

// SavePortfolios replaces the stored portfolio list. Records sharing a
// pair id are collapsed to the first occurrence before the write; the
// total number of dropped duplicates is returned.
func (ps *PipelineState) SavePortfolios(ctx context.Context, portfolios []domain.Portfolio) (int, error) {
	unique := make([]domain.Portfolio, 0, len(portfolios))
	seen := make(map[string]struct{}, len(portfolios))
	for _, p := range portfolios {
		if _, ok := seen[p.PairID]; ok {
			continue
		}
		seen[p.PairID] = struct{}{}
		unique = append(unique, p)
	}
	deduped := len(portfolios) - len(unique)

	storeDeduped, err := ps.stores.Portfolios.ReplaceAll(ctx, unique)
	if err != nil {
		return 0, fmt.Errorf("state: replace portfolios: %w", err)
	}
	deduped += storeDeduped

	if deduped > 0 {
		ps.logger.Warn("duplicate portfolio pair ids dropped",
			slog.Int("deduped", deduped),
			slog.Int("kept", len(unique)),
		)
	}
	return deduped, nil
}

// Portfolios reads stored portfolios best-first.
func (ps *PipelineState) Portfolios(ctx context.Context, maxTier int, profitableOnly bool, opts domain.ListOpts) ([]domain.Portfolio, error) {
	return ps.stores.Portfolios.List(ctx, maxTier, profitableOnly, opts)
}

// ----------------------------------------------------------------------
// Metadata, seed, reset
// ----------------------------------------------------------------------

// LastRunAt returns the completion time of the last successful run, or
// the zero time when none is recorded.
func (ps *PipelineState) LastRunAt(ctx context.Context) (time.Time, error) {
	t, err := ps.stores.Metadata.GetTime(ctx, "last_run_at")
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("state: get last run time: %w", err)
	}
	return t, nil
}

// MarkRunFinished records the completion time of a successful run.
func (ps *PipelineState) MarkRunFinished(ctx context.Context, t time.Time) error {
	if err := ps.stores.Metadata.SetTime(ctx, "last_run_at", t); err != nil {
		return fmt.Errorf("state: set last run time: %w", err)
	}
	return nil
}

// ImportSeed loads groups, markets, and the reasoning caches from a
// seed file. Portfolios are never imported: they are derived data and
// always recomputed from live prices.
func (ps *PipelineState) ImportSeed(ctx context.Context, seed snapshot.SeedFile) error {
	if err := ps.ReplaceGroups(ctx, seed.Groups); err != nil {
		return fmt.Errorf("state: import seed groups: %w", err)
	}
	for _, imp := range seed.Implications {
		if err := ps.stores.Implications.Insert(ctx, imp); err != nil {
			return fmt.Errorf("state: import seed implication %s: %w", imp.GroupID, err)
		}
	}
	for _, pair := range seed.ValidatedPairs {
		if err := ps.stores.Pairs.Insert(ctx, pair); err != nil {
			return fmt.Errorf("state: import seed pair %s: %w", pair.PairID, err)
		}
	}
	ps.logger.Info("seed imported",
		slog.Int("groups", len(seed.Groups)),
		slog.Int("implications", len(seed.Implications)),
		slog.Int("pairs", len(seed.ValidatedPairs)),
	)
	return nil
}

// ExportSeed captures the reasoning caches and groups for reuse on a
// fresh store.
func (ps *PipelineState) ExportSeed(ctx context.Context) (snapshot.SeedFile, error) {
	groups, err := ps.stores.Groups.List(ctx)
	if err != nil {
		return snapshot.SeedFile{}, fmt.Errorf("state: export groups: %w", err)
	}

	groupIDs, err := ps.stores.Implications.ListGroupIDs(ctx)
	if err != nil {
		return snapshot.SeedFile{}, fmt.Errorf("state: export implication ids: %w", err)
	}
	implications := make([]domain.Implication, 0, len(groupIDs))
	for _, id := range groupIDs {
		imp, err := ps.stores.Implications.GetByGroup(ctx, id)
		if err != nil {
			return snapshot.SeedFile{}, fmt.Errorf("state: export implication %s: %w", id, err)
		}
		implications = append(implications, imp)
	}

	pairIDs, err := ps.stores.Pairs.ListIDs(ctx)
	if err != nil {
		return snapshot.SeedFile{}, fmt.Errorf("state: export pair ids: %w", err)
	}
	pairs := make([]domain.ValidatedPair, 0, len(pairIDs))
	for _, id := range pairIDs {
		pair, err := ps.stores.Pairs.GetByID(ctx, id)
		if err != nil {
			return snapshot.SeedFile{}, fmt.Errorf("state: export pair %s: %w", id, err)
		}
		pairs = append(pairs, pair)
	}

	return snapshot.SeedFile{
		Groups:         groups,
		Implications:   implications,
		ValidatedPairs: pairs,
	}, nil
}

// Reset wipes every table, including the reasoning caches.
func (ps *PipelineState) Reset(ctx context.Context) error {
	if ps.stores.Resetter == nil {
		return fmt.Errorf("state: reset: no resetter configured")
	}
	if err := ps.stores.Resetter.Reset(ctx); err != nil {
		return fmt.Errorf("state: reset: %w", err)
	}
	ps.logger.Warn("all pipeline state wiped")
	return nil
}

// Stats summarizes store contents for operator surfaces.
type Stats struct {
	Groups       int64
	Markets      int64
	Implications int64
	Pairs        int64
	Portfolios   int64
}

// Stats counts rows across the stores.
func (ps *PipelineState) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	var err error
	if s.Groups, err = ps.stores.Groups.Count(ctx); err != nil {
		return Stats{}, fmt.Errorf("state: count groups: %w", err)
	}
	if s.Markets, err = ps.stores.Markets.Count(ctx); err != nil {
		return Stats{}, fmt.Errorf("state: count markets: %w", err)
	}
	if s.Implications, err = ps.stores.Implications.Count(ctx); err != nil {
		return Stats{}, fmt.Errorf("state: count implications: %w", err)
	}
	if s.Pairs, err = ps.stores.Pairs.Count(ctx); err != nil {
		return Stats{}, fmt.Errorf("state: count pairs: %w", err)
	}
	if s.Portfolios, err = ps.stores.Portfolios.Count(ctx); err != nil {
		return Stats{}, fmt.Errorf("state: count portfolios: %w", err)
	}
	return s, nil
}

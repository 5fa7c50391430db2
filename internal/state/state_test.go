package state

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/coverbot/internal/domain"
	"github.com/alanyoungcy/coverbot/internal/snapshot"
)

// ----------------------------------------------------------------------
// In-memory store fakes
// ----------------------------------------------------------------------

type memRunStore struct {
	runs map[string]domain.Run
}

func newMemRunStore() *memRunStore {
	return &memRunStore{runs: make(map[string]domain.Run)}
}

func (s *memRunStore) Create(_ context.Context, run domain.Run) error {
	if _, ok := s.runs[run.ID]; ok {
		return domain.ErrAlreadyExists
	}
	s.runs[run.ID] = run
	return nil
}

func (s *memRunStore) Complete(_ context.Context, id string, status domain.RunStatus, errMsg string) error {
	run, ok := s.runs[id]
	if !ok {
		return domain.ErrNotFound
	}
	now := time.Now()
	run.Status = status
	run.Error = errMsg
	run.CompletedAt = &now
	s.runs[id] = run
	return nil
}

func (s *memRunStore) SetStep(_ context.Context, id string, step string) error {
	run, ok := s.runs[id]
	if !ok {
		return domain.ErrNotFound
	}
	run.Step = step
	s.runs[id] = run
	return nil
}

func (s *memRunStore) GetByID(_ context.Context, id string) (domain.Run, error) {
	run, ok := s.runs[id]
	if !ok {
		return domain.Run{}, domain.ErrNotFound
	}
	return run, nil
}

func (s *memRunStore) ListRunning(context.Context) ([]domain.Run, error) {
	var out []domain.Run
	for _, run := range s.runs {
		if run.Status == domain.RunStatusRunning {
			out = append(out, run)
		}
	}
	return out, nil
}

func (s *memRunStore) ListRecent(_ context.Context, limit int) ([]domain.Run, error) {
	var out []domain.Run
	for _, run := range s.runs {
		out = append(out, run)
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memPortfolioStore struct {
	portfolios []domain.Portfolio
}

func (s *memPortfolioStore) ReplaceAll(_ context.Context, portfolios []domain.Portfolio) (int, error) {
	unique := make([]domain.Portfolio, 0, len(portfolios))
	seen := make(map[string]struct{}, len(portfolios))
	for _, p := range portfolios {
		if _, ok := seen[p.PairID]; ok {
			continue
		}
		seen[p.PairID] = struct{}{}
		unique = append(unique, p)
	}
	s.portfolios = unique
	return len(portfolios) - len(unique), nil
}

func (s *memPortfolioStore) List(_ context.Context, _ int, _ bool, _ domain.ListOpts) ([]domain.Portfolio, error) {
	return s.portfolios, nil
}

func (s *memPortfolioStore) Count(context.Context) (int64, error) {
	return int64(len(s.portfolios)), nil
}

type memImplicationStore struct {
	byGroup map[string]domain.Implication
}

func newMemImplicationStore() *memImplicationStore {
	return &memImplicationStore{byGroup: make(map[string]domain.Implication)}
}

func (s *memImplicationStore) Insert(_ context.Context, imp domain.Implication) error {
	if _, ok := s.byGroup[imp.GroupID]; ok {
		return nil
	}
	s.byGroup[imp.GroupID] = imp
	return nil
}

func (s *memImplicationStore) GetByGroup(_ context.Context, groupID string) (domain.Implication, error) {
	imp, ok := s.byGroup[groupID]
	if !ok {
		return domain.Implication{}, domain.ErrNotFound
	}
	return imp, nil
}

func (s *memImplicationStore) ListGroupIDs(context.Context) ([]string, error) {
	var ids []string
	for id := range s.byGroup {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *memImplicationStore) Count(context.Context) (int64, error) {
	return int64(len(s.byGroup)), nil
}

type memPairStore struct {
	byID map[string]domain.ValidatedPair
}

func newMemPairStore() *memPairStore {
	return &memPairStore{byID: make(map[string]domain.ValidatedPair)}
}

func (s *memPairStore) Insert(_ context.Context, pair domain.ValidatedPair) error {
	if _, ok := s.byID[pair.PairID]; ok {
		return nil
	}
	s.byID[pair.PairID] = pair
	return nil
}

func (s *memPairStore) GetByID(_ context.Context, pairID string) (domain.ValidatedPair, error) {
	p, ok := s.byID[pairID]
	if !ok {
		return domain.ValidatedPair{}, domain.ErrNotFound
	}
	return p, nil
}

func (s *memPairStore) ListViable(_ context.Context, minScore float64) ([]domain.ValidatedPair, error) {
	var out []domain.ValidatedPair
	for _, p := range s.byID {
		if p.Viable(minScore) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *memPairStore) ListIDs(context.Context) ([]string, error) {
	var ids []string
	for id := range s.byID {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *memPairStore) Count(context.Context) (int64, error) {
	return int64(len(s.byID)), nil
}

type memGroupStore struct {
	groups []domain.Group
}

func (s *memGroupStore) ReplaceAll(_ context.Context, groups []domain.Group) error {
	s.groups = groups
	return nil
}

func (s *memGroupStore) GetByID(_ context.Context, id string) (domain.Group, error) {
	for _, g := range s.groups {
		if g.ID == id {
			return g, nil
		}
	}
	return domain.Group{}, domain.ErrNotFound
}

func (s *memGroupStore) List(context.Context) ([]domain.Group, error) {
	return s.groups, nil
}

func (s *memGroupStore) Count(context.Context) (int64, error) {
	return int64(len(s.groups)), nil
}

type memMarketStore struct {
	byID map[string]domain.Market
}

func newMemMarketStore() *memMarketStore {
	return &memMarketStore{byID: make(map[string]domain.Market)}
}

func (s *memMarketStore) UpsertBatch(_ context.Context, markets []domain.Market) error {
	for _, m := range markets {
		s.byID[m.ID] = m
	}
	return nil
}

func (s *memMarketStore) UpdatePrices(_ context.Context, id string, yesPrice, noPrice float64) error {
	m, ok := s.byID[id]
	if !ok {
		return domain.ErrNotFound
	}
	m.YesPrice, m.NoPrice = yesPrice, noPrice
	s.byID[id] = m
	return nil
}

func (s *memMarketStore) GetByID(_ context.Context, id string) (domain.Market, error) {
	m, ok := s.byID[id]
	if !ok {
		return domain.Market{}, domain.ErrNotFound
	}
	return m, nil
}

func (s *memMarketStore) ListByGroup(_ context.Context, groupID string) ([]domain.Market, error) {
	var out []domain.Market
	for _, m := range s.byID {
		if m.GroupID == groupID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memMarketStore) List(_ context.Context, _ domain.ListOpts) ([]domain.Market, error) {
	var out []domain.Market
	for _, m := range s.byID {
		out = append(out, m)
	}
	return out, nil
}

func (s *memMarketStore) Count(context.Context) (int64, error) {
	return int64(len(s.byID)), nil
}

type memMetadataStore struct {
	kv map[string]string
}

func newMemMetadataStore() *memMetadataStore {
	return &memMetadataStore{kv: make(map[string]string)}
}

func (s *memMetadataStore) Set(_ context.Context, key, value string) error {
	s.kv[key] = value
	return nil
}

func (s *memMetadataStore) Get(_ context.Context, key string) (string, error) {
	v, ok := s.kv[key]
	if !ok {
		return "", domain.ErrNotFound
	}
	return v, nil
}

func (s *memMetadataStore) SetTime(ctx context.Context, key string, t time.Time) error {
	return s.Set(ctx, key, t.UTC().Format(time.RFC3339Nano))
}

func (s *memMetadataStore) GetTime(ctx context.Context, key string) (time.Time, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, v)
}

// ----------------------------------------------------------------------
// Fixture
// ----------------------------------------------------------------------

type fixture struct {
	state      *PipelineState
	runs       *memRunStore
	portfolios *memPortfolioStore
	pairs      *memPairStore
	imps       *memImplicationStore
	groups     *memGroupStore
	markets    *memMarketStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		runs:       newMemRunStore(),
		portfolios: &memPortfolioStore{},
		pairs:      newMemPairStore(),
		imps:       newMemImplicationStore(),
		groups:     &memGroupStore{},
		markets:    newMemMarketStore(),
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	f.state = New(Stores{
		Groups:       f.groups,
		Markets:      f.markets,
		Implications: f.imps,
		Pairs:        f.pairs,
		Portfolios:   f.portfolios,
		Runs:         f.runs,
		Metadata:     newMemMetadataStore(),
	}, logger)
	return f
}

// ----------------------------------------------------------------------
// Tests
// ----------------------------------------------------------------------

func TestCleanupOrphanRuns(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.runs.Create(ctx, domain.Run{ID: "r1", Status: domain.RunStatusRunning, Step: "grouping"}))
	require.NoError(t, f.runs.Create(ctx, domain.Run{ID: "r2", Status: domain.RunStatusRunning}))
	require.NoError(t, f.runs.Create(ctx, domain.Run{ID: "r3", Status: domain.RunStatusCompleted}))

	n, err := f.state.CleanupOrphanRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []string{"r1", "r2"} {
		run, err := f.runs.GetByID(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.RunStatusFailed, run.Status)
		assert.NotEmpty(t, run.Error)
		assert.NotNil(t, run.CompletedAt)
	}
	done, err := f.runs.GetByID(ctx, "r3")
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, done.Status)
}

func TestStartRunRefusesConcurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run, err := f.state.StartRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusRunning, run.Status)
	assert.NotEmpty(t, run.ID)

	_, err = f.state.StartRun(ctx)
	assert.True(t, errors.Is(err, domain.ErrRunActive))

	require.NoError(t, f.state.CompleteRun(ctx, run.ID, nil))
	got, err := f.runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusCompleted, got.Status)

	_, err = f.state.StartRun(ctx)
	assert.NoError(t, err, "terminal run no longer blocks")
}

func TestCompleteRunRecordsFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	run, err := f.state.StartRun(ctx)
	require.NoError(t, err)
	require.NoError(t, f.state.SetStep(ctx, run.ID, "expand_pairs"))
	require.NoError(t, f.state.CompleteRun(ctx, run.ID, errors.New("reasoning service unavailable")))

	got, err := f.runs.GetByID(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunStatusFailed, got.Status)
	assert.Equal(t, "expand_pairs", got.Step)
	assert.Contains(t, got.Error, "reasoning service unavailable")
}

func TestSavePortfoliosDedupes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := domain.Portfolio{PairID: "alpha", Coverage: 0.97}
	shadow := domain.Portfolio{PairID: "alpha", Coverage: 0.10}
	other := domain.Portfolio{PairID: "beta", Coverage: 0.92}

	deduped, err := f.state.SavePortfolios(ctx, []domain.Portfolio{first, shadow, other, shadow})
	require.NoError(t, err)
	assert.Equal(t, 2, deduped)

	stored, err := f.state.Portfolios(ctx, 4, false, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "alpha", stored[0].PairID)
	assert.InDelta(t, 0.97, stored[0].Coverage, 1e-9, "first occurrence wins")
}

func TestImportSeedNeverTouchesPortfolios(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.state.SavePortfolios(ctx, []domain.Portfolio{{PairID: "keep"}})
	require.NoError(t, err)

	valid := true
	seed := snapshot.SeedFile{
		Groups: []domain.Group{{
			ID:    "g1",
			Title: "Rate cuts 2026",
			Markets: []domain.Market{
				{ID: "m1", GroupID: "g1", Question: "Cut in March?"},
			},
		}},
		Implications: []domain.Implication{{
			GroupID:      "g1",
			YesCoveredBy: []domain.CoveredBy{{GroupID: "g2", Probability: 0.9}},
		}},
		ValidatedPairs: []domain.ValidatedPair{{
			PairID: "p1", TargetMarketID: "m1", TargetPosition: domain.PositionYes,
			CoverMarketID: "m2", CoverPosition: domain.PositionNo,
			ViabilityScore: 0.95, IsValid: &valid,
		}},
	}
	require.NoError(t, f.state.ImportSeed(ctx, seed))

	stats, err := f.state.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Groups)
	assert.Equal(t, int64(1), stats.Markets)
	assert.Equal(t, int64(1), stats.Implications)
	assert.Equal(t, int64(1), stats.Pairs)
	assert.Equal(t, int64(1), stats.Portfolios, "seed import leaves portfolios alone")

	ported, err := f.state.Portfolios(ctx, 4, false, domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, ported, 1)
	assert.Equal(t, "keep", ported[0].PairID)
}

func TestExportSeedRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.state.ReplaceGroups(ctx, []domain.Group{{ID: "g1", Title: "T"}}))
	require.NoError(t, f.state.SaveImplication(ctx, domain.Implication{GroupID: "g1"}))
	require.NoError(t, f.state.SavePair(ctx, domain.ValidatedPair{PairID: "p1", ViabilityScore: 0.9}))

	seed, err := f.state.ExportSeed(ctx)
	require.NoError(t, err)
	assert.Len(t, seed.Groups, 1)
	assert.Len(t, seed.Implications, 1)
	assert.Len(t, seed.ValidatedPairs, 1)
}

func TestKnownSetsAndViableFilter(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.state.SaveImplication(ctx, domain.Implication{GroupID: "g1"}))

	invalid := false
	require.NoError(t, f.state.SavePair(ctx, domain.ValidatedPair{PairID: "good", ViabilityScore: 0.95}))
	require.NoError(t, f.state.SavePair(ctx, domain.ValidatedPair{PairID: "low", ViabilityScore: 0.5}))
	require.NoError(t, f.state.SavePair(ctx, domain.ValidatedPair{PairID: "rejected", ViabilityScore: 0.95, IsValid: &invalid}))

	groups, err := f.state.KnownImplicationGroups(ctx)
	require.NoError(t, err)
	assert.Contains(t, groups, "g1")

	pairs, err := f.state.KnownPairIDs(ctx)
	require.NoError(t, err)
	assert.Len(t, pairs, 3)

	viable, err := f.state.ViablePairs(ctx, 0.9)
	require.NoError(t, err)
	require.Len(t, viable, 1)
	assert.Equal(t, "good", viable[0].PairID)
}

func TestLastRunAtZeroWhenUnset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	t0, err := f.state.LastRunAt(ctx)
	require.NoError(t, err)
	assert.True(t, t0.IsZero())

	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	require.NoError(t, f.state.MarkRunFinished(ctx, now))

	t1, err := f.state.LastRunAt(ctx)
	require.NoError(t, err)
	assert.True(t, t1.Equal(now))
}

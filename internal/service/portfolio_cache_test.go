package service

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/coverbot/internal/domain"
	"github.com/alanyoungcy/coverbot/internal/snapshot"
)

func cacheConfig(path string) PortfolioCacheConfig {
	return PortfolioCacheConfig{
		SnapshotPath:   path,
		ReloadFallback: time.Minute,
		PriceFloor:     0.001,
		PriceEpsilon:   0.001,
		ProfitEpsilon:  0.001,
	}
}

func baseRecord(pairID, target, cover string) snapshot.PortfolioRecord {
	return snapshot.PortfolioRecord{
		PairID:           pairID,
		TargetMarketID:   target,
		TargetPosition:   "YES",
		TargetPrice:      0.40,
		CoverMarketID:    cover,
		CoverPosition:    "NO",
		CoverPrice:       0.10,
		CoverProbability: 0.95,
		TotalCost:        0.50,
		Profit:           0.50,
		Coverage:         0.97,
		ExpectedProfit:   0.47,
		Tier:             1,
		TierLabel:        "HIGH_COVERAGE",
	}
}

func yesQuote(marketID string, price float64, now time.Time) domain.MarketQuote {
	return domain.MarketQuote{MarketID: marketID, YesPrice: price, HasYes: true, UpdatedAt: now}
}

func TestCacheLoadAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portfolios.json")
	writeSnapshot(t, path, []snapshot.PortfolioRecord{
		baseRecord("p1", "m1", "m2"),
		baseRecord("p2", "m3", "m4"),
	})

	c := NewPortfolioCache(cacheConfig(path), testLogger())
	require.NoError(t, c.Load())
	assert.Equal(t, 2, c.Count())

	got := c.GetPortfolios(4, false, domain.ListOpts{})
	require.Len(t, got, 2)
	assert.Equal(t, "p1", got[0].PairID)

	paged := c.GetPortfolios(4, false, domain.ListOpts{Limit: 1, Offset: 1})
	require.Len(t, paged, 1)
	assert.Equal(t, "p2", paged[0].PairID)
}

func TestCacheMissingSnapshotServesEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.json")
	c := NewPortfolioCache(cacheConfig(path), testLogger())

	require.NoError(t, c.Load())
	assert.Equal(t, 0, c.Count())
	assert.False(t, c.ShouldReload(time.Now()), "missing file with empty cache is settled")
}

func TestCacheUpdatePricesRecomputesMetrics(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portfolios.json")
	rec := baseRecord("p1", "m1", "m2")
	rec.TargetPrice = 0.30
	rec.CoverPrice = 0.10
	writeSnapshot(t, path, []snapshot.PortfolioRecord{rec})

	c := NewPortfolioCache(cacheConfig(path), testLogger())
	require.NoError(t, c.Load())

	now := time.Now()
	quotes := map[string]domain.MarketQuote{
		"m1": yesQuote("m1", 0.40, now),
		"m2": {MarketID: "m2", NoPrice: 0.10, HasNo: true, UpdatedAt: now},
	}
	delta := c.UpdatePrices(quotes, now)
	require.Len(t, delta.Changed, 1)

	p := delta.Changed[0]
	assert.InDelta(t, 0.50, p.TotalCost, 1e-9)
	assert.InDelta(t, 0.97, p.Coverage, 1e-9)
	assert.InDelta(t, 0.47, p.ExpectedProfit, 1e-9)
	assert.Equal(t, 1, p.Tier)
	assert.Equal(t, "HIGH_COVERAGE", p.TierLabel)
}

func TestCacheUpdatePricesIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portfolios.json")
	writeSnapshot(t, path, []snapshot.PortfolioRecord{baseRecord("p1", "m1", "m2")})

	c := NewPortfolioCache(cacheConfig(path), testLogger())
	require.NoError(t, c.Load())

	now := time.Now()
	quotes := map[string]domain.MarketQuote{"m1": yesQuote("m1", 0.55, now)}

	first := c.UpdatePrices(quotes, now)
	require.Len(t, first.Changed, 1)

	second := c.UpdatePrices(quotes, now.Add(time.Second))
	assert.True(t, second.Empty(), "same quotes a second time must be a no-op")
}

func TestCacheUpdatePricesSkipsFlooredAndTinyMoves(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portfolios.json")
	writeSnapshot(t, path, []snapshot.PortfolioRecord{baseRecord("p1", "m1", "m2")})

	c := NewPortfolioCache(cacheConfig(path), testLogger())
	require.NoError(t, c.Load())
	now := time.Now()

	// Degenerate target quote invalidates the whole record, even though
	// the cover leg moved enough to reprice on its own.
	delta := c.UpdatePrices(map[string]domain.MarketQuote{
		"m1": yesQuote("m1", 0.0005, now),
		"m2": {MarketID: "m2", NoPrice: 0.30, HasNo: true, UpdatedAt: now},
	}, now)
	assert.True(t, delta.Empty(), "record with a floored leg must not reprice")

	// The floor is inclusive: exactly 0.001 is still invalid.
	delta = c.UpdatePrices(map[string]domain.MarketQuote{"m1": yesQuote("m1", 0.001, now)}, now)
	assert.True(t, delta.Empty())

	// Sub-epsilon move: suppressed. Just past epsilon: recomputed.
	delta = c.UpdatePrices(map[string]domain.MarketQuote{"m1": yesQuote("m1", 0.4005, now)}, now)
	assert.True(t, delta.Empty())
	delta = c.UpdatePrices(map[string]domain.MarketQuote{"m1": yesQuote("m1", 0.4011, now)}, now)
	assert.Len(t, delta.Changed, 1)
}

func TestCacheUpdatePricesEpsilonBoundary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portfolios.json")
	rec := baseRecord("p1", "m1", "m2")
	rec.TargetPrice = 0.50
	writeSnapshot(t, path, []snapshot.PortfolioRecord{rec})

	// Exactly representable prices and epsilon make the boundary
	// unambiguous in float arithmetic.
	cfg := cacheConfig(path)
	cfg.PriceEpsilon = 0.25
	c := NewPortfolioCache(cfg, testLogger())
	require.NoError(t, c.Load())
	now := time.Now()

	// 0.50 -> 0.75 moves by exactly epsilon: suppressed.
	delta := c.UpdatePrices(map[string]domain.MarketQuote{"m1": yesQuote("m1", 0.75, now)}, now)
	assert.True(t, delta.Empty(), "a move of exactly epsilon must be suppressed")

	delta = c.UpdatePrices(map[string]domain.MarketQuote{"m1": yesQuote("m1", 0.8125, now)}, now)
	assert.Len(t, delta.Changed, 1)
}

func TestCacheTierChangeResorts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portfolios.json")
	first := baseRecord("p1", "m1", "m2")
	first.CoverProbability = 0.92
	first.Coverage = 0.952
	second := baseRecord("p2", "m3", "m4")
	writeSnapshot(t, path, []snapshot.PortfolioRecord{first, second})

	c := NewPortfolioCache(cacheConfig(path), testLogger())
	require.NoError(t, c.Load())

	// Crash p1's target price so its coverage falls out of tier 1.
	now := time.Now()
	delta := c.UpdatePrices(map[string]domain.MarketQuote{"m1": yesQuote("m1", 0.05, now)}, now)
	require.Len(t, delta.TierChanges, 1)
	assert.Equal(t, "p1", delta.TierChanges[0].PairID)
	assert.Equal(t, 1, delta.TierChanges[0].OldTier)
	assert.Greater(t, delta.TierChanges[0].NewTier, 1)

	got := c.GetPortfolios(4, false, domain.ListOpts{})
	require.Len(t, got, 2)
	assert.Equal(t, "p2", got[0].PairID, "untouched tier-1 portfolio moves to the front")
	assert.Equal(t, "p1", got[1].PairID)
}

func TestCacheFullReloadOnCountChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portfolios.json")
	writeSnapshot(t, path, []snapshot.PortfolioRecord{baseRecord("p1", "m1", "m2")})

	c := NewPortfolioCache(cacheConfig(path), testLogger())
	require.NoError(t, c.Load())
	require.Equal(t, 1, c.Count())

	writeSnapshot(t, path, []snapshot.PortfolioRecord{
		baseRecord("p1", "m1", "m2"),
		baseRecord("p2", "m3", "m4"),
	})
	later := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, later, later))

	delta := c.UpdatePrices(map[string]domain.MarketQuote{"m1": yesQuote("m1", 0.60, later)}, later)
	assert.True(t, delta.FullReload)
	assert.Len(t, delta.All, 2)
	assert.Empty(t, delta.Changed)
	assert.Equal(t, 2, c.Count())
}

func TestCacheReadFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "portfolios.json")
	good := baseRecord("good", "m1", "m2")
	weak := baseRecord("weak", "m3", "m4")
	weak.Coverage = 0.70
	weak.Tier = 4
	weak.TierLabel = "LOW_COVERAGE"
	weak.ExpectedProfit = -0.05
	writeSnapshot(t, path, []snapshot.PortfolioRecord{good, weak})

	c := NewPortfolioCache(cacheConfig(path), testLogger())
	require.NoError(t, c.Load())

	byTier := c.GetPortfolios(2, false, domain.ListOpts{})
	require.Len(t, byTier, 1)
	assert.Equal(t, "good", byTier[0].PairID)

	profitable := c.GetPortfolios(4, true, domain.ListOpts{})
	require.Len(t, profitable, 1)
	assert.Equal(t, "good", profitable[0].PairID)

	s := c.Summary()
	assert.Equal(t, 2, s.Total)
	assert.Equal(t, 1, s.Profitable)
	assert.Equal(t, 1, s.ByTier[1])
	assert.Equal(t, 1, s.ByTier[4])
	assert.InDelta(t, 0.97, s.BestCoverage, 1e-9)
}

package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/coverbot/internal/domain"
)

func TestBuildPortfolios(t *testing.T) {
	now := time.Now()
	markets := map[string]domain.Market{
		"m1": {ID: "m1", YesPrice: 0.40, NoPrice: 0.60},
		"m2": {ID: "m2", YesPrice: 0.90, NoPrice: 0.10},
		"m3": {ID: "m3", YesPrice: 0.20, NoPrice: 0.80},
	}
	pairs := []domain.ValidatedPair{
		{
			PairID: "best", TargetMarketID: "m1", TargetPosition: domain.PositionYes,
			CoverMarketID: "m2", CoverPosition: domain.PositionNo, CoverProbability: 0.95,
		},
		{
			PairID: "weaker", TargetMarketID: "m3", TargetPosition: domain.PositionYes,
			CoverMarketID: "m2", CoverPosition: domain.PositionNo, CoverProbability: 0.50,
		},
		{
			PairID: "unpriceable", TargetMarketID: "absent", TargetPosition: domain.PositionYes,
			CoverMarketID: "m2", CoverPosition: domain.PositionNo, CoverProbability: 0.95,
		},
	}

	portfolios := BuildPortfolios(pairs, MarketPrices(markets), 0.001, now)
	require.Len(t, portfolios, 2)

	best := portfolios[0]
	assert.Equal(t, "best", best.PairID, "sorted best coverage first")
	assert.InDelta(t, 0.50, best.TotalCost, 1e-9)
	assert.InDelta(t, 0.97, best.Coverage, 1e-9)
	assert.InDelta(t, 0.47, best.ExpectedProfit, 1e-9)
	assert.Equal(t, 1, best.Tier)
	assert.Equal(t, "HIGH_COVERAGE", best.TierLabel)

	assert.Equal(t, "weaker", portfolios[1].PairID)
	assert.Greater(t, best.Coverage, portfolios[1].Coverage)
}

func TestBuildPortfoliosSkipsFlooredPrices(t *testing.T) {
	markets := map[string]domain.Market{
		"m1": {ID: "m1", YesPrice: 0.0005, NoPrice: 0.9995},
		"m2": {ID: "m2", YesPrice: 0.90, NoPrice: 0.10},
	}
	pairs := []domain.ValidatedPair{{
		PairID: "p1", TargetMarketID: "m1", TargetPosition: domain.PositionYes,
		CoverMarketID: "m2", CoverPosition: domain.PositionNo, CoverProbability: 0.95,
	}}

	portfolios := BuildPortfolios(pairs, MarketPrices(markets), 0.001, time.Now())
	assert.Empty(t, portfolios)
}

func TestMarketPricesSides(t *testing.T) {
	lookup := MarketPrices(map[string]domain.Market{
		"m1": {ID: "m1", YesPrice: 0.3, NoPrice: 0.7},
	})

	yes, ok := lookup("m1", domain.PositionYes)
	require.True(t, ok)
	assert.InDelta(t, 0.3, yes, 1e-9)

	no, ok := lookup("m1", domain.PositionNo)
	require.True(t, ok)
	assert.InDelta(t, 0.7, no, 1e-9)

	_, ok = lookup("nope", domain.PositionYes)
	assert.False(t, ok)
}

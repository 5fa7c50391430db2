package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierFor(t *testing.T) {
	tests := []struct {
		coverage  float64
		wantTier  int
		wantLabel string
	}{
		{0.96, 1, "HIGH_COVERAGE"},
		{0.95, 1, "HIGH_COVERAGE"}, // boundary inclusive
		{0.9499, 2, "GOOD_COVERAGE"},
		{0.92, 2, "GOOD_COVERAGE"},
		{0.90, 2, "GOOD_COVERAGE"},
		{0.87, 3, "MODERATE_COVERAGE"},
		{0.85, 3, "MODERATE_COVERAGE"},
		{0.8499, 4, "LOW_COVERAGE"},
		{0.10, 4, "LOW_COVERAGE"},
		{0.0, 4, "LOW_COVERAGE"},
	}
	for _, tt := range tests {
		tier, label := TierFor(tt.coverage)
		assert.Equalf(t, tt.wantTier, tier, "coverage %v", tt.coverage)
		assert.Equalf(t, tt.wantLabel, label, "coverage %v", tt.coverage)
	}
}

func TestBuildPortfolioMetrics(t *testing.T) {
	pair := ValidatedPair{
		PairID:           "abc",
		TargetMarketID:   "m1",
		TargetPosition:   PositionYes,
		CoverMarketID:    "m2",
		CoverPosition:    PositionNo,
		CoverProbability: 0.95,
	}

	p := BuildPortfolio(pair, 0.40, 0.10, time.Now())

	assert.InDelta(t, 0.50, p.TotalCost, 1e-9)
	assert.InDelta(t, 0.50, p.Profit, 1e-9)
	assert.InDelta(t, 0.97, p.Coverage, 1e-9)
	assert.InDelta(t, 0.47, p.ExpectedProfit, 1e-9)
	assert.InDelta(t, 0.03, p.LossProbability, 1e-9)
	assert.Equal(t, 1, p.Tier)
	assert.Equal(t, "HIGH_COVERAGE", p.TierLabel)
}

func TestRepriceTierTransition(t *testing.T) {
	pair := ValidatedPair{PairID: "abc", CoverProbability: 0.95}
	p := BuildPortfolio(pair, 0.40, 0.10, time.Now())
	require.Equal(t, 1, p.Tier)

	// Target price collapse drags coverage below every upper threshold.
	changed := p.Reprice(0.05, 0.10, time.Now())
	assert.True(t, changed)
	assert.InDelta(t, 0.05+0.95*0.95, p.Coverage, 1e-9)
	assert.Equal(t, 2, p.Tier)

	changed = p.Reprice(0.05, 0.10, time.Now())
	assert.False(t, changed, "same prices should not move the tier")
}

func TestPortfolioDeltaEmpty(t *testing.T) {
	assert.True(t, PortfolioDelta{}.Empty())
	assert.False(t, PortfolioDelta{FullReload: true}.Empty())
	assert.False(t, PortfolioDelta{Changed: []Portfolio{{}}}.Empty())
}

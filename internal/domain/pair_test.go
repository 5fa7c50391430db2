package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPairIDDeterministic(t *testing.T) {
	a := PairID("m1", "m2", PositionYes)
	b := PairID("m1", "m2", PositionYes)
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)

	assert.NotEqual(t, a, PairID("m2", "m1", PositionYes))
	assert.NotEqual(t, a, PairID("m1", "m2", PositionNo))
	// Separator keeps ("ab","c") and ("a","bc") apart.
	assert.NotEqual(t, PairID("ab", "c", PositionYes), PairID("a", "bc", PositionYes))
}

func TestValidatedPairViable(t *testing.T) {
	valid, invalid := true, false
	tests := []struct {
		name string
		pair ValidatedPair
		want bool
	}{
		{"above threshold explicit valid", ValidatedPair{ViabilityScore: 0.95, IsValid: &valid}, true},
		{"above threshold nil valid treated as valid", ValidatedPair{ViabilityScore: 0.95}, true},
		{"above threshold explicit invalid", ValidatedPair{ViabilityScore: 0.95, IsValid: &invalid}, false},
		{"below threshold", ValidatedPair{ViabilityScore: 0.89, IsValid: &valid}, false},
		{"at threshold", ValidatedPair{ViabilityScore: 0.9, IsValid: &valid}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pair.Viable(0.9))
		})
	}
}

func TestPositionOpposite(t *testing.T) {
	assert.Equal(t, PositionNo, PositionYes.Opposite())
	assert.Equal(t, PositionYes, PositionNo.Opposite())
}

func TestMarketQuotePriceForPosition(t *testing.T) {
	q := MarketQuote{MarketID: "m1", YesPrice: 0.40, HasYes: true}

	yes, ok := q.PriceForPosition(PositionYes)
	assert.True(t, ok)
	assert.InDelta(t, 0.40, yes, 1e-9)

	// NO leg unobserved, complement of the YES quote.
	no, ok := q.PriceForPosition(PositionNo)
	assert.True(t, ok)
	assert.InDelta(t, 0.60, no, 1e-9)

	_, ok = MarketQuote{}.PriceForPosition(PositionYes)
	assert.False(t, ok)
}

package domain

import "time"

// Tier thresholds. The table is walked top to bottom and the first
// satisfied entry wins; boundaries are inclusive.
var tierTable = []struct {
	MinCoverage float64
	Tier        int
	Label       string
}{
	{0.95, 1, "HIGH_COVERAGE"},
	{0.90, 2, "GOOD_COVERAGE"},
	{0.85, 3, "MODERATE_COVERAGE"},
	{0.00, 4, "LOW_COVERAGE"},
}

// TierFor maps a coverage value to its quality tier (1 best, 4 worst).
func TierFor(coverage float64) (tier int, label string) {
	for _, t := range tierTable {
		if coverage >= t.MinCoverage {
			return t.Tier, t.Label
		}
	}
	last := tierTable[len(tierTable)-1]
	return last.Tier, last.Label
}

// Portfolio is a derived covering-portfolio record: a target position
// hedged by a cover position. Always reconstructible from a
// ValidatedPair plus current prices; metrics are recomputed, never
// hand-edited.
type Portfolio struct {
	PairID           string
	TargetMarketID   string
	TargetPosition   Position
	TargetPrice      float64
	CoverMarketID    string
	CoverPosition    Position
	CoverPrice       float64
	CoverProbability float64
	TotalCost        float64
	Profit           float64
	Coverage         float64
	ExpectedProfit   float64
	LossProbability  float64
	Tier             int
	TierLabel        string
	UpdatedAt        time.Time
}

// Reprice recomputes every derived metric from the current target and
// cover prices and reclassifies the tier. Returns true if the tier
// changed.
func (p *Portfolio) Reprice(targetPrice, coverPrice float64, now time.Time) (tierChanged bool) {
	p.TargetPrice = targetPrice
	p.CoverPrice = coverPrice
	p.TotalCost = targetPrice + coverPrice
	p.Profit = 1 - p.TotalCost
	p.Coverage = targetPrice + (1-targetPrice)*p.CoverProbability
	p.LossProbability = (1 - targetPrice) * (1 - p.CoverProbability)
	p.ExpectedProfit = p.Coverage - p.TotalCost
	oldTier := p.Tier
	p.Tier, p.TierLabel = TierFor(p.Coverage)
	p.UpdatedAt = now
	return oldTier != 0 && p.Tier != oldTier
}

// BuildPortfolio derives a fresh portfolio record from a validated pair
// and current leg prices.
func BuildPortfolio(pair ValidatedPair, targetPrice, coverPrice float64, now time.Time) Portfolio {
	p := Portfolio{
		PairID:           pair.PairID,
		TargetMarketID:   pair.TargetMarketID,
		TargetPosition:   pair.TargetPosition,
		CoverMarketID:    pair.CoverMarketID,
		CoverPosition:    pair.CoverPosition,
		CoverProbability: pair.CoverProbability,
	}
	p.Reprice(targetPrice, coverPrice, now)
	return p
}

// TierChange records a portfolio crossing a tier boundary after a
// price update.
type TierChange struct {
	PairID   string
	OldTier  int
	NewTier  int
	Coverage float64
}

// PortfolioDelta is the result of applying a batch of price updates to
// the portfolio cache. FullReload signals that the underlying snapshot
// was wholesale replaced and All carries the complete fresh list;
// consumers must discard partial state in that case.
type PortfolioDelta struct {
	Changed     []Portfolio
	TierChanges []TierChange
	FullReload  bool
	All         []Portfolio
}

// Empty reports whether the delta carries no changes.
func (d PortfolioDelta) Empty() bool {
	return !d.FullReload && len(d.Changed) == 0 && len(d.TierChanges) == 0
}

// PortfolioSummary aggregates cache-wide statistics for operator
// surfaces.
type PortfolioSummary struct {
	Total          int
	ByTier         map[int]int
	Profitable     int
	AvgCoverage    float64
	BestCoverage   float64
	LastLoadedAt   time.Time
	LastPriceTouch time.Time
}

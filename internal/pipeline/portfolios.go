package pipeline

import (
	"sort"
	"time"

	"github.com/alanyoungcy/coverbot/internal/domain"
)

// PriceLookup resolves the current price for one side of a market.
// ok is false when the market or side is unknown.
type PriceLookup func(marketID string, pos domain.Position) (price float64, ok bool)

// BuildPortfolios derives portfolio records from viable pairs and
// current prices, best coverage first. Pairs whose legs cannot be
// priced, or whose prices sit below the floor, are skipped.
func BuildPortfolios(pairs []domain.ValidatedPair, priceFor PriceLookup, priceFloor float64, now time.Time) []domain.Portfolio {
	portfolios := make([]domain.Portfolio, 0, len(pairs))
	for _, pair := range pairs {
		targetPrice, ok := priceFor(pair.TargetMarketID, pair.TargetPosition)
		if !ok || targetPrice < priceFloor {
			continue
		}
		coverPrice, ok := priceFor(pair.CoverMarketID, pair.CoverPosition)
		if !ok || coverPrice < priceFloor {
			continue
		}
		portfolios = append(portfolios, domain.BuildPortfolio(pair, targetPrice, coverPrice, now))
	}

	sort.SliceStable(portfolios, func(i, j int) bool {
		return portfolios[i].Coverage > portfolios[j].Coverage
	})
	return portfolios
}

// MarketPrices adapts a market lookup map into a PriceLookup.
func MarketPrices(markets map[string]domain.Market) PriceLookup {
	return func(marketID string, pos domain.Position) (float64, bool) {
		m, ok := markets[marketID]
		if !ok {
			return 0, false
		}
		if pos == domain.PositionYes {
			return m.YesPrice, true
		}
		return m.NoPrice, true
	}
}

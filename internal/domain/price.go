package domain

import "time"

// PriceEventKind discriminates normalized feed events.
type PriceEventKind string

const (
	PriceEventQuote PriceEventKind = "quote" // best bid/ask update
	PriceEventBook  PriceEventKind = "book"  // top-of-book snapshot
)

// PriceEvent is one normalized feed message for a single token. Bid
// and Ask are nil when the upstream payload omitted that side.
type PriceEvent struct {
	Kind       PriceEventKind
	TokenID    string
	Bid        *float64
	Ask        *float64
	ReceivedAt time.Time
}

// Mid returns the midpoint of the available sides, falling back to the
// single present side.
func (e PriceEvent) Mid() (float64, bool) {
	switch {
	case e.Bid != nil && e.Ask != nil:
		return (*e.Bid + *e.Ask) / 2, true
	case e.Bid != nil:
		return *e.Bid, true
	case e.Ask != nil:
		return *e.Ask, true
	}
	return 0, false
}

// MarketQuote is the latest YES-sided quote for one market, resolved
// from per-token events via the token mapping. HasYes/HasNo mark which
// legs have been observed since startup.
type MarketQuote struct {
	MarketID  string
	YesPrice  float64
	NoPrice   float64
	HasYes    bool
	HasNo     bool
	UpdatedAt time.Time
}

// PriceForPosition resolves the quote for one side of the market. The
// NO price is the complement of the YES quote when only the YES leg
// has been observed.
func (q MarketQuote) PriceForPosition(pos Position) (float64, bool) {
	switch pos {
	case PositionYes:
		if q.HasYes {
			return q.YesPrice, true
		}
		if q.HasNo {
			return 1 - q.NoPrice, true
		}
	case PositionNo:
		if q.HasNo {
			return q.NoPrice, true
		}
		if q.HasYes {
			return 1 - q.YesPrice, true
		}
	}
	return 0, false
}

package domain

import "context"

// MarketMetadataProvider resolves token ids and outcome labels for one
// market id.
type MarketMetadataProvider interface {
	GetMarket(ctx context.Context, marketID string) (MarketMetadata, error)
}

// EventFetcher retrieves raw market/event listings from the exchange.
type EventFetcher interface {
	FetchEvents(ctx context.Context, tags []string) ([]RawEvent, error)
}

// RawEvent is one upstream event listing with its embedded markets.
type RawEvent struct {
	ID      string
	Title   string
	Tags    []string
	Markets []RawMarket
}

// RawMarket is one upstream market listing before normalization.
type RawMarket struct {
	ID             string
	Question       string
	YesPrice       float64
	NoPrice        float64
	ResolutionDate string
}

// ReasoningExtractor asks the external reasoning service which groups
// cover which. Rate-limited and expensive; results are cached forever.
type ReasoningExtractor interface {
	ExtractImplications(ctx context.Context, group Group, candidates []Group) (Implication, error)
}

// ReasoningValidator asks the external reasoning service to judge
// candidate hedge pairs.
type ReasoningValidator interface {
	ValidatePairs(ctx context.Context, pairs []CandidatePair) ([]ValidatedPair, error)
}

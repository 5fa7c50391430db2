package domain

// TokenMeta describes one exchange token: which market and side it
// represents. Derived from external metadata, fully rebuildable, never
// persisted as ground truth.
type TokenMeta struct {
	TokenID  string
	MarketID string
	Question string
	Outcome  string // side label, e.g. "Yes" or "No"
}

// TokenMapping is an immutable snapshot of the market/token identity
// maps. Built off to the side and swapped in atomically; readers never
// observe a partially-built mapping.
type TokenMapping struct {
	ByToken  map[string]TokenMeta // tokenID -> metadata
	ByMarket map[string][2]string // marketID -> [yesToken, noToken]
	// Ordered holds every token id in priority order: markets as first
	// seen in the snapshot, yes token before no token. Connection
	// sharding truncates from the tail, so this order is load-bearing.
	Ordered []string
}

// TokenIDs returns every mapped token id in priority order.
func (m *TokenMapping) TokenIDs() []string {
	if m == nil {
		return nil
	}
	ids := make([]string, len(m.Ordered))
	copy(ids, m.Ordered)
	return ids
}

// TokensForMarket returns the [yes, no] token pair for a market id.
func (m *TokenMapping) TokensForMarket(marketID string) ([2]string, bool) {
	if m == nil {
		return [2]string{}, false
	}
	pair, ok := m.ByMarket[marketID]
	return pair, ok
}

// MarketMetadata is what the metadata collaborator returns for one
// market id.
type MarketMetadata struct {
	MarketID string
	TokenIDs []string
	Outcomes []string
	Question string
}

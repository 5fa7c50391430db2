package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/coverbot/internal/domain"
	"github.com/alanyoungcy/coverbot/internal/snapshot"
)

// TokenResolverConfig holds resolver parameters.
type TokenResolverConfig struct {
	// SnapshotPath is the portfolio snapshot the token universe is
	// derived from.
	SnapshotPath string
	// TopMarkets caps how many snapshot records contribute markets.
	TopMarkets int
}

// TokenResolver derives the tradeable token universe from the portfolio
// snapshot and external market metadata. The mapping is rebuilt off to
// the side and swapped in atomically, so readers on the hot path never
// block on a refresh.
type TokenResolver struct {
	cfg      TokenResolverConfig
	metadata domain.MarketMetadataProvider
	logger   *slog.Logger

	mapping atomic.Pointer[domain.TokenMapping]

	mu          sync.Mutex // serializes refreshes
	loadedMtime time.Time
}

// NewTokenResolver creates a resolver reading from the given snapshot.
func NewTokenResolver(cfg TokenResolverConfig, metadata domain.MarketMetadataProvider, logger *slog.Logger) *TokenResolver {
	return &TokenResolver{
		cfg:      cfg,
		metadata: metadata,
		logger:   logger.With(slog.String("component", "token_resolver")),
	}
}

// Mapping returns the current token mapping. May be nil before the
// first successful refresh.
func (r *TokenResolver) Mapping() *domain.TokenMapping {
	return r.mapping.Load()
}

// GetTokenIDs returns every token id in the current mapping.
func (r *TokenResolver) GetTokenIDs() []string {
	return r.mapping.Load().TokenIDs()
}

// TokenMeta looks up metadata for one token id.
func (r *TokenResolver) TokenMeta(tokenID string) (domain.TokenMeta, bool) {
	m := r.mapping.Load()
	if m == nil {
		return domain.TokenMeta{}, false
	}
	meta, ok := m.ByToken[tokenID]
	return meta, ok
}

// TokensForMarket returns the [yes, no] token pair for a market.
func (r *TokenResolver) TokensForMarket(marketID string) ([2]string, bool) {
	return r.mapping.Load().TokensForMarket(marketID)
}

// ShouldRefresh reports whether the mapping needs rebuilding: it has
// never been built, or the snapshot file has been rewritten since the
// last build. A missing snapshot does not invalidate an existing
// mapping.
func (r *TokenResolver) ShouldRefresh() bool {
	m := r.mapping.Load()
	if m == nil || len(m.ByToken) == 0 {
		return true
	}
	mtime, ok := snapshot.ModTime(r.cfg.SnapshotPath)
	if !ok {
		return false
	}
	return mtime.After(r.loadedMtime)
}

// MaybeRefresh refreshes the mapping when ShouldRefresh reports it is
// stale. Returns whether a refresh ran.
func (r *TokenResolver) MaybeRefresh(ctx context.Context) (bool, error) {
	if !r.ShouldRefresh() {
		return false, nil
	}
	if err := r.Refresh(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// Refresh rebuilds the token mapping from the snapshot's top markets.
// Markets whose metadata cannot be fetched, or that expose fewer than
// two tokens, are skipped rather than failing the rebuild.
func (r *TokenResolver) Refresh(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	mtime, _ := snapshot.ModTime(r.cfg.SnapshotPath)

	file, err := snapshot.LoadPortfolios(r.cfg.SnapshotPath)
	if err != nil {
		return fmt.Errorf("token_resolver: load snapshot: %w", err)
	}

	records := file.Portfolios
	if r.cfg.TopMarkets > 0 && len(records) > r.cfg.TopMarkets {
		records = records[:r.cfg.TopMarkets]
	}
	marketIDs := collectMarketIDs(records)

	next := &domain.TokenMapping{
		ByToken:  make(map[string]domain.TokenMeta, len(marketIDs)*2),
		ByMarket: make(map[string][2]string, len(marketIDs)),
	}

	var skipped int
	for _, id := range marketIDs {
		if ctx.Err() != nil {
			return fmt.Errorf("token_resolver: refresh: %w", ctx.Err())
		}
		meta, err := r.metadata.GetMarket(ctx, id)
		if err != nil {
			skipped++
			r.logger.Warn("market metadata fetch failed, skipping",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		if len(meta.TokenIDs) < 2 {
			skipped++
			r.logger.Warn("market has fewer than two tokens, skipping",
				slog.String("market_id", id),
				slog.Int("tokens", len(meta.TokenIDs)),
			)
			continue
		}

		outcomes := meta.Outcomes
		if len(outcomes) < 2 {
			outcomes = []string{"Yes", "No"}
		}
		yes, no := meta.TokenIDs[0], meta.TokenIDs[1]
		next.ByToken[yes] = domain.TokenMeta{TokenID: yes, MarketID: id, Question: meta.Question, Outcome: outcomes[0]}
		next.ByToken[no] = domain.TokenMeta{TokenID: no, MarketID: id, Question: meta.Question, Outcome: outcomes[1]}
		next.ByMarket[id] = [2]string{yes, no}
		next.Ordered = append(next.Ordered, yes, no)
	}

	r.mapping.Store(next)
	r.loadedMtime = mtime

	r.logger.Info("token mapping refreshed",
		slog.Int("markets", len(next.ByMarket)),
		slog.Int("tokens", len(next.ByToken)),
		slog.Int("skipped", skipped),
	)
	return nil
}

// collectMarketIDs gathers the target and cover market ids of the given
// records, deduplicated in first-seen order.
func collectMarketIDs(records []snapshot.PortfolioRecord) []string {
	seen := make(map[string]struct{}, len(records)*2)
	ids := make([]string, 0, len(records)*2)
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	for _, rec := range records {
		add(rec.TargetMarketID)
		add(rec.CoverMarketID)
	}
	return ids
}

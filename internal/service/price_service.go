package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/coverbot/internal/domain"
	"github.com/alanyoungcy/coverbot/internal/snapshot"
)

// DeltaChannel is the pub/sub channel and stream carrying portfolio
// change deltas.
const DeltaChannel = "portfolio_deltas"

// PriceService is the single consumer of the feed event queue. It
// resolves token events to market quotes, batches them, and flushes
// the batch into the portfolio cache on a fixed interval, publishing
// the resulting delta. Being the only goroutine that mutates quote
// state keeps the hot path lock-free.
type PriceService struct {
	queue    <-chan domain.PriceEvent
	resolver *TokenResolver
	cache    *PortfolioCache
	quotes   domain.QuoteCache
	bus      domain.SignalBus
	interval time.Duration
	logger   *slog.Logger

	latest  map[string]domain.MarketQuote // accumulated quote state per market
	pending map[string]struct{}           // markets touched since last flush
}

// NewPriceService wires the consumer. quotes and bus may be nil when
// no out-of-process mirror is configured.
func NewPriceService(
	queue <-chan domain.PriceEvent,
	resolver *TokenResolver,
	cache *PortfolioCache,
	quotes domain.QuoteCache,
	bus domain.SignalBus,
	flushInterval time.Duration,
	logger *slog.Logger,
) *PriceService {
	return &PriceService{
		queue:    queue,
		resolver: resolver,
		cache:    cache,
		quotes:   quotes,
		bus:      bus,
		interval: flushInterval,
		logger:   logger.With(slog.String("component", "price_service")),
		latest:   make(map[string]domain.MarketQuote),
		pending:  make(map[string]struct{}),
	}
}

// Run consumes the queue until ctx is cancelled, flushing accumulated
// quotes every flush interval.
func (s *PriceService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.flush(ctx, time.Now())
			return ctx.Err()
		case ev, ok := <-s.queue:
			if !ok {
				s.flush(ctx, time.Now())
				return nil
			}
			s.handleEvent(ev)
		case now := <-ticker.C:
			s.flush(ctx, now)
		}
	}
}

// handleEvent folds one token event into the per-market quote state.
// Events for tokens outside the current mapping are dropped.
func (s *PriceService) handleEvent(ev domain.PriceEvent) {
	meta, ok := s.resolver.TokenMeta(ev.TokenID)
	if !ok {
		return
	}
	price, ok := ev.Mid()
	if !ok {
		return
	}

	q := s.latest[meta.MarketID]
	q.MarketID = meta.MarketID
	if s.isYesToken(ev.TokenID, meta) {
		q.YesPrice = price
		q.HasYes = true
	} else {
		q.NoPrice = price
		q.HasNo = true
	}
	q.UpdatedAt = ev.ReceivedAt

	s.latest[meta.MarketID] = q
	s.pending[meta.MarketID] = struct{}{}
}

// isYesToken decides which side of the market a token quote belongs
// to, preferring the mapping's token order over the outcome label.
func (s *PriceService) isYesToken(tokenID string, meta domain.TokenMeta) bool {
	if pair, ok := s.resolver.TokensForMarket(meta.MarketID); ok {
		return pair[0] == tokenID
	}
	return strings.EqualFold(meta.Outcome, "yes")
}

// flush pushes the pending quote batch into the portfolio cache and
// publishes the resulting delta. It also gives the resolver a chance
// to pick up a rewritten snapshot.
func (s *PriceService) flush(ctx context.Context, now time.Time) {
	if refreshed, err := s.resolver.MaybeRefresh(ctx); err != nil {
		s.logger.Warn("token mapping refresh failed",
			slog.String("error", err.Error()))
	} else if refreshed {
		s.logger.Info("token mapping refreshed during flush")
	}

	if len(s.pending) == 0 {
		return
	}

	batch := make(map[string]domain.MarketQuote, len(s.pending))
	for marketID := range s.pending {
		batch[marketID] = s.latest[marketID]
	}
	clear(s.pending)

	delta := s.cache.UpdatePrices(batch, now)
	s.mirrorQuotes(ctx, batch)

	if delta.Empty() {
		return
	}
	s.publishDelta(ctx, delta, now)
}

// mirrorQuotes copies the flushed quotes to the out-of-process cache.
func (s *PriceService) mirrorQuotes(ctx context.Context, batch map[string]domain.MarketQuote) {
	if s.quotes == nil {
		return
	}
	for _, q := range batch {
		if err := s.quotes.SetQuote(ctx, q); err != nil {
			s.logger.Warn("quote mirror failed",
				slog.String("market_id", q.MarketID),
				slog.String("error", err.Error()))
			return
		}
	}
}

// deltaPayload is the published wire shape of a portfolio delta.
type deltaPayload struct {
	Event       string                     `json:"event"`
	FullReload  bool                       `json:"full_reload"`
	Changed     []snapshot.PortfolioRecord `json:"changed,omitempty"`
	All         []snapshot.PortfolioRecord `json:"all,omitempty"`
	TierChanges []tierChangePayload        `json:"tier_changes,omitempty"`
	Timestamp   string                     `json:"timestamp"`
}

type tierChangePayload struct {
	PairID   string  `json:"pair_id"`
	OldTier  int     `json:"old_tier"`
	NewTier  int     `json:"new_tier"`
	Coverage float64 `json:"coverage"`
}

func (s *PriceService) publishDelta(ctx context.Context, delta domain.PortfolioDelta, now time.Time) {
	if s.bus == nil {
		return
	}

	payload := deltaPayload{
		Event:      "portfolio_delta",
		FullReload: delta.FullReload,
		Timestamp:  now.UTC().Format(time.RFC3339Nano),
	}
	for _, p := range delta.Changed {
		payload.Changed = append(payload.Changed, snapshot.FromDomain(p))
	}
	for _, p := range delta.All {
		payload.All = append(payload.All, snapshot.FromDomain(p))
	}
	for _, tc := range delta.TierChanges {
		payload.TierChanges = append(payload.TierChanges, tierChangePayload{
			PairID:   tc.PairID,
			OldTier:  tc.OldTier,
			NewTier:  tc.NewTier,
			Coverage: tc.Coverage,
		})
	}

	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("delta marshal failed", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Publish(ctx, DeltaChannel, data); err != nil {
		s.logger.Warn("delta publish failed", slog.String("error", err.Error()))
	}
	if err := s.bus.StreamAppend(ctx, DeltaChannel, data); err != nil {
		s.logger.Warn("delta stream append failed", slog.String("error", err.Error()))
	}
}

package service

import (
	"errors"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/coverbot/internal/domain"
	"github.com/alanyoungcy/coverbot/internal/snapshot"
)

// PortfolioCacheConfig holds cache tuning parameters.
type PortfolioCacheConfig struct {
	SnapshotPath string
	// ReloadFallback forces a reload when this much time passed since
	// the last one, covering filesystems with coarse mtimes.
	ReloadFallback time.Duration
	// PriceFloor rejects incoming leg prices below this value.
	PriceFloor float64
	// PriceEpsilon suppresses repricing when neither leg moved by at
	// least this much.
	PriceEpsilon float64
	// ProfitEpsilon is the minimum expected profit for the
	// profitable-only read filter.
	ProfitEpsilon float64
}

// PortfolioCache holds the live in-memory portfolio list, repricing it
// from feed quotes and reloading it when the batch pipeline rewrites
// the snapshot. All mutation funnels through a single writer; reads
// take a shared lock.
type PortfolioCache struct {
	cfg    PortfolioCacheConfig
	logger *slog.Logger

	mu         sync.RWMutex
	portfolios []domain.Portfolio
	byMarket   map[string][]int // market id -> indices with that leg
	loaded     bool

	loadedMtime time.Time
	loadedAt    time.Time
	lastTouch   time.Time
}

// NewPortfolioCache creates an empty cache bound to the given snapshot.
func NewPortfolioCache(cfg PortfolioCacheConfig, logger *slog.Logger) *PortfolioCache {
	return &PortfolioCache{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "portfolio_cache")),
	}
}

// Load reads the snapshot into the cache. A missing snapshot clears
// the cache and still counts as loaded, so the read API serves an
// empty list rather than erroring until the pipeline produces one.
func (c *PortfolioCache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loadLocked(time.Now())
}

func (c *PortfolioCache) loadLocked(now time.Time) error {
	mtime, _ := snapshot.ModTime(c.cfg.SnapshotPath)

	file, err := snapshot.LoadPortfolios(c.cfg.SnapshotPath)
	if err != nil {
		if errors.Is(err, domain.ErrSnapshotMissing) {
			c.portfolios = nil
			c.byMarket = nil
			c.loaded = true
			c.loadedMtime = time.Time{}
			c.loadedAt = now
			c.logger.Warn("portfolio snapshot missing, serving empty set",
				slog.String("path", c.cfg.SnapshotPath))
			return nil
		}
		return err
	}

	portfolios := make([]domain.Portfolio, len(file.Portfolios))
	for i, rec := range file.Portfolios {
		portfolios[i] = rec.ToDomain()
	}

	c.portfolios = portfolios
	c.byMarket = indexByMarket(portfolios)
	c.loaded = true
	c.loadedMtime = mtime
	c.loadedAt = now

	c.logger.Info("portfolio snapshot loaded",
		slog.Int("portfolios", len(portfolios)),
		slog.String("run_id", file.Meta.RunID),
	)
	return nil
}

// ShouldReload reports whether the snapshot should be re-read.
func (c *PortfolioCache) ShouldReload(now time.Time) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.shouldReloadLocked(now)
}

func (c *PortfolioCache) shouldReloadLocked(now time.Time) bool {
	if !c.loaded {
		return true
	}
	mtime, ok := snapshot.ModTime(c.cfg.SnapshotPath)
	if !ok {
		// File vanished; reload (to empty) only if we still hold rows.
		return len(c.portfolios) > 0
	}
	if mtime.After(c.loadedMtime) {
		return true
	}
	return c.cfg.ReloadFallback > 0 && now.Sub(c.loadedAt) > c.cfg.ReloadFallback
}

// UpdatePrices applies a batch of market quotes to the cache and
// returns what changed. If a snapshot reload during the update changed
// the record count, the delta signals a full reload instead of
// per-record changes.
func (c *PortfolioCache) UpdatePrices(quotes map[string]domain.MarketQuote, now time.Time) domain.PortfolioDelta {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.shouldReloadLocked(now) {
		before := len(c.portfolios)
		if err := c.loadLocked(now); err != nil {
			c.logger.Error("snapshot reload failed, keeping current set",
				slog.String("error", err.Error()))
		} else if len(c.portfolios) != before {
			all := make([]domain.Portfolio, len(c.portfolios))
			copy(all, c.portfolios)
			return domain.PortfolioDelta{FullReload: true, All: all}
		}
	}

	var delta domain.PortfolioDelta
	touched := make(map[int]struct{})
	for marketID := range quotes {
		for _, idx := range c.byMarket[marketID] {
			touched[idx] = struct{}{}
		}
	}

	for idx := range touched {
		p := &c.portfolios[idx]

		targetPrice := legPrice(quotes, p.TargetMarketID, p.TargetPosition, p.TargetPrice)
		coverPrice := legPrice(quotes, p.CoverMarketID, p.CoverPosition, p.CoverPrice)

		// A degenerate resolved price on either leg invalidates the
		// whole record for this batch.
		if targetPrice <= c.cfg.PriceFloor || coverPrice <= c.cfg.PriceFloor {
			continue
		}

		if math.Abs(targetPrice-p.TargetPrice) <= c.cfg.PriceEpsilon &&
			math.Abs(coverPrice-p.CoverPrice) <= c.cfg.PriceEpsilon {
			continue
		}

		oldTier := p.Tier
		tierChanged := p.Reprice(targetPrice, coverPrice, now)
		delta.Changed = append(delta.Changed, *p)
		if tierChanged {
			delta.TierChanges = append(delta.TierChanges, domain.TierChange{
				PairID:   p.PairID,
				OldTier:  oldTier,
				NewTier:  p.Tier,
				Coverage: p.Coverage,
			})
		}
	}

	if len(delta.Changed) > 0 {
		c.lastTouch = now
	}
	if len(delta.TierChanges) > 0 {
		c.resortLocked()
	}
	return delta
}

// legPrice resolves the new price for one leg, keeping the current
// price when the quote is absent or unresolvable. Floor validation
// happens at the record level so one degenerate leg skips the record.
func legPrice(quotes map[string]domain.MarketQuote, marketID string, pos domain.Position, current float64) float64 {
	q, ok := quotes[marketID]
	if !ok {
		return current
	}
	price, ok := q.PriceForPosition(pos)
	if !ok {
		return current
	}
	return price
}

// resortLocked restores the serving order: best tier first, then
// highest coverage.
func (c *PortfolioCache) resortLocked() {
	sort.SliceStable(c.portfolios, func(i, j int) bool {
		a, b := c.portfolios[i], c.portfolios[j]
		if a.Tier != b.Tier {
			return a.Tier < b.Tier
		}
		return a.Coverage > b.Coverage
	})
	c.byMarket = indexByMarket(c.portfolios)
}

// GetPortfolios returns a filtered page of the current set. maxTier
// of 4 or more means no tier filtering.
func (c *PortfolioCache) GetPortfolios(maxTier int, profitableOnly bool, opts domain.ListOpts) []domain.Portfolio {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]domain.Portfolio, 0, len(c.portfolios))
	for _, p := range c.portfolios {
		if maxTier >= 1 && maxTier < 4 && p.Tier > maxTier {
			continue
		}
		if profitableOnly && p.ExpectedProfit <= c.cfg.ProfitEpsilon {
			continue
		}
		out = append(out, p)
	}

	if opts.Offset > 0 {
		if opts.Offset >= len(out) {
			return nil
		}
		out = out[opts.Offset:]
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

// Count returns the number of cached portfolios.
// MarketIDs returns the distinct market ids referenced by any loaded
// portfolio leg.
func (c *PortfolioCache) MarketIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := make([]string, 0, len(c.byMarket))
	for id := range c.byMarket {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (c *PortfolioCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.portfolios)
}

// Summary aggregates cache-wide statistics.
func (c *PortfolioCache) Summary() domain.PortfolioSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := domain.PortfolioSummary{
		Total:          len(c.portfolios),
		ByTier:         make(map[int]int),
		LastLoadedAt:   c.loadedAt,
		LastPriceTouch: c.lastTouch,
	}
	var coverageSum float64
	for _, p := range c.portfolios {
		s.ByTier[p.Tier]++
		if p.ExpectedProfit > c.cfg.ProfitEpsilon {
			s.Profitable++
		}
		coverageSum += p.Coverage
		if p.Coverage > s.BestCoverage {
			s.BestCoverage = p.Coverage
		}
	}
	if len(c.portfolios) > 0 {
		s.AvgCoverage = coverageSum / float64(len(c.portfolios))
	}
	return s
}

// indexByMarket maps every market id to the portfolio indices holding
// it on either leg.
func indexByMarket(portfolios []domain.Portfolio) map[string][]int {
	idx := make(map[string][]int, len(portfolios))
	for i, p := range portfolios {
		idx[p.TargetMarketID] = append(idx[p.TargetMarketID], i)
		if p.CoverMarketID != p.TargetMarketID {
			idx[p.CoverMarketID] = append(idx[p.CoverMarketID], i)
		}
	}
	return idx
}

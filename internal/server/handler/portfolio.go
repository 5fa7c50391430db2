package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/coverbot/internal/domain"
	"github.com/alanyoungcy/coverbot/internal/snapshot"
)

// PortfolioProvider is the read surface the portfolio endpoints need. The
// in-memory cache backing the live feed implements it.
type PortfolioProvider interface {
	GetPortfolios(maxTier int, profitableOnly bool, opts domain.ListOpts) []domain.Portfolio
	Summary() domain.PortfolioSummary
	Count() int
}

// PortfolioHandler serves read endpoints over the repriced portfolio cache.
type PortfolioHandler struct {
	provider PortfolioProvider
	logger   *slog.Logger
}

// NewPortfolioHandler creates a PortfolioHandler backed by the given provider.
func NewPortfolioHandler(provider PortfolioProvider, logger *slog.Logger) *PortfolioHandler {
	return &PortfolioHandler{
		provider: provider,
		logger:   logHandler(logger, "portfolio"),
	}
}

// ListPortfolios returns portfolios ordered by tier then coverage.
// Query params: max_tier (1-3 to filter, anything else returns all tiers),
// profitable (bool), limit, offset.
// GET /api/portfolios
func (h *PortfolioHandler) ListPortfolios(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	maxTier := 0
	if v := q.Get("max_tier"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "max_tier must be an integer")
			return
		}
		maxTier = n
	}

	profitable := false
	if v := q.Get("profitable"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "profitable must be a boolean")
			return
		}
		profitable = b
	}

	opts := parseListOpts(r)
	portfolios := h.provider.GetPortfolios(maxTier, profitable, opts)

	records := make([]snapshot.PortfolioRecord, 0, len(portfolios))
	for _, p := range portfolios {
		records = append(records, snapshot.FromDomain(p))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"portfolios": records,
		"count":      len(records),
		"total":      h.provider.Count(),
		"limit":      opts.Limit,
		"offset":     opts.Offset,
	})
}

// GetSummary returns aggregate statistics over the cached portfolios.
// GET /api/portfolios/summary
func (h *PortfolioHandler) GetSummary(w http.ResponseWriter, r *http.Request) {
	s := h.provider.Summary()

	byTier := make(map[string]int, len(s.ByTier))
	for tier, n := range s.ByTier {
		byTier[strconv.Itoa(tier)] = n
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"total":            s.Total,
		"by_tier":          byTier,
		"profitable":       s.Profitable,
		"avg_coverage":     s.AvgCoverage,
		"best_coverage":    s.BestCoverage,
		"last_loaded_at":   formatTime(s.LastLoadedAt),
		"last_price_touch": formatTime(s.LastPriceTouch),
	})
}

// formatTime renders a timestamp as RFC3339, or empty for the zero value.
func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

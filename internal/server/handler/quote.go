package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/coverbot/internal/domain"
)

// defaultDeltaCount bounds how many stream entries a replay returns when no
// explicit count is given.
const defaultDeltaCount = 100

// QuoteHandler serves the mirrored per-market quotes and the portfolio
// delta stream replay used by dashboards catching up after a reconnect.
type QuoteHandler struct {
	quotes      domain.QuoteCache
	bus         domain.SignalBus
	deltaStream string
	logger      *slog.Logger
}

// NewQuoteHandler creates a QuoteHandler reading from the given quote cache
// and replaying deltas from the named stream.
func NewQuoteHandler(quotes domain.QuoteCache, bus domain.SignalBus, deltaStream string, logger *slog.Logger) *QuoteHandler {
	return &QuoteHandler{
		quotes:      quotes,
		bus:         bus,
		deltaStream: deltaStream,
		logger:      logHandler(logger, "quote"),
	}
}

// GetQuote returns the latest mirrored quote for one market.
// GET /api/quotes/{market_id}
func (h *QuoteHandler) GetQuote(w http.ResponseWriter, r *http.Request) {
	marketID := pathParam(r, "market_id")
	if marketID == "" {
		writeError(w, http.StatusBadRequest, "market id is required")
		return
	}

	quote, err := h.quotes.GetQuote(r.Context(), marketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no quote for market")
			return
		}
		h.logger.ErrorContext(r.Context(), "get quote failed",
			slog.String("market_id", marketID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read quote")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"market_id": quote.MarketID,
		"yes_price": quote.YesPrice,
		"no_price":  quote.NoPrice,
		"has_yes":   quote.HasYes,
		"has_no":    quote.HasNo,
		"updated_at": func() string {
			if quote.UpdatedAt.IsZero() {
				return ""
			}
			return quote.UpdatedAt.UTC().Format(time.RFC3339Nano)
		}(),
	})
}

// ListDeltas replays portfolio delta payloads from the durable stream.
// Query params: after (stream id to resume from, default "0" for the oldest
// retained entry), count (default 100, max 1000).
// GET /api/deltas
func (h *QuoteHandler) ListDeltas(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	after := q.Get("after")
	if after == "" {
		after = "0"
	}

	count := defaultDeltaCount
	if v := q.Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "count must be a positive integer")
			return
		}
		count = min(n, 1000)
	}

	msgs, err := h.bus.StreamRead(r.Context(), h.deltaStream, after, count)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "delta replay failed",
			slog.String("after", after),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to read delta stream")
		return
	}

	type entry struct {
		ID      string          `json:"id"`
		Payload json.RawMessage `json:"payload"`
	}
	entries := make([]entry, 0, len(msgs))
	lastID := after
	for _, m := range msgs {
		entries = append(entries, entry{ID: m.ID, Payload: json.RawMessage(m.Payload)})
		lastID = m.ID
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"deltas":  entries,
		"count":   len(entries),
		"last_id": lastID,
	})
}

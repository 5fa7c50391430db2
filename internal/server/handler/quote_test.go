package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/coverbot/internal/domain"
)

type fakeQuoteCache struct {
	quotes map[string]domain.MarketQuote
}

func (f *fakeQuoteCache) SetQuote(_ context.Context, quote domain.MarketQuote) error {
	f.quotes[quote.MarketID] = quote
	return nil
}

func (f *fakeQuoteCache) GetQuote(_ context.Context, marketID string) (domain.MarketQuote, error) {
	q, ok := f.quotes[marketID]
	if !ok {
		return domain.MarketQuote{}, domain.ErrNotFound
	}
	return q, nil
}

func (f *fakeQuoteCache) GetQuotes(_ context.Context, marketIDs []string) (map[string]domain.MarketQuote, error) {
	out := make(map[string]domain.MarketQuote)
	for _, id := range marketIDs {
		if q, ok := f.quotes[id]; ok {
			out[id] = q
		}
	}
	return out, nil
}

type fakeBus struct {
	messages []domain.StreamMessage
	lastID   string
	count    int
}

func (f *fakeBus) Publish(context.Context, string, []byte) error { return nil }

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	ch := make(chan []byte)
	close(ch)
	return ch, nil
}

func (f *fakeBus) StreamAppend(context.Context, string, []byte) error { return nil }

func (f *fakeBus) StreamRead(_ context.Context, _ string, lastID string, count int) ([]domain.StreamMessage, error) {
	f.lastID = lastID
	f.count = count
	if count < len(f.messages) {
		return f.messages[:count], nil
	}
	return f.messages, nil
}

func quoteTestHandler(t *testing.T, bus *fakeBus) *QuoteHandler {
	t.Helper()
	cache := &fakeQuoteCache{quotes: map[string]domain.MarketQuote{
		"0xmkt1": {
			MarketID:  "0xmkt1",
			YesPrice:  0.42,
			NoPrice:   0.59,
			HasYes:    true,
			HasNo:     true,
			UpdatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		},
	}}
	logger := slog.New(slog.NewTextHandler(&nopWriter{}, nil))
	return NewQuoteHandler(cache, bus, "portfolio_deltas", logger)
}

func TestGetQuote(t *testing.T) {
	h := quoteTestHandler(t, &fakeBus{})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/quotes/{market_id}", h.GetQuote)

	req := httptest.NewRequest(http.MethodGet, "/api/quotes/0xmkt1", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "0xmkt1", body["market_id"])
	assert.InDelta(t, 0.42, body["yes_price"], 1e-9)
	assert.InDelta(t, 0.59, body["no_price"], 1e-9)
	assert.Equal(t, true, body["has_yes"])
	assert.Equal(t, "2026-03-01T12:00:00Z", body["updated_at"])
}

func TestGetQuoteNotFound(t *testing.T) {
	h := quoteTestHandler(t, &fakeBus{})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/quotes/{market_id}", h.GetQuote)

	req := httptest.NewRequest(http.MethodGet, "/api/quotes/0xmissing", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListDeltas(t *testing.T) {
	bus := &fakeBus{messages: []domain.StreamMessage{
		{ID: "100-0", Payload: []byte(`{"full_reload":false}`)},
		{ID: "101-0", Payload: []byte(`{"full_reload":true}`)},
	}}
	h := quoteTestHandler(t, bus)

	req := httptest.NewRequest(http.MethodGet, "/api/deltas?after=99-0&count=50", nil)
	rec := httptest.NewRecorder()
	h.ListDeltas(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "99-0", bus.lastID)
	assert.Equal(t, 50, bus.count)

	var body struct {
		Deltas []struct {
			ID      string          `json:"id"`
			Payload json.RawMessage `json:"payload"`
		} `json:"deltas"`
		Count  int    `json:"count"`
		LastID string `json:"last_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Deltas, 2)
	assert.Equal(t, "100-0", body.Deltas[0].ID)
	assert.JSONEq(t, `{"full_reload":true}`, string(body.Deltas[1].Payload))
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "101-0", body.LastID)
}

func TestListDeltasDefaults(t *testing.T) {
	bus := &fakeBus{}
	h := quoteTestHandler(t, bus)

	req := httptest.NewRequest(http.MethodGet, "/api/deltas", nil)
	rec := httptest.NewRecorder()
	h.ListDeltas(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", bus.lastID)
	assert.Equal(t, defaultDeltaCount, bus.count)
}

func TestListDeltasRejectsBadCount(t *testing.T) {
	h := quoteTestHandler(t, &fakeBus{})

	req := httptest.NewRequest(http.MethodGet, "/api/deltas?count=zero", nil)
	rec := httptest.NewRecorder()
	h.ListDeltas(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

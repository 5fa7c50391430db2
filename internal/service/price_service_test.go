package service

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/coverbot/internal/domain"
	"github.com/alanyoungcy/coverbot/internal/snapshot"
)

type recordingBus struct {
	published [][]byte
	appended  [][]byte
}

func (b *recordingBus) Publish(_ context.Context, _ string, payload []byte) error {
	b.published = append(b.published, payload)
	return nil
}

func (b *recordingBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, nil
}

func (b *recordingBus) StreamAppend(_ context.Context, _ string, payload []byte) error {
	b.appended = append(b.appended, payload)
	return nil
}

func (b *recordingBus) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func f64(v float64) *float64 { return &v }

func newPriceFixture(t *testing.T) (*PriceService, *recordingBus, *PortfolioCache) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "portfolios.json")
	writeSnapshot(t, path, []snapshot.PortfolioRecord{baseRecord("p1", "m1", "m2")})

	md := &fakeMetadata{markets: map[string]domain.MarketMetadata{
		"m1": metaFor("m1"), "m2": metaFor("m2"),
	}}
	resolver := NewTokenResolver(TokenResolverConfig{SnapshotPath: path, TopMarkets: 200}, md, testLogger())
	require.NoError(t, resolver.Refresh(context.Background()))

	cache := NewPortfolioCache(cacheConfig(path), testLogger())
	require.NoError(t, cache.Load())

	bus := &recordingBus{}
	svc := NewPriceService(nil, resolver, cache, nil, bus, 100*time.Millisecond, testLogger())
	return svc, bus, cache
}

func TestPriceServiceFlushPublishesDelta(t *testing.T) {
	svc, bus, cache := newPriceFixture(t)
	now := time.Now()

	svc.handleEvent(domain.PriceEvent{
		Kind: domain.PriceEventQuote, TokenID: "m1-yes",
		Bid: f64(0.54), Ask: f64(0.56), ReceivedAt: now,
	})
	svc.flush(context.Background(), now)

	require.Len(t, bus.published, 1)
	require.Len(t, bus.appended, 1)

	var payload deltaPayload
	require.NoError(t, json.Unmarshal(bus.published[0], &payload))
	assert.Equal(t, "portfolio_delta", payload.Event)
	assert.False(t, payload.FullReload)
	require.Len(t, payload.Changed, 1)
	assert.InDelta(t, 0.55, payload.Changed[0].TargetPrice, 1e-9)

	got := cache.GetPortfolios(4, false, domain.ListOpts{})
	require.Len(t, got, 1)
	assert.InDelta(t, 0.55, got[0].TargetPrice, 1e-9)
}

func TestPriceServiceDropsUnknownTokens(t *testing.T) {
	svc, bus, _ := newPriceFixture(t)
	now := time.Now()

	svc.handleEvent(domain.PriceEvent{
		Kind: domain.PriceEventQuote, TokenID: "not-mapped",
		Bid: f64(0.5), ReceivedAt: now,
	})
	svc.flush(context.Background(), now)

	assert.Empty(t, bus.published, "unmapped tokens never reach the cache")
}

func TestPriceServiceCoalescesPerMarket(t *testing.T) {
	svc, bus, cache := newPriceFixture(t)
	now := time.Now()

	// Two events for the same token before a flush: last one wins.
	svc.handleEvent(domain.PriceEvent{
		Kind: domain.PriceEventQuote, TokenID: "m1-yes",
		Bid: f64(0.20), Ask: f64(0.22), ReceivedAt: now,
	})
	svc.handleEvent(domain.PriceEvent{
		Kind: domain.PriceEventQuote, TokenID: "m1-yes",
		Bid: f64(0.59), Ask: f64(0.61), ReceivedAt: now,
	})
	svc.flush(context.Background(), now)

	require.Len(t, bus.published, 1)
	got := cache.GetPortfolios(4, false, domain.ListOpts{})
	require.Len(t, got, 1)
	assert.InDelta(t, 0.60, got[0].TargetPrice, 1e-9)

	// Nothing pending: flush is silent.
	svc.flush(context.Background(), now.Add(time.Second))
	assert.Len(t, bus.published, 1)
}

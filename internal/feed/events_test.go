package feed

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/coverbot/internal/domain"
)

func TestParsePriceChange(t *testing.T) {
	raw := `{
		"event_type": "price_change",
		"timestamp": 1234567890,
		"price_changes": [
			{"asset_id": "tok1", "best_bid": "0.52", "best_ask": "0.53"},
			{"asset_id": "tok2", "best_bid": "0.10"},
			{"asset_id": "tok3"},
			{"best_bid": "0.99", "best_ask": "1.0"}
		]
	}`
	now := time.Now().UTC()

	events, unknown, err := parseMessage([]byte(raw), now)
	require.NoError(t, err)
	assert.Empty(t, unknown)
	require.Len(t, events, 2, "entries with no quote or no asset id are skipped")

	ev := events[0]
	assert.Equal(t, domain.PriceEventQuote, ev.Kind)
	assert.Equal(t, "tok1", ev.TokenID)
	require.NotNil(t, ev.Bid)
	require.NotNil(t, ev.Ask)
	assert.InDelta(t, 0.52, *ev.Bid, 1e-9)
	assert.InDelta(t, 0.53, *ev.Ask, 1e-9)
	assert.Equal(t, now, ev.ReceivedAt)

	assert.Equal(t, "tok2", events[1].TokenID)
	assert.Nil(t, events[1].Ask, "missing ask stays nil")
}

func TestParsePriceChangeNumericFields(t *testing.T) {
	raw := `{
		"event_type": "price_change",
		"price_changes": [
			{"asset_id": "tok1", "best_bid": 0.52, "best_ask": 0.53},
			{"asset_id": "tok2", "best_bid": "0.10", "best_ask": 0.12},
			{"asset_id": "tok3", "best_bid": "", "best_ask": null}
		]
	}`

	events, unknown, err := parseMessage([]byte(raw), time.Now())
	require.NoError(t, err, "numeric quote fields must parse")
	assert.Empty(t, unknown)
	require.Len(t, events, 2, "empty and null quotes mean absent")

	require.NotNil(t, events[0].Bid)
	require.NotNil(t, events[0].Ask)
	assert.InDelta(t, 0.52, *events[0].Bid, 1e-9)
	assert.InDelta(t, 0.53, *events[0].Ask, 1e-9)

	require.NotNil(t, events[1].Bid)
	require.NotNil(t, events[1].Ask)
	assert.InDelta(t, 0.10, *events[1].Bid, 1e-9)
	assert.InDelta(t, 0.12, *events[1].Ask, 1e-9)
}

func TestParseBookArrayLevels(t *testing.T) {
	raw := `{
		"event_type": "book",
		"asset_id": "tok1",
		"bids": [["0.48", "100"], ["0.47", "50"]],
		"asks": [["0.51", "200"]]
	}`

	events, _, err := parseMessage([]byte(raw), time.Now())
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, domain.PriceEventBook, ev.Kind)
	require.NotNil(t, ev.Bid)
	require.NotNil(t, ev.Ask)
	assert.InDelta(t, 0.48, *ev.Bid, 1e-9, "first level is best")
	assert.InDelta(t, 0.51, *ev.Ask, 1e-9)
}

func TestParseBookObjectLevels(t *testing.T) {
	raw := `{
		"event_type": "book",
		"asset_id": "tok1",
		"bids": [{"price": 0.48, "size": 100}],
		"asks": [{"price": "0.51", "size": "200"}]
	}`

	events, _, err := parseMessage([]byte(raw), time.Now())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.InDelta(t, 0.48, *events[0].Bid, 1e-9)
	assert.InDelta(t, 0.51, *events[0].Ask, 1e-9)
}

func TestParseSnapshotBurst(t *testing.T) {
	raw := `[
		{"event_type": "book", "asset_id": "tok1", "bids": [["0.4","1"]], "asks": []},
		{"event_type": "book", "asset_id": "tok2", "bids": [], "asks": [["0.6","1"]]},
		{"event_type": "last_trade_price", "asset_id": "tok3"}
	]`

	events, unknown, err := parseMessage([]byte(raw), time.Now())
	require.NoError(t, err)
	assert.Empty(t, unknown)
	require.Len(t, events, 2, "recognized-but-ignored types yield nothing")
	assert.Equal(t, "tok1", events[0].TokenID)
	assert.Equal(t, "tok2", events[1].TokenID)
}

func TestParseIgnoredTypes(t *testing.T) {
	for _, raw := range []string{
		`{"event_type": "last_trade_price", "asset_id": "tok1", "price": "0.5"}`,
		`{"event_type": "tick_size_change", "asset_id": "tok1"}`,
	} {
		events, unknown, err := parseMessage([]byte(raw), time.Now())
		assert.NoError(t, err, raw)
		assert.Empty(t, events, raw)
		assert.Empty(t, unknown, "documented types are not reported as unknown")
	}
}

func TestParseUnknownTypesReported(t *testing.T) {
	events, unknown, err := parseMessage([]byte(`{"event_type": "mystery"}`), time.Now())
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, []string{"mystery"}, unknown)
}

func TestParseMalformedMessage(t *testing.T) {
	_, _, err := parseMessage([]byte(`not json`), time.Now())
	assert.Error(t, err)
}

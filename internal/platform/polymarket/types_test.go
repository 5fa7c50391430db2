package polymarket

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlexBool(t *testing.T) {
	tests := []struct {
		raw  string
		want bool
	}{
		{`true`, true},
		{`false`, false},
		{`"true"`, true},
		{`"True"`, true},
		{`"false"`, false},
		{`"1"`, true},
		{`""`, false},
	}
	for _, tt := range tests {
		var f flexBool
		require.NoError(t, json.Unmarshal([]byte(tt.raw), &f), tt.raw)
		assert.Equal(t, tt.want, bool(f), tt.raw)
	}
}

func TestAPIMarketToMarketMetadata(t *testing.T) {
	raw := `{
		"id": "514527",
		"question": "Will X happen?",
		"clobTokenIds": "[\"1234567890\",\"9876543210\"]",
		"outcomes": "[\"Yes\",\"No\"]",
		"outcomePrices": "[\"0.42\",\"0.58\"]",
		"active": "true"
	}`
	var m APIMarket
	require.NoError(t, json.Unmarshal([]byte(raw), &m))

	meta := m.ToMarketMetadata()
	assert.Equal(t, "514527", meta.MarketID)
	assert.Equal(t, []string{"1234567890", "9876543210"}, meta.TokenIDs)
	assert.Equal(t, []string{"Yes", "No"}, meta.Outcomes)
	assert.Equal(t, "Will X happen?", meta.Question)

	rm := m.ToRawMarket()
	assert.InDelta(t, 0.42, rm.YesPrice, 1e-9)
	assert.InDelta(t, 0.58, rm.NoPrice, 1e-9)
}

func TestAPIMarketMalformedListFields(t *testing.T) {
	var m APIMarket
	require.NoError(t, json.Unmarshal([]byte(`{"id":"1","clobTokenIds":"not json"}`), &m))

	meta := m.ToMarketMetadata()
	assert.Nil(t, meta.TokenIDs)

	rm := m.ToRawMarket()
	assert.InDelta(t, 0.5, rm.YesPrice, 1e-9, "missing prices fall back to even odds")
	assert.Equal(t, "Unknown", rm.Question)
}

func TestAPIEventToRawEvent(t *testing.T) {
	raw := `{
		"id": "ev1",
		"title": "Election",
		"tags": [{"slug":"politics"},{"label":"US"}],
		"markets": [{"id":"m1","question":"Q1"},{"id":"m2","question":"Q2"}]
	}`
	var e APIEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &e))

	ev := e.ToRawEvent()
	assert.Equal(t, "ev1", ev.ID)
	assert.Equal(t, []string{"politics", "us"}, ev.Tags)
	require.Len(t, ev.Markets, 2)
	assert.Equal(t, "m1", ev.Markets[0].ID)
}

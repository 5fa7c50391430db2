package reasoning

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/coverbot/internal/domain"
)

// chatServer returns an httptest server answering every chat completion
// with the given content string.
func chatServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestValidatePairsClampsScores(t *testing.T) {
	srv := chatServer(t, `{"judgments":[
		{"pair_id":"hot","viability_score":1.7,"is_valid":true,"reason":"over"},
		{"pair_id":"cold","viability_score":-0.2,"is_valid":false,"reason":"under"},
		{"pair_id":"fine","viability_score":0.93,"is_valid":true,"reason":"ok"}
	]}`)
	defer srv.Close()

	c := NewClient(srv.URL, "", "test-model", 0)
	pairs := []domain.CandidatePair{
		{PairID: "hot"}, {PairID: "cold"}, {PairID: "fine"},
	}

	out, err := c.ValidatePairs(context.Background(), pairs)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.InDelta(t, 1.0, out[0].ViabilityScore, 1e-9, "scores above 1 clamp down")
	assert.InDelta(t, 0.0, out[1].ViabilityScore, 1e-9, "scores below 0 clamp up")
	assert.InDelta(t, 0.93, out[2].ViabilityScore, 1e-9, "in-range scores pass through")
}

func TestValidatePairsFillsMissingJudgments(t *testing.T) {
	srv := chatServer(t, `{"judgments":[
		{"pair_id":"judged","viability_score":0.95,"is_valid":true,"reason":"ok"}
	]}`)
	defer srv.Close()

	c := NewClient(srv.URL, "", "test-model", 0)
	out, err := c.ValidatePairs(context.Background(), []domain.CandidatePair{
		{PairID: "judged"}, {PairID: "skipped"},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)

	require.NotNil(t, out[1].IsValid)
	assert.False(t, *out[1].IsValid, "unjudged pairs come back explicitly invalid")
	assert.Zero(t, out[1].ViabilityScore)
}

func TestExtractImplicationsClampsProbabilities(t *testing.T) {
	srv := chatServer(t, "```json\n"+`{"yes_covered_by":[
		{"group_id":"g2","probability":1.4,"kind":"negation"}
	],"no_covered_by":[
		{"group_id":"g3","probability":-0.5,"kind":"superset"},
		{"group_id":"","probability":0.8,"kind":"correlated"}
	]}`+"\n```")
	defer srv.Close()

	c := NewClient(srv.URL, "", "test-model", 0)
	imp, err := c.ExtractImplications(context.Background(),
		domain.Group{ID: "g1", Title: "Target"},
		[]domain.Group{{ID: "g2"}, {ID: "g3"}})
	require.NoError(t, err)

	require.Len(t, imp.YesCoveredBy, 1)
	assert.InDelta(t, 1.0, imp.YesCoveredBy[0].Probability, 1e-9)

	require.Len(t, imp.NoCoveredBy, 1, "entries without a group id are dropped")
	assert.Equal(t, "g3", imp.NoCoveredBy[0].GroupID)
	assert.InDelta(t, 0.0, imp.NoCoveredBy[0].Probability, 1e-9)
}

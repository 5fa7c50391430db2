// Package reasoning is the client for the external reasoning service that
// extracts group implications and judges candidate hedge pairs. Calls are
// expensive and rate-limited; callers cache every result permanently.
package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/coverbot/internal/domain"
)

// Client talks to an OpenAI-compatible chat-completions endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

var (
	_ domain.ReasoningExtractor = (*Client)(nil)
	_ domain.ReasoningValidator = (*Client)(nil)
)

// NewClient creates a new reasoning-service client.
//
// baseURL is the API root, e.g. "https://api.openai.com/v1".
func NewClient(baseURL, apiKey, model string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  strings.TrimSpace(apiKey),
		model:   model,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// chatRequest is the chat-completions request envelope.
type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

// chatResponse is the chat-completions response envelope.
type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

const extractSystemPrompt = `You analyze prediction-market groups for hedging relationships.
Given a target group and a list of candidate groups, identify which candidates cover the
target's YES outcome and which cover its NO outcome: a candidate covers a side when that
candidate resolving YES pays out in the scenarios where the target side loses.
Respond with JSON only:
{"yes_covered_by":[{"group_id":"...","probability":0.0,"kind":"..."}],
 "no_covered_by":[{"group_id":"...","probability":0.0,"kind":"..."}]}
probability is your estimate in [0,1] that the cover pays out when needed; kind is one of
"negation", "superset", "correlated".`

// ExtractImplications asks the service which candidate groups cover the
// target group's YES and NO sides.
func (c *Client) ExtractImplications(ctx context.Context, group domain.Group, candidates []domain.Group) (domain.Implication, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "TARGET GROUP %s: %s\nMarkets:\n", group.ID, group.Title)
	for _, m := range group.Markets {
		fmt.Fprintf(&sb, "  - %s: %s\n", m.ID, m.Question)
	}
	sb.WriteString("\nCANDIDATE GROUPS:\n")
	for _, g := range candidates {
		if g.ID == group.ID {
			continue
		}
		fmt.Fprintf(&sb, "  - %s: %s\n", g.ID, g.Title)
	}

	content, err := c.complete(ctx, extractSystemPrompt, sb.String())
	if err != nil {
		return domain.Implication{}, fmt.Errorf("reasoning: extract implications for group %s: %w", group.ID, err)
	}

	var parsed struct {
		YesCoveredBy []coveredByDTO `json:"yes_covered_by"`
		NoCoveredBy  []coveredByDTO `json:"no_covered_by"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return domain.Implication{}, fmt.Errorf("reasoning: decode implications: %w", err)
	}

	return domain.Implication{
		GroupID:      group.ID,
		YesCoveredBy: toCoveredBy(parsed.YesCoveredBy),
		NoCoveredBy:  toCoveredBy(parsed.NoCoveredBy),
		CreatedAt:    time.Now().UTC(),
	}, nil
}

type coveredByDTO struct {
	GroupID     string  `json:"group_id"`
	Probability float64 `json:"probability"`
	Kind        string  `json:"kind"`
}

func toCoveredBy(in []coveredByDTO) []domain.CoveredBy {
	out := make([]domain.CoveredBy, 0, len(in))
	for _, c := range in {
		if c.GroupID == "" {
			continue
		}
		out = append(out, domain.CoveredBy{
			GroupID:     c.GroupID,
			Probability: clamp01(c.Probability),
			Kind:        c.Kind,
		})
	}
	return out
}

// clamp01 bounds model-produced scores to [0,1]; the prompts ask for
// that range but the model is not trusted to honor it.
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

const validateSystemPrompt = `You judge candidate hedge pairs on prediction markets.
For each pair, decide whether holding the cover position genuinely pays out in the
scenarios where the target position loses. Respond with JSON only:
{"judgments":[{"pair_id":"...","viability_score":0.0,"is_valid":true,"reason":"..."}]}
viability_score is your confidence in [0,1] that the pair is a logically sound hedge.`

// ValidatePairs asks the service to judge a batch of candidate pairs.
// Pairs missing from the response are returned with a zero score and an
// explicit invalid flag so they are never silently treated as viable.
func (c *Client) ValidatePairs(ctx context.Context, pairs []domain.CandidatePair) ([]domain.ValidatedPair, error) {
	if len(pairs) == 0 {
		return nil, nil
	}

	var sb strings.Builder
	sb.WriteString("CANDIDATE PAIRS:\n")
	for _, p := range pairs {
		fmt.Fprintf(&sb, "  - pair_id=%s target=%s(%s) cover=%s(%s) cover_probability=%.3f\n",
			p.PairID, p.TargetMarketID, p.TargetPosition, p.CoverMarketID, p.CoverPosition, p.CoverProbability)
	}

	content, err := c.complete(ctx, validateSystemPrompt, sb.String())
	if err != nil {
		return nil, fmt.Errorf("reasoning: validate pairs: %w", err)
	}

	var parsed struct {
		Judgments []struct {
			PairID         string  `json:"pair_id"`
			ViabilityScore float64 `json:"viability_score"`
			IsValid        bool    `json:"is_valid"`
			Reason         string  `json:"reason"`
		} `json:"judgments"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("reasoning: decode judgments: %w", err)
	}

	byID := make(map[string]int, len(parsed.Judgments))
	for i, j := range parsed.Judgments {
		byID[j.PairID] = i
	}

	now := time.Now().UTC()
	out := make([]domain.ValidatedPair, 0, len(pairs))
	for _, p := range pairs {
		vp := domain.ValidatedPair{
			PairID:           p.PairID,
			TargetMarketID:   p.TargetMarketID,
			TargetPosition:   p.TargetPosition,
			CoverMarketID:    p.CoverMarketID,
			CoverPosition:    p.CoverPosition,
			CoverProbability: p.CoverProbability,
			CreatedAt:        now,
		}
		if i, ok := byID[p.PairID]; ok {
			j := parsed.Judgments[i]
			valid := j.IsValid
			vp.ViabilityScore = clamp01(j.ViabilityScore)
			vp.IsValid = &valid
			vp.Reason = j.Reason
		} else {
			invalid := false
			vp.IsValid = &invalid
			vp.Reason = "no judgment returned"
		}
		out = append(out, vp)
	}
	return out, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// complete sends one chat completion and returns the first choice's content
// with any markdown fencing stripped.
func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    0,
		ResponseFormat: &respFormat{Type: "json_object"},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("%w: %s", domain.ErrRateLimited, string(body))
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if chatResp.Error != nil {
		return "", fmt.Errorf("api error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("empty response")
	}

	return stripFences(chatResp.Choices[0].Message.Content), nil
}

// stripFences removes a ```json ... ``` wrapper some models add despite the
// JSON response format.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
		s = strings.TrimSpace(s)
	}
	return s
}

// Package polymarket provides REST clients for the Polymarket Gamma API,
// which serves market discovery and metadata.
package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/coverbot/internal/domain"
)

const (
	maxFetchRetries = 3
	retryBaseDelay  = 2 * time.Second
)

// GammaClient is the REST client for the Polymarket Gamma API. It implements
// both the metadata-provider and event-fetcher collaborator contracts.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

var (
	_ domain.MarketMetadataProvider = (*GammaClient)(nil)
	_ domain.EventFetcher           = (*GammaClient)(nil)
)

// NewGammaClient creates a new Gamma API client.
//
// baseURL is the Gamma API root, e.g. "https://gamma-api.polymarket.com".
func NewGammaClient(baseURL string, logger *slog.Logger) *GammaClient {
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With(slog.String("component", "gamma")),
	}
}

// GetMarket returns token ids, outcome labels, and the question for one
// market id.
func (g *GammaClient) GetMarket(ctx context.Context, marketID string) (domain.MarketMetadata, error) {
	path := fmt.Sprintf("/markets/%s", url.PathEscape(marketID))

	body, err := g.doGet(ctx, path)
	if err != nil {
		return domain.MarketMetadata{}, fmt.Errorf("polymarket/gamma: get market %s: %w", marketID, err)
	}

	var apiMarket APIMarket
	if err := json.Unmarshal(body, &apiMarket); err != nil {
		return domain.MarketMetadata{}, fmt.Errorf("polymarket/gamma: decode market: %w", err)
	}

	return apiMarket.ToMarketMetadata(), nil
}

// FetchEvents pages through /events for each tag until an empty page or the
// page budget is reached. Transient failures on a single page are retried
// with a short backoff; a page that keeps failing ends that tag's pagination
// rather than aborting the whole fetch.
func (g *GammaClient) FetchEvents(ctx context.Context, tags []string) ([]domain.RawEvent, error) {
	return g.FetchEventsPaged(ctx, tags, 100, 20)
}

// FetchEventsPaged is FetchEvents with explicit page size and page budget.
func (g *GammaClient) FetchEventsPaged(ctx context.Context, tags []string, pageSize, maxPages int) ([]domain.RawEvent, error) {
	var out []domain.RawEvent
	seen := make(map[string]struct{})

	for _, tag := range tags {
		for page := 0; page < maxPages; page++ {
			events, err := g.fetchEventPage(ctx, tag, pageSize, page*pageSize)
			if err != nil {
				if ctx.Err() != nil {
					return out, ctx.Err()
				}
				g.logger.Warn("event page fetch failed, ending tag pagination",
					slog.String("tag", tag),
					slog.Int("page", page),
					slog.String("error", err.Error()))
				break
			}
			if len(events) == 0 {
				break
			}
			for i := range events {
				ev := events[i].ToRawEvent()
				if _, dup := seen[ev.ID]; dup {
					continue
				}
				seen[ev.ID] = struct{}{}
				out = append(out, ev)
			}
			if len(events) < pageSize {
				break
			}
		}
	}

	g.logger.Info("fetched events", slog.Int("count", len(out)), slog.Int("tags", len(tags)))
	return out, nil
}

// fetchEventPage gets one page of events for a tag, retrying transient and
// rate-limited responses.
func (g *GammaClient) fetchEventPage(ctx context.Context, tag string, limit, offset int) ([]APIEvent, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))
	params.Set("active", "true")
	params.Set("closed", "false")
	if tag != "" {
		params.Set("tag_slug", tag)
	}
	path := "/events?" + params.Encode()

	var lastErr error
	for attempt := 0; attempt < maxFetchRetries; attempt++ {
		if attempt > 0 {
			delay := retryBaseDelay * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, err := g.doGet(ctx, path)
		if err != nil {
			lastErr = err
			continue
		}

		var events []APIEvent
		if err := json.Unmarshal(body, &events); err != nil {
			return nil, fmt.Errorf("polymarket/gamma: decode events: %w", err)
		}
		return events, nil
	}
	return nil, fmt.Errorf("polymarket/gamma: get events: %w", lastErr)
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doGet sends an unauthenticated GET request to the Gamma API.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return nil, err
	}

	return body, nil
}

// checkHTTPStatus maps non-2xx responses to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/coverbot/internal/domain"
	"github.com/redis/go-redis/v9"
)

// QuoteCache implements domain.QuoteCache using Redis hashes. Each
// market's latest quote lives at "quote:{marketID}" with fields for
// both sides plus markers for which sides have been observed.
type QuoteCache struct {
	rdb *redis.Client
}

// NewQuoteCache creates a QuoteCache backed by the given Client.
func NewQuoteCache(c *Client) *QuoteCache {
	return &QuoteCache{rdb: c.Underlying()}
}

func quoteKey(marketID string) string {
	return "quote:" + marketID
}

// SetQuote stores the latest quote for a market.
func (qc *QuoteCache) SetQuote(ctx context.Context, quote domain.MarketQuote) error {
	fields := map[string]interface{}{
		"yes":     strconv.FormatFloat(quote.YesPrice, 'f', -1, 64),
		"no":      strconv.FormatFloat(quote.NoPrice, 'f', -1, 64),
		"has_yes": strconv.FormatBool(quote.HasYes),
		"has_no":  strconv.FormatBool(quote.HasNo),
		"ts":      strconv.FormatInt(quote.UpdatedAt.UnixNano(), 10),
	}
	if err := qc.rdb.HSet(ctx, quoteKey(quote.MarketID), fields).Err(); err != nil {
		return fmt.Errorf("redis: set quote %s: %w", quote.MarketID, err)
	}
	return nil
}

// GetQuote retrieves the latest quote for a market. It returns
// domain.ErrNotFound when the key does not exist.
func (qc *QuoteCache) GetQuote(ctx context.Context, marketID string) (domain.MarketQuote, error) {
	vals, err := qc.rdb.HGetAll(ctx, quoteKey(marketID)).Result()
	if err != nil {
		return domain.MarketQuote{}, fmt.Errorf("redis: get quote %s: %w", marketID, err)
	}
	if len(vals) == 0 {
		return domain.MarketQuote{}, domain.ErrNotFound
	}
	q, err := decodeQuote(marketID, vals)
	if err != nil {
		return domain.MarketQuote{}, fmt.Errorf("redis: decode quote %s: %w", marketID, err)
	}
	return q, nil
}

// GetQuotes retrieves quotes for multiple markets using a pipeline.
// Markets without a stored quote are omitted from the result map.
func (qc *QuoteCache) GetQuotes(ctx context.Context, marketIDs []string) (map[string]domain.MarketQuote, error) {
	if len(marketIDs) == 0 {
		return map[string]domain.MarketQuote{}, nil
	}

	pipe := qc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(marketIDs))
	for _, id := range marketIDs {
		cmds[id] = pipe.HGetAll(ctx, quoteKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get quotes pipeline: %w", err)
	}

	result := make(map[string]domain.MarketQuote, len(marketIDs))
	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		q, err := decodeQuote(id, vals)
		if err != nil {
			continue
		}
		result[id] = q
	}
	return result, nil
}

func decodeQuote(marketID string, vals map[string]string) (domain.MarketQuote, error) {
	q := domain.MarketQuote{MarketID: marketID}

	var err error
	if q.YesPrice, err = strconv.ParseFloat(vals["yes"], 64); err != nil {
		return domain.MarketQuote{}, fmt.Errorf("parse yes: %w", err)
	}
	if q.NoPrice, err = strconv.ParseFloat(vals["no"], 64); err != nil {
		return domain.MarketQuote{}, fmt.Errorf("parse no: %w", err)
	}
	q.HasYes = vals["has_yes"] == "true"
	q.HasNo = vals["has_no"] == "true"

	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.MarketQuote{}, fmt.Errorf("parse ts: %w", err)
	}
	q.UpdatedAt = time.Unix(0, tsNano)
	return q, nil
}

// Compile-time interface check.
var _ domain.QuoteCache = (*QuoteCache)(nil)

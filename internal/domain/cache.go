package domain

import (
	"context"
	"time"
)

// QuoteCache mirrors the latest per-market quotes for out-of-process
// readers.
type QuoteCache interface {
	SetQuote(ctx context.Context, quote MarketQuote) error
	GetQuote(ctx context.Context, marketID string) (MarketQuote, error)
	GetQuotes(ctx context.Context, marketIDs []string) (map[string]MarketQuote, error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub fan-out and durable streams for
// portfolio-change deltas consumed by the presentation layer.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// LockManager provides distributed locking, used to keep two pipeline
// processes from running concurrently against the same store.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

package feed

import (
	"context"
	"log/slog"
	"time"
)

// TokenSource supplies the current token universe to subscribe to. The
// token resolver implements it.
type TokenSource interface {
	GetTokenIDs() []string
}

// ConnFactory creates one feed connection. Injected so tests can substitute
// fakes for real sockets.
type ConnFactory func() Conn

// AggregatorConfig holds the sharding tunables.
type AggregatorConfig struct {
	// TokensPerConnection is the per-shard subscription ceiling.
	TokensPerConnection int
	// MaxConnections caps the shard count; a universe needing more is
	// truncated from the tail.
	MaxConnections  int
	RefreshInterval time.Duration
}

// Aggregator keeps the full token universe covered by the minimum number of
// feed connections, each within the per-connection ceiling. When the shard
// count changes it tears everything down and rebuilds; when only membership
// changes it resubscribes each connection in place to avoid reconnect
// storms.
type Aggregator struct {
	cfg     AggregatorConfig
	source  TokenSource
	factory ConnFactory
	logger  *slog.Logger

	conns []Conn
}

// NewAggregator creates an aggregator over the given token source.
func NewAggregator(cfg AggregatorConfig, source TokenSource, factory ConnFactory, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		cfg:     cfg,
		source:  source,
		factory: factory,
		logger:  logger.With(slog.String("component", "feed_aggregator")),
	}
}

// Run refreshes the shard layout at the configured interval until ctx is
// cancelled, then stops every connection.
func (a *Aggregator) Run(ctx context.Context) error {
	a.logger.Info("feed aggregator started",
		slog.Int("tokens_per_connection", a.cfg.TokensPerConnection),
		slog.Int("max_connections", a.cfg.MaxConnections))

	a.Refresh()

	ticker := time.NewTicker(a.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.stopAll()
			a.logger.Info("feed aggregator stopped")
			return ctx.Err()
		case <-ticker.C:
			a.Refresh()
		}
	}
}

// Refresh re-derives the token universe and reshapes the connection set.
// Only the Run goroutine calls it once the loop is started.
func (a *Aggregator) Refresh() {
	tokens := a.source.GetTokenIDs()
	if len(tokens) == 0 {
		return
	}

	shards := shardTokens(tokens, a.cfg.TokensPerConnection, a.cfg.MaxConnections)
	if dropped := len(tokens) - countTokens(shards); dropped > 0 {
		a.logger.Warn("token universe exceeds connection capacity, truncating",
			slog.Int("tokens", len(tokens)),
			slog.Int("dropped", dropped),
			slog.Int("max_connections", a.cfg.MaxConnections))
	}

	if len(shards) != len(a.conns) {
		a.logger.Info("shard count changed, rebuilding connections",
			slog.Int("old", len(a.conns)),
			slog.Int("new", len(shards)))
		a.stopAll()
		for _, shard := range shards {
			conn := a.factory()
			conn.Start(shard)
			a.conns = append(a.conns, conn)
		}
		return
	}

	for i, conn := range a.conns {
		conn.Resubscribe(shards[i])
	}
}

// ConnectionCount reports the number of live shards.
func (a *Aggregator) ConnectionCount() int {
	return len(a.conns)
}

func (a *Aggregator) stopAll() {
	for _, conn := range a.conns {
		conn.Stop()
	}
	a.conns = nil
}

// shardTokens splits tokens into contiguous slices of at most perConn
// entries, capped at maxConns shards. Tokens beyond the capacity are
// dropped from the tail.
func shardTokens(tokens []string, perConn, maxConns int) [][]string {
	if len(tokens) == 0 || perConn < 1 {
		return nil
	}

	needed := (len(tokens) + perConn - 1) / perConn
	if maxConns > 0 && needed > maxConns {
		needed = maxConns
		tokens = tokens[:maxConns*perConn]
	}

	shards := make([][]string, 0, needed)
	for i := 0; i < needed; i++ {
		start := i * perConn
		end := start + perConn
		if end > len(tokens) {
			end = len(tokens)
		}
		shards = append(shards, tokens[start:end])
	}
	return shards
}

func countTokens(shards [][]string) int {
	n := 0
	for _, s := range shards {
		n += len(s)
	}
	return n
}

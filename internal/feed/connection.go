// Package feed streams real-time price events from the Polymarket CLOB
// websocket into a shared queue. A Connection owns one physical socket;
// the Aggregator shards the token universe across several of them.
package feed

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/coverbot/internal/domain"
)

const handshakeTimeout = 15 * time.Second

// ConnectionConfig holds the tunables for one feed connection.
type ConnectionConfig struct {
	WSURL string
	// TokenCeiling is the per-connection subscription limit imposed by the
	// exchange. Start and Resubscribe truncate to it.
	TokenCeiling int
	PingInterval time.Duration
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	// IdleWait bounds how long the connect loop sleeps when it has no tokens
	// assigned before checking again.
	IdleWait time.Duration
}

// Conn is the lifecycle contract a feed connection offers the aggregator.
type Conn interface {
	Start(tokenIDs []string)
	Resubscribe(tokenIDs []string)
	Stop()
}

// Connection maintains one websocket to the price feed: it subscribes to an
// assigned token set, keeps the socket alive with literal PING frames,
// reconnects with exponential backoff, and pushes normalized events into the
// shared queue without ever blocking on it.
type Connection struct {
	cfg    ConnectionConfig
	queue  chan<- domain.PriceEvent
	logger *slog.Logger

	mu     sync.Mutex
	tokens []string
	ws     *websocket.Conn

	running atomic.Bool
	resub   chan struct{}
	done    chan struct{}
	wg      sync.WaitGroup
}

var _ Conn = (*Connection)(nil)

// NewConnection creates a feed connection that pushes events into queue.
func NewConnection(cfg ConnectionConfig, queue chan<- domain.PriceEvent, logger *slog.Logger) *Connection {
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = 5 * time.Second
	}
	return &Connection{
		cfg:    cfg,
		queue:  queue,
		logger: logger.With(slog.String("component", "feed_connection")),
		resub:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Start assigns the token set, truncating to the subscription ceiling, and
// launches the connect loop. Calling Start on a running connection is a
// no-op.
func (c *Connection) Start(tokenIDs []string) {
	if !c.running.CompareAndSwap(false, true) {
		return
	}
	c.setTokens(tokenIDs)

	c.logger.Info("starting feed connection", slog.Int("tokens", len(c.snapshotTokens())))
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.connectLoop()
	}()
}

// Resubscribe replaces the assigned token set and forces the active socket
// closed so the connect loop reconnects immediately with the new set. It
// also wakes a loop that is idle waiting for tokens.
func (c *Connection) Resubscribe(tokenIDs []string) {
	c.setTokens(tokenIDs)
	c.logger.Info("resubscribing", slog.Int("tokens", len(c.snapshotTokens())))

	select {
	case c.resub <- struct{}{}:
	default:
	}

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws != nil {
		_ = ws.Close()
	}
}

// Stop shuts the connection down and waits for its loops to exit. Close
// errors on the socket are swallowed; the peer may already be gone.
func (c *Connection) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	close(c.done)

	c.mu.Lock()
	ws := c.ws
	c.mu.Unlock()
	if ws != nil {
		_ = ws.Close()
	}

	c.wg.Wait()
	c.logger.Info("feed connection stopped")
}

// setTokens stores a truncated copy of the assigned token set.
func (c *Connection) setTokens(tokenIDs []string) {
	if c.cfg.TokenCeiling > 0 && len(tokenIDs) > c.cfg.TokenCeiling {
		c.logger.Warn("token count exceeds per-connection ceiling, truncating",
			slog.Int("count", len(tokenIDs)),
			slog.Int("ceiling", c.cfg.TokenCeiling))
		tokenIDs = tokenIDs[:c.cfg.TokenCeiling]
	}
	cp := make([]string, len(tokenIDs))
	copy(cp, tokenIDs)

	c.mu.Lock()
	c.tokens = cp
	c.mu.Unlock()
}

func (c *Connection) snapshotTokens() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens
}

// connectLoop dials, subscribes, and pumps messages until Stop. Each failed
// or dropped connection is retried with exponential backoff; the attempt
// counter resets on every successful connect.
func (c *Connection) connectLoop() {
	attempts := 0

	for c.running.Load() {
		tokens := c.snapshotTokens()
		if len(tokens) == 0 {
			c.logger.Warn("no tokens assigned, waiting")
			select {
			case <-c.done:
				return
			case <-c.resub:
			case <-time.After(c.cfg.IdleWait):
			}
			continue
		}

		err := c.runOnce(tokens, &attempts)
		if !c.running.Load() {
			return
		}
		if err != nil {
			c.logger.Warn("feed connection dropped", slog.String("error", err.Error()))
		}

		delay := backoffDelay(c.cfg.BackoffBase, c.cfg.BackoffCap, attempts)
		attempts++
		c.logger.Info("reconnecting",
			slog.Duration("delay", delay),
			slog.Int("attempt", attempts))
		select {
		case <-c.done:
			return
		case <-c.resub:
		case <-time.After(delay):
		}
	}
}

// runOnce performs a single connect/subscribe/read cycle and returns when
// the socket dies.
func (c *Connection) runOnce(tokens []string, attempts *int) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, _, err := dialer.Dial(c.cfg.WSURL, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.ws = nil
		c.mu.Unlock()
		_ = ws.Close()
	}()

	*attempts = 0

	if err := ws.WriteJSON(subscribeCommand{AssetIDs: tokens, Type: "market"}); err != nil {
		return fmt.Errorf("feed: subscribe: %w", err)
	}
	c.logger.Info("connected and subscribed", slog.Int("tokens", len(tokens)))

	pingStop := make(chan struct{})
	var pingWG sync.WaitGroup
	pingWG.Add(1)
	go func() {
		defer pingWG.Done()
		c.pingLoop(ws, pingStop)
	}()
	defer func() {
		close(pingStop)
		pingWG.Wait()
	}()

	return c.messageLoop(ws)
}

// pingLoop sends the literal keepalive token the feed expects. The server's
// PONG reply comes back as a normal text frame and is discarded by the
// message loop.
func (c *Connection) pingLoop(ws *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-c.done:
			return
		case <-ticker.C:
			if err := ws.WriteMessage(websocket.TextMessage, []byte("PING")); err != nil {
				c.logger.Warn("ping failed", slog.String("error", err.Error()))
				return
			}
		}
	}
}

// messageLoop reads frames until the socket errors. Malformed frames are
// logged and dropped; the loop never blocks on a full queue.
func (c *Connection) messageLoop(ws *websocket.Conn) error {
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: %w: %v", domain.ErrWSDisconnect, err)
		}

		if string(raw) == "PONG" {
			continue
		}

		events, unknown, err := parseMessage(raw, time.Now().UTC())
		if err != nil {
			c.logger.Warn("invalid feed message", slog.String("error", err.Error()))
			continue
		}
		for _, typ := range unknown {
			c.logger.Debug("dropping unrecognized feed event",
				slog.String("event_type", typ))
		}

		for _, ev := range events {
			select {
			case c.queue <- ev:
			default:
				c.logger.Warn("price queue full, dropping event",
					slog.String("token_id", ev.TokenID),
					slog.String("kind", string(ev.Kind)))
			}
		}
	}
}

// backoffDelay computes min(base * 2^attempts, limit).
func backoffDelay(base, limit time.Duration, attempts int) time.Duration {
	if attempts > 30 {
		attempts = 30
	}
	d := base << uint(attempts)
	if d <= 0 || d > limit {
		return limit
	}
	return d
}

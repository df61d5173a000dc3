// Package feed ingests oracle price quotes over WebSocket and archives them
// into the price history store. The client owns its connection lifecycle:
// it reconnects with exponential backoff and resubscribes after every
// reconnect, so a flaky feed degrades into staleness rather than failure.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/Blockchain-Oracle/stellar-guard/internal/domain"
	"github.com/Blockchain-Oracle/stellar-guard/internal/observability"
	"github.com/Blockchain-Oracle/stellar-guard/internal/storage"
)

// Config configures WebSocket feed behavior.
type Config struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
}

// DefaultConfig returns default feed configuration.
func DefaultConfig() Config {
	return Config{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
	}
}

// Client is a reconnecting WebSocket quote feed for a fixed asset set.
type Client struct {
	endpoint string
	assets   []string
	history  storage.PriceHistoryStore
	config   Config
	metrics  *observability.Metrics
	logger   *log.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
}

// Options configures a Client. Assets is the list of asset keys to
// subscribe to, in domain.AssetRef.Key() form.
type Options struct {
	Endpoint string
	Assets   []string
	History  storage.PriceHistoryStore
	Config   *Config
	Metrics  *observability.Metrics
	Logger   *log.Logger
}

// NewClient creates a feed client. It does not connect; Run does.
func NewClient(opts Options) *Client {
	cfg := DefaultConfig()
	if opts.Config != nil {
		cfg = *opts.Config
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Client{
		endpoint: opts.Endpoint,
		assets:   opts.Assets,
		history:  opts.History,
		config:   cfg,
		metrics:  opts.Metrics,
		logger:   logger,
	}
}

// quoteMessage is the feed wire format. Price is a decimal string in the
// quote's 7-decimal fixed-point representation.
type quoteMessage struct {
	Asset     string `json:"asset"`
	Price     string `json:"price"`
	Timestamp int64  `json:"timestamp"`
}

type subscribeRequest struct {
	Op     string   `json:"op"`
	Assets []string `json:"assets"`
}

// Run connects, subscribes and ingests quotes until context is cancelled.
// Connection errors trigger reconnect with exponential backoff; Run only
// returns the context's error.
func (c *Client) Run(ctx context.Context) error {
	reconnectDelay := c.config.ReconnectDelay

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := c.connect(ctx); err != nil {
			c.logger.Printf("Feed connect failed: %v, retrying in %v", err, reconnectDelay)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(reconnectDelay):
			}
			reconnectDelay = reconnectDelay * 2
			if reconnectDelay > c.config.MaxReconnectDelay {
				reconnectDelay = c.config.MaxReconnectDelay
			}
			continue
		}

		// Connected and subscribed; reset backoff.
		reconnectDelay = c.config.ReconnectDelay
		c.logger.Printf("Feed connected to %s, %d assets", c.endpoint, len(c.assets))

		err := c.readLoop(ctx)
		c.closeConn()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.logger.Printf("Feed connection lost: %v, reconnecting", err)
	}
}

// connect dials the endpoint and sends the subscribe request.
func (c *Client) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := conn.WriteJSON(subscribeRequest{Op: "subscribe", Assets: c.assets}); err != nil {
		conn.Close()
		return fmt.Errorf("write subscribe: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	return nil
}

// readLoop reads quote messages until the connection breaks or the context
// is cancelled. A ping goroutine keeps the connection alive meanwhile.
func (c *Client) readLoop(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go c.pingLoop(done)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()
		if conn == nil {
			return fmt.Errorf("not connected")
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		c.handleMessage(ctx, message)
	}
}

// handleMessage parses and stores one quote. Malformed quotes are logged
// and skipped; the feed must survive bad ticks.
func (c *Client) handleMessage(ctx context.Context, message []byte) {
	var msg quoteMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.Printf("Feed: malformed message: %v", err)
		return
	}
	if msg.Asset == "" || msg.Timestamp <= 0 {
		return
	}
	if _, err := domain.ParseAssetKey(msg.Asset); err != nil {
		c.logger.Printf("Feed: unknown asset key %q", msg.Asset)
		return
	}
	price, err := decimal.NewFromString(msg.Price)
	if err != nil || price.Sign() <= 0 {
		c.logger.Printf("Feed: bad price %q for %s", msg.Price, msg.Asset)
		return
	}

	quote := domain.PriceQuote{Price: price, Timestamp: msg.Timestamp}
	if err := c.history.Append(ctx, msg.Asset, quote); err != nil {
		c.logger.Printf("Feed: storing quote for %s: %v", msg.Asset, err)
		return
	}
	if c.metrics != nil {
		c.metrics.QuotesStored.Inc()
	}
}

// pingLoop sends periodic ping frames until done closes.
func (c *Client) pingLoop(done <-chan struct{}) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, reader will handle reconnect
				}
			}
			c.connMu.Unlock()
		}
	}
}

func (c *Client) closeConn() {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()
}

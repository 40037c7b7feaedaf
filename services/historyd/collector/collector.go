package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"

	"lendcore/core"
	"lendcore/services/historyd/storage"
)

const (
	defaultDialTimeout = 10 * time.Second
	defaultMinBackoff  = time.Second
	defaultMaxBackoff  = 30 * time.Second
)

// Config wires a collector to a node stream and a history store.
type Config struct {
	Endpoint    string
	AuthToken   string
	Store       *storage.Store
	Log         *slog.Logger
	DialTimeout time.Duration
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

// Collector follows the node's websocket event stream and persists every
// envelope. It resumes from the store's highest sequence, so restarts and
// reconnects never lose or duplicate events.
type Collector struct {
	cfg       Config
	streamURL string
	log       *slog.Logger
	now       func() time.Time

	connected atomic.Bool
	ingested  atomic.Uint64
}

// New validates the configuration and prepares a collector.
func New(cfg Config) (*Collector, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("collector requires a store")
	}
	endpoint, err := streamURL(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = defaultMinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Collector{cfg: cfg, streamURL: endpoint, log: log, now: time.Now}, nil
}

// streamURL converts the node's HTTP endpoint into the websocket stream URL.
func streamURL(endpoint string) (string, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return "", fmt.Errorf("collector requires a node endpoint")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("parse node endpoint: %w", err)
	}
	switch parsed.Scheme {
	case "http", "ws":
		parsed.Scheme = "ws"
	case "https", "wss":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("node endpoint scheme %q not supported", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("node endpoint must include a host")
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/ws/events"
	parsed.RawQuery = ""
	return parsed.String(), nil
}

// Run follows the stream until the context is cancelled, reconnecting with
// exponential backoff after any failure.
func (c *Collector) Run(ctx context.Context) error {
	backoff := c.cfg.MinBackoff
	for {
		processed, err := c.followStream(ctx)
		c.connected.Store(false)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			c.log.Warn("event stream disconnected", "error", err, "retry_in", backoff.String())
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		if processed > 0 {
			backoff = c.cfg.MinBackoff
		} else {
			backoff *= 2
			if backoff > c.cfg.MaxBackoff {
				backoff = c.cfg.MaxBackoff
			}
		}
	}
}

// followStream dials the node, replays from the stored cursor, and persists
// envelopes until the connection drops. It reports how many events landed.
func (c *Collector) followStream(ctx context.Context) (int, error) {
	cursor, err := c.cfg.Store.LatestSequence()
	if err != nil {
		return 0, err
	}
	target := c.streamURL
	if cursor > 0 {
		target += "?cursor=" + strconv.FormatUint(cursor, 10)
	}

	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	opts := &websocket.DialOptions{}
	if token := strings.TrimSpace(c.cfg.AuthToken); token != "" {
		opts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + token}}
	}
	conn, _, err := websocket.Dial(dialCtx, target, opts)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "collector detached")

	c.connected.Store(true)
	c.log.Info("event stream connected", "url", c.streamURL, "cursor", cursor)

	processed := 0
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return processed, nil
			}
			return processed, fmt.Errorf("read stream: %w", err)
		}
		var evt core.StreamEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			c.log.Warn("skipping malformed stream frame", "error", err)
			continue
		}
		inserted, err := c.cfg.Store.Insert(storage.FromStream(evt, c.now()))
		if err != nil {
			return processed, fmt.Errorf("persist event %d: %w", evt.Sequence, err)
		}
		if inserted > 0 {
			processed++
			c.ingested.Add(uint64(inserted))
		}
	}
}

// Connected reports whether the collector currently holds a live stream.
func (c *Collector) Connected() bool {
	return c.connected.Load()
}

// Ingested returns how many events this process has persisted so far.
func (c *Collector) Ingested() uint64 {
	return c.ingested.Load()
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"lendcore/core/events"
	"lendcore/sdk/lending"

	"nhooyr.io/websocket"
)

const (
	defaultDuration = 2 * time.Minute
	defaultRate     = 600 // deposits per minute
)

type streamPayload struct {
	Sequence  uint64 `json:"sequence"`
	Cursor    string `json:"cursor"`
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Event     *struct {
		Type       string            `json:"type"`
		Attributes map[string]string `json:"attributes"`
	} `json:"event"`
}

type latencyTracker struct {
	mu        sync.Mutex
	pending   map[string]time.Time
	latencies []time.Duration
}

func newLatencyTracker() *latencyTracker {
	return &latencyTracker{pending: make(map[string]time.Time)}
}

func (lt *latencyTracker) track(key string, at time.Time) {
	lt.mu.Lock()
	lt.pending[key] = at
	lt.mu.Unlock()
}

func (lt *latencyTracker) finalize(key string, at time.Time) {
	lt.mu.Lock()
	start, ok := lt.pending[key]
	if ok {
		lt.latencies = append(lt.latencies, at.Sub(start))
		delete(lt.pending, key)
	}
	lt.mu.Unlock()
}

func (lt *latencyTracker) snapshot() (latencies []time.Duration, pending int) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	latencies = append([]time.Duration(nil), lt.latencies...)
	pending = len(lt.pending)
	return latencies, pending
}

func (lt *latencyTracker) waitForEmpty(ctx context.Context) bool {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		lt.mu.Lock()
		remaining := len(lt.pending)
		lt.mu.Unlock()
		if remaining == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

func main() {
	var (
		rpcURL       string
		account      string
		asset        string
		depositRate  int
		durationFlag time.Duration
	)
	flag.StringVar(&rpcURL, "rpc", "http://127.0.0.1:8545", "RPC endpoint for submitting deposits")
	flag.StringVar(&account, "account", "", "bech32 address of a funded account (overrides LENDLOADER_ACCOUNT)")
	flag.StringVar(&asset, "asset", "WETX", "reserve asset symbol to deposit into")
	flag.IntVar(&depositRate, "rate", defaultRate, "target rate of deposits per minute")
	flag.DurationVar(&durationFlag, "duration", defaultDuration, "load duration")
	flag.Parse()

	if account == "" {
		account = os.Getenv("LENDLOADER_ACCOUNT")
	}
	account = strings.TrimSpace(account)
	if account == "" {
		log.Fatal("missing account: provide --account or LENDLOADER_ACCOUNT")
	}

	token := strings.TrimSpace(os.Getenv("LEND_RPC_TOKEN"))
	if token == "" {
		log.Fatal("missing LEND_RPC_TOKEN for RPC authentication")
	}
	parsed, err := url.Parse(rpcURL)
	if err != nil {
		log.Fatalf("parse rpc url: %v", err)
	}
	if parsed.Scheme == "" {
		parsed.Scheme = "http"
	}

	if depositRate <= 0 {
		log.Fatalf("rate must be positive, got %d", depositRate)
	}
	if durationFlag <= 0 {
		durationFlag = defaultDuration
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	httpClient := &http.Client{Timeout: 10 * time.Second}
	tracker := newLatencyTracker()

	client, err := lending.New(parsed.String(), lending.WithAuthToken(token), lending.WithHTTPClient(httpClient))
	if err != nil {
		log.Fatalf("create lending client: %v", err)
	}

	wsURL := *parsed
	switch strings.ToLower(parsed.Scheme) {
	case "https":
		wsURL.Scheme = "wss"
	default:
		wsURL.Scheme = "ws"
	}
	wsURL.Path = "/ws/events"
	wsURL.RawQuery = ""

	wsCtx, wsCancel := context.WithTimeout(ctx, 5*time.Second)
	conn, _, err := websocket.Dial(wsCtx, wsURL.String(), nil)
	wsCancel()
	if err != nil {
		log.Fatalf("connect event stream: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "load complete")

	streamCtx, streamCancel := context.WithCancel(ctx)
	defer streamCancel()
	go consumeDeposits(streamCtx, conn, tracker, account, asset)

	interval := time.Minute / time.Duration(depositRate)
	if interval <= 0 {
		interval = time.Millisecond
	}
	// Each deposit carries a run-unique amount so replayed backlog entries
	// from earlier runs never match a pending key.
	runBase := uint64(time.Now().Unix()) * 1_000_000
	deadline := time.Now().Add(durationFlag)
	var seq uint64
	var submitted int
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			log.Printf("context cancelled: %v", ctx.Err())
			return
		default:
		}
		amount := strconv.FormatUint(runBase+seq, 10)
		if _, err := client.Deposit(ctx, account, asset, amount); err != nil {
			log.Printf("submit deposit %d failed: %v", seq, err)
		} else {
			tracker.track(amount, time.Now())
			submitted++
		}
		seq++
		time.Sleep(interval)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer waitCancel()
	if !tracker.waitForEmpty(waitCtx) {
		log.Printf("pending stream confirmations for %d deposits", trackerPending(tracker))
	}

	streamCancel()

	latencies, pending := tracker.snapshot()
	reportLoadSummary(latencies, pending, submitted)
}

func consumeDeposits(ctx context.Context, conn *websocket.Conn, tracker *latencyTracker, account, asset string) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var payload streamPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			log.Printf("decode stream payload: %v", err)
			continue
		}
		if payload.Event == nil || payload.Event.Type != events.TypeDeposited {
			continue
		}
		attrs := payload.Event.Attributes
		if !strings.EqualFold(attrs["user"], account) || !strings.EqualFold(attrs["asset"], asset) {
			continue
		}
		tracker.finalize(attrs["amount"], time.Now())
	}
}

func trackerPending(t *latencyTracker) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}

func reportLoadSummary(latencies []time.Duration, pending int, submitted int) {
	var max time.Duration
	var total time.Duration
	for _, latency := range latencies {
		if latency > max {
			max = latency
		}
		total += latency
	}
	avg := time.Duration(0)
	if len(latencies) > 0 {
		avg = time.Duration(int64(total) / int64(len(latencies)))
	}
	log.Printf("Lend loader submitted %d deposits", submitted)
	log.Printf("Confirmed %d deposits on the stream (pending: %d)", len(latencies), pending)
	log.Printf("Latency avg=%s max=%s", avg, max)
}

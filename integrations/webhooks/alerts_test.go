package webhooks

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"lendcore/core"
	"lendcore/core/events"
	"lendcore/core/types"
)

func TestDispatcherSignsPayload(t *testing.T) {
	var receivedSignature string
	var receivedEvent string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		if string(body) == "" {
			t.Fatalf("expected body")
		}
		receivedSignature = r.Header.Get("X-Lend-Signature")
		receivedEvent = r.Header.Get("X-Lend-Event")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	alert := LiquidationAlert{Borrower: "lend1borrower", Liquidator: "lend1keeper", DebtAsset: "USDX", CollateralAsset: "WETX"}
	if err := dispatcher.EnqueueLiquidation(alert); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(func() bool { return receivedSignature != "" }, time.Second)
	if receivedSignature == "" {
		t.Fatalf("expected signature header")
	}
	if receivedSignature[:7] != "sha256=" {
		t.Fatalf("unexpected signature prefix %s", receivedSignature)
	}
	if receivedEvent != string(EventLiquidation) {
		t.Fatalf("unexpected event header %s", receivedEvent)
	}
}

func TestDispatcherRetries(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"), WithRetryPolicy(5, time.Millisecond*10, time.Millisecond*20))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()
	if err := dispatcher.EnqueueReserveListed(ReserveListedAlert{Asset: "WETX", ReceiptToken: "AWETX"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitFor(func() bool { return atomic.LoadInt32(&attempts) >= 3 }, time.Second)
	if atomic.LoadInt32(&attempts) < 3 {
		t.Fatalf("expected retries, got %d", attempts)
	}
}

func TestForwardMapsStreamEvents(t *testing.T) {
	var mu sync.Mutex
	var bodies [][]byte
	var topics []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		mu.Lock()
		bodies = append(bodies, body)
		topics = append(topics, r.Header.Get("X-Lend-Event"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	dispatcher, err := NewDispatcher(server.URL, []byte("secret"))
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	defer dispatcher.Close()

	stream := make(chan core.StreamEvent, 3)
	stream <- core.StreamEvent{
		Sequence:  1,
		ID:        "evt-1",
		Timestamp: 1_700_000_000,
		Event: &types.Event{Type: events.TypeDeposited, Attributes: map[string]string{
			"asset": "WETX",
		}},
	}
	stream <- core.StreamEvent{
		Sequence:  2,
		ID:        "evt-2",
		Timestamp: 1_700_000_000,
		Event: &types.Event{Type: events.TypeLiquidated, Attributes: map[string]string{
			"liquidator":      "lend1keeper",
			"borrower":        "lend1borrower",
			"debtAsset":       "USDX",
			"collateralAsset": "WETX",
			"repaid":          "60000000000000000000000",
			"seized":          "63000000000000000000",
		}},
	}
	stream <- core.StreamEvent{
		Sequence:  3,
		ID:        "evt-3",
		Timestamp: 1_700_000_060,
		Event: &types.Event{Type: events.TypeReserveInitialized, Attributes: map[string]string{
			"asset":                "USDX",
			"receiptToken":         "AUSDX",
			"ltv":                  "800000000000000000",
			"liquidationThreshold": "850000000000000000",
		}},
	}
	close(stream)
	dispatcher.Forward(stream)

	waitFor(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(bodies) == 2
	}, time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(bodies))
	}
	if topics[0] != string(EventLiquidation) {
		t.Fatalf("unexpected first topic %s", topics[0])
	}
	if topics[1] != string(EventReserveListed) {
		t.Fatalf("unexpected second topic %s", topics[1])
	}

	var liquidation LiquidationAlert
	if err := json.Unmarshal(bodies[0], &liquidation); err != nil {
		t.Fatalf("decode liquidation alert: %v", err)
	}
	if liquidation.Type != EventLiquidation {
		t.Fatalf("unexpected alert type %s", liquidation.Type)
	}
	if liquidation.Borrower != "lend1borrower" || liquidation.Liquidator != "lend1keeper" {
		t.Fatalf("unexpected parties %s/%s", liquidation.Borrower, liquidation.Liquidator)
	}
	if liquidation.Repaid != "60000000000000000000000" || liquidation.Seized != "63000000000000000000" {
		t.Fatalf("unexpected amounts %s/%s", liquidation.Repaid, liquidation.Seized)
	}
	if liquidation.DeliveryID != "evt-2" {
		t.Fatalf("unexpected delivery id %s", liquidation.DeliveryID)
	}
	if liquidation.OccurredAt.Unix() != 1_700_000_000 {
		t.Fatalf("unexpected timestamp %v", liquidation.OccurredAt)
	}

	var listed ReserveListedAlert
	if err := json.Unmarshal(bodies[1], &listed); err != nil {
		t.Fatalf("decode reserve alert: %v", err)
	}
	if listed.Asset != "USDX" || listed.ReceiptToken != "AUSDX" {
		t.Fatalf("unexpected reserve symbols %s/%s", listed.Asset, listed.ReceiptToken)
	}
	if listed.LTV != "800000000000000000" {
		t.Fatalf("unexpected ltv %s", listed.LTV)
	}
}

func waitFor(cond func() bool, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond * 10)
	}
}

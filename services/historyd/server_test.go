package historyd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"lendcore/core/events"
	"lendcore/services/historyd/collector"
	"lendcore/services/historyd/config"
	"lendcore/services/historyd/storage"
)

func newHandlerFixture(t *testing.T) (http.Handler, *storage.Store) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	store, err := storage.Open(config.DatabaseConfig{Driver: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	coll, err := collector.New(collector.Config{Endpoint: "http://127.0.0.1:8545", Store: store})
	if err != nil {
		t.Fatalf("new collector: %v", err)
	}
	return NewHandler(store, coll, nil), store
}

func TestHandlerReportsStatus(t *testing.T) {
	handler, store := newHandlerFixture(t)
	if _, err := store.Insert(
		storage.EventRecord{Sequence: 1, EventID: "evt-1", Type: events.TypeDeposited, ObservedAt: time.Now()},
		storage.EventRecord{Sequence: 2, EventID: "evt-2", Type: events.TypeBorrowed, ObservedAt: time.Now()},
	); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status endpoint = %d", rec.Code)
	}
	var status Status
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.LatestSequence != 2 {
		t.Fatalf("expected latest sequence 2, got %d", status.LatestSequence)
	}
	if status.Connected {
		t.Fatalf("collector should be disconnected")
	}
	if status.EventCounts[events.TypeDeposited] != 1 {
		t.Fatalf("expected 1 deposit in counts, got %+v", status.EventCounts)
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics endpoint = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "historyd_latest_sequence") {
		t.Fatalf("metrics output missing latest sequence gauge")
	}
}

func TestHandlerExportsHistory(t *testing.T) {
	handler, store := newHandlerFixture(t)
	if _, err := store.Insert(
		storage.EventRecord{Sequence: 1, EventID: "evt-1", Type: events.TypeDeposited, Asset: "WETX", Amount: "5", ObservedAt: time.Now()},
		storage.EventRecord{Sequence: 2, EventID: "evt-2", Type: events.TypeLiquidated, Asset: "USDX", Amount: "7", ObservedAt: time.Now()},
	); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/export", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("export status = %d", rec.Code)
	}
	if got := rec.Header().Get("Content-Type"); got != "text/csv" {
		t.Fatalf("export content type = %q", got)
	}
	if rec.Header().Get("X-Export-Checksum") == "" {
		t.Fatalf("export missing checksum header")
	}
	if !strings.Contains(rec.Body.String(), events.TypeDeposited) {
		t.Fatalf("csv export missing deposit row:\n%s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/export?format=jsonl&after=1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("jsonl export status = %d", rec.Code)
	}
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 1 || !strings.Contains(lines[0], events.TypeLiquidated) {
		t.Fatalf("cursor export should hold only the liquidation, got:\n%s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/export?format=xml", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown format should 400, got %d", rec.Code)
	}
}

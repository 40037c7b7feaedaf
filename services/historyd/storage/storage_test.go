package storage

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"lendcore/core"
	"lendcore/core/events"
	"lendcore/core/types"
	"lendcore/services/historyd/config"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	store, err := Open(config.DatabaseConfig{Driver: "sqlite", DSN: dsn})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

func testRecord(seq uint64, eventType string) EventRecord {
	return EventRecord{
		Sequence:   seq,
		EventID:    fmt.Sprintf("evt-%d", seq),
		Type:       eventType,
		Asset:      "WETX",
		Account:    "lend1qqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqqq5fduhv",
		Amount:     "1000",
		Attributes: `{"asset":"WETX"}`,
		EmittedAt:  1_700_000_000 + int64(seq),
		ObservedAt: time.Unix(1_700_000_100, 0).UTC(),
	}
}

func TestInsertSkipsDuplicateSequences(t *testing.T) {
	store := openTestStore(t)

	inserted, err := store.Insert(testRecord(1, events.TypeDeposited), testRecord(2, events.TypeBorrowed))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if inserted != 2 {
		t.Fatalf("expected 2 inserted rows, got %d", inserted)
	}

	replay := testRecord(1, events.TypeDeposited)
	replay.Amount = "999"
	inserted, err = store.Insert(replay, testRecord(3, events.TypeRepaid))
	if err != nil {
		t.Fatalf("insert with replay: %v", err)
	}
	if inserted != 1 {
		t.Fatalf("expected replay to be skipped, got %d inserted rows", inserted)
	}

	records, err := store.EventsAfter(0, 0)
	if err != nil {
		t.Fatalf("events after: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 stored records, got %d", len(records))
	}
	if records[0].Amount != "1000" {
		t.Fatalf("replay overwrote original record: amount = %q", records[0].Amount)
	}
}

func TestLatestSequence(t *testing.T) {
	store := openTestStore(t)

	seq, err := store.LatestSequence()
	if err != nil {
		t.Fatalf("latest sequence on empty store: %v", err)
	}
	if seq != 0 {
		t.Fatalf("expected 0 on empty store, got %d", seq)
	}

	if _, err := store.Insert(testRecord(4, events.TypeDeposited), testRecord(9, events.TypeWithdrawn)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	seq, err = store.LatestSequence()
	if err != nil {
		t.Fatalf("latest sequence: %v", err)
	}
	if seq != 9 {
		t.Fatalf("expected latest sequence 9, got %d", seq)
	}
}

func TestEventsAfterOrdersAndLimits(t *testing.T) {
	store := openTestStore(t)

	if _, err := store.Insert(testRecord(3, events.TypeRepaid), testRecord(1, events.TypeDeposited), testRecord(2, events.TypeBorrowed)); err != nil {
		t.Fatalf("insert: %v", err)
	}

	records, err := store.EventsAfter(0, 0)
	if err != nil {
		t.Fatalf("events after: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}
	for i, rec := range records {
		if rec.Sequence != uint64(i+1) {
			t.Fatalf("record %d out of order: sequence %d", i, rec.Sequence)
		}
	}

	records, err = store.EventsAfter(1, 1)
	if err != nil {
		t.Fatalf("events after with limit: %v", err)
	}
	if len(records) != 1 || records[0].Sequence != 2 {
		t.Fatalf("expected single record with sequence 2, got %+v", records)
	}
}

func TestCountByType(t *testing.T) {
	store := openTestStore(t)

	if _, err := store.Insert(
		testRecord(1, events.TypeDeposited),
		testRecord(2, events.TypeDeposited),
		testRecord(3, events.TypeLiquidated),
	); err != nil {
		t.Fatalf("insert: %v", err)
	}

	counts, err := store.CountByType()
	if err != nil {
		t.Fatalf("count by type: %v", err)
	}
	if counts[events.TypeDeposited] != 2 {
		t.Fatalf("expected 2 deposits, got %d", counts[events.TypeDeposited])
	}
	if counts[events.TypeLiquidated] != 1 {
		t.Fatalf("expected 1 liquidation, got %d", counts[events.TypeLiquidated])
	}
}

func TestSnapshotWatermarkRoundTrip(t *testing.T) {
	store := openTestStore(t)

	mark, err := store.SnapshotWatermark()
	if err != nil {
		t.Fatalf("initial watermark: %v", err)
	}
	if mark != 0 {
		t.Fatalf("expected zero initial watermark, got %d", mark)
	}

	if err := store.SetSnapshotWatermark(5); err != nil {
		t.Fatalf("set watermark: %v", err)
	}
	if err := store.SetSnapshotWatermark(9); err != nil {
		t.Fatalf("update watermark: %v", err)
	}
	mark, err = store.SnapshotWatermark()
	if err != nil {
		t.Fatalf("read watermark: %v", err)
	}
	if mark != 9 {
		t.Fatalf("expected watermark 9, got %d", mark)
	}
}

func TestFromStreamDerivesColumns(t *testing.T) {
	observed := time.Unix(1_700_000_500, 0)

	deposit := core.StreamEvent{
		Sequence:  7,
		Cursor:    "7",
		ID:        "evt-7",
		Timestamp: 1_700_000_123,
		Event: &types.Event{
			Type: events.TypeDeposited,
			Attributes: map[string]string{
				"user":           "lend1user",
				"asset":          "WETX",
				"amount":         "100000000000000000000",
				"mintedShares":   "100000000000000000000",
				"liquidityIndex": "1000000000000000000",
			},
		},
	}
	rec := FromStream(deposit, observed)
	if rec.Sequence != 7 || rec.EventID != "evt-7" || rec.EmittedAt != 1_700_000_123 {
		t.Fatalf("envelope fields not copied: %+v", rec)
	}
	if rec.Type != events.TypeDeposited {
		t.Fatalf("expected type %q, got %q", events.TypeDeposited, rec.Type)
	}
	if rec.Asset != "WETX" || rec.Account != "lend1user" || rec.Amount != "100000000000000000000" {
		t.Fatalf("derived columns wrong: asset=%q account=%q amount=%q", rec.Asset, rec.Account, rec.Amount)
	}
	if !strings.Contains(rec.Attributes, `"mintedShares"`) {
		t.Fatalf("attributes JSON missing keys: %s", rec.Attributes)
	}
	if !rec.ObservedAt.Equal(observed.UTC()) {
		t.Fatalf("observed at not normalised: %v", rec.ObservedAt)
	}

	liquidation := core.StreamEvent{
		Sequence: 8,
		ID:       "evt-8",
		Event: &types.Event{
			Type: events.TypeLiquidated,
			Attributes: map[string]string{
				"liquidator":      "lend1liq",
				"borrower":        "lend1debtor",
				"debtAsset":       "USDX",
				"collateralAsset": "WETX",
				"repaid":          "60000",
				"seized":          "63",
			},
		},
	}
	rec = FromStream(liquidation, observed)
	if rec.Asset != "USDX" {
		t.Fatalf("expected debt asset column, got %q", rec.Asset)
	}
	if rec.Account != "lend1debtor" {
		t.Fatalf("expected borrower column, got %q", rec.Account)
	}
	if rec.Amount != "60000" {
		t.Fatalf("expected repaid column, got %q", rec.Amount)
	}

	empty := FromStream(core.StreamEvent{Sequence: 9, ID: "evt-9"}, observed)
	if empty.Type != "" || empty.Attributes != "{}" {
		t.Fatalf("nil event not handled: %+v", empty)
	}
}

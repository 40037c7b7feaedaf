package snapshot

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"lendcore/core/events"
	"lendcore/services/historyd/config"
	"lendcore/services/historyd/storage"
)

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	store, err := storage.Open(config.DatabaseConfig{Driver: "sqlite", DSN: dsn})
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

func seedEvents(t *testing.T, store *storage.Store, seqs ...uint64) {
	t.Helper()
	records := make([]storage.EventRecord, 0, len(seqs))
	for _, seq := range seqs {
		records = append(records, storage.EventRecord{
			Sequence:   seq,
			EventID:    fmt.Sprintf("evt-%d", seq),
			Type:       events.TypeDeposited,
			Asset:      "WETX",
			Account:    "lend1user",
			Amount:     "1000",
			Attributes: `{"asset":"WETX","amount":"1000"}`,
			EmittedAt:  1_700_000_000 + int64(seq),
			ObservedAt: time.Unix(1_700_000_100, 0).UTC(),
		})
	}
	if _, err := store.Insert(records...); err != nil {
		t.Fatalf("seed events: %v", err)
	}
}

func TestExportWritesBothFormats(t *testing.T) {
	store := openTestStore(t)
	seedEvents(t, store, 1, 2, 3)
	dir := t.TempDir()

	exp, err := New(Config{Store: store, Dir: dir})
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}

	paths, err := exp.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected csv and parquet paths, got %v", paths)
	}

	csvPath := filepath.Join(dir, "events_1_3.csv")
	file, err := os.Open(csvPath)
	if err != nil {
		t.Fatalf("open csv: %v", err)
	}
	defer file.Close()
	rows, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 4 {
		t.Fatalf("expected header plus 3 rows, got %d", len(rows))
	}
	if rows[0][0] != "sequence" || rows[0][2] != "type" {
		t.Fatalf("unexpected csv header: %v", rows[0])
	}
	if rows[1][0] != "1" || rows[1][2] != events.TypeDeposited {
		t.Fatalf("unexpected first csv row: %v", rows[1])
	}

	parquetPath := filepath.Join(dir, "events_1_3.parquet")
	data, err := os.ReadFile(parquetPath)
	if err != nil {
		t.Fatalf("read parquet: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("PAR1")) {
		t.Fatalf("parquet file missing magic header")
	}

	mark, err := store.SnapshotWatermark()
	if err != nil {
		t.Fatalf("watermark: %v", err)
	}
	if mark != 3 {
		t.Fatalf("expected watermark 3, got %d", mark)
	}
	if exp.Runs() != 1 {
		t.Fatalf("expected 1 completed run, got %d", exp.Runs())
	}
}

func TestExportSkipsWhenNothingNew(t *testing.T) {
	store := openTestStore(t)
	seedEvents(t, store, 1, 2)
	dir := t.TempDir()

	exp, err := New(Config{Store: store, Dir: dir})
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	if _, err := exp.Export(); err != nil {
		t.Fatalf("first export: %v", err)
	}

	paths, err := exp.Export()
	if err != nil {
		t.Fatalf("second export: %v", err)
	}
	if paths != nil {
		t.Fatalf("expected no files on idle export, got %v", paths)
	}
	if exp.Runs() != 1 {
		t.Fatalf("idle export should not count as a run, got %d", exp.Runs())
	}

	seedEvents(t, store, 3)
	paths, err = exp.Export()
	if err != nil {
		t.Fatalf("third export: %v", err)
	}
	for _, path := range paths {
		if !strings.Contains(filepath.Base(path), "events_3_3") {
			t.Fatalf("expected incremental file covering sequence 3, got %s", path)
		}
	}
}

func TestExportHonoursFormatSelection(t *testing.T) {
	store := openTestStore(t)
	seedEvents(t, store, 1)
	dir := t.TempDir()

	exp, err := New(Config{Store: store, Dir: dir, Formats: []string{"csv"}})
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}
	paths, err := exp.Export()
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if len(paths) != 1 || !strings.HasSuffix(paths[0], ".csv") {
		t.Fatalf("expected a single csv file, got %v", paths)
	}
	if _, err := os.Stat(filepath.Join(dir, "events_1_1.parquet")); !os.IsNotExist(err) {
		t.Fatalf("parquet file should not have been written")
	}
}

func TestNewRejectsBadConfig(t *testing.T) {
	store := openTestStore(t)
	if _, err := New(Config{Store: store}); err == nil {
		t.Fatalf("expected error for missing directory")
	}
	if _, err := New(Config{Store: store, Dir: t.TempDir(), Formats: []string{"xml"}}); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
	if _, err := New(Config{Dir: t.TempDir()}); err == nil {
		t.Fatalf("expected error for missing store")
	}
}

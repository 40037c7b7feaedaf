package snapshot

import (
	"context"
	"encoding/csv"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"lendcore/services/historyd/storage"
)

// Config controls where and how often ledger-event exports are written.
type Config struct {
	Store    *storage.Store
	Dir      string
	Interval time.Duration
	Formats  []string
	Log      *slog.Logger
}

// Exporter periodically dumps newly collected events into CSV and parquet
// files so downstream analytics never have to query the live store.
type Exporter struct {
	store    *storage.Store
	dir      string
	interval time.Duration
	formats  map[string]bool
	log      *slog.Logger

	runs atomic.Uint64
}

// New validates the configuration and prepares an exporter.
func New(cfg Config) (*Exporter, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("snapshot exporter requires a store")
	}
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		return nil, fmt.Errorf("snapshot exporter requires an output directory")
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	formats := map[string]bool{}
	for _, format := range cfg.Formats {
		switch normalized := strings.ToLower(strings.TrimSpace(format)); normalized {
		case "csv", "parquet":
			formats[normalized] = true
		case "":
		default:
			return nil, fmt.Errorf("snapshot format %q not supported", format)
		}
	}
	if len(formats) == 0 {
		formats["csv"] = true
		formats["parquet"] = true
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Exporter{store: cfg.Store, dir: dir, interval: interval, formats: formats, log: log}, nil
}

// Run exports on every interval tick until the context is cancelled.
func (e *Exporter) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := e.Export(); err != nil {
				e.log.Warn("snapshot export failed", "error", err)
			}
		}
	}
}

// Export writes every event beyond the snapshot watermark into fresh files
// and advances the watermark. It returns the paths written; a run with no
// new events writes nothing.
func (e *Exporter) Export() ([]string, error) {
	watermark, err := e.store.SnapshotWatermark()
	if err != nil {
		return nil, err
	}
	records, err := e.store.EventsAfter(watermark, 0)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: create dir: %w", err)
	}

	first := records[0].Sequence
	last := records[len(records)-1].Sequence
	base := fmt.Sprintf("events_%d_%d", first, last)

	var paths []string
	if e.formats["csv"] {
		path := filepath.Join(e.dir, base+".csv")
		if err := writeCSV(path, records); err != nil {
			return nil, err
		}
		e.log.Info("snapshot written", "path", path, "rows", len(records))
		paths = append(paths, path)
	}
	if e.formats["parquet"] {
		path := filepath.Join(e.dir, base+".parquet")
		if err := writeParquet(path, records); err != nil {
			return nil, err
		}
		e.log.Info("snapshot written", "path", path, "rows", len(records))
		paths = append(paths, path)
	}

	if err := e.store.SetSnapshotWatermark(last); err != nil {
		return nil, err
	}
	e.runs.Add(1)
	return paths, nil
}

// Runs reports how many exports have completed with new data.
func (e *Exporter) Runs() uint64 {
	return e.runs.Load()
}

func writeCSV(path string, records []storage.EventRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("snapshot: create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	header := []string{
		"sequence", "event_id", "type", "asset", "account", "amount",
		"attributes", "emitted_at", "observed_at",
	}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("snapshot: write csv header: %w", err)
	}
	for _, rec := range records {
		row := []string{
			strconv.FormatUint(rec.Sequence, 10),
			rec.EventID,
			rec.Type,
			rec.Asset,
			rec.Account,
			rec.Amount,
			rec.Attributes,
			strconv.FormatInt(rec.EmittedAt, 10),
			rec.ObservedAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("snapshot: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("snapshot: flush csv: %w", err)
	}
	return nil
}

type eventRow struct {
	Sequence   int64  `parquet:"name=sequence, type=INT64"`
	EventID    string `parquet:"name=event_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Type       string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Asset      string `parquet:"name=asset, type=BYTE_ARRAY, convertedtype=UTF8"`
	Account    string `parquet:"name=account, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount     string `parquet:"name=amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	Attributes string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
	EmittedAt  int64  `parquet:"name=emitted_at, type=INT64"`
	ObservedAt string `parquet:"name=observed_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func writeParquet(path string, records []storage.EventRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("snapshot: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(eventRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("snapshot: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		row := &eventRow{
			Sequence:   int64(rec.Sequence),
			EventID:    rec.EventID,
			Type:       rec.Type,
			Asset:      rec.Asset,
			Account:    rec.Account,
			Amount:     rec.Amount,
			Attributes: rec.Attributes,
			EmittedAt:  rec.EmittedAt,
			ObservedAt: rec.ObservedAt.UTC().Format(time.RFC3339),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("snapshot: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("snapshot: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("snapshot: close parquet file: %w", err)
	}
	return nil
}

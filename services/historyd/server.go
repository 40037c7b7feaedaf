// Package historyd archives the ledger's event stream into a queryable
// store and periodic file exports.
package historyd

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lendcore/integrations/exports"
	"lendcore/services/historyd/collector"
	"lendcore/services/historyd/snapshot"
	"lendcore/services/historyd/storage"
)

// Status summarises collector progress for operators.
type Status struct {
	Connected      bool             `json:"connected"`
	LatestSequence uint64           `json:"latestSequence"`
	Ingested       uint64           `json:"ingested"`
	SnapshotRuns   uint64           `json:"snapshotRuns"`
	EventCounts    map[string]int64 `json:"eventCounts"`
}

// NewHandler serves health, status, and Prometheus metrics for the daemon.
// The exporter may be nil when snapshots are disabled.
func NewHandler(store *storage.Store, coll *collector.Collector, exp *snapshot.Exporter) http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "historyd",
		Name:      "events_ingested_total",
		Help:      "Ledger events persisted by this process.",
	}, func() float64 {
		return float64(coll.Ingested())
	}))
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "historyd",
		Name:      "latest_sequence",
		Help:      "Highest event sequence in the history store.",
	}, func() float64 {
		seq, err := store.LatestSequence()
		if err != nil {
			return 0
		}
		return float64(seq)
	}))
	registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "historyd",
		Name:      "stream_connected",
		Help:      "Whether the collector holds a live node connection.",
	}, func() float64 {
		if coll.Connected() {
			return 1
		}
		return 0
	}))
	registry.MustRegister(prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: "historyd",
		Name:      "snapshot_runs_total",
		Help:      "Completed snapshot exports with new data.",
	}, func() float64 {
		if exp == nil {
			return 0
		}
		return float64(exp.Runs())
	}))

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		counts, err := store.CountByType()
		if err != nil {
			http.Error(w, "store unavailable", http.StatusInternalServerError)
			return
		}
		seq, err := store.LatestSequence()
		if err != nil {
			http.Error(w, "store unavailable", http.StatusInternalServerError)
			return
		}
		status := Status{
			Connected:      coll.Connected(),
			LatestSequence: seq,
			Ingested:       coll.Ingested(),
			EventCounts:    counts,
		}
		if exp != nil {
			status.SnapshotRuns = exp.Runs()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(status)
	})
	mux.HandleFunc("/export", func(w http.ResponseWriter, r *http.Request) {
		var after uint64
		if raw := r.URL.Query().Get("after"); raw != "" {
			parsed, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				http.Error(w, "invalid after cursor", http.StatusBadRequest)
				return
			}
			after = parsed
		}
		limit := 1000
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			if parsed < limit {
				limit = parsed
			}
		}
		records, err := store.EventsAfter(after, limit)
		if err != nil {
			http.Error(w, "store unavailable", http.StatusInternalServerError)
			return
		}

		var payload []byte
		var checksum string
		switch r.URL.Query().Get("format") {
		case "", "csv":
			payload, checksum, err = exports.HistoryCSV(records)
			w.Header().Set("Content-Type", "text/csv")
		case "jsonl":
			payload, checksum, err = exports.HistoryJSONL(records)
			w.Header().Set("Content-Type", "application/x-ndjson")
		default:
			http.Error(w, "format must be csv or jsonl", http.StatusBadRequest)
			return
		}
		if err != nil {
			http.Error(w, "export failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("X-Export-Checksum", checksum)
		_, _ = w.Write(payload)
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	return mux
}

package exports

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"lendcore/services/historyd/storage"
)

func sampleRecords() []storage.EventRecord {
	observed := time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)
	return []storage.EventRecord{
		{
			Sequence:   7,
			EventID:    "evt-7",
			Type:       "lending.deposited",
			Asset:      "WETX",
			Account:    "lend1user",
			Amount:     "100000000000000000000",
			Attributes: `{"asset":"WETX","user":"lend1user"}`,
			EmittedAt:  1_700_000_000,
			ObservedAt: observed,
		},
		{
			Sequence:   8,
			EventID:    "evt-8",
			Type:       "lending.liquidated",
			Asset:      "USDX",
			Account:    "lend1debtor",
			Amount:     "60000000000000000000000",
			EmittedAt:  1_700_000_060,
			ObservedAt: observed.Add(time.Minute),
		},
	}
}

func TestHistoryCSVLayout(t *testing.T) {
	data, checksum, err := HistoryCSV(sampleRecords())
	if err != nil {
		t.Fatalf("export csv: %v", err)
	}
	if checksum == "" {
		t.Fatal("expected checksum")
	}
	rows, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		t.Fatalf("parse exported csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header and two rows, got %d", len(rows))
	}
	if rows[0][0] != "sequence" || rows[0][8] != "attributes" {
		t.Fatalf("unexpected header %v", rows[0])
	}
	if rows[1][0] != "7" || rows[1][2] != "lending.deposited" || rows[1][6] != "2023-11-14T22:13:20Z" {
		t.Fatalf("unexpected first row %v", rows[1])
	}
	if rows[2][5] != "60000000000000000000000" {
		t.Fatalf("unexpected amount in second row %v", rows[2])
	}
}

func TestHistoryJSONLRoundTrips(t *testing.T) {
	data, checksum, err := HistoryJSONL(sampleRecords())
	if err != nil {
		t.Fatalf("export jsonl: %v", err)
	}
	if checksum == "" {
		t.Fatal("expected checksum")
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected two lines, got %d", len(lines))
	}

	var first map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("decode first line: %v", err)
	}
	if first["type"] != "lending.deposited" || first["amount"] != "100000000000000000000" {
		t.Fatalf("unexpected first line %v", first)
	}
	attrs, ok := first["attributes"].(map[string]interface{})
	if !ok || attrs["user"] != "lend1user" {
		t.Fatalf("attributes not embedded: %v", first["attributes"])
	}

	var second map[string]interface{}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("decode second line: %v", err)
	}
	if second["attributes"] != nil {
		t.Fatalf("expected null attributes, got %v", second["attributes"])
	}
}

func TestExportChecksumTracksContent(t *testing.T) {
	records := sampleRecords()
	_, first, err := HistoryCSV(records)
	if err != nil {
		t.Fatalf("export csv: %v", err)
	}
	records[0].Amount = "1"
	_, second, err := HistoryCSV(records)
	if err != nil {
		t.Fatalf("export csv after edit: %v", err)
	}
	if first == second {
		t.Fatal("checksum did not change with content")
	}
}

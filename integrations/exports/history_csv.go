package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"strconv"
	"time"

	"lendcore/services/historyd/storage"
)

// HistoryCSV serialises event records to CSV and returns the payload
// alongside a SHA-256 checksum, so consumers can verify a handoff without
// re-reading the store.
func HistoryCSV(records []storage.EventRecord) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"sequence", "event_id", "type", "asset", "account", "amount", "emitted_at", "observed_at", "attributes"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, record := range records {
		row := []string{
			strconv.FormatUint(record.Sequence, 10),
			record.EventID,
			record.Type,
			record.Asset,
			record.Account,
			record.Amount,
			time.Unix(record.EmittedAt, 0).UTC().Format(time.RFC3339),
			record.ObservedAt.UTC().Format(time.RFC3339Nano),
			record.Attributes,
		}
		if err := writer.Write(row); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}

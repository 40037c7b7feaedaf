package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"lendcore/services/historyd/storage"
)

// HistoryJSONL serialises event records to JSON Lines and returns the
// payload alongside a SHA-256 checksum. Attribute maps are embedded as the
// raw JSON captured off the stream.
func HistoryJSONL(records []storage.EventRecord) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, record := range records {
		attributes := json.RawMessage("null")
		if record.Attributes != "" {
			attributes = json.RawMessage(record.Attributes)
		}
		payload := map[string]interface{}{
			"sequence":   record.Sequence,
			"eventId":    record.EventID,
			"type":       record.Type,
			"asset":      record.Asset,
			"account":    record.Account,
			"amount":     record.Amount,
			"emittedAt":  time.Unix(record.EmittedAt, 0).UTC().Format(time.RFC3339),
			"observedAt": record.ObservedAt.UTC().Format(time.RFC3339Nano),
			"attributes": attributes,
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}

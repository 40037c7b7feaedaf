package types

// Event is the wire form of a ledger event: a dot-separated type and a flat
// set of string attributes.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

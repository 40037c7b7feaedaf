package events

// Event is a structured state change published by the ledger.
type Event interface {
	EventType() string
}

// Emitter forwards events to downstream subscribers such as the RPC stream
// and indexers.
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies Emitter while discarding every event.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

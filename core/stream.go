package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"lendcore/core/events"
	"lendcore/core/types"
)

const streamHistoryLimit = 2048

// StreamEvent is the enveloped form of a ledger event as delivered to stream
// subscribers: a monotonic sequence, its string cursor, a unique ID and the
// emission timestamp wrap the wire payload.
type StreamEvent struct {
	Sequence  uint64       `json:"sequence"`
	Cursor    string       `json:"cursor"`
	ID        string       `json:"id"`
	Timestamp int64        `json:"timestamp"`
	Event     *types.Event `json:"event"`
}

func cloneStreamEvent(entry StreamEvent) StreamEvent {
	cloned := entry
	if entry.Event != nil {
		attrs := make(map[string]string, len(entry.Event.Attributes))
		for k, v := range entry.Event.Attributes {
			attrs[k] = v
		}
		cloned.Event = &types.Event{Type: entry.Event.Type, Attributes: attrs}
	}
	return cloned
}

// EventStream fans ledger events out to subscribers. Sequence numbers are
// assigned at emission, a bounded history window backs cursor replay, and
// slow subscribers drop events rather than stall the ledger.
type EventStream struct {
	mu      sync.Mutex
	seq     uint64
	nextID  uint64
	subs    map[uint64]chan StreamEvent
	history []StreamEvent
	now     func() int64
}

// NewEventStream constructs an empty hub.
func NewEventStream() *EventStream {
	return &EventStream{
		subs: make(map[uint64]chan StreamEvent),
		now:  func() int64 { return time.Now().Unix() },
	}
}

// SetClock overrides the timestamp source stamped onto envelopes.
func (s *EventStream) SetClock(now func() int64) {
	if s == nil || now == nil {
		return
	}
	s.now = now
}

// Emit implements the events.Emitter interface: it wraps the event in an
// envelope and hands it to every subscriber without blocking.
func (s *EventStream) Emit(evt events.Event) {
	if s == nil || evt == nil {
		return
	}
	wire := wireEvent(evt)

	s.mu.Lock()
	s.seq++
	entry := StreamEvent{
		Sequence:  s.seq,
		Cursor:    strconv.FormatUint(s.seq, 10),
		ID:        uuid.NewString(),
		Timestamp: s.now(),
		Event:     wire,
	}
	s.history = append(s.history, cloneStreamEvent(entry))
	if len(s.history) > streamHistoryLimit {
		excess := len(s.history) - streamHistoryLimit
		trimmed := make([]StreamEvent, streamHistoryLimit)
		copy(trimmed, s.history[excess:])
		s.history = trimmed
	}
	subscribers := make([]chan StreamEvent, 0, len(s.subs))
	for _, ch := range s.subs {
		subscribers = append(subscribers, ch)
	}
	s.mu.Unlock()

	for _, ch := range subscribers {
		select {
		case ch <- cloneStreamEvent(entry):
		default:
		}
	}
}

func wireEvent(evt events.Event) *types.Event {
	if payload, ok := evt.(interface{ Event() *types.Event }); ok {
		if wire := payload.Event(); wire != nil {
			return wire
		}
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}

// Subscribe registers a subscriber for events after the supplied cursor. The
// backlog replays the retained history past the cursor; the cancel function
// detaches the subscriber and closes its channel.
func (s *EventStream) Subscribe(ctx context.Context, cursor string) (<-chan StreamEvent, func(), []StreamEvent, error) {
	if s == nil {
		return nil, nil, nil, fmt.Errorf("core: event stream not initialised")
	}
	updates := make(chan StreamEvent, 32)

	var since uint64
	if trimmed := strings.TrimSpace(cursor); trimmed != "" {
		parsed, err := strconv.ParseUint(trimmed, 10, 64)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("core: parse cursor %q: %w", cursor, err)
		}
		since = parsed
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = updates
	history := make([]StreamEvent, len(s.history))
	copy(history, s.history)
	s.mu.Unlock()

	backlog := make([]StreamEvent, 0, len(history))
	for _, entry := range history {
		if entry.Sequence > since {
			backlog = append(backlog, cloneStreamEvent(entry))
		}
	}

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			if sub, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(sub)
			}
			s.mu.Unlock()
		})
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	return updates, cancel, backlog, nil
}

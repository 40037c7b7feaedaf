package storage

import (
	"errors"
	"sort"
	"sync"
)

// ErrOverlayClosed is returned when an overlay is used after Commit or Discard.
var ErrOverlayClosed = errors.New("storage: overlay closed")

// Overlay buffers writes on top of a backing Database. Reads see buffered
// writes first and fall through to the backing store otherwise. Nothing
// reaches the backing store until Commit; Discard drops every buffered write.
// Each ledger operation runs against a fresh overlay so a failed precondition
// leaves the durable state byte-identical to its pre-call value.
type Overlay struct {
	mu     sync.Mutex
	base   Database
	writes map[string][]byte
	closed bool
}

func NewOverlay(base Database) *Overlay {
	return &Overlay{
		base:   base,
		writes: make(map[string][]byte),
	}
}

func (o *Overlay) Put(key []byte, value []byte) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrOverlayClosed
	}
	buf := make([]byte, len(value))
	copy(buf, value)
	o.writes[string(key)] = buf
	return nil
}

func (o *Overlay) Get(key []byte) ([]byte, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return nil, ErrOverlayClosed
	}
	if value, ok := o.writes[string(key)]; ok {
		buf := make([]byte, len(value))
		copy(buf, value)
		return buf, nil
	}
	return o.base.Get(key)
}

// Commit flushes buffered writes to the backing store in sorted key order so
// repeated runs touch the store deterministically. The overlay is unusable
// afterwards.
func (o *Overlay) Commit() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrOverlayClosed
	}
	keys := make([]string, 0, len(o.writes))
	for key := range o.writes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := o.base.Put([]byte(key), o.writes[key]); err != nil {
			return err
		}
	}
	o.closed = true
	o.writes = nil
	return nil
}

// Discard drops every buffered write without touching the backing store.
func (o *Overlay) Discard() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.writes = nil
}

// Close satisfies the Database interface; the backing store stays open.
func (o *Overlay) Close() {}

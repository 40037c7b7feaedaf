package common

import (
	"errors"
	"sync/atomic"
)

// ErrBusy is returned when a state-changing operation is invoked while
// another one is still in flight on the same module.
var ErrBusy = errors.New("module busy")

// OpGuard is a non-reentrant latch held for the full duration of every
// state-changing operation. External collaborators invoked mid-operation
// (token mint/burn, asset transfers) could call back into the module; the
// guard makes such a reentrant call fail immediately instead of interleaving
// with the half-applied state of the outer operation.
type OpGuard struct {
	busy atomic.Bool
}

// Enter acquires the latch, failing fast with ErrBusy when it is already
// held.
func (g *OpGuard) Enter() error {
	if g == nil {
		return nil
	}
	if !g.busy.CompareAndSwap(false, true) {
		return ErrBusy
	}
	return nil
}

// Exit releases the latch. It must run on every exit path of the guarded
// operation, including error paths.
func (g *OpGuard) Exit() {
	if g == nil {
		return
	}
	g.busy.Store(false)
}

// Package netid issues and tracks the identifiers used to address simulated
// entities across peers.
//
// A NetworkId is independent of any process-local handle: the host world maps
// its own entity handles to IDs through a Table, and the lockstep core only
// ever speaks in IDs.
package netid

import (
	"strconv"
	"sync/atomic"
)

// ID is a session-unique entity identifier. Zero means "no entity".
type ID uint64

// None is the zero ID, used for optional command targets.
const None ID = 0

// String renders the ID in its wire form.
func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Valid reports whether the ID addresses an entity.
func (id ID) Valid() bool {
	return id != None
}

// Allocator hands out monotonically increasing IDs starting at 1.
//
// Thread-safety: Allocator is safe for concurrent use. It is the only piece of
// lockstep state touched from more than one call site within a frame (spawn
// systems, AI, and the scheduler may all request IDs).
type Allocator struct {
	next atomic.Uint64
}

// NewAllocator creates an allocator whose first Next() returns 1.
func NewAllocator() *Allocator {
	a := &Allocator{}
	a.next.Store(1)
	return a
}

// Next returns the next ID and advances the counter.
func (a *Allocator) Next() ID {
	return ID(a.next.Add(1) - 1)
}

// Current returns the ID the next call to Next will return.
func (a *Allocator) Current() ID {
	return ID(a.next.Load())
}

// Reset restarts the counter for a new session.
func (a *Allocator) Reset() {
	a.next.Store(1)
}

// SyncTo advances the counter to max(current, v+1) so the next ID is
// strictly greater than v. It never moves the counter backwards.
//
// Used by a late-joining participant to skip past IDs already issued elsewhere.
func (a *Allocator) SyncTo(v ID) {
	want := uint64(v) + 1
	for {
		cur := a.next.Load()
		if cur >= want {
			return
		}
		if a.next.CompareAndSwap(cur, want) {
			return
		}
	}
}

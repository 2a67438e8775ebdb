package netid

import (
	"fmt"
	"slices"
)

// Entity is the networked record the host world keeps alongside any entity
// the lockstep core must be able to target.
type Entity struct {
	ID          ID
	CreatedTick int64
}

// Table is a side-table from world entity handles to their networked record.
//
// It replaces attaching a component to each entity: the world keeps whatever
// handle type it likes (pointer, index, ECS id) and the core only needs the
// lookup-by-ID capability.
//
// Thread-safety: not safe for concurrent use. The world and the scheduler both
// run on the simulation thread.
type Table[H comparable] struct {
	byHandle map[H]Entity
	byID     map[ID]H
}

// NewTable creates an empty table.
func NewTable[H comparable]() *Table[H] {
	return &Table[H]{
		byHandle: make(map[H]Entity),
		byID:     make(map[ID]H),
	}
}

// Register allocates a fresh ID for h and records it as created at tick.
func (t *Table[H]) Register(alloc *Allocator, h H, tick int64) (Entity, error) {
	id := alloc.Next()
	if err := t.Attach(h, id, tick); err != nil {
		return Entity{}, err
	}
	return Entity{ID: id, CreatedTick: tick}, nil
}

// Attach records an ID issued elsewhere (for example by the host) for h.
// An ID is bound to at most one handle and a handle to at most one ID.
func (t *Table[H]) Attach(h H, id ID, tick int64) error {
	if !id.Valid() {
		return fmt.Errorf("attach: invalid network id %d", id)
	}
	if owner, ok := t.byID[id]; ok && owner != h {
		return fmt.Errorf("attach: network id %d already bound", id)
	}
	if prev, ok := t.byHandle[h]; ok && prev.ID != id {
		return fmt.Errorf("attach: handle already bound to network id %d", prev.ID)
	}
	t.byHandle[h] = Entity{ID: id, CreatedTick: tick}
	t.byID[id] = h
	return nil
}

// Lookup resolves an ID to its world handle.
func (t *Table[H]) Lookup(id ID) (H, bool) {
	h, ok := t.byID[id]
	return h, ok
}

// Record returns the networked record for a handle.
func (t *Table[H]) Record(h H) (Entity, bool) {
	e, ok := t.byHandle[h]
	return e, ok
}

// Detach forgets a handle. The ID is not returned to the allocator: IDs are
// never reused within a session.
func (t *Table[H]) Detach(h H) {
	e, ok := t.byHandle[h]
	if !ok {
		return
	}
	delete(t.byHandle, h)
	delete(t.byID, e.ID)
}

// Len returns the number of bound entities.
func (t *Table[H]) Len() int {
	return len(t.byHandle)
}

// IDs returns every bound ID in ascending order.
func (t *Table[H]) IDs() []ID {
	ids := make([]ID, 0, len(t.byID))
	for id := range t.byID {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

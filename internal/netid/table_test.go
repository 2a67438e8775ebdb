package netid

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type unit struct{ name string }

func TestTable_RegisterAndLookup(t *testing.T) {
	alloc := NewAllocator()
	table := NewTable[*unit]()

	archer := &unit{name: "archer"}
	knight := &unit{name: "knight"}

	e1, err := table.Register(alloc, archer, 0)
	require.NoError(t, err)
	e2, err := table.Register(alloc, knight, 4)
	require.NoError(t, err)

	assert.Equal(t, Entity{ID: 1, CreatedTick: 0}, e1)
	assert.Equal(t, Entity{ID: 2, CreatedTick: 4}, e2)

	h, ok := table.Lookup(2)
	require.True(t, ok)
	assert.Same(t, knight, h)

	rec, ok := table.Record(archer)
	require.True(t, ok)
	assert.Equal(t, ID(1), rec.ID)

	_, ok = table.Lookup(99)
	assert.False(t, ok)
	assert.Equal(t, 2, table.Len())
}

func TestTable_Attach_Conflicts(t *testing.T) {
	table := NewTable[string]()

	require.NoError(t, table.Attach("a", 5, 1))
	require.NoError(t, table.Attach("a", 5, 1), "re-attaching the same binding is a no-op")

	err := table.Attach("b", 5, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already bound")

	err = table.Attach("a", 6, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handle already bound")

	err = table.Attach("c", None, 1)
	require.Error(t, err)
}

func TestTable_DetachNeverReusesIDs(t *testing.T) {
	alloc := NewAllocator()
	table := NewTable[int]()

	e, err := table.Register(alloc, 100, 0)
	require.NoError(t, err)
	table.Detach(100)

	_, ok := table.Lookup(e.ID)
	assert.False(t, ok)

	next, err := table.Register(alloc, 100, 1)
	require.NoError(t, err)
	assert.NotEqual(t, e.ID, next.ID)

	table.Detach(12345) // unknown handle is ignored
	assert.Equal(t, 1, table.Len())
}

func TestTable_IDsSorted(t *testing.T) {
	table := NewTable[int]()
	require.NoError(t, table.Attach(1, 30, 0))
	require.NoError(t, table.Attach(2, 10, 0))
	require.NoError(t, table.Attach(3, 20, 0))

	assert.Equal(t, []ID{10, 20, 30}, table.IDs())
}

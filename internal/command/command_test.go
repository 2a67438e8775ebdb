package command

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestType_StringAndParse(t *testing.T) {
	for typ := Move; typ <= Heal; typ++ {
		byName, err := ParseType(typ.String())
		require.NoError(t, err)
		assert.Equal(t, typ, byName)
	}

	typ, err := ParseType("6")
	require.NoError(t, err)
	assert.Equal(t, SetRally, typ)

	_, err = ParseType("Dance")
	assert.Error(t, err)
	_, err = ParseType("8")
	assert.Error(t, err)

	assert.Equal(t, "Type(12)", Type(12).String())
	assert.False(t, Type(-1).Valid())
}

func TestSortForExecution_PlayerThenType(t *testing.T) {
	cmds := []Command{
		{Player: 1, Type: Move, Source: 10},
		{Player: 0, Type: Heal, Source: 20},
		{Player: 0, Type: Attack, Source: 30},
		{Player: 2, Type: Stop, Source: 40},
		{Player: 1, Type: Attack, Source: 50},
	}

	SortForExecution(cmds)

	var got []int
	for _, c := range cmds {
		got = append(got, int(c.Source))
	}
	assert.Equal(t, []int{30, 20, 50, 10, 40}, got)
}

func TestSortForExecution_StableForSamePlayerAndType(t *testing.T) {
	cmds := []Command{
		{Player: 1, Type: Move, Source: 1},
		{Player: 0, Type: Move, Source: 2},
		{Player: 1, Type: Move, Source: 3},
		{Player: 1, Type: Move, Source: 4},
	}

	SortForExecution(cmds)

	assert.Equal(t, []Command{
		{Player: 0, Type: Move, Source: 2},
		{Player: 1, Type: Move, Source: 1},
		{Player: 1, Type: Move, Source: 3},
		{Player: 1, Type: Move, Source: 4},
	}, cmds)
}

// Any interleaving of per-player lists must produce the same sequence.
func TestSortForExecution_ArrivalOrderIndependent(t *testing.T) {
	perPlayer := map[int][]Command{
		0: {{Player: 0, Type: Attack, Source: 1}, {Player: 0, Type: Move, Source: 2}},
		1: {{Player: 1, Type: Move, Source: 3}, {Player: 1, Type: Heal, Source: 4}, {Player: 1, Type: Move, Source: 5}},
		2: {{Player: 2, Type: Build, Source: 6, BuildingID: "farm"}},
	}

	var reference []Command
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		order := rng.Perm(3)
		var merged []Command
		for _, p := range order {
			merged = append(merged, perPlayer[p]...)
		}
		SortForExecution(merged)

		if reference == nil {
			reference = merged
			continue
		}
		require.Equal(t, reference, merged, "trial %d with arrival order %v", trial, order)
	}
}

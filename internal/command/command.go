// Package command defines lockstep commands and their wire codec.
//
// A Command is immutable once transmitted. Every peer must execute the same
// commands for a tick in the same order, so the package also owns the single
// ordering rule used at execution time (see SortForExecution).
package command

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/roach88/lockstep/internal/netid"
)

// Type enumerates the orders a player or AI can issue.
// The numeric value is the wire value and the secondary sort key.
type Type int

const (
	Move Type = iota
	Attack
	Stop
	Build
	Train
	Gather
	SetRally
	Heal
)

var typeNames = [...]string{
	Move:     "Move",
	Attack:   "Attack",
	Stop:     "Stop",
	Build:    "Build",
	Train:    "Train",
	Gather:   "Gather",
	SetRally: "SetRally",
	Heal:     "Heal",
}

// String returns the type name, or Type(n) for unknown values.
func (t Type) String() string {
	if t.Valid() {
		return typeNames[t]
	}
	return "Type(" + strconv.Itoa(int(t)) + ")"
}

// Valid reports whether t is a known command type.
func (t Type) Valid() bool {
	return t >= Move && int(t) < len(typeNames)
}

// ParseType accepts either a type name ("Move") or its wire number ("0").
func ParseType(s string) (Type, error) {
	for i, name := range typeNames {
		if name == s {
			return Type(i), nil
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("unknown command type %q", s)
	}
	t := Type(n)
	if !t.Valid() {
		return 0, fmt.Errorf("unknown command type %d", n)
	}
	return t, nil
}

// Vec3 is a world position.
type Vec3 struct {
	X, Y, Z float64
}

// Command is a single order scheduled for a tick.
//
// Player and Tick are carried by the enclosing tick message, not by the
// command encoding itself.
type Command struct {
	Type       Type
	Player     int
	Tick       int64
	Source     netid.ID
	Position   Vec3
	Target     netid.ID // netid.None when absent
	Secondary  netid.ID // netid.None when absent
	BuildingID string   // empty when absent
}

// SortForExecution orders commands by (player ascending, type ascending).
//
// The sort is stable: commands from the same player with the same type keep
// the order that player issued them in, which is identical on every peer
// because it travels inside one tick message. Arrival order across players
// therefore never influences the result.
func SortForExecution(cmds []Command) {
	slices.SortStableFunc(cmds, func(a, b Command) int {
		if a.Player != b.Player {
			return a.Player - b.Player
		}
		return int(a.Type) - int(b.Type)
	})
}

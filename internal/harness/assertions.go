package harness

import (
	"fmt"
	"slices"
	"strings"
)

// AssertionError is returned when an expectation fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Expectation type for categorization
	Player   int    // -1 when the expectation spans every peer
	Expected string
	Actual   string
	Trace    []string // Trace of the player involved, for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Player >= 0 {
		fmt.Fprintf(&buf, " (player %d)", e.Player)
	}
	buf.WriteByte('\n')
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, line := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, line)
		}
	}
	return buf.String()
}

// EvaluateExpectations checks every set expectation against the result and
// returns one message per failure.
func EvaluateExpectations(result *Result, expect Expectations) []string {
	var errs []error

	if expect.FinalTick != nil {
		errs = append(errs, assertFinalTick(result, *expect.FinalTick)...)
	}
	if expect.TracesEqual {
		errs = append(errs, assertTracesEqual(result))
	}
	if expect.StatesEqual {
		errs = append(errs, assertStatesEqual(result))
	}
	for _, player := range sortedKeys(expect.Traces) {
		errs = append(errs, assertTrace(result, player, expect.Traces[player]))
	}
	if expect.Desyncs != nil {
		errs = append(errs, assertDesyncs(result, *expect.Desyncs))
	}
	for _, player := range sortedKeys(expect.Dropped) {
		errs = append(errs, assertCounter(result, "dropped", player, expect.Dropped[player],
			func(p PeerResult) int64 { return p.Stats.Dropped }))
	}
	for _, player := range sortedKeys(expect.Stalls) {
		errs = append(errs, assertCounter(result, "stalls", player, expect.Stalls[player],
			func(p PeerResult) int64 { return int64(len(p.Stalls)) }))
	}
	for _, player := range expect.Halted {
		errs = append(errs, assertHalted(result, player))
	}

	var msgs []string
	for _, err := range errs {
		if err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	return msgs
}

func assertFinalTick(result *Result, want int64) []error {
	var errs []error
	for _, p := range result.Peers {
		if p.FinalTick != want {
			errs = append(errs, &AssertionError{
				Type:     "final_tick",
				Player:   p.Player,
				Expected: fmt.Sprintf("tick %d", want),
				Actual:   fmt.Sprintf("tick %d (state %s)", p.FinalTick, p.State),
			})
		}
	}
	return errs
}

// assertTracesEqual compares every peer's trace with the host's.
func assertTracesEqual(result *Result) error {
	if len(result.Peers) == 0 {
		return nil
	}
	ref := result.Peers[0]
	for _, p := range result.Peers[1:] {
		if i, diff := firstDifference(ref.Trace, p.Trace); diff {
			return &AssertionError{
				Type:     "traces_equal",
				Player:   p.Player,
				Expected: fmt.Sprintf("line %d: %s (player %d)", i+1, lineAt(ref.Trace, i), ref.Player),
				Actual:   fmt.Sprintf("line %d: %s", i+1, lineAt(p.Trace, i)),
				Trace:    p.Trace,
			}
		}
	}
	return nil
}

func assertStatesEqual(result *Result) error {
	if len(result.Peers) == 0 {
		return nil
	}
	ref := result.Peers[0]
	for _, p := range result.Peers[1:] {
		if p.StateHash != ref.StateHash {
			return &AssertionError{
				Type:     "states_equal",
				Player:   p.Player,
				Expected: fmt.Sprintf("state hash %08x (player %d)", ref.StateHash, ref.Player),
				Actual:   fmt.Sprintf("state hash %08x", p.StateHash),
			}
		}
	}
	return nil
}

func assertTrace(result *Result, player int, want []string) error {
	p, ok := result.Peer(player)
	if !ok {
		return &AssertionError{Type: "traces", Player: player, Expected: "a peer", Actual: "no such player"}
	}
	if i, diff := firstDifference(want, p.Trace); diff {
		return &AssertionError{
			Type:     "traces",
			Player:   player,
			Expected: fmt.Sprintf("line %d: %s", i+1, lineAt(want, i)),
			Actual:   fmt.Sprintf("line %d: %s", i+1, lineAt(p.Trace, i)),
			Trace:    p.Trace,
		}
	}
	return nil
}

// assertDesyncs checks the exact set of desync events, in any order.
func assertDesyncs(result *Result, want []DesyncExpect) error {
	var got []DesyncExpect
	for _, p := range result.Peers {
		for _, d := range p.Desyncs {
			got = append(got, DesyncExpect{Player: p.Player, Tick: d.Tick, Remote: d.Player})
		}
	}
	sortDesyncs(got)
	sorted := slices.Clone(want)
	sortDesyncs(sorted)

	if !slices.Equal(got, sorted) {
		return &AssertionError{
			Type:     "desyncs",
			Player:   -1,
			Expected: formatDesyncs(sorted),
			Actual:   formatDesyncs(got),
		}
	}
	return nil
}

func assertCounter(result *Result, name string, player int, want int64, get func(PeerResult) int64) error {
	p, ok := result.Peer(player)
	if !ok {
		return &AssertionError{Type: name, Player: player, Expected: "a peer", Actual: "no such player"}
	}
	if got := get(p); got != want {
		return &AssertionError{
			Type:     name,
			Player:   player,
			Expected: fmt.Sprintf("%d", want),
			Actual:   fmt.Sprintf("%d", got),
		}
	}
	return nil
}

func assertHalted(result *Result, player int) error {
	p, ok := result.Peer(player)
	if !ok {
		return &AssertionError{Type: "halted", Player: player, Expected: "a peer", Actual: "no such player"}
	}
	if p.State != "Stopped" {
		return &AssertionError{
			Type:     "halted",
			Player:   player,
			Expected: "state Stopped",
			Actual:   fmt.Sprintf("state %s at tick %d", p.State, p.FinalTick),
		}
	}
	return nil
}

// firstDifference returns the first index where a and b differ.
func firstDifference(a, b []string) (int, bool) {
	for i := 0; i < max(len(a), len(b)); i++ {
		if i >= len(a) || i >= len(b) || a[i] != b[i] {
			return i, true
		}
	}
	return 0, false
}

func lineAt(lines []string, i int) string {
	if i < len(lines) {
		return lines[i]
	}
	return "<end of trace>"
}

func sortDesyncs(ds []DesyncExpect) {
	slices.SortFunc(ds, func(a, b DesyncExpect) int {
		if a.Player != b.Player {
			return a.Player - b.Player
		}
		if a.Tick != b.Tick {
			if a.Tick < b.Tick {
				return -1
			}
			return 1
		}
		return a.Remote - b.Remote
	})
}

func formatDesyncs(ds []DesyncExpect) string {
	if len(ds) == 0 {
		return "no desyncs"
	}
	parts := make([]string, len(ds))
	for i, d := range ds {
		parts[i] = fmt.Sprintf("player %d at tick %d vs %d", d.Player, d.Tick, d.Remote)
	}
	return strings.Join(parts, ", ")
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// Snapshot renders a result as stable text for golden comparison: one
// header line per peer followed by its execution trace and desyncs.
//
//	scenario: two_peer_move
//	player 0: tick=12 state=Running dropped=0 desyncs=0 stalls=0
//	  t=2 IssueMove worker#1 pos=(10.00,0.00,5.00)
func Snapshot(name string, result *Result) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "scenario: %s\n", name)
	for _, p := range result.Peers {
		fmt.Fprintf(&b, "player %d: tick=%d state=%s dropped=%d desyncs=%d stalls=%d\n",
			p.Player, p.FinalTick, p.State, p.Stats.Dropped, len(p.Desyncs), len(p.Stalls))
		for _, line := range p.Trace {
			fmt.Fprintf(&b, "  %s\n", line)
		}
		for _, d := range p.Desyncs {
			fmt.Fprintf(&b, "  desync tick=%d remote=%d\n", d.Tick, d.Player)
		}
	}
	return []byte(b.String())
}

// RunWithGolden executes a scenario and compares its snapshot against
// testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result against its golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, Snapshot(name, result))
}

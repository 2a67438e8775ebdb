package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, yaml string) *Scenario {
	t.Helper()
	s, err := ParseScenario([]byte(yaml))
	require.NoError(t, err)
	return s
}

func TestRun_TestdataScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			s, err := LoadScenario(path)
			require.NoError(t, err)

			result, err := Run(s)
			require.NoError(t, err)
			assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
			assert.Len(t, result.Peers, s.Players)
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/packet_loss.yaml")
	require.NoError(t, err)

	first, err := Run(s)
	require.NoError(t, err)
	second, err := Run(s)
	require.NoError(t, err)

	assert.Equal(t, Snapshot(s.Name, first), Snapshot(s.Name, second))
	assert.Equal(t, first.Peers[0].StateHash, second.Peers[0].StateHash)
}

func TestRun_WorldsFollowCommands(t *testing.T) {
	s := mustParse(t, `
name: world_follow
description: "The world moves a unit after its command executes"
players: 2
frames: 8
units:
  - { id: 1, name: worker, owner: 0, pos: [0, 0, 0] }
commands:
  - { frame: 0, player: 1, type: Move, source: 1, pos: [3, 0, 0] }
expect:
  states_equal: true
`)
	result, err := Run(s)
	require.NoError(t, err)
	require.True(t, result.Pass, result.Errors)

	host, ok := result.Peer(0)
	require.True(t, ok)
	assert.Equal(t, int64(8), host.FinalTick)
	assert.Equal(t, int64(1), host.Stats.Executed)
	assert.Equal(t, "Running", host.State)
}

func TestRun_UnknownEntitySkipped(t *testing.T) {
	s := mustParse(t, `
name: unknown_entity
description: "A command for a missing unit is skipped on every peer"
players: 2
frames: 5
units:
  - { id: 1, name: worker, owner: 0, pos: [0, 0, 0] }
commands:
  - { frame: 0, player: 0, type: Move, source: 99, pos: [1, 0, 0] }
  - { frame: 0, player: 1, type: Attack, source: 1, target: 42 }
  - { frame: 0, player: 1, type: Stop, source: 1 }
expect:
  final_tick: 5
  traces_equal: true
  traces:
    0: ['t=2 IssueStop worker#1']
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.True(t, result.Pass, result.Errors)
	for _, p := range result.Peers {
		assert.Equal(t, int64(2), p.Stats.Skipped, "player %d", p.Player)
	}
}

func TestRun_FailedExpectationsReported(t *testing.T) {
	s := mustParse(t, `
name: wrong_expectations
description: "Every expectation here is wrong"
players: 2
frames: 4
units:
  - { id: 1, name: worker, owner: 0, pos: [0, 0, 0] }
commands:
  - { frame: 0, player: 0, type: Stop, source: 1 }
expect:
  final_tick: 9
  traces:
    1: ['t=3 IssueStop worker#1']
  desyncs:
    - { player: 0, tick: 10, remote: 1 }
  dropped: { 0: 2 }
  stalls: { 1: 1 }
  halted: [0]
`)
	result, err := Run(s)
	require.NoError(t, err)
	assert.False(t, result.Pass)

	all := strings.Join(result.Errors, "\n")
	for _, want := range []string{
		"Assertion failed: final_tick (player 0)",
		"Assertion failed: final_tick (player 1)",
		"Assertion failed: traces (player 1)",
		"Actual: line 1: t=2 IssueStop worker#1",
		"Assertion failed: desyncs",
		"Actual: no desyncs",
		"Assertion failed: dropped (player 0)",
		"Assertion failed: stalls (player 1)",
		"Assertion failed: halted (player 0)",
	} {
		assert.Contains(t, all, want)
	}
	assert.Len(t, result.Errors, 7)
}

func TestRun_MissingPlayerInExpectation(t *testing.T) {
	s := mustParse(t, minimalScenario+`
expect:
  dropped: { 4: 0 }
`)
	result, err := Run(s)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "no such player")
}

func TestRun_DuplicateUnitRejectedAtSetup(t *testing.T) {
	s := &Scenario{
		Name:        "dup",
		Description: "bypasses validation",
		Players:     1,
		Frames:      1,
		Units:       []UnitSpec{{ID: 1, Name: "a"}, {ID: 1, Name: "b"}},
	}
	_, err := Run(s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to set up scenario dup")
}

func TestEvaluateExpectations_TracesEqual(t *testing.T) {
	result := &Result{Peers: []PeerResult{
		{Player: 0, Trace: []string{"t=2 IssueStop a#1", "t=3 IssueStop a#1"}},
		{Player: 1, Trace: []string{"t=2 IssueStop a#1"}},
	}}

	msgs := EvaluateExpectations(result, Expectations{TracesEqual: true})
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Expected: line 2: t=3 IssueStop a#1 (player 0)")
	assert.Contains(t, msgs[0], "Actual: line 2: <end of trace>")
	assert.Contains(t, msgs[0], "[1] t=2 IssueStop a#1")
}

func TestEvaluateExpectations_StatesEqual(t *testing.T) {
	result := &Result{Peers: []PeerResult{
		{Player: 0, StateHash: 0xAABBCCDD},
		{Player: 1, StateHash: 0xAABBCCDD},
		{Player: 2, StateHash: 0x00000001},
	}}

	msgs := EvaluateExpectations(result, Expectations{StatesEqual: true})
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "(player 2)")
	assert.Contains(t, msgs[0], "state hash 00000001")
}

func TestEvaluateExpectations_NothingSet(t *testing.T) {
	result := &Result{Peers: []PeerResult{{Player: 0, FinalTick: 3}}}
	assert.Empty(t, EvaluateExpectations(result, Expectations{}))
}

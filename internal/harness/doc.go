// Package harness runs lockstep scenarios: several peers, each with its own
// headless world, exchanging real protocol messages over an in-memory
// network, driven frame by frame.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: two_peer_move
//	description: "A host command executes on both peers at tick 2"
//	players: 2
//	frames: 12
//	units:
//	  - { id: 1, name: worker, owner: 0, pos: [0, 0, 0] }
//	commands:
//	  - { frame: 0, player: 0, type: Move, source: 1, pos: [10, 0, 5] }
//	inject:
//	  - { frame: 1, from: 1, to: 0, payload: "GARBAGE" }
//	drop:
//	  - { from: 1, to: 0, frames: [2, 4] }
//	corrupt:
//	  - { player: 1, tick: 10 }
//	expect:
//	  final_tick: 12
//	  traces_equal: true
//	  desyncs: []
//	  traces:
//	    0: ["t=2 IssueMove worker#1 pos=(10.00,0.00,5.00)"]
//
// Player 0 is the host; every other player is a client that knows the full
// player list up front. Each frame, injections and commands scheduled for it
// are applied first, then every peer runs Update with one tick duration, in
// player order.
//
// # Expectations
//
//   - final_tick: every peer's current tick
//   - traces_equal: every peer executed the same calls on the same ticks
//   - traces: exact execution trace per player
//   - desyncs: exactly these desync events (an empty list means none)
//   - dropped, stalls: per-player counters
//   - halted: players that must have stopped
//   - states_equal: every world hashes equal at the end
//
// # Deterministic Testing
//
// Peers get fixed session ids, the in-memory network delivers in send order,
// and no wall clock is read, so a scenario produces byte-identical traces on
// every run. Snapshots are compared against testdata/golden with goldie.
package harness

package harness

import (
	"github.com/roach88/lockstep/internal/checksum"
	"github.com/roach88/lockstep/internal/lockstep"
)

// Result is the outcome of a scenario run.
type Result struct {
	// Pass indicates overall success.
	// True if every expectation matched.
	Pass bool `json:"pass"`

	// Peers holds the final view of every player, in player order.
	Peers []PeerResult `json:"peers"`

	// Errors contains failed expectations.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// PeerResult is one player's final view of the run.
type PeerResult struct {
	Player    int              `json:"player"`
	FinalTick int64            `json:"final_tick"`
	State     string           `json:"state"`
	Trace     []string         `json:"trace"`
	Desyncs   []checksum.Desync `json:"desyncs,omitempty"`
	Stalls    []lockstep.Stall `json:"stalls,omitempty"`
	Stats     lockstep.Stats   `json:"stats"`
	StateHash uint32           `json:"state_hash"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Peers:  []PeerResult{},
		Errors: []string{},
	}
}

// AddError adds a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Peer returns the result for player.
func (r *Result) Peer(player int) (PeerResult, bool) {
	for _, p := range r.Peers {
		if p.Player == player {
			return p, true
		}
	}
	return PeerResult{}, false
}

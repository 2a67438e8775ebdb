package testutil

// FixedSessionID generates the same session id every time.
//
// This enables deterministic test execution and golden trace comparison.
// The same scenario with the same FixedSessionID produces byte-identical traces.
// Every peer in a scenario reports the same session.
//
// Thread-safety: FixedSessionID is stateless and safe for concurrent use.
type FixedSessionID struct {
	id string
}

// NewFixedSessionID creates a fixed session id generator.
//
// The id is typically set in the scenario YAML:
//
//	session_id: "test-session-0001"
//
// If id is empty, Generate() returns "test-session-default".
func NewFixedSessionID(id string) *FixedSessionID {
	if id == "" {
		id = "test-session-default"
	}
	return &FixedSessionID{id: id}
}

// Generate returns the fixed session id.
//
// Implements lockstep.IDGenerator interface.
func (g *FixedSessionID) Generate() string {
	return g.id
}

package testutil

import (
	"fmt"
	"strings"
	"sync"

	"github.com/roach88/lockstep/internal/command"
	"github.com/roach88/lockstep/internal/netid"
)

// Call is one recorded executor invocation.
type Call struct {
	Tick       int64
	Method     string
	Entity     any
	Target     any
	Secondary  any
	BuildingID string
	Position   command.Vec3
}

// String renders the call on one line for trace comparison, e.g.
//
//	t=2 IssueMove unit-1 pos=(10.00,0.00,5.00)
func (c Call) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "t=%d %s %v", c.Tick, c.Method, c.Entity)
	switch c.Method {
	case "IssueMove", "SetRallyPoint":
		fmt.Fprintf(&b, " pos=%s", formatVec(c.Position))
	case "IssueAttack", "IssueHeal":
		fmt.Fprintf(&b, " target=%v", c.Target)
	case "IssueGather":
		fmt.Fprintf(&b, " resource=%v deposit=%v", c.Target, c.Secondary)
	case "IssueBuild":
		fmt.Fprintf(&b, " site=%v building=%q pos=%s", c.Target, c.BuildingID, formatVec(c.Position))
	}
	return b.String()
}

func formatVec(v command.Vec3) string {
	return fmt.Sprintf("(%.2f,%.2f,%.2f)", v.X, v.Y, v.Z)
}

// RecordingExecutor records every call in order. Calls are stamped with the
// tick set through SetTick; wire it to the session's tick-advanced event:
//
//	exec := testutil.NewRecordingExecutor()
//	sess.OnTickAdvanced(exec.SetTick)
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type RecordingExecutor struct {
	mu    sync.Mutex
	tick  int64
	calls []Call
}

// NewRecordingExecutor creates an executor stamping tick 0.
func NewRecordingExecutor() *RecordingExecutor {
	return &RecordingExecutor{}
}

// SetTick sets the tick stamped on subsequent calls.
func (r *RecordingExecutor) SetTick(tick int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tick = tick
}

func (r *RecordingExecutor) record(c Call) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c.Tick = r.tick
	r.calls = append(r.calls, c)
}

// Calls returns a copy of every recorded call.
func (r *RecordingExecutor) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// CallsAt returns the calls recorded for one tick.
func (r *RecordingExecutor) CallsAt(tick int64) []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Tick == tick {
			out = append(out, c)
		}
	}
	return out
}

// Trace renders every call, one per line.
func (r *RecordingExecutor) Trace() string {
	var b strings.Builder
	for _, c := range r.Calls() {
		b.WriteString(c.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// Reset forgets all calls and returns to tick 0.
func (r *RecordingExecutor) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
	r.tick = 0
}

func (r *RecordingExecutor) IssueMove(e any, pos command.Vec3) {
	r.record(Call{Method: "IssueMove", Entity: e, Position: pos})
}

func (r *RecordingExecutor) IssueAttack(e, target any) {
	r.record(Call{Method: "IssueAttack", Entity: e, Target: target})
}

func (r *RecordingExecutor) IssueStop(e any) {
	r.record(Call{Method: "IssueStop", Entity: e})
}

func (r *RecordingExecutor) IssueGather(e, resource, deposit any) {
	r.record(Call{Method: "IssueGather", Entity: e, Target: resource, Secondary: deposit})
}

func (r *RecordingExecutor) IssueBuild(e, site any, buildingID string, pos command.Vec3) {
	r.record(Call{Method: "IssueBuild", Entity: e, Target: site, BuildingID: buildingID, Position: pos})
}

func (r *RecordingExecutor) IssueHeal(e, target any) {
	r.record(Call{Method: "IssueHeal", Entity: e, Target: target})
}

func (r *RecordingExecutor) SetRallyPoint(e any, pos command.Vec3) {
	r.record(Call{Method: "SetRallyPoint", Entity: e, Position: pos})
}

// MapResolver resolves NetworkIds from a fixed map.
type MapResolver map[netid.ID]any

// FindEntityByNetworkID implements lockstep.Resolver.
func (m MapResolver) FindEntityByNetworkID(id netid.ID) (any, bool) {
	e, ok := m[id]
	return e, ok
}

// FixedHasher returns a preset hash per tick, or Default for unlisted ticks.
type FixedHasher struct {
	Default uint32
	ByTick  map[int64]uint32
}

// StateHash implements checksum.StateHasher.
func (h FixedHasher) StateHash(tick int64) uint32 {
	if sum, ok := h.ByTick[tick]; ok {
		return sum
	}
	return h.Default
}

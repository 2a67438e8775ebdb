package lockstep

import (
	"github.com/roach88/lockstep/internal/command"
	"github.com/roach88/lockstep/internal/netid"
)

// Entity is whatever handle the host world uses for a simulated entity. The
// core never inspects it; it only passes resolved entities back to the
// Executor.
type Entity = any

// Executor applies commands to the world. Exactly one method is called per
// executed command. Optional targets are passed as nil.
type Executor interface {
	IssueMove(e Entity, pos command.Vec3)
	IssueAttack(e, target Entity)
	IssueStop(e Entity)
	IssueGather(e, resource, deposit Entity)
	IssueBuild(e, site Entity, buildingID string, pos command.Vec3)
	IssueHeal(e, target Entity)
	SetRallyPoint(e Entity, pos command.Vec3)
}

// Resolver maps NetworkIds to world entities.
type Resolver interface {
	FindEntityByNetworkID(id netid.ID) (Entity, bool)
}

// TickRecord describes one executed tick.
type TickRecord struct {
	Tick        int64
	Commands    []command.Command // in execution order, skipped commands excluded
	Checksum    uint32
	HasChecksum bool
}

// Recorder receives every executed tick, for example to journal a session.
type Recorder interface {
	RecordTick(rec TickRecord) error
}

// IDGenerator creates session identifiers.
// Implemented by UUIDv7Generator (production) and testutil.FixedSessionID
// (tests).
type IDGenerator interface {
	Generate() string
}

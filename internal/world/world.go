// Package world is a small headless simulation used by the lockstep CLI and
// scenario runs. It keeps units in a netid side-table, applies commands as
// orders, advances movement once per tick and hashes its state for
// desync checks.
package world

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"lukechampine.com/blake3"

	"github.com/roach88/lockstep/internal/command"
	"github.com/roach88/lockstep/internal/lockstep"
	"github.com/roach88/lockstep/internal/netid"
)

// Simulation constants.
const (
	MaxHealth   = 100
	Speed       = 1.0 // distance per tick
	AttackPower = 10
	HealPower   = 5
)

// Unit is a simulated entity.
type Unit struct {
	ID       netid.ID
	Name     string
	Owner    int
	Position command.Vec3
	Health   int

	Order       string // idle, move, attack, gather, build, heal
	Destination command.Vec3
	Target      netid.ID
	Secondary   netid.ID
	Building    string
	Rally       command.Vec3
}

// String renders the unit as name#id, as it appears in execution traces.
func (u *Unit) String() string {
	return fmt.Sprintf("%s#%d", u.Name, u.ID)
}

// World owns every unit. It implements lockstep.Resolver, lockstep.Executor
// and checksum.StateHasher.
//
// Thread-safety: not safe for concurrent use; it runs on the simulation
// thread with the session.
type World struct {
	alloc  *netid.Allocator
	table  *netid.Table[*Unit]
	tick   int64
	logger *slog.Logger
}

var (
	_ lockstep.Resolver = (*World)(nil)
	_ lockstep.Executor = (*World)(nil)
)

// Option configures a World.
type Option func(*World)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(w *World) {
		w.logger = l
	}
}

// New creates an empty world.
func New(opts ...Option) *World {
	w := &World{
		alloc:  netid.NewAllocator(),
		table:  netid.NewTable[*Unit](),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Spawn creates a unit with the next free ID.
func (w *World) Spawn(name string, owner int, pos command.Vec3) *Unit {
	u := &Unit{Name: name, Owner: owner, Position: pos, Health: MaxHealth, Order: "idle"}
	rec, err := w.table.Register(w.alloc, u, w.tick)
	if err != nil {
		// A fresh pointer and a fresh ID cannot collide.
		panic(fmt.Sprintf("world: register %s: %v", name, err))
	}
	u.ID = rec.ID
	return u
}

// SpawnWithID creates a unit under an ID chosen elsewhere, such as a
// scenario file. Later Spawn calls allocate above it.
func (w *World) SpawnWithID(id netid.ID, name string, owner int, pos command.Vec3) (*Unit, error) {
	if !id.Valid() {
		return nil, fmt.Errorf("spawn %s: invalid id", name)
	}
	u := &Unit{ID: id, Name: name, Owner: owner, Position: pos, Health: MaxHealth, Order: "idle"}
	if err := w.table.Attach(u, id, w.tick); err != nil {
		return nil, fmt.Errorf("spawn %s: %w", name, err)
	}
	w.alloc.SyncTo(id)
	return u, nil
}

// Despawn removes a unit. Its ID is never reused.
func (w *World) Despawn(id netid.ID) {
	if u, ok := w.table.Lookup(id); ok {
		w.table.Detach(u)
	}
}

// Unit returns the unit bound to id.
func (w *World) Unit(id netid.ID) (*Unit, bool) {
	return w.table.Lookup(id)
}

// Units returns every unit in ID order.
func (w *World) Units() []*Unit {
	ids := w.table.IDs()
	out := make([]*Unit, 0, len(ids))
	for _, id := range ids {
		u, _ := w.table.Lookup(id)
		out = append(out, u)
	}
	return out
}

// Len returns the number of units.
func (w *World) Len() int {
	return w.table.Len()
}

// FindEntityByNetworkID implements lockstep.Resolver.
func (w *World) FindEntityByNetworkID(id netid.ID) (lockstep.Entity, bool) {
	u, ok := w.table.Lookup(id)
	if !ok {
		return nil, false
	}
	return u, true
}

func (w *World) unit(e lockstep.Entity) *Unit {
	u, ok := e.(*Unit)
	if !ok && e != nil {
		w.logger.Warn("ignoring foreign entity", "type", fmt.Sprintf("%T", e))
	}
	return u
}

func idOf(u *Unit) netid.ID {
	if u == nil {
		return netid.None
	}
	return u.ID
}

// IssueMove sends the unit toward pos, dropping any target.
func (w *World) IssueMove(e lockstep.Entity, pos command.Vec3) {
	if u := w.unit(e); u != nil {
		u.Order, u.Destination, u.Target = "move", pos, netid.None
	}
}

// IssueAttack targets another unit, dealing AttackPower immediately.
func (w *World) IssueAttack(e, target lockstep.Entity) {
	u, t := w.unit(e), w.unit(target)
	if u == nil || t == nil {
		return
	}
	u.Order, u.Target = "attack", t.ID
	t.Health = max(0, t.Health-AttackPower)
}

// IssueStop idles the unit where it stands.
func (w *World) IssueStop(e lockstep.Entity) {
	if u := w.unit(e); u != nil {
		u.Order, u.Target, u.Secondary = "idle", netid.None, netid.None
		u.Destination = u.Position
	}
}

// IssueGather sends the unit to resource and records deposit as its drop-off.
func (w *World) IssueGather(e, resource, deposit lockstep.Entity) {
	u, r := w.unit(e), w.unit(resource)
	if u == nil || r == nil {
		return
	}
	u.Order, u.Target, u.Secondary = "gather", r.ID, idOf(w.unit(deposit))
	u.Destination = r.Position
}

// IssueBuild orders a build on site. Without a site the unit produces a new
// unit named buildingID at pos, or at its own position when pos is zero.
func (w *World) IssueBuild(e, site lockstep.Entity, buildingID string, pos command.Vec3) {
	u := w.unit(e)
	if u == nil {
		return
	}
	if s := w.unit(site); s != nil {
		u.Order, u.Target, u.Building = "build", s.ID, buildingID
		u.Destination = pos
		return
	}
	at := pos
	if at == (command.Vec3{}) {
		at = u.Position
	}
	spawned := w.Spawn(buildingID, u.Owner, at)
	if u.Rally != (command.Vec3{}) {
		spawned.Order, spawned.Destination = "move", u.Rally
	}
	w.logger.Debug("unit produced", "by", u.ID, "unit", spawned.ID, "name", buildingID, "tick", w.tick)
}

// IssueHeal restores HealPower to target, capped at MaxHealth.
func (w *World) IssueHeal(e, target lockstep.Entity) {
	u, t := w.unit(e), w.unit(target)
	if u == nil || t == nil {
		return
	}
	u.Order, u.Target = "heal", t.ID
	t.Health = min(MaxHealth, t.Health+HealPower)
}

// SetRallyPoint sets where units the unit produces head first.
func (w *World) SetRallyPoint(e lockstep.Entity, pos command.Vec3) {
	if u := w.unit(e); u != nil {
		u.Rally = pos
	}
}

// Step advances the world to tick: every moving unit travels up to Speed
// toward its destination. Register it with Session.OnTickAdvanced.
func (w *World) Step(tick int64) {
	w.tick = tick
	for _, u := range w.Units() {
		switch u.Order {
		case "move", "gather":
			if moveToward(u, u.Destination) && u.Order == "move" {
				u.Order = "idle"
			}
		}
	}
}

// moveToward moves u one step and reports whether it arrived.
func moveToward(u *Unit, dst command.Vec3) bool {
	dx, dy, dz := dst.X-u.Position.X, dst.Y-u.Position.Y, dst.Z-u.Position.Z
	dist := math.Sqrt(dx*dx + dy*dy + dz*dz)
	if dist <= Speed+1e-9 {
		u.Position = dst
		return true
	}
	f := Speed / dist
	u.Position = command.Vec3{
		X: quantize(u.Position.X + dx*f),
		Y: quantize(u.Position.Y + dy*f),
		Z: quantize(u.Position.Z + dz*f),
	}
	return false
}

// quantize rounds to the wire precision so positions stay comparable across
// peers and in traces.
func quantize(f float64) float64 {
	return math.Round(f*100) / 100
}

// StateHash hashes every unit in ID order. The result is independent of map
// iteration order and of where units were allocated in memory.
func (w *World) StateHash(tick int64) uint32 {
	h := blake3.New(32, nil)
	h.Write([]byte(strconv.FormatInt(tick, 10)))
	for _, u := range w.Units() {
		fmt.Fprintf(h, "|%d,%s,%d,%.2f,%.2f,%.2f,%d,%s,%d,%d,%s",
			u.ID, u.Name, u.Owner,
			u.Position.X, u.Position.Y, u.Position.Z,
			u.Health, u.Order, u.Target, u.Secondary, u.Building)
	}
	sum := h.Sum(nil)
	return binary.BigEndian.Uint32(sum[:4])
}

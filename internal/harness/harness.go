package harness

import (
	"fmt"
	"io"
	"log/slog"
	"net/netip"
	"time"

	"github.com/roach88/lockstep/internal/checksum"
	"github.com/roach88/lockstep/internal/command"
	"github.com/roach88/lockstep/internal/lockstep"
	"github.com/roach88/lockstep/internal/netid"
	"github.com/roach88/lockstep/internal/peer"
	"github.com/roach88/lockstep/internal/testutil"
	"github.com/roach88/lockstep/internal/transport"
	"github.com/roach88/lockstep/internal/world"
)

// Harness drives every peer of one scenario on a shared in-memory network.
type Harness struct {
	scenario *Scenario
	hub      *transport.Hub
	peers    []*peerRun
	players  map[netip.AddrPort]int
	frame    int
	logger   *slog.Logger
}

type peerRun struct {
	player  int
	session *lockstep.Session
	lb      *transport.Loopback
	world   *world.World
	rec     *testutil.RecordingExecutor
	tick    time.Duration
	desyncs []checksum.Desync
	stalls  []lockstep.Stall
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger routes session logs to l. Runs are silent by default.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// Run executes a scenario and returns the result.
//
// Each run builds a fresh network and fresh worlds. Execution flow:
//  1. Join every player to the hub and build its session and world
//  2. Start every session
//  3. For each frame: inject datagrams, queue commands, update every peer
//  4. Collect each peer's final view and check expectations
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	h := &Harness{
		scenario: scenario,
		hub:      transport.NewHub(),
		players:  make(map[netip.AddrPort]int),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(h)
	}
	defer h.shutdown()

	if err := h.setup(); err != nil {
		return nil, fmt.Errorf("failed to set up scenario %s: %w", scenario.Name, err)
	}
	for _, p := range h.peers {
		if err := p.session.StartSimulation(); err != nil {
			return nil, fmt.Errorf("player %d: %w", p.player, err)
		}
	}

	for h.frame = 0; h.frame < scenario.Frames; h.frame++ {
		if err := h.step(); err != nil {
			return nil, fmt.Errorf("frame %d: %w", h.frame, err)
		}
	}

	result := h.collect()
	for _, msg := range EvaluateExpectations(result, scenario.Expect) {
		result.AddError(msg)
	}
	return result, nil
}

// setup joins every player to the hub, then builds sessions once every
// address is known.
func (h *Harness) setup() error {
	s := h.scenario
	addrs := make([]netip.AddrPort, s.Players)
	loops := make([]*transport.Loopback, s.Players)
	for i := range s.Players {
		lb, err := h.hub.Join(netip.AddrPort{})
		if err != nil {
			return err
		}
		addrs[i], loops[i] = lb.LocalAddr(), lb
		h.players[addrs[i]] = i
	}
	h.hub.SetFilter(h.deliver)

	corrupt := make(map[int]map[int64]bool)
	for _, c := range s.Corrupt {
		if corrupt[c.Player] == nil {
			corrupt[c.Player] = make(map[int64]bool)
		}
		corrupt[c.Player][c.Tick] = true
	}

	for i := range s.Players {
		p, err := h.newPeer(i, addrs, loops[i], corrupt[i])
		if err != nil {
			return fmt.Errorf("player %d: %w", i, err)
		}
		h.peers = append(h.peers, p)
	}
	return nil
}

func (h *Harness) newPeer(player int, addrs []netip.AddrPort, lb *transport.Loopback, corrupt map[int64]bool) (*peerRun, error) {
	s := h.scenario

	cfg := lockstep.DefaultConfig()
	cfg.LocalPlayer = player
	cfg.BindAddr = addrs[player]
	cfg.PingInterval = 0
	cfg.HaltOnDesync = s.HaltOnDesync
	if s.InputDelay > 0 {
		cfg.InputDelay = s.InputDelay
	}
	if s.ChecksumInterval > 0 {
		cfg.ChecksumInterval = s.ChecksumInterval
	}
	if player == peer.HostPlayer {
		cfg.Role = lockstep.Host
		for i := 1; i < s.Players; i++ {
			cfg.Remotes = append(cfg.Remotes, peer.Remote{Addr: addrs[i], Player: i})
		}
	} else {
		cfg.Role = lockstep.Client
		cfg.HostAddr = addrs[peer.HostPlayer]
		for i := range s.Players {
			cfg.SessionPlayers = append(cfg.SessionPlayers, i)
		}
	}

	w := world.New(world.WithLogger(h.logger))
	for _, u := range s.Units {
		pos := command.Vec3{X: u.Pos[0], Y: u.Pos[1], Z: u.Pos[2]}
		if _, err := w.SpawnWithID(netid.ID(u.ID), u.Name, u.Owner, pos); err != nil {
			return nil, err
		}
	}

	hasher := checksum.HasherFunc(func(tick int64) uint32 {
		sum := w.StateHash(tick)
		if corrupt[tick] {
			sum ^= 0xFFFFFFFF
		}
		return sum
	})

	sessionID := s.SessionID
	if sessionID == "" {
		sessionID = s.Name
	}

	rec := testutil.NewRecordingExecutor()
	sess, err := lockstep.New(cfg, tee{rec, w}, w,
		lockstep.WithTransport(lb),
		lockstep.WithStateHasher(hasher),
		lockstep.WithLogger(h.logger),
		lockstep.WithIDGenerator(testutil.NewFixedSessionID(sessionID)),
	)
	if err != nil {
		return nil, err
	}

	p := &peerRun{player: player, session: sess, lb: lb, world: w, rec: rec, tick: cfg.TickDuration}
	sess.OnTickAdvanced(rec.SetTick)
	sess.OnTickAdvanced(w.Step)
	sess.OnDesync(func(d checksum.Desync) {
		p.desyncs = append(p.desyncs, d)
	})
	sess.OnStall(func(st lockstep.Stall) {
		p.stalls = append(p.stalls, st)
	})
	return p, nil
}

// deliver is the hub filter: it drops datagrams matched by a drop rule for
// the current frame.
func (h *Harness) deliver(from, to netip.AddrPort, _ string) bool {
	src, dst := h.players[from], h.players[to]
	for _, d := range h.scenario.Drop {
		if d.From == src && d.To == dst && h.frame >= d.Frames[0] && h.frame <= d.Frames[1] {
			return false
		}
	}
	return true
}

// step runs one frame.
func (h *Harness) step() error {
	s := h.scenario
	for _, in := range s.Inject {
		if in.Frame == h.frame {
			h.peers[in.To].lb.Inject(h.peers[in.From].lb.LocalAddr(), in.Payload)
		}
	}
	for i, c := range s.Commands {
		if c.Frame != h.frame {
			continue
		}
		cmd, err := c.Command()
		if err != nil {
			return fmt.Errorf("commands[%d]: %w", i, err)
		}
		if _, err := h.peers[c.Player].session.QueueCommand(cmd); err != nil {
			return fmt.Errorf("commands[%d]: %w", i, err)
		}
	}
	for _, p := range h.peers {
		p.session.Update(p.tick)
	}
	return nil
}

func (h *Harness) collect() *Result {
	result := NewResult()
	for _, p := range h.peers {
		trace := []string{}
		for _, c := range p.rec.Calls() {
			trace = append(trace, c.String())
		}
		result.Peers = append(result.Peers, PeerResult{
			Player:    p.player,
			FinalTick: p.session.CurrentTick(),
			State:     p.session.State().String(),
			Trace:     trace,
			Desyncs:   p.desyncs,
			Stalls:    p.stalls,
			Stats:     p.session.Stats(),
			StateHash: p.world.StateHash(p.session.CurrentTick()),
		})
	}
	return result
}

func (h *Harness) shutdown() {
	for _, p := range h.peers {
		_ = p.session.Shutdown()
	}
}

// tee forwards every call to each executor in order.
type tee []lockstep.Executor

func (t tee) IssueMove(e lockstep.Entity, pos command.Vec3) {
	for _, x := range t {
		x.IssueMove(e, pos)
	}
}

func (t tee) IssueAttack(e, target lockstep.Entity) {
	for _, x := range t {
		x.IssueAttack(e, target)
	}
}

func (t tee) IssueStop(e lockstep.Entity) {
	for _, x := range t {
		x.IssueStop(e)
	}
}

func (t tee) IssueGather(e, resource, deposit lockstep.Entity) {
	for _, x := range t {
		x.IssueGather(e, resource, deposit)
	}
}

func (t tee) IssueBuild(e, site lockstep.Entity, buildingID string, pos command.Vec3) {
	for _, x := range t {
		x.IssueBuild(e, site, buildingID, pos)
	}
}

func (t tee) IssueHeal(e, target lockstep.Entity) {
	for _, x := range t {
		x.IssueHeal(e, target)
	}
}

func (t tee) SetRallyPoint(e lockstep.Entity, pos command.Vec3) {
	for _, x := range t {
		x.SetRallyPoint(e, pos)
	}
}

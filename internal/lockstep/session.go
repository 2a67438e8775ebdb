// Package lockstep runs a deterministic lockstep session: every peer executes
// the same commands, in the same order, on the same tick.
//
// A Session is driven by calling Update once per frame from the simulation
// thread. Update never blocks: when a peer has not confirmed the current tick
// the session waits (WaitingForPeers) and retries next frame.
package lockstep

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/roach88/lockstep/internal/checksum"
	"github.com/roach88/lockstep/internal/command"
	"github.com/roach88/lockstep/internal/peer"
	"github.com/roach88/lockstep/internal/queue"
	"github.com/roach88/lockstep/internal/transport"
)

// State is the scheduler state.
type State int

const (
	Idle State = iota
	Running
	Advancing
	WaitingForPeers
	Stopped
)

var stateNames = [...]string{"Idle", "Running", "Advancing", "WaitingForPeers", "Stopped"}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

var (
	// ErrNotIdle is returned when starting a session that already started.
	ErrNotIdle = errors.New("session already started")

	// ErrStopped is returned for operations on a stopped session.
	ErrStopped = errors.New("session stopped")
)

// PONG replies per second allowed to one address.
const pongRate, pongBurst = 20, 40

// Stall reports a wait on peers that exceeded Config.StallWarnAfter.
type Stall struct {
	Tick    int64
	Waiting []int
	Waited  time.Duration
}

// Stats is a snapshot of session counters.
type Stats struct {
	Tick     int64
	State    State
	Executed int64
	Skipped  int64
	Dropped  int64
	Desyncs  int64
	Stalls   int64
}

// Session is one participant's view of a lockstep game.
//
// Thread-safety: not safe for concurrent use. StartSimulation, Update,
// QueueCommand and Shutdown must be called from the simulation thread. The
// event handlers run synchronously inside those calls.
type Session struct {
	cfg      Config
	id       string
	logger   *slog.Logger
	tx       transport.Transport
	peers    *peer.Registry
	queue    *queue.Queue
	checks   *checksum.Validator
	stream   *checksum.StreamHasher // set when no external hasher was supplied
	exec     Executor
	resolver Resolver
	recorder Recorder
	pongs    *transport.AddrLimiter
	now      func() time.Time
	metrics  *metrics

	state       State
	current     int64
	published   atomic.Int64 // current, for metric callbacks
	accumulated time.Duration
	sinceResend time.Duration
	sincePing   time.Duration
	waited      time.Duration
	stallSent   bool
	closed      bool

	stats Stats

	onTick   []func(newTick int64)
	onDesync []func(checksum.Desync)
	onStall  []func(Stall)
}

type options struct {
	tx     transport.Transport
	hasher checksum.StateHasher
	logger *slog.Logger
	meter  metric.Meter
	ids    IDGenerator
	now    func() time.Time
}

// Option configures a Session.
type Option func(*options)

// WithTransport supplies the transport instead of binding a UDP socket. The
// session takes ownership and closes it on Shutdown.
func WithTransport(tx transport.Transport) Option {
	return func(o *options) {
		o.tx = tx
	}
}

// WithStateHasher supplies the world state hash. Without one, the session
// hashes the stream of executed commands.
func WithStateHasher(h checksum.StateHasher) Option {
	return func(o *options) {
		o.hasher = h
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMeter sets the OpenTelemetry meter. Defaults to the global provider.
func WithMeter(m metric.Meter) Option {
	return func(o *options) {
		o.meter = m
	}
}

// WithIDGenerator sets the session id source. Defaults to UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(o *options) {
		o.ids = g
	}
}

// WithNow sets the wall clock used for latency probes.
func WithNow(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New builds a session from configuration. It binds the UDP socket unless a
// transport is supplied; failing to create any socket is fatal.
func New(cfg Config, exec Executor, resolver Resolver, opts ...Option) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if exec == nil || resolver == nil {
		return nil, errors.New("new session: executor and resolver are required")
	}

	o := options{
		logger: slog.Default(),
		ids:    UUIDv7Generator{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.meter == nil {
		o.meter = meter()
	}

	s := &Session{
		cfg:      cfg,
		id:       o.ids.Generate(),
		exec:     exec,
		resolver: resolver,
		now:      o.now,
		pongs:    transport.NewAddrLimiter(pongRate, pongBurst),
	}
	s.logger = o.logger.With("session", s.id, "player", cfg.LocalPlayer)

	var err error
	switch cfg.Role {
	case Host:
		s.peers, err = peer.NewHostRegistry(cfg.Faction, cfg.Remotes)
	case Client:
		s.peers, err = peer.NewClientRegistry(cfg.LocalPlayer, cfg.Faction, cfg.HostAddr, cfg.SessionPlayers...)
	}
	if err != nil {
		return nil, fmt.Errorf("new session: %w", err)
	}

	s.tx = o.tx
	if s.tx == nil {
		udp, err := transport.ListenUDP(cfg.BindAddr,
			transport.WithLogger(o.logger),
			transport.WithMaxDatagrams(cfg.MaxDatagrams))
		if err != nil {
			return nil, fmt.Errorf("new session: %w", err)
		}
		s.tx = udp
	}
	s.tx.SetPeers(s.peers.Addrs())

	hasher := o.hasher
	if hasher == nil {
		s.stream = checksum.NewStreamHasher()
		hasher = s.stream
	}
	s.checks = checksum.NewValidator(cfg.ChecksumInterval, hasher, checksum.WithHoldWindow(cfg.RetentionTicks))
	s.queue = queue.New(cfg.InputDelay, s.peers, s.tx, s.logger)

	if s.metrics, err = newMetrics(o.meter, s); err != nil {
		_ = s.tx.Close()
		return nil, fmt.Errorf("new session: %w", err)
	}
	return s, nil
}

// OnTickAdvanced registers a handler called after each executed tick with
// the new current tick.
func (s *Session) OnTickAdvanced(fn func(newTick int64)) {
	s.onTick = append(s.onTick, fn)
}

// OnDesync registers a handler for checksum mismatches.
func (s *Session) OnDesync(fn func(checksum.Desync)) {
	s.onDesync = append(s.onDesync, fn)
}

// OnStall registers a handler called once per wait that exceeds
// Config.StallWarnAfter.
func (s *Session) OnStall(fn func(Stall)) {
	s.onStall = append(s.onStall, fn)
}

// AttachRecorder sets the recorder that receives every executed tick.
func (s *Session) AttachRecorder(r Recorder) {
	s.recorder = r
}

// StartSimulation confirms the ticks that precede the first input tick with
// empty command sets, locally and on the wire, so the pipeline is primed.
func (s *Session) StartSimulation() error {
	switch s.state {
	case Idle:
	case Stopped:
		return ErrStopped
	default:
		return ErrNotIdle
	}

	if _, err := s.queue.ConfirmTick(int64(s.cfg.InputDelay) - 1); err != nil {
		return fmt.Errorf("start simulation: %w", err)
	}
	s.state = Running
	s.logger.Info("simulation started",
		"role", s.cfg.Role.String(),
		"addr", s.tx.LocalAddr().String(),
		"peers", s.peers.Len(),
		"input_delay", s.cfg.InputDelay)
	return nil
}

// QueueCommand schedules a local command InputDelay ticks ahead and returns
// it as it will execute.
func (s *Session) QueueCommand(cmd command.Command) (command.Command, error) {
	if s.state == Stopped {
		return command.Command{}, ErrStopped
	}
	return s.queue.QueueLocal(cmd, s.current)
}

// Shutdown closes the transport and clears every buffer. Safe to call at any
// point, repeatedly, including before StartSimulation.
func (s *Session) Shutdown() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.state = Stopped

	err := s.tx.Close()
	s.queue.Clear()
	s.peers.Clear()
	s.checks.Clear()
	s.pongs.Reset()
	s.metrics.unregister()

	s.logger.Info("session shut down", "tick", s.current)
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// State returns the scheduler state.
func (s *Session) State() State {
	return s.state
}

// CurrentTick returns the next tick to execute.
func (s *Session) CurrentTick() int64 {
	return s.current
}

// CanAdvance reports whether every peer has confirmed the current tick.
func (s *Session) CanAdvance() bool {
	return s.queue.CanAdvance(s.current)
}

// LocalPlayer returns the local player index.
func (s *Session) LocalPlayer() int {
	return s.cfg.LocalPlayer
}

// LocalAddr returns the bound transport address.
func (s *Session) LocalAddr() netip.AddrPort {
	return s.tx.LocalAddr()
}

// Peers returns every participant, local included, ordered by player index.
func (s *Session) Peers() []peer.Peer {
	return s.peers.All()
}

// Stats returns a snapshot of session counters.
func (s *Session) Stats() Stats {
	st := s.stats
	st.Tick = s.current
	st.State = s.state
	return st
}

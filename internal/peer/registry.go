// Package peer tracks the participants of a lockstep session: their
// addresses, player indices, factions, confirmation progress and latency.
package peer

import (
	"fmt"
	"net/netip"
	"slices"
	"time"
)

// HostPlayer is the player index reserved for the session host.
const HostPlayer = 0

// Unconfirmed is the confirmed tick of a peer that has confirmed nothing yet.
const Unconfirmed int64 = -1

// latencyWeight is the EWMA smoothing factor applied to new RTT samples.
const latencyWeight = 0.125

// Peer is one participant. The local participant is tracked too so that
// confirmation checks cover every peer, local included.
type Peer struct {
	Player    int
	Addr      netip.AddrPort // zero for the local peer
	Faction   int
	Confirmed int64
	Latency   time.Duration // smoothed round-trip time; zero until measured
	Local     bool
	Relayed   bool // reached only through the host's relay; no direct address
}

// Remote describes a configured remote participant.
type Remote struct {
	Addr    netip.AddrPort
	Faction int
	Player  int // zero means "assign in configuration order"
}

// Registry owns peer confirmation state.
//
// Thread-safety: not safe for concurrent use.
type Registry struct {
	local  int
	peers  map[int]*Peer
	byAddr map[netip.AddrPort]int
}

func newRegistry(local, faction int) *Registry {
	r := &Registry{
		local:  local,
		peers:  make(map[int]*Peer),
		byAddr: make(map[netip.AddrPort]int),
	}
	r.peers[local] = &Peer{Player: local, Faction: faction, Confirmed: Unconfirmed, Local: true}
	return r
}

// NewHostRegistry builds the host's view. The host is player 0; remotes get
// indices 1..n in the given order unless they name an explicit index.
func NewHostRegistry(hostFaction int, remotes []Remote) (*Registry, error) {
	r := newRegistry(HostPlayer, hostFaction)

	next := 1
	for i, rem := range remotes {
		if !rem.Addr.IsValid() {
			return nil, fmt.Errorf("remote %d: invalid address", i)
		}
		player := rem.Player
		if player == 0 {
			for r.peers[next] != nil {
				next++
			}
			player = next
		}
		if err := r.add(&Peer{Player: player, Addr: rem.Addr, Faction: rem.Faction, Confirmed: Unconfirmed}); err != nil {
			return nil, fmt.Errorf("remote %d: %w", i, err)
		}
	}
	return r, nil
}

// NewClientRegistry builds a client's view: the local participant, a single
// direct entry for the host and a relayed entry for each of others.
func NewClientRegistry(local, faction int, host netip.AddrPort, others ...int) (*Registry, error) {
	if local == HostPlayer {
		return nil, fmt.Errorf("client cannot use host player index %d", HostPlayer)
	}
	if !host.IsValid() {
		return nil, fmt.Errorf("invalid host address")
	}
	r := newRegistry(local, faction)
	if err := r.add(&Peer{Player: HostPlayer, Addr: host, Confirmed: Unconfirmed}); err != nil {
		return nil, err
	}
	for _, p := range others {
		if p == local || p == HostPlayer {
			continue
		}
		if _, err := r.AddRelayed(p); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(p *Peer) error {
	if p.Player < 0 {
		return fmt.Errorf("negative player index %d", p.Player)
	}
	if _, dup := r.peers[p.Player]; dup {
		return fmt.Errorf("duplicate player index %d", p.Player)
	}
	if p.Addr.IsValid() {
		if other, dup := r.byAddr[p.Addr]; dup {
			return fmt.Errorf("address %s already used by player %d", p.Addr, other)
		}
		r.byAddr[p.Addr] = p.Player
	}
	r.peers[p.Player] = p
	return nil
}

// AddRelayed registers a player known only through the host's relay. It
// returns false when the player was already known.
func (r *Registry) AddRelayed(player int) (bool, error) {
	if _, ok := r.peers[player]; ok {
		return false, nil
	}
	if err := r.add(&Peer{Player: player, Confirmed: Unconfirmed, Relayed: true}); err != nil {
		return false, err
	}
	return true, nil
}

// LocalPlayer returns the local participant's player index.
func (r *Registry) LocalPlayer() int {
	return r.local
}

// Confirm raises a player's confirmed tick. It never lowers it; confirmations
// are monotonic. Returns false for unknown players.
func (r *Registry) Confirm(player int, tick int64) bool {
	p, ok := r.peers[player]
	if !ok {
		return false
	}
	if tick > p.Confirmed {
		p.Confirmed = tick
	}
	return true
}

// ConfirmedTick returns a player's confirmed tick, or Unconfirmed when unknown.
func (r *Registry) ConfirmedTick(player int) int64 {
	if p, ok := r.peers[player]; ok {
		return p.Confirmed
	}
	return Unconfirmed
}

// AllConfirmed reports whether every peer, local included, has confirmed tick.
func (r *Registry) AllConfirmed(tick int64) bool {
	for _, p := range r.peers {
		if p.Confirmed < tick {
			return false
		}
	}
	return true
}

// Waiting returns the players, ascending, that have not yet confirmed tick.
func (r *Registry) Waiting(tick int64) []int {
	var out []int
	for _, p := range r.peers {
		if p.Confirmed < tick {
			out = append(out, p.Player)
		}
	}
	slices.Sort(out)
	return out
}

// All returns copies of every peer ordered by player index.
func (r *Registry) All() []Peer {
	out := make([]Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, *p)
	}
	slices.SortFunc(out, func(a, b Peer) int { return a.Player - b.Player })
	return out
}

// Players returns every player index in ascending order.
func (r *Registry) Players() []int {
	out := make([]int, 0, len(r.peers))
	for p := range r.peers {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// Addrs returns the direct addresses of remote peers ordered by player index.
func (r *Registry) Addrs() []netip.AddrPort {
	var out []netip.AddrPort
	for _, p := range r.All() {
		if p.Addr.IsValid() {
			out = append(out, p.Addr)
		}
	}
	return out
}

// Lookup returns a copy of a peer.
func (r *Registry) Lookup(player int) (Peer, bool) {
	p, ok := r.peers[player]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// ByAddr returns the player index with a direct entry at addr.
func (r *Registry) ByAddr(addr netip.AddrPort) (int, bool) {
	player, ok := r.byAddr[addr]
	return player, ok
}

// ObserveRTT folds a round-trip sample into the peer's latency estimate.
func (r *Registry) ObserveRTT(addr netip.AddrPort, rtt time.Duration) bool {
	player, ok := r.byAddr[addr]
	if !ok || rtt < 0 {
		return false
	}
	p := r.peers[player]
	if p.Latency == 0 {
		p.Latency = rtt
	} else {
		p.Latency += time.Duration(latencyWeight * float64(rtt-p.Latency))
	}
	return true
}

// Len returns the number of peers, local included.
func (r *Registry) Len() int {
	return len(r.peers)
}

// Clear removes every peer, local included. Used on shutdown.
func (r *Registry) Clear() {
	clear(r.peers)
	clear(r.byAddr)
}

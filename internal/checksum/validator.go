// Package checksum compares periodic state hashes between peers to detect
// simulation divergence.
package checksum

import (
	"maps"
	"slices"
)

// DefaultInterval is the number of ticks between captures.
const DefaultInterval = 10

// DefaultHoldWindow is how far past the current tick a remote hash may be
// held waiting for the local capture.
const DefaultHoldWindow = 60

// StateHasher produces a deterministic 32-bit digest of world state at a tick.
type StateHasher interface {
	StateHash(tick int64) uint32
}

// HasherFunc adapts a function to StateHasher.
type HasherFunc func(tick int64) uint32

// StateHash implements StateHasher.
func (f HasherFunc) StateHash(tick int64) uint32 {
	return f(tick)
}

// Desync reports a hash mismatch with one remote peer.
type Desync struct {
	Tick   int64
	Local  uint32
	Remote uint32
	Player int
}

type report struct {
	tick   int64
	player int
}

// Validator stores local hashes by tick and checks remote ones against them.
// It is diagnostic only: it reports mismatches but never alters state.
//
// Thread-safety: not safe for concurrent use.
type Validator struct {
	interval int64
	window   int64
	hasher   StateHasher
	floor    int64 // ticks below this were pruned

	local    map[int64]uint32
	held     map[int64]map[int]uint32 // remote hashes that arrived before the local one
	reported map[report]struct{}

	matched int64
}

// Option configures a Validator.
type Option func(*Validator)

// WithHoldWindow limits held remote hashes to ticks at most window past the
// current tick.
func WithHoldWindow(window int) Option {
	return func(v *Validator) {
		v.window = int64(window)
	}
}

// NewValidator captures every interval ticks using hasher. A non-positive
// interval disables capture.
func NewValidator(interval int, hasher StateHasher, opts ...Option) *Validator {
	v := &Validator{
		interval: int64(interval),
		window:   DefaultHoldWindow,
		hasher:   hasher,
		local:    make(map[int64]uint32),
		held:     make(map[int64]map[int]uint32),
		reported: make(map[report]struct{}),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// ShouldCapture reports whether tick is a capture point. Tick 0 is skipped.
func (v *Validator) ShouldCapture(tick int64) bool {
	return v.interval > 0 && tick > 0 && tick%v.interval == 0
}

// Capture hashes tick, stores the result, and resolves any remote hashes
// that were held waiting for it.
func (v *Validator) Capture(tick int64) (uint32, []Desync) {
	sum := v.hasher.StateHash(tick)
	v.local[tick] = sum

	var out []Desync
	held := v.held[tick]
	delete(v.held, tick)
	for _, player := range slices.Sorted(maps.Keys(held)) {
		if d, ok := v.compare(tick, player, held[player]); ok {
			out = append(out, d)
		}
	}
	return sum, out
}

// Observe checks a remote hash received while the session is at current. If
// the local hash for tick is not known yet the remote one is held until
// Capture. Hashes for pruned ticks, and for ticks beyond the hold window, are
// ignored.
func (v *Validator) Observe(player int, tick int64, remote uint32, current int64) (Desync, bool) {
	if tick < v.floor {
		return Desync{}, false
	}
	if _, known := v.local[tick]; !known {
		if tick > current+v.window {
			return Desync{}, false
		}
		bucket := v.held[tick]
		if bucket == nil {
			bucket = make(map[int]uint32)
			v.held[tick] = bucket
		}
		bucket[player] = remote
		return Desync{}, false
	}
	return v.compare(tick, player, remote)
}

func (v *Validator) compare(tick int64, player int, remote uint32) (Desync, bool) {
	local := v.local[tick]
	if local == remote {
		v.matched++
		return Desync{}, false
	}
	key := report{tick: tick, player: player}
	if _, dup := v.reported[key]; dup {
		return Desync{}, false
	}
	v.reported[key] = struct{}{}
	return Desync{Tick: tick, Local: local, Remote: remote, Player: player}, true
}

// Local returns the stored local hash for tick.
func (v *Validator) Local(tick int64) (uint32, bool) {
	sum, ok := v.local[tick]
	return sum, ok
}

// Held returns the number of remote hashes waiting for a local capture.
func (v *Validator) Held() int {
	n := 0
	for _, bucket := range v.held {
		n += len(bucket)
	}
	return n
}

// Matched returns how many remote hashes agreed with the local one.
func (v *Validator) Matched() int64 {
	return v.matched
}

// Prune forgets everything before the given tick.
func (v *Validator) Prune(before int64) {
	v.floor = max(v.floor, before)
	for t := range v.local {
		if t < before {
			delete(v.local, t)
		}
	}
	for t := range v.held {
		if t < before {
			delete(v.held, t)
		}
	}
	for k := range v.reported {
		if k.tick < before {
			delete(v.reported, k)
		}
	}
}

// Clear forgets all history.
func (v *Validator) Clear() {
	clear(v.local)
	clear(v.held)
	clear(v.reported)
	v.floor = 0
}

// Package queue holds per-tick command buffers and the confirmation
// bookkeeping that gates tick execution.
package queue

import (
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/roach88/lockstep/internal/command"
	"github.com/roach88/lockstep/internal/peer"
	"github.com/roach88/lockstep/internal/transport"
	"github.com/roach88/lockstep/internal/wire"
)

// Queue owns the local and remote command lists for every live tick.
//
// A tick message is the confirmation signal: once the local peer sends its
// (possibly empty) list for tick t, that list is final.
//
// Thread-safety: not safe for concurrent use.
type Queue struct {
	local  int
	delay  int64
	peers  *peer.Registry
	tx     transport.Transport
	logger *slog.Logger

	// local commands by target tick
	pending map[int64][]command.Command
	// tick -> player -> list
	remote map[int64]map[int][]command.Command
	// encoded local tick messages, kept for resend
	sent map[int64]string
}

// New creates a queue for the registry's local player.
func New(delay int, peers *peer.Registry, tx transport.Transport, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{
		local:   peers.LocalPlayer(),
		delay:   int64(delay),
		peers:   peers,
		tx:      tx,
		logger:  logger,
		pending: make(map[int64][]command.Command),
		remote:  make(map[int64]map[int][]command.Command),
		sent:    make(map[int64]string),
	}
}

// LocalConfirmed returns the newest tick the local peer has confirmed.
func (q *Queue) LocalConfirmed() int64 {
	return q.peers.ConfirmedTick(q.local)
}

// QueueLocal schedules cmd for current+delay, stamped with the local player.
//
// If that tick was already confirmed (the delay shrank, or the caller issued
// commands after a catch-up burst) the command moves to the first unconfirmed
// tick; a sent confirmation is never altered. The command is stored in its
// wire-quantized form so every peer executes the same values.
func (q *Queue) QueueLocal(cmd command.Command, current int64) (command.Command, error) {
	tick := max(current+q.delay, q.LocalConfirmed()+1)
	cmd.Player = q.local
	cmd.Tick = tick

	quantized, err := command.Quantize(cmd)
	if err != nil {
		return command.Command{}, fmt.Errorf("queue local %s: %w", cmd.Type, err)
	}
	q.pending[tick] = append(q.pending[tick], quantized)
	return quantized, nil
}

// ConfirmTick confirms every unconfirmed local tick up to and including t and
// broadcasts one tick message per tick. It returns the command list for t.
// Confirming an already confirmed tick is a no-op.
func (q *Queue) ConfirmTick(t int64) ([]command.Command, error) {
	for next := q.LocalConfirmed() + 1; next <= t; next++ {
		cmds := q.pending[next]
		msg, err := wire.EncodeTick(q.local, next, cmds)
		if err != nil {
			return nil, err
		}
		q.sent[next] = msg
		q.peers.Confirm(q.local, next)
		q.tx.Broadcast(msg)
		q.logger.Debug("tick confirmed", "player", q.local, "tick", next, "commands", len(cmds))
	}
	return slices.Clone(q.pending[t]), nil
}

// RecordRemote stores a peer's list for a tick.
//
// The peer's confirmed tick advances only through contiguously received ticks,
// so a reordered datagram for a later tick cannot make an earlier, still
// missing tick look confirmed. Repeats of an already recorded (player, tick)
// are ignored and false is returned.
func (q *Queue) RecordRemote(player int, tick int64, cmds []command.Command) bool {
	if player == q.local {
		return false
	}
	if _, known := q.peers.Lookup(player); !known {
		q.logger.Warn("tick message from unknown player", "player", player, "tick", tick)
		return false
	}
	confirmed := q.peers.ConfirmedTick(player)
	if tick <= confirmed {
		return false
	}
	bucket := q.remote[tick]
	if bucket == nil {
		bucket = make(map[int][]command.Command)
		q.remote[tick] = bucket
	}
	if _, dup := bucket[player]; dup {
		return false
	}
	bucket[player] = slices.Clone(cmds)
	if bucket[player] == nil {
		bucket[player] = []command.Command{}
	}

	for {
		next, ok := q.remote[confirmed+1]
		if !ok {
			break
		}
		if _, has := next[player]; !has {
			break
		}
		confirmed++
	}
	q.peers.Confirm(player, confirmed)
	return true
}

// CanAdvance reports whether every peer, local included, has confirmed t.
func (q *Queue) CanAdvance(t int64) bool {
	return q.peers.AllConfirmed(t)
}

// CollectForExecution returns the local list for t followed by each remote
// player's list in ascending player order, each in arrival order. The result
// is not yet sorted for execution.
func (q *Queue) CollectForExecution(t int64) []command.Command {
	out := slices.Clone(q.pending[t])
	bucket := q.remote[t]
	for _, player := range slices.Sorted(maps.Keys(bucket)) {
		out = append(out, bucket[player]...)
	}
	return out
}

// Resend rebroadcasts local tick messages that a lagging peer may still be
// missing: everything from a delay's worth before current through the newest
// local confirmation. Lost datagrams are otherwise never recovered.
func (q *Queue) Resend(current int64) int {
	from := max(0, current-q.delay-1)
	n := 0
	for t := from; t <= q.LocalConfirmed(); t++ {
		msg, ok := q.sent[t]
		if !ok {
			continue
		}
		q.tx.Broadcast(msg)
		n++
	}
	return n
}

// Prune drops every buffer for ticks before the given tick.
func (q *Queue) Prune(before int64) {
	for t := range q.pending {
		if t < before {
			delete(q.pending, t)
		}
	}
	for t := range q.remote {
		if t < before {
			delete(q.remote, t)
		}
	}
	for t := range q.sent {
		if t < before {
			delete(q.sent, t)
		}
	}
}

// Clear drops every buffer.
func (q *Queue) Clear() {
	clear(q.pending)
	clear(q.remote)
	clear(q.sent)
}

// Len returns the number of ticks with buffered data.
func (q *Queue) Len() int {
	ticks := make(map[int64]struct{})
	for t := range q.pending {
		ticks[t] = struct{}{}
	}
	for t := range q.remote {
		ticks[t] = struct{}{}
	}
	return len(ticks)
}

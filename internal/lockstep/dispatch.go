package lockstep

import (
	"context"
	"time"

	"github.com/roach88/lockstep/internal/peer"
	"github.com/roach88/lockstep/internal/transport"
	"github.com/roach88/lockstep/internal/wire"
)

// poll drains the transport and routes every message. Malformed datagrams are
// logged, counted and dropped; nothing here returns an error.
func (s *Session) poll() {
	for _, dg := range s.tx.Poll() {
		msg, err := wire.Decode(dg.Payload)
		if err != nil {
			s.drop("malformed datagram", dg, err)
			continue
		}

		switch msg.Kind {
		case wire.KindTick:
			s.handleTick(dg, msg)
		case wire.KindSync:
			s.handleSync(dg, msg)
		case wire.KindPing:
			if s.pongs.Allow(dg.From) {
				s.tx.Send(dg.From, wire.EncodePong(msg.Timestamp))
			}
		case wire.KindPong:
			s.handlePong(dg, msg)
		}
		if s.state == Stopped {
			return
		}
	}
}

func (s *Session) drop(reason string, dg transport.Datagram, err error) {
	s.stats.Dropped++
	s.metrics.dropped.Add(context.Background(), 1)
	args := []any{"from", dg.From.String()}
	if err != nil {
		args = append(args, "error", err)
	}
	s.logger.Warn(reason, args...)
}

func (s *Session) handleTick(dg transport.Datagram, msg wire.Message) {
	if !s.acceptTickFrom(dg, msg.Player) {
		s.drop("tick message from unexpected sender", dg, nil)
		return
	}

	for _, rej := range msg.Rejected {
		s.stats.Dropped++
		s.metrics.dropped.Add(context.Background(), 1)
		s.logger.Warn("dropping malformed command",
			"player", msg.Player,
			"tick", msg.Tick,
			"error", rej)
	}

	if s.queue.RecordRemote(msg.Player, msg.Tick, msg.Commands) {
		s.logger.Debug("tick received",
			"from_player", msg.Player,
			"tick", msg.Tick,
			"commands", len(msg.Commands))
	}

	// Relay every valid tick message, repeats included: a peer that lost the
	// first relay recovers from the sender's re-sends.
	if s.cfg.Role == Host {
		s.tx.Broadcast(dg.Payload, dg.From)
	}
}

// acceptTickFrom checks that a tick message for player may arrive from the
// datagram's source. The host only accepts a player's ticks from that
// player's address. A client only accepts ticks from the host, which carries
// its own and relayed ones, and only for players in the session list.
func (s *Session) acceptTickFrom(dg transport.Datagram, player int) bool {
	if player == s.cfg.LocalPlayer {
		return false
	}
	sender, ok := s.peers.ByAddr(dg.From)
	if !ok {
		return false
	}
	switch s.cfg.Role {
	case Host:
		return sender == player
	default:
		_, known := s.peers.Lookup(player)
		return sender == peer.HostPlayer && known
	}
}

func (s *Session) handleSync(dg transport.Datagram, msg wire.Message) {
	player, ok := s.peers.ByAddr(dg.From)
	if !ok {
		s.drop("sync from unknown sender", dg, nil)
		return
	}
	if d, mismatch := s.checks.Observe(player, msg.Tick, msg.Checksum, s.current); mismatch {
		s.raiseDesync(d)
	}
}

func (s *Session) handlePong(dg transport.Datagram, msg wire.Message) {
	rtt := s.now().Sub(time.UnixMilli(msg.Timestamp))
	if rtt < 0 {
		return
	}
	if s.peers.ObserveRTT(dg.From, rtt) {
		s.metrics.rtt.Record(context.Background(), float64(rtt)/float64(time.Millisecond))
	}
}

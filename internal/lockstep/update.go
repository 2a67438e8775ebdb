package lockstep

import (
	"context"
	"time"

	"github.com/roach88/lockstep/internal/checksum"
	"github.com/roach88/lockstep/internal/command"
	"github.com/roach88/lockstep/internal/wire"
)

// Update runs one frame: it drains the transport, then executes as many
// ticks as the elapsed time allows and the peers have confirmed. It never
// skips a tick and never blocks waiting for peers.
func (s *Session) Update(elapsed time.Duration) {
	if s.state == Idle || s.state == Stopped {
		return
	}

	s.poll()
	if s.state == Stopped {
		return
	}
	s.probe(elapsed)

	s.accumulated += elapsed
	waiting := false
	for s.accumulated >= s.cfg.TickDuration {
		input := s.current + int64(s.cfg.InputDelay)
		if s.queue.LocalConfirmed() < input {
			if _, err := s.queue.ConfirmTick(input); err != nil {
				s.logger.Error("confirm tick failed", "tick", input, "error", err)
			}
		}

		if !s.queue.CanAdvance(s.current) {
			waiting = true
			break
		}

		s.advance()
		s.accumulated -= s.cfg.TickDuration
		if s.state == Stopped {
			return
		}
	}

	if waiting {
		s.wait(elapsed)
		return
	}
	if s.state == WaitingForPeers {
		s.logger.Debug("peers caught up", "tick", s.current, "waited", s.waited)
	}
	s.state = Running
	s.waited = 0
	s.stallSent = false
}

// wait records a frame spent blocked on peers, re-sends our recent tick
// messages in case they were lost, and reports a stall once per episode.
func (s *Session) wait(elapsed time.Duration) {
	if s.state != WaitingForPeers {
		s.state = WaitingForPeers
		s.waited = 0
		s.stallSent = false
		s.sinceResend = 0
		s.logger.Debug("waiting for peers", "tick", s.current, "waiting_on", s.peers.Waiting(s.current))
	}
	s.waited += elapsed

	s.sinceResend += elapsed
	if s.sinceResend >= s.cfg.TickDuration {
		s.sinceResend = 0
		s.queue.Resend(s.current)
	}

	if s.cfg.StallWarnAfter > 0 && !s.stallSent && s.waited >= s.cfg.StallWarnAfter {
		s.stallSent = true
		stall := Stall{Tick: s.current, Waiting: s.peers.Waiting(s.current), Waited: s.waited}
		s.stats.Stalls++
		s.metrics.stalls.Add(context.Background(), 1)
		s.logger.Warn("stalled waiting for peers",
			"tick", stall.Tick,
			"waiting_on", stall.Waiting,
			"waited", stall.Waited)
		for _, fn := range s.onStall {
			fn(stall)
		}
	}
}

// advance executes the current tick.
func (s *Session) advance() {
	s.state = Advancing
	t := s.current

	cmds := s.queue.CollectForExecution(t)
	command.SortForExecution(cmds)
	executed := s.execute(cmds)
	if s.stream != nil {
		s.stream.Absorb(t, executed)
	}

	s.current++
	s.published.Store(s.current)
	s.stats.Executed += int64(len(executed))
	s.metrics.ticks.Add(context.Background(), 1)

	rec := TickRecord{Tick: t, Commands: executed}
	var desyncs []checksum.Desync
	if s.checks.ShouldCapture(t) {
		rec.Checksum, desyncs = s.checks.Capture(t)
		rec.HasChecksum = true
		s.tx.Broadcast(wire.EncodeSync(t, rec.Checksum))
	}
	if s.recorder != nil {
		if err := s.recorder.RecordTick(rec); err != nil {
			s.logger.Error("record tick failed", "tick", t, "error", err)
		}
	}

	for _, fn := range s.onTick {
		fn(s.current)
	}
	for _, d := range desyncs {
		s.raiseDesync(d)
	}

	if before := s.current - int64(s.cfg.RetentionTicks); before > 0 {
		s.queue.Prune(before)
		s.checks.Prune(before)
	}

	if s.state == Advancing {
		s.state = Running
	}
}

func (s *Session) raiseDesync(d checksum.Desync) {
	s.stats.Desyncs++
	s.metrics.desyncs.Add(context.Background(), 1)
	s.logger.Warn("desync detected",
		"tick", d.Tick,
		"local", d.Local,
		"remote", d.Remote,
		"remote_player", d.Player)
	for _, fn := range s.onDesync {
		fn(d)
	}
	if s.cfg.HaltOnDesync && s.state != Stopped {
		s.state = Stopped
		s.logger.Error("halting on desync", "tick", d.Tick)
	}
}

// probe sends latency probes on the configured interval.
func (s *Session) probe(elapsed time.Duration) {
	if s.cfg.PingInterval <= 0 {
		return
	}
	s.sincePing += elapsed
	if s.sincePing < s.cfg.PingInterval {
		return
	}
	s.sincePing = 0
	s.tx.Broadcast(wire.EncodePing(s.now().UnixMilli()))
}

package lockstep

import (
	"context"

	"github.com/roach88/lockstep/internal/command"
	"github.com/roach88/lockstep/internal/netid"
)

// execute passes each command to the Executor in order and returns the ones
// that ran. A command whose source, or any non-zero target, does not resolve
// is skipped; the rest of the tick continues.
func (s *Session) execute(cmds []command.Command) []command.Command {
	executed := make([]command.Command, 0, len(cmds))
	for _, c := range cmds {
		if !s.dispatchCommand(c) {
			s.stats.Skipped++
			s.metrics.skipped.Add(context.Background(), 1)
			s.logger.Warn("skipping command with unknown entity",
				"tick", c.Tick,
				"player", c.Player,
				"type", c.Type.String(),
				"source", c.Source,
				"target", c.Target,
				"secondary", c.Secondary)
			continue
		}
		executed = append(executed, c)
	}
	s.metrics.commands.Add(context.Background(), int64(len(executed)))
	return executed
}

func (s *Session) dispatchCommand(c command.Command) bool {
	src, ok := s.require(c.Source)
	if !ok {
		return false
	}

	switch c.Type {
	case command.Move:
		s.exec.IssueMove(src, c.Position)
	case command.Stop:
		s.exec.IssueStop(src)
	case command.SetRally:
		s.exec.SetRallyPoint(src, c.Position)
	case command.Attack:
		target, ok := s.require(c.Target)
		if !ok {
			return false
		}
		s.exec.IssueAttack(src, target)
	case command.Heal:
		target, ok := s.require(c.Target)
		if !ok {
			return false
		}
		s.exec.IssueHeal(src, target)
	case command.Gather:
		resource, ok := s.require(c.Target)
		if !ok {
			return false
		}
		deposit, ok := s.optional(c.Secondary)
		if !ok {
			return false
		}
		s.exec.IssueGather(src, resource, deposit)
	case command.Build:
		site, ok := s.optional(c.Target)
		if !ok {
			return false
		}
		s.exec.IssueBuild(src, site, c.BuildingID, c.Position)
	case command.Train:
		// Training is a build order with no site; the building id names the unit.
		s.exec.IssueBuild(src, nil, c.BuildingID, c.Position)
	default:
		return false
	}
	return true
}

func (s *Session) require(id netid.ID) (Entity, bool) {
	if !id.Valid() {
		return nil, false
	}
	return s.resolver.FindEntityByNetworkID(id)
}

// optional resolves id, treating the zero id as "none".
func (s *Session) optional(id netid.ID) (Entity, bool) {
	if !id.Valid() {
		return nil, true
	}
	return s.resolver.FindEntityByNetworkID(id)
}

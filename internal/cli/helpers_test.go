package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lockstep/internal/command"
	"github.com/roach88/lockstep/internal/journal"
	"github.com/roach88/lockstep/internal/lockstep"
)

// execute runs cmd with args and returns its stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func move(player int, x float64) command.Command {
	return command.Command{Type: command.Move, Player: player, Tick: 2, Source: 1, Position: command.Vec3{X: x, Z: 2.5}}
}

// recordedSession describes one session written by writeJournal.
type recordedSession struct {
	id      string
	player  int
	started time.Time
	ticks   int64
	cmds    []command.Command // executed at tick 2
	sum     uint32            // captured at every tick divisible by 5
}

// writeJournal creates a journal at path holding the given sessions.
func writeJournal(t *testing.T, path string, sessions ...recordedSession) {
	t.Helper()
	j, err := journal.Open(path)
	require.NoError(t, err)
	defer j.Close()

	for _, s := range sessions {
		role := "host"
		if s.player > 0 {
			role = "client"
		}
		w, err := j.BeginSession(context.Background(), journal.SessionInfo{
			ID:        s.id,
			Player:    s.player,
			Role:      role,
			StartedAt: s.started,
		})
		require.NoError(t, err)

		for tick := int64(0); tick < s.ticks; tick++ {
			rec := lockstep.TickRecord{Tick: tick, Commands: []command.Command{}}
			if tick == 2 {
				rec.Commands = s.cmds
			}
			if tick > 0 && tick%5 == 0 {
				rec.Checksum = s.sum
				rec.HasChecksum = true
			}
			require.NoError(t, w.RecordTick(rec))
		}
	}
}

func journalPath(t *testing.T, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}

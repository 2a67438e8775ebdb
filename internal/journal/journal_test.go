package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lockstep/internal/command"
	"github.com/roach88/lockstep/internal/lockstep"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { j.Close() })
	return j
}

func begin(t *testing.T, j *Journal, id string, started time.Time) *Writer {
	t.Helper()
	w, err := j.BeginSession(context.Background(), SessionInfo{ID: id, Player: 0, Role: "host", StartedAt: started})
	require.NoError(t, err)
	return w
}

var t0 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func move(player int, tick int64, x float64) command.Command {
	return command.Command{Type: command.Move, Player: player, Tick: tick, Source: 1, Position: command.Vec3{X: x, Z: 2.5}}
}

// record writes ticks 0..n-1, putting cmds at tick 2 and a checksum at every
// tick divisible by 5.
func record(t *testing.T, w *Writer, n int64, cmds []command.Command, sum uint32) {
	t.Helper()
	for tick := int64(0); tick < n; tick++ {
		rec := lockstep.TickRecord{Tick: tick, Commands: []command.Command{}}
		if tick == 2 {
			rec.Commands = cmds
		}
		if tick > 0 && tick%5 == 0 {
			rec.Checksum = sum
			rec.HasChecksum = true
		}
		require.NoError(t, w.RecordTick(rec))
	}
}

func TestOpen_AppliesPragmasAndMigrations(t *testing.T) {
	j := openTestJournal(t)

	assert.NoError(t, j.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, j.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, j.verifyPragma("user_version", "1"))
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	require.NoError(t, err)
	begin(t, j, "s1", t0)
	require.NoError(t, j.Close())

	j, err = Open(path)
	require.NoError(t, err)
	defer j.Close()
	sessions, err := j.Sessions(context.Background())
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "s1", sessions[0].ID)
}

func TestWriteAndReadTicks(t *testing.T) {
	j := openTestJournal(t)
	w := begin(t, j, "s1", t0)

	cmds := []command.Command{
		move(0, 2, 1.25),
		{Type: command.Build, Player: 1, Tick: 2, Source: 3, Target: 4, BuildingID: "barracks", Position: command.Vec3{X: 4, Z: 4}},
	}
	record(t, w, 6, cmds, 0xDEADBEEF)

	ticks, err := j.ReadTicks(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, ticks, 6)

	assert.Equal(t, int64(2), ticks[2].Tick)
	assert.Equal(t, cmds, ticks[2].Commands)
	assert.Empty(t, ticks[1].Commands)
	assert.True(t, ticks[5].HasChecksum)
	assert.Equal(t, uint32(0xDEADBEEF), ticks[5].Checksum)
	assert.False(t, ticks[4].HasChecksum)
	assert.Equal(t, w.Head(), ticks[5].Digest)
	assert.Equal(t, "s1", w.SessionID())
}

func TestReadTicks_UnknownSessionIsEmpty(t *testing.T) {
	j := openTestJournal(t)
	ticks, err := j.ReadTicks(context.Background(), "nope")
	require.NoError(t, err)
	assert.NotNil(t, ticks)
	assert.Empty(t, ticks)
}

func TestRecordTick_RejectsRepeatedTicks(t *testing.T) {
	j := openTestJournal(t)
	w := begin(t, j, "s1", t0)

	require.NoError(t, w.RecordTick(lockstep.TickRecord{Tick: 0}))
	require.NoError(t, w.RecordTick(lockstep.TickRecord{Tick: 1}))
	assert.Error(t, w.RecordTick(lockstep.TickRecord{Tick: 1}))
	assert.Error(t, w.RecordTick(lockstep.TickRecord{Tick: 0}))
}

func TestBeginSession_DuplicateID(t *testing.T) {
	j := openTestJournal(t)
	begin(t, j, "s1", t0)

	_, err := j.BeginSession(context.Background(), SessionInfo{ID: "s1", Role: "host", StartedAt: t0})
	assert.Error(t, err)
}

func TestSessions_OrderedByStart(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	_, err := j.LatestSession(ctx)
	assert.ErrorIs(t, err, ErrNoSessions)

	later := begin(t, j, "b", t0.Add(time.Minute))
	begin(t, j, "a", t0)
	record(t, later, 3, nil, 0)

	sessions, err := j.Sessions(ctx)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "a", sessions[0].ID)
	assert.Equal(t, "b", sessions[1].ID)
	assert.Equal(t, int64(3), sessions[1].Ticks)
	assert.True(t, sessions[0].StartedAt.Equal(t0))

	latest, err := j.LatestSession(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", latest.ID)
}

func TestVerify_CleanJournal(t *testing.T) {
	j := openTestJournal(t)
	w := begin(t, j, "s1", t0)
	record(t, w, 12, []command.Command{move(0, 2, 3)}, 7)

	v, err := j.Verify(context.Background(), "s1")
	require.NoError(t, err)
	assert.True(t, v.OK())
	assert.Equal(t, 12, v.Ticks)
	assert.Equal(t, w.Head(), v.Head)
}

func TestVerify_DetectsTamperedDigest(t *testing.T) {
	j := openTestJournal(t)
	w := begin(t, j, "s1", t0)
	record(t, w, 5, nil, 0)

	_, err := j.DB().Exec(`UPDATE ticks SET digest = 'bogus' WHERE session_id = 's1' AND tick = 3`)
	require.NoError(t, err)

	v, err := j.Verify(context.Background(), "s1")
	require.NoError(t, err)
	require.False(t, v.OK())
	assert.Equal(t, int64(3), v.Mismatch.Tick)
	assert.Equal(t, "digest mismatch", v.Mismatch.Reason)
	assert.Equal(t, "bogus", v.Mismatch.Stored)
}

func TestVerify_DetectsGap(t *testing.T) {
	j := openTestJournal(t)
	w := begin(t, j, "s1", t0)
	record(t, w, 5, nil, 0)

	_, err := j.DB().Exec(`DELETE FROM ticks WHERE session_id = 's1' AND tick = 1`)
	require.NoError(t, err)

	v, err := j.Verify(context.Background(), "s1")
	require.NoError(t, err)
	require.False(t, v.OK())
	assert.Equal(t, int64(2), v.Mismatch.Tick)
	assert.Contains(t, v.Mismatch.Reason, "gap after tick 0")
}

func TestDiff(t *testing.T) {
	ctx := context.Background()
	cmds := []command.Command{move(0, 2, 1)}

	tests := []struct {
		name   string
		bCmds  []command.Command
		bSum   uint32
		bTicks int64
		want   bool
		tick   int64
		reason string
	}{
		{name: "identical", bCmds: cmds, bSum: 9, bTicks: 12},
		{name: "shorter peer", bCmds: cmds, bSum: 9, bTicks: 7},
		{name: "different command", bCmds: []command.Command{move(0, 2, 1.5)}, bSum: 9, bTicks: 12, want: true, tick: 2, reason: "commands differ"},
		{name: "different checksum", bCmds: cmds, bSum: 8, bTicks: 12, want: true, tick: 5, reason: "checksum differs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			j := openTestJournal(t)
			record(t, begin(t, j, "a", t0), 12, cmds, 9)
			record(t, begin(t, j, "b", t0), tt.bTicks, tt.bCmds, tt.bSum)

			a, err := j.ReadTicks(ctx, "a")
			require.NoError(t, err)
			b, err := j.ReadTicks(ctx, "b")
			require.NoError(t, err)

			d, diverged := Diff(a, b)
			assert.Equal(t, tt.want, diverged)
			if tt.want {
				assert.Equal(t, tt.tick, d.Tick)
				assert.Equal(t, tt.reason, d.Reason)
			}
		})
	}
}

func TestDiff_MissingTick(t *testing.T) {
	a := []Tick{{Tick: 0, Digest: "x"}, {Tick: 1, Digest: "y"}}
	b := []Tick{{Tick: 0, Digest: "x"}, {Tick: 2, Digest: "z"}}

	d, diverged := Diff(a, b)
	require.True(t, diverged)
	assert.Equal(t, int64(1), d.Tick)
	assert.Equal(t, "tick missing", d.Reason)
}

package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/lockstep/internal/command"
	"github.com/roach88/lockstep/internal/journal"
)

func TestReplayMissingDatabaseFlag(t *testing.T) {
	_, err := execute(t, NewReplayCommand(&RootOptions{Format: "text"}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestReplayEmptyJournal(t *testing.T) {
	path := journalPath(t, "empty.db")
	writeJournal(t, path)

	out, err := execute(t, NewReplayCommand(&RootOptions{Format: "text"}), "--db", path)
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions found")
}

func TestReplayAllSessionsVerified(t *testing.T) {
	path := journalPath(t, "host.db")
	writeJournal(t, path,
		recordedSession{id: "s1", started: t0, ticks: 8, cmds: []command.Command{move(0, 1.5)}, sum: 7},
		recordedSession{id: "s2", started: t0.Add(1), ticks: 3},
	)

	out, err := execute(t, NewReplayCommand(&RootOptions{Format: "text"}), "--db", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Replay Summary: 2 session(s)")
	assert.Contains(t, out, "✓ Session: s1 (host, player 0)")
	assert.Contains(t, out, "Ticks: 8")
	assert.Contains(t, out, "✓ Session: s2")
	assert.Contains(t, out, "✓ All sessions verified")
}

func TestReplayJSON(t *testing.T) {
	path := journalPath(t, "host.db")
	writeJournal(t, path, recordedSession{id: "s1", started: t0, ticks: 6, sum: 1})

	out, err := execute(t, NewReplayCommand(&RootOptions{Format: "json"}), "--db", path)
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.AllVerified)
	require.Len(t, resp.Data.Sessions, 1)
	assert.Equal(t, "s1", resp.Data.Sessions[0].SessionID)
	assert.Equal(t, 6, resp.Data.Sessions[0].Ticks)
	assert.NotEmpty(t, resp.Data.Sessions[0].Head)
	assert.Nil(t, resp.Data.Sessions[0].MismatchTick)
}

func TestReplayDetectsTampering(t *testing.T) {
	path := journalPath(t, "host.db")
	writeJournal(t, path, recordedSession{id: "s1", started: t0, ticks: 5})

	j, err := journal.Open(path)
	require.NoError(t, err)
	_, err = j.DB().Exec(`UPDATE ticks SET digest = 'bogus' WHERE session_id = 's1' AND tick = 3`)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	out, err := execute(t, NewReplayCommand(&RootOptions{Format: "text"}), "--db", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Session: s1")
	assert.Contains(t, out, "Mismatch at tick 3: digest mismatch")
	assert.Contains(t, out, "✗ Journal verification failed")
}

func TestReplaySpecificSession(t *testing.T) {
	path := journalPath(t, "host.db")
	writeJournal(t, path,
		recordedSession{id: "s1", started: t0, ticks: 2},
		recordedSession{id: "s2", started: t0.Add(1), ticks: 4},
	)

	out, err := execute(t, NewReplayCommand(&RootOptions{Format: "text"}), "--db", path, "--session", "s2")
	require.NoError(t, err)
	assert.Contains(t, out, "Replay Summary: 1 session(s)")
	assert.Contains(t, out, "s2")
	assert.NotContains(t, out, "Session: s1")
}

func TestReplayUnknownSession(t *testing.T) {
	path := journalPath(t, "host.db")
	writeJournal(t, path, recordedSession{id: "s1", started: t0, ticks: 2})

	_, err := execute(t, NewReplayCommand(&RootOptions{Format: "text"}), "--db", path, "--session", "nope")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "session nope not found")
}

func TestReplayUnopenableJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "journal.db")

	_, err := execute(t, NewReplayCommand(&RootOptions{Format: "text"}), "--db", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to open journal")
}

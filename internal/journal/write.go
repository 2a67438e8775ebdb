package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/roach88/lockstep/internal/lockstep"
)

// Writer appends the ticks of one session. It implements lockstep.Recorder.
//
// Thread-safety: not safe for concurrent use; the session calls RecordTick
// from its simulation thread.
type Writer struct {
	j       *Journal
	session string
	head    string
	last    int64
}

var _ lockstep.Recorder = (*Writer)(nil)

// BeginSession registers a session and returns a writer for its ticks.
// Beginning a session id that already exists fails.
func (j *Journal) BeginSession(ctx context.Context, info SessionInfo) (*Writer, error) {
	if info.StartedAt.IsZero() {
		info.StartedAt = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO sessions (id, player, role, started_at)
		VALUES (?, ?, ?, ?)
	`,
		info.ID,
		info.Player,
		info.Role,
		info.StartedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("begin session: %w", err)
	}
	return &Writer{j: j, session: info.ID, head: GenesisDigest, last: -1}, nil
}

// RecordTick appends one executed tick and advances the digest chain.
func (w *Writer) RecordTick(rec lockstep.TickRecord) error {
	if rec.Tick <= w.last {
		return fmt.Errorf("record tick %d: already recorded up to %d", rec.Tick, w.last)
	}

	payload, err := EncodePayload(rec.Commands)
	if err != nil {
		return fmt.Errorf("record tick %d: %w", rec.Tick, err)
	}
	blob, err := compress(payload)
	if err != nil {
		return fmt.Errorf("record tick %d: %w", rec.Tick, err)
	}
	digest := ChainDigest(w.head, rec.Tick, payload)

	var checksum sql.NullInt64
	if rec.HasChecksum {
		checksum = sql.NullInt64{Int64: int64(rec.Checksum), Valid: true}
	}

	_, err = w.j.db.ExecContext(context.Background(), `
		INSERT INTO ticks (session_id, tick, command_count, payload, digest, checksum)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		w.session,
		rec.Tick,
		len(rec.Commands),
		blob,
		digest,
		checksum,
	)
	if err != nil {
		return fmt.Errorf("record tick %d: %w", rec.Tick, err)
	}

	w.head = digest
	w.last = rec.Tick
	return nil
}

// SessionID returns the session being written.
func (w *Writer) SessionID() string {
	return w.session
}

// Head returns the digest of the last recorded tick.
func (w *Writer) Head() string {
	return w.head
}

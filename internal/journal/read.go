package journal

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/roach88/lockstep/internal/command"
)

// Tick is one recorded tick.
type Tick struct {
	Tick        int64
	Commands    []command.Command
	Checksum    uint32
	HasChecksum bool
	Digest      string
}

// ReadTicks returns every tick of a session in tick order.
//
// Returns an empty slice (not nil) when the session has no ticks.
func (j *Journal) ReadTicks(ctx context.Context, sessionID string) ([]Tick, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT tick, command_count, payload, digest, checksum
		FROM ticks
		WHERE session_id = ?
		ORDER BY tick ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query ticks: %w", err)
	}
	defer rows.Close()

	ticks := []Tick{}
	for rows.Next() {
		t, err := scanTick(rows)
		if err != nil {
			return nil, err
		}
		ticks = append(ticks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ticks: %w", err)
	}
	return ticks, nil
}

func scanTick(rows *sql.Rows) (Tick, error) {
	var (
		t        Tick
		count    int
		blob     []byte
		checksum sql.NullInt64
	)
	if err := rows.Scan(&t.Tick, &count, &blob, &t.Digest, &checksum); err != nil {
		return Tick{}, fmt.Errorf("scan tick: %w", err)
	}

	payload, err := decompress(blob)
	if err != nil {
		return Tick{}, fmt.Errorf("tick %d: %w", t.Tick, err)
	}
	if t.Commands, err = DecodePayload(t.Tick, payload); err != nil {
		return Tick{}, fmt.Errorf("tick %d: %w", t.Tick, err)
	}
	if len(t.Commands) != count {
		return Tick{}, fmt.Errorf("tick %d: payload holds %d commands, row says %d", t.Tick, len(t.Commands), count)
	}
	if checksum.Valid {
		t.Checksum = uint32(checksum.Int64)
		t.HasChecksum = true
	}
	return t, nil
}

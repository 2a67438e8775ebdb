package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/lockstep/internal/command"
	"github.com/roach88/lockstep/internal/journal"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database  string
	SessionID string // optional - defaults to the latest session
	From      int64
	To        int64  // inclusive; negative means no upper bound
	Player    int    // negative means every player
	Empty     bool   // include ticks with no commands
}

// TraceCommand is one executed command in the timeline.
type TraceCommand struct {
	Player    int        `json:"player"`
	Type      string     `json:"type"`
	Source    uint64     `json:"source"`
	Target    uint64     `json:"target,omitempty"`
	Secondary uint64     `json:"secondary,omitempty"`
	Position  [3]float64 `json:"position"`
	Building  string     `json:"building,omitempty"`
}

// TraceTick is one recorded tick in the timeline.
type TraceTick struct {
	Tick     int64          `json:"tick"`
	Commands []TraceCommand `json:"commands"`
	Checksum *uint32        `json:"checksum,omitempty"`
	Digest   string         `json:"digest"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	RecordedTicks int `json:"recorded_ticks"`
	ShownTicks    int `json:"shown_ticks"`
	Commands      int `json:"commands"`
	Checksums     int `json:"checksums"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	SessionID string      `json:"session_id"`
	Player    int         `json:"player"`
	Role      string      `json:"role"`
	Timeline  []TraceTick `json:"timeline"`
	Stats     TraceStats  `json:"stats"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the executed commands of a journaled session",
		Long: `Print the timeline of a journaled session.

Each tick lists the commands executed on it in execution order, with the
state checksum captured on checksum ticks. Ticks without commands are
hidden unless --empty is given.

Examples:
  lockstep trace --db ./host.db
  lockstep trace --db ./host.db --from 100 --to 200 --player 1
  lockstep trace --db ./host.db --session 0190a1b2-... --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to journal database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.SessionID, "session", "", "session to trace (default latest)")
	cmd.Flags().Int64Var(&opts.From, "from", 0, "first tick to show")
	cmd.Flags().Int64Var(&opts.To, "to", -1, "last tick to show (-1 for no limit)")
	cmd.Flags().IntVar(&opts.Player, "player", -1, "only show commands from this player (-1 for all)")
	cmd.Flags().BoolVar(&opts.Empty, "empty", false, "include ticks without commands")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	f := newFormatter(opts.RootOptions, cmd)

	j, err := openJournal(opts.Database)
	if err != nil {
		return err
	}
	defer j.Close()

	info, err := traceSession(ctx, j, opts.SessionID)
	if err != nil {
		return err
	}
	ticks, err := j.ReadTicks(ctx, info.ID)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to read session %s", info.ID), err)
	}
	f.VerboseLog("Read %d tick(s) from session %s", len(ticks), info.ID)

	result := buildTrace(info, ticks, opts)
	if f.JSON() {
		return f.Respond(result, nil)
	}
	outputTraceText(f, result)
	return nil
}

func traceSession(ctx context.Context, j *journal.Journal, id string) (journal.SessionInfo, error) {
	if id != "" {
		found, err := selectSessions(ctx, j, id)
		if err != nil {
			return journal.SessionInfo{}, err
		}
		return found[0], nil
	}
	info, err := j.LatestSession(ctx)
	if errors.Is(err, journal.ErrNoSessions) {
		return journal.SessionInfo{}, NewExitError(ExitCommandError, "journal has no sessions")
	}
	if err != nil {
		return journal.SessionInfo{}, WrapExitError(ExitCommandError, "failed to read sessions", err)
	}
	return info, nil
}

func buildTrace(info journal.SessionInfo, ticks []journal.Tick, opts *TraceOptions) TraceResult {
	result := TraceResult{
		SessionID: info.ID,
		Player:    info.Player,
		Role:      info.Role,
		Timeline:  []TraceTick{},
	}
	result.Stats.RecordedTicks = len(ticks)

	for _, t := range ticks {
		if t.Tick < opts.From || (opts.To >= 0 && t.Tick > opts.To) {
			continue
		}
		tt := TraceTick{Tick: t.Tick, Commands: []TraceCommand{}, Digest: t.Digest}
		if t.HasChecksum {
			sum := t.Checksum
			tt.Checksum = &sum
			result.Stats.Checksums++
		}
		for _, c := range t.Commands {
			if opts.Player >= 0 && c.Player != opts.Player {
				continue
			}
			tt.Commands = append(tt.Commands, traceCommand(c))
		}
		if len(tt.Commands) == 0 && tt.Checksum == nil && !opts.Empty {
			continue
		}
		result.Stats.Commands += len(tt.Commands)
		result.Timeline = append(result.Timeline, tt)
	}
	result.Stats.ShownTicks = len(result.Timeline)
	return result
}

func traceCommand(c command.Command) TraceCommand {
	return TraceCommand{
		Player:    c.Player,
		Type:      c.Type.String(),
		Source:    uint64(c.Source),
		Target:    uint64(c.Target),
		Secondary: uint64(c.Secondary),
		Position:  [3]float64{c.Position.X, c.Position.Y, c.Position.Z},
		Building:  c.BuildingID,
	}
}

func outputTraceText(f *OutputFormatter, result TraceResult) {
	f.Printf("Session %s (%s, player %d)\n\n", result.SessionID, result.Role, result.Player)

	for _, t := range result.Timeline {
		if t.Checksum != nil {
			f.Printf("[%d] checksum %08x\n", t.Tick, *t.Checksum)
		} else {
			f.Printf("[%d]\n", t.Tick)
		}
		for _, c := range t.Commands {
			f.Printf("  p%d %s #%d", c.Player, c.Type, c.Source)
			if c.Target != 0 {
				f.Printf(" -> #%d", c.Target)
			}
			if c.Secondary != 0 {
				f.Printf(" via #%d", c.Secondary)
			}
			f.Printf(" at (%.2f, %.2f, %.2f)", c.Position[0], c.Position[1], c.Position[2])
			if c.Building != "" {
				f.Printf(" building %q", c.Building)
			}
			f.Printf("\n")
		}
	}

	f.Printf("\n%d of %d tick(s) shown, %d command(s), %d checksum(s)\n",
		result.Stats.ShownTicks, result.Stats.RecordedTicks, result.Stats.Commands, result.Stats.Checksums)
}

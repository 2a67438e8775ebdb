package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/lockstep/internal/journal"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database  string
	SessionID string // optional - specific session only
}

// ReplaySessionResult holds the replay result for a single session.
type ReplaySessionResult struct {
	SessionID string `json:"session_id"`
	Player    int    `json:"player"`
	Role      string `json:"role"`
	Ticks     int    `json:"ticks"`
	Head      string `json:"head"`
	Verified  bool   `json:"verified"`

	MismatchTick   *int64 `json:"mismatch_tick,omitempty"`
	MismatchReason string `json:"mismatch_reason,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Sessions      []ReplaySessionResult `json:"sessions"`
	TotalSessions int                   `json:"total_sessions"`
	AllVerified   bool                  `json:"all_verified"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-derive journaled sessions and verify their digest chains",
		Long: `Replay a journal and verify that every recorded tick is reproducible.

Each session's commands are decoded, re-encoded and chained twice. Both
derivations must agree with each other and with the digests stored at
record time.

Exit codes:
  0 - All sessions verified
  1 - Verification failed (a digest does not match)
  2 - Command error (journal not found, unknown session, etc.)

Examples:
  lockstep replay --db ./host.db
  lockstep replay --db ./host.db --session 0190a1b2-...
  lockstep replay --db ./host.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to journal database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.SessionID, "session", "", "replay specific session only")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
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

	sessions, err := selectSessions(ctx, j, opts.SessionID)
	if err != nil {
		return err
	}

	result := ReplayResult{
		Sessions:      make([]ReplaySessionResult, 0, len(sessions)),
		TotalSessions: len(sessions),
		AllVerified:   true,
	}
	for _, info := range sessions {
		f.VerboseLog("Verifying session %s", info.ID)

		v, err := j.Verify(ctx, info.ID)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay session %s", info.ID), err)
		}

		sr := ReplaySessionResult{
			SessionID: info.ID,
			Player:    info.Player,
			Role:      info.Role,
			Ticks:     v.Ticks,
			Head:      v.Head,
			Verified:  v.OK(),
		}
		if v.Mismatch != nil {
			tick := v.Mismatch.Tick
			sr.MismatchTick = &tick
			sr.MismatchReason = v.Mismatch.Reason
			result.AllVerified = false
		}
		result.Sessions = append(result.Sessions, sr)
	}

	if f.JSON() {
		return outputReplayJSON(f, result)
	}
	return outputReplayText(f, result)
}

// openJournal opens path, mapping failures to command errors.
func openJournal(path string) (*journal.Journal, error) {
	j, err := journal.Open(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	return j, nil
}

// selectSessions returns the named session, or every session when id is
// empty.
func selectSessions(ctx context.Context, j *journal.Journal, id string) ([]journal.SessionInfo, error) {
	all, err := j.Sessions(ctx)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to list sessions", err)
	}
	if id == "" {
		return all, nil
	}
	for _, info := range all {
		if info.ID == id {
			return []journal.SessionInfo{info}, nil
		}
	}
	return nil, NewExitError(ExitCommandError, fmt.Sprintf("session %s not found in journal", id))
}

func outputReplayJSON(f *OutputFormatter, result ReplayResult) error {
	var cliErr *CLIError
	if !result.AllVerified {
		cliErr = &CLIError{Code: ErrCodeVerify, Message: "journal verification failed"}
	}
	if err := f.Respond(result, cliErr); err != nil {
		return err
	}
	if cliErr != nil {
		return NewExitError(ExitFailure, cliErr.Message)
	}
	return nil
}

func outputReplayText(f *OutputFormatter, result ReplayResult) error {
	if result.TotalSessions == 0 {
		f.Printf("No sessions found in journal.\n")
		return nil
	}

	f.Printf("Replay Summary: %d session(s)\n\n", result.TotalSessions)
	for _, s := range result.Sessions {
		status := "✓"
		if !s.Verified {
			status = "✗"
		}
		f.Printf("%s Session: %s (%s, player %d)\n", status, s.SessionID, s.Role, s.Player)
		f.Printf("  Ticks: %d, head %s\n", s.Ticks, shortDigest(s.Head))
		if s.MismatchTick != nil {
			f.Printf("  Mismatch at tick %d: %s\n", *s.MismatchTick, s.MismatchReason)
		}
		f.Printf("\n")
	}

	if result.AllVerified {
		f.Printf("✓ All sessions verified\n")
		return nil
	}
	f.Printf("✗ Journal verification failed\n")
	return NewExitError(ExitFailure, "journal verification failed")
}

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/lockstep/internal/journal"
)

// DiffOptions holds flags for the diff command.
type DiffOptions struct {
	*RootOptions
	A, B               string
	SessionA, SessionB string // optional - default to each journal's latest session
}

// DiffResult holds the comparison of two journals.
type DiffResult struct {
	SessionA string `json:"session_a"`
	SessionB string `json:"session_b"`
	TicksA   int    `json:"ticks_a"`
	TicksB   int    `json:"ticks_b"`
	Compared int    `json:"compared"`
	Diverged bool   `json:"diverged"`
	Tick     *int64 `json:"tick,omitempty"`
	Reason   string `json:"reason,omitempty"`
	ValueA   string `json:"value_a,omitempty"`
	ValueB   string `json:"value_b,omitempty"`
}

// NewDiffCommand creates the diff command.
func NewDiffCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DiffOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "diff",
		Short: "Find the first tick where two peers' journals diverge",
		Long: `Compare the journals of two peers of the same game.

Ticks are compared from the start over the range both journals recorded.
The first tick whose command digest or state checksum differs is reported.
A journal that simply stopped earlier is not a divergence.

Exit codes:
  0 - Journals agree
  1 - Journals diverge
  2 - Command error (journal not found, empty journal, etc.)

Examples:
  lockstep diff --a host.db --b client.db
  lockstep diff --a host.db --b client.db --session-b 0190a1b2-...`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.A, "a", "", "first journal database (required)")
	cmd.Flags().StringVar(&opts.B, "b", "", "second journal database (required)")
	_ = cmd.MarkFlagRequired("a")
	_ = cmd.MarkFlagRequired("b")
	cmd.Flags().StringVar(&opts.SessionA, "session-a", "", "session in the first journal (default latest)")
	cmd.Flags().StringVar(&opts.SessionB, "session-b", "", "session in the second journal (default latest)")

	return cmd
}

func runDiff(opts *DiffOptions, cmd *cobra.Command) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	f := newFormatter(opts.RootOptions, cmd)

	idA, a, err := loadTicks(ctx, opts.A, opts.SessionA)
	if err != nil {
		return err
	}
	idB, b, err := loadTicks(ctx, opts.B, opts.SessionB)
	if err != nil {
		return err
	}
	f.VerboseLog("Comparing %s (%d ticks) with %s (%d ticks)", idA, len(a), idB, len(b))

	result := DiffResult{
		SessionA: idA,
		SessionB: idB,
		TicksA:   len(a),
		TicksB:   len(b),
		Compared: min(len(a), len(b)),
	}
	if d, diverged := journal.Diff(a, b); diverged {
		tick := d.Tick
		result.Diverged = true
		result.Tick = &tick
		result.Reason = d.Reason
		result.ValueA = d.A
		result.ValueB = d.B
	}

	var cliErr *CLIError
	if result.Diverged {
		cliErr = &CLIError{
			Code:    ErrCodeDiverged,
			Message: fmt.Sprintf("journals diverge at tick %d: %s", *result.Tick, result.Reason),
		}
	}

	if f.JSON() {
		if err := f.Respond(result, cliErr); err != nil {
			return err
		}
	} else {
		f.Printf("A: %s (%d ticks)\n", result.SessionA, result.TicksA)
		f.Printf("B: %s (%d ticks)\n", result.SessionB, result.TicksB)
		if result.Diverged {
			f.Printf("✗ Diverged at tick %d: %s\n", *result.Tick, result.Reason)
			f.Printf("  A: %s\n  B: %s\n", result.ValueA, result.ValueB)
		} else {
			f.Printf("✓ No divergence in %d common tick(s)\n", result.Compared)
		}
	}

	if cliErr != nil {
		return NewExitError(ExitFailure, cliErr.Message)
	}
	return nil
}

// loadTicks reads one session's ticks from the journal at path.
func loadTicks(ctx context.Context, path, sessionID string) (string, []journal.Tick, error) {
	j, err := openJournal(path)
	if err != nil {
		return "", nil, err
	}
	defer j.Close()

	if sessionID == "" {
		info, err := j.LatestSession(ctx)
		if errors.Is(err, journal.ErrNoSessions) {
			return "", nil, NewExitError(ExitCommandError, fmt.Sprintf("journal %s has no sessions", path))
		}
		if err != nil {
			return "", nil, WrapExitError(ExitCommandError, "failed to read sessions", err)
		}
		sessionID = info.ID
	} else if _, err := selectSessions(ctx, j, sessionID); err != nil {
		return "", nil, err
	}

	ticks, err := j.ReadTicks(ctx, sessionID)
	if err != nil {
		return "", nil, WrapExitError(ExitCommandError, fmt.Sprintf("failed to read session %s", sessionID), err)
	}
	return sessionID, ticks, nil
}

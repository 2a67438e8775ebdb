package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/lockstep/internal/checksum"
	"github.com/roach88/lockstep/internal/config"
	"github.com/roach88/lockstep/internal/journal"
	"github.com/roach88/lockstep/internal/lockstep"
	"github.com/roach88/lockstep/internal/transport"
	"github.com/roach88/lockstep/internal/world"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	ConfigPath string
	Ticks      int64 // stop after this many ticks; 0 runs until interrupted

	// Transport overrides the UDP socket (for testing).
	Transport transport.Transport

	// IDGenerator overrides the session id generator (for testing).
	// If nil, defaults to UUIDv7.
	IDGenerator lockstep.IDGenerator
}

// RunSummary is the final report of a run.
type RunSummary struct {
	SessionID   string `json:"session_id"`
	Role        string `json:"role"`
	Player      int    `json:"player"`
	Addr        string `json:"addr"`
	FinalTick   int64  `json:"final_tick"`
	State       string `json:"state"`
	Executed    int64  `json:"executed"`
	Skipped     int64  `json:"skipped"`
	Dropped     int64  `json:"dropped"`
	Desyncs     int64  `json:"desyncs"`
	Stalls      int64  `json:"stalls"`
	Journal     string `json:"journal,omitempty"`
	JournalHead string `json:"journal_head,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a headless lockstep session",
		Long: `Run a headless lockstep session as host or client.

The session binds its UDP socket, waits for its peers, and executes ticks
against a headless world until interrupted. When the configuration names a
journal, every executed tick is recorded for replay and diff.

Settings come from the YAML file, with LOCKSTEP_* environment overrides
(for example LOCKSTEP_INPUT_DELAY=3).

Exit codes:
  0 - Session ended cleanly
  1 - A desync was detected
  2 - Command error (bad configuration, socket or journal failure)

Examples:
  lockstep run --config host.yaml
  lockstep run --config client.yaml --verbose
  lockstep run --config host.yaml --ticks 600 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to session config (YAML)")
	cmd.Flags().Int64Var(&opts.Ticks, "ticks", 0, "stop after this many ticks (0 runs until interrupted)")

	return cmd
}

func runSession(opts *RunOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)
	logger := newLogger(cmd.ErrOrStderr(), opts.Verbose)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	sessCfg, err := cfg.Session()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid session config", err)
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := world.New(world.WithLogger(logger))
	sessOpts := []lockstep.Option{
		lockstep.WithStateHasher(w),
		lockstep.WithLogger(logger),
	}
	if opts.Transport != nil {
		sessOpts = append(sessOpts, lockstep.WithTransport(opts.Transport))
	}
	if opts.IDGenerator != nil {
		sessOpts = append(sessOpts, lockstep.WithIDGenerator(opts.IDGenerator))
	}

	sess, err := lockstep.New(sessCfg, w, w, sessOpts...)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to create session", err)
	}
	defer func() {
		if err := sess.Shutdown(); err != nil {
			logger.Error("error shutting down session", "error", err)
		}
	}()

	var writer *journal.Writer
	if cfg.Journal != "" {
		j, err := journal.Open(cfg.Journal)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open journal", err)
		}
		defer func() {
			if err := j.Close(); err != nil {
				logger.Error("error closing journal", "error", err)
			}
		}()
		writer, err = j.BeginSession(ctx, journal.SessionInfo{
			ID:     sess.ID(),
			Player: sessCfg.LocalPlayer,
			Role:   sessCfg.Role.String(),
		})
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to begin journal session", err)
		}
		sess.AttachRecorder(writer)
		logger.Info("journaling session", "path", cfg.Journal)
	}

	sess.OnTickAdvanced(w.Step)
	sess.OnDesync(func(d checksum.Desync) {
		f.VerboseLog("desync at tick %d with player %d: local %d remote %d", d.Tick, d.Player, d.Local, d.Remote)
	})
	sess.OnStall(func(st lockstep.Stall) {
		f.VerboseLog("stalled at tick %d waiting on %v", st.Tick, st.Waiting)
	})

	if err := sess.StartSimulation(); err != nil {
		return WrapExitError(ExitFailure, "failed to start simulation", err)
	}
	f.Printf("Session %s started as %s (player %d) on %s\n",
		sess.ID(), sessCfg.Role, sessCfg.LocalPlayer, sess.LocalAddr())
	f.Printf("Press Ctrl-C to stop.\n")

	loop(ctx, sess, frameInterval(sessCfg.TickDuration), opts.Ticks)

	st := sess.Stats()
	summary := RunSummary{
		SessionID: sess.ID(),
		Role:      sessCfg.Role.String(),
		Player:    sessCfg.LocalPlayer,
		Addr:      sess.LocalAddr().String(),
		FinalTick: st.Tick,
		State:     st.State.String(),
		Executed:  st.Executed,
		Skipped:   st.Skipped,
		Dropped:   st.Dropped,
		Desyncs:   st.Desyncs,
		Stalls:    st.Stalls,
		Journal:   cfg.Journal,
	}
	if writer != nil {
		summary.JournalHead = writer.Head()
	}
	logger.Info("session finished", "tick", st.Tick, "state", st.State.String(), "desyncs", st.Desyncs)

	return outputRunSummary(f, summary)
}

// loop drives Update from a ticker until ctx ends, the session stops, or
// maxTicks ticks have executed.
func loop(ctx context.Context, sess *lockstep.Session, every time.Duration, maxTicks int64) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sess.Update(now.Sub(last))
			last = now
		}
		if sess.State() == lockstep.Stopped {
			return
		}
		if maxTicks > 0 && sess.CurrentTick() >= maxTicks {
			return
		}
	}
}

// frameInterval polls a few times per tick so datagrams are drained
// promptly; the session's accumulator decides when ticks execute.
func frameInterval(tick time.Duration) time.Duration {
	return max(tick/4, time.Millisecond)
}

func outputRunSummary(f *OutputFormatter, s RunSummary) error {
	var cliErr *CLIError
	if s.Desyncs > 0 {
		cliErr = &CLIError{Code: ErrCodeDesync, Message: fmt.Sprintf("%d desync(s) detected", s.Desyncs)}
	}

	if f.JSON() {
		if err := f.Respond(s, cliErr); err != nil {
			return err
		}
	} else {
		f.Printf("Stopped at tick %d (%s)\n", s.FinalTick, s.State)
		f.Printf("  Commands: %d executed, %d skipped\n", s.Executed, s.Skipped)
		f.Printf("  Dropped datagrams: %d, stalls: %d\n", s.Dropped, s.Stalls)
		if s.Journal != "" {
			f.Printf("  Journal: %s (head %s)\n", s.Journal, shortDigest(s.JournalHead))
		}
		if s.Desyncs == 0 {
			f.Printf("✓ No desyncs\n")
		} else {
			f.Printf("✗ %d desync(s) detected\n", s.Desyncs)
		}
	}

	if cliErr != nil {
		return NewExitError(ExitFailure, cliErr.Message)
	}
	return nil
}

func shortDigest(d string) string {
	if d == "" {
		return "-"
	}
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

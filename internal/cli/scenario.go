package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/lockstep/internal/harness"
)

// ScenarioOptions holds flags for the scenario command.
type ScenarioOptions struct {
	*RootOptions
	Update    bool   // regenerate golden files
	Filter    string // scenario filter (glob pattern)
	GoldenDir string // defaults to a "golden" directory beside the scenarios directory
}

// ScenarioResult holds the result of a single scenario execution.
type ScenarioResult struct {
	Name   string   `json:"name"`
	File   string   `json:"file"`
	Pass   bool     `json:"pass"`
	Golden string   `json:"golden,omitempty"` // "match", "updated" or "missing"
	Errors []string `json:"errors,omitempty"`
}

// ScenarioSummary holds the overall scenario run result.
type ScenarioSummary struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

// NewScenarioCommand creates the scenario command.
func NewScenarioCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ScenarioOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "scenario <file-or-dir>",
		Short: "Run deterministic multi-peer scenarios",
		Long: `Run scenario files against in-memory peers.

Each scenario wires its peers through a loopback hub, plays its scripted
commands, injected datagrams and packet drops frame by frame, and checks
the declared expectations. When a golden file exists for the scenario its
snapshot must match byte for byte.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid paths, bad filter, etc.)

Examples:
  lockstep scenario ./testdata/scenarios
  lockstep scenario ./testdata/scenarios/desync.yaml
  lockstep scenario ./testdata/scenarios --filter "halt_*"
  lockstep scenario ./testdata/scenarios --update`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "regenerate golden files")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern")
	cmd.Flags().StringVar(&opts.GoldenDir, "golden", "", "golden file directory")

	return cmd
}

func runScenarios(opts *ScenarioOptions, target string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	info, err := os.Stat(target)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("scenario path not found: %s", target), err)
	}

	var files []string
	scenarioDir := target
	if info.IsDir() {
		if files, err = findScenarioFiles(target, opts.Filter); err != nil {
			return WrapExitError(ExitCommandError, "failed to find scenarios", err)
		}
	} else {
		files = []string{target}
		scenarioDir = filepath.Dir(target)
	}

	goldenDir := opts.GoldenDir
	if goldenDir == "" {
		goldenDir = filepath.Join(filepath.Dir(filepath.Clean(scenarioDir)), "golden")
	}
	f.VerboseLog("Running %d scenario(s), golden files in %s", len(files), goldenDir)

	summary := ScenarioSummary{
		Scenarios: make([]ScenarioResult, 0, len(files)),
		Total:     len(files),
	}
	for _, file := range files {
		res := runScenarioFile(file, goldenDir, opts.Update)
		summary.Scenarios = append(summary.Scenarios, res)
		if res.Pass {
			summary.Passed++
		} else {
			summary.Failed++
		}
		if !f.JSON() {
			outputScenarioLine(f, res)
		}
	}

	var cliErr *CLIError
	if summary.Failed > 0 {
		cliErr = &CLIError{
			Code:    ErrCodeTestFailed,
			Message: fmt.Sprintf("%d scenario(s) failed", summary.Failed),
		}
	}

	if f.JSON() {
		if err := f.Respond(summary, cliErr); err != nil {
			return err
		}
	} else if summary.Total == 0 {
		f.Printf("No scenarios found.\n")
	} else {
		f.Printf("\nScenario Summary: %d passed, %d failed, %d total\n", summary.Passed, summary.Failed, summary.Total)
		if cliErr == nil {
			f.Printf("✓ All scenarios passed\n")
		}
	}

	if cliErr != nil {
		return NewExitError(ExitFailure, cliErr.Message)
	}
	return nil
}

// findScenarioFiles finds all YAML scenario files under dir.
func findScenarioFiles(dir, filter string) ([]string, error) {
	var files []string

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}

		if filter != "" {
			name := strings.TrimSuffix(filepath.Base(path), ext)
			matched, err := filepath.Match(filter, name)
			if err != nil {
				return fmt.Errorf("invalid filter pattern: %w", err)
			}
			if !matched {
				return nil
			}
		}

		files = append(files, path)
		return nil
	})

	return files, err
}

// runScenarioFile executes one scenario and checks it against its golden
// file when one exists.
func runScenarioFile(file, goldenDir string, update bool) ScenarioResult {
	res := ScenarioResult{Name: filepath.Base(file), File: file}

	s, err := harness.LoadScenario(file)
	if err != nil {
		res.Errors = []string{fmt.Sprintf("failed to load scenario: %v", err)}
		return res
	}
	res.Name = s.Name

	result, err := harness.Run(s)
	if err != nil {
		res.Errors = []string{fmt.Sprintf("execution failed: %v", err)}
		return res
	}
	res.Errors = result.Errors

	name := strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
	goldenPath := filepath.Join(goldenDir, name+".golden")
	snapshot := harness.Snapshot(s.Name, result)

	switch {
	case update:
		if err := os.MkdirAll(goldenDir, 0o755); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("failed to create golden directory: %v", err))
			break
		}
		if err := os.WriteFile(goldenPath, snapshot, 0o644); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("failed to write golden file: %v", err))
			break
		}
		res.Golden = "updated"
	default:
		want, err := os.ReadFile(goldenPath)
		if errors.Is(err, fs.ErrNotExist) {
			res.Golden = "missing"
			break
		}
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("failed to read golden file: %v", err))
			break
		}
		if !bytes.Equal(want, snapshot) {
			res.Errors = append(res.Errors, "snapshot does not match golden file (run with --update to regenerate)")
			break
		}
		res.Golden = "match"
	}

	res.Pass = len(res.Errors) == 0
	return res
}

func outputScenarioLine(f *OutputFormatter, res ScenarioResult) {
	if res.Pass {
		if res.Golden == "updated" {
			f.Printf("✓ %s (golden updated)\n", res.Name)
		} else {
			f.Printf("✓ %s\n", res.Name)
		}
		return
	}
	f.Printf("✗ %s\n", res.Name)
	for _, e := range res.Errors {
		f.Printf("  %s\n", e)
	}
}

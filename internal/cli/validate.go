package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/lockstep/internal/config"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	ConfigPath string
}

// ValidationIssue is one schema violation.
type ValidationIssue struct {
	Path    string `json:"path,omitempty"`
	Message string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Role   string            `json:"role,omitempty"`
	Player int               `json:"player"`
	Errors []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a session config without starting a session",
		Long: `Validate a session configuration against the config schema.

Environment overrides (LOCKSTEP_*) are applied before validation, so this
checks exactly what run would use. Addresses are resolved as well.

Exit codes:
  0 - Config is valid
  1 - Config violates the schema
  2 - Command error (file not found, unreadable YAML)

Examples:
  lockstep validate --config host.yaml
  lockstep validate --config client.yaml --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to session config (YAML, required)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func runValidate(opts *ValidateOptions, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		if !config.IsValidationError(err) {
			_ = f.Error(ErrCodeConfig, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to load config", err)
		}
		var issues []ValidationIssue
		for _, ve := range config.ValidationErrors(err) {
			issues = append(issues, ValidationIssue{Path: ve.Path, Message: ve.Message})
		}
		return outputValidationErrors(f, issues)
	}

	f.VerboseLog("Loaded %s config for player %d", cfg.Role, cfg.Player)

	if _, err := cfg.Session(); err != nil {
		return outputValidationErrors(f, []ValidationIssue{{Message: err.Error()}})
	}

	if f.JSON() {
		return f.Respond(ValidationResult{Valid: true, Role: cfg.Role, Player: cfg.Player}, nil)
	}
	f.Printf("✓ Config valid (%s, player %d)\n", cfg.Role, cfg.Player)
	return nil
}

func outputValidationErrors(f *OutputFormatter, issues []ValidationIssue) error {
	exitErr := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))

	if f.JSON() {
		err := f.Respond(ValidationResult{Valid: false, Errors: issues}, &CLIError{
			Code:    ErrCodeConfig,
			Message: issues[0].Message,
		})
		if err != nil {
			return err
		}
		return exitErr
	}

	f.Printf("✗ Validation failed\n\n")
	for _, issue := range issues {
		if issue.Path != "" {
			f.Printf("  %s: %s\n", issue.Path, issue.Message)
		} else {
			f.Printf("  %s\n", issue.Message)
		}
	}
	return exitErr
}

package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/todocheck/internal/config"
	"github.com/roach88/todocheck/internal/harness"
	"github.com/roach88/todocheck/internal/report"
	"github.com/roach88/todocheck/internal/scenarios"
)

// ValidateOptions holds flags for the validate command.
type ValidateOptions struct {
	*RootOptions
	Filter  string
	Builtin bool
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ValidateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "validate [paths...]",
		Short: "Check scenario files without running them",
		Long: `Check scenario files against the schema and the step rules without
starting a browser. Every file is checked; all failures are reported.

Exit codes:
  0 - All scenario files are valid
  1 - One or more scenario files are invalid
  2 - Command error (invalid paths, etc.)`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern on the file name")
	cmd.Flags().BoolVar(&opts.Builtin, "builtin", false, "validate the embedded to-do suite")

	return cmd
}

func runValidate(opts *ValidateOptions, paths []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	v, err := config.New(opts.ConfigFile)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}

	var result *harness.ValidationResult
	if opts.Builtin {
		result, err = validateBuiltin(opts.Filter)
	} else {
		if len(paths) == 0 {
			cfg, cfgErr := config.Load(v)
			if cfgErr != nil {
				return formatter.fail(ExitCommandError, ErrCodeConfig, "invalid configuration", cfgErr)
			}
			paths = []string{cfg.ScenariosDir}
		}
		result, err = harness.ValidateScenarios(paths, opts.Filter)
	}
	if err != nil {
		var notFound *harness.ScenarioNotFoundError
		if errors.As(err, &notFound) {
			return formatter.fail(ExitCommandError, ErrCodeNotFound, "scenario path not found", err)
		}
		return formatter.fail(ExitCommandError, ErrCodeGeneric, "failed to find scenarios", err)
	}

	result.CheckToggles(v.GetBool(config.KeyAllowUncomplete))

	for _, sc := range result.Scenarios {
		formatter.VerboseLog("Valid: %s (%d steps)", sc.Name, len(sc.Steps))
	}

	if formatter.JSON() {
		if result.Invalid > 0 {
			err = formatter.Failure(result)
		} else {
			err = formatter.Success(result)
		}
	} else {
		err = report.NewPrinter(cmd.OutOrStdout()).Validation(result)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to write report", err)
	}

	if result.Invalid > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("validation failed: %d of %d scenario files invalid", result.Invalid, result.Total))
	}
	return nil
}

// validateBuiltin reports the embedded suite in ValidationResult form. The
// embedded files either all load or the first failure is reported.
func validateBuiltin(filter string) (*harness.ValidationResult, error) {
	list, err := scenarios.Load(filter)
	if err != nil {
		return &harness.ValidationResult{
			Total:    1,
			Invalid:  1,
			Failures: []harness.LoadFailure{{Path: "builtin", Error: err.Error()}},
		}, nil
	}
	return &harness.ValidationResult{
		Total:     len(list),
		Valid:     len(list),
		Scenarios: list,
	}, nil
}


package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/todocheck/internal/config"
	"github.com/roach88/todocheck/internal/harness"
	"github.com/roach88/todocheck/internal/report"
	"github.com/roach88/todocheck/internal/scenarios"
	"github.com/roach88/todocheck/internal/store"
	"github.com/roach88/todocheck/internal/telemetry"
)

const tracerName = "github.com/roach88/todocheck"

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Filter  string
	Builtin bool
}

// runFlagKeys maps run flags to config keys.
var runFlagKeys = map[string]string{
	"parallel":  config.KeyParallel,
	"driver":    config.KeyDriver,
	"base-url":  config.KeyBaseURL,
	"headless":  config.KeyHeadless,
	"db":        config.KeyDatabase,
	"artifacts": config.KeyArtifactsDir,
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run [paths...]",
		Short: "Run scenarios against the to-do application",
		Long: `Run scenario files, or every scenario file under the given directories.

Each scenario runs in its own browser session, starting from empty storage.
With no paths, runs the configured scenarios_dir, or the built-in suite
with --builtin.

Exit codes:
  0 - All scenarios passed
  1 - One or more scenarios failed
  2 - Command error (invalid config, missing paths, browser not started)

Examples:
  todocheck run --builtin
  todocheck run ./scenarios --filter "delete_*" --parallel 4
  todocheck run ./scenarios/add.yaml --driver playwright --headless=false
  todocheck run --builtin --base-url http://localhost:8080/ --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarios(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Filter, "filter", "", "filter scenarios by glob pattern on the file name")
	cmd.Flags().BoolVar(&opts.Builtin, "builtin", false, "run the embedded to-do suite")
	cmd.Flags().Int("parallel", 1, "scenarios to run at once")
	cmd.Flags().String("driver", "chromedp", "browser driver (chromedp|playwright)")
	cmd.Flags().String("base-url", "", "application entry URL")
	cmd.Flags().Bool("headless", true, "run the browser headless")
	cmd.Flags().String("db", "", "run history database (empty string disables)")
	cmd.Flags().String("artifacts", "", "directory for failure screenshots")

	return cmd
}

func runScenarios(opts *RunOptions, paths []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	logger := opts.logger(cmd.ErrOrStderr())

	cfg, err := opts.loadConfig(cmd.Flags(), runFlagKeys)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}

	list, err := opts.collect(cfg, paths)
	if err != nil {
		var notFound *harness.ScenarioNotFoundError
		if errors.As(err, &notFound) {
			return formatter.fail(ExitCommandError, ErrCodeNotFound, "scenario path not found", err)
		}
		return formatter.fail(ExitCommandError, ErrCodeInvalidScenario, "failed to load scenarios", err)
	}
	formatter.VerboseLog("Loaded %d scenario(s)", len(list))

	tel := telemetry.New(logger)
	defer func() {
		if err := tel.Close(context.Background()); err != nil {
			logger.Warn("telemetry shutdown failed", "error", err)
		}
	}()

	hopts := cfg.HarnessOptions()
	hopts.Logger = logger
	hopts.Tracer = tel.Tracer(tracerName)
	h, err := harness.New(hopts)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var result *harness.SuiteResult
	if len(list) == 0 {
		result = (&harness.Suite{Harness: h, NewRunID: opts.NewRunID}).Run(ctx, nil)
	} else {
		launcher, err := opts.launcher()(cfg.Driver, cfg.BrowserOptions(), logger)
		if err != nil {
			return formatter.fail(ExitCommandError, ErrCodeBrowser, "failed to start browser", err)
		}
		defer func() {
			if err := launcher.Close(); err != nil {
				logger.Warn("browser shutdown failed", "error", err)
			}
		}()

		suite := &harness.Suite{
			Harness:  h,
			Launcher: launcher,
			Parallel: cfg.Parallel,
			NewRunID: opts.NewRunID,
		}
		result = suite.Run(ctx, list)
	}

	printer := report.NewPrinter(cmd.OutOrStdout(), report.WithVerbose(opts.Verbose))
	if err := recordRun(ctx, cfg.Database, result, logger); err != nil {
		if !formatter.JSON() {
			_ = report.NewPrinter(cmd.ErrOrStderr()).Warn("run history not recorded: %v", err)
		}
	}

	if formatter.JSON() {
		if result.AllPassed() {
			err = formatter.Success(result)
		} else {
			err = formatter.Failure(result)
		}
	} else {
		err = printer.Suite(result)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to write report", err)
	}

	if !result.AllPassed() {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", result.Failed, result.Total))
	}
	return nil
}

// collect loads scenarios from paths, the built-in suite, or the configured
// scenarios directory, in that order of preference.
func (o *RunOptions) collect(cfg *config.Config, paths []string) ([]*harness.Scenario, error) {
	if o.Builtin {
		if len(paths) > 0 {
			return nil, fmt.Errorf("--builtin does not take paths")
		}
		return scenarios.Load(o.Filter)
	}
	if len(paths) == 0 {
		paths = []string{cfg.ScenariosDir}
	}
	return harness.LoadScenarios(paths, o.Filter)
}

// recordRun stores the run when a database is configured. Failing to record
// never fails the run.
func recordRun(ctx context.Context, path string, result *harness.SuiteResult, logger *slog.Logger) error {
	if path == "" {
		return nil
	}
	st, err := store.Open(path)
	if err != nil {
		logger.Warn("run history unavailable", "database", path, "error", err)
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Warn("error closing database", "error", err)
		}
	}()

	// The run is recorded even when it was interrupted.
	if err := st.WriteRun(context.WithoutCancel(ctx), result); err != nil {
		logger.Warn("run history write failed", "run_id", result.RunID, "error", err)
		return err
	}
	logger.Debug("run recorded", "run_id", result.RunID, "database", path)
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

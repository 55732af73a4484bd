package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/todocheck/internal/config"
	"github.com/roach88/todocheck/internal/report"
	"github.com/roach88/todocheck/internal/store"
)

// HistoryOptions holds flags for the history command.
type HistoryOptions struct {
	*RootOptions
	Limit    int
	Scenario string
}

var historyFlagKeys = map[string]string{
	"db": config.KeyDatabase,
}

// NewHistoryCommand creates the history command.
func NewHistoryCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &HistoryOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show recorded runs",
		Long: `Show runs recorded by "todocheck run", newest first.

With a run id, shows that run's scenarios and steps. With --scenario,
shows the recorded outcomes of one scenario across runs.

Examples:
  todocheck history
  todocheck history --limit 5 --db ./todocheck.db
  todocheck history 0f8e2c1a-5f1e-4a4e-9b55-0d1c4b8f8d21
  todocheck history --scenario delete_keeps_identity`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(opts, args, cmd)
		},
	}

	cmd.Flags().String("db", "", "run history database")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum rows to show (0 for all)")
	cmd.Flags().StringVar(&opts.Scenario, "scenario", "", "show one scenario's outcomes across runs")

	return cmd
}

func runHistory(opts *HistoryOptions, args []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.loadConfig(cmd.Flags(), historyFlagKeys)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeConfig, "invalid configuration", err)
	}
	if len(args) == 1 && opts.Scenario != "" {
		return formatter.fail(ExitCommandError, ErrCodeGeneric, "a run id and --scenario are mutually exclusive", nil)
	}

	if cfg.Database == "" {
		return formatter.fail(ExitCommandError, ErrCodeDatabase, "no run history database configured", nil)
	}
	if _, err := os.Stat(cfg.Database); errors.Is(err, fs.ErrNotExist) {
		return formatter.fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("database not found: %s", cfg.Database), nil)
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return formatter.fail(ExitCommandError, ErrCodeDatabase, "failed to open database", err)
	}
	defer st.Close()

	ctx := commandContext(cmd)
	printer := report.NewPrinter(cmd.OutOrStdout(), report.WithVerbose(true))

	switch {
	case len(args) == 1:
		run, err := st.GetRun(ctx, args[0])
		if errors.Is(err, store.ErrRunNotFound) {
			return formatter.fail(ExitCommandError, ErrCodeNotFound, fmt.Sprintf("run %s not found", args[0]), nil)
		}
		if err != nil {
			return formatter.fail(ExitCommandError, ErrCodeDatabase, "failed to read run", err)
		}
		if formatter.JSON() {
			return formatter.Success(run)
		}
		return printer.Suite(run)

	case opts.Scenario != "":
		history, err := st.ScenarioHistory(ctx, opts.Scenario, opts.Limit)
		if err != nil {
			return formatter.fail(ExitCommandError, ErrCodeDatabase, "failed to read history", err)
		}
		if formatter.JSON() {
			if history == nil {
				history = []store.ScenarioRun{}
			}
			return formatter.Success(history)
		}
		return printer.History(opts.Scenario, history)

	default:
		runs, err := st.ListRuns(ctx, opts.Limit)
		if err != nil {
			return formatter.fail(ExitCommandError, ErrCodeDatabase, "failed to list runs", err)
		}
		if formatter.JSON() {
			if runs == nil {
				runs = []store.RunSummary{}
			}
			return formatter.Success(runs)
		}
		return printer.Runs(runs)
	}
}

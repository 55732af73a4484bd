package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/roach88/todocheck/internal/browser"
	"github.com/roach88/todocheck/internal/config"
)

// LauncherFunc starts a browser backend.
type LauncherFunc func(driver string, opts browser.Options, logger *slog.Logger) (browser.Launcher, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigFile string

	// NewLauncher starts the browser. Defaults to browser.NewLauncher.
	NewLauncher LauncherFunc

	// NewRunID overrides run id generation.
	NewRunID func() string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the todocheck CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "todocheck",
		Short: "todocheck - behavioural checks for a to-do web app",
		Long: `todocheck drives a browser through YAML scenarios against a
localStorage-backed to-do application and reports the first failing step
of each scenario with what was expected and what was found.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.ConfigFile, "config", "", "config file (default: ./todocheck.yaml if present)")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewHistoryCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// logger writes to stderr: Debug with --verbose, Warn otherwise.
func (o *RootOptions) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func (o *RootOptions) launcher() LauncherFunc {
	if o.NewLauncher != nil {
		return o.NewLauncher
	}
	return browser.NewLauncher
}

// loadConfig reads the config file and environment, then layers the flags
// named in bindings (flag name to config key) on top.
func (o *RootOptions) loadConfig(flags *pflag.FlagSet, bindings map[string]string) (*config.Config, error) {
	v, err := config.New(o.ConfigFile)
	if err != nil {
		return nil, err
	}
	if err := bindFlags(v, flags, bindings); err != nil {
		return nil, err
	}
	return config.Load(v)
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet, bindings map[string]string) error {
	for name, key := range bindings {
		flag := flags.Lookup(name)
		if flag == nil {
			continue
		}
		if err := v.BindPFlag(key, flag); err != nil {
			return fmt.Errorf("bind flag --%s: %w", name, err)
		}
	}
	return nil
}

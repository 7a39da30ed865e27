package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/tablesync/internal/config"
	"github.com/roach88/tablesync/internal/harness"
	"github.com/roach88/tablesync/internal/ir"
	"github.com/roach88/tablesync/internal/ruleset"
	"github.com/roach88/tablesync/internal/txlog"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose   bool
	Format    string // "json" | "text"
	Database  string
	Ruleset   string
	Buffering string

	// Logger is configured by the root command before any subcommand runs.
	Logger *slog.Logger

	cfg    config.Config
	cfgErr error
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the tablesync CLI.
// Environment configuration supplies the defaults of the global flags.
func NewRootCommand() *cobra.Command {
	cfg, cfgErr := config.Load()
	opts := &RootOptions{cfg: cfg, cfgErr: cfgErr}

	cmd := &cobra.Command{
		Use:     "tablesync",
		Short:   "tablesync - card table replication",
		Version: fmt.Sprintf("%s (trace format %s)", ir.EngineVersion, ir.FormatVersion),
		Long: `Replicate a canonical card table to per-viewer replicas.

Each viewer's replica holds only what that viewer may see. Scenarios drive a
table and check what every viewer received; the trace database records every
commit and every delivery for later inspection and replay.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.cfgErr != nil {
				return WrapExitError(ExitCommandError, "invalid environment", opts.cfgErr)
			}
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.Buffering != "" {
				if _, err := txlog.ParseBuffering(opts.Buffering); err != nil {
					return WrapExitError(ExitCommandError, "invalid --buffering", err)
				}
			}
			opts.Logger = newLogger(cmd, opts)
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", cfg.Database, "path to the SQLite trace database ($TABLESYNC_DB)")
	cmd.PersistentFlags().StringVar(&opts.Ruleset, "ruleset", cfg.Ruleset, "CUE ruleset directory, embedded default when empty ($TABLESYNC_RULESET)")
	cmd.PersistentFlags().StringVar(&opts.Buffering, "buffering", cfg.Buffering, "override scenario buffering: per-transaction|always|never ($TABLESYNC_BUFFERING)")

	// Add subcommands
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewReplayCommand(opts))
	cmd.AddCommand(NewTestCommand(opts))
	cmd.AddCommand(NewTraceCommand(opts))

	return cmd
}

// newLogger builds the process logger. Logs go to stderr so JSON output
// stays parseable.
func newLogger(cmd *cobra.Command, opts *RootOptions) *slog.Logger {
	level := opts.cfg.LogLevel
	if opts.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

// harnessOptions translates the global flags into harness options.
func (o *RootOptions) harnessOptions() ([]harness.Option, error) {
	var hopts []harness.Option
	if o.Logger != nil {
		hopts = append(hopts, harness.WithLogger(o.Logger))
	}
	if o.Ruleset != "" {
		rs, err := ruleset.LoadDir(o.Ruleset)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load ruleset", err)
		}
		hopts = append(hopts, harness.WithPolicy(rs.Policy))
	}
	if o.Buffering != "" {
		b, err := txlog.ParseBuffering(o.Buffering)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "invalid --buffering", err)
		}
		hopts = append(hopts, harness.WithBuffering(b))
	}
	return hopts, nil
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

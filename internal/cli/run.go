package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/tablesync/internal/engine"
	"github.com/roach88/tablesync/internal/harness"
	"github.com/roach88/tablesync/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions

	// MatchIDs overrides the match id generator used when tracing into
	// --db (for testing). If nil, defaults to UUIDv7Generator.
	MatchIDs engine.MatchIDGenerator
}

// RunResult is the outcome of one scenario run.
type RunResult struct {
	Name       string   `json:"name"`
	Pass       bool     `json:"pass"`
	MatchID    string   `json:"match_id"`
	Deliveries int      `json:"deliveries"`
	Digest     string   `json:"digest"`
	Errors     []string `json:"errors,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run one replication scenario",
		Long: `Run one replication scenario and check its assertions.

The scenario's table is driven step by step while every registered viewer
receives its projection. With --db, every commit and delivery is recorded
under a fresh match id so it can be inspected with trace and replay.

Example:
  tablesync run ./scenarios/hidden_hand.yaml
  tablesync run --db ./trace.db ./scenarios/rollback.yaml --verbose`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenarioFile(opts, args[0], cmd)
		},
	}

	return cmd
}

func runScenarioFile(opts *RunOptions, path string, cmd *cobra.Command) error {
	f := newFormatter(opts.RootOptions, cmd)

	scenario, err := harness.LoadScenario(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load scenario", err)
	}

	hopts, err := opts.harnessOptions()
	if err != nil {
		return err
	}

	if opts.Database != "" {
		f.VerboseLog("Tracing into %s", opts.Database)
		st, err := store.Open(opts.Database)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to open database", err)
		}
		defer func() {
			if closeErr := st.Close(); closeErr != nil && opts.Logger != nil {
				opts.Logger.Error("error closing database", "error", closeErr)
			}
		}()
		ids := opts.MatchIDs
		if ids == nil {
			ids = engine.UUIDv7Generator{}
		}
		hopts = append(hopts, harness.WithStore(st), harness.WithMatchIDGenerator(ids))
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	result, err := harness.Run(ctx, scenario, hopts...)
	if err != nil {
		return WrapExitError(ExitFailure, fmt.Sprintf("scenario %s failed to execute", scenario.Name), err)
	}

	rr := RunResult{
		Name:       scenario.Name,
		Pass:       result.Pass,
		MatchID:    result.MatchID,
		Deliveries: len(result.Trace),
		Digest:     result.Digest,
		Errors:     result.Errors,
	}

	if f.IsJSON() {
		resp := CLIResponse{Status: "ok", Data: rr, MatchID: rr.MatchID}
		if !rr.Pass {
			resp.Status = "error"
			resp.Error = &CLIError{Code: ErrCodeScenarioFailed, Message: "assertions failed", Details: rr.Errors}
		}
		if err := f.Respond(resp); err != nil {
			return err
		}
	} else {
		writeRunText(cmd, rr)
	}

	if !rr.Pass {
		return NewExitError(ExitFailure, fmt.Sprintf("scenario %s failed", rr.Name))
	}
	return nil
}

func writeRunText(cmd *cobra.Command, rr RunResult) {
	w := cmd.OutOrStdout()
	mark := "\u2713"
	if !rr.Pass {
		mark = "\u2717"
	}
	fmt.Fprintf(w, "%s %s (match %s)\n", mark, rr.Name, rr.MatchID)
	fmt.Fprintf(w, "  deliveries: %d\n", rr.Deliveries)
	fmt.Fprintf(w, "  digest:     %s\n", rr.Digest)
	for _, e := range rr.Errors {
		fmt.Fprintf(w, "  %s\n", strings.ReplaceAll(e, "\n", "\n  "))
	}
}

// signalContext derives a context from the command's that is cancelled on
// SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

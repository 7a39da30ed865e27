package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/tablesync/internal/harness"
	"github.com/roach88/tablesync/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	MatchID string
	Viewer  string // optional - one viewer only
}

// TraceEntry is one delivery in a viewer's timeline.
type TraceEntry struct {
	Seq  int64  `json:"seq"`
	Kind string `json:"kind"`
	Line string `json:"line"`
}

// ViewerTimeline is everything one viewer received, and the replica those
// deliveries rebuild.
type ViewerTimeline struct {
	Viewer         string       `json:"viewer"`
	Deliveries     []TraceEntry `json:"deliveries"`
	ReplicaObjects int          `json:"replica_objects"`
	ReplicaDigest  string       `json:"replica_digest"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	MatchID string           `json:"match_id"`
	Commits int              `json:"commits"`
	Viewers []ViewerTimeline `json:"viewers"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show what each viewer received in a match",
		Long: `Show the deliveries recorded for a match, per viewer.

Each viewer's deliveries are listed in seq order and replayed into a fresh
replica, whose object count and digest are reported alongside.

Examples:
  tablesync trace --db ./trace.db --match 0192f0c4-...
  tablesync trace --db ./trace.db --match 0192f0c4-... --viewer bob
  tablesync trace --db ./trace.db --match 0192f0c4-... --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.MatchID, "match", "", "match id to trace (required)")
	_ = cmd.MarkFlagRequired("match")
	cmd.Flags().StringVar(&opts.Viewer, "viewer", "", "show one viewer only")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	f := newFormatter(opts.RootOptions, cmd)

	st, err := openExisting(opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	viewers := []string{opts.Viewer}
	if opts.Viewer == "" {
		viewers, err = st.ListViewers(ctx, opts.MatchID)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list viewers", err)
		}
	}

	commits, err := st.ReadCommits(ctx, opts.MatchID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read commits", err)
	}

	result := TraceResult{
		MatchID: opts.MatchID,
		Commits: len(commits),
		Viewers: make([]ViewerTimeline, 0, len(viewers)),
	}
	for _, v := range viewers {
		tl, err := buildTimeline(ctx, st, opts.MatchID, v)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to trace viewer %s", v), err)
		}
		result.Viewers = append(result.Viewers, tl)
	}

	if len(commits) == 0 && totalDeliveries(result) == 0 {
		msg := fmt.Sprintf("no events found for match: %s", opts.MatchID)
		if err := f.Error(ErrCodeNotFound, msg, nil); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}

	if f.IsJSON() {
		return f.Respond(CLIResponse{Status: "ok", Data: result, MatchID: result.MatchID})
	}
	return outputTraceText(cmd, result, opts.Verbose)
}

// openExisting opens the --db trace database, which must already exist.
func openExisting(opts *RootOptions) (*store.Store, error) {
	if opts.Database == "" {
		return nil, NewExitError(ExitCommandError, "--db is required")
	}
	if _, err := os.Stat(opts.Database); err != nil {
		return nil, WrapExitError(ExitCommandError, "database not found", err)
	}
	st, err := store.Open(opts.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// buildTimeline reads one viewer's deliveries and rebuilds its replica.
func buildTimeline(ctx context.Context, st *store.Store, matchID, viewer string) (ViewerTimeline, error) {
	tl := ViewerTimeline{Viewer: viewer, Deliveries: []TraceEntry{}}

	deliveries, err := st.ReadDeliveries(ctx, matchID, viewer)
	if err != nil {
		return tl, err
	}
	for _, d := range deliveries {
		tl.Deliveries = append(tl.Deliveries, TraceEntry{
			Seq:  d.Seq,
			Kind: d.Kind,
			Line: harness.DeliveryLine(d),
		})
	}

	replica, err := st.RebuildViewer(ctx, matchID, viewer)
	if err != nil {
		return tl, err
	}
	tl.ReplicaObjects = replica.State().Len()
	if tl.ReplicaDigest, err = replica.State().Digest(nil); err != nil {
		return tl, err
	}
	return tl, nil
}

func totalDeliveries(r TraceResult) int {
	n := 0
	for _, v := range r.Viewers {
		n += len(v.Deliveries)
	}
	return n
}

// outputTraceText outputs the trace in human-readable form.
func outputTraceText(cmd *cobra.Command, result TraceResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Match: %s\n", result.MatchID)
	fmt.Fprintf(w, "Commits: %d\n", result.Commits)

	for _, v := range result.Viewers {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Viewer %s: %d deliveries, replica holds %d objects\n",
			v.Viewer, len(v.Deliveries), v.ReplicaObjects)
		if verbose {
			fmt.Fprintf(w, "  digest: %s\n", v.ReplicaDigest)
		}
		for _, d := range v.Deliveries {
			fmt.Fprintf(w, "  [%4d] %s\n", d.Seq, d.Line)
		}
	}
	return nil
}

package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/tablesync/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	MatchID string // optional - specific match only
}

// ReplayMatchResult holds the replay result for a single match.
type ReplayMatchResult struct {
	MatchID       string `json:"match_id"`
	Commits       int    `json:"commits"`
	Objects       int    `json:"objects"`
	LastSeq       int64  `json:"last_seq"`
	Digest        string `json:"digest,omitempty"`
	Deterministic bool   `json:"deterministic"`
	Error         string `json:"error,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Matches          []ReplayMatchResult `json:"matches"`
	TotalMatches     int                 `json:"total_matches"`
	AllDeterministic bool                `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Rebuild matches from their commits and verify determinism",
		Long: `Rebuild every match in the trace database from its stored commits.

Each match is rebuilt twice from an empty graph; both rebuilds must produce
the same digest.

Exit codes:
  0 - All matches are deterministic
  1 - A rebuild diverged or a commit no longer applies
  2 - Command error (database not found, etc.)

Examples:
  tablesync replay --db ./trace.db
  tablesync replay --db ./trace.db --match 0192f0c4-...
  tablesync replay --db ./trace.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.MatchID, "match", "", "replay specific match only")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	ctx := context.Background()
	f := newFormatter(opts.RootOptions, cmd)

	st, err := openExisting(opts.RootOptions)
	if err != nil {
		return err
	}
	defer st.Close()

	var matchIDs []string
	if opts.MatchID != "" {
		matchIDs = []string{opts.MatchID}
	} else {
		matchIDs, err = st.ListMatches(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to list matches", err)
		}
	}

	result := ReplayResult{
		Matches:          make([]ReplayMatchResult, 0, len(matchIDs)),
		TotalMatches:     len(matchIDs),
		AllDeterministic: true,
	}

	if len(matchIDs) == 0 {
		if f.IsJSON() {
			return outputReplayJSON(f, result)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No matches found in database.")
		return nil
	}

	for _, id := range matchIDs {
		f.VerboseLog("Replaying match %s", id)
		mr, err := replayMatch(ctx, st, id)
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("failed to replay match %s", id), err)
		}
		result.Matches = append(result.Matches, mr)
		if !mr.Deterministic {
			result.AllDeterministic = false
		}
	}

	if f.IsJSON() {
		return outputReplayJSON(f, result)
	}
	return outputReplayText(cmd, result, opts.Verbose)
}

// replayMatch rebuilds one match twice. A divergence or a commit that no
// longer applies is reported in the result; store errors are returned.
func replayMatch(ctx context.Context, st *store.Store, matchID string) (ReplayMatchResult, error) {
	mr := ReplayMatchResult{MatchID: matchID}

	ms, err := st.GetMatchState(ctx, matchID)
	if err != nil {
		mr.Error = err.Error()
		return mr, nil
	}
	mr.Commits = ms.Commits
	mr.Objects = ms.Objects
	mr.LastSeq = ms.LastSeq

	digest, err := st.VerifyReplay(ctx, matchID)
	switch {
	case errors.Is(err, store.ErrReplayDiverged):
		mr.Error = err.Error()
	case err != nil:
		return mr, err
	default:
		mr.Digest = digest
		mr.Deterministic = digest == ms.Digest
	}
	return mr, nil
}

// outputReplayJSON outputs the replay result as JSON.
func outputReplayJSON(f *OutputFormatter, result ReplayResult) error {
	resp := CLIResponse{Status: "ok", Data: result}
	if !result.AllDeterministic {
		resp.Status = "error"
		resp.Error = &CLIError{
			Code:    ErrCodeReplayDiverged,
			Message: "determinism verification failed",
		}
	}
	if err := f.Respond(resp); err != nil {
		return err
	}
	if !result.AllDeterministic {
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return nil
}

// outputReplayText outputs the replay result as text.
func outputReplayText(cmd *cobra.Command, result ReplayResult, verbose bool) error {
	w := cmd.OutOrStdout()

	fmt.Fprintf(w, "Replay Summary: %d match(es)\n", result.TotalMatches)
	fmt.Fprintln(w)

	for _, m := range result.Matches {
		status := "\u2713"
		if !m.Deterministic {
			status = "\u2717"
		}
		fmt.Fprintf(w, "%s Match: %s\n", status, m.MatchID)
		fmt.Fprintf(w, "  Commits: %d, objects: %d\n", m.Commits, m.Objects)
		if verbose {
			fmt.Fprintf(w, "  Last seq: %d\n", m.LastSeq)
			fmt.Fprintf(w, "  Digest: %s\n", m.Digest)
		}
		if m.Error != "" {
			fmt.Fprintf(w, "  Error: %s\n", m.Error)
		}
		fmt.Fprintln(w)
	}

	if result.AllDeterministic {
		fmt.Fprintln(w, "\u2713 All matches verified deterministic")
		return nil
	}

	fmt.Fprintln(w, "\u2717 Determinism verification failed")
	return NewExitError(ExitFailure, "determinism verification failed")
}

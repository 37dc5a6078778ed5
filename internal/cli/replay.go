package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/ownsim/internal/sim"
	"github.com/roach88/ownsim/internal/store"
)

// ReplayOptions holds flags for the replay command.
type ReplayOptions struct {
	*RootOptions
	Database string
	Session  string // optional - specific session only
}

// ReplayMismatch is one event that differs between the recording and
// the replay.
type ReplayMismatch struct {
	Seq        int64  `json:"seq"`
	StoredID   string `json:"stored_id,omitempty"`
	ReplayedID string `json:"replayed_id,omitempty"`
	Reason     string `json:"reason"`
}

// ReplaySessionResult holds the replay result for a single session.
type ReplaySessionResult struct {
	SessionID     string           `json:"session_id"`
	Program       string           `json:"program"`
	StoredEvents  int              `json:"stored_events"`
	ReplayEvents  int              `json:"replayed_events"`
	Deterministic bool             `json:"deterministic"`
	Mismatches    []ReplayMismatch `json:"mismatches,omitempty"`
}

// ReplayResult holds the overall replay result.
type ReplayResult struct {
	Sessions         []ReplaySessionResult `json:"sessions"`
	TotalSessions    int                   `json:"total_sessions"`
	AllDeterministic bool                  `json:"all_deterministic"`
}

// NewReplayCommand creates the replay command.
func NewReplayCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReplayOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-execute recorded sessions and verify determinism",
		Long: `Re-execute the program stored with each session on a fresh simulator and
compare the new events with the recorded ones by content hash.

Without --session every session in the database is replayed.

Exit codes:
  0 - All sessions are deterministic
  1 - Determinism verification failed (differences detected)
  2 - Command error (database not found, unknown session, etc.)

Examples:
  ownsim replay --db ./ownsim.db
  ownsim replay --db ./ownsim.db --session 0190f5c2-...
  ownsim replay --db ./ownsim.db --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "replay specific session only")

	return cmd
}

func runReplay(opts *ReplayOptions, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := cmd.Context()

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to open database", err)
	}
	defer st.Close()

	var ids []string
	if opts.Session != "" {
		ids = []string{opts.Session}
	} else {
		sessions, err := st.ListSessions(ctx)
		if err != nil {
			return out.Fail(ExitCommandError, CodeStore, "failed to list sessions", err)
		}
		for _, s := range sessions {
			ids = append(ids, s.ID)
		}
	}

	result := ReplayResult{
		Sessions:         make([]ReplaySessionResult, 0, len(ids)),
		TotalSessions:    len(ids),
		AllDeterministic: true,
	}

	for _, id := range ids {
		out.VerboseLog("replaying session %s", id)
		rr, err := sim.Replay(ctx, st, id)
		if errors.Is(err, store.ErrSessionNotFound) {
			return out.Fail(ExitCommandError, CodeSessionNotFound, fmt.Sprintf("session not found: %s", id), nil)
		}
		if err != nil {
			return out.Fail(ExitCommandError, CodeStore, fmt.Sprintf("failed to replay session %s", id), err)
		}

		sr := ReplaySessionResult{
			SessionID:     rr.SessionID,
			Program:       rr.Program,
			StoredEvents:  rr.StoredCount,
			ReplayEvents:  rr.ReplayedCount,
			Deterministic: rr.Deterministic,
		}
		for _, m := range rr.Mismatches {
			sr.Mismatches = append(sr.Mismatches, ReplayMismatch{
				Seq:        m.Seq,
				StoredID:   m.StoredID,
				ReplayedID: m.ReplayedID,
				Reason:     m.Reason,
			})
		}
		result.Sessions = append(result.Sessions, sr)
		if !sr.Deterministic {
			result.AllDeterministic = false
		}
	}

	if out.JSON() {
		return outputReplayJSON(out, result)
	}
	return outputReplayText(out.Writer, result, opts.Verbose)
}

func outputReplayJSON(out *OutputFormatter, result ReplayResult) error {
	response := CLIResponse{Status: "ok", Data: result}
	if !result.AllDeterministic {
		response.Status = "error"
		response.Error = &CLIError{
			Code:    CodeNonDeterministic,
			Message: "determinism verification failed",
		}
	}
	if err := out.encode(response); err != nil {
		return err
	}

	if !result.AllDeterministic {
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	return nil
}

func outputReplayText(w io.Writer, result ReplayResult, verbose bool) error {
	if result.TotalSessions == 0 {
		fmt.Fprintln(w, "No sessions found.")
		return nil
	}

	fmt.Fprintf(w, "Replay Summary: %d session(s)\n", result.TotalSessions)
	fmt.Fprintln(w)

	for _, s := range result.Sessions {
		status := "\u2713"
		if !s.Deterministic {
			status = "\u2717"
		}
		fmt.Fprintf(w, "%s Session: %s (%s)\n", status, s.SessionID, s.Program)
		fmt.Fprintf(w, "  Events: %d stored, %d replayed\n", s.StoredEvents, s.ReplayEvents)

		for _, m := range s.Mismatches {
			fmt.Fprintf(w, "  seq %d: %s\n", m.Seq, m.Reason)
			if verbose {
				fmt.Fprintf(w, "    stored:   %s\n", m.StoredID)
				fmt.Fprintf(w, "    replayed: %s\n", m.ReplayedID)
			}
		}
	}
	fmt.Fprintln(w)

	if !result.AllDeterministic {
		fmt.Fprintln(w, "\u2717 Determinism verification failed")
		return NewExitError(ExitFailure, "determinism verification failed")
	}
	fmt.Fprintln(w, "\u2713 All sessions verified deterministic")
	return nil
}

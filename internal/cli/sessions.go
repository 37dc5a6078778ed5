package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/ownsim/internal/store"
)

// SessionsOptions holds flags for the sessions command.
type SessionsOptions struct {
	*RootOptions
	Database string
}

// NewSessionsCommand creates the sessions command.
func NewSessionsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SessionsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recorded sessions",
		Long: `List every session in a database, oldest first, with its program,
event count and error count.

Examples:
  ownsim sessions --db ./ownsim.db
  ownsim sessions --db ./ownsim.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSessions(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")

	return cmd
}

func runSessions(opts *SessionsOptions, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to open database", err)
	}
	defer st.Close()

	sessions, err := st.ListSessions(cmd.Context())
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to list sessions", err)
	}

	if out.JSON() {
		return out.Success(sessions)
	}
	outputSessionsText(out.Writer, sessions)
	return nil
}

func outputSessionsText(w io.Writer, sessions []store.SessionSummary) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No sessions found.")
		return
	}

	fmt.Fprintf(w, "%-36s  %-20s  %6s  %6s\n", "SESSION", "PROGRAM", "EVENTS", "ERRORS")
	for _, s := range sessions {
		program := s.Program
		if s.Shadowing {
			program += " (shadowing)"
		}
		fmt.Fprintf(w, "%-36s  %-20s  %6d  %6d\n", s.ID, program, s.Events, s.Errors)
	}
	fmt.Fprintf(w, "\n%d session(s)\n", len(sessions))
}

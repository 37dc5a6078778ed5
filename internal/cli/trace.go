package cli

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/ownsim/internal/ir"
	"github.com/roach88/ownsim/internal/store"
)

// TraceOptions holds flags for the trace command.
type TraceOptions struct {
	*RootOptions
	Database string
	Session  string
	Op       string // optional - filter to one operation kind
}

// TraceEvent is one entry of the trace timeline.
type TraceEvent struct {
	Seq        int64    `json:"seq"`
	Depth      int      `json:"depth"`
	ID         string   `json:"id"`
	Op         string   `json:"op"`
	Name       string   `json:"name,omitempty"`
	From       string   `json:"from,omitempty"`
	Outcome    string   `json:"outcome"`
	ErrorCode  string   `json:"error_code,omitempty"`
	Message    string   `json:"message,omitempty"`
	Value      ir.Value `json:"value,omitempty"`
	RefCount   int64    `json:"refcount,omitempty"`
	Dropped    []string `json:"dropped,omitempty"`
	Released   bool     `json:"released,omitempty"`
	MaybeMoved []string `json:"maybe_moved,omitempty"`
}

// Transfer is a successful move, copy, clone or share: ownership (or a
// handle) flowing from one binding to another.
type Transfer struct {
	Seq  int64  `json:"seq"`
	Op   string `json:"op"`
	From string `json:"from"`
	To   string `json:"to"`
}

// TraceStats holds summary statistics for the trace.
type TraceStats struct {
	TotalEvents int            `json:"total_events"`
	Errors      int            `json:"errors"`
	Drops       int            `json:"drops"`    // bindings ended by drop, assign, end or a branch
	Releases    int            `json:"releases"` // shared cells that reached zero handles
	MaxDepth    int            `json:"max_depth"`
	ByOp        map[string]int `json:"by_op"`
}

// TraceResult holds the complete trace output.
type TraceResult struct {
	SessionID string       `json:"session_id"`
	Program   string       `json:"program"`
	Shadowing bool         `json:"shadowing"`
	Timeline  []TraceEvent `json:"timeline"`
	Transfers []Transfer   `json:"transfers"`
	Stats     TraceStats   `json:"stats"`
}

// NewTraceCommand creates the trace command.
func NewTraceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TraceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Show the recorded events of a session",
		Long: `Show what happened in a recorded session.

The output includes:
- Timeline: every event in seq order, nested steps indented
- Transfers: successful move/copy/clone/share edges between bindings
- Stats: event, error, drop and release counts

Examples:
  ownsim trace --db ./ownsim.db --session 0190f5c2-...
  ownsim trace --db ./ownsim.db --session 0190f5c2-... --op move
  ownsim trace --db ./ownsim.db --session 0190f5c2-... --format json`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrace(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.Session, "session", "", "session ID to trace (required)")
	_ = cmd.MarkFlagRequired("session")
	cmd.Flags().StringVar(&opts.Op, "op", "", "only show events of this operation kind")

	return cmd
}

func runTrace(opts *TraceOptions, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx := cmd.Context()

	if opts.Op != "" && !ir.ValidOpKinds[ir.OpKind(opts.Op)] {
		return out.Fail(ExitCommandError, CodeInvalidFlag, fmt.Sprintf("unknown operation %q", opts.Op), nil)
	}

	st, err := openExistingStore(opts.Database)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to open database", err)
	}
	defer st.Close()

	session, err := st.ReadSession(ctx, opts.Session)
	if errors.Is(err, store.ErrSessionNotFound) {
		return out.Fail(ExitCommandError, CodeSessionNotFound, fmt.Sprintf("session not found: %s", opts.Session), nil)
	}
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to read session", err)
	}

	var events []ir.Event
	if opts.Op != "" {
		events, err = st.ReadEventsByOp(ctx, opts.Session, ir.OpKind(opts.Op))
	} else {
		events, err = st.ReadEvents(ctx, opts.Session)
	}
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to read events", err)
	}

	result := TraceResult{
		SessionID: session.ID,
		Program:   session.Program,
		Shadowing: session.Shadowing,
		Timeline:  buildTimeline(events),
		Transfers: buildTransfers(events),
		Stats:     buildStats(events),
	}

	if out.JSON() {
		return out.Success(result)
	}
	outputTraceText(out.Writer, result, opts.Verbose)
	return nil
}

// openExistingStore opens a database that must already exist; store.Open
// alone would create an empty one.
func openExistingStore(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database not found: %s", path)
	}
	return store.Open(path)
}

func buildTimeline(events []ir.Event) []TraceEvent {
	timeline := make([]TraceEvent, 0, len(events))
	for _, ev := range events {
		timeline = append(timeline, TraceEvent{
			Seq:        ev.Seq,
			Depth:      ev.Depth,
			ID:         ev.ID,
			Op:         string(ev.Op.Kind),
			Name:       ev.Op.Name,
			From:       ev.Op.From,
			Outcome:    ev.Outcome,
			ErrorCode:  ev.ErrorCode,
			Message:    ev.ErrorMessage,
			Value:      ev.Value,
			RefCount:   ev.RefCount,
			Dropped:    ev.Dropped,
			Released:   ev.Released,
			MaybeMoved: ev.MaybeMoved,
		})
	}
	return timeline
}

func buildTransfers(events []ir.Event) []Transfer {
	transfers := []Transfer{}
	for _, ev := range events {
		if !ev.OK() || ev.Op.From == "" {
			continue
		}
		switch ev.Op.Kind {
		case ir.OpMove, ir.OpCopy, ir.OpClone, ir.OpShare, ir.OpPush:
			transfers = append(transfers, Transfer{
				Seq:  ev.Seq,
				Op:   string(ev.Op.Kind),
				From: ev.Op.From,
				To:   ev.Op.Name,
			})
		}
	}
	return transfers
}

func buildStats(events []ir.Event) TraceStats {
	stats := TraceStats{TotalEvents: len(events), ByOp: map[string]int{}}
	for _, ev := range events {
		stats.ByOp[string(ev.Op.Kind)]++
		if !ev.OK() {
			stats.Errors++
		}
		stats.Drops += len(ev.Dropped)
		if ev.Released {
			stats.Releases++
		}
		stats.MaxDepth = max(stats.MaxDepth, ev.Depth)
	}
	return stats
}

func outputTraceText(w io.Writer, result TraceResult, verbose bool) {
	fmt.Fprintf(w, "Trace for Session: %s\n", result.SessionID)
	fmt.Fprintf(w, "Program: %s\n", result.Program)
	if result.Shadowing {
		fmt.Fprintln(w, "Shadowing: on")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Timeline ===")
	if len(result.Timeline) == 0 {
		fmt.Fprintln(w, "  (no events)")
	}
	for _, event := range result.Timeline {
		formatTimelineEvent(w, event, verbose)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Transfers ===")
	if len(result.Transfers) == 0 {
		fmt.Fprintln(w, "  (no transfers)")
	}
	for _, t := range result.Transfers {
		fmt.Fprintf(w, "  [%d] %s -[%s]-> %s\n", t.Seq, t.From, t.Op, t.To)
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "=== Stats ===")
	fmt.Fprintf(w, "  Total Events: %d\n", result.Stats.TotalEvents)
	fmt.Fprintf(w, "  Errors:       %d\n", result.Stats.Errors)
	fmt.Fprintf(w, "  Drops:        %d\n", result.Stats.Drops)
	fmt.Fprintf(w, "  Releases:     %d\n", result.Stats.Releases)
	fmt.Fprintf(w, "  Max Depth:    %d\n", result.Stats.MaxDepth)
	if len(result.Stats.ByOp) > 0 {
		parts := make([]string, 0, len(result.Stats.ByOp))
		for _, op := range slices.Sorted(maps.Keys(result.Stats.ByOp)) {
			parts = append(parts, fmt.Sprintf("%s=%d", op, result.Stats.ByOp[op]))
		}
		fmt.Fprintf(w, "  By Op:        %s\n", strings.Join(parts, " "))
	}
}

func formatTimelineEvent(w io.Writer, event TraceEvent, verbose bool) {
	indent := strings.Repeat("  ", event.Depth)
	line := fmt.Sprintf("  [%d] %s%s", event.Seq, indent, event.Op)
	switch {
	case event.From != "" && event.Name != "":
		line += fmt.Sprintf(" %s -> %s", event.From, event.Name)
	case event.Name != "":
		line += " " + event.Name
	}
	line += " " + event.Outcome
	if event.ErrorCode != "" {
		line += " " + event.ErrorCode
	}
	if event.Value != nil {
		line += " = " + ir.Format(event.Value)
	}
	if event.RefCount > 0 {
		line += fmt.Sprintf(" refcount=%d", event.RefCount)
	}
	if len(event.Dropped) > 0 {
		line += " dropped=" + strings.Join(event.Dropped, ",")
	}
	if event.Released {
		line += " released"
	}
	if len(event.MaybeMoved) > 0 {
		line += " maybe_moved=" + strings.Join(event.MaybeMoved, ",")
	}
	if verbose {
		line += fmt.Sprintf(" (%s)", truncateID(event.ID))
	}
	fmt.Fprintln(w, line)

	if verbose && event.Message != "" {
		fmt.Fprintf(w, "      %s%s\n", indent, event.Message)
	}
}

// truncateID shortens a hash for display: first 8 and last 8 characters.
func truncateID(id string) string {
	if len(id) <= 20 {
		return id
	}
	return id[:8] + "..." + id[len(id)-8:]
}

package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/ownsim/internal/ir"
	"github.com/roach88/ownsim/internal/sim"
	"github.com/roach88/ownsim/internal/store"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Program   string
	Database  string
	Shadowing bool
	MaxSteps  int

	// Sessions overrides the session ID generator (for testing).
	// If nil, defaults to UUIDv7Generator.
	Sessions sim.SessionIDGenerator
}

// RunStep is one executed top-level step.
type RunStep struct {
	Index      int      `json:"index"`
	Seq        int64    `json:"seq"`
	Op         string   `json:"op"`
	Name       string   `json:"name,omitempty"`
	From       string   `json:"from,omitempty"`
	Outcome    string   `json:"outcome"`
	ErrorCode  string   `json:"error_code,omitempty"`
	Message    string   `json:"message,omitempty"`
	Value      ir.Value `json:"value,omitempty"`
	RefCount   int64    `json:"refcount,omitempty"`
	Dropped    []string `json:"dropped,omitempty"`
	MaybeMoved []string `json:"maybe_moved,omitempty"`
	Mismatch   string   `json:"mismatch,omitempty"`
}

// BindingView is a binding's final state.
type BindingView struct {
	Name     string   `json:"name"`
	Kind     string   `json:"kind"`
	State    string   `json:"state"`
	Value    ir.Value `json:"value,omitempty"`
	RefCount int64    `json:"refcount,omitempty"`
	Depth    int      `json:"depth"`
}

// RunSummary is the result of the run command.
type RunSummary struct {
	SessionID string        `json:"session_id"`
	Program   string        `json:"program"`
	Database  string        `json:"database,omitempty"`
	Passed    bool          `json:"passed"`
	FailedAt  *int          `json:"failed_at,omitempty"`
	Steps     []RunStep     `json:"steps"`
	Bindings  []BindingView `json:"bindings"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	return newRunCommand(&RunOptions{RootOptions: rootOpts})
}

func newRunCommand(opts *RunOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <file.cue>",
		Short: "Execute a program and record its events",
		Long: `Execute one program step by step, checking each step against its
expectation. Execution stops at the first step that does not behave as
expected.

With --db the session and its events are recorded for trace and replay;
without it the run is kept in memory.

Example:
  ownsim run examples/moves.cue --program move_chain
  ownsim run --db ./ownsim.db examples/shared.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProgram(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Program, "program", "p", "", "program to run (required when the file declares several)")
	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default: in memory)")
	cmd.Flags().BoolVar(&opts.Shadowing, "shadowing", false, "allow rebinding a live name in the same scope")
	cmd.Flags().IntVar(&opts.MaxSteps, "max-steps", sim.DefaultMaxSteps, "maximum operations per session")

	return cmd
}

func runProgram(opts *RunOptions, path string, cmd *cobra.Command) error {
	out := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if opts.MaxSteps <= 0 {
		return out.Fail(ExitCommandError, CodeInvalidFlag,
			fmt.Sprintf("--max-steps must be positive, got %d", opts.MaxSteps), nil)
	}

	prog, err := loadProgram(path, opts.Program)
	if err != nil {
		return out.Fail(ExitCommandError, errorCode(err), "failed to load program", err)
	}
	if opts.Shadowing {
		prog.Shadowing = true
	}
	out.VerboseLog("loaded program %s (%d steps)", prog.Name, len(prog.Steps))

	dbPath := opts.Database
	if dbPath == "" {
		dbPath = store.MemoryPath
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to open database", err)
	}
	defer func() {
		if closeErr := st.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gen := opts.Sessions
	if gen == nil {
		gen = sim.UUIDv7Generator{}
	}
	sessionID := gen.Generate()

	if err := recordSession(ctx, st, sessionID, prog, opts.MaxSteps); err != nil {
		return out.Fail(ExitCommandError, CodeStore, "failed to record session", err)
	}

	s := sim.New(
		sim.WithSessionID(sessionID),
		sim.WithRecorder(st),
		sim.WithShadowing(prog.Shadowing),
		sim.WithMaxSteps(opts.MaxSteps),
	)
	report, err := s.Execute(ctx, prog)
	if err != nil {
		return out.Fail(ExitCommandError, CodeStore, "execution aborted", err)
	}

	summary := newRunSummary(sessionID, opts.Database, report, s.Bindings())

	if !report.Passed {
		msg := fmt.Sprintf("program %s failed at step %d: %s", prog.Name, report.FailedAt, report.Failure())
		if out.JSON() {
			if err := out.Error(CodeProgramFailed, msg, summary); err != nil {
				return err
			}
		} else {
			printRunText(out.Writer, summary)
		}
		return NewExitError(ExitFailure, msg)
	}

	if out.JSON() {
		return out.Success(summary)
	}
	printRunText(out.Writer, summary)
	return nil
}

// recordSession writes the session row that the run's events reference.
func recordSession(ctx context.Context, st *store.Store, id string, prog ir.Program, maxSteps int) error {
	hash, err := ir.ProgramHash(prog)
	if err != nil {
		return fmt.Errorf("hash program: %w", err)
	}
	return st.WriteSession(ctx, ir.Session{
		ID:            id,
		Program:       prog.Name,
		ProgramHash:   hash,
		Shadowing:     prog.Shadowing,
		MaxSteps:      maxSteps,
		Steps:         prog.Steps,
		EngineVersion: ir.EngineVersion,
		IRVersion:     ir.IRVersion,
	})
}

func newRunSummary(sessionID, database string, report *sim.Report, bindings []sim.BindingInfo) RunSummary {
	summary := RunSummary{
		SessionID: sessionID,
		Program:   report.Program,
		Database:  database,
		Passed:    report.Passed,
		Steps:     make([]RunStep, 0, len(report.Steps)),
		Bindings:  make([]BindingView, 0, len(bindings)),
	}
	if !report.Passed {
		failedAt := report.FailedAt
		summary.FailedAt = &failedAt
	}

	for _, sr := range report.Steps {
		ev := sr.Event
		summary.Steps = append(summary.Steps, RunStep{
			Index:      sr.Index,
			Seq:        ev.Seq,
			Op:         string(ev.Op.Kind),
			Name:       ev.Op.Name,
			From:       ev.Op.From,
			Outcome:    ev.Outcome,
			ErrorCode:  ev.ErrorCode,
			Message:    ev.ErrorMessage,
			Value:      ev.Value,
			RefCount:   ev.RefCount,
			Dropped:    ev.Dropped,
			MaybeMoved: ev.MaybeMoved,
			Mismatch:   sr.Mismatch,
		})
	}

	for _, b := range bindings {
		summary.Bindings = append(summary.Bindings, BindingView{
			Name:     b.Name,
			Kind:     string(b.Kind),
			State:    string(b.State),
			Value:    b.Value,
			RefCount: b.RefCount,
			Depth:    b.Depth,
		})
	}
	return summary
}

func printRunText(w io.Writer, s RunSummary) {
	fmt.Fprintf(w, "Session: %s\n", s.SessionID)
	fmt.Fprintf(w, "Program: %s\n\n", s.Program)

	for _, step := range s.Steps {
		fmt.Fprintf(w, "  [%d] %s\n", step.Seq, describeStep(step))
		if step.Mismatch != "" {
			fmt.Fprintf(w, "      \u2717 %s\n", step.Mismatch)
		}
	}

	if len(s.Bindings) > 0 {
		fmt.Fprintln(w, "\nBindings:")
		for _, b := range s.Bindings {
			line := fmt.Sprintf("  %-10s %-7s %s", b.Name, b.Kind, b.State)
			if b.Value != nil {
				line += " " + ir.Format(b.Value)
			}
			if b.RefCount > 0 {
				line += fmt.Sprintf(" (refcount %d)", b.RefCount)
			}
			fmt.Fprintln(w, line)
		}
	}

	fmt.Fprintln(w)
	if s.Passed {
		fmt.Fprintf(w, "\u2713 %s passed (%d steps)\n", s.Program, len(s.Steps))
		return
	}
	fmt.Fprintf(w, "\u2717 %s failed at step %d\n", s.Program, *s.FailedAt)
}

// describeStep renders a step as "move s -> t ok" with its effects.
func describeStep(step RunStep) string {
	parts := []string{step.Op}
	switch {
	case step.From != "" && step.Name != "":
		parts = append(parts, step.From, "->", step.Name)
	case step.Name != "":
		parts = append(parts, step.Name)
	}
	parts = append(parts, step.Outcome)
	if step.ErrorCode != "" {
		parts = append(parts, step.ErrorCode)
	}
	if step.Value != nil {
		parts = append(parts, "= "+ir.Format(step.Value))
	}
	if step.RefCount > 0 {
		parts = append(parts, fmt.Sprintf("refcount=%d", step.RefCount))
	}
	if len(step.Dropped) > 0 {
		parts = append(parts, "dropped="+strings.Join(step.Dropped, ","))
	}
	if len(step.MaybeMoved) > 0 {
		parts = append(parts, "maybe_moved="+strings.Join(step.MaybeMoved, ","))
	}
	return strings.Join(parts, " ")
}

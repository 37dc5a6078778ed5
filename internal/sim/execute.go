package sim

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/roach88/ownsim/internal/ir"
)

// StepResult is the outcome of one top-level program step.
type StepResult struct {
	Index    int
	Event    ir.Event
	Err      error
	Mismatch string // non-empty when the step did not do what it expected
}

// Report summarises a program run.
type Report struct {
	Program  string
	Steps    []StepResult
	Passed   bool
	FailedAt int // index of the failing step, -1 when Passed
}

// Failure returns the failing step's mismatch, or "".
func (r *Report) Failure() string {
	if r.FailedAt < 0 || r.FailedAt >= len(r.Steps) {
		return ""
	}
	return r.Steps[r.FailedAt].Mismatch
}

// Execute applies the program's top-level steps in order, checking each
// step against its expectation. Execution stops at the first step that
// does not behave as expected; an unexpected error is terminal.
//
// The returned error is reserved for failures outside the simulation
// (context cancellation, recorder failure). Ownership errors are reported
// in the Report.
func (s *Simulator) Execute(ctx context.Context, p ir.Program) (*Report, error) {
	report := &Report{Program: p.Name, Passed: true, FailedAt: -1, Steps: []StepResult{}}

	for i, step := range p.Steps {
		ev, err := s.Apply(ctx, step.Op)
		if err != nil && CodeOf(err) == "" {
			return report, fmt.Errorf("step %d: %w", i, err)
		}

		sr := StepResult{Index: i, Event: ev, Err: err, Mismatch: CheckExpectation(step.Expect, ev, err)}
		report.Steps = append(report.Steps, sr)

		if sr.Mismatch != "" {
			report.Passed = false
			report.FailedAt = i
			slog.Warn("program stopped",
				"program", p.Name,
				"session", s.sessionID,
				"step", i,
				"reason", sr.Mismatch)
			break
		}
	}

	slog.Info("program executed",
		"program", p.Name,
		"session", s.sessionID,
		"steps", len(report.Steps),
		"passed", report.Passed)

	return report, nil
}

// CheckExpectation compares an applied step with what it expected.
// Returns "" when they agree, otherwise a description of the mismatch.
// A nil expectation means the step must succeed.
func CheckExpectation(exp *ir.Expectation, ev ir.Event, err error) string {
	if exp != nil && exp.Error != "" {
		if err == nil {
			return fmt.Sprintf("expected error %s, but the operation succeeded", exp.Error)
		}
		if got := CodeOf(err); string(got) != exp.Error {
			return fmt.Sprintf("expected error %s, got %s: %v", exp.Error, got, err)
		}
		return ""
	}

	if err != nil {
		return fmt.Sprintf("unexpected error: %v", err)
	}
	if exp == nil {
		return ""
	}
	if exp.Value != nil && !ir.Equal(exp.Value, ev.Value) {
		return fmt.Sprintf("expected value %s, got %s", ir.Format(exp.Value), ir.Format(ev.Value))
	}
	if exp.RefCount != nil && *exp.RefCount != ev.RefCount {
		return fmt.Sprintf("expected refcount %d, got %d", *exp.RefCount, ev.RefCount)
	}
	return ""
}

// SortEvents orders events by seq, then by ID (binary) for ties.
func SortEvents(events []ir.Event) {
	slices.SortStableFunc(events, func(a, b ir.Event) int {
		if a.Seq != b.Seq {
			if a.Seq < b.Seq {
				return -1
			}
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})
}

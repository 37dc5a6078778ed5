package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/ownsim/internal/ir"
	"github.com/roach88/ownsim/internal/sim"
)

// AssertionError is returned when an assertion fails. It carries the
// trace so a failure can be read without re-running the scenario.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string
	Trace    []TraceEvent
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for _, ev := range e.Trace {
			fmt.Fprintf(&buf, "  [%d] %s\n", ev.Seq, describeEvent(ev))
		}
	}
	return buf.String()
}

// describeEvent renders an event as e.g. "move s -> t ok" or
// "read s error USE_AFTER_MOVE".
func describeEvent(ev TraceEvent) string {
	var sb strings.Builder
	sb.WriteString(strings.Repeat("  ", ev.Depth))
	sb.WriteString(ev.Op)
	if ev.From != "" {
		fmt.Fprintf(&sb, " %s ->", ev.From)
	}
	if ev.Name != "" {
		fmt.Fprintf(&sb, " %s", ev.Name)
	}
	fmt.Fprintf(&sb, " %s", ev.Outcome)
	if ev.ErrorCode != "" {
		fmt.Fprintf(&sb, " %s", ev.ErrorCode)
	}
	return sb.String()
}

func assertLive(bindings map[string]sim.BindingInfo, a Assertion) error {
	for _, name := range a.Names {
		b, ok := bindings[name]
		if !ok {
			return &AssertionError{
				Type:     AssertLive,
				Expected: fmt.Sprintf("%s to be live", name),
				Actual:   "not bound",
			}
		}
		if b.State != sim.StateLive {
			return &AssertionError{
				Type:     AssertLive,
				Expected: fmt.Sprintf("%s to be live", name),
				Actual:   fmt.Sprintf("%s is %s", name, b.State),
			}
		}
	}
	return nil
}

func assertDead(bindings map[string]sim.BindingInfo, a Assertion) error {
	for _, name := range a.Names {
		if b, ok := bindings[name]; ok && b.State == sim.StateLive {
			return &AssertionError{
				Type:     AssertDead,
				Expected: fmt.Sprintf("%s to have no value", name),
				Actual:   fmt.Sprintf("%s is live with %s", name, ir.Format(b.Value)),
			}
		}
	}
	return nil
}

func assertRefCount(bindings map[string]sim.BindingInfo, a Assertion) error {
	b, ok := bindings[a.Name]
	if !ok || b.State != sim.StateLive {
		return &AssertionError{
			Type:     AssertRefCount,
			Expected: fmt.Sprintf("%s to be a live handle", a.Name),
			Actual:   "no live binding",
		}
	}
	if b.RefCount != int64(expectedCount(a)) {
		return &AssertionError{
			Type:     AssertRefCount,
			Expected: fmt.Sprintf("refcount of %s = %d", a.Name, expectedCount(a)),
			Actual:   fmt.Sprintf("refcount %d", b.RefCount),
		}
	}
	return nil
}

func assertReleased(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Released {
			count++
		}
	}
	if count != expectedCount(a) {
		return &AssertionError{
			Type:     AssertReleased,
			Expected: fmt.Sprintf("%d releases", expectedCount(a)),
			Actual:   fmt.Sprintf("%d releases", count),
			Trace:    trace,
		}
	}
	return nil
}

// matches reports whether ev satisfies the assertion's op, name, outcome
// and code filters. Empty filters match anything.
func matches(ev TraceEvent, a Assertion) bool {
	if a.Op != "" && ev.Op != a.Op {
		return false
	}
	if a.Name != "" && ev.Name != a.Name {
		return false
	}
	if a.Outcome != "" && ev.Outcome != a.Outcome {
		return false
	}
	if a.Code != "" && ev.ErrorCode != a.Code {
		return false
	}
	return true
}

func assertTraceContains(trace []TraceEvent, a Assertion) error {
	for _, ev := range trace {
		if matches(ev, a) {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("event %s", describeFilter(a)),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that the listed ops appear in order. Other
// events may come between them.
func assertTraceOrder(trace []TraceEvent, a Assertion) error {
	pos := 0
	for _, entry := range a.Ops {
		op, name, _ := strings.Cut(entry, ":")
		want := Assertion{Op: op, Name: name}

		found := false
		for pos < len(trace) {
			ev := trace[pos]
			pos++
			if matches(ev, want) {
				found = true
				break
			}
		}
		if !found {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("events in order: %v", a.Ops),
				Actual:   fmt.Sprintf("no %s after the previous match", entry),
				Trace:    trace,
			}
		}
	}
	return nil
}

func assertTraceCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if matches(ev, a) {
			count++
		}
	}
	if count != expectedCount(a) {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d events %s", expectedCount(a), describeFilter(a)),
			Actual:   fmt.Sprintf("%d events", count),
			Trace:    trace,
		}
	}
	return nil
}

func assertErrorCount(trace []TraceEvent, a Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Outcome == ir.OutcomeError && (a.Code == "" || ev.ErrorCode == a.Code) {
			count++
		}
	}
	if count != expectedCount(a) {
		expected := fmt.Sprintf("%d errors", expectedCount(a))
		if a.Code != "" {
			expected = fmt.Sprintf("%d %s errors", expectedCount(a), a.Code)
		}
		return &AssertionError{
			Type:     AssertErrorCount,
			Expected: expected,
			Actual:   fmt.Sprintf("%d", count),
			Trace:    trace,
		}
	}
	return nil
}

func describeFilter(a Assertion) string {
	parts := []string{"op=" + a.Op}
	if a.Name != "" {
		parts = append(parts, "name="+a.Name)
	}
	if a.Outcome != "" {
		parts = append(parts, "outcome="+a.Outcome)
	}
	if a.Code != "" {
		parts = append(parts, "code="+a.Code)
	}
	return strings.Join(parts, " ")
}

// EvaluateAssertions checks every assertion against the result and
// returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string

	for i, a := range assertions {
		var err error

		switch a.Type {
		case AssertLive:
			err = assertLive(result.Bindings, a)
		case AssertDead:
			err = assertDead(result.Bindings, a)
		case AssertRefCount:
			err = assertRefCount(result.Bindings, a)
		case AssertReleased:
			err = assertReleased(result.Trace, a)
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, a)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, a)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, a)
		case AssertErrorCount:
			err = assertErrorCount(result.Trace, a)
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, a.Type)
		}

		if err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

// expectedCount treats a missing count as zero.
func expectedCount(a Assertion) int {
	if a.Count == nil {
		return 0
	}
	return *a.Count
}

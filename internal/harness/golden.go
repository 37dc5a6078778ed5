package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/ownsim/internal/ir"
)

// GoldenSuffix is the extension of golden trace files.
const GoldenSuffix = ".golden"

// TraceSnapshot is the golden form of a scenario run.
type TraceSnapshot struct {
	ScenarioName string       `json:"scenario_name"`
	SessionID    string       `json:"session_id"`
	Trace        []TraceEvent `json:"trace"`
}

// toCanonical converts the snapshot to an ir.Object so it can go through
// ir.MarshalCanonical. Zero-valued optional fields are left out.
func (s *TraceSnapshot) toCanonical() ir.Object {
	trace := make(ir.Array, len(s.Trace))
	for i, ev := range s.Trace {
		obj := ir.Object{
			"seq":     ir.Int(ev.Seq),
			"depth":   ir.Int(ev.Depth),
			"op":      ir.String(ev.Op),
			"outcome": ir.String(ev.Outcome),
		}
		if ev.Name != "" {
			obj["name"] = ir.String(ev.Name)
		}
		if ev.From != "" {
			obj["from"] = ir.String(ev.From)
		}
		if ev.ErrorCode != "" {
			obj["error_code"] = ir.String(ev.ErrorCode)
		}
		if ev.Value != nil {
			obj["value"] = ev.Value
		}
		if ev.RefCount != 0 {
			obj["refcount"] = ir.Int(ev.RefCount)
		}
		if len(ev.Dropped) > 0 {
			obj["dropped"] = ir.Strings(ev.Dropped...)
		}
		if ev.Released {
			obj["released"] = ir.Bool(true)
		}
		if len(ev.MaybeMoved) > 0 {
			obj["maybe_moved"] = ir.Strings(ev.MaybeMoved...)
		}
		trace[i] = obj
	}

	return ir.Object{
		"scenario_name": ir.String(s.ScenarioName),
		"session_id":    ir.String(s.SessionID),
		"trace":         trace,
	}
}

// Snapshot renders a result as canonical JSON followed by a newline.
func Snapshot(name string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{
		ScenarioName: name,
		SessionID:    result.SessionID,
		Trace:        result.Trace,
	}
	data, err := ir.MarshalCanonical(snapshot.toCanonical())
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return append(data, '\n'), nil
}

// RunWithGolden runs a scenario and compares its trace with
// testdata/golden/<name>.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	return result, AssertGolden(t, scenario.Name, result)
}

// AssertGolden compares an existing result with its golden file.
func AssertGolden(t *testing.T, name string, result *Result) error {
	t.Helper()

	data, err := Snapshot(name, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(GoldenSuffix),
	)
	g.Assert(t, name, data)
	return nil
}

// CompareGolden compares a result with <dir>/<name>.golden outside of
// tests. Returns false with no error when the file exists but differs.
func CompareGolden(dir, name string, result *Result) (bool, error) {
	data, err := Snapshot(name, result)
	if err != nil {
		return false, err
	}
	want, err := os.ReadFile(filepath.Join(dir, name+GoldenSuffix))
	if err != nil {
		return false, fmt.Errorf("read golden file: %w", err)
	}
	return bytes.Equal(want, data), nil
}

// WriteGolden writes a result's snapshot to <dir>/<name>.golden.
func WriteGolden(dir, name string, result *Result) error {
	data, err := Snapshot(name, result)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create golden dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name+GoldenSuffix), data, 0o644); err != nil {
		return fmt.Errorf("write golden file: %w", err)
	}
	return nil
}

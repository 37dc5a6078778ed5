package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/roach88/ownsim/internal/ir"
	"github.com/roach88/ownsim/internal/program"
)

// Scenario defines a conformance scenario: a program and what must be
// true of its trace and final bindings.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario demonstrates.
	Description string `yaml:"description"`

	// Shadowing turns on rebinding of names the scope still owns.
	// A CUE program's own setting is kept when this is false.
	Shadowing bool `yaml:"shadowing,omitempty"`

	// SessionID pins the session ID. Defaults to testutil.DefaultSessionID.
	SessionID string `yaml:"session_id,omitempty"`

	// MaxSteps overrides the simulator's operation quota.
	MaxSteps int `yaml:"max_steps,omitempty"`

	// Steps are inline program steps in the same object form CUE
	// programs use. Mutually exclusive with Source.
	Steps []map[string]any `yaml:"steps,omitempty"`

	// Source is a CUE file holding the program, relative to the scenario.
	Source string `yaml:"source,omitempty"`

	// Program selects a program in Source. May be empty when the file
	// declares exactly one.
	Program string `yaml:"program,omitempty"`

	Assertions []Assertion `yaml:"assertions,omitempty"`

	// dir is the scenario file's directory, for resolving Source.
	dir string
}

// Assertion checks the trace or the final bindings.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Names lists bindings (live, dead).
	Names []string `yaml:"names,omitempty"`

	// Name is a binding name (refcount) or an op's name field
	// (trace_contains, trace_count).
	Name string `yaml:"name,omitempty"`

	// Op is an operation kind (trace_contains, trace_count).
	Op string `yaml:"op,omitempty"`

	// Outcome is "ok" or "error" (trace_contains).
	Outcome string `yaml:"outcome,omitempty"`

	// Code is an error code (trace_contains, error_count).
	Code string `yaml:"code,omitempty"`

	// Ops is the expected order, each entry "op" or "op:name" (trace_order).
	Ops []string `yaml:"ops,omitempty"`

	// Count is the expected number (refcount, released, trace_count,
	// error_count). A pointer so that zero can be asserted.
	Count *int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertLive          = "live"
	AssertDead          = "dead"
	AssertRefCount      = "refcount"
	AssertReleased      = "released"
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertErrorCount    = "error_count"
)

// LoadScenario reads and validates a scenario file. Unknown fields are
// rejected so typos ("assertion:" for "assertions:") fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	scenario, err := ParseScenario(data)
	if err != nil {
		return nil, err
	}
	scenario.dir = filepath.Dir(path)

	if scenario.Source != "" {
		if _, err := os.Stat(scenario.sourcePath()); os.IsNotExist(err) {
			return nil, fmt.Errorf("invalid scenario: source file not found: %s", scenario.sourcePath())
		}
	}
	return scenario, nil
}

// ParseScenario decodes and validates scenario YAML. A relative Source is
// resolved against the working directory.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// LoadScenarioDir loads every .yaml file in dir, sorted by file name.
func LoadScenarioDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("scan scenarios: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenario files found in %s", dir)
	}

	scenarios := make([]*Scenario, 0, len(paths))
	for _, path := range paths {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

func (s *Scenario) sourcePath() string {
	if filepath.IsAbs(s.Source) || s.dir == "" {
		return s.Source
	}
	return filepath.Join(s.dir, s.Source)
}

// LoadProgram builds the scenario's program from its inline steps or its
// CUE source.
func (s *Scenario) LoadProgram() (ir.Program, error) {
	var p ir.Program

	if s.Source != "" {
		result, errs := program.LoadFile(s.sourcePath())
		if len(errs) > 0 {
			return p, errors.Join(errs...)
		}
		found, err := result.Find(s.Program)
		if err != nil {
			return p, err
		}
		p = found
	} else {
		p = ir.Program{Name: s.Name, Description: s.Description}
		for i, raw := range s.Steps {
			v, err := ir.FromGo(raw)
			if err != nil {
				return p, fmt.Errorf("steps[%d]: %w", i, err)
			}
			step, err := ir.StepFromObject(v.(ir.Object))
			if err != nil {
				return p, fmt.Errorf("steps[%d]: %w", i, err)
			}
			p.Steps = append(p.Steps, step)
		}
	}

	if s.Shadowing {
		p.Shadowing = true
	}
	if errs := p.Validate(); len(errs) > 0 {
		return p, errs[0]
	}
	return p, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	switch {
	case len(s.Steps) > 0 && s.Source != "":
		return fmt.Errorf("steps and source are mutually exclusive")
	case len(s.Steps) == 0 && s.Source == "":
		return fmt.Errorf("either steps or source is required")
	case s.Program != "" && s.Source == "":
		return fmt.Errorf("program requires source")
	}
	if s.MaxSteps < 0 {
		return fmt.Errorf("max_steps must be non-negative")
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	needCount := func() error {
		if a.Count == nil {
			return fmt.Errorf("assertions[%d]: count is required for %s", index, a.Type)
		}
		if *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
		return nil
	}

	switch a.Type {
	case AssertLive, AssertDead:
		if len(a.Names) == 0 {
			return fmt.Errorf("assertions[%d]: names list is required for %s", index, a.Type)
		}
	case AssertRefCount:
		if a.Name == "" {
			return fmt.Errorf("assertions[%d]: name is required for refcount", index)
		}
		return needCount()
	case AssertReleased, AssertErrorCount:
		return needCount()
	case AssertTraceContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_contains", index)
		}
		if a.Outcome != "" && a.Outcome != ir.OutcomeOK && a.Outcome != ir.OutcomeError {
			return fmt.Errorf("assertions[%d]: outcome must be ok or error, got %q", index, a.Outcome)
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		return needCount()
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

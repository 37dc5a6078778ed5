package harness

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/ownsim/internal/ir"
	"github.com/roach88/ownsim/internal/sim"
	"github.com/roach88/ownsim/internal/testutil"
)

func intp(n int) *int { return &n }

func TestRun_MoveVector(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/move_vector.yaml")
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
	assert.Equal(t, "test-session-move-vector", result.SessionID)

	require.Len(t, result.Trace, 4)
	assert.Equal(t, "read", result.Trace[2].Op)
	assert.Equal(t, "USE_AFTER_MOVE", result.Trace[2].ErrorCode)
	assert.Equal(t, ir.Strings("udon", "ramen", "soba"), result.Trace[3].Value)

	require.Contains(t, result.Bindings, "s")
	assert.Equal(t, sim.StateMoved, result.Bindings["s"].State)
	assert.Equal(t, sim.StateLive, result.Bindings["t"].State)
}

func TestRun_DefaultSessionID(t *testing.T) {
	scenario := &Scenario{
		Name:        "defaults",
		Description: "no session id",
		Steps:       []map[string]any{{"op": "bind", "name": "n", "value": 1}},
	}
	result, err := Run(scenario)
	require.NoError(t, err)
	assert.Equal(t, testutil.DefaultSessionID, result.SessionID)
}

func TestRun_StepMismatchFails(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong_expectation",
		Description: "reading a moved value is expected to work",
		Steps: []map[string]any{
			{"op": "bind", "name": "s", "value": "udon"},
			{"op": "move", "from": "s", "name": "t"},
			{"op": "read", "name": "s"},
			{"op": "read", "name": "t"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "step 2: unexpected error")
	assert.Len(t, result.Trace, 3, "execution stops at the failing step")
}

func TestRun_AssertionFailure(t *testing.T) {
	scenario := &Scenario{
		Name:        "bad_assertion",
		Description: "asserts a moved binding is live",
		Steps: []map[string]any{
			{"op": "bind", "name": "s", "value": "udon"},
			{"op": "move", "from": "s", "name": "t"},
		},
		Assertions: []Assertion{{Type: AssertLive, Names: []string{"s"}}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "s is moved")
}

func TestRun_Shadowing(t *testing.T) {
	steps := []map[string]any{
		{"op": "bind", "name": "x", "value": "first"},
		{"op": "bind", "name": "x", "value": "second"},
		{"op": "read", "name": "x", "expect": map[string]any{"value": "second"}},
	}

	result, err := Run(&Scenario{Name: "no_shadow", Description: "rebinding", Steps: steps})
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Trace, 2)
	assert.Equal(t, "REDEFINITION", result.Trace[1].ErrorCode)

	result, err = Run(&Scenario{Name: "shadow", Description: "rebinding", Shadowing: true, Steps: steps})
	require.NoError(t, err)
	assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
}

func TestRun_MaxSteps(t *testing.T) {
	scenario := &Scenario{
		Name:        "quota",
		Description: "a loop that exceeds the quota",
		MaxSteps:    3,
		Steps: []map[string]any{
			{"op": "bind", "name": "n", "value": 1},
			{"op": "loop", "times": 5, "body": []any{
				map[string]any{"op": "read", "name": "n"},
			}, "expect": map[string]any{"error": "QUOTA_EXCEEDED"}},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, strings.Join(result.Errors, "\n"))
}

func TestRun_BadProgram(t *testing.T) {
	scenario := &Scenario{
		Name:        "bad",
		Description: "invalid op",
		Steps:       []map[string]any{{"op": "move", "name": "y"}},
	}
	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "from is required for move")
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/loop_reassign.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)
	assert.Equal(t, first.Trace, second.Trace)
}

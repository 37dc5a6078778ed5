package harness

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestScenarios runs every scenario in testdata/scenarios and compares its
// trace with testdata/golden/<name>.golden.
//
// To regenerate golden files:
//
//	go test ./internal/harness -run TestScenarios -update
func TestScenarios(t *testing.T) {
	scenarios, err := LoadScenarioDir("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, scenarios)

	for _, scenario := range scenarios {
		t.Run(scenario.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %s", strings.Join(result.Errors, "\n"))
		})
	}
}

func TestSnapshot_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/shared_release.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := Snapshot(scenario.Name, first)
	require.NoError(t, err)
	b, err := Snapshot(scenario.Name, second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
}

func TestSnapshot_Format(t *testing.T) {
	scenario := &Scenario{
		Name:        "one_bind",
		Description: "single bind",
		SessionID:   "test-session-one",
		Steps:       []map[string]any{{"op": "bind", "name": "n", "value": 7}},
	}
	result, err := Run(scenario)
	require.NoError(t, err)

	data, err := Snapshot(scenario.Name, result)
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario_name":"one_bind","session_id":"test-session-one","trace":[{"depth":0,"name":"n","op":"bind","outcome":"ok","seq":1,"value":7}]}`+"\n",
		string(data))
}

func TestCompareAndWriteGolden(t *testing.T) {
	dir := t.TempDir()
	scenario, err := LoadScenario("testdata/scenarios/copy_string.yaml")
	require.NoError(t, err)
	result, err := Run(scenario)
	require.NoError(t, err)

	_, err = CompareGolden(dir, scenario.Name, result)
	require.Error(t, err, "no golden file yet")

	require.NoError(t, WriteGolden(dir, scenario.Name, result))

	same, err := CompareGolden(dir, scenario.Name, result)
	require.NoError(t, err)
	assert.True(t, same)

	// The checked-in golden matches the freshly written one.
	same, err = CompareGolden(filepath.Join("testdata", "golden"), scenario.Name, result)
	require.NoError(t, err)
	assert.True(t, same)

	result.Trace = result.Trace[:2]
	same, err = CompareGolden(dir, scenario.Name, result)
	require.NoError(t, err)
	assert.False(t, same)
}

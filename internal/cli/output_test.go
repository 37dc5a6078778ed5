package cli

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"failure", NewExitError(ExitFailure, "scenarios failed"), ExitFailure},
		{"command error", NewExitError(ExitCommandError, "bad path"), ExitCommandError},
		{"wrapped", fmt.Errorf("outer: %w", NewExitError(ExitFailure, "inner")), ExitFailure},
		{"plain error", errors.New("unknown flag"), ExitCommandError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestExitError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapExitError(ExitCommandError, "failed to open database", cause)

	assert.Equal(t, "failed to open database: disk full", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "bad path", NewExitError(ExitCommandError, "bad path").Error())
}

func TestOutputFormatter_Text(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, f.Success("done"))
	require.NoError(t, f.Error("E005", "program file not found", "x.cue"))

	assert.Equal(t, "done\nError [E005]: program file not found\n", buf.String())
}

func TestOutputFormatter_TextVerboseDetails(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "text", Writer: buf, Verbose: true}

	require.NoError(t, f.Error("E005", "program file not found", "x.cue"))
	assert.Contains(t, buf.String(), "Details: x.cue")
}

func TestOutputFormatter_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, f.Error("E103", "program not found", nil))
	resp := decodeResponse(t, buf.String())
	assert.Equal(t, "error", resp["status"])
	errObj := resp["error"].(map[string]any)
	assert.Equal(t, "E103", errObj["code"])
	assert.Equal(t, "program not found", errObj["message"])
	assert.NotContains(t, errObj, "details")
}

func TestOutputFormatter_Fail(t *testing.T) {
	buf := &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: buf}

	err := f.Fail(ExitCommandError, CodeStore, "failed to open database", errors.New("locked"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))

	resp := decodeResponse(t, buf.String())
	errObj := resp["error"].(map[string]any)
	assert.Equal(t, CodeStore, errObj["code"])
	assert.Equal(t, "locked", errObj["details"])
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}

	quiet := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut}
	quiet.VerboseLog("hidden %d", 1)
	assert.Empty(t, errOut.String())

	loud := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut, Verbose: true}
	loud.VerboseLog("loaded %d file(s)", 2)
	assert.Equal(t, "loaded 2 file(s)\n", errOut.String())
	assert.Empty(t, out.String(), "diagnostics must not corrupt JSON output")

	fallback := &OutputFormatter{Format: "text", Writer: out, Verbose: true}
	assert.Equal(t, out, fallback.GetErrWriter())
}

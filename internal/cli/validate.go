package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/ownsim/internal/program"
)

// ValidationIssue is one program that failed to compile.
type ValidationIssue struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	File    string `json:"file,omitempty"`
	Line    int    `json:"line,omitempty"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid    bool              `json:"valid"`
	Files    int               `json:"files"`
	Programs []string          `json:"programs"`
	Errors   []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <dir|file.cue>",
		Short: "Compile programs without running them",
		Long: `Compile every program in a directory (one CUE package) or a single file
and report all errors with their codes and positions.

Example:
  ownsim validate ./examples
  ownsim validate --format json ./examples/moves.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	out := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	result, errs := loadPath(path, program.LoadModeCollectAll)

	// Nothing loaded: bad path, no files, or CUE that does not build.
	if result == nil {
		err := errors.Join(errs...)
		code := program.ErrCodeGeneric
		if len(errs) > 0 {
			code = errorCode(errs[0])
		}
		_ = out.Error(code, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to load programs", err)
	}

	out.VerboseLog("Loaded %d CUE file(s) from %s", result.FileCount, path)

	vr := ValidationResult{
		Valid:    len(errs) == 0,
		Files:    result.FileCount,
		Programs: make([]string, 0, len(result.Programs)),
	}
	for _, p := range result.Programs {
		out.VerboseLog("Compiled program: %s", p.Name)
		vr.Programs = append(vr.Programs, p.Name)
	}
	for _, err := range errs {
		vr.Errors = append(vr.Errors, newValidationIssue(err))
	}

	if vr.Valid {
		if out.JSON() {
			return out.Success(vr)
		}
		fmt.Fprintf(out.Writer, "\u2713 All programs valid (%d program(s), %d file(s))\n", len(vr.Programs), vr.Files)
		return nil
	}
	return outputValidationErrors(out, vr)
}

func newValidationIssue(err error) ValidationIssue {
	var loadErr *program.LoadError
	if errors.As(err, &loadErr) {
		issue := ValidationIssue{Code: loadErr.Code, Message: loadErr.Message}
		if loadErr.Pos.IsValid() {
			issue.File = loadErr.Pos.Filename()
			issue.Line = loadErr.Pos.Line()
		}
		return issue
	}
	return ValidationIssue{Code: errorCode(err), Message: err.Error()}
}

// outputValidationErrors reports a partially valid load. Invalid programs
// are a validation failure (exit 1), not a command error.
func outputValidationErrors(out *OutputFormatter, vr ValidationResult) error {
	msg := fmt.Sprintf("validation failed with %d error(s)", len(vr.Errors))

	if out.JSON() {
		if err := out.encode(CLIResponse{
			Status: "error",
			Data:   vr,
			Error:  &CLIError{Code: vr.Errors[0].Code, Message: vr.Errors[0].Message},
		}); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}

	fmt.Fprintln(out.Writer, "\u2717 Validation failed")
	fmt.Fprintln(out.Writer)
	for _, issue := range vr.Errors {
		if issue.Line > 0 {
			fmt.Fprintf(out.Writer, "%s:%d\n", issue.File, issue.Line)
		}
		fmt.Fprintf(out.Writer, "  %s: %s\n\n", issue.Code, issue.Message)
	}
	return NewExitError(ExitFailure, msg)
}

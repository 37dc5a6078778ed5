package cli

import (
	"errors"
	"os"

	"github.com/roach88/ownsim/internal/ir"
	"github.com/roach88/ownsim/internal/program"
)

// loadProgram loads path (a .cue file or a directory) and picks the
// program called name. Any load error fails the whole load.
func loadProgram(path, name string) (ir.Program, error) {
	result, errs := loadPath(path, program.LoadModeFailFast)
	if len(errs) > 0 {
		return ir.Program{}, errs[0]
	}
	return result.Find(name)
}

// loadPath loads a single file with program.LoadFile, or a directory with
// program.LoadDir.
func loadPath(path string, mode program.LoadMode) (*program.LoadResult, []error) {
	info, err := os.Stat(path)
	if err == nil && info.IsDir() {
		return program.LoadDir(path, mode)
	}
	return program.LoadFile(path)
}

// errorCode returns the code to report for a load error.
func errorCode(err error) string {
	var loadErr *program.LoadError
	if errors.As(err, &loadErr) {
		return loadErr.Code
	}
	var compileErr *program.CompileError
	if errors.As(err, &compileErr) {
		return program.ErrCodeInvalidProgram
	}
	return program.ErrCodeGeneric
}

package program

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"
	"cuelang.org/go/cue/token"

	"github.com/roach88/ownsim/internal/ir"
)

// LoadMode controls how errors are handled while loading programs.
type LoadMode int

const (
	// LoadModeFailFast stops on the first error encountered.
	LoadModeFailFast LoadMode = iota
	// LoadModeCollectAll collects all errors before returning.
	LoadModeCollectAll
)

// Error codes shared by every CLI command that loads programs.
const (
	ErrCodeGeneric     = "E001" // Generic/unknown error
	ErrCodeScanError   = "E002" // Directory scan error
	ErrCodeNoFiles     = "E003" // No CUE files found
	ErrCodeLoadFailed  = "E004" // CUE load failed
	ErrCodeNotFound    = "E005" // Path not found
	ErrCodeBuildFailed = "E006" // CUE build failed

	ErrCodeNoPrograms     = "E101" // No programs declared
	ErrCodeInvalidProgram = "E102" // Program failed schema or op validation
	ErrCodeUnknownProgram = "E103" // Named program not in file
)

// LoadError is a loading error with a CLI error code and, when known, a
// CUE source position.
type LoadError struct {
	Code    string
	Message string
	Pos     token.Pos
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// LoadResult holds the programs found in a file or directory, in
// declaration order.
type LoadResult struct {
	Programs  []ir.Program
	FileCount int
}

// Find returns the program called name. An empty name selects the only
// program, and is an error when there are several.
func (r *LoadResult) Find(name string) (ir.Program, error) {
	if name == "" {
		if len(r.Programs) == 1 {
			return r.Programs[0], nil
		}
		return ir.Program{}, &LoadError{
			Code:    ErrCodeUnknownProgram,
			Message: fmt.Sprintf("%d programs found; choose one with --program", len(r.Programs)),
		}
	}
	for _, p := range r.Programs {
		if p.Name == name {
			return p, nil
		}
	}
	return ir.Program{}, &LoadError{
		Code:    ErrCodeUnknownProgram,
		Message: fmt.Sprintf("program %q not found", name),
	}
}

// LoadFile compiles every program in a single CUE file.
func LoadFile(path string) (*LoadResult, []error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("program file not found: %s", path)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("reading %s: %v", path, err)}}
	}

	ctx := cuecontext.New()
	value := ctx.CompileBytes(data, cue.Filename(path))
	if err := value.Err(); err != nil {
		return nil, []error{buildError(err)}
	}

	result := &LoadResult{FileCount: 1}
	errs := collectPrograms(value, result, LoadModeCollectAll)
	return result, errs
}

// LoadDir loads every .cue file in dir as one CUE package and compiles
// its programs. If mode is LoadModeFailFast, returns on the first error.
func LoadDir(dir string, mode LoadMode) (*LoadResult, []error) {
	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("programs directory not found: %s", dir)}}
	}
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("error accessing programs directory: %v", err)}}
	}
	if !info.IsDir() {
		return nil, []error{&LoadError{Code: ErrCodeNotFound, Message: fmt.Sprintf("not a directory: %s", dir)}}
	}

	cueFiles, err := FindCUEFiles(dir)
	if err != nil {
		return nil, []error{&LoadError{Code: ErrCodeScanError, Message: fmt.Sprintf("error scanning directory: %v", err)}}
	}
	if len(cueFiles) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeNoFiles, Message: fmt.Sprintf("no CUE files found in %s", dir)}}
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: "no CUE instances loaded"}}
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, []error{&LoadError{Code: ErrCodeLoadFailed, Message: fmt.Sprintf("loading CUE files: %v", inst.Err)}}
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, []error{buildError(err)}
	}

	result := &LoadResult{FileCount: len(cueFiles)}
	errs := collectPrograms(value, result, mode)
	return result, errs
}

func collectPrograms(value cue.Value, result *LoadResult, mode LoadMode) []error {
	var errs []error

	programs := value.LookupPath(cue.ParsePath("program"))
	if !programs.Exists() {
		return []error{&LoadError{Code: ErrCodeNoPrograms, Message: "no programs found (expected a top-level \"program\" struct)"}}
	}

	iter, err := programs.Fields()
	if err != nil {
		return []error{&LoadError{Code: ErrCodeGeneric, Message: fmt.Sprintf("iterating programs: %v", err)}}
	}
	for iter.Next() {
		p, err := CompileProgram(iter.Value())
		if err != nil {
			errs = append(errs, convertCompileError(err, "program."+iter.Label()))
			if mode == LoadModeFailFast {
				return errs
			}
			continue
		}
		result.Programs = append(result.Programs, *p)
	}

	if len(result.Programs) == 0 && len(errs) == 0 {
		errs = append(errs, &LoadError{Code: ErrCodeNoPrograms, Message: "program struct is empty"})
	}
	return errs
}

// FindCUEFiles walks the directory and returns all .cue file paths.
func FindCUEFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Ext(path) == ".cue" {
			files = append(files, path)
		}
		return nil
	})
	return files, err
}

func buildError(err error) *LoadError {
	if ce, ok := formatCUEError(err).(*CompileError); ok {
		return &LoadError{Code: ErrCodeBuildFailed, Message: ce.Message, Pos: ce.Pos}
	}
	return &LoadError{Code: ErrCodeBuildFailed, Message: fmt.Sprintf("building CUE value: %v", err)}
}

// convertCompileError converts a compile error to a LoadError with position info.
func convertCompileError(err error, context string) *LoadError {
	if ce, ok := err.(*CompileError); ok {
		return &LoadError{
			Code:    ErrCodeInvalidProgram,
			Message: fmt.Sprintf("%s: %s: %s", context, ce.Field, ce.Message),
			Pos:     ce.Pos,
		}
	}
	return &LoadError{
		Code:    ErrCodeGeneric,
		Message: fmt.Sprintf("%s: %v", context, err),
	}
}

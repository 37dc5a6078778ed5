package sim

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes simulator errors. Codes are stable: programs name
// them in expectations and events store them.
type ErrorCode string

const (
	// ErrCodeUseAfterMove indicates a read of a moved, dropped or maybe-moved binding.
	ErrCodeUseAfterMove ErrorCode = "USE_AFTER_MOVE"

	// ErrCodeRedefinition indicates a name is still bound in the current scope.
	ErrCodeRedefinition ErrorCode = "REDEFINITION"

	// ErrCodeNotCopyable indicates copy of a value that is not copy kind.
	ErrCodeNotCopyable ErrorCode = "NOT_COPYABLE"

	// ErrCodeUnbound indicates a name with no binding in any scope.
	ErrCodeUnbound ErrorCode = "UNBOUND"

	// ErrCodeSharedMutation indicates mutation through a shared handle.
	ErrCodeSharedMutation ErrorCode = "SHARED_MUTATION"

	// ErrCodeNotArray indicates push onto a non-array value.
	ErrCodeNotArray ErrorCode = "NOT_ARRAY"

	// ErrCodeNotShared indicates a refcount query on a non-shared binding.
	ErrCodeNotShared ErrorCode = "NOT_SHARED"

	// ErrCodeScopeUnderflow indicates end without a matching begin.
	ErrCodeScopeUnderflow ErrorCode = "SCOPE_UNDERFLOW"

	// ErrCodeInvalidOp indicates a malformed operation.
	ErrCodeInvalidOp ErrorCode = "INVALID_OP"

	// ErrCodeQuotaExceeded indicates the simulator exceeded max steps.
	ErrCodeQuotaExceeded ErrorCode = "QUOTA_EXCEEDED"
)

// ValidErrorCodes lists every code an expectation may name.
var ValidErrorCodes = map[ErrorCode]bool{
	ErrCodeUseAfterMove: true, ErrCodeRedefinition: true, ErrCodeNotCopyable: true,
	ErrCodeUnbound: true, ErrCodeSharedMutation: true, ErrCodeNotArray: true,
	ErrCodeNotShared: true, ErrCodeScopeUnderflow: true, ErrCodeInvalidOp: true,
	ErrCodeQuotaExceeded: true,
}

type coder interface {
	Code() ErrorCode
}

// CodeOf returns the simulator error code carried by err, or "" when err is
// nil or not a simulator error (context cancellation, recorder failure).
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	return ""
}

// UseAfterMoveError reports a read of a binding that no longer owns its value.
type UseAfterMoveError struct {
	// Name is the binding that was used.
	Name string

	// State is the binding's state at the time of use.
	State State

	// MovedTo names where the value went, when known.
	MovedTo string

	// Reason adds control-flow context, e.g. a previous loop iteration.
	Reason string
}

func (e *UseAfterMoveError) Error() string {
	var msg string
	switch e.State {
	case StateDropped:
		msg = fmt.Sprintf("use of dropped value %q", e.Name)
	case StateMaybeMoved:
		msg = fmt.Sprintf("use of possibly-moved value %q", e.Name)
	default:
		msg = fmt.Sprintf("use of moved value %q", e.Name)
		if e.MovedTo != "" {
			msg += fmt.Sprintf(" (moved to %s)", e.MovedTo)
		}
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Code implements the coded error interface.
func (e *UseAfterMoveError) Code() ErrorCode {
	return ErrCodeUseAfterMove
}

// RedefinitionError reports a bind over a name the current scope still owns.
type RedefinitionError struct {
	Name  string
	Depth int
}

func (e *RedefinitionError) Error() string {
	return fmt.Sprintf("%q is already bound in this scope (depth %d); drop or move it first", e.Name, e.Depth)
}

// Code implements the coded error interface.
func (e *RedefinitionError) Code() ErrorCode {
	return ErrCodeRedefinition
}

// OpError covers the remaining simulator failures.
type OpError struct {
	ErrCode ErrorCode
	Name    string
	Message string
}

func (e *OpError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("%s: %s", e.Name, e.Message)
	}
	return e.Message
}

// Code implements the coded error interface.
func (e *OpError) Code() ErrorCode {
	return e.ErrCode
}

func opError(code ErrorCode, name, format string, args ...any) *OpError {
	return &OpError{ErrCode: code, Name: name, Message: fmt.Sprintf(format, args...)}
}

// IsUseAfterMove returns true if err is (or wraps) a UseAfterMoveError.
func IsUseAfterMove(err error) bool {
	var ue *UseAfterMoveError
	return errors.As(err, &ue)
}

// IsRedefinition returns true if err is (or wraps) a RedefinitionError.
func IsRedefinition(err error) bool {
	var re *RedefinitionError
	return errors.As(err, &re)
}

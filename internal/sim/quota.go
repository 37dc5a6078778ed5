package sim

import (
	"errors"
	"fmt"
)

// DefaultMaxSteps bounds the number of operations one simulator may apply.
// Loops multiply work, so a runaway program is stopped rather than spun.
const DefaultMaxSteps = 10000

// QuotaEnforcer counts applied operations and enforces a limit.
type QuotaEnforcer struct {
	maxSteps int
	current  int
}

// NewQuotaEnforcer creates a quota enforcer with the given limit.
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{maxSteps: maxSteps}
}

// Check increments the step counter and validates against the limit.
func (q *QuotaEnforcer) Check(sessionID string) error {
	q.current++
	if q.current > q.maxSteps {
		return &StepsExceededError{
			SessionID: sessionID,
			Steps:     q.current,
			Limit:     q.maxSteps,
		}
	}
	return nil
}

// Current returns the current step count.
func (q *QuotaEnforcer) Current() int {
	return q.current
}

// MaxSteps returns the limit.
func (q *QuotaEnforcer) MaxSteps() int {
	return q.maxSteps
}

// StepsExceededError is returned when a session exceeds the max steps quota.
type StepsExceededError struct {
	SessionID string
	Steps     int
	Limit     int
}

func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("session %s exceeded max steps quota: %d steps > %d limit",
		e.SessionID, e.Steps, e.Limit)
}

// Code implements the coded error interface.
func (e *StepsExceededError) Code() ErrorCode {
	return ErrCodeQuotaExceeded
}

// IsStepsExceededError returns true if the error is a StepsExceededError.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}

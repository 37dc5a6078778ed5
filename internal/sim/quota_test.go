package sim

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuotaEnforcer_WithinLimit(t *testing.T) {
	q := NewQuotaEnforcer(10)

	for i := 0; i < 10; i++ {
		assert.NoError(t, q.Check("session-1"), "step %d should be allowed", i+1)
	}
	assert.Equal(t, 10, q.Current())
	assert.Equal(t, 10, q.MaxSteps())
}

func TestQuotaEnforcer_ExceedsLimit(t *testing.T) {
	q := NewQuotaEnforcer(5)
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Check("session-1"))
	}

	err := q.Check("session-1")
	require.Error(t, err)

	var stepsErr *StepsExceededError
	require.ErrorAs(t, err, &stepsErr)
	assert.Equal(t, "session-1", stepsErr.SessionID)
	assert.Equal(t, 6, stepsErr.Steps)
	assert.Equal(t, 5, stepsErr.Limit)
	assert.Equal(t, ErrCodeQuotaExceeded, CodeOf(err))
}

func TestIsStepsExceededError_Wrapped(t *testing.T) {
	err := fmt.Errorf("outer: %w", &StepsExceededError{SessionID: "s", Steps: 2, Limit: 1})
	assert.True(t, IsStepsExceededError(err))
	assert.False(t, IsStepsExceededError(fmt.Errorf("plain")))
}

package orcerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapterErrorWrapsCause(t *testing.T) {
	t.Parallel()
	cause := errors.New("transport down")
	err := NewAdapterError("task-1", "EXECUTE", cause)

	assert.Equal(t, "adapter error: task task-1 verb EXECUTE: transport down", err.Error())
	require.ErrorIs(t, err, cause)
}

func TestInvalidTransitionErrorFormatsStatuses(t *testing.T) {
	t.Parallel()
	err := &InvalidTransitionError{TaskID: "task-1", From: "DONE", To: "RUNNING"}
	assert.Equal(t, "invalid transition: task task-1 DONE -> RUNNING", err.Error())
}

func TestGraphIntegrityErrorFormatsReason(t *testing.T) {
	t.Parallel()
	err := &GraphIntegrityError{GraphID: "graph-1", Reason: "cycle detected"}
	assert.Equal(t, "graph integrity: graph graph-1: cycle detected", err.Error())
}

func TestHITLAbortedFormatsCheckpoint(t *testing.T) {
	t.Parallel()
	err := &HITLAborted{TaskID: "task-1", CheckpointName: "before_execute", Reason: "reviewer rejected"}
	assert.Equal(t, "hitl aborted: task task-1 checkpoint before_execute: reviewer rejected", err.Error())
}

func TestHITLTimeoutFormatsCheckpoint(t *testing.T) {
	t.Parallel()
	err := &HITLTimeout{TaskID: "task-1", CheckpointName: "after_plan_generation"}
	assert.Equal(t, "hitl timeout: task task-1 checkpoint after_plan_generation", err.Error())
}

func TestDeadlockErrorFormatsDiagnosis(t *testing.T) {
	t.Parallel()
	err := &DeadlockError{ActiveNodeCount: 3, Diagnosis: "lone RUNNING hang"}
	assert.Equal(t, "deadlock: 3 active nodes: lone RUNNING hang", err.Error())
}

func TestTimeoutErrorFormatsBudget(t *testing.T) {
	t.Parallel()
	err := &TimeoutError{Elapsed: "5m0s", Budget: "2m0s"}
	assert.Equal(t, "run timeout: elapsed 5m0s exceeds budget 2m0s", err.Error())
}

func TestStepBudgetExceededErrorFormatsMaxSteps(t *testing.T) {
	t.Parallel()
	err := &StepBudgetExceededError{MaxSteps: 100}
	assert.Equal(t, "run exceeded max steps (100)", err.Error())
}

func TestSentinelErrorsAreDistinctAndMatchable(t *testing.T) {
	t.Parallel()
	sentinels := []error{
		ErrGraphNotFound, ErrNodeNotFound, ErrDuplicateGraph,
		ErrDuplicateRoot, ErrDuplicateNode, ErrContainerNotFound,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				assert.True(t, errors.Is(a, b))
				continue
			}
			assert.False(t, errors.Is(a, b), "sentinels at %d and %d must be distinct", i, j)
		}
	}
}

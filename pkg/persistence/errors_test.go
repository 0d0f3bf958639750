package persistence_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dukex/canvasflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestErrors(t *testing.T) {
	t.Parallel()

	t.Run("workflow error unwraps to its sentinel", func(t *testing.T) {
		err := persistence.NewWorkflowError("WorkflowByID", "wf-123", persistence.ErrWorkflowNotFound)

		assert.True(t, persistence.IsWorkflowNotFound(err))
		assert.True(t, persistence.IsWorkflowNotFound(fmt.Errorf("outer: %w", err)))
		assert.False(t, persistence.IsRunNotFound(err))
		assert.Equal(t, "WorkflowByID operation failed for workflow wf-123: workflow not found", err.Error())
	})

	t.Run("workflow error message is included", func(t *testing.T) {
		err := &persistence.WorkflowError{Op: "SaveWorkflow", WorkflowID: "wf-1", Err: persistence.ErrInvalidWorkflow, Message: "missing id"}

		assert.Contains(t, err.Error(), "missing id")
		assert.ErrorIs(t, err, persistence.ErrInvalidWorkflow)
	})

	t.Run("run error unwraps to its sentinel", func(t *testing.T) {
		err := persistence.NewRunError("RunByID", "run-9", persistence.ErrRunNotFound)

		assert.True(t, persistence.IsRunNotFound(err))
		assert.Contains(t, err.Error(), "run-9")

		var runErr *persistence.RunError
		assert.True(t, errors.As(err, &runErr))
		assert.Equal(t, "RunByID", runErr.Op)
	})
}

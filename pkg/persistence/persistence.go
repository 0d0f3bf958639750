// Package persistence provides the storage abstraction for workflows and finished runs.
package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/dukex/canvasflow/pkg/models"
)

// DefaultRunLimit caps RunsByWorkflow when the caller passes a non-positive limit.
const DefaultRunLimit = 20

// Persistence stores workflow documents and the records of their runs.
//
// Lookups of missing entities return errors that satisfy IsWorkflowNotFound or
// IsRunNotFound.
type Persistence interface {
	Workflows(ctx context.Context) ([]*models.Workflow, error)
	SaveWorkflow(ctx context.Context, workflow *models.Workflow) error
	WorkflowByID(ctx context.Context, id string) (*models.Workflow, error)
	DeleteWorkflow(ctx context.Context, id string) error

	SaveRun(ctx context.Context, run *models.RunRecord) error
	RunByID(ctx context.Context, id string) (*models.RunRecord, error)
	// RunsByWorkflow returns the most recent runs of a workflow, newest first.
	RunsByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.RunRecord, error)

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// Stamp sets the workflow timestamps and empty collections the way every backend
// does on save.
func Stamp(workflow *models.Workflow, now func() time.Time) {
	t := now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = t
	}

	workflow.UpdatedAt = t

	if workflow.Nodes == nil {
		workflow.Nodes = []*models.WorkflowNode{}
	}

	if workflow.Connections == nil {
		workflow.Connections = []*models.Connection{}
	}
}

// Limit normalises a RunsByWorkflow limit.
func Limit(limit int) int {
	if limit <= 0 {
		return DefaultRunLimit
	}

	return limit
}

// CheckWorkflow rejects workflows that cannot be keyed by any backend.
func CheckWorkflow(op string, workflow *models.Workflow) error {
	if workflow == nil {
		return NewWorkflowError(op, "", ErrInvalidWorkflow)
	}

	if workflow.ID == "" {
		return &WorkflowError{Op: op, Err: ErrInvalidWorkflow, Message: "workflow id is required"}
	}

	return nil
}

// CheckRun rejects run records without the identifiers every backend keys on.
func CheckRun(op string, run *models.RunRecord) error {
	if run == nil || run.RunID == "" || run.WorkflowID == "" {
		id := ""
		if run != nil {
			id = run.RunID
		}

		return NewRunError(op, id, errors.New("run id and workflow id are required"))
	}

	return nil
}

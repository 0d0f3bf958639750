package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/canvasflow/pkg/graph"
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/persistence"
	"github.com/dukex/canvasflow/pkg/registry"
	"github.com/google/uuid"
)

// Workflow manages stored workflow documents.
type Workflow struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	logger      *slog.Logger
}

// NewWorkflow creates a new workflow service. A nil registry skips settings validation.
func NewWorkflow(persistence persistence.Persistence, reg *registry.Registry, logger *slog.Logger) *Workflow {
	return &Workflow{
		persistence: persistence,
		registry:    reg,
		logger:      logger,
	}
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// List returns every stored workflow.
func (w *Workflow) List(ctx context.Context) ([]*models.Workflow, error) {
	workflows, err := w.persistence.Workflows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return workflows, nil
}

// FetchByID returns one workflow.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	workflow, err := w.persistence.WorkflowByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get workflow: %w", err)
	}

	return workflow, nil
}

// Validate checks that a workflow forms a runnable graph whose node settings match
// their schemas.
func (w *Workflow) Validate(workflow *models.Workflow) error {
	if workflow == nil {
		return ErrWorkflowNil
	}

	if _, err := graph.New(workflow); err != nil {
		return NewValidationError("Validate", "invalid_graph", err.Error(), err)
	}

	if w.registry != nil {
		if err := w.registry.ValidateWorkflow(workflow); err != nil {
			return NewValidationError("Validate", "invalid_settings", err.Error(), fmt.Errorf("%w: %w", ErrInvalidRequest, err))
		}
	}

	return nil
}

// Save validates and stores a workflow, generating its id when missing.
func (w *Workflow) Save(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, ErrWorkflowNil
	}

	if workflow.ID == "" {
		workflow.ID = uuid.NewString()
	}

	if err := w.Validate(workflow); err != nil {
		return nil, err
	}

	if err := w.persistence.SaveWorkflow(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to save workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "workflow saved", "workflow_id", workflow.ID, "nodes", len(workflow.Nodes))

	return workflow, nil
}

// Delete removes a workflow and its run history.
func (w *Workflow) Delete(ctx context.Context, id string) error {
	if err := w.persistence.DeleteWorkflow(ctx, id); err != nil {
		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	w.logger.InfoContext(ctx, "workflow deleted", "workflow_id", id)

	return nil
}

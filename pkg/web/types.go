package web

import "github.com/dukex/canvasflow/pkg/models"

// SaveWorkflowRequest is the body of workflow create and replace calls.
type SaveWorkflowRequest struct {
	Name        string                 `json:"name"                  validate:"required"`
	Description string                 `json:"description,omitempty"`
	Nodes       []*models.WorkflowNode `json:"nodes"`
	Connections []*models.Connection   `json:"connections"`
	Variables   map[string]any         `json:"variables,omitempty"`
}

func (r SaveWorkflowRequest) workflow(id string) *models.Workflow {
	return &models.Workflow{
		ID:          id,
		Name:        r.Name,
		Description: r.Description,
		Nodes:       r.Nodes,
		Connections: r.Connections,
		Variables:   r.Variables,
	}
}

// StartRunResponse identifies a run that was started in the background.
type StartRunResponse struct {
	RunID string `json:"runId"`
}

// StopRunRequest is the optional body of a stop call.
type StopRunRequest struct {
	Silent bool `json:"silent"`
}

// FormSubmissionRequest carries the field values of a form trigger.
type FormSubmissionRequest struct {
	Values map[string]any `json:"values" validate:"required"`
}

// ChatMessageRequest carries one message for a chat trigger.
type ChatMessageRequest struct {
	Message   string `json:"message"             validate:"required"`
	SessionID string `json:"sessionId,omitempty"`
}

// ListResponse wraps a collection with its size.
type ListResponse[T any] struct {
	Items      []T `json:"items"`
	TotalCount int `json:"total_count"`
}

func newList[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}

	return ListResponse[T]{Items: items, TotalCount: len(items)}
}

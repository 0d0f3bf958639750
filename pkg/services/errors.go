// Package services provides the workflow and run operations shared by the API server
// and the command line.
package services

import (
	"errors"
	"fmt"

	"github.com/dukex/canvasflow/pkg/engine"
	"github.com/dukex/canvasflow/pkg/graph"
	"github.com/dukex/canvasflow/pkg/persistence"
)

var (
	// Lookup errors (404 Not Found).
	ErrWorkflowNotFound = persistence.ErrWorkflowNotFound
	ErrRunNotFound      = persistence.ErrRunNotFound
	ErrNodeNotFound     = graph.ErrNodeNotFound

	// Validation errors (400 Bad Request).
	ErrInvalidRequest = errors.New("invalid request")
	ErrWorkflowNil    = errors.New("workflow cannot be nil")

	// Conflicts with the state of a run (409 Conflict).
	ErrRunInProgress     = engine.ErrRunInProgress
	ErrTriggerNotWaiting = errors.New("trigger is not waiting for input")
)

// ServiceError wraps service-level errors with additional context.
type ServiceError struct {
	Op      string // Operation name
	Code    string // Error code for API responses
	Message string // Human-readable message
	Err     error  // Underlying error
}

func (e *ServiceError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}

	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// IsValidationError checks if an error is a validation error that should return HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrWorkflowNil) ||
		errors.Is(err, graph.ErrInvalidGraph) ||
		errors.Is(err, engine.ErrNoTriggerNode) ||
		errors.Is(err, persistence.ErrInvalidWorkflow)
}

// IsNotFoundError checks if an error should return HTTP 404.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound) ||
		errors.Is(err, ErrRunNotFound) ||
		errors.Is(err, ErrNodeNotFound)
}

// IsConflictError checks if an error is a run state conflict that should return HTTP 409.
func IsConflictError(err error) bool {
	return errors.Is(err, ErrRunInProgress) ||
		errors.Is(err, ErrTriggerNotWaiting)
}

// NewValidationError creates a new validation error with context.
func NewValidationError(op, code, message string, err error) *ServiceError {
	return &ServiceError{
		Op:      op,
		Code:    code,
		Message: message,
		Err:     err,
	}
}

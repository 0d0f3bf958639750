package models

import "time"

// NodeResult is the uniform outcome of executing one node.
//
// Success implies Data is the node's output payload and Error is empty. A failed
// result carries a human-readable Error and may carry diagnostic Data.
type NodeResult struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	Error     string `json:"error,omitempty"`
	Cancelled bool   `json:"cancelled,omitempty"`

	// Route tells the orchestrator which outgoing ports to follow. A nil route on a
	// successful result follows every outgoing connector.
	Route *Route `json:"-"`
}

// Route is the branch decision attached to a successful condition result.
type Route struct {
	Ports     []string // selected output ports; empty with Terminate unset means none
	Terminate bool     // stop this branch
	Loop      bool     // iterate the body port once per item, then follow the done port
	Items     []any    // loop items
}

// Succeeded returns a successful result carrying payload.
func Succeeded(payload any) NodeResult {
	return NodeResult{Success: true, Data: payload}
}

// Routed returns a successful result that follows only the given ports.
func Routed(payload any, ports ...string) NodeResult {
	return NodeResult{Success: true, Data: payload, Route: &Route{Ports: ports}}
}

// Failed returns a failed result with an optional diagnostic payload.
func Failed(msg string, data any) NodeResult {
	return NodeResult{Success: false, Error: msg, Data: data}
}

// Cancelled returns the outcome of a node released by a cancellation.
func Cancelled(msg string) NodeResult {
	return NodeResult{Success: false, Error: msg, Cancelled: true}
}

// Status maps the result onto a NodeStatus.
func (r NodeResult) Status() NodeStatus {
	switch {
	case r.Success:
		return NodeStatusSuccess
	case r.Cancelled:
		return NodeStatusCancelled
	default:
		return NodeStatusError
	}
}

// RunStatus is the final state of a workflow run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// RunOutcome is returned by a workflow run.
type RunOutcome struct {
	RunID      string                `json:"runId"`
	WorkflowID string                `json:"workflowId"`
	Status     RunStatus             `json:"status"`
	StartedAt  time.Time             `json:"startedAt"`
	FinishedAt time.Time             `json:"finishedAt"`
	Results    map[string]NodeResult `json:"results"`
	Statuses   map[string]NodeStatus `json:"statuses"`
	Order      []string              `json:"order"`
	Error      string                `json:"error,omitempty"`
}

// RunRecord is the persisted form of a finished run.
type RunRecord struct {
	RunOutcome

	Context ContextSnapshot `json:"context"`
}

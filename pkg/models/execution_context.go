package models

import (
	"maps"
	"sync"

	"github.com/mohae/deepcopy"
)

// ContextSnapshot is a detached copy of an execution context.
type ContextSnapshot struct {
	Results   map[string]any    `json:"results"`
	Variables map[string]any    `json:"variables"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// ExecutionContext is the run-scoped store of node results and free variables.
//
// All writes go through RecordResult and SetVariable; the update hook observes a
// write only after it has been applied.
type ExecutionContext struct {
	mu        sync.RWMutex
	results   map[string]any
	variables map[string]any
	labels    map[string]string
	onUpdate  func(ContextSnapshot)
}

func NewExecutionContext() *ExecutionContext {
	return &ExecutionContext{
		results:   make(map[string]any),
		variables: make(map[string]any),
		labels:    make(map[string]string),
	}
}

// NewExecutionContextFrom rebuilds a context from a snapshot.
func NewExecutionContextFrom(s ContextSnapshot) *ExecutionContext {
	ec := NewExecutionContext()

	if s.Results != nil {
		ec.results = deepcopy.Copy(s.Results).(map[string]any)
	}

	if s.Variables != nil {
		ec.variables = deepcopy.Copy(s.Variables).(map[string]any)
	}

	maps.Copy(ec.labels, s.Labels)

	return ec
}

// OnUpdate installs the hook invoked after every write. It replaces any previous hook.
func (c *ExecutionContext) OnUpdate(fn func(ContextSnapshot)) {
	c.mu.Lock()
	c.onUpdate = fn
	c.mu.Unlock()
}

// RecordResult stores payload as the latest output of nodeID.
func (c *ExecutionContext) RecordResult(nodeID string, payload any) {
	c.mu.Lock()
	c.results[nodeID] = payload
	hook := c.onUpdate
	c.mu.Unlock()

	c.notify(hook)
}

// SetVariable stores a free variable.
func (c *ExecutionContext) SetVariable(name string, value any) {
	c.mu.Lock()
	c.variables[name] = value
	hook := c.onUpdate
	c.mu.Unlock()

	c.notify(hook)
}

// Label associates a display name with a node so expressions can address it by name.
func (c *ExecutionContext) Label(nodeID, name string) {
	if name == "" {
		return
	}

	c.mu.Lock()
	c.labels[nodeID] = name
	c.mu.Unlock()
}

func (c *ExecutionContext) Result(nodeID string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.results[nodeID]

	return v, ok
}

func (c *ExecutionContext) Variable(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v, ok := c.variables[name]

	return v, ok
}

// Snapshot returns a deep copy of the context.
func (c *ExecutionContext) Snapshot() ContextSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.snapshotLocked()
}

// WithVariables returns a detached context holding a copy of c plus vars. Writes to
// the returned context are not visible in c.
func (c *ExecutionContext) WithVariables(vars map[string]any) *ExecutionContext {
	derived := NewExecutionContextFrom(c.Snapshot())
	maps.Copy(derived.variables, vars)

	return derived
}

func (c *ExecutionContext) snapshotLocked() ContextSnapshot {
	return ContextSnapshot{
		Results:   deepcopy.Copy(c.results).(map[string]any),
		Variables: deepcopy.Copy(c.variables).(map[string]any),
		Labels:    maps.Clone(c.labels),
	}
}

func (c *ExecutionContext) notify(hook func(ContextSnapshot)) {
	if hook == nil {
		return
	}

	hook(c.Snapshot())
}

// Package nodes holds what the category executors share: the execution environment,
// settings decoding and the uniform error reporting of node results.
package nodes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/canvasflow/pkg/eventbus"
	"github.com/dukex/canvasflow/pkg/events"
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/notify"
)

var (
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrUnsupportedNode = errors.New("unsupported node type")
	ErrNoEventChannel  = errors.New("no event channel configured")
)

// Resolver turns templated settings into runtime values.
type Resolver interface {
	Resolve(input string, ec *models.ExecutionContext) (any, error)
	ResolveValue(v any, ec *models.ExecutionContext) (any, error)
	Interpolate(input string, ec *models.ExecutionContext) (string, error)
}

// Executor runs the nodes of one category. It never panics on bad input and never
// returns Go errors: every outcome is a NodeResult.
type Executor interface {
	Execute(ctx context.Context, node *models.WorkflowNode, env *Env) models.NodeResult
}

// Env is what an executor may touch while running a node.
type Env struct {
	Context    *models.ExecutionContext
	Resolver   Resolver
	Bus        eventbus.EventBus
	Notifier   notify.Notifier
	Logger     *slog.Logger
	HTTPClient *http.Client

	WorkflowID string
	RunID      string

	// Stop is closed when the run is cancelled.
	Stop <-chan struct{}

	Clock func() time.Time
}

func (e *Env) Now() time.Time {
	if e.Clock != nil {
		return e.Clock().UTC()
	}

	return time.Now().UTC()
}

func (e *Env) logger(node *models.WorkflowNode) *slog.Logger {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return logger.With("node_id", node.ID, "node_type", node.Type, "run_id", e.RunID)
}

// Log returns a logger scoped to node.
func (e *Env) Log(node *models.WorkflowNode) *slog.Logger {
	return e.logger(node)
}

// Cancelled reports whether the run has been stopped.
func (e *Env) Cancelled() bool {
	if e.Stop == nil {
		return false
	}

	select {
	case <-e.Stop:
		return true
	default:
		return false
	}
}

// Notify hands a notification about node to the notification surface.
func (e *Env) Notify(ctx context.Context, node *models.WorkflowNode, level notify.Level, msg string) {
	if e.Notifier == nil {
		return
	}

	e.Notifier.Notify(ctx, notify.Notification{
		Level:      level,
		Title:      node.DisplayName(),
		Message:    msg,
		NodeID:     node.ID,
		RunID:      e.RunID,
		WorkflowID: e.WorkflowID,
	})
}

// ConfigError reports a configuration problem detected before any side effect.
func (e *Env) ConfigError(ctx context.Context, node *models.WorkflowNode, err error) models.NodeResult {
	msg := err.Error()
	if !errors.Is(err, ErrInvalidConfig) {
		msg = fmt.Sprintf("%s: %s", ErrInvalidConfig, msg)
	}

	e.logger(node).WarnContext(ctx, "Node configuration rejected", "error", msg)
	e.Notify(ctx, node, notify.LevelError, msg)

	return models.Failed(msg, nil)
}

// ExecutionError reports a failure of the node's effect. data may carry a
// diagnostic payload such as an HTTP response.
func (e *Env) ExecutionError(ctx context.Context, node *models.WorkflowNode, err error, data any) models.NodeResult {
	msg := err.Error()

	e.logger(node).ErrorContext(ctx, "Node execution failed", "error", msg)
	e.Notify(ctx, node, notify.LevelError, msg)

	return models.Failed(msg, data)
}

// Respond publishes assistant-style text for a chat transcript.
func (e *Env) Respond(ctx context.Context, node *models.WorkflowNode, text string) {
	if e.Bus == nil || text == "" {
		return
	}

	event := events.AssistantResponse{
		BaseEvent: events.NewBaseEvent(events.AssistantResponseEvent, e.WorkflowID, e.RunID),
		NodeID:    node.ID,
		Text:      text,
	}

	if err := e.Bus.Publish(ctx, e.RunID, event); err != nil {
		e.logger(node).WarnContext(ctx, "Failed to publish assistant response", "error", err)
	}
}

// Finish applies the behaviour every node shares after its effect: a successful node
// with a chat response template resolves it, with its own payload in scope, and
// publishes it as an assistant response.
func (e *Env) Finish(ctx context.Context, node *models.WorkflowNode, result models.NodeResult) models.NodeResult {
	tmpl := node.ChatResponse()
	if !result.Success || tmpl == "" || e.Resolver == nil || e.Context == nil {
		return result
	}

	scope := e.Context.WithVariables(nil)
	scope.Label(node.ID, node.Name)
	scope.RecordResult(node.ID, result.Data)

	text, err := e.Resolver.Interpolate(tmpl, scope)
	if err != nil {
		e.logger(node).WarnContext(ctx, "Failed to resolve chat response", "error", err)

		return result
	}

	e.Respond(ctx, node, text)

	return result
}

// Unsupported is returned for a node handed to the wrong category executor.
func (e *Env) Unsupported(ctx context.Context, node *models.WorkflowNode) models.NodeResult {
	return e.ConfigError(ctx, node, fmt.Errorf("%w: %q", ErrUnsupportedNode, node.Type))
}

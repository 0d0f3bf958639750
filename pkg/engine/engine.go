// Package engine drives workflow runs: it walks a graph from its trigger nodes,
// hands every node to the executor of its category and follows the branches the
// results select.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"sync"
	"time"

	"github.com/dukex/canvasflow/pkg/eventbus"
	"github.com/dukex/canvasflow/pkg/events"
	"github.com/dukex/canvasflow/pkg/expression"
	"github.com/dukex/canvasflow/pkg/graph"
	"github.com/dukex/canvasflow/pkg/log"
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/nodes"
	"github.com/dukex/canvasflow/pkg/nodes/action"
	"github.com/dukex/canvasflow/pkg/nodes/condition"
	"github.com/dukex/canvasflow/pkg/nodes/trigger"
	"github.com/dukex/canvasflow/pkg/notify"
	"github.com/dukex/canvasflow/pkg/otelhelper"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrRunInProgress = errors.New("a run is already in progress")
	ErrNoTriggerNode = errors.New("workflow has no trigger node")
)

// Engine runs one workflow graph. At most one run is active at a time; single-node
// test runs may happen before, between or during runs.
type Engine struct {
	graph     graph.Graph
	executors map[models.CategoryType]nodes.Executor
	resolver  nodes.Resolver
	bus       eventbus.EventBus
	notifier  notify.Notifier
	logger    *slog.Logger
	tracer    trace.Tracer
	metrics   *Metrics
	client    *http.Client
	variables map[string]any
	clock     func() time.Time

	mu        sync.Mutex
	ec        *models.ExecutionContext
	runID     string
	running   bool
	stop      chan struct{}
	stopped   bool
	silent    bool
	cancelRun context.CancelFunc

	observersMu  sync.Mutex
	observers    map[int]func(models.ContextSnapshot)
	nextObserver int
}

type Option func(*Engine)

// WithEventBus sets the channel used for trigger input, cancellations and live updates.
func WithEventBus(bus eventbus.EventBus) Option {
	return func(e *Engine) { e.bus = bus }
}

func WithNotifier(n notify.Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) { e.tracer = tracer }
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithResolver(r nodes.Resolver) Option {
	return func(e *Engine) { e.resolver = r }
}

// WithExecutor replaces the executor of one node category.
func WithExecutor(category models.CategoryType, ex nodes.Executor) Option {
	return func(e *Engine) { e.executors[category] = ex }
}

// WithVariables adds free variables to every run. They override the workflow's own.
func WithVariables(vars map[string]any) Option {
	return func(e *Engine) { maps.Copy(e.variables, vars) }
}

func WithHTTPClient(c *http.Client) Option {
	return func(e *Engine) { e.client = c }
}

func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.clock = clock }
}

// New creates an engine for g. Without options the engine uses the built-in
// executors, discards notifications and runs without an event channel, so form and
// chat triggers fail with a configuration error.
func New(g graph.Graph, opts ...Option) *Engine {
	e := &Engine{
		graph: g,
		executors: map[models.CategoryType]nodes.Executor{
			models.CategoryTypeTrigger:   trigger.NewExecutor(),
			models.CategoryTypeCondition: condition.NewExecutor(),
			models.CategoryTypeAction:    action.NewExecutor(),
		},
		resolver:  expression.New(),
		notifier:  notify.Discard{},
		logger:    log.WithModule("engine"),
		tracer:    otelhelper.NoopTracer(),
		variables: make(map[string]any),
		clock:     time.Now,
		stop:      make(chan struct{}),
		observers: make(map[int]func(models.ContextSnapshot)),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.logger = e.logger.With("workflow_id", g.WorkflowID())
	e.ec = e.newContext(nil)

	return e
}

type runConfig struct {
	runID     string
	triggerID string
}

type RunOption func(*runConfig)

// WithRunID sets the identifier of the run instead of generating one.
func WithRunID(id string) RunOption {
	return func(c *runConfig) { c.runID = id }
}

// WithTrigger starts the run from a single trigger node. Other triggers are skipped.
func WithTrigger(nodeID string) RunOption {
	return func(c *runConfig) { c.triggerID = nodeID }
}

// ExecuteWorkflow runs the graph from its trigger nodes until every reachable branch
// has terminated or the run is stopped. Node failures are reported in the outcome, not
// as errors.
func (e *Engine) ExecuteWorkflow(ctx context.Context, opts ...RunOption) (models.RunOutcome, error) {
	cfg := runConfig{runID: uuid.NewString()}
	for _, opt := range opts {
		opt(&cfg)
	}

	seeds, err := e.seeds(cfg.triggerID)
	if err != nil {
		return models.RunOutcome{}, err
	}

	r, runCtx, err := e.begin(ctx, cfg.runID)
	if err != nil {
		return models.RunOutcome{}, err
	}

	defer e.end()

	return r.execute(runCtx, seeds), nil
}

func (e *Engine) seeds(triggerID string) ([]*models.WorkflowNode, error) {
	triggers := e.graph.Triggers()
	if len(triggers) == 0 {
		return nil, ErrNoTriggerNode
	}

	if triggerID == "" {
		return triggers, nil
	}

	for _, t := range triggers {
		if t.ID == triggerID {
			return []*models.WorkflowNode{t}, nil
		}
	}

	return nil, fmt.Errorf("%w: %q is not a trigger node", graph.ErrNodeNotFound, triggerID)
}

func (e *Engine) begin(ctx context.Context, runID string) (*run, context.Context, error) {
	e.mu.Lock()

	if e.running {
		e.mu.Unlock()

		return nil, nil, ErrRunInProgress
	}

	runCtx, cancel := context.WithCancel(ctx)
	started := e.clock().UTC()

	e.running = true
	e.runID = runID
	e.stop = make(chan struct{})
	e.stopped = false
	e.silent = false
	e.cancelRun = cancel
	e.ec = e.newContext(map[string]any{
		"run": map[string]any{
			"id":           runID,
			"workflowId":   e.graph.WorkflowID(),
			"workflowName": e.graph.Name(),
			"startedAt":    started.Format(time.RFC3339),
		},
	})

	r := newRun(e, runID, e.ec, e.stop, started)
	e.mu.Unlock()

	e.broadcast(r.ec.Snapshot())

	return r, runCtx, nil
}

func (e *Engine) end() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.running = false
	if e.cancelRun != nil {
		e.cancelRun()
		e.cancelRun = nil
	}
}

func (e *Engine) newContext(extra map[string]any) *models.ExecutionContext {
	vars := make(map[string]any, len(e.variables)+len(extra))
	maps.Copy(vars, e.graph.Variables())
	maps.Copy(vars, e.variables)
	maps.Copy(vars, extra)

	ec := models.NewExecutionContextFrom(models.ContextSnapshot{Variables: vars})
	for _, n := range e.graph.Nodes() {
		ec.Label(n.ID, n.DisplayName())
	}

	ec.OnUpdate(e.broadcast)

	return ec
}

// ExecuteSingleNode runs one node against the current context without following its
// connectors. The result is recorded in the context like during a run.
func (e *Engine) ExecuteSingleNode(ctx context.Context, nodeID string) (models.NodeResult, error) {
	node, ok := e.graph.Node(nodeID)
	if !ok {
		return models.NodeResult{}, fmt.Errorf("%w: %q", graph.ErrNodeNotFound, nodeID)
	}

	e.mu.Lock()
	if e.stopped && !e.running {
		e.stop = make(chan struct{})
		e.stopped = false
	}

	ec, stop, runID := e.ec, e.stop, e.runID
	e.mu.Unlock()

	if runID == "" {
		runID = "test-" + uuid.NewString()
	}

	env := e.env(ec, runID, stop)
	result := e.dispatch(ctx, node, env)

	if result.Success {
		ec.RecordResult(node.ID, result.Data)
	} else {
		e.broadcast(ec.Snapshot())
	}

	e.logger.InfoContext(ctx, "single node executed", "node_id", node.ID, "node_type", node.Type, "status", result.Status())

	return result, nil
}

// StopExecution cancels the active run. The node in flight finishes, no further nodes
// are scheduled and suspended triggers are released as cancelled. Unless silent, the
// user is told the run was stopped.
func (e *Engine) StopExecution(ctx context.Context, silent bool) {
	e.mu.Lock()

	if e.stopped {
		e.silent = e.silent && silent
		e.mu.Unlock()

		return
	}

	close(e.stop)
	e.stopped = true
	e.silent = silent
	running, runID := e.running, e.runID
	e.mu.Unlock()

	if !running {
		return
	}

	e.logger.InfoContext(ctx, "stopping workflow run", "run_id", runID, "silent", silent)

	if e.bus != nil {
		cancelled := events.TriggerCancelled{
			BaseEvent: events.NewBaseEvent(events.TriggerCancelledEvent, e.graph.WorkflowID(), runID),
			Reason:    "execution stopped",
		}
		if err := e.bus.Publish(ctx, runID, cancelled); err != nil {
			e.logger.WarnContext(ctx, "failed to publish trigger cancellation", "run_id", runID, "error", err)
		}
	}

	if !silent {
		e.notifier.Notify(ctx, notify.Notification{
			Level:      notify.LevelInfo,
			Title:      e.graph.Name(),
			Message:    "Execution stopped",
			RunID:      runID,
			WorkflowID: e.graph.WorkflowID(),
		})
	}
}

// Running reports whether a run is in progress.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.running
}

// ExecutionContext returns a snapshot of the current context.
func (e *Engine) ExecutionContext() models.ContextSnapshot {
	e.mu.Lock()
	ec := e.ec
	e.mu.Unlock()

	return ec.Snapshot()
}

// OnExecutionContextUpdate registers fn to receive a snapshot after every context
// write. The returned function unregisters it.
func (e *Engine) OnExecutionContextUpdate(fn func(models.ContextSnapshot)) func() {
	e.observersMu.Lock()
	defer e.observersMu.Unlock()

	id := e.nextObserver
	e.nextObserver++
	e.observers[id] = fn

	return func() {
		e.observersMu.Lock()
		delete(e.observers, id)
		e.observersMu.Unlock()
	}
}

func (e *Engine) broadcast(s models.ContextSnapshot) {
	e.observersMu.Lock()
	fns := make([]func(models.ContextSnapshot), 0, len(e.observers))
	for _, fn := range e.observers {
		fns = append(fns, fn)
	}
	e.observersMu.Unlock()

	for _, fn := range fns {
		fn(s)
	}
}

// Cleanup silently stops any active run, which releases its event subscriptions and
// timers, and drops every context observer. It is safe to call repeatedly.
func (e *Engine) Cleanup(ctx context.Context) {
	e.StopExecution(ctx, true)

	e.mu.Lock()
	if e.cancelRun != nil {
		e.cancelRun()
	}
	e.mu.Unlock()

	e.observersMu.Lock()
	clear(e.observers)
	e.observersMu.Unlock()
}

func (e *Engine) env(ec *models.ExecutionContext, runID string, stop <-chan struct{}) *nodes.Env {
	return &nodes.Env{
		Context:    ec,
		Resolver:   e.resolver,
		Bus:        e.bus,
		Notifier:   e.notifier,
		Logger:     e.logger,
		HTTPClient: e.client,
		WorkflowID: e.graph.WorkflowID(),
		RunID:      runID,
		Stop:       stop,
		Clock:      e.clock,
	}
}

// dispatch hands node to the executor of its category. A panicking executor yields a
// failed result.
func (e *Engine) dispatch(ctx context.Context, node *models.WorkflowNode, env *nodes.Env) (result models.NodeResult) {
	ex, ok := e.executors[node.Category]
	if !ok {
		return env.Unsupported(ctx, node)
	}

	defer func() {
		if p := recover(); p != nil {
			err := fmt.Errorf("node panicked: %v", p)
			otelhelper.SetError(trace.SpanFromContext(ctx), err, attribute.String(otelhelper.NodeIDKey, node.ID))
			result = env.ExecutionError(ctx, node, err, nil)
		}
	}()

	return ex.Execute(ctx, node, env)
}

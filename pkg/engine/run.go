package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/dukex/canvasflow/pkg/eventbus"
	"github.com/dukex/canvasflow/pkg/events"
	"github.com/dukex/canvasflow/pkg/graph"
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/nodes"
	"github.com/dukex/canvasflow/pkg/nodes/condition"
	"github.com/dukex/canvasflow/pkg/notify"
	"github.com/dukex/canvasflow/pkg/otelhelper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// edgeState is how a connector was resolved by its source node.
type edgeState int

const (
	edgePending edgeState = iota
	edgeFired
	edgeSkipped
	edgeFailed
)

// scope is one traversal: the whole graph for a run, or the body of a loop for one
// iteration.
type scope struct {
	members  map[string]bool // nil is the whole graph
	done     map[string]bool
	edges    map[string]edgeState
	payloads map[string]any
}

func newScope(members map[string]bool) *scope {
	return &scope{
		members:  members,
		done:     make(map[string]bool),
		edges:    make(map[string]edgeState),
		payloads: make(map[string]any),
	}
}

func (s *scope) contains(id string) bool {
	return s.members == nil || s.members[id]
}

type run struct {
	engine *Engine
	graph  graph.Graph
	id     string
	ec     *models.ExecutionContext
	env    *nodes.Env
	stop   <-chan struct{}
	logger *slog.Logger

	outcome  models.RunOutcome
	sawAbort bool
	defect   string
}

func newRun(e *Engine, id string, ec *models.ExecutionContext, stop <-chan struct{}, started time.Time) *run {
	r := &run{
		engine: e,
		graph:  e.graph,
		id:     id,
		ec:     ec,
		env:    e.env(ec, id, stop),
		stop:   stop,
		logger: e.logger.With("run_id", id),
		outcome: models.RunOutcome{
			RunID:      id,
			WorkflowID: e.graph.WorkflowID(),
			Status:     models.RunStatusRunning,
			StartedAt:  started,
			Results:    make(map[string]models.NodeResult),
			Statuses:   make(map[string]models.NodeStatus),
		},
	}

	for _, n := range e.graph.Nodes() {
		r.outcome.Statuses[n.ID] = models.NodeStatusPending
	}

	return r
}

func (r *run) execute(ctx context.Context, seeds []*models.WorkflowNode) (outcome models.RunOutcome) {
	ctx, span := otelhelper.StartSpan(ctx, r.engine.tracer, "workflow.run",
		attribute.String(otelhelper.WorkflowIDKey, r.graph.WorkflowID()),
		attribute.String(otelhelper.WorkflowNameKey, r.graph.Name()),
		attribute.String(otelhelper.RunIDKey, r.id),
	)
	defer span.End()

	r.logger.InfoContext(ctx, "workflow run started", "triggers", len(seeds))
	r.publish(ctx, events.RunStarted{
		BaseEvent:    events.NewBaseEvent(events.RunStartedEvent, r.graph.WorkflowID(), r.id),
		WorkflowName: r.graph.Name(),
	})

	defer func() {
		if p := recover(); p != nil {
			r.defect = fmt.Sprintf("internal error: %v", p)
			r.logger.ErrorContext(ctx, "workflow run aborted", "panic", p, "stack", string(debug.Stack()))
		}

		outcome = r.finish(ctx, span)
	}()

	r.start(ctx, seeds)

	return r.outcome
}

// start queues the chosen triggers and settles every other source node as skipped so
// that nodes downstream of unused entry points do not wait on them.
func (r *run) start(ctx context.Context, seeds []*models.WorkflowNode) {
	sc := newScope(nil)
	chosen := make(map[string]bool, len(seeds))
	queue := make([]string, 0, len(seeds))

	for _, s := range seeds {
		chosen[s.ID] = true
		queue = append(queue, s.ID)
	}

	for _, n := range r.graph.Nodes() {
		if chosen[n.ID] || len(r.graph.Incoming(n.ID)) > 0 {
			continue
		}

		sc.done[n.ID] = true
		r.outcome.Statuses[n.ID] = models.NodeStatusSkipped
		queue = append(queue, r.resolve(ctx, sc, r.outgoing(sc, n.ID), always(edgeSkipped))...)
	}

	r.traverse(ctx, sc, queue)
}

// traverse runs queued nodes one at a time until the queue drains or the run is
// cancelled.
func (r *run) traverse(ctx context.Context, sc *scope, queue []string) {
	for len(queue) > 0 {
		if r.cancelled(ctx) {
			return
		}

		id := queue[0]
		queue = queue[1:]

		if sc.done[id] {
			continue
		}

		sc.done[id] = true

		node, ok := r.graph.Node(id)
		if !ok {
			panic(fmt.Sprintf("queued node %q is not in the graph", id))
		}

		result := r.runNode(ctx, sc, node)
		queue = append(queue, r.follow(ctx, sc, node, result)...)
	}
}

func (r *run) runNode(ctx context.Context, sc *scope, node *models.WorkflowNode) models.NodeResult {
	ctx, span := otelhelper.StartSpan(ctx, r.engine.tracer, "node.execute",
		attribute.String(otelhelper.RunIDKey, r.id),
		attribute.String(otelhelper.NodeIDKey, node.ID),
		attribute.String(otelhelper.NodeNameKey, node.DisplayName()),
		attribute.String(otelhelper.NodeTypeKey, string(node.Type)),
		attribute.String(otelhelper.NodeCategoryKey, string(node.Category)),
	)
	defer span.End()

	logger := r.logger.With("node_id", node.ID, "node_type", node.Type)
	logger.DebugContext(ctx, "executing node")

	r.outcome.Statuses[node.ID] = models.NodeStatusRunning

	started := time.Now()
	result := r.engine.dispatch(ctx, node, r.env)
	elapsed := time.Since(started)
	status := result.Status()

	// the result is written before anyone is told the node completed
	if result.Success {
		r.ec.RecordResult(node.ID, result.Data)
		sc.payloads[node.ID] = result.Data
	} else {
		r.engine.broadcast(r.ec.Snapshot())
		otelhelper.SetFailure(span, result.Error)

		if result.Cancelled {
			r.sawAbort = true
		}
	}

	span.SetAttributes(attribute.String(otelhelper.NodeStatusKey, string(status)))

	r.outcome.Results[node.ID] = result
	r.outcome.Statuses[node.ID] = status
	r.outcome.Order = append(r.outcome.Order, node.ID)
	r.engine.metrics.observeNode(node.Type, status, elapsed)

	r.publish(ctx, events.NodeCompleted{
		BaseEvent:  events.NewBaseEvent(events.NodeCompletedEvent, r.graph.WorkflowID(), r.id),
		NodeID:     node.ID,
		NodeType:   node.Type,
		Status:     status,
		Data:       result.Data,
		Error:      result.Error,
		DurationMs: elapsed.Milliseconds(),
	})

	logger.InfoContext(ctx, "node completed", "status", status, "duration", elapsed)

	return result
}

// follow resolves the connectors leaving node according to its result and returns
// the nodes that became ready.
func (r *run) follow(ctx context.Context, sc *scope, node *models.WorkflowNode, result models.NodeResult) []string {
	out := r.outgoing(sc, node.ID)
	route := result.Route

	switch {
	case !result.Success:
		return r.resolve(ctx, sc, out, always(edgeFailed))
	case route == nil:
		return r.resolve(ctx, sc, out, always(edgeFired))
	case route.Terminate:
		return r.resolve(ctx, sc, out, always(edgeSkipped))
	case route.Loop:
		var body []*models.Connection

		for _, c := range out {
			if isLoopBody(c) {
				body = append(body, c)
			}
		}

		r.iterate(ctx, sc, node, route.Items, body)

		return r.resolve(ctx, sc, out, func(c *models.Connection) edgeState {
			if isLoopBody(c) {
				return edgeSkipped
			}

			return edgeFired
		})
	default:
		return r.resolve(ctx, sc, out, func(c *models.Connection) edgeState {
			for _, port := range route.Ports {
				if models.PortMatches(c.SourcePort, port) {
					return edgeFired
				}
			}

			return edgeSkipped
		})
	}
}

func isLoopBody(c *models.Connection) bool {
	return models.PortMatches(c.SourcePort, models.PortLoopBody)
}

func always(state edgeState) func(*models.Connection) edgeState {
	return func(*models.Connection) edgeState { return state }
}

func (r *run) outgoing(sc *scope, id string) []*models.Connection {
	var out []*models.Connection

	for _, c := range r.graph.Outgoing(id) {
		if sc.contains(c.TargetID) {
			out = append(out, c)
		}
	}

	return out
}

// resolve records the state of each connector and settles their targets.
func (r *run) resolve(ctx context.Context, sc *scope, conns []*models.Connection, state func(*models.Connection) edgeState) []string {
	targets := make([]string, 0, len(conns))
	seen := make(map[string]bool, len(conns))

	for _, c := range conns {
		sc.edges[c.ID] = state(c)

		if !seen[c.TargetID] {
			seen[c.TargetID] = true
			targets = append(targets, c.TargetID)
		}
	}

	return r.settle(ctx, sc, targets)
}

// settle decides what happens to targets whose incoming connectors may now all be
// resolved. Ready nodes are returned; skipped and blocked nodes pass their state on
// immediately.
func (r *run) settle(ctx context.Context, sc *scope, targets []string) []string {
	var ready []string

	for _, id := range targets {
		if sc.done[id] || !sc.contains(id) {
			continue
		}

		state := r.readiness(sc, id)

		switch state {
		case edgePending:
			continue
		case edgeFired:
			ready = append(ready, id)

			continue
		case edgeFailed:
			r.logger.DebugContext(ctx, "node blocked by a failed upstream node", "node_id", id)
		case edgeSkipped:
			r.logger.DebugContext(ctx, "node skipped, no upstream branch selected it", "node_id", id)
		}

		sc.done[id] = true
		r.outcome.Statuses[id] = models.NodeStatusSkipped
		ready = append(ready, r.resolve(ctx, sc, r.outgoing(sc, id), always(state))...)
	}

	return ready
}

// readiness folds the incoming connectors of id: pending while any is unresolved,
// failed if any failed, fired if any fired, skipped otherwise.
func (r *run) readiness(sc *scope, id string) edgeState {
	var failed, fired bool

	for _, c := range r.graph.Incoming(id) {
		if !sc.contains(c.SourceID) {
			continue
		}

		switch sc.edges[c.ID] {
		case edgePending:
			return edgePending
		case edgeFailed:
			failed = true
		case edgeFired:
			fired = true
		case edgeSkipped:
		}
	}

	switch {
	case failed:
		return edgeFailed
	case fired:
		return edgeFired
	default:
		return edgeSkipped
	}
}

// iterate runs the loop body once per item. Every node reachable from the body port
// belongs to the body; those nodes are settled in sc once the loop is done.
func (r *run) iterate(ctx context.Context, sc *scope, loop *models.WorkflowNode, items []any, body []*models.Connection) {
	members := r.reach(sc, loop.ID, body)
	iterations := make([]any, 0, len(items))

	for i, item := range items {
		if r.cancelled(ctx) {
			break
		}

		r.logger.DebugContext(ctx, "loop iteration", "node_id", loop.ID, "index", i)
		r.ec.RecordResult(loop.ID, condition.LoopState(items, i))

		inner := newScope(members)
		inner.done[loop.ID] = true
		r.traverse(ctx, inner, r.resolve(ctx, inner, body, always(edgeFired)))

		iterations = append(iterations, map[string]any{
			"index":   i,
			"item":    item,
			"results": inner.payloads,
		})
	}

	for id := range members {
		if id != loop.ID {
			sc.done[id] = true
		}
	}

	index := 0
	if len(items) == 0 {
		index = -1
	}

	final := condition.LoopState(items, index)
	final["iterations"] = iterations

	r.ec.RecordResult(loop.ID, final)
	sc.payloads[loop.ID] = final

	result := r.outcome.Results[loop.ID]
	result.Data = final
	r.outcome.Results[loop.ID] = result
}

func (r *run) reach(sc *scope, loopID string, body []*models.Connection) map[string]bool {
	members := map[string]bool{loopID: true}
	stack := make([]string, 0, len(body))

	for _, c := range body {
		stack = append(stack, c.TargetID)
	}

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if members[id] || !sc.contains(id) {
			continue
		}

		members[id] = true

		for _, c := range r.graph.Outgoing(id) {
			stack = append(stack, c.TargetID)
		}
	}

	return members
}

func (r *run) cancelled(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}

	select {
	case <-r.stop:
		return true
	default:
		return false
	}
}

func (r *run) finish(ctx context.Context, span trace.Span) models.RunOutcome {
	stopped := r.cancelled(ctx)

	var firstFailure string

	for _, id := range r.outcome.Order {
		if res := r.outcome.Results[id]; !res.Success && !res.Cancelled && firstFailure == "" {
			firstFailure = fmt.Sprintf("node %q failed: %s", id, res.Error)
		}
	}

	switch {
	case r.defect != "":
		r.outcome.Status = models.RunStatusFailed
		r.outcome.Error = r.defect
	case stopped || r.sawAbort:
		r.outcome.Status = models.RunStatusCancelled
	case firstFailure != "":
		r.outcome.Status = models.RunStatusFailed
		r.outcome.Error = firstFailure
	default:
		r.outcome.Status = models.RunStatusCompleted
	}

	for id, status := range r.outcome.Statuses {
		if status == models.NodeStatusPending || status == models.NodeStatusRunning {
			r.outcome.Statuses[id] = models.NodeStatusSkipped
		}
	}

	r.outcome.FinishedAt = r.engine.clock().UTC()
	elapsed := r.outcome.FinishedAt.Sub(r.outcome.StartedAt)

	// publishing and notifying must not be skipped because the run context is gone
	ctx = context.WithoutCancel(ctx)

	switch {
	case r.defect != "":
		otelhelper.SetError(span, errors.New(r.defect), attribute.String(otelhelper.RunIDKey, r.id))
		r.notify(ctx, notify.LevelError, "Workflow run failed: "+r.defect)
	case r.outcome.Status == models.RunStatusCancelled && !stopped:
		// stopped runs were acknowledged by StopExecution
		r.notify(ctx, notify.LevelInfo, "Execution cancelled")
	case r.outcome.Status == models.RunStatusCompleted:
		r.notify(ctx, notify.LevelSuccess, "Workflow run completed")
	}

	span.SetAttributes(attribute.String(otelhelper.RunStatusKey, string(r.outcome.Status)))
	r.engine.metrics.observeRun(r.outcome.Status)

	r.publish(ctx, events.RunFinished{
		BaseEvent:  events.NewBaseEvent(events.RunFinishedEvent, r.graph.WorkflowID(), r.id),
		Status:     r.outcome.Status,
		Error:      r.outcome.Error,
		DurationMs: elapsed.Milliseconds(),
	})

	r.logger.InfoContext(ctx, "workflow run finished", "status", r.outcome.Status, "nodes", len(r.outcome.Order), "duration", elapsed)

	return r.outcome
}

func (r *run) notify(ctx context.Context, level notify.Level, msg string) {
	r.engine.notifier.Notify(ctx, notify.Notification{
		Level:      level,
		Title:      r.graph.Name(),
		Message:    msg,
		RunID:      r.id,
		WorkflowID: r.graph.WorkflowID(),
	})
}

func (r *run) publish(ctx context.Context, event eventbus.Event) {
	if r.engine.bus == nil {
		return
	}

	if err := r.engine.bus.Publish(ctx, r.id, event); err != nil {
		r.logger.WarnContext(ctx, "failed to publish run event", "event_type", event.GetType(), "error", err)
	}
}

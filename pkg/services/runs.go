package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/dukex/canvasflow/pkg/engine"
	"github.com/dukex/canvasflow/pkg/eventbus"
	"github.com/dukex/canvasflow/pkg/events"
	"github.com/dukex/canvasflow/pkg/expression"
	"github.com/dukex/canvasflow/pkg/graph"
	"github.com/dukex/canvasflow/pkg/log"
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/persistence"
	"github.com/google/uuid"
)

// RunView is the observable state of a run, live or finished.
type RunView struct {
	RunID      string                 `json:"runId"`
	WorkflowID string                 `json:"workflowId"`
	Running    bool                   `json:"running"`
	Waiting    []events.TriggerReady  `json:"waiting"`
	Context    models.ContextSnapshot `json:"context"`
	Outcome    *models.RunOutcome     `json:"outcome,omitempty"`
	// Variables lists the template paths each recorded node result makes addressable.
	Variables []models.VariableGroup `json:"variables"`
}

// StartRequest selects how a run starts.
type StartRequest struct {
	// TriggerID starts the run from a single trigger node instead of all of them.
	TriggerID string `json:"triggerId,omitempty"`
}

// Runs keeps one engine per workflow and drives its runs in the background. Each
// finished run is saved as a run record.
type Runs struct {
	persistence persistence.Persistence
	bus         eventbus.EventBus
	logger      *slog.Logger
	options     []engine.Option

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*session // by workflow id
	runs     map[string]*session // by id of the session's latest run
}

type session struct {
	workflowID string
	engine     *engine.Engine

	mu      sync.Mutex
	runID   string
	running bool
	waiting map[string]events.TriggerReady
	outcome *models.RunOutcome
	done    chan struct{}
}

// NewRuns creates a run manager. The options are applied to every engine it builds;
// the event bus is required for form and chat triggers.
func NewRuns(p persistence.Persistence, bus eventbus.EventBus, logger *slog.Logger, options ...engine.Option) *Runs {
	ctx, cancel := context.WithCancel(context.Background())

	if logger == nil {
		logger = log.WithModule("runs")
	}

	return &Runs{
		persistence: p,
		bus:         bus,
		logger:      logger,
		options:     options,
		ctx:         ctx,
		cancel:      cancel,
		sessions:    make(map[string]*session),
		runs:        make(map[string]*session),
	}
}

// Start launches a run of the stored workflow and returns its id without waiting for
// it to finish. The workflow is reloaded unless a run of it is in progress.
func (r *Runs) Start(ctx context.Context, workflowID string, req StartRequest) (string, error) {
	s, err := r.prepare(ctx, workflowID, true)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()

		return "", ErrRunInProgress
	}

	runID := uuid.NewString()
	previous := s.runID
	s.runID = runID
	s.running = true
	s.waiting = make(map[string]events.TriggerReady)
	s.outcome = nil
	s.done = make(chan struct{})
	done := s.done
	s.mu.Unlock()

	r.mu.Lock()
	delete(r.runs, previous)
	r.runs[runID] = s
	r.mu.Unlock()

	trackCtx, stopTracking := context.WithCancel(r.ctx)
	if err := r.track(trackCtx, s, runID); err != nil {
		r.logger.WarnContext(ctx, "run started without trigger tracking", "run_id", runID, "error", err)
	}

	runOptions := []engine.RunOption{engine.WithRunID(runID)}
	if req.TriggerID != "" {
		runOptions = append(runOptions, engine.WithTrigger(req.TriggerID))
	}

	r.wg.Add(1)

	go func() {
		defer r.wg.Done()
		defer close(done)
		defer stopTracking()

		outcome, err := s.engine.ExecuteWorkflow(r.ctx, runOptions...)
		if err != nil {
			outcome = models.RunOutcome{RunID: runID, WorkflowID: workflowID, Status: models.RunStatusFailed, Error: err.Error()}
		}

		r.finish(s, &outcome)
	}()

	r.logger.InfoContext(ctx, "run started", "workflow_id", workflowID, "run_id", runID)

	return runID, nil
}

// prepare returns the workflow's session, building its engine from the stored
// workflow when there is none or when reload is set and the session is idle.
func (r *Runs) prepare(ctx context.Context, workflowID string, reload bool) (*session, error) {
	r.mu.Lock()
	s, ok := r.sessions[workflowID]
	r.mu.Unlock()

	if ok {
		s.mu.Lock()
		busy := s.running
		s.mu.Unlock()

		if busy || !reload {
			return s, nil
		}
	}

	workflow, err := r.persistence.WorkflowByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	g, err := graph.New(workflow)
	if err != nil {
		return nil, err
	}

	if len(g.Triggers()) == 0 {
		return nil, engine.ErrNoTriggerNode
	}

	options := append([]engine.Option{
		engine.WithEventBus(r.bus),
		engine.WithLogger(r.logger),
	}, r.options...)

	next := &session{workflowID: workflowID, engine: engine.New(g, options...)}

	r.mu.Lock()
	defer r.mu.Unlock()

	if current, ok := r.sessions[workflowID]; ok && current != s {
		// another caller replaced the session first
		return current, nil
	}

	if s != nil {
		s.mu.Lock()
		busy := s.running
		s.mu.Unlock()

		if busy {
			return s, nil
		}

		s.engine.Cleanup(ctx)
	}

	r.sessions[workflowID] = next

	return next, nil
}

// track follows the run's events to know which triggers are waiting for input.
func (r *Runs) track(ctx context.Context, s *session, runID string) error {
	if r.bus == nil {
		return errors.New("no event bus configured")
	}

	received, err := r.bus.Subscribe(ctx, events.TriggerReadyEvent, events.NodeCompletedEvent)
	if err != nil {
		return fmt.Errorf("subscribing to run events: %w", err)
	}

	go func() {
		// topics are delivered independently, so a completion may overtake its announcement
		completed := make(map[string]bool)

		for event := range received {
			switch e := event.(type) {
			case *events.TriggerReady:
				if e.RunID == runID && !completed[e.NodeID] {
					s.mu.Lock()
					s.waiting[e.NodeID] = *e
					s.mu.Unlock()
				}
			case *events.NodeCompleted:
				if e.RunID == runID {
					completed[e.NodeID] = true

					s.mu.Lock()
					delete(s.waiting, e.NodeID)
					s.mu.Unlock()
				}
			}
		}
	}()

	return nil
}

func (r *Runs) finish(s *session, outcome *models.RunOutcome) {
	record := &models.RunRecord{RunOutcome: *outcome, Context: s.engine.ExecutionContext()}

	if err := r.persistence.SaveRun(r.ctx, record); err != nil {
		r.logger.ErrorContext(r.ctx, "failed to save run record", "run_id", outcome.RunID, "error", err)
	}

	s.mu.Lock()
	s.running = false
	s.outcome = outcome
	clear(s.waiting)
	s.mu.Unlock()

	r.logger.InfoContext(r.ctx, "run finished", "workflow_id", s.workflowID, "run_id", outcome.RunID, "status", outcome.Status)
}

func (r *Runs) active(runID string) (*session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.runs[runID]
	if !ok {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s, s.runID == runID
}

// Wait blocks until the run finishes and returns its outcome.
func (r *Runs) Wait(ctx context.Context, runID string) (*models.RunOutcome, error) {
	s, ok := r.active(runID)
	if !ok {
		record, err := r.persistence.RunByID(ctx, runID)
		if err != nil {
			return nil, err
		}

		return &record.RunOutcome, nil
	}

	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.outcome, nil
}

// Stop stops a run. Stopping a finished run does nothing.
func (r *Runs) Stop(ctx context.Context, runID string, silent bool) error {
	s, ok := r.active(runID)
	if !ok {
		if _, err := r.persistence.RunByID(ctx, runID); err != nil {
			return err
		}

		return nil
	}

	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	if running {
		s.engine.StopExecution(ctx, silent)
	}

	return nil
}

// Snapshot returns the live view of an active run, or the record of a finished one.
func (r *Runs) Snapshot(ctx context.Context, runID string) (*RunView, error) {
	s, ok := r.active(runID)
	if !ok {
		record, err := r.persistence.RunByID(ctx, runID)
		if err != nil {
			return nil, err
		}

		return &RunView{
			RunID:      record.RunID,
			WorkflowID: record.WorkflowID,
			Waiting:    []events.TriggerReady{},
			Context:    record.Context,
			Outcome:    &record.RunOutcome,
			Variables:  r.variables(ctx, record.WorkflowID, record.Context),
		}, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	waiting := make([]events.TriggerReady, 0, len(s.waiting))
	for _, ready := range s.waiting {
		waiting = append(waiting, ready)
	}

	sort.Slice(waiting, func(i, j int) bool { return waiting[i].NodeID < waiting[j].NodeID })

	snapshot := s.engine.ExecutionContext()

	return &RunView{
		RunID:      runID,
		WorkflowID: s.workflowID,
		Running:    s.running,
		Waiting:    waiting,
		Context:    snapshot,
		Outcome:    s.outcome,
		Variables:  r.variables(ctx, s.workflowID, snapshot),
	}, nil
}

// variables describes every recorded node result, naming nodes after the stored
// workflow when it can still be loaded.
func (r *Runs) variables(ctx context.Context, workflowID string, snapshot models.ContextSnapshot) []models.VariableGroup {
	names := make(map[string]string)

	if w, err := r.persistence.WorkflowByID(ctx, workflowID); err == nil {
		for _, n := range w.Nodes {
			if n != nil {
				names[n.ID] = n.Name
			}
		}
	}

	groups := make([]models.VariableGroup, 0, len(snapshot.Results))
	for _, id := range slices.Sorted(maps.Keys(snapshot.Results)) {
		groups = append(groups, expression.Describe(names[id], id, snapshot.Results[id]))
	}

	return groups
}

// SubmitForm delivers form values to a waiting form trigger.
func (r *Runs) SubmitForm(ctx context.Context, runID, nodeID string, values map[string]any) error {
	s, err := r.waitingTrigger(runID, nodeID, models.NodeTypeFormTrigger)
	if err != nil {
		return err
	}

	return r.publish(ctx, runID, events.FormSubmitted{
		BaseEvent: events.NewBaseEvent(events.FormSubmittedEvent, s.workflowID, runID),
		NodeID:    nodeID,
		Values:    values,
	})
}

// SendChat delivers a chat message to a waiting chat trigger.
func (r *Runs) SendChat(ctx context.Context, runID, nodeID, text, sessionID string) error {
	if text == "" {
		return NewValidationError("SendChat", "empty_message", "message cannot be empty", ErrInvalidRequest)
	}

	s, err := r.waitingTrigger(runID, nodeID, models.NodeTypeChatTrigger)
	if err != nil {
		return err
	}

	return r.publish(ctx, runID, events.ChatMessageReceived{
		BaseEvent: events.NewBaseEvent(events.ChatMessageReceivedEvent, s.workflowID, runID),
		NodeID:    nodeID,
		SessionID: sessionID,
		Text:      text,
	})
}

// CancelTrigger releases a waiting trigger without input; its branch ends cancelled.
func (r *Runs) CancelTrigger(ctx context.Context, runID, nodeID string) error {
	s, err := r.waitingTrigger(runID, nodeID, "")
	if err != nil {
		return err
	}

	return r.publish(ctx, runID, events.TriggerCancelled{
		BaseEvent: events.NewBaseEvent(events.TriggerCancelledEvent, s.workflowID, runID),
		NodeID:    nodeID,
		Reason:    "trigger cancelled by user",
	})
}

func (r *Runs) waitingTrigger(runID, nodeID string, nodeType models.NodeType) (*session, error) {
	s, ok := r.active(runID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}

	s.mu.Lock()
	ready, waiting := s.waiting[nodeID]
	s.mu.Unlock()

	if !waiting || (nodeType != "" && ready.NodeType != nodeType) {
		return nil, fmt.Errorf("%w: %s", ErrTriggerNotWaiting, nodeID)
	}

	return s, nil
}

func (r *Runs) publish(ctx context.Context, runID string, event eventbus.Event) error {
	if err := r.bus.Publish(ctx, runID, event); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.GetType(), err)
	}

	return nil
}

// TestNode executes one node of the workflow against the context of its latest run.
func (r *Runs) TestNode(ctx context.Context, workflowID, nodeID string) (models.NodeResult, error) {
	s, err := r.prepare(ctx, workflowID, false)
	if err != nil {
		return models.NodeResult{}, err
	}

	return s.engine.ExecuteSingleNode(ctx, nodeID)
}

// History returns the stored runs of a workflow, newest first.
func (r *Runs) History(ctx context.Context, workflowID string, limit int) ([]*models.RunRecord, error) {
	runs, err := r.persistence.RunsByWorkflow(ctx, workflowID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	return runs, nil
}

// Forget drops the engine of a workflow, stopping its run silently. An idle
// session's last run is looked up from its record afterwards.
func (r *Runs) Forget(ctx context.Context, workflowID string) {
	r.mu.Lock()
	s, ok := r.sessions[workflowID]
	delete(r.sessions, workflowID)

	if ok {
		s.mu.Lock()
		if !s.running {
			delete(r.runs, s.runID)
		}
		s.mu.Unlock()
	}
	r.mu.Unlock()

	if ok {
		s.engine.Cleanup(ctx)
	}
}

// Close silently stops every run and waits for the run goroutines to finish.
func (r *Runs) Close(ctx context.Context) error {
	r.mu.Lock()
	sessions := make([]*session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.engine.Cleanup(ctx)
	}

	done := make(chan struct{})

	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.cancel()

		return ctx.Err()
	}

	r.cancel()

	return nil
}

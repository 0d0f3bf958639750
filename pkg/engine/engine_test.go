package engine_test

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dukex/canvasflow/pkg/engine"
	"github.com/dukex/canvasflow/pkg/eventbus"
	"github.com/dukex/canvasflow/pkg/events"
	"github.com/dukex/canvasflow/pkg/graph"
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/nodes"
	"github.com/dukex/canvasflow/pkg/notify"
	"github.com/dukex/canvasflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type harness struct {
	engine   *engine.Engine
	recorder *notify.Recorder
	bus      *eventbus.WatermillEventBus
}

func newHarness(t *testing.T, w *models.Workflow, opts ...engine.Option) *harness {
	t.Helper()

	g, err := graph.New(w)
	require.NoError(t, err)

	h := &harness{recorder: &notify.Recorder{}, bus: testutil.NewBus(t)}
	opts = append([]engine.Option{
		engine.WithEventBus(h.bus),
		engine.WithNotifier(h.recorder),
		engine.WithLogger(slog.Default()),
	}, opts...)

	h.engine = engine.New(g, opts...)
	t.Cleanup(func() { h.engine.Cleanup(context.Background()) })

	return h
}

func workflow(nodes []*models.WorkflowNode, conns ...*models.Connection) *models.Workflow {
	w := testutil.CreateTestWorkflow()
	w.Nodes = nodes
	w.Connections = conns

	return w
}

func link(source, port, target string) *models.Connection {
	return testutil.CreateTestConnection(source, port, target)
}

func manual(id string) *models.WorkflowNode {
	return testutil.Node(id, models.NodeTypeManualTrigger, nil)
}

func logNode(id, message string) *models.WorkflowNode {
	return testutil.Node(id, models.NodeTypeLog, map[string]any{"message": message})
}

func row(left string, comparator models.Comparator, right string) map[string]any {
	return map[string]any{"left": left, "comparator": string(comparator), "right": right}
}

func (h *harness) run(t *testing.T, opts ...engine.RunOption) models.RunOutcome {
	t.Helper()

	outcome, err := h.engine.ExecuteWorkflow(context.Background(), opts...)
	require.NoError(t, err)

	return outcome
}

func (h *harness) start(t *testing.T) <-chan models.RunOutcome {
	t.Helper()

	done := make(chan models.RunOutcome, 1)

	go func() {
		outcome, err := h.engine.ExecuteWorkflow(context.Background())
		assert.NoError(t, err)
		done <- outcome
	}()

	return done
}

func awaitOutcome(t *testing.T, done <-chan models.RunOutcome) models.RunOutcome {
	t.Helper()

	select {
	case outcome := <-done:
		return outcome
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for the run to finish")

		return models.RunOutcome{}
	}
}

func message(t *testing.T, outcome models.RunOutcome, id string) string {
	t.Helper()

	res, ok := outcome.Results[id]
	require.True(t, ok, "node %s did not run", id)
	require.True(t, res.Success, "node %s failed: %s", id, res.Error)

	return res.Data.(map[string]any)["message"].(string)
}

func TestExecuteWorkflow_LinearRun(t *testing.T) {
	h := newHarness(t, workflow(
		[]*models.WorkflowNode{
			manual("start"),
			testutil.Node("calc", models.NodeTypeSetData, map[string]any{
				"fields": []any{map[string]any{"name": "total", "value": 7}},
			}),
			logNode("report", "total {{ $.calc.total }} in {{ $.env }}"),
		},
		link("start", "", "calc"),
		link("calc", "", "report"),
	))

	outcome := h.run(t)

	assert.Equal(t, models.RunStatusCompleted, outcome.Status)
	assert.Equal(t, []string{"start", "calc", "report"}, outcome.Order)
	assert.Equal(t, "total 7 in test", message(t, outcome, "report"))
	assert.Equal(t, 1, h.recorder.Count(notify.LevelSuccess))

	snapshot := h.engine.ExecutionContext()
	assert.Contains(t, snapshot.Results, "report")
	assert.Equal(t, outcome.RunID, snapshot.Variables["run"].(map[string]any)["id"])
}

func TestExecuteWorkflow_NoTrigger(t *testing.T) {
	h := newHarness(t, workflow([]*models.WorkflowNode{logNode("alone", "x")}))

	_, err := h.engine.ExecuteWorkflow(context.Background())
	require.ErrorIs(t, err, engine.ErrNoTriggerNode)
}

func TestExecuteWorkflow_IfSelectsOnePort(t *testing.T) {
	h := newHarness(t, workflow(
		[]*models.WorkflowNode{
			manual("start"),
			testutil.Node("check", models.NodeTypeIfCondition, map[string]any{
				"conditions": []any{row("5", models.ComparatorGreater, "3")},
			}),
			logNode("yes", "yes"),
			logNode("no", "no"),
			logNode("after-no", "never"),
		},
		link("start", "", "check"),
		link("check", models.PortTrue, "yes"),
		link("check", "false", "no"),
		link("no", "", "after-no"),
	))

	outcome := h.run(t)

	assert.Equal(t, models.RunStatusCompleted, outcome.Status)
	assert.Equal(t, []string{"start", "check", "yes"}, outcome.Order)
	assert.Equal(t, models.NodeStatusSkipped, outcome.Statuses["no"])
	assert.Equal(t, models.NodeStatusSkipped, outcome.Statuses["after-no"])
}

func TestExecuteWorkflow_SwitchWithoutMatchRunsNothing(t *testing.T) {
	h := newHarness(t, workflow(
		[]*models.WorkflowNode{
			manual("start"),
			testutil.Node("route", models.NodeTypeSwitchCase, map[string]any{
				"rules": []any{row("1", models.ComparatorEqual, "2")},
			}),
			logNode("case", "case"),
			logNode("fallback", "fallback"),
		},
		link("start", "", "route"),
		link("route", models.CasePort(0), "case"),
		link("route", models.PortCaseDflt, "fallback"),
	))

	outcome := h.run(t)

	assert.Equal(t, models.RunStatusCompleted, outcome.Status)
	assert.Equal(t, []string{"start", "route"}, outcome.Order)
}

func TestExecuteWorkflow_SwitchDefaultPort(t *testing.T) {
	h := newHarness(t, workflow(
		[]*models.WorkflowNode{
			manual("start"),
			testutil.Node("route", models.NodeTypeSwitchCase, map[string]any{
				"rules":         []any{row("1", models.ComparatorEqual, "2")},
				"enableDefault": true,
			}),
			logNode("case", "case"),
			logNode("fallback", "fallback"),
		},
		link("start", "", "route"),
		link("route", "case-1", "case"),
		link("route", "default", "fallback"),
	))

	outcome := h.run(t)

	assert.Equal(t, []string{"start", "route", "fallback"}, outcome.Order)
}

func TestExecuteWorkflow_FilterFeedsDownstreamOnce(t *testing.T) {
	h := newHarness(t, workflow(
		[]*models.WorkflowNode{
			manual("start"),
			testutil.Node("big", models.NodeTypeFilter, map[string]any{
				"input":      "{{ [1, 2, 3, 4] }}",
				"conditions": []any{row("$.item", models.ComparatorGreater, "2")},
			}),
			logNode("report", "kept {{ $.big.length }}"),
		},
		link("start", "", "big"),
		link("big", "", "report"),
	))

	outcome := h.run(t)

	assert.Equal(t, []any{float64(3), float64(4)}, normalize(outcome.Results["big"].Data))
	assert.Equal(t, "kept 2", message(t, outcome, "report"))
}

func TestExecuteWorkflow_EmptyFilterEndsBranch(t *testing.T) {
	h := newHarness(t, workflow(
		[]*models.WorkflowNode{
			manual("start"),
			testutil.Node("big", models.NodeTypeFilter, map[string]any{
				"input":      "{{ [1, 2] }}",
				"conditions": []any{row("$.item", models.ComparatorGreater, "2")},
			}),
			logNode("report", "never"),
		},
		link("start", "", "big"),
		link("big", "", "report"),
	))

	outcome := h.run(t)

	assert.Equal(t, models.RunStatusCompleted, outcome.Status)
	assert.NotContains(t, outcome.Order, "report")
	assert.Equal(t, models.NodeStatusSkipped, outcome.Statuses["report"])
}

func TestExecuteWorkflow_StopEndsOnlyItsBranch(t *testing.T) {
	h := newHarness(t, workflow(
		[]*models.WorkflowNode{
			manual("start"),
			testutil.Node("halt", models.NodeTypeStop, map[string]any{"message": "done here"}),
			logNode("behind-stop", "never"),
			logNode("sibling", "still runs"),
		},
		link("start", "", "halt"),
		link("halt", "", "behind-stop"),
		link("start", "", "sibling"),
	))

	outcome := h.run(t)

	assert.Equal(t, models.RunStatusCompleted, outcome.Status)
	assert.ElementsMatch(t, []string{"start", "halt", "sibling"}, outcome.Order)
	assert.Equal(t, models.NodeStatusSkipped, outcome.Statuses["behind-stop"])
}

func TestExecuteWorkflow_FailureHaltsOnlyItsBranch(t *testing.T) {
	h := newHarness(t, workflow(
		[]*models.WorkflowNode{
			manual("start"),
			testutil.Node("broken", models.NodeTypeLog, nil),
			logNode("behind-broken", "never"),
			logNode("sibling", "still runs"),
		},
		link("start", "", "broken"),
		link("broken", "", "behind-broken"),
		link("start", "", "sibling"),
	))

	outcome := h.run(t)

	assert.Equal(t, models.RunStatusFailed, outcome.Status)
	assert.Contains(t, outcome.Error, "broken")
	assert.Equal(t, models.NodeStatusError, outcome.Statuses["broken"])
	assert.Equal(t, models.NodeStatusSkipped, outcome.Statuses["behind-broken"])
	assert.Equal(t, "still runs", message(t, outcome, "sibling"))
	assert.Equal(t, 1, h.recorder.Count(notify.LevelError), "only the configuration error is reported")
}

func TestExecuteWorkflow_DiamondJoinsOnce(t *testing.T) {
	h := newHarness(t, workflow(
		[]*models.WorkflowNode{
			manual("start"),
			logNode("left", "l"),
			logNode("right", "r"),
			logNode("join", "{{ $.left.message }}{{ $.right.message }}"),
		},
		link("start", "", "left"),
		link("start", "", "right"),
		link("left", "", "join"),
		link("right", "", "join"),
	))

	outcome := h.run(t)

	assert.Equal(t, []string{"start", "left", "right", "join"}, outcome.Order)
	assert.Equal(t, "lr", message(t, outcome, "join"))
}

func TestExecuteWorkflow_JoinAfterUnselectedBranch(t *testing.T) {
	h := newHarness(t, workflow(
		[]*models.WorkflowNode{
			manual("start"),
			testutil.Node("check", models.NodeTypeIfCondition, map[string]any{
				"conditions": []any{row("a", models.ComparatorEqual, "a")},
			}),
			logNode("yes", "yes"),
			logNode("no", "no"),
			logNode("join", "joined"),
		},
		link("start", "", "check"),
		link("check", "true", "yes"),
		link("check", "false", "no"),
		link("yes", "", "join"),
		link("no", "", "join"),
	))

	outcome := h.run(t)

	assert.Equal(t, []string{"start", "check", "yes", "join"}, outcome.Order)
}

func TestExecuteWorkflow_JoinBlockedByFailedBranch(t *testing.T) {
	h := newHarness(t, workflow(
		[]*models.WorkflowNode{
			manual("start"),
			testutil.Node("broken", models.NodeTypeLog, nil),
			logNode("fine", "fine"),
			logNode("join", "never"),
		},
		link("start", "", "broken"),
		link("start", "", "fine"),
		link("broken", "", "join"),
		link("fine", "", "join"),
	))

	outcome := h.run(t)

	assert.Equal(t, models.RunStatusFailed, outcome.Status)
	assert.Equal(t, models.NodeStatusSuccess, outcome.Statuses["fine"])
	assert.Equal(t, models.NodeStatusSkipped, outcome.Statuses["join"])
	assert.NotContains(t, outcome.Order, "join")
}

func TestExecuteWorkflow_LoopRunsBodyPerItem(t *testing.T) {
	h := newHarness(t, workflow(
		[]*models.WorkflowNode{
			manual("start"),
			testutil.Node("each", models.NodeTypeLoop, map[string]any{"input": `{{ ["a", "b", "c"] }}`}),
			logNode("body", "item {{ $.each.currentLoopItem }} first={{ $.each.currentLoopIsFirst }}"),
			logNode("body-next", "after {{ $.body.message }}"),
			logNode("done", "looped {{ $.each.count }} times"),
		},
		link("start", "", "each"),
		link("each", models.PortLoopBody, "body"),
		link("body", "", "body-next"),
		link("each", models.PortLoopDone, "done"),
	))

	outcome := h.run(t)

	assert.Equal(t, models.RunStatusCompleted, outcome.Status)
	assert.Equal(t, []string{"start", "each", "body", "body-next", "body", "body-next", "body", "body-next", "done"}, outcome.Order)
	assert.Equal(t, "looped 3 times", message(t, outcome, "done"))

	loop := outcome.Results["each"].Data.(map[string]any)
	assert.Equal(t, 3, loop["count"])
	assert.Equal(t, 0, loop["currentLoopIndex"])

	iterations := loop["iterations"].([]any)
	require.Len(t, iterations, 3)

	for i, want := range []string{"a", "b", "c"} {
		it := iterations[i].(map[string]any)
		assert.Equal(t, i, it["index"])
		assert.Equal(t, want, it["item"])

		results := it["results"].(map[string]any)
		assert.Equal(t, "item "+want+" first="+map[bool]string{true: "true", false: "false"}[i == 0],
			results["body"].(map[string]any)["message"])
		assert.Equal(t, "after item "+want+" first="+map[bool]string{true: "true", false: "false"}[i == 0],
			results["body-next"].(map[string]any)["message"])
	}
}

func TestExecuteWorkflow_LoopFailureStopsOnlyThatIteration(t *testing.T) {
	h := newHarness(t, workflow(
		[]*models.WorkflowNode{
			manual("start"),
			testutil.Node("each", models.NodeTypeLoop, map[string]any{"input": `{{ ["http://x", "", "http://y"] }}`}),
			testutil.Node("check", models.NodeTypeIfCondition, map[string]any{
				"conditions": []any{row("$.each.currentLoopItem", models.ComparatorIsNotEmpty, "")},
			}),
			logNode("ok", "ok {{ $.each.currentLoopIndex }}"),
			testutil.Node("broken", models.NodeTypeLog, map[string]any{"message": "{{ nope( }}"}),
			logNode("behind-broken", "never"),
		},
		link("start", "", "each"),
		link("each", "", "check"),
		link("check", "true", "ok"),
		link("check", "false", "broken"),
		link("broken", "", "behind-broken"),
	))

	outcome := h.run(t)

	assert.Equal(t, models.RunStatusFailed, outcome.Status)
	assert.Equal(t, 2, countOf(outcome.Order, "ok"))
	assert.Equal(t, 1, countOf(outcome.Order, "broken"))
	assert.Zero(t, countOf(outcome.Order, "behind-broken"))
	assert.Equal(t, "ok 2", message(t, outcome, "ok"))
}

func TestExecuteWorkflow_EmptyLoopGoesStraightToDone(t *testing.T) {
	h := newHarness(t, workflow(
		[]*models.WorkflowNode{
			manual("start"),
			testutil.Node("each", models.NodeTypeLoop, map[string]any{"input": "{{ [] }}"}),
			logNode("body", "never"),
			logNode("done", "done"),
		},
		link("start", "", "each"),
		link("each", models.PortLoopBody, "body"),
		link("each", models.PortLoopDone, "done"),
	))

	outcome := h.run(t)

	assert.Equal(t, []string{"start", "each", "done"}, outcome.Order)
	assert.Empty(t, outcome.Results["each"].Data.(map[string]any)["iterations"])
}

func TestExecuteWorkflow_ChosenTrigger(t *testing.T) {
	h := newHarness(t, workflow(
		[]*models.WorkflowNode{
			manual("a"),
			manual("b"),
			logNode("from-a", "a"),
			logNode("from-b", "b"),
		},
		link("a", "", "from-a"),
		link("b", "", "from-b"),
	))

	outcome := h.run(t, engine.WithTrigger("b"))
	assert.Equal(t, []string{"b", "from-b"}, outcome.Order)
	assert.Equal(t, models.NodeStatusSkipped, outcome.Statuses["from-a"])

	outcome = h.run(t)
	assert.ElementsMatch(t, []string{"a", "b", "from-a", "from-b"}, outcome.Order)

	_, err := h.engine.ExecuteWorkflow(context.Background(), engine.WithTrigger("from-a"))
	require.ErrorIs(t, err, graph.ErrNodeNotFound)
}

func TestExecuteWorkflow_ChatRoundTrip(t *testing.T) {
	h := newHarness(t, workflow(
		[]*models.WorkflowNode{
			testutil.Node("chat", models.NodeTypeChatTrigger, map[string]any{"prompt": "Say something"}),
			testutil.Node("reply", models.NodeTypeChatResponse, map[string]any{"message": "You said {{ $.chat.message }}"}),
		},
		link("chat", "", "reply"),
	))

	ready := testutil.Subscribe(t, h.bus, events.TriggerReadyEvent)
	responses := testutil.Subscribe(t, h.bus, events.AssistantResponseEvent)

	done := h.start(t)
	announced := testutil.Receive(t, ready).(*events.TriggerReady)
	assert.Equal(t, "Say something", announced.Prompt)

	require.NoError(t, h.bus.Publish(context.Background(), announced.RunID, events.ChatMessageReceived{
		BaseEvent: events.NewBaseEvent(events.ChatMessageReceivedEvent, announced.WorkflowID, announced.RunID),
		Text:      "hello",
	}))

	outcome := awaitOutcome(t, done)
	assert.Equal(t, models.RunStatusCompleted, outcome.Status)

	response := testutil.Receive(t, responses).(*events.AssistantResponse)
	assert.Equal(t, "You said hello", response.Text)
}

func TestExecuteWorkflow_FormCancelledSchedulesNothing(t *testing.T) {
	h := newHarness(t, workflow(
		[]*models.WorkflowNode{
			testutil.Node("form", models.NodeTypeFormTrigger, map[string]any{"title": "Sign up"}),
			logNode("after", "never"),
		},
		link("form", "", "after"),
	))

	ready := testutil.Subscribe(t, h.bus, events.TriggerReadyEvent)

	done := h.start(t)
	announced := testutil.Receive(t, ready).(*events.TriggerReady)

	require.NoError(t, h.bus.Publish(context.Background(), announced.RunID, events.TriggerCancelled{
		BaseEvent: events.NewBaseEvent(events.TriggerCancelledEvent, announced.WorkflowID, announced.RunID),
		NodeID:    "form",
	}))

	outcome := awaitOutcome(t, done)

	assert.Equal(t, models.RunStatusCancelled, outcome.Status)
	assert.True(t, outcome.Results["form"].Cancelled)
	assert.False(t, outcome.Results["form"].Success)
	assert.Equal(t, models.NodeStatusCancelled, outcome.Statuses["form"])
	assert.Equal(t, models.NodeStatusSkipped, outcome.Statuses["after"])
	assert.Equal(t, []string{"form"}, outcome.Order)
	assert.Equal(t, []string{"Execution cancelled"}, messages(h.recorder))
}

func TestStopExecution_ReleasesSuspendedTrigger(t *testing.T) {
	h := newHarness(t, workflow(
		[]*models.WorkflowNode{
			testutil.Node("form", models.NodeTypeFormTrigger, nil),
			logNode("after", "never"),
		},
		link("form", "", "after"),
	))

	ready := testutil.Subscribe(t, h.bus, events.TriggerReadyEvent)

	done := h.start(t)
	testutil.Receive(t, ready)

	assert.True(t, h.engine.Running())
	_, err := h.engine.ExecuteWorkflow(context.Background())
	require.ErrorIs(t, err, engine.ErrRunInProgress)

	h.engine.StopExecution(context.Background(), false)
	h.engine.StopExecution(context.Background(), false)

	outcome := awaitOutcome(t, done)

	assert.Equal(t, models.RunStatusCancelled, outcome.Status)
	assert.NotContains(t, outcome.Order, "after")
	assert.Equal(t, []string{"Execution stopped"}, messages(h.recorder))
	assert.False(t, h.engine.Running())
}

func TestStopExecution_Silent(t *testing.T) {
	h := newHarness(t, workflow([]*models.WorkflowNode{testutil.Node("chat", models.NodeTypeChatTrigger, nil)}))

	ready := testutil.Subscribe(t, h.bus, events.TriggerReadyEvent)

	done := h.start(t)
	testutil.Receive(t, ready)

	h.engine.StopExecution(context.Background(), true)

	outcome := awaitOutcome(t, done)
	assert.Equal(t, models.RunStatusCancelled, outcome.Status)
	assert.Empty(t, h.recorder.Notifications())
}

func TestStopExecution_DelayIsInterrupted(t *testing.T) {
	h := newHarness(t, workflow(
		[]*models.WorkflowNode{
			manual("start"),
			testutil.Node("wait", models.NodeTypeDelay, map[string]any{"duration": "1h"}),
			logNode("after", "never"),
		},
		link("start", "", "wait"),
		link("wait", "", "after"),
	))

	started := testutil.Subscribe(t, h.bus, events.NodeCompletedEvent)

	done := h.start(t)
	completed := testutil.Receive(t, started).(*events.NodeCompleted)
	assert.Equal(t, "start", completed.NodeID)

	h.engine.StopExecution(context.Background(), false)

	outcome := awaitOutcome(t, done)
	assert.Equal(t, models.RunStatusCancelled, outcome.Status)
	// the stop lands either while the delay waits or just before it is scheduled
	assert.Contains(t, []models.NodeStatus{models.NodeStatusCancelled, models.NodeStatusSkipped}, outcome.Statuses["wait"])
	assert.Equal(t, models.NodeStatusSkipped, outcome.Statuses["after"])
}

func TestCleanup_IsIdempotentAndReleasesSubscriptions(t *testing.T) {
	h := newHarness(t, workflow([]*models.WorkflowNode{
		testutil.Node("form", models.NodeTypeFormTrigger, nil),
		logNode("note", "unconnected"),
	}))

	// safe before any run
	h.engine.Cleanup(context.Background())

	ready := testutil.Subscribe(t, h.bus, events.TriggerReadyEvent)

	done := h.start(t)
	testutil.Receive(t, ready)

	var calls atomic.Int32
	h.engine.OnExecutionContextUpdate(func(models.ContextSnapshot) { calls.Add(1) })

	h.engine.Cleanup(context.Background())
	h.engine.Cleanup(context.Background())

	outcome := awaitOutcome(t, done)
	assert.Equal(t, models.RunStatusCancelled, outcome.Status)
	assert.Empty(t, h.recorder.Notifications())

	assert.Eventually(t, func() bool { return h.bus.ActiveSubscriptions() == 1 }, 2*time.Second, 10*time.Millisecond,
		"only the test's own subscription remains")

	// the cancelled trigger may broadcast while Cleanup runs; nothing is told afterwards
	before := calls.Load()

	_, err := h.engine.ExecuteSingleNode(context.Background(), "note")
	require.NoError(t, err)
	assert.Equal(t, before, calls.Load())
}

func TestCleanup_DropsObserversBeforeRun(t *testing.T) {
	h := newHarness(t, workflow([]*models.WorkflowNode{
		testutil.Node("start", models.NodeTypeManualTrigger, nil),
		logNode("note", "unconnected"),
	}))

	var calls atomic.Int32
	h.engine.OnExecutionContextUpdate(func(models.ContextSnapshot) { calls.Add(1) })

	h.engine.Cleanup(context.Background())

	h.run(t)

	_, err := h.engine.ExecuteSingleNode(context.Background(), "note")
	require.NoError(t, err)
	assert.Zero(t, calls.Load())
}

func TestExecutionContext_WrittenBeforeObserversAreTold(t *testing.T) {
	h := newHarness(t, testutil.CreateTestWorkflowWithNodes())

	var (
		mu   sync.Mutex
		seen [][]string
	)

	unsubscribe := h.engine.OnExecutionContextUpdate(func(s models.ContextSnapshot) {
		mu.Lock()
		defer mu.Unlock()

		keys := make([]string, 0, len(s.Results))
		for k := range s.Results {
			keys = append(keys, k)
		}

		slices.Sort(keys)
		seen = append(seen, keys)
	})

	h.run(t)

	mu.Lock()
	assert.Equal(t, [][]string{{}, {"trigger-1"}, {"action-1", "trigger-1"}}, seen)
	mu.Unlock()

	unsubscribe()
	h.run(t)

	mu.Lock()
	assert.Len(t, seen, 3)
	mu.Unlock()
}

func TestExecutionContext_NodeCompletedFollowsWrite(t *testing.T) {
	h := newHarness(t, testutil.CreateTestWorkflowWithNodes())

	// a node's completion event is published only once its result is readable
	var checked []string

	h.engine.OnExecutionContextUpdate(func(s models.ContextSnapshot) {
		for id := range s.Results {
			if !slices.Contains(checked, id) {
				checked = append(checked, id)
			}
		}
	})

	completed := testutil.Subscribe(t, h.bus, events.NodeCompletedEvent)
	h.run(t)

	for range 2 {
		ev := testutil.Receive(t, completed).(*events.NodeCompleted)
		assert.Contains(t, checked, ev.NodeID)
		assert.Equal(t, models.NodeStatusSuccess, ev.Status)
	}
}

func TestExecuteSingleNode(t *testing.T) {
	h := newHarness(t, workflow(
		[]*models.WorkflowNode{
			manual("start"),
			logNode("report", "env is {{ $.env }}"),
			testutil.Node("each", models.NodeTypeLoop, map[string]any{"input": `{{ ["a", "b"] }}`}),
			logNode("body", "never"),
		},
		link("start", "", "report"),
		link("start", "", "each"),
		link("each", models.PortLoopBody, "body"),
	))

	res, err := h.engine.ExecuteSingleNode(context.Background(), "report")
	require.NoError(t, err)
	require.True(t, res.Success)
	assert.Equal(t, "env is test", res.Data.(map[string]any)["message"])
	assert.Contains(t, h.engine.ExecutionContext().Results, "report")

	res, err = h.engine.ExecuteSingleNode(context.Background(), "each")
	require.NoError(t, err)

	loop := res.Data.(map[string]any)
	assert.Equal(t, "a", loop["currentLoopItem"])
	assert.NotContains(t, loop, "iterations")
	assert.NotContains(t, h.engine.ExecutionContext().Results, "body")

	_, err = h.engine.ExecuteSingleNode(context.Background(), "missing")
	require.ErrorIs(t, err, graph.ErrNodeNotFound)
}

func TestExecuteSingleNode_UsesLastRunContext(t *testing.T) {
	h := newHarness(t, testutil.CreateTestWorkflowWithNodes())

	outcome := h.run(t)
	triggeredAt := outcome.Results["trigger-1"].Data.(map[string]any)["triggeredAt"]

	res, err := h.engine.ExecuteSingleNode(context.Background(), "action-1")
	require.NoError(t, err)
	assert.Equal(t, "started at "+triggeredAt.(string), res.Data.(map[string]any)["message"])
}

type panicking struct{}

func (panicking) Execute(context.Context, *models.WorkflowNode, *nodes.Env) models.NodeResult {
	panic("executor bug")
}

func TestExecuteWorkflow_ExecutorPanicFailsTheNode(t *testing.T) {
	h := newHarness(t, testutil.CreateTestWorkflowWithNodes(),
		engine.WithExecutor(models.CategoryTypeAction, panicking{}))

	outcome := h.run(t)

	assert.Equal(t, models.RunStatusFailed, outcome.Status)
	assert.Contains(t, outcome.Results["action-1"].Error, "executor bug")
}

func TestExecuteWorkflow_ExecutorPanicMarksSpan(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))

	h := newHarness(t, testutil.CreateTestWorkflowWithNodes(),
		engine.WithExecutor(models.CategoryTypeAction, panicking{}),
		engine.WithTracer(provider.Tracer("test")))
	h.run(t)

	var panicked bool

	for _, s := range spans.Ended() {
		if s.Name() != "node.execute" || s.Status().Code != codes.Error {
			continue
		}

		for _, ev := range s.Events() {
			if ev.Name == "error_occurred" {
				panicked = true
			}
		}
	}

	assert.True(t, panicked, "the panicking node's span records the error")
}

func TestExecuteWorkflow_EngineDefectIsReportedOnce(t *testing.T) {
	h := newHarness(t, testutil.CreateTestWorkflowWithNodes())

	h.engine.OnExecutionContextUpdate(func(s models.ContextSnapshot) {
		if len(s.Results) > 0 {
			panic("observer bug")
		}
	})

	finished := testutil.Subscribe(t, h.bus, events.RunFinishedEvent)
	outcome := h.run(t)

	assert.Equal(t, models.RunStatusFailed, outcome.Status)
	assert.Contains(t, outcome.Error, "observer bug")
	assert.Equal(t, 1, h.recorder.Count(notify.LevelError))
	assert.False(t, h.engine.Running())

	ev := testutil.Receive(t, finished).(*events.RunFinished)
	assert.Equal(t, models.RunStatusFailed, ev.Status)
}

func TestExecuteWorkflow_Spans(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))

	h := newHarness(t, testutil.CreateTestWorkflowWithNodes(), engine.WithTracer(provider.Tracer("test")))
	h.run(t)

	var names []string
	for _, s := range spans.Ended() {
		names = append(names, s.Name())
	}

	assert.ElementsMatch(t, []string{"node.execute", "node.execute", "workflow.run"}, names)
}

func countOf(order []string, id string) int {
	n := 0

	for _, o := range order {
		if o == id {
			n++
		}
	}

	return n
}

func messages(r *notify.Recorder) []string {
	var out []string
	for _, n := range r.Notifications() {
		out = append(out, n.Message)
	}

	return out
}

// normalize maps the numeric types an expression may produce onto float64.
func normalize(v any) any {
	list, ok := v.([]any)
	if !ok {
		return v
	}

	out := make([]any, len(list))

	for i, item := range list {
		switch n := item.(type) {
		case int:
			out[i] = float64(n)
		case int64:
			out[i] = float64(n)
		default:
			out[i] = item
		}
	}

	return out
}

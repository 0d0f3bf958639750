package trigger_test

import (
	"context"
	"testing"
	"time"

	"github.com/dukex/canvasflow/pkg/events"
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/nodes"
	"github.com/dukex/canvasflow/pkg/nodes/trigger"
	"github.com/dukex/canvasflow/pkg/notify"
	"github.com/dukex/canvasflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_EveryTriggerType(t *testing.T) {
	general := map[models.NodeType]map[string]any{
		models.NodeTypeScheduleTrigger: {"cron": "@hourly"},
	}

	for _, nt := range models.NodeTypes() {
		if c, _ := nt.Category(); c != models.CategoryTypeTrigger {
			continue
		}

		t.Run(string(nt), func(t *testing.T) {
			_, err := trigger.Parse(testutil.Node("t", nt, general[nt]))
			require.NoError(t, err)
		})
	}

	_, err := trigger.Parse(testutil.Node("l", models.NodeTypeLog, nil))
	require.ErrorIs(t, err, nodes.ErrUnsupportedNode)
}

func TestManualTrigger(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Context.SetVariable("user", "ada")

	node := testutil.Node("start", models.NodeTypeManualTrigger, map[string]any{
		"input": map[string]any{"greeting": "hi {{ $.user }}"},
	})

	res := trigger.NewExecutor().Execute(t.Context(), node, env.Env)
	require.True(t, res.Success)

	payload := res.Data.(map[string]any)
	assert.Equal(t, "manual", payload["mode"])
	assert.Equal(t, map[string]any{"greeting": "hi ada"}, payload["input"])
	assert.NotEmpty(t, payload["triggeredAt"])
}

func TestScheduleTrigger_InvalidCronIsConfigError(t *testing.T) {
	env := testutil.NewEnv(t)
	node := testutil.Node("cron", models.NodeTypeScheduleTrigger, map[string]any{"cron": "every tuesday"})

	res := trigger.NewExecutor().Execute(t.Context(), node, env.Env)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "invalid configuration")
	assert.Equal(t, 1, env.Recorder.Count(notify.LevelError))
}

func TestScheduleTrigger_StopReleasesWait(t *testing.T) {
	env := testutil.NewEnv(t)
	node := testutil.Node("cron", models.NodeTypeScheduleTrigger, map[string]any{"cron": "@yearly"})

	done := make(chan models.NodeResult, 1)
	go func() { done <- trigger.NewExecutor().Execute(t.Context(), node, env.Env) }()

	env.StopRun()

	res := testutil.AwaitResult(t, done)
	assert.True(t, res.Cancelled)
	assert.Equal(t, models.NodeStatusCancelled, res.Status())
}

func TestFormTrigger_Submission(t *testing.T) {
	env := testutil.NewEnv(t)
	ready := testutil.Subscribe(t, env.Bus, events.TriggerReadyEvent)

	node := testutil.Node("signup", models.NodeTypeFormTrigger, map[string]any{
		"title": "Sign up",
		"fields": []any{
			map[string]any{"name": "email", "required": true},
			map[string]any{"name": "age", "type": "number"},
		},
		"chatResponse": "Thanks {{ $.signup.email }}",
	})

	responses := testutil.Subscribe(t, env.Bus, events.AssistantResponseEvent)

	done := make(chan models.NodeResult, 1)
	go func() { done <- trigger.NewExecutor().Execute(t.Context(), node, env.Env) }()

	announced := testutil.Receive(t, ready).(*events.TriggerReady)
	assert.Equal(t, "signup", announced.NodeID)
	assert.Equal(t, "Sign up", announced.Title)
	require.Len(t, announced.Fields, 2)
	assert.True(t, announced.Fields[0].Required)

	submit := func(nodeID, runID string, values map[string]any) {
		require.NoError(t, env.Bus.Publish(context.Background(), runID, events.FormSubmitted{
			BaseEvent: events.NewBaseEvent(events.FormSubmittedEvent, "wf-1", runID),
			NodeID:    nodeID,
			Values:    values,
		}))
	}

	// another run, another node and an incomplete form do not complete the wait
	submit("signup", "run-2", map[string]any{"email": "x@example.com"})
	submit("other", "run-1", map[string]any{"email": "x@example.com"})
	submit("signup", "run-1", map[string]any{"age": 3})
	submit("signup", "run-1", map[string]any{"email": "ada@example.com", "age": 36})

	res := testutil.AwaitResult(t, done)
	require.True(t, res.Success)

	payload := res.Data.(map[string]any)
	assert.Equal(t, "ada@example.com", payload["email"])
	assert.Contains(t, payload, "values")
	assert.Contains(t, payload, "submittedAt")
	assert.Equal(t, 1, env.Recorder.Count(notify.LevelWarning))

	response := testutil.Receive(t, responses).(*events.AssistantResponse)
	assert.Equal(t, "Thanks ada@example.com", response.Text)
}

func TestFormTrigger_CancelledBeforeSubmission(t *testing.T) {
	env := testutil.NewEnv(t)
	ready := testutil.Subscribe(t, env.Bus, events.TriggerReadyEvent)

	node := testutil.Node("form", models.NodeTypeFormTrigger, nil)

	done := make(chan models.NodeResult, 1)
	go func() { done <- trigger.NewExecutor().Execute(t.Context(), node, env.Env) }()

	testutil.Receive(t, ready)

	require.NoError(t, env.Bus.Publish(context.Background(), "run-1", events.TriggerCancelled{
		BaseEvent: events.NewBaseEvent(events.TriggerCancelledEvent, "wf-1", "run-1"),
		Reason:    "closed by user",
	}))

	res := testutil.AwaitResult(t, done)
	assert.False(t, res.Success)
	assert.True(t, res.Cancelled)
	assert.Equal(t, "closed by user", res.Error)
	assert.Eventually(t, func() bool { return env.Bus.ActiveSubscriptions() == 1 }, 2*time.Second, 10*time.Millisecond,
		"the trigger's subscription is released")
}

func TestChatTrigger(t *testing.T) {
	env := testutil.NewEnv(t)
	ready := testutil.Subscribe(t, env.Bus, events.TriggerReadyEvent)

	node := testutil.Node("chat", models.NodeTypeChatTrigger, map[string]any{"prompt": "Ask me"})

	done := make(chan models.NodeResult, 1)
	go func() { done <- trigger.NewExecutor().Execute(t.Context(), node, env.Env) }()

	announced := testutil.Receive(t, ready).(*events.TriggerReady)
	assert.Equal(t, "Ask me", announced.Prompt)

	require.NoError(t, env.Bus.Publish(context.Background(), "run-1", events.ChatMessageReceived{
		BaseEvent: events.NewBaseEvent(events.ChatMessageReceivedEvent, "wf-1", "run-1"),
		SessionID: "s-1",
		Text:      "hello",
	}))

	res := testutil.AwaitResult(t, done)
	require.True(t, res.Success)
	assert.Equal(t, "hello", res.Data.(map[string]any)["message"])
	assert.Equal(t, "s-1", res.Data.(map[string]any)["sessionId"])
}

func TestChatTrigger_WithoutEventChannel(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Env.Bus = nil

	res := trigger.NewExecutor().Execute(t.Context(), testutil.Node("chat", models.NodeTypeChatTrigger, nil), env.Env)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "event channel")
}

func TestComponents(t *testing.T) {
	for _, c := range trigger.Components() {
		category, ok := c.Type.Category()
		require.True(t, ok)
		assert.Equal(t, models.CategoryTypeTrigger, category)
		assert.NotNil(t, c.Schema)
	}
}

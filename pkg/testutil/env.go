package testutil

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/dukex/canvasflow/pkg/channels/gochannel"
	"github.com/dukex/canvasflow/pkg/eventbus"
	"github.com/dukex/canvasflow/pkg/events"
	"github.com/dukex/canvasflow/pkg/expression"
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/nodes"
	"github.com/dukex/canvasflow/pkg/notify"
	"github.com/stretchr/testify/require"
)

// NewBus returns an in-memory event bus closed with the test.
func NewBus(t *testing.T) *eventbus.WatermillEventBus {
	t.Helper()

	pubSub := gochannel.CreateTestChannel(slog.Default())
	bus := eventbus.NewWatermillEventBus(pubSub, pubSub, slog.Default())

	t.Cleanup(func() { _ = bus.Close() })

	return bus
}

// TestEnv is a node environment wired to in-memory collaborators.
type TestEnv struct {
	*nodes.Env

	Recorder *notify.Recorder
	Bus      *eventbus.WatermillEventBus

	stop chan struct{}
}

// NewEnv builds an environment for run "run-1" of workflow "wf-1".
func NewEnv(t *testing.T) *TestEnv {
	t.Helper()

	recorder := &notify.Recorder{}
	bus := NewBus(t)
	stop := make(chan struct{})

	return &TestEnv{
		Env: &nodes.Env{
			Context:    models.NewExecutionContext(),
			Resolver:   expression.New(),
			Bus:        bus,
			Notifier:   recorder,
			Logger:     slog.Default(),
			WorkflowID: "wf-1",
			RunID:      "run-1",
			Stop:       stop,
		},
		Recorder: recorder,
		Bus:      bus,
		stop:     stop,
	}
}

// StopRun closes the environment's stop channel.
func (e *TestEnv) StopRun() {
	close(e.stop)
}

// Record stores payload as the result of node id labelled name.
func (e *TestEnv) Record(id, name string, payload any) {
	e.Context.Label(id, name)
	e.Context.RecordResult(id, payload)
}

// Receive waits for the next event on ch.
func Receive(t *testing.T, ch <-chan eventbus.Event) eventbus.Event {
	t.Helper()

	select {
	case ev, ok := <-ch:
		require.True(t, ok, "subscription closed")

		return ev
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")

		return nil
	}
}

// Subscribe opens a subscription bound to the test's lifetime.
func Subscribe(t *testing.T, bus eventbus.EventSubscriber, types ...events.EventType) <-chan eventbus.Event {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	ch, err := bus.Subscribe(ctx, types...)
	require.NoError(t, err)

	return ch
}

// AwaitResult waits for the result sent on ch.
func AwaitResult(t *testing.T, ch <-chan models.NodeResult) models.NodeResult {
	t.Helper()

	select {
	case res := <-ch:
		return res
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for node result")

		return models.NodeResult{}
	}
}

package trigger

import (
	"context"
	"fmt"
	"maps"
	"time"

	"github.com/dukex/canvasflow/pkg/eventbus"
	"github.com/dukex/canvasflow/pkg/events"
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/nodes"
	"github.com/dukex/canvasflow/pkg/notify"
)

// accept inspects an awaited event. It returns the node result once the event
// completes the wait.
type accept func(event eventbus.Event) (models.NodeResult, bool)

// await subscribes to the input event and to cancellations, announces the
// suspended trigger once and blocks until input arrives or the run is cancelled.
// Only the first matching input completes the wait.
func await(
	ctx context.Context,
	node *models.WorkflowNode,
	env *nodes.Env,
	ready events.TriggerReady,
	input events.EventType,
	accept accept,
) models.NodeResult {
	if env.Bus == nil {
		return env.ConfigError(ctx, node, fmt.Errorf("%s needs an event channel: %w", node.Type, nodes.ErrNoEventChannel))
	}

	subCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	received, err := env.Bus.Subscribe(subCtx, input, events.TriggerCancelledEvent)
	if err != nil {
		return env.ExecutionError(ctx, node, fmt.Errorf("subscribing to %s: %w", input, err), nil)
	}

	if err := env.Bus.Publish(ctx, env.RunID, ready); err != nil {
		return env.ExecutionError(ctx, node, fmt.Errorf("announcing %s: %w", node.Type, err), nil)
	}

	env.Log(node).InfoContext(ctx, "Trigger waiting for input", "input", input)

	for {
		select {
		case <-ctx.Done():
			return models.Cancelled(ctx.Err().Error())
		case <-env.Stop:
			return models.Cancelled("run stopped while waiting for input")
		case event, ok := <-received:
			if !ok {
				return models.Cancelled("event channel closed while waiting for input")
			}

			if cancelled, ok := event.(*events.TriggerCancelled); ok {
				if addressed(env, node, cancelled.RunID, cancelled.NodeID) {
					reason := cancelled.Reason
					if reason == "" {
						reason = "trigger cancelled"
					}

					return models.Cancelled(reason)
				}

				continue
			}

			if result, done := accept(event); done {
				return result
			}
		}
	}
}

// addressed reports whether an event for runID/nodeID targets this node. Empty
// identifiers match any run or node.
func addressed(env *nodes.Env, node *models.WorkflowNode, runID, nodeID string) bool {
	return (runID == "" || runID == env.RunID) && (nodeID == "" || nodeID == node.ID)
}

func (e *Executor) form(ctx context.Context, node *models.WorkflowNode, env *nodes.Env, s FormSpec) models.NodeResult {
	ready := events.TriggerReady{
		BaseEvent:   events.NewBaseEvent(events.TriggerReadyEvent, env.WorkflowID, env.RunID),
		NodeID:      node.ID,
		NodeName:    node.DisplayName(),
		NodeType:    node.Type,
		Title:       s.Title,
		Description: s.Description,
		Fields:      s.Fields,
	}

	return await(ctx, node, env, ready, events.FormSubmittedEvent, func(event eventbus.Event) (models.NodeResult, bool) {
		submitted, ok := event.(*events.FormSubmitted)
		if !ok || !addressed(env, node, submitted.RunID, submitted.NodeID) {
			return models.NodeResult{}, false
		}

		if missing := missingFields(s.Fields, submitted.Values); len(missing) > 0 {
			env.Notify(ctx, node, notify.LevelWarning, fmt.Sprintf("Missing required fields: %v", missing))

			return models.NodeResult{}, false
		}

		payload := make(map[string]any, len(submitted.Values)+2)
		maps.Copy(payload, submitted.Values)
		payload["values"] = submitted.Values
		payload["submittedAt"] = env.Now().Format(time.RFC3339)

		return models.Succeeded(payload), true
	})
}

func missingFields(fields []events.FormField, values map[string]any) []string {
	var missing []string

	for _, f := range fields {
		if !f.Required {
			continue
		}

		if v, ok := values[f.Name]; !ok || v == nil || v == "" {
			missing = append(missing, f.Name)
		}
	}

	return missing
}

func (e *Executor) chat(ctx context.Context, node *models.WorkflowNode, env *nodes.Env, s ChatSpec) models.NodeResult {
	ready := events.TriggerReady{
		BaseEvent:   events.NewBaseEvent(events.TriggerReadyEvent, env.WorkflowID, env.RunID),
		NodeID:      node.ID,
		NodeName:    node.DisplayName(),
		NodeType:    node.Type,
		Prompt:      s.Prompt,
		Placeholder: s.Placeholder,
	}

	return await(ctx, node, env, ready, events.ChatMessageReceivedEvent, func(event eventbus.Event) (models.NodeResult, bool) {
		msg, ok := event.(*events.ChatMessageReceived)
		if !ok || !addressed(env, node, msg.RunID, msg.NodeID) || msg.Text == "" {
			return models.NodeResult{}, false
		}

		return models.Succeeded(map[string]any{
			"message":    msg.Text,
			"sessionId":  msg.SessionID,
			"receivedAt": env.Now().Format(time.RFC3339),
		}), true
	})
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/canvasflow/pkg/eventbus"
	"github.com/dukex/canvasflow/pkg/events"
	"github.com/dukex/canvasflow/pkg/models"
	"gopkg.in/yaml.v3"
)

var ErrInvalidAssignment = errors.New("expected key=value")

// parseAssignments turns key=value pairs into a map. Values are decoded as YAML
// scalars, so numbers and booleans keep their type.
func parseAssignments(pairs []string) (map[string]any, error) {
	out := make(map[string]any, len(pairs))

	for _, pair := range pairs {
		key, raw, found := strings.Cut(pair, "=")
		if !found || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("%w: %q", ErrInvalidAssignment, pair)
		}

		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil || value == nil {
			value = raw
		}

		out[strings.TrimSpace(key)] = value
	}

	return out, nil
}

// responder answers waiting triggers of one run from command line input. Form
// triggers receive the form values, chat triggers the chat message. Triggers with
// no input available are cancelled.
type responder struct {
	bus        eventbus.EventBus
	workflowID string
	runID      string
	form       map[string]any
	message    string
	logger     *slog.Logger
}

func (r *responder) listen(ctx context.Context) error {
	ready, err := r.bus.Subscribe(ctx, events.TriggerReadyEvent)
	if err != nil {
		return fmt.Errorf("failed to subscribe to trigger events: %w", err)
	}

	go func() {
		for event := range ready {
			trigger, ok := event.(*events.TriggerReady)
			if !ok || trigger.RunID != r.runID {
				continue
			}

			if err := r.bus.Publish(ctx, r.runID, r.answer(trigger)); err != nil {
				r.logger.ErrorContext(ctx, "Failed to answer trigger", "node_id", trigger.NodeID, "error", err)
			}
		}
	}()

	return nil
}

func (r *responder) answer(trigger *events.TriggerReady) eventbus.Event {
	base := func(t events.EventType) events.BaseEvent {
		return events.NewBaseEvent(t, r.workflowID, r.runID)
	}

	switch {
	case trigger.NodeType == models.NodeTypeFormTrigger && r.form != nil:
		r.logger.Info("Submitting form", "node_id", trigger.NodeID, "fields", len(r.form))

		return events.FormSubmitted{BaseEvent: base(events.FormSubmittedEvent), NodeID: trigger.NodeID, Values: r.form}
	case trigger.NodeType == models.NodeTypeChatTrigger && r.message != "":
		r.logger.Info("Sending chat message", "node_id", trigger.NodeID)

		return events.ChatMessageReceived{BaseEvent: base(events.ChatMessageReceivedEvent), NodeID: trigger.NodeID, Text: r.message}
	default:
		r.logger.Warn("No input for trigger, cancelling it", "node_id", trigger.NodeID, "node_type", trigger.NodeType)

		return events.TriggerCancelled{
			BaseEvent: base(events.TriggerCancelledEvent),
			NodeID:    trigger.NodeID,
			Reason:    "no input given on the command line",
		}
	}
}

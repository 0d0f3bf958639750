// Package events defines the typed events exchanged between the engine and the
// collaborators that drive suspended triggers or display run progress.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/dukex/canvasflow/pkg/models"
	"github.com/google/uuid"
)

type EventType string

// Topic is the prefix of every event topic; each event type travels on its own topic.
const Topic = "canvasflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	// Trigger suspension events.
	TriggerReadyEvent        EventType = "trigger.ready"
	FormSubmittedEvent       EventType = "form.submitted"
	ChatMessageReceivedEvent EventType = "chat.message.received"
	TriggerCancelledEvent    EventType = "trigger.cancelled"

	// Live display events.
	AssistantResponseEvent EventType = "assistant.response"
	NotificationEvent      EventType = "notification"

	// Run lifecycle events.
	RunStartedEvent    EventType = "run.started"
	NodeCompletedEvent EventType = "node.completed"
	RunFinishedEvent   EventType = "run.finished"
)

// TopicFor returns the topic carrying events of type t.
func TopicFor(t EventType) string {
	return Topic + "." + string(t)
}

type BaseEvent struct {
	ID         string         `json:"id"`
	Type       EventType      `json:"type"`
	Timestamp  time.Time      `json:"timestamp"`
	WorkflowID string         `json:"workflow_id,omitempty"`
	RunID      string         `json:"run_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Run returns the run the event belongs to.
func (b BaseEvent) Run() string {
	return b.RunID
}

func NewBaseEvent(eventType EventType, workflowID, runID string) BaseEvent {
	return BaseEvent{
		ID:         uuid.New().String(),
		Type:       eventType,
		Timestamp:  time.Now().UTC(),
		WorkflowID: workflowID,
		RunID:      runID,
		Metadata:   make(map[string]any),
	}
}

// FormField describes one input of a form trigger.
type FormField struct {
	Name     string `json:"name"               mapstructure:"name"     validate:"required"`
	Label    string `json:"label,omitempty"    mapstructure:"label"`
	Type     string `json:"type,omitempty"     mapstructure:"type"`
	Required bool   `json:"required,omitempty" mapstructure:"required"`
}

// TriggerReady announces that a trigger node is suspended and waiting for input.
type TriggerReady struct {
	BaseEvent

	NodeID      string          `json:"node_id"`
	NodeName    string          `json:"node_name"`
	NodeType    models.NodeType `json:"node_type,omitempty"`
	Title       string          `json:"title,omitempty"`
	Description string          `json:"description,omitempty"`
	Fields      []FormField     `json:"fields,omitempty"`
	Prompt      string          `json:"prompt,omitempty"`
	Placeholder string          `json:"placeholder,omitempty"`
}

func (e TriggerReady) GetType() EventType {
	return TriggerReadyEvent
}

// FormSubmitted delivers the values of a submitted form.
type FormSubmitted struct {
	BaseEvent

	NodeID string         `json:"node_id"`
	Values map[string]any `json:"values"`
}

func (e FormSubmitted) GetType() EventType {
	return FormSubmittedEvent
}

// ChatMessageReceived delivers a chat message typed by the user.
type ChatMessageReceived struct {
	BaseEvent

	NodeID    string `json:"node_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text"`
}

func (e ChatMessageReceived) GetType() EventType {
	return ChatMessageReceivedEvent
}

// TriggerCancelled releases a suspended trigger. An empty NodeID releases every
// trigger of the run.
type TriggerCancelled struct {
	BaseEvent

	NodeID string `json:"node_id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func (e TriggerCancelled) GetType() EventType {
	return TriggerCancelledEvent
}

// AssistantResponse carries assistant-style text for a chat transcript.
type AssistantResponse struct {
	BaseEvent

	NodeID string `json:"node_id"`
	Text   string `json:"text"`
}

func (e AssistantResponse) GetType() EventType {
	return AssistantResponseEvent
}

// Notification is a user-facing toast.
type Notification struct {
	BaseEvent

	NodeID  string `json:"node_id,omitempty"`
	Level   string `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

func (e Notification) GetType() EventType {
	return NotificationEvent
}

type RunStarted struct {
	BaseEvent

	WorkflowName string `json:"workflow_name"`
}

func (e RunStarted) GetType() EventType {
	return RunStartedEvent
}

// NodeCompleted is published after a node result has been recorded.
type NodeCompleted struct {
	BaseEvent

	NodeID     string            `json:"node_id"`
	NodeType   models.NodeType   `json:"node_type,omitempty"`
	Status     models.NodeStatus `json:"status"`
	Data       any               `json:"data,omitempty"`
	Error      string            `json:"error,omitempty"`
	DurationMs int64             `json:"duration_ms"`
}

func (e NodeCompleted) GetType() EventType {
	return NodeCompletedEvent
}

type RunFinished struct {
	BaseEvent

	Status     models.RunStatus `json:"status"`
	Error      string           `json:"error,omitempty"`
	DurationMs int64            `json:"duration_ms"`
}

func (e RunFinished) GetType() EventType {
	return RunFinishedEvent
}

// Decode rebuilds the event of type t from its JSON payload.
func Decode(t EventType, payload []byte) (any, error) {
	var event any

	switch t {
	case TriggerReadyEvent:
		event = &TriggerReady{}
	case FormSubmittedEvent:
		event = &FormSubmitted{}
	case ChatMessageReceivedEvent:
		event = &ChatMessageReceived{}
	case TriggerCancelledEvent:
		event = &TriggerCancelled{}
	case AssistantResponseEvent:
		event = &AssistantResponse{}
	case NotificationEvent:
		event = &Notification{}
	case RunStartedEvent:
		event = &RunStarted{}
	case NodeCompletedEvent:
		event = &NodeCompleted{}
	case RunFinishedEvent:
		event = &RunFinished{}
	default:
		return nil, fmt.Errorf("unknown event type %q", t)
	}

	if err := json.Unmarshal(payload, event); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", t, err)
	}

	return event, nil
}

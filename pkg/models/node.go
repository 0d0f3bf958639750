// Package models defines the core node-based workflow models for graph execution.
package models

import "fmt"

// CategoryType represents the category of node.
type CategoryType string

const (
	CategoryTypeTrigger   CategoryType = "trigger"   // Nodes that start a run (manual, form, chat, schedule)
	CategoryTypeCondition CategoryType = "condition" // Branching and flow-control nodes (if, switch, filter, loop, stop)
	CategoryTypeAction    CategoryType = "action"    // Nodes with side effects (http, log, notification, ...)
)

// NodeType is the closed set of concrete node kinds understood by the engine.
type NodeType string

// Trigger node types.
const (
	NodeTypeManualTrigger   NodeType = "manual-trigger"
	NodeTypeFormTrigger     NodeType = "form-trigger"
	NodeTypeChatTrigger     NodeType = "chat-trigger"
	NodeTypeScheduleTrigger NodeType = "schedule-trigger"
)

// Condition node types.
const (
	NodeTypeIfCondition NodeType = "if-condition"
	NodeTypeSwitchCase  NodeType = "switch-case"
	NodeTypeFilter      NodeType = "filter"
	NodeTypeLoop        NodeType = "loop"
	NodeTypeStop        NodeType = "stop"
)

// Action node types.
const (
	NodeTypeHTTPRequest  NodeType = "http-request"
	NodeTypeLog          NodeType = "log"
	NodeTypeSetData      NodeType = "set-data"
	NodeTypeNotification NodeType = "notification"
	NodeTypeDelay        NodeType = "delay"
	NodeTypeChatResponse NodeType = "chat-response"
)

var nodeTypeCategories = map[NodeType]CategoryType{
	NodeTypeManualTrigger:   CategoryTypeTrigger,
	NodeTypeFormTrigger:     CategoryTypeTrigger,
	NodeTypeChatTrigger:     CategoryTypeTrigger,
	NodeTypeScheduleTrigger: CategoryTypeTrigger,
	NodeTypeIfCondition:     CategoryTypeCondition,
	NodeTypeSwitchCase:      CategoryTypeCondition,
	NodeTypeFilter:          CategoryTypeCondition,
	NodeTypeLoop:            CategoryTypeCondition,
	NodeTypeStop:            CategoryTypeCondition,
	NodeTypeHTTPRequest:     CategoryTypeAction,
	NodeTypeLog:             CategoryTypeAction,
	NodeTypeSetData:         CategoryTypeAction,
	NodeTypeNotification:    CategoryTypeAction,
	NodeTypeDelay:           CategoryTypeAction,
	NodeTypeChatResponse:    CategoryTypeAction,
}

// NodeTypes returns every known node type.
func NodeTypes() []NodeType {
	types := make([]NodeType, 0, len(nodeTypeCategories))
	for t := range nodeTypeCategories {
		types = append(types, t)
	}

	return types
}

// Category returns the category a node type belongs to.
func (t NodeType) Category() (CategoryType, bool) {
	c, ok := nodeTypeCategories[t]

	return c, ok
}

// UnmarshalText rejects node types outside the closed set.
func (t *NodeType) UnmarshalText(text []byte) error {
	nt := NodeType(text)
	if _, ok := nodeTypeCategories[nt]; !ok {
		return fmt.Errorf("unknown node type %q", string(text))
	}

	*t = nt

	return nil
}

// NodeSettings is the free-form configuration bag of a node, partitioned the way the
// property panels partition it.
type NodeSettings struct {
	General        map[string]any `json:"general,omitempty"        yaml:"general,omitempty"`
	Authentication map[string]any `json:"authentication,omitempty" yaml:"authentication,omitempty"`
	Advanced       map[string]any `json:"advanced,omitempty"       yaml:"advanced,omitempty"`
}

// WorkflowNode represents a node instance in a workflow graph.
type WorkflowNode struct {
	ID       string       `json:"id"       yaml:"id"       validate:"required"`
	Type     NodeType     `json:"nodeType" yaml:"nodeType" validate:"required"`
	Category CategoryType `json:"category,omitempty" yaml:"category,omitempty" validate:"omitempty,oneof=trigger condition action"`
	Name     string       `json:"displayName" yaml:"displayName"`
	Settings NodeSettings `json:"settings" yaml:"settings"`
}

// DisplayName returns the node name, falling back to the ID.
func (n *WorkflowNode) DisplayName() string {
	if n.Name != "" {
		return n.Name
	}

	return n.ID
}

// Helper methods for category checking.
func (n *WorkflowNode) IsTriggerNode() bool {
	return n.Category == CategoryTypeTrigger
}

func (n *WorkflowNode) IsConditionNode() bool {
	return n.Category == CategoryTypeCondition
}

func (n *WorkflowNode) IsActionNode() bool {
	return n.Category == CategoryTypeAction
}

// ChatResponse returns the operator-facing chat response template, if any.
func (n *WorkflowNode) ChatResponse() string {
	if v, ok := n.Settings.General["chatResponse"].(string); ok {
		return v
	}

	return ""
}

// NodeStatus defines the possible states of a node execution.
type NodeStatus string

const (
	NodeStatusPending   NodeStatus = "pending"
	NodeStatusRunning   NodeStatus = "running"
	NodeStatusSuccess   NodeStatus = "success"
	NodeStatusError     NodeStatus = "error"
	NodeStatusCancelled NodeStatus = "cancelled"
	NodeStatusSkipped   NodeStatus = "skipped"
)

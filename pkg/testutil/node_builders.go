// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/google/uuid"
)

// CreateTestNode creates a test WorkflowNode with default values that can be overridden.
func CreateTestNode(overrides ...func(*models.WorkflowNode)) *models.WorkflowNode {
	node := &models.WorkflowNode{
		ID:       uuid.New().String(),
		Type:     models.NodeTypeLog,
		Category: models.CategoryTypeAction,
		Name:     "Test Node",
		Settings: models.NodeSettings{
			General: map[string]any{"message": "test", "level": "info"},
		},
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithType sets the node type and the category that goes with it.
func WithType(nodeType models.NodeType) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Type = nodeType
		n.Category, _ = nodeType.Category()
		n.Settings = models.NodeSettings{}
	}
}

// WithGeneral sets the general settings.
func WithGeneral(general map[string]any) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Settings.General = general
	}
}

// WithAuthentication sets the authentication settings.
func WithAuthentication(auth map[string]any) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Settings.Authentication = auth
	}
}

// WithAdvanced sets the advanced settings.
func WithAdvanced(advanced map[string]any) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Settings.Advanced = advanced
	}
}

// WithName sets the node name.
func WithName(name string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Name = name
	}
}

// WithID sets the node ID.
func WithID(id string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.ID = id
	}
}

// Node is shorthand for a node of type t named after its id.
func Node(id string, t models.NodeType, general map[string]any) *models.WorkflowNode {
	return CreateTestNode(WithType(t), WithID(id), WithName(id), WithGeneral(general))
}

// CreateTestWorkflow creates an empty test workflow.
func CreateTestWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:          uuid.New().String(),
		Name:        "Test Workflow",
		Description: "A workflow for testing",
		Variables:   map[string]any{"env": "test"},
		Nodes:       []*models.WorkflowNode{},
		Connections: []*models.Connection{},
	}
}

// CreateTestWorkflowWithNodes creates a manual trigger wired to a log action.
func CreateTestWorkflowWithNodes() *models.Workflow {
	workflow := CreateTestWorkflow()

	workflow.Nodes = []*models.WorkflowNode{
		Node("trigger-1", models.NodeTypeManualTrigger, nil),
		Node("action-1", models.NodeTypeLog, map[string]any{"message": "started at {{ $.trigger-1.triggeredAt }}"}),
	}
	workflow.Connections = []*models.Connection{CreateTestConnection("trigger-1", "", "action-1")}

	return workflow
}

// CreateTestConnection creates a connection leaving sourceNodeID through port.
func CreateTestConnection(sourceNodeID, port, targetNodeID string) *models.Connection {
	return &models.Connection{
		ID:         uuid.New().String(),
		SourceID:   sourceNodeID,
		SourcePort: port,
		TargetID:   targetNodeID,
		TargetPort: models.PortInputMain,
	}
}

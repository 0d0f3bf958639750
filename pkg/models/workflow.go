// Package models defines the core domain models for node-based workflow automation
package models

import "time"

// Connection is a directed edge between an output port of one node and an input port
// of another.
type Connection struct {
	ID         string `json:"id"                   yaml:"id"                   validate:"required"`
	SourceID   string `json:"sourceId"             yaml:"sourceId"             validate:"required"`
	SourcePort string `json:"sourcePortId,omitempty" yaml:"sourcePortId,omitempty"`
	TargetID   string `json:"targetId"             yaml:"targetId"             validate:"required"`
	TargetPort string `json:"targetPortId,omitempty" yaml:"targetPortId,omitempty"`
}

// Workflow represents the node/connector graph supplied by the diagram.
type Workflow struct {
	ID          string          `json:"id"                    yaml:"id"          validate:"required"`
	Name        string          `json:"name"                  yaml:"name"`
	Description string          `json:"description,omitempty" yaml:"description,omitempty"`
	Nodes       []*WorkflowNode `json:"nodes"                 yaml:"nodes"       validate:"dive"`
	Connections []*Connection   `json:"connections"           yaml:"connections" validate:"dive"`
	Variables   map[string]any  `json:"variables,omitempty"   yaml:"variables,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"             yaml:"createdAt,omitempty"`
	UpdatedAt   time.Time       `json:"updatedAt"             yaml:"updatedAt,omitempty"`
}

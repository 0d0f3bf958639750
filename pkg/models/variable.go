package models

// Variable describes one addressable value exposed by an upstream node, used by the
// template picker to offer `$.Node#id.path` references.
type Variable struct {
	Key     string `json:"key"`
	Path    string `json:"path"`
	Type    string `json:"type,omitempty"`
	Preview string `json:"preview,omitempty"`
}

// VariableGroup collects the variables of a single node.
type VariableGroup struct {
	NodeID    string     `json:"nodeId"`
	NodeName  string     `json:"nodeName"`
	Variables []Variable `json:"variables"`
}

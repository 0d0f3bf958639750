package models

// SchemaProvider defines an interface for components that can provide JSON Schema
type SchemaProvider interface {
	GetSchema() *JSONSchema
}

// JSONSchema represents a JSON Schema for node settings
type JSONSchema struct {
	Type                 string               `json:"type"`
	Properties           map[string]*Property `json:"properties,omitempty"`
	Required             []string             `json:"required,omitempty"`
	Title                string               `json:"title,omitempty"`
	Description          string               `json:"description,omitempty"`
	AdditionalProperties *bool                `json:"additionalProperties,omitempty"`
}

// Property represents a JSON Schema property
type Property struct {
	Type        string               `json:"type,omitempty"`
	Description string               `json:"description,omitempty"`
	Enum        []any                `json:"enum,omitempty"`
	Default     any                  `json:"default,omitempty"`
	Format      string               `json:"format,omitempty"`
	MinLength   *int                 `json:"minLength,omitempty"`
	Pattern     string               `json:"pattern,omitempty"`
	Items       *Property            `json:"items,omitempty"`
	Properties  map[string]*Property `json:"properties,omitempty"`
	Required    []string             `json:"required,omitempty"`
	OneOf       []*Property          `json:"oneOf,omitempty"`
}

// RegisteredComponent represents a node type registered in the catalog with metadata
type RegisteredComponent struct {
	Type        NodeType     `json:"type"`
	Category    CategoryType `json:"category"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Ports       []string     `json:"ports,omitempty"`
	Schema      *JSONSchema  `json:"schema"`
}

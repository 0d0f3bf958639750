package graph

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/canvasflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

var ErrUnsupportedFormat = errors.New("unsupported workflow format")

// FormatOf guesses the document format from a file name.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
}

// Decode parses a workflow document and checks it against DocumentSchema.
func Decode(data []byte, format Format) (*models.Workflow, error) {
	var doc any

	switch format {
	case FormatJSON:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing workflow: %w", err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parsing workflow: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, format)
	}

	// normalise both formats to JSON before schema validation and decoding
	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("normalizing workflow: %w", err)
	}

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(DocumentSchema), gojsonschema.NewBytesLoader(normalized))
	if err != nil {
		return nil, fmt.Errorf("validating workflow: %w", err)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}

		return nil, &ValidationError{Problems: problems}
	}

	var w models.Workflow
	if err := json.Unmarshal(normalized, &w); err != nil {
		return nil, &ValidationError{Problems: []string{err.Error()}}
	}

	return &w, nil
}

// Load decodes a workflow document and builds its graph.
func Load(data []byte, format Format) (Graph, error) {
	w, err := Decode(data, format)
	if err != nil {
		return nil, err
	}

	return New(w)
}

// LoadFile reads a .json, .yaml or .yml workflow file.
func LoadFile(path string) (Graph, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow: %w", err)
	}

	return Load(data, format)
}

// DocumentSchema is the JSON Schema of a workflow document.
var DocumentSchema = map[string]any{
	"$schema":  "http://json-schema.org/draft-07/schema#",
	"type":     "object",
	"required": []any{"id", "nodes"},
	"properties": map[string]any{
		"id":          map[string]any{"type": "string", "minLength": 1},
		"name":        map[string]any{"type": "string"},
		"description": map[string]any{"type": "string"},
		"variables":   map[string]any{"type": "object"},
		"nodes": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"id", "nodeType"},
				"properties": map[string]any{
					"id":          map[string]any{"type": "string", "minLength": 1},
					"nodeType":    map[string]any{"type": "string", "enum": nodeTypeEnum()},
					"category":    map[string]any{"type": "string", "enum": []any{"trigger", "condition", "action"}},
					"displayName": map[string]any{"type": "string"},
					"settings": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"general":        map[string]any{"type": "object"},
							"authentication": map[string]any{"type": "object"},
							"advanced":       map[string]any{"type": "object"},
						},
					},
				},
			},
		},
		"connections": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type":     "object",
				"required": []any{"id", "sourceId", "targetId"},
				"properties": map[string]any{
					"id":           map[string]any{"type": "string"},
					"sourceId":     map[string]any{"type": "string"},
					"sourcePortId": map[string]any{"type": "string"},
					"targetId":     map[string]any{"type": "string"},
					"targetPortId": map[string]any{"type": "string"},
				},
			},
		},
	},
}

func nodeTypeEnum() []any {
	types := models.NodeTypes()
	out := make([]any, len(types))

	for i, t := range types {
		out[i] = string(t)
	}

	return out
}

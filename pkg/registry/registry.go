// Package registry is the catalog of node types: display metadata, output ports and
// the JSON schema of each type's settings.
package registry

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/dukex/canvasflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

var ErrUnknownNodeType = errors.New("unknown node type")

type Registry struct {
	logger     *slog.Logger
	components map[models.NodeType]models.RegisteredComponent
	schemas    map[models.NodeType]*gojsonschema.Schema
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger:     log,
		components: make(map[models.NodeType]models.RegisteredComponent),
		schemas:    make(map[models.NodeType]*gojsonschema.Schema),
	}
}

// Register adds or replaces a component. Its schema is compiled once here.
func (r *Registry) Register(c models.RegisteredComponent) error {
	if c.Schema != nil {
		raw, err := json.Marshal(c.Schema)
		if err != nil {
			return fmt.Errorf("encoding schema of %s: %w", c.Type, err)
		}

		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return fmt.Errorf("compiling schema of %s: %w", c.Type, err)
		}

		r.schemas[c.Type] = schema
	}

	r.components[c.Type] = c
	r.logger.Debug("registered node type", "node_type", c.Type, "category", c.Category)

	return nil
}

func (r *Registry) Component(t models.NodeType) (models.RegisteredComponent, bool) {
	c, ok := r.components[t]

	return c, ok
}

// Components lists every registered component ordered by category, then type.
func (r *Registry) Components() []models.RegisteredComponent {
	out := slices.Collect(maps.Values(r.components))

	slices.SortFunc(out, func(a, b models.RegisteredComponent) int {
		return cmp.Or(
			cmp.Compare(categoryRank(a.Category), categoryRank(b.Category)),
			cmp.Compare(a.Type, b.Type),
		)
	})

	return out
}

// ByCategory lists the components of one category.
func (r *Registry) ByCategory(category models.CategoryType) []models.RegisteredComponent {
	var out []models.RegisteredComponent

	for _, c := range r.Components() {
		if c.Category == category {
			out = append(out, c)
		}
	}

	return out
}

func categoryRank(c models.CategoryType) int {
	switch c {
	case models.CategoryTypeTrigger:
		return 0
	case models.CategoryTypeCondition:
		return 1
	default:
		return 2
	}
}

// ValidateSettings checks a node's settings against the schema of its type. String
// values are not checked for type or format: they may be templates or loosely typed
// values the executors coerce.
func (r *Registry) ValidateSettings(node *models.WorkflowNode) error {
	if _, ok := r.components[node.Type]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownNodeType, node.Type)
	}

	schema, ok := r.schemas[node.Type]
	if !ok {
		return nil
	}

	doc := make(map[string]any, len(node.Settings.General)+2)
	maps.Copy(doc, node.Settings.General)

	if len(node.Settings.Authentication) > 0 {
		doc["authentication"] = node.Settings.Authentication
	}

	if len(node.Settings.Advanced) > 0 {
		doc["advanced"] = node.Settings.Advanced
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("validating settings of node %s: %w", node.ID, err)
	}

	var problems []string

	for _, e := range result.Errors() {
		if _, isText := e.Value().(string); isText && e.Type() != "required" {
			continue
		}

		problems = append(problems, e.String())
	}

	if len(problems) == 0 {
		return nil
	}

	return &SettingsError{NodeID: node.ID, Problems: problems}
}

// SettingsError lists the schema violations of one node.
type SettingsError struct {
	NodeID   string
	Problems []string
}

func (e *SettingsError) Error() string {
	return fmt.Sprintf("node %s: %s", e.NodeID, strings.Join(e.Problems, "; "))
}

// ValidateWorkflow validates every node of w and joins the failures.
func (r *Registry) ValidateWorkflow(w *models.Workflow) error {
	var errs []error

	for _, n := range w.Nodes {
		if err := r.ValidateSettings(n); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// HealthCheck reports whether any node type is registered.
func (r *Registry) HealthCheck() (string, bool) {
	if len(r.components) == 0 {
		return "No node types registered", false
	}

	return fmt.Sprintf("%d node types registered", len(r.components)), true
}

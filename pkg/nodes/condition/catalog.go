package condition

import "github.com/dukex/canvasflow/pkg/models"

// RowSchema is the JSON schema of one condition row.
func RowSchema() *models.Property {
	return &models.Property{
		Type: "object",
		Properties: map[string]*models.Property{
			"left":       {Description: "Left operand, templates allowed"},
			"comparator": {Type: "string", Enum: comparatorEnum()},
			"right":      {Description: "Right operand, ignored by unary comparators"},
			"joiner":     {Type: "string", Enum: []any{"AND", "OR"}, Default: "AND"},
			"name":       {Type: "string"},
		},
		Required: []string{"left", "comparator"},
	}
}

func comparatorEnum() []any {
	comparators := models.Comparators()
	out := make([]any, len(comparators))

	for i, c := range comparators {
		out[i] = string(c)
	}

	return out
}

// Components describes the condition node types for the node catalog.
func Components() []models.RegisteredComponent {
	rows := &models.Property{Type: "array", Description: "Condition rows folded left to right", Items: RowSchema()}

	return []models.RegisteredComponent{
		{
			Type:        models.NodeTypeIfCondition,
			Category:    models.CategoryTypeCondition,
			Name:        "If Condition",
			Description: "Follows the true or the false port depending on the condition rows",
			Ports:       []string{models.PortTrue, models.PortFalse},
			Schema: &models.JSONSchema{
				Type:       "object",
				Properties: map[string]*models.Property{"conditions": rows},
				Required:   []string{"conditions"},
			},
		},
		{
			Type:        models.NodeTypeSwitchCase,
			Category:    models.CategoryTypeCondition,
			Name:        "Switch Case",
			Description: "Follows the port of the first matching rule",
			Ports:       []string{models.CasePort(0), models.PortCaseDflt},
			Schema: &models.JSONSchema{
				Type: "object",
				Properties: map[string]*models.Property{
					"rules": {
						Type: "array",
						Items: &models.Property{OneOf: []*models.Property{
							RowSchema(),
							{
								Type: "object",
								Properties: map[string]*models.Property{
									"name":       {Type: "string"},
									"conditions": rows,
								},
								Required: []string{"conditions"},
							},
						}},
					},
					"enableDefault": {Type: "boolean", Default: false},
				},
				Required: []string{"rules"},
			},
		},
		{
			Type:        models.NodeTypeFilter,
			Category:    models.CategoryTypeCondition,
			Name:        "Filter",
			Description: "Keeps the items of an array matching the condition rows, exposed as $.item",
			Ports:       []string{models.PortDefault},
			Schema: &models.JSONSchema{
				Type: "object",
				Properties: map[string]*models.Property{
					"input":      {Type: "string", Description: "Array to filter, e.g. $.Fetch.body.items"},
					"conditions": rows,
				},
				Required: []string{"input", "conditions"},
			},
		},
		{
			Type:        models.NodeTypeLoop,
			Category:    models.CategoryTypeCondition,
			Name:        "Loop",
			Description: "Runs the loop port once per item, then the done port",
			Ports:       []string{models.PortLoopBody, models.PortLoopDone},
			Schema: &models.JSONSchema{
				Type: "object",
				Properties: map[string]*models.Property{
					"input": {Type: "string", Description: "Array to iterate, e.g. $.Fetch.body.items"},
				},
				Required: []string{"input"},
			},
		},
		{
			Type:        models.NodeTypeStop,
			Category:    models.CategoryTypeCondition,
			Name:        "Stop",
			Description: "Ends the branch, optionally answering in the chat",
			Schema: &models.JSONSchema{
				Type: "object",
				Properties: map[string]*models.Property{
					"message": {Type: "string", Description: "Chat message, templates allowed"},
				},
			},
		},
	}
}

package trigger

import "github.com/dukex/canvasflow/pkg/models"

// Components describes the trigger node types for the node catalog.
func Components() []models.RegisteredComponent {
	return []models.RegisteredComponent{
		{
			Type:        models.NodeTypeManualTrigger,
			Category:    models.CategoryTypeTrigger,
			Name:        "Manual Trigger",
			Description: "Starts the workflow when a run is requested",
			Ports:       []string{models.PortDefault},
			Schema: &models.JSONSchema{
				Type: "object",
				Properties: map[string]*models.Property{
					"input": {Type: "object", Description: "Values exposed as the trigger's input, templates allowed"},
				},
			},
		},
		{
			Type:        models.NodeTypeFormTrigger,
			Category:    models.CategoryTypeTrigger,
			Name:        "Form Trigger",
			Description: "Waits for a form to be submitted",
			Ports:       []string{models.PortDefault},
			Schema: &models.JSONSchema{
				Type: "object",
				Properties: map[string]*models.Property{
					"title":       {Type: "string", Description: "Form title"},
					"description": {Type: "string", Description: "Form description"},
					"fields": {
						Type:        "array",
						Description: "Form inputs",
						Items: &models.Property{
							Type: "object",
							Properties: map[string]*models.Property{
								"name":     {Type: "string"},
								"label":    {Type: "string"},
								"type":     {Type: "string", Enum: []any{"text", "number", "email", "date", "textarea", "checkbox"}},
								"required": {Type: "boolean"},
							},
							Required: []string{"name"},
						},
					},
				},
			},
		},
		{
			Type:        models.NodeTypeChatTrigger,
			Category:    models.CategoryTypeTrigger,
			Name:        "Chat Trigger",
			Description: "Waits for a chat message",
			Ports:       []string{models.PortDefault},
			Schema: &models.JSONSchema{
				Type: "object",
				Properties: map[string]*models.Property{
					"prompt":      {Type: "string", Description: "Text shown to the user"},
					"placeholder": {Type: "string", Description: "Input placeholder"},
				},
			},
		},
		{
			Type:        models.NodeTypeScheduleTrigger,
			Category:    models.CategoryTypeTrigger,
			Name:        "Schedule Trigger",
			Description: "Fires at the next time matching a cron expression",
			Ports:       []string{models.PortDefault},
			Schema: &models.JSONSchema{
				Type: "object",
				Properties: map[string]*models.Property{
					"cron": {
						Type:        "string",
						Description: "Cron expression, descriptors such as @hourly and CRON_TZ= prefixes allowed",
						Default:     "0 * * * *",
					},
				},
				Required: []string{"cron"},
			},
		},
	}
}

package action

import "github.com/dukex/canvasflow/pkg/models"

func intPtr(i int) *int {
	return &i
}

// Components describes the action node types for the node catalog.
func Components() []models.RegisteredComponent {
	out := []string{models.PortDefault}

	return []models.RegisteredComponent{
		{
			Type:        models.NodeTypeHTTPRequest,
			Category:    models.CategoryTypeAction,
			Name:        "HTTP Request",
			Description: "Calls an HTTP endpoint and exposes the response",
			Ports:       out,
			Schema: &models.JSONSchema{
				Type: "object",
				Properties: map[string]*models.Property{
					"url":      {Type: "string", Format: "uri", MinLength: intPtr(1), Description: "Request URL, templates allowed"},
					"method":   {Type: "string", Enum: []any{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}, Default: "GET"},
					"headers":  {Type: "object"},
					"query":    {Type: "object"},
					"body":     {Description: "String or structure; structures are sent as JSON"},
					"bodyType": {Type: "string", Enum: []any{"json", "text", "form", "none"}},
					"authentication": {
						Type: "object",
						Properties: map[string]*models.Property{
							"type":     {Type: "string", Enum: []any{"none", "basic", "bearer", "api-key"}, Default: "none"},
							"username": {Type: "string"},
							"password": {Type: "string"},
							"token":    {Type: "string"},
							"keyName":  {Type: "string"},
							"keyValue": {Type: "string"},
							"in":       {Type: "string", Enum: []any{"header", "query"}, Default: "header"},
						},
					},
					"advanced": {
						Type: "object",
						Properties: map[string]*models.Property{
							"timeout":    {Type: "integer", Description: "Seconds", Default: 30},
							"retries":    {Type: "integer", Description: "Extra attempts on server errors", Default: 0},
							"retryDelay": {Type: "integer", Description: "Milliseconds between attempts", Default: 1000},
						},
					},
				},
				Required: []string{"url"},
			},
		},
		{
			Type:        models.NodeTypeLog,
			Category:    models.CategoryTypeAction,
			Name:        "Log",
			Description: "Writes a message to the engine log",
			Ports:       out,
			Schema: &models.JSONSchema{
				Type: "object",
				Properties: map[string]*models.Property{
					"message": {Type: "string", Description: "The message to log, templates allowed"},
					"level":   {Type: "string", Enum: []any{"debug", "info", "warn", "error"}, Default: "info"},
				},
				Required: []string{"message"},
			},
		},
		{
			Type:        models.NodeTypeSetData,
			Category:    models.CategoryTypeAction,
			Name:        "Set Data",
			Description: "Builds an object from resolved values, optionally storing them as run variables",
			Ports:       out,
			Schema: &models.JSONSchema{
				Type: "object",
				Properties: map[string]*models.Property{
					"fields": {
						Type: "array",
						Items: &models.Property{
							Type: "object",
							Properties: map[string]*models.Property{
								"name":  {Type: "string"},
								"value": {},
							},
							Required: []string{"name"},
						},
					},
					"storeAsVariables": {Type: "boolean", Default: false},
				},
				Required: []string{"fields"},
			},
		},
		{
			Type:        models.NodeTypeNotification,
			Category:    models.CategoryTypeAction,
			Name:        "Notification",
			Description: "Shows a notification to the user",
			Ports:       out,
			Schema: &models.JSONSchema{
				Type: "object",
				Properties: map[string]*models.Property{
					"title":   {Type: "string"},
					"message": {Type: "string"},
					"level":   {Type: "string", Enum: []any{"info", "success", "warning", "error"}, Default: "info"},
				},
				Required: []string{"message"},
			},
		},
		{
			Type:        models.NodeTypeDelay,
			Category:    models.CategoryTypeAction,
			Name:        "Delay",
			Description: "Waits before continuing",
			Ports:       out,
			Schema: &models.JSONSchema{
				Type: "object",
				Properties: map[string]*models.Property{
					"duration": {Description: "Duration such as 5s or 1m, or a number of seconds"},
				},
				Required: []string{"duration"},
			},
		},
		{
			Type:        models.NodeTypeChatResponse,
			Category:    models.CategoryTypeAction,
			Name:        "Chat Response",
			Description: "Answers in the chat transcript",
			Ports:       out,
			Schema: &models.JSONSchema{
				Type: "object",
				Properties: map[string]*models.Property{
					"message": {Type: "string", Description: "Response text, templates allowed"},
				},
				Required: []string{"message"},
			},
		},
	}
}

package registry_test

import (
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/registry"
	"github.com/dukex/canvasflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultRegistry(t *testing.T) *registry.Registry {
	t.Helper()

	r := registry.NewRegistry(slog.Default())
	require.NoError(t, r.RegisterDefaultNodes())

	return r
}

func TestRegisterDefaultNodes_CoversEveryNodeType(t *testing.T) {
	r := defaultRegistry(t)

	for _, nt := range models.NodeTypes() {
		c, ok := r.Component(nt)
		require.True(t, ok, "missing %s", nt)

		category, _ := nt.Category()
		assert.Equal(t, category, c.Category, nt)
		assert.NotEmpty(t, c.Name, nt)
		assert.NotNil(t, c.Schema, nt)
	}

	assert.Len(t, r.Components(), len(models.NodeTypes()))
}

func TestComponents_OrderedByCategory(t *testing.T) {
	r := defaultRegistry(t)

	components := r.Components()
	assert.Equal(t, models.CategoryTypeTrigger, components[0].Category)
	assert.Equal(t, models.CategoryTypeAction, components[len(components)-1].Category)

	for _, c := range r.ByCategory(models.CategoryTypeCondition) {
		assert.Equal(t, models.CategoryTypeCondition, c.Category)
	}
}

func TestValidateSettings(t *testing.T) {
	r := defaultRegistry(t)

	tests := []struct {
		name    string
		node    *models.WorkflowNode
		wantErr string
	}{
		{
			name: "valid http request",
			node: testutil.CreateTestNode(
				testutil.WithType(models.NodeTypeHTTPRequest),
				testutil.WithGeneral(map[string]any{"url": "https://example.com", "method": "POST"}),
				testutil.WithAdvanced(map[string]any{"timeout": 5}),
			),
		},
		{
			name: "missing url",
			node: testutil.CreateTestNode(
				testutil.WithType(models.NodeTypeHTTPRequest),
				testutil.WithGeneral(map[string]any{"method": "GET"}),
			),
			wantErr: "url",
		},
		{
			name: "templated values are not type checked",
			node: testutil.CreateTestNode(
				testutil.WithType(models.NodeTypeHTTPRequest),
				testutil.WithGeneral(map[string]any{"url": "{{ $.config.endpoint }}"}),
				testutil.WithAdvanced(map[string]any{"timeout": "{{ $.config.timeout }}"}),
			),
		},
		{
			name: "structure mismatch",
			node: testutil.CreateTestNode(
				testutil.WithType(models.NodeTypeIfCondition),
				testutil.WithGeneral(map[string]any{"conditions": map[string]any{"left": "a"}}),
			),
			wantErr: "conditions",
		},
		{
			name: "wrong primitive",
			node: testutil.CreateTestNode(
				testutil.WithType(models.NodeTypeSetData),
				testutil.WithGeneral(map[string]any{"fields": []any{}, "storeAsVariables": 3}),
			),
			wantErr: "storeAsVariables",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.ValidateSettings(tt.node)
			if tt.wantErr == "" {
				assert.NoError(t, err)

				return
			}

			var settingsErr *registry.SettingsError
			require.ErrorAs(t, err, &settingsErr)
			assert.Equal(t, tt.node.ID, settingsErr.NodeID)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidateSettings_UnknownType(t *testing.T) {
	r := defaultRegistry(t)

	err := r.ValidateSettings(testutil.CreateTestNode(testutil.WithType("fax-machine")))
	require.ErrorIs(t, err, registry.ErrUnknownNodeType)
}

func TestValidateWorkflow_JoinsNodeErrors(t *testing.T) {
	r := defaultRegistry(t)

	w := testutil.CreateTestWorkflowWithNodes()
	require.NoError(t, r.ValidateWorkflow(w))

	w.Nodes = append(w.Nodes,
		testutil.Node("a", models.NodeTypeLog, nil),
		testutil.Node("b", models.NodeTypeChatResponse, nil),
	)

	err := r.ValidateWorkflow(w)
	require.Error(t, err)

	var settingsErr *registry.SettingsError
	assert.True(t, errors.As(err, &settingsErr))
	assert.Contains(t, err.Error(), "node a")
	assert.Contains(t, err.Error(), "node b")
}

func TestHealthCheck(t *testing.T) {
	msg, ok := registry.NewRegistry(slog.Default()).HealthCheck()
	assert.False(t, ok)
	assert.Equal(t, "No node types registered", msg)

	msg, ok = defaultRegistry(t).HealthCheck()
	assert.True(t, ok)
	assert.Equal(t, fmt.Sprintf("%d node types registered", len(models.NodeTypes())), msg)
}

package file

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWorkflow(id string) *models.Workflow {
	return &models.Workflow{
		ID:   id,
		Name: "Test Workflow",
		Nodes: []*models.WorkflowNode{
			{ID: "trigger-1", Type: models.NodeTypeManualTrigger},
			{ID: "log-1", Type: models.NodeTypeLog},
		},
		Connections: []*models.Connection{{ID: "c1", SourceID: "trigger-1", TargetID: "log-1"}},
		Variables:   map[string]any{"env": "test"},
	}
}

func TestNewPersistence(t *testing.T) {
	assert.Equal(t, "/tmp/test", NewPersistence("/tmp/test").root)
	assert.Equal(t, "/tmp/test", NewPersistence("file:///tmp/test").root)
}

func TestPersistence_HealthCheck(t *testing.T) {
	assert.NoError(t, NewPersistence(t.TempDir()).HealthCheck(t.Context()))
	assert.ErrorIs(t, NewPersistence(filepath.Join(t.TempDir(), "missing")).HealthCheck(t.Context()), os.ErrNotExist)
	assert.NoError(t, NewPersistence("./test-data").Close(t.Context()))
}

func TestPersistence_WorkflowLifecycle(t *testing.T) {
	dir := t.TempDir()
	fp := NewPersistence(dir)
	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	fp.now = func() time.Time { return created }

	workflows, err := fp.Workflows(t.Context())
	require.NoError(t, err)
	assert.Empty(t, workflows)

	require.NoError(t, fp.SaveWorkflow(t.Context(), testWorkflow("wf-1")))
	assert.FileExists(t, filepath.Join(dir, "workflows", "wf-1.json"))

	loaded, err := fp.WorkflowByID(t.Context(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Test Workflow", loaded.Name)
	assert.Len(t, loaded.Nodes, 2)
	assert.Equal(t, models.NodeTypeLog, loaded.Nodes[1].Type)
	assert.Equal(t, "test", loaded.Variables["env"])
	assert.True(t, created.Equal(loaded.CreatedAt))

	updated := created.Add(time.Hour)
	fp.now = func() time.Time { return updated }
	loaded.Name = "Renamed"
	require.NoError(t, fp.SaveWorkflow(t.Context(), loaded))

	again, err := fp.WorkflowByID(t.Context(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Renamed", again.Name)
	assert.True(t, created.Equal(again.CreatedAt))
	assert.True(t, updated.Equal(again.UpdatedAt))

	require.NoError(t, fp.DeleteWorkflow(t.Context(), "wf-1"))

	_, err = fp.WorkflowByID(t.Context(), "wf-1")
	assert.True(t, persistence.IsWorkflowNotFound(err))
	assert.True(t, persistence.IsWorkflowNotFound(fp.DeleteWorkflow(t.Context(), "wf-1")))
}

func TestPersistence_ReadsYAMLDocuments(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "workflows"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "workflows", "greet.yaml"), []byte(`
id: greet
name: Greeter
nodes:
  - id: trigger-1
    nodeType: manual-trigger
  - id: log-1
    nodeType: log
connections:
  - id: c1
    sourceId: trigger-1
    targetId: log-1
`), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "workflows", "README.md"), []byte("ignored"), 0o600))

	fp := NewPersistence(dir)

	workflows, err := fp.Workflows(t.Context())
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	assert.Equal(t, "Greeter", workflows[0].Name)

	loaded, err := fp.WorkflowByID(t.Context(), "greet")
	require.NoError(t, err)
	require.NoError(t, fp.SaveWorkflow(t.Context(), loaded))

	assert.NoFileExists(t, filepath.Join(dir, "workflows", "greet.yaml"))
	assert.FileExists(t, filepath.Join(dir, "workflows", "greet.json"))
}

func TestPersistence_RejectsInvalidInput(t *testing.T) {
	fp := NewPersistence(t.TempDir())

	err := fp.SaveWorkflow(t.Context(), &models.Workflow{Name: "no id"})
	assert.ErrorIs(t, err, persistence.ErrInvalidWorkflow)

	_, err = fp.WorkflowByID(t.Context(), "../escape")
	assert.True(t, persistence.IsWorkflowNotFound(err))

	assert.Error(t, fp.SaveRun(t.Context(), &models.RunRecord{}))
}

func TestPersistence_Runs(t *testing.T) {
	fp := NewPersistence(t.TempDir())
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, id := range []string{"run-a", "run-b", "run-c"} {
		require.NoError(t, fp.SaveRun(t.Context(), &models.RunRecord{
			RunOutcome: models.RunOutcome{
				RunID:      id,
				WorkflowID: "wf-1",
				Status:     models.RunStatusCompleted,
				StartedAt:  base.Add(time.Duration(i) * time.Minute),
				Order:      []string{"trigger-1"},
			},
			Context: models.ContextSnapshot{Results: map[string]any{"trigger-1": map[string]any{"ok": true}}},
		}))
	}

	require.NoError(t, fp.SaveRun(t.Context(), &models.RunRecord{
		RunOutcome: models.RunOutcome{RunID: "other", WorkflowID: "wf-2", StartedAt: base},
	}))

	run, err := fp.RunByID(t.Context(), "run-b")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, map[string]any{"ok": true}, run.Context.Results["trigger-1"])

	_, err = fp.RunByID(t.Context(), "nope")
	assert.True(t, persistence.IsRunNotFound(err))

	runs, err := fp.RunsByWorkflow(t.Context(), "wf-1", 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-c", runs[0].RunID)
	assert.Equal(t, "run-b", runs[1].RunID)

	require.NoError(t, fp.SaveWorkflow(t.Context(), testWorkflow("wf-1")))
	require.NoError(t, fp.DeleteWorkflow(t.Context(), "wf-1"))

	runs, err = fp.RunsByWorkflow(t.Context(), "wf-1", 0)
	require.NoError(t, err)
	assert.Empty(t, runs)

	_, err = fp.RunByID(t.Context(), "other")
	assert.NoError(t, err)
}

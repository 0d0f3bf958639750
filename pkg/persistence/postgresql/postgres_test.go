package postgresql

import (
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

func newMockPersistence(t *testing.T) (*Persistence, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	t.Cleanup(func() { _ = db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := &Persistence{
		db:           db,
		logger:       logger,
		workflowRepo: NewWorkflowRepository(db, logger),
		runRepo:      NewRunRepository(db, logger),
	}
	p.workflowRepo.now = func() time.Time { return fixedNow }

	return p, mock
}

func TestNewPersistence_RunsMigrations(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS schema_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT COALESCE").WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(0))

	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE workflows").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs(1).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE workflow_runs").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO schema_migrations").WithArgs(2).WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	p, err := newPersistence(t.Context(), slog.New(slog.NewTextHandler(io.Discard, nil)), db)
	require.NoError(t, err)
	assert.NotNil(t, p.workflowRepo)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistence_SaveWorkflow(t *testing.T) {
	p, mock := newMockPersistence(t)

	workflow := &models.Workflow{
		ID:   "wf-1",
		Name: "Orders",
		Nodes: []*models.WorkflowNode{
			{ID: "trigger-1", Type: models.NodeTypeManualTrigger},
			{ID: "log-1", Type: models.NodeTypeLog, Settings: models.NodeSettings{General: map[string]any{"message": "hi"}}},
		},
		Connections: []*models.Connection{{ID: "c1", SourceID: "trigger-1", TargetID: "log-1"}},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO workflows").
		WithArgs("wf-1", "Orders", "", []byte("null"), fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("DELETE FROM workflow_connections").WithArgs("wf-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("DELETE FROM workflow_nodes").WithArgs("wf-1").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO workflow_nodes").
		WithArgs("wf-1", "trigger-1", 0, "manual-trigger", "", "", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO workflow_nodes").
		WithArgs("wf-1", "log-1", 1, "log", "", "", []byte(`{"general":{"message":"hi"}}`)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO workflow_connections").
		WithArgs("wf-1", "c1", 0, "trigger-1", "", "log-1", "").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, p.SaveWorkflow(t.Context(), workflow))
	assert.Equal(t, fixedNow, workflow.CreatedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistence_SaveWorkflowRollsBack(t *testing.T) {
	p, mock := newMockPersistence(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO workflows").WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err := p.SaveWorkflow(t.Context(), &models.Workflow{ID: "wf-1"})
	require.ErrorIs(t, err, sql.ErrConnDone)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.ErrorIs(t, p.SaveWorkflow(t.Context(), &models.Workflow{}), persistence.ErrInvalidWorkflow)
}

func TestPersistence_WorkflowByID(t *testing.T) {
	p, mock := newMockPersistence(t)

	mock.ExpectQuery("FROM workflows").WithArgs("wf-1").WillReturnRows(
		sqlmock.NewRows([]string{"id", "name", "description", "variables", "created_at", "updated_at"}).
			AddRow("wf-1", "Orders", "desc", []byte(`{"region":"eu"}`), fixedNow, fixedNow))
	mock.ExpectQuery("FROM workflow_nodes").WithArgs("wf-1").WillReturnRows(
		sqlmock.NewRows([]string{"id", "node_type", "category", "name", "settings"}).
			AddRow("trigger-1", "manual-trigger", "trigger", "Start", []byte(`{}`)).
			AddRow("if-1", "if", "", "", []byte(`{"general":{"joiner":"and"}}`)))
	mock.ExpectQuery("FROM workflow_connections").WithArgs("wf-1").WillReturnRows(
		sqlmock.NewRows([]string{"id", "source_node_id", "source_port", "target_node_id", "target_port"}).
			AddRow("c1", "trigger-1", "", "if-1", ""))

	workflow, err := p.WorkflowByID(t.Context(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "eu", workflow.Variables["region"])
	require.Len(t, workflow.Nodes, 2)
	assert.Equal(t, models.NodeTypeManualTrigger, workflow.Nodes[0].Type)
	assert.Equal(t, models.CategoryTypeTrigger, workflow.Nodes[0].Category)
	assert.Equal(t, "and", workflow.Nodes[1].Settings.General["joiner"])
	require.Len(t, workflow.Connections, 1)
	assert.Equal(t, "if-1", workflow.Connections[0].TargetID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistence_WorkflowByIDNotFound(t *testing.T) {
	p, mock := newMockPersistence(t)

	mock.ExpectQuery("FROM workflows").WithArgs("missing").WillReturnError(sql.ErrNoRows)

	_, err := p.WorkflowByID(t.Context(), "missing")
	assert.True(t, persistence.IsWorkflowNotFound(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistence_DeleteWorkflow(t *testing.T) {
	p, mock := newMockPersistence(t)

	mock.ExpectExec("UPDATE workflows SET deleted_at").WithArgs("wf-1", fixedNow).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE workflows SET deleted_at").WithArgs("wf-2", fixedNow).WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, p.DeleteWorkflow(t.Context(), "wf-1"))
	assert.True(t, persistence.IsWorkflowNotFound(p.DeleteWorkflow(t.Context(), "wf-2")))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPersistence_Runs(t *testing.T) {
	p, mock := newMockPersistence(t)

	run := &models.RunRecord{
		RunOutcome: models.RunOutcome{
			RunID:      "run-1",
			WorkflowID: "wf-1",
			Status:     models.RunStatusCompleted,
			StartedAt:  fixedNow,
			FinishedAt: fixedNow.Add(time.Second),
			Order:      []string{"trigger-1"},
		},
		Context: models.ContextSnapshot{Results: map[string]any{"trigger-1": "ok"}},
	}

	record, err := json.Marshal(run)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO workflow_runs").
		WithArgs("run-1", "wf-1", "completed", fixedNow, sqlmock.AnyArg(), record).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectQuery("SELECT record FROM workflow_runs").WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{"record"}).AddRow(record))
	mock.ExpectQuery("SELECT record FROM workflow_runs").WithArgs("nope").WillReturnError(sql.ErrNoRows)
	mock.ExpectQuery("FROM workflow_runs").WithArgs("wf-1", persistence.DefaultRunLimit).
		WillReturnRows(sqlmock.NewRows([]string{"record"}).AddRow(record))

	require.NoError(t, p.SaveRun(t.Context(), run))

	loaded, err := p.RunByID(t.Context(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "ok", loaded.Context.Results["trigger-1"])
	assert.Equal(t, []string{"trigger-1"}, loaded.Order)

	_, err = p.RunByID(t.Context(), "nope")
	assert.True(t, persistence.IsRunNotFound(err))

	runs, err := p.RunsByWorkflow(t.Context(), "wf-1", 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].RunID)

	assert.NoError(t, mock.ExpectationsWereMet())
}

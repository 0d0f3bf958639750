package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/persistence"
)

// RunRepository stores finished run records.
type RunRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewRunRepository creates a new run repository.
func NewRunRepository(db *sql.DB, logger *slog.Logger) *RunRepository {
	return &RunRepository{db: db, logger: logger}
}

// Save upserts a run record keyed by its run id.
func (r *RunRepository) Save(ctx context.Context, run *models.RunRecord) error {
	if err := persistence.CheckRun("SaveRun", run); err != nil {
		return err
	}

	record, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", run.RunID, err)
	}

	var finishedAt sql.NullTime
	if !run.FinishedAt.IsZero() {
		finishedAt = sql.NullTime{Time: run.FinishedAt, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO workflow_runs (id, workflow_id, status, started_at, finished_at, record)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			finished_at = EXCLUDED.finished_at,
			record = EXCLUDED.record
	`, run.RunID, run.WorkflowID, string(run.Status), run.StartedAt, finishedAt, record)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.RunID, err)
	}

	return nil
}

// GetByID returns one run record.
func (r *RunRepository) GetByID(ctx context.Context, id string) (*models.RunRecord, error) {
	var record []byte

	err := r.db.QueryRowContext(ctx, "SELECT record FROM workflow_runs WHERE id = $1", id).Scan(&record)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewRunError("RunByID", id, persistence.ErrRunNotFound)
		}

		return nil, fmt.Errorf("failed to query run %s: %w", id, err)
	}

	return decodeRun(record)
}

// ByWorkflow returns the newest runs of a workflow first.
func (r *RunRepository) ByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.RunRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT record
		FROM workflow_runs
		WHERE workflow_id = $1
		ORDER BY started_at DESC
		LIMIT $2
	`, workflowID, persistence.Limit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	runs := make([]*models.RunRecord, 0)

	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		run, err := decodeRun(record)
		if err != nil {
			return nil, err
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

func decodeRun(record []byte) (*models.RunRecord, error) {
	var run models.RunRecord
	if err := json.Unmarshal(record, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run record: %w", err)
	}

	return &run, nil
}

package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/persistence"
)

const selectWorkflows = `
		SELECT
			id
		  , name
		  , description
		  , variables
		  , created_at
		  , updated_at
		FROM workflows
`

type scanner interface {
	Scan(dest ...any) error
}

// WorkflowRepository handles workflow-related database operations.
type WorkflowRepository struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewWorkflowRepository creates a new workflow repository.
func NewWorkflowRepository(db *sql.DB, logger *slog.Logger) *WorkflowRepository {
	return &WorkflowRepository{db: db, logger: logger, now: time.Now}
}

// GetAll returns all workflows from the database.
func (r *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	rows, err := r.db.QueryContext(ctx, selectWorkflows+`
		WHERE deleted_at IS NULL
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query workflows: %w", err)
	}

	workflows := make([]*models.Workflow, 0)

	for rows.Next() {
		workflow, err := r.scanWorkflowBase(rows)
		if err != nil {
			r.closeRows(ctx, rows)

			return nil, fmt.Errorf("failed to scan workflow: %w", err)
		}

		workflows = append(workflows, workflow)
	}

	err = rows.Err()
	r.closeRows(ctx, rows)

	if err != nil {
		return nil, fmt.Errorf("error iterating workflows: %w", err)
	}

	for _, workflow := range workflows {
		if err := r.loadNodesAndConnections(ctx, workflow); err != nil {
			return nil, fmt.Errorf("failed to load workflow nodes and connections: %w", err)
		}
	}

	return workflows, nil
}

// GetByID returns a live workflow with its nodes and connections.
func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	row := r.db.QueryRowContext(ctx, selectWorkflows+`
		WHERE id = $1 AND deleted_at IS NULL
	`, id)

	workflow, err := r.scanWorkflowBase(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewWorkflowError("WorkflowByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to scan workflow: %w", err)
	}

	if err := r.loadNodesAndConnections(ctx, workflow); err != nil {
		return nil, fmt.Errorf("failed to load workflow nodes and connections: %w", err)
	}

	return workflow, nil
}

// Save saves a workflow to the database, replacing its nodes and connections.
func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) (err error) {
	if err := persistence.CheckWorkflow("SaveWorkflow", workflow); err != nil {
		return err
	}

	persistence.Stamp(workflow, r.now)

	variablesJSON, err := json.Marshal(workflow.Variables)
	if err != nil {
		return fmt.Errorf("failed to marshal variables: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO workflows (id, name, description, variables, created_at, updated_at, deleted_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULL)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			variables = EXCLUDED.variables,
			updated_at = EXCLUDED.updated_at,
			deleted_at = NULL
	`,
		workflow.ID,
		workflow.Name,
		workflow.Description,
		variablesJSON,
		workflow.CreatedAt,
		workflow.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save workflow base: %w", err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_connections WHERE workflow_id = $1", workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing connections: %w", err)
	}

	_, err = tx.ExecContext(ctx, "DELETE FROM workflow_nodes WHERE workflow_id = $1", workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to delete existing nodes: %w", err)
	}

	for i, node := range workflow.Nodes {
		var settingsJSON []byte

		settingsJSON, err = json.Marshal(node.Settings)
		if err != nil {
			return fmt.Errorf("failed to marshal settings of node %s: %w", node.ID, err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_nodes (workflow_id, id, position, node_type, category, name, settings)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, workflow.ID, node.ID, i, string(node.Type), string(node.Category), node.Name, settingsJSON)
		if err != nil {
			return fmt.Errorf("failed to save node %s: %w", node.ID, err)
		}
	}

	for i, conn := range workflow.Connections {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO workflow_connections (workflow_id, id, position, source_node_id, source_port, target_node_id, target_port)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, workflow.ID, conn.ID, i, conn.SourceID, conn.SourcePort, conn.TargetID, conn.TargetPort)
		if err != nil {
			return fmt.Errorf("failed to save connection %s: %w", conn.ID, err)
		}
	}

	err = tx.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit workflow %s: %w", workflow.ID, err)
	}

	return nil
}

// Delete soft deletes a workflow by setting its deleted_at timestamp.
func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		"UPDATE workflows SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL",
		id, r.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	if affected == 0 {
		return persistence.NewWorkflowError("DeleteWorkflow", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

func (r *WorkflowRepository) scanWorkflowBase(row scanner) (*models.Workflow, error) {
	var (
		workflow      models.Workflow
		variablesJSON []byte
	)

	err := row.Scan(
		&workflow.ID,
		&workflow.Name,
		&workflow.Description,
		&variablesJSON,
		&workflow.CreatedAt,
		&workflow.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(variablesJSON) > 0 {
		if err := json.Unmarshal(variablesJSON, &workflow.Variables); err != nil {
			return nil, fmt.Errorf("failed to unmarshal variables: %w", err)
		}
	}

	return &workflow, nil
}

func (r *WorkflowRepository) loadNodesAndConnections(ctx context.Context, workflow *models.Workflow) error {
	nodes, err := r.db.QueryContext(ctx, `
		SELECT id, node_type, category, name, settings
		FROM workflow_nodes
		WHERE workflow_id = $1
		ORDER BY position
	`, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to query nodes: %w", err)
	}

	workflow.Nodes = make([]*models.WorkflowNode, 0)

	for nodes.Next() {
		var (
			node         models.WorkflowNode
			settingsJSON []byte
		)

		if err := nodes.Scan(&node.ID, &node.Type, &node.Category, &node.Name, &settingsJSON); err != nil {
			r.closeRows(ctx, nodes)

			return fmt.Errorf("failed to scan node: %w", err)
		}

		if len(settingsJSON) > 0 {
			if err := json.Unmarshal(settingsJSON, &node.Settings); err != nil {
				r.closeRows(ctx, nodes)

				return fmt.Errorf("failed to unmarshal settings of node %s: %w", node.ID, err)
			}
		}

		workflow.Nodes = append(workflow.Nodes, &node)
	}

	err = nodes.Err()
	r.closeRows(ctx, nodes)

	if err != nil {
		return fmt.Errorf("error iterating nodes: %w", err)
	}

	conns, err := r.db.QueryContext(ctx, `
		SELECT id, source_node_id, source_port, target_node_id, target_port
		FROM workflow_connections
		WHERE workflow_id = $1
		ORDER BY position
	`, workflow.ID)
	if err != nil {
		return fmt.Errorf("failed to query connections: %w", err)
	}

	defer r.closeRows(ctx, conns)

	workflow.Connections = make([]*models.Connection, 0)

	for conns.Next() {
		var conn models.Connection
		if err := conns.Scan(&conn.ID, &conn.SourceID, &conn.SourcePort, &conn.TargetID, &conn.TargetPort); err != nil {
			return fmt.Errorf("failed to scan connection: %w", err)
		}

		workflow.Connections = append(workflow.Connections, &conn)
	}

	if err := conns.Err(); err != nil {
		return fmt.Errorf("error iterating connections: %w", err)
	}

	return nil
}

func (r *WorkflowRepository) closeRows(ctx context.Context, rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
	}
}

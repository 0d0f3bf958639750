// Package file provides file-based persistence for workflows and run records.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dukex/canvasflow/pkg/graph"
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/persistence"
)

const (
	workflowsDir = "workflows"
	runsDir      = "runs"
)

var workflowExtensions = []string{".json", ".yaml", ".yml"}

// Persistence implements persistence.Persistence on a directory tree.
//
// Workflows live under <root>/workflows as JSON or YAML documents; runs are
// written as JSON under <root>/runs.
type Persistence struct {
	root string
	now  func() time.Time
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{root: cleanRoot, now: time.Now}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Workflows loads every workflow document in the workflows directory, ordered by id.
func (fp *Persistence) Workflows(_ context.Context) ([]*models.Workflow, error) {
	entries, err := os.ReadDir(filepath.Join(fp.root, workflowsDir))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []*models.Workflow{}, nil
		}

		return nil, fmt.Errorf("failed to list workflow files: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		format, err := graph.FormatOf(entry.Name())
		if err != nil {
			continue
		}

		workflow, err := fp.readWorkflow(filepath.Join(fp.root, workflowsDir, entry.Name()), format)
		if err != nil {
			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	sort.Slice(workflows, func(i, j int) bool { return workflows[i].ID < workflows[j].ID })

	return workflows, nil
}

// WorkflowByID retrieves a workflow by its ID from the file system.
func (fp *Persistence) WorkflowByID(_ context.Context, id string) (*models.Workflow, error) {
	filePath, format, err := fp.locate(id)
	if err != nil {
		return nil, persistence.NewWorkflowError("WorkflowByID", id, err)
	}

	return fp.readWorkflow(filePath, format)
}

// SaveWorkflow writes a workflow as JSON, replacing any YAML document with the same id.
func (fp *Persistence) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	if err := persistence.CheckWorkflow("SaveWorkflow", workflow); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Join(fp.root, workflowsDir), 0o750); err != nil {
		return fmt.Errorf("failed to create workflows directory: %w", err)
	}

	persistence.Stamp(workflow, fp.now)

	data, err := json.MarshalIndent(workflow, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %s: %w", workflow.ID, err)
	}

	for _, ext := range workflowExtensions[1:] {
		_ = os.Remove(fp.workflowPath(workflow.ID, ext))
	}

	return os.WriteFile(fp.workflowPath(workflow.ID, ".json"), data, 0o600)
}

// DeleteWorkflow removes a workflow and the records of its runs.
func (fp *Persistence) DeleteWorkflow(ctx context.Context, id string) error {
	filePath, _, err := fp.locate(id)
	if err != nil {
		return persistence.NewWorkflowError("DeleteWorkflow", id, err)
	}

	if err := os.Remove(filePath); err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	runs, err := fp.allRuns()
	if err != nil {
		return err
	}

	for _, run := range runs {
		if run.WorkflowID == id {
			if err := os.Remove(fp.runPath(run.RunID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("failed to delete run %s: %w", run.RunID, err)
			}
		}
	}

	return nil
}

// SaveRun writes a run record, replacing an earlier record with the same run id.
func (fp *Persistence) SaveRun(_ context.Context, run *models.RunRecord) error {
	if err := persistence.CheckRun("SaveRun", run); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Join(fp.root, runsDir), 0o750); err != nil {
		return fmt.Errorf("failed to create runs directory: %w", err)
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", run.RunID, err)
	}

	return os.WriteFile(fp.runPath(run.RunID), data, 0o600)
}

// RunByID reads one run record.
func (fp *Persistence) RunByID(_ context.Context, id string) (*models.RunRecord, error) {
	run, err := fp.readRun(fp.runPath(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, persistence.NewRunError("RunByID", id, persistence.ErrRunNotFound)
	}

	return run, err
}

// RunsByWorkflow scans the runs directory for the workflow's records.
func (fp *Persistence) RunsByWorkflow(_ context.Context, workflowID string, limit int) ([]*models.RunRecord, error) {
	all, err := fp.allRuns()
	if err != nil {
		return nil, err
	}

	runs := make([]*models.RunRecord, 0)

	for _, run := range all {
		if run.WorkflowID == workflowID {
			runs = append(runs, run)
		}
	}

	sort.SliceStable(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })

	if limit = persistence.Limit(limit); len(runs) > limit {
		runs = runs[:limit]
	}

	return runs, nil
}

func (fp *Persistence) allRuns() ([]*models.RunRecord, error) {
	matches, err := filepath.Glob(filepath.Join(fp.root, runsDir, "*.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to list run files: %w", err)
	}

	runs := make([]*models.RunRecord, 0, len(matches))

	for _, match := range matches {
		run, err := fp.readRun(match)
		if err != nil {
			return nil, err
		}

		runs = append(runs, run)
	}

	return runs, nil
}

func (fp *Persistence) readRun(filePath string) (*models.RunRecord, error) {
	body, err := os.ReadFile(filepath.Clean(filePath))
	if err != nil {
		return nil, fmt.Errorf("failed to read run file %s: %w", filepath.Base(filePath), err)
	}

	var run models.RunRecord
	if err := json.Unmarshal(body, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run file %s: %w", filepath.Base(filePath), err)
	}

	return &run, nil
}

func (fp *Persistence) readWorkflow(filePath string, format graph.Format) (*models.Workflow, error) {
	body, err := os.ReadFile(filepath.Clean(filePath))
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file %s: %w", filepath.Base(filePath), err)
	}

	workflow, err := graph.Decode(body, format)
	if err != nil {
		return nil, fmt.Errorf("failed to decode workflow file %s: %w", filepath.Base(filePath), err)
	}

	return workflow, nil
}

// locate finds the document holding a workflow, preferring JSON over YAML.
func (fp *Persistence) locate(id string) (string, graph.Format, error) {
	if id == "" || strings.ContainsAny(id, `/\`) {
		return "", "", persistence.ErrWorkflowNotFound
	}

	for _, ext := range workflowExtensions {
		candidate := fp.workflowPath(id, ext)
		if _, err := os.Stat(candidate); err == nil {
			format, _ := graph.FormatOf(candidate)

			return candidate, format, nil
		}
	}

	return "", "", persistence.ErrWorkflowNotFound
}

func (fp *Persistence) workflowPath(id, ext string) string {
	return filepath.Join(fp.root, workflowsDir, id+ext)
}

func (fp *Persistence) runPath(id string) string {
	return filepath.Join(fp.root, runsDir, filepath.Base(id)+".json")
}

// Package redis provides Redis-backed persistence for workflows and run records.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/persistence"
	backend "github.com/redis/go-redis/v9"
)

// Persistence implements persistence.Persistence on Redis.
//
// Workflows and runs are stored as JSON strings; a set indexes workflow ids and
// one sorted set per workflow indexes its runs by start time.
type Persistence struct {
	client *backend.Client
	prefix string
	runTTL time.Duration
	now    func() time.Time
}

type Option func(*Persistence)

// WithPrefix sets the key prefix.
func WithPrefix(prefix string) Option {
	return func(p *Persistence) {
		p.prefix = prefix
	}
}

// WithRunTTL expires run records after ttl. Zero keeps them forever.
func WithRunTTL(ttl time.Duration) Option {
	return func(p *Persistence) {
		p.runTTL = ttl
	}
}

// NewPersistence connects to the Redis server named by a redis:// URL.
func NewPersistence(ctx context.Context, databaseURL string, opts ...Option) (*Persistence, error) {
	options, err := backend.ParseURL(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	p := NewFromClient(backend.NewClient(options), opts...)

	if err := p.HealthCheck(ctx); err != nil {
		_ = p.client.Close()

		return nil, err
	}

	return p, nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Persistence {
	p := &Persistence{
		client: client,
		prefix: "canvasflow:",
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

func (p *Persistence) workflowKey(id string) string { return p.prefix + "workflow:" + id }
func (p *Persistence) workflowIndex() string        { return p.prefix + "workflows" }
func (p *Persistence) runKey(id string) string      { return p.prefix + "run:" + id }
func (p *Persistence) runIndex(wf string) string    { return p.prefix + "runs:" + wf }

// HealthCheck pings the server.
func (p *Persistence) HealthCheck(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

// Close closes the redis client.
func (p *Persistence) Close(_ context.Context) error {
	return p.client.Close()
}

// Workflows returns every indexed workflow ordered by id.
func (p *Persistence) Workflows(ctx context.Context) ([]*models.Workflow, error) {
	ids, err := p.client.SMembers(ctx, p.workflowIndex()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	sort.Strings(ids)

	workflows := make([]*models.Workflow, 0, len(ids))

	for _, id := range ids {
		workflow, err := p.WorkflowByID(ctx, id)
		if persistence.IsWorkflowNotFound(err) {
			continue
		}

		if err != nil {
			return nil, err
		}

		workflows = append(workflows, workflow)
	}

	return workflows, nil
}

// WorkflowByID loads one workflow.
func (p *Persistence) WorkflowByID(ctx context.Context, id string) (*models.Workflow, error) {
	val, err := p.client.Get(ctx, p.workflowKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, persistence.NewWorkflowError("WorkflowByID", id, persistence.ErrWorkflowNotFound)
		}

		return nil, fmt.Errorf("failed to get workflow %s: %w", id, err)
	}

	var workflow models.Workflow
	if err := json.Unmarshal(val, &workflow); err != nil {
		return nil, fmt.Errorf("failed to unmarshal workflow %s: %w", id, err)
	}

	return &workflow, nil
}

// SaveWorkflow stores the workflow and indexes its id.
func (p *Persistence) SaveWorkflow(ctx context.Context, workflow *models.Workflow) error {
	if err := persistence.CheckWorkflow("SaveWorkflow", workflow); err != nil {
		return err
	}

	persistence.Stamp(workflow, p.now)

	data, err := json.Marshal(workflow)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow %s: %w", workflow.ID, err)
	}

	pipe := p.client.TxPipeline()
	pipe.Set(ctx, p.workflowKey(workflow.ID), data, 0)
	pipe.SAdd(ctx, p.workflowIndex(), workflow.ID)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save workflow %s: %w", workflow.ID, err)
	}

	return nil
}

// DeleteWorkflow removes the workflow with its run index and records.
func (p *Persistence) DeleteWorkflow(ctx context.Context, id string) error {
	runIDs, err := p.client.ZRange(ctx, p.runIndex(id), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to list runs of workflow %s: %w", id, err)
	}

	pipe := p.client.TxPipeline()
	deleted := pipe.Del(ctx, p.workflowKey(id))
	pipe.SRem(ctx, p.workflowIndex(), id)
	pipe.Del(ctx, p.runIndex(id))

	for _, runID := range runIDs {
		pipe.Del(ctx, p.runKey(runID))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	if deleted.Val() == 0 {
		return persistence.NewWorkflowError("DeleteWorkflow", id, persistence.ErrWorkflowNotFound)
	}

	return nil
}

// SaveRun stores a run record and scores it by start time in the workflow's index.
func (p *Persistence) SaveRun(ctx context.Context, run *models.RunRecord) error {
	if err := persistence.CheckRun("SaveRun", run); err != nil {
		return err
	}

	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", run.RunID, err)
	}

	pipe := p.client.TxPipeline()
	pipe.Set(ctx, p.runKey(run.RunID), data, p.runTTL)
	pipe.ZAdd(ctx, p.runIndex(run.WorkflowID), backend.Z{
		Score:  float64(run.StartedAt.UnixMilli()),
		Member: run.RunID,
	})

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.RunID, err)
	}

	return nil
}

// RunByID loads one run record.
func (p *Persistence) RunByID(ctx context.Context, id string) (*models.RunRecord, error) {
	val, err := p.client.Get(ctx, p.runKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, backend.Nil) {
			return nil, persistence.NewRunError("RunByID", id, persistence.ErrRunNotFound)
		}

		return nil, fmt.Errorf("failed to get run %s: %w", id, err)
	}

	var run models.RunRecord
	if err := json.Unmarshal(val, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run %s: %w", id, err)
	}

	return &run, nil
}

// RunsByWorkflow walks the run index newest first, pruning ids whose record expired.
func (p *Persistence) RunsByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.RunRecord, error) {
	limit = persistence.Limit(limit)

	ids, err := p.client.ZRevRange(ctx, p.runIndex(workflowID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list runs of workflow %s: %w", workflowID, err)
	}

	runs := make([]*models.RunRecord, 0, min(limit, len(ids)))

	for _, id := range ids {
		if len(runs) == limit {
			break
		}

		run, err := p.RunByID(ctx, id)
		if persistence.IsRunNotFound(err) {
			p.client.ZRem(ctx, p.runIndex(workflowID), id)

			continue
		}

		if err != nil {
			return nil, err
		}

		runs = append(runs, run)
	}

	return runs, nil
}

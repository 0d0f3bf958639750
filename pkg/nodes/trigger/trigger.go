// Package trigger executes the nodes that start a run: manual, form, chat and
// schedule triggers.
package trigger

import (
	"context"
	"fmt"
	"time"

	"github.com/dukex/canvasflow/pkg/events"
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/nodes"
)

// Spec is the decoded configuration of one trigger node.
type Spec interface {
	trigger()
}

type ManualSpec struct {
	Input map[string]any `mapstructure:"input"`
}

type FormSpec struct {
	Title       string             `mapstructure:"title"`
	Description string             `mapstructure:"description"`
	Fields      []events.FormField `mapstructure:"fields" validate:"dive"`
}

type ChatSpec struct {
	Prompt      string `mapstructure:"prompt"`
	Placeholder string `mapstructure:"placeholder"`
}

type ScheduleSpec struct {
	Cron string `mapstructure:"cron" validate:"required"`

	schedule *models.Schedule
}

func (ManualSpec) trigger()   {}
func (FormSpec) trigger()     {}
func (ChatSpec) trigger()     {}
func (ScheduleSpec) trigger() {}

// Parse decodes the settings of a trigger node.
func Parse(node *models.WorkflowNode) (Spec, error) {
	general := node.Settings.General

	switch node.Type {
	case models.NodeTypeManualTrigger:
		return decode[ManualSpec](general)
	case models.NodeTypeFormTrigger:
		return decode[FormSpec](general)
	case models.NodeTypeChatTrigger:
		return decode[ChatSpec](general)
	case models.NodeTypeScheduleTrigger:
		var s ScheduleSpec
		if err := nodes.Decode(general, &s); err != nil {
			return s, err
		}

		schedule, err := models.ParseSchedule(s.Cron)
		if err != nil {
			return s, fmt.Errorf("%w: %w", nodes.ErrInvalidConfig, err)
		}

		s.schedule = schedule

		return s, nil
	default:
		return nil, fmt.Errorf("%w: %q is not a trigger", nodes.ErrUnsupportedNode, node.Type)
	}
}

func decode[T Spec](section map[string]any) (Spec, error) {
	var s T
	err := nodes.Decode(section, &s)

	return s, err
}

// Executor runs trigger nodes. Form and chat triggers suspend until their input
// arrives on the event channel or the run is cancelled.
type Executor struct{}

func NewExecutor() *Executor {
	return &Executor{}
}

func (e *Executor) Execute(ctx context.Context, node *models.WorkflowNode, env *nodes.Env) models.NodeResult {
	spec, err := Parse(node)
	if err != nil {
		return env.ConfigError(ctx, node, err)
	}

	var result models.NodeResult

	switch s := spec.(type) {
	case ManualSpec:
		result = e.manual(ctx, node, env, s)
	case FormSpec:
		result = e.form(ctx, node, env, s)
	case ChatSpec:
		result = e.chat(ctx, node, env, s)
	case ScheduleSpec:
		result = e.schedule(ctx, node, env, s)
	default:
		return env.Unsupported(ctx, node)
	}

	return env.Finish(ctx, node, result)
}

func (e *Executor) manual(ctx context.Context, node *models.WorkflowNode, env *nodes.Env, s ManualSpec) models.NodeResult {
	input := map[string]any{}

	if len(s.Input) > 0 {
		resolved, err := env.Resolver.ResolveValue(s.Input, env.Context)
		if err != nil {
			return env.ExecutionError(ctx, node, fmt.Errorf("resolving input: %w", err), nil)
		}

		if m, ok := resolved.(map[string]any); ok {
			input = m
		}
	}

	return models.Succeeded(map[string]any{
		"mode":        "manual",
		"triggeredAt": env.Now().Format(time.RFC3339),
		"input":       input,
	})
}

func (e *Executor) schedule(ctx context.Context, node *models.WorkflowNode, env *nodes.Env, s ScheduleSpec) models.NodeResult {
	next := s.schedule.Next(env.Now())

	env.Log(node).InfoContext(ctx, "Waiting for schedule", "cron", s.Cron, "next", next)

	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()

	select {
	case <-timer.C:
		return models.Succeeded(map[string]any{
			"scheduledFor": next.UTC().Format(time.RFC3339),
			"firedAt":      env.Now().Format(time.RFC3339),
		})
	case <-env.Stop:
		return models.Cancelled("run stopped before the schedule fired")
	case <-ctx.Done():
		return models.Cancelled(ctx.Err().Error())
	}
}

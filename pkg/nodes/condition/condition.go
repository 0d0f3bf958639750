// Package condition executes the branching and flow-control nodes: if, switch,
// filter, loop and stop.
package condition

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/dukex/canvasflow/pkg/compare"
	"github.com/dukex/canvasflow/pkg/expression"
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/nodes"
)

// Spec is the decoded configuration of one condition node.
type Spec interface {
	condition()
}

type IfSpec struct {
	Conditions []models.ConditionRow `mapstructure:"conditions" validate:"min=1,dive"`
}

// SwitchRule is one case of a switch. A rule is either a single condition row or a
// named group of rows.
type SwitchRule struct {
	Name       string                `mapstructure:"name"`
	Left       string                `mapstructure:"left"`
	Comparator models.Comparator     `mapstructure:"comparator"`
	Right      string                `mapstructure:"right"`
	Conditions []models.ConditionRow `mapstructure:"conditions" validate:"dive"`
}

// Rows returns the rows the rule folds.
func (r SwitchRule) Rows() []models.ConditionRow {
	if len(r.Conditions) > 0 {
		return r.Conditions
	}

	if r.Comparator == "" {
		return nil
	}

	return []models.ConditionRow{{Left: r.Left, Comparator: r.Comparator, Right: r.Right, Name: r.Name}}
}

type SwitchSpec struct {
	Rules         []SwitchRule `mapstructure:"rules"         validate:"min=1,dive"`
	EnableDefault bool         `mapstructure:"enableDefault"`
}

type FilterSpec struct {
	Input      string                `mapstructure:"input"      validate:"required"`
	Conditions []models.ConditionRow `mapstructure:"conditions" validate:"min=1,dive"`
}

type LoopSpec struct {
	Input string `mapstructure:"input" validate:"required"`
}

type StopSpec struct {
	Message string `mapstructure:"message"`
}

func (IfSpec) condition()     {}
func (SwitchSpec) condition() {}
func (FilterSpec) condition() {}
func (LoopSpec) condition()   {}
func (StopSpec) condition()   {}

// Parse decodes and checks the settings of a condition node.
func Parse(node *models.WorkflowNode) (Spec, error) {
	general := node.Settings.General

	switch node.Type {
	case models.NodeTypeIfCondition:
		var s IfSpec
		if err := nodes.Decode(general, &s); err != nil {
			return nil, err
		}

		return s, checkRows(s.Conditions)
	case models.NodeTypeSwitchCase:
		var s SwitchSpec
		if err := nodes.Decode(general, &s); err != nil {
			return nil, err
		}

		for i, rule := range s.Rules {
			rows := rule.Rows()
			if len(rows) == 0 {
				return nil, fmt.Errorf("%w: rules[%d] has no condition", nodes.ErrInvalidConfig, i)
			}

			if err := checkRows(rows); err != nil {
				return nil, err
			}
		}

		return s, nil
	case models.NodeTypeFilter:
		var s FilterSpec
		if err := nodes.Decode(general, &s); err != nil {
			return nil, err
		}

		return s, checkRows(s.Conditions)
	case models.NodeTypeLoop:
		var s LoopSpec
		err := nodes.Decode(general, &s)

		return s, err
	case models.NodeTypeStop:
		var s StopSpec
		err := nodes.Decode(general, &s)

		return s, err
	default:
		return nil, fmt.Errorf("%w: %q is not a condition", nodes.ErrUnsupportedNode, node.Type)
	}
}

// checkRows rejects literal regular expressions that do not compile.
func checkRows(rows []models.ConditionRow) error {
	for i, row := range rows {
		if !row.Comparator.IsRegex() || expression.NeedsResolution(row.Right) {
			continue
		}

		if _, err := regexp.Compile(row.Right); err != nil {
			return fmt.Errorf("%w: conditions[%d] has a malformed regular expression: %w", nodes.ErrInvalidConfig, i, err)
		}
	}

	return nil
}

// Executor runs condition nodes. Its results carry the route the orchestrator
// follows.
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
	case IfSpec:
		result = e.ifCondition(ctx, node, env, s)
	case SwitchSpec:
		result = e.switchCase(ctx, node, env, s)
	case FilterSpec:
		result = e.filter(ctx, node, env, s)
	case LoopSpec:
		result = e.loop(ctx, node, env, s)
	case StopSpec:
		result = e.stop(ctx, node, env, s)
	default:
		return env.Unsupported(ctx, node)
	}

	return env.Finish(ctx, node, result)
}

// rowResolver resolves operands against ec and keeps the first resolution error.
type rowResolver struct {
	env *nodes.Env
	ec  *models.ExecutionContext
	err error
}

func (r *rowResolver) resolve(operand string) any {
	v, err := r.env.Resolver.Resolve(operand, r.ec)
	if err != nil {
		if r.err == nil {
			r.err = fmt.Errorf("resolving %q: %w", operand, err)
		}

		return nil
	}

	return v
}

func (r *rowResolver) evaluate(rows []models.ConditionRow) (bool, []bool, error) {
	matched, results := compare.EvaluateRows(rows, r.resolve)

	return matched, results, r.err
}

func (e *Executor) ifCondition(ctx context.Context, node *models.WorkflowNode, env *nodes.Env, s IfSpec) models.NodeResult {
	r := &rowResolver{env: env, ec: env.Context}

	matched, rows, err := r.evaluate(s.Conditions)
	if err != nil {
		return env.ExecutionError(ctx, node, err, nil)
	}

	port := models.PortFalse
	if matched {
		port = models.PortTrue
	}

	return models.Routed(map[string]any{
		"result":        matched,
		"rowResults":    rows,
		"matchedPortId": port,
	}, port)
}

func (e *Executor) switchCase(ctx context.Context, node *models.WorkflowNode, env *nodes.Env, s SwitchSpec) models.NodeResult {
	r := &rowResolver{env: env, ec: env.Context}

	matchedIndex := -1
	caseResults := make([]bool, len(s.Rules))

	for i, rule := range s.Rules {
		matched, _, err := r.evaluate(rule.Rows())
		if err != nil {
			return env.ExecutionError(ctx, node, err, nil)
		}

		caseResults[i] = matched

		if matched && matchedIndex < 0 {
			matchedIndex = i
		}
	}

	payload := map[string]any{
		"matchedCaseIndex": matchedIndex,
		"matchedPortId":    "",
		"matchedCaseName":  "",
		"caseResults":      caseResults,
	}

	switch {
	case matchedIndex >= 0:
		port := models.CasePort(matchedIndex)
		payload["matchedPortId"] = port
		payload["matchedCaseName"] = caseName(s.Rules[matchedIndex], matchedIndex)

		return models.Routed(payload, port)
	case s.EnableDefault:
		payload["matchedPortId"] = models.PortCaseDflt
		payload["matchedCaseName"] = "default"

		return models.Routed(payload, models.PortCaseDflt)
	default:
		return models.Routed(payload)
	}
}

func caseName(rule SwitchRule, index int) string {
	if rule.Name != "" {
		return rule.Name
	}

	return fmt.Sprintf("Case %d", index+1)
}

var errNotArray = errors.New("input is not an array")

// items resolves a Loop or Filter input to its elements. A nil input has no items.
func items(env *nodes.Env, input string) ([]any, error) {
	v, err := env.Resolver.Resolve(input, env.Context)
	if err != nil {
		return nil, fmt.Errorf("resolving input: %w", err)
	}

	if v == nil {
		return []any{}, nil
	}

	arr, ok := compare.AsArray(v)
	if !ok {
		return nil, fmt.Errorf("%w: %s resolved to %s", errNotArray, input, compare.InferKind(v))
	}

	return arr, nil
}

// filter keeps the items matching the rows. Each item is visible to the rows as the
// "item" variable, its position as "itemIndex". An empty result ends the branch.
func (e *Executor) filter(ctx context.Context, node *models.WorkflowNode, env *nodes.Env, s FilterSpec) models.NodeResult {
	list, err := items(env, s.Input)
	if err != nil {
		return env.ExecutionError(ctx, node, err, nil)
	}

	kept := make([]any, 0, len(list))

	for i, item := range list {
		r := &rowResolver{env: env, ec: env.Context.WithVariables(map[string]any{"item": item, "itemIndex": i})}

		matched, _, err := r.evaluate(s.Conditions)
		if err != nil {
			return env.ExecutionError(ctx, node, err, nil)
		}

		if matched {
			kept = append(kept, item)
		}
	}

	result := models.Succeeded(kept)
	if len(kept) == 0 {
		result.Route = &models.Route{Terminate: true}
	}

	return result
}

// LoopState is the loop payload exposed while the item at index is current.
func LoopState(list []any, index int) map[string]any {
	state := map[string]any{
		"items":              list,
		"count":              len(list),
		"currentLoopItem":    nil,
		"currentLoopIndex":   index,
		"currentLoopIsFirst": false,
		"currentLoopIsLast":  false,
	}

	if index >= 0 && index < len(list) {
		state["currentLoopItem"] = list[index]
		state["currentLoopIsFirst"] = index == 0
		state["currentLoopIsLast"] = index == len(list)-1
	}

	return state
}

func (e *Executor) loop(ctx context.Context, node *models.WorkflowNode, env *nodes.Env, s LoopSpec) models.NodeResult {
	list, err := items(env, s.Input)
	if err != nil {
		return env.ExecutionError(ctx, node, err, nil)
	}

	index := 0
	if len(list) == 0 {
		index = -1
	}

	return models.NodeResult{
		Success: true,
		Data:    LoopState(list, index),
		Route:   &models.Route{Loop: true, Items: list},
	}
}

func (e *Executor) stop(ctx context.Context, node *models.WorkflowNode, env *nodes.Env, s StopSpec) models.NodeResult {
	message := s.Message
	if message != "" {
		resolved, err := env.Resolver.Interpolate(message, env.Context)
		if err != nil {
			return env.ExecutionError(ctx, node, fmt.Errorf("resolving message: %w", err), nil)
		}

		message = resolved
		env.Respond(ctx, node, message)
	}

	env.Log(node).InfoContext(ctx, "Branch stopped", "message", message)

	return models.NodeResult{
		Success: true,
		Data:    map[string]any{"stopped": true, "message": message},
		Route:   &models.Route{Terminate: true},
	}
}

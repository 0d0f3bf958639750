package condition_test

import (
	"testing"

	"github.com/dukex/canvasflow/pkg/events"
	"github.com/dukex/canvasflow/pkg/models"
	"github.com/dukex/canvasflow/pkg/nodes/condition"
	"github.com/dukex/canvasflow/pkg/notify"
	"github.com/dukex/canvasflow/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func row(left, comparator, right string) map[string]any {
	return map[string]any{"left": left, "comparator": comparator, "right": right}
}

func run(t *testing.T, env *testutil.TestEnv, nt models.NodeType, general map[string]any) models.NodeResult {
	t.Helper()

	return condition.NewExecutor().Execute(t.Context(), testutil.Node("cond", nt, general), env.Env)
}

func TestParse_EveryConditionType(t *testing.T) {
	general := map[models.NodeType]map[string]any{
		models.NodeTypeIfCondition: {"conditions": []any{row("1", "exists", "")}},
		models.NodeTypeSwitchCase:  {"rules": []any{row("1", "exists", "")}},
		models.NodeTypeFilter:      {"input": "$.list", "conditions": []any{row("$.item", "exists", "")}},
		models.NodeTypeLoop:        {"input": "$.list"},
	}

	for _, nt := range models.NodeTypes() {
		if c, _ := nt.Category(); c != models.CategoryTypeCondition {
			continue
		}

		t.Run(string(nt), func(t *testing.T) {
			_, err := condition.Parse(testutil.Node("c", nt, general[nt]))
			require.NoError(t, err)
		})
	}
}

func TestIfCondition(t *testing.T) {
	env := testutil.NewEnv(t)

	res := run(t, env, models.NodeTypeIfCondition, map[string]any{
		"conditions": []any{row("5", "greater than", "3")},
	})
	require.True(t, res.Success)

	payload := res.Data.(map[string]any)
	assert.Equal(t, true, payload["result"])
	assert.Equal(t, []bool{true}, payload["rowResults"])
	assert.Equal(t, models.PortTrue, payload["matchedPortId"])
	require.NotNil(t, res.Route)
	assert.Equal(t, []string{models.PortTrue}, res.Route.Ports)
}

func TestIfCondition_FoldsLeftToRight(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Context.SetVariable("user", map[string]any{"name": "Ada", "age": 36})

	rows := []any{
		row("$.user.age", "less than", "18"),
		map[string]any{"left": "$.user.name", "comparator": "starts with", "right": "A", "joiner": "or"},
		map[string]any{"left": "$.user.name", "comparator": "is empty", "right": "([", "joiner": "AND"},
	}

	res := run(t, env, models.NodeTypeIfCondition, map[string]any{"conditions": rows})
	require.True(t, res.Success)

	payload := res.Data.(map[string]any)
	assert.Equal(t, []bool{false, true, false}, payload["rowResults"])
	assert.Equal(t, false, payload["result"])
	assert.Equal(t, []string{models.PortFalse}, res.Route.Ports)
}

func TestIfCondition_ConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		general map[string]any
		want    string
	}{
		{"no rows", map[string]any{}, "conditions needs at least 1 entries"},
		{"unknown comparator", map[string]any{"conditions": []any{row("a", "resembles", "b")}}, "unknown comparator"},
		{"bad joiner", map[string]any{"conditions": []any{map[string]any{"left": "a", "comparator": "exists", "joiner": "xor"}}}, "unknown joiner"},
		{"malformed regex", map[string]any{"conditions": []any{row("abc", "matches regex", "([")}}, "malformed regular expression"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testutil.NewEnv(t)

			res := run(t, env, models.NodeTypeIfCondition, tt.general)
			assert.False(t, res.Success)
			assert.Contains(t, res.Error, tt.want)
			assert.Equal(t, 1, env.Recorder.Count(notify.LevelError))
		})
	}
}

func TestIfCondition_TemplatedRegexIsNotCheckedUpFront(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Context.SetVariable("pattern", "^a")

	res := run(t, env, models.NodeTypeIfCondition, map[string]any{
		"conditions": []any{row("abc", "matches regex", "{{ $.pattern }}")},
	})
	require.True(t, res.Success)
	assert.Equal(t, true, res.Data.(map[string]any)["result"])
}

func TestSwitchCase(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Context.SetVariable("x", 2)

	res := run(t, env, models.NodeTypeSwitchCase, map[string]any{
		"rules": []any{
			row("$.x", "is equal to", "1"),
			row("$.x", "is equal to", "2"),
		},
	})
	require.True(t, res.Success)

	payload := res.Data.(map[string]any)
	assert.Equal(t, 1, payload["matchedCaseIndex"])
	assert.Equal(t, "right-case-2", payload["matchedPortId"])
	assert.Equal(t, "Case 2", payload["matchedCaseName"])
	assert.Equal(t, []bool{false, true}, payload["caseResults"])
	assert.Equal(t, []string{"right-case-2"}, res.Route.Ports)
}

func TestSwitchCase_FirstMatchWinsAndGroups(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Context.SetVariable("status", "shipped")

	res := run(t, env, models.NodeTypeSwitchCase, map[string]any{
		"rules": []any{
			map[string]any{"name": "Done", "conditions": []any{
				row("$.status", "is equal to", "delivered"),
				map[string]any{"left": "$.status", "comparator": "is equal to", "right": "shipped", "joiner": "OR"},
			}},
			row("$.status", "is not empty", ""),
		},
	})
	require.True(t, res.Success)

	payload := res.Data.(map[string]any)
	assert.Equal(t, 0, payload["matchedCaseIndex"])
	assert.Equal(t, "Done", payload["matchedCaseName"])
	assert.Equal(t, []bool{true, true}, payload["caseResults"])
}

func TestSwitchCase_NoMatch(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Context.SetVariable("x", 9)

	rules := []any{row("$.x", "is equal to", "1")}

	res := run(t, env, models.NodeTypeSwitchCase, map[string]any{"rules": rules})
	require.True(t, res.Success)
	assert.Equal(t, -1, res.Data.(map[string]any)["matchedCaseIndex"])
	require.NotNil(t, res.Route)
	assert.Empty(t, res.Route.Ports, "no port is followed")

	res = run(t, env, models.NodeTypeSwitchCase, map[string]any{"rules": rules, "enableDefault": "true"})
	require.True(t, res.Success)
	assert.Equal(t, models.PortCaseDflt, res.Data.(map[string]any)["matchedPortId"])
	assert.Equal(t, []string{models.PortCaseDflt}, res.Route.Ports)
}

func TestSwitchCase_EmptyRule(t *testing.T) {
	env := testutil.NewEnv(t)

	res := run(t, env, models.NodeTypeSwitchCase, map[string]any{"rules": []any{map[string]any{"name": "nothing"}}})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "rules[0] has no condition")
}

func TestFilter(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Context.SetVariable("numbers", []any{1, 2, 3, 4})

	res := run(t, env, models.NodeTypeFilter, map[string]any{
		"input":      "$.numbers",
		"conditions": []any{row("$.item", "greater than", "2")},
	})
	require.True(t, res.Success)
	assert.Equal(t, []any{3, 4}, res.Data)
	assert.Nil(t, res.Route, "downstream runs once with the filtered array")

	_, exposed := env.Context.Variable("item")
	assert.False(t, exposed, "the item variable does not leak into the run context")
}

func TestFilter_ObjectsAndIndex(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Record("fetch", "Fetch", map[string]any{"users": []any{
		map[string]any{"name": "ada", "admin": true},
		map[string]any{"name": "bob", "admin": false},
		map[string]any{"name": "cy", "admin": true},
	}})

	res := run(t, env, models.NodeTypeFilter, map[string]any{
		"input": "$.Fetch.users",
		"conditions": []any{
			row("$.item.admin", "is true", ""),
			map[string]any{"left": "$.itemIndex", "comparator": "less than", "right": "2", "joiner": "AND"},
		},
	})
	require.True(t, res.Success)
	assert.Equal(t, []any{map[string]any{"name": "ada", "admin": true}}, res.Data)
}

func TestFilter_EmptyResultEndsBranch(t *testing.T) {
	env := testutil.NewEnv(t)

	res := run(t, env, models.NodeTypeFilter, map[string]any{
		"input":      `{{ [1, 2] }}`,
		"conditions": []any{row("$.item", "greater than", "5")},
	})
	require.True(t, res.Success)
	assert.Equal(t, []any{}, res.Data)
	require.NotNil(t, res.Route)
	assert.True(t, res.Route.Terminate)
}

func TestFilter_InputNotArray(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Context.SetVariable("n", 3)

	res := run(t, env, models.NodeTypeFilter, map[string]any{
		"input":      "$.n",
		"conditions": []any{row("$.item", "exists", "")},
	})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "not an array")
	assert.Equal(t, 1, env.Recorder.Count(notify.LevelError))
}

func TestLoop(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Context.SetVariable("letters", []any{"a", "b", "c"})

	res := run(t, env, models.NodeTypeLoop, map[string]any{"input": "$.letters"})
	require.True(t, res.Success)

	payload := res.Data.(map[string]any)
	assert.Equal(t, 3, payload["count"])
	assert.Equal(t, 0, payload["currentLoopIndex"])
	assert.Equal(t, "a", payload["currentLoopItem"])
	assert.Equal(t, true, payload["currentLoopIsFirst"])
	assert.Equal(t, false, payload["currentLoopIsLast"])

	require.NotNil(t, res.Route)
	assert.True(t, res.Route.Loop)
	assert.Equal(t, []any{"a", "b", "c"}, res.Route.Items)
}

func TestLoopState(t *testing.T) {
	last := condition.LoopState([]any{"a", "b"}, 1)
	assert.Equal(t, "b", last["currentLoopItem"])
	assert.Equal(t, false, last["currentLoopIsFirst"])
	assert.Equal(t, true, last["currentLoopIsLast"])

	empty := condition.LoopState([]any{}, -1)
	assert.Equal(t, 0, empty["count"])
	assert.Nil(t, empty["currentLoopItem"])
}

func TestStop(t *testing.T) {
	env := testutil.NewEnv(t)
	env.Context.SetVariable("name", "Ada")
	responses := testutil.Subscribe(t, env.Bus, events.AssistantResponseEvent)

	res := run(t, env, models.NodeTypeStop, map[string]any{"message": "Bye {{ $.name }}"})
	require.True(t, res.Success)
	assert.Equal(t, map[string]any{"stopped": true, "message": "Bye Ada"}, res.Data)
	require.NotNil(t, res.Route)
	assert.True(t, res.Route.Terminate)

	response := testutil.Receive(t, responses).(*events.AssistantResponse)
	assert.Equal(t, "Bye Ada", response.Text)
}

func TestComponents(t *testing.T) {
	components := condition.Components()
	require.Len(t, components, 5)

	for _, c := range components {
		category, _ := c.Type.Category()
		assert.Equal(t, models.CategoryTypeCondition, category)
	}

	assert.Len(t, condition.RowSchema().Properties["comparator"].Enum, len(models.Comparators()))
}

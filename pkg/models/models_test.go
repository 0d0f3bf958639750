package models

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNodeType_UnmarshalRejectsUnknownType(t *testing.T) {
	var node WorkflowNode

	err := json.Unmarshal([]byte(`{"id":"n1","nodeType":"spreadsheet","settings":{}}`), &node)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown node type")

	err = json.Unmarshal([]byte(`{"id":"n1","nodeType":"if-condition","displayName":"Check"}`), &node)
	require.NoError(t, err)
	assert.Equal(t, NodeTypeIfCondition, node.Type)
	assert.Equal(t, "Check", node.DisplayName())
}

func TestNodeType_Category(t *testing.T) {
	for _, nt := range NodeTypes() {
		c, ok := nt.Category()
		assert.True(t, ok, nt)
		assert.Contains(t, []CategoryType{CategoryTypeTrigger, CategoryTypeCondition, CategoryTypeAction}, c)
	}

	_, ok := NodeType("nope").Category()
	assert.False(t, ok)
}

func TestWorkflowNode_ChatResponse(t *testing.T) {
	node := &WorkflowNode{ID: "a", Settings: NodeSettings{General: map[string]any{"chatResponse": "done {{ $.x }}"}}}
	assert.Equal(t, "done {{ $.x }}", node.ChatResponse())
	assert.Equal(t, "a", node.DisplayName())

	assert.Empty(t, (&WorkflowNode{}).ChatResponse())
}

func TestWorkflow_Validation(t *testing.T) {
	validate := validator.New(validator.WithRequiredStructEnabled())

	wf := &Workflow{
		ID: "wf-1",
		Nodes: []*WorkflowNode{
			{ID: "t", Type: NodeTypeManualTrigger, Category: CategoryTypeTrigger},
		},
		Connections: []*Connection{{ID: "c1", SourceID: "t", TargetID: ""}},
	}

	err := validate.Struct(wf)
	require.Error(t, err)

	var verrs validator.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Equal(t, "TargetID", verrs[0].Field())
	assert.Equal(t, "required", verrs[0].Tag())

	wf.Connections[0].TargetID = "t"
	assert.NoError(t, validate.Struct(wf))
}

func TestPorts(t *testing.T) {
	assert.Equal(t, "right-case-1", CasePort(0))
	assert.Equal(t, "right-case-2", CasePort(1))

	assert.Equal(t, PortDefault, NormalizePort(""))
	assert.Equal(t, PortTrue, NormalizePort("true"))
	assert.Equal(t, PortTrue, NormalizePort("right-true"))
	assert.True(t, PortMatches("case-2", CasePort(1)))
	assert.False(t, PortMatches("right-false", PortTrue))
}

func TestComparator_Parse(t *testing.T) {
	c, err := ParseComparator("  Greater Than ")
	require.NoError(t, err)
	assert.Equal(t, ComparatorGreater, c)
	assert.True(t, c.IsOrdering())
	assert.False(t, c.IsUnary())

	_, err = ParseComparator("roughly equals")
	assert.Error(t, err)

	var row ConditionRow
	err = json.Unmarshal([]byte(`{"left":"$.a","comparator":"is empty","joiner":"or"}`), &row)
	require.NoError(t, err)
	assert.True(t, row.Comparator.IsUnary())
	assert.Equal(t, JoinerOr, row.Joiner)

	err = json.Unmarshal([]byte(`{"left":"$.a","comparator":"is empty","joiner":"xor"}`), &row)
	assert.Error(t, err)
}

func TestNodeResult_Status(t *testing.T) {
	assert.Equal(t, NodeStatusSuccess, Succeeded(1).Status())
	assert.Equal(t, NodeStatusError, Failed("boom", nil).Status())
	assert.Equal(t, NodeStatusCancelled, Cancelled("stopped").Status())

	routed := Routed(map[string]any{"result": true}, PortTrue)
	require.NotNil(t, routed.Route)
	assert.Equal(t, []string{PortTrue}, routed.Route.Ports)

	data, err := json.Marshal(routed)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "Route")
}

func TestExecutionContext_RecordResultBeforeNotify(t *testing.T) {
	ec := NewExecutionContext()

	var seen []ContextSnapshot

	ec.OnUpdate(func(s ContextSnapshot) {
		// the hook must observe the write it is notified about
		_, ok := ec.Result("n1")
		assert.True(t, ok)

		seen = append(seen, s)
	})

	ec.RecordResult("n1", map[string]any{"count": 3})
	ec.SetVariable("user", "ada")

	require.Len(t, seen, 2)
	assert.Equal(t, map[string]any{"count": 3}, seen[0].Results["n1"])
	assert.Equal(t, "ada", seen[1].Variables["user"])
}

func TestExecutionContext_SnapshotIsDetached(t *testing.T) {
	ec := NewExecutionContext()
	ec.RecordResult("n1", map[string]any{"items": []any{"a"}})
	ec.Label("n1", "Fetch")

	snap := ec.Snapshot()
	snap.Results["n1"].(map[string]any)["items"] = nil

	v, _ := ec.Result("n1")
	assert.Equal(t, []any{"a"}, v.(map[string]any)["items"])
	assert.Equal(t, "Fetch", snap.Labels["n1"])
}

func TestExecutionContext_WithVariables(t *testing.T) {
	ec := NewExecutionContext()
	ec.SetVariable("x", 1)

	derived := ec.WithVariables(map[string]any{"item": 4})
	derived.SetVariable("y", 2)

	item, ok := derived.Variable("item")
	assert.True(t, ok)
	assert.Equal(t, 4, item)

	_, ok = ec.Variable("item")
	assert.False(t, ok)
	_, ok = ec.Variable("y")
	assert.False(t, ok)
}

func TestExecutionContext_ConcurrentAccess(t *testing.T) {
	ec := NewExecutionContext()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			ec.RecordResult("n", i)
			_ = ec.Snapshot()
		}()
	}

	wg.Wait()

	_, ok := ec.Result("n")
	assert.True(t, ok)
}

func TestSchedule(t *testing.T) {
	s, err := ParseSchedule("*/5 * * * *")
	require.NoError(t, err)

	ref := time.Date(2024, 1, 1, 10, 2, 0, 0, time.UTC)
	next := s.Next(ref)
	assert.Equal(t, time.Date(2024, 1, 1, 10, 5, 0, 0, time.UTC), next)
	assert.True(t, s.IsDue(next, next))
	assert.False(t, s.IsDue(next, ref))

	_, err = ParseSchedule("")
	assert.ErrorIs(t, err, ErrInvalidSchedule)

	_, err = ParseSchedule("not a cron")
	assert.ErrorIs(t, err, ErrInvalidSchedule)
}

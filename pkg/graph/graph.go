// Package graph provides the read-only query surface the engine traverses: nodes,
// connectors and their ports.
package graph

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dukex/canvasflow/pkg/models"
	"github.com/go-playground/validator/v10"
)

var (
	ErrInvalidGraph = errors.New("invalid workflow graph")
	ErrNodeNotFound = errors.New("node not found")
)

// ValidationError lists every problem found in a workflow graph.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", ErrInvalidGraph, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidGraph
}

// Graph is the traversal surface over one workflow snapshot.
type Graph interface {
	WorkflowID() string
	Name() string
	Variables() map[string]any
	Node(id string) (*models.WorkflowNode, bool)
	Nodes() []*models.WorkflowNode
	Outgoing(id string) []*models.Connection
	Incoming(id string) []*models.Connection
	Triggers() []*models.WorkflowNode
}

type memoryGraph struct {
	workflow *models.Workflow
	nodes    map[string]*models.WorkflowNode
	outgoing map[string][]*models.Connection
	incoming map[string][]*models.Connection
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// New validates w and indexes it for traversal. Node categories left empty are
// derived from the node type.
func New(w *models.Workflow) (Graph, error) {
	if w == nil {
		return nil, &ValidationError{Problems: []string{"workflow is nil"}}
	}

	var problems []string

	if err := validate.Struct(w); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				problems = append(problems, fmt.Sprintf("%s failed on %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			problems = append(problems, err.Error())
		}
	}

	g := &memoryGraph{
		workflow: w,
		nodes:    make(map[string]*models.WorkflowNode, len(w.Nodes)),
		outgoing: make(map[string][]*models.Connection),
		incoming: make(map[string][]*models.Connection),
	}

	for _, n := range w.Nodes {
		if n == nil {
			continue
		}

		if _, dup := g.nodes[n.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate node id %q", n.ID))

			continue
		}

		category, known := n.Type.Category()

		switch {
		case !known:
			problems = append(problems, fmt.Sprintf("node %q has unknown type %q", n.ID, n.Type))
		case n.Category == "":
			n.Category = category
		case n.Category != category:
			problems = append(problems, fmt.Sprintf("node %q of type %q cannot be in category %q", n.ID, n.Type, n.Category))
		}

		g.nodes[n.ID] = n
	}

	seen := make(map[string]struct{}, len(w.Connections))

	for _, c := range w.Connections {
		if c == nil {
			continue
		}

		if _, dup := seen[c.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate connection id %q", c.ID))

			continue
		}

		seen[c.ID] = struct{}{}

		source, okSource := g.nodes[c.SourceID]
		_, okTarget := g.nodes[c.TargetID]

		if !okSource {
			problems = append(problems, fmt.Sprintf("connection %q references unknown source %q", c.ID, c.SourceID))
		}

		if !okTarget {
			problems = append(problems, fmt.Sprintf("connection %q references unknown target %q", c.ID, c.TargetID))
		}

		if !okSource || !okTarget {
			continue
		}

		if target := g.nodes[c.TargetID]; target.IsTriggerNode() {
			problems = append(problems, fmt.Sprintf("connection %q targets trigger node %q", c.ID, c.TargetID))
		}

		if source.Type == models.NodeTypeLoop && c.SourcePort == "" {
			c.SourcePort = models.PortLoopBody
		}

		g.outgoing[c.SourceID] = append(g.outgoing[c.SourceID], c)
		g.incoming[c.TargetID] = append(g.incoming[c.TargetID], c)
	}

	if cycle := g.findCycle(); cycle != "" {
		problems = append(problems, fmt.Sprintf("connections form a cycle through %q", cycle))
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	return g, nil
}

// findCycle returns a node on a cycle, or "" when the graph is acyclic.
func (g *memoryGraph) findCycle() string {
	indegree := make(map[string]int, len(g.nodes))
	for id := range g.nodes {
		indegree[id] = len(g.incoming[id])
	}

	queue := make([]string, 0, len(g.nodes))
	for id, d := range indegree {
		if d == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++

		for _, c := range g.outgoing[id] {
			indegree[c.TargetID]--
			if indegree[c.TargetID] == 0 {
				queue = append(queue, c.TargetID)
			}
		}
	}

	if visited == len(g.nodes) {
		return ""
	}

	remaining := make([]string, 0)

	for id, d := range indegree {
		if d > 0 {
			remaining = append(remaining, id)
		}
	}

	slices.Sort(remaining)

	return remaining[0]
}

func (g *memoryGraph) WorkflowID() string {
	return g.workflow.ID
}

func (g *memoryGraph) Name() string {
	return g.workflow.Name
}

func (g *memoryGraph) Variables() map[string]any {
	return g.workflow.Variables
}

func (g *memoryGraph) Node(id string) (*models.WorkflowNode, bool) {
	n, ok := g.nodes[id]

	return n, ok
}

// Nodes returns the nodes in declaration order.
func (g *memoryGraph) Nodes() []*models.WorkflowNode {
	out := make([]*models.WorkflowNode, 0, len(g.nodes))

	for _, n := range g.workflow.Nodes {
		if n != nil && g.nodes[n.ID] == n {
			out = append(out, n)
		}
	}

	return out
}

// Outgoing returns the connectors leaving id in declaration order.
func (g *memoryGraph) Outgoing(id string) []*models.Connection {
	return slices.Clone(g.outgoing[id])
}

// Incoming returns the connectors arriving at id in declaration order.
func (g *memoryGraph) Incoming(id string) []*models.Connection {
	return slices.Clone(g.incoming[id])
}

func (g *memoryGraph) Triggers() []*models.WorkflowNode {
	var triggers []*models.WorkflowNode

	for _, n := range g.Nodes() {
		if n.IsTriggerNode() {
			triggers = append(triggers, n)
		}
	}

	return triggers
}

// Package graph builds the Plan's dependency graph: for every node, which
// other nodes' outputs it references (spec.md §4.4). It is used both by the
// Validator's cycle check and by the Runner's ready-node discovery.
//
// There is no graph library anywhere in the example pack; the teacher's own
// workflow-runner hand-rolls its node dependency bookkeeping as plain
// adjacency slices (cmd/workflow-runner/compiler/ir.go), so this package
// does the same rather than reaching for an external graph package.
package graph

import (
	"fmt"
	"strings"

	"github.com/lyzr/planrunner/common/planerr"
	"github.com/lyzr/planrunner/common/planmodel"
	"github.com/lyzr/planrunner/common/resolver"
)

// namespaces are the placeholder roots that do not name a node and
// therefore never produce a dependency edge (spec.md §4.4).
var namespaces = map[string]bool{"vars": true, "env": true, "config": true}

// Graph is the adjacency representation of one Plan's (or loop body's)
// node set: for each node id, the set of node ids it depends on.
type Graph struct {
	Nodes      []string
	DependsOn  map[string]map[string]bool
	Dependents map[string]map[string]bool
}

// Build scans every node's in/when/foreach/while/subflow.call.inputs trees
// for `${node.alias...}` placeholders and records one edge per unique
// (consumer, producer) pair.
func Build(nodes []planmodel.Node) (*Graph, error) {
	g := &Graph{
		Nodes:      make([]string, 0, len(nodes)),
		DependsOn:  make(map[string]map[string]bool, len(nodes)),
		Dependents: make(map[string]map[string]bool, len(nodes)),
	}

	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if known[n.ID] {
			return nil, planerr.New(planerr.CodeInputValidationFailed, fmt.Sprintf("duplicate node id %q", n.ID))
		}
		known[n.ID] = true
		g.Nodes = append(g.Nodes, n.ID)
		g.DependsOn[n.ID] = make(map[string]bool)
		g.Dependents[n.ID] = make(map[string]bool)
	}

	for _, n := range nodes {
		for _, producer := range referencedNodes(n, known) {
			if producer == n.ID {
				continue
			}
			g.DependsOn[n.ID][producer] = true
			if g.Dependents[producer] == nil {
				g.Dependents[producer] = make(map[string]bool)
			}
			g.Dependents[producer][n.ID] = true
		}
	}

	return g, nil
}

// referencedNodes extracts every known node id referenced anywhere in n's
// in/when/foreach/while/subflow.call.inputs trees.
func referencedNodes(n planmodel.Node, known map[string]bool) []string {
	seen := make(map[string]bool)
	var out []string

	add := func(tree any) {
		for _, expr := range resolver.CollectPlaceholders(tree) {
			ns, _, _ := strings.Cut(expr, ".")
			if namespaces[ns] || !known[ns] || seen[ns] {
				continue
			}
			seen[ns] = true
			out = append(out, ns)
		}
	}

	add(n.In)
	if n.Guard != nil {
		add(n.Guard.Expr)
		add(n.Guard.Left)
		add(n.Guard.Right)
	}
	if n.Foreach != nil {
		add(n.Foreach.Input)
	}
	if n.While != nil {
		add(n.While.Condition.Expr)
		add(n.While.Condition.Left)
		add(n.While.Condition.Right)
	}
	if n.Call != nil {
		add(n.Call.Inputs)
	}

	return out
}

// TopoSort returns the node ids of g in a valid topological order, or a
// planerr.CodeCycleDetected error naming one node on the cycle (Kahn's
// algorithm, spec.md §4.4/§4.5 item 4).
func (g *Graph) TopoSort() ([]string, error) {
	indeg := make(map[string]int, len(g.Nodes))
	for _, id := range g.Nodes {
		indeg[id] = len(g.DependsOn[id])
	}

	var ready []string
	for _, id := range g.Nodes {
		if indeg[id] == 0 {
			ready = append(ready, id)
		}
	}

	var order []string
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		for dependent := range g.Dependents[id] {
			indeg[dependent]--
			if indeg[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
	}

	if len(order) != len(g.Nodes) {
		var stuck string
		for _, id := range g.Nodes {
			if indeg[id] > 0 {
				stuck = id
				break
			}
		}
		return nil, planerr.New(planerr.CodeCycleDetected, fmt.Sprintf("dependency cycle detected involving node %q", stuck)).WithNode(stuck)
	}

	return order, nil
}

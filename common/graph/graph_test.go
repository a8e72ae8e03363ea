package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/planrunner/common/planmodel"
)

func TestBuildEdgesIgnoreNamespaces(t *testing.T) {
	nodes := []planmodel.Node{
		{ID: "a", In: map[string]any{"x": "${vars.threshold}"}},
		{ID: "b", In: map[string]any{"y": "${a.result}"}},
	}
	g, err := Build(nodes)
	require.NoError(t, err)
	assert.True(t, g.DependsOn["b"]["a"])
	assert.Empty(t, g.DependsOn["a"])
}

func TestTopoSortOrdersByDependency(t *testing.T) {
	nodes := []planmodel.Node{
		{ID: "c", In: map[string]any{"v": "${b.out}"}},
		{ID: "a", In: map[string]any{}},
		{ID: "b", In: map[string]any{"v": "${a.out}"}},
	}
	g, err := Build(nodes)
	require.NoError(t, err)

	order, err := g.TopoSort()
	require.NoError(t, err)

	pos := map[string]int{}
	for i, id := range order {
		pos[id] = i
	}
	assert.Less(t, pos["a"], pos["b"])
	assert.Less(t, pos["b"], pos["c"])
}

func TestTopoSortDetectsCycle(t *testing.T) {
	nodes := []planmodel.Node{
		{ID: "a", In: map[string]any{"v": "${b.out}"}},
		{ID: "b", In: map[string]any{"v": "${a.out}"}},
	}
	g, err := Build(nodes)
	require.NoError(t, err)

	_, err = g.TopoSort()
	assert.Error(t, err)
}

func TestBuildRejectsDuplicateNodeIDs(t *testing.T) {
	nodes := []planmodel.Node{{ID: "a"}, {ID: "a"}}
	_, err := Build(nodes)
	assert.Error(t, err)
}

func TestBuildScansGuardForeachWhileSubflow(t *testing.T) {
	nodes := []planmodel.Node{
		{ID: "src"},
		{ID: "g", Guard: &planmodel.Guard{Expr: "${src.ok}"}},
		{ID: "f", Foreach: &planmodel.ForeachSpec{Input: "${src.items}"}},
		{ID: "w", While: &planmodel.WhileSpec{Condition: planmodel.Guard{Left: "${src.n}", Op: "lt", Right: 10}}},
		{ID: "s", Call: &planmodel.SubflowCall{PlanID: "child", Inputs: map[string]any{"x": "${src.ok}"}}},
	}
	g, err := Build(nodes)
	require.NoError(t, err)
	assert.True(t, g.DependsOn["g"]["src"])
	assert.True(t, g.DependsOn["f"]["src"])
	assert.True(t, g.DependsOn["w"]["src"])
	assert.True(t, g.DependsOn["s"]["src"])
}

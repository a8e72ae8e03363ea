package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/planrunner/common/blocks/core"
	"github.com/lyzr/planrunner/common/blocks/ui"
	"github.com/lyzr/planrunner/common/evidence"
	"github.com/lyzr/planrunner/common/planmodel"
	"github.com/lyzr/planrunner/common/registry"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	r := registry.New()
	require.NoError(t, core.Register(r))
	require.NoError(t, ui.Register(r))
	return r
}

func testRunner(t *testing.T) *PlanRunner {
	t.Helper()
	rn := New(testRegistry(t), NewStateStore(t.TempDir()))
	rn.Evidence = evidence.New(t.TempDir())
	return rn
}

func TestRunChainsTwoBlockNodes(t *testing.T) {
	rn := testRunner(t)
	plan := &planmodel.Plan{
		ID:         "chain",
		APIVersion: "v1",
		Graph: []planmodel.Node{
			{ID: "src", Block: "constant", In: map[string]any{"value": 21}, Out: map[string]string{"value": "v"}},
			{ID: "dbl", Block: "double", In: map[string]any{"x": "${src.v}"}, Out: map[string]string{"y": "doubled"}},
		},
	}

	res, err := rn.Run(context.Background(), plan, nil, "")
	require.NoError(t, err)
	assert.Nil(t, res.PendingUI)
	assert.Equal(t, float64(42), res.Outputs["dbl"]["doubled"])
}

func TestGuardFalseSkipsNode(t *testing.T) {
	rn := testRunner(t)
	plan := &planmodel.Plan{
		ID: "guarded",
		Graph: []planmodel.Node{
			{ID: "a", Block: "constant", In: map[string]any{"value": 1}, Out: map[string]string{"value": "v"}},
			{ID: "b", Block: "constant", Guard: &planmodel.Guard{Expr: "false"}, In: map[string]any{"value": 2}, Out: map[string]string{"value": "v"}},
		},
	}

	res, err := rn.Run(context.Background(), plan, nil, "")
	require.NoError(t, err)
	_, ranB := res.Outputs["b"]
	assert.False(t, ranB)
}

func TestOnErrorContinueLetsSiblingsRun(t *testing.T) {
	rn := testRunner(t)
	plan := &planmodel.Plan{
		ID:     "partial-failure",
		Policy: planmodel.Policy{OnError: planmodel.OnErrorContinue},
		Graph: []planmodel.Node{
			{ID: "bad", Block: "double", In: map[string]any{"x": "not-a-number"}, Out: map[string]string{"y": "y"}},
			{ID: "good", Block: "constant", In: map[string]any{"value": "ok"}, Out: map[string]string{"value": "v"}},
		},
	}

	res, err := rn.Run(context.Background(), plan, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Outputs["good"]["v"])
}

func TestVarsOverridesFlowIntoResolution(t *testing.T) {
	rn := testRunner(t)
	plan := &planmodel.Plan{
		ID:   "vars",
		Vars: map[string]any{"name": "default"},
		Graph: []planmodel.Node{
			{ID: "a", Block: "template", In: map[string]any{"text": "${vars.name}"}, Out: map[string]string{"text": "text"}},
		},
	}

	res, err := rn.Run(context.Background(), plan, map[string]any{"name": "override"}, "")
	require.NoError(t, err)
	assert.Equal(t, "override", res.Outputs["a"]["text"])
}

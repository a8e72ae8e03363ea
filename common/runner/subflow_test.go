package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/planrunner/common/planmodel"
)

func TestSubflowExportsFlowToParent(t *testing.T) {
	rn := testRunner(t)

	child := &planmodel.Plan{
		ID: "child",
		Graph: []planmodel.Node{
			{ID: "out", Block: "double", In: map[string]any{"x": "${vars.x}"}, Out: map[string]string{"y": "y"}},
		},
	}
	rn.Plans = func(planID string) (*planmodel.Plan, bool) {
		if planID == "child" {
			return child, true
		}
		return nil, false
	}

	parent := &planmodel.Plan{
		ID: "parent",
		Graph: []planmodel.Node{
			{ID: "src", Block: "constant", In: map[string]any{"value": 5}, Out: map[string]string{"value": "v"}},
			{
				ID:      "call",
				Kind:    planmodel.NodeKindSubflow,
				Call:    &planmodel.SubflowCall{PlanID: "child", Inputs: map[string]any{"x": "${src.v}"}},
				Exports: []planmodel.Export{{From: "out.y", As: "doubled"}},
			},
		},
	}

	res, err := rn.Run(context.Background(), parent, nil, "")
	require.NoError(t, err)
	assert.Equal(t, float64(10), res.Outputs["call"]["doubled"])
}

func TestSubflowNotFoundErrors(t *testing.T) {
	rn := testRunner(t)
	rn.Plans = func(string) (*planmodel.Plan, bool) { return nil, false }

	parent := &planmodel.Plan{
		ID: "parent",
		Graph: []planmodel.Node{
			{ID: "call", Kind: planmodel.NodeKindSubflow, Call: &planmodel.SubflowCall{PlanID: "missing"}},
		},
	}

	_, err := rn.Run(context.Background(), parent, nil, "")
	assert.Error(t, err)
}

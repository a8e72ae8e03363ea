package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/planrunner/common/planmodel"
)

func TestForeachCollectsOrderedResults(t *testing.T) {
	rn := testRunner(t)
	plan := &planmodel.Plan{
		ID: "foreach-plan",
		Graph: []planmodel.Node{
			{ID: "items", Block: "constant", In: map[string]any{"value": []any{1, 2, 3}}, Out: map[string]string{"value": "v"}},
			{
				ID:   "sq",
				Kind: planmodel.NodeKindLoop,
				Foreach: &planmodel.ForeachSpec{
					Input:   "${items.v}",
					ItemVar: "n",
				},
				Collect: "doubled",
				Body: &planmodel.BodyPlan{Plan: planmodel.InnerPlan{
					Graph: []planmodel.Node{
						{ID: "b", Block: "double", In: map[string]any{"x": "${vars.n}"}, Out: map[string]string{"y": "y"}},
					},
					Exports: []planmodel.Export{{From: "b.y", As: "doubled"}},
				}},
			},
		},
	}

	res, err := rn.Run(context.Background(), plan, nil, "")
	require.NoError(t, err)

	// spec.md §8 scenario 3: out.collect=doubled yields the flat sequence
	// of the body's "doubled" export, not a sequence of export maps.
	doubled, ok := res.Outputs["sq"]["doubled"].([]any)
	require.True(t, ok)
	require.Len(t, doubled, 3)
	assert.Equal(t, float64(2), doubled[0])
	assert.Equal(t, float64(4), doubled[1])
	assert.Equal(t, float64(6), doubled[2])
}

func TestWhileLoopStopsWhenGuardFalse(t *testing.T) {
	rn := testRunner(t)
	plan := &planmodel.Plan{
		ID: "while-plan",
		Graph: []planmodel.Node{
			{
				ID:   "count",
				Kind: planmodel.NodeKindLoop,
				While: &planmodel.WhileSpec{
					Condition:     planmodel.Guard{Op: "lt", Left: "${vars.n}", Right: 3},
					MaxIterations: 10,
				},
				Collect: "n",
				Body: &planmodel.BodyPlan{Plan: planmodel.InnerPlan{
					Graph: []planmodel.Node{
						{ID: "step", Block: "counter", In: map[string]any{"start": "${vars.n}", "step": 1}, Out: map[string]string{"n": "n"}},
					},
					Exports: []planmodel.Export{{From: "step.n", As: "n"}},
				}},
			},
		},
		Vars: map[string]any{"n": 0},
	}

	res, err := rn.Run(context.Background(), plan, nil, "")
	require.NoError(t, err)

	rounds, ok := res.Outputs["count"]["n"].([]any)
	require.True(t, ok)
	assert.Len(t, rounds, 3)
}

func TestWhileLoopExceedingMaxIterationsErrors(t *testing.T) {
	rn := testRunner(t)
	plan := &planmodel.Plan{
		ID: "while-bound",
		Graph: []planmodel.Node{
			{
				ID:   "count",
				Kind: planmodel.NodeKindLoop,
				While: &planmodel.WhileSpec{
					Condition:     planmodel.Guard{Expr: "true"},
					MaxIterations: 2,
				},
				Body: &planmodel.BodyPlan{Plan: planmodel.InnerPlan{
					Graph: []planmodel.Node{
						{ID: "noop", Block: "constant", In: map[string]any{"value": 1}, Out: map[string]string{"value": "v"}},
					},
				}},
			},
		},
	}

	_, err := rn.Run(context.Background(), plan, nil, "")
	assert.Error(t, err)
}

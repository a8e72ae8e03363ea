package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/planrunner/common/planmodel"
)

// TestHITLSuspendAndResume exercises the suspend/resume scenario (spec.md
// §8): a UI node awaits input, the caller submits it out of band, and the
// resumed run carries the submission through to a dependent Processing
// node.
func TestHITLSuspendAndResume(t *testing.T) {
	rn := testRunner(t)

	plan := &planmodel.Plan{
		ID: "hitl-plan",
		UI: planmodel.UILayout{Layout: []string{"U"}},
		Graph: []planmodel.Node{
			{ID: "U", Block: "interactive_input", In: map[string]any{"prompt": "Enter x"}, Out: map[string]string{"collected": "collected"}},
			{ID: "P", Block: "double", In: map[string]any{"x": "${U.collected.x}"}, Out: map[string]string{"y": "result"}},
		},
	}
	rn.Plans = func(planID string) (*planmodel.Plan, bool) {
		if planID == plan.ID {
			return plan, true
		}
		return nil, false
	}

	first, err := rn.Run(context.Background(), plan, nil, "")
	require.NoError(t, err)
	require.NotNil(t, first.PendingUI)
	assert.Equal(t, "U", first.PendingUI.NodeID)
	assert.Nil(t, first.Outputs)

	snap, ok, err := rn.GetState(plan.ID, first.RunID)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, snap.PendingUI)

	second, err := rn.Resume(plan.ID, first.RunID, map[string]any{"U": map[string]any{"x": 42.0}})
	require.NoError(t, err)
	assert.Nil(t, second.PendingUI)
	assert.Equal(t, float64(84), second.Outputs["P"]["result"])

	_, ok, err = rn.GetState(plan.ID, first.RunID)
	require.NoError(t, err)
	assert.False(t, ok, "snapshot should be cleared after a successful completion")
}

func TestResumeWithoutPendingSuspensionErrors(t *testing.T) {
	rn := testRunner(t)
	_, err := rn.Resume("no-such-plan", "no-such-run", nil)
	assert.Error(t, err)
}

package runner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/planrunner/common/blockspec"
	"github.com/lyzr/planrunner/common/evidence"
	"github.com/lyzr/planrunner/common/planmodel"
	"github.com/lyzr/planrunner/common/registry"
)

// drainEvents collects every Record already queued on ch without blocking.
func drainEvents(ch chan evidence.Record) []evidence.Record {
	var out []evidence.Record
	for {
		select {
		case rec, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, rec)
		default:
			return out
		}
	}
}

func eventTypes(recs []evidence.Record) []string {
	types := make([]string, len(recs))
	for i, r := range recs {
		types[i] = r.Type
	}
	return types
}

// TestLinearPlanEmitsStartAndFinishSummary covers spec.md §8 scenario 1: a
// two-node linear plan emits start, node_start/node_finish per node in
// order, then a finish_summary with succeeded=2.
func TestLinearPlanEmitsStartAndFinishSummary(t *testing.T) {
	rn := testRunner(t)
	plan := &planmodel.Plan{
		ID: "linear",
		Graph: []planmodel.Node{
			{ID: "A", Block: "constant", In: map[string]any{"value": 1}, Out: map[string]string{"value": "v"}},
			{ID: "B", Block: "double", In: map[string]any{"x": "${A.v}"}, Out: map[string]string{"y": "y"}},
		},
	}

	ch := rn.Evidence.Subscribe("run-linear")
	res, err := rn.Run(context.Background(), plan, nil, "run-linear")
	require.NoError(t, err)
	require.Nil(t, res.PendingUI)
	rn.Evidence.Unsubscribe("run-linear", ch)

	recs := drainEvents(ch)
	assert.Equal(t, []string{"start", "node_start", "node_finish", "node_start", "node_finish", "finish_summary"}, eventTypes(recs))

	start := recs[0]
	assert.Contains(t, start.Fields, "vars_overrides")

	finish := recs[len(recs)-1]
	assert.Equal(t, 2, finish.Fields["total_nodes"])
	assert.Equal(t, 2, finish.Fields["succeeded"])
	assert.Equal(t, 0, finish.Fields["skipped"])
	assert.Equal(t, 0, finish.Fields["errored"])
}

// TestGuardFalseEmitsNodeSkipReason covers scenario 2: a false guard emits
// node_skip(reason=when_false), and finish_summary.skipped == 1.
func TestGuardFalseEmitsNodeSkipReason(t *testing.T) {
	rn := testRunner(t)
	plan := &planmodel.Plan{
		ID: "guarded-events",
		Graph: []planmodel.Node{
			{ID: "a", Block: "constant", In: map[string]any{"value": 1}, Out: map[string]string{"value": "v"}},
			{ID: "b", Block: "constant", Guard: &planmodel.Guard{Expr: "false"}, In: map[string]any{"value": 2}, Out: map[string]string{"value": "v"}},
		},
	}

	ch := rn.Evidence.Subscribe("run-guard")
	res, err := rn.Run(context.Background(), plan, nil, "run-guard")
	require.NoError(t, err)
	rn.Evidence.Unsubscribe("run-guard", ch)

	recs := drainEvents(ch)
	var skip *evidence.Record
	for i := range recs {
		if recs[i].Type == "node_skip" {
			skip = &recs[i]
		}
	}
	require.NotNil(t, skip)
	assert.Equal(t, "when_false", skip.Fields["reason"])
	assert.Equal(t, "b", skip.Fields["node_id"])

	finish := recs[len(recs)-1]
	require.Equal(t, "finish_summary", finish.Type)
	assert.Equal(t, 1, finish.Fields["skipped"])
	_ = res
}

// TestForeachEmitsLoopIterEvents covers scenario 3's "three pairs of
// loop_iter_start/finish with indices 0,1,2."
func TestForeachEmitsLoopIterEvents(t *testing.T) {
	rn := testRunner(t)
	plan := &planmodel.Plan{
		ID: "foreach-events",
		Graph: []planmodel.Node{
			{ID: "items", Block: "constant", In: map[string]any{"value": []any{1, 2, 3}}, Out: map[string]string{"value": "v"}},
			{
				ID:   "L",
				Kind: planmodel.NodeKindLoop,
				Foreach: &planmodel.ForeachSpec{
					Input:          "${items.v}",
					ItemVar:        "it",
					MaxConcurrency: 1,
				},
				Collect: "doubled",
				Body: &planmodel.BodyPlan{Plan: planmodel.InnerPlan{
					Graph: []planmodel.Node{
						{ID: "M", Block: "double", In: map[string]any{"x": "${vars.it}"}, Out: map[string]string{"y": "r"}},
					},
					Exports: []planmodel.Export{{From: "M.r", As: "doubled"}},
				}},
			},
		},
	}

	ch := rn.Evidence.Subscribe("run-foreach")
	res, err := rn.Run(context.Background(), plan, nil, "run-foreach")
	require.NoError(t, err)
	rn.Evidence.Unsubscribe("run-foreach", ch)

	doubled, ok := res.Outputs["L"]["doubled"].([]any)
	require.True(t, ok)
	assert.Equal(t, []any{float64(2), float64(4), float64(6)}, doubled)

	recs := drainEvents(ch)
	var starts, finishes []int
	for _, r := range recs {
		switch r.Type {
		case "loop_iter_start":
			starts = append(starts, int(r.Fields["index"].(int)))
		case "loop_iter_finish":
			finishes = append(finishes, int(r.Fields["index"].(int)))
		}
	}
	assert.ElementsMatch(t, []int{0, 1, 2}, starts)
	assert.ElementsMatch(t, []int{0, 1, 2}, finishes)
}

// flakyBlock fails its first failUntil calls, then succeeds, for exercising
// retry-policy evidence (spec.md §8 scenario 6).
type flakyBlock struct {
	spec      *blockspec.Spec
	failUntil int
	calls     int
}

func (b *flakyBlock) Validate() error { return nil }
func (b *flakyBlock) DryRun(map[string]any) (map[string]any, error) {
	return map[string]any{"ok": true}, nil
}
func (b *flakyBlock) Run(context.Context, map[string]any) (map[string]any, error) {
	b.calls++
	if b.calls <= b.failUntil {
		return nil, errors.New("flaky: not yet")
	}
	return map[string]any{"ok": true}, nil
}

// TestRetryPolicyEmitsPerAttemptEvents covers scenario 6: three
// node_start(attempt=1..3), two error(retry=true), one node_finish, and
// finish_summary.total_retries == 2.
func TestRetryPolicyEmitsPerAttemptEvents(t *testing.T) {
	rn := testRunner(t)
	flaky := &flakyBlock{failUntil: 2}
	rn.Registry.RegisterFactory("test", func(spec *blockspec.Spec) (registry.Block, error) {
		flaky.spec = spec
		return flaky, nil
	})
	require.NoError(t, rn.Registry.AddSpec(&blockspec.Spec{
		ID:         "flaky",
		Version:    "1.0.0",
		Entrypoint: "test://flaky",
	}))

	plan := &planmodel.Plan{
		ID:     "retry-events",
		Policy: planmodel.Policy{OnError: planmodel.OnErrorRetry, Retries: 2},
		Graph: []planmodel.Node{
			{ID: "f", Block: "flaky", Out: map[string]string{"ok": "ok"}},
		},
	}

	ch := rn.Evidence.Subscribe("run-retry")
	res, err := rn.Run(context.Background(), plan, nil, "run-retry")
	require.NoError(t, err)
	rn.Evidence.Unsubscribe("run-retry", ch)

	recs := drainEvents(ch)
	var starts []int
	var retryErrors int
	for _, r := range recs {
		switch r.Type {
		case "node_start":
			if r.Fields["node_id"] == "f" {
				starts = append(starts, int(r.Fields["attempt"].(int)))
			}
		case "error":
			if retry, _ := r.Fields["retry"].(bool); retry {
				retryErrors++
			}
		}
	}
	assert.Equal(t, []int{1, 2, 3}, starts)
	assert.Equal(t, 2, retryErrors)

	finish := recs[len(recs)-1]
	assert.Equal(t, 2, finish.Fields["total_retries"])
	assert.Equal(t, true, res.Outputs["f"]["ok"])
}

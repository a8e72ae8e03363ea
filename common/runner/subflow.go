package runner

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/lyzr/planrunner/common/planerr"
	"github.com/lyzr/planrunner/common/planmodel"
	"github.com/lyzr/planrunner/common/resolver"
)

// executeSubflow resolves a subflow node's child Plan, runs it as an
// independent Run whose run_id is the parent's suffixed with a sequence
// number, and maps its Exports into the parent's output map (spec.md
// §4.7.5). A UI suspension inside the child is not resumable: the parent's
// PendingUI is set to this node (with the child run id in its snapshot),
// the subflow node fails with a DEPENDENCY_FAILED error, and the child's
// own state is not persisted.
func (rn *PlanRunner) executeSubflow(ctx context.Context, execCtx *ExecutionContext, n planmodel.Node) (map[string]any, error) {
	if n.Call == nil {
		return nil, planerr.New(planerr.CodeInputValidationFailed, "subflow node has no call").WithNode(n.ID)
	}
	if rn.Plans == nil {
		return nil, planerr.New(planerr.CodeSubflowNotFound, "no subflow resolver configured").WithNode(n.ID)
	}

	child, ok := rn.Plans(n.Call.PlanID)
	if !ok {
		return nil, planerr.New(planerr.CodeSubflowNotFound, fmt.Sprintf("subflow plan %q not found", n.Call.PlanID)).WithNode(n.ID)
	}

	scope := rn.scopeFor(execCtx)
	resolvedInputs, err := resolver.New().Resolve(scope, n.Call.Inputs, false)
	if err != nil {
		return nil, planerr.Wrap(planerr.CodeUnresolvedReference, err, "resolving call.inputs").WithNode(n.ID)
	}
	inputs, _ := resolvedInputs.(map[string]any)
	if inputs == nil {
		inputs = map[string]any{}
	}

	childRunID := fmt.Sprintf("%s#%d", execCtx.ID, rn.nextSubflowSeq(execCtx.ID, n.ID))
	childCtx := NewExecutionContext(ctx, child.ID, childRunID, child.Vars, inputs)
	defer childCtx.Cancel()

	rn.emit(execCtx, "subflow_start", n.ID, map[string]any{"plan_id": child.ID, "run_id": childRunID})

	policy := child.Policy
	if policy.Concurrency.DefaultMaxWorkers == 0 {
		policy = planmodel.DefaultPolicy().Merge(&policy)
	}

	suspended, err := rn.runGraph(ctx, childCtx, child.Graph, policy, child.UI.Layout)
	if err != nil {
		return nil, err
	}
	if suspended {
		execCtx.SetPendingUI(&PendingUI{NodeID: n.ID, InputSnapshot: map[string]any{"child_run_id": childRunID}})
		return nil, planerr.New(planerr.CodeDependencyFailed, "subflow suspended awaiting UI input").WithNode(n.ID).WithDetails(map[string]any{"child_run_id": childRunID, "recoverable": true})
	}

	out := make(map[string]any, len(n.Exports))
	for _, exp := range n.Exports {
		nodeID, field, hasField := cutDot(exp.From)
		nodeOut, ok := childCtx.Output(nodeID)
		if !ok {
			continue
		}
		if !hasField {
			out[exp.As] = nodeOut
		} else {
			out[exp.As] = nodeOut[field]
		}
	}

	rn.emit(execCtx, "subflow_finish", n.ID, map[string]any{"plan_id": child.ID, "run_id": childRunID})
	return out, nil
}

func (rn *PlanRunner) nextSubflowSeq(parentRunID, nodeID string) int64 {
	key := parentRunID + "#" + nodeID
	v, _ := rn.subflowSeq.LoadOrStore(key, new(int64))
	counter := v.(*int64)
	return atomic.AddInt64(counter, 1)
}

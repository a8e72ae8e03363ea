package runner

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/lyzr/planrunner/common/graph"
	"github.com/lyzr/planrunner/common/planerr"
	"github.com/lyzr/planrunner/common/planmodel"
	"github.com/lyzr/planrunner/common/registry"
	"github.com/lyzr/planrunner/common/resolver"
)

// scopeFor builds the common/resolver.Scope for execCtx's current state:
// vars merged with overrides, env via os.LookupEnv, config via the
// Runner's Configuration Store, and node outputs via execCtx itself
// (spec.md §4.2).
func (rn *PlanRunner) scopeFor(execCtx *ExecutionContext) resolver.Scope {
	return resolver.Scope{
		Vars: mergedVars(execCtx.Vars, execCtx.VarsOverrides),
		Env:  os.LookupEnv,
		Config: func(path string) (any, bool) {
			if rn.Config == nil {
				return nil, false
			}
			v, err := rn.Config.Resolve(path)
			if err != nil {
				return nil, false
			}
			return v, true
		},
		Outputs: execCtx.Output,
	}
}

// runGraph drives a single level of a Plan's graph (the top-level Plan, one
// loop-body iteration, or one subflow invocation) to completion in waves:
// each scan dispatches every ready node, and the ready set is re-scanned
// only after the whole wave has finished (spec.md §4.7.2). It returns
// suspended=true if a UI node requested await, in which case the caller
// must stop and surface execCtx's PendingUI to the invoking Run call.
func (rn *PlanRunner) runGraph(ctx context.Context, execCtx *ExecutionContext, nodes []planmodel.Node, policy planmodel.Policy, uiLayout []string) (bool, error) {
	g, err := graph.Build(nodes)
	if err != nil {
		return false, err
	}

	byID := make(map[string]planmodel.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}

	uiOrder := make(map[string]int, len(uiLayout))
	for i, id := range uiLayout {
		uiOrder[id] = i
	}

	maxWorkers := policy.Concurrency.DefaultMaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	done := make(map[string]bool, len(nodes))

	for len(done) < len(nodes) {
		ready := rn.readySet(g, byID, done, execCtx)
		if len(ready) == 0 {
			return false, fmt.Errorf("runner: plan %s run %s stalled: no ready nodes but %d/%d complete", execCtx.PlanID, execCtx.ID, len(done), len(nodes))
		}

		uiReady, otherReady := splitUI(ready, uiOrder)

		for _, id := range uiReady {
			n := byID[id]
			suspended, err := rn.runOneNode(ctx, execCtx, n, policy)
			if err != nil {
				return false, err
			}
			done[id] = true
			if suspended {
				return true, nil
			}
		}

		if len(otherReady) == 0 {
			continue
		}

		sem := semaphore.NewWeighted(int64(maxWorkers))
		eg, egCtx := errgroup.WithContext(ctx)
		for _, id := range otherReady {
			id := id
			n := byID[id]
			if err := sem.Acquire(egCtx, 1); err != nil {
				break
			}
			eg.Go(func() error {
				defer sem.Release(1)
				suspended, err := rn.runOneNode(egCtx, execCtx, n, policy)
				if err != nil {
					return err
				}
				if suspended {
					return planerr.New(planerr.CodeInputValidationFailed, "a UI node outside plan.ui.layout requested suspension").WithNode(n.ID)
				}
				return nil
			})
		}
		if err := eg.Wait(); err != nil {
			return false, err
		}
		for _, id := range otherReady {
			done[id] = true
		}
	}

	return false, nil
}

// readySet returns every not-yet-done node whose dependencies (per the
// graph's ${node...} edges) have all completed, in node declaration order.
func (rn *PlanRunner) readySet(g *graph.Graph, byID map[string]planmodel.Node, done map[string]bool, execCtx *ExecutionContext) []string {
	var ready []string
	for _, id := range g.Nodes {
		if done[id] {
			continue
		}
		ok := true
		for dep := range g.DependsOn[id] {
			if !execCtx.Completed(dep) {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, id)
		}
	}
	return ready
}

// splitUI partitions ready node ids into UI nodes (sorted by their position
// in plan.ui.layout, run sequentially on the caller's path) and the rest
// (dispatched concurrently through the worker pool).
func splitUI(ready []string, uiOrder map[string]int) (ui []string, other []string) {
	for _, id := range ready {
		if _, isUI := uiOrder[id]; isUI {
			ui = append(ui, id)
		} else {
			other = append(other, id)
		}
	}
	for i := 0; i < len(ui); i++ {
		for j := i + 1; j < len(ui); j++ {
			if uiOrder[ui[j]] < uiOrder[ui[i]] {
				ui[i], ui[j] = ui[j], ui[i]
			}
		}
	}
	return ui, other
}

// runOneNode evaluates n's guard, dispatches it by kind, records its output
// or skip in execCtx, and emits the associated evidence events. suspended
// is true only for a UI node that requested await.
func (rn *PlanRunner) runOneNode(ctx context.Context, execCtx *ExecutionContext, n planmodel.Node, policy planmodel.Policy) (suspended bool, err error) {
	scope := rn.scopeFor(execCtx)

	if n.Guard != nil {
		ok, err := rn.Guard.Evaluate(n.Guard, scope)
		if err != nil {
			return false, planerr.Wrap(planerr.CodeUnsafeExpression, err, "evaluating guard").WithNode(n.ID)
		}
		if !ok {
			execCtx.MarkSkipped(n.ID)
			execCtx.recordSkipped()
			rn.emit(execCtx, "node_skip", n.ID, map[string]any{"reason": "when_false"})
			return false, nil
		}
	}

	nodePolicy := policy.Merge(n.PolicyOverride)
	start := time.Now()

	switch n.EffectiveKind() {
	case planmodel.NodeKindBlock:
		return rn.runBlockNode(ctx, execCtx, n, nodePolicy, scope, start)
	case planmodel.NodeKindLoop:
		rn.emit(execCtx, "node_start", n.ID, map[string]any{"block": "", "attempt": 1})
		out, err := rn.executeLoop(ctx, execCtx, n, nodePolicy)
		if err != nil {
			return rn.handleNodeError(execCtx, n, nodePolicy, err)
		}
		execCtx.SetOutput(n.ID, out)
		execCtx.recordSucceeded()
		rn.emit(execCtx, "node_finish", n.ID, map[string]any{
			"outputs_summary": outputsSummary(out),
			"elapsed_ms":      time.Since(start).Milliseconds(),
			"attempts":        1,
		})
		return false, nil
	case planmodel.NodeKindSubflow:
		rn.emit(execCtx, "node_start", n.ID, map[string]any{"block": "", "attempt": 1})
		out, err := rn.executeSubflow(ctx, execCtx, n)
		if err != nil {
			return rn.handleNodeError(execCtx, n, nodePolicy, err)
		}
		execCtx.SetOutput(n.ID, out)
		execCtx.recordSucceeded()
		rn.emit(execCtx, "node_finish", n.ID, map[string]any{
			"outputs_summary": outputsSummary(out),
			"elapsed_ms":      time.Since(start).Milliseconds(),
			"attempts":        1,
		})
		return false, nil
	default:
		return false, planerr.New(planerr.CodeInputValidationFailed, "unknown node kind").WithNode(n.ID)
	}
}

// outputsSummary reduces a node's raw output values to a shape-only preview
// (field name -> value kind) for node_finish evidence, so the evidence log
// doesn't duplicate potentially large or sensitive output payloads.
func outputsSummary(out map[string]any) map[string]string {
	summary := make(map[string]string, len(out))
	for k, v := range out {
		summary[k] = valueKind(v)
	}
	return summary
}

func valueKind(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "bool"
	case []any:
		return fmt.Sprintf("array[%d]", len(x))
	case map[string]any:
		return fmt.Sprintf("object{%d}", len(x))
	default:
		return "number"
	}
}

func (rn *PlanRunner) runBlockNode(ctx context.Context, execCtx *ExecutionContext, n planmodel.Node, policy planmodel.Policy, scope resolver.Scope, start time.Time) (bool, error) {
	resolved, err := resolver.New().Resolve(scope, n.In, false)
	if err != nil {
		return rn.handleNodeError(execCtx, n, policy, err)
	}
	inputs, _ := resolved.(map[string]any)
	if inputs == nil {
		inputs = map[string]any{}
	}

	id, version := n.BlockRef()
	block, _, err := rn.Registry.Get(id, version)
	if err != nil {
		return rn.handleNodeError(execCtx, n, policy, planerr.Wrap(planerr.CodeInputValidationFailed, err, "resolving block"))
	}

	switch b := block.(type) {
	case registry.UIBlock:
		hadSubmission := false
		if sub, ok := execCtx.UIOutput(n.ID); ok {
			inputs["__submission"] = sub
			hadSubmission = true
		}
		rn.emit(execCtx, "node_start", n.ID, map[string]any{"block": id, "attempt": 1})
		out, err := b.Render(ctx, inputs, execCtx)
		if err != nil {
			return rn.handleNodeError(execCtx, n, policy, err)
		}
		if await, _ := out["__await_ui"].(bool); await {
			snap, _ := out["__snapshot"].(map[string]any)
			execCtx.SetPendingUI(&PendingUI{NodeID: n.ID, InputSnapshot: snap, Timestamp: time.Now().UTC().Format(time.RFC3339)})
			rn.emit(execCtx, "ui_wait", n.ID, map[string]any{"snapshot": snap})
			return true, nil
		}
		execCtx.SetUIOutput(n.ID, out)
		// A node reaching Render with an already-collected submission (set
		// by Resume before re-entering the graph) is finishing a prior
		// ui_wait round-trip: ui_submit. One that never awaited at all
		// resolved its inputs without a human in the loop: ui_reuse
		// (spec.md §6).
		if hadSubmission {
			rn.emit(execCtx, "ui_submit", n.ID, map[string]any{"output": out})
		} else {
			rn.emit(execCtx, "ui_reuse", n.ID, map[string]any{"output": out})
		}
		aliased := applyAliases(n.Out, out)
		execCtx.SetOutput(n.ID, aliased)
		execCtx.recordSucceeded()
		rn.emit(execCtx, "node_finish", n.ID, map[string]any{
			"outputs_summary": outputsSummary(aliased),
			"elapsed_ms":      time.Since(start).Milliseconds(),
			"attempts":        1,
		})
		return false, nil

	case registry.ProcessingBlock:
		out, attempts, err := runWithPolicy(ctx, policy,
			func(attemptNum int) {
				rn.emit(execCtx, "node_start", n.ID, map[string]any{"block": id, "attempt": attemptNum})
			},
			func(attemptNum int, attemptErr error) {
				execCtx.addRetries(1)
				code := planerr.CodeDependencyFailed
				recoverable := true
				if pe, ok := attemptErr.(*planerr.Error); ok {
					code = pe.Code
					recoverable = pe.Recoverable
				}
				rn.emit(execCtx, "error", n.ID, map[string]any{
					"code":        code,
					"message":     attemptErr.Error(),
					"recoverable": recoverable,
					"retry":       true,
				})
			},
			func(attemptCtx context.Context) (map[string]any, error) {
				return b.Run(attemptCtx, inputs)
			},
		)
		if err != nil {
			return rn.handleNodeError(execCtx, n, policy, err)
		}
		aliased := applyAliases(n.Out, out)
		execCtx.SetOutput(n.ID, aliased)
		execCtx.recordSucceeded()
		rn.emit(execCtx, "node_finish", n.ID, map[string]any{
			"outputs_summary": outputsSummary(aliased),
			"elapsed_ms":      time.Since(start).Milliseconds(),
			"attempts":        attempts,
		})
		return false, nil

	default:
		return rn.handleNodeError(execCtx, n, policy, planerr.New(planerr.CodeBlockInternal, "block implements neither ProcessingBlock nor UIBlock"))
	}
}

// applyAliases remaps a Block's raw outputs through the node's `out:`
// block (keyed by <block_output>, valued by <alias>; spec.md §6). Absent
// `out:`, outputs pass through unaliased.
func applyAliases(out map[string]string, raw map[string]any) map[string]any {
	if len(out) == 0 {
		return raw
	}
	aliased := make(map[string]any, len(out))
	for fieldName, alias := range out {
		aliased[alias] = raw[fieldName]
	}
	return aliased
}

// handleNodeError applies on_error policy (spec.md §4.7.3): "halt"/"retry"
// (already exhausted by runWithPolicy) propagate the error and stop the
// level; "continue" records the node as completed-without-output so
// independent siblings still run, and lets dependents fail at reference
// resolution instead of at scheduling time. Either way the node counts
// toward finish_summary.errored (spec.md §7: "the caller can inspect
// finish_summary.errored").
func (rn *PlanRunner) handleNodeError(execCtx *ExecutionContext, n planmodel.Node, policy planmodel.Policy, cause error) (bool, error) {
	code := planerr.CodeDependencyFailed
	recoverable := false
	if pe, ok := cause.(*planerr.Error); ok {
		code = pe.Code
		recoverable = pe.Recoverable
	}
	execCtx.recordErrored()
	rn.emit(execCtx, "error", n.ID, map[string]any{
		"code":        code,
		"message":     cause.Error(),
		"recoverable": recoverable,
		"retry":       false,
	})
	if policy.OnError == planmodel.OnErrorContinue {
		execCtx.MarkSkipped(n.ID)
		return false, nil
	}
	return false, planerr.Wrap(planerr.CodeDependencyFailed, cause, "node failed").WithNode(n.ID)
}

// emit logs a JSONL evidence record if the Runner was configured with a
// Logger, swallowing write errors as non-fatal (spec.md §4.8: the Evidence
// Logger is best-effort observability, not part of the execution contract).
func (rn *PlanRunner) emit(execCtx *ExecutionContext, eventType, nodeID string, fields map[string]any) {
	if rn.Evidence == nil {
		return
	}
	if fields == nil {
		fields = map[string]any{}
	}
	fields["node_id"] = nodeID
	_ = rn.Evidence.Emit(time.Now().UTC(), execCtx.PlanID, execCtx.ID, eventType, fields)
}

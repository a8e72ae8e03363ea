package runner

import (
	"context"
	"fmt"
	"sort"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/lyzr/planrunner/common/guard"
	"github.com/lyzr/planrunner/common/planerr"
	"github.com/lyzr/planrunner/common/planmodel"
	"github.com/lyzr/planrunner/common/resolver"
)

// executeLoop runs a loop node's body once per foreach element, or
// repeatedly while its guard holds, aggregating the body's exported values
// under the node's `collect` alias (spec.md §4.7.4).
func (rn *PlanRunner) executeLoop(ctx context.Context, execCtx *ExecutionContext, n planmodel.Node, policy planmodel.Policy) (map[string]any, error) {
	if n.Body == nil {
		return nil, planerr.New(planerr.CodeInputValidationFailed, "loop node has no body").WithNode(n.ID)
	}
	switch {
	case n.Foreach != nil:
		return rn.executeForeach(ctx, execCtx, n, policy)
	case n.While != nil:
		return rn.executeWhile(ctx, execCtx, n, policy)
	default:
		return nil, planerr.New(planerr.CodeInputValidationFailed, "loop node has neither foreach nor while").WithNode(n.ID)
	}
}

// foreachElement is one iteration's bound value, plus the source key when
// foreach.input resolved to a map rather than a sequence (spec.md §4.7.4
// "Evaluate foreach.input to a sequence (or map → values)").
type foreachElement struct {
	key   string
	value any
}

func foreachElements(resolved any) ([]foreachElement, error) {
	switch v := resolved.(type) {
	case []any:
		elems := make([]foreachElement, len(v))
		for i, item := range v {
			elems[i] = foreachElement{value: item}
		}
		return elems, nil
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		elems := make([]foreachElement, len(keys))
		for i, k := range keys {
			elems[i] = foreachElement{key: k, value: v[k]}
		}
		return elems, nil
	default:
		return nil, planerr.New(planerr.CodeInputValidationFailed, "foreach.input did not resolve to an array or object")
	}
}

// iterFields builds the {index, key?} payload for loop_iter_start/finish
// (spec.md §6, §4.7.4: "Events loop_iter_start/loop_iter_finish carry index
// (and key if the source was a map)").
func iterFields(idx int, key string) map[string]any {
	f := map[string]any{"index": idx}
	if key != "" {
		f["key"] = key
	}
	return f
}

func (rn *PlanRunner) executeForeach(ctx context.Context, execCtx *ExecutionContext, n planmodel.Node, policy planmodel.Policy) (map[string]any, error) {
	scope := rn.scopeFor(execCtx)
	resolved, err := resolver.New().Resolve(scope, n.Foreach.Input, false)
	if err != nil {
		return nil, planerr.Wrap(planerr.CodeUnresolvedReference, err, "resolving foreach.input").WithNode(n.ID)
	}
	elems, err := foreachElements(resolved)
	if err != nil {
		return nil, err.(*planerr.Error).WithNode(n.ID)
	}

	maxConcurrency := n.Foreach.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = policy.Concurrency.DefaultMaxWorkers
	}
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}

	results := make([]map[string]any, len(elems))
	sem := semaphore.NewWeighted(int64(maxConcurrency))
	eg, egCtx := errgroup.WithContext(ctx)

	for idx, el := range elems {
		idx, el := idx, el
		if err := sem.Acquire(egCtx, 1); err != nil {
			break
		}
		eg.Go(func() error {
			defer sem.Release(1)

			rn.emit(execCtx, "loop_iter_start", n.ID, iterFields(idx, el.key))

			iterVars := map[string]any{}
			for k, v := range execCtx.Vars {
				iterVars[k] = v
			}
			iterVars[n.Foreach.ItemVar] = el.value
			if n.Foreach.IndexVar != "" {
				iterVars[n.Foreach.IndexVar] = idx
			}

			iterCtx := NewExecutionContext(egCtx, execCtx.PlanID, fmt.Sprintf("%s#%s:%d", execCtx.ID, n.ID, idx), iterVars, execCtx.VarsOverrides)
			defer iterCtx.Cancel()

			if suspended, err := rn.runGraph(egCtx, iterCtx, n.Body.Plan.Graph, policy, nil); err != nil {
				return err
			} else if suspended {
				return planerr.New(planerr.CodeInputValidationFailed, "UI blocks are not permitted inside loop bodies").WithNode(n.ID)
			}

			results[idx] = exportsOf(iterCtx, n.Body.Plan.Exports)
			rn.emit(execCtx, "loop_iter_finish", n.ID, iterFields(idx, el.key))
			return nil
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	return collectOutput(n.Collect, pluckCollect(results, n.Collect)), nil
}

func (rn *PlanRunner) executeWhile(ctx context.Context, execCtx *ExecutionContext, n planmodel.Node, policy planmodel.Policy) (map[string]any, error) {
	maxIterations := n.While.MaxIterations
	if maxIterations <= 0 {
		maxIterations = 1
	}

	loopVars := map[string]any{}
	var collected []any

	ev := rn.Guard
	if ev == nil {
		ev = guard.NewEvaluator()
	}

	for i := 0; ; i++ {
		cond := rn.whileScope(execCtx, loopVars)
		ok, err := ev.Evaluate(&n.While.Condition, cond)
		if err != nil {
			return nil, planerr.Wrap(planerr.CodeUnsafeExpression, err, "evaluating while.condition").WithNode(n.ID)
		}
		if !ok {
			return collectOutput(n.Collect, collected), nil
		}
		if i >= maxIterations {
			return nil, planerr.New(planerr.CodeLoopBoundExceeded, "while loop exceeded max_iterations").WithNode(n.ID)
		}

		rn.emit(execCtx, "loop_iter_start", n.ID, iterFields(i, ""))

		iterVars := map[string]any{}
		for k, v := range execCtx.Vars {
			iterVars[k] = v
		}
		for k, v := range loopVars {
			iterVars[k] = v
		}

		iterCtx := NewExecutionContext(ctx, execCtx.PlanID, fmt.Sprintf("%s#%s:%d", execCtx.ID, n.ID, i), iterVars, execCtx.VarsOverrides)
		suspended, err := rn.runGraph(ctx, iterCtx, n.Body.Plan.Graph, policy, nil)
		iterCtx.Cancel()
		if err != nil {
			return nil, err
		}
		if suspended {
			return nil, planerr.New(planerr.CodeInputValidationFailed, "UI blocks are not permitted inside loop bodies").WithNode(n.ID)
		}

		exports := exportsOf(iterCtx, n.Body.Plan.Exports)
		for k, v := range exports {
			loopVars[k] = v
		}
		if n.Collect != "" {
			collected = append(collected, exports[n.Collect])
		} else {
			collected = append(collected, exports)
		}
		rn.emit(execCtx, "loop_iter_finish", n.ID, iterFields(i, ""))
	}
}

// whileScope builds a guard-evaluation scope that overlays the loop's
// accumulated export vars (from prior iterations) on top of the outer
// Execution Context.
func (rn *PlanRunner) whileScope(execCtx *ExecutionContext, loopVars map[string]any) resolver.Scope {
	s := rn.scopeFor(execCtx)
	merged := map[string]any{}
	for k, v := range s.Vars {
		merged[k] = v
	}
	for k, v := range loopVars {
		merged[k] = v
	}
	s.Vars = merged
	return s
}

// exportsOf reads a completed body Execution Context's node outputs
// through its Exports list (each `From` is "<nodeID>[.path]").
func exportsOf(execCtx *ExecutionContext, exports []planmodel.Export) map[string]any {
	out := make(map[string]any, len(exports))
	for _, exp := range exports {
		nodeID, field, hasField := cutDot(exp.From)
		nodeOut, ok := execCtx.Output(nodeID)
		if !ok {
			continue
		}
		if !hasField {
			out[exp.As] = nodeOut
		} else {
			out[exp.As] = nodeOut[field]
		}
	}
	return out
}

func cutDot(s string) (before, after string, found bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

// pluckCollect extracts the body export named by collect from each
// iteration's full export map, in input order (spec.md §4.7.4: "collect the
// exported `collect` alias into a sequence" — `collect` names a body export,
// not a wrapper key). When collect is unset the full export map of each
// iteration is kept, for collectOutput's last-iteration passthrough.
func pluckCollect(results []map[string]any, collect string) []any {
	items := make([]any, len(results))
	for i, r := range results {
		if r == nil {
			r = map[string]any{}
		}
		if collect != "" {
			items[i] = r[collect]
		} else {
			items[i] = r
		}
	}
	return items
}

// collectOutput aggregates a loop's per-iteration values under the node's
// `collect` alias (e.g. `out.collect=doubled` yields `{doubled: [2,4,6]}`,
// spec.md §8 scenario 3), or passes the last iteration's exported shape
// through unwrapped when collect is unset.
func collectOutput(collect string, items []any) map[string]any {
	if collect != "" {
		return map[string]any{collect: items}
	}
	if len(items) == 0 {
		return map[string]any{}
	}
	if m, ok := items[len(items)-1].(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

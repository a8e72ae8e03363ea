// Package dryrun implements the Dry-run Engine (spec.md §4.6): walk a Plan's
// nodes in topological order, synthesizing representative outputs from each
// Block Spec's declared schema instead of invoking Run/Render, without any
// external effect. Node inputs are not resolved against the synthesized
// outputs: a dry run reports unknown blocks, unknown node kinds and cycles,
// but not references that would fail at run time.
package dryrun

import (
	"fmt"

	"github.com/lyzr/planrunner/common/blockspec"
	"github.com/lyzr/planrunner/common/graph"
	"github.com/lyzr/planrunner/common/planerr"
	"github.com/lyzr/planrunner/common/planmodel"
	"github.com/lyzr/planrunner/common/registry"
	"github.com/lyzr/planrunner/common/resolver"
)

// Result is the synthesized outcome of a dry run: the per-node, per-alias
// output values a live Run would have produced, in node id order.
type Result struct {
	Outputs map[string]map[string]any
}

// Run synthesizes outputs for every node of plan in topological order
// (spec.md §4.6). Node `in` values are never resolved; the resolver scope
// built here only passes vars on to loop bodies.
func Run(plan *planmodel.Plan, reg *registry.Registry, vars map[string]any) (*Result, error) {
	g, err := graph.Build(plan.Graph)
	if err != nil {
		return nil, err
	}
	order, err := g.TopoSort()
	if err != nil {
		return nil, err
	}

	byID := make(map[string]planmodel.Node, len(plan.Graph))
	for _, n := range plan.Graph {
		byID[n.ID] = n
	}

	res := &Result{Outputs: make(map[string]map[string]any, len(plan.Graph))}

	scope := func() resolver.Scope {
		return resolver.Scope{
			Vars:   vars,
			Env:    func(string) (string, bool) { return "", false },
			Config: func(string) (any, bool) { return nil, false },
			Outputs: func(nodeID string) (map[string]any, bool) {
				out, ok := res.Outputs[nodeID]
				return out, ok
			},
		}
	}

	for _, id := range order {
		n := byID[id]
		switch n.EffectiveKind() {
		case planmodel.NodeKindBlock:
			_, spec, err := reg.Get(n.BlockRef())
			if err != nil {
				return nil, fmt.Errorf("dryrun: node %s: %w", n.ID, err)
			}
			out := synthesizeOutputs(spec)
			aliased := make(map[string]any, len(n.Out))
			if len(n.Out) == 0 {
				aliased = out
			} else {
				for fieldName, alias := range n.Out {
					aliased[alias] = out[fieldName]
				}
			}
			res.Outputs[id] = aliased

		case planmodel.NodeKindLoop:
			bodyOut, err := dryRunBody(n, reg, scope())
			if err != nil {
				return nil, err
			}
			if n.Collect != "" {
				res.Outputs[id] = map[string]any{n.Collect: []any{bodyOut}}
			} else {
				res.Outputs[id] = bodyOut
			}

		case planmodel.NodeKindSubflow:
			out := make(map[string]any, len(n.Exports))
			for _, exp := range n.Exports {
				out[exp.As] = map[string]any{}
			}
			res.Outputs[id] = out

		default:
			return nil, planerr.New(planerr.CodeInputValidationFailed, fmt.Sprintf("dryrun: node %s has unknown kind %q", n.ID, n.Kind))
		}
	}

	return res, nil
}

// dryRunBody synthesizes a one-iteration pass over a loop's body plan and
// returns its exported alias map (spec.md §4.6: "synthesize the collect
// alias as a one-element sequence of the body's exported shape").
func dryRunBody(n planmodel.Node, reg *registry.Registry, outerScope resolver.Scope) (map[string]any, error) {
	if n.Body == nil {
		return map[string]any{}, nil
	}
	bodyPlan := &planmodel.Plan{Graph: n.Body.Plan.Graph, Vars: outerScope.Vars}
	bodyRes, err := Run(bodyPlan, reg, outerScope.Vars)
	if err != nil {
		return nil, fmt.Errorf("dryrun: loop %s body: %w", n.ID, err)
	}

	out := make(map[string]any, len(n.Body.Plan.Exports))
	for _, exp := range n.Body.Plan.Exports {
		nodeID, field, _ := cut(exp.From)
		if nodeOut, ok := bodyRes.Outputs[nodeID]; ok {
			if field == "" {
				out[exp.As] = nodeOut
			} else {
				out[exp.As] = nodeOut[field]
			}
		}
	}
	return out, nil
}

func cut(s string) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

// synthesizeOutputs builds one representative value per declared output
// field: dry_run.samples when the Spec author provided one, otherwise a
// minimal value for the declared type (spec.md §4.6).
func synthesizeOutputs(spec *blockspec.Spec) map[string]any {
	out := make(map[string]any, len(spec.Outputs))
	var samples map[string]any
	if spec.DryRun != nil {
		samples = spec.DryRun.Samples
	}
	for name, field := range spec.Outputs {
		if samples != nil {
			if v, ok := samples[name]; ok {
				out[name] = v
				continue
			}
		}
		out[name] = zeroValue(field.Type)
	}
	return out
}

func zeroValue(t blockspec.FieldType) any {
	switch t {
	case blockspec.TypeString:
		return ""
	case blockspec.TypeNumber, blockspec.TypeInteger:
		return 0
	case blockspec.TypeBoolean:
		return false
	case blockspec.TypeArray:
		return []any{}
	case blockspec.TypeObject:
		return map[string]any{}
	default:
		return nil
	}
}

// Package validate implements the Plan's static Validator (spec.md §4.5):
// eight independent checks that all run regardless of earlier failures,
// aggregating into a single planerr.ValidationError. Grounded on the
// teacher's common/validation/patch_validator.go, generalized from that
// validator's fail-fast single-error style to an accumulating one, since
// spec.md explicitly requires the full set of messages rather than the
// first failure.
package validate

import (
	"fmt"
	"os"
	"strings"

	"github.com/lyzr/planrunner/common/graph"
	"github.com/lyzr/planrunner/common/guard"
	"github.com/lyzr/planrunner/common/planerr"
	"github.com/lyzr/planrunner/common/planmodel"
	"github.com/lyzr/planrunner/common/registry"
	"github.com/lyzr/planrunner/common/resolver"
)

// Options supplies the external lookups the subflow and config checks need;
// all fields are optional, and a nil field degrades its check to a no-op
// rather than failing closed (static validation cannot load everything the
// Runner will have available at run time).
type Options struct {
	// ResolveSubflow locates a child Plan by id, for check 8.
	ResolveSubflow func(planID string) (*planmodel.Plan, bool)
	// ConfigHasKey reports whether a dotted config path is defined, for
	// check 3.
	ConfigHasKey func(path string) bool
}

// level is one graph scope: the top-level Plan graph, or a Loop node's
// nested body graph. Node id uniqueness and cycle detection are scoped per
// level; reference/registry/guard checks run over every level.
type level struct {
	label string
	nodes []planmodel.Node
}

// Validate runs all eight checks over plan and returns a
// *planerr.ValidationError whenever any message has Severity "error". A nil
// return means the plan is valid (though it may still carry warnings,
// inspectable by running the checks directly if ever needed).
func Validate(plan *planmodel.Plan, reg *registry.Registry, opts Options) error {
	levels := collectLevels(plan)

	var messages []planerr.Message
	messages = append(messages, checkSchemaIntegrity(plan, levels)...)
	messages = append(messages, checkRegistryBinding(levels, reg)...)
	messages = append(messages, checkReferenceResolvability(plan, levels, opts)...)
	messages = append(messages, checkCycles(levels)...)
	messages = append(messages, checkUILayout(plan)...)
	messages = append(messages, checkGuardSyntax(levels)...)
	messages = append(messages, checkLoopPreconditions(levels)...)
	messages = append(messages, checkSubflowResolvability(levels, opts)...)

	ve := &planerr.ValidationError{Messages: messages}
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func collectLevels(plan *planmodel.Plan) []level {
	var levels []level
	var walk func(nodes []planmodel.Node, label string)
	walk = func(nodes []planmodel.Node, label string) {
		levels = append(levels, level{label: label, nodes: nodes})
		for _, n := range nodes {
			if n.EffectiveKind() == planmodel.NodeKindLoop && n.Body != nil {
				walk(n.Body.Plan.Graph, fmt.Sprintf("%s.%s.body", label, n.ID))
			}
		}
	}
	walk(plan.Graph, "plan")
	return levels
}

func errMsg(check, nodeID, format string, args ...any) planerr.Message {
	return planerr.Message{Severity: "error", Check: check, NodeID: nodeID, Text: fmt.Sprintf(format, args...)}
}

// --- 1. Schema integrity ---------------------------------------------------

func checkSchemaIntegrity(plan *planmodel.Plan, levels []level) []planerr.Message {
	var msgs []planerr.Message
	const check = "schema_integrity"

	if plan.ID == "" {
		msgs = append(msgs, errMsg(check, "", "plan is missing an id"))
	}
	if plan.APIVersion == "" {
		msgs = append(msgs, errMsg(check, "", "plan is missing api_version"))
	}

	for _, lvl := range levels {
		seen := make(map[string]bool, len(lvl.nodes))
		for _, n := range lvl.nodes {
			if n.ID == "" {
				msgs = append(msgs, errMsg(check, "", "%s: node is missing an id", lvl.label))
				continue
			}
			if seen[n.ID] {
				msgs = append(msgs, errMsg(check, n.ID, "%s: duplicate node id %q", lvl.label, n.ID))
			}
			seen[n.ID] = true

			switch n.EffectiveKind() {
			case planmodel.NodeKindBlock:
				if n.Block == "" {
					msgs = append(msgs, errMsg(check, n.ID, "block node is missing a block reference"))
				}
			case planmodel.NodeKindLoop:
				if n.Foreach == nil && n.While == nil {
					msgs = append(msgs, errMsg(check, n.ID, "loop node has neither foreach nor while"))
				}
				if n.Foreach != nil && n.While != nil {
					msgs = append(msgs, errMsg(check, n.ID, "loop node has both foreach and while"))
				}
				if n.Body == nil {
					msgs = append(msgs, errMsg(check, n.ID, "loop node is missing a body"))
				}
			case planmodel.NodeKindSubflow:
				if n.Call == nil || n.Call.PlanID == "" {
					msgs = append(msgs, errMsg(check, n.ID, "subflow node is missing call.plan_id"))
				}
			default:
				msgs = append(msgs, errMsg(check, n.ID, "unknown node type %q", n.Kind))
			}
		}
	}

	return msgs
}

// --- 2. Registry binding ---------------------------------------------------

func checkRegistryBinding(levels []level, reg *registry.Registry) []planerr.Message {
	var msgs []planerr.Message
	const check = "registry_binding"
	if reg == nil {
		return msgs
	}

	for _, lvl := range levels {
		for _, n := range lvl.nodes {
			if n.EffectiveKind() != planmodel.NodeKindBlock || n.Block == "" {
				continue
			}
			id, version := n.BlockRef()
			_, spec, err := reg.Get(id, version)
			if err != nil {
				msgs = append(msgs, errMsg(check, n.ID, "block %q is not registered: %v", n.Block, err))
				continue
			}
			for inputName := range n.In {
				if !registry.HasInput(spec, inputName) {
					msgs = append(msgs, errMsg(check, n.ID, "input alias %q is not declared by block %s@%s", inputName, spec.ID, spec.Version))
				}
			}
			for outputName, alias := range n.Out {
				if !registry.HasOutput(spec, outputName) {
					msgs = append(msgs, errMsg(check, n.ID, "out alias %q refers to undeclared output %q on block %s@%s", alias, outputName, spec.ID, spec.Version))
				}
			}
		}
	}
	return msgs
}

// --- 3. Reference resolvability --------------------------------------------

func checkReferenceResolvability(plan *planmodel.Plan, levels []level, opts Options) []planerr.Message {
	var msgs []planerr.Message
	const check = "reference_resolvability"

	for _, lvl := range levels {
		ids := make(map[string]bool, len(lvl.nodes))
		for _, n := range lvl.nodes {
			ids[n.ID] = true
		}
		for _, n := range lvl.nodes {
			for _, expr := range nodePlaceholders(n) {
				ns, path, _ := strings.Cut(expr, ".")
				switch ns {
				case "vars":
					head, _, _ := strings.Cut(path, ".")
					if _, ok := lookupCaseInsensitive(plan.Vars, head); !ok {
						msgs = append(msgs, errMsg(check, n.ID, "reference to undefined var %q", head))
					}
				case "env":
					if path == "" {
						msgs = append(msgs, errMsg(check, n.ID, "env reference is missing a key"))
						break
					}
					if _, ok := os.LookupEnv(path); !ok {
						msgs = append(msgs, errMsg(check, n.ID, "environment key %q is not set", path))
					}
				case "config":
					if opts.ConfigHasKey != nil && !opts.ConfigHasKey(path) {
						msgs = append(msgs, errMsg(check, n.ID, "config key %q is not defined", path))
					}
				default:
					if !ids[ns] {
						msgs = append(msgs, errMsg(check, n.ID, "reference to unknown node %q", ns))
					}
				}
				// node-id references must name a node of the same level;
				// their ordering is the cycle check's concern.
			}
		}
	}
	return msgs
}

func nodePlaceholders(n planmodel.Node) []string {
	var exprs []string
	exprs = append(exprs, resolver.CollectPlaceholders(n.In)...)
	if n.Guard != nil {
		exprs = append(exprs, resolver.CollectPlaceholders(n.Guard.Expr)...)
		exprs = append(exprs, resolver.CollectPlaceholders(n.Guard.Left)...)
		exprs = append(exprs, resolver.CollectPlaceholders(n.Guard.Right)...)
	}
	if n.Foreach != nil {
		exprs = append(exprs, resolver.CollectPlaceholders(n.Foreach.Input)...)
	}
	if n.While != nil {
		exprs = append(exprs, resolver.CollectPlaceholders(n.While.Condition.Expr)...)
		exprs = append(exprs, resolver.CollectPlaceholders(n.While.Condition.Left)...)
		exprs = append(exprs, resolver.CollectPlaceholders(n.While.Condition.Right)...)
	}
	if n.Call != nil {
		exprs = append(exprs, resolver.CollectPlaceholders(n.Call.Inputs)...)
	}
	return exprs
}

func lookupCaseInsensitive(m map[string]any, key string) (any, bool) {
	if v, ok := m[key]; ok {
		return v, true
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

// --- 4. Cycle detection -----------------------------------------------------

func checkCycles(levels []level) []planerr.Message {
	var msgs []planerr.Message
	const check = "cycle_detection"

	for _, lvl := range levels {
		g, err := graph.Build(lvl.nodes)
		if err != nil {
			msgs = append(msgs, errMsg(check, "", "%s: %v", lvl.label, err))
			continue
		}
		if _, err := g.TopoSort(); err != nil {
			msgs = append(msgs, errMsg(check, "", "%s: %v", lvl.label, err))
		}
	}
	return msgs
}

// --- 5. UI layout consistency -----------------------------------------------

func checkUILayout(plan *planmodel.Plan) []planerr.Message {
	var msgs []planerr.Message
	const check = "ui_layout_consistency"

	known := make(map[string]bool, len(plan.Graph))
	for _, n := range plan.Graph {
		known[n.ID] = true
	}
	for _, id := range plan.UI.Layout {
		if !known[id] {
			msgs = append(msgs, errMsg(check, id, "ui.layout names undefined node %q", id))
		}
	}
	return msgs
}

// --- 6. Guard syntax ---------------------------------------------------------

func checkGuardSyntax(levels []level) []planerr.Message {
	var msgs []planerr.Message
	const check = "guard_syntax"

	checkOne := func(nodeID string, g *planmodel.Guard) {
		if g == nil || g.Structured() || g.Expr == "" {
			return
		}
		if _, err := guard.Parse(g.Expr); err != nil {
			msgs = append(msgs, errMsg(check, nodeID, "invalid guard expression %q: %v", g.Expr, err))
		}
	}

	for _, lvl := range levels {
		for _, n := range lvl.nodes {
			checkOne(n.ID, n.Guard)
			if n.While != nil {
				checkOne(n.ID, &n.While.Condition)
			}
		}
	}
	return msgs
}

// --- 7. Loop preconditions ---------------------------------------------------

func checkLoopPreconditions(levels []level) []planerr.Message {
	var msgs []planerr.Message
	const check = "loop_preconditions"

	for _, lvl := range levels {
		for _, n := range lvl.nodes {
			if n.EffectiveKind() != planmodel.NodeKindLoop {
				continue
			}
			if n.Foreach != nil {
				if isStaticallyResolvable(n.Foreach.Input) {
					switch n.Foreach.Input.(type) {
					case []any, map[string]any:
					default:
						msgs = append(msgs, errMsg(check, n.ID, "foreach.input is statically known but not an array or object"))
					}
				}
			}
			if n.While != nil {
				if n.While.MaxIterations < 1 {
					msgs = append(msgs, errMsg(check, n.ID, "while.max_iterations must be >= 1, got %d", n.While.MaxIterations))
				}
			}
		}
	}
	return msgs
}

// isStaticallyResolvable reports whether value contains no `${...}`
// placeholders at all, i.e. its shape is fully known without running
// anything.
func isStaticallyResolvable(value any) bool {
	return len(resolver.CollectPlaceholders(value)) == 0
}

// --- 8. Subflow resolvability -------------------------------------------------

func checkSubflowResolvability(levels []level, opts Options) []planerr.Message {
	var msgs []planerr.Message
	const check = "subflow_resolvability"

	for _, lvl := range levels {
		for _, n := range lvl.nodes {
			if n.EffectiveKind() != planmodel.NodeKindSubflow || n.Call == nil {
				continue
			}
			var child *planmodel.Plan
			if opts.ResolveSubflow != nil {
				var ok bool
				child, ok = opts.ResolveSubflow(n.Call.PlanID)
				if !ok {
					msgs = append(msgs, errMsg(check, n.ID, "subflow plan %q could not be located", n.Call.PlanID))
					continue
				}
			}
			for _, exp := range n.Exports {
				if exp.From == "" || exp.As == "" {
					msgs = append(msgs, errMsg(check, n.ID, "subflow export entry has an empty from/as"))
				}
			}
			if child != nil {
				for inputName := range n.Call.Inputs {
					if _, ok := lookupCaseInsensitive(child.Vars, inputName); !ok {
						msgs = append(msgs, errMsg(check, n.ID, "subflow input %q has no matching var declared in plan %q", inputName, child.ID))
					}
				}
			}
		}
	}
	return msgs
}

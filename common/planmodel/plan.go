// Package planmodel defines the typed document shapes the rest of the
// subsystem operates over: Plan, Node, Policy, Block Spec, and their YAML
// wire format (spec.md §3, §6 "Plan file format").
package planmodel

// Plan is a declarative DAG of Nodes plus policy and UI hints (spec §3).
type Plan struct {
	APIVersion string         `yaml:"api_version" json:"api_version"`
	ID         string         `yaml:"id" json:"id"`
	Version    string         `yaml:"version" json:"version"`
	Vars       map[string]any `yaml:"vars" json:"vars"`
	Policy     Policy         `yaml:"policy" json:"policy"`
	UI         UILayout       `yaml:"ui" json:"ui"`
	Graph      []Node         `yaml:"graph" json:"graph"`
}

// UILayout is the ordered list of node ids that are user-facing.
type UILayout struct {
	Layout []string `yaml:"layout" json:"layout"`
}

// Policy is the per-Plan (or per-node-override) retry/timeout/concurrency
// policy described in spec §4.7.3.
type Policy struct {
	OnError     OnError           `yaml:"on_error" json:"on_error"`
	Retries     int               `yaml:"retries" json:"retries"`
	TimeoutMS   int               `yaml:"timeout_ms" json:"timeout_ms"`
	Concurrency ConcurrencyPolicy `yaml:"concurrency" json:"concurrency"`
}

// OnError names one of the three failure policies.
type OnError string

const (
	OnErrorHalt     OnError = "halt"
	OnErrorContinue OnError = "continue"
	OnErrorRetry    OnError = "retry"
)

// ConcurrencyPolicy bounds the Processing worker pool.
type ConcurrencyPolicy struct {
	DefaultMaxWorkers int `yaml:"default_max_workers" json:"default_max_workers"`
}

// DefaultPolicy returns the Plan-level defaults named in spec §4.7.1/§4.7.3.
func DefaultPolicy() Policy {
	return Policy{
		OnError:   OnErrorHalt,
		Retries:   0,
		TimeoutMS: 0,
		Concurrency: ConcurrencyPolicy{
			DefaultMaxWorkers: 4,
		},
	}
}

// Merge overrides fields of the plan-level policy with any set on p,
// following spec §4.7.3's "may be overridden per node."
func (p Policy) Merge(override *Policy) Policy {
	if override == nil {
		return p
	}
	merged := p
	if override.OnError != "" {
		merged.OnError = override.OnError
	}
	if override.Retries != 0 {
		merged.Retries = override.Retries
	}
	if override.TimeoutMS != 0 {
		merged.TimeoutMS = override.TimeoutMS
	}
	if override.Concurrency.DefaultMaxWorkers != 0 {
		merged.Concurrency.DefaultMaxWorkers = override.Concurrency.DefaultMaxWorkers
	}
	return merged
}

// NodeKind distinguishes the three Node variants (spec §3).
type NodeKind string

const (
	NodeKindBlock   NodeKind = "block"
	NodeKindLoop    NodeKind = "loop"
	NodeKindSubflow NodeKind = "subflow"
)

// Node is a single entry in a Plan's graph. Exactly one of the kind-specific
// fields is populated depending on Kind. The `out:` block is polymorphic in
// the wire format (alias map for block nodes, {collect|exports} for loop and
// subflow nodes); see decode.go for the custom unmarshaller that resolves it.
type Node struct {
	ID    string   `json:"id"`
	Kind  NodeKind `json:"type,omitempty"` // empty => block
	Guard *Guard   `json:"when,omitempty"`

	// Block node fields.
	Block string            `json:"block,omitempty"`
	In    map[string]any    `json:"in,omitempty"`
	Out   map[string]string `json:"out,omitempty"`

	// Loop node fields.
	Foreach *ForeachSpec `json:"foreach,omitempty"`
	While   *WhileSpec   `json:"while,omitempty"`
	Body    *BodyPlan    `json:"body,omitempty"`
	Collect string       `json:"collect,omitempty"`

	// Subflow node fields.
	Call    *SubflowCall `json:"call,omitempty"`
	Exports []Export     `json:"exports,omitempty"`

	// PolicyOverride optionally narrows the plan-level policy for this node
	// (spec §4.7.3 "may be overridden per node").
	PolicyOverride *Policy `json:"policy,omitempty"`
}

// BlockRef splits a node's `block:` reference into its id and an optional
// pinned semantic version ("id@version").
func (n *Node) BlockRef() (id string, version string) {
	idx := -1
	for i := len(n.Block) - 1; i >= 0; i-- {
		if n.Block[i] == '@' {
			idx = i
			break
		}
	}
	if idx < 0 {
		return n.Block, ""
	}
	return n.Block[:idx], n.Block[idx+1:]
}

// EffectiveKind resolves the node's kind, defaulting to Block when Kind is
// unset (the common case: a bare `block:` node).
func (n *Node) EffectiveKind() NodeKind {
	if n.Kind != "" {
		return n.Kind
	}
	return NodeKindBlock
}

// Guard is a `when`/`while.condition` guard, either an expression string or
// a structured comparison (spec §4.3).
type Guard struct {
	Expr  string `yaml:"expr,omitempty" json:"expr,omitempty"`
	Left  any    `yaml:"left,omitempty" json:"left,omitempty"`
	Op    string `yaml:"op,omitempty" json:"op,omitempty"`
	Right any    `yaml:"right,omitempty" json:"right,omitempty"`
}

// Structured reports whether the guard uses the {left, op, right} form.
func (g *Guard) Structured() bool {
	return g != nil && g.Op != ""
}

// ForeachSpec describes a `foreach` loop node (spec §3).
type ForeachSpec struct {
	Input          any    `yaml:"input" json:"input"`
	ItemVar        string `yaml:"item_var" json:"item_var"`
	IndexVar       string `yaml:"index_var,omitempty" json:"index_var,omitempty"`
	MaxConcurrency int    `yaml:"max_concurrency,omitempty" json:"max_concurrency,omitempty"`
}

// WhileSpec describes a `while` loop node (spec §3).
type WhileSpec struct {
	Condition     Guard `yaml:"condition" json:"condition"`
	MaxIterations int   `yaml:"max_iterations" json:"max_iterations"`
}

// BodyPlan is the nested plan executed once per loop iteration.
type BodyPlan struct {
	Plan InnerPlan `yaml:"plan" json:"plan"`
}

// InnerPlan is a loop body's graph plus its exported aliases.
type InnerPlan struct {
	Graph   []Node   `yaml:"graph" json:"graph"`
	Exports []Export `yaml:"exports,omitempty" json:"exports,omitempty"`
}

// Export names a local alias exported out of a loop body or subflow.
type Export struct {
	From string `yaml:"from" json:"from"`
	As   string `yaml:"as" json:"as"`
}

// SubflowCall names the child Plan and its input bindings (spec §3).
type SubflowCall struct {
	PlanID string         `yaml:"plan_id" json:"plan_id"`
	Inputs map[string]any `yaml:"inputs,omitempty" json:"inputs,omitempty"`
}

// OutSpec is the generic `out:` block shape shared by loop/subflow nodes,
// used when decoding YAML before specializing into Collect/Exports.
type OutSpec struct {
	Collect string   `yaml:"collect,omitempty" json:"collect,omitempty"`
	Exports []Export `yaml:"exports,omitempty" json:"exports,omitempty"`
}

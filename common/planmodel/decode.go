package planmodel

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// rawNode mirrors the wire shape of a graph entry before the polymorphic
// `out:` block (alias map for Block nodes, {collect|exports} for Loop and
// Subflow nodes) is resolved against the node's kind.
type rawNode struct {
	ID             string         `yaml:"id"`
	Kind           NodeKind       `yaml:"type"`
	Guard          *Guard         `yaml:"when"`
	Block          string         `yaml:"block"`
	In             map[string]any `yaml:"in"`
	Out            yaml.Node      `yaml:"out"`
	Foreach        *ForeachSpec   `yaml:"foreach"`
	While          *WhileSpec     `yaml:"while"`
	Body           *BodyPlan      `yaml:"body"`
	Call           *SubflowCall   `yaml:"call"`
	PolicyOverride *Policy        `yaml:"policy"`
}

// UnmarshalYAML resolves the polymorphic `out:` block: a plain alias map for
// Block nodes, and a {collect, exports} structure for Loop/Subflow nodes.
func (n *Node) UnmarshalYAML(value *yaml.Node) error {
	var raw rawNode
	if err := value.Decode(&raw); err != nil {
		return err
	}

	*n = Node{
		ID:             raw.ID,
		Kind:           raw.Kind,
		Guard:          raw.Guard,
		Block:          raw.Block,
		In:             raw.In,
		Foreach:        raw.Foreach,
		While:          raw.While,
		Body:           raw.Body,
		Call:           raw.Call,
		PolicyOverride: raw.PolicyOverride,
	}

	if raw.Out.Kind == 0 {
		return nil
	}

	switch n.EffectiveKind() {
	case NodeKindBlock:
		var out map[string]string
		if err := raw.Out.Decode(&out); err != nil {
			return fmt.Errorf("node %s: decoding block out map: %w", n.ID, err)
		}
		n.Out = out
	case NodeKindLoop, NodeKindSubflow:
		var out OutSpec
		if err := raw.Out.Decode(&out); err != nil {
			return fmt.Errorf("node %s: decoding out spec: %w", n.ID, err)
		}
		n.Collect = out.Collect
		n.Exports = out.Exports
	default:
		return fmt.Errorf("node %s: unknown node type %q", n.ID, n.Kind)
	}

	return nil
}

// LoadPlan parses a Plan document (spec §6 "Plan file format").
func LoadPlan(data []byte) (*Plan, error) {
	var p Plan
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsing plan document: %w", err)
	}
	if p.Policy.Concurrency.DefaultMaxWorkers == 0 {
		p.Policy.Concurrency.DefaultMaxWorkers = DefaultPolicy().Concurrency.DefaultMaxWorkers
	}
	if p.Policy.OnError == "" {
		p.Policy.OnError = OnErrorHalt
	}
	return &p, nil
}

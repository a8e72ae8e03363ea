// Package ui ships the one worked-example UI Block, interactive_input,
// grounded on the teacher's two-phase request/response HITL worker
// (cmd/hitl-worker/worker/hitl_worker.go, cmd/workflow-runner/worker/hitl_worker.go):
// the first Render call requests suspension, and resume feeds the
// previously-collected submission back in for the second Render call to turn
// into outputs (spec.md §4.7.6).
package ui

import (
	"context"
	"fmt"

	"github.com/lyzr/planrunner/common/blockspec"
	"github.com/lyzr/planrunner/common/registry"
)

// Register installs interactive_input into r under the "builtin-ui" scheme.
func Register(r *registry.Registry) error {
	r.RegisterFactory("builtin-ui", newBuiltinUI)
	return r.AddSpec(interactiveInputSpec())
}

func newBuiltinUI(spec *blockspec.Spec) (registry.Block, error) {
	return &interactiveInputBlock{spec: spec}, nil
}

func interactiveInputSpec() *blockspec.Spec {
	return &blockspec.Spec{
		ID:         "interactive_input",
		Version:    "1.0.0",
		Entrypoint: "builtin-ui://interactive_input",
		Inputs: map[string]blockspec.Field{
			"prompt": {Type: blockspec.TypeString, Required: false},
		},
		Outputs: map[string]blockspec.Field{
			"collected": {Type: blockspec.TypeObject},
		},
		DryRun: &blockspec.DryRun{Samples: map[string]any{"collected": map[string]any{}}},
	}
}

// interactiveInputBlock requests the caller's input and, once submitted,
// passes it through verbatim as its "collected" output.
type interactiveInputBlock struct {
	spec *blockspec.Spec
}

func (b *interactiveInputBlock) Validate() error { return b.spec.SelfCheck() }

func (b *interactiveInputBlock) DryRun(inputs map[string]any) (map[string]any, error) {
	return map[string]any{"collected": map[string]any{}}, nil
}

// Render implements registry.UIBlock. When submission (the node's
// ui_outputs entry from a prior resume) is absent, it requests suspension;
// the Runner is expected to pass the previously-collected submission back on
// resume per spec.md §4.7.6.
func (b *interactiveInputBlock) Render(_ context.Context, inputs map[string]any, execCtx registry.ExecutionContext) (map[string]any, error) {
	submission, ok := inputs["__submission"]
	if !ok || submission == nil {
		return map[string]any{
			"__await_ui": true,
			"__snapshot": map[string]any{"prompt": inputs["prompt"]},
		}, nil
	}
	collected, ok := submission.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("interactive_input: submission must be an object, got %T", submission)
	}
	return map[string]any{"collected": collected}, nil
}

// Package core ships a small set of worked-example Processing Blocks used
// by the Plan Runner's own tests and as a starting point for host-defined
// Blocks: constant, double, counter, template, and http_get.
package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/lyzr/planrunner/common/blockspec"
	"github.com/lyzr/planrunner/common/registry"
)

// Register installs the built-in core Blocks into r under the "builtin"
// entrypoint scheme.
func Register(r *registry.Registry) error {
	r.RegisterFactory("builtin", newBuiltin)

	specs := []*blockspec.Spec{
		constantSpec(),
		doubleSpec(),
		counterSpec(),
		templateSpec(),
		httpGetSpec(),
	}
	for _, s := range specs {
		if err := r.AddSpec(s); err != nil {
			return err
		}
	}
	return nil
}

func newBuiltin(spec *blockspec.Spec) (registry.Block, error) {
	name := strings.TrimPrefix(spec.Entrypoint, "builtin://")
	switch name {
	case "constant":
		return &constantBlock{spec: spec}, nil
	case "double":
		return &doubleBlock{spec: spec}, nil
	case "counter":
		return &counterBlock{spec: spec}, nil
	case "template":
		return &templateBlock{spec: spec}, nil
	case "http_get":
		return newHTTPGetBlock(spec), nil
	}
	return nil, fmt.Errorf("unknown builtin block %q", name)
}

// --- constant ---------------------------------------------------------

func constantSpec() *blockspec.Spec {
	return &blockspec.Spec{
		ID:         "constant",
		Version:    "1.0.0",
		Entrypoint: "builtin://constant",
		Inputs: map[string]blockspec.Field{
			"value": {Type: blockspec.TypeString, Required: false, Description: "any value, passed through verbatim"},
		},
		Outputs: map[string]blockspec.Field{
			"value": {Type: blockspec.TypeString},
		},
	}
}

type constantBlock struct{ spec *blockspec.Spec }

func (b *constantBlock) Validate() error { return b.spec.SelfCheck() }

func (b *constantBlock) DryRun(inputs map[string]any) (map[string]any, error) {
	return b.Run(context.Background(), inputs)
}

func (b *constantBlock) Run(_ context.Context, inputs map[string]any) (map[string]any, error) {
	return map[string]any{"value": inputs["value"]}, nil
}

// --- double -------------------------------------------------------------

func doubleSpec() *blockspec.Spec {
	return &blockspec.Spec{
		ID:         "double",
		Version:    "1.0.0",
		Entrypoint: "builtin://double",
		Inputs: map[string]blockspec.Field{
			"x": {Type: blockspec.TypeNumber, Required: true},
		},
		Outputs: map[string]blockspec.Field{
			"y": {Type: blockspec.TypeNumber},
		},
		DryRun: &blockspec.DryRun{Samples: map[string]any{"y": 0}},
	}
}

type doubleBlock struct{ spec *blockspec.Spec }

func (b *doubleBlock) Validate() error { return b.spec.SelfCheck() }

func (b *doubleBlock) DryRun(inputs map[string]any) (map[string]any, error) {
	return map[string]any{"y": 0}, nil
}

func (b *doubleBlock) Run(_ context.Context, inputs map[string]any) (map[string]any, error) {
	x, err := numberOf(inputs["x"])
	if err != nil {
		return nil, fmt.Errorf("double: %w", err)
	}
	return map[string]any{"y": x * 2}, nil
}

func numberOf(v any) (float64, error) {
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

// --- counter --------------------------------------------------------------

func counterSpec() *blockspec.Spec {
	return &blockspec.Spec{
		ID:         "counter",
		Version:    "1.0.0",
		Entrypoint: "builtin://counter",
		Inputs: map[string]blockspec.Field{
			"start": {Type: blockspec.TypeInteger, Required: false, Default: 0},
			"step":  {Type: blockspec.TypeInteger, Required: false, Default: 1},
		},
		Outputs: map[string]blockspec.Field{
			"n": {Type: blockspec.TypeInteger},
		},
	}
}

// counterBlock increments a value carried in its own input across repeated
// invocations (the caller re-feeds `start` with the previous `n` on each
// iteration of a `while` loop body, as in spec.md §8 scenario 4).
type counterBlock struct{ spec *blockspec.Spec }

func (b *counterBlock) Validate() error { return b.spec.SelfCheck() }

func (b *counterBlock) DryRun(inputs map[string]any) (map[string]any, error) {
	return map[string]any{"n": 0}, nil
}

func (b *counterBlock) Run(_ context.Context, inputs map[string]any) (map[string]any, error) {
	start, _ := numberOf(inputs["start"])
	step, _ := numberOf(inputs["step"])
	if step == 0 {
		step = 1
	}
	return map[string]any{"n": int(start + step)}, nil
}

// --- template -------------------------------------------------------------

func templateSpec() *blockspec.Spec {
	return &blockspec.Spec{
		ID:         "template",
		Version:    "1.0.0",
		Entrypoint: "builtin://template",
		Inputs: map[string]blockspec.Field{
			"text": {Type: blockspec.TypeString, Required: true},
		},
		Outputs: map[string]blockspec.Field{
			"text": {Type: blockspec.TypeString},
		},
	}
}

// templateBlock passes its (already-resolved) text input through; it exists
// to give downstream Plans a Block whose sole job is interpolation, mirroring
// how the Resolver embeds placeholders in surrounding text (spec.md §4.2).
type templateBlock struct{ spec *blockspec.Spec }

func (b *templateBlock) Validate() error { return b.spec.SelfCheck() }

func (b *templateBlock) DryRun(inputs map[string]any) (map[string]any, error) {
	return map[string]any{"text": ""}, nil
}

func (b *templateBlock) Run(_ context.Context, inputs map[string]any) (map[string]any, error) {
	text, _ := inputs["text"].(string)
	return map[string]any{"text": text}, nil
}

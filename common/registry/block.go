// Package registry implements the Block Registry: discovering Block Specs
// on disk, selecting a version, and constructing Block instances on demand
// (spec.md §4.1).
package registry

import (
	"context"
	"fmt"

	"github.com/lyzr/planrunner/common/blockspec"
)

// ExecutionContext is the narrow view of a Run's mutable state that UI
// Blocks need to render and to signal suspension (spec.md §6).
type ExecutionContext interface {
	// RunID returns the id of the Run the Block is executing within.
	RunID() string
}

// AwaitUI names the two parts of an await-input request (spec.md §6
// "await input"). The Runner does not read AwaitUI values; UI Blocks
// request suspension with plain map keys (see UIBlock.Render).
type AwaitUI struct {
	Await    bool
	Snapshot map[string]any
}

// Block is the uniform interface the Registry standardizes every Block
// implementation into (spec.md §4.1).
type Block interface {
	// Validate performs the Block's own Spec self-check.
	Validate() error

	// DryRun produces a representative output conforming to the declared
	// output schema, without side effects.
	DryRun(inputs map[string]any) (map[string]any, error)
}

// ProcessingBlock is a pure-computation Block (spec.md §4.1 "Processing").
type ProcessingBlock interface {
	Block
	Run(ctx context.Context, inputs map[string]any) (map[string]any, error)
}

// UIBlock is an interactive Block that may request suspension.
type UIBlock interface {
	Block
	// Render returns either the node's final outputs, or, when the node
	// must suspend, a map with "__await_ui": true and an optional
	// "__snapshot" map (spec.md §6).
	Render(ctx context.Context, inputs map[string]any, execCtx ExecutionContext) (map[string]any, error)
}

// Factory constructs a Block instance for a loaded Spec. Hosts register one
// Factory per `entrypoint` scheme (spec.md §4.1 "entrypoint (opaque locator
// consumed by the host to construct the Block)").
type Factory func(spec *blockspec.Spec) (Block, error)

// entry is one (id, version) -> (spec, block) binding.
type entry struct {
	spec  *blockspec.Spec
	block Block
}

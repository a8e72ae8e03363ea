// Package runner implements the Plan Runner (spec.md §4.7): DAG
// scheduling with bounded parallelism, retry/timeout policy, foreach/while
// loops, subflow invocation, and HITL suspend/resume. The worker pool is
// built on golang.org/x/sync/errgroup plus a golang.org/x/sync/semaphore.Weighted
// sized to max_workers, grounded on the teacher's worker-pool-shaped
// scheduling code in cmd/workflow-runner/coordinator/coordinator.go and
// cmd/workflow-runner/supervisor/timeout.go.
package runner

import (
	"context"
	"sync"
	"time"
)

// PendingUI records a suspended UI Block's request for input (spec.md
// §4.7.6): at most one active per recursion level.
type PendingUI struct {
	NodeID        string         `json:"node_id"`
	InputSnapshot map[string]any `json:"input_snapshot"`
	Timestamp     string         `json:"timestamp"`
}

// ExecutionContext is a single Run's mutable state (spec.md §3 "Run"):
// resolved node outputs, UI outputs kept separately for resumability,
// pending UI, variable overrides, and a cancellation token. Outputs and
// UIOutputs are mutated only by the Runner, under mu, per spec.md §5
// "Shared resources."
type ExecutionContext struct {
	PlanID string
	ID     string // run_id

	Vars          map[string]any
	VarsOverrides map[string]any

	mu           sync.RWMutex
	outputs      map[string]map[string]any
	uiOutputs    map[string]any
	successNodes map[string]bool
	pendingUI    *PendingUI

	startedAt time.Time
	succeeded int
	skipped   int
	errored   int
	retries   int

	ctx    context.Context
	cancel context.CancelFunc
}

// Stats is a run's finish_summary counters (spec.md §6 "finish_summary").
type Stats struct {
	Succeeded int
	Skipped   int
	Errored   int
	Retries   int
}

// NewExecutionContext constructs a fresh Execution Context for a top-level
// run. parent is typically context.Background(); the Runner derives a
// cancellable child for cooperative cancellation (spec.md §5).
func NewExecutionContext(parent context.Context, planID, runID string, vars, varsOverrides map[string]any) *ExecutionContext {
	ctx, cancel := context.WithCancel(parent)
	return &ExecutionContext{
		PlanID:        planID,
		ID:            runID,
		Vars:          vars,
		VarsOverrides: varsOverrides,
		outputs:       make(map[string]map[string]any),
		uiOutputs:     make(map[string]any),
		successNodes:  make(map[string]bool),
		startedAt:     time.Now(),
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Elapsed returns the milliseconds since the run started, for
// finish_summary.total_elapsed_ms.
func (e *ExecutionContext) Elapsed() int64 {
	return time.Since(e.startedAt).Milliseconds()
}

// recordSucceeded/recordSkipped/recordErrored/addRetries accumulate the
// finish_summary counters (spec.md §6) as nodes finish, are skipped by a
// false guard, or error out under a continuing on_error policy.
func (e *ExecutionContext) recordSucceeded() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.succeeded++
}

func (e *ExecutionContext) recordSkipped() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.skipped++
}

func (e *ExecutionContext) recordErrored() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.errored++
}

func (e *ExecutionContext) addRetries(n int) {
	if n <= 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.retries += n
}

// StatsSnapshot snapshots the run's finish_summary counters.
func (e *ExecutionContext) StatsSnapshot() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Stats{Succeeded: e.succeeded, Skipped: e.skipped, Errored: e.errored, Retries: e.retries}
}

// RunID implements registry.ExecutionContext, the surface Blocks see.
func (e *ExecutionContext) RunID() string { return e.ID }

// Context returns the run's cancellable context.
func (e *ExecutionContext) Context() context.Context { return e.ctx }

// Cancel signals the run's cancellation token (spec.md §5).
func (e *ExecutionContext) Cancel() { e.cancel() }

// SetOutput records a completed node's alias->value output map and marks
// it successful.
func (e *ExecutionContext) SetOutput(nodeID string, out map[string]any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outputs[nodeID] = out
	e.successNodes[nodeID] = true
}

// MarkSkipped records that nodeID completed without output (its guard
// resolved falsy, or it failed under on_error=continue); downstream
// references to it fail at resolution, including references inside a
// downstream node's guard (spec.md §4.7.2).
func (e *ExecutionContext) MarkSkipped(nodeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.successNodes[nodeID] = true
}

// Output returns nodeID's recorded output map, and whether the node has
// completed (run or skipped) at all. A node that has not completed yet is
// reported like an unknown id (ok=false); a completed node without output
// is reported as (nil, true).
func (e *ExecutionContext) Output(nodeID string) (map[string]any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.successNodes[nodeID] {
		return nil, false
	}
	return e.outputs[nodeID], true
}

// snapshotOutputs returns a shallow copy of every recorded node output,
// keyed by node id, for a finished run's Result.
func (e *ExecutionContext) snapshotOutputs() map[string]map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]map[string]any, len(e.outputs))
	for k, v := range e.outputs {
		out[k] = v
	}
	return out
}

// Completed reports whether nodeID has finished (run or been skipped).
func (e *ExecutionContext) Completed(nodeID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.successNodes[nodeID]
}

// SetUIOutput records a UI node's submitted/rendered output, kept separate
// from Outputs so a resumed run can distinguish "already rendered" state
// (spec.md §3 "ui_outputs(node_id)").
func (e *ExecutionContext) SetUIOutput(nodeID string, v any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.uiOutputs[nodeID] = v
}

// UIOutput returns a previously recorded UI output, if any.
func (e *ExecutionContext) UIOutput(nodeID string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.uiOutputs[nodeID]
	return v, ok
}

// SetPendingUI records the single active suspension at this recursion
// level (spec.md §4.7.6: "Only one pending_ui is active").
func (e *ExecutionContext) SetPendingUI(p *PendingUI) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pendingUI = p
}

// GetPendingUI returns the currently suspended node, if any.
func (e *ExecutionContext) GetPendingUI() *PendingUI {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pendingUI
}

// Snapshot captures the Run State Snapshot fields (spec.md §3 "Run State
// Snapshot"): everything needed to resume a suspended run.
type Snapshot struct {
	UIOutputs     map[string]any `json:"ui_outputs"`
	PendingUI     *PendingUI     `json:"pending_ui,omitempty"`
	SuccessNodes  []string       `json:"success_nodes"`
	VarsOverrides map[string]any `json:"vars_overrides"`
}

// ToSnapshot captures e's resumable state.
func (e *ExecutionContext) ToSnapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	success := make([]string, 0, len(e.successNodes))
	for id := range e.successNodes {
		success = append(success, id)
	}

	return Snapshot{
		UIOutputs:     e.uiOutputs,
		PendingUI:     e.pendingUI,
		SuccessNodes:  success,
		VarsOverrides: e.VarsOverrides,
	}
}

// RestoreFrom seeds e from a previously saved Snapshot (spec.md §4.7.6
// "On resume... the Runner loads the snapshot").
func (e *ExecutionContext) RestoreFrom(snap Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if snap.UIOutputs != nil {
		e.uiOutputs = snap.UIOutputs
	}
	e.pendingUI = snap.PendingUI
	for _, id := range snap.SuccessNodes {
		e.successNodes[id] = true
	}
	if snap.VarsOverrides != nil {
		e.VarsOverrides = snap.VarsOverrides
	}
}

// mergedVars combines Plan-declared vars with the run's overrides, the
// latter taking precedence (spec.md §3 "vars_overrides").
func mergedVars(planVars, overrides map[string]any) map[string]any {
	out := make(map[string]any, len(planVars)+len(overrides))
	for k, v := range planVars {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

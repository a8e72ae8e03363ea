package runner

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/lyzr/planrunner/common/cancelbus"
	"github.com/lyzr/planrunner/common/configstore"
	"github.com/lyzr/planrunner/common/evidence"
	"github.com/lyzr/planrunner/common/guard"
	"github.com/lyzr/planrunner/common/planerr"
	"github.com/lyzr/planrunner/common/planmodel"
	"github.com/lyzr/planrunner/common/registry"
)

// PlanRunner is the top-level Plan Runner (spec.md §4.7, §6): it owns the
// Block Registry, guard Evaluator, Configuration Store, Evidence Logger,
// Run State Snapshot store, and cross-process cancellation bus, and wires
// them together to drive a Plan's graph to completion or suspension.
type PlanRunner struct {
	Registry *registry.Registry
	Guard    *guard.Evaluator
	Config   *configstore.Store
	Evidence *evidence.Logger
	State    *StateStore
	Cancel   *cancelbus.Bus

	// Plans resolves a plan_id to its Plan document, used both to look up
	// subflow targets (spec.md §4.7.5) and to re-derive a suspended run's
	// Plan on Resume.
	Plans func(planID string) (*planmodel.Plan, bool)

	subflowSeq sync.Map
}

// New constructs a PlanRunner. reg and a StateStore are required; the
// remaining collaborators may be nil to degrade gracefully (no config
// resolution, no evidence logging, no cross-process cancellation).
func New(reg *registry.Registry, state *StateStore) *PlanRunner {
	return &PlanRunner{
		Registry: reg,
		Guard:    guard.NewEvaluator(),
		State:    state,
	}
}

// Result is returned by Run/Resume: either the plan's final node outputs,
// or a pending UI suspension the caller must resolve via Resume.
type Result struct {
	PlanID    string
	RunID     string
	Outputs   map[string]map[string]any
	PendingUI *PendingUI
}

// Run starts a fresh Run of plan. If varsOverrides is nil, only the plan's
// declared vars apply. runID may be supplied by the caller (e.g. a retried
// webhook delivery) or left empty to generate a new one.
func (rn *PlanRunner) Run(ctx context.Context, plan *planmodel.Plan, varsOverrides map[string]any, runID string) (*Result, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	execCtx := NewExecutionContext(ctx, plan.ID, runID, plan.Vars, varsOverrides)
	return rn.run(execCtx, plan)
}

// runFromSnapshot restores a previously suspended run's Execution Context
// from snap and continues scheduling from where it left off.
func (rn *PlanRunner) runFromSnapshot(planID, runID string, snap Snapshot) (*Result, error) {
	plan, ok := rn.Plans(planID)
	if !ok {
		return nil, planerr.New(planerr.CodeSubflowNotFound, fmt.Sprintf("plan %q not found", planID))
	}

	execCtx := NewExecutionContext(context.Background(), planID, runID, plan.Vars, snap.VarsOverrides)
	execCtx.RestoreFrom(snap)
	return rn.run(execCtx, plan)
}

func (rn *PlanRunner) run(execCtx *ExecutionContext, plan *planmodel.Plan) (*Result, error) {
	if rn.Cancel != nil {
		rn.Cancel.Register(execCtx.ID, execCtx.Cancel)
		defer rn.Cancel.Unregister(execCtx.ID)
	}

	policy := planmodel.DefaultPolicy().Merge(&plan.Policy)

	rn.emit(execCtx, "start", "", map[string]any{"vars_overrides": execCtx.VarsOverrides})

	suspended, err := rn.runGraph(execCtx.Context(), execCtx, plan.Graph, policy, plan.UI.Layout)
	if err != nil {
		rn.emit(execCtx, "run_error", "", map[string]any{"message": err.Error()})
		_ = rn.State.Save(plan.ID, execCtx.ID, execCtx.ToSnapshot())
		return nil, err
	}

	if suspended {
		if err := rn.State.Save(plan.ID, execCtx.ID, execCtx.ToSnapshot()); err != nil {
			return nil, err
		}
		return &Result{PlanID: plan.ID, RunID: execCtx.ID, PendingUI: execCtx.GetPendingUI()}, nil
	}

	outputs := execCtx.snapshotOutputs()
	stats := execCtx.StatsSnapshot()
	rn.emit(execCtx, "finish_summary", "", map[string]any{
		"total_nodes":      len(plan.Graph),
		"succeeded":        stats.Succeeded,
		"skipped":          stats.Skipped,
		"errored":          stats.Errored,
		"total_elapsed_ms": execCtx.Elapsed(),
		"total_retries":    stats.Retries,
	})
	_ = rn.State.Clear(plan.ID, execCtx.ID)

	return &Result{PlanID: plan.ID, RunID: execCtx.ID, Outputs: outputs}, nil
}

// GetState returns a run's persisted Snapshot, if any.
func (rn *PlanRunner) GetState(planID, runID string) (Snapshot, bool, error) {
	return rn.State.Load(planID, runID)
}

// SaveState persists a Snapshot directly, bypassing a live run (used by
// hosts restoring from an external store).
func (rn *PlanRunner) SaveState(planID, runID string, snap Snapshot) error {
	return rn.State.Save(planID, runID, snap)
}

// FindLatestPendingUI locates the most recently suspended run of planID.
func (rn *PlanRunner) FindLatestPendingUI(planID string) (runID string, pending *PendingUI, ok bool) {
	return rn.State.FindLatestPendingUI(planID)
}

// ClearStateFiles removes a run's persisted snapshot, e.g. after a host
// has durably recorded its terminal outcome elsewhere.
func (rn *PlanRunner) ClearStateFiles(planID, runID string) error {
	return rn.State.Clear(planID, runID)
}

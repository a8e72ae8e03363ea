package runner

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch/v5"
)

// Resume re-invokes Run for a suspended run_id, injecting the caller's
// submitted ui_outputs for the pending node so its Render call sees
// `inputs["__submission"]` on its next pass (spec.md §4.7.6 "resume").
func (rn *PlanRunner) Resume(planID, runID string, uiOutputs map[string]any) (*Result, error) {
	snap, ok, err := rn.State.Load(planID, runID)
	if err != nil {
		return nil, fmt.Errorf("runner: loading snapshot for resume: %w", err)
	}
	if !ok || snap.PendingUI == nil {
		return nil, fmt.Errorf("runner: no pending UI suspension for run %s/%s", planID, runID)
	}

	submission, ok := uiOutputs[snap.PendingUI.NodeID]
	if !ok {
		return nil, fmt.Errorf("runner: resume is missing ui_outputs for node %q", snap.PendingUI.NodeID)
	}
	if snap.UIOutputs == nil {
		snap.UIOutputs = map[string]any{}
	}
	snap.UIOutputs[snap.PendingUI.NodeID] = submission
	snap.PendingUI = nil

	return rn.runFromSnapshot(planID, runID, snap)
}

// ResumeWithPatch resumes a suspended run whose caller submitted an
// RFC 6902 JSON Patch document against the pending node's InputSnapshot
// rather than a full replacement value — the shape a host's PATCH-based
// UI form submission naturally produces. Grounded on the teacher's
// evanphx/json-patch/v5 use for run/workflow patch application
// (common/models/patch_chain.go, cmd/orchestrator/handlers/run_patch.go),
// generalized here from patching a persisted Run document to patching a
// suspended node's UI snapshot.
func (rn *PlanRunner) ResumeWithPatch(planID, runID string, patch []byte) (*Result, error) {
	snap, ok, err := rn.State.Load(planID, runID)
	if err != nil {
		return nil, fmt.Errorf("runner: loading snapshot for resume: %w", err)
	}
	if !ok || snap.PendingUI == nil {
		return nil, fmt.Errorf("runner: no pending UI suspension for run %s/%s", planID, runID)
	}

	merged, err := applyUIPatch(snap.PendingUI.InputSnapshot, patch)
	if err != nil {
		return nil, fmt.Errorf("runner: applying ui patch: %w", err)
	}

	return rn.Resume(planID, runID, map[string]any{snap.PendingUI.NodeID: merged})
}

// applyUIPatch applies an RFC 6902 JSON Patch document to base, returning
// the patched document decoded back into a map.
func applyUIPatch(base map[string]any, patch []byte) (map[string]any, error) {
	if base == nil {
		base = map[string]any{}
	}
	doc, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("marshaling base snapshot: %w", err)
	}

	p, err := jsonpatch.DecodePatch(patch)
	if err != nil {
		return nil, fmt.Errorf("decoding json patch: %w", err)
	}

	patched, err := p.Apply(doc)
	if err != nil {
		return nil, fmt.Errorf("applying json patch: %w", err)
	}

	var out map[string]any
	if err := json.Unmarshal(patched, &out); err != nil {
		return nil, fmt.Errorf("decoding patched document: %w", err)
	}
	return out, nil
}

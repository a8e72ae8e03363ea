package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExecutionContextOutputTracksCompletionAndSkip(t *testing.T) {
	e := NewExecutionContext(context.Background(), "p", "r", nil, nil)

	_, ok := e.Output("missing")
	assert.False(t, ok)
	assert.False(t, e.Completed("missing"))

	e.SetOutput("a", map[string]any{"x": 1})
	out, ok := e.Output("a")
	assert.True(t, ok)
	assert.Equal(t, 1, out["x"])
	assert.True(t, e.Completed("a"))

	e.MarkSkipped("b")
	out, ok = e.Output("b")
	assert.True(t, ok)
	assert.Nil(t, out)
}

func TestExecutionContextSnapshotRoundTrip(t *testing.T) {
	e := NewExecutionContext(context.Background(), "p", "r", nil, map[string]any{"k": "v"})
	e.SetOutput("a", map[string]any{"x": 1})
	e.SetUIOutput("ui1", map[string]any{"y": 2})
	e.SetPendingUI(&PendingUI{NodeID: "ui2"})

	snap := e.ToSnapshot()

	restored := NewExecutionContext(context.Background(), "p", "r2", nil, nil)
	restored.RestoreFrom(snap)

	assert.True(t, restored.Completed("a"))
	v, ok := restored.UIOutput("ui1")
	assert.True(t, ok)
	assert.Equal(t, map[string]any{"y": 2}, v)
	assert.Equal(t, "ui2", restored.GetPendingUI().NodeID)
	assert.Equal(t, "v", restored.VarsOverrides["k"])
}

func TestCancelPropagatesToContext(t *testing.T) {
	e := NewExecutionContext(context.Background(), "p", "r", nil, nil)
	e.Cancel()
	select {
	case <-e.Context().Done():
	default:
		t.Fatal("expected context to be cancelled")
	}
}

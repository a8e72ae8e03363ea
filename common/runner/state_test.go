package runner

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateStoreSaveLoadClear(t *testing.T) {
	s := NewStateStore(t.TempDir())

	snap := Snapshot{
		UIOutputs:    map[string]any{"U": map[string]any{"x": 1.0}},
		SuccessNodes: []string{"a", "b"},
	}
	require.NoError(t, s.Save("plan-1", "run-1", snap))

	loaded, ok, err := s.Load("plan-1", "run-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.ElementsMatch(t, snap.SuccessNodes, loaded.SuccessNodes)

	require.NoError(t, s.Clear("plan-1", "run-1"))
	_, ok, err = s.Load("plan-1", "run-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStateStoreLoadMissingIsNotAnError(t *testing.T) {
	s := NewStateStore(t.TempDir())
	_, ok, err := s.Load("no-plan", "no-run")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFindLatestPendingUIPicksMostRecent(t *testing.T) {
	s := NewStateStore(t.TempDir())

	require.NoError(t, s.Save("plan-1", "run-old", Snapshot{PendingUI: &PendingUI{NodeID: "U"}}))
	require.NoError(t, s.Save("plan-1", "run-new", Snapshot{PendingUI: &PendingUI{NodeID: "U2"}}))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(s.path("plan-1", "run-old"), old, old))

	runID, pending, ok := s.FindLatestPendingUI("plan-1")
	require.True(t, ok)
	assert.Equal(t, "run-new", runID)
	assert.NotNil(t, pending)
	assert.Equal(t, "U2", pending.NodeID)
}

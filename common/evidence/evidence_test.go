package evidence

import (
	"bufio"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitAppendsJSONLine(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)

	require.NoError(t, l.Emit(time.Unix(0, 0), "p1", "r1", "node_start", map[string]any{"node_id": "a"}))
	require.NoError(t, l.Emit(time.Unix(1, 0), "p1", "r1", "node_finish", map[string]any{"node_id": "a"}))

	f, err := os.Open(filepath.Join(dir, "p1", "r1.jsonl"))
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	assert.Len(t, lines, 2)
}

func TestSubscribeReceivesFutureEvents(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)

	ch := l.Subscribe("r1")
	defer l.Unsubscribe("r1", ch)

	require.NoError(t, l.Emit(time.Unix(0, 0), "p1", "r1", "node_start", nil))

	select {
	case rec := <-ch:
		assert.Equal(t, "node_start", rec.Type)
	case <-time.After(time.Second):
		t.Fatal("expected a record on the subscriber channel")
	}
}

func TestWriteNodeArtifactsMaterializesBinaryOutputs(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)

	outputs := map[string]any{
		"status": 200,
		"report": map[string]any{"name": "report.txt", "base64": "aGVsbG8="},
	}
	require.NoError(t, l.WriteNodeArtifacts("p1", "r1", "node_a", outputs))

	data, err := os.ReadFile(filepath.Join(dir, "p1", "r1", "artifacts", "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = os.Stat(filepath.Join(dir, "p1", "r1", "artifacts", "node_a_outputs.json"))
	require.NoError(t, err)
}

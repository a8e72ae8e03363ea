package configstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestResolveDottedPath(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "base.yaml", "retries:\n  max: 3\nservice:\n  name: planrunner\n")

	s := New(base)
	v, err := s.Resolve("retries.max")
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestResolveMissingKeyErrors(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "base.yaml", "retries:\n  max: 3\n")

	s := New(base)
	_, err := s.Resolve("does.not.exist")
	assert.Error(t, err)
}

func TestLayeredOverride(t *testing.T) {
	dir := t.TempDir()
	base := writeFile(t, dir, "base.yaml", "retries:\n  max: 3\n")
	override := writeFile(t, dir, "override.yaml", "retries:\n  max: 7\n")

	s := New(base, override)
	v, err := s.Resolve("retries.max")
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestResolveIsLazy(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	assert.Nil(t, s.v)
	_, err := s.Resolve("anything")
	assert.Error(t, err)
}

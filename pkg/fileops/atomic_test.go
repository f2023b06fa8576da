package fileops

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteAtomicCreatesParents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "config.conf")
	require.NoError(t, WriteAtomic(context.Background(), path, []byte("listener 1883\n"), 0600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "listener 1883\n", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestWriteAtomicLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "compose.yaml")
	for i := 0; i < 3; i++ {
		require.NoError(t, WriteAtomic(context.Background(), path, []byte("services: {}\n"), 0644))
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "compose.yaml", entries[0].Name())
}

func TestWriteAtomicFailsOnUnwritableParent(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0600))

	err := WriteAtomic(context.Background(), filepath.Join(blocker, "child.conf"), []byte("x"), 0644)
	assert.Error(t, err)
}

func TestWriteIfChanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.js")
	ctx := context.Background()

	outcome, err := WriteIfChanged(ctx, path, []byte("v1"), 0644)
	require.NoError(t, err)
	assert.Equal(t, Written, outcome)

	outcome, err = WriteIfChanged(ctx, path, []byte("v1"), 0644)
	require.NoError(t, err)
	assert.Equal(t, Unchanged, outcome)

	outcome, err = WriteIfChanged(ctx, path, []byte("v1"), 0600)
	require.NoError(t, err)
	assert.Equal(t, Written, outcome, "permission drift forces a rewrite")

	outcome, err = WriteIfChanged(ctx, path, []byte("v2"), 0600)
	require.NoError(t, err)
	assert.Equal(t, Written, outcome)
}

func TestAppendLineIfMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fstab")
	require.NoError(t, os.WriteFile(path, []byte("UUID=abc / ext4 defaults 0 1"), 0644))
	ctx := context.Background()

	appended, err := AppendLineIfMissing(ctx, path, "/swapfile none swap sw 0 0", 0644)
	require.NoError(t, err)
	assert.True(t, appended)

	appended, err = AppendLineIfMissing(ctx, path, "/swapfile  none swap sw 0 0", 0644)
	require.NoError(t, err)
	assert.False(t, appended)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "/swapfile"))
	assert.Equal(t, "UUID=abc / ext4 defaults 0 1\n/swapfile none swap sw 0 0\n", string(data))
}

func TestAppendLineCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new")
	appended, err := AppendLineIfMissing(context.Background(), path, "line", 0644)
	require.NoError(t, err)
	assert.True(t, appended)
	assert.True(t, Exists(path))
	assert.Equal(t, "written", Written.String())
	assert.Equal(t, "unchanged", Unchanged.String())
}

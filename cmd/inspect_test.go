package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectRawFiles(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "census"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "census", "b.xlsx"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.csv"), []byte("x"), 0o644))

	paths, err := collectRawFiles(root)
	require.NoError(t, err)
	require.Len(t, paths, 2)
	assert.True(t, strings.HasSuffix(paths[0], "a.csv"))
	assert.True(t, strings.HasSuffix(paths[1], filepath.Join("census", "b.xlsx")))
}

func TestCollectRawFiles_MissingRoot(t *testing.T) {
	paths, err := collectRawFiles(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, paths)
}

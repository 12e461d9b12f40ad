package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/caribdata/opendata-cli/internal/catalog"
	"github.com/caribdata/opendata-cli/internal/config"
)

func TestWriteDownloadsPage(t *testing.T) {
	tmp := t.TempDir()

	cfg = &config.Config{}
	cfg.Release.BaseURL = "https://example.github.io/site"
	cfg.Release.RepoURL = "https://github.com/example/site"
	cfg.Release.DocsDir = filepath.Join(tmp, "docs")

	cat := &catalog.Catalog{}
	cat.Project.OutDir = filepath.Join(tmp, "data")
	cat.FAOSTAT.OutFolder = "faostat_fbs"

	path, err := writeDownloadsPage(cat)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(tmp, "docs", "downloads.md"), path)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "# Downloads")
	assert.Contains(t, string(raw), "not published yet")
}

package source

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/caribdata/opendata-cli/internal/catalog"
	"github.com/caribdata/opendata-cli/internal/fetcher"
	"github.com/caribdata/opendata-cli/internal/inspect"
	"github.com/caribdata/opendata-cli/internal/model"
)

func workbookBytes(t *testing.T) []byte {
	t.Helper()
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Trade")
	require.NoError(t, err)
	header := sheet.AddRow()
	for _, c := range []string{"partner", "year", "imports_usd"} {
		header.AddCell().SetString(c)
	}
	data := sheet.AddRow()
	for _, c := range []string{"USA", "2020", "251000000"} {
		data.AddCell().SetString(c)
	}
	var buf bytes.Buffer
	require.NoError(t, f.Write(&buf))
	return buf.Bytes()
}

func zipBytes(t *testing.T, name string, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	require.NoError(t, err)
	_, err = w.Write(content)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func messyTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	wb := workbookBytes(t)
	archive := zipBytes(t, "inner.csv", []byte("region,total\nnorth,12\nsouth,8\n"))

	mux := http.NewServeMux()
	mux.HandleFunc("/data/stats.csv", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write([]byte("district,population\nCorozal,45946\nCayo,95000\n"))
	})
	mux.HandleFunc("/page", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><a href="/files/trade.xlsx">Download</a></body></html>`))
	})
	mux.HandleFunc("/files/trade.xlsx", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		_, _ = w.Write(wb)
	})
	mux.HandleFunc("/files/archive.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(archive)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func messyDeps(t *testing.T, items []catalog.MessyItem) *Deps {
	t.Helper()
	return &Deps{
		Catalog: &catalog.Catalog{
			Project: catalog.Project{Name: "test", Countries: []string{"BZ"}, OutDir: t.TempDir(), StartYear: 2019, EndYear: 2021},
			Messy:   catalog.Messy{Items: items},
		},
		HTTP:      fetcher.NewHTTPFetcher(fetcher.HTTPOptions{RatePerHost: 1000, BurstPerHost: 1000}),
		Inspector: inspect.New(inspect.Options{}),
	}
}

func TestMessy_Fetch(t *testing.T) {
	srv := messyTestServer(t)
	deps := messyDeps(t, []catalog.MessyItem{
		{Slug: "population", Name: "District population", URL: srv.URL + "/data/stats.csv", Source: "SIB", License: "open"},
		{Slug: "trade", Name: "Trade summary", URL: srv.URL + "/page", Source: "SIB", ExpectedIssues: []string{"merged cells"}},
		{Slug: "broken", Name: "Missing file", URL: srv.URL + "/gone/file.csv"},
	})

	result, err := (&Messy{}).Fetch(context.Background(), deps)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Files)
	assert.Equal(t, 1, result.Failures)
	assert.Equal(t, 2, result.Rows, "population CSV has two data rows")

	out := filepath.Join(deps.Catalog.Project.OutDir, MessyFolder)
	assert.FileExists(t, filepath.Join(out, "raw", "population", "stats.csv"))
	assert.FileExists(t, filepath.Join(out, "raw", "trade", "trade.xlsx"))

	m := readManifest(t, out)
	require.Len(t, m.Items, 2)
	pop := m.Items[0]
	assert.Equal(t, "raw/population/stats.csv", pop.Path)
	assert.Equal(t, "population", pop.Slug)
	assert.Equal(t, "text/csv", pop.ContentType)
	assert.Equal(t, srv.URL+"/data/stats.csv", pop.URL)
	assert.Len(t, pop.SHA256, 64)

	trade := m.Items[1]
	assert.Equal(t, "raw/trade/trade.xlsx", trade.Path)
	assert.Equal(t, srv.URL+"/page", trade.URL, "manifest keeps the page URL")
	assert.Equal(t, srv.URL+"/files/trade.xlsx", trade.ResolvedURL, "and the discovered link")
	assert.Equal(t, []string{"merged cells"}, trade.ExpectedIssues)

	require.Len(t, m.Failures, 1)
	assert.Equal(t, "broken", m.Failures[0].Slug)
	assert.Equal(t, "permanent", m.Failures[0].ErrorType)

	// _errors.json mirrors the manifest failures.
	rawErrs, err := os.ReadFile(filepath.Join(out, "_errors.json"))
	require.NoError(t, err)
	var failures []model.FetchFailure
	require.NoError(t, json.Unmarshal(rawErrs, &failures))
	require.Len(t, failures, 1)
	assert.Equal(t, "broken", failures[0].Slug)

	// The heuristic report covers both mirrored files with item bookkeeping.
	rawReport, err := os.ReadFile(filepath.Join(out, "_report.json"))
	require.NoError(t, err)
	var report model.InspectReport
	require.NoError(t, json.Unmarshal(rawReport, &report))
	require.Len(t, report.Files, 2)
	assert.Equal(t, "raw/population/stats.csv", report.Files[0].Path)
	assert.Equal(t, "population", report.Files[0].Slug)
	require.NotNil(t, report.Files[0].CSV)
	assert.Equal(t, ",", report.Files[0].CSV.Delimiter)
	assert.Equal(t, "raw/trade/trade.xlsx", report.Files[1].Path)
	assert.Equal(t, []string{"merged cells"}, report.Files[1].ExpectedIssues)
	require.NotEmpty(t, report.Files[1].Sheets)
	require.NotNil(t, report.Files[1].Sheets[0].HeaderRow)
	assert.Equal(t, 0, *report.Files[1].Sheets[0].HeaderRow)

	assert.FileExists(t, filepath.Join(out, "_dataset_card.md"))
	assertBundleNames(t, filepath.Join(out, "_bundle.zip"), []string{
		"README.md", "_manifest.json", "_report.json",
		"raw/population/stats.csv", "raw/trade/trade.xlsx",
	})
}

func assertBundleNames(t *testing.T, path string, want []string) {
	t.Helper()
	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer zr.Close()

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.ElementsMatch(t, want, names)
}

func TestMessy_FetchZipItemExtracted(t *testing.T) {
	srv := messyTestServer(t)
	deps := messyDeps(t, []catalog.MessyItem{
		{Slug: "census", Name: "Census tables", URL: srv.URL + "/files/archive.zip", Source: "SIB"},
	})

	result, err := (&Messy{}).Fetch(context.Background(), deps)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Files, "archive plus its extracted file")
	assert.Zero(t, result.Failures)

	out := filepath.Join(deps.Catalog.Project.OutDir, MessyFolder)
	assert.FileExists(t, filepath.Join(out, "raw", "census", "archive.zip"))
	assert.FileExists(t, filepath.Join(out, "raw", "census", "inner.csv"))

	m := readManifest(t, out)
	require.Len(t, m.Items, 2)
	assert.Equal(t, "raw/census/archive.zip", m.Items[0].Path)
	assert.Equal(t, "raw/census/inner.csv", m.Items[1].Path)
	assert.Equal(t, 2, m.Items[1].Rows)
	assert.Equal(t, 2, result.Rows, "row count comes from the extracted CSV")
}

func TestMessy_FetchReadmeListsMirroredItemsOnly(t *testing.T) {
	srv := messyTestServer(t)
	deps := messyDeps(t, []catalog.MessyItem{
		{Slug: "population", Name: "District population", URL: srv.URL + "/data/stats.csv", Source: "SIB"},
		{Slug: "broken", Name: "Missing file", URL: srv.URL + "/gone/file.csv"},
	})

	_, err := (&Messy{}).Fetch(context.Background(), deps)
	require.NoError(t, err)

	out := filepath.Join(deps.Catalog.Project.OutDir, MessyFolder)
	zr, err := zip.OpenReader(filepath.Join(out, "_bundle.zip"))
	require.NoError(t, err)
	defer zr.Close()

	var readme string
	for _, f := range zr.File {
		if f.Name != "README.md" {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		var buf bytes.Buffer
		_, err = buf.ReadFrom(rc)
		require.NoError(t, err)
		rc.Close()
		readme = buf.String()
	}
	require.NotEmpty(t, readme)
	assert.Contains(t, readme, "District population")
	assert.Contains(t, readme, "`population`")
	assert.NotContains(t, readme, "Missing file", "failed items stay out of the bundle listing")
}

func TestMessy_FetchPageWithoutWorkbookLink(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/bare", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><p>nothing here</p></body></html>`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	deps := messyDeps(t, []catalog.MessyItem{
		{Slug: "empty", Name: "Bare page", URL: srv.URL + "/bare"},
	})

	result, err := (&Messy{}).Fetch(context.Background(), deps)
	require.NoError(t, err)
	assert.Zero(t, result.Files)
	assert.Equal(t, 1, result.Failures)

	out := filepath.Join(deps.Catalog.Project.OutDir, MessyFolder)
	m := readManifest(t, out)
	assert.Empty(t, m.Items)
	require.Len(t, m.Failures, 1)
	assert.Equal(t, "empty", m.Failures[0].Slug)
}

func TestFilenameFromURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://example.org/files/report.xlsx", "report.xlsx"},
		{"https://example.org/files/report.xlsx?dl=1", "report.xlsx"},
		{"https://example.org/files/annual%20report.xlsx", "annual report.xlsx"},
		{"https://example.org/", "census.bin"},
		{"https://example.org", "census.bin"},
		{"://bad url", "census.bin"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, filenameFromURL(tt.url, "census"), "url: %s", tt.url)
	}
}

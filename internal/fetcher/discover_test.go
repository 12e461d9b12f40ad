package fetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsFileURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://sib.org.bz/stats/trade.xlsx", true},
		{"https://sib.org.bz/stats/trade.XLSX?dl=1", true},
		{"https://example.org/data.xls", true},
		{"https://example.org/data.csv", true},
		{"https://example.org/archive.zip", true},
		{"https://sib.org.bz/statistics/trade/", false},
		{"https://example.org/page.html", false},
		{"ftp://ftp.example.org/pub/data.csv", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsFileURL(tt.url), tt.url)
	}
}

func TestDiscoverWorkbookLink_AbsolutizesRelativeHref(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/statistics/trade/", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body>
			<a href="/about">About</a>
			<a href="files/external-trade-2023.xlsx">External Trade 2023</a>
			<a href="files/other.xlsx">Other</a>
		</body></html>`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	link, err := DiscoverWorkbookLink(context.Background(), newTestFetcher(), srv.URL+"/statistics/trade/")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/statistics/trade/files/external-trade-2023.xlsx", link)
}

func TestDiscoverWorkbookLink_AbsoluteHrefAndQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<a HREF="https://cdn.example.org/labour-force.XLSX?rev=4">download</a>`))
	}))
	defer srv.Close()

	link, err := DiscoverWorkbookLink(context.Background(), newTestFetcher(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.org/labour-force.XLSX?rev=4", link)
}

func TestDiscoverWorkbookLink_NoWorkbookOnPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><a href="/report.pdf">PDF only</a></html>`))
	}))
	defer srv.Close()

	_, err := DiscoverWorkbookLink(context.Background(), newTestFetcher(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no workbook link")
}

func TestFirstWorkbookHref_TruncatedHTML(t *testing.T) {
	// Tokenizer treats truncation as EOF; discovery just reports no link.
	link, err := firstWorkbookHref(strings.NewReader(`<html><body><a href="/a`))
	require.NoError(t, err)
	assert.Empty(t, link)
}

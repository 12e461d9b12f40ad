// Package fetcher downloads remote artifacts over HTTP and FTP with retry,
// per-host rate limiting, and response caching, and decodes the formats the
// pipeline consumes.
package fetcher

import (
	"context"
	"io"
)

// Result carries a response body plus the metadata manifests record.
type Result struct {
	Body        io.ReadCloser
	ContentType string
	// FinalURL is the URL after redirects; messy manifests record it as the
	// resolved download URL.
	FinalURL string
	ETag     string
}

// Fetcher defines the interface for downloading remote data.
type Fetcher interface {
	// Download fetches the URL and returns the response body.
	Download(ctx context.Context, url string) (io.ReadCloser, error)

	// Fetch is Download plus response metadata.
	Fetch(ctx context.Context, url string) (*Result, error)

	// DownloadToFile fetches the URL and writes it to the given path,
	// creating parent directories. Returns bytes written.
	DownloadToFile(ctx context.Context, url string, path string) (int64, error)

	// HeadETag performs a HEAD request and returns the ETag header value.
	HeadETag(ctx context.Context, url string) (string, error)

	// DownloadIfChanged fetches the URL only if the ETag has changed.
	// Returns (body, newETag, changed, error). If not changed, body is nil
	// and changed is false.
	DownloadIfChanged(ctx context.Context, url string, etag string) (io.ReadCloser, string, bool, error)
}

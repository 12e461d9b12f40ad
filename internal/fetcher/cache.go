package fetcher

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/caribdata/opendata-cli/internal/model"
)

// ResponseCache is the slice of the store the caching transport needs.
type ResponseCache interface {
	GetCachedResponse(ctx context.Context, url string) (*model.CachedResponse, error)
	SetCachedResponse(ctx context.Context, resp model.CachedResponse, ttl time.Duration) error
}

// DefaultMaxCachedBody caps what the transport will buffer into the cache.
// API payloads fit comfortably; raw file downloads blow past it and stream
// through uncached.
const DefaultMaxCachedBody = 32 << 20

// CachingTransport is an http.RoundTripper that serves repeat GETs from the
// response cache. Wrapping the API clients' http.Client with it gives every
// catalog source the same TTL behavior without the clients knowing.
//
// Cache failures are never fetch failures: a broken cache degrades to the
// network with a warning.
type CachingTransport struct {
	// Base performs real requests. Nil means http.DefaultTransport.
	Base http.RoundTripper
	// Cache stores bodies keyed by URL.
	Cache ResponseCache
	// TTL is how long stored responses stay fresh.
	TTL time.Duration
	// MaxBody is the largest body the transport will cache. Zero means
	// DefaultMaxCachedBody.
	MaxBody int64
}

// NewCachingClient builds an http.Client whose GETs ride the response cache.
func NewCachingClient(cache ResponseCache, ttl time.Duration, timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &CachingTransport{
			Cache: cache,
			TTL:   ttl,
		},
	}
}

func (t *CachingTransport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

func (t *CachingTransport) maxBody() int64 {
	if t.MaxBody > 0 {
		return t.MaxBody
	}
	return DefaultMaxCachedBody
}

// RoundTrip serves GETs from the cache when a fresh entry exists, otherwise
// forwards to the base transport and stores successful responses.
func (t *CachingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Method != http.MethodGet || t.Cache == nil || t.TTL <= 0 {
		return t.base().RoundTrip(req)
	}

	url := req.URL.String()
	if cached, err := t.Cache.GetCachedResponse(req.Context(), url); err != nil {
		zap.L().Warn("response cache read failed, fetching live",
			zap.String("url", url), zap.Error(err))
	} else if cached != nil && cached.Body != nil {
		zap.L().Debug("response cache hit", zap.String("url", url))
		return cachedResponse(req, cached), nil
	}

	resp, err := t.base().RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}
	if resp.ContentLength > t.maxBody() {
		return resp, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBody()+1))
	closeErr := resp.Body.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > t.maxBody() {
		// Too big to cache after all; hand the caller what we read.
		resp.Body = io.NopCloser(bytes.NewReader(body))
		return resp, nil
	}

	entry := model.CachedResponse{
		URL:         url,
		Body:        body,
		ETag:        resp.Header.Get("ETag"),
		ContentType: resp.Header.Get("Content-Type"),
		FetchedAt:   time.Now().UTC(),
	}
	if err := t.Cache.SetCachedResponse(req.Context(), entry, t.TTL); err != nil {
		zap.L().Warn("response cache write failed",
			zap.String("url", url), zap.Error(err))
	}

	resp.Body = io.NopCloser(bytes.NewReader(body))
	return resp, nil
}

// cachedResponse synthesizes an http.Response from a cache entry.
func cachedResponse(req *http.Request, cached *model.CachedResponse) *http.Response {
	header := make(http.Header)
	if cached.ContentType != "" {
		header.Set("Content-Type", cached.ContentType)
	}
	if cached.ETag != "" {
		header.Set("ETag", cached.ETag)
	}
	return &http.Response{
		Status:        http.StatusText(http.StatusOK),
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(cached.Body)),
		ContentLength: int64(len(cached.Body)),
		Request:       req,
	}
}

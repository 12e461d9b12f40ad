package model

import "time"

// CachedResponse is a cached HTTP response body. API payloads cache the full
// body; large file downloads cache only the ETag and revalidate.
type CachedResponse struct {
	URL         string    `json:"url"`
	Body        []byte    `json:"body,omitempty"`
	ETag        string    `json:"etag,omitempty"`
	ContentType string    `json:"content_type,omitempty"`
	FetchedAt   time.Time `json:"fetched_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Expired reports whether the entry is past its TTL at the given instant.
func (c *CachedResponse) Expired(now time.Time) bool {
	return !c.ExpiresAt.After(now)
}

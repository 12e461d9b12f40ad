// Package faostat provides a client for the FAOSTAT data API, scoped to the
// Food Balance Sheets domain the pipeline pulls.
package faostat

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

// Client defines the FAOSTAT operations the pipeline uses.
type Client interface {
	// FoodBalance fetches every Food Balance Sheet row for one area code.
	// Callers filter by element; the API call stays simple on purpose.
	FoodBalance(ctx context.Context, areaCode string) ([]Row, error)
}

// Row is one Food Balance Sheet observation.
type Row struct {
	AreaCode string   `json:"area_code"`
	Area     string   `json:"area"`
	ItemCode string   `json:"item_code"`
	Item     string   `json:"item"`
	Element  string   `json:"element"`
	Year     int      `json:"year"`
	Value    *float64 `json:"value"`
	Unit     string   `json:"unit"`
}

// envelope is the API response wrapper.
type envelope struct {
	Data []Row `json:"data"`
}

// Option configures the FAOSTAT client.
type Option func(*httpClient)

// WithBaseURL sets the dataset endpoint (for testing or a catalog override).
func WithBaseURL(base string) Option {
	return func(c *httpClient) {
		c.baseURL = base
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithPerPage sets the page size requested from the API.
func WithPerPage(n int) Option {
	return func(c *httpClient) {
		if n > 0 {
			c.perPage = n
		}
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) {
		c.userAgent = ua
	}
}

type httpClient struct {
	baseURL   string
	perPage   int
	userAgent string
	http      *http.Client
}

// NewClient creates a FAOSTAT Food Balance Sheets client. Bulk pulls are
// slow on the FAOSTAT side, so the default timeout is generous.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL:   "https://fenixservices.fao.org/faostat/api/v1/en/data/FBS",
		perPage:   50000,
		userAgent: "CaribData/1.0 (+github.com/CaribData)",
		http: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// retryableStatusCode returns true if the HTTP status code should trigger a retry.
func retryableStatusCode(code int) bool {
	return code == http.StatusTooManyRequests ||
		code == http.StatusInternalServerError ||
		code == http.StatusBadGateway ||
		code == http.StatusServiceUnavailable ||
		code == http.StatusGatewayTimeout
}

func (c *httpClient) FoodBalance(ctx context.Context, areaCode string) ([]Row, error) {
	q := url.Values{}
	q.Set("area_code", areaCode)
	q.Set("per_page", strconv.Itoa(c.perPage))
	reqURL := c.baseURL + "?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "faostat: create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	body, statusCode, err := c.retryDo(ctx, req)
	if err != nil {
		return nil, eris.Wrapf(err, "faostat: food balance %s", areaCode)
	}
	if statusCode != http.StatusOK {
		return nil, eris.Errorf("faostat: food balance %s: unexpected status %d: %s", areaCode, statusCode, string(body))
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, eris.Wrapf(err, "faostat: unmarshal food balance %s", areaCode)
	}
	return env.Data, nil
}

// retryDo executes a request with exponential backoff on transient failures
// (429, 5xx). Returns the body and status code on success, or the last error
// after exhausting retries.
func (c *httpClient) retryDo(ctx context.Context, req *http.Request) ([]byte, int, error) {
	const maxAttempts = 3
	backoff := 1 * time.Second

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		resp, err := c.http.Do(req.Clone(ctx))
		if err != nil {
			lastErr = err
			if attempt < maxAttempts {
				select {
				case <-ctx.Done():
					return nil, 0, ctx.Err()
				case <-time.After(backoff):
				}
				backoff *= 2
				continue
			}
			return nil, 0, lastErr
		}

		body, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			return nil, resp.StatusCode, eris.Wrap(readErr, "faostat: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("faostat: status %d: %s", resp.StatusCode, string(body))
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
			continue
		}

		return body, resp.StatusCode, nil
	}

	return nil, 0, lastErr
}

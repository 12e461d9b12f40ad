// Package worldbank provides a client for the World Bank Open Data API v2.
package worldbank

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
)

// Client defines the World Bank Open Data operations the pipeline uses.
type Client interface {
	// Series fetches all observations for one country/indicator pair.
	Series(ctx context.Context, iso2, indicator string) ([]Observation, error)
	// IndicatorMeta fetches the API's own description of an indicator.
	IndicatorMeta(ctx context.Context, indicator string) (*IndicatorMeta, error)
}

// Ref is the API's {id, value} pair used for countries and indicators.
type Ref struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

// Observation is one row of a country/indicator series. Value is nil for
// years the API reports without data.
type Observation struct {
	Indicator       Ref      `json:"indicator"`
	Country         Ref      `json:"country"`
	CountryISO3Code string   `json:"countryiso3code"`
	Date            string   `json:"date"`
	Value           *float64 `json:"value"`
	Unit            string   `json:"unit"`
	ObsStatus       string   `json:"obs_status"`
	Decimal         int      `json:"decimal"`
}

// IndicatorMeta is the indicator detail record from /indicator/{code}.
type IndicatorMeta struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	Unit               string `json:"unit"`
	SourceNote         string `json:"sourceNote"`
	SourceOrganization string `json:"sourceOrganization"`
}

// PageInfo is the first element of every World Bank response envelope.
type PageInfo struct {
	Page        int    `json:"page"`
	Pages       int    `json:"pages"`
	Total       int    `json:"total"`
	LastUpdated string `json:"lastupdated"`
}

// Option configures the World Bank client.
type Option func(*httpClient)

// WithBaseURL sets a custom API base (for testing or a catalog override).
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

// WithPerPage sets the page size requested from the API. The default is large
// enough that a full indicator series arrives in one page.
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

// NewClient creates a World Bank Open Data client.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		baseURL:   "https://api.worldbank.org/v2",
		perPage:   20000,
		userAgent: "CaribData/1.0 (+github.com/CaribData)",
		http: &http.Client{
			Timeout: 30 * time.Second,
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

// retryDo executes a GET with exponential backoff on transient failures
// (429, 5xx). Returns the body and status code on success, or the last error
// after exhausting retries.
func (c *httpClient) retryDo(ctx context.Context, reqURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, eris.Wrap(err, "worldbank: create request")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

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
			return nil, resp.StatusCode, eris.Wrap(readErr, "worldbank: read response body")
		}

		if retryableStatusCode(resp.StatusCode) && attempt < maxAttempts {
			lastErr = eris.Errorf("worldbank: status %d: %s", resp.StatusCode, string(body))
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

func (c *httpClient) Series(ctx context.Context, iso2, indicator string) ([]Observation, error) {
	reqURL := fmt.Sprintf("%s/country/%s/indicator/%s?format=json&per_page=%d",
		c.baseURL, url.PathEscape(iso2), url.PathEscape(indicator), c.perPage)

	body, statusCode, err := c.retryDo(ctx, reqURL)
	if err != nil {
		return nil, eris.Wrapf(err, "worldbank: series %s/%s", iso2, indicator)
	}
	if statusCode != http.StatusOK {
		return nil, eris.Errorf("worldbank: series %s/%s: unexpected status %d: %s", iso2, indicator, statusCode, string(body))
	}

	_, rows, err := decodeEnvelope(body)
	if err != nil {
		return nil, eris.Wrapf(err, "worldbank: series %s/%s", iso2, indicator)
	}

	// A pair with no data comes back as [meta, null].
	var obs []Observation
	if err := json.Unmarshal(rows, &obs); err != nil {
		return nil, eris.Wrapf(err, "worldbank: unmarshal series %s/%s", iso2, indicator)
	}
	return obs, nil
}

func (c *httpClient) IndicatorMeta(ctx context.Context, indicator string) (*IndicatorMeta, error) {
	reqURL := fmt.Sprintf("%s/indicator/%s?format=json&per_page=20000",
		c.baseURL, url.PathEscape(indicator))

	body, statusCode, err := c.retryDo(ctx, reqURL)
	if err != nil {
		return nil, eris.Wrapf(err, "worldbank: indicator meta %s", indicator)
	}
	if statusCode != http.StatusOK {
		return nil, eris.Errorf("worldbank: indicator meta %s: unexpected status %d: %s", indicator, statusCode, string(body))
	}

	_, raw, err := decodeEnvelope(body)
	if err != nil {
		return nil, eris.Wrapf(err, "worldbank: indicator meta %s", indicator)
	}

	var metas []IndicatorMeta
	if err := json.Unmarshal(raw, &metas); err != nil {
		return nil, eris.Wrapf(err, "worldbank: unmarshal indicator meta %s", indicator)
	}
	if len(metas) == 0 {
		return nil, eris.Errorf("worldbank: indicator %s not found", indicator)
	}
	return &metas[0], nil
}

// decodeEnvelope splits the API's [pageInfo, payload] array. Error payloads
// arrive as a single-element array carrying a message block.
func decodeEnvelope(body []byte) (*PageInfo, json.RawMessage, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(body, &parts); err != nil {
		return nil, nil, eris.Wrap(err, "unmarshal envelope")
	}

	if len(parts) < 2 {
		var errBlock struct {
			Message []struct {
				ID    string `json:"id"`
				Key   string `json:"key"`
				Value string `json:"value"`
			} `json:"message"`
		}
		if len(parts) == 1 && json.Unmarshal(parts[0], &errBlock) == nil && len(errBlock.Message) > 0 {
			return nil, nil, eris.Errorf("api error %s: %s", errBlock.Message[0].ID, errBlock.Message[0].Value)
		}
		return nil, nil, eris.New("short response envelope")
	}

	var page PageInfo
	if err := json.Unmarshal(parts[0], &page); err != nil {
		return nil, nil, eris.Wrap(err, "unmarshal page info")
	}
	return &page, parts[1], nil
}

// Package opoint provides a client for the Opoint news search API.
package opoint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/arbor-commodities/sugarwire/internal/resilience"
)

// Client defines the provider operations used by the fetch orchestrator.
type Client interface {
	// SearchArticles runs one paginated query and returns a single page of
	// documents. Callers page by advancing Query.Offset until Exhausted.
	SearchArticles(ctx context.Context, q Query) (*SearchResult, error)
}

// Query selects articles by source site and time window.
type Query struct {
	// SiteID restricts the query to one source site.
	SiteID string
	// ExcludeSiteIDs inverts the selection for the residual broad query:
	// any site except these.
	ExcludeSiteIDs []string
	// Oldest and Newest bound the article publish time, half-open
	// [Oldest, Newest).
	Oldest time.Time
	Newest time.Time
	// Requested is the page size.
	Requested int
	// Offset is the pagination cursor.
	Offset int
}

// Document is one article as returned by the provider.
type Document struct {
	Header        string          `json:"header"`
	Text          string          `json:"text"`
	SiteID        string          `json:"site_id"`
	SiteName      string          `json:"site_name"`
	UnixTimestamp int64           `json:"unix_timestamp"`
	TopicMatched  bool            `json:"topic_matched"`
	Meta          json.RawMessage `json:"meta,omitempty"`
}

// SearchResult is one page of a search.
type SearchResult struct {
	Documents []Document `json:"documents"`
	Total     int        `json:"total"`
	// Exhausted is true when no further pages exist for this query.
	Exhausted bool `json:"-"`
}

// Option configures the HTTP client.
type Option func(*httpClient)

// WithBaseURL overrides the API base URL (for testing).
func WithBaseURL(u string) Option {
	return func(c *httpClient) { c.baseURL = u }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) { c.client = hc }
}

// WithRateLimit sets the outbound request rate and burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *httpClient) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) { c.timeout = d }
}

type httpClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	limiter *rate.Limiter
	timeout time.Duration
}

// NewClient creates an Opoint API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		baseURL: "https://api.opoint.com",
		apiKey:  apiKey,
		client:  &http.Client{},
		limiter: rate.NewLimiter(5, 5),
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// searchPayload is the provider wire request.
type searchPayload struct {
	SearchLine string `json:"searchline"`
	Requested  int    `json:"requested"`
	Offset     int    `json:"offset,omitempty"`
	Oldest     int64  `json:"oldest,omitempty"`
	Newest     int64  `json:"newest,omitempty"`
}

func (q Query) searchLine() string {
	var parts []string
	if q.SiteID != "" {
		parts = append(parts, "site:"+q.SiteID)
	}
	for _, id := range q.ExcludeSiteIDs {
		parts = append(parts, "NOT site:"+id)
	}
	if len(parts) == 0 {
		return "*"
	}
	return strings.Join(parts, " AND ")
}

func (c *httpClient) SearchArticles(ctx context.Context, q Query) (*SearchResult, error) {
	if q.Requested <= 0 {
		return nil, eris.New("opoint: requested page size must be positive")
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "opoint: rate limiter wait")
	}

	payload := searchPayload{
		SearchLine: q.searchLine(),
		Requested:  q.Requested,
		Offset:     q.Offset,
	}
	if !q.Oldest.IsZero() {
		payload.Oldest = q.Oldest.Unix()
	}
	if !q.Newest.IsZero() {
		payload.Newest = q.Newest.Unix()
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "opoint: marshal payload")
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "opoint: create request")
	}
	req.Header.Set("Authorization", "Token "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "opoint: search request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		return nil, resilience.NewRateLimitedError(
			eris.Errorf("opoint: rate limited (429)"), retryAfter)
	}
	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return nil, resilience.NewTransientError(
			eris.Errorf("opoint: status %d", resp.StatusCode), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, eris.Errorf("opoint: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "opoint: read response")
	}

	var result SearchResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, eris.Wrap(err, "opoint: decode response")
	}

	result.Exhausted = len(result.Documents) == 0 ||
		q.Offset+len(result.Documents) >= result.Total
	return &result, nil
}

// parseRetryAfter handles the delay-seconds form of the header. The HTTP
// date form is rare from this provider and falls back to zero, which lets
// the caller's backoff schedule apply.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

var _ Client = (*httpClient)(nil)

// String renders the query for logs.
func (q Query) String() string {
	return fmt.Sprintf("searchline=%q requested=%d offset=%d", q.searchLine(), q.Requested, q.Offset)
}

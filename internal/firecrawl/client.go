// Package firecrawl is a minimal client for the Firecrawl batch-scrape and
// crawl APIs. Both return a job that is driven to completion by polling its
// status endpoint.
package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/grasshoppersolutions/convocatorias/internal/apperror"
	"github.com/grasshoppersolutions/convocatorias/internal/models"
)

const (
	DefaultBaseURL = "https://api.firecrawl.dev"
	httpTimeout    = 15 * time.Second

	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusProcessing = "processing"
)

// Page is a single scraped page as returned by the status endpoint.
type Page struct {
	URL      string                 `json:"url"`
	Markdown string                 `json:"markdown"`
	Metadata map[string]interface{} `json:"metadata"`
}

// Status mirrors the job status payload shared by batch scrape and crawl.
type Status struct {
	Status      string `json:"status"`
	Completed   int    `json:"completed"`
	Total       int    `json:"total"`
	CreditsUsed *int   `json:"creditsUsed"`
	Next        string `json:"next"`
	Data        []Page `json:"data"`
	Error       string `json:"error"`
}

//go:generate mockgen -source=client.go -destination=client_mock.go -package=firecrawl

// StatusChecker fetches the status of a submitted job.
type StatusChecker interface {
	GetStatus(ctx context.Context, statusEndpoint string) (*Status, error)
}

// Client talks to the Firecrawl API with a bearer token.
type Client struct {
	apiKey  string
	baseURL *url.URL
	client  *http.Client
}

type Option func(*Client)

// WithBaseURL points the client at another deployment, e.g. a test server.
func WithBaseURL(raw string) Option {
	return func(c *Client) {
		if u, err := url.Parse(strings.TrimRight(raw, "/")); err == nil && raw != "" {
			c.baseURL = u
		}
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// New constructs a client. It is safe for concurrent use.
func New(apiKey string, opts ...Option) *Client {
	base, _ := url.Parse(DefaultBaseURL)
	c := &Client{
		apiKey:  apiKey,
		baseURL: base,
		client:  &http.Client{Timeout: httpTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultCrawlOptions limits a site crawl to listing pages.
func DefaultCrawlOptions() map[string]interface{} {
	return map[string]interface{}{
		"maxDiscoveryDepth":  2,
		"limit":              20,
		"includePaths":       []string{"convocatorias"},
		"excludePaths":       []string{"login", "admin", "usuario", "register"},
		"allowExternalLinks": false,
	}
}

// DefaultScrapeOptions requests markdown only.
func DefaultScrapeOptions() map[string]interface{} {
	return map[string]interface{}{"formats": []string{"markdown"}}
}

type submitResponse struct {
	Success *bool  `json:"success"`
	ID      string `json:"id"`
	URL     string `json:"url"`
}

// SubmitBatch starts a batch scrape of urls.
func (c *Client) SubmitBatch(ctx context.Context, urls []string, scrapeOptions map[string]interface{}) (models.Job, error) {
	body := merge(DefaultScrapeOptions(), scrapeOptions)
	body["urls"] = urls
	return c.submit(ctx, "/v2/batch/scrape", body)
}

// SubmitCrawl starts a crawl rooted at siteURL.
func (c *Client) SubmitCrawl(ctx context.Context, siteURL string, crawlOptions, scrapeOptions map[string]interface{}) (models.Job, error) {
	body := merge(DefaultCrawlOptions(), crawlOptions)
	body["url"] = siteURL
	body["scrapeOptions"] = merge(DefaultScrapeOptions(), scrapeOptions)
	return c.submit(ctx, "/v2/crawl", body)
}

func (c *Client) submit(ctx context.Context, path string, body map[string]interface{}) (models.Job, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return models.Job{}, fmt.Errorf("marshal %s request: %w", path, err)
	}

	endpoint := c.resolve(path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return models.Job{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	raw, status, err := c.do(req)
	if err != nil {
		return models.Job{}, apperror.NewUpstream("firecrawl request failed", 0, nil, err)
	}
	if status < 200 || status > 299 {
		return models.Job{}, apperror.NewUpstream(fmt.Sprintf("firecrawl %s returned %d", path, status), status, details(raw), nil)
	}

	var resp submitResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return models.Job{}, apperror.NewUpstream("firecrawl returned malformed submit response", status, details(raw), err)
	}
	if resp.Success != nil && !*resp.Success {
		return models.Job{}, apperror.NewUpstream(fmt.Sprintf("firecrawl %s reported failure", path), status, details(raw), nil)
	}
	if resp.ID == "" {
		return models.Job{}, apperror.NewUpstream("firecrawl submit response has no job id", status, details(raw), nil)
	}

	statusEndpoint := resp.URL
	if statusEndpoint == "" {
		statusEndpoint = c.resolve(path + "/" + resp.ID)
	}
	return models.Job{
		ID:             resp.ID,
		StatusEndpoint: statusEndpoint,
		State:          models.JobSubmitted,
		StartedAt:      time.Now(),
	}, nil
}

// GetStatus fetches one status snapshot. Relative endpoints are resolved
// against the base URL.
func (c *Client) GetStatus(ctx context.Context, statusEndpoint string) (*Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolve(statusEndpoint), nil)
	if err != nil {
		return nil, err
	}

	raw, status, err := c.do(req)
	if err != nil {
		return nil, apperror.NewUpstream("firecrawl status request failed", 0, nil, err)
	}
	if status < 200 || status > 299 {
		return nil, apperror.NewUpstream(fmt.Sprintf("firecrawl status returned %d", status), status, details(raw), nil)
	}

	var s Status
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, apperror.NewUpstream("firecrawl returned malformed status response", status, details(raw), err)
	}
	if s.Status == "" {
		return nil, apperror.NewUpstream("firecrawl status response has no status", status, details(raw), nil)
	}
	return &s, nil
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http %s: %w", req.Method, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read body: %w", err)
	}
	return raw, resp.StatusCode, nil
}

func (c *Client) resolve(endpoint string) string {
	ref, err := url.Parse(endpoint)
	if err != nil || ref.IsAbs() {
		return endpoint
	}
	return c.baseURL.ResolveReference(ref).String()
}

// details keeps the upstream body for the caller, decoded when it is JSON.
func details(raw []byte) interface{} {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err == nil {
		return v
	}
	return string(raw)
}

func merge(base, overrides map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

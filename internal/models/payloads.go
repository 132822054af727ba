package models

import "time"

// These structs define the JSON payloads exchanged between the HTTP functions,
// the resume workflow and the services.

// CrawlBatchRequest is the input for the crawl-batch function.
type CrawlBatchRequest struct {
	URLs          []string               `json:"urls"`
	ScrapeOptions map[string]interface{} `json:"scrapeOptions,omitempty"`
	// Zero means the configured default.
	BudgetMs   int64 `json:"budgetMs,omitempty"`
	IntervalMs int64 `json:"intervalMs,omitempty"`
}

// PollTimings converts the optional millisecond overrides, falling back to
// the given defaults.
func PollTimings(budgetMs, intervalMs int64, budget, interval time.Duration) (time.Duration, time.Duration) {
	if budgetMs > 0 {
		budget = time.Duration(budgetMs) * time.Millisecond
	}
	if intervalMs > 0 {
		interval = time.Duration(intervalMs) * time.Millisecond
	}
	return budget, interval
}

// CrawlBatchResponse is either a completed result set or a continuation token.
type CrawlBatchResponse struct {
	Success          bool    `json:"success"`
	Count            int     `json:"count,omitempty"`
	Results          []Entry `json:"results,omitempty"`
	CombinedMarkdown string  `json:"combinedMarkdown,omitempty"`
	JobID            string  `json:"jobId"`
	CreditsUsed      *int    `json:"creditsUsed,omitempty"`

	TimedOut  bool   `json:"timeout,omitempty"`
	StatusURL string `json:"statusUrl,omitempty"`
	Message   string `json:"message,omitempty"`
	// ResumeExecution names the workflow execution resuming a timed-out job.
	ResumeExecution string `json:"resumeExecution,omitempty"`
}

// CrawlSitesRequest is the input for the crawl-sites function.
type CrawlSitesRequest struct {
	URL            string                 `json:"url,omitempty"`
	URLs           []string               `json:"urls,omitempty"`
	CrawlerOptions map[string]interface{} `json:"crawlerOptions,omitempty"`
	ScrapeOptions  map[string]interface{} `json:"scrapeOptions,omitempty"`
	BudgetMs       int64                  `json:"budgetMs,omitempty"`
	// Extract hands completed markdown to the extraction pipeline.
	Extract bool `json:"extract,omitempty"`
}

// SiteResult is the per-URL outcome of a crawl.
type SiteResult struct {
	URL          string      `json:"url"`
	Success      bool        `json:"success"`
	Markdown     string      `json:"markdown"`
	PagesScraped int         `json:"pagesScraped"`
	Credits      *int        `json:"credits,omitempty"`
	TimedOut     bool        `json:"timeout,omitempty"`
	JobID        string      `json:"jobId,omitempty"`
	StatusURL    string      `json:"statusUrl,omitempty"`
	Error        interface{} `json:"error,omitempty"`
}

// CrawlSitesResponse is the output of the crawl-sites function.
type CrawlSitesResponse struct {
	Success bool         `json:"success"`
	Count   int          `json:"count"`
	Results []SiteResult `json:"results"`
}

// JobStatusRequest is the input for the batch-status function.
type JobStatusRequest struct {
	JobURL string `json:"jobUrl"`
}

// JobStatusResponse reports the state of a previously submitted job.
type JobStatusResponse struct {
	Success         bool   `json:"success"`
	JobStatus       string `json:"jobStatus"`
	TotalURLs       int    `json:"totalUrls,omitempty"`
	ProcessedURLs   int    `json:"processedUrls,omitempty"`
	MarkdownContent string `json:"markdownContent,omitempty"`
	Error           string `json:"error,omitempty"`
}

// StoreListingsRequest is the POST body of the store-listings function.
type StoreListingsRequest struct {
	Convocatorias []Listing `json:"convocatorias"`
}

// UpsertResult counts what one upsert call did. New includes records
// created without a dedup key; Unkeyed counts those separately.
type UpsertResult struct {
	New     int `json:"new"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
	Unkeyed int `json:"unkeyed"`
	Total   int `json:"total"`
}

// ListListingsRequest filters the stored listings.
type ListListingsRequest struct {
	Estado string
	Limit  int
}

// ListListingsResponse is the GET output of the store-listings function.
type ListListingsResponse struct {
	Success bool            `json:"success"`
	Count   int             `json:"count"`
	Data    []StoredListing `json:"data"`
}

// ResumeArgument is the execution argument of the resume workflow.
type ResumeArgument struct {
	JobID     string `json:"jobId"`
	StatusURL string `json:"statusUrl"`
	RequestID string `json:"requestId"`
}

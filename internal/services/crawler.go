package services

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/grasshoppersolutions/convocatorias/internal/apperror"
	"github.com/grasshoppersolutions/convocatorias/internal/config"
	"github.com/grasshoppersolutions/convocatorias/internal/firecrawl"
	"github.com/grasshoppersolutions/convocatorias/internal/gcp"
	"github.com/grasshoppersolutions/convocatorias/internal/models"
	"golang.org/x/sync/errgroup"
)

const backgroundTaskTimeout = 5 * time.Minute

// ContentService is the content extraction service behind the crawl functions.
type ContentService interface {
	firecrawl.StatusChecker
	SubmitBatch(ctx context.Context, urls []string, scrapeOptions map[string]interface{}) (models.Job, error)
	SubmitCrawl(ctx context.Context, siteURL string, crawlOptions, scrapeOptions map[string]interface{}) (models.Job, error)
}

// Archiver keeps the combined markdown of a completed job.
type Archiver interface {
	Archive(ctx context.Context, jobID, content string) (string, error)
}

// Resumer continues polling a timed-out job outside this request.
type Resumer interface {
	Resume(ctx context.Context, arg models.ResumeArgument) (string, error)
}

// Ingester turns crawled entries into stored listings.
type Ingester interface {
	Ingest(ctx context.Context, entries []models.Entry) (models.UpsertResult, error)
}

// CrawlerConfig holds the polling defaults of the crawl functions.
type CrawlerConfig struct {
	Budget      time.Duration
	Interval    time.Duration
	Concurrency int
}

// CrawlerFunction holds dependencies for the crawl orchestration.
type CrawlerFunction struct {
	content  ContentService
	poller   *Poller
	archiver Archiver
	resumer  Resumer
	ingester Ingester
	config   CrawlerConfig
}

// NewCrawler wires the crawl orchestration from configuration. The archive
// bucket and resume workflow are optional.
func NewCrawler(ctx context.Context, cfg config.Config) (*CrawlerFunction, error) {
	if err := cfg.ValidateCrawl(); err != nil {
		return nil, err
	}

	content := firecrawl.New(cfg.Firecrawl.APIKey, firecrawl.WithBaseURL(cfg.Firecrawl.BaseURL))
	f := newCrawler(content, CrawlerConfig{
		Budget:      cfg.Poll.Budget,
		Interval:    cfg.Poll.Interval,
		Concurrency: cfg.CrawlConcurrency,
	})

	var storageClient *storage.Client
	if cfg.ArchiveBucket != "" {
		var err error
		storageClient, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage client: %w", err)
		}
		f.archiver = gcp.NewMarkdownArchive(storageClient, cfg.ArchiveBucket)
	}
	if cfg.ResumeEnabled() {
		resumer, err := gcp.NewWorkflowResumer(ctx, cfg.ProjectID, cfg.Workflow.Location, cfg.Workflow.ID)
		if err != nil {
			if storageClient != nil {
				storageClient.Close()
			}
			return nil, err
		}
		f.resumer = resumer
	}

	slog.Info("Crawler initialized.",
		"budget", cfg.Poll.Budget.String(), "interval", cfg.Poll.Interval.String(),
		"archive", cfg.ArchiveBucket != "", "resume", cfg.ResumeEnabled())
	return f, nil
}

func newCrawler(content ContentService, cfg CrawlerConfig) *CrawlerFunction {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &CrawlerFunction{
		content: content,
		poller:  NewPoller(content),
		config:  cfg,
	}
}

// WithIngester enables extraction of completed crawls into stored listings.
func (f *CrawlerFunction) WithIngester(ingester Ingester) *CrawlerFunction {
	f.ingester = ingester
	return f
}

// CrawlBatch submits one batch scrape and waits for it within the budget.
func (f *CrawlerFunction) CrawlBatch(ctx context.Context, req *models.CrawlBatchRequest) (*models.CrawlBatchResponse, error) {
	if err := validateURLs(req.URLs); err != nil {
		return nil, err
	}
	if err := validateTimings(req.BudgetMs, req.IntervalMs); err != nil {
		return nil, err
	}
	budget, interval := models.PollTimings(req.BudgetMs, req.IntervalMs, f.config.Budget, f.config.Interval)

	requestID := uuid.NewString()
	logCtx := slog.With("requestId", requestID, "urlCount", len(req.URLs))
	logCtx.Info("Starting batch scrape.")

	job, err := f.content.SubmitBatch(ctx, req.URLs, req.ScrapeOptions)
	if err != nil {
		logCtx.Error("Batch scrape submission failed", "error", err)
		return nil, err
	}
	logCtx = logCtx.With("jobId", job.ID)
	logCtx.Info("Batch job started.", "statusUrl", job.StatusEndpoint)

	outcome, err := f.poller.Poll(ctx, &job, budget, interval)
	if err != nil {
		return nil, err
	}

	switch outcome.Kind {
	case OutcomeCompleted:
		entries := Normalize(outcome.Pages)
		combined := CombineMarkdown(entries)
		f.archive(ctx, job.ID, combined)
		logCtx.Info("Batch completed.", "pages", len(outcome.Pages), "entries", len(entries))
		return &models.CrawlBatchResponse{
			Success:          true,
			Count:            len(entries),
			Results:          entries,
			CombinedMarkdown: combined,
			JobID:            job.ID,
			CreditsUsed:      outcome.CreditsUsed,
		}, nil

	case OutcomeFailed:
		return nil, apperror.NewUpstream(fmt.Sprintf("batch job %s failed", job.ID), 0, outcome.Details, nil)

	default:
		resp := &models.CrawlBatchResponse{
			JobID:     job.ID,
			TimedOut:  true,
			StatusURL: job.StatusEndpoint,
			Message:   "Batch job is still processing. Use jobId to check status later.",
		}
		resp.ResumeExecution = f.resume(ctx, logCtx, requestID, job)
		return resp, nil
	}
}

// CrawlSites crawls each site as its own job. Jobs are polled concurrently,
// each with the full budget, and one site failing never fails the others.
func (f *CrawlerFunction) CrawlSites(ctx context.Context, req *models.CrawlSitesRequest) (*models.CrawlSitesResponse, error) {
	urls := req.URLs
	if len(urls) == 0 && req.URL != "" {
		urls = []string{req.URL}
	}
	if err := validateURLs(urls); err != nil {
		return nil, apperror.Validationf("Provide either 'url' (string) or 'urls' (array of strings): %s", err.Error())
	}
	if err := validateTimings(req.BudgetMs, 0); err != nil {
		return nil, err
	}
	budget, _ := models.PollTimings(req.BudgetMs, 0, f.config.Budget, f.config.Interval)

	requestID := uuid.NewString()
	logCtx := slog.With("requestId", requestID, "urlCount", len(urls))
	logCtx.Info("Starting site crawls.")

	results := make([]models.SiteResult, len(urls))
	entries := make([][]models.Entry, len(urls))

	var eg errgroup.Group
	eg.SetLimit(f.config.Concurrency)
	for i, siteURL := range urls {
		eg.Go(func() error {
			results[i], entries[i] = f.crawlSite(ctx, logCtx, siteURL, req, budget)
			return nil
		})
	}
	_ = eg.Wait()

	if req.Extract && f.ingester != nil {
		var all []models.Entry
		for _, e := range entries {
			all = append(all, e...)
		}
		if len(all) > 0 {
			Detach(ctx, "extract-listings", backgroundTaskTimeout, func(ctx context.Context) error {
				_, err := f.ingester.Ingest(ctx, all)
				return err
			})
		}
	}

	return &models.CrawlSitesResponse{Success: true, Count: len(results), Results: results}, nil
}

func (f *CrawlerFunction) crawlSite(ctx context.Context, logCtx *slog.Logger, siteURL string, req *models.CrawlSitesRequest, budget time.Duration) (models.SiteResult, []models.Entry) {
	result := models.SiteResult{URL: siteURL}
	logCtx = logCtx.With("siteUrl", siteURL)

	job, err := f.content.SubmitCrawl(ctx, siteURL, req.CrawlerOptions, req.ScrapeOptions)
	if err != nil {
		logCtx.Error("Crawl submission failed", "error", err)
		result.Error = errorDetails(err)
		return result, nil
	}
	result.JobID = job.ID

	outcome, err := f.poller.Poll(ctx, &job, budget, f.config.Interval)
	if err != nil {
		result.Error = err.Error()
		return result, nil
	}

	switch outcome.Kind {
	case OutcomeCompleted:
		entries := Normalize(outcome.Pages)
		result.Success = true
		result.Markdown = CombineWithSources(entries)
		result.PagesScraped = len(outcome.Pages)
		result.Credits = outcome.CreditsUsed
		logCtx.Info("Crawl completed.", "pages", len(outcome.Pages))
		return result, entries
	case OutcomeFailed:
		result.Error = outcome.Details
	default:
		result.TimedOut = true
		result.StatusURL = job.StatusEndpoint
	}
	return result, nil
}

// CheckJob reports the current state of a job submitted earlier, typically
// one returned as timed out.
func (f *CrawlerFunction) CheckJob(ctx context.Context, req *models.JobStatusRequest) (*models.JobStatusResponse, error) {
	if strings.TrimSpace(req.JobURL) == "" {
		return nil, apperror.Validationf("Missing 'jobUrl' in request body")
	}

	st, err := f.content.GetStatus(ctx, req.JobURL)
	if err != nil {
		return nil, err
	}

	switch st.Status {
	case firecrawl.StatusCompleted:
		pages, _, err := collectPages(ctx, f.content, st, func() bool { return ctx.Err() != nil })
		if err != nil {
			return nil, err
		}
		entries := Normalize(pages)
		return &models.JobStatusResponse{
			Success:         true,
			JobStatus:       firecrawl.StatusCompleted,
			TotalURLs:       len(pages),
			ProcessedURLs:   len(entries),
			MarkdownContent: CombineMarkdown(entries),
		}, nil
	case firecrawl.StatusFailed:
		msg := st.Error
		if msg == "" {
			msg = "Job failed"
		}
		return nil, apperror.NewUpstream(msg, 0, st, nil)
	default:
		return &models.JobStatusResponse{JobStatus: st.Status}, nil
	}
}

func (f *CrawlerFunction) archive(ctx context.Context, jobID, combined string) {
	if f.archiver == nil || combined == "" {
		return
	}
	Detach(ctx, "archive-markdown", backgroundTaskTimeout, func(ctx context.Context) error {
		uri, err := f.archiver.Archive(ctx, jobID, combined)
		if err == nil {
			slog.Info("Archived combined markdown.", "jobId", jobID, "gcsUri", uri)
		}
		return err
	})
}

func (f *CrawlerFunction) resume(ctx context.Context, logCtx *slog.Logger, requestID string, job models.Job) string {
	if f.resumer == nil {
		return ""
	}
	name, err := f.resumer.Resume(ctx, models.ResumeArgument{JobID: job.ID, StatusURL: job.StatusEndpoint, RequestID: requestID})
	if err != nil {
		logCtx.Error("Failed to hand timed-out job to resume workflow", "error", err)
		return ""
	}
	logCtx.Info("Timed-out job handed to resume workflow.", "execution", name)
	return name
}

func validateURLs(urls []string) error {
	if len(urls) == 0 {
		return apperror.Validationf("Provide 'urls' as a non-empty array of strings")
	}
	for i, raw := range urls {
		u, err := url.ParseRequestURI(strings.TrimSpace(raw))
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return apperror.Validationf("urls[%d] is not a valid http(s) URL: %q", i, raw)
		}
	}
	return nil
}

func validateTimings(budgetMs, intervalMs int64) error {
	if budgetMs < 0 || intervalMs < 0 {
		return apperror.Validationf("budgetMs (%d) and intervalMs (%d) must not be negative", budgetMs, intervalMs)
	}
	return nil
}

func errorDetails(err error) interface{} {
	if appErr, ok := apperror.As(err); ok && appErr.Details() != nil {
		return appErr.Details()
	}
	return err.Error()
}

package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/grasshoppersolutions/convocatorias/internal/apperror"
	"github.com/grasshoppersolutions/convocatorias/internal/firecrawl"
	"github.com/grasshoppersolutions/convocatorias/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeContent serves one fixed status per job endpoint.
type fakeContent struct {
	mu        sync.Mutex
	statuses  map[string]*firecrawl.Status
	submitErr map[string]error
	submitted []string
}

func (c *fakeContent) endpoint(id string) string {
	return "https://api.firecrawl.dev/v2/crawl/" + id
}

func (c *fakeContent) GetStatus(_ context.Context, endpoint string) (*firecrawl.Status, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.statuses[endpoint]
	if !ok {
		return nil, apperror.NewUpstream("not found", 404, nil, nil)
	}
	return st, nil
}

func (c *fakeContent) SubmitBatch(_ context.Context, urls []string, _ map[string]interface{}) (models.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitted = append(c.submitted, strings.Join(urls, ","))
	return models.Job{ID: "batch", StatusEndpoint: c.endpoint("batch"), State: models.JobSubmitted}, nil
}

func (c *fakeContent) SubmitCrawl(_ context.Context, siteURL string, _, _ map[string]interface{}) (models.Job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.submitted = append(c.submitted, siteURL)
	if err := c.submitErr[siteURL]; err != nil {
		return models.Job{}, err
	}
	id := strings.TrimPrefix(siteURL, "https://")
	return models.Job{ID: id, StatusEndpoint: c.endpoint(id), State: models.JobSubmitted}, nil
}

type fakeResumer struct {
	args []models.ResumeArgument
}

func (r *fakeResumer) Resume(_ context.Context, arg models.ResumeArgument) (string, error) {
	r.args = append(r.args, arg)
	return "executions/abc", nil
}

type fakeIngester struct {
	done chan []models.Entry
}

func (i *fakeIngester) Ingest(_ context.Context, entries []models.Entry) (models.UpsertResult, error) {
	i.done <- entries
	return models.UpsertResult{New: len(entries), Total: len(entries)}, nil
}

func testCrawler(content ContentService) *CrawlerFunction {
	f := newCrawler(content, CrawlerConfig{Budget: 5 * time.Second, Interval: time.Second, Concurrency: 2})
	clock := newFakeClock()
	f.poller.now = clock.now
	f.poller.sleep = clock.sleep
	return f
}

func completed(pages ...firecrawl.Page) *firecrawl.Status {
	return &firecrawl.Status{Status: firecrawl.StatusCompleted, Data: pages, CreditsUsed: intPtr(len(pages))}
}

func TestCrawlBatch_Completed(t *testing.T) {
	t.Parallel()

	content := &fakeContent{}
	content.statuses = map[string]*firecrawl.Status{
		content.endpoint("batch"): completed(
			firecrawl.Page{URL: "https://a", Markdown: "# A"},
			firecrawl.Page{URL: "https://b", Markdown: ""},
			firecrawl.Page{URL: "https://c", Markdown: "# C"},
		),
	}

	resp, err := testCrawler(content).CrawlBatch(context.Background(), &models.CrawlBatchRequest{URLs: []string{"https://a", "https://b", "https://c"}})

	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "# A\n\n---\n\n# C", resp.CombinedMarkdown)
	assert.Equal(t, "batch", resp.JobID)
	require.NotNil(t, resp.CreditsUsed)
	assert.Equal(t, 3, *resp.CreditsUsed)
	assert.False(t, resp.TimedOut)
}

func TestCrawlBatch_TimedOutHandsOffToResume(t *testing.T) {
	t.Parallel()

	content := &fakeContent{}
	content.statuses = map[string]*firecrawl.Status{
		content.endpoint("batch"): {Status: firecrawl.StatusProcessing},
	}
	resumer := &fakeResumer{}
	f := testCrawler(content)
	f.resumer = resumer

	resp, err := f.CrawlBatch(context.Background(), &models.CrawlBatchRequest{URLs: []string{"https://a"}, BudgetMs: 3000, IntervalMs: 1000})

	require.NoError(t, err)
	assert.True(t, resp.TimedOut)
	assert.False(t, resp.Success)
	assert.Equal(t, "batch", resp.JobID)
	assert.Equal(t, content.endpoint("batch"), resp.StatusURL)
	assert.Equal(t, "executions/abc", resp.ResumeExecution)
	require.Len(t, resumer.args, 1)
	assert.Equal(t, "batch", resumer.args[0].JobID)
	assert.NotEmpty(t, resumer.args[0].RequestID)
}

func TestCrawlBatch_Failed(t *testing.T) {
	t.Parallel()

	content := &fakeContent{}
	content.statuses = map[string]*firecrawl.Status{
		content.endpoint("batch"): {Status: firecrawl.StatusFailed, Error: "blocked"},
	}

	_, err := testCrawler(content).CrawlBatch(context.Background(), &models.CrawlBatchRequest{URLs: []string{"https://a"}})

	require.Error(t, err)
	appErr, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.Upstream, appErr.Code())
	details, ok := appErr.Details().(*firecrawl.Status)
	require.True(t, ok)
	assert.Equal(t, "blocked", details.Error)
}

func TestCrawlBatch_RejectsBadURLs(t *testing.T) {
	t.Parallel()

	content := &fakeContent{}
	f := testCrawler(content)

	for _, urls := range [][]string{nil, {}, {"ftp://a"}, {"https://ok", "not a url"}} {
		_, err := f.CrawlBatch(context.Background(), &models.CrawlBatchRequest{URLs: urls})
		require.Error(t, err)
		assert.True(t, apperror.Is(err, apperror.Validation))
	}
	assert.Empty(t, content.submitted)
}

func TestCrawlSites_PartialFailure(t *testing.T) {
	t.Parallel()

	content := &fakeContent{submitErr: map[string]error{"https://down": errors.New("connection refused")}}
	content.statuses = map[string]*firecrawl.Status{
		content.endpoint("ok"):   completed(firecrawl.Page{URL: "https://ok/1", Markdown: "uno"}, firecrawl.Page{URL: "https://ok/2", Markdown: "dos"}),
		content.endpoint("fail"): {Status: firecrawl.StatusFailed, Error: "robots"},
		content.endpoint("slow"): {Status: firecrawl.StatusProcessing},
	}
	ingester := &fakeIngester{done: make(chan []models.Entry, 1)}
	f := testCrawler(content).WithIngester(ingester)

	resp, err := f.CrawlSites(context.Background(), &models.CrawlSitesRequest{
		URLs:    []string{"https://ok", "https://down", "https://fail", "https://slow"},
		Extract: true,
	})

	require.NoError(t, err)
	require.Equal(t, 4, resp.Count)

	ok := resp.Results[0]
	assert.True(t, ok.Success)
	assert.Equal(t, 2, ok.PagesScraped)
	assert.Equal(t, "[URL: https://ok/1]\nuno\n\n---PAGE BREAK---\n\n[URL: https://ok/2]\ndos", ok.Markdown)

	assert.False(t, resp.Results[1].Success)
	assert.Equal(t, "connection refused", resp.Results[1].Error)

	assert.False(t, resp.Results[2].Success)
	assert.NotNil(t, resp.Results[2].Error)

	assert.True(t, resp.Results[3].TimedOut)
	assert.Equal(t, "slow", resp.Results[3].JobID)
	assert.Equal(t, content.endpoint("slow"), resp.Results[3].StatusURL)

	select {
	case entries := <-ingester.done:
		assert.Len(t, entries, 2)
	case <-time.After(5 * time.Second):
		t.Fatal("extraction was not dispatched")
	}
}

func TestCrawlSites_SingleURLField(t *testing.T) {
	t.Parallel()

	content := &fakeContent{}
	content.statuses = map[string]*firecrawl.Status{
		content.endpoint("ok"): completed(firecrawl.Page{URL: "https://ok", Markdown: "x"}),
	}

	resp, err := testCrawler(content).CrawlSites(context.Background(), &models.CrawlSitesRequest{URL: "https://ok"})

	require.NoError(t, err)
	assert.Equal(t, 1, resp.Count)
	assert.True(t, resp.Results[0].Success)

	_, err = testCrawler(content).CrawlSites(context.Background(), &models.CrawlSitesRequest{})
	assert.True(t, apperror.Is(err, apperror.Validation))
}

func TestCrawl_RejectsNegativeTimings(t *testing.T) {
	t.Parallel()

	content := &fakeContent{}
	f := testCrawler(content)

	_, err := f.CrawlSites(context.Background(), &models.CrawlSitesRequest{URL: "https://ok", BudgetMs: -1})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.Validation))

	_, err = f.CrawlBatch(context.Background(), &models.CrawlBatchRequest{URLs: []string{"https://ok"}, BudgetMs: -1})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.Validation))

	_, err = f.CrawlBatch(context.Background(), &models.CrawlBatchRequest{URLs: []string{"https://ok"}, IntervalMs: -5})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.Validation))

	assert.Empty(t, content.submitted)
}

func TestCheckJob(t *testing.T) {
	t.Parallel()

	content := &fakeContent{}
	content.statuses = map[string]*firecrawl.Status{
		content.endpoint("done"):    completed(firecrawl.Page{URL: "https://a", Markdown: "A"}, firecrawl.Page{URL: "https://b"}),
		content.endpoint("running"): {Status: "scraping"},
		content.endpoint("broken"):  {Status: firecrawl.StatusFailed},
	}
	f := testCrawler(content)

	resp, err := f.CheckJob(context.Background(), &models.JobStatusRequest{JobURL: content.endpoint("done")})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, 2, resp.TotalURLs)
	assert.Equal(t, 1, resp.ProcessedURLs)
	assert.Equal(t, "A", resp.MarkdownContent)

	resp, err = f.CheckJob(context.Background(), &models.JobStatusRequest{JobURL: content.endpoint("running")})
	require.NoError(t, err)
	assert.False(t, resp.Success)
	assert.Equal(t, "scraping", resp.JobStatus)

	_, err = f.CheckJob(context.Background(), &models.JobStatusRequest{JobURL: content.endpoint("broken")})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.Upstream))

	_, err = f.CheckJob(context.Background(), &models.JobStatusRequest{})
	assert.True(t, apperror.Is(err, apperror.Validation))
}

package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/grasshoppersolutions/convocatorias/internal/apperror"
	"github.com/grasshoppersolutions/convocatorias/internal/firecrawl"
	"github.com/grasshoppersolutions/convocatorias/internal/models"
)

// OutcomeKind is the terminal result of polling one job.
type OutcomeKind string

const (
	OutcomeCompleted OutcomeKind = "completed"
	OutcomeFailed    OutcomeKind = "failed"
	OutcomeTimedOut  OutcomeKind = "timedOut"
)

// Outcome is what Poll reports. TimedOut is not an error: it carries the job
// id and status endpoint so the caller can resume later.
type Outcome struct {
	Kind           OutcomeKind
	Pages          []firecrawl.Page
	CreditsUsed    *int
	Details        *firecrawl.Status
	JobID          string
	StatusEndpoint string
	Attempts       int
	Elapsed        time.Duration
}

// Poller drives a submitted job to a terminal outcome within a wall-clock
// budget. It holds no per-job state, so one Poller can serve concurrent jobs.
type Poller struct {
	client firecrawl.StatusChecker
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
}

func NewPoller(client firecrawl.StatusChecker) *Poller {
	return &Poller{client: client, now: time.Now, sleep: sleepContext}
}

// Poll checks the job status immediately and then every interval until the
// job completes, fails, or budget is spent. A failing status call is logged
// and retried on the next tick; if it fails on the last allowed attempt the
// job is reported as timed out. Every status call and wait runs under a
// context that expires with the budget, so a slow call is cut off at the
// budget boundary rather than at the transport timeout.
func (p *Poller) Poll(ctx context.Context, job *models.Job, budget, interval time.Duration) (Outcome, error) {
	if budget <= 0 || interval <= 0 {
		return Outcome{}, apperror.Validationf("poll budget (%s) and interval (%s) must be positive", budget, interval)
	}
	if job.StatusEndpoint == "" {
		return Outcome{}, apperror.Validationf("job %q has no status endpoint", job.ID)
	}
	if job.State.Terminal() {
		return Outcome{}, fmt.Errorf("job %s is already %s", job.ID, job.State)
	}

	logCtx := slog.With("jobId", job.ID, "statusUrl", job.StatusEndpoint)
	start := p.now()
	deadline := start.Add(budget)
	job.State = models.JobProcessing

	pollCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	for attempt := 1; ; attempt++ {
		st, err := p.client.GetStatus(pollCtx, job.StatusEndpoint)
		switch {
		case err != nil:
			logCtx.Warn("Status check failed, will retry.", "attempt", attempt, "error", err)

		case st.Status == firecrawl.StatusCompleted:
			pages, complete, err := p.collectPages(pollCtx, st, deadline)
			if err != nil {
				logCtx.Warn("Failed to fetch remaining result pages, will retry.", "attempt", attempt, "error", err)
				break
			}
			if !complete {
				logCtx.Warn("Budget spent while fetching result pages.", "pagesFetched", len(pages))
				return p.timedOut(job, attempt, start), nil
			}
			job.State = models.JobCompleted
			logCtx.Info("Job completed.", "pages", len(pages), "attempt", attempt)
			return Outcome{
				Kind:           OutcomeCompleted,
				Pages:          pages,
				CreditsUsed:    st.CreditsUsed,
				JobID:          job.ID,
				StatusEndpoint: job.StatusEndpoint,
				Attempts:       attempt,
				Elapsed:        p.now().Sub(start),
			}, nil

		case st.Status == firecrawl.StatusFailed:
			job.State = models.JobFailed
			logCtx.Error("Job failed.", "error", st.Error, "attempt", attempt)
			return Outcome{
				Kind:           OutcomeFailed,
				Details:        st,
				JobID:          job.ID,
				StatusEndpoint: job.StatusEndpoint,
				Attempts:       attempt,
				Elapsed:        p.now().Sub(start),
			}, nil

		default:
			logCtx.Info("Job still processing.", "status", st.Status, "completed", st.Completed, "total", st.Total, "attempt", attempt)
		}

		if err := pollCtx.Err(); err != nil {
			logCtx.Warn("Poll budget spent during a status call, returning job for later polling.", "attempts", attempt, "error", err)
			return p.timedOut(job, attempt, start), nil
		}
		remaining := deadline.Sub(p.now())
		if remaining <= 0 {
			logCtx.Warn("Poll budget spent, returning job for later polling.", "attempts", attempt, "budget", budget.String())
			return p.timedOut(job, attempt, start), nil
		}
		if err := p.sleep(pollCtx, min(interval, remaining)); err != nil {
			logCtx.Warn("Context done while waiting, returning job for later polling.", "error", err)
			return p.timedOut(job, attempt, start), nil
		}
	}
}

// collectPages follows the status pagination links of a completed job.
// complete is false when the deadline passed before the last page.
func (p *Poller) collectPages(ctx context.Context, first *firecrawl.Status, deadline time.Time) ([]firecrawl.Page, bool, error) {
	return collectPages(ctx, p.client, first, func() bool { return !p.now().Before(deadline) })
}

func (p *Poller) timedOut(job *models.Job, attempts int, start time.Time) Outcome {
	job.State = models.JobTimedOut
	return Outcome{
		Kind:           OutcomeTimedOut,
		JobID:          job.ID,
		StatusEndpoint: job.StatusEndpoint,
		Attempts:       attempts,
		Elapsed:        p.now().Sub(start),
	}
}

func collectPages(ctx context.Context, client firecrawl.StatusChecker, first *firecrawl.Status, expired func() bool) ([]firecrawl.Page, bool, error) {
	pages := append([]firecrawl.Page(nil), first.Data...)
	next := first.Next
	for next != "" {
		if expired() {
			return pages, false, nil
		}
		more, err := client.GetStatus(ctx, next)
		if err != nil {
			return nil, false, fmt.Errorf("fetch results page %s: %w", next, err)
		}
		pages = append(pages, more.Data...)
		next = more.Next
	}
	return pages, true, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

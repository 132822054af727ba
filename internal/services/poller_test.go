package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/grasshoppersolutions/convocatorias/internal/apperror"
	"github.com/grasshoppersolutions/convocatorias/internal/firecrawl"
	"github.com/grasshoppersolutions/convocatorias/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

// fakeClock advances only when the poller sleeps.
type fakeClock struct {
	mu     sync.Mutex
	t      time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.t = c.t.Add(d)
	return nil
}

// scriptedStatus replays a fixed sequence of status responses and records the
// clock at each call. The last response repeats once the script runs out.
type scriptedStatus struct {
	clock   *fakeClock
	script  []statusReply
	pages   map[string]*firecrawl.Status
	calls   int
	callsAt []time.Time
}

type statusReply struct {
	status *firecrawl.Status
	err    error
}

func (s *scriptedStatus) GetStatus(_ context.Context, endpoint string) (*firecrawl.Status, error) {
	if page, ok := s.pages[endpoint]; ok {
		return page, nil
	}
	s.callsAt = append(s.callsAt, s.clock.now())
	i := s.calls
	if i >= len(s.script) {
		i = len(s.script) - 1
	}
	s.calls++
	return s.script[i].status, s.script[i].err
}

func newTestPoller(client firecrawl.StatusChecker, clock *fakeClock) *Poller {
	p := NewPoller(client)
	p.now = clock.now
	p.sleep = clock.sleep
	return p
}

func processing() statusReply {
	return statusReply{status: &firecrawl.Status{Status: firecrawl.StatusProcessing, Completed: 1, Total: 3}}
}

func newJob() *models.Job {
	return &models.Job{ID: "job-1", StatusEndpoint: "https://api.firecrawl.dev/v2/batch/scrape/job-1", State: models.JobSubmitted}
}

func TestPoller_CompletedOnFirstCheckDoesNotSleep(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := firecrawl.NewMockStatusChecker(ctrl)
	client.EXPECT().
		GetStatus(gomock.Any(), "https://api.firecrawl.dev/v2/batch/scrape/job-1").
		Return(&firecrawl.Status{Status: firecrawl.StatusCompleted, Data: []firecrawl.Page{{URL: "https://a", Markdown: "# A"}}}, nil).
		Times(1)

	clock := newFakeClock()
	job := newJob()
	out, err := newTestPoller(client, clock).Poll(context.Background(), job, 5*time.Second, 2*time.Second)

	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, out.Kind)
	assert.Equal(t, 1, out.Attempts)
	assert.Len(t, out.Pages, 1)
	assert.Empty(t, clock.sleeps)
	assert.Equal(t, models.JobCompleted, job.State)
}

func TestPoller_CompletesOnThirdCheck(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	start := clock.now()
	client := &scriptedStatus{clock: clock, script: []statusReply{
		processing(),
		processing(),
		{status: &firecrawl.Status{Status: firecrawl.StatusCompleted, CreditsUsed: intPtr(3), Data: []firecrawl.Page{{URL: "https://a", Markdown: "# A"}}}},
	}}

	out, err := newTestPoller(client, clock).Poll(context.Background(), newJob(), 5000*time.Millisecond, 2000*time.Millisecond)

	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, out.Kind)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 4000*time.Millisecond, out.Elapsed)
	require.NotNil(t, out.CreditsUsed)
	assert.Equal(t, 3, *out.CreditsUsed)
	require.Len(t, client.callsAt, 3)
	assert.Equal(t, start.Add(4000*time.Millisecond), client.callsAt[2])
}

func TestPoller_NeverTerminalTimesOutWithinBudget(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	client := &scriptedStatus{clock: clock, script: []statusReply{processing()}}
	budget, interval := 5000*time.Millisecond, 2000*time.Millisecond

	job := newJob()
	out, err := newTestPoller(client, clock).Poll(context.Background(), job, budget, interval)

	require.NoError(t, err)
	assert.Equal(t, OutcomeTimedOut, out.Kind)
	assert.Equal(t, "job-1", out.JobID)
	assert.Equal(t, job.StatusEndpoint, out.StatusEndpoint)
	assert.Equal(t, models.JobTimedOut, job.State)
	assert.LessOrEqual(t, out.Elapsed, budget+interval)
	// Checks at 0, 2000, 4000 and a last one at 5000 after the shortened wait.
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, time.Second}, clock.sleeps)
	assert.Equal(t, 4, client.calls)
}

func TestPoller_FailedJob(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	client := &scriptedStatus{clock: clock, script: []statusReply{
		processing(),
		{status: &firecrawl.Status{Status: firecrawl.StatusFailed, Error: "quota exceeded"}},
	}}

	job := newJob()
	out, err := newTestPoller(client, clock).Poll(context.Background(), job, 10*time.Second, time.Second)

	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, out.Kind)
	require.NotNil(t, out.Details)
	assert.Equal(t, "quota exceeded", out.Details.Error)
	assert.Equal(t, models.JobFailed, job.State)
	assert.Equal(t, 2, out.Attempts)
}

func TestPoller_TransientErrorsAreRetried(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	client := &scriptedStatus{clock: clock, script: []statusReply{
		{err: errors.New("connection reset")},
		{err: apperror.NewUpstream("bad gateway", 502, nil, nil)},
		{status: &firecrawl.Status{Status: firecrawl.StatusCompleted, Data: []firecrawl.Page{{URL: "https://a", Markdown: "# A"}}}},
	}}

	out, err := newTestPoller(client, clock).Poll(context.Background(), newJob(), 10*time.Second, time.Second)

	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, out.Kind)
	assert.Equal(t, 3, out.Attempts)
}

func TestPoller_ErrorOnLastAttemptTimesOut(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	client := &scriptedStatus{clock: clock, script: []statusReply{{err: errors.New("dial tcp: timeout")}}}

	out, err := newTestPoller(client, clock).Poll(context.Background(), newJob(), 3*time.Second, 2*time.Second)

	require.NoError(t, err)
	assert.Equal(t, OutcomeTimedOut, out.Kind)
	// Checks at 0, 2s and 3s; the last one also fails.
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, 3*time.Second, out.Elapsed)
}

func TestPoller_FollowsPagination(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	client := &scriptedStatus{
		clock: clock,
		script: []statusReply{{status: &firecrawl.Status{
			Status: firecrawl.StatusCompleted,
			Data:   []firecrawl.Page{{URL: "https://a/1", Markdown: "one"}},
			Next:   "https://api.firecrawl.dev/v2/batch/scrape/job-1?skip=1",
		}}},
		pages: map[string]*firecrawl.Status{
			"https://api.firecrawl.dev/v2/batch/scrape/job-1?skip=1": {
				Status: firecrawl.StatusCompleted,
				Data:   []firecrawl.Page{{URL: "https://a/2", Markdown: "two"}},
			},
		},
	}

	out, err := newTestPoller(client, clock).Poll(context.Background(), newJob(), 5*time.Second, time.Second)

	require.NoError(t, err)
	require.Equal(t, OutcomeCompleted, out.Kind)
	require.Len(t, out.Pages, 2)
	assert.Equal(t, "https://a/1", out.Pages[0].URL)
	assert.Equal(t, "https://a/2", out.Pages[1].URL)
}

func TestPoller_CancelledContextTimesOut(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	client := &scriptedStatus{clock: clock, script: []statusReply{processing()}}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := newTestPoller(client, clock).Poll(ctx, newJob(), 5*time.Second, time.Second)

	require.NoError(t, err)
	assert.Equal(t, OutcomeTimedOut, out.Kind)
	assert.Equal(t, 1, client.calls)
}

// blockingStatus never answers until its context is done.
type blockingStatus struct {
	calls int
}

func (b *blockingStatus) GetStatus(ctx context.Context, _ string) (*firecrawl.Status, error) {
	b.calls++
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Second):
		return &firecrawl.Status{Status: firecrawl.StatusProcessing}, nil
	}
}

func TestPoller_SlowStatusCallIsCutAtBudget(t *testing.T) {
	t.Parallel()

	client := &blockingStatus{}
	budget, interval := 200*time.Millisecond, 100*time.Millisecond

	start := time.Now()
	out, err := NewPoller(client).Poll(context.Background(), newJob(), budget, interval)
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, OutcomeTimedOut, out.Kind)
	assert.Equal(t, "job-1", out.JobID)
	assert.Equal(t, 1, client.calls)
	assert.LessOrEqual(t, elapsed, budget+interval)
}

func TestPoller_SlowPaginationIsCutAtBudget(t *testing.T) {
	t.Parallel()

	first := &firecrawl.Status{
		Status: firecrawl.StatusCompleted,
		Data:   []firecrawl.Page{{URL: "https://a/1", Markdown: "one"}},
		Next:   "https://api.firecrawl.dev/v2/batch/scrape/job-1?skip=1",
	}
	ctrl := gomock.NewController(t)
	client := firecrawl.NewMockStatusChecker(ctrl)
	client.EXPECT().GetStatus(gomock.Any(), "https://api.firecrawl.dev/v2/batch/scrape/job-1").Return(first, nil)
	client.EXPECT().GetStatus(gomock.Any(), first.Next).DoAndReturn(func(ctx context.Context, _ string) (*firecrawl.Status, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	budget, interval := 200*time.Millisecond, 100*time.Millisecond
	start := time.Now()
	out, err := NewPoller(client).Poll(context.Background(), newJob(), budget, interval)

	require.NoError(t, err)
	assert.Equal(t, OutcomeTimedOut, out.Kind)
	assert.LessOrEqual(t, time.Since(start), budget+interval)
}

func TestPoller_RejectsInvalidInput(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	client := firecrawl.NewMockStatusChecker(ctrl)
	p := newTestPoller(client, newFakeClock())

	tests := []struct {
		name     string
		job      *models.Job
		budget   time.Duration
		interval time.Duration
		wantCode apperror.Code
	}{
		{name: "zero budget", job: newJob(), budget: 0, interval: time.Second, wantCode: apperror.Validation},
		{name: "negative interval", job: newJob(), budget: time.Second, interval: -time.Second, wantCode: apperror.Validation},
		{name: "no endpoint", job: &models.Job{ID: "x"}, budget: time.Second, interval: time.Second, wantCode: apperror.Validation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Poll(context.Background(), tt.job, tt.budget, tt.interval)
			require.Error(t, err)
			assert.True(t, apperror.Is(err, tt.wantCode))
		})
	}

	t.Run("terminal job", func(t *testing.T) {
		job := newJob()
		job.State = models.JobCompleted
		_, err := p.Poll(context.Background(), job, time.Second, time.Second)
		require.Error(t, err)
	})
}

func intPtr(v int) *int { return &v }

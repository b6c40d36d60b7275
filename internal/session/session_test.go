package session_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kiranshivaraju/repoanalyst/internal/analyzer"
	"github.com/kiranshivaraju/repoanalyst/internal/analyzer/mock"
	"github.com/kiranshivaraju/repoanalyst/internal/cache"
	"github.com/kiranshivaraju/repoanalyst/internal/poller"
	"github.com/kiranshivaraju/repoanalyst/internal/render"
	"github.com/kiranshivaraju/repoanalyst/internal/session"
	"github.com/kiranshivaraju/repoanalyst/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const interval = 5 * time.Second

// --- mock cache ---

type memCache struct {
	cache.NopCache
	mu      sync.Mutex
	reports map[models.JobID]*models.Report
}

func newMemCache() *memCache {
	return &memCache{reports: make(map[models.JobID]*models.Report)}
}

func (c *memCache) SetReport(_ context.Context, r *models.Report, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports[r.JobID] = r
	return nil
}

func (c *memCache) GetReport(_ context.Context, id models.JobID) (*models.Report, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.reports[id]
	return r, ok, nil
}

// --- helpers ---

func str(s string) *string { return &s }

func newSession(t *testing.T, client analyzer.Client, c cache.Cache) (*session.Session, *clockwork.FakeClock) {
	t.Helper()
	fc := clockwork.NewFakeClock()
	p := poller.New(client, render.NewMarkdown(), interval, poller.WithClock(fc))
	s := session.New(client, p, c, time.Hour)
	t.Cleanup(s.Close)
	return s, fc
}

func waitForTicker(t *testing.T, fc *clockwork.FakeClock) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, fc.BlockUntilContext(ctx, 1))
}

func eventuallyStatus(t *testing.T, s *session.Session, text string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.Snapshot().StatusText == text
	}, 2*time.Second, 5*time.Millisecond, "status text never became %q", text)
}

func wait(t *testing.T, s *session.Session) session.State {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	st, err := s.Wait(ctx)
	require.NoError(t, err)
	return st
}

// --- tests ---

func TestSubmit_EmptyURLIsNoop(t *testing.T) {
	client := &mock.MockClient{}
	s, _ := newSession(t, client, nil)

	require.NoError(t, s.Submit(context.Background(), ""))
	require.NoError(t, s.Submit(context.Background(), "   "))

	assert.Empty(t, client.SubmitCalls())
	st := s.Snapshot()
	assert.Equal(t, session.PhaseIdle, st.Phase)
	assert.True(t, st.InputEnabled)
}

func TestSubmit_FullFlowRendersReport(t *testing.T) {
	client := mock.NewSequenceClient(
		&models.Job{ID: "42", Status: models.StatusPending},
		&models.Job{ID: "42", Status: models.StatusRunning},
		&models.Job{ID: "42", Status: models.StatusComplete, ReportContent: str("# Report\nAll good.")},
	)
	mc := newMemCache()
	s, fc := newSession(t, client, mc)

	require.NoError(t, s.Submit(context.Background(), "https://github.com/acme/widget"))
	assert.Equal(t, []string{"https://github.com/acme/widget"}, client.SubmitCalls())

	st := s.Snapshot()
	assert.Equal(t, session.PhasePolling, st.Phase)
	assert.False(t, st.InputEnabled)
	assert.True(t, st.Loading)
	assert.Equal(t, "Job submitted. Waiting for worker to start...", st.StatusText)
	assert.Empty(t, st.ReportHTML)

	waitForTicker(t, fc)
	fc.Advance(interval)
	eventuallyStatus(t, s, "Current status: RUNNING")
	assert.Empty(t, s.Snapshot().ReportHTML, "report must not render while running")
	assert.False(t, s.Snapshot().InputEnabled)

	fc.Advance(interval)
	st = wait(t, s)

	assert.Equal(t, session.PhaseComplete, st.Phase)
	assert.Equal(t, "Analysis complete!", st.StatusText)
	assert.Contains(t, st.ReportHTML, "<h1")
	assert.Contains(t, st.ReportHTML, "Report")
	assert.True(t, st.InputEnabled)
	assert.False(t, st.Loading)
	assert.Empty(t, st.ErrorText)

	fc.Advance(10 * interval)
	assert.Equal(t, 2, client.GetJobCalls())

	r, found, err := mc.GetReport(context.Background(), "42")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, st.ReportHTML, r.HTML)
	assert.Equal(t, "https://github.com/acme/widget", r.GitHubURL)
}

func TestSubmit_FailedShowsDiagnosticText(t *testing.T) {
	client := mock.NewSequenceClient(
		&models.Job{ID: "9", Status: models.StatusPending},
		&models.Job{ID: "9", Status: models.StatusFailed, ReportContent: str("An error occurred: # clone failed")},
	)
	mc := newMemCache()
	s, fc := newSession(t, client, mc)

	require.NoError(t, s.Submit(context.Background(), "https://github.com/acme/widget"))
	waitForTicker(t, fc)
	fc.Advance(interval)
	st := wait(t, s)

	assert.Equal(t, session.PhaseFailed, st.Phase)
	assert.Equal(t, "An error occurred: # clone failed", st.FailureText)
	assert.Empty(t, st.ReportHTML)
	assert.True(t, st.InputEnabled)

	r, found, _ := mc.GetReport(context.Background(), "9")
	require.True(t, found)
	assert.Equal(t, "An error occurred: # clone failed", r.Diagnostic)
}

func TestSubmit_FailedWithoutContent(t *testing.T) {
	client := mock.NewSequenceClient(
		&models.Job{ID: "10", Status: models.StatusPending},
		&models.Job{ID: "10", Status: models.StatusFailed},
	)
	mc := newMemCache()
	s, fc := newSession(t, client, mc)

	require.NoError(t, s.Submit(context.Background(), "https://github.com/acme/widget"))
	waitForTicker(t, fc)
	fc.Advance(interval)
	st := wait(t, s)

	assert.Equal(t, session.PhaseFailed, st.Phase)
	assert.Empty(t, st.FailureText)
	assert.Empty(t, st.ReportHTML)
	assert.True(t, st.InputEnabled)

	r, found, _ := mc.GetReport(context.Background(), "10")
	require.True(t, found)
	assert.Equal(t, models.StatusFailed, r.Status)
}

func TestSubmit_SubmissionErrorNeverStartsPolling(t *testing.T) {
	client := mock.NewFailingClient(fmt.Errorf("%w: status 500", analyzer.ErrSubmission))
	s, fc := newSession(t, client, nil)

	err := s.Submit(context.Background(), "https://github.com/acme/widget")
	require.ErrorIs(t, err, analyzer.ErrSubmission)

	st := s.Snapshot()
	assert.Equal(t, session.PhaseError, st.Phase)
	assert.Equal(t, "Failed to start analysis job.", st.ErrorText)
	assert.True(t, st.InputEnabled)
	assert.False(t, st.Loading)

	fc.Advance(10 * interval)
	assert.Equal(t, 0, client.GetJobCalls())

	// Wait returns at once: nothing is running.
	st = wait(t, s)
	assert.Equal(t, session.PhaseError, st.Phase)
}

func TestSubmit_InvalidURLMessage(t *testing.T) {
	client := mock.NewFailingClient(fmt.Errorf("%w: %q", analyzer.ErrInvalidURL, "nope"))
	s, _ := newSession(t, client, nil)

	err := s.Submit(context.Background(), "nope")
	require.ErrorIs(t, err, analyzer.ErrInvalidURL)
	assert.Equal(t, "Repository URL is invalid.", s.Snapshot().ErrorText)
	assert.True(t, s.Snapshot().InputEnabled)
}

func TestSubmit_PollingErrorReenablesInput(t *testing.T) {
	client := &mock.MockClient{
		GetJobFunc: func(_ context.Context, _ models.JobID) (*models.Job, error) {
			return nil, fmt.Errorf("%w: status 500", analyzer.ErrPolling)
		},
	}
	s, fc := newSession(t, client, nil)

	require.NoError(t, s.Submit(context.Background(), "https://github.com/acme/widget"))
	waitForTicker(t, fc)
	fc.Advance(interval)
	st := wait(t, s)

	assert.Equal(t, session.PhaseError, st.Phase)
	assert.Equal(t, "Error fetching job status.", st.ErrorText)
	assert.True(t, st.InputEnabled)

	fc.Advance(10 * interval)
	assert.Equal(t, 1, client.GetJobCalls())
}

func TestSubmit_TransportPollingErrorMessage(t *testing.T) {
	client := &mock.MockClient{
		GetJobFunc: func(_ context.Context, _ models.JobID) (*models.Job, error) {
			return nil, fmt.Errorf("%w: %w: dial tcp: connection refused", analyzer.ErrPolling, analyzer.ErrBackendUnreachable)
		},
	}
	s, fc := newSession(t, client, nil)

	require.NoError(t, s.Submit(context.Background(), "https://github.com/acme/widget"))
	waitForTicker(t, fc)
	fc.Advance(interval)
	st := wait(t, s)

	assert.Contains(t, st.ErrorText, "Polling Error: ")
	assert.Contains(t, st.ErrorText, "connection refused")
}

func TestSubmit_BusyWhilePolling(t *testing.T) {
	client := &mock.MockClient{}
	s, _ := newSession(t, client, nil)

	require.NoError(t, s.Submit(context.Background(), "https://github.com/acme/widget"))
	err := s.Submit(context.Background(), "https://github.com/acme/other")
	assert.ErrorIs(t, err, session.ErrBusy)
	assert.Len(t, client.SubmitCalls(), 1)
}

func TestSubmit_NewSubmissionResetsState(t *testing.T) {
	client := mock.NewFailingClient(fmt.Errorf("%w: status 503", analyzer.ErrSubmission))
	s, _ := newSession(t, client, nil)

	require.Error(t, s.Submit(context.Background(), "https://github.com/acme/widget"))
	require.NotEmpty(t, s.Snapshot().ErrorText)

	client.SubmitFunc = func(_ context.Context, u string) (*models.Job, error) {
		return &models.Job{ID: "2", Status: models.StatusPending}, nil
	}
	require.NoError(t, s.Submit(context.Background(), "https://github.com/acme/other"))

	st := s.Snapshot()
	assert.Empty(t, st.ErrorText)
	assert.Equal(t, "https://github.com/acme/other", st.GitHubURL)
	assert.Equal(t, models.JobID("2"), st.Job.ID)
}

func TestClose_StopsPolling(t *testing.T) {
	client := &mock.MockClient{}
	s, fc := newSession(t, client, nil)

	require.NoError(t, s.Submit(context.Background(), "https://github.com/acme/widget"))
	waitForTicker(t, fc)

	s.Close()
	s.Close()
	wait(t, s)

	fc.Advance(10 * interval)
	assert.Equal(t, 0, client.GetJobCalls())

	err := s.Submit(context.Background(), "https://github.com/acme/widget")
	assert.ErrorIs(t, err, session.ErrClosed)
}

func TestSnapshot_IsACopy(t *testing.T) {
	client := &mock.MockClient{}
	s, _ := newSession(t, client, nil)
	require.NoError(t, s.Submit(context.Background(), "https://github.com/acme/widget"))

	st := s.Snapshot()
	st.Job.Status = models.StatusComplete
	assert.Equal(t, models.StatusPending, s.Snapshot().Job.Status)
}

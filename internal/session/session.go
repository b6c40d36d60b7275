// Package session owns the state a user sees while one repository analysis
// runs: whether input is accepted, the current status line, and the final
// report or error.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/kiranshivaraju/repoanalyst/internal/analyzer"
	"github.com/kiranshivaraju/repoanalyst/internal/cache"
	"github.com/kiranshivaraju/repoanalyst/internal/poller"
	"github.com/kiranshivaraju/repoanalyst/pkg/models"
)

var (
	ErrBusy   = errors.New("an analysis is already in progress")
	ErrClosed = errors.New("session closed")
)

// Phase is the coarse position of a session in the submit/poll flow.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseSubmitting Phase = "submitting"
	PhasePolling    Phase = "polling"
	PhaseComplete   Phase = "complete"
	PhaseFailed     Phase = "failed"
	PhaseError      Phase = "error"
)

// Status lines shown to the user.
const (
	textSubmitting = "Submitting job..."
	textSubmitted  = "Job submitted. Waiting for worker to start..."
	textComplete   = "Analysis complete!"

	msgSubmission = "Failed to start analysis job."
	msgInvalidURL = "Repository URL is invalid."
	msgPolling    = "Error fetching job status."
)

// State is a snapshot of what the user sees.
type State struct {
	Phase        Phase       `json:"phase"`
	InputEnabled bool        `json:"input_enabled"`
	Loading      bool        `json:"loading"`
	GitHubURL    string      `json:"github_url,omitempty"`
	StatusText   string      `json:"status_text,omitempty"`
	Job          *models.Job `json:"job,omitempty"`
	ReportHTML   string      `json:"report_html,omitempty"`
	FailureText  string      `json:"failure_text,omitempty"`
	ErrorText    string      `json:"error_text,omitempty"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Session runs one analysis at a time. It is safe for concurrent use.
type Session struct {
	client    analyzer.Client
	poller    *poller.Poller
	cache     cache.Cache
	reportTTL time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	state  State
	handle *poller.Handle
	gen    uint64
	closed bool
}

// New creates an idle Session. c may be nil.
func New(client analyzer.Client, p *poller.Poller, c cache.Cache, reportTTL time.Duration) *Session {
	if c == nil {
		c = cache.NopCache{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		client:    client,
		poller:    p,
		cache:     c,
		reportTTL: reportTTL,
		ctx:       ctx,
		cancel:    cancel,
		state: State{
			Phase:        PhaseIdle,
			InputEnabled: true,
			UpdatedAt:    time.Now().UTC(),
		},
	}
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	if st.Job != nil {
		j := *st.Job
		st.Job = &j
	}
	return st
}

// Submit starts an analysis of githubURL. An empty URL is ignored. Input is
// disabled until the run reaches any outcome; a Submit while disabled
// returns ErrBusy. Submission errors are returned and also recorded in the
// state, in which case no polling starts.
func (s *Session) Submit(ctx context.Context, githubURL string) error {
	githubURL = strings.TrimSpace(githubURL)
	if githubURL == "" {
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if !s.state.InputEnabled {
		s.mu.Unlock()
		return ErrBusy
	}
	if s.handle != nil {
		s.handle.Cancel()
		s.handle = nil
	}
	s.gen++
	gen := s.gen
	s.state = State{
		Phase:      PhaseSubmitting,
		Loading:    true,
		GitHubURL:  githubURL,
		StatusText: textSubmitting,
		UpdatedAt:  time.Now().UTC(),
	}
	s.mu.Unlock()

	job, err := s.client.Submit(ctx, githubURL)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.closed {
		return ErrClosed
	}
	if err != nil {
		slog.Warn("submission failed", "github_url", githubURL, "error", err)
		s.state.Phase = PhaseError
		s.state.ErrorText = submissionMessage(err)
		s.state.StatusText = ""
		s.settle()
		return err
	}

	slog.Info("analysis job accepted", "job_id", job.ID, "github_url", githubURL)
	s.state.Phase = PhasePolling
	s.state.Job = job
	s.state.StatusText = textSubmitted
	s.state.UpdatedAt = time.Now().UTC()
	s.handle = s.poller.Start(s.ctx, job, &listener{s: s, gen: gen})
	return nil
}

// Wait blocks until the current run finishes or ctx is done and returns the
// resulting state.
func (s *Session) Wait(ctx context.Context) (State, error) {
	s.mu.Lock()
	h := s.handle
	s.mu.Unlock()

	if h != nil {
		select {
		case <-h.Done():
		case <-ctx.Done():
			return s.Snapshot(), ctx.Err()
		}
	}
	return s.Snapshot(), nil
}

// Close stops any polling and rejects further submissions. It may be called
// more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	if s.handle != nil {
		s.handle.Cancel()
	}
	s.cancel()
}

// settle ends the current run: loading stops and input is accepted again.
// Callers hold s.mu.
func (s *Session) settle() {
	s.state.Loading = false
	s.state.InputEnabled = true
	s.state.UpdatedAt = time.Now().UTC()
}

// update applies fn if gen still names the current run.
func (s *Session) update(gen uint64, fn func(st *State)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.closed {
		return false
	}
	fn(&s.state)
	s.state.UpdatedAt = time.Now().UTC()
	return true
}

func (s *Session) storeReport(r *models.Report) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.cache.SetReport(ctx, r, s.reportTTL); err != nil {
		slog.Warn("caching report failed", "job_id", r.JobID, "error", err)
	}
}

func submissionMessage(err error) string {
	if errors.Is(err, analyzer.ErrInvalidURL) {
		return msgInvalidURL
	}
	return msgSubmission
}

func pollingMessage(err error) string {
	if errors.Is(err, analyzer.ErrBackendUnreachable) || errors.Is(err, analyzer.ErrBackendTimeout) ||
		errors.Is(err, poller.ErrPollTimeout) || errors.Is(err, poller.ErrRender) {
		return "Polling Error: " + err.Error()
	}
	return msgPolling
}

// listener feeds poller events into the session that started the run.
type listener struct {
	s   *Session
	gen uint64
}

func (l *listener) OnStatus(job *models.Job) {
	l.s.update(l.gen, func(st *State) {
		st.Job = job
		st.StatusText = "Current status: " + string(job.Status)
	})
}

func (l *listener) OnComplete(job *models.Job, html string) {
	var url string
	ok := l.s.update(l.gen, func(st *State) {
		st.Phase = PhaseComplete
		st.Job = job
		st.StatusText = textComplete
		st.ReportHTML = html
		url = st.GitHubURL
		l.s.settle()
	})
	if ok {
		l.s.storeReport(&models.Report{
			JobID:      job.ID,
			Status:     job.Status,
			GitHubURL:  url,
			HTML:       html,
			FinishedAt: time.Now().UTC(),
		})
	}
}

func (l *listener) OnFailed(job *models.Job, diagnostic string) {
	var url string
	ok := l.s.update(l.gen, func(st *State) {
		st.Phase = PhaseFailed
		st.Job = job
		st.FailureText = diagnostic
		url = st.GitHubURL
		l.s.settle()
	})
	if ok {
		l.s.storeReport(&models.Report{
			JobID:      job.ID,
			Status:     job.Status,
			GitHubURL:  url,
			Diagnostic: diagnostic,
			FinishedAt: time.Now().UTC(),
		})
	}
}

func (l *listener) OnError(err error) {
	l.s.update(l.gen, func(st *State) {
		st.Phase = PhaseError
		st.ErrorText = pollingMessage(err)
		l.s.settle()
	})
}

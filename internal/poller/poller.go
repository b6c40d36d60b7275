// Package poller follows an analysis job until the backend reports a terminal
// status, then hands the report to a renderer.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/kiranshivaraju/repoanalyst/internal/analyzer"
	"github.com/kiranshivaraju/repoanalyst/internal/render"
	"github.com/kiranshivaraju/repoanalyst/pkg/models"
)

// DefaultInterval is the fixed period between status fetches.
const DefaultInterval = 5 * time.Second

var (
	ErrPollTimeout = errors.New("polling deadline exceeded")
	ErrRender      = errors.New("rendering report failed")
)

// State is the poller's view of a job. It extends the backend statuses with
// two client-local states.
type State int

const (
	StatePending State = iota
	StateRunning
	StateComplete
	StateFailed
	// StateError is entered when a fetch fails; polling stops.
	StateError
	// StateCancelled is entered when the handle is cancelled before a terminal status.
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "PENDING"
	case StateRunning:
		return "RUNNING"
	case StateComplete:
		return "COMPLETE"
	case StateFailed:
		return "FAILED"
	case StateError:
		return "ERROR"
	case StateCancelled:
		return "CANCELLED"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

func stateOf(status models.Status) State {
	switch status {
	case models.StatusRunning:
		return StateRunning
	case models.StatusComplete:
		return StateComplete
	case models.StatusFailed:
		return StateFailed
	}
	return StatePending
}

// Listener receives the poller's updates. All methods are called from the
// polling goroutine, one at a time, and at most one of OnComplete, OnFailed
// and OnError is called per run.
type Listener interface {
	// OnStatus is called after every successful fetch.
	OnStatus(job *models.Job)
	// OnComplete receives the rendered HTML of a COMPLETE job.
	OnComplete(job *models.Job, html string)
	// OnFailed receives the backend's diagnostic text of a FAILED job.
	OnFailed(job *models.Job, diagnostic string)
	// OnError receives a polling or rendering error.
	OnError(err error)
}

// Outcome is the final result of a polling run.
type Outcome struct {
	State State
	Job   *models.Job
	HTML  string
	Err   error
}

// Poller fetches job status on a fixed period. Fetches never overlap: ticks
// that elapse while a fetch is in flight are dropped.
type Poller struct {
	client      analyzer.Client
	renderer    render.Renderer
	clock       clockwork.Clock
	interval    time.Duration
	maxDuration time.Duration
}

// Option configures a Poller.
type Option func(*Poller)

// WithClock replaces the wall clock, for tests.
func WithClock(c clockwork.Clock) Option {
	return func(p *Poller) { p.clock = c }
}

// WithMaxDuration bounds a polling run. Zero, the default, polls until the
// job reaches a terminal status.
func WithMaxDuration(d time.Duration) Option {
	return func(p *Poller) { p.maxDuration = d }
}

// New creates a Poller. A non-positive interval selects DefaultInterval.
func New(client analyzer.Client, renderer render.Renderer, interval time.Duration, opts ...Option) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	p := &Poller{
		client:   client,
		renderer: renderer,
		clock:    clockwork.NewRealClock(),
		interval: interval,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle controls one polling run.
type Handle struct {
	cancel  context.CancelFunc
	once    sync.Once
	done    chan struct{}
	outcome Outcome
}

// Cancel stops polling. It is safe to call any number of times, including
// after the run has finished.
func (h *Handle) Cancel() {
	h.once.Do(h.cancel)
}

// Done is closed once the run has finished and its timer has been stopped.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the run finishes and returns its outcome.
func (h *Handle) Wait() Outcome {
	<-h.done
	return h.outcome
}

// Start begins polling job in a new goroutine. The first fetch happens one
// interval after Start. A job that is already terminal finishes immediately
// without a fetch.
func (p *Poller) Start(ctx context.Context, job *models.Job, l Listener) *Handle {
	ctx, cancel := context.WithCancel(ctx)
	h := &Handle{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(h.done)
		defer h.Cancel()
		h.outcome = p.run(ctx, job, l)
	}()
	return h
}

func (p *Poller) run(ctx context.Context, job *models.Job, l Listener) Outcome {
	current := job
	if current.Status.IsTerminal() {
		return p.finish(current, l)
	}

	ticker := p.clock.NewTicker(p.interval)
	defer ticker.Stop()

	var deadline <-chan time.Time
	if p.maxDuration > 0 {
		timer := p.clock.NewTimer(p.maxDuration)
		defer timer.Stop()
		deadline = timer.Chan()
	}

	for {
		select {
		case <-ctx.Done():
			return Outcome{State: StateCancelled, Job: current, Err: ctx.Err()}
		case <-deadline:
			err := fmt.Errorf("%w: %w after %s", analyzer.ErrPolling, ErrPollTimeout, p.maxDuration)
			slog.Warn("polling gave up", "job_id", current.ID, "status", current.Status, "max_duration", p.maxDuration)
			l.OnError(err)
			return Outcome{State: StateError, Job: current, Err: err}
		case <-ticker.Chan():
		}

		next, err := p.client.GetJob(ctx, current.ID)
		if ctx.Err() != nil {
			// Cancelled while the fetch was in flight; the result is stale.
			return Outcome{State: StateCancelled, Job: current, Err: ctx.Err()}
		}
		if err != nil {
			slog.Warn("polling job failed", "job_id", current.ID, "error", err)
			l.OnError(err)
			return Outcome{State: StateError, Job: current, Err: err}
		}

		current = next
		slog.Debug("job status", "job_id", current.ID, "status", current.Status)
		l.OnStatus(current)

		if current.Status.IsTerminal() {
			return p.finish(current, l)
		}
	}
}

func (p *Poller) finish(job *models.Job, l Listener) Outcome {
	if job.Status == models.StatusFailed {
		slog.Info("analysis failed", "job_id", job.ID)
		l.OnFailed(job, job.Report())
		return Outcome{State: StateFailed, Job: job}
	}

	html, err := render.Report(p.renderer, job.Report())
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrRender, err)
		slog.Error("rendering report failed", "job_id", job.ID, "error", err)
		l.OnError(err)
		return Outcome{State: StateError, Job: job, Err: err}
	}

	slog.Info("analysis complete", "job_id", job.ID)
	l.OnComplete(job, html)
	return Outcome{State: stateOf(job.Status), Job: job, HTML: html}
}

// Package mock provides a scripted analyzer.Client for tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/kiranshivaraju/repoanalyst/internal/analyzer"
	"github.com/kiranshivaraju/repoanalyst/pkg/models"
)

// MockClient satisfies analyzer.Client for testing and records every call.
type MockClient struct {
	SubmitFunc func(ctx context.Context, githubURL string) (*models.Job, error)
	GetJobFunc func(ctx context.Context, id models.JobID) (*models.Job, error)

	mu          sync.Mutex
	submitCalls []string
	getJobCalls []models.JobID
}

func (m *MockClient) Submit(ctx context.Context, githubURL string) (*models.Job, error) {
	m.mu.Lock()
	m.submitCalls = append(m.submitCalls, githubURL)
	m.mu.Unlock()

	if m.SubmitFunc != nil {
		return m.SubmitFunc(ctx, githubURL)
	}
	return &models.Job{ID: "1", Status: models.StatusPending, GitHubURL: githubURL}, nil
}

func (m *MockClient) GetJob(ctx context.Context, id models.JobID) (*models.Job, error) {
	m.mu.Lock()
	m.getJobCalls = append(m.getJobCalls, id)
	m.mu.Unlock()

	if m.GetJobFunc != nil {
		return m.GetJobFunc(ctx, id)
	}
	return &models.Job{ID: id, Status: models.StatusPending}, nil
}

// SubmitCalls returns the URLs passed to Submit so far.
func (m *MockClient) SubmitCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.submitCalls...)
}

// GetJobCalls returns the number of status fetches so far.
func (m *MockClient) GetJobCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.getJobCalls)
}

// NewSequenceClient returns a MockClient whose Submit yields submitted and
// whose GetJob walks through polls in order. Fetches past the end of polls
// repeat the last entry.
func NewSequenceClient(submitted *models.Job, polls ...*models.Job) *MockClient {
	var mu sync.Mutex
	next := 0
	return &MockClient{
		SubmitFunc: func(_ context.Context, _ string) (*models.Job, error) {
			return submitted, nil
		},
		GetJobFunc: func(_ context.Context, id models.JobID) (*models.Job, error) {
			mu.Lock()
			defer mu.Unlock()
			if len(polls) == 0 {
				return nil, fmt.Errorf("%w: no scripted poll for job %s", analyzer.ErrPolling, id)
			}
			i := next
			if i >= len(polls) {
				i = len(polls) - 1
			}
			next++
			job := *polls[i]
			return &job, nil
		},
	}
}

// NewFailingClient returns a MockClient whose Submit always fails with err.
func NewFailingClient(err error) *MockClient {
	return &MockClient{
		SubmitFunc: func(_ context.Context, _ string) (*models.Job, error) {
			return nil, err
		},
		GetJobFunc: func(_ context.Context, _ models.JobID) (*models.Job, error) {
			return nil, err
		},
	}
}

// Compile-time check that MockClient implements analyzer.Client.
var _ analyzer.Client = (*MockClient)(nil)

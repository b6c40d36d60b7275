// Package analyzer talks to the repository analysis backend: it creates jobs
// and fetches their status.
package analyzer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/kiranshivaraju/repoanalyst/pkg/models"
)

// Sentinel errors for analyzer client failures.
var (
	ErrEmptyURL   = errors.New("repository url is empty")
	ErrInvalidURL = errors.New("repository url is invalid")

	ErrSubmission = errors.New("failed to start analysis job")
	ErrPolling    = errors.New("failed to fetch job status")

	ErrJobNotFound        = errors.New("job not found")
	ErrBackendUnreachable = errors.New("analysis backend unreachable")
	ErrBackendTimeout     = errors.New("analysis backend timeout")
)

// Client is the interface for the analysis backend.
type Client interface {
	Submit(ctx context.Context, githubURL string) (*models.Job, error)
	GetJob(ctx context.Context, id models.JobID) (*models.Job, error)
}

// HTTPClient implements Client over the backend's JSON API.
type HTTPClient struct {
	baseURL  string
	client   *http.Client
	validate *validator.Validate
}

// NewHTTPClient creates a new analyzer HTTP client.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		validate: validator.New(),
	}
}

// Submit creates an analysis job for githubURL. An empty or malformed URL is
// rejected before any request is made. Every other failure wraps ErrSubmission.
func (c *HTTPClient) Submit(ctx context.Context, githubURL string) (*models.Job, error) {
	req := models.SubmitRequest{GitHubURL: strings.TrimSpace(githubURL)}
	if req.GitHubURL == "" {
		return nil, ErrEmptyURL
	}
	if err := c.validate.Struct(&req); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, req.GitHubURL)
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: encoding request: %v", ErrSubmission, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze/", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrSubmission, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSubmission, classifyError(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrSubmission, resp.StatusCode)
	}

	job, err := decodeJob(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSubmission, err)
	}

	slog.Debug("analysis job submitted", "job_id", job.ID, "status", job.Status, "github_url", req.GitHubURL)
	return job, nil
}

// GetJob fetches the current state of job id. Every failure wraps ErrPolling.
func (c *HTTPClient) GetJob(ctx context.Context, id models.JobID) (*models.Job, error) {
	u := fmt.Sprintf("%s/jobs/%s", c.baseURL, url.PathEscape(id.String()))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %v", ErrPolling, err)
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPolling, classifyError(err))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %w", ErrPolling, ErrJobNotFound)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", ErrPolling, resp.StatusCode)
	}

	job, err := decodeJob(resp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolling, err)
	}
	return job, nil
}

func decodeJob(resp *http.Response) (*models.Job, error) {
	var job models.Job
	if err := json.NewDecoder(resp.Body).Decode(&job); err != nil {
		return nil, fmt.Errorf("decoding job: %w", err)
	}
	if job.ID == "" {
		return nil, errors.New("decoding job: missing id")
	}
	if !job.Status.Valid() {
		return nil, fmt.Errorf("decoding job: unknown status %q", job.Status)
	}
	return &job, nil
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrBackendUnreachable, err)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)

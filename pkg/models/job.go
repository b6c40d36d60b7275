package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Status is the lifecycle state of an analysis job as reported by the backend.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusRunning  Status = "RUNNING"
	StatusComplete Status = "COMPLETE"
	StatusFailed   Status = "FAILED"
)

// IsTerminal reports whether no further transitions can follow s.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Valid reports whether s is one of the four backend statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusComplete, StatusFailed:
		return true
	}
	return false
}

func (s *Status) UnmarshalJSON(b []byte) error {
	var raw string
	if err := json.Unmarshal(b, &raw); err != nil {
		return fmt.Errorf("status: %w", err)
	}
	st := Status(raw)
	if !st.Valid() {
		return fmt.Errorf("unknown job status %q", raw)
	}
	*s = st
	return nil
}

// JobID is the opaque identifier assigned by the backend. The backend emits
// integers; string ids are accepted as well.
type JobID string

func (id *JobID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("job id: %w", err)
		}
		*id = JobID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("job id: %w", err)
	}
	*id = JobID(n.String())
	return nil
}

func (id JobID) String() string { return string(id) }

// Timestamp decodes RFC 3339 times as well as the zone-less ISO 8601 form
// some backend databases produce, which is read as UTC.
type Timestamp struct {
	time.Time
}

const naiveISO = "2006-01-02T15:04:05.999999999"

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	if v, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = v
		return nil
	}
	v, err := time.ParseInLocation(naiveISO, s, time.UTC)
	if err != nil {
		return fmt.Errorf("timestamp %q: %w", s, err)
	}
	t.Time = v
	return nil
}

// Job is one repository analysis request tracked by the backend. The client
// only ever reads it; the backend owns every status change.
//
// ReportContent is markdown when Status is COMPLETE and raw diagnostic text
// when FAILED. It must not be rendered for non-terminal statuses.
type Job struct {
	ID            JobID      `json:"id"`
	Status        Status     `json:"status"`
	ReportContent *string    `json:"report_content,omitempty"`
	GitHubURL     string     `json:"github_url,omitempty"`
	CreatedAt     *Timestamp `json:"created_at,omitempty"`
}

// Report returns the report content, or "" when the job is not terminal or
// carries no content.
func (j *Job) Report() string {
	if j == nil || !j.Status.IsTerminal() || j.ReportContent == nil {
		return ""
	}
	return *j.ReportContent
}

// SubmitRequest is the body of POST /analyze/.
type SubmitRequest struct {
	GitHubURL string `json:"github_url" validate:"required,http_url"`
}

package models

import "time"

// Report is the presentable result of a job that reached a terminal status.
// HTML is set for COMPLETE jobs, Diagnostic for FAILED ones.
type Report struct {
	JobID      JobID     `json:"job_id"`
	Status     Status    `json:"status"`
	GitHubURL  string    `json:"github_url,omitempty"`
	HTML       string    `json:"html,omitempty"`
	Diagnostic string    `json:"diagnostic,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}

package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/kiranshivaraju/repoanalyst/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_IsTerminal(t *testing.T) {
	assert.False(t, models.StatusPending.IsTerminal())
	assert.False(t, models.StatusRunning.IsTerminal())
	assert.True(t, models.StatusComplete.IsTerminal())
	assert.True(t, models.StatusFailed.IsTerminal())
}

func TestJob_DecodeIntegerID(t *testing.T) {
	var j models.Job
	err := json.Unmarshal([]byte(`{"id": 42, "status": "PENDING", "github_url": "https://github.com/acme/widget", "created_at": "2024-02-17T10:00:00Z"}`), &j)
	require.NoError(t, err)

	assert.Equal(t, models.JobID("42"), j.ID)
	assert.Equal(t, models.StatusPending, j.Status)
	assert.Nil(t, j.ReportContent)
	require.NotNil(t, j.CreatedAt)
}

func TestJob_DecodeStringID(t *testing.T) {
	var j models.Job
	err := json.Unmarshal([]byte(`{"id": "abc-1", "status": "COMPLETE", "report_content": "# hi"}`), &j)
	require.NoError(t, err)

	assert.Equal(t, models.JobID("abc-1"), j.ID)
	assert.Equal(t, "# hi", j.Report())
}

func TestJob_DecodeUnknownStatus(t *testing.T) {
	var j models.Job
	err := json.Unmarshal([]byte(`{"id": 1, "status": "QUEUED"}`), &j)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "QUEUED")
}

func TestJob_ReportHiddenWhileRunning(t *testing.T) {
	content := "partial"
	j := &models.Job{ID: "1", Status: models.StatusRunning, ReportContent: &content}
	assert.Equal(t, "", j.Report())

	j.Status = models.StatusFailed
	assert.Equal(t, "partial", j.Report())
}

func TestJob_ReportNil(t *testing.T) {
	var j *models.Job
	assert.Equal(t, "", j.Report())
}

func TestJob_DecodeNaiveCreatedAt(t *testing.T) {
	var j models.Job
	err := json.Unmarshal([]byte(`{"id": 7, "status": "RUNNING", "created_at": "2024-02-17T10:00:00.123456"}`), &j)
	require.NoError(t, err)
	require.NotNil(t, j.CreatedAt)
	assert.Equal(t, time.Date(2024, 2, 17, 10, 0, 0, 123456000, time.UTC), j.CreatedAt.Time)

	b, err := json.Marshal(j)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"created_at":"2024-02-17T10:00:00.123456Z"`)
}

func TestJob_DecodeBadCreatedAt(t *testing.T) {
	var j models.Job
	err := json.Unmarshal([]byte(`{"id": 7, "status": "RUNNING", "created_at": "yesterday"}`), &j)
	assert.Error(t, err)
}

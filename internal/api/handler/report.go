package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/repoanalyst/internal/api/response"
	"github.com/kiranshivaraju/repoanalyst/internal/cache"
	"github.com/kiranshivaraju/repoanalyst/internal/render"
	"github.com/kiranshivaraju/repoanalyst/pkg/models"
)

// NewGetReportHandler returns an http.HandlerFunc for GET /api/v1/reports/{jobID}.
// It serves reports of finished jobs from the cache, as JSON by default or
// as an HTML fragment with ?format=html.
func NewGetReportHandler(c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := strings.TrimSpace(chi.URLParam(r, "jobID"))
		if jobID == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "jobID is required", nil)
			return
		}

		report, found, err := c.GetReport(r.Context(), models.JobID(jobID))
		if err != nil {
			slog.Warn("report lookup failed", "job_id", jobID, "error", err)
			response.Error(w, http.StatusServiceUnavailable, "CACHE_UNAVAILABLE",
				"Report cache is unavailable", nil)
			return
		}
		if !found {
			response.Error(w, http.StatusNotFound, "REPORT_NOT_FOUND",
				"No finished report for this job", nil)
			return
		}

		switch r.URL.Query().Get("format") {
		case "", "json":
			response.JSON(w, report)
		case "html":
			response.HTML(w, http.StatusOK, reportHTML(report))
		default:
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST",
				"format must be json or html", nil)
		}
	}
}

func reportHTML(r *models.Report) string {
	if r.Status == models.StatusFailed {
		return render.FailureHTML(r.Diagnostic)
	}
	return r.HTML
}

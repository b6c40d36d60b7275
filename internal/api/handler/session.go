package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/repoanalyst/internal/analyzer"
	"github.com/kiranshivaraju/repoanalyst/internal/api/response"
	"github.com/kiranshivaraju/repoanalyst/internal/session"
)

// Sessions is the subset of session.Manager the handlers depend on.
type Sessions interface {
	Create() (uuid.UUID, *session.Session)
	Get(id uuid.UUID) (*session.Session, bool)
	Remove(id uuid.UUID) bool
}

var _ Sessions = (*session.Manager)(nil)

type sessionResponse struct {
	SessionID string        `json:"session_id"`
	State     session.State `json:"state"`
}

// NewCreateSessionHandler returns an http.HandlerFunc for POST /api/v1/sessions.
// It submits the repository and answers 202 once the backend accepted the
// job; polling continues in the background.
func NewCreateSessionHandler(sessions Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			GitHubURL string `json:"github_url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if strings.TrimSpace(req.GitHubURL) == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "github_url is required", nil)
			return
		}

		id, s := sessions.Create()
		if err := s.Submit(r.Context(), req.GitHubURL); err != nil {
			sessions.Remove(id)
			switch {
			case errors.Is(err, analyzer.ErrInvalidURL):
				response.Error(w, http.StatusBadRequest, "INVALID_URL",
					"Repository URL is invalid.", nil)
			case errors.Is(err, analyzer.ErrBackendTimeout):
				response.Error(w, http.StatusGatewayTimeout, "BACKEND_TIMEOUT",
					"Failed to start analysis job.", nil)
			case errors.Is(err, analyzer.ErrSubmission):
				response.Error(w, http.StatusBadGateway, "SUBMISSION_FAILED",
					"Failed to start analysis job.", nil)
			default:
				slog.Error("create session", "error", err)
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.Accepted(w, sessionResponse{SessionID: id.String(), State: s.Snapshot()})
	}
}

// NewGetSessionHandler returns an http.HandlerFunc for GET /api/v1/sessions/{sessionID}.
func NewGetSessionHandler(sessions Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := sessionID(w, r)
		if !ok {
			return
		}
		s, found := sessions.Get(id)
		if !found {
			response.Error(w, http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found", nil)
			return
		}
		response.JSON(w, sessionResponse{SessionID: id.String(), State: s.Snapshot()})
	}
}

// NewDeleteSessionHandler returns an http.HandlerFunc for DELETE /api/v1/sessions/{sessionID}.
// Deleting a session stops its polling.
func NewDeleteSessionHandler(sessions Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := sessionID(w, r)
		if !ok {
			return
		}
		if !sessions.Remove(id) {
			response.Error(w, http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found", nil)
			return
		}
		response.NoContent(w)
	}
}

func sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_SESSION_ID", "Session id must be a UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

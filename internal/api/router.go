package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/repoanalyst/internal/api/middleware"
	"github.com/kiranshivaraju/repoanalyst/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	RateLimit *mw.RateLimit

	IndexHandler         http.HandlerFunc
	HealthHandler        http.HandlerFunc
	CreateSessionHandler http.HandlerFunc
	GetSessionHandler    http.HandlerFunc
	DeleteSessionHandler http.HandlerFunc
	GetReportHandler     http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/", orNotImplemented(deps.IndexHandler))
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Route("/api/v1/sessions", func(r chi.Router) {
		r.With(limit(deps.RateLimit)).Post("/", orNotImplemented(deps.CreateSessionHandler))
		r.Get("/{sessionID}", orNotImplemented(deps.GetSessionHandler))
		r.Delete("/{sessionID}", orNotImplemented(deps.DeleteSessionHandler))
	})

	r.Get("/api/v1/reports/{jobID}", orNotImplemented(deps.GetReportHandler))

	return r
}

// limit returns the rate limiting middleware, or a pass-through when none is configured.
func limit(rl *mw.RateLimit) func(http.Handler) http.Handler {
	if rl == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return rl.Limit
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}

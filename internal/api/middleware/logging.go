package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// routeAttrs maps the URL parameters worth correlating across log lines to
// their log keys.
var routeAttrs = map[string]string{
	"sessionID": "session_id",
	"jobID":     "job_id",
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Logger logs one line per request. Session and job ids taken from the
// matched route are included so a session's polling can be followed.
func Logger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		attrs := []any{
			"request_id", chimw.GetReqID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
			"remote_addr", r.RemoteAddr,
		}
		// The route context is filled in by the router while next runs.
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				attrs = append(attrs, "route", pattern)
			}
			for i, key := range rctx.URLParams.Keys {
				if name, ok := routeAttrs[key]; ok {
					attrs = append(attrs, name, rctx.URLParams.Values[i])
				}
			}
		}
		slog.Info("request", attrs...)
	})
}

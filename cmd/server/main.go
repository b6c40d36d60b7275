// Package main is the entrypoint for the repoanalyst web front.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/repoanalyst/internal/analyzer"
	"github.com/kiranshivaraju/repoanalyst/internal/api"
	"github.com/kiranshivaraju/repoanalyst/internal/api/handler"
	mw "github.com/kiranshivaraju/repoanalyst/internal/api/middleware"
	"github.com/kiranshivaraju/repoanalyst/internal/api/response"
	"github.com/kiranshivaraju/repoanalyst/internal/cache"
	"github.com/kiranshivaraju/repoanalyst/internal/config"
	"github.com/kiranshivaraju/repoanalyst/internal/poller"
	"github.com/kiranshivaraju/repoanalyst/internal/render"
	"github.com/kiranshivaraju/repoanalyst/internal/session"
)

const (
	shutdownTimeout = 30 * time.Second
	sessionsPerMin  = 10
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, failing fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"backend_url", cfg.Backend.BaseURL,
		"poll_interval", cfg.Poll.Interval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Report cache
	reportCache, err := openCache(ctx, cfg.Redis.URL)
	if err != nil {
		return err
	}
	defer reportCache.Close()

	// 3. Analysis pipeline: submit, poll, render
	client := analyzer.NewHTTPClient(cfg.Backend.BaseURL, cfg.Backend.Timeout)
	p := poller.New(client, newRenderer(cfg.Render), cfg.Poll.Interval,
		poller.WithMaxDuration(cfg.Poll.MaxDuration))

	sessions := session.NewManager(func() *session.Session {
		return session.New(client, p, reportCache, cfg.Redis.ReportTTL)
	}, cfg.Server.SessionTTL)
	defer sessions.CloseAll()
	go sessions.Run(ctx)

	// 4. Build router with dependencies
	deps := api.Dependencies{
		RateLimit: mw.NewRateLimit(reportCache, sessionsPerMin),

		IndexHandler:         handler.NewIndexHandler(),
		HealthHandler:        healthHandler(reportCache),
		CreateSessionHandler: handler.NewCreateSessionHandler(sessions),
		GetSessionHandler:    handler.NewGetSessionHandler(sessions),
		DeleteSessionHandler: handler.NewDeleteSessionHandler(sessions),
		GetReportHandler:     handler.NewGetReportHandler(reportCache),
	}

	router := api.NewRouter(deps)

	// 5. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Backend.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// openCache connects to Redis when a URL is configured and falls back to a
// cache that stores nothing otherwise.
func openCache(ctx context.Context, redisURL string) (cache.Cache, error) {
	if redisURL == "" {
		slog.Info("REDIS_URL not set, report cache and rate limiting disabled")
		return cache.NopCache{}, nil
	}

	redisCache, err := cache.NewRedisCache(redisURL)
	if err != nil {
		return nil, fmt.Errorf("create redis cache: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := redisCache.Ping(pingCtx); err != nil {
		redisCache.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")
	return redisCache, nil
}

func newRenderer(cfg config.RenderConfig) *render.Markdown {
	var opts []render.Option
	if cfg.SanitizeHTML {
		opts = append(opts, render.WithSanitizer())
	}
	return render.NewMarkdown(opts...)
}

// healthHandler checks cache connectivity.
func healthHandler(c cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"cache": "ok",
		}

		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		if checks["cache"] != "ok" {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}

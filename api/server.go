// Package api exposes the HTTP boundary: job submission and lookup,
// dead-letter operator actions, and observability endpoints. Handlers are
// thin adapters over the job, dlq, and metrics packages; no queue logic
// lives here.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/batonq/baton"
	"github.com/batonq/baton/dlq"
	"github.com/batonq/baton/job"
	"github.com/batonq/baton/metrics"
)

// Server is the HTTP boundary of the queue.
type Server struct {
	router chi.Router
	logger *slog.Logger
}

// NewServer wires the handlers and middleware into a router.
// A nil rate limit config disables throttling.
func NewServer(
	jobs *job.Service,
	deadLetters *dlq.Service,
	store job.Store,
	agg *metrics.Aggregator,
	rateLimit *baton.RateLimitConfig,
	logger *slog.Logger,
) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		router: chi.NewRouter(),
		logger: logger,
	}

	s.router.Use(chimw.RealIP)
	s.router.Use(requestLogger(logger))
	s.router.Use(chimw.Recoverer)

	if rateLimit != nil && rateLimit.Enabled {
		s.router.Use(NewRateLimiter(*rateLimit).Middleware)
	}

	jobHandler := &JobHandler{service: jobs, logger: logger}
	dlqHandler := &DLQHandler{service: deadLetters, logger: logger}
	metricsHandler := &MetricsHandler{store: store, agg: agg, logger: logger}

	s.router.Route("/jobs", func(r chi.Router) {
		r.Post("/", jobHandler.Create)
		r.Get("/{jobID}", jobHandler.Get)
		r.Post("/{jobID}/requeue", dlqHandler.Requeue)
	})
	s.router.Post("/dead-letter/requeue", dlqHandler.RequeueBatch)
	s.router.Get("/metrics", metricsHandler.Metrics)
	s.router.Route("/debug", func(r chi.Router) {
		r.Get("/workers", metricsHandler.Workers)
		r.Get("/workers/summary", metricsHandler.WorkersSummary)
	})
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := store.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "store unreachable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.router }

// requestLogger logs one line per request with method, path, status, and
// elapsed time.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			logger.Info("http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Duration("elapsed", time.Since(start)),
			)
		})
	}
}

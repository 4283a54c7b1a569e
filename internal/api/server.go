// Package api exposes the HTTP interface for the crawl and extraction
// pipelines.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/collegedata/crawler/internal/config"
	"github.com/collegedata/crawler/internal/llm"
	"github.com/collegedata/crawler/internal/metrics"
	"github.com/collegedata/crawler/internal/pipeline"
	"github.com/collegedata/crawler/internal/workerpool"
)

// JobPool is the slice of the worker pool the HTTP layer needs.
type JobPool interface {
	Enqueue(ctx context.Context, item pipeline.QueueItem) error
	Status() workerpool.Status
}

// ModelAdmin exposes the model manager's lifecycle to the HTTP layer.
type ModelAdmin interface {
	Load(ctx context.Context) error
	Unload() error
	Status() llm.Status
}

// Deps collects everything the server serves from.
type Deps struct {
	Targets     pipeline.TargetStore
	CrawlJobs   pipeline.CrawlJobStore
	AIJobs      pipeline.AIJobStore
	Contents    pipeline.ContentStore
	CrawlPool   JobPool
	ExtractPool JobPool
	Model       ModelAdmin
	Clock       pipeline.Clock
	IDs         pipeline.IDGenerator
	Ready       func(ctx context.Context) error
	Logger      *zap.Logger
}

// Server wires HTTP handlers to the stores and worker pools.
type Server struct {
	deps   Deps
	cfg    config.Config
	router chi.Router
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{deps: deps, cfg: cfg, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Route("/targets", func(r chi.Router) {
			r.Post("/", s.createTarget)
			r.Get("/", s.listTargets)
			r.Route("/{target_id}", func(r chi.Router) {
				r.Get("/", s.getTarget)
				r.Post("/crawl", s.startCrawl)
			})
		})
		r.Route("/crawl", func(r chi.Router) {
			r.Get("/jobs/{job_id}", s.getCrawlJob)
			r.Get("/queue", s.crawlQueueStatus)
		})
		r.Route("/ai", func(r chi.Router) {
			r.Post("/jobs", s.createAIJob)
			r.Post("/process-pending", s.processPending)
			r.Get("/jobs/{job_id}", s.getAIJob)
			r.Get("/queue", s.extractionQueueStatus)
		})
		r.Get("/content/unprocessed", s.listUnprocessedContent)
		r.Route("/model", func(r chi.Router) {
			r.Get("/status", s.modelStatus)
			r.Post("/load", s.loadModel)
			r.Post("/unload", s.unloadModel)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ready != nil {
		if err := s.deps.Ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveHTTPRequest(r.Method, route, ww.status, time.Since(start))
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type requestIDKey struct{}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

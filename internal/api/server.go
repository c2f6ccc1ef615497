// Package api exposes the HTTP interface for the scraper service: run
// triggering, run inspection, and settings management.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/phonewatch/scraper/internal/config"
	"github.com/phonewatch/scraper/internal/metrics"
	"github.com/phonewatch/scraper/internal/orchestrator"
	"github.com/phonewatch/scraper/internal/scrape"
	"github.com/phonewatch/scraper/internal/settings"
)

// Server wires HTTP handlers to the orchestrator and settings store.
type Server struct {
	router       chi.Router
	orchestrator *orchestrator.Orchestrator
	settings     *settings.Store
	cfg          config.Config
	logger       *zap.Logger

	// runCtx outlives individual requests; background runs derive from it so
	// a closed client connection does not cancel a scrape.
	runCtx context.Context
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	runCtx context.Context,
	orch *orchestrator.Orchestrator,
	store *settings.Store,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		orchestrator: orch,
		settings:     store,
		cfg:          cfg,
		logger:       logger,
		runCtx:       runCtx,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metricsMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey, logger))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/scrape", s.triggerScrape)
		r.Get("/scrape/latest", s.latestRun)
		r.Route("/settings", func(r chi.Router) {
			r.Get("/", s.getSettings)
			r.Put("/", s.putSettings)
			r.Patch("/retailers/{name}", s.patchRetailer)
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
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type triggerRequest struct {
	Mode string `json:"mode"`
}

// triggerScrape starts a run in the background and returns immediately.
// A second trigger while a run is active gets 409.
func (s *Server) triggerScrape(w http.ResponseWriter, r *http.Request) {
	snapshot := s.settings.Snapshot()

	if r.Body != nil && r.ContentLength != 0 {
		var req triggerRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		switch scrape.Mode(req.Mode) {
		case "":
		case scrape.ModeAgentic, scrape.ModeHybrid:
			snapshot.Mode = scrape.Mode(req.Mode)
		default:
			s.writeError(w, http.StatusBadRequest, "mode must be agentic or hybrid")
			return
		}
	}

	if s.orchestrator.Running() {
		s.writeError(w, http.StatusConflict, "a scrape run is already in progress")
		return
	}

	go func() {
		if _, err := s.orchestrator.Run(s.runCtx, snapshot); err != nil {
			if !errors.Is(err, orchestrator.ErrRunInProgress) {
				s.logger.Error("background scrape run failed", zap.Error(err))
			}
		}
	}()

	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"status": "accepted",
		"mode":   string(snapshot.Mode),
	})
}

func (s *Server) latestRun(w http.ResponseWriter, _ *http.Request) {
	summary, ok := s.orchestrator.LastSummary()
	if !ok {
		s.writeError(w, http.StatusNotFound, "no completed runs yet")
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) getSettings(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.settings.Snapshot())
}

func (s *Server) putSettings(w http.ResponseWriter, r *http.Request) {
	var doc scrape.ScraperSettings
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if err := s.settings.Replace(doc); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.settings.Snapshot())
}

type patchRetailerRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) patchRetailer(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var req patchRetailerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Enabled == nil {
		s.writeError(w, http.StatusBadRequest, "body must contain \"enabled\"")
		return
	}
	if err := s.settings.ToggleRetailer(name, *req.Enabled); err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, s.settings.Snapshot())
}

type requestIDKey struct{}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("panic", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unknown"
		}
		metrics.ObserveHTTPRequest(r.Method, route, ww.status, time.Since(start))
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

func apiKeyMiddleware(expected string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				logger.Warn("rejected request with bad api key", zap.String("path", r.URL.Path))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"unauthorized"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// Package api serves a read-only HTTP view of a running exploration.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/alvmarrod/screen-weaver/internal/explorer"
	"github.com/alvmarrod/screen-weaver/internal/graphcodec"
	"github.com/alvmarrod/screen-weaver/internal/memory"
	"github.com/alvmarrod/screen-weaver/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

// ScreenSource exposes the most recent observation
type ScreenSource interface {
	Latest() *explorer.Observation
}

// Server is the inspection API
type Server struct {
	router  chi.Router
	graph   *memory.FeatureGraph
	screens ScreenSource
	tracker *metrics.Tracker
}

// NewServer creates and configures the HTTP server. screens and tracker may be nil.
func NewServer(graph *memory.FeatureGraph, screens ScreenSource, tracker *metrics.Tracker) *Server {
	s := &Server{
		graph:   graph,
		screens: screens,
		tracker: tracker,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Get("/graph", s.handleGraph)
	r.Get("/graph/compact", s.handleCompactGraph)
	r.Get("/states/{stateID}", s.handleState)
	r.Get("/summary", s.handleSummary)
	r.Get("/events", s.handleEvents)
	r.Get("/screen", s.handleScreen)
	r.Get("/metrics", s.handleMetrics)

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.graph.Snapshot())
}

func (s *Server) handleCompactGraph(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, graphcodec.Compact(s.graph.Snapshot()))
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "stateID")
	state, ok := s.graph.Snapshot().States[id]
	if !ok {
		jsonError(w, "unknown state "+id, http.StatusNotFound)
		return
	}
	writeJSON(w, state)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	features, states, transitions := s.graph.GetStats()
	writeJSON(w, map[string]any{
		"features":         s.graph.Summary(),
		"feature_count":    features,
		"state_count":      states,
		"transition_count": transitions,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.graph.Events())
}

func (s *Server) handleScreen(w http.ResponseWriter, r *http.Request) {
	if s.screens == nil {
		jsonError(w, "no screen captured yet", http.StatusNotFound)
		return
	}
	obs := s.screens.Latest()
	if obs == nil {
		jsonError(w, "no screen captured yet", http.StatusNotFound)
		return
	}
	writeJSON(w, obs)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.tracker == nil {
		jsonError(w, "metrics disabled", http.StatusNotFound)
		return
	}
	writeJSON(w, s.tracker.GetSnapshot())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Warnf("Failed to encode response: %v", err)
	}
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// requestLogger logs each request at debug level
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		logrus.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      sw.status,
			"duration_ms": time.Since(start).Milliseconds(),
			"request_id":  middleware.GetReqID(r.Context()),
		}).Debug("request")
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

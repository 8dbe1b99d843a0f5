// Package server is the operator HTTP API: health, the live state vector,
// governed memory, conflicts, the audit stream and Prometheus metrics.
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Freshair129/agentic-agent/internal/audit"
	"github.com/Freshair129/agentic-agent/internal/graph"
	"github.com/Freshair129/agentic-agent/internal/memory"
	"github.com/Freshair129/agentic-agent/internal/physio"
	"github.com/Freshair129/agentic-agent/internal/turn"
)

// StateReader exposes the last published state.
type StateReader interface {
	Latest() physio.Snapshot
}

// Deps wires the server. Audit, Graph and Sessions may be nil; their
// routes then answer 503.
type Deps struct {
	Governor *memory.Governor
	State    StateReader
	Audit    *audit.Log
	Graph    *graph.Graph
	Sessions *turn.Synchronizer
	Version  string
	Logger   *slog.Logger
}

// Server is the operator HTTP API server.
type Server struct {
	deps    Deps
	logger  *slog.Logger
	router  chi.Router
	started time.Time
}

// New creates a Server.
func New(deps Deps) *Server {
	s := &Server{deps: deps, logger: deps.Logger, started: time.Now()}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/state", s.handleState)

		r.Get("/memory", s.handleListMemory)
		r.Get("/memory/{entryID}", s.handleGetMemory)
		r.Get("/memory/{entryID}/lineage", s.handleLineage)
		r.Get("/conflicts", s.handleConflicts)
		r.Post("/distill/{tier}", s.handleDistill)

		r.Get("/audit", s.handleAudit)
		r.Get("/graph/{concept}", s.handleNeighbors)
		r.Get("/sessions/{sessionID}", s.handleSession)
	})
	r.Handle("/metrics", promhttp.Handler())

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := s.deps.Governor.Store().DB().PingContext(r.Context()) == nil
	status := "ok"
	if !dbOK {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.deps.Version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap := s.deps.State.Latest()
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshot": snap,
		"affect":   snap.Affect(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

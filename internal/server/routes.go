package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Freshair129/agentic-agent/internal/audit"
	"github.com/Freshair129/agentic-agent/internal/fault"
	"github.com/Freshair129/agentic-agent/internal/memory"
)

// #region memory
func (s *Server) handleListMemory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := memory.Filter{Thread: q.Get("thread")}
	for _, t := range splitList(q.Get("tier")) {
		tier := memory.Tier(t)
		if !tier.Valid() {
			writeError(w, http.StatusBadRequest, "unknown tier "+t)
			return
		}
		f.Tiers = append(f.Tiers, tier)
	}
	for _, st := range splitList(q.Get("state")) {
		f.States = append(f.States, memory.Epistemic(st))
	}
	if v := q.Get("min_confidence"); v != "" {
		c, err := strconv.ParseFloat(v, 64)
		if err != nil || c < 0 || c > 1 {
			writeError(w, http.StatusBadRequest, "min_confidence must be a number in [0,1]")
			return
		}
		f.MinConfidence = c
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}

	var (
		entries []memory.Entry
		err     error
	)
	if d := q.Get("domain"); d != "" {
		entries, err = s.deps.Governor.QueryByDomain(r.Context(), memory.Domain(d), f)
	} else {
		entries, err = s.deps.Governor.Store().Entries(r.Context(), f)
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	if entries == nil {
		entries = []memory.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	e, err := s.deps.Governor.Store().Get(chi.URLParam(r, "entryID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	open, err := s.deps.Governor.Store().OpenConflicts(e.ID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entry": e, "open_conflicts": open})
}

func (s *Server) handleLineage(w http.ResponseWriter, r *http.Request) {
	versions, err := s.deps.Governor.Store().Lineage(chi.URLParam(r, "entryID"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (s *Server) handleConflicts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := memory.ConflictFilter{EntryID: q.Get("entry"), Status: memory.ConflictStatus(q.Get("status"))}
	conflicts, err := s.deps.Governor.Store().Conflicts(f)
	if err != nil {
		s.fail(w, err)
		return
	}
	if conflicts == nil {
		conflicts = []memory.ConflictRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conflicts": conflicts})
}

func (s *Server) handleDistill(w http.ResponseWriter, r *http.Request) {
	report, err := s.deps.Governor.RunDistillation(r.Context(), memory.Tier(chi.URLParam(r, "tier")))
	if err != nil {
		s.fail(w, err)
		return
	}
	s.logger.Info("distillation run from api", "tier", report.Tier, "promoted", len(report.Promoted), "demoted", len(report.Demoted))
	writeJSON(w, http.StatusOK, report)
}

// #endregion memory

// #region observability
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		writeError(w, http.StatusServiceUnavailable, "audit log not configured")
		return
	}
	q := r.URL.Query()
	f := audit.Filter{Kind: audit.Kind(q.Get("kind")), TurnID: q.Get("turn"), Limit: 100}
	if v := q.Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "after must be a sequence number")
			return
		}
		f.AfterSeq = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		f.Limit = n
	}
	events, err := s.deps.Audit.Read(f)
	if err != nil {
		s.fail(w, err)
		return
	}
	if events == nil {
		events = []audit.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (s *Server) handleNeighbors(w http.ResponseWriter, r *http.Request) {
	if s.deps.Graph == nil {
		writeError(w, http.StatusServiceUnavailable, "concept graph not configured")
		return
	}
	edges, err := s.deps.Graph.Neighbors(strings.ToLower(chi.URLParam(r, "concept")), 0)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"edges": edges})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if s.deps.Sessions == nil {
		writeError(w, http.StatusServiceUnavailable, "turn synchronizer not configured")
		return
	}
	id := chi.URLParam(r, "sessionID")
	writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "phase": s.deps.Sessions.Phase(id)})
}

// #endregion observability

// fail maps the fault taxonomy onto status codes.
func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, memory.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, fault.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, fault.ErrTransactionAbort):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("api request failed", "err", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

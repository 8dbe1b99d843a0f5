package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Freshair129/agentic-agent/internal/audit"
	"github.com/Freshair129/agentic-agent/internal/graph"
	"github.com/Freshair129/agentic-agent/internal/memory"
	"github.com/Freshair129/agentic-agent/internal/physio"
	"github.com/Freshair129/agentic-agent/internal/store"
)

type staticState struct{ snap physio.Snapshot }

func (s staticState) Latest() physio.Snapshot { return s.snap }

type fixture struct {
	srv *Server
	gov *memory.Governor
	log *audit.Log
}

func setup(t *testing.T) fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "core.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	entries, err := memory.NewStore(db)
	require.NoError(t, err)
	g, err := graph.New(db)
	require.NoError(t, err)
	gov, err := memory.NewGovernor(entries, g, memory.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(gov.Close)
	log, err := audit.NewLog(db)
	require.NoError(t, err)

	sim, err := physio.NewSimulator(physio.DefaultConfig(), time.Now())
	require.NoError(t, err)

	srv := New(Deps{Governor: gov, State: staticState{sim.Snapshot()}, Audit: log, Graph: g, Version: "test"})
	return fixture{srv: srv, gov: gov, log: log}
}

func (f fixture) get(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	return f.do(t, http.MethodGet, path)
}

func (f fixture) do(t *testing.T, method, path string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	f.srv.ServeHTTP(w, req)
	var body map[string]any
	if w.Header().Get("Content-Type") == "application/json" {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	}
	return w.Code, body
}

func (f fixture) seed(t *testing.T, tier memory.Tier, e memory.Entry) string {
	t.Helper()
	d, err := f.gov.Commit(context.Background(), tier, e)
	require.NoError(t, err)
	return d.EntryID
}

func TestHealthAndState(t *testing.T) {
	f := setup(t)

	code, body := f.get(t, "/api/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["db"])

	code, body = f.get(t, "/api/state")
	assert.Equal(t, http.StatusOK, code)
	snap := body["snapshot"].(map[string]any)
	assert.Len(t, snap["channels"], len(physio.DefaultConfig().Channels))
	assert.Contains(t, body["affect"], "cortisol")
}

func TestMemoryListing(t *testing.T) {
	f := setup(t)
	f.seed(t, memory.TierCore, memory.Entry{Domain: memory.DomainKnowledge, State: memory.StateConfirmed, Confidence: 0.9, Content: "water boils at 100C at sea level"})
	f.seed(t, memory.TierSession, memory.Entry{Domain: memory.DomainContextual, State: memory.StateHypothesis, Confidence: 0.4, Content: "the user is in a hurry"})

	code, body := f.get(t, "/api/memory")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["count"])

	_, body = f.get(t, "/api/memory?domain=knowledge")
	assert.EqualValues(t, 1, body["count"])

	_, body = f.get(t, "/api/memory?min_confidence=0.5&tier=core,sphere")
	assert.EqualValues(t, 1, body["count"])

	_, body = f.get(t, "/api/memory?domain=contextual&tier=core")
	assert.EqualValues(t, 0, body["count"])
	assert.NotNil(t, body["entries"], "empty results encode as an empty list")
}

func TestMemoryBadQueries(t *testing.T) {
	f := setup(t)
	for _, path := range []string{
		"/api/memory?tier=attic",
		"/api/memory?domain=gossip",
		"/api/memory?min_confidence=2",
		"/api/memory?limit=0",
	} {
		code, _ := f.get(t, path)
		assert.Equal(t, http.StatusBadRequest, code, path)
	}
}

func TestEntryLookup(t *testing.T) {
	f := setup(t)
	id := f.seed(t, memory.TierCore, memory.Entry{Domain: memory.DomainKnowledge, State: memory.StateConfirmed, Confidence: 0.9, Content: "the office is on the fifth floor"})

	code, body := f.get(t, "/api/memory/"+id)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, id, body["entry"].(map[string]any)["id"])
	assert.EqualValues(t, 0, body["open_conflicts"])

	code, body = f.get(t, "/api/memory/"+id+"/lineage")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["versions"], 1)

	code, _ = f.get(t, "/api/memory/missing")
	assert.Equal(t, http.StatusNotFound, code)

	code, body = f.get(t, "/api/conflicts?entry="+id)
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["conflicts"])
}

func TestDistillEndpoint(t *testing.T) {
	f := setup(t)
	code, body := f.do(t, http.MethodPost, "/api/distill/core")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "core", body["tier"])

	code, _ = f.do(t, http.MethodPost, "/api/distill/session")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestAuditAndGraph(t *testing.T) {
	f := setup(t)
	_, err := f.log.Append(audit.NewEvent(audit.KindScore, "s1", "t1", map[string]float64{"ri": 0.4}))
	require.NoError(t, err)
	_, err = f.log.Append(audit.NewEvent(audit.KindStimulus, "s1", "t2", map[string]string{"id": "x"}))
	require.NoError(t, err)

	code, body := f.get(t, "/api/audit?turn=t1")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["events"], 1)

	code, _ = f.get(t, "/api/audit?after=x")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body = f.get(t, "/api/graph/nothing")
	require.Equal(t, http.StatusOK, code)
	assert.Empty(t, body["edges"])

	code, _ = f.get(t, "/api/sessions/s1")
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := setup(t)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	f.srv.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

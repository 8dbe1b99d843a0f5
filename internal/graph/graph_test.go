package graph

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Freshair129/agentic-agent/internal/store"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newGraph(t *testing.T) *Graph {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "graph.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	g, err := New(db)
	require.NoError(t, err)
	return g
}

// #region test-add-edge
func TestAddEdgeIgnoresDuplicates(t *testing.T) {
	g := newGraph(t)
	require.NoError(t, g.AddEdge("coffee", "morning", EdgeSeeded, 0.1, now))
	require.NoError(t, g.AddEdge("coffee", "morning", EdgeSeeded, 0.5, now))

	edges, err := g.Neighbors("coffee", 0)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "morning", edges[0].Target)
	assert.InDelta(t, 0.1, edges[0].Weight, 1e-9)
	assert.True(t, now.Equal(edges[0].CreatedAt))
}

// #endregion test-add-edge

// #region test-reinforce
func TestReinforceLinksEveryPairBothWays(t *testing.T) {
	g := newGraph(t)
	require.NoError(t, g.Reinforce([]string{"diet", "seafood", "allergy"}, 0.4, now))
	require.NoError(t, g.Reinforce([]string{"diet", "seafood"}, 0.4, now))
	require.NoError(t, g.Reinforce([]string{"diet", "seafood"}, 0.4, now))

	edges, err := g.Neighbors("seafood", 0)
	require.NoError(t, err)
	require.Len(t, edges, 2)
	assert.Equal(t, "diet", edges[0].Target)
	assert.InDelta(t, 1.0, edges[0].Weight, 1e-9, "capped at 1")
	assert.Equal(t, "allergy", edges[1].Target)
	assert.InDelta(t, 0.4, edges[1].Weight, 1e-9)
}

// #endregion test-reinforce

// #region test-walk
func TestWalkKeepsBestPathScore(t *testing.T) {
	g := newGraph(t)
	require.NoError(t, g.AddEdge("a", "b", EdgeSeeded, 0.8, now))
	require.NoError(t, g.AddEdge("b", "c", EdgeSeeded, 0.5, now))
	require.NoError(t, g.AddEdge("a", "c", EdgeSeeded, 0.2, now))
	require.NoError(t, g.AddEdge("c", "d", EdgeSeeded, 0.9, now))

	scores, err := g.Walk(context.Background(), []string{"a"}, WalkConfig{MaxDepth: 2, MinWeight: 0.1, MaxNodes: 10})
	require.NoError(t, err)
	assert.Equal(t, 1.0, scores["a"])
	assert.InDelta(t, 0.8, scores["b"], 1e-9)
	assert.InDelta(t, 0.4, scores["c"], 1e-9)
	assert.InDelta(t, 0.18, scores["d"], 1e-9, "reached through the direct edge within two hops")
}

func TestWalkStopsOnCancelledContext(t *testing.T) {
	g := newGraph(t)
	require.NoError(t, g.AddEdge("a", "b", EdgeSeeded, 0.8, now))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	scores, err := g.Walk(ctx, []string{"a"}, WalkConfig{MaxDepth: 2, MaxNodes: 10})
	require.ErrorIs(t, err, context.Canceled)
	assert.NotContains(t, scores, "b")
}

func TestWalkRespectsMinWeightAndMaxNodes(t *testing.T) {
	g := newGraph(t)
	require.NoError(t, g.AddEdge("a", "b", EdgeSeeded, 0.9, now))
	require.NoError(t, g.AddEdge("a", "c", EdgeSeeded, 0.8, now))
	require.NoError(t, g.AddEdge("a", "weak", EdgeSeeded, 0.01, now))

	scores, err := g.Walk(context.Background(), []string{"a"}, WalkConfig{MaxDepth: 3, MinWeight: 0.05, MaxNodes: 2})
	require.NoError(t, err)
	assert.Len(t, scores, 2)
	assert.Contains(t, scores, "b")
	assert.NotContains(t, scores, "weak")
}

// #endregion test-walk

// #region test-decay
func TestDecayAllHalvesAndPrunes(t *testing.T) {
	g := newGraph(t)
	require.NoError(t, g.AddEdge("a", "b", EdgeSeeded, 0.8, now))
	require.NoError(t, g.AddEdge("a", "c", EdgeSeeded, 0.015, now))

	deleted, err := g.DecayAll(now.Add(24*time.Hour), 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	edges, err := g.Neighbors("a", 0)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.InDelta(t, 0.4, edges[0].Weight, 1e-6)

	_, err = g.DecayAll(now, 0)
	assert.Error(t, err)
}

// #endregion test-decay

func TestConceptsListsSources(t *testing.T) {
	g := newGraph(t)
	require.NoError(t, g.Reinforce([]string{"tea", "calm"}, 0.2, now))
	got, err := g.Concepts()
	require.NoError(t, err)
	assert.Equal(t, []string{"calm", "tea"}, got)
}

// Package graph stores the concept association graph: weighted edges between
// concept tags that co-occur on memory entries.
package graph

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/Freshair129/agentic-agent/internal/store"
)

// Edge types.
const (
	EdgeCoOccurs = "co_occurs"
	EdgeSeeded   = "seeded"
)

// pruneBelow is the weight under which decayed edges are deleted.
const pruneBelow = 0.01

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS concept_edges (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    source      TEXT NOT NULL,
    target      TEXT NOT NULL,
    edge_type   TEXT NOT NULL,
    weight      REAL NOT NULL DEFAULT 0.1,
    created_at  TEXT NOT NULL,
    updated_at  TEXT NOT NULL,
    UNIQUE(source, target, edge_type)
);
CREATE INDEX IF NOT EXISTS idx_concept_edges_source ON concept_edges(source);
CREATE INDEX IF NOT EXISTS idx_concept_edges_target ON concept_edges(target);
`

// #endregion schema

// #region types
// Edge is a weighted, directed link between two concepts.
type Edge struct {
	ID        int64
	Source    string
	Target    string
	EdgeType  string
	Weight    float64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// WalkConfig bounds a graph walk.
type WalkConfig struct {
	MaxDepth  int     `yaml:"max_depth" validate:"gte=1"`
	MinWeight float64 `yaml:"min_weight" validate:"gte=0,lte=1"`
	MaxNodes  int     `yaml:"max_nodes" validate:"gte=1"`
}

// DefaultWalkConfig returns a two-hop walk over edges of weight 0.05 or more.
func DefaultWalkConfig() WalkConfig {
	return WalkConfig{MaxDepth: 2, MinWeight: 0.05, MaxNodes: 32}
}

// Graph manages the concept_edges table through x, which is either the
// database or an open transaction.
type Graph struct {
	x store.Execer
}

// #endregion types

// #region constructor
// New creates tables and returns a Graph bound to x.
func New(x store.Execer) (*Graph, error) {
	if _, err := x.Exec(schema); err != nil {
		return nil, fmt.Errorf("graph schema: %w", err)
	}
	return &Graph{x: x}, nil
}

// In returns a Graph that reads and writes through x, typically a *sql.Tx.
func (g *Graph) In(x store.Execer) *Graph {
	return &Graph{x: x}
}

// #endregion constructor

// #region add-edge
// AddEdge inserts a new edge. An existing edge with the same endpoints and
// type is left untouched.
func (g *Graph) AddEdge(source, target, edgeType string, weight float64, now time.Time) error {
	ts := now.UTC().Format(time.RFC3339Nano)
	_, err := g.x.Exec(
		`INSERT OR IGNORE INTO concept_edges (source, target, edge_type, weight, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		source, target, edgeType, math.Min(1, weight), ts, ts,
	)
	return err
}

// #endregion add-edge

// #region reinforce
// Reinforce strengthens the co-occurrence edges between every pair of tags in
// both directions, capping each weight at 1.
func (g *Graph) Reinforce(tags []string, delta float64, now time.Time) error {
	ts := now.UTC().Format(time.RFC3339Nano)
	for i, a := range tags {
		for j, b := range tags {
			if i == j || a == b {
				continue
			}
			if _, err := g.x.Exec(
				`INSERT INTO concept_edges (source, target, edge_type, weight, created_at, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?)
				 ON CONFLICT(source, target, edge_type) DO UPDATE SET
				   weight = MIN(1.0, concept_edges.weight + ?),
				   updated_at = ?`,
				a, b, EdgeCoOccurs, math.Min(1, delta), ts, ts,
				delta, ts,
			); err != nil {
				return fmt.Errorf("reinforce %s->%s: %w", a, b, err)
			}
		}
	}
	return nil
}

// #endregion reinforce

// #region neighbors
// Neighbors returns all edges from source with weight >= minWeight, strongest
// first.
func (g *Graph) Neighbors(source string, minWeight float64) ([]Edge, error) {
	return g.neighbors(context.Background(), source, minWeight)
}

func (g *Graph) neighbors(ctx context.Context, source string, minWeight float64) ([]Edge, error) {
	rows, err := g.x.QueryContext(ctx,
		`SELECT id, source, target, edge_type, weight, created_at, updated_at
		 FROM concept_edges
		 WHERE source = ? AND weight >= ?
		 ORDER BY weight DESC, target`,
		source, minWeight,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []Edge
	for rows.Next() {
		var e Edge
		var createdAt, updatedAt string
		if err := rows.Scan(&e.ID, &e.Source, &e.Target, &e.EdgeType, &e.Weight, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// #endregion neighbors

// #region walk
// Walk runs a breadth-first walk from every seed and returns the best
// cumulative score reached for each concept. Seeds score 1; each hop
// multiplies by the edge weight.
func (g *Graph) Walk(ctx context.Context, seeds []string, cfg WalkConfig) (map[string]float64, error) {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 2
	}
	if cfg.MaxNodes <= 0 {
		cfg.MaxNodes = 32
	}

	type queueItem struct {
		id    string
		depth int
		score float64
	}
	scores := make(map[string]float64, len(seeds))
	var queue []queueItem
	for _, s := range seeds {
		if _, ok := scores[s]; ok {
			continue
		}
		scores[s] = 1
		queue = append(queue, queueItem{s, 0, 1})
	}

	for len(queue) > 0 && len(scores) < cfg.MaxNodes {
		current := queue[0]
		queue = queue[1:]
		if current.depth >= cfg.MaxDepth {
			continue
		}
		neighbors, err := g.neighbors(ctx, current.id, cfg.MinWeight)
		if err != nil {
			return scores, fmt.Errorf("walk neighbors: %w", err)
		}
		for _, edge := range neighbors {
			cum := current.score * edge.Weight
			prev, seen := scores[edge.Target]
			if seen && prev >= cum {
				continue
			}
			if !seen && len(scores) >= cfg.MaxNodes {
				break
			}
			scores[edge.Target] = cum
			queue = append(queue, queueItem{edge.Target, current.depth + 1, cum})
		}
	}
	return scores, nil
}

// #endregion walk

// #region decay
// DecayAll applies exponential decay to all edge weights based on time since
// their last update. Edges falling below 0.01 are deleted. Returns the
// number of deleted edges.
func (g *Graph) DecayAll(now time.Time, halfLife time.Duration) (int64, error) {
	if halfLife <= 0 {
		return 0, fmt.Errorf("decay: half-life %s must be > 0", halfLife)
	}
	rows, err := g.x.Query(`SELECT id, weight, updated_at FROM concept_edges`)
	if err != nil {
		return 0, err
	}

	type decayItem struct {
		id        int64
		newWeight float64
	}
	var updates []decayItem
	var deletes []int64

	for rows.Next() {
		var id int64
		var weight float64
		var updatedAt string
		if err := rows.Scan(&id, &weight, &updatedAt); err != nil {
			rows.Close()
			return 0, err
		}
		t, _ := time.Parse(time.RFC3339Nano, updatedAt)
		age := now.Sub(t).Seconds()
		if age <= 0 {
			continue
		}
		decayed := weight * math.Exp(-age*math.Ln2/halfLife.Seconds())
		if decayed < pruneBelow {
			deletes = append(deletes, id)
		} else {
			updates = append(updates, decayItem{id, decayed})
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, err
	}
	rows.Close()

	ts := now.UTC().Format(time.RFC3339Nano)
	for _, u := range updates {
		if _, err := g.x.Exec(`UPDATE concept_edges SET weight = ?, updated_at = ? WHERE id = ?`, u.newWeight, ts, u.id); err != nil {
			return 0, err
		}
	}
	for _, id := range deletes {
		if _, err := g.x.Exec(`DELETE FROM concept_edges WHERE id = ?`, id); err != nil {
			return 0, err
		}
	}
	return int64(len(deletes)), nil
}

// #endregion decay

// #region concepts
// Concepts returns the distinct concepts that appear as edge sources,
// alphabetically.
func (g *Graph) Concepts() ([]string, error) {
	rows, err := g.x.Query(`SELECT DISTINCT source FROM concept_edges`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	sort.Strings(out)
	return out, rows.Err()
}

// #endregion concepts

package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"gonum.org/v1/gonum/floats"

	"github.com/Freshair129/agentic-agent/internal/graph"
	"github.com/Freshair129/agentic-agent/internal/lexicon"
	"github.com/Freshair129/agentic-agent/internal/memory"
)

// DefaultStreams builds the seven built-in streams in tie-break order.
// g may be nil, in which case the association stream finds nothing.
func DefaultStreams(g *graph.Graph, cfg Config, walk graph.WalkConfig) ([]Stream, error) {
	reflection, err := NewReflectionStream(cfg.TokenCacheSize)
	if err != nil {
		return nil, err
	}
	return []Stream{
		AffectStream{},
		NarrativeStream{},
		SalienceStream{},
		TextureStream{},
		RecencyStream{HalfLife: cfg.RecencyHalfLife},
		AssociationStream{Graph: g, Walk: walk},
		reflection,
	}, nil
}

// #region affect
// AffectStream scores entries whose recorded affect points the same way as
// the current state. The impact class sensitivity scales the match.
type AffectStream struct{}

func (AffectStream) Name() StreamName { return StreamAffect }

func (AffectStream) Recall(ctx context.Context, in Input) ([]Hit, error) {
	current := in.Cue.Snapshot.Affect()
	if len(current) == 0 {
		return nil, nil
	}
	names := make([]string, 0, len(current))
	for n := range current {
		names = append(names, n)
	}
	sort.Strings(names)
	cur := vector(names, current)
	sensitivity := in.Cue.Score.Multipliers.Sensitivity
	if sensitivity <= 0 {
		sensitivity = 1
	}

	var hits []Hit
	for _, e := range in.Candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(e.AffectTrace) == 0 {
			continue
		}
		if c := cosine(cur, vector(names, e.AffectTrace)); c > 0 {
			hits = append(hits, Hit{EntryID: e.ID, Score: math.Min(1, c*sensitivity)})
		}
	}
	return hits, nil
}

func vector(names []string, m map[string]float64) []float64 {
	v := make([]float64, len(names))
	for i, n := range names {
		v[i] = m[n]
	}
	return v
}

// cosine returns 0 for zero or mismatched vectors.
func cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 0
	}
	return floats.Dot(a, b) / (na * nb)
}

// #endregion affect

// #region narrative
// NarrativeStream favours the latest entries of the query's thread.
type NarrativeStream struct{}

func (NarrativeStream) Name() StreamName { return StreamNarrative }

func (NarrativeStream) Recall(_ context.Context, in Input) ([]Hit, error) {
	if in.Query.Thread == "" {
		return nil, nil
	}
	var latest int64 = math.MinInt64
	for _, e := range in.Candidates {
		if e.Thread == in.Query.Thread && e.Sequence > latest {
			latest = e.Sequence
		}
	}
	var hits []Hit
	for _, e := range in.Candidates {
		if e.Thread != in.Query.Thread {
			continue
		}
		hits = append(hits, Hit{EntryID: e.ID, Score: 1 / float64(1+latest-e.Sequence)})
	}
	return hits, nil
}

// #endregion narrative

// #region salience
// SalienceStream ranks by stored salience, amplified by the impact class
// weight.
type SalienceStream struct{}

func (SalienceStream) Name() StreamName { return StreamSalience }

func (SalienceStream) Recall(_ context.Context, in Input) ([]Hit, error) {
	weight := in.Cue.Score.Multipliers.Weight
	if weight <= 0 {
		weight = 1
	}
	var hits []Hit
	for _, e := range in.Candidates {
		if e.Salience > 0 {
			hits = append(hits, Hit{EntryID: e.ID, Score: math.Min(1, e.Salience*weight)})
		}
	}
	return hits, nil
}

// #endregion salience

// #region texture
// TextureStream compares the query's sensory texture vector with each
// entry's.
type TextureStream struct{}

func (TextureStream) Name() StreamName { return StreamTexture }

func (TextureStream) Recall(_ context.Context, in Input) ([]Hit, error) {
	if len(in.Query.Texture) == 0 {
		return nil, nil
	}
	var hits []Hit
	for _, e := range in.Candidates {
		if c := cosine(in.Query.Texture, e.Texture); c > 0 {
			hits = append(hits, Hit{EntryID: e.ID, Score: c})
		}
	}
	return hits, nil
}

// #endregion texture

// #region recency
// RecencyStream decays with the time since an entry was last touched.
type RecencyStream struct {
	HalfLife time.Duration
}

func (RecencyStream) Name() StreamName { return StreamRecency }

func (s RecencyStream) Recall(_ context.Context, in Input) ([]Hit, error) {
	if s.HalfLife <= 0 {
		return nil, fmt.Errorf("recency half-life %s must be > 0", s.HalfLife)
	}
	hits := make([]Hit, 0, len(in.Candidates))
	for _, e := range in.Candidates {
		touched := e.UpdatedAt
		if e.LastHitAt.After(touched) {
			touched = e.LastHitAt
		}
		age := in.Now.Sub(touched)
		if age < 0 {
			age = 0
		}
		hits = append(hits, Hit{EntryID: e.ID, Score: math.Exp(-age.Seconds() * math.Ln2 / s.HalfLife.Seconds())})
	}
	return hits, nil
}

// #endregion recency

// #region association
// AssociationStream walks the concept graph from the query's tags and
// terms, and scores each entry by its best reached tag.
type AssociationStream struct {
	Graph *graph.Graph
	Walk  graph.WalkConfig
}

func (AssociationStream) Name() StreamName { return StreamAssociation }

func (s AssociationStream) Recall(ctx context.Context, in Input) ([]Hit, error) {
	if s.Graph == nil {
		return nil, nil
	}
	seeds := append(append([]string(nil), in.Query.Tags...), lexicon.Tokenize(in.Query.Text)...)
	if len(seeds) == 0 {
		return nil, nil
	}
	reached, err := s.Graph.Walk(ctx, seeds, s.Walk)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var hits []Hit
	for _, e := range in.Candidates {
		best := 0.0
		for _, tag := range e.Tags {
			if v := reached[tag]; v > best {
				best = v
			}
		}
		if best > 0 {
			hits = append(hits, Hit{EntryID: e.ID, Score: best})
		}
	}
	return hits, nil
}

// #endregion association

// #region reflection
// ReflectionStream matches the query text against entry content by token
// overlap. Entry token sets are cached per revision.
type ReflectionStream struct {
	tokens *lru.Cache[string, []string]
}

// NewReflectionStream caches up to size token sets.
func NewReflectionStream(size int) (*ReflectionStream, error) {
	cache, err := lru.New[string, []string](size)
	if err != nil {
		return nil, fmt.Errorf("reflection cache: %w", err)
	}
	return &ReflectionStream{tokens: cache}, nil
}

func (*ReflectionStream) Name() StreamName { return StreamReflection }

func (s *ReflectionStream) Recall(ctx context.Context, in Input) ([]Hit, error) {
	query := lexicon.Tokenize(in.Query.Text)
	if len(query) == 0 {
		return nil, nil
	}
	var hits []Hit
	for _, e := range in.Candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if j := lexicon.Jaccard(query, s.entryTokens(e)); j > 0 {
			hits = append(hits, Hit{EntryID: e.ID, Score: j})
		}
	}
	return hits, nil
}

func (s *ReflectionStream) entryTokens(e memory.Entry) []string {
	key := e.ID + "@" + strconv.FormatInt(e.Revision, 10)
	if toks, ok := s.tokens.Get(key); ok {
		return toks
	}
	toks := lexicon.Tokenize(e.Content)
	s.tokens.Add(key, toks)
	return toks
}

// #endregion reflection

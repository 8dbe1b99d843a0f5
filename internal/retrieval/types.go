package retrieval

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Freshair129/agentic-agent/internal/fault"
	"github.com/Freshair129/agentic-agent/internal/memory"
	"github.com/Freshair129/agentic-agent/internal/physio"
	"github.com/Freshair129/agentic-agent/internal/resonance"
)

// #region streams
// StreamName identifies a recall stream.
type StreamName string

const (
	StreamAffect      StreamName = "affect"
	StreamNarrative   StreamName = "narrative"
	StreamSalience    StreamName = "salience"
	StreamTexture     StreamName = "texture"
	StreamRecency     StreamName = "recency"
	StreamAssociation StreamName = "association"
	StreamReflection  StreamName = "reflection"
)

// Group selects a subset of streams for one query.
type Group string

const (
	GroupAll   Group = ""
	GroupQuick Group = "quick"
	GroupDeep  Group = "deep"
)

var groups = map[Group]map[StreamName]bool{
	GroupQuick: {StreamNarrative: true, StreamAssociation: true, StreamReflection: true},
	GroupDeep:  {StreamAffect: true, StreamSalience: true, StreamTexture: true, StreamRecency: true},
}

// Includes reports whether name runs in g. GroupAll includes every stream.
func (g Group) Includes(name StreamName) bool {
	if g == GroupAll {
		return true
	}
	return groups[g][name]
}

// Valid reports whether g is a known group.
func (g Group) Valid() bool {
	_, ok := groups[g]
	return g == GroupAll || ok
}

// Stream scores candidates with one metric. Recall must treat Input as
// read-only; streams run concurrently over the same candidates.
type Stream interface {
	Name() StreamName
	Recall(ctx context.Context, in Input) ([]Hit, error)
}

// Input is what every stream sees for one query.
type Input struct {
	Query      Query
	Cue        Cue
	Candidates []memory.Entry
	Now        time.Time
}

// Hit is a stream-local score in [0,1].
type Hit struct {
	EntryID string
	Score   float64
}

// #endregion streams

// #region query
// Query describes what to recall.
type Query struct {
	Text    string        `json:"text"`
	Tags    []string      `json:"tags,omitempty"`
	Thread  string        `json:"thread,omitempty"`
	Texture []float64     `json:"texture,omitempty"`
	Domain  memory.Domain `json:"domain,omitempty"`
	Group   Group         `json:"group,omitempty"`
	Limit   int           `json:"limit,omitempty"`
}

// Cue is the current internal state the recall is conditioned on.
type Cue struct {
	Snapshot physio.Snapshot `json:"snapshot"`
	Score    resonance.Score `json:"score"`
}

// Grade says how far a match may be relied on.
type Grade string

const (
	GradeDecision  Grade = "decision"
	GradeTentative Grade = "tentative"
)

// Match is one merged, ranked entry.
type Match struct {
	Entry   memory.Entry           `json:"entry"`
	Score   float64                `json:"score"`
	Best    StreamName             `json:"best_stream"`
	Streams map[StreamName]float64 `json:"streams"`
	Grade   Grade                  `json:"grade"`
}

// Result is a ranked recall. Degraded is set when any selected stream, or
// the candidate read itself, failed.
type Result struct {
	Matches  []Match      `json:"matches"`
	Degraded bool         `json:"degraded"`
	Failed   []StreamName `json:"failed,omitempty"`
	Ran      int          `json:"ran"`
}

// DecisionGrade returns the matches that may back a decision.
func (r Result) DecisionGrade() []Match {
	var out []Match
	for _, m := range r.Matches {
		if m.Grade == GradeDecision {
			out = append(out, m)
		}
	}
	return out
}

// #endregion query

// #region config
// Config holds the stream weights and the domain policy.
type Config struct {
	Weights          map[StreamName]float64 `yaml:"weights" validate:"required"`
	CrossStreamBonus float64                `yaml:"cross_stream_bonus" validate:"gte=0,lte=0.5"`
	SafetyFloor      float64                `yaml:"safety_floor" validate:"gte=0,lte=1"`
	Limit            int                    `yaml:"limit" validate:"gte=1"`
	CandidateLimit   int                    `yaml:"candidate_limit" validate:"gte=1"`
	StreamTimeout    time.Duration          `yaml:"stream_timeout"`
	RecencyHalfLife  time.Duration          `yaml:"recency_half_life"`
	TokenCacheSize   int                    `yaml:"token_cache_size" validate:"gte=1"`
}

// DefaultConfig weighs affect congruence highest and recency lowest.
func DefaultConfig() Config {
	return Config{
		Weights: map[StreamName]float64{
			StreamAffect:      1.0,
			StreamNarrative:   0.9,
			StreamSalience:    0.8,
			StreamTexture:     0.7,
			StreamRecency:     0.6,
			StreamAssociation: 0.8,
			StreamReflection:  0.9,
		},
		CrossStreamBonus: 0.05,
		SafetyFloor:      0.8,
		Limit:            10,
		CandidateLimit:   500,
		StreamTimeout:    250 * time.Millisecond,
		RecencyHalfLife:  7 * 24 * time.Hour,
		TokenCacheSize:   2048,
	}
}

// Validate rejects weights outside [0,1] and non-positive durations.
func (c Config) Validate() error {
	var errs []error
	if len(c.Weights) == 0 {
		errs = append(errs, errors.New("no stream weights"))
	}
	for name, w := range c.Weights {
		if math.IsNaN(w) || w < 0 || w > 1 {
			errs = append(errs, fmt.Errorf("weight for %s %g out of [0,1]", name, w))
		}
	}
	if c.CrossStreamBonus < 0 || c.CrossStreamBonus > 0.5 {
		errs = append(errs, fmt.Errorf("cross_stream_bonus %g out of [0,0.5]", c.CrossStreamBonus))
	}
	if c.SafetyFloor < 0 || c.SafetyFloor > 1 {
		errs = append(errs, fmt.Errorf("safety_floor %g out of [0,1]", c.SafetyFloor))
	}
	if c.Limit < 1 || c.CandidateLimit < 1 || c.TokenCacheSize < 1 {
		errs = append(errs, errors.New("limit, candidate_limit and token_cache_size must be >= 1"))
	}
	if c.StreamTimeout <= 0 {
		errs = append(errs, fmt.Errorf("stream_timeout %s must be > 0", c.StreamTimeout))
	}
	if c.RecencyHalfLife <= 0 {
		errs = append(errs, fmt.Errorf("recency_half_life %s must be > 0", c.RecencyHalfLife))
	}
	if len(errs) > 0 {
		return fault.Configuration("retrieval.config", errors.Join(errs...))
	}
	return nil
}

// #endregion config

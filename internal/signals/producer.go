package signals

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Freshair129/agentic-agent/internal/fault"
	"github.com/Freshair129/agentic-agent/internal/lexicon"
	"github.com/Freshair129/agentic-agent/internal/physio"
)

// #region producer

// Producer turns perception payloads into stimulus events and a context
// similarity score. It remembers each session's previous turn.
type Producer struct {
	embedder Embedder
	config   ProducerConfig
	prev     *lru.Cache[string, trace]
	now      func() time.Time
}

// trace is what a session's previous turn leaves behind.
type trace struct {
	tokens    []string
	embedding []float32
}

// NewProducer creates a Producer. embedder may be nil (similarity falls back
// to lexical overlap).
func NewProducer(embedder Embedder, config ProducerConfig) (*Producer, error) {
	prev, err := lru.New[string, trace](max(config.Sessions, 1))
	if err != nil {
		return nil, err
	}
	return &Producer{
		embedder: embedder,
		config:   config,
		prev:     prev,
		now:      func() time.Time { return time.Now().UTC() },
	}, nil
}

// #endregion producer

// #region produce

// Produce builds the turn's stimulus. Explicit deltas override the intent
// profile per channel; a confidence scales every delta.
func (p *Producer) Produce(ctx context.Context, in Perception) (Signals, error) {
	const op = "signals.produce"
	if in.SessionID == "" {
		return Signals{}, fault.Validation(op, "perception has no session id")
	}
	if math.IsNaN(in.Salience) || math.IsInf(in.Salience, 0) || in.Salience < 0 {
		return Signals{}, fault.Validation(op, "salience %g out of range", in.Salience)
	}
	scale := 1.0
	if in.Confidence != nil {
		if c := *in.Confidence; math.IsNaN(c) || c < 0 || c > 1 {
			return Signals{}, fault.Validation(op, "confidence %g out of [0,1]", c)
		}
		scale = *in.Confidence
	}

	deltas := make(map[string]float64)
	if in.Intent != "" {
		profile, ok := p.config.Intents[in.Intent]
		if !ok && len(in.Deltas) == 0 {
			return Signals{}, fault.Validation(op, "unknown intent %q", in.Intent)
		}
		for ch, v := range profile {
			deltas[ch] = v
		}
	}
	for ch, v := range in.Deltas {
		deltas[ch] = v
	}
	for ch := range deltas {
		deltas[ch] *= scale
	}

	turnID := in.TurnID
	if turnID == "" {
		turnID = uuid.New().String()
	}
	out := Signals{
		Stimulus: physio.StimulusEvent{
			ID:        uuid.New().String(),
			TurnID:    turnID,
			Deltas:    deltas,
			Salience:  in.Salience,
			Timestamp: p.now(),
		},
	}
	out.ContextSimilarity, out.Degraded = p.contextSimilarity(ctx, in)
	return out, nil
}

// #endregion produce

// #region context

// contextSimilarity compares this turn's text with the session's previous
// turn. The embedder is preferred; on failure it degrades to token overlap.
// The first turn of a session scores 0.
func (p *Producer) contextSimilarity(ctx context.Context, in Perception) (float64, bool) {
	cur := trace{tokens: lexicon.Tokenize(in.Text)}
	degraded := false
	if p.embedder != nil && in.Text != "" {
		emb, err := p.embedder.Embed(ctx, in.Text)
		if err != nil {
			degraded = true
		} else {
			cur.embedding = emb
		}
	}
	last, seen := p.prev.Get(in.SessionID)
	p.prev.Add(in.SessionID, cur)

	if in.ContextSimilarity != nil {
		return clamp(*in.ContextSimilarity), degraded
	}
	if !seen {
		return 0, degraded
	}
	if cur.embedding != nil && last.embedding != nil {
		return clamp(cosineSimilarity(cur.embedding, last.embedding)), degraded
	}
	return lexicon.Jaccard(cur.tokens, last.tokens), degraded
}

// Forget drops a session's previous turn.
func (p *Producer) Forget(sessionID string) { p.prev.Remove(sessionID) }

// #endregion context

// #region helpers

// cosineSimilarity computes cosine similarity between two vectors.
// Returns 0 for zero-length or mismatched vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}

// clamp restricts v to [0, 1]; NaN becomes 0.
func clamp(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v > 0 {
		return v
	}
	return 0
}

// #endregion helpers

package signals

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/Freshair129/agentic-agent/internal/fault"
	"github.com/Freshair129/agentic-agent/internal/physio"
)

// #region mock

// mockEmbedder returns pre-configured embeddings or errors.
type mockEmbedder struct {
	embeddings map[string][]float32
	err        error
}

func (m *mockEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	if emb, ok := m.embeddings[text]; ok {
		return emb, nil
	}
	return nil, errors.New("no embedding for: " + text)
}

func newProducer(t *testing.T, e Embedder) *Producer {
	t.Helper()
	p, err := NewProducer(e, DefaultProducerConfig())
	if err != nil {
		t.Fatalf("NewProducer: %v", err)
	}
	return p
}

func ptr(v float64) *float64 { return &v }

// #endregion mock

// #region stimulus-tests

func TestProduce_IntentProfile(t *testing.T) {
	p := newProducer(t, nil)
	sig, err := p.Produce(context.Background(), Perception{SessionID: "s", TurnID: "t1", Intent: "threat", Salience: 0.5})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if sig.Stimulus.ID == "" {
		t.Error("expected a stimulus id")
	}
	if sig.Stimulus.TurnID != "t1" {
		t.Errorf("expected turn id t1, got %s", sig.Stimulus.TurnID)
	}
	if sig.Stimulus.Deltas["cortisol"] != 25 {
		t.Errorf("expected cortisol 25 from profile, got %f", sig.Stimulus.Deltas["cortisol"])
	}
	if sig.Stimulus.Salience != 0.5 {
		t.Errorf("expected salience passed through, got %f", sig.Stimulus.Salience)
	}
}

func TestProduce_ExplicitDeltasOverrideProfile(t *testing.T) {
	p := newProducer(t, nil)
	sig, err := p.Produce(context.Background(), Perception{
		SessionID: "s",
		Intent:    "reward",
		Deltas:    map[string]float64{"dopamine": 5, "oxytocin": 3},
	})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	want := map[string]float64{"dopamine": 5, "serotonin": 5, "oxytocin": 3}
	for ch, v := range want {
		if sig.Stimulus.Deltas[ch] != v {
			t.Errorf("%s: expected %f, got %f", ch, v, sig.Stimulus.Deltas[ch])
		}
	}
	if sig.Stimulus.TurnID == "" {
		t.Error("expected a generated turn id")
	}
}

func TestProduce_ConfidenceScalesDeltas(t *testing.T) {
	p := newProducer(t, nil)
	sig, err := p.Produce(context.Background(), Perception{SessionID: "s", Intent: "threat", Confidence: ptr(0.5)})
	if err != nil {
		t.Fatalf("Produce: %v", err)
	}
	if math.Abs(sig.Stimulus.Deltas["adrenaline"]-10) > 1e-9 {
		t.Errorf("expected adrenaline 10, got %f", sig.Stimulus.Deltas["adrenaline"])
	}
}

func TestProduce_RejectsBadPayloads(t *testing.T) {
	p := newProducer(t, nil)
	cases := []Perception{
		{Intent: "threat"},
		{SessionID: "s", Salience: math.NaN()},
		{SessionID: "s", Salience: -1},
		{SessionID: "s", Confidence: ptr(1.5)},
		{SessionID: "s", Intent: "boredom"},
	}
	for i, in := range cases {
		if _, err := p.Produce(context.Background(), in); !errors.Is(err, fault.ErrValidation) {
			t.Errorf("case %d: expected validation error, got %v", i, err)
		}
	}
}

// #endregion stimulus-tests

// #region context-tests

func TestContextSimilarity_FirstTurnIsZero(t *testing.T) {
	p := newProducer(t, nil)
	sig, _ := p.Produce(context.Background(), Perception{SessionID: "s", Text: "planning a beach trip"})
	if sig.ContextSimilarity != 0 {
		t.Errorf("expected 0 on first turn, got %f", sig.ContextSimilarity)
	}
}

func TestContextSimilarity_LexicalOverlap(t *testing.T) {
	p := newProducer(t, nil)
	ctx := context.Background()
	p.Produce(ctx, Perception{SessionID: "s", Text: "planning a beach trip"})
	sig, _ := p.Produce(ctx, Perception{SessionID: "s", Text: "beach trip food"})
	// {planning, beach, trip} vs {beach, trip, food}
	if math.Abs(sig.ContextSimilarity-0.5) > 1e-9 {
		t.Errorf("expected 0.5, got %f", sig.ContextSimilarity)
	}

	other, _ := p.Produce(ctx, Perception{SessionID: "other", Text: "beach trip food"})
	if other.ContextSimilarity != 0 {
		t.Errorf("sessions must not share context, got %f", other.ContextSimilarity)
	}
}

func TestContextSimilarity_Embeddings(t *testing.T) {
	emb := &mockEmbedder{embeddings: map[string][]float32{
		"first":  {1, 0},
		"second": {1, 1},
	}}
	p := newProducer(t, emb)
	ctx := context.Background()
	p.Produce(ctx, Perception{SessionID: "s", Text: "first"})
	sig, _ := p.Produce(ctx, Perception{SessionID: "s", Text: "second"})
	if math.Abs(sig.ContextSimilarity-1/math.Sqrt2) > 1e-6 {
		t.Errorf("expected cos 45deg, got %f", sig.ContextSimilarity)
	}
	if sig.Degraded {
		t.Error("did not expect degraded")
	}
}

func TestContextSimilarity_EmbedderErrorDegrades(t *testing.T) {
	p := newProducer(t, &mockEmbedder{err: errors.New("model offline")})
	ctx := context.Background()
	p.Produce(ctx, Perception{SessionID: "s", Text: "beach trip"})
	sig, err := p.Produce(ctx, Perception{SessionID: "s", Text: "beach trip"})
	if err != nil {
		t.Fatalf("embedder failure must not fail the turn: %v", err)
	}
	if !sig.Degraded {
		t.Error("expected degraded")
	}
	if sig.ContextSimilarity != 1 {
		t.Errorf("expected lexical fallback 1, got %f", sig.ContextSimilarity)
	}
}

func TestContextSimilarity_ExplicitOverrideAndForget(t *testing.T) {
	p := newProducer(t, nil)
	ctx := context.Background()
	sig, _ := p.Produce(ctx, Perception{SessionID: "s", Text: "x", ContextSimilarity: ptr(2)})
	if sig.ContextSimilarity != 1 {
		t.Errorf("expected clamp to 1, got %f", sig.ContextSimilarity)
	}
	p.Forget("s")
	sig, _ = p.Produce(ctx, Perception{SessionID: "s", Text: "planning a beach trip"})
	if sig.ContextSimilarity != 0 {
		t.Errorf("expected forgotten session to start over, got %f", sig.ContextSimilarity)
	}
}

// #endregion context-tests

// #region config-tests

func TestProducerConfig_Validate(t *testing.T) {
	channels := physio.DefaultConfig().Channels
	if err := DefaultProducerConfig().Validate(channels); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	cfg := DefaultProducerConfig()
	cfg.Intents["panic"] = map[string]float64{"glucose": 1}
	if err := cfg.Validate(channels); !errors.Is(err, fault.ErrConfiguration) {
		t.Errorf("expected configuration error, got %v", err)
	}
}

func TestCosineSimilarity_Mismatch(t *testing.T) {
	if got := cosineSimilarity([]float32{1, 2}, []float32{1}); got != 0 {
		t.Errorf("expected 0 for mismatched lengths, got %f", got)
	}
	if got := cosineSimilarity([]float32{0, 0}, []float32{1, 1}); got != 0 {
		t.Errorf("expected 0 for zero vector, got %f", got)
	}
}

// #endregion config-tests

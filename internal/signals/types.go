package signals

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/Freshair129/agentic-agent/internal/fault"
	"github.com/Freshair129/agentic-agent/internal/physio"
)

// #region embedder-interface

// Embedder abstracts the embedding call so Producer can be tested without a model.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// #endregion embedder-interface

// #region config

// ProducerConfig holds the intent profiles and the context window.
type ProducerConfig struct {
	// Intents maps an intent tag to default channel deltas. Deltas given in
	// the payload take precedence channel by channel.
	Intents map[string]map[string]float64 `yaml:"intents"`
	// Sessions bounds how many sessions keep their previous turn for
	// context similarity.
	Sessions int `yaml:"sessions" validate:"gte=1"`
}

// DefaultProducerConfig returns stock intent profiles for the default channels.
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		Intents: map[string]map[string]float64{
			"threat":   {"sympathetic": 0.4, "cortisol": 25, "adrenaline": 20},
			"conflict": {"sympathetic": 0.25, "cortisol": 15},
			"comfort":  {"parasympathetic": 0.3, "oxytocin": 15, "serotonin": 10},
			"reward":   {"dopamine": 25, "serotonin": 5},
			"neutral":  {},
		},
		Sessions: 1024,
	}
}

// Validate checks profiles against the channels the simulator knows.
func (c ProducerConfig) Validate(channels []physio.ChannelConfig) error {
	known := make(map[string]bool, len(channels))
	for _, ch := range channels {
		known[ch.Name] = true
	}
	var errs []error
	for intent, deltas := range c.Intents {
		for ch, v := range deltas {
			if !known[ch] {
				errs = append(errs, fmt.Errorf("intent %q: unknown channel %q", intent, ch))
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				errs = append(errs, fmt.Errorf("intent %q: channel %q delta is not finite", intent, ch))
			}
		}
	}
	if c.Sessions < 1 {
		errs = append(errs, fmt.Errorf("sessions %d must be >= 1", c.Sessions))
	}
	if len(errs) > 0 {
		return fault.Configuration("signals.config", errors.Join(errs...))
	}
	return nil
}

// #endregion config

// #region input

// Perception is the once-per-turn payload from the perception collaborator.
type Perception struct {
	SessionID  string             `json:"session_id"`
	TurnID     string             `json:"turn_id"`
	Intent     string             `json:"intent,omitempty"`
	Salience   float64            `json:"salience"`
	Deltas     map[string]float64 `json:"deltas,omitempty"`
	Confidence *float64           `json:"confidence,omitempty"`
	Text       string             `json:"text,omitempty"`
	// ContextSimilarity, when present, overrides the computed value.
	ContextSimilarity *float64 `json:"context_similarity,omitempty"`
}

// Signals is what one perception turns into.
type Signals struct {
	Stimulus          physio.StimulusEvent
	ContextSimilarity float64
	// Degraded is set when the embedder failed and lexical overlap was used.
	Degraded bool
}

// #endregion input

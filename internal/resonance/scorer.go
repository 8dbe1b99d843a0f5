package resonance

import (
	"math"
	"sync"

	"github.com/Freshair129/agentic-agent/internal/physio"
)

// Scorer derives RI and RIM from a state snapshot. Its only memory is the
// previous turn's RI and the smoothed trend.
type Scorer struct {
	cfg Config

	mu    sync.Mutex
	state State
}

// NewScorer validates cfg.
func NewScorer(cfg Config) (*Scorer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{cfg: cfg}, nil
}

// Score blends state magnitude, context similarity and the smoothed trend
// into RI, then classifies it.
//
// The trend term maps the smoothed delta from [-1, 1] onto [0, 1] so a flat
// trend contributes half its weight.
func (s *Scorer) Score(snap physio.Snapshot, contextSimilarity float64) Score {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := Magnitude(snap)
	c := clamp01(contextSimilarity)

	present := 0.0
	if w := s.cfg.MagnitudeWeight + s.cfg.ContextWeight; w > 0 {
		present = (s.cfg.MagnitudeWeight*m + s.cfg.ContextWeight*c) / w
	}
	smoothed := 0.0
	if s.state.Primed {
		a := s.cfg.Smoothing
		smoothed = a*(present-s.state.PrevLevel) + (1-a)*s.state.Smoothed
	}
	trendTerm := clamp01(0.5 + 0.5*smoothed)

	ri := clamp01(s.cfg.MagnitudeWeight*m + s.cfg.ContextWeight*c + s.cfg.TrendWeight*trendTerm)
	s.state = State{PrevLevel: present, Smoothed: smoothed, Primed: true}

	return Score{
		RI:          ri,
		Class:       s.Classify(ri),
		Multipliers: s.Multipliers(ri),
		Trend:       s.trend(smoothed),
		Magnitude:   m,
		Context:     c,
		Smoothed:    smoothed,
	}
}

// Classify maps RI to its class. It is a pure function of ri.
func (s *Scorer) Classify(ri float64) Class {
	switch {
	case ri < s.cfg.LowCutoff:
		return ClassLow
	case ri < s.cfg.HighCutoff:
		return ClassMedium
	}
	return ClassHigh
}

// Multipliers returns the class triple for ri. High is amplified by
// 1 + (ri - highCutoff) * gain.
func (s *Scorer) Multipliers(ri float64) Multipliers {
	switch s.Classify(ri) {
	case ClassLow:
		return s.cfg.Low
	case ClassMedium:
		return s.cfg.Medium
	}
	return s.cfg.High.scaled(1 + (ri-s.cfg.HighCutoff)*s.cfg.Gain)
}

// State returns the carried-over memory, for audit.
func (s *Scorer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Restore sets the carried-over memory, for replay.
func (s *Scorer) Restore(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Scorer) trend(smoothed float64) Trend {
	switch {
	case smoothed > s.cfg.TrendBand:
		return TrendRising
	case smoothed < -s.cfg.TrendBand:
		return TrendFading
	}
	return TrendStable
}

// Magnitude is the mean absolute normalized displacement across channels.
func Magnitude(snap physio.Snapshot) float64 {
	if len(snap.Channels) == 0 {
		return 0
	}
	var sum float64
	for _, c := range snap.Channels {
		sum += math.Abs(c.Displacement())
	}
	return clamp01(sum / float64(len(snap.Channels)))
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

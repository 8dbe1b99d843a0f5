package resonance

import (
	"errors"
	"fmt"
	"math"

	"github.com/Freshair129/agentic-agent/internal/fault"
)

// Class is the discretized impact classification (RIM).
type Class string

const (
	ClassLow    Class = "low"
	ClassMedium Class = "medium"
	ClassHigh   Class = "high"
)

// Trend labels the direction of the smoothed RI delta.
type Trend string

const (
	TrendRising Trend = "rising"
	TrendStable Trend = "stable"
	TrendFading Trend = "fading"
)

// Multipliers is the triple attached to an impact class.
type Multipliers struct {
	Release     float64 `yaml:"release" json:"release" validate:"gt=0"`
	Sensitivity float64 `yaml:"sensitivity" json:"sensitivity" validate:"gt=0"`
	Weight      float64 `yaml:"weight" json:"weight" validate:"gt=0"`
}

func (m Multipliers) scaled(f float64) Multipliers {
	return Multipliers{Release: m.Release * f, Sensitivity: m.Sensitivity * f, Weight: m.Weight * f}
}

// Score is one turn's resonance output.
type Score struct {
	RI          float64     `json:"ri"`
	Class       Class       `json:"class"`
	Multipliers Multipliers `json:"multipliers"`
	Trend       Trend       `json:"trend"`
	Magnitude   float64     `json:"magnitude"`
	Context     float64     `json:"context"`
	Smoothed    float64     `json:"smoothed_delta"`
}

// State is the scorer's memory between turns.
// PrevLevel is the trend-free blend of magnitude and context the trend is
// measured on; RI itself carries the trend term.
type State struct {
	PrevLevel float64 `json:"prev_level"`
	Smoothed  float64 `json:"smoothed"`
	Primed    bool    `json:"primed"`
}

// #region config
// Config controls the RI blend and the RIM cutoffs.
type Config struct {
	MagnitudeWeight float64     `yaml:"magnitude_weight" validate:"gte=0,lte=1"`
	ContextWeight   float64     `yaml:"context_weight" validate:"gte=0,lte=1"`
	TrendWeight     float64     `yaml:"trend_weight" validate:"gte=0,lte=1"`
	Smoothing       float64     `yaml:"smoothing" validate:"gt=0,lte=1"`
	TrendBand       float64     `yaml:"trend_band" validate:"gte=0"`
	LowCutoff       float64     `yaml:"low_cutoff"`
	HighCutoff      float64     `yaml:"high_cutoff"`
	Gain            float64     `yaml:"gain" validate:"gte=0"`
	Low             Multipliers `yaml:"low"`
	Medium          Multipliers `yaml:"medium"`
	High            Multipliers `yaml:"high"`
}

// DefaultConfig returns the stock cutoffs (0.3 / 0.8) and multiplier triples.
func DefaultConfig() Config {
	return Config{
		MagnitudeWeight: 0.5,
		ContextWeight:   0.35,
		TrendWeight:     0.15,
		Smoothing:       0.4,
		TrendBand:       0.05,
		LowCutoff:       0.3,
		HighCutoff:      0.8,
		Gain:            1.0,
		Low:             Multipliers{Release: 0.8, Sensitivity: 0.9, Weight: 0.8},
		Medium:          Multipliers{Release: 1.0, Sensitivity: 1.0, Weight: 1.0},
		High:            Multipliers{Release: 1.3, Sensitivity: 1.2, Weight: 1.25},
	}
}

// Validate rejects weights that do not sum to one and unordered cutoffs.
func (c Config) Validate() error {
	var errs []error
	for name, w := range map[string]float64{"magnitude": c.MagnitudeWeight, "context": c.ContextWeight, "trend": c.TrendWeight} {
		if w < 0 || w > 1 || math.IsNaN(w) {
			errs = append(errs, fmt.Errorf("%s_weight %g out of [0,1]", name, w))
		}
	}
	if sum := c.MagnitudeWeight + c.ContextWeight + c.TrendWeight; math.Abs(sum-1) > 1e-9 {
		errs = append(errs, fmt.Errorf("weights sum to %g, want 1", sum))
	}
	if !(c.Smoothing > 0 && c.Smoothing <= 1) {
		errs = append(errs, fmt.Errorf("smoothing %g out of (0,1]", c.Smoothing))
	}
	if !(c.LowCutoff > 0 && c.LowCutoff < c.HighCutoff && c.HighCutoff <= 1) {
		errs = append(errs, fmt.Errorf("cutoffs %g/%g must satisfy 0 < low < high <= 1", c.LowCutoff, c.HighCutoff))
	}
	if c.Gain < 0 || math.IsNaN(c.Gain) || math.IsInf(c.Gain, 0) {
		errs = append(errs, fmt.Errorf("gain %g must be a finite value >= 0", c.Gain))
	}
	if c.TrendBand < 0 {
		errs = append(errs, fmt.Errorf("trend_band %g must be >= 0", c.TrendBand))
	}
	for name, m := range map[string]Multipliers{"low": c.Low, "medium": c.Medium, "high": c.High} {
		if m.Release <= 0 || m.Sensitivity <= 0 || m.Weight <= 0 {
			errs = append(errs, fmt.Errorf("%s multipliers must be > 0", name))
		}
	}
	if len(errs) > 0 {
		return fault.Configuration("resonance.config", errors.Join(errs...))
	}
	return nil
}
// #endregion config

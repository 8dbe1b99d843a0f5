package physio

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Freshair129/agentic-agent/internal/fault"
)

// #region config
// ChannelConfig describes one scalar channel of the state vector.
type ChannelConfig struct {
	Name     string        `yaml:"name" validate:"required"`
	Basal    float64       `yaml:"basal"`
	Floor    float64       `yaml:"floor"`
	Ceiling  float64       `yaml:"ceiling"`
	HalfLife time.Duration `yaml:"half_life"`
}

// AntagonistConfig couples two channels with negative feedback: whichever is
// further from basal (normalized) shortens the other's half-life.
type AntagonistConfig struct {
	Primary  string  `yaml:"primary" validate:"required"`
	Opponent string  `yaml:"opponent" validate:"required,nefield=Primary"`
	Coupling float64 `yaml:"coupling" validate:"gte=0"`
}

// VitalConfig maps the primary/opponent ratio to a derived vital sign:
// value = Intercept + Slope*ratio, clamped to [Min, Max].
type VitalConfig struct {
	Name      string  `yaml:"name" validate:"required"`
	Intercept float64 `yaml:"intercept"`
	Slope     float64 `yaml:"slope"`
	Min       float64 `yaml:"min"`
	Max       float64 `yaml:"max"`
}

// Config holds the simulator's channel layout and timing.
type Config struct {
	TickInterval   time.Duration     `yaml:"tick_interval"`
	ConsumedWindow int               `yaml:"consumed_window" validate:"gte=1"`
	Channels       []ChannelConfig   `yaml:"channels" validate:"min=1,dive"`
	Antagonist     *AntagonistConfig `yaml:"antagonist"`
	Vitals         []VitalConfig     `yaml:"vitals" validate:"dive"`
}

// DefaultConfig returns an autonomic/endocrine layout with heart-rate and
// respiration vitals driven by the sympathetic/parasympathetic ratio.
func DefaultConfig() Config {
	return Config{
		TickInterval:   time.Second,
		ConsumedWindow: 4096,
		Channels: []ChannelConfig{
			{Name: "sympathetic", Basal: 0.3, Floor: 0, Ceiling: 1, HalfLife: 90 * time.Second},
			{Name: "parasympathetic", Basal: 0.5, Floor: 0, Ceiling: 1, HalfLife: 120 * time.Second},
			{Name: "cortisol", Basal: 10, Floor: 0, Ceiling: 100, HalfLife: 300 * time.Second},
			{Name: "adrenaline", Basal: 5, Floor: 0, Ceiling: 100, HalfLife: 60 * time.Second},
			{Name: "dopamine", Basal: 20, Floor: 0, Ceiling: 100, HalfLife: 180 * time.Second},
			{Name: "serotonin", Basal: 30, Floor: 0, Ceiling: 100, HalfLife: 600 * time.Second},
			{Name: "oxytocin", Basal: 10, Floor: 0, Ceiling: 100, HalfLife: 240 * time.Second},
		},
		Antagonist: &AntagonistConfig{Primary: "sympathetic", Opponent: "parasympathetic", Coupling: 1.5},
		Vitals: []VitalConfig{
			{Name: "heart_rate", Intercept: 60, Slope: 20, Min: 45, Max: 180},
			{Name: "respiration", Intercept: 10, Slope: 5, Min: 8, Max: 40},
		},
	}
}

// Validate checks cross-field rules. Any violation is a configuration error.
func (c Config) Validate() error {
	var errs []error
	if c.TickInterval < 0 {
		errs = append(errs, fmt.Errorf("tick_interval %s must not be negative", c.TickInterval))
	}
	if c.ConsumedWindow < 1 {
		errs = append(errs, fmt.Errorf("consumed_window %d must be >= 1", c.ConsumedWindow))
	}
	if len(c.Channels) == 0 {
		errs = append(errs, errors.New("at least one channel is required"))
	}
	seen := make(map[string]bool, len(c.Channels))
	for _, ch := range c.Channels {
		switch {
		case ch.Name == "":
			errs = append(errs, errors.New("channel with empty name"))
			continue
		case seen[ch.Name]:
			errs = append(errs, fmt.Errorf("channel %q declared twice", ch.Name))
		}
		seen[ch.Name] = true
		if ch.HalfLife <= 0 {
			errs = append(errs, fmt.Errorf("channel %q: half_life %s must be > 0", ch.Name, ch.HalfLife))
		}
		if ch.Ceiling <= ch.Basal {
			errs = append(errs, fmt.Errorf("channel %q: ceiling %g must be > basal %g", ch.Name, ch.Ceiling, ch.Basal))
		}
		if ch.Floor > ch.Basal {
			errs = append(errs, fmt.Errorf("channel %q: floor %g must be <= basal %g", ch.Name, ch.Floor, ch.Basal))
		}
		if !finite(ch.Basal) || !finite(ch.Floor) || !finite(ch.Ceiling) {
			errs = append(errs, fmt.Errorf("channel %q: levels must be finite", ch.Name))
		}
	}
	if a := c.Antagonist; a != nil {
		if !seen[a.Primary] || !seen[a.Opponent] {
			errs = append(errs, fmt.Errorf("antagonist pair %q/%q must name declared channels", a.Primary, a.Opponent))
		}
		if a.Primary == a.Opponent {
			errs = append(errs, errors.New("antagonist pair must name two different channels"))
		}
		if a.Coupling < 0 || !finite(a.Coupling) {
			errs = append(errs, fmt.Errorf("antagonist coupling %g must be a finite value >= 0", a.Coupling))
		}
	}
	if len(c.Vitals) > 0 && c.Antagonist == nil {
		errs = append(errs, errors.New("vitals require an antagonist pair"))
	}
	for _, v := range c.Vitals {
		if v.Max < v.Min {
			errs = append(errs, fmt.Errorf("vital %q: max %g < min %g", v.Name, v.Max, v.Min))
		}
	}
	if len(errs) > 0 {
		return fault.Configuration("physio.config", errors.Join(errs...))
	}
	return nil
}
// #endregion config

// #region stimulus
// StimulusEvent is one turn's perturbation of the state vector. It is applied
// at most once; the simulator remembers consumed ids.
type StimulusEvent struct {
	ID        string             `json:"id"`
	TurnID    string             `json:"turn_id"`
	Deltas    map[string]float64 `json:"deltas"`
	Salience  float64            `json:"salience"` // scales every delta; 0 means 1
	Timestamp time.Time          `json:"timestamp"`
}

// Delta reports how far each touched channel actually moved.
type Delta map[string]float64
// #endregion stimulus

// #region snapshot
// ChannelState is a channel's level together with its bounds. Anchor and
// Pending describe the open accumulation window: Level already includes the
// saturated Pending sum on top of Anchor.
type ChannelState struct {
	Name    string  `json:"name"`
	Level   float64 `json:"level"`
	Basal   float64 `json:"basal"`
	Floor   float64 `json:"floor"`
	Ceiling float64 `json:"ceiling"`
	Anchor  float64 `json:"anchor,omitempty"`
	Pending float64 `json:"pending,omitempty"`
}

// Displacement is the signed distance from basal normalized to [-1, 1]
// against the headroom on that side.
func (c ChannelState) Displacement() float64 {
	switch {
	case c.Level > c.Basal:
		return (c.Level - c.Basal) / (c.Ceiling - c.Basal)
	case c.Level < c.Basal && c.Basal > c.Floor:
		return -(c.Basal - c.Level) / (c.Basal - c.Floor)
	}
	return 0
}

// Snapshot is a complete, immutable view of the state vector. Published
// snapshots are never mutated.
type Snapshot struct {
	Version  uint64             `json:"version"`
	At       time.Time          `json:"at"`
	Channels []ChannelState     `json:"channels"`
	Vitals   map[string]float64 `json:"vitals,omitempty"`
	Dominant string             `json:"dominant,omitempty"`
}

// Level returns the named channel's level.
func (s Snapshot) Level(name string) (float64, bool) {
	for _, c := range s.Channels {
		if c.Name == name {
			return c.Level, true
		}
	}
	return 0, false
}

// Affect returns each channel's signed normalized displacement.
func (s Snapshot) Affect() map[string]float64 {
	out := make(map[string]float64, len(s.Channels))
	for _, c := range s.Channels {
		out[c.Name] = c.Displacement()
	}
	return out
}
// #endregion snapshot

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

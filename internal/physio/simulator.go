package physio

import (
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Freshair129/agentic-agent/internal/fault"
)

// ratioFloor keeps the vital ratio finite when the opponent channel is at zero.
const ratioFloor = 1e-6

// channel tracks one level. Stimulus applied since the last tick boundary is
// summed in pending and saturated as a whole against the anchor, so the order
// of applications within a tick does not change the result.
type channel struct {
	cfg     ChannelConfig
	anchor  float64
	pending float64
	level   float64
}

func (c *channel) settle() {
	c.level = clamp(c.anchor+saturate(c.pending, c.anchor, c.cfg.Floor, c.cfg.Ceiling), c.cfg.Floor, c.cfg.Ceiling)
}

func (c *channel) state() ChannelState {
	st := ChannelState{Name: c.cfg.Name, Level: c.level, Basal: c.cfg.Basal, Floor: c.cfg.Floor, Ceiling: c.cfg.Ceiling}
	if c.pending != 0 {
		st.Anchor, st.Pending = c.anchor, c.pending
	}
	return st
}

// Simulator is the pure state-vector model. It is not safe for concurrent
// use; Engine serializes access to it.
type Simulator struct {
	cfg      Config
	channels []channel
	index    map[string]int
	primary  int
	opponent int
	coupled  bool
	consumed *lru.Cache[string, struct{}]
	lastTick time.Time
	version  uint64
}

// NewSimulator validates cfg and returns a simulator resting at basal.
func NewSimulator(cfg Config, start time.Time) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	consumed, err := lru.New[string, struct{}](cfg.ConsumedWindow)
	if err != nil {
		return nil, fault.Configuration("physio.new", err)
	}
	s := &Simulator{
		cfg:      cfg,
		channels: make([]channel, len(cfg.Channels)),
		index:    make(map[string]int, len(cfg.Channels)),
		consumed: consumed,
		lastTick: start,
	}
	for i, c := range cfg.Channels {
		s.channels[i] = channel{cfg: c, anchor: c.Basal, level: c.Basal}
		s.index[c.Name] = i
	}
	if a := cfg.Antagonist; a != nil {
		s.primary, s.opponent, s.coupled = s.index[a.Primary], s.index[a.Opponent], true
	}
	return s, nil
}

// LastTick is the simulation time of the last tick boundary.
func (s *Simulator) LastTick() time.Time { return s.lastTick }

// Apply adds a stimulus. The change is visible immediately. An event whose id
// was already consumed, or that names an unknown channel, is rejected without
// touching any level.
func (s *Simulator) Apply(ev StimulusEvent) (Delta, error) {
	const op = "physio.apply"
	if ev.ID == "" {
		return nil, fault.Validation(op, "stimulus has no id")
	}
	if s.consumed.Contains(ev.ID) {
		return nil, fault.Validation(op, "stimulus %s already consumed", ev.ID)
	}
	weight := ev.Salience
	if weight == 0 {
		weight = 1
	}
	if weight < 0 || !finite(weight) {
		return nil, fault.Validation(op, "stimulus %s: salience %g out of range", ev.ID, ev.Salience)
	}
	for name := range ev.Deltas {
		if _, ok := s.index[name]; !ok {
			return nil, fault.Validation(op, "stimulus %s: unknown channel %q", ev.ID, name)
		}
	}

	delta := make(Delta, len(ev.Deltas))
	for name, d := range ev.Deltas {
		ch := &s.channels[s.index[name]]
		before := ch.level
		ch.pending = sanitize(ch.pending + sanitize(d)*weight)
		ch.settle()
		delta[name] = ch.level - before
	}
	s.consumed.Add(ev.ID, struct{}{})
	s.version++
	return delta, nil
}

// Tick decays every channel toward basal over elapsed and closes the current
// accumulation window. Each channel loses half its displacement per
// effective half-life; the antagonist pair shortens the subordinate's.
// A zero elapsed leaves the window open, so stimuli at one instant still
// commute.
func (s *Simulator) Tick(elapsed time.Duration) Snapshot {
	if elapsed <= 0 {
		return s.Snapshot()
	}
	secs := elapsed.Seconds()
	halfLives := s.effectiveHalfLives()
	for i := range s.channels {
		ch := &s.channels[i]
		k := math.Exp(-secs * math.Ln2 / halfLives[i])
		ch.level = clamp(ch.cfg.Basal+(ch.level-ch.cfg.Basal)*k, ch.cfg.Floor, ch.cfg.Ceiling)
	}
	s.lastTick = s.lastTick.Add(elapsed)
	for i := range s.channels {
		s.channels[i].anchor = s.channels[i].level
		s.channels[i].pending = 0
	}
	s.version++
	return s.Snapshot()
}

// Snapshot returns a fresh copy of the current state.
func (s *Simulator) Snapshot() Snapshot {
	snap := Snapshot{
		Version:  s.version,
		At:       s.lastTick,
		Channels: make([]ChannelState, len(s.channels)),
	}
	for i := range s.channels {
		snap.Channels[i] = s.channels[i].state()
	}
	if s.coupled {
		if d, _ := s.dominance(); d >= 0 {
			snap.Dominant = s.channels[d].cfg.Name
		}
		if len(s.cfg.Vitals) > 0 {
			ratio := s.channels[s.primary].level / math.Max(s.channels[s.opponent].level, ratioFloor)
			snap.Vitals = make(map[string]float64, len(s.cfg.Vitals))
			for _, v := range s.cfg.Vitals {
				snap.Vitals[v.Name] = clamp(v.Intercept+v.Slope*ratio, v.Min, v.Max)
			}
		}
	}
	return snap
}

// Restore overwrites levels from a snapshot, for replay. Unknown channels are
// ignored; missing ones keep their level.
func (s *Simulator) Restore(snap Snapshot) {
	for _, c := range snap.Channels {
		i, ok := s.index[c.Name]
		if !ok {
			continue
		}
		ch := &s.channels[i]
		ch.level = clamp(sanitize(c.Level), ch.cfg.Floor, ch.cfg.Ceiling)
		ch.anchor, ch.pending = ch.level, 0
		if c.Pending != 0 {
			ch.anchor = clamp(sanitize(c.Anchor), ch.cfg.Floor, ch.cfg.Ceiling)
			ch.pending = sanitize(c.Pending)
			ch.settle()
		}
	}
	if !snap.At.IsZero() {
		s.lastTick = snap.At
	}
	s.version = snap.Version
}

// dominance returns the index of the antagonist channel with the larger
// normalized displacement and that displacement, or -1 on a tie.
func (s *Simulator) dominance() (int, float64) {
	p := math.Abs(s.channels[s.primary].state().Displacement())
	o := math.Abs(s.channels[s.opponent].state().Displacement())
	switch {
	case p > o:
		return s.primary, p
	case o > p:
		return s.opponent, o
	}
	return -1, 0
}

func (s *Simulator) effectiveHalfLives() []float64 {
	out := make([]float64, len(s.channels))
	for i := range s.channels {
		out[i] = s.channels[i].cfg.HalfLife.Seconds()
	}
	if !s.coupled {
		return out
	}
	dom, mag := s.dominance()
	if dom < 0 {
		return out
	}
	sub := s.opponent
	if dom == s.opponent {
		sub = s.primary
	}
	out[sub] /= 1 + s.cfg.Antagonist.Coupling*mag
	return out
}

// saturate maps an accumulated stimulus sum onto the headroom left between
// from and the bound on that side. The result approaches but never crosses
// the bound.
func saturate(sum, from, floor, ceiling float64) float64 {
	switch {
	case sum > 0:
		room := ceiling - from
		if room <= 0 {
			return 0
		}
		return -room * math.Expm1(-sum/room)
	case sum < 0:
		room := from - floor
		if room <= 0 {
			return 0
		}
		return room * math.Expm1(sum/room)
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}

// sanitize replaces NaN with zero and infinities with the largest finite value.
func sanitize(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case math.IsInf(v, 1):
		return math.MaxFloat64
	case math.IsInf(v, -1):
		return -math.MaxFloat64
	}
	return v
}

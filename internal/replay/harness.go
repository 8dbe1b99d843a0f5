package replay

import (
	"fmt"
	"math"

	"github.com/Freshair129/agentic-agent/internal/audit"
	"github.com/Freshair129/agentic-agent/internal/physio"
	"github.com/Freshair129/agentic-agent/internal/resonance"
)

// #region types
// Record is one audited turn to replay.
type Record struct {
	SessionID string           `json:"session_id"`
	TurnID    string           `json:"turn_id"`
	Seq       int64            `json:"seq"`
	Turn      audit.TurnRecord `json:"turn"`
}

// Config holds the simulator and scorer configuration the turns ran under,
// and how far a recomputed value may drift before it counts as a mismatch.
type Config struct {
	Physio    physio.Config    `json:"physio" yaml:"physio"`
	Resonance resonance.Config `json:"resonance" yaml:"resonance"`
	Tolerance float64          `json:"tolerance" yaml:"tolerance"`
}

// DefaultConfig replays against the stock configuration.
func DefaultConfig() Config {
	return Config{
		Physio:    physio.DefaultConfig(),
		Resonance: resonance.DefaultConfig(),
		Tolerance: 1e-9,
	}
}

// Outcome names what replaying a turn found.
type Outcome string

const (
	OutcomeMatch         Outcome = "match"
	OutcomeStateMismatch Outcome = "state_mismatch"
	OutcomeScoreMismatch Outcome = "score_mismatch"
	OutcomeError         Outcome = "error"
)

// Result captures the outcome of replaying one turn.
type Result struct {
	SessionID string          `json:"session_id"`
	TurnID    string          `json:"turn_id"`
	Outcome   Outcome         `json:"outcome"`
	Reason    string          `json:"reason,omitempty"`
	StateDiff float64         `json:"state_diff"`
	RIDiff    float64         `json:"ri_diff"`
	After     physio.Snapshot `json:"after"`
	Score     resonance.Score `json:"score"`
}

// Summary provides aggregate stats from a replay run.
type Summary struct {
	TotalTurns      int `json:"total_turns"`
	Matches         int `json:"matches"`
	StateMismatches int `json:"state_mismatches"`
	ScoreMismatches int `json:"score_mismatches"`
	Errors          int `json:"errors"`
}

// OK reports whether every turn reproduced.
func (s Summary) OK() bool { return s.Matches == s.TotalTurns }

// #endregion types

// #region replay
// Replay recomputes every record from its own pre-state: a fresh simulator
// restored to Before takes the stimulus, and a fresh scorer restored to the
// recorded scorer state scores the result. Turns are independent, so one
// bad record never poisons the rest.
func Replay(records []Record, cfg Config) ([]Result, error) {
	if err := cfg.Physio.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Resonance.Validate(); err != nil {
		return nil, err
	}
	results := make([]Result, 0, len(records))
	for _, rec := range records {
		results = append(results, replayOne(rec, cfg))
	}
	return results, nil
}

func replayOne(rec Record, cfg Config) Result {
	res := Result{SessionID: rec.SessionID, TurnID: rec.TurnID}
	fail := func(err error) Result {
		res.Outcome, res.Reason = OutcomeError, err.Error()
		return res
	}

	sim, err := physio.NewSimulator(cfg.Physio, rec.Turn.Before.At)
	if err != nil {
		return fail(err)
	}
	sim.Restore(rec.Turn.Before)
	if _, err := sim.Apply(rec.Turn.Stimulus); err != nil {
		return fail(fmt.Errorf("apply stimulus: %w", err))
	}
	res.After = sim.Snapshot()

	scorer, err := resonance.NewScorer(cfg.Resonance)
	if err != nil {
		return fail(err)
	}
	scorer.Restore(rec.Turn.ScorerState)
	res.Score = scorer.Score(res.After, rec.Turn.Context)

	var missing string
	res.StateDiff, missing = stateDiff(res.After, rec.Turn.After)
	res.RIDiff = math.Abs(res.Score.RI - rec.Turn.Score.RI)
	switch {
	case missing != "":
		res.Outcome, res.Reason = OutcomeStateMismatch, fmt.Sprintf("channel %q missing from replayed state", missing)
	case res.StateDiff > cfg.Tolerance:
		res.Outcome, res.Reason = OutcomeStateMismatch, fmt.Sprintf("state differs by %g", res.StateDiff)
	case res.RIDiff > cfg.Tolerance:
		res.Outcome, res.Reason = OutcomeScoreMismatch, fmt.Sprintf("ri differs by %g", res.RIDiff)
	case res.Score.Class != rec.Turn.Score.Class:
		res.Outcome, res.Reason = OutcomeScoreMismatch, fmt.Sprintf("class %s, recorded %s", res.Score.Class, rec.Turn.Score.Class)
	default:
		res.Outcome = OutcomeMatch
	}
	return res
}

// stateDiff returns the largest per-channel level difference and the first
// recorded channel the replayed state lacks.
func stateDiff(got, want physio.Snapshot) (float64, string) {
	var worst float64
	for _, ch := range want.Channels {
		lvl, ok := got.Level(ch.Name)
		if !ok {
			return math.Inf(1), ch.Name
		}
		worst = math.Max(worst, math.Abs(lvl-ch.Level))
	}
	return worst, ""
}

// Summarize computes aggregate stats from replay results.
func Summarize(results []Result) Summary {
	s := Summary{TotalTurns: len(results)}
	for _, r := range results {
		switch r.Outcome {
		case OutcomeMatch:
			s.Matches++
		case OutcomeStateMismatch:
			s.StateMismatches++
		case OutcomeScoreMismatch:
			s.ScoreMismatches++
		case OutcomeError:
			s.Errors++
		}
	}
	return s
}

// #endregion replay

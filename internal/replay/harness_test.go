package replay

import (
	"testing"
	"time"

	"github.com/Freshair129/agentic-agent/internal/audit"
	"github.com/Freshair129/agentic-agent/internal/physio"
	"github.com/Freshair129/agentic-agent/internal/resonance"
)

// helper: runs a live simulator and scorer through the given stimuli, one
// per turn with a decay gap before each, and records every turn the way the
// synchronizer audits it.
func liveTurns(t *testing.T, cfg Config, stimuli ...physio.StimulusEvent) []Record {
	t.Helper()
	start := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	sim, err := physio.NewSimulator(cfg.Physio, start)
	if err != nil {
		t.Fatalf("NewSimulator: %v", err)
	}
	scorer, err := resonance.NewScorer(cfg.Resonance)
	if err != nil {
		t.Fatalf("NewScorer: %v", err)
	}
	var out []Record
	for i, ev := range stimuli {
		before := sim.Tick(time.Duration(i+1) * 17 * time.Second)
		if _, err := sim.Apply(ev); err != nil {
			t.Fatalf("Apply %s: %v", ev.ID, err)
		}
		after := sim.Snapshot()
		state := scorer.State()
		ctxSim := 0.1 * float64(i)
		score := scorer.Score(after, ctxSim)
		out = append(out, Record{
			SessionID: "s1",
			TurnID:    ev.TurnID,
			Seq:       int64(i + 1),
			Turn: audit.TurnRecord{
				Stimulus:    ev,
				Before:      before,
				After:       after,
				ScorerState: state,
				Context:     ctxSim,
				Score:       score,
			},
		})
	}
	return out
}

func stimulus(id string, deltas map[string]float64) physio.StimulusEvent {
	return physio.StimulusEvent{ID: id, TurnID: "turn-" + id, Deltas: deltas, Salience: 0.8}
}

func session(t *testing.T) []Record {
	return liveTurns(t, DefaultConfig(),
		stimulus("a", map[string]float64{"sympathetic": 0.4, "cortisol": 25, "adrenaline": 20}),
		stimulus("b", map[string]float64{"cortisol": 30}),
		stimulus("c", map[string]float64{"parasympathetic": 0.3, "oxytocin": 15}),
	)
}

// 1. Faithfully recorded turns reproduce exactly.
func TestReplay_RecordedTurnsMatch(t *testing.T) {
	records := session(t)
	results, err := Replay(records, DefaultConfig())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	for _, r := range results {
		if r.Outcome != OutcomeMatch {
			t.Errorf("%s: expected match, got %s (%s)", r.TurnID, r.Outcome, r.Reason)
		}
		if r.StateDiff != 0 || r.RIDiff != 0 {
			t.Errorf("%s: expected exact reproduction, state diff %g ri diff %g", r.TurnID, r.StateDiff, r.RIDiff)
		}
	}
	if s := Summarize(results); !s.OK() || s.TotalTurns != 3 {
		t.Errorf("expected 3/3 matches, got %+v", s)
	}
}

// 2. A tampered post-state is reported as a state mismatch.
func TestReplay_TamperedStateDetected(t *testing.T) {
	records := session(t)
	records[1].Turn.After.Channels[2].Level += 5

	results, err := Replay(records, DefaultConfig())
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if results[1].Outcome != OutcomeStateMismatch {
		t.Errorf("expected state_mismatch, got %s", results[1].Outcome)
	}
	if results[1].StateDiff < 4.99 {
		t.Errorf("expected a diff of about 5, got %g", results[1].StateDiff)
	}
	if results[0].Outcome != OutcomeMatch || results[2].Outcome != OutcomeMatch {
		t.Error("other turns must be unaffected")
	}
}

// 3. A tampered score is reported as a score mismatch.
func TestReplay_TamperedScoreDetected(t *testing.T) {
	records := session(t)
	records[2].Turn.Score.RI += 0.2

	results, _ := Replay(records, DefaultConfig())
	if results[2].Outcome != OutcomeScoreMismatch {
		t.Errorf("expected score_mismatch, got %s", results[2].Outcome)
	}
	s := Summarize(results)
	if s.ScoreMismatches != 1 || s.OK() {
		t.Errorf("unexpected summary %+v", s)
	}
}

// 4. Replaying under a different configuration drifts.
func TestReplay_ConfigDriftDetected(t *testing.T) {
	records := session(t)
	cfg := DefaultConfig()
	cfg.Physio.Channels[2].Ceiling = 60

	results, err := Replay(records, cfg)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if Summarize(results).StateMismatches == 0 {
		t.Error("expected a lower cortisol ceiling to change the replayed state")
	}
}

// 5. A stimulus the simulator refuses is an error for that turn only.
func TestReplay_UnreplayableTurn(t *testing.T) {
	records := session(t)
	records[0].Turn.Stimulus.Deltas = map[string]float64{"glucose": 3}

	results, _ := Replay(records, DefaultConfig())
	if results[0].Outcome != OutcomeError {
		t.Errorf("expected error, got %s", results[0].Outcome)
	}
	if s := Summarize(results); s.Errors != 1 || s.Matches != 2 {
		t.Errorf("unexpected summary %+v", s)
	}
}

// 6. An invalid configuration stops the run.
func TestReplay_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resonance.LowCutoff = 0.95
	if _, err := Replay(nil, cfg); err == nil {
		t.Error("expected configuration error")
	}
}

package memory

import "fmt"

// #region epistemic
// event drives the epistemic state machine.
type event string

const (
	evCorroborate event = "corroborate"
	evContradict  event = "contradict"
	evReverify    event = "reverify"
	evDeprecate   event = "deprecate"
)

// guardInput is what transition guards may look at. Counters already include
// the event being applied.
type guardInput struct {
	entry         Entry
	policy        DomainPolicy
	openConflicts int
}

type epistemicRule struct {
	from  Epistemic
	on    event
	to    Epistemic
	guard func(guardInput) bool
}

// epistemicTable is scanned in order; the first rule whose guard passes wins.
var epistemicTable = []epistemicRule{
	{StateHypothesis, evCorroborate, StateConfirmed, func(in guardInput) bool {
		return in.entry.Corroborations >= in.policy.CorroborationsToConfirm && in.openConflicts == 0
	}},
	{StateHypothesis, evCorroborate, StateHypothesis, nil},
	{StateConfirmed, evCorroborate, StateConfirmed, nil},
	{StateContested, evCorroborate, StateContested, nil},

	{StateHypothesis, evContradict, StateContested, nil},
	{StateConfirmed, evContradict, StateContested, nil},
	// Entries needing external confirmation stay Contested however often they
	// are contradicted; only an externally confirmed resolution retires them.
	{StateContested, evContradict, StateDeprecated, func(in guardInput) bool {
		return !in.policy.RequireExternal && in.entry.Contestations >= in.policy.ContestationsToDeprecate
	}},
	{StateContested, evContradict, StateContested, nil},

	{StateContested, evReverify, StateConfirmed, nil},

	{StateHypothesis, evDeprecate, StateDeprecated, nil},
	{StateConfirmed, evDeprecate, StateDeprecated, nil},
	{StateContested, evDeprecate, StateDeprecated, nil},
}

// nextEpistemic returns the state reached from in.entry.State on ev.
func nextEpistemic(ev event, in guardInput) (Epistemic, error) {
	for _, r := range epistemicTable {
		if r.from != in.entry.State || r.on != ev {
			continue
		}
		if r.guard == nil || r.guard(in) {
			return r.to, nil
		}
	}
	return "", fmt.Errorf("no %s transition from %s", ev, in.entry.State)
}

// #endregion epistemic

// #region tier
// tierGuard returns an empty string when the transition is allowed, otherwise
// the reason it is not.
type tierGuard func(guardInput) string

type tierEdge struct{ from, to Tier }

// tierTable lists every reachable tier transition. Anything absent, such as
// Sphere to Session or Session to Sphere, is unreachable.
var tierTable = map[tierEdge]tierGuard{
	{TierSession, TierCore}: func(in guardInput) string {
		return promotionGuard(in, in.policy.CoreHits, in.policy.CoreConfidence)
	},
	{TierCore, TierSphere}: func(in guardInput) string {
		return promotionGuard(in, in.policy.SphereHits, in.policy.SphereConfidence)
	},
	{TierSphere, TierCore}: func(in guardInput) string {
		switch {
		case in.openConflicts == 0:
			return "no unresolved conflict"
		case in.entry.Contestations < in.policy.DemoteAfter:
			return fmt.Sprintf("contestations %d < %d", in.entry.Contestations, in.policy.DemoteAfter)
		}
		return ""
	},
}

func promotionGuard(in guardInput, hits int, confidence float64) string {
	e := in.entry
	switch {
	case e.State != StateConfirmed:
		return fmt.Sprintf("state is %s", e.State)
	case e.HitCount < hits:
		return fmt.Sprintf("hits %d < %d", e.HitCount, hits)
	case e.Confidence < confidence:
		return fmt.Sprintf("confidence %.2f < %.2f", e.Confidence, confidence)
	case in.openConflicts > 0:
		return fmt.Sprintf("%d unresolved conflicts", in.openConflicts)
	case in.policy.RequireExternal && !e.ExternallyConfirmed:
		return "external confirmation required"
	}
	return ""
}

// TierReachable reports whether a direct transition from one tier to
// another exists at all.
func TierReachable(from, to Tier) bool {
	_, ok := tierTable[tierEdge{from, to}]
	return ok
}

// tierTransition checks the guard for moving in.entry to the given tier.
func tierTransition(to Tier, in guardInput) error {
	guard, ok := tierTable[tierEdge{in.entry.Tier, to}]
	if !ok {
		return fmt.Errorf("no transition from %s to %s", in.entry.Tier, to)
	}
	if reason := guard(in); reason != "" {
		return fmt.Errorf("%s to %s blocked: %s", in.entry.Tier, to, reason)
	}
	return nil
}

// #endregion tier

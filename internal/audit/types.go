package audit

import (
	"encoding/json"
	"time"

	"github.com/Freshair129/agentic-agent/internal/physio"
	"github.com/Freshair129/agentic-agent/internal/resonance"
)

// #region kinds
// Kind classifies an audit event.
type Kind string

const (
	KindStimulus Kind = "stimulus"
	KindScore    Kind = "score"
	KindDecision Kind = "decision"
	KindTurn     Kind = "turn"
	KindDistill  Kind = "distill"
)

// #endregion kinds

// #region event
// Event is one row of the append-only audit stream.
type Event struct {
	Seq       int64           `json:"seq"`
	Kind      Kind            `json:"kind"`
	SessionID string          `json:"session_id,omitempty"`
	TurnID    string          `json:"turn_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewEvent marshals payload into an event. A payload that cannot be encoded
// is recorded as its error string so the event is never lost.
func NewEvent(kind Kind, sessionID, turnID string, payload any) Event {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw, _ = json.Marshal(map[string]string{"encode_error": err.Error()})
	}
	return Event{Kind: kind, SessionID: sessionID, TurnID: turnID, Payload: raw, CreatedAt: time.Now().UTC()}
}

// Emitter accepts audit events. Implementations must not block the caller.
type Emitter interface {
	Emit(Event)
}

// Discard drops every event.
type Discard struct{}

func (Discard) Emit(Event) {}

// #endregion event

// #region turn-record
// TurnRecord captures every input of one turn's simulation and scoring step.
// Replaying it against the same configuration must reproduce After and Score.
type TurnRecord struct {
	Stimulus    physio.StimulusEvent `json:"stimulus"`
	Before      physio.Snapshot      `json:"before"`
	After       physio.Snapshot      `json:"after"`
	ScorerState resonance.State      `json:"scorer_state"`
	Context     float64              `json:"context_similarity"`
	Score       resonance.Score      `json:"score"`
	Degraded    bool                 `json:"degraded"`
	Warnings    []string             `json:"warnings,omitempty"`
}

// #endregion turn-record

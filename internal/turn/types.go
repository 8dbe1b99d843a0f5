package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Freshair129/agentic-agent/internal/audit"
	"github.com/Freshair129/agentic-agent/internal/fault"
	"github.com/Freshair129/agentic-agent/internal/memory"
	"github.com/Freshair129/agentic-agent/internal/physio"
	"github.com/Freshair129/agentic-agent/internal/resonance"
	"github.com/Freshair129/agentic-agent/internal/retrieval"
	"github.com/Freshair129/agentic-agent/internal/signals"
)

// #region phase
// Phase is where a session's turn stands.
type Phase string

const (
	PhaseIdle           Phase = "idle"
	PhasePerceiving     Phase = "perceiving"
	PhaseSimulating     Phase = "simulating"
	PhaseRetrieving     Phase = "retrieving"
	PhaseAwaitingCommit Phase = "awaiting_commit"
	PhaseCommitting     Phase = "committing"
)

// #endregion phase

// #region deps
// Perceiver turns a perception payload into a stimulus.
type Perceiver interface {
	Produce(ctx context.Context, in signals.Perception) (signals.Signals, error)
}

// StateEngine is the single writer of the state vector.
type StateEngine interface {
	Apply(ctx context.Context, ev physio.StimulusEvent) (physio.ApplyResult, error)
	Advance(ctx context.Context) (physio.Snapshot, error)
	Latest() physio.Snapshot
}

// Recaller ranks memory against the current state.
type Recaller interface {
	Retrieve(ctx context.Context, q retrieval.Query, cue retrieval.Cue) retrieval.Result
}

// Committer applies memory proposals.
type Committer interface {
	Submit(ctx context.Context, p memory.Proposal) (memory.Decision, error)
}

// Deps wires the Synchronizer. Audit and Logger may be nil.
type Deps struct {
	Perceiver Perceiver
	Engine    StateEngine
	Recaller  Recaller
	Committer Committer
	Scoring   resonance.Config
	Audit     audit.Emitter
	Logger    *slog.Logger
}

// #endregion deps

// #region config
// Config bounds the pause and the per-session state kept between turns.
type Config struct {
	SyncTimeout time.Duration `yaml:"sync_timeout"`
	MaxSessions int           `yaml:"max_sessions" validate:"gte=1"`
	RecordHits  bool          `yaml:"record_hits"`
}

// DefaultConfig allows a two second pause.
func DefaultConfig() Config {
	return Config{SyncTimeout: 2 * time.Second, MaxSessions: 1024, RecordHits: true}
}

// Validate rejects a non-positive timeout or session bound.
func (c Config) Validate() error {
	var errs []error
	if c.SyncTimeout <= 0 {
		errs = append(errs, fmt.Errorf("sync_timeout %s must be > 0", c.SyncTimeout))
	}
	if c.MaxSessions < 1 {
		errs = append(errs, fmt.Errorf("max_sessions %d must be >= 1", c.MaxSessions))
	}
	if len(errs) > 0 {
		return fault.Configuration("turn.config", errors.Join(errs...))
	}
	return nil
}

// #endregion config

// #region messages
// SyncRequest opens a turn.
type SyncRequest struct {
	SessionID  string             `json:"session_id"`
	Perception signals.Perception `json:"perception"`
	Query      retrieval.Query    `json:"query"`
}

// Warning records a step that completed only partially.
type Warning struct {
	Stage  Phase  `json:"stage"`
	Reason string `json:"reason"`
}

func (w Warning) String() string { return string(w.Stage) + ": " + w.Reason }

// SyncResult is what the paused reasoning session resumes with.
type SyncResult struct {
	SessionID string            `json:"session_id"`
	TurnID    string            `json:"turn_id"`
	Snapshot  physio.Snapshot   `json:"snapshot"`
	Score     resonance.Score   `json:"score"`
	Matches   []retrieval.Match `json:"matches"`
	Degraded  bool              `json:"degraded"`
	Warnings  []Warning         `json:"warnings,omitempty"`
}

// CommitResult answers a proposal. Rejection carries the fault kind when
// the Governor refused it.
type CommitResult struct {
	Accepted  bool            `json:"accepted"`
	Reason    string          `json:"reason,omitempty"`
	Rejection fault.Kind      `json:"rejection,omitempty"`
	Decision  memory.Decision `json:"decision"`
}

// #endregion messages

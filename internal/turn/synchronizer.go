package turn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Freshair129/agentic-agent/internal/audit"
	"github.com/Freshair129/agentic-agent/internal/fault"
	"github.com/Freshair129/agentic-agent/internal/memory"
	"github.com/Freshair129/agentic-agent/internal/metrics"
	"github.com/Freshair129/agentic-agent/internal/physio"
	"github.com/Freshair129/agentic-agent/internal/resonance"
	"github.com/Freshair129/agentic-agent/internal/retrieval"
)

// #region synchronizer
// Synchronizer runs the pause inside a reasoning session: perceive,
// simulate, score and recall, then wait for the session's proposal. Turns of
// one session are serialized; different sessions run independently and
// share the state vector through the engine.
type Synchronizer struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	audit  audit.Emitter

	mu       sync.Mutex
	sessions *lru.Cache[string, *session]
}

// session is one reasoning session's turn state. sem admits one turn step
// at a time.
type session struct {
	id     string
	sem    chan struct{}
	scorer *resonance.Scorer

	mu    sync.Mutex
	phase Phase
	turn  string
}

// New validates cfg and the scoring config.
func New(deps Deps, cfg Config) (*Synchronizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := deps.Scoring.Validate(); err != nil {
		return nil, err
	}
	if deps.Perceiver == nil || deps.Engine == nil || deps.Recaller == nil || deps.Committer == nil {
		return nil, fault.Configuration("turn.new", errors.New("perceiver, engine, recaller and committer are required"))
	}
	sessions, err := lru.New[string, *session](cfg.MaxSessions)
	if err != nil {
		return nil, fault.Configuration("turn.new", err)
	}
	s := &Synchronizer{deps: deps, cfg: cfg, logger: deps.Logger, audit: deps.Audit, sessions: sessions}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.audit == nil {
		s.audit = audit.Discard{}
	}
	return s, nil
}

func (s *Synchronizer) session(id string) (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions.Get(id); ok {
		return sess, nil
	}
	scorer, err := resonance.NewScorer(s.deps.Scoring)
	if err != nil {
		return nil, err
	}
	sess := &session{id: id, sem: make(chan struct{}, 1), scorer: scorer, phase: PhaseIdle}
	s.sessions.Add(id, sess)
	return sess, nil
}

func (sess *session) acquire(ctx context.Context) error {
	select {
	case sess.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (sess *session) release() { <-sess.sem }

func (sess *session) set(p Phase) {
	sess.mu.Lock()
	sess.phase = p
	sess.mu.Unlock()
}

func (sess *session) get() (Phase, string) {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.phase, sess.turn
}

// #endregion synchronizer

// #region state-sync
// RequestStateSync runs one pause. A step that cannot complete is recorded
// as a warning and the turn continues with what it has. Only a missing
// session id or a caller whose context ends before the turn starts gets an
// error. A turn still awaiting a commit is closed first.
func (s *Synchronizer) RequestStateSync(ctx context.Context, req SyncRequest) (SyncResult, error) {
	if req.SessionID == "" {
		return SyncResult{}, fault.Validation("turn.sync", "session id is required")
	}
	sess, err := s.session(req.SessionID)
	if err != nil {
		return SyncResult{}, err
	}
	if err := sess.acquire(ctx); err != nil {
		return SyncResult{}, err
	}
	defer sess.release()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.SyncTimeout)
	defer cancel()

	turnID := req.Perception.TurnID
	if turnID == "" {
		turnID = uuid.New().String()
	}
	sess.mu.Lock()
	if sess.phase == PhaseAwaitingCommit {
		s.logger.Info("previous turn closed without commit", "session_id", sess.id, "turn_id", sess.turn)
	}
	sess.turn = turnID
	sess.mu.Unlock()

	res := SyncResult{SessionID: req.SessionID, TurnID: turnID}
	warn := func(stage Phase, err error) {
		res.Warnings = append(res.Warnings, Warning{Stage: stage, Reason: err.Error()})
		s.logger.Warn("turn step degraded", "session_id", sess.id, "turn_id", turnID, "stage", stage, "err", err)
	}
	log := s.logger.With("session_id", sess.id, "turn_id", turnID)

	// Perceiving
	sess.set(PhasePerceiving)
	perception := req.Perception
	perception.SessionID, perception.TurnID = req.SessionID, turnID
	sig, err := s.deps.Perceiver.Produce(ctx, perception)
	haveStimulus := err == nil
	if err != nil {
		warn(PhasePerceiving, err)
	} else if sig.Degraded {
		warn(PhasePerceiving, errors.New("embedder unavailable, context similarity from token overlap"))
	}

	// Simulating
	sess.set(PhaseSimulating)
	var before, after physio.Snapshot
	if haveStimulus {
		s.audit.Emit(audit.NewEvent(audit.KindStimulus, sess.id, turnID, sig.Stimulus))
		applied, err := s.deps.Engine.Apply(ctx, sig.Stimulus)
		if err != nil {
			warn(PhaseSimulating, fmt.Errorf("stimulus not applied: %w", err))
			haveStimulus = false
			after = s.currentState(ctx, warn)
		} else {
			before, after = applied.Before, applied.After
		}
	} else {
		after = s.currentState(ctx, warn)
	}
	scorerState := sess.scorer.State()
	score := sess.scorer.Score(after, sig.ContextSimilarity)
	metrics.ResonanceIndex.WithLabelValues(sess.id).Set(score.RI)
	s.audit.Emit(audit.NewEvent(audit.KindScore, sess.id, turnID, score))
	res.Snapshot, res.Score = after, score

	// Retrieving
	sess.set(PhaseRetrieving)
	q := req.Query
	if q.Text == "" {
		q.Text = perception.Text
	}
	recall := s.deps.Recaller.Retrieve(ctx, q, retrieval.Cue{Snapshot: after, Score: score})
	if recall.Degraded {
		warn(PhaseRetrieving, fmt.Errorf("recall degraded, failed streams: %s", joinStreams(recall.Failed)))
	}
	res.Matches = recall.Matches
	s.recordHits(ctx, recall, warn)

	res.Degraded = len(res.Warnings) > 0
	outcome := "ok"
	if res.Degraded {
		outcome = "degraded"
	}
	metrics.Turns.WithLabelValues(outcome).Inc()

	if haveStimulus {
		rec := audit.TurnRecord{
			Stimulus:    sig.Stimulus,
			Before:      before,
			After:       after,
			ScorerState: scorerState,
			Context:     sig.ContextSimilarity,
			Score:       score,
			Degraded:    res.Degraded,
		}
		for _, w := range res.Warnings {
			rec.Warnings = append(rec.Warnings, w.String())
		}
		s.audit.Emit(audit.NewEvent(audit.KindTurn, sess.id, turnID, rec))
	}

	sess.set(PhaseAwaitingCommit)
	log.Info("state synced", "ri", score.RI, "class", score.Class, "matches", len(res.Matches), "degraded", res.Degraded)
	return res, nil
}

// currentState decays to now, falling back to the last published snapshot.
func (s *Synchronizer) currentState(ctx context.Context, warn func(Phase, error)) physio.Snapshot {
	snap, err := s.deps.Engine.Advance(ctx)
	if err != nil {
		warn(PhaseSimulating, fmt.Errorf("using last published state: %w", err))
		return s.deps.Engine.Latest()
	}
	return snap
}

// recordHits counts decision-grade matches as retrieval hits.
func (s *Synchronizer) recordHits(ctx context.Context, recall retrieval.Result, warn func(Phase, error)) {
	if !s.cfg.RecordHits {
		return
	}
	var ids []string
	for _, m := range recall.DecisionGrade() {
		ids = append(ids, m.Entry.ID)
	}
	if len(ids) == 0 {
		return
	}
	if _, err := s.deps.Committer.Submit(ctx, memory.Hits{EntryIDs: ids}); err != nil {
		warn(PhaseRetrieving, fmt.Errorf("hits not recorded: %w", err))
	}
}

func joinStreams(names []retrieval.StreamName) string {
	if len(names) == 0 {
		return "none"
	}
	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = string(n)
	}
	return strings.Join(parts, ",")
}

// #endregion state-sync

// #region commit
// ProposeMemoryCommit hands the session's proposal to the Governor and
// closes the turn. A Governor rejection is a normal answer with Accepted
// false; the error return is reserved for calls that never reached it.
func (s *Synchronizer) ProposeMemoryCommit(ctx context.Context, sessionID string, p memory.Proposal) (CommitResult, error) {
	const op = "turn.commit"
	if sessionID == "" {
		return CommitResult{}, fault.Validation(op, "session id is required")
	}
	sess, err := s.session(sessionID)
	if err != nil {
		return CommitResult{}, err
	}
	if err := sess.acquire(ctx); err != nil {
		return CommitResult{}, err
	}
	defer sess.release()

	phase, turnID := sess.get()
	if phase != PhaseAwaitingCommit {
		return CommitResult{}, fault.Validation(op, "session %s has no turn awaiting a commit (phase %s)", sessionID, phase)
	}
	sess.set(PhaseCommitting)
	defer sess.set(PhaseIdle)

	d, err := s.deps.Committer.Submit(ctx, p)
	switch kind := fault.KindOf(err); {
	case err == nil:
		s.logger.Info("memory commit accepted", "session_id", sessionID, "turn_id", turnID, "kind", d.Kind, "entry_id", d.EntryID, "conflicts", len(d.Conflicts))
		return CommitResult{Accepted: true, Decision: d}, nil
	case kind == fault.KindValidation || kind == fault.KindTransactionAbort:
		s.logger.Info("memory commit rejected", "session_id", sessionID, "turn_id", turnID, "err", err)
		return CommitResult{Reason: err.Error(), Rejection: kind, Decision: d}, nil
	default:
		return CommitResult{}, fmt.Errorf("%s: %w", op, err)
	}
}

// EndTurn closes the session's turn without a commit.
func (s *Synchronizer) EndTurn(sessionID string) {
	s.mu.Lock()
	sess, ok := s.sessions.Get(sessionID)
	s.mu.Unlock()
	if ok {
		sess.set(PhaseIdle)
	}
}

// Phase reports where the session's turn stands. Unknown sessions are idle.
func (s *Synchronizer) Phase(sessionID string) Phase {
	s.mu.Lock()
	sess, ok := s.sessions.Get(sessionID)
	s.mu.Unlock()
	if !ok {
		return PhaseIdle
	}
	p, _ := sess.get()
	return p
}

// #endregion commit

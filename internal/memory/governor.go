package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/Freshair129/agentic-agent/internal/audit"
	"github.com/Freshair129/agentic-agent/internal/fault"
	"github.com/Freshair129/agentic-agent/internal/graph"
	"github.com/Freshair129/agentic-agent/internal/metrics"
)

// ErrClosed is returned by calls made after Close.
var ErrClosed = errors.New("memory: governor closed")

// #region governor
// Governor is the only writer of governed memory. Every change, including
// distillation, is a Proposal applied by one goroutine inside one SQL
// transaction: either all of it lands or none of it does.
type Governor struct {
	store  *Store
	graph  *graph.Graph
	cfg    Config
	now    func() time.Time
	logger *slog.Logger
	audit  audit.Emitter

	reqs chan request
	stop chan struct{}
	done chan struct{}
}

type request struct {
	ctx   context.Context
	p     Proposal
	reply chan response
}

type response struct {
	d   Decision
	err error
}

// Option customizes a Governor.
type Option func(*Governor)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(g *Governor) { g.now = now } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(g *Governor) { g.logger = l } }

// WithAudit sets the audit emitter.
func WithAudit(e audit.Emitter) Option { return func(g *Governor) { g.audit = e } }

// NewGovernor validates cfg and starts the writer. g may be nil, in which
// case concept edges are not maintained.
func NewGovernor(s *Store, g *graph.Graph, cfg Config, opts ...Option) (*Governor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	gov := &Governor{
		store:  s,
		graph:  g,
		cfg:    cfg,
		now:    func() time.Time { return time.Now().UTC() },
		logger: slog.Default(),
		audit:  audit.Discard{},
		reqs:   make(chan request, cfg.QueueSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(gov)
	}
	go gov.run()
	return gov, nil
}

// Close stops the writer. Queued proposals that were not yet applied are
// answered with ErrClosed.
func (g *Governor) Close() {
	select {
	case <-g.stop:
	default:
		close(g.stop)
	}
	<-g.done
}

// Store exposes the read side.
func (g *Governor) Store() *Store { return g.store }

// Config returns the active configuration.
func (g *Governor) Config() Config { return g.cfg }

// #endregion governor

// #region submit
// Submit validates p and applies it. Validation failures and policy
// violations return fault.ErrValidation; a lost race or failed write returns
// fault.ErrTransactionAbort. In both cases nothing was written.
func (g *Governor) Submit(ctx context.Context, p Proposal) (Decision, error) {
	if p == nil {
		return Decision{}, fault.Validation("memory.submit", "nil proposal")
	}
	if err := check(p); err != nil {
		g.reject(p, err)
		return Decision{Kind: p.Kind(), Reason: err.Error()}, err
	}
	return g.enqueue(ctx, p)
}

// Commit writes entry directly into tier. It is the persistence boundary used
// for seeding; the entry gets a fresh id and runs conflict detection like
// any observation.
func (g *Governor) Commit(ctx context.Context, tier Tier, entry Entry) (Decision, error) {
	return g.Submit(ctx, seed{Tier: tier, Entry: entry})
}

// QueryByDomain lists current entries in domain.
func (g *Governor) QueryByDomain(ctx context.Context, domain Domain, f Filter) ([]Entry, error) {
	if !domain.Valid() {
		return nil, fault.Validation("memory.query", "unknown domain %q", domain)
	}
	f.Domain = domain
	return g.store.Entries(ctx, f)
}

func (g *Governor) enqueue(ctx context.Context, p Proposal) (Decision, error) {
	req := request{ctx: ctx, p: p, reply: make(chan response, 1)}
	select {
	case g.reqs <- req:
	case <-ctx.Done():
		return Decision{Kind: p.Kind()}, ctx.Err()
	case <-g.stop:
		return Decision{Kind: p.Kind()}, ErrClosed
	}
	select {
	case resp := <-req.reply:
		return resp.d, resp.err
	case <-ctx.Done():
		// The writer still answers into the buffered reply; if it had not
		// started the proposal, it discards it on seeing ctx.
		return Decision{Kind: p.Kind()}, ctx.Err()
	}
}

func (g *Governor) run() {
	defer close(g.done)
	for {
		select {
		case <-g.stop:
			for {
				select {
				case req := <-g.reqs:
					req.reply <- response{d: Decision{Kind: req.p.Kind()}, err: ErrClosed}
				default:
					return
				}
			}
		case req := <-g.reqs:
			if err := req.ctx.Err(); err != nil {
				req.reply <- response{d: Decision{Kind: req.p.Kind(), Reason: "discarded"}, err: err}
				continue
			}
			d, err := g.apply(req.p)
			req.reply <- response{d: d, err: err}
		}
	}
}

// #endregion submit

// #region apply
// txn carries one proposal's transaction.
type txn struct {
	tx  *sql.Tx
	now time.Time
}

func (g *Governor) apply(p Proposal) (Decision, error) {
	tx, err := g.store.db.Begin()
	if err != nil {
		return g.fail(p, fault.Abort("memory.apply", fmt.Errorf("begin tx: %w", err)))
	}
	defer tx.Rollback()

	t := &txn{tx: tx, now: g.now()}
	var d Decision
	switch p := p.(type) {
	case Observation:
		d, err = g.applyObservation(t, p)
	case Corroboration:
		d, err = g.applyCorroboration(t, p)
	case Contradiction:
		d, err = g.applyContradiction(t, p)
	case Reverification:
		d, err = g.applyReverification(t, p)
	case ExternalConfirmation:
		d, err = g.applyExternalConfirmation(t, p)
	case Revision:
		d, err = g.applyRevision(t, p)
	case ConflictResolution:
		d, err = g.applyResolution(t, p)
	case Hits:
		d, err = g.applyHits(t, p)
	case seed:
		d, err = g.applySeed(t, p)
	case promote:
		d, err = g.applyPromote(t, p)
	case demote:
		d, err = g.applyDemote(t, p)
	case graphDecay:
		d, err = g.applyGraphDecay(t)
	default:
		err = fault.Validation("memory.apply", "unsupported proposal %T", p)
	}
	if err != nil {
		return g.fail(p, err)
	}
	if err := tx.Commit(); err != nil {
		return g.fail(p, fault.Abort("memory.apply", fmt.Errorf("commit: %w", err)))
	}

	d.Accepted = true
	d.Kind = p.Kind()
	metrics.Proposals.WithLabelValues(string(p.Kind()), "accepted").Inc()
	for _, c := range d.Conflicts {
		metrics.ConflictsOpened.WithLabelValues(string(c.Domain)).Inc()
	}
	g.logger.Debug("proposal applied", "kind", p.Kind(), "entry_id", d.EntryID, "conflicts", len(d.Conflicts))
	g.audit.Emit(audit.NewEvent(audit.KindDecision, "", "", decisionRecord{Proposal: p, Decision: d}))
	return d, nil
}

// decisionRecord is the audit payload of a governor decision.
type decisionRecord struct {
	Proposal any      `json:"proposal"`
	Decision Decision `json:"decision"`
	Error    string   `json:"error,omitempty"`
}

// fail classifies err and reports it. Errors without a fault kind become
// transaction aborts.
func (g *Governor) fail(p Proposal, err error) (Decision, error) {
	if fault.KindOf(err) == "" {
		err = fault.Abort("memory.apply", err)
	}
	g.reject(p, err)
	return Decision{Kind: p.Kind(), Reason: err.Error()}, err
}

func (g *Governor) reject(p Proposal, err error) {
	metrics.Proposals.WithLabelValues(string(p.Kind()), string(fault.KindOf(err))).Inc()
	g.logger.Info("proposal rejected", "kind", p.Kind(), "err", err)
	g.audit.Emit(audit.NewEvent(audit.KindDecision, "", "", decisionRecord{
		Proposal: p,
		Decision: Decision{Kind: p.Kind(), Reason: err.Error()},
		Error:    string(fault.KindOf(err)),
	}))
}

// #endregion apply

// #region targets
// target loads the head entry for a proposal. A missing entry is a
// validation error; a superseded one or a revision mismatch means another
// proposal won the race.
func (g *Governor) target(t *txn, id string, expected int64) (Entry, error) {
	const op = "memory.target"
	e, err := getEntry(t.tx, id)
	if errors.Is(err, ErrNotFound) {
		return Entry{}, fault.Validation(op, "entry %s not found", id)
	}
	if err != nil {
		return Entry{}, err
	}
	next, err := successorOf(t.tx, id)
	if err != nil {
		return Entry{}, err
	}
	if next != "" {
		return Entry{}, fault.Abort(op, fmt.Errorf("entry %s was superseded by %s", id, next))
	}
	if expected > 0 && e.Revision != expected {
		return Entry{}, fault.Abort(op, fmt.Errorf("entry %s is at revision %d, proposal expected %d", id, e.Revision, expected))
	}
	return e, nil
}

func (g *Governor) policy(d Domain) DomainPolicy { return g.cfg.Policies[d] }

func (g *Governor) guardInput(t *txn, e Entry) (guardInput, error) {
	open, err := openConflictCount(t.tx, e.Root)
	if err != nil {
		return guardInput{}, err
	}
	return guardInput{entry: e, policy: g.policy(e.Domain), openConflicts: open}, nil
}

// write persists after as the successor of before. Session entries change in
// place; promoted entries get a new version linked to the old one.
func (g *Governor) write(t *txn, before, after Entry, reason string) (Entry, error) {
	after.Revision = before.Revision + 1
	after.UpdatedAt = t.now
	if before.Tier.Mutable() {
		return after, updateEntry(t.tx, after)
	}
	after.ID = uuid.New().String()
	after.Root = before.Root
	after.Version = before.Version + 1
	after.Supersedes = before.ID
	after.CreatedAt = t.now
	if err := insertEntry(t.tx, after); err != nil {
		return Entry{}, err
	}
	if err := linkVersions(t.tx, before.ID, after.ID, reason, t.now); err != nil {
		return Entry{}, err
	}
	return after, nil
}

func (g *Governor) transition(t *txn, e Entry, ev event) (Epistemic, error) {
	in, err := g.guardInput(t, e)
	if err != nil {
		return "", err
	}
	next, err := nextEpistemic(ev, in)
	if err != nil {
		return "", fault.Validation("memory.transition", "entry %s: %v", e.ID, err)
	}
	return next, nil
}

// #endregion targets

// #region observation
func (g *Governor) applyObservation(t *txn, p Observation) (Decision, error) {
	id := uuid.New().String()
	e := Entry{
		ID: id, Root: id, Version: 1, Revision: 1,
		Domain: p.Domain, State: StateHypothesis, Tier: TierSession, Confidence: p.Confidence,
		Content: p.Content, Subject: p.Subject, Polarity: p.Polarity, Tags: p.Tags,
		Thread: p.Thread, Sequence: p.Sequence, Salience: p.Salience,
		AffectTrace: p.AffectTrace, Texture: p.Texture, Evidence: p.Evidence,
		CreatedAt: t.now, UpdatedAt: t.now,
	}
	return g.insertNew(t, e, p.Contradicts)
}

func (g *Governor) applySeed(t *txn, p seed) (Decision, error) {
	e := p.Entry
	id := uuid.New().String()
	e.ID, e.Root, e.Version, e.Revision, e.Supersedes = id, id, 1, 1, ""
	e.Tier = p.Tier
	e.CreatedAt, e.UpdatedAt = t.now, t.now
	e.HitCount, e.LastHitAt = 0, time.Time{}
	if e.State == "" {
		e.State = StateHypothesis
		if !p.Tier.Mutable() {
			e.State = StateConfirmed
		}
	}
	if !p.Tier.Mutable() && g.policy(e.Domain).RequireExternal && !e.ExternallyConfirmed {
		return Decision{}, fault.Validation("memory.commit", "%s entries need external confirmation before entering %s", e.Domain, p.Tier)
	}
	return g.insertNew(t, e, nil)
}

// insertNew runs conflict detection for e against current entries in its
// domain, then inserts e. A conflict lowers the existing entry's confidence,
// records a ConflictRecord and leaves e Contested.
func (g *Governor) insertNew(t *txn, e Entry, explicit []string) (Decision, error) {
	candidates, err := queryEntries(t.tx, Filter{
		Domain: e.Domain,
		States: []Epistemic{StateHypothesis, StateConfirmed, StateContested},
	})
	if err != nil {
		return Decision{}, err
	}

	var conflicts []ConflictRecord
	for _, existing := range candidates {
		reason := conflictReason(existing, e, explicit, g.cfg.MinOverlap)
		if reason == "" {
			continue
		}
		rec, err := g.contradict(t, existing, e, reason)
		if err != nil {
			return Decision{}, err
		}
		conflicts = append(conflicts, rec)
	}
	if len(conflicts) > 0 {
		e.State = StateContested
	}
	if err := insertEntry(t.tx, e); err != nil {
		return Decision{}, err
	}
	if err := g.reinforce(t, e.Tags); err != nil {
		return Decision{}, err
	}
	return Decision{EntryID: e.ID, Revision: e.Revision, Conflicts: conflicts}, nil
}

// contradict lowers existing's confidence by the domain step, advances its
// epistemic state and records the conflict with incoming. existing is never
// deleted or overwritten in content.
func (g *Governor) contradict(t *txn, existing, incoming Entry, rationale string) (ConflictRecord, error) {
	pol := g.policy(existing.Domain)
	rec := ConflictRecord{
		ID:         uuid.New().String(),
		ExistingID: existing.Root,
		IncomingID: incoming.Root,
		Domain:     existing.Domain,
		Severity:   severity(pol, g.cfg.ExistingWeight, existing, incoming),
		Status:     ConflictOpen,
		Rationale:  rationale,
		CreatedAt:  t.now,
	}
	if err := insertConflict(t.tx, rec); err != nil {
		return ConflictRecord{}, err
	}

	after := existing
	after.Confidence = math.Max(0, existing.Confidence-pol.ConflictStep)
	after.Contestations = existing.Contestations + 1
	next, err := g.transition(t, after, evContradict)
	if err != nil {
		return ConflictRecord{}, err
	}
	after.State = next
	if _, err := g.write(t, existing, after, "conflict"); err != nil {
		return ConflictRecord{}, err
	}
	return rec, nil
}

func (g *Governor) reinforce(t *txn, tags []string) error {
	if g.graph == nil || len(tags) < 2 || g.cfg.GraphReinforce == 0 {
		return nil
	}
	return g.graph.In(t.tx).Reinforce(tags, g.cfg.GraphReinforce, t.now)
}

// #endregion observation

// #region epistemic-proposals
func (g *Governor) applyCorroboration(t *txn, p Corroboration) (Decision, error) {
	e, err := g.target(t, p.EntryID, p.ExpectedRevision)
	if err != nil {
		return Decision{}, err
	}
	if e.hasEvidence(p.Evidence) {
		return Decision{}, fault.Validation("memory.corroborate", "evidence %q already counted for %s", p.Evidence, e.ID)
	}
	after := e
	after.Evidence = append(append([]string(nil), e.Evidence...), p.Evidence)
	after.Corroborations = e.Corroborations + 1
	after.Confidence = math.Min(1, e.Confidence+g.policy(e.Domain).CorroborationGain)
	if after.State, err = g.transition(t, after, evCorroborate); err != nil {
		return Decision{}, err
	}
	return g.finish(t, e, after, "corroboration", nil)
}

func (g *Governor) applyContradiction(t *txn, p Contradiction) (Decision, error) {
	e, err := g.target(t, p.EntryID, p.ExpectedRevision)
	if err != nil {
		return Decision{}, err
	}
	counter, err := getEntry(t.tx, p.CounterID)
	if errors.Is(err, ErrNotFound) {
		return Decision{}, fault.Validation("memory.contradict", "counter entry %s not found", p.CounterID)
	}
	if err != nil {
		return Decision{}, err
	}
	if counter.Domain != e.Domain {
		return Decision{}, fault.Validation("memory.contradict", "counter entry %s is %s, entry %s is %s", counter.ID, counter.Domain, e.ID, e.Domain)
	}
	rec, err := g.contradict(t, e, counter, p.Rationale)
	if err != nil {
		return Decision{}, err
	}
	head, err := headOf(t.tx, e.Root)
	if err != nil {
		return Decision{}, err
	}
	return Decision{EntryID: head.ID, Revision: head.Revision, Conflicts: []ConflictRecord{rec}}, nil
}

func (g *Governor) applyReverification(t *txn, p Reverification) (Decision, error) {
	e, err := g.target(t, p.EntryID, p.ExpectedRevision)
	if err != nil {
		return Decision{}, err
	}
	after := e
	if after.State, err = g.transition(t, e, evReverify); err != nil {
		return Decision{}, err
	}
	if !e.hasEvidence(p.Evidence) {
		after.Evidence = append(append([]string(nil), e.Evidence...), p.Evidence)
	}
	if _, err := resolveConflicts(t.tx, e.Root, ResolveReverified, t.now); err != nil {
		return Decision{}, err
	}
	return g.finish(t, e, after, "reverification", nil)
}

func (g *Governor) applyExternalConfirmation(t *txn, p ExternalConfirmation) (Decision, error) {
	e, err := g.target(t, p.EntryID, p.ExpectedRevision)
	if err != nil {
		return Decision{}, err
	}
	if e.ExternallyConfirmed {
		return Decision{}, fault.Validation("memory.confirm", "entry %s is already externally confirmed", e.ID)
	}
	after := e
	after.ExternallyConfirmed = true
	after.Evidence = append(append([]string(nil), e.Evidence...), "external:"+p.Source)
	return g.finish(t, e, after, "external_confirmation", nil)
}

func (g *Governor) applyRevision(t *txn, p Revision) (Decision, error) {
	e, err := g.target(t, p.EntryID, p.ExpectedRevision)
	if err != nil {
		return Decision{}, err
	}
	if e.State == StateDeprecated {
		return Decision{}, fault.Validation("memory.revise", "entry %s is deprecated", e.ID)
	}
	if g.policy(e.Domain).RequireExternal && !p.ExternallyConfirmed {
		return Decision{}, fault.Validation("memory.revise", "%s entry %s changes only with external confirmation", e.Domain, e.ID)
	}
	after := e
	after.Content, after.Subject, after.Polarity = p.Content, p.Subject, p.Polarity
	after.Confidence = p.Confidence
	after.ExternallyConfirmed = e.ExternallyConfirmed || p.ExternallyConfirmed
	return g.finish(t, e, after, "revision: "+p.Rationale, nil)
}

func (g *Governor) applyResolution(t *txn, p ConflictResolution) (Decision, error) {
	const op = "memory.resolve"
	c, err := getConflict(t.tx, p.ConflictID)
	if errors.Is(err, ErrNotFound) {
		return Decision{}, fault.Validation(op, "conflict %s not found", p.ConflictID)
	}
	if err != nil {
		return Decision{}, err
	}
	if c.Status != ConflictOpen {
		return Decision{}, fault.Abort(op, fmt.Errorf("conflict %s already %s", c.ID, c.Status))
	}
	existing, err := headOf(t.tx, c.ExistingID)
	if err != nil {
		return Decision{}, err
	}
	incoming, err := headOf(t.tx, c.IncomingID)
	if err != nil {
		return Decision{}, err
	}

	ok, err := resolveConflict(t.tx, c.ID, p.Resolution, p.Rationale, t.now)
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return Decision{}, fault.Abort(op, fmt.Errorf("conflict %s closed concurrently", c.ID))
	}

	var result Entry
	switch p.Resolution {
	case ResolveKeepExisting:
		if err := g.deprecate(t, incoming, "conflict "+c.ID); err != nil {
			return Decision{}, err
		}
		if result, err = g.settle(t, existing, "conflict "+c.ID); err != nil {
			return Decision{}, err
		}
	case ResolveAcceptIncoming:
		if g.policy(existing.Domain).RequireExternal && !p.ExternallyConfirmed {
			return Decision{}, fault.Validation(op, "%s entry %s cannot be overruled without external confirmation", existing.Domain, existing.ID)
		}
		if err := g.deprecate(t, existing, "conflict "+c.ID); err != nil {
			return Decision{}, err
		}
		if result, err = g.settle(t, incoming, "conflict "+c.ID); err != nil {
			return Decision{}, err
		}
	case ResolveDismiss:
		if _, err := g.settle(t, incoming, "conflict "+c.ID); err != nil {
			return Decision{}, err
		}
		if result, err = g.settle(t, existing, "conflict "+c.ID); err != nil {
			return Decision{}, err
		}
	}
	c.Status, c.Resolution, c.ResolvedAt = ConflictResolved, p.Resolution, t.now
	return Decision{EntryID: result.ID, Revision: result.Revision, Conflicts: []ConflictRecord{c}}, nil
}

// settle returns a Contested entry to Confirmed once its last open conflict
// is resolved in its favour. Confidence lost to the conflict stays lost.
func (g *Governor) settle(t *txn, e Entry, reason string) (Entry, error) {
	if e.State != StateContested {
		return e, nil
	}
	open, err := openConflictCount(t.tx, e.Root)
	if err != nil {
		return Entry{}, err
	}
	if open > 0 {
		return e, nil
	}
	after := e
	if after.State, err = g.transition(t, e, evReverify); err != nil {
		return Entry{}, err
	}
	return g.write(t, e, after, reason)
}

func (g *Governor) deprecate(t *txn, e Entry, reason string) error {
	if e.State == StateDeprecated {
		return nil
	}
	next, err := g.transition(t, e, evDeprecate)
	if err != nil {
		return err
	}
	after := e
	after.State = next
	_, err = g.write(t, e, after, reason)
	return err
}

func (g *Governor) applyHits(t *txn, p Hits) (Decision, error) {
	var last Entry
	for _, id := range p.EntryIDs {
		e, err := getEntry(t.tx, id)
		if errors.Is(err, ErrNotFound) {
			return Decision{}, fault.Validation("memory.hits", "entry %s not found", id)
		}
		if err != nil {
			return Decision{}, err
		}
		head, err := headOf(t.tx, e.Root)
		if err != nil {
			return Decision{}, err
		}
		if err := recordHit(t.tx, head.ID, t.now); err != nil {
			return Decision{}, err
		}
		last = head
	}
	return Decision{EntryID: last.ID, Revision: last.Revision}, nil
}

// finish writes after and reports the resulting head.
func (g *Governor) finish(t *txn, before, after Entry, reason string, conflicts []ConflictRecord) (Decision, error) {
	written, err := g.write(t, before, after, reason)
	if err != nil {
		return Decision{}, err
	}
	return Decision{EntryID: written.ID, Revision: written.Revision, Conflicts: conflicts}, nil
}

// #endregion epistemic-proposals

// #region tier-proposals
func (g *Governor) applyPromote(t *txn, p promote) (Decision, error) {
	e, err := g.target(t, p.EntryID, 0)
	if err != nil {
		return Decision{}, err
	}
	return g.moveTier(t, e, p.To, "promote")
}

func (g *Governor) applyDemote(t *txn, p demote) (Decision, error) {
	e, err := g.target(t, p.EntryID, 0)
	if err != nil {
		return Decision{}, err
	}
	return g.moveTier(t, e, TierCore, "demote")
}

func (g *Governor) moveTier(t *txn, e Entry, to Tier, reason string) (Decision, error) {
	in, err := g.guardInput(t, e)
	if err != nil {
		return Decision{}, err
	}
	if err := tierTransition(to, in); err != nil {
		return Decision{}, fault.Validation("memory."+reason, "entry %s: %v", e.ID, err)
	}
	after := e
	after.Tier = to
	d, err := g.finish(t, e, after, reason, nil)
	if err == nil {
		metrics.TierTransitions.WithLabelValues(string(e.Tier), string(to)).Inc()
	}
	return d, err
}

func (g *Governor) applyGraphDecay(t *txn) (Decision, error) {
	if g.graph == nil {
		return Decision{Reason: "no graph"}, nil
	}
	n, err := g.graph.In(t.tx).DecayAll(t.now, g.cfg.GraphHalfLife)
	if err != nil {
		return Decision{}, err
	}
	return Decision{Reason: fmt.Sprintf("pruned %d edges", n), Pruned: n}, nil
}

// #endregion tier-proposals

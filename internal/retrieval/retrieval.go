package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Freshair129/agentic-agent/internal/fault"
	"github.com/Freshair129/agentic-agent/internal/memory"
	"github.com/Freshair129/agentic-agent/internal/metrics"
)

// Source supplies recall candidates. *memory.Store satisfies it.
type Source interface {
	Entries(ctx context.Context, f memory.Filter) ([]memory.Entry, error)
}

// #region retriever
// Retriever fans a query out to its streams and merges their hits.
// Streams earlier in the list win score ties.
type Retriever struct {
	src     Source
	streams []Stream
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// Option customizes a Retriever.
type Option func(*Retriever)

// WithClock overrides the time source handed to streams.
func WithClock(now func() time.Time) Option { return func(r *Retriever) { r.now = now } }

// NewRetriever validates cfg and requires a weight for every stream.
func NewRetriever(src Source, streams []Stream, cfg Config, logger *slog.Logger, opts ...Option) (*Retriever, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seen := make(map[StreamName]bool, len(streams))
	for _, s := range streams {
		name := s.Name()
		if seen[name] {
			return nil, fault.Configuration("retrieval.new", fmt.Errorf("duplicate stream %q", name))
		}
		seen[name] = true
		if _, ok := cfg.Weights[name]; !ok {
			return nil, fault.Configuration("retrieval.new", fmt.Errorf("no weight for stream %q", name))
		}
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Retriever{
		src:     src,
		streams: streams,
		cfg:     cfg,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// #endregion retriever

// #region retrieve
// Retrieve runs the selected streams concurrently over one candidate read
// and returns the merged ranking. It never fails: unavailable streams are
// left out and flagged through Result.Degraded.
func (r *Retriever) Retrieve(ctx context.Context, q Query, cue Cue) Result {
	start := time.Now()
	defer func() { metrics.RetrievalDuration.Observe(time.Since(start).Seconds()) }()

	selected := r.selected(q.Group)
	if len(selected) == 0 {
		return Result{Degraded: true}
	}

	candidates, err := r.src.Entries(ctx, memory.Filter{
		Domain: q.Domain,
		States: []memory.Epistemic{memory.StateHypothesis, memory.StateConfirmed, memory.StateContested},
		Limit:  r.cfg.CandidateLimit,
	})
	if err != nil {
		r.logger.Warn("recall candidates unavailable", "err", err)
		res := Result{Degraded: true}
		for _, s := range selected {
			res.Failed = append(res.Failed, s.Name())
		}
		return res
	}

	in := Input{Query: q, Cue: cue, Candidates: candidates, Now: r.now()}
	hits := make([][]Hit, len(selected))
	failed := make([]error, len(selected))

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range selected {
		g.Go(func() error {
			hits[i], failed[i] = r.recall(gctx, s, in)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Ran: len(selected)}
	for i, err := range failed {
		if err == nil {
			continue
		}
		name := selected[i].Name()
		res.Failed = append(res.Failed, name)
		metrics.RetrievalStreamFailures.WithLabelValues(string(name)).Inc()
		r.logger.Warn("recall stream unavailable", "stream", name, "err", err)
	}
	res.Degraded = len(res.Failed) > 0
	res.Matches = r.merge(selected, hits, candidates, q.Limit)
	return res
}

// recall runs one stream under the stream timeout. A panic counts as a
// failed stream.
func (r *Retriever) recall(ctx context.Context, s Stream, in Input) (hits []Hit, err error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.StreamTimeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			hits, err = nil, fmt.Errorf("stream %s panicked: %v", s.Name(), p)
		}
	}()
	hits, err = s.Recall(ctx, in)
	if err == nil {
		err = ctx.Err()
	}
	return hits, err
}

func (r *Retriever) selected(g Group) []Stream {
	var out []Stream
	for _, s := range r.streams {
		if g.Includes(s.Name()) {
			out = append(out, s)
		}
	}
	return out
}

// #endregion retrieve

// #region merge
// merge keeps each entry's best weighted stream score and adds the cross
// stream bonus once for every further stream that found it. Ties fall back
// to stream order, then entry id.
func (r *Retriever) merge(streams []Stream, hits [][]Hit, candidates []memory.Entry, limit int) []Match {
	byID := make(map[string]memory.Entry, len(candidates))
	for _, e := range candidates {
		byID[e.ID] = e
	}

	type acc struct {
		m        Match
		best     float64
		priority int
	}
	merged := make(map[string]*acc)
	for i, s := range streams {
		name := s.Name()
		w := r.cfg.Weights[name]
		for _, h := range hits[i] {
			e, ok := byID[h.EntryID]
			if !ok || !(h.Score > 0) {
				continue
			}
			score := w * math.Min(1, h.Score)
			a := merged[h.EntryID]
			if a == nil {
				a = &acc{m: Match{Entry: e, Streams: map[StreamName]float64{}}, best: -1}
				merged[h.EntryID] = a
			}
			if prev, dup := a.m.Streams[name]; dup && prev >= score {
				continue
			}
			a.m.Streams[name] = score
			if score > a.best {
				a.best, a.priority, a.m.Best = score, i, name
			}
		}
	}

	out := make([]Match, 0, len(merged))
	prio := make(map[string]int, len(merged))
	for id, a := range merged {
		a.m.Score = math.Min(1, a.best+r.cfg.CrossStreamBonus*float64(len(a.m.Streams)-1))
		a.m.Grade = r.grade(a.m.Entry)
		prio[id] = a.priority
		out = append(out, a.m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		pi, pj := prio[out[i].Entry.ID], prio[out[j].Entry.ID]
		if pi != pj {
			return pi < pj
		}
		return out[i].Entry.ID < out[j].Entry.ID
	})

	if limit <= 0 {
		limit = r.cfg.Limit
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// grade applies the domain policy: safety entries under the confidence
// floor are suggestions only.
func (r *Retriever) grade(e memory.Entry) Grade {
	if e.Domain == memory.DomainSafety && e.Confidence < r.cfg.SafetyFloor {
		return GradeTentative
	}
	return GradeDecision
}

// #endregion merge

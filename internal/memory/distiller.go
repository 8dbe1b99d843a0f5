package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Freshair129/agentic-agent/internal/audit"
	"github.com/Freshair129/agentic-agent/internal/fault"
)

// #region run-distillation
// RunDistillation evaluates tier transitions at a distillation boundary.
// TierCore promotes eligible Session entries; TierSphere promotes eligible
// Core entries, demotes repeatedly contested Sphere entries and decays the
// concept graph.
//
// Candidates come from one read; each transition is then submitted to the
// writer and its guard re-checked inside the transaction, so a sweep never
// holds the writer for longer than one entry.
func (g *Governor) RunDistillation(ctx context.Context, tier Tier) (DistillReport, error) {
	report := DistillReport{Tier: tier, Skipped: map[string]string{}}
	var from Tier
	switch tier {
	case TierCore:
		from = TierSession
	case TierSphere:
		from = TierCore
	default:
		return report, fault.Validation("memory.distill", "cannot distill into %q", tier)
	}

	candidates, err := g.store.Entries(ctx, Filter{Tiers: []Tier{from}, States: []Epistemic{StateConfirmed}})
	if err != nil {
		return report, err
	}
	for _, c := range candidates {
		report.Examined++
		ok, err := g.eligible(c, tier)
		if err != nil {
			return report, err
		}
		if !ok.allowed {
			report.Skipped[c.ID] = ok.reason
			continue
		}
		d, err := g.enqueue(ctx, promote{EntryID: c.ID, To: tier})
		if err != nil {
			if stopSweep(ctx, err) {
				return report, err
			}
			report.Skipped[c.ID] = err.Error()
			continue
		}
		report.Promoted = append(report.Promoted, d.EntryID)
	}

	if tier == TierSphere {
		sphere, err := g.store.Entries(ctx, Filter{Tiers: []Tier{TierSphere}, States: []Epistemic{StateContested}})
		if err != nil {
			return report, err
		}
		for _, c := range sphere {
			report.Examined++
			ok, err := g.eligible(c, TierCore)
			if err != nil {
				return report, err
			}
			if !ok.allowed {
				report.Skipped[c.ID] = ok.reason
				continue
			}
			d, err := g.enqueue(ctx, demote{EntryID: c.ID})
			if err != nil {
				if stopSweep(ctx, err) {
					return report, err
				}
				report.Skipped[c.ID] = err.Error()
				continue
			}
			report.Demoted = append(report.Demoted, d.EntryID)
		}

		d, err := g.enqueue(ctx, graphDecay{})
		if err != nil {
			return report, err
		}
		report.EdgesPruned = d.Pruned
	}

	g.logger.Info("distillation complete", "tier", tier, "examined", report.Examined,
		"promoted", len(report.Promoted), "demoted", len(report.Demoted))
	g.audit.Emit(audit.NewEvent(audit.KindDistill, "", "", report))
	return report, nil
}

type eligibility struct {
	allowed bool
	reason  string
}

// eligible pre-checks the tier guard outside the writer.
func (g *Governor) eligible(e Entry, to Tier) (eligibility, error) {
	open, err := openConflictCount(g.store.db, e.Root)
	if err != nil {
		return eligibility{}, err
	}
	err = tierTransition(to, guardInput{entry: e, policy: g.policy(e.Domain), openConflicts: open})
	if err != nil {
		return eligibility{reason: err.Error()}, nil
	}
	return eligibility{allowed: true}, nil
}

func stopSweep(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, ErrClosed)
}

// #endregion run-distillation

// #region distiller
// Distiller runs distillation sweeps on two independent schedules. A zero
// interval disables that schedule.
type Distiller struct {
	gov    *Governor
	core   time.Duration
	sphere time.Duration
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewDistiller uses the governor's configured intervals.
func NewDistiller(gov *Governor) *Distiller {
	return &Distiller{
		gov:    gov,
		core:   gov.cfg.CoreInterval,
		sphere: gov.cfg.SphereInterval,
		logger: gov.logger,
	}
}

// Start launches the sweep loop.
func (d *Distiller) Start() {
	d.once.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		d.cancel = cancel
		d.wg.Add(1)
		go d.run(ctx)
	})
}

// Close stops the loop and waits for an in-flight sweep to return.
func (d *Distiller) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

func (d *Distiller) run(ctx context.Context) {
	defer d.wg.Done()
	var coreC, sphereC <-chan time.Time
	if d.core > 0 {
		t := time.NewTicker(d.core)
		defer t.Stop()
		coreC = t.C
	}
	if d.sphere > 0 {
		t := time.NewTicker(d.sphere)
		defer t.Stop()
		sphereC = t.C
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-coreC:
			d.sweep(ctx, TierCore)
		case <-sphereC:
			d.sweep(ctx, TierSphere)
		}
	}
}

func (d *Distiller) sweep(ctx context.Context, tier Tier) {
	if _, err := d.gov.RunDistillation(ctx, tier); err != nil && ctx.Err() == nil {
		d.logger.Error("distillation failed", "tier", tier, "err", err)
	}
}

// #endregion distiller

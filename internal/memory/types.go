package memory

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Freshair129/agentic-agent/internal/fault"
	"github.com/Freshair129/agentic-agent/internal/graph"
)

// #region enums
// Domain is the governance label of an entry.
type Domain string

const (
	DomainSafety     Domain = "safety"
	DomainIdentity   Domain = "identity"
	DomainKnowledge  Domain = "knowledge"
	DomainContextual Domain = "contextual"
	DomainMeta       Domain = "meta"
)

// Domains lists the closed domain set.
var Domains = []Domain{DomainSafety, DomainIdentity, DomainKnowledge, DomainContextual, DomainMeta}

// Valid reports whether d is one of the closed set.
func (d Domain) Valid() bool {
	switch d {
	case DomainSafety, DomainIdentity, DomainKnowledge, DomainContextual, DomainMeta:
		return true
	}
	return false
}

// Epistemic is the confidence lifecycle state of an entry.
type Epistemic string

const (
	StateHypothesis Epistemic = "hypothesis"
	StateConfirmed  Epistemic = "confirmed"
	StateContested  Epistemic = "contested"
	StateDeprecated Epistemic = "deprecated"
)

// Valid reports whether s is a known state.
func (s Epistemic) Valid() bool {
	switch s {
	case StateHypothesis, StateConfirmed, StateContested, StateDeprecated:
		return true
	}
	return false
}

// Tier is the memory horizon.
type Tier string

const (
	TierSession Tier = "session"
	TierCore    Tier = "core"
	TierSphere  Tier = "sphere"
)

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierSession, TierCore, TierSphere:
		return true
	}
	return false
}

// Mutable reports whether entries in t may change in place. Entries
// promoted past Session are write-once.
func (t Tier) Mutable() bool { return t == TierSession }

// #endregion enums

// #region entry
// Entry is one governed memory. Promoted entries never change content; each
// change produces a new version whose Supersedes names the previous one.
// All versions share Root.
type Entry struct {
	ID         string `json:"id"`
	Root       string `json:"root"`
	Version    int    `json:"version"`
	Supersedes string `json:"supersedes,omitempty"`
	Revision   int64  `json:"revision"`

	Domain     Domain    `json:"domain"`
	State      Epistemic `json:"state"`
	Tier       Tier      `json:"tier"`
	Confidence float64   `json:"confidence"`

	Content  string   `json:"content"`
	Subject  string   `json:"subject,omitempty"`
	Polarity int      `json:"polarity,omitempty"`
	Tags     []string `json:"tags,omitempty"`

	Thread      string             `json:"thread,omitempty"`
	Sequence    int64              `json:"sequence,omitempty"`
	Salience    float64            `json:"salience,omitempty"`
	AffectTrace map[string]float64 `json:"affect_trace,omitempty"`
	Texture     []float64          `json:"texture,omitempty"`

	Evidence            []string `json:"evidence,omitempty"`
	Corroborations      int      `json:"corroborations"`
	Contestations       int      `json:"contestations"`
	ExternallyConfirmed bool     `json:"externally_confirmed"`

	HitCount  int       `json:"hit_count"`
	LastHitAt time.Time `json:"last_hit_at,omitzero"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (e Entry) hasEvidence(ref string) bool {
	for _, r := range e.Evidence {
		if r == ref {
			return true
		}
	}
	return false
}

// #endregion entry

// #region conflict
// ConflictStatus is the resolution state of a ConflictRecord.
type ConflictStatus string

const (
	ConflictOpen     ConflictStatus = "open"
	ConflictResolved ConflictStatus = "resolved"
)

// Resolution names how a conflict was closed.
type Resolution string

const (
	ResolveKeepExisting   Resolution = "keep_existing"
	ResolveAcceptIncoming Resolution = "accept_incoming"
	ResolveDismiss        Resolution = "dismiss"
	ResolveReverified     Resolution = "reverified"
)

// ConflictRecord pairs two conflicting lineages by their root ids.
type ConflictRecord struct {
	ID         string         `json:"id"`
	ExistingID string         `json:"existing_id"`
	IncomingID string         `json:"incoming_id"`
	Domain     Domain         `json:"domain"`
	Severity   float64        `json:"severity"`
	Status     ConflictStatus `json:"status"`
	Resolution Resolution     `json:"resolution,omitempty"`
	Rationale  string         `json:"rationale"`
	CreatedAt  time.Time      `json:"created_at"`
	ResolvedAt time.Time      `json:"resolved_at,omitzero"`
}

// #endregion conflict

// #region filter
// Filter narrows entry queries. Zero fields match everything; superseded
// versions are excluded unless IncludeSuperseded is set.
type Filter struct {
	Domain            Domain      `json:"domain,omitempty"`
	Tiers             []Tier      `json:"tiers,omitempty"`
	States            []Epistemic `json:"states,omitempty"`
	MinConfidence     float64     `json:"min_confidence,omitempty"`
	Thread            string      `json:"thread,omitempty"`
	Limit             int         `json:"limit,omitempty"`
	IncludeSuperseded bool        `json:"include_superseded,omitempty"`
}

// ConflictFilter narrows conflict queries.
type ConflictFilter struct {
	EntryID string
	Status  ConflictStatus
	Limit   int
}

// #endregion filter

// #region decision
// Decision is the Governor's answer to a proposal.
type Decision struct {
	Accepted  bool             `json:"accepted"`
	Kind      Kind             `json:"kind"`
	EntryID   string           `json:"entry_id,omitempty"`
	Revision  int64            `json:"revision,omitempty"`
	Conflicts []ConflictRecord `json:"conflicts,omitempty"`
	Reason    string           `json:"reason,omitempty"`
	Pruned    int64            `json:"pruned,omitempty"`
}

// DistillReport summarizes one distillation sweep.
type DistillReport struct {
	Tier        Tier              `json:"tier"`
	Examined    int               `json:"examined"`
	Promoted    []string          `json:"promoted,omitempty"`
	Demoted     []string          `json:"demoted,omitempty"`
	Skipped     map[string]string `json:"skipped,omitempty"`
	EdgesPruned int64             `json:"edges_pruned,omitempty"`
}

// #endregion decision

// #region config
// DomainPolicy holds the per-domain thresholds.
type DomainPolicy struct {
	CorroborationsToConfirm  int     `yaml:"corroborations_to_confirm" validate:"gte=1"`
	CorroborationGain        float64 `yaml:"corroboration_gain" validate:"gte=0,lte=1"`
	ConflictStep             float64 `yaml:"conflict_step" validate:"gt=0,lte=1"`
	ContestationsToDeprecate int     `yaml:"contestations_to_deprecate" validate:"gte=1"`
	CoreHits                 int     `yaml:"core_hits" validate:"gte=0"`
	CoreConfidence           float64 `yaml:"core_confidence" validate:"gte=0,lte=1"`
	SphereHits               int     `yaml:"sphere_hits" validate:"gte=0"`
	SphereConfidence         float64 `yaml:"sphere_confidence" validate:"gte=0,lte=1"`
	DemoteAfter              int     `yaml:"demote_after" validate:"gte=1"`
	RequireExternal          bool    `yaml:"require_external"`
	SeverityWeight           float64 `yaml:"severity_weight" validate:"gt=0,lte=1"`
}

// Config configures the Governor and its distillation cadence.
type Config struct {
	Policies       map[Domain]DomainPolicy `yaml:"policies" validate:"required,dive"`
	QueueSize      int                     `yaml:"queue_size" validate:"gte=1"`
	ExistingWeight float64                 `yaml:"existing_weight" validate:"gte=0,lte=1"`
	MinOverlap     int                     `yaml:"min_overlap" validate:"gte=1"`
	CoreInterval   time.Duration           `yaml:"core_interval"`
	SphereInterval time.Duration           `yaml:"sphere_interval"`
	GraphHalfLife  time.Duration           `yaml:"graph_half_life"`
	GraphReinforce float64                 `yaml:"graph_reinforce" validate:"gte=0,lte=1"`
	Walk           graph.WalkConfig        `yaml:"walk"`
}

// DefaultConfig returns the stock policies: safety is the strictest domain
// and weighs conflicts fully; meta the loosest.
func DefaultConfig() Config {
	return Config{
		Policies: map[Domain]DomainPolicy{
			DomainSafety: {
				CorroborationsToConfirm: 2, CorroborationGain: 0.05, ConflictStep: 0.15, ContestationsToDeprecate: 3,
				CoreHits: 3, CoreConfidence: 0.9, SphereHits: 8, SphereConfidence: 0.95,
				DemoteAfter: 2, RequireExternal: true, SeverityWeight: 1.0,
			},
			DomainIdentity: {
				CorroborationsToConfirm: 2, CorroborationGain: 0.05, ConflictStep: 0.1, ContestationsToDeprecate: 3,
				CoreHits: 3, CoreConfidence: 0.8, SphereHits: 6, SphereConfidence: 0.9,
				DemoteAfter: 2, SeverityWeight: 0.8,
			},
			DomainKnowledge: {
				CorroborationsToConfirm: 2, CorroborationGain: 0.05, ConflictStep: 0.1, ContestationsToDeprecate: 3,
				CoreHits: 2, CoreConfidence: 0.7, SphereHits: 5, SphereConfidence: 0.85,
				DemoteAfter: 2, SeverityWeight: 0.6,
			},
			DomainContextual: {
				CorroborationsToConfirm: 1, CorroborationGain: 0.05, ConflictStep: 0.1, ContestationsToDeprecate: 2,
				CoreHits: 2, CoreConfidence: 0.6, SphereHits: 6, SphereConfidence: 0.85,
				DemoteAfter: 2, SeverityWeight: 0.5,
			},
			DomainMeta: {
				CorroborationsToConfirm: 1, CorroborationGain: 0.05, ConflictStep: 0.05, ContestationsToDeprecate: 2,
				CoreHits: 3, CoreConfidence: 0.6, SphereHits: 8, SphereConfidence: 0.85,
				DemoteAfter: 2, SeverityWeight: 0.4,
			},
		},
		QueueSize:      64,
		ExistingWeight: 0.7,
		MinOverlap:     1,
		CoreInterval:   10 * time.Minute,
		SphereInterval: 24 * time.Hour,
		GraphHalfLife:  14 * 24 * time.Hour,
		GraphReinforce: 0.1,
		Walk:           graph.DefaultWalkConfig(),
	}
}

// Validate requires a policy for every domain. Missing domains are never
// filled in from defaults.
func (c Config) Validate() error {
	var errs []error
	for _, d := range Domains {
		p, ok := c.Policies[d]
		if !ok {
			errs = append(errs, fmt.Errorf("no policy for domain %q", d))
			continue
		}
		if p.CorroborationsToConfirm < 1 || p.ContestationsToDeprecate < 1 || p.DemoteAfter < 1 {
			errs = append(errs, fmt.Errorf("%s: counts must be >= 1", d))
		}
		if !(p.ConflictStep > 0 && p.ConflictStep <= 1) {
			errs = append(errs, fmt.Errorf("%s: conflict_step %g out of (0,1]", d, p.ConflictStep))
		}
		if !(p.SeverityWeight > 0 && p.SeverityWeight <= 1) {
			errs = append(errs, fmt.Errorf("%s: severity_weight %g out of (0,1]", d, p.SeverityWeight))
		}
		for name, v := range map[string]float64{"core_confidence": p.CoreConfidence, "sphere_confidence": p.SphereConfidence, "corroboration_gain": p.CorroborationGain} {
			if v < 0 || v > 1 || math.IsNaN(v) {
				errs = append(errs, fmt.Errorf("%s: %s %g out of [0,1]", d, name, v))
			}
		}
		if p.SphereHits < p.CoreHits || p.SphereConfidence < p.CoreConfidence {
			errs = append(errs, fmt.Errorf("%s: sphere thresholds must not be below core thresholds", d))
		}
	}
	for d := range c.Policies {
		if !d.Valid() {
			errs = append(errs, fmt.Errorf("policy for unknown domain %q", d))
		}
	}
	if c.QueueSize < 1 {
		errs = append(errs, fmt.Errorf("queue_size %d must be >= 1", c.QueueSize))
	}
	if c.ExistingWeight < 0 || c.ExistingWeight > 1 {
		errs = append(errs, fmt.Errorf("existing_weight %g out of [0,1]", c.ExistingWeight))
	}
	if c.MinOverlap < 1 {
		errs = append(errs, fmt.Errorf("min_overlap %d must be >= 1", c.MinOverlap))
	}
	if c.CoreInterval < 0 || c.SphereInterval < 0 {
		errs = append(errs, errors.New("distillation intervals must not be negative"))
	}
	if c.GraphHalfLife <= 0 {
		errs = append(errs, fmt.Errorf("graph_half_life %s must be > 0", c.GraphHalfLife))
	}
	if len(errs) > 0 {
		return fault.Configuration("memory.config", errors.Join(errs...))
	}
	return nil
}

// #endregion config

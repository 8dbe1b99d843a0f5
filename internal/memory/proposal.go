package memory

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Freshair129/agentic-agent/internal/fault"
)

// Kind names a proposal variant.
type Kind string

const (
	KindObservation          Kind = "observation"
	KindCorroboration        Kind = "corroboration"
	KindContradiction        Kind = "contradiction"
	KindReverification       Kind = "reverification"
	KindExternalConfirmation Kind = "external_confirmation"
	KindRevision             Kind = "revision"
	KindConflictResolution   Kind = "conflict_resolution"
	KindHits                 Kind = "hits"

	kindSeed    Kind = "seed"
	kindPromote Kind = "promote"
	kindDemote  Kind = "demote"
	kindDecay   Kind = "graph_decay"
)

// Proposal is a request to change governed memory. The set of variants is
// closed: only types in this package implement it, and the Governor switches
// over all of them.
type Proposal interface {
	Kind() Kind
	isProposal()
}

// #region variants
// Observation records a new Session-tier hypothesis.
type Observation struct {
	Domain      Domain             `json:"domain" validate:"required,domain"`
	Content     string             `json:"content" validate:"required,max=4096"`
	Subject     string             `json:"subject,omitempty" validate:"max=256"`
	Polarity    int                `json:"polarity,omitempty" validate:"gte=-1,lte=1"`
	Confidence  float64            `json:"confidence" validate:"gte=0,lte=1"`
	Tags        []string           `json:"tags,omitempty" validate:"max=32,dive,required,max=64"`
	Thread      string             `json:"thread,omitempty"`
	Sequence    int64              `json:"sequence,omitempty" validate:"gte=0"`
	Salience    float64            `json:"salience,omitempty" validate:"gte=0,lte=1"`
	AffectTrace map[string]float64 `json:"affect_trace,omitempty"`
	Texture     []float64          `json:"texture,omitempty"`
	Evidence    []string           `json:"evidence,omitempty" validate:"dive,required"`
	Contradicts []string           `json:"contradicts,omitempty" validate:"dive,required"`
}

// Corroboration adds independent evidence to an entry.
type Corroboration struct {
	EntryID          string `json:"entry_id" validate:"required"`
	ExpectedRevision int64  `json:"expected_revision" validate:"gte=1"`
	Evidence         string `json:"evidence" validate:"required"`
}

// Contradiction reports that CounterID's content contradicts EntryID.
type Contradiction struct {
	EntryID          string `json:"entry_id" validate:"required"`
	ExpectedRevision int64  `json:"expected_revision" validate:"gte=1"`
	CounterID        string `json:"counter_id" validate:"required,nefield=EntryID"`
	Rationale        string `json:"rationale" validate:"required"`
}

// Reverification re-establishes a contested entry and closes its conflicts.
type Reverification struct {
	EntryID          string `json:"entry_id" validate:"required"`
	ExpectedRevision int64  `json:"expected_revision" validate:"gte=1"`
	Evidence         string `json:"evidence" validate:"required"`
}

// ExternalConfirmation marks an entry as confirmed by a source outside the
// conversation. Safety entries cannot be promoted without it.
type ExternalConfirmation struct {
	EntryID          string `json:"entry_id" validate:"required"`
	ExpectedRevision int64  `json:"expected_revision" validate:"gte=1"`
	Source           string `json:"source" validate:"required"`
}

// Revision replaces an entry's content.
type Revision struct {
	EntryID             string  `json:"entry_id" validate:"required"`
	ExpectedRevision    int64   `json:"expected_revision" validate:"gte=1"`
	Content             string  `json:"content" validate:"required,max=4096"`
	Subject             string  `json:"subject,omitempty" validate:"max=256"`
	Polarity            int     `json:"polarity,omitempty" validate:"gte=-1,lte=1"`
	Confidence          float64 `json:"confidence" validate:"gte=0,lte=1"`
	Rationale           string  `json:"rationale" validate:"required"`
	ExternallyConfirmed bool    `json:"externally_confirmed,omitempty"`
}

// ConflictResolution closes an open conflict.
type ConflictResolution struct {
	ConflictID          string     `json:"conflict_id" validate:"required"`
	Resolution          Resolution `json:"resolution" validate:"required,oneof=keep_existing accept_incoming dismiss"`
	Rationale           string     `json:"rationale" validate:"required"`
	ExternallyConfirmed bool       `json:"externally_confirmed,omitempty"`
}

// Hits records retrieval hits. Hit counts are access metadata and may be
// updated on promoted entries in place.
type Hits struct {
	EntryIDs []string `json:"entry_ids" validate:"min=1,dive,required"`
}

// seed writes an entry directly into a tier.
type seed struct {
	Tier  Tier
	Entry Entry
}

type promote struct {
	EntryID string
	To      Tier
}

type demote struct {
	EntryID string
}

type graphDecay struct{}

func (Observation) Kind() Kind          { return KindObservation }
func (Corroboration) Kind() Kind        { return KindCorroboration }
func (Contradiction) Kind() Kind        { return KindContradiction }
func (Reverification) Kind() Kind       { return KindReverification }
func (ExternalConfirmation) Kind() Kind { return KindExternalConfirmation }
func (Revision) Kind() Kind             { return KindRevision }
func (ConflictResolution) Kind() Kind   { return KindConflictResolution }
func (Hits) Kind() Kind                 { return KindHits }
func (seed) Kind() Kind                 { return kindSeed }
func (promote) Kind() Kind              { return kindPromote }
func (demote) Kind() Kind               { return kindDemote }
func (graphDecay) Kind() Kind           { return kindDecay }

func (Observation) isProposal()          {}
func (Corroboration) isProposal()        {}
func (Contradiction) isProposal()        {}
func (Reverification) isProposal()       {}
func (ExternalConfirmation) isProposal() {}
func (Revision) isProposal()             {}
func (ConflictResolution) isProposal()   {}
func (Hits) isProposal()                 {}
func (seed) isProposal()                 {}
func (promote) isProposal()              {}
func (demote) isProposal()               {}
func (graphDecay) isProposal()           {}

// #endregion variants

// #region validation
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("domain", func(fl validator.FieldLevel) bool {
		return Domain(fl.Field().String()).Valid()
	})
	return v
}

// check validates a proposal's schema. Any failure rejects the whole
// proposal before it reaches the writer.
func check(p Proposal) error {
	const op = "memory.validate"
	switch p := p.(type) {
	case seed:
		if !p.Tier.Valid() {
			return fault.Validation(op, "unknown tier %q", p.Tier)
		}
		e := p.Entry
		if !e.Domain.Valid() {
			return fault.Validation(op, "unknown domain %q", e.Domain)
		}
		if strings.TrimSpace(e.Content) == "" {
			return fault.Validation(op, "entry content is empty")
		}
		if e.State != "" && !e.State.Valid() {
			return fault.Validation(op, "unknown epistemic state %q", e.State)
		}
		if !unit(e.Confidence) || !unit(e.Salience) {
			return fault.Validation(op, "confidence and salience must lie in [0,1]")
		}
		return nil
	case promote, demote, graphDecay:
		return nil
	}
	if err := validate.Struct(p); err != nil {
		return fault.Validation(op, "%s: %v", p.Kind(), err)
	}
	if o, ok := p.(Observation); ok {
		for ch, v := range o.AffectTrace {
			if !finite(v) {
				return fault.Validation(op, "affect trace %q is not finite", ch)
			}
		}
		for _, v := range o.Texture {
			if !finite(v) {
				return fault.Validation(op, "texture component is not finite")
			}
		}
	}
	return nil
}

// DecodeProposal decodes a wire payload of the given kind. Unknown kinds and
// unknown fields are rejected.
func DecodeProposal(kind Kind, data []byte) (Proposal, error) {
	const op = "memory.decode"
	var p Proposal
	var err error
	switch kind {
	case KindObservation:
		p, err = decodeInto[Observation](data)
	case KindCorroboration:
		p, err = decodeInto[Corroboration](data)
	case KindContradiction:
		p, err = decodeInto[Contradiction](data)
	case KindReverification:
		p, err = decodeInto[Reverification](data)
	case KindExternalConfirmation:
		p, err = decodeInto[ExternalConfirmation](data)
	case KindRevision:
		p, err = decodeInto[Revision](data)
	case KindConflictResolution:
		p, err = decodeInto[ConflictResolution](data)
	case KindHits:
		p, err = decodeInto[Hits](data)
	default:
		return nil, fault.Validation(op, "unknown proposal kind %q", kind)
	}
	if err != nil {
		return nil, fault.Validation(op, "%s: %v", kind, err)
	}
	return p, nil
}

func decodeInto[T Proposal](data []byte) (T, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	err := dec.Decode(&v)
	return v, err
}

// #endregion validation

func unit(v float64) bool { return v >= 0 && v <= 1 }

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

package memory

import (
	"fmt"
	"math"
	"strings"

	"github.com/Freshair129/agentic-agent/internal/lexicon"
)

// conflictReason reports why incoming conflicts with existing, or "" if it
// does not. Both entries are assumed to share a domain.
//
// Three rules apply in order: an explicit reference, a shared subject with
// opposite polarity, and a negation mismatch over overlapping content.
func conflictReason(existing, incoming Entry, explicit []string, minOverlap int) string {
	for _, id := range explicit {
		if id == existing.ID || id == existing.Root {
			return "explicit contradiction of " + existing.ID
		}
	}
	if existing.Subject != "" && strings.EqualFold(existing.Subject, incoming.Subject) &&
		existing.Polarity*incoming.Polarity < 0 {
		return fmt.Sprintf("opposite polarity on subject %q", strings.ToLower(existing.Subject))
	}
	if lexicon.Negated(existing.Content) != lexicon.Negated(incoming.Content) {
		shared := lexicon.Shared(lexicon.Tokenize(existing.Content), lexicon.Tokenize(incoming.Content))
		if shared >= minOverlap {
			return fmt.Sprintf("negation mismatch over %d shared terms", shared)
		}
	}
	return ""
}

// severity weighs the two confidences by domain. A confident existing entry
// in a strict domain yields the most severe conflict.
func severity(policy DomainPolicy, existingWeight float64, existing, incoming Entry) float64 {
	blend := existingWeight*existing.Confidence + (1-existingWeight)*incoming.Confidence
	return math.Min(1, policy.SeverityWeight*blend)
}

// Package lexicon holds the small text helpers shared by recall and conflict
// detection: tokenizing, keyword overlap and negation markers.
package lexicon

import (
	"strings"
	"unicode"
)

// #region stopwords
// stopwords contains common English words excluded from topic matching.
// Negation words are deliberately absent; see negations.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true,
	"was": true, "were": true, "do": true, "does": true, "did": true,
	"have": true, "has": true, "had": true, "be": true, "been": true,
	"being": true, "will": true, "would": true, "could": true, "should": true,
	"may": true, "might": true, "can": true, "shall": true,
	"and": true, "or": true, "but": true, "if": true,
	"then": true, "than": true, "so": true, "as": true, "at": true,
	"by": true, "for": true, "from": true, "in": true, "into": true,
	"of": true, "on": true, "to": true, "with": true, "about": true,
	"up": true, "out": true, "it": true, "its": true, "this": true,
	"that": true, "what": true, "which": true, "who": true, "how": true,
	"when": true, "where": true, "why": true, "you": true, "me": true,
	"i": true, "my": true, "your": true, "we": true, "they": true,
	"he": true, "she": true, "her": true, "him": true, "us": true,
	"them": true, "tell": true, "user": true,
}

// negations mark a statement as denying its content.
var negations = map[string]bool{
	"not": true, "no": true, "never": true, "none": true, "cannot": true,
	"dont": true, "doesnt": true, "isnt": true, "wont": true, "cant": true,
	"avoid": true, "avoids": true, "without": true, "allergic": true,
}
// #endregion stopwords

// words lowercases text, drops apostrophes and splits on non-letters.
func words(text string) []string {
	text = strings.NewReplacer("'", "", "’", "").Replace(strings.ToLower(text))
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r)
	})
}

// Tokenize splits text into unique lowercase content tokens, excluding
// stopwords and negation markers.
func Tokenize(text string) []string {
	seen := make(map[string]bool)
	var tokens []string
	for _, w := range words(text) {
		if len(w) < 2 || stopwords[w] || negations[w] || seen[w] {
			continue
		}
		seen[w] = true
		tokens = append(tokens, w)
	}
	return tokens
}

// Negated reports whether text carries a negation marker.
func Negated(text string) bool {
	for _, w := range words(text) {
		if negations[w] {
			return true
		}
	}
	return false
}

// Shared returns the count of tokens present in both slices.
func Shared(a, b []string) int {
	set := make(map[string]bool, len(a))
	for _, t := range a {
		set[t] = true
	}
	count := 0
	for _, t := range b {
		if set[t] {
			count++
		}
	}
	return count
}

// Jaccard returns |a∩b| / |a∪b| over token sets, 0 when both are empty.
func Jaccard(a, b []string) float64 {
	shared := Shared(a, b)
	union := len(a) + len(b) - shared
	if union == 0 {
		return 0
	}
	return float64(shared) / float64(union)
}

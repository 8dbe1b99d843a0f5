package lexicon

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenizeDropsStopwordsAndNegations(t *testing.T) {
	got := Tokenize("The user is NOT a fan of the rain, rain, rain")
	assert.Equal(t, []string{"fan", "rain"}, got)
}

func TestTokenizeJoinsContractions(t *testing.T) {
	assert.True(t, Negated("I don't eat shellfish"))
	assert.Equal(t, []string{"eat", "shellfish"}, Tokenize("I don't eat shellfish"))
}

func TestNegated(t *testing.T) {
	assert.True(t, Negated("never again"))
	assert.True(t, Negated("allergic to seafood"))
	assert.False(t, Negated("wants shrimp"))
}

func TestJaccard(t *testing.T) {
	a := Tokenize("quiet mornings coffee")
	b := Tokenize("coffee in quiet places")
	assert.InDelta(t, 2.0/4.0, Jaccard(a, b), 1e-9)
	assert.Equal(t, 0.0, Jaccard(nil, nil))
	assert.Equal(t, 2, Shared(a, b))
}

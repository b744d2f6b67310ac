package matcher

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/EchoCog/katocore/internal/types"
)

func TestCharSimilarityIdenticalStringsIsOne(t *testing.T) {
	assert.Equal(t, 1.0, charSimilarity("abc", "abc"))
}

func TestCharSimilarityEmptyBothIsOne(t *testing.T) {
	assert.Equal(t, 1.0, charSimilarity("", ""))
}

func TestTokenSimilarityIdenticalMultisetsIsOne(t *testing.T) {
	assert.Equal(t, 1.0, tokenSimilarity([]string{"a", "b"}, []string{"a", "b"}))
}

func TestTokenSimilarityDisjointIsZero(t *testing.T) {
	assert.Equal(t, 0.0, tokenSimilarity([]string{"a"}, []string{"b"}))
}

func TestAlignPresentNeverEmpty(t *testing.T) {
	stm := types.Sequence{types.CanonicalizeEvent([]string{"a"}), types.CanonicalizeEvent([]string{"b"})}
	pat := types.Sequence{
		types.CanonicalizeEvent([]string{"x"}),
		types.CanonicalizeEvent([]string{"a"}),
		types.CanonicalizeEvent([]string{"b"}),
		types.CanonicalizeEvent([]string{"y"}),
	}
	a := align(stm, pat, false)
	assert.NotEmpty(t, a.present)
}

func TestAlignExactMatchYieldsSimilarityOne(t *testing.T) {
	stm := types.Sequence{types.CanonicalizeEvent([]string{"a"}), types.CanonicalizeEvent([]string{"b"})}
	a := align(stm, stm, false)
	assert.Equal(t, 1.0, a.similarity)
	assert.Empty(t, a.past)
	assert.Empty(t, a.future)
}

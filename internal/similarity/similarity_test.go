package similarity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenizeDropsStopwordsAndShortTokens(t *testing.T) {
	tokens := Tokenize("I really love the color blue!")
	assert.Equal(t, []string{"love", "color", "blue"}, tokens)
}

func TestJaccard(t *testing.T) {
	assert.Equal(t, 1.0, Jaccard("favorite color blue", "blue color favorite"))
	assert.Equal(t, 0.0, Jaccard("database systems", "pizza toppings"))

	overlapping := Jaccard("my favorite color is blue", "i really love the color blue")
	disjoint := Jaccard("my favorite color is blue", "database systems rock")
	assert.Greater(t, overlapping, disjoint)
	assert.GreaterOrEqual(t, overlapping, 0.0)
	assert.LessOrEqual(t, overlapping, 1.0)
}

func TestJaccardEmpty(t *testing.T) {
	assert.Equal(t, 0.0, Jaccard("", "anything"))
	assert.Equal(t, 0.0, Jaccard("the a an", "words here"))
}

func TestTrigramDice(t *testing.T) {
	assert.Equal(t, 1.0, TrigramDice("machine learning", "machine learning"))
	near := TrigramDice("machine learning", "machine learner")
	far := TrigramDice("machine learning", "database systems")
	assert.Greater(t, near, far)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0, 0}, []float32{1, 0, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
}

func TestCosineDegenerateVectorsScoreZero(t *testing.T) {
	assert.Equal(t, 0.0, Cosine(nil, []float32{1}))
	assert.Equal(t, 0.0, Cosine([]float32{1, 2}, []float32{1, 2, 3}))
	assert.Equal(t, 0.0, Cosine([]float32{0, 0}, []float32{0, 0}))
}

func TestExtractKeywordsDeduplicates(t *testing.T) {
	kws := ExtractKeywords("blue blue sky blue")
	assert.Equal(t, []string{"blue", "sky"}, kws)
}

package extraction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeuristicExtractSplitsSentences(t *testing.T) {
	h := NewHeuristic()
	candidates, err := h.Extract(context.Background(),
		"I love pizza. The capital of France is Paris.", "a1", "")
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "I love pizza", candidates[0].Statement)
	assert.Equal(t, "preference", candidates[0].Category)
	assert.Equal(t, "fact", candidates[1].Category)
}

func TestHeuristicExtractSkipsFragments(t *testing.T) {
	h := NewHeuristic()
	candidates, err := h.Extract(context.Background(), "Ok. Yes!", "a1", "")
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestHeuristicHedgedStatementsScoreLower(t *testing.T) {
	h := NewHeuristic()
	candidates, err := h.Extract(context.Background(),
		"Maybe the meeting moved to Tuesday", "a1", "")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Less(t, candidates[0].Confidence, 0.5)
}

func TestHeuristicSimilarity(t *testing.T) {
	h := NewHeuristic()
	same, err := h.Similarity(context.Background(), "the color blue", "the color blue")
	require.NoError(t, err)
	assert.Equal(t, 1.0, same)

	far, err := h.Similarity(context.Background(), "favorite color blue", "database systems")
	require.NoError(t, err)
	assert.Less(t, far, 0.2)
}

func TestHeuristicContradictsValueFlip(t *testing.T) {
	h := NewHeuristic()
	got, err := h.Contradicts(context.Background(),
		"The capital of X is Foo", "The capital of X is Bar", "fact", "fact")
	require.NoError(t, err)
	assert.True(t, got)
}

func TestHeuristicContradictsNegation(t *testing.T) {
	h := NewHeuristic()
	got, err := h.Contradicts(context.Background(),
		"I like spicy food", "I don't like spicy food", "preference", "preference")
	require.NoError(t, err)
	assert.True(t, got)
}

func TestHeuristicNoContradictionOnRestatement(t *testing.T) {
	h := NewHeuristic()
	got, err := h.Contradicts(context.Background(),
		"My favorite color is blue", "I really love the color blue", "preference", "preference")
	require.NoError(t, err)
	assert.False(t, got)
}

func TestHeuristicMergeStatements(t *testing.T) {
	h := NewHeuristic()
	merged, err := h.MergeStatements(context.Background(), "A", "B")
	require.NoError(t, err)
	assert.Contains(t, merged, "A")
	assert.Contains(t, merged, "B")

	same, err := h.MergeStatements(context.Background(), "Same thing.", "same thing")
	require.NoError(t, err)
	assert.Equal(t, "Same thing.", same)
}

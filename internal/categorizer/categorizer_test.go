package categorizer

import (
	"context"
	"testing"

	"github.com/cibfe/cibfe/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategorizePreference(t *testing.T) {
	c := New()
	label, err := c.Categorize(context.Background(), "I love pizza", nil)
	require.NoError(t, err)
	assert.Equal(t, CategoryPreference, label.Primary)
	assert.Greater(t, label.Confidence, 0.4)
}

func TestCategorizeFact(t *testing.T) {
	c := New()
	label, err := c.Categorize(context.Background(), "The capital of France is Paris", nil)
	require.NoError(t, err)
	assert.Equal(t, CategoryFact, label.Primary)
}

func TestCategorizeConstraint(t *testing.T) {
	c := New()
	label, err := c.Categorize(context.Background(), "Deployments must never run on Fridays", nil)
	require.NoError(t, err)
	assert.Equal(t, CategoryConstraint, label.Primary)
}

func TestCategorizeUnmatchedFallsBackToGeneral(t *testing.T) {
	c := New()
	label, err := c.Categorize(context.Background(), "zxqv flurble", nil)
	require.NoError(t, err)
	assert.Equal(t, CategoryGeneral, label.Primary)
}

func TestCategorizeExtractsTags(t *testing.T) {
	c := New()
	label, err := c.Categorize(context.Background(),
		"Email bob@example.com or visit https://example.com before 2024-01-15", nil)
	require.NoError(t, err)
	assert.Contains(t, label.Tags, "email")
	assert.Contains(t, label.Tags, "url")
	assert.Contains(t, label.Tags, "date")
}

func TestCategorizeMetadataHintWins(t *testing.T) {
	c := New()
	label, err := c.Categorize(context.Background(), "I love pizza", map[string]string{"category": "food"})
	require.NoError(t, err)
	assert.Equal(t, "food", label.Primary)
	assert.Equal(t, 1.0, label.Confidence)
}

func TestCategorizeBatch(t *testing.T) {
	c := New()
	labels, err := c.CategorizeBatch(context.Background(), []string{"I love pizza", "The sky is blue"})
	require.NoError(t, err)
	require.Len(t, labels, 2)
	assert.Equal(t, CategoryPreference, labels[0].Primary)
	assert.Equal(t, CategoryFact, labels[1].Primary)
}

func TestSuggestAlternativesOrdered(t *testing.T) {
	c := New()
	alts, err := c.SuggestAlternatives(context.Background(), "I love pizza and it is great", 3)
	require.NoError(t, err)
	require.NotEmpty(t, alts)
	for i := 1; i < len(alts); i++ {
		assert.GreaterOrEqual(t, alts[i-1].Confidence, alts[i].Confidence)
	}
}

func TestFeedbackOverridesRules(t *testing.T) {
	c := New()
	ctx := context.Background()
	correct := domain.CategoryLabel{Primary: CategoryDecision, Confidence: 0.9}
	require.NoError(t, c.Feedback(ctx, "I love pizza", correct))

	label, err := c.Categorize(ctx, "I love pizza", nil)
	require.NoError(t, err)
	assert.Equal(t, CategoryDecision, label.Primary)
}

func TestFeedbackRejectsEmpty(t *testing.T) {
	c := New()
	err := c.Feedback(context.Background(), "", domain.CategoryLabel{Primary: "x"})
	assert.True(t, domain.IsKind(err, domain.KindInvalidInput))
}

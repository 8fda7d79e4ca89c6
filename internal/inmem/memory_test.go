package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cibfe/cibfe/internal/domain"
	"github.com/cibfe/cibfe/internal/embedding"
	"github.com/cibfe/cibfe/internal/store"
)

type tickClock struct {
	now time.Time
}

func (c *tickClock) Now() time.Time {
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func newTestStore() (*MemoryStore, *tickClock) {
	clock := &tickClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	s := NewMemoryStore(Options{Dimension: 16, Clock: clock.Now})
	return s, clock
}

func TestEncodeAndStoreRoundTrip(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	rec, err := s.EncodeAndStore(ctx, "u1", "I love pizza",
		domain.CategoryLabel{Primary: "preference", Confidence: 0.8},
		domain.MemoryMetadata{Source: "chat", Importance: 0.7}, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, 1, rec.Version)
	assert.Equal(t, 0.7, rec.RelevanceScore)

	got, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, "I love pizza", got.Content)
	assert.Equal(t, "u1", got.AgentID)
}

func TestEncodeAndStoreValidatesInvariants(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()

	_, err := s.EncodeAndStore(ctx, "", "content", domain.CategoryLabel{}, domain.MemoryMetadata{}, nil)
	assert.True(t, domain.IsKind(err, domain.KindInvalidInput))

	_, err = s.EncodeAndStore(ctx, "u1", "", domain.CategoryLabel{}, domain.MemoryMetadata{}, nil)
	assert.True(t, domain.IsKind(err, domain.KindInvalidInput))

	// Mismatched embedding dimension is rejected.
	_, err = s.EncodeAndStore(ctx, "u1", "x", domain.CategoryLabel{}, domain.MemoryMetadata{}, []float32{1, 2})
	assert.True(t, domain.IsKind(err, domain.KindInvalidInput))
}

func TestGetBumpsAccessBookkeeping(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	rec, err := s.EncodeAndStore(ctx, "u1", "note", domain.CategoryLabel{Primary: "general"}, domain.MemoryMetadata{}, nil)
	require.NoError(t, err)

	first, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	second, err := s.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Metadata.AccessCount)
	assert.Equal(t, 2, second.Metadata.AccessCount)
	assert.True(t, second.LastAccessed.After(first.CreatedAt))
	assert.Greater(t, second.RelevanceScore, rec.RelevanceScore)
}

func TestRemoveIsIdempotent(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	rec, err := s.EncodeAndStore(ctx, "u1", "note", domain.CategoryLabel{Primary: "general"}, domain.MemoryMetadata{}, nil)
	require.NoError(t, err)

	ok, err := s.Remove(ctx, rec.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Remove(ctx, rec.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUpdateUsesVersionCAS(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	rec, err := s.EncodeAndStore(ctx, "u1", "note", domain.CategoryLabel{Primary: "general"}, domain.MemoryMetadata{}, nil)
	require.NoError(t, err)

	stale := *rec
	rec.Content = "note v2"
	require.NoError(t, s.Update(ctx, rec))
	assert.Equal(t, 2, rec.Version)

	stale.Content = "conflicting write"
	err = s.Update(ctx, &stale)
	assert.ErrorIs(t, err, store.ErrVersionConflict)

	missing := *rec
	missing.ID = "nope"
	err = s.Update(ctx, &missing)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateReembedsChangedContent(t *testing.T) {
	s, _ := newTestStore()
	embedder := embedding.NewMockClient(16)
	s.SetEmbedder(embedder)
	ctx := context.Background()

	rec, err := s.EncodeAndStore(ctx, "u1", "original", domain.CategoryLabel{Primary: "general"}, domain.MemoryMetadata{}, nil)
	require.NoError(t, err)

	rec.Content = "changed content entirely"
	rec.Embedding = nil
	require.NoError(t, s.Update(ctx, rec))
	assert.Equal(t, []string{"changed content entirely"}, embedder.EmbedCalls)
}

func TestForAgentOrdersNewestFirst(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	first, _ := s.EncodeAndStore(ctx, "u1", "first", domain.CategoryLabel{Primary: "general"}, domain.MemoryMetadata{}, nil)
	second, _ := s.EncodeAndStore(ctx, "u1", "second", domain.CategoryLabel{Primary: "general"}, domain.MemoryMetadata{}, nil)
	_, _ = s.EncodeAndStore(ctx, "u2", "other agent", domain.CategoryLabel{Primary: "general"}, domain.MemoryMetadata{}, nil)

	records, err := s.ForAgent(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, second.ID, records[0].ID)
	assert.Equal(t, first.ID, records[1].ID)

	limited, err := s.ForAgent(ctx, "u1", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestOlderThan(t *testing.T) {
	s, clock := newTestStore()
	ctx := context.Background()
	old, _ := s.EncodeAndStore(ctx, "u1", "old", domain.CategoryLabel{Primary: "general"}, domain.MemoryMetadata{}, nil)
	clock.now = clock.now.Add(time.Hour)
	_, _ = s.EncodeAndStore(ctx, "u1", "fresh", domain.CategoryLabel{Primary: "general"}, domain.MemoryMetadata{}, nil)

	records, err := s.OlderThan(ctx, 30*time.Minute, "u1", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, old.ID, records[0].ID)
}

func TestSearchSimilarLexicalOrdering(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	_, _ = s.EncodeAndStore(ctx, "u5", "machine learning models and neural networks", domain.CategoryLabel{Primary: "fact"}, domain.MemoryMetadata{}, nil)
	_, _ = s.EncodeAndStore(ctx, "u5", "deep learning networks", domain.CategoryLabel{Primary: "fact"}, domain.MemoryMetadata{}, nil)
	_, _ = s.EncodeAndStore(ctx, "u5", "database systems administration", domain.CategoryLabel{Primary: "fact"}, domain.MemoryMetadata{}, nil)

	results, err := s.SearchSimilar(ctx, domain.SimilarityQuery{
		Text:    "neural networks learning",
		AgentID: "u5",
		Limit:   2,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NotContains(t, r.Content, "database")
	}
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
}

func TestSearchSimilarVectorPath(t *testing.T) {
	s, _ := newTestStore()
	embedder := embedding.NewMockClient(16)
	ctx := context.Background()

	embed := func(text string) []float32 {
		vec, err := embedder.Embed(ctx, text)
		require.NoError(t, err)
		return vec
	}

	_, _ = s.EncodeAndStore(ctx, "u5", "machine learning models", domain.CategoryLabel{Primary: "fact"}, domain.MemoryMetadata{}, embed("machine learning models"))
	_, _ = s.EncodeAndStore(ctx, "u5", "deep learning networks", domain.CategoryLabel{Primary: "fact"}, domain.MemoryMetadata{}, embed("deep learning networks"))
	_, _ = s.EncodeAndStore(ctx, "u5", "database systems", domain.CategoryLabel{Primary: "fact"}, domain.MemoryMetadata{}, embed("database systems"))

	results, err := s.SearchSimilar(ctx, domain.SimilarityQuery{
		Text:    "learning models",
		Vector:  embed("learning models"),
		AgentID: "u5",
		Limit:   2,
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
	for _, r := range results {
		assert.NotEqual(t, "database systems", r.Content)
	}
}

func TestSearchSimilarLimitBoundaries(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	_, _ = s.EncodeAndStore(ctx, "u5", "anything", domain.CategoryLabel{Primary: "general"}, domain.MemoryMetadata{}, nil)

	results, err := s.SearchSimilar(ctx, domain.SimilarityQuery{Text: "anything", AgentID: "u5", Limit: 0})
	require.NoError(t, err)
	assert.Empty(t, results)

	_, err = s.SearchSimilar(ctx, domain.SimilarityQuery{Text: "anything", AgentID: "u5", Limit: -1})
	assert.True(t, domain.IsKind(err, domain.KindInvalidInput))
}

func TestStatsCounters(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	_, _ = s.EncodeAndStore(ctx, "u1", "a", domain.CategoryLabel{Primary: "fact"}, domain.MemoryMetadata{}, nil)
	_, _ = s.EncodeAndStore(ctx, "u2", "b", domain.CategoryLabel{Primary: "preference"}, domain.MemoryMetadata{}, nil)

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.PerAgent["u1"])
	assert.Equal(t, int64(1), stats.PerCategory["fact"])
	assert.Equal(t, int64(2), stats.OperationCounts["encode_and_store"])
	assert.Greater(t, stats.Uptime, time.Duration(0))
}

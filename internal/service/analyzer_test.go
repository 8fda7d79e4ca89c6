package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cibfe/cibfe/internal/domain"
	"github.com/cibfe/cibfe/internal/extraction"
)

func ingestOK(t *testing.T, e *env, agentID, content string) *domain.IngestionResult {
	t.Helper()
	result, err := e.ingest.Ingest(context.Background(), domain.IngestionInput{
		AgentID: agentID,
		Content: content,
	})
	require.NoError(t, err)
	return result
}

func TestAnalyzerCreatesBeliefOnFirstExtraction(t *testing.T) {
	mock := extraction.NewMockClient()
	mock.ExtractResponse = []domain.CandidateBelief{
		{Statement: "My favorite color is blue", Category: "preference", Confidence: 0.9},
	}
	e := newEnv(mock)

	result := ingestOK(t, e, "u2", "My favorite color is blue")
	require.NotNil(t, result.BeliefUpdateResult)
	require.Len(t, result.BeliefUpdateResult.NewIDs, 1)

	b, err := e.beliefs.Get(context.Background(), result.BeliefUpdateResult.NewIDs[0])
	require.NoError(t, err)
	assert.Equal(t, 1, b.ReinforcementCount)
	assert.Len(t, b.EvidenceMemoryIDs, 1)
	assert.True(t, b.Active)
}

func TestAnalyzerReinforcesSimilarBelief(t *testing.T) {
	mock := extraction.NewMockClient()
	mock.ExtractResponse = []domain.CandidateBelief{
		{Statement: "My favorite color is blue", Category: "preference", Confidence: 0.9},
	}
	e := newEnv(mock)

	first := ingestOK(t, e, "u2", "My favorite color is blue")
	require.Len(t, first.BeliefUpdateResult.NewIDs, 1)
	beliefID := first.BeliefUpdateResult.NewIDs[0]

	mock.ExtractResponse = []domain.CandidateBelief{
		{Statement: "I really love the color blue", Category: "preference", Confidence: 0.8},
	}
	mock.SimilarityResponse = 0.9

	second := ingestOK(t, e, "u2", "I really love the color blue")
	require.NotNil(t, second.BeliefUpdateResult)
	assert.Contains(t, second.BeliefUpdateResult.ReinforcedIDs, beliefID)
	assert.Empty(t, second.BeliefUpdateResult.NewIDs)

	b, err := e.beliefs.Get(context.Background(), beliefID)
	require.NoError(t, err)
	assert.Equal(t, 2, b.ReinforcementCount)
	assert.Len(t, b.EvidenceMemoryIDs, 2)
	assert.InDelta(t, 0.95, b.Confidence, 1e-9)
}

func TestAnalyzerRetryIsIdempotent(t *testing.T) {
	mock := extraction.NewMockClient()
	mock.ExtractResponse = []domain.CandidateBelief{
		{Statement: "My favorite color is blue", Category: "preference", Confidence: 0.9},
	}
	mock.SimilarityResponse = 0.9
	e := newEnv(mock)
	ctx := context.Background()

	record, err := e.memories.EncodeAndStore(ctx, "u2", "My favorite color is blue",
		domain.CategoryLabel{Primary: "preference"}, domain.MemoryMetadata{}, nil)
	require.NoError(t, err)

	first, err := e.analyzer.Analyze(ctx, record)
	require.NoError(t, err)
	require.Len(t, first.NewIDs, 1)

	// Re-running the same memory is a no-op for the belief it fed.
	second, err := e.analyzer.Analyze(ctx, record)
	require.NoError(t, err)
	assert.True(t, second.Empty())

	b, err := e.beliefs.Get(ctx, first.NewIDs[0])
	require.NoError(t, err)
	assert.Equal(t, 1, b.ReinforcementCount)
	assert.Len(t, b.EvidenceMemoryIDs, 1)
}

func TestAnalyzerDropsLowConfidenceCandidates(t *testing.T) {
	mock := extraction.NewMockClient()
	mock.ExtractResponse = []domain.CandidateBelief{
		{Statement: "Probably something", Category: "general", Confidence: 0.1},
	}
	e := newEnv(mock)

	result := ingestOK(t, e, "u2", "probably something")
	require.NotNil(t, result.BeliefUpdateResult)
	assert.True(t, result.BeliefUpdateResult.Empty())
}

func TestAnalyzerConflictNewerWins(t *testing.T) {
	e := newEnv(extraction.NewHeuristic())
	ctx := context.Background()

	first := ingestOK(t, e, "u3", "The capital of X is Foo")
	require.Len(t, first.BeliefUpdateResult.NewIDs, 1)
	oldID := first.BeliefUpdateResult.NewIDs[0]

	second := ingestOK(t, e, "u3", "The capital of X is Bar")
	require.NotNil(t, second.BeliefUpdateResult)
	require.Len(t, second.BeliefUpdateResult.NewIDs, 1)
	assert.Contains(t, second.BeliefUpdateResult.DeprecatedIDs, oldID)
	require.Len(t, second.BeliefUpdateResult.ConflictIDs, 1)
	newID := second.BeliefUpdateResult.NewIDs[0]

	// Exactly one active belief remains, holding the newer statement.
	active, err := e.beliefs.ForAgent(ctx, "u3", false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Contains(t, active[0].Statement, "Bar")

	old, err := e.beliefs.Get(ctx, oldID)
	require.NoError(t, err)
	assert.False(t, old.Active)

	edges, err := e.graph.Between(ctx, newID, oldID, "u3")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, domain.RelSupersedes, edges[0].Type)
	assert.Equal(t, newID, edges[0].SourceBeliefID)
	assert.NotEmpty(t, edges[0].DeprecationReason)
	assert.True(t, edges[0].EffectiveAt(e.clock.Now()))

	deprecated, err := e.graph.DeprecatedBeliefs(ctx, "u3")
	require.NoError(t, err)
	assert.Contains(t, deprecated, oldID)

	conflict, err := e.beliefs.GetConflict(ctx, second.BeliefUpdateResult.ConflictIDs[0])
	require.NoError(t, err)
	assert.True(t, conflict.Resolved)
	assert.Equal(t, domain.ResolveNewerWins, conflict.ResolutionStrategy)
}

func TestAnalyzerConflictManualReview(t *testing.T) {
	mock := extraction.NewMockClient()
	mock.ExtractResponse = []domain.CandidateBelief{
		{Statement: "The office is in Berlin", Category: "fact", Confidence: 0.8},
	}
	e := newEnv(mock)
	ctx := context.Background()

	first := ingestOK(t, e, "u7", "The office is in Berlin")
	oldID := first.BeliefUpdateResult.NewIDs[0]

	cfg := e.cfg
	cfg.DefaultResolution = domain.ResolveManualReview
	e.analyzer = NewBeliefAnalyzer(mock, e.beliefs, e.graph, cfg, e.clock.Now, nil, zap.NewNop())

	mock.ExtractResponse = []domain.CandidateBelief{
		{Statement: "The office is in Munich", Category: "fact", Confidence: 0.8},
	}
	mock.ContradictsResponse = true

	record, err := e.memories.EncodeAndStore(ctx, "u7", "The office is in Munich",
		domain.CategoryLabel{Primary: "fact"}, domain.MemoryMetadata{}, nil)
	require.NoError(t, err)
	update, err := e.analyzer.Analyze(ctx, record)
	require.NoError(t, err)
	require.Len(t, update.NewIDs, 1)
	require.Len(t, update.ConflictIDs, 1)
	assert.Empty(t, update.DeprecatedIDs)

	// Both beliefs stay active and the conflict awaits a human.
	old, err := e.beliefs.Get(ctx, oldID)
	require.NoError(t, err)
	assert.True(t, old.Active)
	newBelief, err := e.beliefs.Get(ctx, update.NewIDs[0])
	require.NoError(t, err)
	assert.True(t, newBelief.Active)

	conflict, err := e.beliefs.GetConflict(ctx, update.ConflictIDs[0])
	require.NoError(t, err)
	assert.False(t, conflict.Resolved)
	assert.False(t, conflict.AutoResolvable)

	edges, err := e.graph.Between(ctx, update.NewIDs[0], oldID, "u7")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, domain.RelContradicts, edges[0].Type)
}

func TestAnalyzerConflictHigherConfidenceKeepsStanding(t *testing.T) {
	mock := extraction.NewMockClient()
	mock.ExtractResponse = []domain.CandidateBelief{
		{Statement: "Builds run on the main runner", Category: "fact", Confidence: 0.9},
	}
	e := newEnv(mock)
	ctx := context.Background()

	first := ingestOK(t, e, "u8", "Builds run on the main runner")
	oldID := first.BeliefUpdateResult.NewIDs[0]

	cfg := e.cfg
	cfg.DefaultResolution = domain.ResolveHigherConfidence
	e.analyzer = NewBeliefAnalyzer(mock, e.beliefs, e.graph, cfg, e.clock.Now, nil, zap.NewNop())

	mock.ExtractResponse = []domain.CandidateBelief{
		{Statement: "Builds run on the spare runner", Category: "fact", Confidence: 0.4},
	}
	mock.ContradictsResponse = true

	record, err := e.memories.EncodeAndStore(ctx, "u8", "Builds run on the spare runner",
		domain.CategoryLabel{Primary: "fact"}, domain.MemoryMetadata{}, nil)
	require.NoError(t, err)
	update, err := e.analyzer.Analyze(ctx, record)
	require.NoError(t, err)
	assert.Empty(t, update.DeprecatedIDs)
	require.Len(t, update.ConflictIDs, 1)

	old, err := e.beliefs.Get(ctx, oldID)
	require.NoError(t, err)
	assert.True(t, old.Active)
	assert.InDelta(t, 0.9, old.Confidence, 1e-9)
}

func TestAnalyzerRelatedBeliefGetsEdge(t *testing.T) {
	mock := extraction.NewMockClient()
	mock.ExtractResponse = []domain.CandidateBelief{
		{Statement: "The user likes blue walls", Category: "preference", Confidence: 0.8},
	}
	e := newEnv(mock)
	ctx := context.Background()

	first := ingestOK(t, e, "u9", "The user likes blue walls")
	peerID := first.BeliefUpdateResult.NewIDs[0]

	mock.ExtractResponse = []domain.CandidateBelief{
		{Statement: "The user likes blue furniture", Category: "preference", Confidence: 0.8},
	}
	mock.SimilarityResponse = 0.7

	second := ingestOK(t, e, "u9", "The user likes blue furniture")
	require.Len(t, second.BeliefUpdateResult.NewIDs, 1)
	newID := second.BeliefUpdateResult.NewIDs[0]

	edges, err := e.graph.Between(ctx, newID, peerID, "u9")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, domain.RelRelatesTo, edges[0].Type)
	assert.InDelta(t, 0.7, edges[0].Strength, 1e-9)
}

package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cibfe/cibfe/internal/categorizer"
	"github.com/cibfe/cibfe/internal/domain"
	"github.com/cibfe/cibfe/internal/extraction"
)

func TestIngestStoresAndRetrieves(t *testing.T) {
	e := newEnv(extraction.NewMockClient())
	ctx := context.Background()

	result, err := e.ingest.Ingest(ctx, domain.IngestionInput{
		AgentID: "u1",
		Content: "I love pizza",
		Source:  "chat",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, result.Status)
	assert.NotEmpty(t, result.MemoryID)
	assert.NotEmpty(t, result.Category.Primary)
	assert.True(t, result.EncodedSuccessfully)

	records, err := e.memories.ForAgent(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, result.MemoryID, records[0].ID)
	assert.Equal(t, "I love pizza", records[0].Content)
	assert.Equal(t, "chat", records[0].Metadata.Source)
}

func TestIngestRejectsBlankInput(t *testing.T) {
	e := newEnv(nil)
	ctx := context.Background()

	_, err := e.ingest.Ingest(ctx, domain.IngestionInput{AgentID: "", Content: "x"})
	assert.True(t, domain.IsKind(err, domain.KindInvalidInput))

	_, err = e.ingest.Ingest(ctx, domain.IngestionInput{AgentID: "u1", Content: "   "})
	assert.True(t, domain.IsKind(err, domain.KindInvalidInput))

	// Validation failure leaves no side effects.
	records, err := e.memories.ForAgent(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestIngestContentLengthBoundary(t *testing.T) {
	e := newEnv(nil)
	ctx := context.Background()

	atLimit := strings.Repeat("a", e.cfg.MaxContentLength)
	result, err := e.ingest.Ingest(ctx, domain.IngestionInput{AgentID: "u1", Content: atLimit})
	require.NoError(t, err)
	assert.True(t, result.EncodedSuccessfully)

	_, err = e.ingest.Ingest(ctx, domain.IngestionInput{AgentID: "u1", Content: atLimit + "a"})
	assert.True(t, domain.IsKind(err, domain.KindInvalidInput))
}

func TestIngestEmbeddingFailureIsNotFatal(t *testing.T) {
	e := newEnv(nil)
	e.embedder.EmbedError = errors.New("provider down")
	ctx := context.Background()

	result, err := e.ingest.Ingest(ctx, domain.IngestionInput{AgentID: "u1", Content: "The sky is blue"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, result.Status)
	assert.True(t, result.EncodedSuccessfully)
	assert.Contains(t, result.Metadata, "embedding_error")
}

func TestIngestAnalyzerFailureIsPartial(t *testing.T) {
	mock := extraction.NewMockClient()
	mock.ExtractError = errors.New("extractor down")
	e := newEnv(mock)
	ctx := context.Background()

	result, err := e.ingest.Ingest(ctx, domain.IngestionInput{AgentID: "u1", Content: "I love pizza"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPartial, result.Status)
	assert.True(t, result.EncodedSuccessfully)
	require.NotNil(t, result.BeliefUpdateResult)
	assert.NotEmpty(t, result.BeliefUpdateResult.Error)

	// The memory stays stored despite the analyzer failure.
	records, err := e.memories.ForAgent(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestDryRunPersistsNothing(t *testing.T) {
	e := newEnv(extraction.NewMockClient())
	ctx := context.Background()

	result, err := e.ingest.DryRun(ctx, domain.IngestionInput{AgentID: "u4", Content: "Meeting at 3pm"})
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.False(t, result.EncodedSuccessfully)
	assert.Empty(t, result.MemoryID)
	assert.NotEmpty(t, result.Category.Primary)

	records, err := e.memories.ForAgent(ctx, "u4", 10)
	require.NoError(t, err)
	assert.Empty(t, records)

	beliefs, err := e.beliefs.ForAgent(ctx, "u4", true)
	require.NoError(t, err)
	assert.Empty(t, beliefs)
}

func TestIngestCancelledBeforeStorage(t *testing.T) {
	e := newEnv(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.ingest.Ingest(ctx, domain.IngestionInput{AgentID: "u1", Content: "too late"})
	require.Error(t, err)

	records, ferr := e.memories.ForAgent(context.Background(), "u1", 0)
	require.NoError(t, ferr)
	assert.Empty(t, records)
}

func TestIngestWithAnalysisDisabled(t *testing.T) {
	mock := extraction.NewMockClient()
	mock.ExtractResponse = []domain.CandidateBelief{{Statement: "The sky is blue", Category: "fact", Confidence: 0.9}}
	e := newEnv(mock)
	e.cfg.EnableBeliefAnalysis = false
	e.ingest = NewIngestionService(e.cfg, categorizer.New(), e.embedder, e.memories, e.analyzer, e.clock.Now, zap.NewNop())
	ctx := context.Background()

	result, err := e.ingest.Ingest(ctx, domain.IngestionInput{AgentID: "u1", Content: "The sky is blue"})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusSuccess, result.Status)
	assert.Nil(t, result.BeliefUpdateResult)

	beliefs, err := e.beliefs.ForAgent(ctx, "u1", true)
	require.NoError(t, err)
	assert.Empty(t, beliefs)
	assert.Empty(t, mock.ExtractCalls)
}

package service

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cibfe/cibfe/internal/categorizer"
	"github.com/cibfe/cibfe/internal/config"
	"github.com/cibfe/cibfe/internal/domain"
	"github.com/cibfe/cibfe/internal/embedding"
	"github.com/cibfe/cibfe/internal/inmem"
)

// fakeClock hands out strictly increasing instants so created-at ordering is
// deterministic in tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

// env wires the in-memory backend to the services under test.
type env struct {
	cfg           config.SystemConfig
	clock         *fakeClock
	memories      *inmem.MemoryStore
	beliefs       *inmem.BeliefStore
	relationships *inmem.RelationshipStore
	graph         *GraphService
	embedder      *embedding.MockClient
	analyzer      *BeliefAnalyzer
	ingest        *IngestionService
}

func newEnv(extractor domain.BeliefExtractionProvider) *env {
	cfg := config.Default()
	cfg.EmbeddingDimension = 16

	clock := newFakeClock()
	logger := zap.NewNop()

	memories := inmem.NewMemoryStore(inmem.Options{
		BatchSize:    cfg.BatchSize,
		MaxResults:   cfg.MaxSimilarityResults,
		MinThreshold: cfg.SimilarityThreshold,
		Dimension:    cfg.EmbeddingDimension,
		Clock:        clock.Now,
	})
	beliefs := inmem.NewBeliefStore(clock.Now, nil)
	relationships := inmem.NewRelationshipStore(clock.Now, nil)
	graph := NewGraphService(relationships, beliefs, clock.Now, nil, logger)

	e := &env{
		cfg:           cfg,
		clock:         clock,
		memories:      memories,
		beliefs:       beliefs,
		relationships: relationships,
		graph:         graph,
		embedder:      embedding.NewMockClient(cfg.EmbeddingDimension),
	}
	if extractor != nil {
		e.analyzer = NewBeliefAnalyzer(extractor, beliefs, graph, cfg, clock.Now, nil, logger)
	}
	e.ingest = NewIngestionService(cfg, categorizer.New(), e.embedder, memories, e.analyzer, clock.Now, logger)
	return e
}

// Package inmem is a complete in-process backend implementing the same store
// interfaces as the Postgres package. It backs embedded deployments and the
// service-level tests. Vector search runs on a chromem collection per agent;
// the lexical path mirrors the text strategy.
package inmem

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/cibfe/cibfe/internal/domain"
	"github.com/cibfe/cibfe/internal/similarity"
	"github.com/cibfe/cibfe/internal/store"
	"github.com/google/uuid"
)

const accessBoost = 0.01

type Options struct {
	BatchSize    int
	MaxResults   int
	MinThreshold float64
	Dimension    int
	Clock        domain.Clock
	IDGen        domain.IdGenerator
}

func (o *Options) defaults() {
	if o.BatchSize <= 0 {
		o.BatchSize = 100
	}
	if o.MaxResults <= 0 {
		o.MaxResults = 50
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.IDGen == nil {
		o.IDGen = uuid.NewString
	}
}

type MemoryStore struct {
	opts Options

	mu       sync.RWMutex
	memories map[string]*domain.MemoryRecord
	vectors  *chromem.DB
	embedder domain.EmbeddingProvider

	started time.Time
	opsMu   sync.Mutex
	ops     map[string]int64
}

func NewMemoryStore(opts Options) *MemoryStore {
	opts.defaults()
	return &MemoryStore{
		opts:     opts,
		memories: make(map[string]*domain.MemoryRecord),
		vectors:  chromem.NewDB(),
		started:  opts.Clock(),
		ops:      make(map[string]int64),
	}
}

func (s *MemoryStore) SetEmbedder(e domain.EmbeddingProvider) {
	s.embedder = e
}

func (s *MemoryStore) count(op string) {
	s.opsMu.Lock()
	s.ops[op]++
	s.opsMu.Unlock()
}

func (s *MemoryStore) collection(agentID string) (*chromem.Collection, error) {
	return s.vectors.GetOrCreateCollection("agent:"+agentID, nil, func(ctx context.Context, text string) ([]float32, error) {
		// Embeddings are always supplied with the document; this func exists
		// only to satisfy the collection constructor.
		return nil, fmt.Errorf("no embedding func configured")
	})
}

func (s *MemoryStore) EncodeAndStore(ctx context.Context, agentID, content string, category domain.CategoryLabel, meta domain.MemoryMetadata, embedding []float32) (*domain.MemoryRecord, error) {
	now := s.opts.Clock()

	relevance := meta.Importance
	if relevance == 0 {
		relevance = 0.5
	}

	m := &domain.MemoryRecord{
		ID:             s.opts.IDGen(),
		AgentID:        agentID,
		Content:        content,
		Category:       category,
		Metadata:       meta,
		Embedding:      embedding,
		CreatedAt:      now,
		LastAccessed:   now,
		RelevanceScore: relevance,
		Version:        1,
	}
	if err := m.Validate(s.opts.Dimension); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories[m.ID] = cloneMemory(m)

	if len(embedding) > 0 {
		col, err := s.collection(agentID)
		if err != nil {
			delete(s.memories, m.ID)
			return nil, fmt.Errorf("vector collection: %w", err)
		}
		if err := col.AddDocument(ctx, chromem.Document{
			ID:        m.ID,
			Content:   content,
			Embedding: embedding,
		}); err != nil {
			delete(s.memories, m.ID)
			return nil, fmt.Errorf("index embedding: %w", err)
		}
	}
	s.count("encode_and_store")
	return m, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*domain.MemoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	m.LastAccessed = s.opts.Clock()
	m.Metadata.AccessCount++
	if m.RelevanceScore+accessBoost < 0.99 {
		m.RelevanceScore += accessBoost
	} else {
		m.RelevanceScore = 0.99
	}
	s.count("get")
	return cloneMemory(m), nil
}

func (s *MemoryStore) GetMany(ctx context.Context, ids []string) (map[string]*domain.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[string]*domain.MemoryRecord, len(ids))
	for _, id := range ids {
		if m, ok := s.memories[id]; ok {
			result[id] = cloneMemory(m)
		}
	}
	return result, nil
}

func (s *MemoryStore) Update(ctx context.Context, record *domain.MemoryRecord) error {
	if err := record.Validate(s.opts.Dimension); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.memories[record.ID]
	if !ok {
		return store.ErrNotFound
	}
	if old.Version != record.Version {
		return store.ErrVersionConflict
	}

	embedding := record.Embedding
	if len(embedding) == 0 && record.Content != old.Content && s.embedder != nil {
		if vec, err := s.embedder.Embed(ctx, record.Content); err == nil {
			embedding = vec
		}
	}
	if len(embedding) == 0 {
		embedding = old.Embedding
	}

	updated := cloneMemory(record)
	updated.Embedding = embedding
	updated.Version = old.Version + 1
	updated.CreatedAt = old.CreatedAt
	updated.LastAccessed = s.opts.Clock()
	s.memories[record.ID] = updated

	if len(embedding) > 0 && record.Content != old.Content {
		col, err := s.collection(record.AgentID)
		if err == nil {
			_ = col.Delete(ctx, nil, nil, record.ID)
			_ = col.AddDocument(ctx, chromem.Document{
				ID:        record.ID,
				Content:   record.Content,
				Embedding: embedding,
			})
		}
	}

	record.Version = updated.Version
	record.LastAccessed = updated.LastAccessed
	s.count("update")
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return false, nil
	}
	delete(s.memories, id)
	if len(m.Embedding) > 0 {
		if col, err := s.collection(m.AgentID); err == nil {
			_ = col.Delete(ctx, nil, nil, id)
		}
	}
	s.count("remove")
	return true, nil
}

func (s *MemoryStore) RemoveMany(ctx context.Context, ids []string) ([]string, error) {
	var removed []string
	for _, id := range ids {
		ok, err := s.Remove(ctx, id)
		if err != nil {
			return removed, err
		}
		if ok {
			removed = append(removed, id)
		}
	}
	return removed, nil
}

func (s *MemoryStore) ForAgent(ctx context.Context, agentID string, limit int) ([]domain.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []domain.MemoryRecord
	for _, m := range s.memories {
		if m.AgentID == agentID {
			result = append(result, *cloneMemory(m))
		}
	}
	sortNewestFirst(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) InCategory(ctx context.Context, category, agentID string, limit int) ([]domain.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []domain.MemoryRecord
	for _, m := range s.memories {
		if !m.Category.Matches(category) {
			continue
		}
		if agentID != "" && m.AgentID != agentID {
			continue
		}
		result = append(result, *cloneMemory(m))
	}
	sortNewestFirst(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *MemoryStore) OlderThan(ctx context.Context, age time.Duration, agentID string, limit int) ([]domain.MemoryRecord, error) {
	cutoff := s.opts.Clock().Add(-age)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []domain.MemoryRecord
	for _, m := range s.memories {
		if m.CreatedAt.After(cutoff) {
			continue
		}
		if agentID != "" && m.AgentID != agentID {
			continue
		}
		result = append(result, *cloneMemory(m))
	}
	sortNewestFirst(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// SearchSimilar prefers the chromem vector index when a query vector is
// available, falling back to lexical scoring within the same call.
func (s *MemoryStore) SearchSimilar(ctx context.Context, q domain.SimilarityQuery) ([]domain.MemoryWithScore, error) {
	if q.Limit < 0 {
		return nil, domain.E(domain.KindInvalidInput, "limit must be >= 0")
	}
	if q.Limit == 0 {
		return []domain.MemoryWithScore{}, nil
	}
	if q.Limit > s.opts.MaxResults {
		q.Limit = s.opts.MaxResults
	}
	if q.Threshold < s.opts.MinThreshold {
		q.Threshold = s.opts.MinThreshold
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	s.count("search_similar")

	if len(q.Vector) > 0 {
		results, err := s.vectorSearch(ctx, q)
		if err == nil && len(results) > 0 {
			return results, nil
		}
	}
	return s.lexicalSearch(q), nil
}

func (s *MemoryStore) vectorSearch(ctx context.Context, q domain.SimilarityQuery) ([]domain.MemoryWithScore, error) {
	col, err := s.collection(q.AgentID)
	if err != nil {
		return nil, err
	}
	n := q.Limit
	if count := col.Count(); n > count {
		n = count
	}
	if n == 0 {
		return nil, nil
	}

	docs, err := col.QueryEmbedding(ctx, q.Vector, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	var results []domain.MemoryWithScore
	for _, doc := range docs {
		score := float64(doc.Similarity)
		if score < q.Threshold {
			continue
		}
		m, ok := s.memories[doc.ID]
		if !ok {
			continue
		}
		results = append(results, domain.MemoryWithScore{MemoryRecord: *cloneMemory(m), Score: score})
	}
	return results, nil
}

func (s *MemoryStore) lexicalSearch(q domain.SimilarityQuery) []domain.MemoryWithScore {
	var results []domain.MemoryWithScore
	for _, m := range s.memories {
		if q.AgentID != "" && m.AgentID != q.AgentID {
			continue
		}
		score := similarity.Jaccard(q.Text, m.Content)
		if score == 0 && strings.Contains(strings.ToLower(m.Content), strings.ToLower(strings.TrimSpace(q.Text))) {
			score = 0.1
		}
		if score < q.Threshold || score == 0 {
			continue
		}
		results = append(results, domain.MemoryWithScore{MemoryRecord: *cloneMemory(m), Score: score})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].CreatedAt.After(results[j].CreatedAt)
	})
	if len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results
}

func (s *MemoryStore) Stats(ctx context.Context) (*domain.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := &domain.StoreStats{
		Total:           int64(len(s.memories)),
		PerAgent:        make(map[string]int64),
		PerCategory:     make(map[string]int64),
		OperationCounts: make(map[string]int64),
		Uptime:          s.opts.Clock().Sub(s.started),
	}
	for _, m := range s.memories {
		stats.PerAgent[m.AgentID]++
		stats.PerCategory[m.Category.Primary]++
	}
	s.opsMu.Lock()
	for op, n := range s.ops {
		stats.OperationCounts[op] = n
	}
	s.opsMu.Unlock()
	return stats, nil
}

func sortNewestFirst(records []domain.MemoryRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
}

func cloneMemory(m *domain.MemoryRecord) *domain.MemoryRecord {
	c := *m
	c.Category.Tags = append([]string(nil), m.Category.Tags...)
	c.Metadata.Tags = append([]string(nil), m.Metadata.Tags...)
	if m.Metadata.Extra != nil {
		c.Metadata.Extra = make(map[string]string, len(m.Metadata.Extra))
		for k, v := range m.Metadata.Extra {
			c.Metadata.Extra[k] = v
		}
	}
	c.Embedding = append([]float32(nil), m.Embedding...)
	return &c
}

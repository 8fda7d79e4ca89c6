package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cibfe/cibfe/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

const accessBoost = 0.01

// Options carries the store slice of the system config plus the injected
// clock and id generator.
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
	db       *pgxpool.Pool
	strategy *DefaultStrategy
	caps     Capabilities
	opts     Options
	embedder domain.EmbeddingProvider

	started time.Time
	mu      sync.Mutex
	ops     map[string]int64
}

func NewMemoryStore(db *pgxpool.Pool, strategy *DefaultStrategy, caps Capabilities, opts Options) *MemoryStore {
	opts.defaults()
	return &MemoryStore{
		db:       db,
		strategy: strategy,
		caps:     caps,
		opts:     opts,
		started:  opts.Clock(),
		ops:      make(map[string]int64),
	}
}

// SetEmbedder attaches the provider used to re-embed changed content on
// Update.
func (s *MemoryStore) SetEmbedder(e domain.EmbeddingProvider) {
	s.embedder = e
}

func (s *MemoryStore) count(op string) {
	s.mu.Lock()
	s.ops[op]++
	s.mu.Unlock()
}

// embeddingParam maps a vector to the column representation the probed
// backend uses.
func (s *MemoryStore) embeddingParam(embedding []float32) (any, error) {
	if len(embedding) == 0 {
		return nil, nil
	}
	if s.caps.Vector {
		v := pgvector.NewVector(embedding)
		return &v, nil
	}
	raw, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("marshal embedding: %w", err)
	}
	return raw, nil
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

	tagsJSON, err := json.Marshal(category.Tags)
	if err != nil {
		return nil, fmt.Errorf("marshal category tags: %w", err)
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	emb, err := s.embeddingParam(embedding)
	if err != nil {
		return nil, err
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO memories (id, agent_id, content, category_primary, category_secondary,
			category_tags, category_confidence, metadata, created_at, last_accessed,
			relevance_score, version, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		m.ID, m.AgentID, m.Content, category.Primary, category.Secondary,
		tagsJSON, category.Confidence, metaJSON, m.CreatedAt, m.LastAccessed,
		m.RelevanceScore, m.Version, emb,
	)
	if err != nil {
		return nil, fmt.Errorf("insert memory: %w", err)
	}
	s.count("encode_and_store")
	return m, nil
}

// Get returns a record and, in the same statement, bumps last_accessed,
// access_count and the usage relevance boost.
func (s *MemoryStore) Get(ctx context.Context, id string) (*domain.MemoryRecord, error) {
	row := s.db.QueryRow(ctx, fmt.Sprintf(
		`UPDATE memories
		 SET last_accessed = $2,
		     metadata = jsonb_set(metadata, '{access_count}',
		         to_jsonb(COALESCE((metadata->>'access_count')::int, 0) + 1)),
		     relevance_score = LEAST(relevance_score + $3, 0.99)
		 WHERE id = $1
		 RETURNING %s`, memoryColumns),
		id, s.opts.Clock(), accessBoost,
	)
	m, err := scanMemory(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get memory: %w", err)
	}
	s.count("get")
	return m, nil
}

func (s *MemoryStore) GetMany(ctx context.Context, ids []string) (map[string]*domain.MemoryRecord, error) {
	result := make(map[string]*domain.MemoryRecord, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	for _, chunk := range chunkStrings(ids, s.opts.BatchSize) {
		rows, err := s.db.Query(ctx, fmt.Sprintf(
			`SELECT %s FROM memories WHERE id = ANY($1)`, memoryColumns), chunk)
		if err != nil {
			return nil, fmt.Errorf("get many memories: %w", err)
		}
		for rows.Next() {
			m, err := scanMemory(rows)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan memory row: %w", err)
			}
			result[m.ID] = m
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("get many rows: %w", err)
		}
		rows.Close()
	}
	s.count("get_many")
	return result, nil
}

func (s *MemoryStore) Update(ctx context.Context, record *domain.MemoryRecord) error {
	if err := record.Validate(s.opts.Dimension); err != nil {
		return err
	}

	old, err := s.fetch(ctx, record.ID)
	if err != nil {
		return err
	}

	embedding := record.Embedding
	if len(embedding) == 0 && record.Content != old.Content && s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, record.Content)
		if err == nil {
			embedding = vec
		}
	}

	tagsJSON, err := json.Marshal(record.Category.Tags)
	if err != nil {
		return fmt.Errorf("marshal category tags: %w", err)
	}
	metaJSON, err := json.Marshal(record.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	emb, err := s.embeddingParam(embedding)
	if err != nil {
		return err
	}

	now := s.opts.Clock()
	tag, err := s.db.Exec(ctx,
		`UPDATE memories
		 SET content = $3, category_primary = $4, category_secondary = $5,
		     category_tags = $6, category_confidence = $7, metadata = $8,
		     last_accessed = $9, relevance_score = $10, version = version + 1,
		     embedding = COALESCE($11, embedding)
		 WHERE id = $1 AND version = $2`,
		record.ID, record.Version, record.Content, record.Category.Primary,
		record.Category.Secondary, tagsJSON, record.Category.Confidence,
		metaJSON, now, record.RelevanceScore, emb,
	)
	if err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	record.Version++
	record.LastAccessed = now
	if len(embedding) > 0 {
		record.Embedding = embedding
	}
	s.count("update")
	return nil
}

// fetch reads a record without the access-bump side effect.
func (s *MemoryStore) fetch(ctx context.Context, id string) (*domain.MemoryRecord, error) {
	row := s.db.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM memories WHERE id = $1`, memoryColumns), id)
	m, err := scanMemory(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch memory: %w", err)
	}
	return m, nil
}

func (s *MemoryStore) Remove(ctx context.Context, id string) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM memories WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("remove memory: %w", err)
	}
	s.count("remove")
	return tag.RowsAffected() > 0, nil
}

// RemoveMany deletes in batch-size chunks, each chunk in its own
// transaction. A failing chunk rolls back alone; later chunks still run.
func (s *MemoryStore) RemoveMany(ctx context.Context, ids []string) ([]string, error) {
	var removed []string
	var firstErr error

	for _, chunk := range chunkStrings(ids, s.opts.BatchSize) {
		chunkRemoved, err := s.removeChunk(ctx, chunk)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		removed = append(removed, chunkRemoved...)
	}
	s.count("remove_many")
	return removed, firstErr
}

func (s *MemoryStore) removeChunk(ctx context.Context, chunk []string) ([]string, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin remove chunk: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `DELETE FROM memories WHERE id = ANY($1) RETURNING id`, chunk)
	if err != nil {
		return nil, fmt.Errorf("remove chunk: %w", err)
	}
	var removed []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan removed id: %w", err)
		}
		removed = append(removed, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("remove chunk rows: %w", err)
	}
	rows.Close()

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit remove chunk: %w", err)
	}
	return removed, nil
}

func (s *MemoryStore) ForAgent(ctx context.Context, agentID string, limit int) ([]domain.MemoryRecord, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM memories WHERE agent_id = $1 ORDER BY created_at DESC`, memoryColumns)
	args := []any{agentID}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	s.count("for_agent")
	return s.list(ctx, query, args...)
}

func (s *MemoryStore) InCategory(ctx context.Context, category, agentID string, limit int) ([]domain.MemoryRecord, error) {
	var conditions []string
	var args []any

	args = append(args, category)
	conditions = append(conditions, "(category_primary = $1 OR category_secondary = $1)")
	if agentID != "" {
		args = append(args, agentID)
		conditions = append(conditions, fmt.Sprintf("agent_id = $%d", len(args)))
	}

	query := fmt.Sprintf(`SELECT %s FROM memories WHERE %s ORDER BY created_at DESC`,
		memoryColumns, strings.Join(conditions, " AND "))
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	s.count("in_category")
	return s.list(ctx, query, args...)
}

func (s *MemoryStore) OlderThan(ctx context.Context, age time.Duration, agentID string, limit int) ([]domain.MemoryRecord, error) {
	cutoff := s.opts.Clock().Add(-age)

	var conditions []string
	var args []any

	args = append(args, cutoff)
	conditions = append(conditions, "created_at <= $1")
	if agentID != "" {
		args = append(args, agentID)
		conditions = append(conditions, fmt.Sprintf("agent_id = $%d", len(args)))
	}

	query := fmt.Sprintf(`SELECT %s FROM memories WHERE %s ORDER BY created_at DESC`,
		memoryColumns, strings.Join(conditions, " AND "))
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	s.count("older_than")
	return s.list(ctx, query, args...)
}

func (s *MemoryStore) list(ctx context.Context, query string, args ...any) ([]domain.MemoryRecord, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var memories []domain.MemoryRecord
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		memories = append(memories, *m)
	}
	return memories, rows.Err()
}

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
	s.count("search_similar")
	return s.strategy.Search(ctx, q)
}

func (s *MemoryStore) Stats(ctx context.Context) (*domain.StoreStats, error) {
	stats := &domain.StoreStats{
		PerAgent:        make(map[string]int64),
		PerCategory:     make(map[string]int64),
		OperationCounts: make(map[string]int64),
		Uptime:          s.opts.Clock().Sub(s.started),
	}

	if err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM memories`).Scan(&stats.Total); err != nil {
		return nil, fmt.Errorf("count memories: %w", err)
	}

	rows, err := s.db.Query(ctx, `SELECT agent_id, COUNT(*) FROM memories GROUP BY agent_id`)
	if err != nil {
		return nil, fmt.Errorf("count per agent: %w", err)
	}
	for rows.Next() {
		var agent string
		var n int64
		if err := rows.Scan(&agent, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan agent count: %w", err)
		}
		stats.PerAgent[agent] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.Query(ctx, `SELECT category_primary, COUNT(*) FROM memories GROUP BY category_primary`)
	if err != nil {
		return nil, fmt.Errorf("count per category: %w", err)
	}
	for rows.Next() {
		var cat string
		var n int64
		if err := rows.Scan(&cat, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan category count: %w", err)
		}
		stats.PerCategory[cat] = n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	for op, n := range s.ops {
		stats.OperationCounts[op] = n
	}
	s.mu.Unlock()
	return stats, nil
}

func chunkStrings(ids []string, size int) [][]string {
	if size <= 0 {
		size = len(ids)
	}
	var chunks [][]string
	for len(ids) > 0 {
		n := size
		if n > len(ids) {
			n = len(ids)
		}
		chunks = append(chunks, ids[:n])
		ids = ids[n:]
	}
	return chunks
}

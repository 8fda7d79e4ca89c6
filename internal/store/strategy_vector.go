package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/cibfe/cibfe/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// VectorStrategy runs k-NN over the pgvector embedding column with cosine
// similarity. Without a query vector it falls back to the lexical path
// within the same call.
type VectorStrategy struct {
	db *pgxpool.Pool
}

func NewVectorStrategy(db *pgxpool.Pool) *VectorStrategy {
	return &VectorStrategy{db: db}
}

func (s *VectorStrategy) Name() string { return "vector" }

func (s *VectorStrategy) SupportsVectorSearch() bool { return true }

func (s *VectorStrategy) Initialize(ctx context.Context) error {
	caps, err := DetectCapabilities(ctx, s.db)
	if err != nil {
		return err
	}
	if !caps.Vector {
		return domain.E(domain.KindBackendUnavailable, "vector extension not installed")
	}
	return nil
}

func (s *VectorStrategy) ValidateSchema(ctx context.Context) error {
	return validateMemoriesSchema(ctx, s.db)
}

func (s *VectorStrategy) Search(ctx context.Context, q domain.SimilarityQuery) ([]domain.MemoryWithScore, error) {
	if len(q.Vector) == 0 {
		return textSearch(ctx, s.db, q)
	}

	vec := pgvector.NewVector(q.Vector)

	var conditions []string
	var args []any

	args = append(args, vec)
	scoreExpr := fmt.Sprintf("1 - (embedding <=> $%d)", len(args))
	conditions = append(conditions, "embedding IS NOT NULL")
	conditions = append(conditions, fmt.Sprintf("%s >= $2", scoreExpr))
	args = append(args, q.Threshold)

	if q.AgentID != "" {
		args = append(args, q.AgentID)
		conditions = append(conditions, fmt.Sprintf("agent_id = $%d", len(args)))
	}

	args = append(args, q.Limit)
	query := fmt.Sprintf(
		`SELECT %s, %s AS score FROM memories WHERE %s ORDER BY score DESC LIMIT $%d`,
		memoryColumns, scoreExpr, strings.Join(conditions, " AND "), len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vector search query: %w", err)
	}
	defer rows.Close()

	var results []domain.MemoryWithScore
	for rows.Next() {
		ms, err := scanMemoryWithScore(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vector search row: %w", err)
		}
		results = append(results, ms)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("vector search rows: %w", err)
	}
	return results, nil
}

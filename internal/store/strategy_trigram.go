package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/cibfe/cibfe/internal/domain"
	"github.com/cibfe/cibfe/internal/similarity"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TrigramStrategy scores with pg_trgm similarity over keyword-extracted
// query text. It has no vector path.
type TrigramStrategy struct {
	db *pgxpool.Pool
}

func NewTrigramStrategy(db *pgxpool.Pool) *TrigramStrategy {
	return &TrigramStrategy{db: db}
}

func (s *TrigramStrategy) Name() string { return "trigram" }

func (s *TrigramStrategy) SupportsVectorSearch() bool { return false }

func (s *TrigramStrategy) Initialize(ctx context.Context) error {
	caps, err := DetectCapabilities(ctx, s.db)
	if err != nil {
		return err
	}
	if !caps.Trigram {
		return domain.E(domain.KindBackendUnavailable, "pg_trgm extension not installed")
	}
	return nil
}

func (s *TrigramStrategy) ValidateSchema(ctx context.Context) error {
	return validateMemoriesSchema(ctx, s.db)
}

func (s *TrigramStrategy) Search(ctx context.Context, q domain.SimilarityQuery) ([]domain.MemoryWithScore, error) {
	keywords := similarity.ExtractKeywords(q.Text)
	matchText := strings.Join(keywords, " ")
	if matchText == "" {
		matchText = strings.TrimSpace(q.Text)
	}

	var conditions []string
	var args []any

	args = append(args, matchText)
	conditions = append(conditions, "similarity(content, $1) >= $2")
	args = append(args, q.Threshold)

	if q.AgentID != "" {
		args = append(args, q.AgentID)
		conditions = append(conditions, fmt.Sprintf("agent_id = $%d", len(args)))
	}

	args = append(args, q.Limit)
	query := fmt.Sprintf(
		`SELECT %s, similarity(content, $1) AS score
		 FROM memories WHERE %s
		 ORDER BY score DESC, created_at DESC LIMIT $%d`,
		memoryColumns, strings.Join(conditions, " AND "), len(args))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("trigram search query: %w", err)
	}
	defer rows.Close()

	var results []domain.MemoryWithScore
	for rows.Next() {
		ms, err := scanMemoryWithScore(rows)
		if err != nil {
			return nil, fmt.Errorf("scan trigram search row: %w", err)
		}
		results = append(results, ms)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("trigram search rows: %w", err)
	}
	return results, nil
}

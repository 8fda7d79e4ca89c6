package store

import (
	"context"

	"github.com/cibfe/cibfe/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TextStrategy is the lexical fallback: case-insensitive keyword match with
// token-overlap scoring and recency tiebreak. It works on any backend.
type TextStrategy struct {
	db *pgxpool.Pool
}

func NewTextStrategy(db *pgxpool.Pool) *TextStrategy {
	return &TextStrategy{db: db}
}

func (s *TextStrategy) Name() string { return "text" }

func (s *TextStrategy) SupportsVectorSearch() bool { return false }

func (s *TextStrategy) Initialize(ctx context.Context) error { return nil }

func (s *TextStrategy) ValidateSchema(ctx context.Context) error {
	return validateMemoriesSchema(ctx, s.db)
}

func (s *TextStrategy) Search(ctx context.Context, q domain.SimilarityQuery) ([]domain.MemoryWithScore, error) {
	return textSearch(ctx, s.db, q)
}

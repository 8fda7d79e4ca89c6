package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/cibfe/cibfe/internal/domain"
	"github.com/cibfe/cibfe/internal/similarity"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const memoryColumns = `id, agent_id, content, category_primary, category_secondary,
	category_tags, category_confidence, metadata, created_at, last_accessed,
	relevance_score, version`

func scanMemory(row pgx.Row) (*domain.MemoryRecord, error) {
	m := &domain.MemoryRecord{}
	var tagsJSON, metaJSON []byte
	err := row.Scan(&m.ID, &m.AgentID, &m.Content, &m.Category.Primary,
		&m.Category.Secondary, &tagsJSON, &m.Category.Confidence, &metaJSON,
		&m.CreatedAt, &m.LastAccessed, &m.RelevanceScore, &m.Version)
	if err != nil {
		return nil, err
	}
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &m.Category.Tags); err != nil {
			return nil, fmt.Errorf("unmarshal category tags: %w", err)
		}
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &m.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return m, nil
}

func scanMemoryWithScore(rows pgx.Rows) (domain.MemoryWithScore, error) {
	var ms domain.MemoryWithScore
	var tagsJSON, metaJSON []byte
	err := rows.Scan(&ms.ID, &ms.AgentID, &ms.Content, &ms.Category.Primary,
		&ms.Category.Secondary, &tagsJSON, &ms.Category.Confidence, &metaJSON,
		&ms.CreatedAt, &ms.LastAccessed, &ms.RelevanceScore, &ms.Version, &ms.Score)
	if err != nil {
		return ms, err
	}
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &ms.Category.Tags); err != nil {
			return ms, fmt.Errorf("unmarshal category tags: %w", err)
		}
	}
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &ms.Metadata); err != nil {
			return ms, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return ms, nil
}

// textSearch is the shared lexical path: case-insensitive keyword match in
// SQL, token-overlap scoring in Go, recency tiebreak. The vector strategy
// falls back to it within the same call when no query vector is available.
func textSearch(ctx context.Context, db *pgxpool.Pool, q domain.SimilarityQuery) ([]domain.MemoryWithScore, error) {
	keywords := similarity.ExtractKeywords(q.Text)
	patterns := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		patterns = append(patterns, "%"+kw+"%")
	}
	if len(patterns) == 0 {
		patterns = append(patterns, "%"+strings.TrimSpace(q.Text)+"%")
	}

	var conditions []string
	var args []any

	args = append(args, patterns)
	conditions = append(conditions, fmt.Sprintf("content ILIKE ANY($%d)", len(args)))

	if q.AgentID != "" {
		args = append(args, q.AgentID)
		conditions = append(conditions, fmt.Sprintf("agent_id = $%d", len(args)))
	}

	query := fmt.Sprintf(`SELECT %s FROM memories WHERE %s ORDER BY created_at DESC`,
		memoryColumns, strings.Join(conditions, " AND "))

	rows, err := db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("text search query: %w", err)
	}
	defer rows.Close()

	var results []domain.MemoryWithScore
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, fmt.Errorf("scan text search row: %w", err)
		}
		score := similarity.Jaccard(q.Text, m.Content)
		if score < q.Threshold {
			continue
		}
		results = append(results, domain.MemoryWithScore{MemoryRecord: *m, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("text search rows: %w", err)
	}

	// Rows arrive newest-first, so the stable sort keeps recency as the
	// tiebreak within equal scores.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

func validateMemoriesSchema(ctx context.Context, db *pgxpool.Pool) error {
	var reg *string
	if err := db.QueryRow(ctx, `SELECT to_regclass('memories')::text`).Scan(&reg); err != nil {
		return fmt.Errorf("validate schema: %w", err)
	}
	if reg == nil {
		return domain.E(domain.KindBackendUnavailable, "memories table missing")
	}
	return nil
}

package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cibfe/cibfe/internal/domain"
	"github.com/cibfe/cibfe/internal/similarity"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const beliefColumns = `id, agent_id, statement, normalized_statement, confidence,
	category, reinforcement_count, active, created_at, last_updated, version`

// findSimilarScanCap bounds the Go-side lexical scoring path: statements are
// scored over at most this many of the agent's active beliefs.
const findSimilarScanCap = 500

type BeliefStore struct {
	db    *pgxpool.Pool
	caps  Capabilities
	clock domain.Clock
	idgen domain.IdGenerator
}

func NewBeliefStore(db *pgxpool.Pool, caps Capabilities, clock domain.Clock, idgen domain.IdGenerator) *BeliefStore {
	if clock == nil {
		clock = time.Now
	}
	if idgen == nil {
		idgen = uuid.NewString
	}
	return &BeliefStore{db: db, caps: caps, clock: clock, idgen: idgen}
}

func (s *BeliefStore) Store(ctx context.Context, b *domain.Belief) error {
	if strings.TrimSpace(b.Statement) == "" {
		return domain.E(domain.KindInvalidInput, "statement is required")
	}
	if strings.TrimSpace(b.AgentID) == "" {
		return domain.E(domain.KindInvalidInput, "agent_id is required")
	}

	now := s.clock()
	if b.ID == "" {
		b.ID = s.idgen()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.LastUpdated = now
	if b.Version == 0 {
		b.Version = 1
	}
	if b.ReinforcementCount == 0 {
		b.ReinforcementCount = len(b.EvidenceMemoryIDs)
		if b.ReinforcementCount == 0 {
			b.ReinforcementCount = 1
		}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin store belief: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO beliefs (id, agent_id, statement, normalized_statement, confidence,
			category, reinforcement_count, active, created_at, last_updated, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		b.ID, b.AgentID, b.Statement, domain.NormalizeStatement(b.Statement),
		b.Confidence, b.Category, b.ReinforcementCount, b.Active,
		b.CreatedAt, b.LastUpdated, b.Version,
	)
	if err != nil {
		return fmt.Errorf("insert belief: %w", err)
	}
	if err := s.writeChildren(ctx, tx, b); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit store belief: %w", err)
	}
	return nil
}

func (s *BeliefStore) StoreMany(ctx context.Context, beliefs []*domain.Belief) error {
	for _, b := range beliefs {
		if err := s.Store(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

func (s *BeliefStore) writeChildren(ctx context.Context, tx pgx.Tx, b *domain.Belief) error {
	if _, err := tx.Exec(ctx, `DELETE FROM belief_evidence WHERE belief_id = $1`, b.ID); err != nil {
		return fmt.Errorf("clear belief evidence: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM belief_tags WHERE belief_id = $1`, b.ID); err != nil {
		return fmt.Errorf("clear belief tags: %w", err)
	}
	for _, memID := range b.EvidenceMemoryIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO belief_evidence (belief_id, memory_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			b.ID, memID); err != nil {
			return fmt.Errorf("insert belief evidence: %w", err)
		}
	}
	for _, tag := range b.Tags {
		if _, err := tx.Exec(ctx,
			`INSERT INTO belief_tags (belief_id, tag) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			b.ID, tag); err != nil {
			return fmt.Errorf("insert belief tag: %w", err)
		}
	}
	return nil
}

func (s *BeliefStore) Get(ctx context.Context, id string) (*domain.Belief, error) {
	row := s.db.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM beliefs WHERE id = $1`, beliefColumns), id)
	b, err := scanBelief(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get belief: %w", err)
	}
	if err := s.hydrate(ctx, []*domain.Belief{b}); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *BeliefStore) Update(ctx context.Context, b *domain.Belief) error {
	now := s.clock()
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update belief: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE beliefs
		 SET statement = $3, normalized_statement = $4, confidence = $5, category = $6,
		     reinforcement_count = $7, active = $8, last_updated = $9, version = version + 1
		 WHERE id = $1 AND version = $2`,
		b.ID, b.Version, b.Statement, domain.NormalizeStatement(b.Statement),
		b.Confidence, b.Category, b.ReinforcementCount, b.Active, now,
	)
	if err != nil {
		return fmt.Errorf("update belief: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM beliefs WHERE id = $1)`, b.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check belief exists: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	if err := s.writeChildren(ctx, tx, b); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit update belief: %w", err)
	}
	b.Version++
	b.LastUpdated = now
	return nil
}

func (s *BeliefStore) ForAgent(ctx context.Context, agentID string, includeInactive bool) ([]domain.Belief, error) {
	query := fmt.Sprintf(`SELECT %s FROM beliefs WHERE agent_id = $1`, beliefColumns)
	if !includeInactive {
		query += ` AND active`
	}
	query += ` ORDER BY created_at DESC`
	return s.listAndHydrate(ctx, query, agentID)
}

func (s *BeliefStore) InCategory(ctx context.Context, category, agentID string, includeInactive bool) ([]domain.Belief, error) {
	query := fmt.Sprintf(`SELECT %s FROM beliefs WHERE category = $1 AND agent_id = $2`, beliefColumns)
	if !includeInactive {
		query += ` AND active`
	}
	query += ` ORDER BY created_at DESC`
	return s.listAndHydrate(ctx, query, category, agentID)
}

func (s *BeliefStore) Search(ctx context.Context, text, agentID string, limit int) ([]domain.Belief, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM beliefs
		 WHERE agent_id = $1 AND active AND statement ILIKE $2
		 ORDER BY created_at DESC`, beliefColumns)
	args := []any{agentID, "%" + strings.TrimSpace(text) + "%"}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	return s.listAndHydrate(ctx, query, args...)
}

// FindSimilar scores active statements against the given one. With pg_trgm
// the scoring runs in SQL; otherwise candidates are fetched and scored in Go.
// A threshold of 1.0 matches only statements equal after normalization.
func (s *BeliefStore) FindSimilar(ctx context.Context, statement, agentID string, threshold float64, limit int) ([]domain.BeliefWithScore, error) {
	if limit <= 0 {
		limit = 10
	}

	if threshold >= 1.0 {
		beliefs, err := s.listAndHydrate(ctx, fmt.Sprintf(
			`SELECT %s FROM beliefs WHERE agent_id = $1 AND active AND normalized_statement = $2`,
			beliefColumns), agentID, domain.NormalizeStatement(statement))
		if err != nil {
			return nil, err
		}
		var out []domain.BeliefWithScore
		for _, b := range beliefs {
			out = append(out, domain.BeliefWithScore{Belief: b, Score: 1.0})
			if len(out) >= limit {
				break
			}
		}
		return out, nil
	}

	if s.caps.Trigram {
		query := fmt.Sprintf(
			`SELECT %s, similarity(statement, $1) AS score
			 FROM beliefs
			 WHERE agent_id = $2 AND active AND similarity(statement, $1) >= $3
			   AND similarity(statement, $1) > 0
			 ORDER BY score DESC LIMIT $4`, beliefColumns)
		rows, err := s.db.Query(ctx, query, statement, agentID, threshold, limit)
		if err != nil {
			return nil, fmt.Errorf("find similar beliefs: %w", err)
		}
		defer rows.Close()

		var scored []domain.BeliefWithScore
		var beliefs []*domain.Belief
		for rows.Next() {
			var bs domain.BeliefWithScore
			err := rows.Scan(&bs.ID, &bs.AgentID, &bs.Statement, new(string), &bs.Confidence,
				&bs.Category, &bs.ReinforcementCount, &bs.Active, &bs.CreatedAt,
				&bs.LastUpdated, &bs.Version, &bs.Score)
			if err != nil {
				return nil, fmt.Errorf("scan similar belief: %w", err)
			}
			scored = append(scored, bs)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("find similar rows: %w", err)
		}
		for i := range scored {
			beliefs = append(beliefs, &scored[i].Belief)
		}
		if err := s.hydrate(ctx, beliefs); err != nil {
			return nil, err
		}
		return scored, nil
	}

	// Go-side scoring over a bounded candidate set.
	beliefs, err := s.listAndHydrate(ctx, fmt.Sprintf(
		`SELECT %s FROM beliefs WHERE agent_id = $1 AND active
		 ORDER BY last_updated DESC LIMIT %d`, beliefColumns, findSimilarScanCap), agentID)
	if err != nil {
		return nil, err
	}

	var scored []domain.BeliefWithScore
	for _, b := range beliefs {
		score := similarity.Jaccard(statement, b.Statement)
		if score == 0 || score < threshold {
			continue
		}
		scored = append(scored, domain.BeliefWithScore{Belief: b, Score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (s *BeliefStore) Deactivate(ctx context.Context, id string) (bool, error) {
	return s.setActive(ctx, id, false)
}

func (s *BeliefStore) Reactivate(ctx context.Context, id string) (bool, error) {
	return s.setActive(ctx, id, true)
}

func (s *BeliefStore) setActive(ctx context.Context, id string, active bool) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE beliefs SET active = $2, last_updated = $3, version = version + 1
		 WHERE id = $1 AND active = $4`,
		id, active, s.clock(), !active)
	if err != nil {
		return false, fmt.Errorf("set belief active: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *BeliefStore) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM beliefs WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete belief: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *BeliefStore) listAndHydrate(ctx context.Context, query string, args ...any) ([]domain.Belief, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list beliefs: %w", err)
	}
	defer rows.Close()

	var beliefs []domain.Belief
	for rows.Next() {
		b, err := scanBelief(rows)
		if err != nil {
			return nil, fmt.Errorf("scan belief row: %w", err)
		}
		beliefs = append(beliefs, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ptrs := make([]*domain.Belief, len(beliefs))
	for i := range beliefs {
		ptrs[i] = &beliefs[i]
	}
	if err := s.hydrate(ctx, ptrs); err != nil {
		return nil, err
	}
	return beliefs, nil
}

// hydrate loads the evidence and tag child collections for a page of
// beliefs. IDs are paged first, then children fetched per page; no limited
// query ever joins the collections.
func (s *BeliefStore) hydrate(ctx context.Context, beliefs []*domain.Belief) error {
	if len(beliefs) == 0 {
		return nil
	}
	byID := make(map[string]*domain.Belief, len(beliefs))
	ids := make([]string, 0, len(beliefs))
	for _, b := range beliefs {
		byID[b.ID] = b
		ids = append(ids, b.ID)
	}

	rows, err := s.db.Query(ctx,
		`SELECT belief_id, memory_id FROM belief_evidence WHERE belief_id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("load belief evidence: %w", err)
	}
	for rows.Next() {
		var beliefID, memoryID string
		if err := rows.Scan(&beliefID, &memoryID); err != nil {
			rows.Close()
			return fmt.Errorf("scan belief evidence: %w", err)
		}
		if b := byID[beliefID]; b != nil {
			b.EvidenceMemoryIDs = append(b.EvidenceMemoryIDs, memoryID)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.db.Query(ctx,
		`SELECT belief_id, tag FROM belief_tags WHERE belief_id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("load belief tags: %w", err)
	}
	for rows.Next() {
		var beliefID, tag string
		if err := rows.Scan(&beliefID, &tag); err != nil {
			rows.Close()
			return fmt.Errorf("scan belief tag: %w", err)
		}
		if b := byID[beliefID]; b != nil {
			b.Tags = append(b.Tags, tag)
		}
	}
	rows.Close()
	return rows.Err()
}

func scanBelief(row pgx.Row) (*domain.Belief, error) {
	b := &domain.Belief{}
	var normalized string
	err := row.Scan(&b.ID, &b.AgentID, &b.Statement, &normalized, &b.Confidence,
		&b.Category, &b.ReinforcementCount, &b.Active, &b.CreatedAt,
		&b.LastUpdated, &b.Version)
	if err != nil {
		return nil, err
	}
	return b, nil
}

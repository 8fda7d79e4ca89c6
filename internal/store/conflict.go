package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cibfe/cibfe/internal/domain"
	"github.com/jackc/pgx/v5"
)

const conflictColumns = `id, agent_id, new_evidence_memory_id, description, conflict_type,
	severity, detected_at, resolved, resolved_at, resolution_strategy, auto_resolvable`

func (s *BeliefStore) StoreConflict(ctx context.Context, c *domain.BeliefConflict) error {
	if len(c.BeliefIDs) < 2 {
		return domain.E(domain.KindInvalidInput, "a conflict references at least two beliefs")
	}
	if c.ID == "" {
		c.ID = s.idgen()
	}
	if c.DetectedAt.IsZero() {
		c.DetectedAt = s.clock()
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin store conflict: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO belief_conflicts (id, agent_id, new_evidence_memory_id, description,
			conflict_type, severity, detected_at, resolved, resolved_at,
			resolution_strategy, auto_resolvable)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.ID, c.AgentID, c.NewEvidenceMemoryID, c.Description, c.ConflictType,
		c.Severity, c.DetectedAt, c.Resolved, c.ResolvedAt,
		c.ResolutionStrategy, c.AutoResolvable,
	)
	if err != nil {
		return fmt.Errorf("insert conflict: %w", err)
	}
	for _, beliefID := range c.BeliefIDs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO conflict_beliefs (conflict_id, belief_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			c.ID, beliefID); err != nil {
			return fmt.Errorf("insert conflict belief: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit store conflict: %w", err)
	}
	return nil
}

func (s *BeliefStore) GetConflict(ctx context.Context, id string) (*domain.BeliefConflict, error) {
	row := s.db.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM belief_conflicts WHERE id = $1`, conflictColumns), id)
	c, err := scanConflict(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get conflict: %w", err)
	}
	if err := s.hydrateConflicts(ctx, []*domain.BeliefConflict{c}); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *BeliefStore) ConflictsForAgent(ctx context.Context, agentID string, includeResolved bool) ([]domain.BeliefConflict, error) {
	query := fmt.Sprintf(`SELECT %s FROM belief_conflicts WHERE agent_id = $1`, conflictColumns)
	if !includeResolved {
		query += ` AND NOT resolved`
	}
	query += ` ORDER BY detected_at DESC`

	rows, err := s.db.Query(ctx, query, agentID)
	if err != nil {
		return nil, fmt.Errorf("list conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []domain.BeliefConflict
	for rows.Next() {
		c, err := scanConflict(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conflict row: %w", err)
		}
		conflicts = append(conflicts, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ptrs := make([]*domain.BeliefConflict, len(conflicts))
	for i := range conflicts {
		ptrs[i] = &conflicts[i]
	}
	if err := s.hydrateConflicts(ctx, ptrs); err != nil {
		return nil, err
	}
	return conflicts, nil
}

func (s *BeliefStore) ResolveConflict(ctx context.Context, id string, strategy domain.ResolutionStrategy, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE belief_conflicts SET resolved = TRUE, resolved_at = $2, resolution_strategy = $3
		 WHERE id = $1 AND NOT resolved`,
		id, at, strategy)
	if err != nil {
		return false, fmt.Errorf("resolve conflict: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *BeliefStore) DeleteConflict(ctx context.Context, id string) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM belief_conflicts WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete conflict: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *BeliefStore) hydrateConflicts(ctx context.Context, conflicts []*domain.BeliefConflict) error {
	if len(conflicts) == 0 {
		return nil
	}
	byID := make(map[string]*domain.BeliefConflict, len(conflicts))
	ids := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		byID[c.ID] = c
		ids = append(ids, c.ID)
	}

	rows, err := s.db.Query(ctx,
		`SELECT conflict_id, belief_id FROM conflict_beliefs WHERE conflict_id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("load conflict beliefs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var conflictID, beliefID string
		if err := rows.Scan(&conflictID, &beliefID); err != nil {
			return fmt.Errorf("scan conflict belief: %w", err)
		}
		if c := byID[conflictID]; c != nil {
			c.BeliefIDs = append(c.BeliefIDs, beliefID)
		}
	}
	return rows.Err()
}

func scanConflict(row pgx.Row) (*domain.BeliefConflict, error) {
	c := &domain.BeliefConflict{}
	var conflictType, severity, strategy string
	err := row.Scan(&c.ID, &c.AgentID, &c.NewEvidenceMemoryID, &c.Description,
		&conflictType, &severity, &c.DetectedAt, &c.Resolved, &c.ResolvedAt,
		&strategy, &c.AutoResolvable)
	if err != nil {
		return nil, err
	}
	c.ConflictType = domain.ConflictType(conflictType)
	c.Severity = domain.ConflictSeverity(severity)
	c.ResolutionStrategy = domain.ResolutionStrategy(strings.TrimSpace(strategy))
	return c, nil
}

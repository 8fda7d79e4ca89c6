package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cibfe/cibfe/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const relationshipColumns = `id, source_belief_id, target_belief_id, agent_id, type,
	strength, effective_from, effective_until, deprecation_reason, priority,
	created_at, last_updated, active`

type RelationshipStore struct {
	db    *pgxpool.Pool
	clock domain.Clock
	idgen domain.IdGenerator
}

func NewRelationshipStore(db *pgxpool.Pool, clock domain.Clock, idgen domain.IdGenerator) *RelationshipStore {
	if clock == nil {
		clock = time.Now
	}
	if idgen == nil {
		idgen = uuid.NewString
	}
	return &RelationshipStore{db: db, clock: clock, idgen: idgen}
}

func (s *RelationshipStore) Create(ctx context.Context, r *domain.BeliefRelationship) error {
	now := s.clock()
	if r.ID == "" {
		r.ID = s.idgen()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.LastUpdated = now

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create relationship: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO belief_relationships (id, source_belief_id, target_belief_id, agent_id,
			type, strength, effective_from, effective_until, deprecation_reason, priority,
			created_at, last_updated, active)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		r.ID, r.SourceBeliefID, r.TargetBeliefID, r.AgentID, r.Type, r.Strength,
		r.EffectiveFrom, r.EffectiveUntil, r.DeprecationReason, r.Priority,
		r.CreatedAt, r.LastUpdated, r.Active,
	)
	if err != nil {
		return fmt.Errorf("insert relationship: %w", err)
	}
	if err := s.writeMetadata(ctx, tx, r); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create relationship: %w", err)
	}
	return nil
}

func (s *RelationshipStore) writeMetadata(ctx context.Context, tx pgx.Tx, r *domain.BeliefRelationship) error {
	if _, err := tx.Exec(ctx,
		`DELETE FROM belief_relationship_metadata WHERE relationship_id = $1`, r.ID); err != nil {
		return fmt.Errorf("clear relationship metadata: %w", err)
	}
	for k, v := range r.Metadata {
		if _, err := tx.Exec(ctx,
			`INSERT INTO belief_relationship_metadata (relationship_id, key, value) VALUES ($1, $2, $3)`,
			r.ID, k, v); err != nil {
			return fmt.Errorf("insert relationship metadata: %w", err)
		}
	}
	return nil
}

func (s *RelationshipStore) Get(ctx context.Context, id string) (*domain.BeliefRelationship, error) {
	row := s.db.QueryRow(ctx, fmt.Sprintf(
		`SELECT %s FROM belief_relationships WHERE id = $1`, relationshipColumns), id)
	r, err := scanRelationship(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get relationship: %w", err)
	}
	if err := s.hydrate(ctx, []*domain.BeliefRelationship{r}); err != nil {
		return nil, err
	}
	return r, nil
}

func (s *RelationshipStore) Update(ctx context.Context, r *domain.BeliefRelationship) error {
	now := s.clock()
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update relationship: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE belief_relationships
		 SET strength = $2, effective_from = $3, effective_until = $4,
		     deprecation_reason = $5, priority = $6, last_updated = $7, active = $8
		 WHERE id = $1`,
		r.ID, r.Strength, r.EffectiveFrom, r.EffectiveUntil,
		r.DeprecationReason, r.Priority, now, r.Active,
	)
	if err != nil {
		return fmt.Errorf("update relationship: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	if err := s.writeMetadata(ctx, tx, r); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit update relationship: %w", err)
	}
	r.LastUpdated = now
	return nil
}

func (s *RelationshipStore) Deactivate(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE belief_relationships SET active = FALSE, last_updated = $2
		 WHERE id = $1 AND active`, id, at)
	if err != nil {
		return false, fmt.Errorf("deactivate relationship: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *RelationshipStore) Reactivate(ctx context.Context, id string, at time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx,
		`UPDATE belief_relationships SET active = TRUE, last_updated = $2
		 WHERE id = $1 AND NOT active`, id, at)
	if err != nil {
		return false, fmt.Errorf("reactivate relationship: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *RelationshipStore) Delete(ctx context.Context, id string) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM belief_relationships WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete relationship: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *RelationshipStore) Outgoing(ctx context.Context, beliefID string) ([]domain.BeliefRelationship, error) {
	return s.list(ctx, fmt.Sprintf(
		`SELECT %s FROM belief_relationships WHERE source_belief_id = $1 ORDER BY strength DESC`,
		relationshipColumns), beliefID)
}

func (s *RelationshipStore) Incoming(ctx context.Context, beliefID string) ([]domain.BeliefRelationship, error) {
	return s.list(ctx, fmt.Sprintf(
		`SELECT %s FROM belief_relationships WHERE target_belief_id = $1 ORDER BY strength DESC`,
		relationshipColumns), beliefID)
}

func (s *RelationshipStore) ByType(ctx context.Context, t domain.RelationshipType, agentID string) ([]domain.BeliefRelationship, error) {
	return s.list(ctx, fmt.Sprintf(
		`SELECT %s FROM belief_relationships WHERE agent_id = $1 AND type = $2 ORDER BY created_at DESC`,
		relationshipColumns), agentID, t)
}

func (s *RelationshipStore) Between(ctx context.Context, a, b, agentID string) ([]domain.BeliefRelationship, error) {
	return s.list(ctx, fmt.Sprintf(
		`SELECT %s FROM belief_relationships
		 WHERE agent_id = $1
		   AND ((source_belief_id = $2 AND target_belief_id = $3)
		     OR (source_belief_id = $3 AND target_belief_id = $2))
		 ORDER BY created_at DESC`,
		relationshipColumns), agentID, a, b)
}

func (s *RelationshipStore) ForAgent(ctx context.Context, agentID string, includeInactive bool) ([]domain.BeliefRelationship, error) {
	query := fmt.Sprintf(`SELECT %s FROM belief_relationships WHERE agent_id = $1`, relationshipColumns)
	if !includeInactive {
		query += ` AND active`
	}
	query += ` ORDER BY created_at DESC`
	return s.list(ctx, query, agentID)
}

// PruneInactive hard-deletes inactive edges not updated since the cutoff.
// Each edge is deleted in its own statement so a failure skips only that
// edge.
func (s *RelationshipStore) PruneInactive(ctx context.Context, agentID string, cutoff time.Time) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id FROM belief_relationships
		 WHERE agent_id = $1 AND NOT active AND last_updated < $2`,
		agentID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list prunable relationships: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan prunable id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var pruned []string
	var firstErr error
	for _, id := range ids {
		if _, err := s.db.Exec(ctx, `DELETE FROM belief_relationships WHERE id = $1`, id); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("prune relationship %s: %w", id, err)
			}
			continue
		}
		pruned = append(pruned, id)
	}
	return pruned, firstErr
}

func (s *RelationshipStore) list(ctx context.Context, query string, args ...any) ([]domain.BeliefRelationship, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	defer rows.Close()

	var rels []domain.BeliefRelationship
	for rows.Next() {
		r, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("scan relationship row: %w", err)
		}
		rels = append(rels, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	ptrs := make([]*domain.BeliefRelationship, len(rels))
	for i := range rels {
		ptrs[i] = &rels[i]
	}
	if err := s.hydrate(ctx, ptrs); err != nil {
		return nil, err
	}
	return rels, nil
}

func (s *RelationshipStore) hydrate(ctx context.Context, rels []*domain.BeliefRelationship) error {
	if len(rels) == 0 {
		return nil
	}
	byID := make(map[string]*domain.BeliefRelationship, len(rels))
	ids := make([]string, 0, len(rels))
	for _, r := range rels {
		byID[r.ID] = r
		ids = append(ids, r.ID)
	}

	rows, err := s.db.Query(ctx,
		`SELECT relationship_id, key, value FROM belief_relationship_metadata
		 WHERE relationship_id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("load relationship metadata: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var relID, k, v string
		if err := rows.Scan(&relID, &k, &v); err != nil {
			return fmt.Errorf("scan relationship metadata: %w", err)
		}
		if r := byID[relID]; r != nil {
			if r.Metadata == nil {
				r.Metadata = make(map[string]string)
			}
			r.Metadata[k] = v
		}
	}
	return rows.Err()
}

func scanRelationship(row pgx.Row) (*domain.BeliefRelationship, error) {
	r := &domain.BeliefRelationship{}
	var relType string
	err := row.Scan(&r.ID, &r.SourceBeliefID, &r.TargetBeliefID, &r.AgentID, &relType,
		&r.Strength, &r.EffectiveFrom, &r.EffectiveUntil, &r.DeprecationReason,
		&r.Priority, &r.CreatedAt, &r.LastUpdated, &r.Active)
	if err != nil {
		return nil, err
	}
	r.Type = domain.RelationshipType(relType)
	return r, nil
}

package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// EnsureSchema creates the four logical tables and their indices. The
// embedding column type depends on the probed vector capability; without the
// extension embeddings are kept as jsonb. Tables that already exist are left
// as they are, so the column type is not converted when the extension is
// installed later.
func EnsureSchema(ctx context.Context, db *pgxpool.Pool, caps Capabilities, dimension int) error {
	embeddingCol := "embedding JSONB"
	if caps.Vector {
		embeddingCol = fmt.Sprintf("embedding vector(%d)", dimension)
	}

	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			content TEXT NOT NULL,
			category_primary TEXT NOT NULL DEFAULT 'general',
			category_secondary TEXT NOT NULL DEFAULT '',
			category_tags JSONB NOT NULL DEFAULT '[]',
			category_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			metadata JSONB NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			last_accessed TIMESTAMPTZ NOT NULL,
			relevance_score DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			version INT NOT NULL DEFAULT 1,
			%s
		)`, embeddingCol),
		`CREATE INDEX IF NOT EXISTS idx_memories_agent ON memories (agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_agent_created ON memories (agent_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_category ON memories (category_primary)`,

		`CREATE TABLE IF NOT EXISTS beliefs (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			statement TEXT NOT NULL,
			normalized_statement TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			category TEXT NOT NULL DEFAULT 'general',
			reinforcement_count INT NOT NULL DEFAULT 1,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL,
			last_updated TIMESTAMPTZ NOT NULL,
			version INT NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_beliefs_agent ON beliefs (agent_id)`,
		`CREATE INDEX IF NOT EXISTS idx_beliefs_agent_active ON beliefs (agent_id, active)`,
		`CREATE INDEX IF NOT EXISTS idx_beliefs_category ON beliefs (category)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_beliefs_unique_statement
			ON beliefs (agent_id, normalized_statement) WHERE active`,

		`CREATE TABLE IF NOT EXISTS belief_evidence (
			belief_id TEXT NOT NULL REFERENCES beliefs(id) ON DELETE CASCADE,
			memory_id TEXT NOT NULL,
			PRIMARY KEY (belief_id, memory_id)
		)`,
		`CREATE TABLE IF NOT EXISTS belief_tags (
			belief_id TEXT NOT NULL REFERENCES beliefs(id) ON DELETE CASCADE,
			tag TEXT NOT NULL,
			PRIMARY KEY (belief_id, tag)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_belief_tags_tag ON belief_tags (tag)`,

		`CREATE TABLE IF NOT EXISTS belief_conflicts (
			id TEXT PRIMARY KEY,
			agent_id TEXT NOT NULL,
			new_evidence_memory_id TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			conflict_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			detected_at TIMESTAMPTZ NOT NULL,
			resolved BOOLEAN NOT NULL DEFAULT FALSE,
			resolved_at TIMESTAMPTZ,
			resolution_strategy TEXT NOT NULL DEFAULT '',
			auto_resolvable BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conflicts_agent ON belief_conflicts (agent_id)`,
		`CREATE TABLE IF NOT EXISTS conflict_beliefs (
			conflict_id TEXT NOT NULL REFERENCES belief_conflicts(id) ON DELETE CASCADE,
			belief_id TEXT NOT NULL,
			PRIMARY KEY (conflict_id, belief_id)
		)`,

		`CREATE TABLE IF NOT EXISTS belief_relationships (
			id TEXT PRIMARY KEY,
			source_belief_id TEXT NOT NULL,
			target_belief_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			type TEXT NOT NULL,
			strength DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			effective_from TIMESTAMPTZ,
			effective_until TIMESTAMPTZ,
			deprecation_reason TEXT NOT NULL DEFAULT '',
			priority INT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL,
			last_updated TIMESTAMPTZ NOT NULL,
			active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE INDEX IF NOT EXISTS idx_rel_source ON belief_relationships (source_belief_id)`,
		`CREATE INDEX IF NOT EXISTS idx_rel_target ON belief_relationships (target_belief_id)`,
		`CREATE INDEX IF NOT EXISTS idx_rel_agent_type ON belief_relationships (agent_id, type)`,
		`CREATE INDEX IF NOT EXISTS idx_rel_agent_active ON belief_relationships (agent_id, active)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_rel_unique_active
			ON belief_relationships (source_belief_id, target_belief_id, type, agent_id) WHERE active`,

		`CREATE TABLE IF NOT EXISTS belief_relationship_metadata (
			relationship_id TEXT NOT NULL REFERENCES belief_relationships(id) ON DELETE CASCADE,
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (relationship_id, key)
		)`,
	}

	if caps.Trigram {
		stmts = append(stmts,
			`CREATE INDEX IF NOT EXISTS idx_memories_content_trgm ON memories USING gin (content gin_trgm_ops)`)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Package store is the Postgres backend: raw SQL over pgxpool, capability
// probing, and the similarity strategies the probe selects between.
package store

import "github.com/cibfe/cibfe/internal/domain"

var (
	_ domain.MemoryStore       = (*MemoryStore)(nil)
	_ domain.BeliefStore       = (*BeliefStore)(nil)
	_ domain.RelationshipStore = (*RelationshipStore)(nil)

	_ domain.SearchStrategy = (*DefaultStrategy)(nil)
	_ domain.SearchStrategy = (*VectorStrategy)(nil)
	_ domain.SearchStrategy = (*TrigramStrategy)(nil)
	_ domain.SearchStrategy = (*TextStrategy)(nil)
)

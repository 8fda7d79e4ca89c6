package inmem

import "github.com/cibfe/cibfe/internal/domain"

var (
	_ domain.MemoryStore       = (*MemoryStore)(nil)
	_ domain.BeliefStore       = (*BeliefStore)(nil)
	_ domain.RelationshipStore = (*RelationshipStore)(nil)
)

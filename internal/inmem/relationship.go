package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cibfe/cibfe/internal/domain"
	"github.com/cibfe/cibfe/internal/store"
	"github.com/google/uuid"
)

type RelationshipStore struct {
	clock domain.Clock
	idgen domain.IdGenerator

	mu    sync.RWMutex
	edges map[string]*domain.BeliefRelationship
}

func NewRelationshipStore(clock domain.Clock, idgen domain.IdGenerator) *RelationshipStore {
	if clock == nil {
		clock = time.Now
	}
	if idgen == nil {
		idgen = uuid.NewString
	}
	return &RelationshipStore{
		clock: clock,
		idgen: idgen,
		edges: make(map[string]*domain.BeliefRelationship),
	}
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

	s.mu.Lock()
	defer s.mu.Unlock()
	if r.Active {
		for _, e := range s.edges {
			if e.Active && e.AgentID == r.AgentID && e.Type == r.Type &&
				e.SourceBeliefID == r.SourceBeliefID && e.TargetBeliefID == r.TargetBeliefID {
				return domain.E(domain.KindInvalidEdge, "duplicate active edge")
			}
		}
	}
	s.edges[r.ID] = cloneRelationship(r)
	return nil
}

func (s *RelationshipStore) Get(ctx context.Context, id string) (*domain.BeliefRelationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.edges[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneRelationship(r), nil
}

func (s *RelationshipStore) Update(ctx context.Context, r *domain.BeliefRelationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.edges[r.ID]
	if !ok {
		return store.ErrNotFound
	}
	updated := cloneRelationship(r)
	updated.CreatedAt = old.CreatedAt
	updated.LastUpdated = s.clock()
	s.edges[r.ID] = updated
	r.LastUpdated = updated.LastUpdated
	return nil
}

func (s *RelationshipStore) Deactivate(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.edges[id]
	if !ok || !r.Active {
		return false, nil
	}
	r.Active = false
	r.LastUpdated = at
	return true, nil
}

func (s *RelationshipStore) Reactivate(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.edges[id]
	if !ok || r.Active {
		return false, nil
	}
	r.Active = true
	r.LastUpdated = at
	return true, nil
}

func (s *RelationshipStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.edges[id]; !ok {
		return false, nil
	}
	delete(s.edges, id)
	return true, nil
}

func (s *RelationshipStore) Outgoing(ctx context.Context, beliefID string) ([]domain.BeliefRelationship, error) {
	return s.filter(func(r *domain.BeliefRelationship) bool {
		return r.SourceBeliefID == beliefID
	}), nil
}

func (s *RelationshipStore) Incoming(ctx context.Context, beliefID string) ([]domain.BeliefRelationship, error) {
	return s.filter(func(r *domain.BeliefRelationship) bool {
		return r.TargetBeliefID == beliefID
	}), nil
}

func (s *RelationshipStore) ByType(ctx context.Context, t domain.RelationshipType, agentID string) ([]domain.BeliefRelationship, error) {
	return s.filter(func(r *domain.BeliefRelationship) bool {
		return r.AgentID == agentID && r.Type == t
	}), nil
}

func (s *RelationshipStore) Between(ctx context.Context, a, b, agentID string) ([]domain.BeliefRelationship, error) {
	return s.filter(func(r *domain.BeliefRelationship) bool {
		if r.AgentID != agentID {
			return false
		}
		return (r.SourceBeliefID == a && r.TargetBeliefID == b) ||
			(r.SourceBeliefID == b && r.TargetBeliefID == a)
	}), nil
}

func (s *RelationshipStore) ForAgent(ctx context.Context, agentID string, includeInactive bool) ([]domain.BeliefRelationship, error) {
	return s.filter(func(r *domain.BeliefRelationship) bool {
		if r.AgentID != agentID {
			return false
		}
		return includeInactive || r.Active
	}), nil
}

func (s *RelationshipStore) PruneInactive(ctx context.Context, agentID string, cutoff time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pruned []string
	for id, r := range s.edges {
		if r.AgentID == agentID && !r.Active && r.LastUpdated.Before(cutoff) {
			delete(s.edges, id)
			pruned = append(pruned, id)
		}
	}
	return pruned, nil
}

func (s *RelationshipStore) filter(keep func(*domain.BeliefRelationship) bool) []domain.BeliefRelationship {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []domain.BeliefRelationship
	for _, r := range s.edges {
		if keep(r) {
			result = append(result, *cloneRelationship(r))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result
}

func cloneRelationship(r *domain.BeliefRelationship) *domain.BeliefRelationship {
	c := *r
	if r.EffectiveFrom != nil {
		t := *r.EffectiveFrom
		c.EffectiveFrom = &t
	}
	if r.EffectiveUntil != nil {
		t := *r.EffectiveUntil
		c.EffectiveUntil = &t
	}
	if r.Metadata != nil {
		c.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

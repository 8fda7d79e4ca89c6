package inmem

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cibfe/cibfe/internal/domain"
	"github.com/cibfe/cibfe/internal/similarity"
	"github.com/cibfe/cibfe/internal/store"
	"github.com/google/uuid"
)

type BeliefStore struct {
	clock domain.Clock
	idgen domain.IdGenerator

	mu        sync.RWMutex
	beliefs   map[string]*domain.Belief
	conflicts map[string]*domain.BeliefConflict
}

func NewBeliefStore(clock domain.Clock, idgen domain.IdGenerator) *BeliefStore {
	if clock == nil {
		clock = time.Now
	}
	if idgen == nil {
		idgen = uuid.NewString
	}
	return &BeliefStore{
		clock:     clock,
		idgen:     idgen,
		beliefs:   make(map[string]*domain.Belief),
		conflicts: make(map[string]*domain.BeliefConflict),
	}
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

	s.mu.Lock()
	defer s.mu.Unlock()

	// Active statements are unique per agent after normalization.
	if b.Active {
		normalized := domain.NormalizeStatement(b.Statement)
		for _, existing := range s.beliefs {
			if existing.ID != b.ID && existing.AgentID == b.AgentID && existing.Active &&
				domain.NormalizeStatement(existing.Statement) == normalized {
				return domain.E(domain.KindInvalidInput, "an active belief with this statement already exists")
			}
		}
	}
	s.beliefs[b.ID] = cloneBelief(b)
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

func (s *BeliefStore) Get(ctx context.Context, id string) (*domain.Belief, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.beliefs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneBelief(b), nil
}

func (s *BeliefStore) Update(ctx context.Context, b *domain.Belief) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.beliefs[b.ID]
	if !ok {
		return store.ErrNotFound
	}
	if old.Version != b.Version {
		return store.ErrVersionConflict
	}
	updated := cloneBelief(b)
	updated.Version = old.Version + 1
	updated.LastUpdated = s.clock()
	updated.CreatedAt = old.CreatedAt
	s.beliefs[b.ID] = updated
	b.Version = updated.Version
	b.LastUpdated = updated.LastUpdated
	return nil
}

func (s *BeliefStore) ForAgent(ctx context.Context, agentID string, includeInactive bool) ([]domain.Belief, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []domain.Belief
	for _, b := range s.beliefs {
		if b.AgentID != agentID {
			continue
		}
		if !includeInactive && !b.Active {
			continue
		}
		result = append(result, *cloneBelief(b))
	}
	sortBeliefsNewestFirst(result)
	return result, nil
}

func (s *BeliefStore) InCategory(ctx context.Context, category, agentID string, includeInactive bool) ([]domain.Belief, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []domain.Belief
	for _, b := range s.beliefs {
		if b.AgentID != agentID || b.Category != category {
			continue
		}
		if !includeInactive && !b.Active {
			continue
		}
		result = append(result, *cloneBelief(b))
	}
	sortBeliefsNewestFirst(result)
	return result, nil
}

func (s *BeliefStore) Search(ctx context.Context, text, agentID string, limit int) ([]domain.Belief, error) {
	needle := strings.ToLower(strings.TrimSpace(text))
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []domain.Belief
	for _, b := range s.beliefs {
		if b.AgentID != agentID || !b.Active {
			continue
		}
		if !strings.Contains(strings.ToLower(b.Statement), needle) {
			continue
		}
		result = append(result, *cloneBelief(b))
	}
	sortBeliefsNewestFirst(result)
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *BeliefStore) FindSimilar(ctx context.Context, statement, agentID string, threshold float64, limit int) ([]domain.BeliefWithScore, error) {
	if limit <= 0 {
		limit = 10
	}
	normalized := domain.NormalizeStatement(statement)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var scored []domain.BeliefWithScore
	for _, b := range s.beliefs {
		if b.AgentID != agentID || !b.Active {
			continue
		}
		var score float64
		if domain.NormalizeStatement(b.Statement) == normalized {
			score = 1.0
		} else if threshold < 1.0 {
			score = similarity.Jaccard(statement, b.Statement)
		}
		// Zero overlap is never a peer, whatever the threshold.
		if score == 0 || score < threshold {
			continue
		}
		scored = append(scored, domain.BeliefWithScore{Belief: *cloneBelief(b), Score: score})
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

func (s *BeliefStore) Deactivate(ctx context.Context, id string) (bool, error) {
	return s.setActive(id, false)
}

func (s *BeliefStore) Reactivate(ctx context.Context, id string) (bool, error) {
	return s.setActive(id, true)
}

func (s *BeliefStore) setActive(id string, active bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.beliefs[id]
	if !ok || b.Active == active {
		return false, nil
	}
	b.Active = active
	b.Version++
	b.LastUpdated = s.clock()
	return true, nil
}

func (s *BeliefStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.beliefs[id]; !ok {
		return false, nil
	}
	delete(s.beliefs, id)
	return true, nil
}

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
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conflicts[c.ID] = cloneConflict(c)
	return nil
}

func (s *BeliefStore) GetConflict(ctx context.Context, id string) (*domain.BeliefConflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conflicts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneConflict(c), nil
}

func (s *BeliefStore) ConflictsForAgent(ctx context.Context, agentID string, includeResolved bool) ([]domain.BeliefConflict, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var result []domain.BeliefConflict
	for _, c := range s.conflicts {
		if c.AgentID != agentID {
			continue
		}
		if !includeResolved && c.Resolved {
			continue
		}
		result = append(result, *cloneConflict(c))
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].DetectedAt.After(result[j].DetectedAt)
	})
	return result, nil
}

func (s *BeliefStore) ResolveConflict(ctx context.Context, id string, strategy domain.ResolutionStrategy, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conflicts[id]
	if !ok || c.Resolved {
		return false, nil
	}
	c.Resolved = true
	c.ResolvedAt = &at
	c.ResolutionStrategy = strategy
	return true, nil
}

func (s *BeliefStore) DeleteConflict(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conflicts[id]; !ok {
		return false, nil
	}
	delete(s.conflicts, id)
	return true, nil
}

func sortBeliefsNewestFirst(beliefs []domain.Belief) {
	sort.SliceStable(beliefs, func(i, j int) bool {
		return beliefs[i].CreatedAt.After(beliefs[j].CreatedAt)
	})
}

func cloneBelief(b *domain.Belief) *domain.Belief {
	c := *b
	c.Tags = append([]string(nil), b.Tags...)
	c.EvidenceMemoryIDs = append([]string(nil), b.EvidenceMemoryIDs...)
	return &c
}

func cloneConflict(c *domain.BeliefConflict) *domain.BeliefConflict {
	cc := *c
	cc.BeliefIDs = append([]string(nil), c.BeliefIDs...)
	if c.ResolvedAt != nil {
		t := *c.ResolvedAt
		cc.ResolvedAt = &t
	}
	return &cc
}

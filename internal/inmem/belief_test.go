package inmem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cibfe/cibfe/internal/domain"
)

func newBelief(agentID, statement string) *domain.Belief {
	return &domain.Belief{
		AgentID:    agentID,
		Statement:  statement,
		Confidence: 0.8,
		Category:   "fact",
		Active:     true,
	}
}

func TestBeliefStoreUniqueActiveStatement(t *testing.T) {
	s := NewBeliefStore(nil, nil)
	ctx := context.Background()

	require.NoError(t, s.Store(ctx, newBelief("u1", "The sky is blue")))
	err := s.Store(ctx, newBelief("u1", "the sky is blue."))
	assert.True(t, domain.IsKind(err, domain.KindInvalidInput))

	// A different agent may hold the same statement.
	require.NoError(t, s.Store(ctx, newBelief("u2", "The sky is blue")))

	// An inactive duplicate is allowed.
	inactive := newBelief("u1", "The sky is blue")
	inactive.Active = false
	require.NoError(t, s.Store(ctx, inactive))
}

func TestBeliefFindSimilarExactThreshold(t *testing.T) {
	s := NewBeliefStore(nil, nil)
	ctx := context.Background()
	require.NoError(t, s.Store(ctx, newBelief("u1", "My favorite color is blue")))
	require.NoError(t, s.Store(ctx, newBelief("u1", "My favorite color might be green")))

	// Threshold 1.0 returns only exact normalized matches.
	exact, err := s.FindSimilar(ctx, "my favorite color is blue.", "u1", 1.0, 10)
	require.NoError(t, err)
	require.Len(t, exact, 1)
	assert.Equal(t, 1.0, exact[0].Score)

	loose, err := s.FindSimilar(ctx, "favorite color blue", "u1", 0.1, 10)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(loose), 1)
	for i := 1; i < len(loose); i++ {
		assert.GreaterOrEqual(t, loose[i-1].Score, loose[i].Score)
	}
}

func TestBeliefDeactivateReactivate(t *testing.T) {
	s := NewBeliefStore(nil, nil)
	ctx := context.Background()
	b := newBelief("u1", "statement")
	require.NoError(t, s.Store(ctx, b))

	ok, err := s.Deactivate(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Deactivate(ctx, b.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	active, err := s.ForAgent(ctx, "u1", false)
	require.NoError(t, err)
	assert.Empty(t, active)

	all, err := s.ForAgent(ctx, "u1", true)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	ok, err = s.Reactivate(ctx, b.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBeliefConflictLifecycle(t *testing.T) {
	clock := &tickClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	s := NewBeliefStore(clock.Now, nil)
	ctx := context.Background()

	err := s.StoreConflict(ctx, &domain.BeliefConflict{AgentID: "u1", BeliefIDs: []string{"only-one"}})
	assert.True(t, domain.IsKind(err, domain.KindInvalidInput))

	c := &domain.BeliefConflict{
		AgentID:      "u1",
		BeliefIDs:    []string{"b1", "b2"},
		ConflictType: domain.ConflictDirectContradiction,
		Severity:     domain.SeverityMedium,
	}
	require.NoError(t, s.StoreConflict(ctx, c))
	assert.NotEmpty(t, c.ID)
	assert.False(t, c.DetectedAt.IsZero())

	open, err := s.ConflictsForAgent(ctx, "u1", false)
	require.NoError(t, err)
	assert.Len(t, open, 1)

	ok, err := s.ResolveConflict(ctx, c.ID, domain.ResolveNewerWins, clock.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ResolveConflict(ctx, c.ID, domain.ResolveNewerWins, clock.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	open, err = s.ConflictsForAgent(ctx, "u1", false)
	require.NoError(t, err)
	assert.Empty(t, open)

	resolved, err := s.ConflictsForAgent(ctx, "u1", true)
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, domain.ResolveNewerWins, resolved[0].ResolutionStrategy)
}

func TestRelationshipPruneInactive(t *testing.T) {
	clock := &tickClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	s := NewRelationshipStore(clock.Now, nil)
	ctx := context.Background()

	r := &domain.BeliefRelationship{
		SourceBeliefID: "a", TargetBeliefID: "b", AgentID: "u1",
		Type: domain.RelSupports, Strength: 0.5, Active: true,
	}
	require.NoError(t, s.Create(ctx, r))

	ok, err := s.Deactivate(ctx, r.ID, clock.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	// Not old enough yet.
	pruned, err := s.PruneInactive(ctx, "u1", clock.now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Empty(t, pruned)

	pruned, err = s.PruneInactive(ctx, "u1", clock.now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{r.ID}, pruned)

	_, err = s.Get(ctx, r.ID)
	assert.Error(t, err)
}

func TestRelationshipDuplicateActiveEdgeRejected(t *testing.T) {
	s := NewRelationshipStore(nil, nil)
	ctx := context.Background()

	first := &domain.BeliefRelationship{
		SourceBeliefID: "a", TargetBeliefID: "b", AgentID: "u1",
		Type: domain.RelSupports, Strength: 0.5, Active: true,
	}
	require.NoError(t, s.Create(ctx, first))

	dup := &domain.BeliefRelationship{
		SourceBeliefID: "a", TargetBeliefID: "b", AgentID: "u1",
		Type: domain.RelSupports, Strength: 0.9, Active: true,
	}
	err := s.Create(ctx, dup)
	assert.True(t, domain.IsKind(err, domain.KindInvalidEdge))

	// A different type between the same pair is fine.
	other := &domain.BeliefRelationship{
		SourceBeliefID: "a", TargetBeliefID: "b", AgentID: "u1",
		Type: domain.RelImplies, Strength: 0.9, Active: true,
	}
	require.NoError(t, s.Create(ctx, other))
}

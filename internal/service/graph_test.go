package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cibfe/cibfe/internal/domain"
	"github.com/cibfe/cibfe/internal/extraction"
)

func storeBelief(t *testing.T, e *env, agentID, statement string) *domain.Belief {
	t.Helper()
	b := &domain.Belief{
		AgentID:    agentID,
		Statement:  statement,
		Confidence: 0.8,
		Category:   "fact",
		Active:     true,
	}
	require.NoError(t, e.beliefs.Store(context.Background(), b))
	return b
}

func createEdge(t *testing.T, e *env, agentID string, src, dst *domain.Belief, typ domain.RelationshipType, strength float64) *domain.BeliefRelationship {
	t.Helper()
	r, err := e.graph.Create(context.Background(), CreateRelationshipInput{
		SourceBeliefID: src.ID,
		TargetBeliefID: dst.ID,
		AgentID:        agentID,
		Type:           typ,
		Strength:       strength,
	})
	require.NoError(t, err)
	return r
}

func TestGraphCreateValidatesEdges(t *testing.T) {
	e := newEnv(nil)
	ctx := context.Background()
	b1 := storeBelief(t, e, "u6", "one")
	b2 := storeBelief(t, e, "u6", "two")

	_, err := e.graph.Create(ctx, CreateRelationshipInput{
		SourceBeliefID: b1.ID, TargetBeliefID: b1.ID, AgentID: "u6",
		Type: domain.RelSupports, Strength: 0.5,
	})
	assert.True(t, domain.IsKind(err, domain.KindInvalidEdge))

	_, err = e.graph.Create(ctx, CreateRelationshipInput{
		SourceBeliefID: b1.ID, TargetBeliefID: "missing", AgentID: "u6",
		Type: domain.RelSupports, Strength: 0.5,
	})
	assert.True(t, domain.IsKind(err, domain.KindInvalidEdge))

	_, err = e.graph.Create(ctx, CreateRelationshipInput{
		SourceBeliefID: b1.ID, TargetBeliefID: b2.ID, AgentID: "u6",
		Type: "FRIENDS_WITH", Strength: 0.5,
	})
	assert.True(t, domain.IsKind(err, domain.KindInvalidEdge))

	from := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	until := from.Add(-time.Hour)
	_, err = e.graph.Create(ctx, CreateRelationshipInput{
		SourceBeliefID: b1.ID, TargetBeliefID: b2.ID, AgentID: "u6",
		Type: domain.RelSupports, Strength: 0.5,
		EffectiveFrom: &from, EffectiveUntil: &until,
	})
	assert.True(t, domain.IsKind(err, domain.KindInvalidEdge))
}

func TestGraphCreateRoundTrip(t *testing.T) {
	e := newEnv(nil)
	ctx := context.Background()
	b1 := storeBelief(t, e, "u6", "one")
	b2 := storeBelief(t, e, "u6", "two")

	created, err := e.graph.Create(ctx, CreateRelationshipInput{
		SourceBeliefID: b1.ID, TargetBeliefID: b2.ID, AgentID: "u6",
		Type: domain.RelSupports, Strength: 0.8,
		Metadata: map[string]string{"origin": "test"}, Priority: 2,
	})
	require.NoError(t, err)

	got, err := e.graph.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.SourceBeliefID, got.SourceBeliefID)
	assert.Equal(t, created.TargetBeliefID, got.TargetBeliefID)
	assert.Equal(t, created.Type, got.Type)
	assert.Equal(t, created.Strength, got.Strength)
	assert.Equal(t, created.Priority, got.Priority)
	assert.Equal(t, map[string]string{"origin": "test"}, got.Metadata)
	assert.True(t, got.Active)
}

func TestGraphDuplicateActiveEdgeLastWriterWins(t *testing.T) {
	e := newEnv(nil)
	ctx := context.Background()
	b1 := storeBelief(t, e, "u6", "one")
	b2 := storeBelief(t, e, "u6", "two")

	first := createEdge(t, e, "u6", b1, b2, domain.RelSupports, 0.5)
	second := createEdge(t, e, "u6", b1, b2, domain.RelSupports, 0.9)

	old, err := e.graph.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, old.Active)

	current, err := e.graph.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.True(t, current.Active)
}

func TestGraphDeactivateIdempotent(t *testing.T) {
	e := newEnv(nil)
	b1 := storeBelief(t, e, "u6", "one")
	b2 := storeBelief(t, e, "u6", "two")
	r := createEdge(t, e, "u6", b1, b2, domain.RelSupports, 0.5)
	ctx := context.Background()

	ok, err := e.graph.Deactivate(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = e.graph.Deactivate(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGraphShortestPath(t *testing.T) {
	e := newEnv(nil)
	ctx := context.Background()
	b1 := storeBelief(t, e, "u6", "one")
	b2 := storeBelief(t, e, "u6", "two")
	b3 := storeBelief(t, e, "u6", "three")

	createEdge(t, e, "u6", b1, b2, domain.RelSupports, 0.8)
	createEdge(t, e, "u6", b2, b3, domain.RelRelatesTo, 0.7)

	path, err := e.graph.ShortestPath(ctx, b1.ID, b3.ID, "u6")
	require.NoError(t, err)
	require.Len(t, path, 2)
	assert.Equal(t, b1.ID, path[0].SourceBeliefID)
	assert.Equal(t, b2.ID, path[0].TargetBeliefID)
	assert.Equal(t, b2.ID, path[1].SourceBeliefID)
	assert.Equal(t, b3.ID, path[1].TargetBeliefID)

	// Identical endpoints yield an empty path.
	path, err = e.graph.ShortestPath(ctx, b1.ID, b1.ID, "u6")
	require.NoError(t, err)
	assert.Empty(t, path)

	// Unreachable targets yield an empty path too.
	path, err = e.graph.ShortestPath(ctx, b3.ID, b1.ID, "u6")
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestGraphShortestPathPrefersStrongerTies(t *testing.T) {
	e := newEnv(nil)
	ctx := context.Background()
	a := storeBelief(t, e, "u6", "a")
	m1 := storeBelief(t, e, "u6", "mid one")
	m2 := storeBelief(t, e, "u6", "mid two")
	z := storeBelief(t, e, "u6", "z")

	createEdge(t, e, "u6", a, m1, domain.RelSupports, 0.2)
	createEdge(t, e, "u6", m1, z, domain.RelSupports, 0.2)
	createEdge(t, e, "u6", a, m2, domain.RelSupports, 0.9)
	createEdge(t, e, "u6", m2, z, domain.RelSupports, 0.9)

	path, err := e.graph.ShortestPath(ctx, a.ID, z.ID, "u6")
	require.NoError(t, err)
	require.Len(t, path, 2)
	assert.Equal(t, m2.ID, path[0].TargetBeliefID)
}

func TestGraphRelatedWithinDepth(t *testing.T) {
	e := newEnv(nil)
	ctx := context.Background()
	b1 := storeBelief(t, e, "u6", "one")
	b2 := storeBelief(t, e, "u6", "two")
	b3 := storeBelief(t, e, "u6", "three")

	createEdge(t, e, "u6", b1, b2, domain.RelSupports, 0.8)
	createEdge(t, e, "u6", b2, b3, domain.RelRelatesTo, 0.7)

	related, err := e.graph.RelatedWithinDepth(ctx, b1.ID, "u6", 2)
	require.NoError(t, err)
	assert.Contains(t, related, b2.ID)
	assert.NotContains(t, related, b1.ID)

	// Depth zero excludes everything, including the start belief.
	related, err = e.graph.RelatedWithinDepth(ctx, b1.ID, "u6", 0)
	require.NoError(t, err)
	assert.Empty(t, related)
}

func TestGraphClustersByStrength(t *testing.T) {
	e := newEnv(nil)
	ctx := context.Background()
	b1 := storeBelief(t, e, "u6", "one")
	b2 := storeBelief(t, e, "u6", "two")
	b3 := storeBelief(t, e, "u6", "three")
	b4 := storeBelief(t, e, "u6", "four")

	createEdge(t, e, "u6", b1, b2, domain.RelSupports, 0.9)
	createEdge(t, e, "u6", b3, b4, domain.RelSupports, 0.9)
	// Weak bridge between the two pairs drops below the cutoff.
	createEdge(t, e, "u6", b2, b3, domain.RelRelatesTo, 0.2)

	clusters, err := e.graph.ClustersByStrength(ctx, "u6", 0.5)
	require.NoError(t, err)
	require.Len(t, clusters, 2)
	for _, c := range clusters {
		assert.Len(t, c, 2)
	}
}

func TestGraphDeprecationChain(t *testing.T) {
	e := newEnv(nil)
	ctx := context.Background()
	v1 := storeBelief(t, e, "u6", "v1")
	v2 := storeBelief(t, e, "u6", "v2")
	v3 := storeBelief(t, e, "u6", "v3")

	createEdge(t, e, "u6", v2, v1, domain.RelSupersedes, 1.0)
	createEdge(t, e, "u6", v3, v2, domain.RelSupersedes, 1.0)

	chain, err := e.graph.DeprecationChain(ctx, v1.ID, "u6")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, v2.ID, chain[0].SourceBeliefID)
	assert.Equal(t, v3.ID, chain[1].SourceBeliefID)

	// The head of the chain is not deprecated.
	chain, err = e.graph.DeprecationChain(ctx, v3.ID, "u6")
	require.NoError(t, err)
	assert.Empty(t, chain)
}

func TestGraphSnapshotAndValidate(t *testing.T) {
	e := newEnv(nil)
	ctx := context.Background()
	b1 := storeBelief(t, e, "u6", "one")
	b2 := storeBelief(t, e, "u6", "two")
	r := createEdge(t, e, "u6", b1, b2, domain.RelSupports, 0.8)

	kg, err := e.graph.Snapshot(ctx, "u6", false)
	require.NoError(t, err)
	assert.Len(t, kg.Beliefs, 2)
	assert.Len(t, kg.Relationships, 1)
	assert.Equal(t, "u6", kg.AgentID)

	issues, err := e.graph.Validate(ctx, "u6")
	require.NoError(t, err)
	assert.Empty(t, issues)

	// Deactivating an endpoint belief makes the active edge an orphan.
	_, err = e.beliefs.Deactivate(ctx, b2.ID)
	require.NoError(t, err)
	issues, err = e.graph.Validate(ctx, "u6")
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Contains(t, issues[0], r.ID)
}

func TestGraphExportImportRoundTrip(t *testing.T) {
	e := newEnv(nil)
	ctx := context.Background()
	b1 := storeBelief(t, e, "u6", "one")
	b2 := storeBelief(t, e, "u6", "two")
	createEdge(t, e, "u6", b1, b2, domain.RelSupports, 0.8)

	out, err := e.graph.Export(ctx, "u6", "json")
	require.NoError(t, err)

	var kg domain.BeliefKnowledgeGraph
	require.NoError(t, json.Unmarshal(out, &kg))
	kg.AgentID = "u6-copy"
	for id, b := range kg.Beliefs {
		b.AgentID = "u6-copy"
		kg.Beliefs[id] = b
	}
	for id, r := range kg.Relationships {
		r.AgentID = "u6-copy"
		kg.Relationships[id] = r
	}

	idMap, err := e.graph.ImportSnapshot(ctx, &kg)
	require.NoError(t, err)
	assert.Len(t, idMap, 2)

	imported, err := e.graph.Snapshot(ctx, "u6-copy", true)
	require.NoError(t, err)
	assert.Len(t, imported.Beliefs, 2)
	require.Len(t, imported.Relationships, 1)
	for _, r := range imported.Relationships {
		assert.Equal(t, domain.RelSupports, r.Type)
		assert.Equal(t, idMap[b1.ID], r.SourceBeliefID)
		assert.Equal(t, idMap[b2.ID], r.TargetBeliefID)
	}

	_, err = e.graph.Export(ctx, "u6", "xml")
	assert.True(t, domain.IsKind(err, domain.KindUnsupportedFormat))
}

func TestGraphExportDot(t *testing.T) {
	e := newEnv(extraction.NewMockClient())
	ctx := context.Background()
	b1 := storeBelief(t, e, "u6", "one")
	b2 := storeBelief(t, e, "u6", "two")
	createEdge(t, e, "u6", b1, b2, domain.RelSupports, 0.8)

	out, err := e.graph.Export(ctx, "u6", "dot")
	require.NoError(t, err)
	assert.Contains(t, string(out), "digraph")
}

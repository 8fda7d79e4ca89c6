package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEdgeStateMachine(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	from := now.Add(time.Hour)
	until := now.Add(2 * time.Hour)

	r := BeliefRelationship{Active: true, EffectiveFrom: &from, EffectiveUntil: &until}

	assert.Equal(t, EdgePending, r.State(now))
	assert.Equal(t, EdgeEffective, r.State(from))
	assert.Equal(t, EdgeEffective, r.State(until.Add(-time.Second)))
	assert.Equal(t, EdgeExpired, r.State(until))

	// Deactivation wins over the time-derived states.
	r.Active = false
	assert.Equal(t, EdgeInactive, r.State(from))
}

func TestEdgeUnboundedIsAlwaysEffective(t *testing.T) {
	r := BeliefRelationship{Active: true}
	assert.True(t, r.EffectiveAt(time.Date(1990, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, r.EffectiveAt(time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC)))
}

func TestDeprecatingTypes(t *testing.T) {
	now := time.Now()
	for _, typ := range []RelationshipType{RelSupersedes, RelUpdates, RelDeprecates, RelReplaces} {
		r := BeliefRelationship{Active: true, Type: typ}
		assert.True(t, r.Deprecating(now), string(typ))
	}
	r := BeliefRelationship{Active: true, Type: RelSupports}
	assert.False(t, r.Deprecating(now))

	r = BeliefRelationship{Active: false, Type: RelSupersedes}
	assert.False(t, r.Deprecating(now))
}

func TestValidRelationshipType(t *testing.T) {
	assert.True(t, ValidRelationshipType("SUPERSEDES"))
	assert.True(t, ValidRelationshipType("CUSTOM"))
	assert.False(t, ValidRelationshipType("supersedes"))
	assert.False(t, ValidRelationshipType("FRIENDS_WITH"))
}

func TestNormalizeStatement(t *testing.T) {
	assert.Equal(t, "the sky is blue", NormalizeStatement("  The   sky is BLUE. "))
	assert.Equal(t, NormalizeStatement("I love pizza!"), NormalizeStatement("i love PIZZA"))
}

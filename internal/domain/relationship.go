package domain

import (
	"context"
	"time"
)

// RelationshipType is the closed enum of edge types in the belief graph.
type RelationshipType string

const (
	RelSupersedes          RelationshipType = "SUPERSEDES"
	RelUpdates             RelationshipType = "UPDATES"
	RelDeprecates          RelationshipType = "DEPRECATES"
	RelReplaces            RelationshipType = "REPLACES"
	RelSupports            RelationshipType = "SUPPORTS"
	RelContradicts         RelationshipType = "CONTRADICTS"
	RelImplies             RelationshipType = "IMPLIES"
	RelReinforces          RelationshipType = "REINFORCES"
	RelWeakens             RelationshipType = "WEAKENS"
	RelRelatesTo           RelationshipType = "RELATES_TO"
	RelSpecializes         RelationshipType = "SPECIALIZES"
	RelGeneralizes         RelationshipType = "GENERALIZES"
	RelExtends             RelationshipType = "EXTENDS"
	RelDerivesFrom         RelationshipType = "DERIVES_FROM"
	RelCauses              RelationshipType = "CAUSES"
	RelCausedBy            RelationshipType = "CAUSED_BY"
	RelEnables             RelationshipType = "ENABLES"
	RelPrevents            RelationshipType = "PREVENTS"
	RelDependsOn           RelationshipType = "DEPENDS_ON"
	RelPrecedes            RelationshipType = "PRECEDES"
	RelFollows             RelationshipType = "FOLLOWS"
	RelContextFor          RelationshipType = "CONTEXT_FOR"
	RelEvidencedBy         RelationshipType = "EVIDENCED_BY"
	RelProvidesEvidenceFor RelationshipType = "PROVIDES_EVIDENCE_FOR"
	RelConflictsWith       RelationshipType = "CONFLICTS_WITH"
	RelSimilarTo           RelationshipType = "SIMILAR_TO"
	RelAnalogousTo         RelationshipType = "ANALOGOUS_TO"
	RelContrastsWith       RelationshipType = "CONTRASTS_WITH"
	RelCustom              RelationshipType = "CUSTOM"
)

var relationshipTypes = map[RelationshipType]bool{
	RelSupersedes: true, RelUpdates: true, RelDeprecates: true, RelReplaces: true,
	RelSupports: true, RelContradicts: true, RelImplies: true, RelReinforces: true,
	RelWeakens: true, RelRelatesTo: true, RelSpecializes: true, RelGeneralizes: true,
	RelExtends: true, RelDerivesFrom: true, RelCauses: true, RelCausedBy: true,
	RelEnables: true, RelPrevents: true, RelDependsOn: true, RelPrecedes: true,
	RelFollows: true, RelContextFor: true, RelEvidencedBy: true,
	RelProvidesEvidenceFor: true, RelConflictsWith: true, RelSimilarTo: true,
	RelAnalogousTo: true, RelContrastsWith: true, RelCustom: true,
}

func ValidRelationshipType(t string) bool {
	return relationshipTypes[RelationshipType(t)]
}

// DeprecatingTypes is the subset of types that mark their target belief as
// deprecated while the edge is currently effective.
var DeprecatingTypes = map[RelationshipType]bool{
	RelSupersedes: true,
	RelUpdates:    true,
	RelDeprecates: true,
	RelReplaces:   true,
}

// EdgeState is the temporal lifecycle of an edge. Deactivation is orthogonal
// and wins over the time-derived states.
type EdgeState string

const (
	EdgePending   EdgeState = "pending"
	EdgeEffective EdgeState = "effective"
	EdgeExpired   EdgeState = "expired"
	EdgeInactive  EdgeState = "inactive"
)

// BeliefRelationship is a directed, typed, weighted, temporally bounded edge
// between two beliefs of the same agent.
type BeliefRelationship struct {
	ID                string            `json:"id"`
	SourceBeliefID    string            `json:"source_belief_id"`
	TargetBeliefID    string            `json:"target_belief_id"`
	AgentID           string            `json:"agent_id"`
	Type              RelationshipType  `json:"type"`
	Strength          float64           `json:"strength"`
	EffectiveFrom     *time.Time        `json:"effective_from,omitempty"`
	EffectiveUntil    *time.Time        `json:"effective_until,omitempty"`
	DeprecationReason string            `json:"deprecation_reason,omitempty"`
	Priority          int               `json:"priority"`
	CreatedAt         time.Time         `json:"created_at"`
	LastUpdated       time.Time         `json:"last_updated"`
	Active            bool              `json:"active"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// State derives the edge lifecycle state at the given instant.
func (r *BeliefRelationship) State(now time.Time) EdgeState {
	if !r.Active {
		return EdgeInactive
	}
	if r.EffectiveFrom != nil && now.Before(*r.EffectiveFrom) {
		return EdgePending
	}
	if r.EffectiveUntil != nil && !now.Before(*r.EffectiveUntil) {
		return EdgeExpired
	}
	return EdgeEffective
}

// EffectiveAt reports whether the edge is currently effective: active and
// within its temporal bounds.
func (r *BeliefRelationship) EffectiveAt(now time.Time) bool {
	return r.State(now) == EdgeEffective
}

// Deprecating reports whether this edge deprecates its target at now.
func (r *BeliefRelationship) Deprecating(now time.Time) bool {
	return DeprecatingTypes[r.Type] && r.EffectiveAt(now)
}

// BeliefKnowledgeGraph is the snapshot DTO of an agent's beliefs and edges.
type BeliefKnowledgeGraph struct {
	AgentID       string                        `json:"agent_id"`
	Beliefs       map[string]Belief             `json:"beliefs"`
	Relationships map[string]BeliefRelationship `json:"relationships"`
	GeneratedAt   time.Time                     `json:"generated_at"`
}

// RelationshipStore persists edges. Callers mutate edges only through the
// graph service, which enforces the §3 invariants before writing.
type RelationshipStore interface {
	Create(ctx context.Context, r *BeliefRelationship) error
	Get(ctx context.Context, id string) (*BeliefRelationship, error)
	Update(ctx context.Context, r *BeliefRelationship) error
	Deactivate(ctx context.Context, id string, at time.Time) (bool, error)
	Reactivate(ctx context.Context, id string, at time.Time) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
	Outgoing(ctx context.Context, beliefID string) ([]BeliefRelationship, error)
	Incoming(ctx context.Context, beliefID string) ([]BeliefRelationship, error)
	ByType(ctx context.Context, t RelationshipType, agentID string) ([]BeliefRelationship, error)
	Between(ctx context.Context, a, b, agentID string) ([]BeliefRelationship, error)
	ForAgent(ctx context.Context, agentID string, includeInactive bool) ([]BeliefRelationship, error)
	// PruneInactive hard-deletes inactive edges older than the cutoff and
	// returns the ids removed. Per-edge atomic; a failing edge is skipped and
	// the first failure is returned with the ids that were removed.
	PruneInactive(ctx context.Context, agentID string, cutoff time.Time) ([]string, error)
}

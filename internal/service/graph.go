package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	dgraph "github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cibfe/cibfe/internal/domain"
	"github.com/cibfe/cibfe/internal/store"
)

// GraphService is the only mutator of belief relationships. Every write path
// runs the edge invariants before touching the store.
type GraphService struct {
	relationships domain.RelationshipStore
	beliefs       domain.BeliefStore
	clock         domain.Clock
	idgen         domain.IdGenerator
	logger        *zap.Logger
}

func NewGraphService(rs domain.RelationshipStore, bs domain.BeliefStore, clock domain.Clock, idgen domain.IdGenerator, logger *zap.Logger) *GraphService {
	if clock == nil {
		clock = time.Now
	}
	if idgen == nil {
		idgen = uuid.NewString
	}
	return &GraphService{
		relationships: rs,
		beliefs:       bs,
		clock:         clock,
		idgen:         idgen,
		logger:        logger,
	}
}

// CreateRelationshipInput describes one edge to create.
type CreateRelationshipInput struct {
	SourceBeliefID    string
	TargetBeliefID    string
	AgentID           string
	Type              domain.RelationshipType
	Strength          float64
	Metadata          map[string]string
	EffectiveFrom     *time.Time
	EffectiveUntil    *time.Time
	DeprecationReason string
	Priority          int
}

func (s *GraphService) Create(ctx context.Context, in CreateRelationshipInput) (*domain.BeliefRelationship, error) {
	if !domain.ValidRelationshipType(string(in.Type)) {
		return nil, domain.Ef(domain.KindInvalidEdge, "unknown relationship type %q", in.Type)
	}
	if in.SourceBeliefID == in.TargetBeliefID {
		return nil, domain.E(domain.KindInvalidEdge, "self-referential edge")
	}
	if in.Strength < 0 || in.Strength > 1 {
		return nil, domain.E(domain.KindInvalidEdge, "strength must be in [0,1]")
	}
	if in.EffectiveFrom != nil && in.EffectiveUntil != nil && in.EffectiveUntil.Before(*in.EffectiveFrom) {
		return nil, domain.E(domain.KindInvalidEdge, "effective_from must not exceed effective_until")
	}

	source, err := s.beliefs.Get(ctx, in.SourceBeliefID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.E(domain.KindInvalidEdge, "source belief not found")
		}
		return nil, domain.WrapErr(domain.KindStorageFailure, "load source belief", err)
	}
	target, err := s.beliefs.Get(ctx, in.TargetBeliefID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.E(domain.KindInvalidEdge, "target belief not found")
		}
		return nil, domain.WrapErr(domain.KindStorageFailure, "load target belief", err)
	}
	if source.AgentID != in.AgentID || target.AgentID != in.AgentID {
		return nil, domain.E(domain.KindInvalidEdge, "edge endpoints must belong to the same agent")
	}

	// Last-writer-wins on the active-edge uniqueness constraint.
	existing, err := s.relationships.Between(ctx, in.SourceBeliefID, in.TargetBeliefID, in.AgentID)
	if err != nil {
		return nil, domain.WrapErr(domain.KindStorageFailure, "check duplicate edges", err)
	}
	now := s.clock()
	for _, e := range existing {
		if e.Active && e.Type == in.Type && e.SourceBeliefID == in.SourceBeliefID && e.TargetBeliefID == in.TargetBeliefID {
			if _, err := s.relationships.Deactivate(ctx, e.ID, now); err != nil {
				return nil, domain.WrapErr(domain.KindStorageFailure, "supersede duplicate edge", err)
			}
		}
	}

	r := &domain.BeliefRelationship{
		ID:                s.idgen(),
		SourceBeliefID:    in.SourceBeliefID,
		TargetBeliefID:    in.TargetBeliefID,
		AgentID:           in.AgentID,
		Type:              in.Type,
		Strength:          in.Strength,
		EffectiveFrom:     in.EffectiveFrom,
		EffectiveUntil:    in.EffectiveUntil,
		DeprecationReason: in.DeprecationReason,
		Priority:          in.Priority,
		CreatedAt:         now,
		Active:            true,
		Metadata:          in.Metadata,
	}
	if err := s.relationships.Create(ctx, r); err != nil {
		if domain.IsKind(err, domain.KindInvalidEdge) {
			return nil, err
		}
		return nil, domain.WrapErr(domain.KindStorageFailure, "create relationship", err)
	}
	return r, nil
}

func (s *GraphService) Get(ctx context.Context, id string) (*domain.BeliefRelationship, error) {
	r, err := s.relationships.Get(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, domain.E(domain.KindNotFound, "relationship not found")
		}
		return nil, domain.WrapErr(domain.KindStorageFailure, "get relationship", err)
	}
	return r, nil
}

// Update mutates strength and/or metadata; other fields change only through
// their own paths.
func (s *GraphService) Update(ctx context.Context, id string, strength *float64, metadata map[string]string) (*domain.BeliefRelationship, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if strength != nil {
		if *strength < 0 || *strength > 1 {
			return nil, domain.E(domain.KindInvalidEdge, "strength must be in [0,1]")
		}
		r.Strength = *strength
	}
	if metadata != nil {
		r.Metadata = metadata
	}
	if err := s.relationships.Update(ctx, r); err != nil {
		return nil, domain.WrapErr(domain.KindStorageFailure, "update relationship", err)
	}
	return r, nil
}

func (s *GraphService) Deactivate(ctx context.Context, id string) (bool, error) {
	return s.relationships.Deactivate(ctx, id, s.clock())
}

func (s *GraphService) Reactivate(ctx context.Context, id string) (bool, error) {
	return s.relationships.Reactivate(ctx, id, s.clock())
}

func (s *GraphService) Delete(ctx context.Context, id string) (bool, error) {
	return s.relationships.Delete(ctx, id)
}

func (s *GraphService) Outgoing(ctx context.Context, beliefID string) ([]domain.BeliefRelationship, error) {
	return s.relationships.Outgoing(ctx, beliefID)
}

func (s *GraphService) Incoming(ctx context.Context, beliefID string) ([]domain.BeliefRelationship, error) {
	return s.relationships.Incoming(ctx, beliefID)
}

func (s *GraphService) ByType(ctx context.Context, t domain.RelationshipType, agentID string) ([]domain.BeliefRelationship, error) {
	if !domain.ValidRelationshipType(string(t)) {
		return nil, domain.Ef(domain.KindInvalidEdge, "unknown relationship type %q", t)
	}
	return s.relationships.ByType(ctx, t, agentID)
}

func (s *GraphService) Between(ctx context.Context, a, b, agentID string) ([]domain.BeliefRelationship, error) {
	return s.relationships.Between(ctx, a, b, agentID)
}

// effectiveEdges returns the agent's currently-effective edges.
func (s *GraphService) effectiveEdges(ctx context.Context, agentID string) ([]domain.BeliefRelationship, error) {
	all, err := s.relationships.ForAgent(ctx, agentID, false)
	if err != nil {
		return nil, domain.WrapErr(domain.KindStorageFailure, "load relationships", err)
	}
	now := s.clock()
	effective := all[:0]
	for _, r := range all {
		if r.EffectiveAt(now) {
			effective = append(effective, r)
		}
	}
	return effective, nil
}

// pairKey identifies an ordered vertex pair in the materialized graph.
type pairKey struct{ src, dst string }

// ShortestPath runs BFS-style shortest path over currently-effective edges,
// weighted so stronger edges cost less; ties therefore break toward higher
// cumulative strength.
func (s *GraphService) ShortestPath(ctx context.Context, source, target, agentID string) ([]domain.BeliefRelationship, error) {
	if source == target {
		return []domain.BeliefRelationship{}, nil
	}
	edges, err := s.effectiveEdges(ctx, agentID)
	if err != nil {
		return nil, err
	}

	g := dgraph.New(dgraph.StringHash, dgraph.Directed(), dgraph.Weighted())
	strongest := make(map[pairKey]domain.BeliefRelationship)
	seenVertex := make(map[string]bool)
	for _, e := range edges {
		key := pairKey{e.SourceBeliefID, e.TargetBeliefID}
		if prev, ok := strongest[key]; !ok || e.Strength > prev.Strength {
			strongest[key] = e
		}
		seenVertex[e.SourceBeliefID] = true
		seenVertex[e.TargetBeliefID] = true
	}
	if !seenVertex[source] || !seenVertex[target] {
		return []domain.BeliefRelationship{}, nil
	}
	for v := range seenVertex {
		_ = g.AddVertex(v)
	}
	for key, e := range strongest {
		// Unit base cost per hop; the strength term only breaks ties between
		// equally long paths.
		weight := 1000 + int((1-e.Strength)*999)
		_ = g.AddEdge(key.src, key.dst, dgraph.EdgeWeight(weight))
	}

	path, err := dgraph.ShortestPath(g, source, target)
	if err != nil {
		if errors.Is(err, dgraph.ErrTargetNotReachable) {
			return []domain.BeliefRelationship{}, nil
		}
		return nil, domain.WrapErr(domain.KindStorageFailure, "shortest path", err)
	}

	result := make([]domain.BeliefRelationship, 0, len(path)-1)
	for i := 0; i+1 < len(path); i++ {
		result = append(result, strongest[pairKey{path[i], path[i+1]}])
	}
	return result, nil
}

// RelatedWithinDepth returns belief ids reachable within maxDepth hops over
// currently-effective edges, either direction, excluding the start belief.
func (s *GraphService) RelatedWithinDepth(ctx context.Context, beliefID, agentID string, maxDepth int) ([]string, error) {
	if maxDepth <= 0 {
		return []string{}, nil
	}
	edges, err := s.effectiveEdges(ctx, agentID)
	if err != nil {
		return nil, err
	}

	g := dgraph.New(dgraph.StringHash, dgraph.Directed())
	seenVertex := make(map[string]bool)
	for _, e := range edges {
		seenVertex[e.SourceBeliefID] = true
		seenVertex[e.TargetBeliefID] = true
	}
	if !seenVertex[beliefID] {
		return []string{}, nil
	}
	for v := range seenVertex {
		_ = g.AddVertex(v)
	}
	for _, e := range edges {
		_ = g.AddEdge(e.SourceBeliefID, e.TargetBeliefID)
		_ = g.AddEdge(e.TargetBeliefID, e.SourceBeliefID)
	}

	var related []string
	err = dgraph.BFSWithDepth(g, beliefID, func(v string, depth int) bool {
		if depth > maxDepth {
			return true
		}
		if v != beliefID {
			related = append(related, v)
		}
		return false
	})
	if err != nil {
		return nil, domain.WrapErr(domain.KindStorageFailure, "depth traversal", err)
	}
	sort.Strings(related)
	return related, nil
}

// ClustersByStrength returns connected components over effective edges with
// strength >= minStrength, largest first.
func (s *GraphService) ClustersByStrength(ctx context.Context, agentID string, minStrength float64) ([][]string, error) {
	edges, err := s.effectiveEdges(ctx, agentID)
	if err != nil {
		return nil, err
	}

	g := dgraph.New(dgraph.StringHash, dgraph.Directed())
	seenVertex := make(map[string]bool)
	for _, e := range edges {
		if e.Strength < minStrength {
			continue
		}
		seenVertex[e.SourceBeliefID] = true
		seenVertex[e.TargetBeliefID] = true
	}
	for v := range seenVertex {
		_ = g.AddVertex(v)
	}
	for _, e := range edges {
		if e.Strength < minStrength {
			continue
		}
		// Symmetrized, so strongly connected components are exactly the
		// undirected connected components.
		_ = g.AddEdge(e.SourceBeliefID, e.TargetBeliefID)
		_ = g.AddEdge(e.TargetBeliefID, e.SourceBeliefID)
	}

	components, err := dgraph.StronglyConnectedComponents(g)
	if err != nil {
		return nil, domain.WrapErr(domain.KindStorageFailure, "connected components", err)
	}
	for _, c := range components {
		sort.Strings(c)
	}
	sort.SliceStable(components, func(i, j int) bool {
		if len(components[i]) != len(components[j]) {
			return len(components[i]) > len(components[j])
		}
		return components[i][0] < components[j][0]
	})
	return components, nil
}

// DeprecationChain walks the transitive supersession back-pointers from the
// given belief: each step is a currently-effective deprecating edge pointing
// at the current belief, so the chain runs from the nearest superseder to the
// newest. Among several such edges the highest priority wins, then the most
// recently created.
func (s *GraphService) DeprecationChain(ctx context.Context, beliefID, agentID string) ([]domain.BeliefRelationship, error) {
	now := s.clock()
	var chain []domain.BeliefRelationship
	visited := map[string]bool{beliefID: true}
	current := beliefID

	for {
		incoming, err := s.relationships.Incoming(ctx, current)
		if err != nil {
			return nil, domain.WrapErr(domain.KindStorageFailure, "load incoming edges", err)
		}
		var next *domain.BeliefRelationship
		for i := range incoming {
			e := incoming[i]
			if e.AgentID != agentID || !e.Deprecating(now) {
				continue
			}
			if next == nil || e.Priority > next.Priority ||
				(e.Priority == next.Priority && e.CreatedAt.After(next.CreatedAt)) {
				next = &incoming[i]
			}
		}
		if next == nil || visited[next.SourceBeliefID] {
			break
		}
		chain = append(chain, *next)
		visited[next.SourceBeliefID] = true
		current = next.SourceBeliefID
	}
	return chain, nil
}

// DeprecatedBeliefs lists beliefs that are the target of a currently
// effective deprecating edge.
func (s *GraphService) DeprecatedBeliefs(ctx context.Context, agentID string) ([]string, error) {
	edges, err := s.effectiveEdges(ctx, agentID)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, e := range edges {
		if domain.DeprecatingTypes[e.Type] && !seen[e.TargetBeliefID] {
			seen[e.TargetBeliefID] = true
			out = append(out, e.TargetBeliefID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *GraphService) Snapshot(ctx context.Context, agentID string, includeInactive bool) (*domain.BeliefKnowledgeGraph, error) {
	beliefs, err := s.beliefs.ForAgent(ctx, agentID, includeInactive)
	if err != nil {
		return nil, domain.WrapErr(domain.KindStorageFailure, "load beliefs", err)
	}
	rels, err := s.relationships.ForAgent(ctx, agentID, includeInactive)
	if err != nil {
		return nil, domain.WrapErr(domain.KindStorageFailure, "load relationships", err)
	}

	kg := &domain.BeliefKnowledgeGraph{
		AgentID:       agentID,
		Beliefs:       make(map[string]domain.Belief, len(beliefs)),
		Relationships: make(map[string]domain.BeliefRelationship, len(rels)),
		GeneratedAt:   s.clock(),
	}
	for _, b := range beliefs {
		kg.Beliefs[b.ID] = b
	}
	for _, r := range rels {
		// Edges whose endpoints fell outside the belief set (e.g. inactive
		// beliefs excluded) stay in the snapshot; validation reports them.
		kg.Relationships[r.ID] = r
	}
	return kg, nil
}

// FilteredSnapshot narrows a snapshot to the given belief ids and edge
// types. maxBeliefs 0 means unbounded; when bounded, newest beliefs win.
func (s *GraphService) FilteredSnapshot(ctx context.Context, agentID string, beliefIDs []string, types []domain.RelationshipType, maxBeliefs int) (*domain.BeliefKnowledgeGraph, error) {
	kg, err := s.Snapshot(ctx, agentID, false)
	if err != nil {
		return nil, err
	}

	if len(beliefIDs) > 0 {
		keep := make(map[string]bool, len(beliefIDs))
		for _, id := range beliefIDs {
			keep[id] = true
		}
		for id := range kg.Beliefs {
			if !keep[id] {
				delete(kg.Beliefs, id)
			}
		}
	}

	if maxBeliefs > 0 && len(kg.Beliefs) > maxBeliefs {
		all := make([]domain.Belief, 0, len(kg.Beliefs))
		for _, b := range kg.Beliefs {
			all = append(all, b)
		}
		sort.SliceStable(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
		kg.Beliefs = make(map[string]domain.Belief, maxBeliefs)
		for _, b := range all[:maxBeliefs] {
			kg.Beliefs[b.ID] = b
		}
	}

	var typeSet map[domain.RelationshipType]bool
	if len(types) > 0 {
		typeSet = make(map[domain.RelationshipType]bool, len(types))
		for _, t := range types {
			typeSet[t] = true
		}
	}
	for id, r := range kg.Relationships {
		if typeSet != nil && !typeSet[r.Type] {
			delete(kg.Relationships, id)
			continue
		}
		if _, ok := kg.Beliefs[r.SourceBeliefID]; !ok {
			delete(kg.Relationships, id)
			continue
		}
		if _, ok := kg.Beliefs[r.TargetBeliefID]; !ok {
			delete(kg.Relationships, id)
		}
	}
	return kg, nil
}

// Export renders a snapshot as json or dot.
func (s *GraphService) Export(ctx context.Context, agentID, format string) ([]byte, error) {
	kg, err := s.Snapshot(ctx, agentID, true)
	if err != nil {
		return nil, err
	}

	switch format {
	case "json":
		out, err := json.MarshalIndent(kg, "", "  ")
		if err != nil {
			return nil, domain.WrapErr(domain.KindStorageFailure, "marshal snapshot", err)
		}
		return out, nil

	case "dot":
		g := dgraph.New(dgraph.StringHash, dgraph.Directed())
		for id := range kg.Beliefs {
			_ = g.AddVertex(id)
		}
		for _, r := range kg.Relationships {
			_ = g.AddVertex(r.SourceBeliefID)
			_ = g.AddVertex(r.TargetBeliefID)
			_ = g.AddEdge(r.SourceBeliefID, r.TargetBeliefID,
				dgraph.EdgeAttribute("label", string(r.Type)))
		}
		var buf bytes.Buffer
		if err := draw.DOT(g, &buf); err != nil {
			return nil, domain.WrapErr(domain.KindStorageFailure, "render dot", err)
		}
		return buf.Bytes(), nil

	default:
		return nil, domain.Ef(domain.KindUnsupportedFormat, "unsupported export format %q", format)
	}
}

// ImportSnapshot recreates a knowledge graph under fresh ids and returns the
// old-to-new belief id mapping.
func (s *GraphService) ImportSnapshot(ctx context.Context, kg *domain.BeliefKnowledgeGraph) (map[string]string, error) {
	if kg == nil || kg.AgentID == "" {
		return nil, domain.E(domain.KindInvalidInput, "snapshot with agent_id is required")
	}

	idMap := make(map[string]string, len(kg.Beliefs))
	beliefs := make([]domain.Belief, 0, len(kg.Beliefs))
	for _, b := range kg.Beliefs {
		beliefs = append(beliefs, b)
	}
	sort.SliceStable(beliefs, func(i, j int) bool { return beliefs[i].CreatedAt.Before(beliefs[j].CreatedAt) })

	for _, b := range beliefs {
		nb := b
		nb.ID = s.idgen()
		nb.Version = 0
		if err := s.beliefs.Store(ctx, &nb); err != nil {
			return nil, domain.WrapErr(domain.KindStorageFailure, "import belief", err)
		}
		idMap[b.ID] = nb.ID
	}

	for _, r := range kg.Relationships {
		src, okSrc := idMap[r.SourceBeliefID]
		dst, okDst := idMap[r.TargetBeliefID]
		if !okSrc || !okDst {
			s.logger.Warn("skipping edge with missing endpoint on import",
				zap.String("relationship_id", r.ID))
			continue
		}
		nr := r
		nr.ID = s.idgen()
		nr.SourceBeliefID = src
		nr.TargetBeliefID = dst
		if err := s.relationships.Create(ctx, &nr); err != nil {
			return nil, domain.WrapErr(domain.KindStorageFailure, "import relationship", err)
		}
	}
	return idMap, nil
}

// Validate reports human-readable consistency issues for an agent's graph.
func (s *GraphService) Validate(ctx context.Context, agentID string) ([]string, error) {
	rels, err := s.relationships.ForAgent(ctx, agentID, true)
	if err != nil {
		return nil, domain.WrapErr(domain.KindStorageFailure, "load relationships", err)
	}
	beliefs, err := s.beliefs.ForAgent(ctx, agentID, true)
	if err != nil {
		return nil, domain.WrapErr(domain.KindStorageFailure, "load beliefs", err)
	}
	activeBeliefs := make(map[string]bool, len(beliefs))
	knownBeliefs := make(map[string]bool, len(beliefs))
	for _, b := range beliefs {
		knownBeliefs[b.ID] = true
		if b.Active {
			activeBeliefs[b.ID] = true
		}
	}

	var issues []string
	activePairs := make(map[string]string)
	for _, r := range rels {
		if r.SourceBeliefID == r.TargetBeliefID {
			issues = append(issues, fmt.Sprintf("relationship %s is self-referential", r.ID))
		}
		if r.EffectiveFrom != nil && r.EffectiveUntil != nil && r.EffectiveUntil.Before(*r.EffectiveFrom) {
			issues = append(issues, fmt.Sprintf("relationship %s has inverted temporal bounds", r.ID))
		}
		if !r.Active {
			continue
		}
		for _, endpoint := range []string{r.SourceBeliefID, r.TargetBeliefID} {
			if !knownBeliefs[endpoint] {
				issues = append(issues, fmt.Sprintf("relationship %s references missing belief %s", r.ID, endpoint))
			} else if !activeBeliefs[endpoint] && !domain.DeprecatingTypes[r.Type] {
				issues = append(issues, fmt.Sprintf("relationship %s references inactive belief %s", r.ID, endpoint))
			}
		}
		pair := r.SourceBeliefID + "|" + r.TargetBeliefID + "|" + string(r.Type)
		if other, ok := activePairs[pair]; ok {
			issues = append(issues, fmt.Sprintf("relationships %s and %s duplicate an active %s edge", other, r.ID, r.Type))
		} else {
			activePairs[pair] = r.ID
		}
	}
	return issues, nil
}

// PruneInactive hard-deletes inactive edges older than the given age.
func (s *GraphService) PruneInactive(ctx context.Context, agentID string, olderThan time.Duration) ([]string, error) {
	return s.relationships.PruneInactive(ctx, agentID, s.clock().Add(-olderThan))
}

package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cibfe/cibfe/internal/config"
	"github.com/cibfe/cibfe/internal/domain"
)

const (
	// ReinforcementConfidenceBoost is added to confidence when a belief is
	// reinforced.
	ReinforcementConfidenceBoost = 0.05
	// MaxConfidence is the ceiling for any confidence update.
	MaxConfidence = 0.99
	// NewContradictingBeliefConfidence is the starting confidence for a
	// belief created out of a contradiction.
	NewContradictingBeliefConfidence = 0.7
	// similarPeerLimit bounds how many peers are considered per candidate.
	similarPeerLimit = 5
)

// BeliefAnalyzer distills candidate beliefs from a stored memory, reinforces
// or splits them against the agent's existing beliefs, and resolves
// contradictions per the configured strategy, emitting relationship edges as
// it goes.
type BeliefAnalyzer struct {
	extractor domain.BeliefExtractionProvider
	beliefs   domain.BeliefStore
	graph     *GraphService
	cfg       config.SystemConfig
	clock     domain.Clock
	idgen     domain.IdGenerator
	logger    *zap.Logger
}

func NewBeliefAnalyzer(extractor domain.BeliefExtractionProvider, beliefs domain.BeliefStore, graph *GraphService, cfg config.SystemConfig, clock domain.Clock, idgen domain.IdGenerator, logger *zap.Logger) *BeliefAnalyzer {
	if clock == nil {
		clock = time.Now
	}
	if idgen == nil {
		idgen = uuid.NewString
	}
	return &BeliefAnalyzer{
		extractor: extractor,
		beliefs:   beliefs,
		graph:     graph,
		cfg:       cfg,
		clock:     clock,
		idgen:     idgen,
		logger:    logger,
	}
}

// Analyze processes one memory. Candidates are handled sequentially; each is
// atomic on its own, and a failing candidate is surfaced without aborting
// the rest.
func (a *BeliefAnalyzer) Analyze(ctx context.Context, memory *domain.MemoryRecord) (*domain.BeliefUpdateResult, error) {
	result := &domain.BeliefUpdateResult{}

	candidates, err := a.extractor.Extract(ctx, memory.Content, memory.AgentID, memory.Category.Primary)
	if err != nil {
		return nil, fmt.Errorf("extract candidates: %w", err)
	}

	for _, c := range candidates {
		if c.Confidence < a.cfg.MinCandidateConfidence {
			continue
		}
		if err := a.processCandidate(ctx, memory, c, result); err != nil {
			a.logger.Warn("candidate analysis failed",
				zap.String("agent_id", memory.AgentID),
				zap.String("statement", c.Statement),
				zap.Error(err))
			if result.Error == "" {
				result.Error = err.Error()
			}
		}
	}
	return result, nil
}

// Preview classifies candidates against the store without writing anything:
// peers that would be reinforced land in ReinforcedIDs, peers that would
// conflict in ConflictIDs. Beliefs that would be newly created have no id
// yet and are not listed.
func (a *BeliefAnalyzer) Preview(ctx context.Context, agentID, content string, category domain.CategoryLabel) (*domain.BeliefUpdateResult, error) {
	result := &domain.BeliefUpdateResult{}

	candidates, err := a.extractor.Extract(ctx, content, agentID, category.Primary)
	if err != nil {
		return nil, fmt.Errorf("extract candidates: %w", err)
	}
	for _, c := range candidates {
		if c.Confidence < a.cfg.MinCandidateConfidence {
			continue
		}
		peers, err := a.beliefs.FindSimilar(ctx, c.Statement, agentID, a.cfg.SimilarityThreshold, similarPeerLimit)
		if err != nil || len(peers) == 0 {
			continue
		}
		top := peers[0]
		score := top.Score
		if sim, err := a.extractor.Similarity(ctx, c.Statement, top.Statement); err == nil && sim > score {
			score = sim
		}
		contradicts, err := a.extractor.Contradicts(ctx, c.Statement, top.Statement, c.Category, top.Category)
		if err != nil {
			contradicts = false
		}
		switch {
		case contradicts:
			result.ConflictIDs = append(result.ConflictIDs, top.ID)
		case score >= a.cfg.ReinforceThreshold:
			result.ReinforcedIDs = append(result.ReinforcedIDs, top.ID)
		}
	}
	return result, nil
}

func (a *BeliefAnalyzer) processCandidate(ctx context.Context, memory *domain.MemoryRecord, c domain.CandidateBelief, result *domain.BeliefUpdateResult) error {
	// Peer search uses the store-level floor; classification against the
	// reinforce/related thresholds happens below on the best peer.
	peers, err := a.beliefs.FindSimilar(ctx, c.Statement, memory.AgentID, a.cfg.SimilarityThreshold, similarPeerLimit)
	if err != nil {
		return fmt.Errorf("find similar beliefs: %w", err)
	}

	if len(peers) == 0 {
		b, err := a.createBelief(ctx, memory, c)
		if err != nil {
			return err
		}
		result.NewIDs = append(result.NewIDs, b.ID)
		return nil
	}

	top := peers[0]

	// Retrying an already-analyzed memory is a no-op for beliefs that
	// already carry it as evidence.
	if top.HasEvidence(memory.ID) {
		return nil
	}

	// The store score selects peers; classification uses the extractor's
	// semantic similarity, which may rank the pair higher.
	score := top.Score
	if sim, err := a.extractor.Similarity(ctx, c.Statement, top.Statement); err == nil && sim > score {
		score = sim
	}

	contradicts, err := a.extractor.Contradicts(ctx, c.Statement, top.Statement, c.Category, top.Category)
	if err != nil {
		a.logger.Warn("contradiction check failed", zap.Error(err))
		contradicts = false
	}

	switch {
	case score >= a.cfg.ReinforceThreshold && !contradicts:
		if err := a.reinforce(ctx, &top.Belief, memory); err != nil {
			return err
		}
		result.ReinforcedIDs = append(result.ReinforcedIDs, top.ID)
		return nil

	case contradicts:
		return a.resolveConflict(ctx, memory, c, &top.Belief, result)

	default:
		b, err := a.createBelief(ctx, memory, c)
		if err != nil {
			return err
		}
		result.NewIDs = append(result.NewIDs, b.ID)
		if score >= a.cfg.RelatedThreshold {
			if _, err := a.graph.Create(ctx, CreateRelationshipInput{
				SourceBeliefID: b.ID,
				TargetBeliefID: top.ID,
				AgentID:        memory.AgentID,
				Type:           domain.RelRelatesTo,
				Strength:       score,
			}); err != nil {
				a.logger.Warn("relates-to edge creation failed", zap.Error(err))
			}
		}
		return nil
	}
}

func (a *BeliefAnalyzer) createBelief(ctx context.Context, memory *domain.MemoryRecord, c domain.CandidateBelief) (*domain.Belief, error) {
	category := c.Category
	if category == "" {
		if extracted, err := a.extractor.ExtractCategory(ctx, c.Statement); err == nil {
			category = extracted
		} else {
			category = memory.Category.Primary
		}
	}

	b := &domain.Belief{
		ID:                a.idgen(),
		AgentID:           memory.AgentID,
		Statement:         c.Statement,
		Confidence:        c.Confidence,
		Category:          category,
		Tags:              c.Tags,
		EvidenceMemoryIDs: []string{memory.ID},
		Active:            true,
	}
	if err := a.beliefs.Store(ctx, b); err != nil {
		// Lazy convergence: a concurrent ingestion may have created the same
		// normalized statement first. Read it back and reinforce instead.
		if exact, ferr := a.beliefs.FindSimilar(ctx, c.Statement, memory.AgentID, 1.0, 1); ferr == nil && len(exact) > 0 {
			if rerr := a.reinforce(ctx, &exact[0].Belief, memory); rerr == nil {
				return &exact[0].Belief, nil
			}
		}
		return nil, fmt.Errorf("store belief: %w", err)
	}
	return b, nil
}

// reinforce bumps evidence, reinforcement count and confidence on an
// existing belief.
func (a *BeliefAnalyzer) reinforce(ctx context.Context, b *domain.Belief, memory *domain.MemoryRecord) error {
	if !b.AddEvidence(memory.ID) {
		return nil
	}
	b.ReinforcementCount++
	b.Confidence += ReinforcementConfidenceBoost
	if b.Confidence > MaxConfidence {
		b.Confidence = MaxConfidence
	}
	if err := a.beliefs.Update(ctx, b); err != nil {
		return fmt.Errorf("update reinforced belief: %w", err)
	}
	return nil
}

func (a *BeliefAnalyzer) resolveConflict(ctx context.Context, memory *domain.MemoryRecord, c domain.CandidateBelief, old *domain.Belief, result *domain.BeliefUpdateResult) error {
	strategy := a.cfg.ResolutionFor(old.Category)

	conflict := &domain.BeliefConflict{
		AgentID:             memory.AgentID,
		NewEvidenceMemoryID: memory.ID,
		ConflictType:        domain.ConflictDirectContradiction,
		Severity:            domain.SeverityMedium,
		AutoResolvable:      strategy != domain.ResolveManualReview,
	}

	switch strategy {
	case domain.ResolveManualReview:
		// Both beliefs stay active; a human picks the winner later.
		b, err := a.createBelief(ctx, memory, c)
		if err != nil {
			return err
		}
		result.NewIDs = append(result.NewIDs, b.ID)
		conflict.BeliefIDs = []string{b.ID, old.ID}
		conflict.Description = fmt.Sprintf("%q contradicts %q; flagged for manual review", c.Statement, old.Statement)
		if err := a.beliefs.StoreConflict(ctx, conflict); err != nil {
			return fmt.Errorf("store conflict: %w", err)
		}
		result.ConflictIDs = append(result.ConflictIDs, conflict.ID)
		if _, err := a.graph.Create(ctx, CreateRelationshipInput{
			SourceBeliefID: b.ID,
			TargetBeliefID: old.ID,
			AgentID:        memory.AgentID,
			Type:           domain.RelContradicts,
			Strength:       0.8,
		}); err != nil {
			a.logger.Warn("contradicts edge creation failed", zap.Error(err))
		}
		return nil

	case domain.ResolveMerge:
		if merger, ok := a.extractor.(domain.StatementMerger); ok {
			merged, err := merger.MergeStatements(ctx, old.Statement, c.Statement)
			if err == nil && merged != "" {
				// The candidate is materialized inactive so the conflict
				// record has both endpoints; the merged statement lives on
				// the standing belief with unioned evidence.
				loser, err := a.createInactiveBelief(ctx, memory, c)
				if err != nil {
					return err
				}
				old.Statement = merged
				old.AddEvidence(memory.ID)
				old.ReinforcementCount++
				if err := a.beliefs.Update(ctx, old); err != nil {
					return fmt.Errorf("update merged belief: %w", err)
				}
				result.ReinforcedIDs = append(result.ReinforcedIDs, old.ID)

				now := a.clock()
				conflict.BeliefIDs = []string{old.ID, loser.ID}
				conflict.Description = fmt.Sprintf("merged %q into %q", c.Statement, merged)
				conflict.Resolved = true
				conflict.ResolvedAt = &now
				conflict.ResolutionStrategy = strategy
				if err := a.beliefs.StoreConflict(ctx, conflict); err != nil {
					return fmt.Errorf("store conflict: %w", err)
				}
				result.ConflictIDs = append(result.ConflictIDs, conflict.ID)
				return nil
			}
			a.logger.Warn("merge failed, falling back to newer-wins", zap.Error(err))
		}
		fallthrough

	case domain.ResolveNewerWins, domain.ResolveHigherConfidence:
		keepNew := true
		if strategy == domain.ResolveHigherConfidence {
			keepNew = c.Confidence >= old.Confidence
		}
		if !keepNew {
			// The standing belief wins; record the conflict as resolved
			// against the incoming candidate.
			b, err := a.createInactiveBelief(ctx, memory, c)
			if err != nil {
				return err
			}
			return a.finishSupersession(ctx, memory, old.ID, b.ID, conflict, strategy, result,
				fmt.Sprintf("%q kept over lower-confidence %q", old.Statement, c.Statement))
		}

		if _, err := a.beliefs.Deactivate(ctx, old.ID); err != nil {
			return fmt.Errorf("deactivate superseded belief: %w", err)
		}
		result.DeprecatedIDs = append(result.DeprecatedIDs, old.ID)

		c2 := c
		if c2.Confidence < NewContradictingBeliefConfidence {
			c2.Confidence = NewContradictingBeliefConfidence
		}
		b, err := a.createBelief(ctx, memory, c2)
		if err != nil {
			return err
		}
		result.NewIDs = append(result.NewIDs, b.ID)
		return a.finishSupersession(ctx, memory, b.ID, old.ID, conflict, strategy, result,
			fmt.Sprintf("superseded by %q", c.Statement))
	}
	return nil
}

// finishSupersession records the conflict as resolved and emits the
// SUPERSEDES edge from winner to loser.
func (a *BeliefAnalyzer) finishSupersession(ctx context.Context, memory *domain.MemoryRecord, winnerID, loserID string, conflict *domain.BeliefConflict, strategy domain.ResolutionStrategy, result *domain.BeliefUpdateResult, reason string) error {
	now := a.clock()
	conflict.BeliefIDs = []string{winnerID, loserID}
	conflict.Description = reason
	conflict.Resolved = true
	conflict.ResolvedAt = &now
	conflict.ResolutionStrategy = strategy
	if err := a.beliefs.StoreConflict(ctx, conflict); err != nil {
		return fmt.Errorf("store conflict: %w", err)
	}
	result.ConflictIDs = append(result.ConflictIDs, conflict.ID)

	if _, err := a.graph.Create(ctx, CreateRelationshipInput{
		SourceBeliefID:    winnerID,
		TargetBeliefID:    loserID,
		AgentID:           memory.AgentID,
		Type:              domain.RelSupersedes,
		Strength:          1.0,
		EffectiveFrom:     &now,
		DeprecationReason: reason,
	}); err != nil {
		return fmt.Errorf("create supersedes edge: %w", err)
	}
	return nil
}

// createInactiveBelief materializes a losing candidate so the conflict and
// supersession edge have a durable endpoint.
func (a *BeliefAnalyzer) createInactiveBelief(ctx context.Context, memory *domain.MemoryRecord, c domain.CandidateBelief) (*domain.Belief, error) {
	b := &domain.Belief{
		ID:                a.idgen(),
		AgentID:           memory.AgentID,
		Statement:         c.Statement,
		Confidence:        c.Confidence,
		Category:          c.Category,
		Tags:              c.Tags,
		EvidenceMemoryIDs: []string{memory.ID},
		Active:            false,
	}
	if err := a.beliefs.Store(ctx, b); err != nil {
		return nil, fmt.Errorf("store losing belief: %w", err)
	}
	return b, nil
}

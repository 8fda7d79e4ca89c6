package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cibfe/cibfe/internal/config"
	"github.com/cibfe/cibfe/internal/domain"
)

// IngestionService is the fixed orchestration of
// validate -> categorize -> embed -> store -> analyze for one observation.
type IngestionService struct {
	cfg         config.SystemConfig
	categorizer domain.Categorizer
	embedder    domain.EmbeddingProvider
	memories    domain.MemoryStore
	analyzer    *BeliefAnalyzer
	clock       domain.Clock
	logger      *zap.Logger
}

func NewIngestionService(cfg config.SystemConfig, cat domain.Categorizer, embedder domain.EmbeddingProvider, memories domain.MemoryStore, analyzer *BeliefAnalyzer, clock domain.Clock, logger *zap.Logger) *IngestionService {
	if clock == nil {
		clock = time.Now
	}
	return &IngestionService{
		cfg:         cfg,
		categorizer: cat,
		embedder:    embedder,
		memories:    memories,
		analyzer:    analyzer,
		clock:       clock,
		logger:      logger,
	}
}

func (s *IngestionService) Ingest(ctx context.Context, in domain.IngestionInput) (*domain.IngestionResult, error) {
	start := s.clock()

	if strings.TrimSpace(in.AgentID) == "" {
		return nil, domain.E(domain.KindInvalidInput, "agent_id is required")
	}
	if strings.TrimSpace(in.Content) == "" {
		return nil, domain.E(domain.KindInvalidInput, "content is required")
	}
	if len(in.Content) > s.cfg.MaxContentLength {
		return nil, domain.Ef(domain.KindInvalidInput, "content exceeds maximum length of %d", s.cfg.MaxContentLength)
	}

	result := &domain.IngestionResult{
		AgentID: in.AgentID,
		DryRun:  in.DryRun,
		Status:  domain.StatusSuccess,
	}
	surface := func(key, msg string) {
		if result.Metadata == nil {
			result.Metadata = make(map[string]string)
		}
		result.Metadata[key] = msg
	}

	// Categorization failure is never fatal; the record falls back to the
	// default label and the failure is surfaced to the caller.
	category, err := s.categorizer.Categorize(ctx, in.Content, in.Metadata)
	if err != nil {
		s.logger.Warn("categorization failed, using default",
			zap.String("agent_id", in.AgentID), zap.Error(err))
		category = domain.CategoryLabel{Primary: "general", Confidence: 0}
		surface("categorization_error", err.Error())
	}
	result.Category = category

	var embedding []float32
	if s.embedder != nil {
		vec, err := s.embedder.Embed(ctx, in.Content)
		if err != nil {
			s.logger.Warn("embedding failed, storing without vector",
				zap.String("agent_id", in.AgentID), zap.Error(err))
			surface("embedding_error", err.Error())
		} else {
			embedding = vec
		}
	}

	if in.DryRun {
		result.Status = domain.StatusDryRun
		if s.cfg.EnableBeliefAnalysis && s.analyzer != nil {
			if preview, err := s.analyzer.Preview(ctx, in.AgentID, in.Content, category); err == nil {
				result.BeliefUpdateResult = preview
			} else {
				surface("belief_preview_error", err.Error())
			}
		}
		result.ProcessingTimeMs = s.clock().Sub(start).Milliseconds()
		return result, nil
	}

	// Cancellation before storage leaves no side effects.
	if err := ctx.Err(); err != nil {
		return nil, domain.WrapErr(domain.KindStorageFailure, "cancelled before storage", err)
	}

	meta := domain.MemoryMetadata{Source: in.Source, Extra: in.Metadata, Tags: category.Tags}
	record, err := s.memories.EncodeAndStore(ctx, in.AgentID, in.Content, category, meta, embedding)
	if err != nil {
		if domain.IsKind(err, domain.KindInvalidInput) {
			return nil, err
		}
		return nil, domain.WrapErr(domain.KindStorageFailure, "encode and store failed", err)
	}
	result.MemoryID = record.ID
	result.EncodedSuccessfully = true

	if s.cfg.EnableBeliefAnalysis && s.analyzer != nil {
		// Cancellation after storage keeps the memory and skips analysis.
		if err := ctx.Err(); err != nil {
			result.Status = domain.StatusPartial
			surface("analysis_skipped", "cancelled after storage")
		} else if update, err := s.analyzer.Analyze(ctx, record); err != nil {
			s.logger.Warn("belief analysis failed",
				zap.String("agent_id", in.AgentID),
				zap.String("memory_id", record.ID),
				zap.Error(err))
			result.Status = domain.StatusPartial
			result.BeliefUpdateResult = &domain.BeliefUpdateResult{Error: err.Error()}
		} else {
			result.BeliefUpdateResult = update
			// A candidate that failed inside an otherwise completed analysis
			// still makes the result partial.
			if update.Error != "" {
				result.Status = domain.StatusPartial
			}
		}
	}

	result.ProcessingTimeMs = s.clock().Sub(start).Milliseconds()
	return result, nil
}

// DryRun is Ingest with persistence and analysis side effects disabled.
func (s *IngestionService) DryRun(ctx context.Context, in domain.IngestionInput) (*domain.IngestionResult, error) {
	in.DryRun = true
	return s.Ingest(ctx, in)
}

package store

import (
	"context"
	"sync"

	"github.com/cibfe/cibfe/internal/domain"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Choose is the strategy decision table. mode comes from config
// (auto/vector/text/fallback); caps from the backend probe. It returns the
// strategy name, or an error when a forced mode requires a capability the
// backend lacks.
func Choose(caps Capabilities, mode string) (string, error) {
	switch mode {
	case "vector":
		if !caps.Vector {
			return "", domain.E(domain.KindBackendUnavailable, "vector strategy requested but vector extension is missing")
		}
		return "vector", nil
	case "text":
		if caps.Trigram {
			return "trigram", nil
		}
		return "text", nil
	case "fallback":
		return "text", nil
	default: // auto
		if caps.Vector {
			return "vector", nil
		}
		if caps.Trigram {
			return "trigram", nil
		}
		return "text", nil
	}
}

// DefaultStrategy encapsulates the capability probe and forwards every call
// to the concrete strategy it chose. Selection happens once per process; an
// explicit Initialize re-probes, so runtime schema changes are picked up.
type DefaultStrategy struct {
	db   *pgxpool.Pool
	mode string

	mu     sync.RWMutex
	caps   Capabilities
	active domain.SearchStrategy
}

func NewDefaultStrategy(db *pgxpool.Pool, mode string) *DefaultStrategy {
	return &DefaultStrategy{db: db, mode: mode}
}

func (s *DefaultStrategy) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.active == nil {
		return "default"
	}
	return s.active.Name()
}

func (s *DefaultStrategy) SupportsVectorSearch() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active != nil && s.active.SupportsVectorSearch()
}

// Capabilities returns the probe result from the last Initialize.
func (s *DefaultStrategy) Capabilities() Capabilities {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.caps
}

func (s *DefaultStrategy) Initialize(ctx context.Context) error {
	caps, err := DetectCapabilities(ctx, s.db)
	if err != nil {
		return domain.WrapErr(domain.KindBackendUnavailable, "capability probe failed", err)
	}

	name, err := Choose(caps, s.mode)
	if err != nil {
		return err
	}

	var active domain.SearchStrategy
	switch name {
	case "vector":
		active = NewVectorStrategy(s.db)
	case "trigram":
		active = NewTrigramStrategy(s.db)
	default:
		active = NewTextStrategy(s.db)
	}
	if err := active.Initialize(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	s.caps = caps
	s.active = active
	s.mu.Unlock()
	return nil
}

func (s *DefaultStrategy) ValidateSchema(ctx context.Context) error {
	s.mu.RLock()
	active := s.active
	s.mu.RUnlock()
	if active == nil {
		return domain.E(domain.KindBackendUnavailable, "strategy not initialized")
	}
	return active.ValidateSchema(ctx)
}

func (s *DefaultStrategy) Search(ctx context.Context, q domain.SimilarityQuery) ([]domain.MemoryWithScore, error) {
	s.mu.RLock()
	active := s.active
	s.mu.RUnlock()
	if active == nil {
		return nil, domain.E(domain.KindBackendUnavailable, "strategy not initialized")
	}
	return active.Search(ctx, q)
}

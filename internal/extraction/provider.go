package extraction

import (
	"fmt"

	"github.com/cibfe/cibfe/internal/domain"
)

// Provider constants
const (
	ProviderOpenAI    = "openai"
	ProviderHeuristic = "heuristic"
	ProviderMock      = "mock"
)

// NewClient creates a belief extraction client based on the provider name.
// The heuristic provider needs no key and keeps the engine fully functional
// offline.
func NewClient(provider, apiKey string) (domain.BeliefExtractionProvider, error) {
	switch provider {
	case ProviderOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for OpenAI extraction provider")
		}
		return NewOpenAIClient(apiKey), nil

	case ProviderHeuristic:
		return NewHeuristic(), nil

	case ProviderMock:
		return NewMockClient(), nil

	default:
		return nil, fmt.Errorf("unknown extraction provider: %s (valid options: openai, heuristic, mock)", provider)
	}
}

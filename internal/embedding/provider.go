package embedding

import (
	"fmt"

	"github.com/cibfe/cibfe/internal/domain"
)

// Provider constants
const (
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
	ProviderNone   = "none"
)

var (
	_ domain.EmbeddingProvider = (*OpenAIClient)(nil)
	_ domain.EmbeddingProvider = (*MockClient)(nil)
	_ domain.EmbeddingProvider = (*NoopClient)(nil)
)

// NewClient creates an embedding client based on the provider name.
// Returns an error if the provider is unknown or the API key is empty
// (except for mock and none).
func NewClient(provider, apiKey string, dimension int) (domain.EmbeddingProvider, error) {
	switch provider {
	case ProviderOpenAI:
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for OpenAI embedding provider")
		}
		return NewOpenAIClient(apiKey, dimension), nil

	case ProviderMock:
		return NewMockClient(dimension), nil

	case ProviderNone:
		return NewNoopClient(), nil

	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (valid options: openai, mock, none)", provider)
	}
}

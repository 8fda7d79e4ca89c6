package extraction

import (
	"context"

	"github.com/cibfe/cibfe/internal/domain"
)

// MockClient is a configurable extraction client for testing.
// Set the response fields to control what each method returns.
type MockClient struct {
	ExtractResponse    []domain.CandidateBelief
	ExtractError       error
	SimilarityResponse float64
	// SimilarityByPair overrides SimilarityResponse for specific (a,b) pairs.
	SimilarityByPair    map[[2]string]float64
	SimilarityError     error
	ContradictsResponse bool
	ContradictsError    error
	CategoryResponse    string
	CategoryError       error
	RescoreResponse     float64
	RescoreError        error
	MergeResponse       string
	MergeError          error

	// Call tracking for assertions
	ExtractCalls     []string
	SimilarityCalls  [][2]string
	ContradictsCalls [][2]string
	MergeCalls       [][2]string
}

func NewMockClient() *MockClient {
	return &MockClient{
		ExtractResponse:  []domain.CandidateBelief{},
		CategoryResponse: "general",
		RescoreResponse:  0.5,
	}
}

func (c *MockClient) Extract(ctx context.Context, content, agentID, categoryHint string) ([]domain.CandidateBelief, error) {
	c.ExtractCalls = append(c.ExtractCalls, content)
	if c.ExtractError != nil {
		return nil, c.ExtractError
	}
	return c.ExtractResponse, nil
}

func (c *MockClient) Similarity(ctx context.Context, a, b string) (float64, error) {
	c.SimilarityCalls = append(c.SimilarityCalls, [2]string{a, b})
	if c.SimilarityError != nil {
		return 0, c.SimilarityError
	}
	if score, ok := c.SimilarityByPair[[2]string{a, b}]; ok {
		return score, nil
	}
	if score, ok := c.SimilarityByPair[[2]string{b, a}]; ok {
		return score, nil
	}
	return c.SimilarityResponse, nil
}

func (c *MockClient) Contradicts(ctx context.Context, a, b, categoryA, categoryB string) (bool, error) {
	c.ContradictsCalls = append(c.ContradictsCalls, [2]string{a, b})
	if c.ContradictsError != nil {
		return false, c.ContradictsError
	}
	return c.ContradictsResponse, nil
}

func (c *MockClient) ExtractCategory(ctx context.Context, statement string) (string, error) {
	if c.CategoryError != nil {
		return "", c.CategoryError
	}
	return c.CategoryResponse, nil
}

func (c *MockClient) Rescore(ctx context.Context, content, statement, context_ string) (float64, error) {
	if c.RescoreError != nil {
		return 0, c.RescoreError
	}
	return c.RescoreResponse, nil
}

func (c *MockClient) MergeStatements(ctx context.Context, a, b string) (string, error) {
	c.MergeCalls = append(c.MergeCalls, [2]string{a, b})
	if c.MergeError != nil {
		return "", c.MergeError
	}
	if c.MergeResponse != "" {
		return c.MergeResponse, nil
	}
	return b, nil
}

package embedding

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/cibfe/cibfe/internal/similarity"
)

// MockClient produces deterministic embeddings derived from token hashes, so
// tests get stable vectors where token overlap yields cosine similarity.
type MockClient struct {
	dimension int

	// Call tracking for assertions
	EmbedCalls []string
	// EmbedError, when set, is returned by every call.
	EmbedError error
}

func NewMockClient(dimension int) *MockClient {
	if dimension <= 0 {
		dimension = 16
	}
	return &MockClient{dimension: dimension}
}

func (c *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	c.EmbedCalls = append(c.EmbedCalls, text)
	if c.EmbedError != nil {
		return nil, c.EmbedError
	}

	vec := make([]float32, c.dimension)
	for _, token := range similarity.Tokenize(text) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(token))
		vec[int(h.Sum32())%c.dimension] += 1
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range vec {
			vec[i] /= n
		}
	}
	return vec, nil
}

// NoopClient reports "no embedding available" for every input. The pipeline
// treats that as an acceptable none result.
type NoopClient struct{}

func NewNoopClient() *NoopClient { return &NoopClient{} }

func (c *NoopClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, nil
}

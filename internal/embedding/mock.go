package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

// MockClient produces deterministic embeddings without network access.
// Texts sharing more normalized tokens get higher cosine similarity, which
// is enough structure for clustering and grouping tests.
type MockClient struct {
	// Dim is the vector dimensionality. Zero selects 64.
	Dim int
	// Fixed maps exact texts to canned vectors, checked before hashing.
	Fixed map[string][]float32

	// Calls counts Embed/EmbedBatch invocations.
	Calls int
}

var _ Client = (*MockClient)(nil)

func (m *MockClient) dim() int {
	if m.Dim > 0 {
		return m.Dim
	}
	return 64
}

// Embed returns a deterministic vector for text.
func (m *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	m.Calls++
	return m.vector(text), nil
}

// EmbedBatch returns deterministic vectors, one per input.
func (m *MockClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	m.Calls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = m.vector(t)
	}
	return out, nil
}

func (m *MockClient) vector(text string) []float32 {
	if v, ok := m.Fixed[text]; ok {
		return v
	}

	dim := m.dim()
	sum := make([]float64, dim)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New64a()
		h.Write([]byte(tok))
		seed := h.Sum64()
		for i := 0; i < dim; i++ {
			seed = seed*6364136223846793005 + 1442695040888963407
			sum[i] += float64(int64(seed)) / float64(math.MaxInt64)
		}
	}

	var norm float64
	for _, x := range sum {
		norm += x * x
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		norm = 1
	}

	out := make([]float32, dim)
	for i, x := range sum {
		out[i] = float32(x / norm)
	}
	return out
}

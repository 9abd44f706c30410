// Package mock provides a deterministic embedder for tests. Embeddings
// are derived from a text hash, so identical inputs always produce
// identical vectors without any model files.
package mock

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/solenoidlabs/recall/core"
)

// Embedder is the test implementation of core.Embedder.
type Embedder struct {
	dimensions int
}

// New creates a mock embedder with the standard MiniLM vector size.
func New() *Embedder {
	return NewWithDimensions(384)
}

// NewWithDimensions creates a mock embedder with a custom vector size.
func NewWithDimensions(dims int) *Embedder {
	return &Embedder{dimensions: dims}
}

// Embed creates a deterministic unit vector from the text's hash.
func (m *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	h := fnv.New64a()
	h.Write([]byte(text))
	seed := h.Sum64()

	embedding := make([]float32, m.dimensions)
	for i := range embedding {
		// LCG stream seeded by the text hash.
		seed = seed*6364136223846793005 + 1442695040888963407
		embedding[i] = float32(int64(seed)) / float32(math.MaxInt64)
	}
	return normalize(embedding), nil
}

// ModelInfo identifies the mock model.
func (m *Embedder) ModelInfo() core.ModelInfo {
	return core.ModelInfo{ID: "mock", Dimensions: m.dimensions}
}

func normalize(vec []float32) []float32 {
	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = float32(math.Sqrt(float64(norm)))
	for i, v := range vec {
		vec[i] = v / norm
	}
	return vec
}

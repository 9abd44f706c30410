package core

import "context"

// ModelInfo identifies the embedding model behind an Embedder.
type ModelInfo struct {
	ID         string
	Dimensions int
}

// Embedder converts text to vector embeddings.
// Implementations: MockEmbedder (testing), ONNXEmbedder (local, build tag
// "onnx"), or any API-backed embedder supplied by the host application.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// ModelInfo returns the model id and vector size.
	ModelInfo() ModelInfo
}

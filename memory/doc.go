// Package memory exposes the embedding store facade: one service
// aggregating the three domain indexes (documents, activity traces,
// conversation question/answer pairs) behind a single capability check.
//
// Architecture:
//   - store.VectorStore: vector persistence (chromem for local,
//     pgvector for production)
//   - core.Embedder: text-to-vector conversion (ONNX local, or any
//     API-backed embedder supplied by the host)
//   - index.*: per-domain embed/search/remove with reranking
//   - Service: capability gate and composition root
//
// The capability is decided once at construction and never mutated
// afterwards except through the disable transition taken when
// initialization fails. When disabled, every operation is a safe no-op
// returning empty values, never an error.
package memory

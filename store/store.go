// Package store defines the vector storage backend interface.
// Implementations: chromem.Store (embedded, local SDK), pgvector.Store
// (PostgreSQL, production).
package store

import "context"

// Collection names, one per content domain. Each domain exclusively owns
// its collection; records are never shared across domains.
const (
	CollectionDocuments     = "documents"
	CollectionTraces        = "traces"
	CollectionConversations = "qa_pairs"
)

// Well-known metadata keys.
const (
	MetaContentHash    = "content_hash"
	MetaModel          = "model"
	MetaWorkspaceID    = "workspace_id"
	MetaSessionID      = "session_id"
	MetaCreated        = "created"
	MetaUpdated        = "updated"
	MetaPath           = "path"
	MetaTitle          = "title"
	MetaPairID         = "pair_id"
	MetaSide           = "side"
	MetaChunk          = "chunk"
	MetaConversationID = "conversation_id"
	MetaStartSeq       = "start_seq"
	MetaEndSeq         = "end_seq"
	MetaPairType       = "pair_type"
	MetaSourceID       = "source_id"
	MetaRefs           = "refs"
)

// Record is one stored embedding: a vector, the processed text it was
// generated from, and flat string metadata. The content hash in Meta
// always matches the hash of Text at time of write.
type Record struct {
	ID        string
	Text      string
	Embedding []float32
	Meta      map[string]string
}

// Hit is a query result. Distance is a similarity distance where lower
// means more similar.
type Hit struct {
	Record
	Distance float64
}

// VectorStore is the persistence backend for embedding records.
// A record's vector and metadata are written and deleted together; no
// operation may leave one without the other.
type VectorStore interface {
	// Upsert inserts a record or replaces the record with the same id.
	Upsert(ctx context.Context, collection string, rec Record) error

	// Get returns a record by id, or nil when absent.
	Get(ctx context.Context, collection, id string) (*Record, error)

	// Query returns up to limit nearest records to the query vector,
	// filtered by exact-match metadata, ordered by ascending distance.
	Query(ctx context.Context, collection string, embedding []float32, limit int, where map[string]string) ([]Hit, error)

	// Delete removes records by id. Missing ids are not an error.
	Delete(ctx context.Context, collection string, ids ...string) error

	// DeleteWhere removes all records matching the metadata filter.
	DeleteWhere(ctx context.Context, collection string, where map[string]string) error

	// Count returns the number of records in a collection.
	Count(ctx context.Context, collection string) (int, error)

	// Close releases resources.
	Close() error
}

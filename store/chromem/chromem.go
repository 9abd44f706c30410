// Package chromem implements store.VectorStore on top of chromem-go,
// a pure Go embedded vector database. This is the default store for
// local use; production deployments use the pgvector store.
package chromem

import (
	"context"
	"fmt"
	"log"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/solenoidlabs/recall/store"
)

// Store wraps a chromem DB. Collections are created on first use.
type Store struct {
	db          *chromem.DB
	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

// New creates an in-memory store.
func New() (*Store, error) {
	return &Store{
		db:          chromem.NewDB(),
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// NewPersistent creates a store persisted under dir.
func NewPersistent(dir string) (*Store, error) {
	db, err := chromem.NewPersistentDB(dir, false)
	if err != nil {
		return nil, fmt.Errorf("open persistent db: %w", err)
	}
	return &Store{
		db:          db,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

func (s *Store) collection(name string) (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if col, ok := s.collections[name]; ok {
		return col, nil
	}
	col, err := s.db.GetOrCreateCollection(name, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("get or create collection %q: %w", name, err)
	}
	s.collections[name] = col
	return col, nil
}

// Upsert inserts or replaces a record. chromem stores the vector and
// metadata in one document, so the two can never drift apart.
func (s *Store) Upsert(ctx context.Context, collection string, rec store.Record) error {
	col, err := s.collection(collection)
	if err != nil {
		return err
	}

	meta := make(map[string]string, len(rec.Meta))
	for k, v := range rec.Meta {
		meta[k] = v
	}

	doc := chromem.Document{
		ID:        rec.ID,
		Content:   rec.Text,
		Embedding: rec.Embedding,
		Metadata:  meta,
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("add document %q: %w", rec.ID, err)
	}
	return nil
}

// Get returns a record by id, or nil when absent.
func (s *Store) Get(ctx context.Context, collection, id string) (*store.Record, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	doc, err := col.GetByID(ctx, id)
	if err != nil {
		// chromem only errors here when the id is unknown.
		return nil, nil
	}
	return &store.Record{
		ID:        doc.ID,
		Text:      doc.Content,
		Embedding: doc.Embedding,
		Meta:      doc.Metadata,
	}, nil
}

// Query returns the nearest records by cosine distance. chromem reports
// similarity (higher is closer); hits carry 1-similarity so that lower
// distance means more similar, matching the pgvector store.
func (s *Store) Query(ctx context.Context, collection string, embedding []float32, limit int, where map[string]string) ([]store.Hit, error) {
	col, err := s.collection(collection)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults larger than the collection.
	if n := col.Count(); limit > n {
		limit = n
	}
	if limit <= 0 {
		return nil, nil
	}

	results, err := col.QueryEmbedding(ctx, embedding, limit, where, nil)
	if err != nil {
		return nil, fmt.Errorf("query collection %q: %w", collection, err)
	}

	hits := make([]store.Hit, 0, len(results))
	for _, res := range results {
		hits = append(hits, store.Hit{
			Record: store.Record{
				ID:        res.ID,
				Text:      res.Content,
				Embedding: res.Embedding,
				Meta:      res.Metadata,
			},
			Distance: 1 - float64(res.Similarity),
		})
	}
	return hits, nil
}

// Delete removes records by id.
func (s *Store) Delete(ctx context.Context, collection string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	col, err := s.collection(collection)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, ids...); err != nil {
		return fmt.Errorf("delete from %q: %w", collection, err)
	}
	return nil
}

// DeleteWhere removes all records matching the metadata filter.
func (s *Store) DeleteWhere(ctx context.Context, collection string, where map[string]string) error {
	if len(where) == 0 {
		return fmt.Errorf("delete from %q: empty filter", collection)
	}
	col, err := s.collection(collection)
	if err != nil {
		return err
	}
	if col.Count() == 0 {
		return nil
	}
	if err := col.Delete(ctx, where, nil); err != nil {
		return fmt.Errorf("delete from %q: %w", collection, err)
	}
	return nil
}

// Count returns the number of records in a collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	col, err := s.collection(collection)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

// Close is a no-op; chromem flushes writes as they happen.
func (s *Store) Close() error {
	log.Printf("[CHROMEM] store closed")
	return nil
}

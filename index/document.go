// Package index implements the three domain embedding indexes: documents,
// activity traces, and conversation question/answer pairs. Each index
// owns its own collection in the vector store and applies a
// domain-specific rerank on top of raw vector distance.
package index

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"time"

	"github.com/solenoidlabs/recall/content"
	"github.com/solenoidlabs/recall/core"
	"github.com/solenoidlabs/recall/store"
)

// DocumentResult is one reranked document search hit.
type DocumentResult struct {
	Path      string
	Title     string
	Preview   string
	Distance  float64
	Score     float64
	UpdatedAt time.Time
}

// DocumentIndex embeds standalone documents keyed by path.
type DocumentIndex struct {
	store    store.VectorStore
	embedder core.Embedder
	now      func() time.Time
}

// NewDocumentIndex creates a document index over the given store.
func NewDocumentIndex(s store.VectorStore, e core.Embedder) *DocumentIndex {
	return &DocumentIndex{store: s, embedder: e, now: time.Now}
}

// Embed indexes a document. Unchanged content (by hash) is a no-op;
// content that normalizes to nothing removes any stale record.
func (x *DocumentIndex) Embed(ctx context.Context, path, title, raw string) error {
	text, ok := content.Normalize(raw)
	if !ok {
		// The document no longer carries embeddable content; keeping an
		// old vector around would violate the staleness invariant.
		return x.Remove(ctx, path)
	}
	hash := content.Hash(text)

	existing, err := x.store.Get(ctx, store.CollectionDocuments, path)
	if err != nil {
		return fmt.Errorf("embed document %q: %w", path, err)
	}
	if existing != nil && existing.Meta[store.MetaContentHash] == hash {
		return nil
	}

	vec, err := x.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed document %q: %w", path, err)
	}

	now := x.now()
	created := strconv.FormatInt(now.Unix(), 10)
	if existing != nil && existing.Meta[store.MetaCreated] != "" {
		created = existing.Meta[store.MetaCreated]
	}
	rec := store.Record{
		ID:        path,
		Text:      text,
		Embedding: vec,
		Meta: map[string]string{
			store.MetaPath:        path,
			store.MetaTitle:       title,
			store.MetaContentHash: hash,
			store.MetaModel:       x.embedder.ModelInfo().ID,
			store.MetaCreated:     created,
			store.MetaUpdated:     strconv.FormatInt(now.Unix(), 10),
		},
	}
	if err := x.store.Upsert(ctx, store.CollectionDocuments, rec); err != nil {
		return fmt.Errorf("embed document %q: %w", path, err)
	}
	return nil
}

// Search returns up to limit documents ranked by boosted distance.
func (x *DocumentIndex) Search(ctx context.Context, query string, limit int) ([]DocumentResult, error) {
	if limit <= 0 {
		return nil, nil
	}
	vec, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("document search: %w", err)
	}
	hits, err := x.store.Query(ctx, store.CollectionDocuments, vec, limit*candidateMultiplier, nil)
	if err != nil {
		return nil, fmt.Errorf("document search: %w", err)
	}

	now := x.now()
	results := make([]DocumentResult, 0, len(hits))
	for _, hit := range hits {
		updated := parseUnix(hit.Meta[store.MetaUpdated])
		score := hit.Distance
		score *= recencyFactor(now.Sub(updated), docRecencyBoost, docRecencyWindow)
		score *= pathFactor(query, hit.Meta[store.MetaPath])
		results = append(results, DocumentResult{
			Path:      hit.Meta[store.MetaPath],
			Title:     hit.Meta[store.MetaTitle],
			Preview:   hit.Text,
			Distance:  hit.Distance,
			Score:     score,
			UpdatedAt: updated,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score < results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Remove deletes a document's embedding record.
func (x *DocumentIndex) Remove(ctx context.Context, path string) error {
	if err := x.store.Delete(ctx, store.CollectionDocuments, path); err != nil {
		return fmt.Errorf("remove document %q: %w", path, err)
	}
	return nil
}

// Count returns the number of indexed documents.
func (x *DocumentIndex) Count(ctx context.Context) (int, error) {
	return x.store.Count(ctx, store.CollectionDocuments)
}

// parseUnix parses a unix-seconds string; malformed values map to the
// zero time (and therefore no recency boost).
func parseUnix(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		log.Printf("[INDEX] bad timestamp %q", s)
		return time.Time{}
	}
	return time.Unix(sec, 0)
}

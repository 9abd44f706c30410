package index

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/solenoidlabs/recall/content"
	"github.com/solenoidlabs/recall/core"
	"github.com/solenoidlabs/recall/store"
)

// TraceResult is one reranked trace search hit.
type TraceResult struct {
	TraceID   string
	Action    string
	Preview   string
	Distance  float64
	Score     float64
	CreatedAt time.Time
}

// TraceIndex embeds free-form activity traces keyed by trace id.
type TraceIndex struct {
	store    store.VectorStore
	embedder core.Embedder
	now      func() time.Time
}

// NewTraceIndex creates a trace index over the given store.
func NewTraceIndex(s store.VectorStore, e core.Embedder) *TraceIndex {
	return &TraceIndex{store: s, embedder: e, now: time.Now}
}

// Embed indexes a trace. Unchanged content (by hash) is a no-op.
func (x *TraceIndex) Embed(ctx context.Context, t *core.Trace) error {
	text, ok := content.Normalize(t.FormatForEmbedding())
	if !ok {
		return nil
	}
	hash := content.Hash(text)

	existing, err := x.store.Get(ctx, store.CollectionTraces, t.ID)
	if err != nil {
		return fmt.Errorf("embed trace %q: %w", t.ID, err)
	}
	if existing != nil && existing.Meta[store.MetaContentHash] == hash {
		return nil
	}

	vec, err := x.embedder.Embed(ctx, text)
	if err != nil {
		return fmt.Errorf("embed trace %q: %w", t.ID, err)
	}

	created := t.CreatedAt
	if created.IsZero() {
		created = x.now()
	}
	rec := store.Record{
		ID:        t.ID,
		Text:      text,
		Embedding: vec,
		Meta: map[string]string{
			store.MetaWorkspaceID: t.WorkspaceID,
			store.MetaContentHash: hash,
			store.MetaModel:       x.embedder.ModelInfo().ID,
			store.MetaCreated:     strconv.FormatInt(created.Unix(), 10),
			store.MetaSourceID:    t.Action,
		},
	}
	if err := x.store.Upsert(ctx, store.CollectionTraces, rec); err != nil {
		return fmt.Errorf("embed trace %q: %w", t.ID, err)
	}
	return nil
}

// Search returns up to limit traces in a workspace ranked by boosted
// distance. The workspace filter is required.
func (x *TraceIndex) Search(ctx context.Context, query, workspaceID string, limit int) ([]TraceResult, error) {
	if workspaceID == "" {
		return nil, fmt.Errorf("trace search: workspace id is required")
	}
	if limit <= 0 {
		return nil, nil
	}
	vec, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("trace search: %w", err)
	}
	where := map[string]string{store.MetaWorkspaceID: workspaceID}
	hits, err := x.store.Query(ctx, store.CollectionTraces, vec, limit*candidateMultiplier, where)
	if err != nil {
		return nil, fmt.Errorf("trace search: %w", err)
	}

	now := x.now()
	results := make([]TraceResult, 0, len(hits))
	for _, hit := range hits {
		created := parseUnix(hit.Meta[store.MetaCreated])
		score := hit.Distance * recencyFactor(now.Sub(created), traceRecencyBoost, traceRecencyWindow)
		results = append(results, TraceResult{
			TraceID:   hit.ID,
			Action:    hit.Meta[store.MetaSourceID],
			Preview:   hit.Text,
			Distance:  hit.Distance,
			Score:     score,
			CreatedAt: created,
		})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score < results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// Remove deletes a trace's embedding record.
func (x *TraceIndex) Remove(ctx context.Context, traceID string) error {
	if err := x.store.Delete(ctx, store.CollectionTraces, traceID); err != nil {
		return fmt.Errorf("remove trace %q: %w", traceID, err)
	}
	return nil
}

// RemoveByWorkspace deletes all trace records owned by a workspace.
func (x *TraceIndex) RemoveByWorkspace(ctx context.Context, workspaceID string) error {
	where := map[string]string{store.MetaWorkspaceID: workspaceID}
	if err := x.store.DeleteWhere(ctx, store.CollectionTraces, where); err != nil {
		return fmt.Errorf("remove traces for workspace %q: %w", workspaceID, err)
	}
	return nil
}

// Count returns the number of indexed traces.
func (x *TraceIndex) Count(ctx context.Context) (int, error) {
	return x.store.Count(ctx, store.CollectionTraces)
}

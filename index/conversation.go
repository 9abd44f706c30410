package index

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/solenoidlabs/recall/content"
	"github.com/solenoidlabs/recall/core"
	"github.com/solenoidlabs/recall/history"
	"github.com/solenoidlabs/recall/qa"
	"github.com/solenoidlabs/recall/store"
)

// Sides of a question/answer pair, embedded independently.
const (
	SideQuestion = "q"
	SideAnswer   = "a"
)

// DefaultChunkSize is the maximum characters per embedded chunk. It sits
// under the preprocessor cap so every chunk embeds whole.
const DefaultChunkSize = 1000

// UntitledConversation is the display title used when a conversation
// cannot be found or carries no title.
const UntitledConversation = "Untitled"

// ConversationResult is one reranked, hydrated conversation search hit.
// Question and Answer carry the full text re-fetched from the message
// store, not the possibly-truncated chunk preview. When the store cannot
// serve the pair, the matched side keeps its chunk preview and the other
// side stays empty.
type ConversationResult struct {
	PairID         string
	ConversationID string
	Title          string
	Question       string
	Answer         string
	MatchedSide    string
	PairType       qa.PairType
	StartSeq       int
	EndSeq         int
	SessionID      string
	Distance       float64
	Score          float64
}

// ConversationIndex embeds question/answer pairs extracted from
// conversations. Question and answer sides are embedded independently as
// separate, possibly multi-chunk records sharing one pair id.
type ConversationIndex struct {
	store     store.VectorStore
	embedder  core.Embedder
	repo      history.Repository
	titles    *ristretto.Cache
	chunkSize int
	now       func() time.Time
}

// NewConversationIndex creates a conversation index. The repository is
// used to hydrate full pair text and conversation titles at search time.
func NewConversationIndex(s store.VectorStore, e core.Embedder, repo history.Repository) *ConversationIndex {
	titles, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err != nil {
		// Only reachable with a bad static config.
		log.Printf("[INDEX] title cache unavailable: %v", err)
	}
	return &ConversationIndex{
		store:     s,
		embedder:  e,
		repo:      repo,
		titles:    titles,
		chunkSize: DefaultChunkSize,
		now:       time.Now,
	}
}

// EmbedPair indexes one question/answer pair. An unchanged pair (by
// content hash) is a no-op. A changed pair first drops every prior chunk
// for its id, then re-embeds both sides from scratch; there is never a
// partial overwrite.
func (x *ConversationIndex) EmbedPair(ctx context.Context, pair qa.Pair) error {
	question, qok := content.Normalize(pair.Question)
	answer, aok := content.Normalize(pair.Answer)
	if !qok && !aok {
		return nil
	}
	var sides []string
	if qok {
		sides = append(sides, SideQuestion)
	}
	if aok {
		sides = append(sides, SideAnswer)
	}

	if unchanged, err := x.pairUnchanged(ctx, pair, sides); err != nil {
		return fmt.Errorf("embed pair %q: %w", pair.PairID, err)
	} else if unchanged {
		return nil
	}

	if err := x.store.DeleteWhere(ctx, store.CollectionConversations,
		map[string]string{store.MetaPairID: pair.PairID}); err != nil {
		return fmt.Errorf("embed pair %q: %w", pair.PairID, err)
	}

	created := x.now()
	if conv, err := x.repo.GetConversation(ctx, pair.ConversationID); err == nil && conv != nil && !conv.CreatedAt.IsZero() {
		created = conv.CreatedAt
	}

	if qok {
		refs := content.References(pair.Question)
		if err := x.embedSide(ctx, pair, SideQuestion, question, refs, created); err != nil {
			return err
		}
	}
	if aok {
		refs := content.References(pair.Answer)
		if err := x.embedSide(ctx, pair, SideAnswer, answer, refs, created); err != nil {
			return err
		}
	}
	return nil
}

// pairUnchanged reports whether every expected side already has its
// first chunk stored under the pair's current content hash. A missing
// side means a previous embed was interrupted partway, so the pair must
// be re-embedded even when the surviving side's hash matches.
func (x *ConversationIndex) pairUnchanged(ctx context.Context, pair qa.Pair, sides []string) (bool, error) {
	for _, side := range sides {
		rec, err := x.store.Get(ctx, store.CollectionConversations, chunkID(pair.PairID, side, 0))
		if err != nil {
			return false, err
		}
		if rec == nil || rec.Meta[store.MetaContentHash] != pair.ContentHash {
			return false, nil
		}
	}
	return true, nil
}

func (x *ConversationIndex) embedSide(ctx context.Context, pair qa.Pair, side, text string, refs []string, created time.Time) error {
	for i, chunk := range content.SplitChunks(text, x.chunkSize) {
		vec, err := x.embedder.Embed(ctx, chunk)
		if err != nil {
			return fmt.Errorf("embed pair %q side %s chunk %d: %w", pair.PairID, side, i, err)
		}
		rec := store.Record{
			ID:        chunkID(pair.PairID, side, i),
			Text:      chunk,
			Embedding: vec,
			Meta: map[string]string{
				store.MetaPairID:         pair.PairID,
				store.MetaSide:           side,
				store.MetaChunk:          strconv.Itoa(i),
				store.MetaConversationID: pair.ConversationID,
				store.MetaWorkspaceID:    pair.WorkspaceID,
				store.MetaSessionID:      pair.SessionID,
				store.MetaStartSeq:       strconv.Itoa(pair.StartSeq),
				store.MetaEndSeq:         strconv.Itoa(pair.EndSeq),
				store.MetaPairType:       string(pair.Type),
				store.MetaSourceID:       pair.SourceID,
				store.MetaContentHash:    pair.ContentHash,
				store.MetaModel:          x.embedder.ModelInfo().ID,
				store.MetaCreated:        strconv.FormatInt(created.Unix(), 10),
				store.MetaRefs:           strings.Join(refs, " "),
			},
		}
		if err := x.store.Upsert(ctx, store.CollectionConversations, rec); err != nil {
			return fmt.Errorf("embed pair %q side %s chunk %d: %w", pair.PairID, side, i, err)
		}
	}
	return nil
}

func chunkID(pairID, side string, chunk int) string {
	return fmt.Sprintf("%s:%s:%d", pairID, side, chunk)
}

// Search returns up to limit pairs in a workspace ranked by boosted
// distance. Candidates are deduplicated to the best chunk per pair, then
// boosted by recency, session density and cross-reference overlap. The
// session filter is applied here rather than pushed into the KNN query.
func (x *ConversationIndex) Search(ctx context.Context, query, workspaceID, sessionID string, limit int) ([]ConversationResult, error) {
	if workspaceID == "" {
		return nil, fmt.Errorf("conversation search: workspace id is required")
	}
	if limit <= 0 {
		return nil, nil
	}
	vec, err := x.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("conversation search: %w", err)
	}
	where := map[string]string{store.MetaWorkspaceID: workspaceID}
	hits, err := x.store.Query(ctx, store.CollectionConversations, vec, limit*candidateMultiplier, where)
	if err != nil {
		return nil, fmt.Errorf("conversation search: %w", err)
	}
	if sessionID != "" {
		filtered := hits[:0]
		for _, hit := range hits {
			if hit.Meta[store.MetaSessionID] == sessionID {
				filtered = append(filtered, hit)
			}
		}
		hits = filtered
	}

	// Keep only the lowest-distance chunk per pair.
	best := make(map[string]store.Hit)
	var order []string
	for _, hit := range hits {
		pairID := hit.Meta[store.MetaPairID]
		prev, ok := best[pairID]
		if !ok {
			order = append(order, pairID)
			best[pairID] = hit
			continue
		}
		if hit.Distance < prev.Distance {
			best[pairID] = hit
		}
	}

	// Session density over the deduplicated candidate set.
	sessionHits := make(map[string]int)
	for _, pairID := range order {
		if sid := best[pairID].Meta[store.MetaSessionID]; sid != "" {
			sessionHits[sid]++
		}
	}

	terms := queryTerms(query)
	now := x.now()
	results := make([]ConversationResult, 0, len(order))
	for _, pairID := range order {
		hit := best[pairID]
		created := parseUnix(hit.Meta[store.MetaCreated])

		score := hit.Distance
		score *= recencyFactor(now.Sub(created), convRecencyBoost, convRecencyWindow)
		if sid := hit.Meta[store.MetaSessionID]; sid != "" {
			score *= densityFactor(sessionHits[sid])
		}
		if refs := hit.Meta[store.MetaRefs]; refs != "" {
			score *= xrefFactor(strings.Fields(refs), terms)
		}

		startSeq, _ := strconv.Atoi(hit.Meta[store.MetaStartSeq])
		endSeq, _ := strconv.Atoi(hit.Meta[store.MetaEndSeq])
		result := ConversationResult{
			PairID:         pairID,
			ConversationID: hit.Meta[store.MetaConversationID],
			MatchedSide:    hit.Meta[store.MetaSide],
			PairType:       qa.PairType(hit.Meta[store.MetaPairType]),
			StartSeq:       startSeq,
			EndSeq:         endSeq,
			SessionID:      hit.Meta[store.MetaSessionID],
			Distance:       hit.Distance,
			Score:          score,
		}
		// The chunk preview stands in on its own side until hydration.
		if result.MatchedSide == SideAnswer {
			result.Answer = hit.Text
		} else {
			result.Question = hit.Text
		}
		results = append(results, result)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score < results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}

	for i := range results {
		x.hydrate(ctx, &results[i], best[results[i].PairID])
	}
	return results, nil
}

// hydrate re-fetches the full question/answer text by sequence range and
// attaches the conversation's display title. Fetch failures leave the
// chunk preview in place.
func (x *ConversationIndex) hydrate(ctx context.Context, r *ConversationResult, hit store.Hit) {
	r.Title = x.title(ctx, r.ConversationID)

	messages, err := x.repo.GetMessagesBySequenceRange(ctx, r.ConversationID, r.StartSeq, r.EndSeq)
	if err != nil {
		log.Printf("[INDEX] hydrate pair %s: %v", r.PairID, err)
		return
	}

	switch r.PairType {
	case qa.PairTypeTrace:
		sourceID := hit.Meta[store.MetaSourceID]
		for _, m := range messages {
			if m.Role == core.RoleAssistant {
				for _, call := range m.ToolCalls {
					if call.ID == sourceID {
						r.Question = fmt.Sprintf("Tool: %s(%s)", call.Name, string(call.Args))
					}
				}
			}
			if m.Role == core.RoleTool && m.ToolCallID == sourceID {
				r.Answer = m.Content
			}
		}
		if r.Answer == "" {
			r.Answer = qa.EmptyToolResult
		}
	default:
		for _, m := range messages {
			if m.Role == core.RoleUser && m.Seq == r.StartSeq {
				r.Question = m.Content
			}
			if m.Role == core.RoleAssistant {
				r.Answer = m.Content
			}
		}
	}
}

// title resolves a conversation's display title through the cache.
func (x *ConversationIndex) title(ctx context.Context, conversationID string) string {
	if x.titles != nil {
		if v, ok := x.titles.Get(conversationID); ok {
			return v.(string)
		}
	}
	title := UntitledConversation
	if conv, err := x.repo.GetConversation(ctx, conversationID); err == nil && conv != nil && conv.Title != "" {
		title = conv.Title
	}
	if x.titles != nil {
		x.titles.Set(conversationID, title, int64(len(title)))
	}
	return title
}

// RemovePair deletes every chunk stored for a pair.
func (x *ConversationIndex) RemovePair(ctx context.Context, pairID string) error {
	where := map[string]string{store.MetaPairID: pairID}
	if err := x.store.DeleteWhere(ctx, store.CollectionConversations, where); err != nil {
		return fmt.Errorf("remove pair %q: %w", pairID, err)
	}
	return nil
}

// RemoveByConversation deletes every chunk stored for a conversation.
func (x *ConversationIndex) RemoveByConversation(ctx context.Context, conversationID string) error {
	where := map[string]string{store.MetaConversationID: conversationID}
	if err := x.store.DeleteWhere(ctx, store.CollectionConversations, where); err != nil {
		return fmt.Errorf("remove conversation %q: %w", conversationID, err)
	}
	return nil
}

// Count returns the number of stored conversation chunks.
func (x *ConversationIndex) Count(ctx context.Context) (int, error) {
	return x.store.Count(ctx, store.CollectionConversations)
}

package index_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/solenoidlabs/recall/core"
	"github.com/solenoidlabs/recall/history"
	"github.com/solenoidlabs/recall/index"
	"github.com/solenoidlabs/recall/memory/embedder/mock"
	"github.com/solenoidlabs/recall/qa"
	"github.com/solenoidlabs/recall/store"
	"github.com/solenoidlabs/recall/store/chromem"
)

// countingEmbedder counts vector generations to assert hash
// short-circuits.
type countingEmbedder struct {
	inner *mock.Embedder
	mu    sync.Mutex
	calls int
}

func newCountingEmbedder() *countingEmbedder {
	return &countingEmbedder{inner: mock.New()}
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.inner.Embed(ctx, text)
}

func (c *countingEmbedder) ModelInfo() core.ModelInfo {
	return c.inner.ModelInfo()
}

func (c *countingEmbedder) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// flakyEmbedder fails once on a chosen text, then recovers.
type flakyEmbedder struct {
	inner    *mock.Embedder
	failOn   string
	failures int
}

func (f *flakyEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == f.failOn && f.failures > 0 {
		f.failures--
		return nil, errors.New("embedding engine unavailable")
	}
	return f.inner.Embed(ctx, text)
}

func (f *flakyEmbedder) ModelInfo() core.ModelInfo {
	return f.inner.ModelInfo()
}

// stubEmbedder returns fixed vectors per text so distances are known.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func (s *stubEmbedder) ModelInfo() core.ModelInfo {
	return core.ModelInfo{ID: "stub", Dimensions: 3}
}

func newStore(t *testing.T) *chromem.Store {
	t.Helper()
	s, err := chromem.New()
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	return s
}

func TestDocumentIndexIdempotent(t *testing.T) {
	ctx := context.Background()
	emb := newCountingEmbedder()
	idx := index.NewDocumentIndex(newStore(t), emb)

	raw := "Monthly spending went down in March compared to February."
	if err := idx.Embed(ctx, "notes/budget.md", "Budget", raw); err != nil {
		t.Fatalf("embed: %v", err)
	}
	first := emb.count()

	if err := idx.Embed(ctx, "notes/budget.md", "Budget", raw); err != nil {
		t.Fatalf("re-embed: %v", err)
	}
	if emb.count() != first {
		t.Errorf("unchanged content generated new vectors: %d -> %d", first, emb.count())
	}

	if err := idx.Embed(ctx, "notes/budget.md", "Budget", raw+" Updated."); err != nil {
		t.Fatalf("embed changed: %v", err)
	}
	if emb.count() != first+1 {
		t.Errorf("changed content should generate exactly one new vector")
	}
}

func TestDocumentIndexSearchAndRemove(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	idx := index.NewDocumentIndex(s, mock.New())

	docs := map[string]string{
		"notes/budget.md":  "Monthly spending went down in March compared to February.",
		"notes/recipes.md": "A simple pasta recipe with garlic, olive oil and parmesan.",
	}
	for path, raw := range docs {
		if err := idx.Embed(ctx, path, "", raw); err != nil {
			t.Fatalf("embed %s: %v", path, err)
		}
	}

	// The mock embedder is deterministic, so querying with a document's
	// normalized text gets distance zero for that document.
	results, err := idx.Search(ctx, docs["notes/budget.md"], 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) == 0 || results[0].Path != "notes/budget.md" {
		t.Fatalf("expected budget doc first, got %+v", results)
	}

	if err := idx.Remove(ctx, "notes/budget.md"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	n, err := idx.Count(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 document after removal, got %d", n)
	}
}

func TestDocumentIndexDropsStaleOnEmptyContent(t *testing.T) {
	ctx := context.Background()
	idx := index.NewDocumentIndex(newStore(t), mock.New())

	if err := idx.Embed(ctx, "notes/tmp.md", "", "This note has plenty of content at first."); err != nil {
		t.Fatalf("embed: %v", err)
	}
	if err := idx.Embed(ctx, "notes/tmp.md", "", "gone"); err != nil {
		t.Fatalf("embed shrunk: %v", err)
	}
	n, _ := idx.Count(ctx)
	if n != 0 {
		t.Errorf("expected stale record removed, got %d", n)
	}
}

func TestTraceIndexRequiresWorkspace(t *testing.T) {
	idx := index.NewTraceIndex(newStore(t), mock.New())
	if _, err := idx.Search(context.Background(), "anything", "", 5); err == nil {
		t.Error("expected error for missing workspace")
	}
}

func TestTraceIndexWorkspaceScoping(t *testing.T) {
	ctx := context.Background()
	idx := index.NewTraceIndex(newStore(t), mock.New())

	tr := core.NewTrace("ws-1", "get_balance", `{"account":"main"}`, "balance is $120", true)
	if err := idx.Embed(ctx, tr); err != nil {
		t.Fatalf("embed trace: %v", err)
	}

	results, err := idx.Search(ctx, "balance", "ws-1", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].TraceID != tr.ID {
		t.Fatalf("expected the trace in ws-1, got %+v", results)
	}

	other, err := idx.Search(ctx, "balance", "ws-2", 5)
	if err != nil {
		t.Fatalf("search other workspace: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("expected no hits in ws-2, got %d", len(other))
	}
}

func testPair(pairID string) qa.Pair {
	return qa.Pair{
		PairID:         pairID,
		ConversationID: "conv-1",
		StartSeq:       0,
		EndSeq:         1,
		Type:           qa.PairTypeTurn,
		Question:       "what did I spend on groceries last month?",
		Answer:         "you spent roughly $340 on groceries in March",
		ContentHash:    "abcd1234",
		WorkspaceID:    "ws-1",
		SessionID:      "sess-1",
	}
}

func TestConversationEmbedIdempotent(t *testing.T) {
	ctx := context.Background()
	emb := newCountingEmbedder()
	repo := history.NewMemoryRepository()
	idx := index.NewConversationIndex(newStore(t), emb, repo)

	pair := testPair("turn:conv-1:0")
	if err := idx.EmbedPair(ctx, pair); err != nil {
		t.Fatalf("embed pair: %v", err)
	}
	first := emb.count()

	if err := idx.EmbedPair(ctx, pair); err != nil {
		t.Fatalf("re-embed pair: %v", err)
	}
	if emb.count() != first {
		t.Errorf("unchanged pair generated new vectors: %d -> %d", first, emb.count())
	}
}

func TestConversationReembedReplacesAllChunks(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	repo := history.NewMemoryRepository()
	idx := index.NewConversationIndex(s, mock.New(), repo)

	pair := testPair("turn:conv-1:0")
	if err := idx.EmbedPair(ctx, pair); err != nil {
		t.Fatalf("embed pair: %v", err)
	}
	qRec, _ := s.Get(ctx, store.CollectionConversations, "turn:conv-1:0:q:0")
	if qRec == nil {
		t.Fatal("expected question chunk after first embed")
	}

	// Change the pair so only the answer side survives preprocessing.
	changed := pair
	changed.Question = "hm"
	changed.Answer = "a completely different answer about utilities spending"
	changed.ContentHash = "ffff0000"
	if err := idx.EmbedPair(ctx, changed); err != nil {
		t.Fatalf("re-embed changed pair: %v", err)
	}

	qRec, _ = s.Get(ctx, store.CollectionConversations, "turn:conv-1:0:q:0")
	if qRec != nil {
		t.Error("old question chunk survived re-embed")
	}
	aRec, _ := s.Get(ctx, store.CollectionConversations, "turn:conv-1:0:a:0")
	if aRec == nil {
		t.Fatal("expected new answer chunk")
	}
	if aRec.Meta[store.MetaContentHash] != "ffff0000" {
		t.Errorf("answer chunk carries stale hash %q", aRec.Meta[store.MetaContentHash])
	}
}

func TestConversationRetryRepairsPartialEmbed(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	repo := history.NewMemoryRepository()

	pair := testPair("turn:conv-1:0")
	emb := &flakyEmbedder{inner: mock.New(), failOn: pair.Answer, failures: 1}
	idx := index.NewConversationIndex(s, emb, repo)

	if err := idx.EmbedPair(ctx, pair); err == nil {
		t.Fatal("expected error from failing answer embed")
	}
	qRec, _ := s.Get(ctx, store.CollectionConversations, "turn:conv-1:0:q:0")
	aRec, _ := s.Get(ctx, store.CollectionConversations, "turn:conv-1:0:a:0")
	if qRec == nil || aRec != nil {
		t.Fatalf("expected question-only state after failure, got q=%v a=%v", qRec != nil, aRec != nil)
	}

	// The engine recovers; the retry must repair the missing side rather
	// than short-circuiting on the surviving chunk's hash.
	if err := idx.EmbedPair(ctx, pair); err != nil {
		t.Fatalf("retry: %v", err)
	}
	qRec, _ = s.Get(ctx, store.CollectionConversations, "turn:conv-1:0:q:0")
	aRec, _ = s.Get(ctx, store.CollectionConversations, "turn:conv-1:0:a:0")
	if qRec == nil || aRec == nil {
		t.Fatalf("expected both sides after retry, got q=%v a=%v", qRec != nil, aRec != nil)
	}
}

func TestConversationPreviewFallsBackOnMatchedSide(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	idx := index.NewConversationIndex(s, mock.New(), history.NewMemoryRepository())

	// Only an answer-side chunk, and no repository data to hydrate from.
	mustUpsert(t, s, store.Record{
		ID:        "turn:conv-1:0:a:0",
		Text:      "roughly $340 went to groceries in March",
		Embedding: mustEmbed(t, "roughly $340 went to groceries in March"),
		Meta: map[string]string{
			store.MetaPairID:         "turn:conv-1:0",
			store.MetaSide:           index.SideAnswer,
			store.MetaConversationID: "conv-1",
			store.MetaWorkspaceID:    "ws-1",
			store.MetaPairType:       string(qa.PairTypeTurn),
			store.MetaStartSeq:       "0",
			store.MetaEndSeq:         "1",
		},
	})

	results, err := idx.Search(ctx, "grocery spending", "ws-1", "", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.Answer != "roughly $340 went to groceries in March" {
		t.Errorf("expected preview on the answer side, got %q", r.Answer)
	}
	if r.Question != "" {
		t.Errorf("question should stay empty without hydration, got %q", r.Question)
	}
}

func TestConversationSearchDeduplicatesByPair(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	repo := history.NewMemoryRepository()
	emb := &stubEmbedder{vectors: map[string][]float32{
		"grocery spending": {1, 0, 0},
	}}
	idx := index.NewConversationIndex(s, emb, repo)

	meta := func(side string) map[string]string {
		return map[string]string{
			store.MetaPairID:         "turn:conv-1:0",
			store.MetaSide:           side,
			store.MetaChunk:          "0",
			store.MetaConversationID: "conv-1",
			store.MetaWorkspaceID:    "ws-1",
			store.MetaPairType:       string(qa.PairTypeTurn),
			store.MetaStartSeq:       "0",
			store.MetaEndSeq:         "1",
		}
	}
	// Question chunk is the close one, answer chunk the far one.
	mustUpsert(t, s, store.Record{ID: "turn:conv-1:0:q:0", Text: "close chunk", Embedding: []float32{1, 0, 0}, Meta: meta(index.SideQuestion)})
	mustUpsert(t, s, store.Record{ID: "turn:conv-1:0:a:0", Text: "far chunk", Embedding: []float32{0, 1, 0}, Meta: meta(index.SideAnswer)})

	results, err := idx.Search(ctx, "grocery spending", "ws-1", "", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 deduplicated result, got %d", len(results))
	}
	r := results[0]
	if r.MatchedSide != index.SideQuestion {
		t.Errorf("expected matched side %q, got %q", index.SideQuestion, r.MatchedSide)
	}
	if r.Distance > 0.01 {
		t.Errorf("expected near-zero distance for the close chunk, got %v", r.Distance)
	}
	if r.Title != index.UntitledConversation {
		t.Errorf("expected default title, got %q", r.Title)
	}
}

func TestConversationSearchSessionFilter(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	idx := index.NewConversationIndex(s, mock.New(), history.NewMemoryRepository())

	for i, sess := range []string{"sess-1", "sess-2"} {
		pairID := "turn:conv-1:" + strconv.Itoa(i*2)
		mustUpsert(t, s, store.Record{
			ID:        pairID + ":q:0",
			Text:      "spending chunk " + sess,
			Embedding: mustEmbed(t, "spending chunk "+sess),
			Meta: map[string]string{
				store.MetaPairID:         pairID,
				store.MetaSide:           index.SideQuestion,
				store.MetaConversationID: "conv-1",
				store.MetaWorkspaceID:    "ws-1",
				store.MetaSessionID:      sess,
				store.MetaPairType:       string(qa.PairTypeTurn),
				store.MetaStartSeq:       strconv.Itoa(i * 2),
				store.MetaEndSeq:         strconv.Itoa(i*2 + 1),
			},
		})
	}

	results, err := idx.Search(ctx, "spending", "ws-1", "sess-2", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	for _, r := range results {
		if r.SessionID != "sess-2" {
			t.Errorf("session filter leaked pair from %q", r.SessionID)
		}
	}
	if len(results) != 1 {
		t.Errorf("expected exactly the sess-2 pair, got %d results", len(results))
	}
}

func TestConversationSearchHydratesFromRepository(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	repo := history.NewMemoryRepository()
	repo.PutConversation(core.Conversation{ID: "conv-1", Title: "Groceries", CreatedAt: time.Now()})
	repo.AppendMessage(core.Message{ID: "m0", ConversationID: "conv-1", Seq: 0, Role: core.RoleUser, Status: core.StatusComplete, Content: "what did I spend on groceries last month?"})
	repo.AppendMessage(core.Message{ID: "m1", ConversationID: "conv-1", Seq: 1, Role: core.RoleAssistant, Status: core.StatusComplete, Content: "you spent roughly $340 on groceries in March"})

	idx := index.NewConversationIndex(s, mock.New(), repo)
	if err := idx.EmbedPair(ctx, testPair("turn:conv-1:0")); err != nil {
		t.Fatalf("embed pair: %v", err)
	}

	results, err := idx.Search(ctx, "groceries spending", "ws-1", "", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.Title != "Groceries" {
		t.Errorf("expected hydrated title, got %q", r.Title)
	}
	if r.Question != "what did I spend on groceries last month?" {
		t.Errorf("expected full question text, got %q", r.Question)
	}
	if r.Answer != "you spent roughly $340 on groceries in March" {
		t.Errorf("expected full answer text, got %q", r.Answer)
	}
}

func mustUpsert(t *testing.T, s *chromem.Store, rec store.Record) {
	t.Helper()
	if err := s.Upsert(context.Background(), store.CollectionConversations, rec); err != nil {
		t.Fatalf("upsert %s: %v", rec.ID, err)
	}
}

func mustEmbed(t *testing.T, text string) []float32 {
	t.Helper()
	v, err := mock.New().Embed(context.Background(), text)
	if err != nil {
		t.Fatalf("mock embed: %v", err)
	}
	return v
}

package memory

import (
	"context"
	"log"

	"github.com/solenoidlabs/recall/core"
	"github.com/solenoidlabs/recall/history"
	"github.com/solenoidlabs/recall/index"
	"github.com/solenoidlabs/recall/qa"
	"github.com/solenoidlabs/recall/store"
)

// Config holds service configuration.
type Config struct {
	// Enabled toggles the whole embedding capability.
	Enabled bool
}

// DefaultConfig enables the service.
var DefaultConfig = &Config{Enabled: true}

// Stats reports per-domain record counts.
type Stats struct {
	Documents          int
	Traces             int
	ConversationChunks int
}

// Service is the embedding store facade. It composes the three domain
// indexes explicitly at construction time; they share no state beyond
// the store handle and the capability decision made here.
type Service struct {
	capability    Capability
	embedder      core.Embedder
	store         store.VectorStore
	documents     *index.DocumentIndex
	traces        *index.TraceIndex
	conversations *index.ConversationIndex
}

// New creates the service. A nil store or embedder, or a disabled
// config, yields a service whose capability is off: every operation
// becomes a safe no-op rather than an error.
func New(s store.VectorStore, e core.Embedder, repo history.Repository, cfg *Config) *Service {
	if cfg == nil {
		cfg = DefaultConfig
	}

	svc := &Service{capability: Enabled(), embedder: e, store: s}
	switch {
	case !cfg.Enabled:
		svc.disable("disabled by configuration")
	case s == nil:
		svc.disable("no vector store")
	case e == nil:
		svc.disable("no embedding engine")
	case e.ModelInfo().Dimensions <= 0:
		svc.disable("embedding engine reports no dimensions")
	default:
		svc.documents = index.NewDocumentIndex(s, e)
		svc.traces = index.NewTraceIndex(s, e)
		svc.conversations = index.NewConversationIndex(s, e, repo)
	}
	return svc
}

// disable turns the capability off. Only called during construction;
// the capability never changes afterwards.
func (s *Service) disable(reason string) {
	s.capability = Disabled(reason)
	log.Printf("[MEMORY] embedding disabled: %s", reason)
}

// Enabled reports whether the embedding capability is on.
func (s *Service) Enabled() bool {
	return s.capability.Available()
}

// Capability returns the full capability state.
func (s *Service) Capability() Capability {
	return s.capability
}

// ModelInfo returns the embedding model identity, or a zero value when
// the service is disabled.
func (s *Service) ModelInfo() core.ModelInfo {
	if !s.Enabled() {
		return core.ModelInfo{}
	}
	return s.embedder.ModelInfo()
}

// EmbedDocument indexes a document by path.
func (s *Service) EmbedDocument(ctx context.Context, path, title, content string) error {
	if !s.Enabled() {
		return nil
	}
	return s.documents.Embed(ctx, path, title, content)
}

// SearchDocuments runs a semantic document search.
func (s *Service) SearchDocuments(ctx context.Context, query string, limit int) ([]index.DocumentResult, error) {
	if !s.Enabled() {
		return nil, nil
	}
	return s.documents.Search(ctx, query, limit)
}

// RemoveDocument drops a document's embedding.
func (s *Service) RemoveDocument(ctx context.Context, path string) error {
	if !s.Enabled() {
		return nil
	}
	return s.documents.Remove(ctx, path)
}

// EmbedTrace indexes an activity trace.
func (s *Service) EmbedTrace(ctx context.Context, t *core.Trace) error {
	if !s.Enabled() {
		return nil
	}
	return s.traces.Embed(ctx, t)
}

// SearchTraces runs a semantic trace search scoped to a workspace.
func (s *Service) SearchTraces(ctx context.Context, query, workspaceID string, limit int) ([]index.TraceResult, error) {
	if !s.Enabled() {
		return nil, nil
	}
	return s.traces.Search(ctx, query, workspaceID, limit)
}

// RemoveTrace drops a trace's embedding.
func (s *Service) RemoveTrace(ctx context.Context, traceID string) error {
	if !s.Enabled() {
		return nil
	}
	return s.traces.Remove(ctx, traceID)
}

// RemoveTracesByWorkspace drops every trace embedding in a workspace.
func (s *Service) RemoveTracesByWorkspace(ctx context.Context, workspaceID string) error {
	if !s.Enabled() {
		return nil
	}
	return s.traces.RemoveByWorkspace(ctx, workspaceID)
}

// EmbedConversationPair indexes one question/answer pair.
func (s *Service) EmbedConversationPair(ctx context.Context, pair qa.Pair) error {
	if !s.Enabled() {
		return nil
	}
	return s.conversations.EmbedPair(ctx, pair)
}

// SearchConversations runs a semantic conversation search scoped to a
// workspace, optionally narrowed to one session.
func (s *Service) SearchConversations(ctx context.Context, query, workspaceID, sessionID string, limit int) ([]index.ConversationResult, error) {
	if !s.Enabled() {
		return nil, nil
	}
	return s.conversations.Search(ctx, query, workspaceID, sessionID, limit)
}

// RemovePair drops every chunk stored for a pair.
func (s *Service) RemovePair(ctx context.Context, pairID string) error {
	if !s.Enabled() {
		return nil
	}
	return s.conversations.RemovePair(ctx, pairID)
}

// RemoveConversation drops every chunk stored for a conversation.
func (s *Service) RemoveConversation(ctx context.Context, conversationID string) error {
	if !s.Enabled() {
		return nil
	}
	return s.conversations.RemoveByConversation(ctx, conversationID)
}

// Stats returns per-domain record counts; all zero when disabled.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	if !s.Enabled() {
		return Stats{}, nil
	}
	var stats Stats
	var err error
	if stats.Documents, err = s.documents.Count(ctx); err != nil {
		return Stats{}, err
	}
	if stats.Traces, err = s.traces.Count(ctx); err != nil {
		return Stats{}, err
	}
	if stats.ConversationChunks, err = s.conversations.Count(ctx); err != nil {
		return Stats{}, err
	}
	return stats, nil
}

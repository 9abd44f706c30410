// Package watch keeps the conversation index current in real time by
// embedding newly completed turns and tool traces as they occur.
package watch

import (
	"context"
	"log"
	"sync"

	"github.com/solenoidlabs/recall/content"
	"github.com/solenoidlabs/recall/core"
	"github.com/solenoidlabs/recall/history"
	"github.com/solenoidlabs/recall/memory"
	"github.com/solenoidlabs/recall/qa"
)

// DefaultScanWindow bounds how many sequence numbers around a completed
// message are scanned for its counterpart.
const DefaultScanWindow = 10

// Config holds watcher configuration.
type Config struct {
	// ScanWindow bounds the backward scan for the preceding user
	// message and the forward scan for tool results.
	ScanWindow int
}

// Watcher embeds question/answer pairs as assistant messages complete.
// Embedding runs in background goroutines with their own error boundary:
// a failure is logged and never reaches the write path that triggered it.
type Watcher struct {
	service     *memory.Service
	repo        history.Repository
	scanWindow  int
	unsubscribe func()

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

// New creates a watcher; call Start to begin observing the repository.
func New(service *memory.Service, repo history.Repository, cfg *Config) *Watcher {
	scanWindow := DefaultScanWindow
	if cfg != nil && cfg.ScanWindow > 0 {
		scanWindow = cfg.ScanWindow
	}
	return &Watcher{
		service:    service,
		repo:       repo,
		scanWindow: scanWindow,
		inflight:   make(map[string]struct{}),
	}
}

// Start subscribes to message completions.
func (w *Watcher) Start() {
	if w.unsubscribe != nil {
		return
	}
	w.unsubscribe = w.repo.OnMessageComplete(w.onMessageComplete)
	log.Printf("[WATCH] conversation embedding watcher started")
}

// Close unsubscribes and waits for in-flight embedding work.
func (w *Watcher) Close() {
	if w.unsubscribe != nil {
		w.unsubscribe()
		w.unsubscribe = nil
	}
	w.wg.Wait()
}

// onMessageComplete is invoked once per completed message. It decides
// synchronously which pairs the message forms and hands the embedding
// work to background goroutines.
func (w *Watcher) onMessageComplete(msg core.Message) {
	if msg.Role != core.RoleAssistant || !msg.Complete() {
		return
	}
	if !w.service.Enabled() {
		return
	}

	ctx := context.Background()
	conv, err := w.repo.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		log.Printf("[WATCH] conversation %s: %v", msg.ConversationID, err)
		return
	}
	if conv == nil {
		return
	}
	if conv.IsBranch() {
		// Branches are variants of their parent; indexing them would
		// duplicate the parent's content.
		return
	}

	if msg.Content != "" {
		if pair, ok := w.turnPair(ctx, conv, msg); ok {
			w.embedAsync(pair)
		}
	}
	for _, pair := range w.tracePairs(ctx, conv, msg) {
		w.embedAsync(pair)
	}
}

// turnPair locates the user message this assistant message answers by
// scanning backward over tool messages within the scan window.
func (w *Watcher) turnPair(ctx context.Context, conv *core.Conversation, msg core.Message) (qa.Pair, bool) {
	start := msg.Seq - w.scanWindow
	if start < 0 {
		start = 0
	}
	messages, err := w.repo.GetMessagesBySequenceRange(ctx, conv.ID, start, msg.Seq-1)
	if err != nil {
		log.Printf("[WATCH] scan for user message: %v", err)
		return qa.Pair{}, false
	}

	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		switch m.Role {
		case core.RoleTool, core.RoleSystem:
			continue
		case core.RoleUser:
			if !m.Complete() {
				return qa.Pair{}, false
			}
			question := m.Content
			return qa.Pair{
				PairID:         qa.TurnPairID(conv.ID, m.Seq),
				ConversationID: conv.ID,
				StartSeq:       m.Seq,
				EndSeq:         msg.Seq,
				Type:           qa.PairTypeTurn,
				SourceID:       m.ID,
				Question:       question,
				Answer:         msg.Content,
				ContentHash:    content.Hash(question + msg.Content),
				WorkspaceID:    conv.WorkspaceID,
				SessionID:      conv.SessionID,
			}, true
		default:
			// Another assistant message ends the turn.
			return qa.Pair{}, false
		}
	}
	return qa.Pair{}, false
}

// tracePairs pairs each tool call on the message with its result from
// the messages immediately following, bounded by the scan window.
func (w *Watcher) tracePairs(ctx context.Context, conv *core.Conversation, msg core.Message) []qa.Pair {
	if len(msg.ToolCalls) == 0 {
		return nil
	}
	following, err := w.repo.GetMessagesBySequenceRange(ctx, conv.ID, msg.Seq+1, msg.Seq+w.scanWindow)
	if err != nil {
		log.Printf("[WATCH] scan for tool results: %v", err)
		return nil
	}

	results := make(map[string]core.Message)
	for _, m := range following {
		if m.Role == core.RoleTool && m.Complete() && m.ToolCallID != "" {
			if _, ok := results[m.ToolCallID]; !ok {
				results[m.ToolCallID] = m
			}
		}
	}

	var pairs []qa.Pair
	for _, call := range msg.ToolCalls {
		result, ok := results[call.ID]
		if !ok {
			continue
		}
		answer := result.Content
		if answer == "" {
			answer = qa.EmptyToolResult
		}
		question := "Tool: " + call.Name + "(" + string(call.Args) + ")"
		pairs = append(pairs, qa.Pair{
			PairID:         qa.TracePairID(conv.ID, msg.Seq, call.ID),
			ConversationID: conv.ID,
			StartSeq:       msg.Seq,
			EndSeq:         result.Seq,
			Type:           qa.PairTypeTrace,
			SourceID:       call.ID,
			Question:       question,
			Answer:         answer,
			ContentHash:    content.Hash(question + answer),
			WorkspaceID:    conv.WorkspaceID,
			SessionID:      conv.SessionID,
		})
	}
	return pairs
}

// embedAsync embeds a pair in the background. The in-flight set keeps
// the same pair from being embedded twice concurrently; it is a dedup
// guard local to this process, not a lock.
func (w *Watcher) embedAsync(pair qa.Pair) {
	w.mu.Lock()
	if _, busy := w.inflight[pair.PairID]; busy {
		w.mu.Unlock()
		return
	}
	w.inflight[pair.PairID] = struct{}{}
	w.mu.Unlock()

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			w.mu.Lock()
			delete(w.inflight, pair.PairID)
			w.mu.Unlock()
		}()
		defer func() {
			if r := recover(); r != nil {
				log.Printf("[WATCH] embed pair %s panicked: %v", pair.PairID, r)
			}
		}()

		if err := w.service.EmbedConversationPair(context.Background(), pair); err != nil {
			log.Printf("[WATCH] embed pair %s: %v", pair.PairID, err)
		}
	}()
}

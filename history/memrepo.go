package history

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/solenoidlabs/recall/core"
)

// MemoryRepository is an in-memory Repository for local use and tests.
type MemoryRepository struct {
	mu            sync.RWMutex
	conversations map[string]core.Conversation
	messages      map[string][]core.Message
	listeners     map[string]func(core.Message)
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		conversations: make(map[string]core.Conversation),
		messages:      make(map[string][]core.Message),
		listeners:     make(map[string]func(core.Message)),
	}
}

// PutConversation inserts or replaces a conversation.
func (r *MemoryRepository) PutConversation(conv core.Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations[conv.ID] = conv
}

// AppendMessage adds a message to its conversation and notifies
// completion listeners when the message is complete.
func (r *MemoryRepository) AppendMessage(msg core.Message) {
	r.mu.Lock()
	r.messages[msg.ConversationID] = append(r.messages[msg.ConversationID], msg)
	var listeners []func(core.Message)
	if msg.Complete() {
		for _, fn := range r.listeners {
			listeners = append(listeners, fn)
		}
	}
	r.mu.Unlock()

	for _, fn := range listeners {
		fn(msg)
	}
}

// GetConversation returns a conversation by id, or nil when absent.
func (r *MemoryRepository) GetConversation(ctx context.Context, id string) (*core.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conv, ok := r.conversations[id]
	if !ok {
		return nil, nil
	}
	return &conv, nil
}

// ListConversations returns all conversations newest-first.
func (r *MemoryRepository) ListConversations(ctx context.Context) ([]core.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.Conversation, 0, len(r.conversations))
	for _, conv := range r.conversations {
		out = append(out, conv)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// GetMessages returns a conversation's messages ordered by sequence.
func (r *MemoryRepository) GetMessages(ctx context.Context, conversationID string) ([]core.Message, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	msgs := r.messages[conversationID]
	out := make([]core.Message, len(msgs))
	copy(out, msgs)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// GetMessagesBySequenceRange returns messages with Seq in [startSeq,
// endSeq], ordered ascending.
func (r *MemoryRepository) GetMessagesBySequenceRange(ctx context.Context, conversationID string, startSeq, endSeq int) ([]core.Message, error) {
	all, err := r.GetMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	var out []core.Message
	for _, m := range all {
		if m.Seq >= startSeq && m.Seq <= endSeq {
			out = append(out, m)
		}
	}
	return out, nil
}

// OnMessageComplete registers a completion listener.
func (r *MemoryRepository) OnMessageComplete(fn func(core.Message)) func() {
	token := uuid.New().String()
	r.mu.Lock()
	r.listeners[token] = fn
	r.mu.Unlock()

	return func() {
		r.mu.Lock()
		delete(r.listeners, token)
		r.mu.Unlock()
	}
}

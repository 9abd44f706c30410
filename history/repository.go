// Package history defines the message-repository collaborator the memory
// engine reads conversations from, plus windowed context retrieval around
// a matched question/answer pair.
package history

import (
	"context"

	"github.com/solenoidlabs/recall/core"
)

// Repository is the message store the engine consumes.
// Implementations: MemoryRepository (local, tests), sqlite.Repository
// (durable).
type Repository interface {
	// GetConversation returns a conversation by id, or nil when absent.
	GetConversation(ctx context.Context, id string) (*core.Conversation, error)

	// ListConversations returns all conversations ordered newest-first.
	ListConversations(ctx context.Context) ([]core.Conversation, error)

	// GetMessages returns all complete and in-flight messages of a
	// conversation ordered ascending by sequence number.
	GetMessages(ctx context.Context, conversationID string) ([]core.Message, error)

	// GetMessagesBySequenceRange returns messages with sequence numbers
	// in [startSeq, endSeq], ordered ascending.
	GetMessagesBySequenceRange(ctx context.Context, conversationID string, startSeq, endSeq int) ([]core.Message, error)

	// OnMessageComplete registers a callback fired whenever a message
	// reaches complete status. The returned function unsubscribes.
	OnMessageComplete(fn func(core.Message)) (unsubscribe func())
}

package core

import "time"

// MetaParentConversation marks a conversation as a branch of another one.
// Branch conversations are variants of their parent and are never indexed
// independently.
const MetaParentConversation = "parent_conversation_id"

// Conversation groups an ordered message sequence under one id.
type Conversation struct {
	ID          string
	Title       string
	WorkspaceID string
	SessionID   string
	Metadata    map[string]string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// IsBranch reports whether this conversation is a variant of another
// conversation and therefore excluded from indexing.
func (c Conversation) IsBranch() bool {
	if c.Metadata == nil {
		return false
	}
	return c.Metadata[MetaParentConversation] != ""
}

package core

import (
	"encoding/json"
	"time"
)

// Role identifies who produced a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Status tracks a message's lifecycle. Only complete messages are ever
// indexed; drafts, in-flight streams and aborted generations are skipped.
type Status string

const (
	StatusComplete  Status = "complete"
	StatusDraft     Status = "draft"
	StatusStreaming Status = "streaming"
	StatusAborted   Status = "aborted"
)

// ToolCall is a tool invocation attached to an assistant message.
type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// Message is a single entry in a conversation, ordered by Seq.
//
// Tool-result messages carry RoleTool and reference the originating
// invocation through ToolCallID.
type Message struct {
	ID             string
	ConversationID string
	Seq            int
	Role           Role
	Status         Status
	Content        string
	ToolCalls      []ToolCall
	ToolCallID     string
	CreatedAt      time.Time
}

// Complete reports whether the message finished generating.
func (m Message) Complete() bool {
	return m.Status == StatusComplete
}

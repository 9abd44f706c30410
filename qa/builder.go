// Package qa extracts question/answer pairs from conversation message
// sequences. Pair extraction is a pure function: identical inputs always
// yield identical output, which re-indexing relies on for idempotency.
package qa

import (
	"fmt"
	"sort"

	"github.com/solenoidlabs/recall/content"
	"github.com/solenoidlabs/recall/core"
)

// PairType distinguishes the two kinds of extracted pairs.
type PairType string

const (
	// PairTypeTurn is a human question answered by the assistant.
	PairTypeTurn PairType = "conversation_turn"

	// PairTypeTrace is a tool invocation paired with its result.
	PairTypeTrace PairType = "trace_pair"
)

// EmptyToolResult stands in for a tool result with no content.
const EmptyToolResult = "(no output)"

// Pair is one question/answer unit extracted from a conversation.
// Pairs are transient: only their derived embedding chunks and metadata
// are ever persisted.
type Pair struct {
	PairID         string
	ConversationID string
	StartSeq       int
	EndSeq         int
	Type           PairType
	SourceID       string
	Question       string
	Answer         string
	ContentHash    string
	WorkspaceID    string
	SessionID      string
}

// TurnPairID derives the deterministic id for a conversational turn.
func TurnPairID(conversationID string, startSeq int) string {
	return fmt.Sprintf("turn:%s:%d", conversationID, startSeq)
}

// TracePairID derives the deterministic id for a tool-invocation pair.
func TracePairID(conversationID string, startSeq int, toolCallID string) string {
	return fmt.Sprintf("trace:%s:%d:%s", conversationID, startSeq, toolCallID)
}

// BuildPairs extracts all question/answer pairs from messages.
//
// Messages are sorted by sequence number first. System messages are
// excluded, as is anything not flagged complete. Each user message is
// paired with the next assistant message, scanning forward over tool
// messages; a user message followed by another user message before any
// assistant reply is orphaned and dropped. Every tool call on an
// assistant message becomes a trace pair when its result message exists.
func BuildPairs(messages []core.Message, conversationID, workspaceID, sessionID string) []Pair {
	sorted := make([]core.Message, len(messages))
	copy(sorted, messages)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	var eligible []core.Message
	for _, m := range sorted {
		if m.Role == core.RoleSystem || !m.Complete() {
			continue
		}
		eligible = append(eligible, m)
	}

	resultsByCallID := make(map[string]core.Message)
	for _, m := range eligible {
		if m.Role == core.RoleTool && m.ToolCallID != "" {
			if _, ok := resultsByCallID[m.ToolCallID]; !ok {
				resultsByCallID[m.ToolCallID] = m
			}
		}
	}

	var pairs []Pair
	seen := make(map[string]bool)
	emit := func(p Pair) {
		if seen[p.PairID] {
			return
		}
		seen[p.PairID] = true
		pairs = append(pairs, p)
	}

	for i, m := range eligible {
		switch m.Role {
		case core.RoleUser:
			answer, ok := nextAssistant(eligible, i+1)
			if !ok {
				continue // orphaned user message
			}
			emit(Pair{
				PairID:         TurnPairID(conversationID, m.Seq),
				ConversationID: conversationID,
				StartSeq:       m.Seq,
				EndSeq:         answer.Seq,
				Type:           PairTypeTurn,
				SourceID:       m.ID,
				Question:       m.Content,
				Answer:         answer.Content,
				ContentHash:    content.Hash(m.Content + answer.Content),
				WorkspaceID:    workspaceID,
				SessionID:      sessionID,
			})

		case core.RoleAssistant:
			for _, call := range m.ToolCalls {
				result, ok := resultsByCallID[call.ID]
				if !ok {
					continue
				}
				answer := result.Content
				if answer == "" {
					answer = EmptyToolResult
				}
				question := fmt.Sprintf("Tool: %s(%s)", call.Name, string(call.Args))
				emit(Pair{
					PairID:         TracePairID(conversationID, m.Seq, call.ID),
					ConversationID: conversationID,
					StartSeq:       m.Seq,
					EndSeq:         result.Seq,
					Type:           PairTypeTrace,
					SourceID:       call.ID,
					Question:       question,
					Answer:         answer,
					ContentHash:    content.Hash(question + answer),
					WorkspaceID:    workspaceID,
					SessionID:      sessionID,
				})
			}
		}
	}
	return pairs
}

// nextAssistant scans forward from index i for the next assistant
// message, skipping tool messages. Hitting another user message first
// means the original question went unanswered.
func nextAssistant(messages []core.Message, i int) (core.Message, bool) {
	for ; i < len(messages); i++ {
		switch messages[i].Role {
		case core.RoleAssistant:
			return messages[i], true
		case core.RoleUser:
			return core.Message{}, false
		}
	}
	return core.Message{}, false
}

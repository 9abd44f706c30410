package history

import (
	"context"
	"fmt"

	"github.com/solenoidlabs/recall/core"
)

// DefaultWindowSize is the number of conversational turns fetched on
// each side of a matched pair.
const DefaultWindowSize = 3

// MessageWindow is the surrounding context of a matched pair. It is
// purely computed and never persisted.
//
// WindowStart and WindowEnd reflect the actual first and last sequence
// numbers returned when the conversation is shorter than requested;
// callers must not assume they equal the computed bounds. An empty
// window reports the computed bounds instead.
type MessageWindow struct {
	ConversationID string
	Messages       []core.Message
	MatchedStart   int
	MatchedEnd     int
	WindowStart    int
	WindowEnd      int
}

// WindowRetriever fetches a wider message window around a matched
// pair's sequence range.
type WindowRetriever struct {
	repo Repository
}

// NewWindowRetriever creates a retriever backed by repo.
func NewWindowRetriever(repo Repository) *WindowRetriever {
	return &WindowRetriever{repo: repo}
}

// GetWindow fetches messages around [matchedStart, matchedEnd]. A
// windowSize of n extends the range by n*2 sequence numbers on each
// side (two messages per conversational turn); windowSize <= 0 uses
// DefaultWindowSize.
func (r *WindowRetriever) GetWindow(ctx context.Context, conversationID string, matchedStart, matchedEnd, windowSize int) (*MessageWindow, error) {
	if conversationID == "" {
		return nil, fmt.Errorf("get window: conversation id is empty")
	}
	if matchedStart < 0 || matchedEnd < 0 {
		return nil, fmt.Errorf("get window: sequence numbers must be non-negative (got %d, %d)", matchedStart, matchedEnd)
	}
	if matchedStart > matchedEnd {
		return nil, fmt.Errorf("get window: matched start %d is after matched end %d", matchedStart, matchedEnd)
	}
	if windowSize <= 0 {
		windowSize = DefaultWindowSize
	}

	offset := windowSize * 2
	start := matchedStart - offset
	if start < 0 {
		start = 0
	}
	end := matchedEnd + offset

	messages, err := r.repo.GetMessagesBySequenceRange(ctx, conversationID, start, end)
	if err != nil {
		return nil, fmt.Errorf("get window: %w", err)
	}

	w := &MessageWindow{
		ConversationID: conversationID,
		Messages:       messages,
		MatchedStart:   matchedStart,
		MatchedEnd:     matchedEnd,
		WindowStart:    start,
		WindowEnd:      end,
	}
	if len(messages) > 0 {
		w.WindowStart = messages[0].Seq
		w.WindowEnd = messages[len(messages)-1].Seq
	}
	return w, nil
}

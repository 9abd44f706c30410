package backfill

import (
	"context"
	"fmt"
	"log"

	"github.com/solenoidlabs/recall/core"
	"github.com/solenoidlabs/recall/history"
	"github.com/solenoidlabs/recall/memory"
	"github.com/solenoidlabs/recall/qa"
)

// ConversationIndexer embeds all question/answer pairs of existing
// conversations, newest conversation first. At most one run is active
// at a time; concurrent starts are refused, not queued.
type ConversationIndexer struct {
	service *memory.Service
	repo    history.Repository
	runner  *runner
}

// NewConversationIndexer creates the conversation backfill job.
func NewConversationIndexer(service *memory.Service, repo history.Repository, states StateStore, cfg *Config) *ConversationIndexer {
	return &ConversationIndexer{
		service: service,
		repo:    repo,
		runner:  newRunner(JobConversations, states, service.Enabled, cfg),
	}
}

// IsRunning reports whether a run is active.
func (ix *ConversationIndexer) IsRunning() bool {
	return ix.runner.isRunning()
}

// Start runs the backfill until done or ctx is cancelled. Cancellation
// is observed between conversations, never mid-conversation.
func (ix *ConversationIndexer) Start(ctx context.Context) (Progress, error) {
	var convs []core.Conversation

	list := func(ctx context.Context) ([]string, error) {
		var err error
		convs, err = ix.repo.ListConversations(ctx)
		if err != nil {
			return nil, fmt.Errorf("list conversations: %w", err)
		}
		ids := make([]string, len(convs))
		for i, c := range convs {
			ids[i] = c.ID
		}
		return ids, nil
	}

	process := func(ctx context.Context, i int, id string) error {
		conv := convs[i]
		if conv.IsBranch() {
			return nil
		}
		messages, err := ix.repo.GetMessages(ctx, conv.ID)
		if err != nil {
			return fmt.Errorf("get messages: %w", err)
		}
		pairs := qa.BuildPairs(messages, conv.ID, conv.WorkspaceID, conv.SessionID)
		for _, pair := range pairs {
			if err := ix.service.EmbedConversationPair(ctx, pair); err != nil {
				log.Printf("[BACKFILL] conversations: pair %s: %v", pair.PairID, err)
			}
		}
		return nil
	}

	return ix.runner.run(ctx, list, process)
}

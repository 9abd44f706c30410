// Package sqlite provides the durable message repository and backfill
// job-state store, backed by a single SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/solenoidlabs/recall/backfill"
	"github.com/solenoidlabs/recall/core"
)

// Repository implements history.Repository and backfill.StateStore on
// SQLite. Completion listeners are in-process only.
type Repository struct {
	db *sql.DB

	mu        sync.Mutex
	listeners map[string]func(core.Message)
}

// Open opens (or creates) the database at path and prepares the schema.
func Open(path string) (*Repository, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	r := &Repository{db: db, listeners: make(map[string]func(core.Message))}
	if err := r.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repository) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversations (
			id           TEXT PRIMARY KEY,
			title        TEXT NOT NULL DEFAULT '',
			workspace_id TEXT NOT NULL DEFAULT '',
			session_id   TEXT NOT NULL DEFAULT '',
			metadata     TEXT NOT NULL DEFAULT '{}',
			created      INTEGER NOT NULL,
			updated      INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id              TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL,
			seq             INTEGER NOT NULL,
			role            TEXT NOT NULL,
			status          TEXT NOT NULL,
			content         TEXT NOT NULL DEFAULT '',
			tool_calls      TEXT NOT NULL DEFAULT '[]',
			tool_call_id    TEXT NOT NULL DEFAULT '',
			created         INTEGER NOT NULL,
			UNIQUE (conversation_id, seq)
		)`,
		`CREATE INDEX IF NOT EXISTS messages_conv_seq_idx
			ON messages (conversation_id, seq)`,
		`CREATE TABLE IF NOT EXISTS backfill_state (
			job       TEXT PRIMARY KEY,
			last_item TEXT NOT NULL DEFAULT '',
			total     INTEGER NOT NULL DEFAULT 0,
			processed INTEGER NOT NULL DEFAULT 0,
			status    TEXT NOT NULL,
			started   INTEGER NOT NULL DEFAULT 0,
			completed INTEGER NOT NULL DEFAULT 0,
			error     TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// PutConversation inserts or replaces a conversation.
func (r *Repository) PutConversation(ctx context.Context, conv core.Conversation) error {
	meta, err := json.Marshal(conv.Metadata)
	if err != nil {
		return fmt.Errorf("marshal conversation metadata: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO conversations (id, title, workspace_id, session_id, metadata, created, updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET title = excluded.title,
		    workspace_id = excluded.workspace_id,
		    session_id = excluded.session_id,
		    metadata = excluded.metadata,
		    updated = excluded.updated`,
		conv.ID, conv.Title, conv.WorkspaceID, conv.SessionID, string(meta),
		conv.CreatedAt.Unix(), conv.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("put conversation %q: %w", conv.ID, err)
	}
	return nil
}

// AppendMessage stores a message and notifies completion listeners when
// it is complete.
func (r *Repository) AppendMessage(ctx context.Context, msg core.Message) error {
	calls, err := json.Marshal(msg.ToolCalls)
	if err != nil {
		return fmt.Errorf("marshal tool calls: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, seq, role, status, content, tool_calls, tool_call_id, created)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE
		SET status = excluded.status,
		    content = excluded.content,
		    tool_calls = excluded.tool_calls`,
		msg.ID, msg.ConversationID, msg.Seq, string(msg.Role), string(msg.Status),
		msg.Content, string(calls), msg.ToolCallID, msg.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("append message %q: %w", msg.ID, err)
	}

	if msg.Complete() {
		r.mu.Lock()
		listeners := make([]func(core.Message), 0, len(r.listeners))
		for _, fn := range r.listeners {
			listeners = append(listeners, fn)
		}
		r.mu.Unlock()
		for _, fn := range listeners {
			fn(msg)
		}
	}
	return nil
}

// GetConversation returns a conversation by id, or nil when absent.
func (r *Repository) GetConversation(ctx context.Context, id string) (*core.Conversation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, title, workspace_id, session_id, metadata, created, updated
		FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation %q: %w", id, err)
	}
	return conv, nil
}

// ListConversations returns all conversations newest-first.
func (r *Repository) ListConversations(ctx context.Context) ([]core.Conversation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, workspace_id, session_id, metadata, created, updated
		FROM conversations ORDER BY created DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []core.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("list conversations: %w", err)
		}
		out = append(out, *conv)
	}
	return out, rows.Err()
}

func scanConversation(scan func(...interface{}) error) (*core.Conversation, error) {
	var conv core.Conversation
	var meta string
	var created, updated int64
	if err := scan(&conv.ID, &conv.Title, &conv.WorkspaceID, &conv.SessionID, &meta, &created, &updated); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(meta), &conv.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal conversation metadata: %w", err)
	}
	conv.CreatedAt = time.Unix(created, 0)
	conv.UpdatedAt = time.Unix(updated, 0)
	return &conv, nil
}

// GetMessages returns a conversation's messages ordered by sequence.
func (r *Repository) GetMessages(ctx context.Context, conversationID string) ([]core.Message, error) {
	return r.queryMessages(ctx, `
		SELECT id, conversation_id, seq, role, status, content, tool_calls, tool_call_id, created
		FROM messages WHERE conversation_id = ? ORDER BY seq`, conversationID)
}

// GetMessagesBySequenceRange returns messages with seq in [startSeq,
// endSeq], ordered ascending.
func (r *Repository) GetMessagesBySequenceRange(ctx context.Context, conversationID string, startSeq, endSeq int) ([]core.Message, error) {
	return r.queryMessages(ctx, `
		SELECT id, conversation_id, seq, role, status, content, tool_calls, tool_call_id, created
		FROM messages WHERE conversation_id = ? AND seq BETWEEN ? AND ? ORDER BY seq`,
		conversationID, startSeq, endSeq)
}

func (r *Repository) queryMessages(ctx context.Context, query string, args ...interface{}) ([]core.Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var out []core.Message
	for rows.Next() {
		var m core.Message
		var role, status, calls string
		var created int64
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Seq, &role, &status,
			&m.Content, &calls, &m.ToolCallID, &created); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = core.Role(role)
		m.Status = core.Status(status)
		m.CreatedAt = time.Unix(created, 0)
		if err := json.Unmarshal([]byte(calls), &m.ToolCalls); err != nil {
			return nil, fmt.Errorf("unmarshal tool calls: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// OnMessageComplete registers a completion listener.
func (r *Repository) OnMessageComplete(fn func(core.Message)) func() {
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

// LoadState returns the saved backfill state for a job, or nil.
func (r *Repository) LoadState(ctx context.Context, job string) (*backfill.State, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT last_item, total, processed, status, started, completed, error
		FROM backfill_state WHERE job = ?`, job)

	var state backfill.State
	var status string
	var started, completed int64
	err := row.Scan(&state.LastProcessedItemID, &state.TotalItems, &state.ProcessedItems,
		&status, &started, &completed, &state.ErrorMessage)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load backfill state %q: %w", job, err)
	}
	state.Status = backfill.Status(status)
	if started > 0 {
		state.StartedAt = time.Unix(started, 0)
	}
	if completed > 0 {
		state.CompletedAt = time.Unix(completed, 0)
	}
	return &state, nil
}

// SaveState persists a job's backfill state.
func (r *Repository) SaveState(ctx context.Context, job string, state backfill.State) error {
	var started, completed int64
	if !state.StartedAt.IsZero() {
		started = state.StartedAt.Unix()
	}
	if !state.CompletedAt.IsZero() {
		completed = state.CompletedAt.Unix()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO backfill_state (job, last_item, total, processed, status, started, completed, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (job) DO UPDATE
		SET last_item = excluded.last_item,
		    total = excluded.total,
		    processed = excluded.processed,
		    status = excluded.status,
		    started = excluded.started,
		    completed = excluded.completed,
		    error = excluded.error`,
		job, state.LastProcessedItemID, state.TotalItems, state.ProcessedItems,
		string(state.Status), started, completed, state.ErrorMessage)
	if err != nil {
		return fmt.Errorf("save backfill state %q: %w", job, err)
	}
	return nil
}

// Close releases the database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}

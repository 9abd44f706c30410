// Package pgvector implements store.VectorStore on PostgreSQL with the
// pgvector extension. This is the production backend; the chromem store
// covers local use.
package pgvector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	_ "github.com/lib/pq"

	"github.com/solenoidlabs/recall/store"
)

// Store persists embedding records in a single table keyed by
// (collection, id). The vector and its metadata live in one row, so a
// record can never lose one half of itself.
type Store struct {
	db        *sql.DB
	dimension int
}

// Open connects to PostgreSQL and prepares the schema.
func Open(dsn string, dimension int) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s := &Store{db: db, dimension: dimension}
	if err := s.migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS embedding_records (
			collection TEXT NOT NULL,
			id         TEXT NOT NULL,
			content    TEXT NOT NULL,
			metadata   JSONB NOT NULL DEFAULT '{}',
			embedding  vector(%d) NOT NULL,
			PRIMARY KEY (collection, id)
		)`, s.dimension),
		`CREATE INDEX IF NOT EXISTS embedding_records_meta_idx
			ON embedding_records USING gin (metadata)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// Upsert inserts a record or replaces the row with the same id.
func (s *Store) Upsert(ctx context.Context, collection string, rec store.Record) error {
	meta, err := json.Marshal(rec.Meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO embedding_records (collection, id, content, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5::vector)
		ON CONFLICT (collection, id) DO UPDATE
		SET content = EXCLUDED.content,
		    metadata = EXCLUDED.metadata,
		    embedding = EXCLUDED.embedding`,
		collection, rec.ID, rec.Text, meta, vectorToString(rec.Embedding))
	if err != nil {
		return fmt.Errorf("upsert record %q: %w", rec.ID, err)
	}
	return nil
}

// Get returns a record by id, or nil when absent.
func (s *Store) Get(ctx context.Context, collection, id string) (*store.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT content, metadata, embedding::text
		FROM embedding_records WHERE collection = $1 AND id = $2`,
		collection, id)

	var content, metaJSON, vec string
	if err := row.Scan(&content, &metaJSON, &vec); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get record %q: %w", id, err)
	}

	rec := &store.Record{ID: id, Text: content}
	if err := json.Unmarshal([]byte(metaJSON), &rec.Meta); err != nil {
		return nil, fmt.Errorf("unmarshal metadata for %q: %w", id, err)
	}
	rec.Embedding = stringToVector(vec)
	return rec, nil
}

// Query returns limit nearest records by L2 distance, filtered by
// exact-match metadata.
func (s *Store) Query(ctx context.Context, collection string, embedding []float32, limit int, where map[string]string) ([]store.Hit, error) {
	var sb strings.Builder
	sb.WriteString(`
		SELECT id, content, metadata, embedding <-> $1::vector AS distance
		FROM embedding_records WHERE collection = $2`)
	args := []interface{}{vectorToString(embedding), collection}
	for k, v := range where {
		args = append(args, k, v)
		fmt.Fprintf(&sb, " AND metadata->>$%d = $%d", len(args)-1, len(args))
	}
	args = append(args, limit)
	fmt.Fprintf(&sb, " ORDER BY distance LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query collection %q: %w", collection, err)
	}
	defer rows.Close()

	var hits []store.Hit
	for rows.Next() {
		var hit store.Hit
		var metaJSON string
		if err := rows.Scan(&hit.ID, &hit.Text, &metaJSON, &hit.Distance); err != nil {
			return nil, fmt.Errorf("scan hit: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &hit.Meta); err != nil {
			return nil, fmt.Errorf("unmarshal metadata for %q: %w", hit.ID, err)
		}
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// Delete removes records by id.
func (s *Store) Delete(ctx context.Context, collection string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM embedding_records WHERE collection = $1 AND id = $2`,
			collection, id); err != nil {
			return fmt.Errorf("delete record %q: %w", id, err)
		}
	}
	return nil
}

// DeleteWhere removes all records matching the metadata filter.
func (s *Store) DeleteWhere(ctx context.Context, collection string, where map[string]string) error {
	if len(where) == 0 {
		return fmt.Errorf("delete from %q: empty filter", collection)
	}
	var sb strings.Builder
	sb.WriteString(`DELETE FROM embedding_records WHERE collection = $1`)
	args := []interface{}{collection}
	for k, v := range where {
		args = append(args, k, v)
		fmt.Fprintf(&sb, " AND metadata->>$%d = $%d", len(args)-1, len(args))
	}
	if _, err := s.db.ExecContext(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("delete from %q: %w", collection, err)
	}
	return nil
}

// Count returns the number of records in a collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM embedding_records WHERE collection = $1`,
		collection).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count collection %q: %w", collection, err)
	}
	return n, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// vectorToString renders a vector in pgvector text format: [0.1,0.2].
func vectorToString(v []float32) string {
	parts := make([]string, len(v))
	for i, val := range v {
		parts[i] = fmt.Sprintf("%g", val)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// stringToVector parses pgvector text format back to a float32 slice.
func stringToVector(s string) []float32 {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	vec := make([]float32, 0, len(parts))
	for _, p := range parts {
		var f float64
		fmt.Sscanf(strings.TrimSpace(p), "%g", &f)
		vec = append(vec, float32(f))
	}
	return vec
}

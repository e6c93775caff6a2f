// Package postgres provides a PostgreSQL-backed [vector.Store] using pgx and
// the pgvector extension. Intended for deployments where the example corpus is
// shared between replicas or managed outside the service.
//
// The pgvector extension must be available in the target database; [Migrate]
// installs it via CREATE EXTENSION IF NOT EXISTS and is run automatically by
// [NewStore].
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/PuertOcho/puertocho-intent/internal/vector"
)

// Store implements [vector.Store] on a PostgreSQL table with a pgvector HNSW
// index. All operations are safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
	dims int
}

var _ vector.Store = (*Store)(nil)

// ddl returns the corpus table DDL with the embedding dimension substituted.
// The vector dimension is baked into the column type at schema creation time.
func ddl(dims int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS intent_examples (
    id         TEXT         PRIMARY KEY,
    intent_id  TEXT         NOT NULL,
    text       TEXT         NOT NULL,
    embedding  vector(%d),
    metadata   JSONB        NOT NULL DEFAULT '{}',
    updated_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_intent_examples_intent_id
    ON intent_examples (intent_id);

CREATE INDEX IF NOT EXISTS idx_intent_examples_embedding
    ON intent_examples USING hnsw (embedding vector_cosine_ops);
`, dims)
}

// Migrate creates or ensures the corpus table and pgvector extension exist.
// It is idempotent and safe to call on every application start.
//
// dims must match the configured embedding model's output dimension. Changing
// it after the first migration requires a manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, dims int) error {
	if _, err := pool.Exec(ctx, ddl(dims)); err != nil {
		return fmt.Errorf("postgres migrate: %w", err)
	}
	return nil
}

// NewStore establishes a connection pool to the PostgreSQL database at dsn,
// registers pgvector types on every connection, and runs [Migrate].
func NewStore(ctx context.Context, dsn string, dims int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, dims); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{pool: pool, dims: dims}, nil
}

// Close releases all connections held by the underlying pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Upsert implements [vector.Store]. A document with the same ID is completely
// replaced.
func (s *Store) Upsert(ctx context.Context, doc vector.Document) error {
	if err := vector.CheckDimension(doc.Embedding, s.dims); err != nil {
		return err
	}

	const q = `
		INSERT INTO intent_examples (id, intent_id, text, embedding, metadata, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO UPDATE SET
		    intent_id  = EXCLUDED.intent_id,
		    text       = EXCLUDED.text,
		    embedding  = EXCLUDED.embedding,
		    metadata   = EXCLUDED.metadata,
		    updated_at = now()`

	meta := doc.Metadata
	if meta == nil {
		meta = map[string]string{}
	}
	_, err := s.pool.Exec(ctx, q,
		doc.ID, doc.IntentID, doc.Text, pgvector.NewVector(doc.Embedding), meta)
	if err != nil {
		return fmt.Errorf("postgres store: upsert %q: %w", doc.ID, err)
	}
	return nil
}

// Delete implements [vector.Store]. Deleting an unknown ID is a no-op.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM intent_examples WHERE id = $1`, id); err != nil {
		return fmt.Errorf("postgres store: delete %q: %w", id, err)
	}
	return nil
}

// SearchTopK implements [vector.Store]. Similarity is computed as
// 1 - cosine distance (pgvector's <=> operator) and filtered server-side.
func (s *Store) SearchTopK(ctx context.Context, vec []float32, k int, minSimilarity float64) ([]vector.Result, error) {
	if err := vector.CheckDimension(vec, s.dims); err != nil {
		return nil, err
	}
	if k <= 0 {
		return []vector.Result{}, nil
	}

	const q = `
		SELECT id, intent_id, text, embedding, metadata,
		       1 - (embedding <=> $1) AS similarity
		FROM   intent_examples
		WHERE  1 - (embedding <=> $1) >= $2
		ORDER  BY similarity DESC
		LIMIT  $3`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vec), minSimilarity, k)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search: %w", err)
	}

	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (vector.Result, error) {
		var (
			res vector.Result
			emb pgvector.Vector
		)
		if err := row.Scan(
			&res.Document.ID,
			&res.Document.IntentID,
			&res.Document.Text,
			&emb,
			&res.Document.Metadata,
			&res.Similarity,
		); err != nil {
			return vector.Result{}, err
		}
		res.Document.Embedding = emb.Slice()
		return res, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan rows: %w", err)
	}
	if results == nil {
		results = []vector.Result{}
	}
	return results, nil
}

// Get implements [vector.Store].
func (s *Store) Get(ctx context.Context, id string) (vector.Document, error) {
	const q = `SELECT id, intent_id, text, embedding, metadata FROM intent_examples WHERE id = $1`

	var (
		doc vector.Document
		emb pgvector.Vector
	)
	err := s.pool.QueryRow(ctx, q, id).Scan(&doc.ID, &doc.IntentID, &doc.Text, &emb, &doc.Metadata)
	if errors.Is(err, pgx.ErrNoRows) {
		return vector.Document{}, vector.ErrNotFound
	}
	if err != nil {
		return vector.Document{}, fmt.Errorf("postgres store: get %q: %w", id, err)
	}
	doc.Embedding = emb.Slice()
	return doc, nil
}

// Count implements [vector.Store].
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM intent_examples`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres store: count: %w", err)
	}
	return n, nil
}

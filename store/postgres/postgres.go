// Package postgres implements loom.EmbeddingStore using PostgreSQL with
// pgvector for native cosine similarity search over HNSW indexes.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	loom "github.com/nevindra/loom"
)

// Store implements loom.EmbeddingStore backed by PostgreSQL with pgvector.
type Store struct {
	pool *pgxpool.Pool
	cfg  pgConfig
}

// pgConfig holds store configuration set via Option functions.
type pgConfig struct {
	embeddingDimension int // 0 = untyped vector column
	hnswM              int // 0 = pgvector default (16)
	hnswEFConstruction int // 0 = pgvector default (64)
}

// Option configures a PostgreSQL Store.
type Option func(*pgConfig)

// WithEmbeddingDimension sets the vector column dimension (e.g. 1536, 768).
// When set, CREATE TABLE uses vector(N) instead of untyped vector, enabling
// index optimization and catching dimension mismatches at insert time.
// Only affects new table creation (no ALTER on existing tables).
func WithEmbeddingDimension(dim int) Option {
	return func(c *pgConfig) { c.embeddingDimension = dim }
}

// WithHNSWM sets the HNSW m parameter (max connections per node).
// Higher values improve recall at the cost of memory. Default: pgvector's 16.
func WithHNSWM(m int) Option {
	return func(c *pgConfig) { c.hnswM = m }
}

// WithEFConstruction sets the HNSW ef_construction parameter (build-time
// candidate list size). Higher values improve index quality at the cost of
// slower builds. Default: pgvector's 64.
func WithEFConstruction(ef int) Option {
	return func(c *pgConfig) { c.hnswEFConstruction = ef }
}

var _ loom.EmbeddingStore = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	var cfg pgConfig
	for _, o := range opts {
		o(&cfg)
	}
	return &Store{pool: pool, cfg: cfg}
}

// vectorType returns "vector" or "vector(N)" depending on config.
func (s *Store) vectorType() string {
	if s.cfg.embeddingDimension > 0 {
		return fmt.Sprintf("vector(%d)", s.cfg.embeddingDimension)
	}
	return "vector"
}

// hnswWithClause returns the WITH (...) clause for HNSW index creation,
// or an empty string if no tuning params are set.
func (s *Store) hnswWithClause() string {
	var parts []string
	if s.cfg.hnswM > 0 {
		parts = append(parts, fmt.Sprintf("m = %d", s.cfg.hnswM))
	}
	if s.cfg.hnswEFConstruction > 0 {
		parts = append(parts, fmt.Sprintf("ef_construction = %d", s.cfg.hnswEFConstruction))
	}
	if len(parts) == 0 {
		return ""
	}
	return " WITH (" + strings.Join(parts, ", ") + ")"
}

// Init creates the pgvector extension, the embeddings table, and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS embeddings (
			corpus TEXT NOT NULL,
			id TEXT NOT NULL,
			title TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			hash TEXT NOT NULL,
			embedding %s,
			created_at BIGINT NOT NULL,
			PRIMARY KEY (corpus, id)
		)`, s.vectorType()),

		`CREATE INDEX IF NOT EXISTS embeddings_corpus_idx ON embeddings(corpus)`,
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS embeddings_embedding_idx
			ON embeddings USING hnsw (embedding vector_cosine_ops)%s`, s.hnswWithClause()),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

func (s *Store) Hashes(ctx context.Context, corpus string) (map[string]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, hash FROM embeddings WHERE corpus = $1`, corpus)
	if err != nil {
		return nil, fmt.Errorf("postgres: hashes: %w", err)
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, fmt.Errorf("postgres: scan hash: %w", err)
		}
		hashes[id] = hash
	}
	return hashes, rows.Err()
}

func (s *Store) Upsert(ctx context.Context, corpus string, docs []loom.EmbeddedDocument) error {
	if len(docs) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().Unix()
	for _, doc := range docs {
		_, err := tx.Exec(ctx,
			`INSERT INTO embeddings
			 (corpus, id, title, source, content, hash, embedding, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7::vector, $8)
			 ON CONFLICT (corpus, id) DO UPDATE SET
			   title = EXCLUDED.title,
			   source = EXCLUDED.source,
			   content = EXCLUDED.content,
			   hash = EXCLUDED.hash,
			   embedding = EXCLUDED.embedding,
			   created_at = EXCLUDED.created_at`,
			corpus, doc.ID, doc.Title, doc.Source, doc.Content, doc.Hash,
			vectorLiteral(doc.Embedding), now,
		)
		if err != nil {
			return fmt.Errorf("postgres: upsert %s: %w", doc.ID, err)
		}
	}
	return tx.Commit(ctx)
}

func (s *Store) Delete(ctx context.Context, corpus string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM embeddings WHERE corpus = $1 AND id = ANY($2)`, corpus, ids)
	if err != nil {
		return fmt.Errorf("postgres: delete: %w", err)
	}
	return nil
}

func (s *Store) Search(ctx context.Context, corpus string, query []float32, k int) ([]loom.ScoredDocument, error) {
	if k <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, source, content, hash,
		        1 - (embedding <=> $1::vector) AS score
		 FROM embeddings
		 WHERE corpus = $2 AND embedding IS NOT NULL
		 ORDER BY embedding <=> $1::vector, id
		 LIMIT $3`,
		vectorLiteral(query), corpus, k)
	if err != nil {
		return nil, fmt.Errorf("postgres: search: %w", err)
	}
	defer rows.Close()

	var results []loom.ScoredDocument
	for rows.Next() {
		var doc loom.Document
		var score float64
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Source, &doc.Content, &doc.Hash, &score); err != nil {
			return nil, fmt.Errorf("postgres: scan document: %w", err)
		}
		results = append(results, loom.ScoredDocument{Document: doc, Score: score})
	}
	return results, rows.Err()
}

func (s *Store) Count(ctx context.Context, corpus string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM embeddings WHERE corpus = $1`, corpus).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count: %w", err)
	}
	return n, nil
}

// vectorLiteral renders a []float32 as a pgvector input literal. The JSON
// array form "[0.1,0.2]" is also valid pgvector syntax.
func vectorLiteral(embedding []float32) string {
	data, _ := json.Marshal(embedding)
	return string(data)
}

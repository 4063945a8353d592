// Package sqlite implements loom.EmbeddingStore using pure-Go SQLite
// with in-process brute-force vector search. Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	loom "github.com/nevindra/loom"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, the store
// emits debug logs for every operation including timing and row counts.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements loom.EmbeddingStore backed by a local SQLite file.
// Embeddings are stored as JSON text and vector search is done in-process
// using brute-force cosine similarity.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ loom.EmbeddingStore = (*Store)(nil)

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates the embeddings table. Safe to call multiple times.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS embeddings (
			corpus TEXT NOT NULL,
			id TEXT NOT NULL,
			title TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL,
			hash TEXT NOT NULL,
			embedding TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (corpus, id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_embeddings_corpus ON embeddings(corpus)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: init: %w", err)
		}
	}
	s.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Hashes(ctx context.Context, corpus string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, hash FROM embeddings WHERE corpus = ?`, corpus)
	if err != nil {
		return nil, fmt.Errorf("sqlite: hashes: %w", err)
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var id, hash string
		if err := rows.Scan(&id, &hash); err != nil {
			return nil, fmt.Errorf("sqlite: scan hash: %w", err)
		}
		hashes[id] = hash
	}
	return hashes, rows.Err()
}

func (s *Store) Upsert(ctx context.Context, corpus string, docs []loom.EmbeddedDocument) error {
	if len(docs) == 0 {
		return nil
	}
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin upsert: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Unix()
	for _, doc := range docs {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO embeddings
			 (corpus, id, title, source, content, hash, embedding, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			corpus, doc.ID, doc.Title, doc.Source, doc.Content, doc.Hash,
			serializeEmbedding(doc.Embedding), now,
		)
		if err != nil {
			return fmt.Errorf("sqlite: upsert %s: %w", doc.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit upsert: %w", err)
	}
	s.logger.Debug("sqlite: upsert ok", "corpus", corpus, "docs", len(docs), "duration", time.Since(start))
	return nil
}

func (s *Store) Delete(ctx context.Context, corpus string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin delete: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM embeddings WHERE corpus = ? AND id = ?`, corpus, id); err != nil {
			return fmt.Errorf("sqlite: delete %s: %w", id, err)
		}
	}
	return tx.Commit()
}

func (s *Store) Search(ctx context.Context, corpus string, query []float32, k int) ([]loom.ScoredDocument, error) {
	if k <= 0 {
		return nil, nil
	}
	start := time.Now()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, source, content, hash, embedding
		 FROM embeddings WHERE corpus = ?`, corpus)
	if err != nil {
		return nil, fmt.Errorf("sqlite: search: %w", err)
	}
	defer rows.Close()

	var scored []loom.ScoredDocument
	for rows.Next() {
		var doc loom.Document
		var embJSON string
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Source, &doc.Content, &doc.Hash, &embJSON); err != nil {
			return nil, fmt.Errorf("sqlite: scan document: %w", err)
		}
		embedding, err := deserializeEmbedding(embJSON)
		if err != nil {
			return nil, fmt.Errorf("sqlite: embedding for %s: %w", doc.ID, err)
		}
		scored = append(scored, loom.ScoredDocument{
			Document: doc,
			Score:    loom.Cosine(query, embedding),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate documents: %w", err)
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].ID < scored[j].ID
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	s.logger.Debug("sqlite: search ok", "corpus", corpus, "results", len(scored), "duration", time.Since(start))
	return scored, nil
}

func (s *Store) Count(ctx context.Context, corpus string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM embeddings WHERE corpus = ?`, corpus).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: count: %w", err)
	}
	return n, nil
}

// serializeEmbedding converts []float32 to a JSON array string.
func serializeEmbedding(embedding []float32) string {
	data, _ := json.Marshal(embedding)
	return string(data)
}

// deserializeEmbedding parses a JSON array string back to []float32.
func deserializeEmbedding(s string) ([]float32, error) {
	var v []float32
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}

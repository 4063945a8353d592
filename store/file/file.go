// Package file implements loom.EmbeddingStore as one JSON file per corpus
// under a cache directory. Search is in-process brute-force cosine, which
// is plenty for corpora that fit in memory; larger deployments use the
// sqlite or postgres stores.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	loom "github.com/nevindra/loom"
)

// Store persists embedded documents as JSON files, one per corpus.
type Store struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
}

// Option configures a file Store.
type Option func(*Store)

// WithLogger sets a structured logger for the store.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Store rooted at dir. The directory is created on first
// write.
func New(dir string, opts ...Option) *Store {
	s := &Store{dir: dir, logger: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(s)
	}
	return s
}

// corpusFile holds the on-disk shape of one corpus.
type corpusFile struct {
	Documents []loom.EmbeddedDocument `json:"documents"`
}

func (s *Store) path(corpus string) string {
	// Corpus names come from config and API paths; flatten anything that
	// would escape the cache directory.
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', '.':
			return '_'
		}
		return r
	}, corpus)
	return filepath.Join(s.dir, safe+".json")
}

func (s *Store) load(corpus string) (corpusFile, error) {
	var data corpusFile
	raw, err := os.ReadFile(s.path(corpus))
	if os.IsNotExist(err) {
		return data, nil
	}
	if err != nil {
		return data, fmt.Errorf("file store: read corpus %s: %w", corpus, err)
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return data, fmt.Errorf("file store: parse corpus %s: %w", corpus, err)
	}
	return data, nil
}

// save writes the corpus atomically via a temp file and rename, so a
// crash mid-write never leaves a truncated corpus behind.
func (s *Store) save(corpus string, data corpusFile) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("file store: create cache dir: %w", err)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("file store: marshal corpus %s: %w", corpus, err)
	}
	path := s.path(corpus)
	tmp, err := os.CreateTemp(s.dir, "corpus-*.tmp")
	if err != nil {
		return fmt.Errorf("file store: temp file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("file store: write corpus %s: %w", corpus, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("file store: close temp: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("file store: rename corpus %s: %w", corpus, err)
	}
	return nil
}

func (s *Store) Hashes(_ context.Context, corpus string) (map[string]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load(corpus)
	if err != nil {
		return nil, err
	}
	hashes := make(map[string]string, len(data.Documents))
	for _, doc := range data.Documents {
		hashes[doc.ID] = doc.Hash
	}
	return hashes, nil
}

func (s *Store) Upsert(_ context.Context, corpus string, docs []loom.EmbeddedDocument) error {
	if len(docs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load(corpus)
	if err != nil {
		return err
	}
	byID := make(map[string]int, len(data.Documents))
	for i, doc := range data.Documents {
		byID[doc.ID] = i
	}
	for _, doc := range docs {
		if i, ok := byID[doc.ID]; ok {
			data.Documents[i] = doc
		} else {
			byID[doc.ID] = len(data.Documents)
			data.Documents = append(data.Documents, doc)
		}
	}
	s.logger.Debug("file store: upsert", "corpus", corpus, "docs", len(docs))
	return s.save(corpus, data)
}

func (s *Store) Delete(_ context.Context, corpus string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load(corpus)
	if err != nil {
		return err
	}
	gone := make(map[string]bool, len(ids))
	for _, id := range ids {
		gone[id] = true
	}
	kept := data.Documents[:0]
	for _, doc := range data.Documents {
		if !gone[doc.ID] {
			kept = append(kept, doc)
		}
	}
	data.Documents = kept
	s.logger.Debug("file store: delete", "corpus", corpus, "ids", len(ids))
	return s.save(corpus, data)
}

func (s *Store) Search(_ context.Context, corpus string, query []float32, k int) ([]loom.ScoredDocument, error) {
	if k <= 0 {
		return nil, nil
	}
	s.mu.Lock()
	data, err := s.load(corpus)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	scored := make([]loom.ScoredDocument, 0, len(data.Documents))
	for _, doc := range data.Documents {
		scored = append(scored, loom.ScoredDocument{
			Document: doc.Document,
			Score:    loom.Cosine(query, doc.Embedding),
		})
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
	return scored, nil
}

func (s *Store) Count(_ context.Context, corpus string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.load(corpus)
	if err != nil {
		return 0, err
	}
	return len(data.Documents), nil
}

// Compile-time interface check.
var _ loom.EmbeddingStore = (*Store)(nil)

package loom

import (
	"context"
	"log/slog"
)

// defaultSyncBatchSize is how many documents are embedded per provider
// call unless SyncBatchSize overrides it.
const defaultSyncBatchSize = 16

// SyncStats summarizes one corpus sync.
type SyncStats struct {
	// Embedded documents were (re)embedded this sync.
	Embedded int
	// Cached documents had a current stored embedding and were left alone.
	Cached int
	// Deleted documents were removed from the store.
	Deleted int
	// Failed documents could not be embedded after a retry and were
	// skipped; they will be attempted again next sync.
	Failed int
}

// Syncer keeps an EmbeddingStore aligned with a document corpus.
// Wrap the embedder with WithEmbeddingRetry to get the per-batch retry;
// a single RetryDelays entry gives each batch exactly one retry.
type Syncer struct {
	store     EmbeddingStore
	embed     EmbeddingProvider
	model     string
	batchSize int
	logger    *slog.Logger
}

// SyncerOption configures a Syncer.
type SyncerOption func(*Syncer)

// SyncLogger sets the structured logger for sync progress.
func SyncLogger(l *slog.Logger) SyncerOption {
	return func(s *Syncer) { s.logger = l }
}

// SyncBatchSize sets how many documents are embedded per provider call.
// Values below 1 keep the default.
func SyncBatchSize(n int) SyncerOption {
	return func(s *Syncer) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewSyncer creates a corpus syncer. model names the embedding model and
// becomes part of each document's hash fingerprint.
func NewSyncer(store EmbeddingStore, embed EmbeddingProvider, model string, opts ...SyncerOption) *Syncer {
	s := &Syncer{store: store, embed: embed, model: model, batchSize: defaultSyncBatchSize}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = nopLogger
	}
	return s
}

// Sync reconciles the store with docs: unchanged documents keep their
// stored vectors, new or changed ones are embedded in batches, and stored
// documents no longer in the corpus are deleted. A batch that fails even
// after retry is skipped; the sync continues and reports it in Failed.
func (s *Syncer) Sync(ctx context.Context, corpus string, docs []Document) (SyncStats, error) {
	var stats SyncStats

	stored, err := s.store.Hashes(ctx, corpus)
	if err != nil {
		return stats, err
	}

	seen := make(map[string]bool, len(docs))
	var pending []Document
	for _, doc := range docs {
		doc.Hash = DocumentHash(s.embed.Name(), s.model, doc.Content)
		seen[doc.ID] = true
		if stored[doc.ID] == doc.Hash {
			stats.Cached++
			continue
		}
		pending = append(pending, doc)
	}

	var gone []string
	for id := range stored {
		if !seen[id] {
			gone = append(gone, id)
		}
	}
	if len(gone) > 0 {
		if err := s.store.Delete(ctx, corpus, gone); err != nil {
			return stats, err
		}
		stats.Deleted = len(gone)
	}

	for start := 0; start < len(pending); start += s.batchSize {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		end := min(start+s.batchSize, len(pending))
		batch := pending[start:end]

		texts := make([]string, len(batch))
		for i, doc := range batch {
			texts[i] = doc.Content
		}
		vectors, err := s.embed.Embed(ctx, texts)
		if err != nil || len(vectors) != len(batch) {
			s.logger.Warn("embedding batch failed, skipping",
				"corpus", corpus, "batch_start", start, "size", len(batch), "error", err)
			stats.Failed += len(batch)
			continue
		}

		embedded := make([]EmbeddedDocument, len(batch))
		for i, doc := range batch {
			embedded[i] = EmbeddedDocument{Document: doc, Embedding: vectors[i]}
		}
		if err := s.store.Upsert(ctx, corpus, embedded); err != nil {
			return stats, err
		}
		stats.Embedded += len(batch)
	}

	s.logger.Info("corpus synced",
		"corpus", corpus,
		"embedded", stats.Embedded,
		"cached", stats.Cached,
		"deleted", stats.Deleted,
		"failed", stats.Failed)
	return stats, nil
}

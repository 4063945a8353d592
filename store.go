package loom

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"math"
)

// EmbeddingStore persists document embeddings per corpus. Implementations
// live under store/ (file, sqlite, postgres).
type EmbeddingStore interface {
	// Hashes returns the stored content hash per document ID for a corpus.
	Hashes(ctx context.Context, corpus string) (map[string]string, error)
	// Upsert inserts or replaces embedded documents.
	Upsert(ctx context.Context, corpus string, docs []EmbeddedDocument) error
	// Delete removes documents by ID. Missing IDs are not an error.
	Delete(ctx context.Context, corpus string, ids []string) error
	// Search returns the k nearest documents by cosine similarity,
	// descending, ties broken by document ID ascending. k larger than the
	// corpus returns everything.
	Search(ctx context.Context, corpus string, query []float32, k int) ([]ScoredDocument, error)
	// Count returns the number of stored documents in a corpus.
	Count(ctx context.Context, corpus string) (int, error)
}

// Cosine returns the cosine similarity between two vectors.
// Mismatched lengths or zero vectors score 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// DocumentHash fingerprints a document's content together with the
// embedding provider and model. A stored vector is reused only when this
// hash matches, so switching provider or model re-embeds everything.
func DocumentHash(provider, model, content string) string {
	sum := sha256.Sum256([]byte(provider + ":" + model + ":" + content))
	return hex.EncodeToString(sum[:])
}

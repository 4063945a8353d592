package loom

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// Hit is one retrieval result.
type Hit struct {
	Title   string  `json:"title"`
	Snippet string  `json:"snippet"`
	Score   float64 `json:"score"`
	Source  string  `json:"source,omitempty"`
}

// Retriever answers queries against a synced corpus: embed, cosine top-k,
// and optionally an LLM rerank pass on the small model.
type Retriever struct {
	chat   Provider
	embed  EmbeddingProvider
	store  EmbeddingStore
	model  string // rerank model name
	logger *slog.Logger

	topK          int
	rerank        bool
	rerankK       int
	snippetBudget int
}

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// TopK sets how many hits Retrieve returns (default 5).
func TopK(k int) RetrieverOption {
	return func(r *Retriever) { r.topK = k }
}

// Rerank toggles the LLM rerank pass (default on).
func Rerank(enabled bool) RetrieverOption {
	return func(r *Retriever) { r.rerank = enabled }
}

// RerankK sets how many candidates are fetched for reranking.
// Defaults to 3×TopK.
func RerankK(k int) RetrieverOption {
	return func(r *Retriever) { r.rerankK = k }
}

// SnippetBudget caps snippet length in characters (default 2000).
func SnippetBudget(chars int) RetrieverOption {
	return func(r *Retriever) { r.snippetBudget = chars }
}

// RetrieverLogger sets the structured logger.
func RetrieverLogger(l *slog.Logger) RetrieverOption {
	return func(r *Retriever) { r.logger = l }
}

// NewRetriever creates a retriever. model is the chat model used for
// reranking (the small model class).
func NewRetriever(chat Provider, embed EmbeddingProvider, store EmbeddingStore, model string, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		chat:          chat,
		embed:         embed,
		store:         store,
		model:         model,
		topK:          5,
		rerank:        true,
		snippetBudget: 2000,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.rerankK <= 0 {
		r.rerankK = 3 * r.topK
	}
	if r.logger == nil {
		r.logger = nopLogger
	}
	return r
}

// Retrieve returns the top hits for a query. Scores are raw cosine values
// in [-1, 1]; callers decide whether to threshold. An empty corpus yields
// an empty slice. Rerank failures never fail the retrieval: the cosine
// order stands.
func (r *Retriever) Retrieve(ctx context.Context, corpus, query string) ([]Hit, error) {
	return r.retrieve(ctx, corpus, query, r.topK, r.rerank)
}

// RetrieveWith is Retrieve with per-call overrides for the result count
// and the rerank pass. topK values below 1 fall back to the default.
func (r *Retriever) RetrieveWith(ctx context.Context, corpus, query string, topK int, rerank bool) ([]Hit, error) {
	if topK < 1 {
		topK = r.topK
	}
	return r.retrieve(ctx, corpus, query, topK, rerank)
}

func (r *Retriever) retrieve(ctx context.Context, corpus, query string, topK int, rerank bool) ([]Hit, error) {
	vectors, err := r.embed.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("embed query: provider returned no vector")
	}

	fetch := topK
	if rerank {
		fetch = r.rerankFetch(topK)
	}
	candidates, err := r.store.Search(ctx, corpus, vectors[0], fetch)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", corpus, err)
	}
	if len(candidates) == 0 {
		return []Hit{}, nil
	}

	if rerank && len(candidates) > 1 {
		if ranked, ok := r.rerankWithLLM(ctx, query, candidates, topK); ok {
			candidates = ranked
		}
	}

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	hits := make([]Hit, len(candidates))
	for i, c := range candidates {
		hits[i] = Hit{
			Title:   c.Title,
			Snippet: r.snippet(c.Content),
			Score:   c.Score,
			Source:  c.Source,
		}
	}
	return hits, nil
}

// rerankFetch is how many candidates to pull for the rerank pass.
func (r *Retriever) rerankFetch(topK int) int {
	if topK == r.topK {
		return r.rerankK
	}
	return 3 * topK
}

// rerankWithLLM asks the small model for a relevance permutation of the
// candidate list. Returns ok=false on any failure so the caller keeps the
// cosine order.
func (r *Retriever) rerankWithLLM(ctx context.Context, query string, candidates []ScoredDocument, topK int) ([]ScoredDocument, bool) {
	var docs strings.Builder
	for i, c := range candidates {
		fmt.Fprintf(&docs, "\n[%d] %s\n%s\n", i+1, c.Title, r.snippet(c.Content))
	}

	prompt := fmt.Sprintf(`You are a document relevance ranker. Rank the documents below by relevance to the query, most relevant first.

Query: %s

Documents:
%s
Output ONLY a JSON array of document numbers in ranked order, no explanation. Example: [2, 1, 3]`, query, docs.String())

	resp, err := r.chat.Chat(ctx, ChatRequest{
		Model:       r.model,
		Messages:    []ChatMessage{{Role: "user", Content: prompt}},
		Temperature: 0,
		MaxTokens:   500,
	})
	if err != nil {
		r.logger.Warn("rerank failed, keeping cosine order", "error", err)
		return nil, false
	}

	perm, err := parsePermutation(resp.Content, len(candidates))
	if err != nil {
		r.logger.Warn("rerank parse failed, keeping cosine order", "error", err)
		return nil, false
	}
	need := min(topK, len(candidates))
	if len(perm) < need {
		r.logger.Warn("rerank returned too few indices, keeping cosine order",
			"got", len(perm), "want", need)
		return nil, false
	}

	ranked := make([]ScoredDocument, 0, len(perm))
	for _, idx := range perm {
		ranked = append(ranked, candidates[idx-1])
	}
	return ranked, true
}

// parsePermutation extracts 1-based indices from an LLM reply. Markdown
// code fences are tolerated; out-of-range and duplicate indices are
// dropped.
func parsePermutation(content string, n int) ([]int, error) {
	content = stripCodeFence(content)
	start := strings.IndexByte(content, '[')
	end := strings.LastIndexByte(content, ']')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array in %q", truncateStr(content, 80))
	}
	var raw []int
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("parse permutation: %w", err)
	}
	seen := make(map[int]bool, len(raw))
	var perm []int
	for _, idx := range raw {
		if idx < 1 || idx > n || seen[idx] {
			continue
		}
		seen[idx] = true
		perm = append(perm, idx)
	}
	return perm, nil
}

// stripCodeFence removes a surrounding markdown code fence, if any.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 && !strings.ContainsAny(s[:i], "[]") {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func (r *Retriever) snippet(content string) string {
	if len(content) <= r.snippetBudget {
		return content
	}
	return content[:r.snippetBudget] + "..."
}

package agents

import (
	"context"
	"fmt"

	"github.com/nevindra/loom"
)

// search runs a semantic query against the knowledge base and publishes
// the hits as snippets and source documents.
type search struct {
	deps Deps
}

func (a *search) Execute(ctx context.Context, task loom.AgentTask) (loom.AgentResult, error) {
	if a.deps.Retriever == nil {
		return loom.AgentResult{}, loom.Recoverablef("no retriever configured")
	}

	settings := task.Settings
	topK := settingInt(settings, "topK", 5)
	rerank := settingBool(settings, "enableReranking", true)
	corpus := settingString(settings, "knowledgeBase", a.deps.Corpus)

	hits, err := a.deps.Retriever.RetrieveWith(ctx, corpus, task.UserMessage, topK, rerank)
	if err != nil {
		return loom.AgentResult{}, fmt.Errorf("semantic search: %w", err)
	}

	snippets := make([]string, len(hits))
	docs := make([]any, len(hits))
	results := make([]any, len(hits))
	for i, h := range hits {
		snippets[i] = fmt.Sprintf("[%s] %s", h.Title, h.Snippet)
		docs[i] = map[string]any{
			"title":   h.Title,
			"snippet": clip(h.Snippet, 500),
			"score":   h.Score,
			"source":  h.Source,
		}
		results[i] = map[string]any{
			"title":   h.Title,
			"snippet": h.Snippet,
			"score":   h.Score,
			"source":  h.Source,
		}
	}

	return loom.AgentResult{
		Agent:   "semantic_search",
		Model:   "embedding",
		Action:  "search",
		Content: fmt.Sprintf("Found %d relevant documents", len(hits)),
		Success: true,
		Metadata: map[string]any{
			"num_results": len(hits),
			"top_k":       topK,
			"reranked":    rerank && len(hits) > 1,
			"corpus":      corpus,
		},
		ContextUpdates: map[string]any{
			loom.KeySemanticResults: results,
			loom.KeyContextSnippets: snippets,
			loom.KeyDocs:            docs,
		},
	}, nil
}

var _ loom.Agent = (*search)(nil)

package openaicompat

import (
	"context"
	"sort"

	loom "github.com/nevindra/loom"
)

// Embedder talks to an OpenAI-compatible /embeddings endpoint.
type Embedder struct {
	client *Client
	model  string
	dims   int
}

// NewEmbedder creates an embedding provider. dimensions is the vector size
// produced by model (1536 for text-embedding-3-small, 768 for
// nomic-embed-text). Options apply to the underlying HTTP client.
func NewEmbedder(baseURL, apiKey, model string, dimensions int, opts ...Option) *Embedder {
	return &Embedder{
		client: New(baseURL, apiKey, model, opts...),
		model:  model,
		dims:   dimensions,
	}
}

func (e *Embedder) Name() string    { return e.client.name }
func (e *Embedder) Dimensions() int { return e.dims }

type embedBody struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedReply struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns one vector per input text, in input order. The API may
// return data out of order, so results are reordered by index.
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var reply embedReply
	if err := e.client.post(ctx, "/embeddings", embedBody{Model: e.model, Input: texts}, &reply); err != nil {
		return nil, err
	}
	if len(reply.Data) != len(texts) {
		return nil, &loom.ErrLLM{
			Provider: e.client.name,
			Message:  "embedding count mismatch",
		}
	}
	sort.Slice(reply.Data, func(i, j int) bool { return reply.Data[i].Index < reply.Data[j].Index })
	vectors := make([][]float32, len(reply.Data))
	for i, d := range reply.Data {
		vectors[i] = d.Embedding
	}
	return vectors, nil
}

// Compile-time interface check.
var _ loom.EmbeddingProvider = (*Embedder)(nil)

package loom

import "context"

// Provider is a chat completion backend. Implementations live under
// provider/ (openaicompat covers OpenAI and Ollama, anthropic covers the
// Claude Messages API).
type Provider interface {
	// Chat sends a conversation and returns the assistant's reply.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// Name identifies the provider for logging and error messages.
	Name() string
}

// EmbeddingProvider converts text into vectors for semantic search.
type EmbeddingProvider interface {
	// Embed returns one vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the embedding vector size.
	Dimensions() int
	// Name identifies the provider for logging and cache fingerprints.
	Name() string
}

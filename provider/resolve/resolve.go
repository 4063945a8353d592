// Package resolve builds chat and embedding providers from
// provider-agnostic configuration, so the daemon can switch backends with
// a single config value.
package resolve

import (
	"fmt"

	loom "github.com/nevindra/loom"
	"github.com/nevindra/loom/provider/anthropic"
	"github.com/nevindra/loom/provider/openaicompat"
)

// Config holds provider-agnostic configuration for creating a chat
// Provider.
type Config struct {
	Provider string // "openai", "anthropic", "ollama", "groq", "deepseek", "together", "mistral"
	APIKey   string
	Model    string // default model when a request does not name one
	BaseURL  string // required for unknown openai-compat hosts; auto-filled for known providers
}

// EmbeddingConfig holds provider-agnostic configuration for creating an
// EmbeddingProvider.
type EmbeddingConfig struct {
	Provider   string
	APIKey     string
	Model      string
	BaseURL    string
	Dimensions int
}

// Provider creates a loom.Provider from a Config.
func Provider(cfg Config) (loom.Provider, error) {
	switch cfg.Provider {
	case "anthropic":
		return anthropic.NewFromAPIKey(cfg.APIKey, cfg.Model)
	case "openai", "groq", "deepseek", "together", "mistral", "ollama":
		if err := requireKey(cfg.Provider, cfg.APIKey); err != nil {
			return nil, err
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURL(cfg.Provider)
		}
		return openaicompat.New(baseURL, cfg.APIKey, cfg.Model, openaicompat.WithName(cfg.Provider)), nil
	default:
		return nil, fmt.Errorf("resolve: unknown provider %q", cfg.Provider)
	}
}

// EmbeddingProvider creates a loom.EmbeddingProvider from an
// EmbeddingConfig. Anthropic has no embeddings endpoint; workflows on the
// anthropic chat provider pair it with an openai or ollama embedder.
func EmbeddingProvider(cfg EmbeddingConfig) (loom.EmbeddingProvider, error) {
	switch cfg.Provider {
	case "openai", "ollama", "together", "mistral":
		if err := requireKey(cfg.Provider, cfg.APIKey); err != nil {
			return nil, err
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = defaultBaseURL(cfg.Provider)
		}
		return openaicompat.NewEmbedder(baseURL, cfg.APIKey, cfg.Model, cfg.Dimensions,
			openaicompat.WithName(cfg.Provider)), nil
	default:
		return nil, fmt.Errorf("resolve: embedding provider %q not supported", cfg.Provider)
	}
}

// requireKey rejects an empty API key for hosted providers so a missing
// key fails at startup rather than on the first request. Ollama runs
// locally and needs none.
func requireKey(provider, key string) error {
	if key == "" && provider != "ollama" {
		return fmt.Errorf("resolve: provider %q requires an API key", provider)
	}
	return nil
}

func defaultBaseURL(provider string) string {
	switch provider {
	case "openai":
		return "https://api.openai.com/v1"
	case "groq":
		return "https://api.groq.com/openai/v1"
	case "deepseek":
		return "https://api.deepseek.com/v1"
	case "together":
		return "https://api.together.xyz/v1"
	case "mistral":
		return "https://api.mistral.ai/v1"
	case "ollama":
		return "http://localhost:11434/v1"
	default:
		return ""
	}
}

// Package config loads daemon configuration from a TOML file with
// environment overrides, and fills in provider-specific model defaults.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"

	loom "github.com/nevindra/loom"
)

type Config struct {
	LLM       LLMConfig       `toml:"llm"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Image     ImageConfig     `toml:"image"`
	Server    ServerConfig    `toml:"server"`
	Storage   StorageConfig   `toml:"storage"`
	Corpus    CorpusConfig    `toml:"corpus"`
	Observer  ObserverConfig  `toml:"observer"`
}

type LLMConfig struct {
	Provider   string `toml:"provider"` // "openai", "anthropic", "ollama"
	APIKey     string `toml:"api_key"`
	BaseURL    string `toml:"base_url"`
	SmallModel string `toml:"small_model"`
	LargeModel string `toml:"large_model"`
}

type EmbeddingConfig struct {
	Provider   string `toml:"provider"`
	APIKey     string `toml:"api_key"`
	BaseURL    string `toml:"base_url"`
	Model      string `toml:"model"`
	Dimensions int    `toml:"dimensions"`
}

type ImageConfig struct {
	Provider string `toml:"provider"` // "dalle" or "gemini"
	APIKey   string `toml:"api_key"`
	Model    string `toml:"model"`
}

type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

type StorageConfig struct {
	// DatabaseURL selects the postgres store when set; otherwise
	// embeddings live in JSON files under CacheDir (or SQLite when
	// SQLitePath is set).
	DatabaseURL string `toml:"database_url"`
	SQLitePath  string `toml:"sqlite_path"`
	CacheDir    string `toml:"cache_dir"`
}

type CorpusConfig struct {
	// DocumentsDir holds one subdirectory per knowledge base.
	DocumentsDir string `toml:"documents_dir"`
	// Default is the knowledge base used when a request names none.
	Default string `toml:"default"`
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		LLM: LLMConfig{
			Provider: "openai",
			BaseURL:  "https://api.openai.com/v1",
		},
		Embedding: EmbeddingConfig{},
		Image:     ImageConfig{Provider: "dalle"},
		Server:    ServerConfig{Host: "0.0.0.0", Port: 8000},
		Storage:   StorageConfig{CacheDir: "cache"},
		Corpus:    CorpusConfig{DocumentsDir: "documents", Default: "legal"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins), then
// resolves provider-specific defaults for anything still unset.
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "loom.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	applyEnv(&cfg)
	applyProviderDefaults(&cfg)
	return cfg
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = strings.ToLower(v)
	}
	switch cfg.LLM.Provider {
	case "anthropic":
		if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
			cfg.LLM.APIKey = v
		}
	default:
		if v := firstKey(os.Getenv("OPENAI_API_KEY")); v != "" {
			cfg.LLM.APIKey = v
		}
		if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
			cfg.LLM.BaseURL = v
		}
	}
	if cfg.LLM.Provider == "ollama" {
		if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
			cfg.LLM.BaseURL = strings.TrimSuffix(v, "/") + "/v1"
		}
	}
	if v := os.Getenv("SMALL_MODEL"); v != "" {
		cfg.LLM.SmallModel = v
	}
	if v := os.Getenv("LARGE_MODEL"); v != "" {
		cfg.LLM.LargeModel = v
	}

	if v := os.Getenv("EMBEDDING_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("EMBEDDING_DIMENSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Embedding.Dimensions = n
		}
	}

	if v := os.Getenv("IMAGE_PROVIDER"); v != "" {
		cfg.Image.Provider = strings.ToLower(v)
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" && geminiImageProvider(cfg.Image.Provider) {
		cfg.Image.APIKey = v
	}
	if v := os.Getenv("GEMINI_IMAGE_MODEL"); v != "" {
		cfg.Image.Model = v
	}

	if v := os.Getenv("HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DatabaseURL = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}
	if v := os.Getenv("CACHE_DIR"); v != "" {
		cfg.Storage.CacheDir = v
	}
	if v := os.Getenv("DOCUMENTS_DIR"); v != "" {
		cfg.Corpus.DocumentsDir = v
	}
	if v := os.Getenv("KNOWLEDGE_BASE"); v != "" {
		cfg.Corpus.Default = v
	}
	if v := os.Getenv("LOOM_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}
}

// applyProviderDefaults fills the chat and embedding model names that were
// not set explicitly, per provider.
func applyProviderDefaults(cfg *Config) {
	switch cfg.LLM.Provider {
	case "ollama":
		if cfg.LLM.BaseURL == "" || cfg.LLM.BaseURL == Default().LLM.BaseURL {
			cfg.LLM.BaseURL = "http://localhost:11434/v1"
		}
		if cfg.LLM.SmallModel == "" {
			cfg.LLM.SmallModel = "llama3.1:8b"
		}
		if cfg.LLM.LargeModel == "" {
			cfg.LLM.LargeModel = "llama3.1:8b"
		}
	case "anthropic":
		if cfg.LLM.SmallModel == "" {
			cfg.LLM.SmallModel = "claude-3-haiku-20240307"
		}
		if cfg.LLM.LargeModel == "" {
			cfg.LLM.LargeModel = "claude-3-5-sonnet-20241022"
		}
	default:
		if cfg.LLM.SmallModel == "" {
			cfg.LLM.SmallModel = "gpt-4o-mini"
		}
		if cfg.LLM.LargeModel == "" {
			cfg.LLM.LargeModel = "gpt-4o"
		}
	}

	// Anthropic has no embeddings API; pair it with OpenAI embeddings.
	if cfg.Embedding.Provider == "" {
		if cfg.LLM.Provider == "ollama" {
			cfg.Embedding.Provider = "ollama"
		} else {
			cfg.Embedding.Provider = "openai"
		}
	}
	if cfg.Embedding.Provider == "ollama" {
		if cfg.Embedding.Model == "" {
			cfg.Embedding.Model = "nomic-embed-text"
		}
		if cfg.Embedding.Dimensions == 0 {
			cfg.Embedding.Dimensions = 768
		}
		if cfg.Embedding.BaseURL == "" {
			cfg.Embedding.BaseURL = "http://localhost:11434/v1"
		}
	} else {
		if cfg.Embedding.Model == "" {
			cfg.Embedding.Model = "text-embedding-3-small"
		}
		if cfg.Embedding.Dimensions == 0 {
			cfg.Embedding.Dimensions = 1536
		}
	}
	if cfg.Embedding.APIKey == "" {
		if cfg.Embedding.Provider == cfg.LLM.Provider {
			cfg.Embedding.APIKey = cfg.LLM.APIKey
		} else if v := firstKey(os.Getenv("OPENAI_API_KEY")); v != "" {
			cfg.Embedding.APIKey = v
		}
	}

	if cfg.Image.Model == "" {
		if geminiImageProvider(cfg.Image.Provider) {
			cfg.Image.Model = "gemini-2.0-flash-exp"
		} else {
			cfg.Image.Model = "dall-e-3"
		}
	}
	if cfg.Image.APIKey == "" && cfg.Image.Provider == "dalle" {
		cfg.Image.APIKey = firstKey(os.Getenv("OPENAI_API_KEY"))
	}
}

// geminiImageProvider reports whether the image provider name selects the
// Gemini backend. "nano-banana" is the legacy alias.
func geminiImageProvider(name string) bool {
	return name == "gemini" || name == "nano-banana"
}

// Models returns the resolved chat model names.
func (c Config) Models() loom.Models {
	return loom.Models{Small: c.LLM.SmallModel, Large: c.LLM.LargeModel}
}

// firstKey returns the first entry of a comma-separated key list. Multiple
// keys may be configured for manual rotation; the daemon uses the first.
func firstKey(raw string) string {
	for _, k := range strings.Split(raw, ",") {
		if k = strings.TrimSpace(k); k != "" {
			return k
		}
	}
	return ""
}

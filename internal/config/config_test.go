package config

import (
	"os"
	"path/filepath"
	"testing"
)

// clearEnv blanks every env var Load consults so tests are hermetic.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"LLM_PROVIDER", "OPENAI_API_KEY", "OPENAI_BASE_URL", "ANTHROPIC_API_KEY",
		"OLLAMA_BASE_URL", "SMALL_MODEL", "LARGE_MODEL",
		"EMBEDDING_MODEL", "EMBEDDING_DIMENSIONS",
		"IMAGE_PROVIDER", "GOOGLE_API_KEY", "GEMINI_IMAGE_MODEL",
		"HOST", "PORT", "DATABASE_URL", "SQLITE_PATH", "CACHE_DIR",
		"DOCUMENTS_DIR", "KNOWLEDGE_BASE", "LOOM_OBSERVER_ENABLED",
	} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg := Load(filepath.Join(t.TempDir(), "absent.toml"))

	if cfg.LLM.Provider != "openai" {
		t.Errorf("LLM.Provider = %q, want %q", cfg.LLM.Provider, "openai")
	}
	if cfg.LLM.SmallModel != "gpt-4o-mini" || cfg.LLM.LargeModel != "gpt-4o" {
		t.Errorf("models = %q/%q, want gpt-4o-mini/gpt-4o", cfg.LLM.SmallModel, cfg.LLM.LargeModel)
	}
	if cfg.Embedding.Model != "text-embedding-3-small" || cfg.Embedding.Dimensions != 1536 {
		t.Errorf("embedding = %q/%d", cfg.Embedding.Model, cfg.Embedding.Dimensions)
	}
	if cfg.Server.Host != "0.0.0.0" || cfg.Server.Port != 8000 {
		t.Errorf("server = %s:%d, want 0.0.0.0:8000", cfg.Server.Host, cfg.Server.Port)
	}
	if cfg.Corpus.Default != "legal" {
		t.Errorf("Corpus.Default = %q, want %q", cfg.Corpus.Default, "legal")
	}
	if cfg.Image.Provider != "dalle" || cfg.Image.Model != "dall-e-3" {
		t.Errorf("image = %q/%q", cfg.Image.Provider, cfg.Image.Model)
	}
}

func TestLoadTOMLFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "loom.toml")
	data := `
[llm]
provider = "openai"
api_key = "sk-file"
small_model = "gpt-4.1-mini"

[server]
port = 9100

[corpus]
default = "audit"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := Load(path)
	if cfg.LLM.APIKey != "sk-file" {
		t.Errorf("LLM.APIKey = %q, want %q", cfg.LLM.APIKey, "sk-file")
	}
	if cfg.LLM.SmallModel != "gpt-4.1-mini" {
		t.Errorf("LLM.SmallModel = %q, want %q", cfg.LLM.SmallModel, "gpt-4.1-mini")
	}
	if cfg.LLM.LargeModel != "gpt-4o" {
		t.Errorf("LLM.LargeModel = %q, want default %q", cfg.LLM.LargeModel, "gpt-4o")
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("Server.Port = %d, want 9100", cfg.Server.Port)
	}
	if cfg.Corpus.Default != "audit" {
		t.Errorf("Corpus.Default = %q, want %q", cfg.Corpus.Default, "audit")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "loom.toml")
	if err := os.WriteFile(path, []byte("[server]\nport = 9100\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PORT", "9200")
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("OPENAI_API_KEY", "sk-env")

	cfg := Load(path)
	if cfg.Server.Port != 9200 {
		t.Errorf("Server.Port = %d, want 9200", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.LLM.APIKey != "sk-env" {
		t.Errorf("LLM.APIKey = %q, want %q", cfg.LLM.APIKey, "sk-env")
	}
}

func TestOllamaProviderDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLM_PROVIDER", "ollama")

	cfg := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if cfg.LLM.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("LLM.BaseURL = %q", cfg.LLM.BaseURL)
	}
	if cfg.LLM.SmallModel != "llama3.1:8b" || cfg.LLM.LargeModel != "llama3.1:8b" {
		t.Errorf("models = %q/%q, want llama3.1:8b for both", cfg.LLM.SmallModel, cfg.LLM.LargeModel)
	}
	if cfg.Embedding.Provider != "ollama" {
		t.Errorf("Embedding.Provider = %q, want ollama", cfg.Embedding.Provider)
	}
	if cfg.Embedding.Model != "nomic-embed-text" || cfg.Embedding.Dimensions != 768 {
		t.Errorf("embedding = %q/%d, want nomic-embed-text/768", cfg.Embedding.Model, cfg.Embedding.Dimensions)
	}
}

func TestOllamaBaseURLFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLM_PROVIDER", "ollama")
	t.Setenv("OLLAMA_BASE_URL", "http://gpu-box:11434/")

	cfg := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if cfg.LLM.BaseURL != "http://gpu-box:11434/v1" {
		t.Errorf("LLM.BaseURL = %q, want http://gpu-box:11434/v1", cfg.LLM.BaseURL)
	}
}

func TestAnthropicDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("ANTHROPIC_API_KEY", "sk-ant")
	t.Setenv("OPENAI_API_KEY", "sk-oa")

	cfg := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if cfg.LLM.APIKey != "sk-ant" {
		t.Errorf("LLM.APIKey = %q, want sk-ant", cfg.LLM.APIKey)
	}
	if cfg.LLM.SmallModel != "claude-3-haiku-20240307" {
		t.Errorf("LLM.SmallModel = %q", cfg.LLM.SmallModel)
	}
	if cfg.LLM.LargeModel != "claude-3-5-sonnet-20241022" {
		t.Errorf("LLM.LargeModel = %q", cfg.LLM.LargeModel)
	}
	// No anthropic embeddings endpoint; retrieval falls back to OpenAI.
	if cfg.Embedding.Provider != "openai" {
		t.Errorf("Embedding.Provider = %q, want openai", cfg.Embedding.Provider)
	}
	if cfg.Embedding.APIKey != "sk-oa" {
		t.Errorf("Embedding.APIKey = %q, want sk-oa", cfg.Embedding.APIKey)
	}
}

func TestGeminiImageProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("IMAGE_PROVIDER", "gemini")
	t.Setenv("GOOGLE_API_KEY", "g-key")

	cfg := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if cfg.Image.Provider != "gemini" || cfg.Image.APIKey != "g-key" {
		t.Errorf("image = %q/%q", cfg.Image.Provider, cfg.Image.APIKey)
	}
	if cfg.Image.Model != "gemini-2.0-flash-exp" {
		t.Errorf("Image.Model = %q", cfg.Image.Model)
	}
}

func TestNanoBananaImageProvider(t *testing.T) {
	clearEnv(t)
	t.Setenv("IMAGE_PROVIDER", "nano-banana")
	t.Setenv("GOOGLE_API_KEY", "g-key")

	cfg := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if cfg.Image.Provider != "nano-banana" || cfg.Image.APIKey != "g-key" {
		t.Errorf("image = %q/%q", cfg.Image.Provider, cfg.Image.APIKey)
	}
	if cfg.Image.Model != "gemini-2.0-flash-exp" {
		t.Errorf("Image.Model = %q, want gemini default", cfg.Image.Model)
	}
}

func TestModels(t *testing.T) {
	clearEnv(t)
	t.Setenv("SMALL_MODEL", "s1")
	t.Setenv("LARGE_MODEL", "l1")

	m := Load(filepath.Join(t.TempDir(), "absent.toml")).Models()
	if m.Small != "s1" || m.Large != "l1" {
		t.Errorf("Models() = %+v, want {s1 l1}", m)
	}
}

func TestFirstKey(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"", ""},
		{"sk-a", "sk-a"},
		{"sk-a,sk-b", "sk-a"},
		{" , sk-b ", "sk-b"},
	}
	for _, tt := range tests {
		if got := firstKey(tt.raw); got != tt.want {
			t.Errorf("firstKey(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

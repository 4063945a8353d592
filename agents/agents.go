// Package agents implements the node agents bound into a workflow
// registry: planning, retrieval, sampling, synthesis, and the content
// transformation family. Each agent reads its inputs from the run
// context snapshot and publishes results through context updates.
package agents

import (
	"log/slog"
	"strings"

	"github.com/nevindra/loom"
	"github.com/nevindra/loom/imagegen"
)

// Deps carries the shared collaborators agents draw on.
type Deps struct {
	// Chat is the resolved chat provider.
	Chat loom.Provider
	// Models maps model classes to concrete model names.
	Models loom.Models
	// Retriever answers semantic search and auto-RAG queries. Optional;
	// without it search nodes fail recoverably.
	Retriever *loom.Retriever
	// Images generates pictures for image_generator nodes. Optional.
	Images imagegen.Generator
	// Corpus is the knowledge base searched when a node names none.
	Corpus string
	// Logger receives agent-level diagnostics.
	Logger *slog.Logger
}

// RegisterAll binds the full agent set to a registry.
func RegisterAll(reg *loom.Registry, d Deps) {
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}
	reg.Register(loom.NodeSupervisor, &supervisor{deps: d})
	reg.Register(loom.NodeOrchestrator, &orchestrator{deps: d})
	reg.Register(loom.NodeSemanticSearch, &search{deps: d})
	reg.Register(loom.NodeSampler, &sampler{deps: d})
	reg.Register(loom.NodeSynthesis, &synthesis{deps: d})
	reg.Register(loom.NodeTransformer, &transformer{deps: d})
	reg.Register(loom.NodeTranslator, &translator{deps: d})
	reg.Register(loom.NodeSummarization, &summarization{deps: d})
	reg.Register(loom.NodeFormatting, &formatting{deps: d})
	reg.Register(loom.NodeCode, &codeGen{deps: d})
	reg.Register(loom.NodeImageGenerator, &imageAgent{deps: d})
}

// --- settings access (JSON-decoded values, numbers arrive as float64) ---

func settingString(s map[string]any, key, def string) string {
	if v, ok := s[key].(string); ok && v != "" {
		return v
	}
	return def
}

func settingInt(s map[string]any, key string, def int) int {
	switch v := s[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func settingBool(s map[string]any, key string, def bool) bool {
	if v, ok := s[key].(bool); ok {
		return v
	}
	return def
}

// --- context access ---

func ctxString(c map[string]any, key string) string {
	s, _ := c[key].(string)
	return s
}

func ctxList(c map[string]any, key string) []any {
	return asList(c[key])
}

func ctxStrings(c map[string]any, key string) []string {
	items := ctxList(c, key)
	out := make([]string, 0, len(items))
	for _, v := range items {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func asList(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, m := range t {
			out[i] = m
		}
		return out
	default:
		return []any{v}
	}
}

// firstContent returns the first non-empty string among the context keys,
// along with the key it came from.
func firstContent(c map[string]any, keys ...string) (string, string) {
	for _, key := range keys {
		if s := strings.TrimSpace(ctxString(c, key)); s != "" {
			return s, key
		}
	}
	return "", ""
}

// stripFence removes a surrounding markdown code fence from LLM output.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if strings.HasPrefix(lines[0], "```") {
		lines = lines[1:]
	}
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// clip shortens s to at most n runes.
func clip(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

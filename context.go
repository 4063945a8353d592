package loom

import "sync"

// Well-known run context keys. Agents communicate exclusively through
// these; the engine owns initialization and merge.
const (
	KeyUserMessage         = "user_message"
	KeyUploadedContent     = "uploaded_content"
	KeyInputContent        = "input_content"
	KeySelectedTools       = "selected_tools"
	KeySupervisorPlan      = "supervisor_plan"
	KeySupervisorGuidance  = "supervisor_guidance"
	KeyOrchestratorResult  = "orchestrator_result"
	KeySemanticResults     = "semantic_results"
	KeyContextSnippets     = "context_snippets"
	KeyCandidates          = "candidates"
	KeyDocs                = "docs"
	KeyToolOutputs         = "tool_outputs"
	KeyFinalAnswer         = "final_answer"
	KeyTransformedContent  = "transformed_content"
	KeyTranslatedContent   = "translated_content"
	KeySummary             = "summary"
	KeyFormattedContent    = "formatted_content"
	KeyDownstreamNodes     = "downstream_nodes"
	KeyAvailableTools      = "available_tools"
)

// RunContext is the shared state threaded through one workflow run.
// The engine serializes node execution, but agents may spawn goroutines,
// so access is mutex-guarded anyway.
type RunContext struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewRunContext seeds a run context with the user message and the empty
// collections agents extend.
func NewRunContext(userMessage string) *RunContext {
	return &RunContext{
		values: map[string]any{
			KeyUserMessage:     userMessage,
			KeyContextSnippets: []any{},
			KeyCandidates:      []any{},
			KeySemanticResults: []any{},
			KeyDocs:            []any{},
			KeyToolOutputs: map[string]any{
				"images":       []any{},
				"calculations": []any{},
				"web_results":  []any{},
			},
			KeyOrchestratorResult: map[string]any{"tools_to_execute": []any{}},
			KeyFinalAnswer:        "",
		},
	}
}

// Get returns the value for key, or nil.
func (c *RunContext) Get(key string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.values[key]
}

// GetString returns the string value for key, or "" when absent or not a string.
func (c *RunContext) GetString(key string) string {
	s, _ := c.Get(key).(string)
	return s
}

// Set stores a value under key, replacing any existing value.
func (c *RunContext) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Snapshot returns a shallow copy of the context map for handing to agents.
func (c *RunContext) Snapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := make(map[string]any, len(c.values))
	for k, v := range c.values {
		snap[k] = v
	}
	return snap
}

// Merge applies an agent's context updates. Accumulating keys extend their
// existing collections; image, calculation, and web result updates land in
// tool_outputs; everything else overwrites.
func (c *RunContext) Merge(updates map[string]any) {
	if len(updates) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, value := range updates {
		switch key {
		case KeyContextSnippets, KeyDocs:
			c.values[key] = appendList(c.values[key], value)
		case "images", "calculations", "web_results":
			outputs, _ := c.values[KeyToolOutputs].(map[string]any)
			if outputs == nil {
				outputs = map[string]any{}
				c.values[KeyToolOutputs] = outputs
			}
			outputs[key] = appendList(outputs[key], value)
		default:
			c.values[key] = value
		}
	}
}

// appendList extends existing with the elements of value. Either side may
// be nil or a non-slice, in which case it is treated as a single element.
func appendList(existing, value any) []any {
	out := toList(existing)
	return append(out, toList(value)...)
}

func toList(v any) []any {
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

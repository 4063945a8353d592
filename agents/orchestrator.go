package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nevindra/loom"
)

const orchestratorPrompt = `You are a Tool Orchestrator Agent. You have access to semantic search results from the knowledge base.

Available tools (beyond semantic search): %s

Tool Selection Strategy: %s
Maximum Tools to Use: %d

IMPORTANT: Only use tools when they are ABSOLUTELY necessary. Default to using NO tools if semantic search already provides sufficient context.

Decision criteria:
- **web_search**: ONLY use if the question requires CURRENT/REAL-TIME information (e.g., "What's the weather today?", "Latest news about X"). Do NOT use for general knowledge questions.
- **image_generator**: ONLY use if the user explicitly asks for an image, diagram, or visual (e.g., "Show me a diagram", "Create an image").

If semantic search results are relevant and sufficient, set tools_to_execute to [] (empty array).

Output a JSON object with:
{
  "tools_to_execute": [],
  "image_prompt": "detailed prompt for image generation" (only if image_generator selected),
  "image_type": "diagram" | "photo" | "artistic" | "cartoon" | "illustration" (only if image_generator selected),
  "reasoning": "brief explanation of why tools were chosen or why none were needed"
}`

// orchestrator decides which tool nodes the run needs and publishes the
// selection for branch routing.
type orchestrator struct {
	deps Deps
}

type orchestratorDecision struct {
	ToolsToExecute []string `json:"tools_to_execute"`
	ImagePrompt    string   `json:"image_prompt"`
	ImageType      string   `json:"image_type"`
	Reasoning      string   `json:"reasoning"`
}

func (a *orchestrator) Execute(ctx context.Context, task loom.AgentTask) (loom.AgentResult, error) {
	settings := task.Settings
	strategy := settingString(settings, "toolSelectionStrategy", "balanced")
	maxTools := settingInt(settings, "maxTools", 3)

	contextText := "No relevant documents found in knowledge base."
	if results := ctxList(task.Context, loom.KeySemanticResults); len(results) > 0 {
		var lines []string
		for i, v := range results {
			if i == 3 {
				break
			}
			item, _ := v.(map[string]any)
			if item == nil {
				continue
			}
			title, _ := item["title"].(string)
			snippet, _ := item["snippet"].(string)
			lines = append(lines, fmt.Sprintf("[%d] %s: %s...", i+1, title, clip(snippet, 200)))
		}
		if len(lines) > 0 {
			contextText = strings.Join(lines, "\n")
		}
	}

	available := a.availableTools(task.Context)
	toolsList := "none"
	if len(available) > 0 {
		var names []string
		for _, t := range available {
			names = append(names, fmt.Sprintf("%s (node %s)", t.typ, t.id))
		}
		toolsList = strings.Join(names, ", ")
	}

	userPrompt := fmt.Sprintf(`User Question: %s

Semantic Search Results (from knowledge base):
%s

Analyze:
1. Does the semantic search provide sufficient information to answer the question?
2. Does the question require CURRENT/REAL-TIME information?
3. Does the user explicitly request an image or visual?

Decide which tools to execute (if any) and provide instructions.`, task.UserMessage, contextText)

	model := a.deps.Models.For(task.Model)
	resp, err := a.deps.Chat.Chat(ctx, loom.ChatRequest{
		Model: model,
		Messages: []loom.ChatMessage{
			{Role: "system", Content: fmt.Sprintf(orchestratorPrompt, toolsList, strategy, maxTools)},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0.3,
		MaxTokens:   300,
	})
	if err != nil {
		return loom.AgentResult{}, err
	}

	decision := parseDecision(resp.Content)
	if decision.ImagePrompt == "" {
		decision.ImagePrompt = task.UserMessage
	}
	if decision.ImageType == "" {
		decision.ImageType = "photo"
	}
	if len(decision.ToolsToExecute) > maxTools {
		decision.ToolsToExecute = decision.ToolsToExecute[:maxTools]
	}
	selected := resolveSelection(decision.ToolsToExecute, available)

	content := "Decided to use: no additional tools"
	if len(decision.ToolsToExecute) > 0 {
		content = "Decided to use: " + strings.Join(decision.ToolsToExecute, ", ")
	}

	return loom.AgentResult{
		Agent:   "orchestrator",
		Model:   model,
		Action:  "orchestrate",
		Content: content,
		Success: true,
		Metadata: map[string]any{
			"tools_to_execute":        decision.ToolsToExecute,
			"reasoning":               decision.Reasoning,
			"image_prompt":            decision.ImagePrompt,
			"image_type":              decision.ImageType,
			"tool_selection_strategy": strategy,
			"max_tools":               maxTools,
		},
		ContextUpdates: map[string]any{
			loom.KeySelectedTools: selected,
			loom.KeyOrchestratorResult: map[string]any{
				"tools_to_execute": asList(decision.ToolsToExecute),
				"image_prompt":     decision.ImagePrompt,
				"image_type":       decision.ImageType,
				"reasoning":        decision.Reasoning,
			},
		},
	}, nil
}

type availableTool struct {
	id  string
	typ string
}

func (a *orchestrator) availableTools(c map[string]any) []availableTool {
	var out []availableTool
	for _, v := range ctxList(c, loom.KeyAvailableTools) {
		m, _ := v.(map[string]any)
		if m == nil {
			continue
		}
		id, _ := m["id"].(string)
		typ, _ := m["type"].(string)
		if id != "" {
			out = append(out, availableTool{id: id, typ: typ})
		}
	}
	return out
}

// parseDecision extracts the JSON decision object. Any parse failure
// falls back to the conservative empty selection.
func parseDecision(content string) orchestratorDecision {
	content = stripFence(content)
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	var decision orchestratorDecision
	if start >= 0 && end > start {
		if err := json.Unmarshal([]byte(content[start:end+1]), &decision); err == nil {
			return decision
		}
	}
	return orchestratorDecision{
		Reasoning: "Failed to parse response, defaulting to no additional tools",
	}
}

// resolveSelection maps the model's tool names onto workflow node IDs.
// Names that match no known tool pass through untouched so the engine can
// still match them by type.
func resolveSelection(names []string, available []availableTool) []any {
	out := make([]any, 0, len(names))
	seen := map[string]bool{}
	for _, name := range names {
		resolved := name
		for _, t := range available {
			if name == t.id || name == t.typ {
				resolved = t.id
				break
			}
		}
		if !seen[resolved] {
			seen[resolved] = true
			out = append(out, resolved)
		}
	}
	return out
}

var _ loom.Agent = (*orchestrator)(nil)

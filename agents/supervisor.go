package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/nevindra/loom"
)

const supervisorPrompt = `You are a Supervisor Agent that analyzes queries and plans workflow execution.

WORKFLOW STRUCTURE (nodes in this workflow):
%s

Planning style: %s | Optimization: %s
%s
YOUR JOB - Analyze the query and provide guidance for downstream nodes:

1. UNDERSTAND THE QUERY: What is the user asking for?
2. IDENTIFY THE GOAL: Based on the workflow nodes, what's the end goal?
   - If IMAGE_GENERATOR is present -> User may want a visual/diagram
   - If SEMANTIC_SEARCH is present -> Need to find relevant information from knowledge base
   - If SYNTHESIS is present -> Need to generate a well-crafted text response
   - If TRANSFORMER + SPREADSHEET are present -> Extract data into structured format
3. PROVIDE GUIDANCE: Give specific instructions for the downstream agents

OUTPUT FORMAT:
QUERY ANALYSIS: [What the user wants]
WORKFLOW PATH: [Which nodes should be activated based on the query]
GUIDANCE: [Specific instructions for downstream agents]

Be concise and focused on guiding the workflow execution.`

const supervisorUploadRequest = `IMPORTANT: A document has been uploaded. You MUST:
1. Read the ENTIRE document content below
2. Identify what type of document this is
3. List ALL the key data points, entities, and structures you find
4. Provide SPECIFIC extraction instructions for the transformer

`

// supervisor analyzes the query against the workflow structure and plans
// downstream execution. With autoRAG enabled it retrieves knowledge base
// context before planning.
type supervisor struct {
	deps Deps
}

func (a *supervisor) Execute(ctx context.Context, task loom.AgentTask) (loom.AgentResult, error) {
	settings := task.Settings
	planningStyle := settingString(settings, "planningStyle", "optimized")
	optimization := settingString(settings, "optimizationLevel", "basic")
	customPrompt := settingString(settings, "supervisorPrompt", "")
	autoRAG := settingBool(settings, "autoRAG", false)

	updates := map[string]any{}
	ragContext := ""
	ragHits := 0
	if autoRAG && a.deps.Retriever != nil {
		corpus := settingString(settings, "knowledgeBase", a.deps.Corpus)
		hits, err := a.deps.Retriever.RetrieveWith(ctx, corpus, task.UserMessage, 5, true)
		if err != nil {
			a.deps.Logger.Warn("supervisor auto-RAG search failed", "error", err)
		} else if len(hits) > 0 {
			ragHits = len(hits)
			ragContext = a.buildRAGContext(hits, updates)
		}
	}

	downstream := ctxStrings(task.Context, loom.KeyDownstreamNodes)
	availableNodes := "- (no specific nodes detected)"
	if len(downstream) > 0 {
		availableNodes = "- " + strings.Join(downstream, "\n- ")
	}

	instructions := ""
	if customPrompt != "" {
		instructions = fmt.Sprintf("\nAdditional instructions from user:\n%s\n", customPrompt)
	}

	hasUploaded := ctxString(task.Context, loom.KeyUploadedContent) != ""
	class := task.Model
	maxTokens := 600
	if hasUploaded {
		// Document analysis benefits from the large model and room to
		// enumerate entities.
		class = loom.ModelLarge
		maxTokens = 1500
	}
	model := a.deps.Models.For(class)

	userMessage := task.UserMessage
	if hasUploaded {
		userMessage = supervisorUploadRequest + userMessage
	}
	if ragContext != "" {
		userMessage += ragContext
	}

	resp, err := a.deps.Chat.Chat(ctx, loom.ChatRequest{
		Model: model,
		Messages: []loom.ChatMessage{
			{Role: "system", Content: fmt.Sprintf(supervisorPrompt, availableNodes, planningStyle, optimization, instructions)},
			{Role: "user", Content: userMessage},
		},
		Temperature: 0.2,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return loom.AgentResult{}, err
	}

	plan := strings.TrimSpace(resp.Content)
	updates[loom.KeySupervisorPlan] = plan
	updates[loom.KeySupervisorGuidance] = plan

	return loom.AgentResult{
		Agent:   "supervisor",
		Model:   model,
		Action:  "analyze_and_plan",
		Content: plan,
		Success: true,
		Metadata: map[string]any{
			"planning_style":     planningStyle,
			"optimization_level": optimization,
			"analyzed_document":  hasUploaded,
			"auto_rag":           autoRAG,
			"auto_rag_results":   ragHits,
		},
		ContextUpdates: updates,
	}, nil
}

// buildRAGContext renders retrieved hits for the planning prompt and
// publishes them so downstream nodes see the same evidence a search node
// would have produced.
func (a *supervisor) buildRAGContext(hits []loom.Hit, updates map[string]any) string {
	blocks := make([]string, len(hits))
	snippets := make([]string, len(hits))
	results := make([]any, len(hits))
	for i, h := range hits {
		blocks[i] = fmt.Sprintf("[%s] (relevance: %.2f)\n%s", h.Title, h.Score, clip(h.Snippet, 1000))
		snippets[i] = fmt.Sprintf("[%s] %s", h.Title, clip(h.Snippet, 500))
		results[i] = map[string]any{
			"title":   h.Title,
			"snippet": h.Snippet,
			"score":   h.Score,
			"source":  h.Source,
		}
	}
	updates[loom.KeySemanticResults] = results
	updates[loom.KeyContextSnippets] = snippets
	updates["auto_rag_used"] = true
	return "\n\n---\nRELEVANT KNOWLEDGE BASE CONTEXT:\n" + strings.Join(blocks, "\n\n")
}

var _ loom.Agent = (*supervisor)(nil)

package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/nevindra/loom"
)

const synthesisPrompt = `Synthesize a clear, informative answer from the available context, candidates, and tool outputs.

%s

INSTRUCTIONS:
- Create a clear, well-structured answer that directly addresses the question
- Use information from the candidates and sources - focus on the most relevant information
- Maximum words: %d
- Include key facts, numbers, and details that directly answer the question
- Be concise but complete - avoid unnecessary elaboration
- Structure your answer with CLEAR, DISTINCT PARAGRAPHS
- IMPORTANT: Cite sources using [1], [2], [3] notation inline in your response
- Place source citations immediately after the relevant information
- If an image was generated, mention "See the image/diagram below"
- Focus on answering the question directly

%s

Your answer should clearly and directly address the user's question.`

const synthesisImagePrompt = `You are responding to an image generation request.

%s

Write a brief response (1-2 sentences) acknowledging the image was created.
Reference what was generated. Example: "I've created a diagram showing [description]. See it below."
Do NOT make up details not in the image prompt.`

// synthesis folds retrieved snippets, candidates, and tool outputs into
// the final answer.
type synthesis struct {
	deps Deps
}

func (a *synthesis) Execute(ctx context.Context, task loom.AgentTask) (loom.AgentResult, error) {
	maxWords := settingInt(task.Settings, "maxWords", 500)

	candidates := ctxStrings(task.Context, loom.KeyCandidates)
	snippets := ctxStrings(task.Context, loom.KeyContextSnippets)
	docs := ctxList(task.Context, loom.KeyDocs)
	outputs, _ := task.Context[loom.KeyToolOutputs].(map[string]any)

	images := asList(outputs["images"])
	calculations := asList(outputs["calculations"])
	webResults := asList(outputs["web_results"])
	hasImages := len(images) > 0

	var toolParts []string
	if hasImages {
		img, _ := images[0].(map[string]any)
		prompt, _ := img["prompt"].(string)
		toolParts = append(toolParts,
			fmt.Sprintf("IMAGE GENERATED: '%s' - The image will be displayed below your response.", prompt))
	}
	for _, v := range calculations {
		calc, _ := v.(map[string]any)
		if calc == nil {
			continue
		}
		if ok, _ := calc["success"].(bool); ok {
			toolParts = append(toolParts, fmt.Sprintf("CALCULATION: %v = %v", calc["expression"], calc["result"]))
		} else {
			toolParts = append(toolParts, fmt.Sprintf("CALCULATION ERROR: %v", calc["error"]))
		}
	}
	if len(webResults) > 0 {
		toolParts = append(toolParts, fmt.Sprintf("WEB SEARCH: Found %d results", len(webResults)))
	}
	toolContext := strings.Join(toolParts, "\n")

	var systemPrompt string
	if hasImages && len(docs) == 0 && len(webResults) == 0 {
		systemPrompt = fmt.Sprintf(synthesisImagePrompt, toolContext)
	} else {
		sourceList := ""
		if len(docs) > 0 {
			var b strings.Builder
			b.WriteString("\n\nAvailable Sources (use [1], [2], etc. to cite):\n")
			for i, v := range docs {
				doc, _ := v.(map[string]any)
				title := "Unknown"
				if doc != nil {
					if t, _ := doc["title"].(string); t != "" {
						title = t
					}
				}
				fmt.Fprintf(&b, "[%d] %s\n", i+1, title)
			}
			sourceList = b.String()
		}
		systemPrompt = fmt.Sprintf(synthesisPrompt, toolContext, maxWords, sourceList)
	}

	snippetText := "No document context"
	if len(snippets) > 0 {
		var b strings.Builder
		for i, s := range snippets {
			if i > 0 {
				b.WriteString("\n\n")
			}
			fmt.Fprintf(&b, "[Source %d]\n%s", i+1, s)
		}
		snippetText = b.String()
	}
	candidateText := "No candidates"
	if len(candidates) > 0 {
		var b strings.Builder
		for i, c := range candidates {
			if i > 0 {
				b.WriteString("\n\n")
			}
			fmt.Fprintf(&b, "Candidate %d: %s", i+1, c)
		}
		candidateText = b.String()
	}

	userPrompt := fmt.Sprintf(`Question: %s

Retrieved Documents and Context:
%s

Candidate Answers (synthesize the best parts):
%s

Create a clear, concise answer that combines the best insights from the sources.`, task.UserMessage, snippetText, candidateText)

	model := a.deps.Models.For(task.Model)
	resp, err := a.deps.Chat.Chat(ctx, loom.ChatRequest{
		Model: model,
		Messages: []loom.ChatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0.3,
		MaxTokens:   max(800, maxWords*2),
	})
	if err != nil {
		return loom.AgentResult{}, err
	}

	answer := strings.TrimSpace(resp.Content)
	return loom.AgentResult{
		Agent:   "synthesis",
		Model:   model,
		Action:  "synthesize",
		Content: answer,
		Success: true,
		Metadata: map[string]any{
			"max_words":      maxWords,
			"has_images":     hasImages,
			"has_docs":       len(docs) > 0,
			"num_candidates": len(candidates),
		},
		ContextUpdates: map[string]any{
			loom.KeyFinalAnswer: answer,
		},
	}, nil
}

var _ loom.Agent = (*synthesis)(nil)

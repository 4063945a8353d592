package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/nevindra/loom"
)

const summarizationPrompt = `You are a Summarization Agent. Your task is to create a concise summary of the provided content.

REQUIREMENTS:
- Maximum words: %d
- Preserve the most important information
- Extract key points and main ideas
- Maintain accuracy - don't add information not in the original
- Use clear, concise language
- Structure the summary logically

Create a focused summary that captures the essence of the content.`

// summarization condenses upstream content to a word budget.
type summarization struct {
	deps Deps
}

func (a *summarization) Execute(ctx context.Context, task loom.AgentTask) (loom.AgentResult, error) {
	maxWords := settingInt(task.Settings, "maxWords", 100)

	content, _ := firstContent(task.Context, loom.KeyInputContent, loom.KeyFinalAnswer)
	if content == "" {
		if snippets := ctxStrings(task.Context, loom.KeyContextSnippets); len(snippets) > 0 {
			content = strings.Join(snippets, "\n\n")
		}
	}
	if content == "" {
		return loom.AgentResult{}, loom.Recoverablef("no input content to summarize")
	}

	userPrompt := fmt.Sprintf(`Original Query: %s

Content to Summarize:
%s

Create a summary in approximately %d words or less.`, task.UserMessage, content, maxWords)

	model := a.deps.Models.For(task.Model)
	resp, err := a.deps.Chat.Chat(ctx, loom.ChatRequest{
		Model: model,
		Messages: []loom.ChatMessage{
			{Role: "system", Content: fmt.Sprintf(summarizationPrompt, maxWords)},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0.3,
		MaxTokens:   max(200, maxWords*2),
	})
	if err != nil {
		return loom.AgentResult{}, err
	}

	summary := strings.TrimSpace(resp.Content)
	return loom.AgentResult{
		Agent:   "summarization",
		Model:   model,
		Action:  "summarize",
		Content: summary,
		Success: true,
		Metadata: map[string]any{
			"max_words":       maxWords,
			"original_words":  len(strings.Fields(content)),
			"summary_words":   len(strings.Fields(summary)),
		},
		ContextUpdates: map[string]any{
			loom.KeySummary:      summary,
			loom.KeyInputContent: summary,
		},
	}, nil
}

var _ loom.Agent = (*summarization)(nil)

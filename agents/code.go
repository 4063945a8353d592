package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/nevindra/loom"
)

const codePrompt = `You are an expert software engineer. Write complete, working %s code that solves the user's request.

REQUIREMENTS:
- The code must be complete and runnable as-is
- Include necessary imports and setup
- Handle edge cases and errors sensibly
- Prefer the standard library over third-party packages
- Add brief comments only where the logic is not obvious

Output ONLY the code. No explanations before or after.`

// codeGen writes a program for the user's request. It generates source
// only; nothing is executed.
type codeGen struct {
	deps Deps
}

func (a *codeGen) Execute(ctx context.Context, task loom.AgentTask) (loom.AgentResult, error) {
	lang := strings.ToLower(settingString(task.Settings, "language", "python"))

	content, _ := firstContent(task.Context, loom.KeyInputContent, loom.KeyFinalAnswer)
	userPrompt := task.UserMessage
	if content != "" {
		userPrompt = fmt.Sprintf("%s\n\nWork with this input data:\n%s", task.UserMessage, content)
	}
	if g := ctxString(task.Context, loom.KeySupervisorGuidance); g != "" {
		userPrompt += "\n\nAdditional guidance:\n" + g
	}

	model := a.deps.Models.For(task.Model)
	resp, err := a.deps.Chat.Chat(ctx, loom.ChatRequest{
		Model: model,
		Messages: []loom.ChatMessage{
			{Role: "system", Content: fmt.Sprintf(codePrompt, lang)},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0.2,
		MaxTokens:   4096,
	})
	if err != nil {
		return loom.AgentResult{}, err
	}

	code := stripFence(resp.Content)
	return loom.AgentResult{
		Agent:   "code",
		Model:   model,
		Action:  "generate_code",
		Content: code,
		Success: true,
		Metadata: map[string]any{
			"language":       lang,
			"content_length": len(code),
		},
		ContextUpdates: map[string]any{
			"code_content":       code,
			"code_language":      lang,
			loom.KeyInputContent: code,
			loom.KeyFinalAnswer:  code,
		},
	}, nil
}

var _ loom.Agent = (*codeGen)(nil)

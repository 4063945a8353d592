package agents

import (
	"context"
	"fmt"

	"github.com/nevindra/loom"
	"github.com/nevindra/loom/imagegen"
)

// imageAgent turns the orchestrator's image instructions (or the raw user
// message) into a generated picture. Generation failures degrade to a
// placeholder so the run still finishes with an answer.
type imageAgent struct {
	deps Deps
}

func (a *imageAgent) Execute(ctx context.Context, task loom.AgentTask) (loom.AgentResult, error) {
	style := settingString(task.Settings, "imageType", "photo")
	prompt := task.UserMessage
	if result, _ := task.Context[loom.KeyOrchestratorResult].(map[string]any); result != nil {
		if p, _ := result["image_prompt"].(string); p != "" {
			prompt = p
		}
		if s, _ := result["image_type"].(string); s != "" {
			style = s
		}
	}

	if a.deps.Images == nil {
		return loom.AgentResult{}, loom.Recoverablef("no image provider configured")
	}

	generated, err := a.deps.Images.Generate(ctx, prompt, style)
	if err != nil {
		if ctx.Err() != nil {
			return loom.AgentResult{}, err
		}
		a.deps.Logger.Warn("image generation failed", "error", err)
		return a.result(prompt, style, imagegen.Result{
			URL:      imagegen.PlaceholderURL("Generation Failed"),
			Provider: a.deps.Images.Name(),
		}, err), nil
	}
	return a.result(prompt, style, generated, nil), nil
}

func (a *imageAgent) result(prompt, style string, img imagegen.Result, genErr error) loom.AgentResult {
	revised := img.RevisedPrompt
	if revised == "" {
		revised = prompt
	}
	content := "Generated image: " + revised
	ok := genErr == nil
	if !ok {
		content = fmt.Sprintf("Image generation failed: %v", genErr)
	}

	meta := map[string]any{
		"prompt":     prompt,
		"style":      style,
		"url":        img.URL,
		"generated":  ok,
		"dimensions": img.Dimensions,
	}
	if genErr != nil {
		meta["error"] = genErr.Error()
	}

	return loom.AgentResult{
		Agent:    "image_generator",
		Model:    img.Provider,
		Action:   "generate",
		Content:  content,
		Success:  true,
		Metadata: meta,
		ContextUpdates: map[string]any{
			"images": []any{map[string]any{
				"prompt":     prompt,
				"url":        img.URL,
				"style":      style,
				"dimensions": img.Dimensions,
				"success":    ok,
			}},
			loom.KeyContextSnippets: []any{"[IMAGE] Generated: " + revised},
		},
	}
}

var _ loom.Agent = (*imageAgent)(nil)

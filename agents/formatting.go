package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/nevindra/loom"
)

const formattingPrompt = `You are an Expert Code Generator and Formatter. You create production-quality, visually polished outputs.

Based on the request, generate the appropriate format:

PRESENTATION/SLIDES:
- Generate complete HTML with embedded CSS
- Include slide navigation, transitions, animations
- Self-contained (no external dependencies)

REACT/TYPESCRIPT COMPONENT:
- Generate a complete TSX component with proper TypeScript types
- Include Tailwind CSS classes or inline styles
- Export as default component

HTML DOCUMENT:
- Complete HTML5 document with embedded CSS in <style> tags
- Modern, responsive design with clean semantic markup

DATA FORMATS (JSON/XML/CSV/YAML):
- Properly structured data with valid syntax

QUALITY REQUIREMENTS:
1. Complete & Runnable: code must work without modifications
2. Self-Contained: no external dependencies (inline CSS, no CDN links)
3. Responsive: works on different screen sizes
4. Clean Code: well-structured, commented where needed

Output ONLY the code. No explanations before or after.`

// formatHints steer generation per output format.
var formatHints = map[string]string{
	"html":         "Generate complete, styled HTML5 document",
	"presentation": "Generate interactive HTML presentation with slides, navigation, and animations",
	"tsx":          "Generate complete React TypeScript component with Tailwind CSS",
	"react":        "Generate complete React component with inline styles",
	"json":         "Generate valid JSON with proper structure",
	"xml":          "Generate valid XML with proper tags and nesting",
	"markdown":     "Generate formatted Markdown with headers, lists, code blocks",
	"csv":          "Generate CSV with headers in first row",
	"yaml":         "Generate valid YAML with proper indentation",
}

// codeLanguages maps output formats to syntax highlighting languages.
var codeLanguages = map[string]string{
	"html":         "html",
	"presentation": "html",
	"tsx":          "typescript",
	"react":        "typescript",
	"json":         "json",
	"xml":          "xml",
	"markdown":     "markdown",
	"csv":          "csv",
	"yaml":         "yaml",
}

// formatting generates styled documents, components, and data formats
// from upstream content.
type formatting struct {
	deps Deps
}

func (a *formatting) Execute(ctx context.Context, task loom.AgentTask) (loom.AgentResult, error) {
	outputFormat := strings.ToLower(settingString(task.Settings, "outputFormat", "html"))

	lower := strings.ToLower(task.UserMessage)
	for _, word := range []string{"presentation", "slides", "slideshow", "ppt", "powerpoint"} {
		if strings.Contains(lower, word) {
			outputFormat = "presentation"
			break
		}
	}

	content, _ := firstContent(task.Context, loom.KeyInputContent, loom.KeyFinalAnswer)
	if content == "" {
		if snippets := ctxStrings(task.Context, loom.KeyContextSnippets); len(snippets) > 0 {
			content = strings.Join(snippets, "\n\n")
		}
	}
	if content == "" {
		content = task.UserMessage
	}

	hint, ok := formatHints[outputFormat]
	if !ok {
		hint = formatHints["html"]
	}
	guidance := ""
	if g := ctxString(task.Context, loom.KeySupervisorGuidance); g != "" {
		guidance = "Additional guidance: " + g + "\n\n"
	}

	upper := strings.ToUpper(outputFormat)
	userPrompt := fmt.Sprintf(`Create a %s output for the following:

CONTENT/TOPIC:
%s

USER REQUEST:
%s

FORMAT REQUIREMENTS:
%s

%sGenerate the complete %s now. Output ONLY the code, no explanations.`,
		upper, content, task.UserMessage, hint, guidance, upper)

	model := a.deps.Models.For(task.Model)
	resp, err := a.deps.Chat.Chat(ctx, loom.ChatRequest{
		Model: model,
		Messages: []loom.ChatMessage{
			{Role: "system", Content: formattingPrompt},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0.3,
		MaxTokens:   4096,
	})
	if err != nil {
		return loom.AgentResult{}, err
	}

	result := stripFence(resp.Content)
	codeLanguage := codeLanguages[outputFormat]
	if codeLanguage == "" {
		codeLanguage = "text"
	}

	return loom.AgentResult{
		Agent:   "formatting",
		Model:   model,
		Action:  "format",
		Content: result,
		Success: true,
		Metadata: map[string]any{
			"output_format":  outputFormat,
			"code_language":  codeLanguage,
			"content_length": len(result),
		},
		ContextUpdates: map[string]any{
			loom.KeyFormattedContent: result,
			"code_content":           result,
			"code_language":          codeLanguage,
			"output_format":          outputFormat,
			loom.KeyInputContent:     result,
			loom.KeyFinalAnswer:      result,
		},
	}, nil
}

var _ loom.Agent = (*formatting)(nil)

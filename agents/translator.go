package agents

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/nevindra/loom"
)

const translatorPrompt = `You are a professional translator. Your ONLY job is to translate text while keeping the EXACT same format.

TASK: Translate from %s to %s.

CRITICAL RULES - YOU MUST FOLLOW:
1. KEEP THE EXACT SAME FORMAT - if input is CSV, output must be CSV. If JSON, output JSON. If markdown table, output markdown table.
2. ONLY translate the actual text/words - never change structure, delimiters, or formatting
3. Keep column headers, row structure, JSON keys, markdown syntax EXACTLY as they are (but translate the text values)
4. Numbers, dates, codes, IDs must stay UNCHANGED
5. DO NOT add any explanations, notes, or commentary
6. DO NOT wrap output in code blocks or add formatting that wasn't there

FORMAT-SPECIFIC RULES:
- CSV: Keep commas, quotes, newlines exactly. Only translate text inside cells.
- JSON: Keep all JSON syntax. Only translate string values (not keys).
- Markdown tables: Keep | and - characters. Only translate cell content.
- Plain text: Translate all text, keep paragraph breaks.
- Lists: Keep bullet points/numbers, translate the text.

OUTPUT: Return ONLY the translated content in the EXACT same format as input.
If source and target language are the same, return the input unchanged.`

// translator converts upstream content between languages while preserving
// its structure.
type translator struct {
	deps Deps
}

func (a *translator) Execute(ctx context.Context, task loom.AgentTask) (loom.AgentResult, error) {
	settings := task.Settings
	sourceLang := settingString(settings, "sourceLanguage", "auto")
	targetLang := settingString(settings, "targetLanguage", "en")

	content, source := firstContent(task.Context,
		loom.KeyTransformedContent,
		loom.KeyFinalAnswer,
		loom.KeyInputContent,
		loom.KeyUploadedContent,
	)
	if content == "" {
		if snippets := ctxStrings(task.Context, loom.KeyContextSnippets); len(snippets) > 0 {
			content, source = strings.Join(snippets, "\n\n"), loom.KeyContextSnippets
		}
	}
	if content == "" {
		content, source = task.UserMessage, loom.KeyUserMessage
	}
	if content == "" {
		return loom.AgentResult{}, loom.Recoverablef("no input content to translate")
	}

	sourceName := languageName(sourceLang)
	targetName := languageName(targetLang)

	const maxChars = 50000
	if len(content) > maxChars {
		content = clip(content, maxChars) + "\n\n[Text truncated...]"
	}

	format := detectFormat(content)
	formatHint := ""
	switch format {
	case "CSV":
		formatHint = "\n\nIMPORTANT: This is CSV data. Keep all commas, quotes, and row structure. Only translate the text content inside cells."
	case "JSON":
		formatHint = "\n\nIMPORTANT: This is JSON data. Keep all JSON syntax intact. Only translate string values, not keys."
	case "markdown table":
		formatHint = "\n\nIMPORTANT: This is a markdown table. Keep all | and - characters. Only translate the text in cells."
	}

	userPrompt := fmt.Sprintf(`Translate the following from %s to %s.
Keep the EXACT same format - only translate the words/text.%s

%s

Output the translated version in the exact same format:`, sourceName, targetName, formatHint, content)

	model := a.deps.Models.For(task.Model)
	resp, err := a.deps.Chat.Chat(ctx, loom.ChatRequest{
		Model: model,
		Messages: []loom.ChatMessage{
			{Role: "system", Content: fmt.Sprintf(translatorPrompt, sourceName, targetName)},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0.3,
		MaxTokens:   8000,
	})
	if err != nil {
		return loom.AgentResult{}, err
	}

	translated := strings.TrimSpace(resp.Content)
	return loom.AgentResult{
		Agent:   "translator",
		Model:   model,
		Action:  "translate",
		Content: translated,
		Success: true,
		Metadata: map[string]any{
			"source_language":   sourceLang,
			"target_language":   targetLang,
			"source_name":       sourceName,
			"target_name":       targetName,
			"detected_format":   format,
			"content_source":    source,
			"original_length":   len(content),
			"translated_length": len(translated),
		},
		ContextUpdates: map[string]any{
			loom.KeyTranslatedContent: translated,
			loom.KeyInputContent:      translated,
			loom.KeyFinalAnswer:       translated,
		},
	}, nil
}

// languageName resolves a BCP 47 code to its English display name for the
// prompt. Unparseable codes pass through so the model can still try.
func languageName(code string) string {
	if code == "" || code == "auto" {
		return "Auto-detect"
	}
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Languages().Name(tag); name != "" {
		return name
	}
	return code
}

// detectFormat guesses the structural format of content so the prompt can
// pin it down.
func detectFormat(content string) string {
	trimmed := strings.TrimSpace(content)
	firstLine, _, _ := strings.Cut(trimmed, "\n")
	switch {
	case strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "["):
		return "JSON"
	case strings.Contains(firstLine, ",") && (strings.Count(firstLine, ",") >= 2 || strings.Contains(firstLine, `"`)):
		return "CSV"
	case strings.Contains(firstLine, "|") && strings.Contains(clip(trimmed, 200), "-"):
		return "markdown table"
	}
	return "text"
}

var _ loom.Agent = (*translator)(nil)

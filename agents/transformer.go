package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/nevindra/loom"
)

const transformerPrompt = `You are an expert Data Analyst and Transformer Agent. Your task is to deeply analyze ANY type of document and extract ALL meaningful structured data into %s format.

STEP 1 - DOCUMENT TYPE DETECTION:
First, identify what type of document this is:
- Invoice/Receipt: Extract line items, amounts, dates, vendor info, totals
- Contract/Agreement: Extract parties, terms, dates, obligations, clauses
- Resume/CV: Extract contact info, experience entries, education, skills
- Report/Analysis: Extract findings, metrics, recommendations, summaries
- Form/Application: Extract all field-value pairs
- Meeting Notes: Extract attendees, decisions, action items, dates
- Financial Statement: Extract accounts, balances, periods, transactions
- List/Catalog: Extract all items with their attributes
- ANY OTHER: Intelligently determine the best structure

STEP 2 - INTELLIGENT EXTRACTION:
1. Thoroughly read and understand the ENTIRE document
2. Identify the document's purpose and structure
3. Find ALL entities: people, organizations, dates, numbers, amounts, locations
4. Extract ALL structured data: tables, lists, key-value pairs, metadata
5. Capture relationships between entities
6. Include context that gives meaning to the data

%s

EXTRACTION REQUIREMENTS (%s depth):
%s

CSV OUTPUT REQUIREMENTS:
- First row MUST be descriptive column headers
- Each row represents one record/item/entry
- Use proper CSV escaping (quotes around text with commas)
- EXTRACT EVERY PIECE OF MEANINGFUL DATA
- If document has tables: each table row becomes a CSV row
- If document has lists: each list item becomes a row
- Include IDs, names, descriptions, quantities, amounts, dates, statuses
- Preserve hierarchical relationships (use Category/Section columns)
%s
OUTPUT FORMAT: %s
Output ONLY the structured data. No explanations, no markdown code blocks.`

const depthBasic = `- Extract main entities and primary data points
- Focus on clearly visible/stated information
- Create 5-10 columns of essential data
- One row per main item/entry`

const depthDetailed = `- Extract main and secondary entities
- Include context, relationships, and metadata
- Create 10-20 columns covering all major aspects
- Capture dates, amounts, names, descriptions
- Extract data from tables and lists
- Include category/section information`

const depthComprehensive = `- Extract ABSOLUTELY EVERYTHING from the document
- Create as many columns as needed (20+ when data supports)
- EVERY table becomes rows with all columns preserved
- EVERY list item becomes a row with full details
- EVERY form field is captured
- Include: IDs, names, descriptions, categories, types, dates, amounts, quantities, units, statuses, notes, references
- Capture relationships (parent-child, belongs-to, related-to)
- Preserve hierarchy using Category/Section/Subsection columns
- Nothing should be omitted - if it's in the document, extract it`

// transformer performs deep document analysis and converts the input into
// structured data, typically CSV for a downstream spreadsheet node.
type transformer struct {
	deps Deps
}

func (a *transformer) Execute(ctx context.Context, task loom.AgentTask) (loom.AgentResult, error) {
	settings := task.Settings
	fromFormat := settingString(settings, "fromFormat", "text")
	toFormat := settingString(settings, "toFormat", "csv")
	useAdvanced := settingBool(settings, "useAdvancedModel", true)
	customColumns := settingString(settings, "customColumns", "")
	depth := settingString(settings, "extractionDepth", "comprehensive")

	content, source := firstContent(task.Context,
		loom.KeyInputContent,
		loom.KeyUploadedContent,
		loom.KeyFinalAnswer,
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
		return loom.AgentResult{}, loom.Recoverablef("no input content to transform")
	}

	class := task.Model
	if !useAdvanced {
		class = loom.ModelSmall
	}
	model := a.deps.Models.For(class)

	columnsInstruction := `
COLUMNS: Determine the optimal column structure based on the document content.
Include all relevant data dimensions. Aim for comprehensive coverage.`
	if cols := strings.TrimSpace(customColumns); cols != "" {
		var names []string
		for _, c := range strings.Split(cols, ",") {
			if c = strings.TrimSpace(c); c != "" {
				names = append(names, c)
			}
		}
		columnsInstruction = fmt.Sprintf(`
REQUIRED COLUMNS (user specified):
The output MUST include these columns: %s
You may add additional relevant columns, but these must be present.`, strings.Join(names, ", "))
	}

	depthInstructions := depthComprehensive
	switch depth {
	case "basic":
		depthInstructions = depthBasic
	case "detailed":
		depthInstructions = depthDetailed
	}

	guidance := ""
	if g := ctxString(task.Context, loom.KeySupervisorGuidance); g != "" {
		guidance = fmt.Sprintf("\nADDITIONAL GUIDANCE:\n%s\n", g)
	}

	maxContent := 10000
	if useAdvanced {
		maxContent = 25000
	}
	if len(content) > maxContent {
		content = clip(content, maxContent) + "\n\n[Document truncated for processing...]"
	}

	format := strings.ToUpper(toFormat)
	userPrompt := fmt.Sprintf(`Analyze this %s document and extract ALL structured data into %s format:

=== DOCUMENT START ===
%s
=== DOCUMENT END ===

Perform deep analysis and create a comprehensive %s output with all extractable data.`,
		strings.ToUpper(fromFormat), format, content, format)

	maxTokens := 2000
	if depth == "comprehensive" {
		maxTokens = 4000
	}

	resp, err := a.deps.Chat.Chat(ctx, loom.ChatRequest{
		Model: model,
		Messages: []loom.ChatMessage{
			{Role: "system", Content: fmt.Sprintf(transformerPrompt,
				format, columnsInstruction, depth, depthInstructions, guidance, format)},
			{Role: "user", Content: userPrompt},
		},
		Temperature: 0.1,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return loom.AgentResult{}, err
	}

	transformed := stripFence(resp.Content)
	return loom.AgentResult{
		Agent:   "transformer",
		Model:   model,
		Action:  "transform",
		Content: transformed,
		Success: true,
		Metadata: map[string]any{
			"from_format":        fromFormat,
			"to_format":          toFormat,
			"extraction_depth":   depth,
			"content_source":     source,
			"original_length":    len(content),
			"transformed_length": len(transformed),
		},
		ContextUpdates: map[string]any{
			loom.KeyTransformedContent: transformed,
			loom.KeyInputContent:       transformed,
			loom.KeyFinalAnswer:        transformed,
		},
	}, nil
}

var _ loom.Agent = (*transformer)(nil)

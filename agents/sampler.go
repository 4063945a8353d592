package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/nevindra/loom"
)

const samplerPrompt = `Generate %d DIFFERENT candidate answers that explore different aspects and details of the prompt.

Each candidate should:
- Give me the %d most probable answers to the prompt.
- Be comprehensive and detailed (4-6 sentences minimum)
- Include specific facts, numbers, and details from the context
- Cover different relevant information from the provided documents
- Be well-structured and informative

Number each candidate as [1], [2], [3], etc.
Ground ALL information in the provided context.
Each candidate should be substantial enough to stand alone as a helpful answer.`

// sampler generates diverse candidate answers over the retrieved context.
type sampler struct {
	deps Deps
}

func (a *sampler) Execute(ctx context.Context, task loom.AgentTask) (loom.AgentResult, error) {
	wanted := settingInt(task.Settings, "numResponses", 5)

	snippets := ctxStrings(task.Context, loom.KeyContextSnippets)

	// Without document context, diversity just multiplies guesswork.
	hasRealContext := false
	for _, s := range snippets {
		if !strings.HasPrefix(s, "[IMAGE]") {
			hasRealContext = true
			break
		}
	}
	count := wanted
	if !hasRealContext {
		count = 2
	}

	snippetText := "No context available"
	if len(snippets) > 0 {
		snippetText = strings.Join(snippets, "\n- ")
	}

	model := a.deps.Models.For(task.Model)
	resp, err := a.deps.Chat.Chat(ctx, loom.ChatRequest{
		Model: model,
		Messages: []loom.ChatMessage{
			{Role: "system", Content: fmt.Sprintf(samplerPrompt, count, count)},
			{Role: "user", Content: fmt.Sprintf("Question: %s\n\nContext:\n- %s", task.UserMessage, snippetText)},
		},
		Temperature: 0.7,
		MaxTokens:   1200,
	})
	if err != nil {
		return loom.AgentResult{}, err
	}

	candidates := parseCandidates(resp.Content, count)
	previews := make([]string, len(candidates))
	for i, c := range candidates {
		previews[i] = c
		if len(c) > 100 {
			previews[i] = clip(c, 100) + "..."
		}
	}

	return loom.AgentResult{
		Agent:   "sampler",
		Model:   model,
		Action:  "sample",
		Content: fmt.Sprintf("Generated %d candidates", len(candidates)),
		Success: true,
		Metadata: map[string]any{
			"num_candidates":     len(candidates),
			"candidates":         candidates,
			"candidates_preview": previews,
		},
		ContextUpdates: map[string]any{
			loom.KeyCandidates: candidates,
		},
	}, nil
}

// parseCandidates splits a numbered list reply into individual candidates.
// Markers [1], 1., and 1) are all accepted. A reply with no recognizable
// markers becomes a single candidate.
func parseCandidates(raw string, expected int) []string {
	var candidates []string
	var current []string

	flush := func() {
		if len(current) > 0 {
			if joined := strings.TrimSpace(strings.Join(current, " ")); joined != "" {
				candidates = append(candidates, joined)
			}
			current = nil
		}
	}

	for _, line := range strings.Split(strings.TrimSpace(raw), "\n") {
		line = strings.TrimSpace(line)
		if rest, ok := splitCandidateMarker(line, expected); ok {
			flush()
			current = []string{rest}
			continue
		}
		if len(current) > 0 {
			current = append(current, line)
		}
	}
	flush()

	if len(candidates) == 0 {
		return []string{strings.TrimSpace(raw)}
	}
	if len(candidates) > expected {
		candidates = candidates[:expected]
	}
	return candidates
}

// splitCandidateMarker strips a leading [n], n., or n) marker.
func splitCandidateMarker(line string, expected int) (string, bool) {
	for i := 1; i <= expected+1; i++ {
		for _, marker := range []string{
			fmt.Sprintf("[%d]", i),
			fmt.Sprintf("%d.", i),
			fmt.Sprintf("%d)", i),
		} {
			if strings.HasPrefix(line, marker) {
				return strings.TrimSpace(line[len(marker):]), true
			}
		}
	}
	return "", false
}

var _ loom.Agent = (*sampler)(nil)

package agents

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/nevindra/loom"
	"github.com/nevindra/loom/imagegen"
)

type stubImages struct {
	result imagegen.Result
	err    error
	prompt string
	style  string
}

func (s *stubImages) Generate(_ context.Context, prompt, style string) (imagegen.Result, error) {
	s.prompt, s.style = prompt, style
	return s.result, s.err
}

func (s *stubImages) Name() string { return "stub" }

func TestImageAgentUsesOrchestratorPrompt(t *testing.T) {
	images := &stubImages{result: imagegen.Result{
		URL: "http://x/1.png", RevisedPrompt: "a labeled flowchart", Provider: "dalle",
	}}
	a := &imageAgent{deps: Deps{Images: images, Logger: discard()}}

	result, err := a.Execute(context.Background(), testTask("draw something", map[string]any{
		loom.KeyOrchestratorResult: map[string]any{
			"image_prompt": "a flowchart of the pipeline",
			"image_type":   "diagram",
		},
	}, nil, loom.ModelSmall))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if images.prompt != "a flowchart of the pipeline" || images.style != "diagram" {
		t.Errorf("Generate(%q, %q), want orchestrator prompt and style", images.prompt, images.style)
	}
	if result.Model != "dalle" {
		t.Errorf("Model = %q, want dalle", result.Model)
	}

	imgs, _ := result.ContextUpdates["images"].([]any)
	if len(imgs) != 1 {
		t.Fatalf("images = %v, want one entry", imgs)
	}
	entry := imgs[0].(map[string]any)
	if entry["url"] != "http://x/1.png" || entry["success"] != true {
		t.Errorf("image entry = %v", entry)
	}
	snippets, _ := result.ContextUpdates[loom.KeyContextSnippets].([]any)
	if len(snippets) != 1 || !strings.HasPrefix(snippets[0].(string), "[IMAGE]") {
		t.Errorf("context_snippets = %v", snippets)
	}
}

func TestImageAgentDegradesToPlaceholder(t *testing.T) {
	images := &stubImages{err: errors.New("provider down")}
	a := &imageAgent{deps: Deps{Images: images, Logger: discard()}}

	result, err := a.Execute(context.Background(), testTask("draw a cat", nil, nil, loom.ModelSmall))
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !strings.Contains(result.Content, "Image generation failed") {
		t.Errorf("Content = %q", result.Content)
	}
	imgs, _ := result.ContextUpdates["images"].([]any)
	entry := imgs[0].(map[string]any)
	url, _ := entry["url"].(string)
	if !strings.Contains(url, "placehold.co") {
		t.Errorf("url = %q, want placeholder", url)
	}
	if entry["success"] != false {
		t.Errorf("success = %v, want false", entry["success"])
	}
}

func TestImageAgentWithoutProviderIsRecoverable(t *testing.T) {
	a := &imageAgent{deps: Deps{Logger: discard()}}
	_, err := a.Execute(context.Background(), testTask("draw", nil, nil, loom.ModelSmall))
	if err == nil || !loom.IsRecoverable(err) {
		t.Fatalf("Execute() error = %v, want recoverable", err)
	}
}

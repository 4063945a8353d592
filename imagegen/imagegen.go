// Package imagegen turns text prompts into images through DALL-E or
// Gemini. Failures degrade to placeholder URLs so a workflow run can
// finish without a picture instead of aborting.
package imagegen

import (
	"context"
	"net/url"
)

// Result is one generated image.
type Result struct {
	URL           string `json:"url"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
	Dimensions    string `json:"dimensions"`
	Provider      string `json:"provider"`
}

// Generator produces an image for a prompt in a named style.
type Generator interface {
	Generate(ctx context.Context, prompt, style string) (Result, error)
	Name() string
}

// styleSuffixes are appended to prompts to steer the visual style.
var styleSuffixes = map[string]string{
	"diagram":      "clean technical diagram, flowchart style, labeled components, white background, professional",
	"photo":        "photorealistic, highly detailed, professional photography",
	"artistic":     "digital art, artistic style, vibrant colors",
	"cartoon":      "cartoon illustration style, colorful, friendly",
	"illustration": "professional illustration, detailed, clean lines",
}

// enhance appends the style suffix to a prompt. Unknown styles get the
// photo treatment.
func enhance(prompt, style string) string {
	suffix, ok := styleSuffixes[style]
	if !ok {
		suffix = styleSuffixes["photo"]
	}
	return prompt + ". Style: " + suffix
}

// PlaceholderURL is the image shown when generation fails.
func PlaceholderURL(label string) string {
	return "https://placehold.co/512x512/1a1a2e/ff6b6b?text=" + url.QueryEscape(label)
}

// fallbackGenerator tries a primary generator and falls back to a second
// one when it errors.
type fallbackGenerator struct {
	primary  Generator
	fallback Generator
}

// WithFallback chains two generators: errors from the primary are retried
// on the fallback.
func WithFallback(primary, fallback Generator) Generator {
	return &fallbackGenerator{primary: primary, fallback: fallback}
}

func (g *fallbackGenerator) Name() string { return g.primary.Name() }

func (g *fallbackGenerator) Generate(ctx context.Context, prompt, style string) (Result, error) {
	result, err := g.primary.Generate(ctx, prompt, style)
	if err == nil {
		return result, nil
	}
	if ctx.Err() != nil {
		return Result{}, err
	}
	return g.fallback.Generate(ctx, prompt, style)
}

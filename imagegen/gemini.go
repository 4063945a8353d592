package imagegen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nevindra/loom"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModel   = "gemini-2.0-flash-exp"
)

// Gemini generates images through the Google generative language API,
// which returns image bytes inline rather than a hosted URL.
type Gemini struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// GeminiOption configures a Gemini generator.
type GeminiOption func(*Gemini)

// GeminiModel overrides the image model.
func GeminiModel(model string) GeminiOption {
	return func(g *Gemini) { g.model = model }
}

// GeminiBaseURL overrides the API endpoint.
func GeminiBaseURL(baseURL string) GeminiOption {
	return func(g *Gemini) { g.baseURL = baseURL }
}

// GeminiHTTPClient overrides the HTTP client.
func GeminiHTTPClient(c *http.Client) GeminiOption {
	return func(g *Gemini) { g.client = c }
}

// NewGemini creates a Gemini image generator.
func NewGemini(apiKey string, opts ...GeminiOption) *Gemini {
	g := &Gemini{
		baseURL: defaultGeminiBaseURL,
		apiKey:  apiKey,
		model:   defaultGeminiModel,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.client == nil {
		g.client = &http.Client{Timeout: 60 * time.Second}
	}
	return g
}

func (g *Gemini) Name() string { return "gemini" }

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig geminiGenConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				InlineData *struct {
					MimeType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Generate creates one image and returns it as a data URL.
func (g *Gemini) Generate(ctx context.Context, prompt, style string) (Result, error) {
	if g.apiKey == "" {
		return Result{}, fmt.Errorf("gemini: no API key configured")
	}

	body, err := json.Marshal(geminiRequest{
		Contents:         []geminiContent{{Parts: []geminiPart{{Text: enhance(prompt, style)}}}},
		GenerationConfig: geminiGenConfig{ResponseModalities: []string{"TEXT", "IMAGE"}},
	})
	if err != nil {
		return Result{}, err
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("gemini: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("gemini: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, &loom.ErrHTTP{Status: resp.StatusCode, Body: string(raw)}
	}

	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Result{}, fmt.Errorf("gemini: decode response: %w", err)
	}
	for _, cand := range parsed.Candidates {
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil && part.InlineData.Data != "" {
				mime := part.InlineData.MimeType
				if mime == "" {
					mime = "image/png"
				}
				return Result{
					URL:           fmt.Sprintf("data:%s;base64,%s", mime, part.InlineData.Data),
					RevisedPrompt: enhance(prompt, style),
					Dimensions:    "1024x1024",
					Provider:      g.Name(),
				}, nil
			}
		}
	}
	return Result{}, fmt.Errorf("gemini: response carried no image")
}

var _ Generator = (*Gemini)(nil)

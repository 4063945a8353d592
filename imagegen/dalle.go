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

const defaultDALLEModel = "dall-e-3"

// DALLE generates images through the OpenAI images API.
type DALLE struct {
	baseURL string
	apiKey  string
	model   string
	client  *http.Client
}

// DALLEOption configures a DALLE generator.
type DALLEOption func(*DALLE)

// DALLEModel overrides the image model (default dall-e-3).
func DALLEModel(model string) DALLEOption {
	return func(d *DALLE) { d.model = model }
}

// DALLEHTTPClient overrides the HTTP client.
func DALLEHTTPClient(c *http.Client) DALLEOption {
	return func(d *DALLE) { d.client = c }
}

// NewDALLE creates a DALL-E generator against an OpenAI-compatible base
// URL such as https://api.openai.com/v1.
func NewDALLE(baseURL, apiKey string, opts ...DALLEOption) *DALLE {
	d := &DALLE{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   defaultDALLEModel,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.client == nil {
		d.client = &http.Client{Timeout: 60 * time.Second}
	}
	return d
}

func (d *DALLE) Name() string { return "dalle" }

type dalleRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	N       int    `json:"n"`
	Size    string `json:"size"`
	Quality string `json:"quality"`
}

type dalleResponse struct {
	Data []struct {
		URL           string `json:"url"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
}

// Generate creates one 1024x1024 image.
func (d *DALLE) Generate(ctx context.Context, prompt, style string) (Result, error) {
	if d.apiKey == "" {
		return Result{}, fmt.Errorf("dalle: no API key configured")
	}

	body, err := json.Marshal(dalleRequest{
		Model:   d.model,
		Prompt:  enhance(prompt, style),
		N:       1,
		Size:    "1024x1024",
		Quality: "standard",
	})
	if err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/images/generations", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Authorization", "Bearer "+d.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("dalle: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("dalle: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, &loom.ErrHTTP{Status: resp.StatusCode, Body: string(raw)}
	}

	var parsed dalleResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Result{}, fmt.Errorf("dalle: decode response: %w", err)
	}
	if len(parsed.Data) == 0 || parsed.Data[0].URL == "" {
		return Result{}, fmt.Errorf("dalle: response carried no image")
	}

	return Result{
		URL:           parsed.Data[0].URL,
		RevisedPrompt: parsed.Data[0].RevisedPrompt,
		Dimensions:    "1024x1024",
		Provider:      d.Name(),
	}, nil
}

var _ Generator = (*DALLE)(nil)

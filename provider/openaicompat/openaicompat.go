// Package openaicompat implements the chat and embedding providers for any
// OpenAI-compatible API: OpenAI itself, Ollama's /v1 endpoint, OpenRouter,
// Groq, vLLM, and the rest of the compatible ecosystem.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	loom "github.com/nevindra/loom"
)

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	name    string
	client  *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithName overrides the provider name used in logs and error messages
// (default "openai"). Set it to "ollama" when pointing at a local server.
func WithName(name string) Option {
	return func(c *Client) { c.name = name }
}

// WithHTTPClient replaces the HTTP client, e.g. to set a timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// New creates a chat provider. baseURL is the API base without a trailing
// slash ("https://api.openai.com/v1", "http://localhost:11434/v1"); the
// /chat/completions path is appended. model is the default model, used
// when a request does not name one.
func New(baseURL, apiKey, model string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		model:   model,
		name:    "openai",
		client:  &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string { return c.name }

// chatBody is the OpenAI chat completions request body.
type chatBody struct {
	Model       string             `json:"model"`
	Messages    []loom.ChatMessage `json:"messages"`
	Temperature float64            `json:"temperature"`
	MaxTokens   int                `json:"max_tokens,omitempty"`
}

// chatReply is the subset of the chat completions response we consume.
type chatReply struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Chat sends a non-streaming chat request and returns the assistant reply.
func (c *Client) Chat(ctx context.Context, req loom.ChatRequest) (loom.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	body := chatBody{
		Model:       model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	var reply chatReply
	if err := c.post(ctx, "/chat/completions", body, &reply); err != nil {
		return loom.ChatResponse{}, err
	}
	if len(reply.Choices) == 0 {
		return loom.ChatResponse{}, &loom.ErrLLM{Provider: c.name, Message: "response has no choices"}
	}
	return loom.ChatResponse{
		Content: reply.Choices[0].Message.Content,
		Usage: loom.Usage{
			InputTokens:  reply.Usage.PromptTokens,
			OutputTokens: reply.Usage.CompletionTokens,
		},
	}, nil
}

// post sends a JSON request to baseURL+path and decodes the response into
// out. Non-200 responses become ErrHTTP so the retry middleware can act on
// the status and Retry-After header.
func (c *Client) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return &loom.ErrLLM{Provider: c.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return &loom.ErrLLM{Provider: c.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return &loom.ErrHTTP{
			Status:     resp.StatusCode,
			Body:       string(raw),
			RetryAfter: loom.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &loom.ErrLLM{Provider: c.name, Message: fmt.Sprintf("decode response: %v", err)}
	}
	return nil
}

// Compile-time interface check.
var _ loom.Provider = (*Client)(nil)

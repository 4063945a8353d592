// Package anthropic implements the chat provider on the Claude Messages
// API via github.com/anthropics/anthropic-sdk-go. System messages are
// lifted into the Messages API system field; everything else maps onto
// user and assistant turns.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	loom "github.com/nevindra/loom"
)

// defaultMaxTokens caps the completion when a request does not set one.
// The Messages API requires an explicit max_tokens on every call.
const defaultMaxTokens = 4096

// MessagesClient is the subset of the SDK used here. *sdk.MessageService
// satisfies it, and tests substitute a stub.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Client implements loom.Provider on the Claude Messages API.
type Client struct {
	msg   MessagesClient
	model string
}

// New builds a provider over an existing Messages client. model is the
// default model identifier, used when a request does not name one.
func New(msg MessagesClient, model string) *Client {
	return &Client{msg: msg, model: model}
}

// NewFromAPIKey constructs a provider with the SDK's default HTTP client.
func NewFromAPIKey(apiKey, model string) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, model), nil
}

func (c *Client) Name() string { return "anthropic" }

// Chat sends a Messages.New request and returns the concatenated text
// blocks of the reply.
func (c *Client) Chat(ctx context.Context, req loom.ChatRequest) (loom.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
	}
	if req.Temperature > 0 {
		params.Temperature = sdk.Float(req.Temperature)
	}
	for _, m := range req.Messages {
		if m.Content == "" {
			continue
		}
		switch m.Role {
		case "system":
			params.System = append(params.System, sdk.TextBlockParam{Text: m.Content})
		case "assistant":
			params.Messages = append(params.Messages, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	if len(params.Messages) == 0 {
		return loom.ChatResponse{}, &loom.ErrLLM{Provider: "anthropic", Message: "at least one user message is required"}
	}

	msg, err := c.msg.New(ctx, params)
	if err != nil {
		return loom.ChatResponse{}, c.wrapErr(err)
	}
	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	return loom.ChatResponse{
		Content: text,
		Usage: loom.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

// wrapErr converts SDK API errors into ErrHTTP so the retry middleware
// sees the status code and Retry-After header.
func (c *Client) wrapErr(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		var retryAfter time.Duration
		if apiErr.Response != nil {
			retryAfter = loom.ParseRetryAfter(apiErr.Response.Header.Get("Retry-After"))
		}
		return &loom.ErrHTTP{
			Status:     apiErr.StatusCode,
			Body:       apiErr.Error(),
			RetryAfter: retryAfter,
		}
	}
	return &loom.ErrLLM{Provider: "anthropic", Message: fmt.Sprintf("messages.new: %v", err)}
}

// Compile-time interface check.
var _ loom.Provider = (*Client)(nil)

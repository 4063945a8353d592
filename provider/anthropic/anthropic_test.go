package anthropic

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	loom "github.com/nevindra/loom"
)

type stubMessages struct {
	lastParams sdk.MessageNewParams
	resp       *sdk.Message
	err        error
}

func (s *stubMessages) New(_ context.Context, body sdk.MessageNewParams, _ ...option.RequestOption) (*sdk.Message, error) {
	s.lastParams = body
	return s.resp, s.err
}

func TestChatMapsMessagesAndUsage(t *testing.T) {
	stub := &stubMessages{resp: &sdk.Message{
		Content: []sdk.ContentBlockUnion{{Type: "text", Text: "the answer"}},
		Usage:   sdk.Usage{InputTokens: 10, OutputTokens: 4},
	}}
	c := New(stub, "claude-3-haiku-20240307")

	resp, err := c.Chat(context.Background(), loom.ChatRequest{
		Messages: []loom.ChatMessage{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "question"},
			{Role: "assistant", Content: "partial"},
		},
		Temperature: 0.3,
		MaxTokens:   256,
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Content != "the answer" {
		t.Errorf("Content = %q", resp.Content)
	}
	if resp.Usage.InputTokens != 10 || resp.Usage.OutputTokens != 4 {
		t.Errorf("Usage = %+v", resp.Usage)
	}

	p := stub.lastParams
	if string(p.Model) != "claude-3-haiku-20240307" {
		t.Errorf("Model = %q", p.Model)
	}
	if p.MaxTokens != 256 {
		t.Errorf("MaxTokens = %d", p.MaxTokens)
	}
	if len(p.System) != 1 || p.System[0].Text != "be brief" {
		t.Errorf("System = %+v, want lifted system message", p.System)
	}
	if len(p.Messages) != 2 {
		t.Fatalf("Messages = %d entries, want 2", len(p.Messages))
	}
	if p.Messages[0].Role != "user" || p.Messages[1].Role != "assistant" {
		t.Errorf("roles = %q, %q", p.Messages[0].Role, p.Messages[1].Role)
	}
	if !p.Temperature.Valid() || p.Temperature.Value != 0.3 {
		t.Errorf("Temperature = %+v", p.Temperature)
	}
}

func TestChatDefaultsMaxTokens(t *testing.T) {
	stub := &stubMessages{resp: &sdk.Message{
		Content: []sdk.ContentBlockUnion{{Type: "text", Text: "ok"}},
	}}
	c := New(stub, "claude-3-haiku-20240307")

	if _, err := c.Chat(context.Background(), loom.ChatRequest{
		Messages: []loom.ChatMessage{{Role: "user", Content: "hi"}},
	}); err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if stub.lastParams.MaxTokens != defaultMaxTokens {
		t.Errorf("MaxTokens = %d, want %d", stub.lastParams.MaxTokens, defaultMaxTokens)
	}
}

func TestChatModelOverride(t *testing.T) {
	stub := &stubMessages{resp: &sdk.Message{
		Content: []sdk.ContentBlockUnion{{Type: "text", Text: "ok"}},
	}}
	c := New(stub, "claude-3-haiku-20240307")

	_, err := c.Chat(context.Background(), loom.ChatRequest{
		Model:    "claude-3-5-sonnet-20241022",
		Messages: []loom.ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if string(stub.lastParams.Model) != "claude-3-5-sonnet-20241022" {
		t.Errorf("Model = %q", stub.lastParams.Model)
	}
}

func TestChatConcatenatesTextBlocks(t *testing.T) {
	stub := &stubMessages{resp: &sdk.Message{
		Content: []sdk.ContentBlockUnion{
			{Type: "text", Text: "part one "},
			{Type: "tool_use"},
			{Type: "text", Text: "part two"},
		},
	}}
	c := New(stub, "m")

	resp, err := c.Chat(context.Background(), loom.ChatRequest{
		Messages: []loom.ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if resp.Content != "part one part two" {
		t.Errorf("Content = %q", resp.Content)
	}
}

func TestChatRequiresConversation(t *testing.T) {
	c := New(&stubMessages{}, "m")
	_, err := c.Chat(context.Background(), loom.ChatRequest{
		Messages: []loom.ChatMessage{{Role: "system", Content: "only system"}},
	})
	if err == nil {
		t.Fatal("Chat() error = nil, want error for empty conversation")
	}
}

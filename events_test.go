package loom

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWriteSSE(t *testing.T) {
	rec := httptest.NewRecorder()
	ev := Event{Type: EventAgentStart, Data: AgentStartData{
		NodeID: "s1", Agent: "synthesis", Model: "gpt-4o",
	}}
	if err := WriteSSE(rec, ev); err != nil {
		t.Fatalf("WriteSSE() error = %v", err)
	}

	got := rec.Body.String()
	want := "event: agent_start\ndata: {\"node_id\":\"s1\",\"agent\":\"synthesis\",\"model\":\"gpt-4o\"}\n\n"
	if got != want {
		t.Errorf("body = %q, want %q", got, want)
	}
	if !rec.Flushed {
		t.Error("response was not flushed")
	}
}

func TestWriteSSEErrorEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	ev := Event{Type: EventError, Data: ErrorData{Message: "boom"}}
	if err := WriteSSE(rec, ev); err != nil {
		t.Fatalf("WriteSSE() error = %v", err)
	}
	if !strings.Contains(rec.Body.String(), "event: error\n") {
		t.Errorf("body = %q, want error event line", rec.Body.String())
	}
}

func TestNewEventChannelBuffer(t *testing.T) {
	ch := NewEventChannel()
	if cap(ch) != EventBufferSize {
		t.Errorf("cap = %d, want %d", cap(ch), EventBufferSize)
	}
}

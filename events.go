package loom

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// EventType identifies the kind of streaming event.
type EventType string

const (
	// EventAgentStart signals a node's agent has begun working.
	EventAgentStart EventType = "agent_start"
	// EventAgentComplete carries the result of a finished (or excluded) node.
	EventAgentComplete EventType = "agent_complete"
	// EventDone carries the final answer, tool outputs, and trace.
	EventDone EventType = "done"
	// EventError signals the run aborted.
	EventError EventType = "error"
)

// EventBufferSize is the capacity of run event channels. Senders block
// when the consumer falls this far behind.
const EventBufferSize = 64

// Event is a typed event emitted during workflow execution.
type Event struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

// AgentStartData is the payload of an agent_start event.
type AgentStartData struct {
	NodeID string `json:"node_id"`
	Agent  string `json:"agent"`
	Model  string `json:"model"`
}

// AgentCompleteData is the payload of an agent_complete event.
type AgentCompleteData struct {
	NodeID   string         `json:"node_id"`
	Agent    string         `json:"agent"`
	Model    string         `json:"model"`
	Action   string         `json:"action"`
	Content  string         `json:"content"`
	Success  bool           `json:"success"`
	Excluded bool           `json:"excluded,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Trace wraps the ordered step list reported with the done event.
type Trace struct {
	Steps []Step `json:"steps"`
}

// DoneData is the payload of a done event.
type DoneData struct {
	Answer       string         `json:"answer"`
	ToolOutputs  map[string]any `json:"tool_outputs"`
	Trace        Trace          `json:"trace"`
	LatencyMs    float64        `json:"latency_ms"`
	OutputFormat string         `json:"output_format"`
}

// ErrorData is the payload of an error event.
type ErrorData struct {
	Message string `json:"message"`
}

// NewEventChannel returns a run event channel with the standard buffer.
func NewEventChannel() chan Event {
	return make(chan Event, EventBufferSize)
}

// WriteSSE writes one event in Server-Sent Events wire format:
//
//	event: <event-type>
//	data: <json-encoded payload>
//
// and flushes when w implements http.Flusher.
func WriteSSE(w http.ResponseWriter, ev Event) error {
	data, err := json.Marshal(ev.Data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		return err
	}
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return nil
}

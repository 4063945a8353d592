package loom

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func testModels() Models {
	return Models{Small: "small-model", Large: "large-model"}
}

func runWorkflow(t *testing.T, e *Engine, wf Workflow, message string) ([]Event, error) {
	t.Helper()
	events := NewEventChannel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Execute(context.Background(), wf, message, events)
	}()
	collected := collectEvents(events)
	return collected, <-errCh
}

func doneData(t *testing.T, events []Event) DoneData {
	t.Helper()
	if len(events) == 0 {
		t.Fatal("no events emitted")
	}
	last := events[len(events)-1]
	if last.Type != EventDone {
		t.Fatalf("last event = %v, want done (all: %v)", last.Type, eventTypes(events))
	}
	return last.Data.(DoneData)
}

func TestExecuteEmptyGraph(t *testing.T) {
	e := NewEngine(NewRegistry(), testModels())
	events, err := runWorkflow(t, e, Workflow{}, "hi")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %v, want single done", eventTypes(events))
	}
	done := doneData(t, events)
	if done.Answer != "" {
		t.Errorf("Answer = %q, want empty", done.Answer)
	}
	if len(done.Trace.Steps) != 0 {
		t.Errorf("Trace.Steps = %d, want 0", len(done.Trace.Steps))
	}
}

func TestExecutePassThroughPrompt(t *testing.T) {
	wf := Workflow{
		Nodes: []Node{
			{ID: "p1", Type: NodePrompt, Data: map[string]any{"promptText": "Hello"}},
			{ID: "r1", Type: NodeResponse},
		},
		Edges: []Edge{{Source: "p1", Target: "r1"}},
	}
	e := NewEngine(NewRegistry(), testModels())
	events, err := runWorkflow(t, e, wf, "")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	done := doneData(t, events)
	if done.Answer != "Hello" {
		t.Errorf("Answer = %q, want %q", done.Answer, "Hello")
	}
	if len(done.Trace.Steps) != 0 {
		t.Errorf("non-input steps = %d, want 0", len(done.Trace.Steps))
	}
}

func TestExecuteAgentFlow(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NodeSemanticSearch, AgentFunc(func(_ context.Context, task AgentTask) (AgentResult, error) {
		return AgentResult{
			Agent:   "semantic_search",
			Model:   "embedding",
			Action:  "search_completed",
			Content: "2 documents found",
			Success: true,
			ContextUpdates: map[string]any{
				KeySemanticResults: []any{map[string]any{"title": "A"}, map[string]any{"title": "B"}},
				KeyContextSnippets: []any{"snippet a", "snippet b"},
			},
		}, nil
	}))
	reg.Register(NodeSynthesis, AgentFunc(func(_ context.Context, task AgentTask) (AgentResult, error) {
		snippets := task.Context[KeyContextSnippets].([]any)
		if len(snippets) != 2 {
			return AgentResult{}, Recoverablef("want 2 snippets, got %d", len(snippets))
		}
		return AgentResult{
			Agent:          "synthesis",
			Model:          "large-model",
			Action:         "answer_synthesized",
			Content:        "the answer",
			Success:        true,
			ContextUpdates: map[string]any{KeyFinalAnswer: "the answer"},
		}, nil
	}))

	wf := Workflow{
		Nodes: []Node{
			{ID: "p1", Type: NodePrompt},
			{ID: "s1", Type: NodeSemanticSearch},
			{ID: "y1", Type: NodeSynthesis},
			{ID: "r1", Type: NodeResponse},
		},
		Edges: []Edge{
			{Source: "p1", Target: "s1"},
			{Source: "s1", Target: "y1"},
			{Source: "y1", Target: "r1"},
		},
	}
	e := NewEngine(reg, testModels())
	events, err := runWorkflow(t, e, wf, "What is HACCP?")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	done := doneData(t, events)
	if done.Answer != "the answer" {
		t.Errorf("Answer = %q, want %q", done.Answer, "the answer")
	}
	if len(done.Trace.Steps) != 2 {
		t.Errorf("Trace.Steps = %d, want 2", len(done.Trace.Steps))
	}

	// agent_start precedes agent_complete per node; s1 before y1.
	var starts, completes []string
	for _, ev := range events {
		switch d := ev.Data.(type) {
		case AgentStartData:
			starts = append(starts, d.NodeID)
		case AgentCompleteData:
			if d.Model != "none" {
				completes = append(completes, d.NodeID)
			}
		}
	}
	if strings.Join(starts, ",") != "s1,y1" {
		t.Errorf("starts = %v, want [s1 y1]", starts)
	}
	if strings.Join(completes, ",") != "s1,y1" {
		t.Errorf("completes = %v, want [s1 y1]", completes)
	}
}

func TestExecuteBranchRouting(t *testing.T) {
	imageRan := false
	reg := NewRegistry()
	reg.Register(NodeOrchestrator, AgentFunc(func(_ context.Context, task AgentTask) (AgentResult, error) {
		return AgentResult{
			Agent:   "orchestrator",
			Model:   "small-model",
			Action:  "tools_selected",
			Content: "selected semantic_search",
			Success: true,
			ContextUpdates: map[string]any{
				KeySelectedTools: []any{"s1"},
			},
		}, nil
	}))
	reg.Register(NodeSemanticSearch, AgentFunc(func(_ context.Context, _ AgentTask) (AgentResult, error) {
		return AgentResult{
			Agent: "semantic_search", Model: "embedding", Action: "search_completed",
			Content: "ok", Success: true,
			ContextUpdates: map[string]any{KeySemanticResults: []any{"hit"}},
		}, nil
	}))
	reg.Register(NodeImageGenerator, AgentFunc(func(_ context.Context, _ AgentTask) (AgentResult, error) {
		imageRan = true
		return AgentResult{Agent: "image_generator", Success: true}, nil
	}))
	reg.Register(NodeSynthesis, AgentFunc(func(_ context.Context, task AgentTask) (AgentResult, error) {
		if len(toList(task.Context[KeySemanticResults])) == 0 {
			return AgentResult{}, Recoverablef("no semantic results")
		}
		return AgentResult{
			Agent: "synthesis", Model: "large-model", Action: "answer_synthesized",
			Content: "done", Success: true,
			ContextUpdates: map[string]any{KeyFinalAnswer: "done"},
		}, nil
	}))

	wf := Workflow{
		Nodes: []Node{
			{ID: "p1", Type: NodePrompt},
			{ID: "o1", Type: NodeOrchestrator},
			{ID: "s1", Type: NodeSemanticSearch},
			{ID: "i1", Type: NodeImageGenerator},
			{ID: "y1", Type: NodeSynthesis},
			{ID: "r1", Type: NodeResponse},
		},
		Edges: []Edge{
			{Source: "p1", Target: "o1"},
			{Source: "o1", Target: "s1"},
			{Source: "o1", Target: "i1"},
			{Source: "s1", Target: "y1"},
			{Source: "i1", Target: "y1"},
			{Source: "y1", Target: "r1"},
		},
	}
	e := NewEngine(reg, testModels())
	events, err := runWorkflow(t, e, wf, "draw or search?")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if imageRan {
		t.Error("image_generator ran despite not being selected")
	}

	var excluded []string
	for _, ev := range events {
		if d, ok := ev.Data.(AgentCompleteData); ok && d.Excluded {
			excluded = append(excluded, d.NodeID)
		}
	}
	if strings.Join(excluded, ",") != "i1" {
		t.Errorf("excluded = %v, want [i1]", excluded)
	}

	// The join at y1 proceeds: one executed predecessor remains.
	done := doneData(t, events)
	if done.Answer != "done" {
		t.Errorf("Answer = %q, want %q", done.Answer, "done")
	}
}

func TestExecuteRecoverableErrorContinues(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NodeSummarization, AgentFunc(func(_ context.Context, _ AgentTask) (AgentResult, error) {
		return AgentResult{}, Recoverablef("model unavailable")
	}))
	reg.Register(NodeSynthesis, AgentFunc(func(_ context.Context, _ AgentTask) (AgentResult, error) {
		return AgentResult{
			Agent: "synthesis", Model: "large-model", Action: "answer_synthesized",
			Content: "still fine", Success: true,
			ContextUpdates: map[string]any{KeyFinalAnswer: "still fine"},
		}, nil
	}))

	// Parallel branches: m1 fails, y1 succeeds, r1 joins.
	wf := Workflow{
		Nodes: []Node{
			{ID: "p1", Type: NodePrompt},
			{ID: "m1", Type: NodeSummarization},
			{ID: "y1", Type: NodeSynthesis},
			{ID: "r1", Type: NodeResponse},
		},
		Edges: []Edge{
			{Source: "p1", Target: "m1"},
			{Source: "p1", Target: "y1"},
			{Source: "m1", Target: "r1"},
			{Source: "y1", Target: "r1"},
		},
	}
	e := NewEngine(reg, testModels())
	events, err := runWorkflow(t, e, wf, "go")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	var failed *AgentCompleteData
	for _, ev := range events {
		if d, ok := ev.Data.(AgentCompleteData); ok && d.NodeID == "m1" {
			failed = &d
		}
	}
	if failed == nil {
		t.Fatal("no agent_complete for m1")
	}
	if failed.Success {
		t.Error("m1 Success = true, want false")
	}
	if failed.Metadata["error"] == nil {
		t.Error("m1 metadata missing error")
	}
	if done := doneData(t, events); done.Answer != "still fine" {
		t.Errorf("Answer = %q, want %q", done.Answer, "still fine")
	}
}

func TestExecuteExclusionPropagates(t *testing.T) {
	reg := NewRegistry()
	reg.Register(NodeOrchestrator, AgentFunc(func(_ context.Context, _ AgentTask) (AgentResult, error) {
		return AgentResult{
			Agent: "orchestrator", Success: true,
			ContextUpdates: map[string]any{KeySelectedTools: []any{}},
		}, nil
	}))
	translated := false
	reg.Register(NodeTranslator, AgentFunc(func(_ context.Context, _ AgentTask) (AgentResult, error) {
		translated = true
		return AgentResult{Agent: "translator", Success: true}, nil
	}))

	// translator is only reachable through the unselected tool branch, so
	// exclusion must propagate to it.
	wf := Workflow{
		Nodes: []Node{
			{ID: "p1", Type: NodePrompt},
			{ID: "o1", Type: NodeOrchestrator},
			{ID: "i1", Type: NodeImageGenerator},
			{ID: "t1", Type: NodeTranslator},
		},
		Edges: []Edge{
			{Source: "p1", Target: "o1"},
			{Source: "o1", Target: "i1"},
			{Source: "i1", Target: "t1"},
		},
	}
	e := NewEngine(reg, testModels())
	events, err := runWorkflow(t, e, wf, "nothing selected")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if translated {
		t.Error("translator ran behind an excluded branch")
	}
	var excluded []string
	for _, ev := range events {
		if d, ok := ev.Data.(AgentCompleteData); ok && d.Excluded {
			excluded = append(excluded, d.NodeID)
		}
	}
	if strings.Join(excluded, ",") != "i1,t1" {
		t.Errorf("excluded = %v, want [i1 t1]", excluded)
	}
}

func TestExecuteSkipsUnreachableNode(t *testing.T) {
	reg := NewRegistry()
	ran := false
	reg.Register(NodeSynthesis, AgentFunc(func(_ context.Context, _ AgentTask) (AgentResult, error) {
		ran = true
		return AgentResult{Agent: "synthesis", Success: true}, nil
	}))

	// s1 has no path from an input node, so it must be excluded without
	// ever invoking its agent.
	wf := Workflow{
		Nodes: []Node{
			{ID: "p1", Type: NodePrompt, Data: map[string]any{"promptText": "Hello"}},
			{ID: "r1", Type: NodeResponse},
			{ID: "s1", Type: NodeSynthesis},
		},
		Edges: []Edge{{Source: "p1", Target: "r1"}},
	}
	e := NewEngine(reg, testModels())
	events, err := runWorkflow(t, e, wf, "")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if ran {
		t.Error("unreachable node's agent ran")
	}
	for _, ev := range events {
		if d, ok := ev.Data.(AgentStartData); ok && d.NodeID == "s1" {
			t.Error("agent_start emitted for unreachable node")
		}
	}
	done := doneData(t, events)
	if done.Answer != "Hello" {
		t.Errorf("Answer = %q, want %q", done.Answer, "Hello")
	}
	var step *Step
	for i := range done.Trace.Steps {
		if done.Trace.Steps[i].NodeID == "s1" {
			step = &done.Trace.Steps[i]
		}
	}
	if step == nil {
		t.Fatalf("trace = %+v, missing step for s1", done.Trace.Steps)
	}
	if step.Status != string(StateExcluded) {
		t.Errorf("s1 status = %q, want %q", step.Status, StateExcluded)
	}
	if !strings.Contains(step.Summary, "unreachable") {
		t.Errorf("s1 summary = %q, want unreachable reason", step.Summary)
	}
}

func TestExecuteCycleEmitsNoEvents(t *testing.T) {
	wf := Workflow{
		Nodes: []Node{
			{ID: "a", Type: NodeSynthesis},
			{ID: "b", Type: NodeSynthesis},
		},
		Edges: []Edge{
			{Source: "a", Target: "b"},
			{Source: "b", Target: "a"},
		},
	}
	e := NewEngine(NewRegistry(), testModels())
	events, err := runWorkflow(t, e, wf, "loop")
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Kind != ValidationCycle {
		t.Fatalf("Execute() error = %v, want cycle ValidationError", err)
	}
	if len(events) != 0 {
		t.Errorf("events = %v, want none before validation failure", eventTypes(events))
	}
}

func TestExecuteRetriesTransientThenSucceeds(t *testing.T) {
	attempts := 0
	reg := NewRegistry()
	reg.Register(NodeSynthesis, AgentFunc(func(_ context.Context, _ AgentTask) (AgentResult, error) {
		attempts++
		if attempts == 1 {
			return AgentResult{}, &ErrHTTP{Status: 503, Body: "overloaded"}
		}
		return AgentResult{
			Agent: "synthesis", Success: true, Content: "recovered",
			ContextUpdates: map[string]any{KeyFinalAnswer: "recovered"},
		}, nil
	}))
	wf := Workflow{
		Nodes: []Node{
			{ID: "p1", Type: NodePrompt},
			{ID: "y1", Type: NodeSynthesis},
			{ID: "r1", Type: NodeResponse},
		},
		Edges: []Edge{
			{Source: "p1", Target: "y1"},
			{Source: "y1", Target: "r1"},
		},
	}
	e := NewEngine(reg, testModels(), WithRetryDelays(time.Millisecond, time.Millisecond))
	events, err := runWorkflow(t, e, wf, "go")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if done := doneData(t, events); done.Answer != "recovered" {
		t.Errorf("Answer = %q, want %q", done.Answer, "recovered")
	}
}

func TestExecuteCancellationStopsQuietly(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	reg := NewRegistry()
	reg.Register(NodeSynthesis, AgentFunc(func(ctx context.Context, _ AgentTask) (AgentResult, error) {
		close(started)
		<-ctx.Done()
		return AgentResult{}, ctx.Err()
	}))
	ran := false
	reg.Register(NodeSummarization, AgentFunc(func(_ context.Context, _ AgentTask) (AgentResult, error) {
		ran = true
		return AgentResult{Agent: "summarization", Success: true}, nil
	}))

	wf := Workflow{
		Nodes: []Node{
			{ID: "p1", Type: NodePrompt},
			{ID: "y1", Type: NodeSynthesis},
			{ID: "m1", Type: NodeSummarization},
			{ID: "r1", Type: NodeResponse},
		},
		Edges: []Edge{
			{Source: "p1", Target: "y1"},
			{Source: "y1", Target: "m1"},
			{Source: "m1", Target: "r1"},
		},
	}

	e := NewEngine(reg, testModels())
	events := NewEventChannel()
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.Execute(ctx, wf, "go", events)
	}()
	go func() {
		<-started
		cancel()
	}()

	collected := collectEvents(events)
	err := <-errCh
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Execute() error = %v, want context.Canceled", err)
	}
	if ran {
		t.Error("downstream node ran after cancellation")
	}
	for _, ev := range collected {
		if ev.Type == EventDone || ev.Type == EventError {
			t.Errorf("got terminal %s event after cancellation", ev.Type)
		}
	}
}

func TestExecuteUploadAutoInstruction(t *testing.T) {
	var gotMessage string
	reg := NewRegistry()
	reg.Register(NodeTransformer, AgentFunc(func(_ context.Context, task AgentTask) (AgentResult, error) {
		gotMessage = task.UserMessage
		content, _ := task.Context[KeyUploadedContent].(string)
		return AgentResult{
			Agent: "transformer", Success: true, Content: content,
			ContextUpdates: map[string]any{KeyTransformedContent: "a,b\n1,2"},
		}, nil
	}))
	wf := Workflow{
		Nodes: []Node{
			{ID: "u1", Type: NodeUpload, Data: map[string]any{
				"uploadedFiles": []any{
					map[string]any{"name": "notes.txt", "content": "plain text body"},
				},
			}},
			{ID: "t1", Type: NodeTransformer},
			{ID: "sh1", Type: NodeSpreadsheet},
		},
		Edges: []Edge{
			{Source: "u1", Target: "t1"},
			{Source: "t1", Target: "sh1"},
		},
	}
	e := NewEngine(reg, testModels())
	events, err := runWorkflow(t, e, wf, "")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if gotMessage != autoInstructionExtract {
		t.Errorf("user message = %q, want extraction auto instruction", gotMessage)
	}
	done := doneData(t, events)
	if done.OutputFormat != "spreadsheet" {
		t.Errorf("OutputFormat = %q, want %q", done.OutputFormat, "spreadsheet")
	}
	if done.Answer != "a,b\n1,2" {
		t.Errorf("Answer = %q, want CSV content", done.Answer)
	}
}

func TestLooksLikeCSV(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{"two rows", "a,b\n1,2", true},
		{"ragged", "a,b\n1,2,3", false},
		{"single row", "a,b", false},
		{"no commas", "plain text\nmore text", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := looksLikeCSV(tt.content); got != tt.want {
				t.Errorf("looksLikeCSV(%q) = %v, want %v", tt.content, got, tt.want)
			}
		})
	}
}

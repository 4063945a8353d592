package observer

import (
	"context"
	"errors"
	"testing"

	loom "github.com/nevindra/loom"

	"go.opentelemetry.io/otel/attribute"
)

func TestToOTELAttr(t *testing.T) {
	tests := []struct {
		name string
		attr loom.SpanAttr
		want attribute.KeyValue
	}{
		{"string", loom.StringAttr("k", "v"), attribute.String("k", "v")},
		{"int", loom.IntAttr("k", 42), attribute.Int("k", 42)},
		{"bool", loom.BoolAttr("k", true), attribute.Bool("k", true)},
		{"float64", loom.Float64Attr("k", 1.5), attribute.Float64("k", 1.5)},
		{"fallback", loom.SpanAttr{Key: "k", Value: []string{"a"}}, attribute.String("k", "[a]")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toOTELAttr(tt.attr); got != tt.want {
				t.Errorf("toOTELAttr() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestObservedAgentPassesThrough(t *testing.T) {
	inst, err := newInstruments()
	if err != nil {
		t.Fatalf("newInstruments() error = %v", err)
	}
	inner := loom.AgentFunc(func(_ context.Context, task loom.AgentTask) (loom.AgentResult, error) {
		return loom.AgentResult{Agent: "synthesis", Content: task.UserMessage, Success: true}, nil
	})

	wrapped := WrapAgent(inner, loom.NodeSynthesis, inst)
	result, err := wrapped.Execute(context.Background(), loom.AgentTask{UserMessage: "hi"})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Content != "hi" || !result.Success {
		t.Errorf("result = %+v", result)
	}
}

func TestObservedAgentPropagatesError(t *testing.T) {
	inst, err := newInstruments()
	if err != nil {
		t.Fatalf("newInstruments() error = %v", err)
	}
	wantErr := errors.New("agent failed")
	inner := loom.AgentFunc(func(context.Context, loom.AgentTask) (loom.AgentResult, error) {
		return loom.AgentResult{}, wantErr
	})

	wrapped := WrapAgent(inner, loom.NodeSampler, inst)
	if _, err := wrapped.Execute(context.Background(), loom.AgentTask{}); !errors.Is(err, wantErr) {
		t.Errorf("Execute() error = %v, want %v", err, wantErr)
	}
}

func TestInstrumentWrapsRegistry(t *testing.T) {
	inst, err := newInstruments()
	if err != nil {
		t.Fatalf("newInstruments() error = %v", err)
	}
	reg := loom.NewRegistry()
	reg.Register(loom.NodeSynthesis, loom.AgentFunc(func(context.Context, loom.AgentTask) (loom.AgentResult, error) {
		return loom.AgentResult{Success: true}, nil
	}))

	Instrument(reg, inst)

	agent, err := reg.Lookup(loom.NodeSynthesis)
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if _, ok := agent.(*ObservedAgent); !ok {
		t.Errorf("agent = %T, want *ObservedAgent", agent)
	}
}

func TestTracerSpanLifecycle(t *testing.T) {
	tracer := NewTracer()
	ctx, span := tracer.Start(context.Background(), "workflow.run",
		loom.StringAttr("run_id", "r1"))
	if ctx == nil {
		t.Fatal("Start() returned nil context")
	}
	span.SetAttr(loom.IntAttr("nodes", 3))
	span.Event("node.executed", loom.StringAttr("node_id", "n1"))
	span.Error(errors.New("node failed"))
	span.End()
}

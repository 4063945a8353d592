package observer

import (
	"context"
	"time"

	loom "github.com/nevindra/loom"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for workflow observability spans and metrics.
var (
	AttrNodeType    = attribute.Key("workflow.node_type")
	AttrAgentStatus = attribute.Key("agent.status")
	AttrModel       = attribute.Key("llm.model")
)

// ObservedAgent wraps an Agent to emit a span and metrics per execution.
// The span is the parent for everything the agent does (LLM calls,
// retrieval) via context propagation.
type ObservedAgent struct {
	inner    loom.Agent
	nodeType loom.NodeType
	inst     *Instruments
}

// WrapAgent returns an instrumented Agent that emits lifecycle telemetry.
func WrapAgent(inner loom.Agent, nodeType loom.NodeType, inst *Instruments) *ObservedAgent {
	return &ObservedAgent{inner: inner, nodeType: nodeType, inst: inst}
}

// Instrument wraps every agent currently in the registry. Call it after
// the agents are registered and before the engine is constructed.
func Instrument(reg *loom.Registry, inst *Instruments) {
	for _, t := range reg.Types() {
		agent, err := reg.Lookup(t)
		if err != nil {
			continue
		}
		reg.Register(t, WrapAgent(agent, t, inst))
	}
}

func (o *ObservedAgent) Execute(ctx context.Context, task loom.AgentTask) (loom.AgentResult, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "agent.execute", trace.WithAttributes(
		AttrNodeType.String(string(o.nodeType)),
	))
	defer span.End()
	start := time.Now()

	result, err := o.inner.Execute(ctx, task)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	switch {
	case ctx.Err() != nil && err != nil:
		status = "cancelled"
		span.SetStatus(codes.Error, "cancelled")
	case err != nil:
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(
		AttrAgentStatus.String(status),
		AttrModel.String(result.Model),
	)

	attrs := metric.WithAttributes(
		AttrNodeType.String(string(o.nodeType)),
		attribute.String("status", status),
	)
	o.inst.AgentExecutions.Add(ctx, 1, attrs)
	o.inst.AgentDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrNodeType.String(string(o.nodeType)),
	))

	return result, err
}

// compile-time check
var _ loom.Agent = (*ObservedAgent)(nil)

package loom

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Agent executes one workflow node. Implementations live in the agents
// package and are registered by node type.
type Agent interface {
	Execute(ctx context.Context, task AgentTask) (AgentResult, error)
}

// AgentFunc adapts a function to the Agent interface.
type AgentFunc func(ctx context.Context, task AgentTask) (AgentResult, error)

func (f AgentFunc) Execute(ctx context.Context, task AgentTask) (AgentResult, error) {
	return f(ctx, task)
}

// Registry maps node types to agents. Plan validation guarantees that
// every agent and tool node reaching the engine has a registered agent.
type Registry struct {
	mu     sync.RWMutex
	agents map[NodeType]Agent
}

// NewRegistry creates an empty agent registry.
func NewRegistry() *Registry {
	return &Registry{agents: make(map[NodeType]Agent)}
}

// Register binds an agent to a node type, replacing any previous binding.
func (r *Registry) Register(t NodeType, a Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents[t] = a
}

// Lookup returns the agent for a node type.
func (r *Registry) Lookup(t NodeType) (Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[t]
	if !ok {
		return nil, fmt.Errorf("no agent registered for node type %q", t)
	}
	return a, nil
}

// Types returns the registered node types in sorted order.
func (r *Registry) Types() []NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NodeType, 0, len(r.agents))
	for t := range r.agents {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// DefaultModelClass returns the model class an agent node uses when its
// settings don't override it. Heavier generation work goes to the large
// model; routing, planning, and selection go to the small one.
func DefaultModelClass(t NodeType) ModelClass {
	switch t {
	case NodeSynthesis, NodeTransformer, NodeFormatting:
		return ModelLarge
	default:
		return ModelSmall
	}
}

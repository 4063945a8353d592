package loom

import (
	"fmt"
	"sort"
)

// Plan is a validated, topologically ordered workflow ready for execution.
type Plan struct {
	// Order lists node IDs in execution order (dependencies first).
	Order []string
	// Nodes indexes the workflow nodes by ID.
	Nodes map[string]Node
	// Preds and Succs hold incoming and outgoing neighbors per node,
	// sorted by node ID.
	Preds map[string][]string
	Succs map[string][]string
	// Reachable marks nodes in the forward closure of the input nodes.
	// Unreachable nodes are excluded without ever starting.
	Reachable map[string]bool
	// Warnings carries non-fatal findings, e.g. no reachable output node.
	Warnings []string
}

// BuildPlan validates a workflow and computes its execution order.
// Validation failures return a *ValidationError and happen before any
// event is emitted: unknown node types, edges referencing missing nodes,
// and cycles all reject the workflow outright.
func BuildPlan(wf Workflow) (*Plan, error) {
	nodes := make(map[string]Node, len(wf.Nodes))
	for _, n := range wf.Nodes {
		if !n.Type.Valid() {
			return nil, &ValidationError{
				Kind:    ValidationUnknownNodeType,
				NodeID:  n.ID,
				Message: fmt.Sprintf("unknown node type %q", n.Type),
			}
		}
		nodes[n.ID] = n
	}

	preds := make(map[string][]string, len(nodes))
	succs := make(map[string][]string, len(nodes))
	for _, e := range wf.Edges {
		if _, ok := nodes[e.Source]; !ok {
			return nil, &ValidationError{
				Kind:    ValidationDanglingEdge,
				NodeID:  e.Source,
				Message: fmt.Sprintf("edge source %q is not a node", e.Source),
			}
		}
		if _, ok := nodes[e.Target]; !ok {
			return nil, &ValidationError{
				Kind:    ValidationDanglingEdge,
				NodeID:  e.Target,
				Message: fmt.Sprintf("edge target %q is not a node", e.Target),
			}
		}
		preds[e.Target] = append(preds[e.Target], e.Source)
		succs[e.Source] = append(succs[e.Source], e.Target)
	}
	for id := range nodes {
		sort.Strings(preds[id])
		sort.Strings(succs[id])
	}

	order, err := topoOrder(nodes, preds, succs)
	if err != nil {
		return nil, err
	}

	p := &Plan{
		Order:     order,
		Nodes:     nodes,
		Preds:     preds,
		Succs:     succs,
		Reachable: findReachable(nodes, preds, succs),
	}
	if !p.hasReachableOutput() && len(nodes) > 0 {
		p.Warnings = append(p.Warnings, "no reachable output node; the run will finish without an output step")
	}
	return p, nil
}

// topoOrder runs Kahn's algorithm. The ready set is drained in ascending
// node-ID order so execution order is deterministic for a given graph.
func topoOrder(nodes map[string]Node, preds, succs map[string][]string) ([]string, error) {
	inDegree := make(map[string]int, len(nodes))
	for id := range nodes {
		inDegree[id] = len(preds[id])
	}

	var ready []string
	for id, d := range inDegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(nodes))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		var freed []string
		for _, next := range succs[id] {
			inDegree[next]--
			if inDegree[next] == 0 {
				freed = append(freed, next)
			}
		}
		if len(freed) > 0 {
			ready = append(ready, freed...)
			sort.Strings(ready)
		}
	}

	if len(order) < len(nodes) {
		var stuck []string
		for id, d := range inDegree {
			if d > 0 {
				stuck = append(stuck, id)
			}
		}
		sort.Strings(stuck)
		return nil, &ValidationError{
			Kind:    ValidationCycle,
			Message: fmt.Sprintf("cycle involving nodes %v", stuck),
		}
	}
	return order, nil
}

// findReachable computes the forward closure of the root set. Roots are
// input-category nodes plus any node with no incoming edges; when the
// graph has no input nodes at all, every node is a root.
func findReachable(nodes map[string]Node, preds, succs map[string][]string) map[string]bool {
	reachable := make(map[string]bool, len(nodes))

	var queue []string
	for id, n := range nodes {
		if n.Type.Category() == CategoryInput || len(preds[id]) == 0 {
			queue = append(queue, id)
		}
	}

	for _, id := range queue {
		reachable[id] = true
	}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, next := range succs[id] {
			if !reachable[next] {
				reachable[next] = true
				queue = append(queue, next)
			}
		}
	}
	return reachable
}

func (p *Plan) hasReachableOutput() bool {
	for id, n := range p.Nodes {
		if p.Reachable[id] && n.Type.Category() == CategoryOutput {
			return true
		}
	}
	return false
}

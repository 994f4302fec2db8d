package execution

import (
	"fmt"
	"strings"
	"sync"
)

// ExecPlan owns a DAG of ExecNodes and drives their lifecycle: topology
// validation, reverse-topological start, topological stop, and a single
// completion signal settled once every sink has finished.
type ExecPlan struct {
	ctx Context

	mu      sync.Mutex
	nodes   []ExecNode
	started bool

	finished *Future
}

// Make constructs an empty plan bound to ctx. Nodes are added to it
// afterwards, either through Declaration.AddToPlan or by direct
// constructors that call plan.Add themselves.
func Make(ctx Context) *ExecPlan {
	return &ExecPlan{ctx: ctx, finished: NewFuture()}
}

func (p *ExecPlan) Context() Context { return p.ctx }

// Add registers a node with the plan, in insertion order. The plan owns
// every node added to it; it has no teardown step of its own beyond
// StopProducing, and dropping the plan releases nothing in any order.
func (p *ExecPlan) Add(n ExecNode) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nodes = append(p.nodes, n)
}

// Nodes returns the owned nodes in insertion order.
func (p *ExecPlan) Nodes() []ExecNode {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ExecNode, len(p.nodes))
	copy(out, p.nodes)
	return out
}

// Sources returns every owned node with no inputs.
func (p *ExecPlan) Sources() []ExecNode {
	var out []ExecNode
	for _, n := range p.Nodes() {
		if len(n.Inputs()) == 0 {
			out = append(out, n)
		}
	}
	return out
}

// Sinks returns every owned node declaring zero outputs.
func (p *ExecPlan) Sinks() []ExecNode {
	var out []ExecNode
	for _, n := range p.Nodes() {
		if n.NumOutputs() == 0 {
			out = append(out, n)
		}
	}
	return out
}

// Validate confirms invariants I1-I4 (every declared output is bound,
// every input belongs to this plan, the topology is a DAG, the plan is
// non-empty) and returns the first violation found.
func (p *ExecPlan) Validate() error {
	nodes := p.Nodes()
	if len(nodes) == 0 {
		return fmt.Errorf("plan has no nodes: %w", ErrInvalid)
	}

	owned := make(map[ExecNode]bool, len(nodes))
	for _, n := range nodes {
		owned[n] = true
	}

	for _, n := range nodes {
		if n.NumOutputs() != len(n.Outputs()) {
			return fmt.Errorf("node %q declares %d output(s) but has %d bound: %w", n.Label(), n.NumOutputs(), len(n.Outputs()), ErrInvalid)
		}
		for _, in := range n.Inputs() {
			if !owned[in] {
				return fmt.Errorf("node %q has an input not owned by this plan: %w", n.Label(), ErrInvalid)
			}
		}
	}

	if _, err := topoOrder(nodes); err != nil {
		return err
	}
	return nil
}

// topoOrder returns nodes in a topological order (sources before
// sinks). Repeated edges between the same pair of nodes are fine; a
// genuine cycle is reported as ErrInvalid.
func topoOrder(nodes []ExecNode) ([]ExecNode, error) {
	remaining := make(map[ExecNode]int, len(nodes))
	dependents := make(map[ExecNode][]ExecNode, len(nodes))
	for _, n := range nodes {
		remaining[n] = len(n.Inputs())
		for _, in := range n.Inputs() {
			dependents[in] = append(dependents[in], n)
		}
	}

	var ready []ExecNode
	for _, n := range nodes {
		if remaining[n] == 0 {
			ready = append(ready, n)
		}
	}

	order := make([]ExecNode, 0, len(nodes))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		order = append(order, n)
		for _, dep := range dependents[n] {
			remaining[dep]--
			if remaining[dep] == 0 {
				ready = append(ready, dep)
			}
		}
	}

	if len(order) != len(nodes) {
		return nil, fmt.Errorf("plan's input topology has a cycle: %w", ErrInvalid)
	}
	return order, nil
}

// StartProducing validates the plan, computes a reverse-topological
// order (sinks first, so every node is ready before its upstream can
// push to it), and starts each node in that order. If a node fails to
// start, every node already started is stopped in the reverse of its
// start order and the failing node's error is returned. May be called
// at most once per plan (I5).
func (p *ExecPlan) StartProducing() error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return fmt.Errorf("plan restarted: StartProducing was already called: %w", ErrInvalid)
	}
	p.started = true
	p.mu.Unlock()

	if err := p.Validate(); err != nil {
		return err
	}

	order, err := topoOrder(p.Nodes())
	if err != nil {
		return err
	}
	reverse := make([]ExecNode, len(order))
	for i, n := range order {
		reverse[len(order)-1-i] = n
	}

	started := make([]ExecNode, 0, len(reverse))
	for _, n := range reverse {
		if err := n.StartProducing(p.ctx); err != nil {
			for i := len(started) - 1; i >= 0; i-- {
				_ = started[i].StopProducing(p.ctx)
			}
			return fmt.Errorf("couldn't start node %q: %w", n.Label(), err)
		}
		started = append(started, n)
	}

	go p.awaitSinks()

	return nil
}

func (p *ExecPlan) awaitSinks() {
	sinks := p.Sinks()

	var mu sync.Mutex
	var firstErr error
	var wg sync.WaitGroup
	wg.Add(len(sinks))
	for _, s := range sinks {
		s := s
		go func() {
			defer wg.Done()
			if err := s.Finished().Wait(); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	p.finished.Settle(firstErr)
}

// StopProducing tears every node down in forward topological order
// (sources before sinks). It's safe to call more than once and safe to
// call concurrently with itself; each node's own StopProducing is
// required to be idempotent.
func (p *ExecPlan) StopProducing() {
	nodes := p.Nodes()
	order, err := topoOrder(nodes)
	if err != nil {
		order = nodes
	}
	for _, n := range order {
		_ = n.StopProducing(p.ctx)
	}
}

// Finished completes with OK once every sink has settled successfully,
// or with the first error observed across the plan otherwise.
func (p *ExecPlan) Finished() *Future {
	return p.finished
}

// String renders the plan the way §6 of the spec describes: a header
// naming the node count, followed by each node's own String(), in
// insertion order.
func (p *ExecPlan) String() string {
	nodes := p.Nodes()
	var b strings.Builder
	fmt.Fprintf(&b, "ExecPlan with %d nodes:\n", len(nodes))
	for _, n := range nodes {
		b.WriteString(n.String())
		b.WriteString("\n")
	}
	return b.String()
}

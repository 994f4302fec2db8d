package execution

import (
	"fmt"
	"strings"
	"sync"

	"github.com/apache/arrow/go/v15/arrow"
)

// State is a node's lifecycle state: Initial -> Started -> Producing ->
// Stopping -> Stopped, with a terminal Errored reachable from any
// non-initial state. NodeBase does not store a State, and no operator
// records or checks one.
type State int32

const (
	StateInitial State = iota
	StateStarted
	StateProducing
	StateStopping
	StateStopped
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateInitial:
		return "Initial"
	case StateStarted:
		return "Started"
	case StateProducing:
		return "Producing"
	case StateStopping:
		return "Stopping"
	case StateStopped:
		return "Stopped"
	case StateErrored:
		return "Errored"
	default:
		return "Unknown"
	}
}

// ExecNode is the uniform operator abstraction: every vertex of a plan's
// DAG -- source, relational transform, or sink -- implements this
// contract. Concrete operators embed NodeBase for the identity,
// topology, and backpressure-debounce bookkeeping that's identical
// across operators, and implement the five lifecycle callbacks
// themselves.
type ExecNode interface {
	// Label is this node's diagnostic identifier: user-supplied, or an
	// auto-assigned stringified insertion ordinal.
	Label() string

	// OutputSchema is fixed at construction.
	OutputSchema() *arrow.Schema

	// Inputs are this node's ordered upstream nodes. The same upstream
	// may occupy two distinct slots if it appears twice.
	Inputs() []ExecNode

	// InputLabels names each input slot for diagnostic rendering.
	InputLabels() []string

	// NumOutputs is how many downstream bindings this node expects.
	NumOutputs() int

	// AddOutput registers a downstream binding.
	AddOutput(out ExecNode)

	// Outputs are this node's bound downstreams.
	Outputs() []ExecNode

	// StartProducing is called by the plan once, reverse-topologically.
	StartProducing(ctx Context) error

	// InputReceived delivers one batch from sender on whichever input
	// slot sender occupies. Calls from the same sender on the same slot
	// are serialized by the sender; calls from different senders may
	// race.
	InputReceived(ctx ProduceContext, sender ExecNode, batch Batch) error

	// InputFinished tells the receiver sender has emitted exactly
	// totalBatches batches on this input and will emit no more. Arrives
	// strictly after every InputReceived from sender.
	InputFinished(ctx ProduceContext, sender ExecNode, totalBatches int) error

	// ErrorReceived tells the receiver sender has failed terminally.
	// The receiver must forward the error downstream and enter
	// Errored.
	ErrorReceived(ctx ProduceContext, sender ExecNode, err error) error

	// StopProducing is idempotent teardown.
	StopProducing(ctx Context) error

	// PauseProducing / ResumeProducing are backpressure hints from a
	// specific downstream (identified by output), debounced by a
	// monotonic counter per (node, output) edge.
	PauseProducing(output ExecNode, counter int64)
	ResumeProducing(output ExecNode, counter int64)

	// Finished is a one-shot completion signal.
	Finished() *Future

	String() string
}

// Future is a one-shot, first-writer-wins completion signal.
type Future struct {
	mu   sync.Mutex
	done chan struct{}
	err  error
	set  bool
}

func NewFuture() *Future {
	return &Future{done: make(chan struct{})}
}

// Settle resolves the future with err (nil for success). Only the first
// call has any effect; later errors are dropped on the floor, which is
// exactly the first-writer-wins policy §5/§7 require for plan
// completion.
func (f *Future) Settle(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.set {
		return
	}
	f.set = true
	f.err = err
	close(f.done)
}

// Wait blocks until the future settles and returns its error.
func (f *Future) Wait() error {
	<-f.done
	return f.err
}

// Done exposes the underlying channel for use in select statements.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// NodeBase implements the identity, topology, and backpressure-debounce
// bookkeeping shared by every concrete operator, meant to be embedded
// by operator types living in other packages. Embedders must call
// SetSelf right after construction so default PauseProducing/
// ResumeProducing forwarding can identify itself to its own inputs.
type NodeBase struct {
	self ExecNode

	label        string
	outputSchema *arrow.Schema
	inputs       []ExecNode
	inputLabels  []string
	numOutputs   int

	mu      sync.Mutex
	outputs []ExecNode

	finished *Future

	backpressureMu     sync.Mutex
	highestSeenCounter map[ExecNode]int64
}

// NewNodeBase constructs the embeddable base. Call SetSelf immediately
// after embedding it in a concrete operator.
func NewNodeBase(label string, schema *arrow.Schema, inputs []ExecNode, inputLabels []string, numOutputs int) NodeBase {
	return NodeBase{
		label:              label,
		outputSchema:       schema,
		inputs:             inputs,
		inputLabels:        inputLabels,
		numOutputs:         numOutputs,
		finished:           NewFuture(),
		highestSeenCounter: make(map[ExecNode]int64),
	}
}

// SetSelf records the concrete operator embedding this base, so default
// backpressure forwarding can identify itself to its inputs.
func (n *NodeBase) SetSelf(self ExecNode) { n.self = self }

func (n *NodeBase) Label() string               { return n.label }
func (n *NodeBase) OutputSchema() *arrow.Schema { return n.outputSchema }
func (n *NodeBase) Inputs() []ExecNode          { return n.inputs }
func (n *NodeBase) InputLabels() []string       { return n.inputLabels }
func (n *NodeBase) NumOutputs() int             { return n.numOutputs }
func (n *NodeBase) Finished() *Future           { return n.finished }

func (n *NodeBase) AddOutput(out ExecNode) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outputs = append(n.outputs, out)
}

func (n *NodeBase) Outputs() []ExecNode {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]ExecNode, len(n.outputs))
	copy(out, n.outputs)
	return out
}

// shouldAct reports whether a pause/resume call for output carrying
// counter is newer than the highest counter already observed on that
// edge -- the debounce §5 and §9 both call for.
func (n *NodeBase) shouldAct(output ExecNode, counter int64) bool {
	n.backpressureMu.Lock()
	defer n.backpressureMu.Unlock()
	if counter <= n.highestSeenCounter[output] {
		return false
	}
	n.highestSeenCounter[output] = counter
	return true
}

// PauseProducing is the default backpressure behavior for pass-through
// operators with no internal buffer of their own: relay the hint to
// every input, using itself as the edge identity the input debounces
// against. No operator overrides it, Source and Sink included: a Source
// has no inputs, so a pause or resume that reaches it has no effect and
// its drain keeps running.
func (n *NodeBase) PauseProducing(output ExecNode, counter int64) {
	if !n.shouldAct(output, counter) {
		return
	}
	for _, in := range n.inputs {
		in.PauseProducing(n.self, counter)
	}
}

// ResumeProducing mirrors PauseProducing.
func (n *NodeBase) ResumeProducing(output ExecNode, counter int64) {
	if !n.shouldAct(output, counter) {
		return
	}
	for _, in := range n.inputs {
		in.ResumeProducing(n.self, counter)
	}
}

// RenderString implements the §6 node rendering convention:
// TypeName{"label", inputs=[role: "upstream", ...], outputs=["downstream", ...], extra...}
func (n *NodeBase) RenderString(typeName string, extra ...string) string {
	var b strings.Builder
	b.WriteString(typeName)
	b.WriteString(`{"`)
	b.WriteString(n.label)
	b.WriteString(`", inputs=[`)
	for i, in := range n.inputs {
		if i > 0 {
			b.WriteString(", ")
		}
		role := "input"
		if i < len(n.inputLabels) {
			role = n.inputLabels[i]
		}
		fmt.Fprintf(&b, "%s: %q", role, in.Label())
	}
	b.WriteString("], outputs=[")
	for i, out := range n.Outputs() {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q", out.Label())
	}
	b.WriteString("]")
	for _, e := range extra {
		b.WriteString(", ")
		b.WriteString(e)
	}
	b.WriteString("}")
	return b.String()
}

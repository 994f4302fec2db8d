package execution

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/apache/arrow/go/v15/arrow"
)

var emptySchema = arrow.NewSchema(nil, nil)

// testNode is a minimal ExecNode used to exercise plan topology and
// lifecycle without pulling in any relational operator.
type testNode struct {
	NodeBase
	onStart func(ctx Context) error
	onStop  func(ctx Context) error
}

func newTestNode(label string, inputs []ExecNode, numOutputs int) *testNode {
	n := &testNode{NodeBase: NewNodeBase(label, emptySchema, inputs, nil, numOutputs)}
	n.SetSelf(n)
	return n
}

func (n *testNode) StartProducing(ctx Context) error {
	if n.onStart != nil {
		return n.onStart(ctx)
	}
	return nil
}
func (n *testNode) InputReceived(ctx ProduceContext, sender ExecNode, batch Batch) error {
	return nil
}
func (n *testNode) InputFinished(ctx ProduceContext, sender ExecNode, total int) error { return nil }
func (n *testNode) ErrorReceived(ctx ProduceContext, sender ExecNode, err error) error { return nil }
func (n *testNode) StopProducing(ctx Context) error {
	if n.onStop != nil {
		return n.onStop(ctx)
	}
	return nil
}
func (n *testNode) String() string { return n.RenderString("testNode") }

func testContext() Context {
	return NewSerialContext(context.Background())
}

// P1: a single node with no inputs and num_outputs=0 validates, and is
// both the plan's only source and its only sink.
func TestSingleNodeIsSourceAndSink(t *testing.T) {
	plan := Make(testContext())
	n := newTestNode("", nil, 0)
	plan.Add(n)

	if err := plan.Validate(); err != nil {
		t.Fatalf("Validate() = %v, want nil", err)
	}
	if srcs := plan.Sources(); len(srcs) != 1 || srcs[0] != ExecNode(n) {
		t.Fatalf("Sources() = %v, want [%v]", srcs, n)
	}
	if sinks := plan.Sinks(); len(sinks) != 1 || sinks[0] != ExecNode(n) {
		t.Fatalf("Sinks() = %v, want [%v]", sinks, n)
	}
}

// P2: a node with an unbound output fails validation.
func TestUnboundOutputIsInvalid(t *testing.T) {
	plan := Make(testContext())
	n := newTestNode("", nil, 1) // declares one output, never bound
	plan.Add(n)

	err := plan.Validate()
	if err == nil || !errors.Is(err, ErrInvalid) {
		t.Fatalf("Validate() = %v, want ErrInvalid", err)
	}
}

// P3: an empty plan fails validation.
func TestEmptyPlanIsInvalid(t *testing.T) {
	plan := Make(testContext())
	err := plan.Validate()
	if err == nil || !errors.Is(err, ErrInvalid) {
		t.Fatalf("Validate() = %v, want ErrInvalid", err)
	}
}

// P4: StartProducing called twice returns an Invalid error mentioning
// "restarted".
func TestDoubleStartIsRestarted(t *testing.T) {
	plan := Make(testContext())
	n := newTestNode("", nil, 0)
	plan.Add(n)

	if err := plan.StartProducing(); err != nil {
		t.Fatalf("first StartProducing() = %v, want nil", err)
	}
	err := plan.StartProducing()
	if err == nil || !errors.Is(err, ErrInvalid) {
		t.Fatalf("second StartProducing() = %v, want ErrInvalid", err)
	}
	if !strings.Contains(err.Error(), "restarted") {
		t.Fatalf("error %q doesn't mention restarted", err)
	}
}

// P6: StartProducing visits nodes in reverse-topological order (sinks
// before sources); a subsequent StopProducing visits them in
// topological order (sources before sinks).
func TestStartStopOrder(t *testing.T) {
	plan := Make(testContext())

	var mu sync.Mutex
	var startOrder, stopOrder []string
	record := func(slice *[]string, label string) {
		mu.Lock()
		defer mu.Unlock()
		*slice = append(*slice, label)
	}

	src := newTestNode("src", nil, 1)
	mid := newTestNode("mid", []ExecNode{src}, 1)
	snk := newTestNode("snk", []ExecNode{mid}, 0)
	src.AddOutput(mid)
	mid.AddOutput(snk)

	for _, n := range []*testNode{src, mid, snk} {
		label := n.Label()
		n.onStart = func(ctx Context) error { record(&startOrder, label); return nil }
		n.onStop = func(ctx Context) error { record(&stopOrder, label); return nil }
	}

	plan.Add(src)
	plan.Add(mid)
	plan.Add(snk)

	if err := plan.StartProducing(); err != nil {
		t.Fatalf("StartProducing() = %v, want nil", err)
	}
	want := []string{"snk", "mid", "src"}
	if !equalStrings(startOrder, want) {
		t.Fatalf("start order = %v, want %v", startOrder, want)
	}

	plan.StopProducing()
	wantStop := []string{"src", "mid", "snk"}
	if !equalStrings(stopOrder, wantStop) {
		t.Fatalf("stop order = %v, want %v", stopOrder, wantStop)
	}
}

// P7: if a node's StartProducing fails, only the nodes started before
// it are stopped, in the reverse of their start order.
func TestStartFailureUnwindsStartedPrefix(t *testing.T) {
	plan := Make(testContext())

	var mu sync.Mutex
	var stopOrder []string
	record := func(label string) {
		mu.Lock()
		defer mu.Unlock()
		stopOrder = append(stopOrder, label)
	}

	src := newTestNode("src", nil, 1)
	mid := newTestNode("mid", []ExecNode{src}, 1)
	snk := newTestNode("snk", []ExecNode{mid}, 0)
	src.AddOutput(mid)
	mid.AddOutput(snk)

	boom := errors.New("boom")
	mid.onStart = func(ctx Context) error { return boom } // second node to start (reverse-topo: snk, mid, src)

	for _, n := range []*testNode{src, mid, snk} {
		label := n.Label()
		n.onStop = func(ctx Context) error { record(label); return nil }
	}

	plan.Add(src)
	plan.Add(mid)
	plan.Add(snk)

	err := plan.StartProducing()
	if err == nil || !errors.Is(err, boom) {
		t.Fatalf("StartProducing() = %v, want wrapped boom", err)
	}
	want := []string{"snk"} // only snk started before mid failed, stopped in reverse of start order
	if !equalStrings(stopOrder, want) {
		t.Fatalf("stop order = %v, want %v", stopOrder, want)
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

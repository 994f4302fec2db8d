package nodes

import (
	"fmt"
	"sync"

	"github.com/nsait-linaro/arrowplan/execution"
)

// Union passes batches through from every input unchanged, with no
// reordering and no synchronization between inputs: whichever upstream
// calls InputReceived first is forwarded first. InputFinished reaches
// Union's own outputs only once every input has reported its own
// InputFinished.
type Union struct {
	execution.NodeBase

	mu             sync.Mutex
	finishedInputs map[execution.ExecNode]bool
	totalBatches   int
}

// UnionOptions is the factory payload for "union".
type UnionOptions struct{}

func inputLabelsForUnion(n int) []string {
	labels := make([]string, n)
	for i := range labels {
		labels[i] = fmt.Sprintf("input_%d_label", i)
	}
	return labels
}

func NewUnion(plan *execution.ExecPlan, label string, inputs []execution.ExecNode) *Union {
	n := &Union{
		NodeBase:       execution.NewNodeBase(label, inputs[0].OutputSchema(), inputs, inputLabelsForUnion(len(inputs)), 1),
		finishedInputs: make(map[execution.ExecNode]bool, len(inputs)),
	}
	n.SetSelf(n)
	plan.Add(n)
	return n
}

func init() {
	execution.Register("union", func(plan *execution.ExecPlan, inputs []execution.ExecNode, label string, options any) (execution.ExecNode, error) {
		if len(inputs) < 1 {
			return nil, fmt.Errorf("union expects at least one input, got %d", len(inputs))
		}
		return NewUnion(plan, label, inputs), nil
	})
}

func (u *Union) StartProducing(ctx execution.Context) error { return nil }

func (u *Union) InputReceived(ctx execution.ProduceContext, sender execution.ExecNode, batch execution.Batch) error {
	for _, out := range u.Outputs() {
		if err := out.InputReceived(ctx, u, batch); err != nil {
			return err
		}
	}
	return nil
}

func (u *Union) InputFinished(ctx execution.ProduceContext, sender execution.ExecNode, totalBatches int) error {
	u.mu.Lock()
	u.finishedInputs[sender] = true
	u.totalBatches += totalBatches
	allDone := len(u.finishedInputs) == len(u.Inputs())
	total := u.totalBatches
	u.mu.Unlock()

	if !allDone {
		return nil
	}

	for _, out := range u.Outputs() {
		if err := out.InputFinished(ctx, u, total); err != nil {
			return err
		}
	}
	u.Finished().Settle(nil)
	return nil
}

func (u *Union) ErrorReceived(ctx execution.ProduceContext, sender execution.ExecNode, err error) error {
	for _, out := range u.Outputs() {
		_ = out.ErrorReceived(ctx, u, err)
	}
	u.Finished().Settle(err)
	return nil
}

func (u *Union) StopProducing(ctx execution.Context) error {
	for _, in := range u.Inputs() {
		if err := in.StopProducing(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (u *Union) String() string {
	return u.RenderString("Union")
}

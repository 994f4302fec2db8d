package nodes

import (
	"fmt"

	"github.com/apache/arrow/go/v15/arrow/compute"

	"github.com/nsait-linaro/arrowplan/execution"
)

// Filter is a stateless one-in-one-out operator: it evaluates a boolean
// predicate against every incoming batch and forwards only the
// matching rows. Empty batches are forwarded too, so a downstream
// Union or ConsumingSink counting batch indices never sees a gap.
//
// Uses compute.FilterRecordBatch rather than a hand-rolled rebatching
// pass; the rebatching variant only pays off at very low selectivity,
// and isn't worth the extra state here.
type Filter struct {
	execution.NodeBase

	predicate execution.Expression
}

// FilterOptions is the factory payload for "filter".
type FilterOptions struct {
	Predicate execution.Expression
}

func NewFilter(plan *execution.ExecPlan, label string, input execution.ExecNode, predicate execution.Expression) *Filter {
	n := &Filter{
		NodeBase:  execution.NewNodeBase(label, input.OutputSchema(), []execution.ExecNode{input}, []string{"target"}, 1),
		predicate: predicate,
	}
	n.SetSelf(n)
	plan.Add(n)
	return n
}

func init() {
	execution.Register("filter", func(plan *execution.ExecPlan, inputs []execution.ExecNode, label string, options any) (execution.ExecNode, error) {
		if len(inputs) != 1 {
			return nil, fmt.Errorf("filter expects exactly one input, got %d", len(inputs))
		}
		opts, ok := options.(FilterOptions)
		if !ok {
			return nil, fmt.Errorf("filter expects FilterOptions, got %T", options)
		}
		return NewFilter(plan, label, inputs[0], opts.Predicate), nil
	})
}

func (f *Filter) StartProducing(ctx execution.Context) error { return nil }

func (f *Filter) InputReceived(ctx execution.ProduceContext, sender execution.ExecNode, batch execution.Batch) error {
	selection, err := f.predicate.Evaluate(ctx.Context, batch)
	if err != nil {
		return fmt.Errorf("filter %q: couldn't evaluate predicate: %w", f.Label(), err)
	}
	defer selection.Release()

	out, err := compute.FilterRecordBatch(ctx.Context.Context, batch.Record, selection, &compute.FilterOptions{
		NullSelection: compute.SelectionDropNulls,
	})
	if err != nil {
		return fmt.Errorf("filter %q: couldn't filter batch: %w", f.Label(), err)
	}
	defer out.Release()

	for _, out2 := range f.Outputs() {
		if err := out2.InputReceived(ctx, f, execution.Batch{Record: out}); err != nil {
			return err
		}
	}
	return nil
}

func (f *Filter) InputFinished(ctx execution.ProduceContext, sender execution.ExecNode, totalBatches int) error {
	for _, out := range f.Outputs() {
		if err := out.InputFinished(ctx, f, totalBatches); err != nil {
			return err
		}
	}
	f.Finished().Settle(nil)
	return nil
}

func (f *Filter) ErrorReceived(ctx execution.ProduceContext, sender execution.ExecNode, inErr error) error {
	for _, out := range f.Outputs() {
		_ = out.ErrorReceived(ctx, f, inErr)
	}
	f.Finished().Settle(inErr)
	return nil
}

func (f *Filter) StopProducing(ctx execution.Context) error {
	for _, in := range f.Inputs() {
		if err := in.StopProducing(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (f *Filter) String() string {
	return f.RenderString("Filter")
}

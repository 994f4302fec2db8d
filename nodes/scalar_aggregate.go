package nodes

import (
	"fmt"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"

	"github.com/nsait-linaro/arrowplan/aggregates"
	"github.com/nsait-linaro/arrowplan/execution"
)

// ScalarAggregateColumn names one kernel application: which column it
// reads and what kernel (registered in the aggregates package) updates
// its running state.
type ScalarAggregateColumn struct {
	KernelName  string
	InputColumn int
	OutputName  string
}

// ScalarAggregate consumes every input batch into one running state per
// declared kernel, and on InputFinished emits a single row of results
// to its outputs, followed by InputFinished with a count of 1.
type ScalarAggregate struct {
	execution.NodeBase

	columns []ScalarAggregateColumn
	states  []aggregates.AggregateState
}

// ScalarAggregateOptions is the factory payload for "aggregate".
type ScalarAggregateOptions struct {
	Columns []ScalarAggregateColumn
}

func outputSchemaForScalarAggregate(columns []ScalarAggregateColumn, inputSchema *arrow.Schema, kernels []aggregates.Kernel) *arrow.Schema {
	fields := make([]arrow.Field, len(columns))
	for i, c := range columns {
		inputType := inputSchema.Field(c.InputColumn).Type
		fields[i] = arrow.Field{Name: c.OutputName, Type: kernels[i].OutputType(inputType)}
	}
	return arrow.NewSchema(fields, nil)
}

func NewScalarAggregate(plan *execution.ExecPlan, label string, input execution.ExecNode, columns []ScalarAggregateColumn) (*ScalarAggregate, error) {
	kernels := make([]aggregates.Kernel, len(columns))
	states := make([]aggregates.AggregateState, len(columns))
	for i, c := range columns {
		k, ok := aggregates.Lookup(c.KernelName)
		if !ok {
			return nil, fmt.Errorf("unknown scalar aggregate kernel %q", c.KernelName)
		}
		kernels[i] = k
	}

	outSchema := outputSchemaForScalarAggregate(columns, input.OutputSchema(), kernels)

	n := &ScalarAggregate{
		NodeBase: execution.NewNodeBase(label, outSchema, []execution.ExecNode{input}, []string{"target"}, 1),
		columns:  columns,
		states:   states,
	}
	n.SetSelf(n)
	plan.Add(n)
	return n, nil
}

func init() {
	execution.Register("aggregate", func(plan *execution.ExecPlan, inputs []execution.ExecNode, label string, options any) (execution.ExecNode, error) {
		if len(inputs) != 1 {
			return nil, fmt.Errorf("aggregate expects exactly one input, got %d", len(inputs))
		}
		opts, ok := options.(ScalarAggregateOptions)
		if !ok {
			return nil, fmt.Errorf("aggregate expects ScalarAggregateOptions, got %T", options)
		}
		return NewScalarAggregate(plan, label, inputs[0], opts.Columns)
	})
}

func (a *ScalarAggregate) StartProducing(ctx execution.Context) error {
	for i, c := range a.columns {
		k, _ := aggregates.Lookup(c.KernelName)
		dt := a.Inputs()[0].OutputSchema().Field(c.InputColumn).Type
		a.states[i] = k.NewState(ctx.Allocator, dt)
	}
	return nil
}

// InputReceived folds batch into every declared kernel's running state.
// Per-input-slot calls from a single upstream are already serialized
// (§5), so one mutable accumulator per kernel needs no locking of its
// own.
func (a *ScalarAggregate) InputReceived(ctx execution.ProduceContext, sender execution.ExecNode, batch execution.Batch) error {
	for i, c := range a.columns {
		a.states[i].Consume(batch.Column(c.InputColumn))
	}
	return nil
}

func (a *ScalarAggregate) InputFinished(ctx execution.ProduceContext, sender execution.ExecNode, totalBatches int) error {
	outCols := make([]arrow.Array, len(a.columns))
	for i := range a.columns {
		outCols[i] = a.states[i].Finish()
	}
	out := array.NewRecord(a.OutputSchema(), outCols, 1)
	defer out.Release()

	for _, out2 := range a.Outputs() {
		if err := out2.InputReceived(ctx, a, execution.Batch{Record: out}); err != nil {
			return err
		}
	}
	for _, out2 := range a.Outputs() {
		if err := out2.InputFinished(ctx, a, 1); err != nil {
			return err
		}
	}
	a.Finished().Settle(nil)
	return nil
}

func (a *ScalarAggregate) ErrorReceived(ctx execution.ProduceContext, sender execution.ExecNode, err error) error {
	for _, out := range a.Outputs() {
		_ = out.ErrorReceived(ctx, a, err)
	}
	a.Finished().Settle(err)
	return nil
}

func (a *ScalarAggregate) StopProducing(ctx execution.Context) error {
	for _, in := range a.Inputs() {
		if err := in.StopProducing(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (a *ScalarAggregate) String() string {
	return a.RenderString("ScalarAggregate")
}

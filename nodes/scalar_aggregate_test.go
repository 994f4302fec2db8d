package nodes

import (
	"testing"

	"github.com/nsait-linaro/arrowplan/execution"
)

// S5: a scalar sum and a scalar any() fold across every batch into a
// single output row, both ignoring nulls in their own column.
func TestScalarAggregateSumAndAny(t *testing.T) {
	ctx := testContext(t)
	pool := ctx.Allocator

	batches := []execution.Batch{
		makeBatch(basicSchema,
			int64Column(pool, []int64{1, 2, 0}, 2),
			boolColumn(pool, []bool{true, true, true}),
		),
		makeBatch(basicSchema,
			int64Column(pool, []int64{6, 6, 7}),
			boolColumn(pool, []bool{false, false, false}, 0),
		),
	}

	plan := execution.Make(ctx)
	channel := execution.NewSerialBatchChannel(execution.SliceProducer(batches), 0)
	src := NewSource(plan, "src", basicSchema, channel)
	agg, err := NewScalarAggregate(plan, "agg", src, []ScalarAggregateColumn{
		{KernelName: "sum", InputColumn: 0, OutputName: "sum_i"},
		{KernelName: "any", InputColumn: 1, OutputName: "any_b"},
	})
	if err != nil {
		t.Fatalf("NewScalarAggregate: %v", err)
	}
	sink := NewSink(plan, "snk", agg, 0, 0)
	src.AddOutput(agg)
	agg.AddOutput(sink)

	if err := plan.StartProducing(); err != nil {
		t.Fatalf("StartProducing: %v", err)
	}

	got := drainSink(t, sink)
	gotRows := rowsOf(t, got, agg.OutputSchema())

	want := []row{{int64(22), true}}
	assertRowsEqual(t, want, gotRows)
}

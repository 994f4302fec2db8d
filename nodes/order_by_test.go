package nodes

import (
	"context"
	"testing"

	"github.com/nsait-linaro/arrowplan/execution"
)

// P9: source -> order_by_sink yields the full stable sort of every
// input row by the declared key.
func TestOrderBySinkStableSort(t *testing.T) {
	ctx := testContext(t)
	pool := ctx.Allocator

	batches := []execution.Batch{
		makeBatch(intStrSchema,
			int64Column(pool, []int64{3, 1}),
			stringColumn(pool, []string{"c", "a1"}),
		),
		makeBatch(intStrSchema,
			int64Column(pool, []int64{1, 2}),
			stringColumn(pool, []string{"a2", "b"}),
		),
	}

	plan := execution.Make(ctx)
	channel := execution.NewSerialBatchChannel(execution.SliceProducer(batches), 0)
	src := NewSource(plan, "src", intStrSchema, channel)
	sink := NewOrderBySink(plan, "snk", src, []OrderByKey{{Column: 0}})
	src.AddOutput(sink)

	if err := plan.StartProducing(); err != nil {
		t.Fatalf("StartProducing: %v", err)
	}

	got := drainSink2(t, sink)
	gotRows := rowsOf(t, got, sink.OutputSchema())

	// Rows keyed on 1 ("a1" then "a2") must keep their relative input
	// order: stable sort, not just sorted.
	want := []row{
		{int64(1), "a1"},
		{int64(1), "a2"},
		{int64(2), "b"},
		{int64(3), "c"},
	}
	assertRowsEqual(t, want, gotRows)
}

// drainSink2 pulls every batch out of an OrderBySink until it reports
// end of stream.
func drainSink2(t *testing.T, sink *OrderBySink) []execution.Batch {
	t.Helper()
	var out []execution.Batch
	for {
		batch, ok, err := sink.Next(context.Background())
		if err != nil {
			t.Fatalf("sink.Next: %v", err)
		}
		if !ok {
			return out
		}
		out = append(out, batch)
	}
}

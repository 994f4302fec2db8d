package nodes

import (
	"testing"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/memory"

	"github.com/nsait-linaro/arrowplan/execution"
)

// equalsInt64Const builds a predicate expression evaluating column ==
// want over an int64 column.
func equalsInt64Const(column int, want int64) execution.Expression {
	return execution.NewFunctionCall(func(args []arrow.Array) (arrow.Array, error) {
		col := args[0].(*array.Int64)
		b := array.NewBooleanBuilder(memory.NewGoAllocator())
		defer b.Release()
		for i := 0; i < col.Len(); i++ {
			if col.IsNull(i) {
				b.AppendNull()
				continue
			}
			b.Append(col.Value(i) == want)
		}
		return b.NewBooleanArray(), nil
	}, []execution.Expression{execution.NewColumnRef(column)})
}

// S2: filter preserves batch boundaries -- an all-rejected batch comes
// through as an empty batch rather than being dropped.
func TestFilterPreservesBatchBoundaries(t *testing.T) {
	ctx := testContext(t)
	pool := ctx.Allocator

	batch1 := makeBatch(basicSchema,
		int64Column(pool, []int64{1, 2}),
		boolColumn(pool, []bool{true, true}),
	)
	batch2 := makeBatch(basicSchema,
		int64Column(pool, []int64{3, 4, 6}),
		boolColumn(pool, []bool{false, false, false}, 0),
	)

	plan := execution.Make(ctx)
	channel := execution.NewSerialBatchChannel(execution.SliceProducer([]execution.Batch{batch1, batch2}), 0)
	src := NewSource(plan, "src", basicSchema, channel)
	predicate := equalsInt64Const(0, 6)
	filter := NewFilter(plan, "flt", src, predicate)
	sink := NewSink(plan, "snk", filter, 0, 0)
	src.AddOutput(filter)
	filter.AddOutput(sink)

	if err := plan.StartProducing(); err != nil {
		t.Fatalf("StartProducing: %v", err)
	}

	got := drainSink(t, sink)
	if len(got) != 2 {
		t.Fatalf("got %d batches, want 2 (one per input batch)", len(got))
	}
	if got[0].NumRows() != 0 {
		t.Fatalf("first batch has %d rows, want 0", got[0].NumRows())
	}
	wantSecond := []row{{int64(6), false}}
	assertRowsEqual(t, wantSecond, rowsOf(t, got[1:], basicSchema))
}

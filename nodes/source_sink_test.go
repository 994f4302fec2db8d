package nodes

import (
	"testing"

	"github.com/apache/arrow/go/v15/arrow"

	"github.com/nsait-linaro/arrowplan/execution"
)

var basicSchema = arrow.NewSchema([]arrow.Field{
	{Name: "i", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	{Name: "b", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
}, nil)

func runSourceTo(t *testing.T, schema *arrow.Schema, batches []execution.Batch, build func(plan *execution.ExecPlan, src execution.ExecNode) execution.ExecNode) *execution.ExecPlan {
	t.Helper()
	ctx := testContext(t)
	plan := execution.Make(ctx)

	channel := execution.NewSerialBatchChannel(execution.SliceProducer(batches), 0)
	src := NewSource(plan, "src", schema, channel)
	sink := build(plan, src)
	src.AddOutput(sink)

	if err := plan.StartProducing(); err != nil {
		t.Fatalf("StartProducing: %v", err)
	}
	return plan
}

// S1: source -> sink over two input batches reproduces the input as a
// multiset.
func TestSourceSinkBasicMultiset(t *testing.T) {
	ctx := testContext(t)
	pool := ctx.Allocator

	batch1 := makeBatch(basicSchema,
		int64Column(pool, []int64{1, 2}),
		boolColumn(pool, []bool{true, true}),
	)
	batch2 := makeBatch(basicSchema,
		int64Column(pool, []int64{3, 4}),
		boolColumn(pool, []bool{false, false}, 0),
	)

	var sink *Sink
	plan := runSourceTo(t, basicSchema, []execution.Batch{batch1, batch2}, func(plan *execution.ExecPlan, src execution.ExecNode) execution.ExecNode {
		sink = NewSink(plan, "snk", src, 0, 0)
		return sink
	})

	got := drainSink(t, sink)
	gotRows := rowsOf(t, got, basicSchema)

	want := []row{
		{int64(1), true},
		{int64(2), true},
		{int64(3), nil},
		{int64(4), false},
	}
	assertMultisetEqual(t, want, gotRows)

	if err := plan.Finished().Wait(); err != nil {
		t.Fatalf("plan finished with error: %v", err)
	}
}

// P8: serial mode delivers batches (and the rows within them) in the
// exact order they were produced.
func TestSourceSinkSerialOrderPreserved(t *testing.T) {
	ctx := testContext(t)
	pool := ctx.Allocator

	batches := []execution.Batch{
		makeBatch(basicSchema, int64Column(pool, []int64{1}), boolColumn(pool, []bool{true})),
		makeBatch(basicSchema, int64Column(pool, []int64{2}), boolColumn(pool, []bool{false})),
		makeBatch(basicSchema, int64Column(pool, []int64{3}), boolColumn(pool, []bool{true})),
	}

	var sink *Sink
	runSourceTo(t, basicSchema, batches, func(plan *execution.ExecPlan, src execution.ExecNode) execution.ExecNode {
		sink = NewSink(plan, "snk", src, 0, 0)
		return sink
	})

	got := drainSink(t, sink)
	gotRows := rowsOf(t, got, basicSchema)

	want := []row{
		{int64(1), true},
		{int64(2), false},
		{int64(3), true},
	}
	assertRowsEqual(t, want, gotRows)
}

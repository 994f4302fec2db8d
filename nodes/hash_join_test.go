package nodes

import (
	"testing"

	"github.com/nsait-linaro/arrowplan/execution"
)

// S6: inner hash join on a string key matches every left row against
// every right row sharing the same key, and only those.
func TestHashJoinInnerSelfJoin(t *testing.T) {
	ctx := testContext(t)
	pool := ctx.Allocator

	leftBatch := makeBatch(intStrSchema,
		int64Column(pool, []int64{3, 3, 12, 3, 7, -1, 5}),
		stringColumn(pool, []string{"alfa", "alfa", "alfa", "beta", "beta", "gama", "gama"}),
	)
	rightBatch := makeBatch(intStrSchema,
		int64Column(pool, []int64{-2, -8, -1}),
		stringColumn(pool, []string{"alfa", "alfa", "gama"}),
	)

	plan := execution.Make(ctx)
	leftChannel := execution.NewSerialBatchChannel(execution.SliceProducer([]execution.Batch{leftBatch}), 0)
	rightChannel := execution.NewSerialBatchChannel(execution.SliceProducer([]execution.Batch{rightBatch}), 0)
	leftSrc := NewSource(plan, "left_src", intStrSchema, leftChannel)
	rightSrc := NewSource(plan, "right_src", intStrSchema, rightChannel)

	join := NewHashJoin(plan, "join", leftSrc, rightSrc, []int{1}, []int{1}, Inner, "left_", "right_")
	leftSrc.AddOutput(join)
	rightSrc.AddOutput(join)

	sink := NewSink(plan, "snk", join, 0, 0)
	join.AddOutput(sink)

	if err := plan.StartProducing(); err != nil {
		t.Fatalf("StartProducing: %v", err)
	}

	got := drainSink(t, sink)
	gotRows := rowsOf(t, got, join.OutputSchema())

	want := []row{
		{int64(3), "alfa", int64(-2), "alfa"},
		{int64(3), "alfa", int64(-8), "alfa"},
		{int64(3), "alfa", int64(-2), "alfa"},
		{int64(3), "alfa", int64(-8), "alfa"},
		{int64(12), "alfa", int64(-2), "alfa"},
		{int64(12), "alfa", int64(-8), "alfa"},
		{int64(-1), "gama", int64(-1), "gama"},
		{int64(5), "gama", int64(-1), "gama"},
	}
	assertMultisetEqual(t, want, gotRows)
}

// LeftAnti: a left row with no matching right key survives; a left row
// with a matching key is dropped.
func TestHashJoinLeftAnti(t *testing.T) {
	ctx := testContext(t)
	pool := ctx.Allocator

	leftBatch := makeBatch(intStrSchema,
		int64Column(pool, []int64{1, 2}),
		stringColumn(pool, []string{"alfa", "beta"}),
	)
	rightBatch := makeBatch(intStrSchema,
		int64Column(pool, []int64{9}),
		stringColumn(pool, []string{"alfa"}),
	)

	plan := execution.Make(ctx)
	leftChannel := execution.NewSerialBatchChannel(execution.SliceProducer([]execution.Batch{leftBatch}), 0)
	rightChannel := execution.NewSerialBatchChannel(execution.SliceProducer([]execution.Batch{rightBatch}), 0)
	leftSrc := NewSource(plan, "left_src", intStrSchema, leftChannel)
	rightSrc := NewSource(plan, "right_src", intStrSchema, rightChannel)

	join := NewHashJoin(plan, "join", leftSrc, rightSrc, []int{1}, []int{1}, LeftAnti, "", "")
	leftSrc.AddOutput(join)
	rightSrc.AddOutput(join)

	sink := NewSink(plan, "snk", join, 0, 0)
	join.AddOutput(sink)

	if err := plan.StartProducing(); err != nil {
		t.Fatalf("StartProducing: %v", err)
	}

	got := drainSink(t, sink)
	gotRows := rowsOf(t, got, join.OutputSchema())

	want := []row{{int64(2), "beta"}}
	assertMultisetEqual(t, want, gotRows)
}

// RightOuter: a right (table) row with no matching left row is emitted
// once, padded with nulls on the left side.
func TestHashJoinRightOuterPadsUnmatched(t *testing.T) {
	ctx := testContext(t)
	pool := ctx.Allocator

	leftBatch := makeBatch(intStrSchema,
		int64Column(pool, []int64{1}),
		stringColumn(pool, []string{"alfa"}),
	)
	rightBatch := makeBatch(intStrSchema,
		int64Column(pool, []int64{9, 10}),
		stringColumn(pool, []string{"alfa", "zeta"}),
	)

	plan := execution.Make(ctx)
	leftChannel := execution.NewSerialBatchChannel(execution.SliceProducer([]execution.Batch{leftBatch}), 0)
	rightChannel := execution.NewSerialBatchChannel(execution.SliceProducer([]execution.Batch{rightBatch}), 0)
	leftSrc := NewSource(plan, "left_src", intStrSchema, leftChannel)
	rightSrc := NewSource(plan, "right_src", intStrSchema, rightChannel)

	join := NewHashJoin(plan, "join", leftSrc, rightSrc, []int{1}, []int{1}, RightOuter, "left_", "right_")
	leftSrc.AddOutput(join)
	rightSrc.AddOutput(join)

	sink := NewSink(plan, "snk", join, 0, 0)
	join.AddOutput(sink)

	if err := plan.StartProducing(); err != nil {
		t.Fatalf("StartProducing: %v", err)
	}

	got := drainSink(t, sink)
	gotRows := rowsOf(t, got, join.OutputSchema())

	want := []row{
		{int64(1), "alfa", int64(9), "alfa"},
		{nil, nil, int64(10), "zeta"},
	}
	assertMultisetEqual(t, want, gotRows)
}

package execution

import (
	"fmt"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/scalar"
)

// Expression evaluates against a Batch to produce a single arrow.Array:
// a boolean mask for a filter predicate, or a computed column for a
// projection. The expression language itself lives outside this module;
// these are the leaves the engine knows how to evaluate directly, and
// whatever compiles an expression tree down to one of these is someone
// else's problem.
type Expression interface {
	Evaluate(ctx Context, batch Batch) (arrow.Array, error)
}

// ColumnRef reads one existing column out of the batch unchanged.
type ColumnRef struct {
	index int
}

func NewColumnRef(index int) *ColumnRef {
	return &ColumnRef{index: index}
}

func (r *ColumnRef) Evaluate(ctx Context, batch Batch) (arrow.Array, error) {
	return batch.Column(r.index), nil
}

// ConstArray returns a pre-built array unchanged, asserting its length
// matches the batch. Mostly useful for tests that want a canned
// predicate or projection column without going through the expression
// engine at all.
type ConstArray struct {
	Array arrow.Array
}

func (c *ConstArray) Evaluate(ctx Context, batch Batch) (arrow.Array, error) {
	if c.Array.Len() != int(batch.NumRows()) {
		panic("const array length doesn't match batch length")
	}
	return c.Array, nil
}

// Constant broadcasts a scalar value across the batch's row count.
type Constant struct {
	Value scalar.Scalar
}

func (c *Constant) Evaluate(ctx Context, batch Batch) (arrow.Array, error) {
	alloc := ctx.Allocator
	if alloc == nil {
		panic("Constant.Evaluate requires an allocator on the context")
	}
	return scalar.MakeArrayFromScalar(c.Value, int(batch.NumRows()), alloc)
}

// FunctionCall evaluates its arguments and applies fn to the resulting
// columns. This is the hook the external expression engine compiles
// down to: every non-trivial predicate or projection expression
// ultimately becomes a tree rooted in one of these.
type FunctionCall struct {
	fn   func([]arrow.Array) (arrow.Array, error)
	args []Expression
}

func NewFunctionCall(fn func([]arrow.Array) (arrow.Array, error), args []Expression) *FunctionCall {
	return &FunctionCall{fn: fn, args: args}
}

func (f *FunctionCall) Evaluate(ctx Context, batch Batch) (arrow.Array, error) {
	args := make([]arrow.Array, len(f.args))
	for i, arg := range f.args {
		arr, err := arg.Evaluate(ctx, batch)
		if err != nil {
			return nil, fmt.Errorf("couldn't evaluate argument %d: %w", i, err)
		}
		args[i] = arr
	}
	return f.fn(args)
}

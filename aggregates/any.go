package aggregates

import (
	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/memory"
)

// anyKernel is logical OR across a boolean column: true once any
// non-null true value has been consumed.
type anyKernel struct{}

func (anyKernel) OutputType(arrow.DataType) arrow.DataType { return arrow.FixedWidthTypes.Boolean }

func (anyKernel) NewState(pool memory.Allocator, dt arrow.DataType) AggregateState {
	return &anyState{}
}

type anyState struct {
	value bool
}

func (s *anyState) Consume(arr arrow.Array) {
	typedArr := arr.(*array.Boolean)
	for i := 0; i < typedArr.Len(); i++ {
		if typedArr.IsNull(i) {
			continue
		}
		if typedArr.Value(i) {
			s.value = true
			return
		}
	}
}

func (s *anyState) Finish() arrow.Array {
	builder := array.NewBooleanBuilder(memory.NewGoAllocator())
	defer builder.Release()
	builder.Append(s.value)
	return builder.NewArray()
}

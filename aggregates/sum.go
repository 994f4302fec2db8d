package aggregates

import (
	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/bitutil"
	"github.com/apache/arrow/go/v15/arrow/memory"
)

type sumKernel struct{}

func (sumKernel) OutputType(arrow.DataType) arrow.DataType { return arrow.PrimitiveTypes.Int64 }

func (sumKernel) NewState(pool memory.Allocator, dt arrow.DataType) AggregateState {
	return &sumState{}
}

type sumState struct {
	sum int64
}

func (s *sumState) Consume(arr arrow.Array) {
	typedArr := arr.(*array.Int64)
	for i := 0; i < typedArr.Len(); i++ {
		if typedArr.IsNull(i) {
			continue
		}
		s.sum += typedArr.Value(i)
	}
}

func (s *sumState) Finish() arrow.Array {
	builder := array.NewInt64Builder(memory.NewGoAllocator())
	defer builder.Release()
	builder.Append(s.sum)
	return builder.NewArray()
}

type hashSumKernel struct{}

func (hashSumKernel) OutputType(arrow.DataType) arrow.DataType { return arrow.PrimitiveTypes.Int64 }

func (hashSumKernel) NewGroupState(pool memory.Allocator, dt arrow.DataType) GroupState {
	return &hashSumState{data: memory.NewResizableBuffer(pool)}
}

type hashSumState struct {
	data  *memory.Buffer
	state []int64
}

func (s *hashSumState) grow(groupID int) {
	if groupID < 0 || groupID < len(s.state) {
		return
	}
	s.data.Resize(arrow.Int64Traits.BytesRequired(bitutil.NextPowerOf2(groupID + 1)))
	s.state = arrow.Int64Traits.CastFromBytes(s.data.Bytes())
}

func (s *hashSumState) Consume(arr arrow.Array, groupID, rowIndex int) {
	s.grow(groupID)
	typedArr := arr.(*array.Int64)
	if typedArr.IsNull(rowIndex) {
		return
	}
	s.state[groupID] += typedArr.Value(rowIndex)
}

func (s *hashSumState) Finish(numGroups int) arrow.Array {
	s.grow(numGroups - 1)
	data := array.NewData(arrow.PrimitiveTypes.Int64, numGroups, []*memory.Buffer{nil, s.data}, nil, 0, 0)
	defer data.Release()
	return array.NewInt64Data(data)
}

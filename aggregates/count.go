package aggregates

import (
	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/bitutil"
	"github.com/apache/arrow/go/v15/arrow/memory"
)

type countKernel struct{}

func (countKernel) OutputType(arrow.DataType) arrow.DataType { return arrow.PrimitiveTypes.Int64 }

func (countKernel) NewState(pool memory.Allocator, dt arrow.DataType) AggregateState {
	return &countState{count: 0}
}

type countState struct {
	count int64
}

func (s *countState) Consume(arr arrow.Array) {
	s.count += int64(arr.Len() - arr.NullN())
}

func (s *countState) Finish() arrow.Array {
	builder := array.NewInt64Builder(memory.NewGoAllocator())
	defer builder.Release()
	builder.Append(s.count)
	return builder.NewArray()
}

type hashCountKernel struct{}

func (hashCountKernel) OutputType(arrow.DataType) arrow.DataType { return arrow.PrimitiveTypes.Int64 }

func (hashCountKernel) NewGroupState(pool memory.Allocator, dt arrow.DataType) GroupState {
	return &hashCountState{data: memory.NewResizableBuffer(pool)}
}

// hashCountState stores one running count per group, backed by a
// single growable buffer so Finish can hand the counts to an Arrow
// array without a copy.
type hashCountState struct {
	data  *memory.Buffer
	state []int64
}

func (s *hashCountState) grow(groupID int) {
	if groupID < 0 || groupID < len(s.state) {
		return
	}
	s.data.Resize(arrow.Int64Traits.BytesRequired(bitutil.NextPowerOf2(groupID + 1)))
	s.state = arrow.Int64Traits.CastFromBytes(s.data.Bytes())
}

func (s *hashCountState) Consume(arr arrow.Array, groupID, rowIndex int) {
	s.grow(groupID)
	if arr.IsNull(rowIndex) {
		return
	}
	s.state[groupID]++
}

func (s *hashCountState) Finish(numGroups int) arrow.Array {
	s.grow(numGroups - 1)
	data := array.NewData(arrow.PrimitiveTypes.Int64, numGroups, []*memory.Buffer{nil, s.data}, nil, 0, 0)
	defer data.Release()
	return array.NewInt64Data(data)
}

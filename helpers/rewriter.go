package helpers

import (
	"fmt"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
)

// MakeColumnRewriter compiles a function that appends arr's value at a
// given row index to builder, preserving nulls. Used to materialize
// output columns row-by-row from a source array picked by index (join
// output assembly, join table build, order-by and top-K output).
func MakeColumnRewriter(builder array.Builder, arr arrow.Array) func(rowIndex int) {
	switch b := builder.(type) {
	case *array.Int64Builder:
		return rewriterForType[int64](b, arr.(*array.Int64))
	case *array.Float64Builder:
		return rewriterForType[float64](b, arr.(*array.Float64))
	case *array.BooleanBuilder:
		return rewriterForType[bool](b, arr.(*array.Boolean))
	case *array.StringBuilder:
		return rewriterForType[string](b, arr.(*array.String))
	default:
		panic(fmt.Errorf("unsupported type for rewriting: %v", builder.Type()))
	}
}

func rewriterForType[T any, BuilderType interface {
	Append(v T)
	AppendNull()
}, ArrayType interface {
	Value(i int) T
	IsNull(i int) bool
}](builder BuilderType, arr ArrayType) func(rowIndex int) {
	return func(rowIndex int) {
		if arr.IsNull(rowIndex) {
			builder.AppendNull()
			return
		}
		builder.Append(arr.Value(rowIndex))
	}
}

// AppendNullRow appends a single null to builder, used when an outer
// join side has no match.
func AppendNullRow(builder array.Builder) {
	builder.AppendNull()
}

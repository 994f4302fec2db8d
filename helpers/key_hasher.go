// Package helpers holds the column-level building blocks shared by the
// hashing operators (group-by, hash join): per-row hashing, per-row
// equality, and per-row rewriting, each compiled once per schema into a
// closure so the hot loop never type-switches per row.
package helpers

import (
	"fmt"
	"math"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/segmentio/fasthash/fnv1a"
)

// MakeKeyHasher compiles a hasher over the given key columns. Returned
// hashes fold in null-ness per column so a null key never collides with
// a zero value of the same type.
func MakeKeyHasher(columns []arrow.Array) func(rowIndex int) uint64 {
	subHashers := make([]func(hash uint64, rowIndex int) uint64, len(columns))
	for i := range columns {
		subHashers[i] = columnHasher(columns[i])
	}
	return func(rowIndex int) uint64 {
		hash := fnv1a.Init64
		for _, hasher := range subHashers {
			hash = hasher(hash, rowIndex)
		}
		return hash
	}
}

func columnHasher(col arrow.Array) func(hash uint64, rowIndex int) uint64 {
	switch col.DataType().ID() {
	case arrow.INT64:
		typedArr := col.(*array.Int64)
		return func(hash uint64, rowIndex int) uint64 {
			if typedArr.IsNull(rowIndex) {
				return fnv1a.AddUint64(hash, 0)
			}
			return fnv1a.AddUint64(hash, uint64(typedArr.Value(rowIndex))+1)
		}
	case arrow.FLOAT64:
		typedArr := col.(*array.Float64)
		return func(hash uint64, rowIndex int) uint64 {
			if typedArr.IsNull(rowIndex) {
				return fnv1a.AddUint64(hash, 0)
			}
			return fnv1a.AddUint64(hash, math.Float64bits(typedArr.Value(rowIndex))+1)
		}
	case arrow.BOOL:
		typedArr := col.(*array.Boolean)
		return func(hash uint64, rowIndex int) uint64 {
			if typedArr.IsNull(rowIndex) {
				return fnv1a.AddUint64(hash, 0)
			}
			if typedArr.Value(rowIndex) {
				return fnv1a.AddUint64(hash, 2)
			}
			return fnv1a.AddUint64(hash, 1)
		}
	case arrow.STRING:
		typedArr := col.(*array.String)
		return func(hash uint64, rowIndex int) uint64 {
			if typedArr.IsNull(rowIndex) {
				return fnv1a.AddUint64(hash, 0)
			}
			return fnv1a.AddString64(hash, typedArr.Value(rowIndex))
		}
	default:
		panic(fmt.Errorf("unsupported type for key hashing: %v", col.DataType()))
	}
}

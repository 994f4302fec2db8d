package helpers

import (
	"fmt"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
)

// MakeKeyEqualityChecker compiles a row-pair equality check between two
// (possibly different) batches' key columns. nullsEqual selects SQL
// join semantics (false: a null key never matches anything, not even
// another null) versus grouping semantics (true: nulls form their own
// group).
func MakeKeyEqualityChecker(leftKeys, rightKeys []arrow.Array, nullsEqual bool) func(leftRowIndex, rightRowIndex int) bool {
	if len(leftKeys) != len(rightKeys) {
		panic(fmt.Errorf("key column count mismatch in equality checker: %d != %d", len(leftKeys), len(rightKeys)))
	}
	columnCheckers := make([]func(leftRowIndex, rightRowIndex int) bool, len(leftKeys))
	for i := range leftKeys {
		columnCheckers[i] = columnEqualityChecker(leftKeys[i], rightKeys[i], nullsEqual)
	}

	return func(leftRowIndex, rightRowIndex int) bool {
		for _, check := range columnCheckers {
			if !check(leftRowIndex, rightRowIndex) {
				return false
			}
		}
		return true
	}
}

func columnEqualityChecker(left, right arrow.Array, nullsEqual bool) func(leftRowIndex, rightRowIndex int) bool {
	if left.DataType().ID() != right.DataType().ID() {
		panic(fmt.Errorf("key type mismatch in equality checker: %v != %v", left.DataType(), right.DataType()))
	}

	nullCase := func(lNull, rNull bool) (bool, bool) {
		if !lNull && !rNull {
			return false, false
		}
		if nullsEqual {
			return true, lNull && rNull
		}
		return true, false
	}

	switch left.DataType().ID() {
	case arrow.INT64:
		l, r := left.(*array.Int64), right.(*array.Int64)
		return func(li, ri int) bool {
			if done, eq := nullCase(l.IsNull(li), r.IsNull(ri)); done {
				return eq
			}
			return l.Value(li) == r.Value(ri)
		}
	case arrow.FLOAT64:
		l, r := left.(*array.Float64), right.(*array.Float64)
		return func(li, ri int) bool {
			if done, eq := nullCase(l.IsNull(li), r.IsNull(ri)); done {
				return eq
			}
			return l.Value(li) == r.Value(ri)
		}
	case arrow.BOOL:
		l, r := left.(*array.Boolean), right.(*array.Boolean)
		return func(li, ri int) bool {
			if done, eq := nullCase(l.IsNull(li), r.IsNull(ri)); done {
				return eq
			}
			return l.Value(li) == r.Value(ri)
		}
	case arrow.STRING:
		l, r := left.(*array.String), right.(*array.String)
		return func(li, ri int) bool {
			if done, eq := nullCase(l.IsNull(li), r.IsNull(ri)); done {
				return eq
			}
			return l.Value(li) == r.Value(ri)
		}
	default:
		panic(fmt.Errorf("unsupported type for equality checking: %v", left.DataType()))
	}
}

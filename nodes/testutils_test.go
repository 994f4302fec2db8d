package nodes

import (
	"context"
	"testing"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/memory"
	"github.com/stretchr/testify/assert"

	"github.com/nsait-linaro/arrowplan/execution"
)

func testContext(t *testing.T) execution.Context {
	t.Helper()
	return execution.NewSerialContext(context.Background())
}

// int64Column builds an *array.Int64 from values, treating any index
// present in nulls as a null cell regardless of its value.
func int64Column(pool memory.Allocator, values []int64, nulls ...int) arrow.Array {
	b := array.NewInt64Builder(pool)
	defer b.Release()
	nullSet := toSet(nulls)
	for i, v := range values {
		if nullSet[i] {
			b.AppendNull()
			continue
		}
		b.Append(v)
	}
	return b.NewArray()
}

func boolColumn(pool memory.Allocator, values []bool, nulls ...int) arrow.Array {
	b := array.NewBooleanBuilder(pool)
	defer b.Release()
	nullSet := toSet(nulls)
	for i, v := range values {
		if nullSet[i] {
			b.AppendNull()
			continue
		}
		b.Append(v)
	}
	return b.NewArray()
}

func stringColumn(pool memory.Allocator, values []string, nulls ...int) arrow.Array {
	b := array.NewStringBuilder(pool)
	defer b.Release()
	nullSet := toSet(nulls)
	for i, v := range values {
		if nullSet[i] {
			b.AppendNull()
			continue
		}
		b.Append(v)
	}
	return b.NewArray()
}

func toSet(indices []int) map[int]bool {
	out := make(map[int]bool, len(indices))
	for _, i := range indices {
		out[i] = true
	}
	return out
}

func makeBatch(schema *arrow.Schema, cols ...arrow.Array) execution.Batch {
	length := int64(0)
	if len(cols) > 0 {
		length = int64(cols[0].Len())
	}
	return execution.Batch{Record: array.NewRecord(schema, cols, length)}
}

// drainSink pulls every batch out of sink until it reports end of
// stream, and fails the test if the upstream errored.
func drainSink(t *testing.T, sink *Sink) []execution.Batch {
	t.Helper()
	var out []execution.Batch
	for {
		batch, ok, err := sink.Next(context.Background())
		if err != nil {
			t.Fatalf("sink.Next: %v", err)
		}
		if !ok {
			return out
		}
		out = append(out, batch)
	}
}

// row is one batch row's cells, read out as plain Go values (nil for a
// null cell), in column order.
type row []any

func cellValue(col arrow.Array, rowIndex int) any {
	if col.IsNull(rowIndex) {
		return nil
	}
	switch c := col.(type) {
	case *array.Int64:
		return c.Value(rowIndex)
	case *array.Float64:
		return c.Value(rowIndex)
	case *array.Boolean:
		return c.Value(rowIndex)
	case *array.String:
		return c.Value(rowIndex)
	default:
		panic("cellValue: unsupported column type")
	}
}

// rowsOf flattens every row of every batch (in batch/row order) into
// plain-value rows, for multiset/order comparisons in tests.
func rowsOf(t *testing.T, batches []execution.Batch, schema *arrow.Schema) []row {
	t.Helper()
	var out []row
	columnCount := len(schema.Fields())
	for _, b := range batches {
		rows := int(b.NumRows())
		for r := 0; r < rows; r++ {
			rv := make(row, columnCount)
			for c := 0; c < columnCount; c++ {
				rv[c] = cellValue(b.Column(c), r)
			}
			out = append(out, rv)
		}
	}
	return out
}

// assertMultisetEqual compares want and got as multisets of rows,
// ignoring order, per S1's "equals as a multiset" requirement.
func assertMultisetEqual(t *testing.T, want, got []row) {
	t.Helper()
	assert.ElementsMatch(t, want, got)
}

// assertRowsEqual compares want and got in exact order, for scenarios
// where order is guaranteed (serial mode, a single-input operator).
func assertRowsEqual(t *testing.T, want, got []row) {
	t.Helper()
	assert.Equal(t, want, got)
}

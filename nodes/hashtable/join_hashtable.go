// Package hashtable builds and probes the hash-indexed table behind
// HashJoin's build side. The build side's rows are hashed by key,
// sorted by hash so every row sharing a hash value sits in a
// contiguous run, and indexed by an intintmap pointing at the start of
// each run -- the same layout octosql's stream join partitions use,
// minus the per-core partitioning (a join table here is built once per
// plan run, not re-sharded per probe).
package hashtable

import (
	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/memory"
	"github.com/brentp/intintmap"
	"github.com/twotwotwo/sorts"

	"github.com/nsait-linaro/arrowplan/execution"
	"github.com/nsait-linaro/arrowplan/helpers"
)

// JoinTable is the right-hand side of a hash join, fully materialized
// and indexed by its key columns' hash.
type JoinTable struct {
	hashStartIndices *intintmap.Map
	hashes           *array.Uint64
	values           execution.Batch
	keyIndices       []int

	matched []bool
}

// Build consumes batches fully, hashes each row's keyIndices columns,
// and returns a table ready for probing. The table does not keep
// references to batches: every column is copied row-by-row, in hash
// order, into one new record.
func Build(pool memory.Allocator, batches []execution.Batch, schema *arrow.Schema, keyIndices []int) *JoinTable {
	var positions hashRowPositions
	for bi, b := range batches {
		keyColumns := make([]arrow.Array, len(keyIndices))
		for i, idx := range keyIndices {
			keyColumns[i] = b.Column(idx)
		}
		hashRow := helpers.MakeKeyHasher(keyColumns)
		rows := int(b.NumRows())
		for ri := 0; ri < rows; ri++ {
			positions = append(positions, hashRowPosition{hash: hashRow(ri), batchIndex: bi, rowIndex: ri})
		}
	}

	sorts.ByUint64(positions)

	hashIndex := intintmap.New(1024, 0.6)
	if len(positions) > 0 {
		hashIndex.Put(int64(positions[0].hash), 0)
		for i := 1; i < len(positions); i++ {
			if positions[i].hash != positions[i-1].hash {
				hashIndex.Put(int64(positions[i].hash), int64(i))
			}
		}
	}

	hashesBuilder := array.NewUint64Builder(pool)
	hashesBuilder.Reserve(len(positions))
	for _, p := range positions {
		hashesBuilder.UnsafeAppend(p.hash)
	}
	hashes := hashesBuilder.NewUint64Array()

	recordBuilder := array.NewRecordBuilder(pool, schema)
	recordBuilder.Reserve(len(positions))
	for columnIndex := 0; columnIndex < len(schema.Fields()); columnIndex++ {
		rewriters := make([]func(rowIndex int), len(batches))
		for bi, b := range batches {
			rewriters[bi] = helpers.MakeColumnRewriter(recordBuilder.Field(columnIndex), b.Column(columnIndex))
		}
		for _, p := range positions {
			rewriters[p.batchIndex](p.rowIndex)
		}
	}
	values := recordBuilder.NewRecord()

	return &JoinTable{
		hashStartIndices: hashIndex,
		hashes:           hashes,
		values:           execution.Batch{Record: values},
		keyIndices:       keyIndices,
		matched:          make([]bool, len(positions)),
	}
}

type hashRowPosition struct {
	hash       uint64
	batchIndex int
	rowIndex   int
}

type hashRowPositions []hashRowPosition

func (s hashRowPositions) Len() int           { return len(s) }
func (s hashRowPositions) Less(i, j int) bool { return s[i].hash < s[j].hash }
func (s hashRowPositions) Swap(i, j int)      { s[i], s[j] = s[j], s[i] }
func (s hashRowPositions) Key(i int) uint64   { return s[i].hash }

func (t *JoinTable) NumRows() int               { return int(t.values.NumRows()) }
func (t *JoinTable) Schema() *arrow.Schema      { return t.values.Schema() }
func (t *JoinTable) Column(i int) arrow.Array   { return t.values.Column(i) }
func (t *JoinTable) KeyColumns() []arrow.Array {
	cols := make([]arrow.Array, len(t.keyIndices))
	for i, idx := range t.keyIndices {
		cols[i] = t.values.Column(idx)
	}
	return cols
}

// Probe returns the table row indices matching the given hash, using
// checkEqual(tableRowIndex) to resolve hash collisions (a distinct key
// can share a 64-bit hash with another).
func (t *JoinTable) Probe(hash uint64, checkEqual func(tableRowIndex int) bool) []int {
	first, ok := t.hashStartIndices.Get(int64(hash))
	if !ok {
		return nil
	}
	var out []int
	for i := int(first); i < t.hashes.Len(); i++ {
		if t.hashes.Value(i) != hash {
			break
		}
		if checkEqual(i) {
			out = append(out, i)
			t.matched[i] = true
		}
	}
	return out
}

// IsMatched reports whether Probe has ever returned tableRowIndex as a
// match (same hash and checkEqual true).
func (t *JoinTable) IsMatched(tableRowIndex int) bool { return t.matched[tableRowIndex] }

// Unmatched returns every table row index never returned as a match by Probe,
// needed for RightOuter/FullOuter/RightAnti.
func (t *JoinTable) Unmatched() []int {
	var out []int
	for i, m := range t.matched {
		if !m {
			out = append(out, i)
		}
	}
	return out
}

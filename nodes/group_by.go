package nodes

import (
	"fmt"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/bitutil"
	"github.com/apache/arrow/go/v15/arrow/memory"
	"github.com/brentp/intintmap"

	"github.com/nsait-linaro/arrowplan/aggregates"
	"github.com/nsait-linaro/arrowplan/execution"
	"github.com/nsait-linaro/arrowplan/helpers"
)

// GroupByAggregateColumn names one grouped kernel application.
type GroupByAggregateColumn struct {
	KernelName  string
	InputColumn int
	OutputName  string
}

// GroupBy hashes its key columns to assign each row a group id, folds
// every declared kernel's state for that group, and on InputFinished
// emits the result -- one row per group, in whatever order the hash
// table happens to produce -- as a sequence of batches.
//
// Groups are looked up by the 64-bit key hash alone. When a row's hash
// matches an existing group, its key is compared against the key stored
// for that group, and a mismatch (two distinct keys sharing a hash)
// panics rather than being resolved.
type GroupBy struct {
	execution.NodeBase

	keyColumns []int
	aggCols    []GroupByAggregateColumn

	entryIndices *intintmap.Map
	entryCount   int
	keys         []groupKey
	kernels      []aggregates.GroupKernel
	states       []aggregates.GroupState
}

// GroupByOptions is the factory payload for "group_by".
type GroupByOptions struct {
	KeyColumns  []int
	KeyNames    []string
	Aggregates  []GroupByAggregateColumn
}

func outputSchemaForGroupBy(inputSchema *arrow.Schema, keyColumns []int, keyNames []string, aggCols []GroupByAggregateColumn, kernels []aggregates.GroupKernel) *arrow.Schema {
	fields := make([]arrow.Field, 0, len(keyColumns)+len(aggCols))
	for i, idx := range keyColumns {
		fields = append(fields, arrow.Field{Name: keyNames[i], Type: inputSchema.Field(idx).Type})
	}
	for i, c := range aggCols {
		inputType := inputSchema.Field(c.InputColumn).Type
		fields = append(fields, arrow.Field{Name: c.OutputName, Type: kernels[i].OutputType(inputType)})
	}
	return arrow.NewSchema(fields, nil)
}

func NewGroupBy(plan *execution.ExecPlan, label string, input execution.ExecNode, keyColumns []int, keyNames []string, aggCols []GroupByAggregateColumn) (*GroupBy, error) {
	kernels := make([]aggregates.GroupKernel, len(aggCols))
	for i, c := range aggCols {
		k, ok := aggregates.LookupGrouped(c.KernelName)
		if !ok {
			return nil, fmt.Errorf("unknown grouped aggregate kernel %q", c.KernelName)
		}
		kernels[i] = k
	}

	outSchema := outputSchemaForGroupBy(input.OutputSchema(), keyColumns, keyNames, aggCols, kernels)

	n := &GroupBy{
		NodeBase:   execution.NewNodeBase(label, outSchema, []execution.ExecNode{input}, []string{"groupby"}, 1),
		keyColumns: keyColumns,
		aggCols:    aggCols,
		kernels:    kernels,
	}
	n.SetSelf(n)
	plan.Add(n)
	return n, nil
}

func init() {
	execution.Register("group_by", func(plan *execution.ExecPlan, inputs []execution.ExecNode, label string, options any) (execution.ExecNode, error) {
		if len(inputs) != 1 {
			return nil, fmt.Errorf("group_by expects exactly one input, got %d", len(inputs))
		}
		opts, ok := options.(GroupByOptions)
		if !ok {
			return nil, fmt.Errorf("group_by expects GroupByOptions, got %T", options)
		}
		return NewGroupBy(plan, label, inputs[0], opts.KeyColumns, opts.KeyNames, opts.Aggregates)
	})
}

func (g *GroupBy) StartProducing(ctx execution.Context) error {
	g.entryIndices = intintmap.New(16, 0.6)
	inputSchema := g.Inputs()[0].OutputSchema()

	g.keys = make([]groupKey, len(g.keyColumns))
	for i, idx := range g.keyColumns {
		g.keys[i] = newGroupKey(ctx.Allocator, inputSchema.Field(idx).Type)
	}

	g.states = make([]aggregates.GroupState, len(g.aggCols))
	for i, c := range g.aggCols {
		g.states[i] = g.kernels[i].NewGroupState(ctx.Allocator, inputSchema.Field(c.InputColumn).Type)
	}
	return nil
}

func (g *GroupBy) InputReceived(ctx execution.ProduceContext, sender execution.ExecNode, batch execution.Batch) error {
	keyColumns := make([]arrow.Array, len(g.keyColumns))
	for i, idx := range g.keyColumns {
		keyColumns[i] = batch.Column(idx)
	}
	hashRow := helpers.MakeKeyHasher(keyColumns)

	keyAdders := make([]func(rowIndex int), len(g.keys))
	for i := range g.keys {
		keyAdders[i] = g.keys[i].add(keyColumns[i])
	}
	keyCheckers := make([]func(entryIndex, rowIndex int) bool, len(g.keys))
	for i := range g.keys {
		keyCheckers[i] = g.keys[i].equal(keyColumns[i])
	}

	aggColumns := make([]arrow.Array, len(g.aggCols))
	for i, c := range g.aggCols {
		aggColumns[i] = batch.Column(c.InputColumn)
	}

	rows := int(batch.NumRows())
	for row := 0; row < rows; row++ {
		hash := int64(hashRow(row))
		entryIndex, ok := g.entryIndices.Get(hash)
		if !ok {
			entryIndex = int64(g.entryCount)
			g.entryCount++
			g.entryIndices.Put(hash, entryIndex)
			for _, add := range keyAdders {
				add(row)
			}
		} else {
			for _, check := range keyCheckers {
				if !check(int(entryIndex), row) {
					panic("group by hash collision")
				}
			}
		}

		for i, state := range g.states {
			state.Consume(aggColumns[i], int(entryIndex), row)
		}
	}
	return nil
}

func (g *GroupBy) InputFinished(ctx execution.ProduceContext, sender execution.ExecNode, totalBatches int) error {
	keyCols := make([]arrow.Array, len(g.keys))
	for i := range g.keys {
		keyCols[i] = g.keys[i].finish(g.entryCount)
	}
	aggCols := make([]arrow.Array, len(g.states))
	for i := range g.states {
		aggCols[i] = g.states[i].Finish(g.entryCount)
	}

	emitted := 0
	for offset := 0; offset < g.entryCount || (g.entryCount == 0 && offset == 0); offset += execution.IdealBatchSize {
		length := g.entryCount - offset
		if length > execution.IdealBatchSize {
			length = execution.IdealBatchSize
		}
		if length < 0 {
			length = 0
		}

		columns := make([]arrow.Array, 0, len(keyCols)+len(aggCols))
		for _, c := range keyCols {
			columns = append(columns, array.NewSlice(c, int64(offset), int64(offset+length)))
		}
		for _, c := range aggCols {
			columns = append(columns, array.NewSlice(c, int64(offset), int64(offset+length)))
		}

		out := array.NewRecord(g.OutputSchema(), columns, int64(length))
		for _, out2 := range g.Outputs() {
			if err := out2.InputReceived(ctx, g, execution.Batch{Record: out}); err != nil {
				out.Release()
				return err
			}
		}
		out.Release()
		emitted++

		if g.entryCount == 0 {
			break
		}
	}

	for _, out := range g.Outputs() {
		if err := out.InputFinished(ctx, g, emitted); err != nil {
			return err
		}
	}
	g.Finished().Settle(nil)
	return nil
}

func (g *GroupBy) ErrorReceived(ctx execution.ProduceContext, sender execution.ExecNode, err error) error {
	for _, out := range g.Outputs() {
		_ = out.ErrorReceived(ctx, g, err)
	}
	g.Finished().Settle(err)
	return nil
}

func (g *GroupBy) StopProducing(ctx execution.Context) error {
	for _, in := range g.Inputs() {
		if err := in.StopProducing(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (g *GroupBy) String() string {
	return g.RenderString("GroupBy")
}

// groupKey accumulates one group-by key column's distinct values, in
// the order groups are first seen, so GetBatch-style slicing can
// materialize the key output column alongside the aggregate outputs.
type groupKey interface {
	add(arr arrow.Array) func(rowIndex int)
	equal(arr arrow.Array) func(entryIndex, rowIndex int) bool
	finish(numGroups int) arrow.Array
}

func newGroupKey(pool memory.Allocator, dt arrow.DataType) groupKey {
	switch dt.ID() {
	case arrow.INT64:
		return &int64GroupKey{data: memory.NewResizableBuffer(pool)}
	case arrow.FLOAT64:
		return &float64GroupKey{data: memory.NewResizableBuffer(pool)}
	case arrow.BOOL:
		return &boolGroupKey{pool: pool}
	case arrow.STRING:
		return &stringGroupKey{builder: array.NewStringBuilder(pool)}
	default:
		panic(fmt.Errorf("unsupported type for group by key: %v", dt))
	}
}

type int64GroupKey struct {
	data  *memory.Buffer
	state []int64
	count int
}

func (k *int64GroupKey) add(arr arrow.Array) func(rowIndex int) {
	typedArr := arr.(*array.Int64)
	return func(rowIndex int) {
		if k.count >= len(k.state) {
			k.data.Resize(arrow.Int64Traits.BytesRequired(bitutil.NextPowerOf2(k.count + 1)))
			k.state = arrow.Int64Traits.CastFromBytes(k.data.Bytes())
		}
		k.state[k.count] = typedArr.Value(rowIndex)
		k.count++
	}
}

func (k *int64GroupKey) equal(arr arrow.Array) func(entryIndex, rowIndex int) bool {
	typedArr := arr.(*array.Int64)
	return func(entryIndex, rowIndex int) bool {
		return typedArr.Value(rowIndex) == k.state[entryIndex]
	}
}

func (k *int64GroupKey) finish(numGroups int) arrow.Array {
	return array.NewInt64Data(array.NewData(arrow.PrimitiveTypes.Int64, numGroups, []*memory.Buffer{nil, k.data}, nil, 0, 0))
}

type float64GroupKey struct {
	data  *memory.Buffer
	state []float64
	count int
}

func (k *float64GroupKey) add(arr arrow.Array) func(rowIndex int) {
	typedArr := arr.(*array.Float64)
	return func(rowIndex int) {
		if k.count >= len(k.state) {
			k.data.Resize(arrow.Float64Traits.BytesRequired(bitutil.NextPowerOf2(k.count + 1)))
			k.state = arrow.Float64Traits.CastFromBytes(k.data.Bytes())
		}
		k.state[k.count] = typedArr.Value(rowIndex)
		k.count++
	}
}

func (k *float64GroupKey) equal(arr arrow.Array) func(entryIndex, rowIndex int) bool {
	typedArr := arr.(*array.Float64)
	return func(entryIndex, rowIndex int) bool {
		return typedArr.Value(rowIndex) == k.state[entryIndex]
	}
}

func (k *float64GroupKey) finish(numGroups int) arrow.Array {
	return array.NewFloat64Data(array.NewData(arrow.PrimitiveTypes.Float64, numGroups, []*memory.Buffer{nil, k.data}, nil, 0, 0))
}

// boolGroupKey keeps its accepted values in a plain slice rather than
// an arrow builder: BooleanBuilder is bit-packed and doesn't expose a
// pre-finish Value accessor the way the numeric and string builders do.
type boolGroupKey struct {
	pool   memory.Allocator
	values []bool
}

func (k *boolGroupKey) add(arr arrow.Array) func(rowIndex int) {
	typedArr := arr.(*array.Boolean)
	return func(rowIndex int) {
		k.values = append(k.values, typedArr.Value(rowIndex))
	}
}

func (k *boolGroupKey) equal(arr arrow.Array) func(entryIndex, rowIndex int) bool {
	typedArr := arr.(*array.Boolean)
	return func(entryIndex, rowIndex int) bool {
		return typedArr.Value(rowIndex) == k.values[entryIndex]
	}
}

func (k *boolGroupKey) finish(numGroups int) arrow.Array {
	builder := array.NewBooleanBuilder(k.pool)
	defer builder.Release()
	builder.AppendValues(k.values[:numGroups], nil)
	return builder.NewBooleanArray()
}

type stringGroupKey struct {
	builder       *array.StringBuilder
	finishedArray *array.String
}

func (k *stringGroupKey) add(arr arrow.Array) func(rowIndex int) {
	typedArr := arr.(*array.String)
	return func(rowIndex int) {
		k.builder.Append(typedArr.Value(rowIndex))
	}
}

func (k *stringGroupKey) equal(arr arrow.Array) func(entryIndex, rowIndex int) bool {
	typedArr := arr.(*array.String)
	return func(entryIndex, rowIndex int) bool {
		return typedArr.Value(rowIndex) == k.builder.Value(entryIndex)
	}
}

func (k *stringGroupKey) finish(numGroups int) arrow.Array {
	if k.finishedArray == nil {
		k.finishedArray = k.builder.NewStringArray()
	}
	return array.NewSlice(k.finishedArray, 0, int64(numGroups))
}

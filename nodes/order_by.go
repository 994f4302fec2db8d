package nodes

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"github.com/apache/arrow/go/v15/arrow/memory"

	"github.com/nsait-linaro/arrowplan/execution"
	"github.com/nsait-linaro/arrowplan/helpers"
)

// NullPlacement selects where null keys land in a sorted run.
type NullPlacement int

const (
	NullsFirst NullPlacement = iota
	NullsLast
)

// OrderByKey names one sort column and its direction/null placement.
type OrderByKey struct {
	Column        int
	Descending    bool
	NullPlacement NullPlacement
}

// OrderBySink buffers every input batch, and on InputFinished
// concatenates them into one logical table, computes a stable sort
// permutation over the declared keys (grounded on the teacher's
// sort.SliceStable-based batch printer), and materializes the permuted
// rows as a single ordered batch. Like Sink, it's a pull-style
// terminal: a caller drains it with Next. Memory scales with the total
// input size.
type OrderBySink struct {
	execution.NodeBase

	keys []OrderByKey

	mu      sync.Mutex
	cond    *sync.Cond
	pending []execution.Batch
	result  execution.Batch
	ready   bool
	closed  bool
	err     error
}

// OrderBySinkOptions is the factory payload for "order_by_sink".
type OrderBySinkOptions struct {
	Keys []OrderByKey
}

func NewOrderBySink(plan *execution.ExecPlan, label string, input execution.ExecNode, keys []OrderByKey) *OrderBySink {
	n := &OrderBySink{
		NodeBase: execution.NewNodeBase(label, input.OutputSchema(), []execution.ExecNode{input}, []string{"collected"}, 0),
		keys:     keys,
	}
	n.cond = sync.NewCond(&n.mu)
	n.SetSelf(n)
	plan.Add(n)
	return n
}

func init() {
	execution.Register("order_by_sink", func(plan *execution.ExecPlan, inputs []execution.ExecNode, label string, options any) (execution.ExecNode, error) {
		if len(inputs) != 1 {
			return nil, fmt.Errorf("order_by_sink expects exactly one input, got %d", len(inputs))
		}
		opts, ok := options.(OrderBySinkOptions)
		if !ok {
			return nil, fmt.Errorf("order_by_sink expects OrderBySinkOptions, got %T", options)
		}
		return NewOrderBySink(plan, label, inputs[0], opts.Keys), nil
	})
}

func (o *OrderBySink) StartProducing(ctx execution.Context) error { return nil }

func (o *OrderBySink) InputReceived(ctx execution.ProduceContext, sender execution.ExecNode, batch execution.Batch) error {
	batch.Retain()
	o.mu.Lock()
	o.pending = append(o.pending, batch)
	o.mu.Unlock()
	return nil
}

func (o *OrderBySink) InputFinished(ctx execution.ProduceContext, sender execution.ExecNode, totalBatches int) error {
	o.mu.Lock()
	batches := o.pending
	o.pending = nil
	o.mu.Unlock()

	defer func() {
		for _, b := range batches {
			b.Release()
		}
	}()

	out, err := sortBatches(ctx.Allocator, o.OutputSchema(), batches, o.keys)
	if err != nil {
		o.mu.Lock()
		o.closed = true
		o.err = err
		o.cond.Broadcast()
		o.mu.Unlock()
		o.Finished().Settle(err)
		return nil
	}

	o.mu.Lock()
	o.result = out
	o.ready = true
	o.closed = true
	o.cond.Broadcast()
	o.mu.Unlock()

	o.Finished().Settle(nil)
	return nil
}

func (o *OrderBySink) ErrorReceived(ctx execution.ProduceContext, sender execution.ExecNode, err error) error {
	o.mu.Lock()
	o.closed = true
	o.err = err
	o.cond.Broadcast()
	o.mu.Unlock()
	o.Finished().Settle(err)
	return nil
}

func (o *OrderBySink) StopProducing(ctx execution.Context) error {
	for _, in := range o.Inputs() {
		if err := in.StopProducing(ctx); err != nil {
			return err
		}
	}
	o.mu.Lock()
	o.closed = true
	o.cond.Broadcast()
	o.mu.Unlock()
	return nil
}

// Next returns the single sorted output batch once available, then
// ok=false on every subsequent call. An empty input still yields one
// batch, with zero rows.
func (o *OrderBySink) Next(ctx context.Context) (batch execution.Batch, ok bool, err error) {
	stop := context.AfterFunc(ctx, func() {
		o.mu.Lock()
		o.cond.Broadcast()
		o.mu.Unlock()
	})
	defer stop()

	o.mu.Lock()
	defer o.mu.Unlock()
	for !o.ready && !o.closed {
		select {
		case <-ctx.Done():
			return execution.Batch{}, false, ctx.Err()
		default:
		}
		o.cond.Wait()
	}

	if o.ready {
		o.ready = false
		return o.result, true, nil
	}
	return execution.Batch{}, false, o.err
}

func (o *OrderBySink) String() string {
	return o.RenderString("OrderBySink")
}

type rowLocation struct{ batch, row int }

// sortBatches concatenates batches' rows into a stable-sorted
// permutation over keys and materializes the result as one record.
func sortBatches(pool memory.Allocator, schema *arrow.Schema, batches []execution.Batch, keys []OrderByKey) (execution.Batch, error) {
	var locations []rowLocation
	for bi, b := range batches {
		n := int(b.NumRows())
		for ri := 0; ri < n; ri++ {
			locations = append(locations, rowLocation{bi, ri})
		}
	}

	keyColumns := make([][]arrow.Array, len(keys))
	for i, k := range keys {
		cols := make([]arrow.Array, len(batches))
		for bi, b := range batches {
			cols[bi] = b.Column(k.Column)
		}
		keyColumns[i] = cols
	}

	sort.SliceStable(locations, func(i, j int) bool {
		a, b := locations[i], locations[j]
		for ki, k := range keys {
			cmp := compareCells(keyColumns[ki][a.batch], a.row, keyColumns[ki][b.batch], b.row, k.NullPlacement)
			if cmp == 0 {
				continue
			}
			if k.Descending {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})

	builder := array.NewRecordBuilder(pool, schema)
	columnCount := len(schema.Fields())
	rewriters := make([][]func(rowIndex int), len(batches))
	for bi, b := range batches {
		rewriters[bi] = make([]func(int), columnCount)
		for ci := 0; ci < columnCount; ci++ {
			rewriters[bi][ci] = helpers.MakeColumnRewriter(builder.Field(ci), b.Column(ci))
		}
	}

	for _, loc := range locations {
		for ci := 0; ci < columnCount; ci++ {
			rewriters[loc.batch][ci](loc.row)
		}
	}

	return execution.Batch{Record: builder.NewRecord()}, nil
}

// compareCells compares two cells, possibly from different arrays,
// returning -1/0/1. Nulls sort according to placement, independent of
// ascending/descending (SQL NULLS FIRST/LAST is a placement directive,
// not a reversal of the ascending comparator).
func compareCells(leftArr arrow.Array, leftRow int, rightArr arrow.Array, rightRow int, placement NullPlacement) int {
	leftNull, rightNull := leftArr.IsNull(leftRow), rightArr.IsNull(rightRow)
	if leftNull || rightNull {
		if leftNull && rightNull {
			return 0
		}
		if placement == NullsFirst {
			if leftNull {
				return -1
			}
			return 1
		}
		if leftNull {
			return 1
		}
		return -1
	}

	switch leftArr.DataType().ID() {
	case arrow.INT64:
		l, r := leftArr.(*array.Int64).Value(leftRow), rightArr.(*array.Int64).Value(rightRow)
		switch {
		case l < r:
			return -1
		case l > r:
			return 1
		default:
			return 0
		}
	case arrow.FLOAT64:
		l, r := leftArr.(*array.Float64).Value(leftRow), rightArr.(*array.Float64).Value(rightRow)
		switch {
		case l < r:
			return -1
		case l > r:
			return 1
		default:
			return 0
		}
	case arrow.BOOL:
		l, r := leftArr.(*array.Boolean).Value(leftRow), rightArr.(*array.Boolean).Value(rightRow)
		switch {
		case !l && r:
			return -1
		case l && !r:
			return 1
		default:
			return 0
		}
	case arrow.STRING:
		l, r := leftArr.(*array.String).Value(leftRow), rightArr.(*array.String).Value(rightRow)
		switch {
		case l < r:
			return -1
		case l > r:
			return 1
		default:
			return 0
		}
	default:
		panic(fmt.Errorf("unsupported type for order by comparison: %v", leftArr.DataType()))
	}
}

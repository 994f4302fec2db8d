package nodes

import (
	"container/heap"
	"context"
	"fmt"
	"sync"

	"github.com/apache/arrow/go/v15/arrow/array"

	"github.com/nsait-linaro/arrowplan/execution"
	"github.com/nsait-linaro/arrowplan/helpers"
)

// SelectKSink keeps the K rows that sort earliest under the declared
// keys, across every batch it ever receives, using a bounded min-heap:
// the heap's root is always the worst (latest-sorting) row currently
// kept, so admitting a new row only ever costs evicting that one root,
// the same bounded-heap shape as the teacher's top-K replica tracker.
// Memory is O(k) batches pinned, not O(input size).
type SelectKSink struct {
	execution.NodeBase

	k    int
	keys []OrderByKey

	mu        sync.Mutex
	cond      *sync.Cond
	heapItems topKHeap
	result    execution.Batch
	ready     bool
	closed    bool
	err       error
}

type topKItem struct {
	batch execution.Batch
	row   int
}

type topKHeap struct {
	items []topKItem
	keys  []OrderByKey
}

func (h topKHeap) Len() int { return len(h.items) }

// Less reports whether items[i] is worse than items[j] -- sorts later
// under h.keys -- so the heap's minimum (by Less) is the root evicted
// first when a better row arrives.
func (h topKHeap) Less(i, j int) bool {
	return rowBefore(h.items[j].batch, h.items[j].row, h.items[i].batch, h.items[i].row, h.keys)
}
func (h topKHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }

func (h *topKHeap) Push(x any) { h.items = append(h.items, x.(topKItem)) }

func (h *topKHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// rowBefore reports whether the row at (leftBatch, leftRow) sorts
// before the row at (rightBatch, rightRow) under keys.
func rowBefore(leftBatch execution.Batch, leftRow int, rightBatch execution.Batch, rightRow int, keys []OrderByKey) bool {
	for _, k := range keys {
		cmp := compareCells(leftBatch.Column(k.Column), leftRow, rightBatch.Column(k.Column), rightRow, k.NullPlacement)
		if cmp == 0 {
			continue
		}
		if k.Descending {
			return cmp > 0
		}
		return cmp < 0
	}
	return false
}

// SelectKSinkOptions is the factory payload for "select_k_sink".
type SelectKSinkOptions struct {
	K    int
	Keys []OrderByKey
}

func NewSelectKSink(plan *execution.ExecPlan, label string, input execution.ExecNode, k int, keys []OrderByKey) *SelectKSink {
	n := &SelectKSink{
		NodeBase: execution.NewNodeBase(label, input.OutputSchema(), []execution.ExecNode{input}, []string{"collected"}, 0),
		k:        k,
		keys:     keys,
	}
	n.heapItems.keys = keys
	n.cond = sync.NewCond(&n.mu)
	n.SetSelf(n)
	plan.Add(n)
	return n
}

func init() {
	execution.Register("select_k_sink", func(plan *execution.ExecPlan, inputs []execution.ExecNode, label string, options any) (execution.ExecNode, error) {
		if len(inputs) != 1 {
			return nil, fmt.Errorf("select_k_sink expects exactly one input, got %d", len(inputs))
		}
		opts, ok := options.(SelectKSinkOptions)
		if !ok {
			return nil, fmt.Errorf("select_k_sink expects SelectKSinkOptions, got %T", options)
		}
		return NewSelectKSink(plan, label, inputs[0], opts.K, opts.Keys), nil
	})
}

func (s *SelectKSink) StartProducing(ctx execution.Context) error { return nil }

func (s *SelectKSink) InputReceived(ctx execution.ProduceContext, sender execution.ExecNode, batch execution.Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	numRows := int(batch.NumRows())
	if numRows == 0 || s.k <= 0 {
		return nil
	}

	// Each heap slot holds its own reference to the batch it points into
	// (retained on Push, released on Pop/eviction), since a single
	// incoming batch may contribute more than one surviving row and
	// those rows can be evicted independently later.
	for row := 0; row < numRows; row++ {
		if s.heapItems.Len() < s.k {
			batch.Retain()
			heap.Push(&s.heapItems, topKItem{batch: batch, row: row})
			continue
		}
		root := s.heapItems.items[0]
		if rowBefore(batch, row, root.batch, root.row, s.keys) {
			evicted := heap.Pop(&s.heapItems).(topKItem)
			evicted.batch.Release()
			batch.Retain()
			heap.Push(&s.heapItems, topKItem{batch: batch, row: row})
		}
	}
	return nil
}

func (s *SelectKSink) InputFinished(ctx execution.ProduceContext, sender execution.ExecNode, totalBatches int) error {
	s.mu.Lock()
	items := make([]topKItem, len(s.heapItems.items))
	copy(items, s.heapItems.items)
	s.mu.Unlock()

	// heap.Pop repeatedly gives items from worst to best; reverse for
	// best-to-worst sorted output.
	ordered := make([]topKItem, len(items))
	working := topKHeap{items: append([]topKItem(nil), items...), keys: s.keys}
	for i := len(ordered) - 1; i >= 0; i-- {
		ordered[i] = heap.Pop(&working).(topKItem)
	}

	builder := array.NewRecordBuilder(ctx.Allocator, s.OutputSchema())
	columnCount := len(s.OutputSchema().Fields())
	for _, item := range ordered {
		for ci := 0; ci < columnCount; ci++ {
			rw := helpers.MakeColumnRewriter(builder.Field(ci), item.batch.Column(ci))
			rw(item.row)
		}
	}
	out := execution.Batch{Record: builder.NewRecord()}

	s.mu.Lock()
	for _, item := range items {
		item.batch.Release()
	}
	s.heapItems.items = nil
	s.result = out
	s.ready = true
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	s.Finished().Settle(nil)
	return nil
}

func (s *SelectKSink) ErrorReceived(ctx execution.ProduceContext, sender execution.ExecNode, err error) error {
	s.mu.Lock()
	s.closed = true
	s.err = err
	s.cond.Broadcast()
	s.mu.Unlock()
	s.Finished().Settle(err)
	return nil
}

func (s *SelectKSink) StopProducing(ctx execution.Context) error {
	for _, in := range s.Inputs() {
		if err := in.StopProducing(ctx); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	return nil
}

// Next returns the single top-K output batch once available, then
// ok=false on every subsequent call.
func (s *SelectKSink) Next(ctx context.Context) (batch execution.Batch, ok bool, err error) {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for !s.ready && !s.closed {
		select {
		case <-ctx.Done():
			return execution.Batch{}, false, ctx.Err()
		default:
		}
		s.cond.Wait()
	}

	if s.ready {
		s.ready = false
		return s.result, true, nil
	}
	return execution.Batch{}, false, s.err
}

func (s *SelectKSink) String() string {
	return s.RenderString("SelectKSink", fmt.Sprintf("k=%d", s.k))
}

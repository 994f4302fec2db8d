package nodes

import (
	"fmt"
	"sync"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"

	"github.com/nsait-linaro/arrowplan/execution"
	"github.com/nsait-linaro/arrowplan/helpers"
	"github.com/nsait-linaro/arrowplan/nodes/hashtable"
)

// JoinType names one of the eight join variants HashJoin supports.
type JoinType int

const (
	Inner JoinType = iota
	LeftOuter
	RightOuter
	FullOuter
	LeftSemi
	RightSemi
	LeftAnti
	RightAnti
)

// HashJoin builds a hash table from its fully-drained right input, then
// streams the left input's batches against it, one probe per row. The
// right side is always the build side: this is simpler and just as
// effective as picking whichever side closes first, since the caller
// already knows which side is expected to be smaller.
type HashJoin struct {
	execution.NodeBase

	left, right                     execution.ExecNode
	leftKeyIndices, rightKeyIndices []int
	joinType                        JoinType
	leftPrefix, rightPrefix         string

	mu           sync.Mutex
	rightBatches []execution.Batch
	pendingLeft  []execution.Batch
	table        *hashtable.JoinTable
	leftDone     bool
	rightDone    bool

	emitMu     sync.Mutex
	emitted    int
	finalizeOnce sync.Once
}

// HashJoinOptions is the factory payload for "hashjoin".
type HashJoinOptions struct {
	LeftKeyIndices, RightKeyIndices []int
	JoinType                        JoinType
	LeftPrefix, RightPrefix         string
}

func prefixedFields(schema *arrow.Schema, prefix string) []arrow.Field {
	fields := make([]arrow.Field, len(schema.Fields()))
	for i, f := range schema.Fields() {
		fields[i] = arrow.Field{Name: prefix + f.Name, Type: f.Type, Nullable: true}
	}
	return fields
}

func outputSchemaForHashJoin(joinType JoinType, leftSchema, rightSchema *arrow.Schema, leftPrefix, rightPrefix string) *arrow.Schema {
	switch joinType {
	case LeftSemi, LeftAnti:
		return arrow.NewSchema(prefixedFields(leftSchema, leftPrefix), nil)
	case RightSemi, RightAnti:
		return arrow.NewSchema(prefixedFields(rightSchema, rightPrefix), nil)
	default:
		fields := append(prefixedFields(leftSchema, leftPrefix), prefixedFields(rightSchema, rightPrefix)...)
		return arrow.NewSchema(fields, nil)
	}
}

func NewHashJoin(plan *execution.ExecPlan, label string, left, right execution.ExecNode, leftKeyIndices, rightKeyIndices []int, joinType JoinType, leftPrefix, rightPrefix string) *HashJoin {
	if len(leftKeyIndices) != len(rightKeyIndices) {
		panic("hash join left and right key indices don't have the same length")
	}
	outSchema := outputSchemaForHashJoin(joinType, left.OutputSchema(), right.OutputSchema(), leftPrefix, rightPrefix)
	n := &HashJoin{
		NodeBase:        execution.NewNodeBase(label, outSchema, []execution.ExecNode{left, right}, []string{"left", "right"}, 1),
		left:            left,
		right:           right,
		leftKeyIndices:  leftKeyIndices,
		rightKeyIndices: rightKeyIndices,
		joinType:        joinType,
		leftPrefix:      leftPrefix,
		rightPrefix:     rightPrefix,
	}
	n.SetSelf(n)
	plan.Add(n)
	return n
}

func init() {
	execution.Register("hashjoin", func(plan *execution.ExecPlan, inputs []execution.ExecNode, label string, options any) (execution.ExecNode, error) {
		if len(inputs) != 2 {
			return nil, fmt.Errorf("hashjoin expects exactly two inputs, got %d", len(inputs))
		}
		opts, ok := options.(HashJoinOptions)
		if !ok {
			return nil, fmt.Errorf("hashjoin expects HashJoinOptions, got %T", options)
		}
		return NewHashJoin(plan, label, inputs[0], inputs[1], opts.LeftKeyIndices, opts.RightKeyIndices, opts.JoinType, opts.LeftPrefix, opts.RightPrefix), nil
	})
}

func (h *HashJoin) StartProducing(ctx execution.Context) error { return nil }

func (h *HashJoin) isRight(sender execution.ExecNode) bool { return sender == h.right }

func (h *HashJoin) InputReceived(ctx execution.ProduceContext, sender execution.ExecNode, batch execution.Batch) error {
	if h.isRight(sender) {
		h.mu.Lock()
		h.rightBatches = append(h.rightBatches, batch)
		h.mu.Unlock()
		return nil
	}

	h.mu.Lock()
	table := h.table
	if table == nil {
		h.pendingLeft = append(h.pendingLeft, batch)
		h.mu.Unlock()
		return nil
	}
	h.mu.Unlock()

	return h.probeAndEmit(ctx, table, batch)
}

func (h *HashJoin) InputFinished(ctx execution.ProduceContext, sender execution.ExecNode, totalBatches int) error {
	if h.isRight(sender) {
		h.mu.Lock()
		table := hashtable.Build(ctx.Allocator, h.rightBatches, h.right.OutputSchema(), h.rightKeyIndices)
		h.table = table
		h.rightBatches = nil
		flush := h.pendingLeft
		h.pendingLeft = nil
		h.rightDone = true
		leftAlreadyDone := h.leftDone
		h.mu.Unlock()

		for _, batch := range flush {
			if err := h.probeAndEmit(ctx, table, batch); err != nil {
				return err
			}
		}

		if leftAlreadyDone {
			return h.finalize(ctx)
		}
		return nil
	}

	h.mu.Lock()
	h.leftDone = true
	rightAlreadyDone := h.rightDone
	h.mu.Unlock()

	if rightAlreadyDone {
		return h.finalize(ctx)
	}
	return nil
}

func (h *HashJoin) ErrorReceived(ctx execution.ProduceContext, sender execution.ExecNode, err error) error {
	for _, out := range h.Outputs() {
		_ = out.ErrorReceived(ctx, h, err)
	}
	h.Finished().Settle(err)
	return nil
}

func (h *HashJoin) StopProducing(ctx execution.Context) error {
	for _, in := range h.Inputs() {
		if err := in.StopProducing(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (h *HashJoin) String() string {
	return h.RenderString("HashJoin", fmt.Sprintf("joinType=%d", h.joinType))
}

// joinRowEmitter batches up output rows into IdealBatchSize-sized
// records and forwards each full record to every output as soon as it
// fills, so a join with a huge fan-out doesn't hold its whole result in
// memory before the first row reaches a downstream sink.
type joinRowEmitter struct {
	ctx     execution.ProduceContext
	node    *HashJoin
	builder *array.RecordBuilder
	rows    int
}

func newJoinRowEmitter(ctx execution.ProduceContext, node *HashJoin) *joinRowEmitter {
	return &joinRowEmitter{ctx: ctx, node: node, builder: array.NewRecordBuilder(ctx.Allocator, node.OutputSchema())}
}

func (e *joinRowEmitter) maybeFlush() error {
	if e.rows < execution.IdealBatchSize {
		return nil
	}
	return e.flush()
}

func (e *joinRowEmitter) flush() error {
	if e.rows == 0 {
		return nil
	}
	rec := e.builder.NewRecord()
	defer rec.Release()
	e.rows = 0

	e.node.emitMu.Lock()
	e.node.emitted++
	e.node.emitMu.Unlock()

	for _, out := range e.node.Outputs() {
		if err := out.InputReceived(e.ctx, e.node, execution.Batch{Record: rec}); err != nil {
			return err
		}
	}
	return nil
}

func (e *joinRowEmitter) countRow() error {
	e.rows++
	return e.maybeFlush()
}

// probeAndEmit probes every row of batch (the streaming left side)
// against table, emitting join-type-appropriate rows.
func (h *HashJoin) probeAndEmit(ctx execution.ProduceContext, table *hashtable.JoinTable, batch execution.Batch) error {
	leftKeys := make([]arrow.Array, len(h.leftKeyIndices))
	for i, idx := range h.leftKeyIndices {
		leftKeys[i] = batch.Column(idx)
	}
	tableKeys := table.KeyColumns()
	hashRow := helpers.MakeKeyHasher(leftKeys)
	equalRow := helpers.MakeKeyEqualityChecker(leftKeys, tableKeys, false)

	emitter := newJoinRowEmitter(ctx, h)

	var leftRewriters, rightRewriters []func(rowIndex int)
	var rightBuilders []array.Builder
	leftColumnCount := len(batch.Schema().Fields())
	rightColumnCount := len(table.Schema().Fields())

	switch h.joinType {
	case LeftSemi, LeftAnti:
		leftRewriters = make([]func(int), leftColumnCount)
		for i := 0; i < leftColumnCount; i++ {
			leftRewriters[i] = helpers.MakeColumnRewriter(emitter.builder.Field(i), batch.Column(i))
		}
	case RightSemi, RightAnti:
		// Nothing to emit here; these only emit table rows in finalize.
	default:
		leftRewriters = make([]func(int), leftColumnCount)
		for i := 0; i < leftColumnCount; i++ {
			leftRewriters[i] = helpers.MakeColumnRewriter(emitter.builder.Field(i), batch.Column(i))
		}
		rightRewriters = make([]func(int), rightColumnCount)
		rightBuilders = make([]array.Builder, rightColumnCount)
		for i := 0; i < rightColumnCount; i++ {
			rightBuilders[i] = emitter.builder.Field(leftColumnCount + i)
			rightRewriters[i] = helpers.MakeColumnRewriter(rightBuilders[i], table.Column(i))
		}
	}

	numRows := int(batch.NumRows())
	for row := 0; row < numRows; row++ {
		hash := hashRow(row)
		matches := table.Probe(hash, func(tableRow int) bool { return equalRow(row, tableRow) })

		switch h.joinType {
		case Inner, RightOuter:
			for _, m := range matches {
				for _, rw := range leftRewriters {
					rw(row)
				}
				for _, rw := range rightRewriters {
					rw(m)
				}
				if err := emitter.countRow(); err != nil {
					return err
				}
			}
		case LeftOuter, FullOuter:
			if len(matches) == 0 {
				for _, rw := range leftRewriters {
					rw(row)
				}
				for _, b := range rightBuilders {
					helpers.AppendNullRow(b)
				}
				if err := emitter.countRow(); err != nil {
					return err
				}
				continue
			}
			for _, m := range matches {
				for _, rw := range leftRewriters {
					rw(row)
				}
				for _, rw := range rightRewriters {
					rw(m)
				}
				if err := emitter.countRow(); err != nil {
					return err
				}
			}
		case LeftSemi:
			if len(matches) > 0 {
				for _, rw := range leftRewriters {
					rw(row)
				}
				if err := emitter.countRow(); err != nil {
					return err
				}
			}
		case LeftAnti:
			if len(matches) == 0 {
				for _, rw := range leftRewriters {
					rw(row)
				}
				if err := emitter.countRow(); err != nil {
					return err
				}
			}
		case RightSemi, RightAnti:
			// matched flags recorded by table.Probe; output deferred to finalize.
		}
	}

	return emitter.flush()
}

// finalize runs once both inputs have reported InputFinished. For join
// types whose semantics depend on which table rows were never matched
// by any probe (RightOuter, FullOuter, RightSemi, RightAnti) it walks
// the table a final time and emits the remainder, then forwards
// InputFinished downstream exactly once.
func (h *HashJoin) finalize(ctx execution.ProduceContext) error {
	var finalizeErr error
	h.finalizeOnce.Do(func() {
		table := h.table
		switch h.joinType {
		case RightOuter, FullOuter:
			finalizeErr = h.emitUnmatchedTableRows(ctx, table, true)
		case RightSemi:
			finalizeErr = h.emitMatchedTableRows(ctx, table)
		case RightAnti:
			finalizeErr = h.emitUnmatchedTableRows(ctx, table, false)
		}
		if finalizeErr != nil {
			return
		}

		for _, out := range h.Outputs() {
			if err := out.InputFinished(ctx, h, h.emitted); err != nil {
				finalizeErr = err
				return
			}
		}
		h.Finished().Settle(nil)
	})
	return finalizeErr
}

func (h *HashJoin) emitUnmatchedTableRows(ctx execution.ProduceContext, table *hashtable.JoinTable, withNullLeft bool) error {
	unmatched := table.Unmatched()
	if len(unmatched) == 0 {
		return nil
	}

	emitter := newJoinRowEmitter(ctx, h)
	leftColumnCount := 0
	if withNullLeft {
		leftColumnCount = len(h.left.OutputSchema().Fields())
	}
	rightColumnCount := len(table.Schema().Fields())

	rightRewriters := make([]func(int), rightColumnCount)
	for i := 0; i < rightColumnCount; i++ {
		rightRewriters[i] = helpers.MakeColumnRewriter(emitter.builder.Field(leftColumnCount+i), table.Column(i))
	}

	for _, tableRow := range unmatched {
		if withNullLeft {
			for i := 0; i < leftColumnCount; i++ {
				helpers.AppendNullRow(emitter.builder.Field(i))
			}
		}
		for _, rw := range rightRewriters {
			rw(tableRow)
		}
		if err := emitter.countRow(); err != nil {
			return err
		}
	}
	return emitter.flush()
}

func (h *HashJoin) emitMatchedTableRows(ctx execution.ProduceContext, table *hashtable.JoinTable) error {
	emitter := newJoinRowEmitter(ctx, h)
	rightColumnCount := len(table.Schema().Fields())

	rewriters := make([]func(int), rightColumnCount)
	for i := 0; i < rightColumnCount; i++ {
		rewriters[i] = helpers.MakeColumnRewriter(emitter.builder.Field(i), table.Column(i))
	}

	numRows := table.NumRows()
	for tableRow := 0; tableRow < numRows; tableRow++ {
		if !table.IsMatched(tableRow) {
			continue
		}
		for _, rw := range rewriters {
			rw(tableRow)
		}
		if err := emitter.countRow(); err != nil {
			return err
		}
	}
	return emitter.flush()
}

package nodes

import (
	"sync"
	"testing"

	"github.com/nsait-linaro/arrowplan/execution"
)

// blockingConsumer counts Consume calls and signals on consumed after
// each one; its Finish() doesn't settle until the test closes release,
// however long that takes -- letting the test observe the plan's own
// Finished() hasn't settled yet.
type blockingConsumer struct {
	mu           sync.Mutex
	consumeCount int
	consumed     chan struct{}
	release      chan struct{}
}

func newBlockingConsumer() *blockingConsumer {
	return &blockingConsumer{consumed: make(chan struct{}, 16), release: make(chan struct{})}
}

func (c *blockingConsumer) Consume(batch execution.Batch) error {
	c.mu.Lock()
	c.consumeCount++
	c.mu.Unlock()
	c.consumed <- struct{}{}
	return nil
}

func (c *blockingConsumer) Finish() *execution.Future {
	f := execution.NewFuture()
	go func() {
		<-c.release
		f.Settle(nil)
	}()
	return f
}

// P10: Consume is called exactly once per input batch, and the plan's
// Finished() doesn't settle until the consumer's own Finish() does.
func TestConsumingSinkWaitsForConsumerFinish(t *testing.T) {
	ctx := testContext(t)
	pool := ctx.Allocator

	batch1 := makeBatch(basicSchema, int64Column(pool, []int64{1}), boolColumn(pool, []bool{true}))
	batch2 := makeBatch(basicSchema, int64Column(pool, []int64{2}), boolColumn(pool, []bool{false}))

	plan := execution.Make(ctx)
	channel := execution.NewSerialBatchChannel(execution.SliceProducer([]execution.Batch{batch1, batch2}), 0)
	src := NewSource(plan, "src", basicSchema, channel)
	consumer := newBlockingConsumer()
	sink := NewConsumingSink(plan, "snk", src, consumer)
	src.AddOutput(sink)

	if err := plan.StartProducing(); err != nil {
		t.Fatalf("StartProducing: %v", err)
	}

	<-consumer.consumed
	<-consumer.consumed

	select {
	case <-plan.Finished().Done():
		t.Fatalf("plan finished before the consumer's Finish() settled")
	default:
	}

	close(consumer.release)

	if err := plan.Finished().Wait(); err != nil {
		t.Fatalf("plan finished with error: %v", err)
	}

	consumer.mu.Lock()
	defer consumer.mu.Unlock()
	if consumer.consumeCount != 2 {
		t.Fatalf("consumeCount = %d, want 2", consumer.consumeCount)
	}
}

package execution

import (
	"context"
	"sync"
	"time"
)

// Producer yields the next batch of a source. ok=false signals a clean
// end of stream; a non-nil err is terminal.
type Producer func(ctx context.Context) (batch Batch, ok bool, err error)

// BatchChannel is the lazy, cancellable sequence of Option<Batch> the
// engine moves batches through: Next yields one batch at a time, ok=false
// marks the end, and Close releases any background goroutine driving it.
type BatchChannel struct {
	next  func(ctx context.Context) (Batch, bool, error)
	close func()
}

func (c *BatchChannel) Next(ctx context.Context) (Batch, bool, error) {
	return c.next(ctx)
}

func (c *BatchChannel) Close() {
	if c.close != nil {
		c.close()
	}
}

// NewSerialBatchChannel drives produce directly on the caller's
// goroutine: every Next call blocks until produce returns. This is the
// channel backing parallel=false sources, and the one that gives serial
// mode its strict in-order delivery.
func NewSerialBatchChannel(produce Producer, delay time.Duration) *BatchChannel {
	return &BatchChannel{
		next: func(ctx context.Context) (Batch, bool, error) {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return Batch{}, false, ctx.Err()
				}
			}
			return produce(ctx)
		},
	}
}

type eagerItem struct {
	batch Batch
	ok    bool
	err   error
}

// NewEagerBatchChannel drains produce on a background goroutine ahead of
// consumption, buffering up to bufferSize batches. This backs
// parallel=true sources: Next only blocks when the buffer runs dry, so
// production and consumption overlap. delay, if non-zero, is injected
// before each produce call.
func NewEagerBatchChannel(ctx context.Context, produce Producer, bufferSize int, delay time.Duration) *BatchChannel {
	if bufferSize < 1 {
		bufferSize = 1
	}
	items := make(chan eagerItem, bufferSize)
	done := make(chan struct{})
	var closeOnce sync.Once
	closeFn := func() {
		closeOnce.Do(func() { close(done) })
	}

	go func() {
		defer close(items)
		for {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-done:
					return
				case <-ctx.Done():
					return
				}
			}
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			default:
			}

			batch, ok, err := produce(ctx)
			select {
			case items <- eagerItem{batch: batch, ok: ok, err: err}:
			case <-done:
				return
			}
			if !ok || err != nil {
				return
			}
		}
	}()

	return &BatchChannel{
		next: func(ctx context.Context) (Batch, bool, error) {
			select {
			case item, open := <-items:
				if !open {
					return Batch{}, false, nil
				}
				return item.batch, item.ok, item.err
			case <-ctx.Done():
				return Batch{}, false, ctx.Err()
			}
		},
		close: closeFn,
	}
}

// SliceProducer turns a pre-built slice of batches into a Producer, the
// shape every test and example in this module uses to hand a source a
// canned input set.
func SliceProducer(batches []Batch) Producer {
	i := 0
	return func(ctx context.Context) (Batch, bool, error) {
		if i >= len(batches) {
			return Batch{}, false, nil
		}
		b := batches[i]
		i++
		return b, true, nil
	}
}

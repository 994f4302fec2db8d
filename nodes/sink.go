package nodes

import (
	"context"
	"fmt"
	"sync"

	"github.com/nsait-linaro/arrowplan/execution"
)

// Sink is the pull-style terminal operator: it exposes an async batch
// channel to a caller outside the plan. InputReceived enqueues into a
// bounded internal buffer; when the buffer is full it asks its input to
// pause, and resumes it once a consumer has drained the buffer down to
// the low-water mark. Each buffered batch holds its own reference
// (retained on arrival), which passes to the caller of Next.
type Sink struct {
	execution.NodeBase

	highWaterMark int
	lowWaterMark  int

	mu      sync.Mutex
	cond    *sync.Cond
	buffer  []execution.Batch
	closed  bool
	err     error
	paused  bool
	counter int64
}

// SinkOptions is the factory payload for "sink".
type SinkOptions struct {
	HighWaterMark int
	LowWaterMark  int
}

func NewSink(plan *execution.ExecPlan, label string, input execution.ExecNode, highWaterMark, lowWaterMark int) *Sink {
	if highWaterMark < 1 {
		highWaterMark = 1
	}
	if lowWaterMark < 0 {
		lowWaterMark = 0
	}
	n := &Sink{
		NodeBase:      execution.NewNodeBase(label, input.OutputSchema(), []execution.ExecNode{input}, []string{"collected"}, 0),
		highWaterMark: highWaterMark,
		lowWaterMark:  lowWaterMark,
	}
	n.cond = sync.NewCond(&n.mu)
	n.SetSelf(n)
	plan.Add(n)
	return n
}

func init() {
	execution.Register("sink", func(plan *execution.ExecPlan, inputs []execution.ExecNode, label string, options any) (execution.ExecNode, error) {
		if len(inputs) != 1 {
			return nil, fmt.Errorf("sink expects exactly one input, got %d", len(inputs))
		}
		opts, _ := options.(SinkOptions)
		return NewSink(plan, label, inputs[0], opts.HighWaterMark, opts.LowWaterMark), nil
	})
}

func (s *Sink) StartProducing(ctx execution.Context) error { return nil }

func (s *Sink) InputReceived(ctx execution.ProduceContext, sender execution.ExecNode, batch execution.Batch) error {
	batch.Retain()
	s.mu.Lock()
	s.buffer = append(s.buffer, batch)
	shouldPause := !s.paused && len(s.buffer) >= s.highWaterMark
	if shouldPause {
		s.paused = true
		s.counter++
	}
	counter := s.counter
	s.cond.Signal()
	s.mu.Unlock()

	if shouldPause {
		for _, in := range s.Inputs() {
			in.PauseProducing(s, counter)
		}
	}
	return nil
}

func (s *Sink) InputFinished(ctx execution.ProduceContext, sender execution.ExecNode, totalBatches int) error {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
	s.Finished().Settle(nil)
	return nil
}

func (s *Sink) ErrorReceived(ctx execution.ProduceContext, sender execution.ExecNode, err error) error {
	s.mu.Lock()
	s.closed = true
	s.err = err
	s.cond.Broadcast()
	s.mu.Unlock()
	s.Finished().Settle(err)
	return nil
}

func (s *Sink) StopProducing(ctx execution.Context) error {
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

// Next blocks the caller until a batch is available, the sink closes,
// or ctx is cancelled. ok=false signals the channel is exhausted (err
// may be non-nil if the upstream failed).
func (s *Sink) Next(ctx context.Context) (batch execution.Batch, ok bool, err error) {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.buffer) == 0 && !s.closed {
		select {
		case <-ctx.Done():
			return execution.Batch{}, false, ctx.Err()
		default:
		}
		s.cond.Wait()
	}

	if len(s.buffer) > 0 {
		b := s.buffer[0]
		s.buffer = s.buffer[1:]
		shouldResume := s.paused && len(s.buffer) <= s.lowWaterMark
		var counter int64
		if shouldResume {
			s.paused = false
			s.counter++
			counter = s.counter
		}
		if shouldResume {
			s.mu.Unlock()
			for _, in := range s.Inputs() {
				in.ResumeProducing(s, counter)
			}
			s.mu.Lock()
		}
		return b, true, nil
	}

	return execution.Batch{}, false, s.err
}

func (s *Sink) String() string {
	return s.RenderString("Sink")
}

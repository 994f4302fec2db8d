package nodes

import (
	"context"
	"fmt"

	"github.com/apache/arrow/go/v15/arrow"

	"github.com/nsait-linaro/arrowplan/execution"
)

// Source is the only operator with no inputs. It wraps an async batch
// channel: StartProducing schedules a drain of the channel on the
// plan's pool, delivering each yielded batch downstream in channel
// order, then signals InputFinished (with the number of batches
// delivered) or ErrorReceived on the channel's end. InputReceived
// carries no per-batch index. StopProducing cancels the drain
// at its next suspension point.
type Source struct {
	execution.NodeBase

	channel *execution.BatchChannel

	cancel context.CancelFunc
}

// SourceOptions is the factory payload for "source".
type SourceOptions struct {
	Schema  *arrow.Schema
	Channel *execution.BatchChannel
}

func NewSource(plan *execution.ExecPlan, label string, schema *arrow.Schema, channel *execution.BatchChannel) *Source {
	n := &Source{
		NodeBase: execution.NewNodeBase(label, schema, nil, nil, 1),
		channel:  channel,
	}
	n.SetSelf(n)
	plan.Add(n)
	return n
}

func init() {
	execution.Register("source", func(plan *execution.ExecPlan, inputs []execution.ExecNode, label string, options any) (execution.ExecNode, error) {
		if len(inputs) != 0 {
			return nil, fmt.Errorf("source expects no inputs, got %d", len(inputs))
		}
		opts, ok := options.(SourceOptions)
		if !ok {
			return nil, fmt.Errorf("source expects SourceOptions, got %T", options)
		}
		return NewSource(plan, label, opts.Schema, opts.Channel), nil
	})
}

func (s *Source) StartProducing(ctx execution.Context) error {
	drainCtx, cancel := context.WithCancel(ctx.Context)
	s.cancel = cancel

	ctx.Pool.Go(func() {
		s.drain(ctx, drainCtx)
	})
	return nil
}

func (s *Source) drain(ctx execution.Context, drainCtx context.Context) {
	produceCtx := execution.ProduceContext{Context: ctx}
	index := 0
	for {
		batch, ok, err := s.channel.Next(drainCtx)
		if err != nil {
			for _, out := range s.Outputs() {
				_ = out.ErrorReceived(produceCtx, s, err)
			}
			s.Finished().Settle(err)
			return
		}
		if !ok {
			for _, out := range s.Outputs() {
				if ferr := out.InputFinished(produceCtx, s, index); ferr != nil {
					s.Finished().Settle(ferr)
					return
				}
			}
			s.Finished().Settle(nil)
			return
		}

		for _, out := range s.Outputs() {
			if rerr := out.InputReceived(produceCtx, s, batch); rerr != nil {
				s.Finished().Settle(rerr)
				return
			}
		}
		index++
	}
}

func (s *Source) InputReceived(ctx execution.ProduceContext, sender execution.ExecNode, batch execution.Batch) error {
	return fmt.Errorf("source %q has no inputs", s.Label())
}

func (s *Source) InputFinished(ctx execution.ProduceContext, sender execution.ExecNode, totalBatches int) error {
	return fmt.Errorf("source %q has no inputs", s.Label())
}

func (s *Source) ErrorReceived(ctx execution.ProduceContext, sender execution.ExecNode, err error) error {
	return fmt.Errorf("source %q has no inputs", s.Label())
}

func (s *Source) StopProducing(ctx execution.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	s.channel.Close()
	return nil
}

func (s *Source) String() string {
	return s.RenderString("Source")
}

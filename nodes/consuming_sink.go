package nodes

import (
	"fmt"

	"github.com/nsait-linaro/arrowplan/execution"
)

// Consumer is the two-operation contract ConsumingSink drives: Consume
// is called once per incoming batch, in arrival order; Finish is called
// once, after the upstream reports InputFinished, and the sink doesn't
// settle its own completion until Finish's signal resolves.
type Consumer interface {
	Consume(batch execution.Batch) error
	Finish() *execution.Future
}

// ConsumingSink is the push-style terminal operator: rather than
// exposing a channel to a caller, it drives a Consumer directly.
type ConsumingSink struct {
	execution.NodeBase

	consumer Consumer
}

// ConsumingSinkOptions is the factory payload for "consuming_sink".
type ConsumingSinkOptions struct {
	Consumer Consumer
}

func NewConsumingSink(plan *execution.ExecPlan, label string, input execution.ExecNode, consumer Consumer) *ConsumingSink {
	n := &ConsumingSink{
		NodeBase: execution.NewNodeBase(label, input.OutputSchema(), []execution.ExecNode{input}, []string{"collected"}, 0),
		consumer: consumer,
	}
	n.SetSelf(n)
	plan.Add(n)
	return n
}

func init() {
	execution.Register("consuming_sink", func(plan *execution.ExecPlan, inputs []execution.ExecNode, label string, options any) (execution.ExecNode, error) {
		if len(inputs) != 1 {
			return nil, fmt.Errorf("consuming_sink expects exactly one input, got %d", len(inputs))
		}
		opts, ok := options.(ConsumingSinkOptions)
		if !ok {
			return nil, fmt.Errorf("consuming_sink expects ConsumingSinkOptions, got %T", options)
		}
		return NewConsumingSink(plan, label, inputs[0], opts.Consumer), nil
	})
}

func (c *ConsumingSink) StartProducing(ctx execution.Context) error { return nil }

func (c *ConsumingSink) InputReceived(ctx execution.ProduceContext, sender execution.ExecNode, batch execution.Batch) error {
	if err := c.consumer.Consume(batch); err != nil {
		return c.ErrorReceived(ctx, c, fmt.Errorf("consuming sink %q: consume failed: %w", c.Label(), err))
	}
	return nil
}

func (c *ConsumingSink) InputFinished(ctx execution.ProduceContext, sender execution.ExecNode, totalBatches int) error {
	if err := c.consumer.Finish().Wait(); err != nil {
		c.Finished().Settle(fmt.Errorf("consuming sink %q: finish failed: %w", c.Label(), err))
		return nil
	}
	c.Finished().Settle(nil)
	return nil
}

func (c *ConsumingSink) ErrorReceived(ctx execution.ProduceContext, sender execution.ExecNode, err error) error {
	c.Finished().Settle(err)
	return nil
}

func (c *ConsumingSink) StopProducing(ctx execution.Context) error {
	for _, in := range c.Inputs() {
		if err := in.StopProducing(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (c *ConsumingSink) String() string {
	return c.RenderString("ConsumingSink")
}

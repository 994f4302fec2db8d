package nodes

import (
	"fmt"

	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/array"
	"golang.org/x/sync/errgroup"

	"github.com/nsait-linaro/arrowplan/execution"
)

// ProjectExpr is one output column of a Project: an expression, its
// output type (the expression language outside this module is
// responsible for knowing this, the same way physical aggregate
// descriptors carry their own argument/output types), and an output
// name that defaults to the expression's textual form (its String(),
// if it implements fmt.Stringer) when left empty.
type ProjectExpr struct {
	Expr execution.Expression
	Type arrow.DataType
	Name string
}

func (p ProjectExpr) name(index int) string {
	if p.Name != "" {
		return p.Name
	}
	if s, ok := p.Expr.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("col_%d", index)
}

// Project is a stateless one-in-one-out operator: it evaluates N
// expressions per incoming batch and emits a batch of exactly those N
// columns.
type Project struct {
	execution.NodeBase

	exprs []execution.Expression
}

// ProjectOptions is the factory payload for "project".
type ProjectOptions struct {
	Columns []ProjectExpr
}

func outputSchemaForProject(columns []ProjectExpr) *arrow.Schema {
	fields := make([]arrow.Field, len(columns))
	for i, c := range columns {
		fields[i] = arrow.Field{Name: c.name(i), Type: c.Type}
	}
	return arrow.NewSchema(fields, nil)
}

func NewProject(plan *execution.ExecPlan, label string, input execution.ExecNode, columns []ProjectExpr, outSchema *arrow.Schema) *Project {
	exprs := make([]execution.Expression, len(columns))
	for i, c := range columns {
		exprs[i] = c.Expr
	}
	n := &Project{
		NodeBase: execution.NewNodeBase(label, outSchema, []execution.ExecNode{input}, []string{"target"}, 1),
		exprs:    exprs,
	}
	n.SetSelf(n)
	plan.Add(n)
	return n
}

func init() {
	execution.Register("project", func(plan *execution.ExecPlan, inputs []execution.ExecNode, label string, options any) (execution.ExecNode, error) {
		if len(inputs) != 1 {
			return nil, fmt.Errorf("project expects exactly one input, got %d", len(inputs))
		}
		opts, ok := options.(ProjectOptions)
		if !ok {
			return nil, fmt.Errorf("project expects ProjectOptions, got %T", options)
		}
		outSchema := outputSchemaForProject(opts.Columns)
		return NewProject(plan, label, inputs[0], opts.Columns, outSchema), nil
	})
}

func (p *Project) StartProducing(ctx execution.Context) error { return nil }

func (p *Project) InputReceived(ctx execution.ProduceContext, sender execution.ExecNode, batch execution.Batch) error {
	outCols := make([]arrow.Array, len(p.exprs))
	var g errgroup.Group
	for i := range p.exprs {
		i := i
		g.Go(func() error {
			arr, err := p.exprs[i].Evaluate(ctx.Context, batch)
			if err != nil {
				return fmt.Errorf("project %q: couldn't evaluate column %d: %w", p.Label(), i, err)
			}
			outCols[i] = arr
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	out := array.NewRecord(p.OutputSchema(), outCols, batch.NumRows())
	defer out.Release()

	for _, out2 := range p.Outputs() {
		if err := out2.InputReceived(ctx, p, execution.Batch{Record: out}); err != nil {
			return err
		}
	}
	return nil
}

func (p *Project) InputFinished(ctx execution.ProduceContext, sender execution.ExecNode, totalBatches int) error {
	for _, out := range p.Outputs() {
		if err := out.InputFinished(ctx, p, totalBatches); err != nil {
			return err
		}
	}
	p.Finished().Settle(nil)
	return nil
}

func (p *Project) ErrorReceived(ctx execution.ProduceContext, sender execution.ExecNode, inErr error) error {
	for _, out := range p.Outputs() {
		_ = out.ErrorReceived(ctx, p, inErr)
	}
	p.Finished().Settle(inErr)
	return nil
}

func (p *Project) StopProducing(ctx execution.Context) error {
	for _, in := range p.Inputs() {
		if err := in.StopProducing(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (p *Project) String() string {
	return p.RenderString("Project")
}

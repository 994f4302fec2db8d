package execution

import (
	"context"
	"log"

	"github.com/apache/arrow/go/v15/arrow/memory"
)

// Logger is the ambient logging seam carried on Context. *log.Logger
// satisfies it; NewSerialContext and NewParallelContext install
// log.Default(), and a Context whose Logger is nil logs nothing. No node
// and no part of the plan logs through it.
type Logger interface {
	Printf(format string, args ...any)
}

// Context is the shared handle threaded through a plan: the thread pool,
// the memory allocator, cancellation, and diagnostics. It's the concrete
// ExecContext of the distilled spec.
type Context struct {
	Context   context.Context
	Allocator memory.Allocator
	Pool      *Pool
	Logger    Logger
}

// ProduceContext is the context threaded through a single InputReceived
// call. It's separate from Context so that per-call metadata (currently
// none beyond the embedded Context) can be added without reshaping the
// plan-wide Context.
type ProduceContext struct {
	Context
}

// NewSerialContext builds a Context that drives the whole plan from a
// single dispatcher goroutine.
func NewSerialContext(ctx context.Context) Context {
	return Context{
		Context:   ctx,
		Allocator: memory.NewGoAllocator(),
		Pool:      NewSerialPool(),
		Logger:    log.Default(),
	}
}

// NewParallelContext builds a Context whose Pool runs up to parallelism
// work items concurrently.
func NewParallelContext(ctx context.Context, parallelism int) Context {
	return Context{
		Context:   ctx,
		Allocator: memory.NewGoAllocator(),
		Pool:      NewParallelPool(parallelism),
		Logger:    log.Default(),
	}
}

func (c Context) logf(format string, args ...any) {
	if c.Logger == nil {
		return
	}
	c.Logger.Printf(format, args...)
}

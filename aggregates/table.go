// Package aggregates is the kernel registry ScalarAggregate and GroupBy
// resolve kernel names against. Scalar and grouped forms of the same
// function are registered under distinct names ("sum" vs "hash_sum")
// because their state shapes differ: a scalar kernel holds one running
// value, a grouped kernel holds one value per group, grown lazily as
// new group ids are first seen.
package aggregates

import (
	"github.com/apache/arrow/go/v15/arrow"
	"github.com/apache/arrow/go/v15/arrow/memory"
)

// AggregateState is scalar running state for one kernel instance.
type AggregateState interface {
	Consume(arr arrow.Array)
	Finish() arrow.Array
}

// Kernel is a scalar aggregate function prototype.
type Kernel interface {
	OutputType(inputType arrow.DataType) arrow.DataType
	NewState(pool memory.Allocator, dt arrow.DataType) AggregateState
}

// GroupState is per-group running state for one grouped kernel
// instance, addressed by an integer group id assigned by the caller
// (typically GroupBy's hash table).
type GroupState interface {
	Consume(arr arrow.Array, groupID, rowIndex int)
	Finish(numGroups int) arrow.Array
}

// GroupKernel is a grouped aggregate function prototype.
type GroupKernel interface {
	OutputType(inputType arrow.DataType) arrow.DataType
	NewGroupState(pool memory.Allocator, dt arrow.DataType) GroupState
}

var scalarRegistry = map[string]Kernel{
	"sum":   sumKernel{},
	"count": countKernel{},
	"any":   anyKernel{},
}

var groupRegistry = map[string]GroupKernel{
	"hash_sum":   hashSumKernel{},
	"hash_count": hashCountKernel{},
}

// Lookup resolves a scalar kernel name, used by ScalarAggregate.
func Lookup(name string) (Kernel, bool) {
	k, ok := scalarRegistry[name]
	return k, ok
}

// LookupGrouped resolves a grouped kernel name, used by GroupBy.
func LookupGrouped(name string) (GroupKernel, bool) {
	k, ok := groupRegistry[name]
	return k, ok
}

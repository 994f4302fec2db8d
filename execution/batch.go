package execution

import (
	"github.com/apache/arrow/go/v15/arrow"
)

// Batch is one immutable snapshot flowing through the plan: an ordered
// list of columns sharing a row count. It's cheap to clone because the
// underlying arrow.Record is reference-counted.
type Batch struct {
	arrow.Record
}

// Retain bumps the reference count of the underlying record. Nodes that
// fan a batch out to more than one downstream must retain once per extra
// consumer.
func (b Batch) Retain() {
	if b.Record != nil {
		b.Record.Retain()
	}
}

// Release drops a reference to the underlying record.
func (b Batch) Release() {
	if b.Record != nil {
		b.Record.Release()
	}
}

// NumRows returns the batch's row count. Provided for readability at call
// sites that don't otherwise need the embedded arrow.Record.
func (b Batch) NumRows() int64 {
	if b.Record == nil {
		return 0
	}
	return b.Record.NumRows()
}

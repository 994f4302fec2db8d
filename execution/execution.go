package execution

// IdealBatchSize is the row count operators aim for when they build their
// own output batches (group-by, join); order-by and top-K emit a single
// batch holding all of their rows. Batches of other
// sizes are handled correctly; this only affects throughput.
const IdealBatchSize = 16 * 1024

package transaction

// The transaction package implements VeraDB's transaction layer. The SQL
// executor drives it by delivering candidate rows one at a time; the layer
// turns those into reads and writes of cells stored in the underlying
// ordered key-value maps and ensures that concurrent sessions do not
// interfere.
//
// Every row of every map is one mvcc.Cell: the current value plus an
// optional in-flight row lock holding the pre-image. The lock slot is the
// only point of contention between writers and is swapped with a single
// compare-and-set; there is no waiter queue in the cell itself. Sessions
// that lose the race park at the coarser lockwaiter level and are woken when
// the holder commits or rolls back.
//
// Visibility is computed from the reader's isolation level, the lock
// snapshot, and the cell's old-value chain. A transaction's id doubles as
// its snapshot marker: a repeatable-read transaction sees exactly the
// versions whose commit timestamp is at or below its own id, which works
// because ids and commit timestamps are drawn from one monotone counter.
// Old versions are retained only while a live repeatable-read or
// serializable transaction might still need them; the engine prunes chains
// opportunistically on commit and on a periodic sweep.
//
// Within this package, `mvcc` holds the cell, the old-value chain, the
// transaction descriptor and the engine; `executor` holds the yieldable
// statements that iterate rows cooperatively, parking on row-lock conflicts
// and resuming from a saved anchor without losing their cursor position.

package veradb

/*
VeraDB is a distributed SQL database engine with pluggable storage,
transaction and protocol layers. This repository holds its multi-version
concurrency-control transaction core: the layer between the SQL executor and
the ordered key-value storage that implements per-row locking, visibility
under four isolation levels, old-version retention for repeatable-read
snapshots, commit and rollback, and cooperative yielding of long row-update
statements.

The module is organized into the following packages:

* `kv/storage`: ordered key-value maps with page-level latches and the data
  type descriptors used to serialize rows.
* `kv/transaction/mvcc`: the versioned cell, its row lock and old-value
  chain, the visibility rule, and the transaction engine that allocates
  transaction ids and commit timestamps and garbage-collects old versions.
* `kv/transaction/executor`: yieldable DML statements that park on row-lock
  conflicts and resume against the same cursor position.
* `kv/session`: the executor-facing session state and the cooperative
  scheduler driving statement steps on a shared worker pool.
* `kv/util`: the lock waiter registry, the wait-for-graph deadlock detector,
  the cell codec, and a small worker pool.
*/

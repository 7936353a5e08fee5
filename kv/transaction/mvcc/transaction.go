package mvcc

import (
	"fmt"

	"go.uber.org/atomic"

	"github.com/veradb/veradb/kv/storage"
	"github.com/veradb/veradb/kv/util/worker"
)

// Status of a transaction. A transaction is created ACTIVE and terminated by
// exactly one of commit or rollback.
type Status int32

const (
	StatusActive Status = iota
	StatusCommitting
	StatusCommitted
	StatusRolledBack
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "ACTIVE"
	case StatusCommitting:
		return "COMMITTING"
	case StatusCommitted:
		return "COMMITTED"
	case StatusRolledBack:
		return "ROLLED_BACK"
	}
	return "UNKNOWN"
}

// lockEntry is the transaction-side record of one held row lock. The cell
// holds the owning reference to the lock; this is the non-owning back
// reference used by commit, rollback and savepoints.
type lockEntry struct {
	cell     *Cell
	m        *storage.Map
	key      string
	keyHash  uint64
	isInsert bool
	tagged   bool
}

// Transaction is mutated only by its owning executor thread; status and
// commit timestamp are the two fields concurrent readers inspect.
type Transaction struct {
	engine     *Engine
	id         uint64
	level      IsolationLevel
	autoCommit bool

	commitTS atomic.Uint64
	status   atomic.Int32

	locks []lockEntry
}

func (t *Transaction) ID() uint64 { return t.id }

func (t *Transaction) IsolationLevel() IsolationLevel { return t.level }

func (t *Transaction) AutoCommit() bool { return t.autoCommit }

func (t *Transaction) Status() Status { return Status(t.status.Load()) }

// CommitTS is zero until commit assigns the timestamp.
func (t *Transaction) CommitTS() uint64 { return t.commitTS.Load() }

// Committed reports whether the commit publish step has completed.
func (t *Transaction) Committed() bool { return t.Status() == StatusCommitted }

func (t *Transaction) Engine() *Engine { return t.engine }

// OpenMap binds the transaction to a named ordered map of the storage.
func (t *Transaction) OpenMap(name string, s *storage.Storage, keyType, valueType storage.DataType) *TxnMap {
	m := s.OpenMap(name, keyType, valueType)
	return &TxnMap{txn: t, m: m}
}

// addLock appends cell to the held-lock list. Called from the cell's lock
// path, always on the owning thread.
func (t *Transaction) addLock(c *Cell) {
	t.locks = append(t.locks, lockEntry{cell: c})
}

// addInsertLock records a lock created by a fresh insert; its commit skips
// the pre-image bookkeeping and its rollback removes the row.
func (t *Transaction) addInsertLock(c *Cell) {
	t.locks = append(t.locks, lockEntry{cell: c, isInsert: true})
}

// tagLock fills in the map-level context of the newest untagged entry for c.
func (t *Transaction) tagLock(c *Cell, m *storage.Map, key string, keyHash uint64, isInsert bool) {
	for i := len(t.locks) - 1; i >= 0; i-- {
		if t.locks[i].cell == c {
			if !t.locks[i].tagged {
				t.locks[i].m = m
				t.locks[i].key = key
				t.locks[i].keyHash = keyHash
				t.locks[i].isInsert = isInsert
				t.locks[i].tagged = true
			}
			return
		}
	}
}

// dropLock removes the provisional entry for a cell whose insert lost the
// publish race, releasing nothing else.
func (t *Transaction) dropLock(c *Cell) {
	for i := len(t.locks) - 1; i >= 0; i-- {
		if t.locks[i].cell == c {
			t.locks = append(t.locks[:i], t.locks[i+1:]...)
			return
		}
	}
}

// HeldLocks reports how many row locks the transaction currently holds.
func (t *Transaction) HeldLocks() int { return len(t.locks) }

// SavepointID returns the marker for the current position of the held-lock
// list; RollbackToSavepoint undoes everything acquired after it.
func (t *Transaction) SavepointID() int { return len(t.locks) }

// RollbackToSavepoint releases the locks acquired after the savepoint and
// restores their pre-images. The transaction stays active.
func (t *Transaction) RollbackToSavepoint(savepointID int) {
	if savepointID < 0 || savepointID >= len(t.locks) {
		return
	}
	undone := t.locks[savepointID:]
	t.locks = t.locks[:savepointID]
	hashes := t.undo(undone)
	t.engine.waiters.WakeUp(t.id, 0, hashes)
}

func (t *Transaction) undo(entries []lockEntry) []uint64 {
	hashes := make([]uint64, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		en := entries[i]
		if en.isInsert && en.m != nil {
			en.m.Remove(en.key)
		} else {
			en.cell.Rollback(en.cell.PreImage())
		}
		en.cell.Unlock()
		hashes = append(hashes, en.keyHash)
	}
	return hashes
}

// Commit publishes the transaction synchronously: assign the timestamp,
// version-publish every held cell, then flip to COMMITTED and release the
// locks. The redo-log flush point sits between publish and release; with
// durability out of scope it completes inline.
func (t *Transaction) Commit() error {
	if err := t.beginCommit(); err != nil {
		return err
	}
	t.finishCommit()
	return nil
}

// AsyncCommit runs the same steps but returns before the flush; the handler
// runs once the flush acknowledges.
func (t *Transaction) AsyncCommit(handler func(error)) error {
	if err := t.beginCommit(); err != nil {
		return err
	}
	t.engine.commitWorker.Sender() <- worker.Task(commitTask{txn: t, handler: handler})
	return nil
}

func (t *Transaction) beginCommit() error {
	if !t.status.CAS(int32(StatusActive), int32(StatusCommitting)) {
		return ErrTransactionEnded
	}
	t.commitTS.Store(t.engine.nextTimestamp())
	for _, en := range t.locks {
		en.cell.Commit(en.isInsert)
	}
	return nil
}

// finishCommit is the commit-publish step: writes to different cells become
// visible atomically when the status flips.
func (t *Transaction) finishCommit() {
	t.status.Store(int32(StatusCommitted))
	hashes := make([]uint64, 0, len(t.locks))
	for _, en := range t.locks {
		en.cell.Unlock()
		hashes = append(hashes, en.keyHash)
	}
	t.locks = nil
	t.engine.endTransaction(t, hashes)
}

// Rollback restores every held cell to its pre-image and releases the locks.
func (t *Transaction) Rollback() error {
	if !t.status.CAS(int32(StatusActive), int32(StatusRolledBack)) {
		return ErrTransactionEnded
	}
	entries := t.locks
	t.locks = nil
	hashes := t.undo(entries)
	t.engine.endTransaction(t, hashes)
	return nil
}

func (t *Transaction) String() string {
	return fmt.Sprintf("txn-%d[%s, %s]", t.id, t.level, t.Status())
}

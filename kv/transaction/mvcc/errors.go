package mvcc

import (
	"fmt"

	"github.com/juju/errors"
)

// ErrLocked is returned when a write loses the row-lock CAS. It is caught
// inside the yieldable retry loop and never surfaces to the executor; the
// loop either parks the statement or upgrades it to ErrDeadlock or
// ErrLockTimeout.
type ErrLocked struct {
	Key     string
	LockTS  uint64
	KeyHash uint64
}

func (e *ErrLocked) Error() string {
	return fmt.Sprintf("row is locked, key: %q, holder txn: %d", e.Key, e.LockTS)
}

// ErrDeadlock is returned when the wait-for walk finds a cycle. The whole
// transaction is rolled back.
type ErrDeadlock struct {
	LockKey         string
	LockTS          uint64
	DeadlockKeyHash uint64
}

func (e *ErrDeadlock) Error() string {
	return fmt.Sprintf("deadlock, key: %q, holder txn: %d", e.LockKey, e.LockTS)
}

// ErrLockTimeout is returned when a lock wait passes the session timeout
// without forming a cycle. The statement rolls back to its pre-row savepoint.
type ErrLockTimeout struct {
	Key    string
	LockTS uint64
}

func (e *ErrLockTimeout) Error() string {
	return fmt.Sprintf("lock wait timeout, key: %q, holder txn: %d", e.Key, e.LockTS)
}

var (
	// ErrOutOfMemory is fatal; partial transaction state cannot be trusted
	// and the engine shuts down immediately.
	ErrOutOfMemory = errors.New("out of memory")

	// ErrConnectionBroken is returned when the database was closed while a
	// statement was still running.
	ErrConnectionBroken = errors.New("connection broken, database closed")

	// ErrTransactionEnded is returned on operations against a transaction
	// that already committed or rolled back.
	ErrTransactionEnded = errors.New("transaction already ended")
)

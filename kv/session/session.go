package session

import (
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/veradb/veradb/kv/config"
	"github.com/veradb/veradb/kv/transaction/mvcc"
	"github.com/veradb/veradb/kv/util/lockwaiter"
)

// Status of a session as the executor drives it through a statement.
type Status int32

const (
	TransactionNotStart Status = iota
	StatementRunning
	StatementCompleted
	Waiting
	Retrying
)

func (s Status) String() string {
	switch s {
	case TransactionNotStart:
		return "TRANSACTION_NOT_START"
	case StatementRunning:
		return "STATEMENT_RUNNING"
	case StatementCompleted:
		return "STATEMENT_COMPLETED"
	case Waiting:
		return "WAITING"
	case Retrying:
		return "RETRYING"
	}
	return "UNKNOWN"
}

// ConflictType names why a statement parked.
type ConflictType int32

const (
	ConflictNone ConflictType = iota
	ConflictAppend
	ConflictRowLock
)

// LockedRow is the resumption anchor saved when a statement parks on a row
// lock: enough to rebuild the cursor position and roll back the row attempt.
type LockedRow struct {
	Key         string
	Value       interface{}
	SavepointID int
}

// Session is the executor-facing handle of one connection. One scheduler
// thread drives it at a time; the atomic fields are the ones the scheduler
// and waking goroutines inspect concurrently.
type Session struct {
	id          uint64
	engine      *mvcc.Engine
	autoCommit  bool
	lockTimeout time.Duration

	status   atomic.Int32
	conflict atomic.Int32
	canceled atomic.Bool

	mu        sync.Mutex
	txn       *mvcc.Transaction
	lockedRow *LockedRow
	waiter    *lockwaiter.Waiter
}

var sessionIDCounter atomic.Uint64

func NewSession(engine *mvcc.Engine, conf *config.Config) *Session {
	return &Session{
		id:          sessionIDCounter.Inc(),
		engine:      engine,
		autoCommit:  true,
		lockTimeout: conf.LockTimeout.Duration,
	}
}

func (s *Session) ID() uint64 { return s.id }

func (s *Session) Engine() *mvcc.Engine { return s.engine }

func (s *Session) AutoCommit() bool { return s.autoCommit }

func (s *Session) SetAutoCommit(v bool) { s.autoCommit = v }

func (s *Session) LockTimeout() time.Duration { return s.lockTimeout }

func (s *Session) SetLockTimeout(d time.Duration) { s.lockTimeout = d }

func (s *Session) Status() Status { return Status(s.status.Load()) }

func (s *Session) SetStatus(st Status) { s.status.Store(int32(st)) }

func (s *Session) ConflictType() ConflictType { return ConflictType(s.conflict.Load()) }

func (s *Session) SetConflictType(c ConflictType) { s.conflict.Store(int32(c)) }

// Cancel raises the per-statement cancel flag; the running loop observes it
// on its periodic yield check.
func (s *Session) Cancel() { s.canceled.Store(true) }

func (s *Session) Canceled() bool { return s.canceled.Load() }

func (s *Session) ResetCancel() { s.canceled.Store(false) }

func (s *Session) Closed() bool { return s.engine.Closed() }

// Transaction returns the session transaction, beginning one lazily.
func (s *Session) Transaction(level mvcc.IsolationLevel) *mvcc.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.txn == nil || s.txn.Status() != mvcc.StatusActive {
		s.txn = s.engine.Begin(s.autoCommit, level)
	}
	return s.txn
}

func (s *Session) CurrentTransaction() *mvcc.Transaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txn
}

func (s *Session) SetCurrentLockedRow(row *LockedRow) {
	s.mu.Lock()
	s.lockedRow = row
	s.mu.Unlock()
}

func (s *Session) CurrentLockedRow() *LockedRow {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lockedRow
}

func (s *Session) SetWaiter(w *lockwaiter.Waiter) {
	s.mu.Lock()
	s.waiter = w
	s.mu.Unlock()
}

func (s *Session) Waiter() *lockwaiter.Waiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiter
}

// Rollback aborts the session transaction, if one is active.
func (s *Session) Rollback() {
	s.mu.Lock()
	txn := s.txn
	s.txn = nil
	s.mu.Unlock()
	if txn != nil && txn.Status() == mvcc.StatusActive {
		txn.Rollback()
	}
	s.SetStatus(TransactionNotStart)
}

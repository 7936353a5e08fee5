package executor

import (
	"time"

	"github.com/juju/errors"
	"github.com/ngaut/log"

	"github.com/veradb/veradb/kv/session"
	"github.com/veradb/veradb/kv/transaction/mvcc"
)

// ErrStatementCanceled is returned when the cancel flag is observed on the
// periodic yield check; the current iteration rolls back to its savepoint.
var ErrStatementCanceled = errors.New("statement canceled")

const slowStatementLimit = 100 * time.Millisecond

type state int

const (
	stateStart state = iota
	stateExecute
	stateStop
)

// internals are the statement-kind hooks driven by the shared state machine.
type internals interface {
	startInternal() bool
	executeInternal() bool
	stopInternal()
}

// YieldableBase drives one DML statement through START -> EXECUTE -> STOP.
// Run returns true to signal "suspended, call me again later" and false for
// finished or failed synchronously.
type YieldableBase struct {
	impl internals

	sess    *session.Session
	txn     *mvcc.Transaction
	sql     string
	handler func(updateCount int, err error)

	st       state
	callStop bool
	started  time.Time

	// savepoint the current row attempt rolls back to on error
	savepointID int

	result    int
	err       error
	delivered bool
}

func (y *YieldableBase) init(impl internals, sess *session.Session, txn *mvcc.Transaction,
	sql string, handler func(int, error)) {
	y.impl = impl
	y.sess = sess
	y.txn = txn
	y.sql = sql
	y.handler = handler
	y.callStop = true
}

// Result is the update count once the statement finished.
func (y *YieldableBase) Result() int { return y.result }

// Err is the terminal error for callers that did not register a handler.
func (y *YieldableBase) Err() error { return y.err }

func (y *YieldableBase) Run() bool {
	switch y.st {
	case stateStart:
		if y.start() {
			return true
		}
		y.st = stateExecute
		fallthrough
	case stateExecute:
		if y.execute() {
			return true
		}
		y.st = stateStop
		fallthrough
	default:
		if y.callStop {
			y.stop()
			y.callStop = false
		}
	}
	return false
}

func (y *YieldableBase) start() bool {
	y.started = time.Now()
	y.savepointID = y.txn.SavepointID()
	y.sess.SetStatus(session.StatementRunning)
	y.sess.SetConflictType(session.ConflictNone)
	return y.impl.startInternal()
}

func (y *YieldableBase) execute() bool {
	if y.sess.Closed() && y.err == nil {
		y.err = mvcc.ErrConnectionBroken
	}
	if y.err == nil {
		if y.impl.executeInternal() {
			return true
		}
	}
	if y.err != nil {
		y.handleError()
	}
	return false
}

// handleError applies the propagation policy: deadlock rolls back the whole
// transaction, out-of-memory bypasses the stop path and shuts the engine
// down, everything else rolls back to the pre-row savepoint and is annotated
// with the originating SQL text.
func (y *YieldableBase) handleError() {
	err := errors.Annotatef(y.err, "sql: %s", y.sql)
	y.err = err
	cause := errors.Cause(err)
	if cause == mvcc.ErrOutOfMemory {
		y.callStop = false
		y.txn.Engine().ShutdownImmediately()
		y.deliver()
		return
	}
	if _, ok := cause.(*mvcc.ErrDeadlock); ok {
		y.sess.Rollback()
	} else {
		y.txn.RollbackToSavepoint(y.savepointID)
	}
	y.impl.stopInternal()
	y.callStop = false
	y.sess.SetStatus(session.StatementCompleted)
	y.deliver()
}

func (y *YieldableBase) stop() {
	y.impl.stopInternal()
	if y.err == nil && y.sess.AutoCommit() {
		txn := y.sess.CurrentTransaction()
		if txn != nil && txn.Status() == mvcc.StatusActive {
			if y.handler != nil {
				// the result is sent once the redo-log flush acknowledges
				txn.AsyncCommit(func(error) {
					y.sess.SetStatus(session.StatementCompleted)
					y.deliver()
				})
				y.logSlow()
				return
			}
			txn.Commit()
		}
	}
	y.sess.SetStatus(session.StatementCompleted)
	y.deliver()
	y.logSlow()
}

func (y *YieldableBase) deliver() {
	if y.delivered {
		return
	}
	y.delivered = true
	if y.handler != nil {
		y.handler(y.result, y.err)
	}
}

func (y *YieldableBase) logSlow() {
	if elapsed := time.Since(y.started); elapsed > slowStatementLimit {
		log.Warnf("slow statement: %v, sql: %s", elapsed, y.sql)
	}
}

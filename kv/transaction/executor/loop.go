package executor

import (
	"time"

	"github.com/veradb/veradb/kv/session"
	"github.com/veradb/veradb/kv/transaction/mvcc"
)

// loopUpdate is the shared body of row-iterating DML statements. It drives
// the per-row protocol: predicate, savepoint, row lock, triggers, mutation,
// limit; on a lock conflict it parks the whole statement and resumes against
// the same cursor position.
type loopUpdate struct {
	YieldableBase

	tm    *mvcc.TxnMap
	where func(key string, v interface{}) bool
	// limit 0 touches no rows; negative means unbounded
	limit int
	apply func(key string, v interface{}) error

	// optional row trigger hooks; a true return from beforeRow vetoes the
	// mutation for that row
	beforeRow func(key string, v interface{}) bool
	afterRow  func(key string, v interface{})

	cursor  *mvcc.Cursor
	hasNext bool
	resume  bool
	anchor  *session.LockedRow

	loopCount     int
	yieldInterval int
	updateCount   int
	pendingOps    int

	lockStartTime time.Time
	// wait edge currently registered in the detector
	waitingFor     uint64
	waitingForHash uint64
}

func (u *loopUpdate) initLoop(impl internals, sess *session.Session, tm *mvcc.TxnMap,
	sql string, limit int, handler func(int, error)) {
	u.init(impl, sess, tm.Txn(), sql, handler)
	u.tm = tm
	u.limit = limit
	u.yieldInterval = sess.Engine().Conf().YieldInterval
}

func (u *loopUpdate) startInternal() bool {
	u.cursor = u.tm.Cursor("", "")
	if u.limit == 0 {
		u.hasNext = false
	} else {
		// advance early so a row-lock conflict can retry the current row
		u.hasNext = u.cursor.Next()
	}
	return false
}

func (u *loopUpdate) stopInternal() {}

// Back rebuilds the loop for a re-run after the lock holder released.
func (u *loopUpdate) Back() {
	u.resume = true
}

func (u *loopUpdate) executeInternal() bool {
	if u.resume {
		u.resume = false
		if u.anchor != nil {
			// reposition at the saved row; if it no longer exists or no
			// longer has a visible version the cursor lands past it
			u.cursor.Seek(u.anchor.Key)
			u.hasNext = u.cursor.Next()
			u.anchor = nil
		}
	}
	for u.hasNext && u.err == nil {
		u.loopCount++
		// pre-row savepoint: any error in this iteration rolls back to here
		spid := u.txn.SavepointID()
		u.savepointID = spid
		if u.yieldIfNeeded() {
			return true
		}
		if u.err != nil {
			return false
		}
		key, val := u.cursor.Key(), u.cursor.Value()
		if u.where == nil || u.where(key, val) {
			ok, cell := u.tm.TryLockRow(key)
			if !ok {
				if cell == nil {
					// row vanished under the cursor
					u.hasNext = u.cursor.Next()
					continue
				}
				holder := cell.LockOwner()
				if holder == nil {
					// released between load and CAS, retry the row
					continue
				}
				if u.handleLockFailure(key, val, spid, holder, u.tm.KeyHash(key)) {
					return true
				}
				if u.err != nil {
					return false
				}
				continue
			}
			u.onLockAcquired()
			u.sess.SetCurrentLockedRow(&session.LockedRow{Key: key, Value: val, SavepointID: spid})
			done := false
			if u.beforeRow != nil {
				done = u.beforeRow(key, val)
			}
			if !done {
				u.pendingOps++
				if err := u.apply(key, val); err != nil {
					u.err = err
					return false
				}
				u.onRowComplete(key, val)
				if u.limit > 0 && u.updateCount >= u.limit {
					u.onLoopEnd()
					return false
				}
			}
		}
		u.hasNext = u.cursor.Next()
	}
	u.onLoopEnd()
	return false
}

// yieldIfNeeded checks cancellation and yields cooperatively to the
// scheduler every yieldInterval rows even without a conflict.
func (u *loopUpdate) yieldIfNeeded() bool {
	if u.loopCount%u.yieldInterval != 0 {
		return false
	}
	if u.sess.Canceled() {
		u.err = ErrStatementCanceled
		return false
	}
	return true
}

// handleLockFailure parks the statement on the holder, or upgrades the wait
// to a deadlock/lock-timeout error once the session timeout has elapsed.
// Returns true when the statement suspended.
func (u *loopUpdate) handleLockFailure(key string, val interface{}, spid int,
	holder *mvcc.Transaction, hash uint64) bool {
	engine := u.txn.Engine()
	now := time.Now()
	if u.lockStartTime.IsZero() {
		u.lockStartTime = now
	} else if now.Sub(u.lockStartTime) > u.sess.LockTimeout() {
		if dl, dlHash := engine.Detector().Detect(u.txn.ID(), holder.ID(), hash); dl {
			u.err = &mvcc.ErrDeadlock{LockKey: key, LockTS: holder.ID(), DeadlockKeyHash: dlHash}
		} else {
			u.err = &mvcc.ErrLockTimeout{Key: key, LockTS: holder.ID()}
		}
		return false
	}
	// record the wait edge so other timed-out waiters can find the cycle
	engine.Detector().Detect(u.txn.ID(), holder.ID(), hash)
	u.waitingFor, u.waitingForHash = holder.ID(), hash
	u.anchor = &session.LockedRow{Key: key, Value: val, SavepointID: spid}
	u.sess.SetCurrentLockedRow(u.anchor)
	waiter := engine.WaiterManager().NewWaiter(u.txn.ID(), holder.ID(), hash, u.sess.LockTimeout())
	u.sess.SetWaiter(waiter)
	u.sess.SetConflictType(session.ConflictRowLock)
	u.sess.SetStatus(session.Waiting)
	return true
}

// onLockAcquired clears conflict bookkeeping once a previously contended
// lock was finally taken.
func (u *loopUpdate) onLockAcquired() {
	if u.lockStartTime.IsZero() {
		return
	}
	u.lockStartTime = time.Time{}
	u.txn.Engine().Detector().CleanUpWaitFor(u.txn.ID(), u.waitingFor, u.waitingForHash)
	u.waitingFor, u.waitingForHash = 0, 0
	u.sess.SetConflictType(session.ConflictNone)
}

func (u *loopUpdate) onRowComplete(key string, val interface{}) {
	u.pendingOps--
	u.updateCount++
	if u.afterRow != nil {
		u.afterRow(key, val)
	}
}

func (u *loopUpdate) onLoopEnd() {
	u.result = u.updateCount
}

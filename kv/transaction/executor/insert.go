package executor

import (
	"fmt"

	"github.com/juju/errors"

	"github.com/veradb/veradb/kv/session"
	"github.com/veradb/veradb/kv/transaction/mvcc"
)

// KV is one row to insert.
type KV struct {
	Key   string
	Value interface{}
}

// Insert writes the given rows. Unlike the scanning statements it iterates
// its input slice, but it parks and resumes on row-lock conflicts the same
// way.
type Insert struct {
	loopUpdate

	rows []KV
	idx  int
}

func NewInsert(sess *session.Session, tm *mvcc.TxnMap, rows []KV,
	handler func(updateCount int, err error)) *Insert {
	ins := &Insert{rows: rows}
	sql := fmt.Sprintf("INSERT INTO %s", tm.Name())
	ins.initLoop(ins, sess, tm, sql, -1, handler)
	return ins
}

func (ins *Insert) startInternal() bool {
	return false
}

func (ins *Insert) executeInternal() bool {
	ins.resume = false
	for ins.idx < len(ins.rows) && ins.err == nil {
		ins.loopCount++
		spid := ins.txn.SavepointID()
		ins.savepointID = spid
		if ins.yieldIfNeeded() {
			return true
		}
		if ins.err != nil {
			return false
		}
		row := ins.rows[ins.idx]
		if err := ins.tm.Put(row.Key, row.Value); err != nil {
			locked, ok := errors.Cause(err).(*mvcc.ErrLocked)
			if !ok {
				ins.err = err
				return false
			}
			holder := ins.tm.GetCell(row.Key).LockOwner()
			if holder == nil {
				// released already, retry the row
				continue
			}
			if ins.handleLockFailure(row.Key, row.Value, spid, holder, locked.KeyHash) {
				return true
			}
			if ins.err != nil {
				return false
			}
			continue
		}
		ins.onLockAcquired()
		ins.onRowComplete(row.Key, row.Value)
		ins.idx++
	}
	ins.onLoopEnd()
	return false
}

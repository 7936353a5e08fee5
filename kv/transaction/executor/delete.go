package executor

import (
	"fmt"

	"github.com/veradb/veradb/kv/session"
	"github.com/veradb/veradb/kv/transaction/mvcc"
)

// Delete removes the rows matching the predicate, honoring LIMIT.
type Delete struct {
	loopUpdate
}

// NewDelete builds a yieldable DELETE over tm. A nil where matches every
// row; limit < 0 is unbounded.
func NewDelete(sess *session.Session, tm *mvcc.TxnMap,
	where func(key string, v interface{}) bool, limit int,
	handler func(updateCount int, err error)) *Delete {
	d := &Delete{}
	sql := fmt.Sprintf("DELETE FROM %s", tm.Name())
	d.initLoop(d, sess, tm, sql, limit, handler)
	d.where = where
	d.apply = func(key string, v interface{}) error {
		return tm.RemoveKey(key)
	}
	return d
}

// SetRowTriggers installs the BEFORE/AFTER row hooks.
func (d *Delete) SetRowTriggers(before func(key string, v interface{}) bool,
	after func(key string, v interface{})) {
	d.beforeRow = before
	d.afterRow = after
}

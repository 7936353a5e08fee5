package executor

import (
	"fmt"

	"github.com/veradb/veradb/kv/session"
	"github.com/veradb/veradb/kv/transaction/mvcc"
)

// Update rewrites the rows matching the predicate with the set function.
type Update struct {
	loopUpdate
}

func NewUpdate(sess *session.Session, tm *mvcc.TxnMap,
	where func(key string, v interface{}) bool,
	set func(key string, old interface{}) interface{}, limit int,
	handler func(updateCount int, err error)) *Update {
	u := &Update{}
	sql := fmt.Sprintf("UPDATE %s", tm.Name())
	u.initLoop(u, sess, tm, sql, limit, handler)
	u.where = where
	u.apply = func(key string, v interface{}) error {
		return tm.Put(key, set(key, v))
	}
	return u
}

func (u *Update) SetRowTriggers(before func(key string, v interface{}) bool,
	after func(key string, v interface{})) {
	u.beforeRow = before
	u.afterRow = after
}

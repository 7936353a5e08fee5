package mvcc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veradb/veradb/kv/storage"
)

func openTestMap(t *Transaction, s *storage.Storage, name string) *TxnMap {
	return t.OpenMap(name, s, storage.StringType{}, storage.StringType{})
}

func TestCommitAndRemove(t *testing.T) {
	e := newTestEngine()
	defer e.Close()
	s := storage.NewStorage()

	t1 := e.Begin(false, ReadCommitted)
	m := openTestMap(t1, s, "commit_and_remove")
	require.NoError(t, m.Put("2", "b"))
	require.NoError(t, m.Put("3", "c"))
	require.NoError(t, m.Remove())
	require.NoError(t, t1.Commit())

	t2 := e.Begin(false, ReadCommitted)
	m2 := openTestMap(t2, s, "commit_and_remove")
	v, ok := m2.Get("2")
	assert.True(t, ok)
	assert.Equal(t, "b", v)
	_, ok = m2.Get("3")
	assert.False(t, ok)
	t2.Rollback()
}

func TestAsyncCommit(t *testing.T) {
	e := newTestEngine()
	defer e.Close()
	s := storage.NewStorage()

	t3 := e.Begin(false, ReadCommitted)
	m := openTestMap(t3, s, "async_commit")
	require.NoError(t, m.Put("4", "b4"))
	require.NoError(t, m.Put("5", "c5"))

	acked := make(chan error, 1)
	require.NoError(t, t3.AsyncCommit(func(err error) {
		acked <- err
	}))

	select {
	case err := <-acked:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("async commit did not acknowledge")
	}
	assert.Equal(t, StatusCommitted, t3.Status())

	fresh := e.Begin(false, ReadCommitted)
	m2 := openTestMap(fresh, s, "async_commit")
	v, ok := m2.Get("4")
	assert.True(t, ok)
	assert.Equal(t, "b4", v)
	fresh.Rollback()
}

func TestRepeatableReadSnapshotAcrossMaps(t *testing.T) {
	e := newTestEngine()
	defer e.Close()
	s := storage.NewStorage()

	setup := e.Begin(false, ReadCommitted)
	require.NoError(t, openTestMap(setup, s, "rr").Put("k", "v0"))
	require.NoError(t, setup.Commit())

	ta := e.Begin(false, RepeatableRead)
	ma := openTestMap(ta, s, "rr")
	v, ok := ma.Get("k")
	require.True(t, ok)
	require.Equal(t, "v0", v)

	tb := e.Begin(false, ReadCommitted)
	require.NoError(t, openTestMap(tb, s, "rr").Put("k", "v1"))
	require.NoError(t, tb.Commit())

	// the snapshot holds
	v, ok = ma.Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v0", v)

	require.NoError(t, ta.Commit())

	tc := e.Begin(false, RepeatableRead)
	v, ok = openTestMap(tc, s, "rr").Get("k")
	assert.True(t, ok)
	assert.Equal(t, "v1", v)
	tc.Rollback()
}

func TestWriteConflictReturnsErrLocked(t *testing.T) {
	e := newTestEngine()
	defer e.Close()
	s := storage.NewStorage()

	setup := e.Begin(false, ReadCommitted)
	require.NoError(t, openTestMap(setup, s, "conflict").Put("k", "v0"))
	require.NoError(t, setup.Commit())

	t1 := e.Begin(false, ReadCommitted)
	t2 := e.Begin(false, ReadCommitted)
	m1 := openTestMap(t1, s, "conflict")
	m2 := openTestMap(t2, s, "conflict")

	require.NoError(t, m1.Put("k", "v1"))
	err := m2.Put("k", "v2")
	require.Error(t, err)
	locked, ok := err.(*ErrLocked)
	require.True(t, ok)
	assert.Equal(t, t1.ID(), locked.LockTS)
	assert.Equal(t, "k", locked.Key)

	// the loser can proceed once the winner finishes
	require.NoError(t, t1.Commit())
	require.NoError(t, m2.Put("k", "v2"))
	require.NoError(t, t2.Commit())
}

func TestRollbackRestoresAllRows(t *testing.T) {
	e := newTestEngine()
	defer e.Close()
	s := storage.NewStorage()

	setup := e.Begin(false, ReadCommitted)
	ms := openTestMap(setup, s, "rollback")
	require.NoError(t, ms.Put("a", "a0"))
	require.NoError(t, ms.Put("b", "b0"))
	require.NoError(t, setup.Commit())

	txn := e.Begin(false, ReadCommitted)
	m := openTestMap(txn, s, "rollback")
	require.NoError(t, m.Put("a", "a1"))
	require.NoError(t, m.RemoveKey("b"))
	require.NoError(t, m.Put("c", "c1"))
	require.Equal(t, 3, txn.HeldLocks())
	require.NoError(t, txn.Rollback())
	assert.Equal(t, 0, txn.HeldLocks())

	check := e.Begin(false, ReadCommitted)
	mc := openTestMap(check, s, "rollback")
	v, _ := mc.Get("a")
	assert.Equal(t, "a0", v)
	v, _ = mc.Get("b")
	assert.Equal(t, "b0", v)
	_, ok := mc.Get("c")
	assert.False(t, ok)
	assert.Nil(t, mc.GetCell("a").LockOwner())
	assert.Nil(t, mc.GetCell("c"))
	check.Rollback()
}

func TestRollbackToSavepointIsPartial(t *testing.T) {
	e := newTestEngine()
	defer e.Close()
	s := storage.NewStorage()

	setup := e.Begin(false, ReadCommitted)
	ms := openTestMap(setup, s, "savepoint")
	require.NoError(t, ms.Put("a", "a0"))
	require.NoError(t, ms.Put("b", "b0"))
	require.NoError(t, setup.Commit())

	txn := e.Begin(false, ReadCommitted)
	m := openTestMap(txn, s, "savepoint")
	require.NoError(t, m.Put("a", "a1"))
	sp := txn.SavepointID()
	require.NoError(t, m.Put("b", "b1"))
	require.NoError(t, m.Put("c", "c1"))

	txn.RollbackToSavepoint(sp)
	assert.Equal(t, StatusActive, txn.Status())
	assert.Equal(t, 1, txn.HeldLocks())

	// the keep side survives the commit, the undone side is untouched
	require.NoError(t, txn.Commit())
	check := e.Begin(false, ReadCommitted)
	mc := openTestMap(check, s, "savepoint")
	v, _ := mc.Get("a")
	assert.Equal(t, "a1", v)
	v, _ = mc.Get("b")
	assert.Equal(t, "b0", v)
	_, ok := mc.Get("c")
	assert.False(t, ok)
	check.Rollback()
}

func TestCursorSkipsInvisibleRows(t *testing.T) {
	e := newTestEngine()
	defer e.Close()
	s := storage.NewStorage()

	setup := e.Begin(false, ReadCommitted)
	ms := openTestMap(setup, s, "cursor")
	for _, kv := range [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}, {"d", "4"}} {
		require.NoError(t, ms.Put(kv[0], kv[1]))
	}
	require.NoError(t, ms.RemoveKey("c"))
	require.NoError(t, setup.Commit())

	// an uncommitted insert from another transaction stays invisible
	other := e.Begin(false, ReadCommitted)
	require.NoError(t, openTestMap(other, s, "cursor").Put("e", "5"))

	reader := e.Begin(false, ReadCommitted)
	cur := openTestMap(reader, s, "cursor").Cursor("", "")
	var keys []string
	for cur.Next() {
		keys = append(keys, cur.Key())
	}
	assert.Equal(t, []string{"a", "b", "d"}, keys)

	// Seek rebuilds the position mid-scan
	cur.Seek("b")
	require.True(t, cur.Next())
	assert.Equal(t, "b", cur.Key())
	other.Rollback()
	reader.Rollback()
}

func TestCursorBounds(t *testing.T) {
	e := newTestEngine()
	defer e.Close()
	s := storage.NewStorage()

	setup := e.Begin(false, ReadCommitted)
	ms := openTestMap(setup, s, "bounds")
	for _, k := range []string{"a", "b", "c", "d"} {
		require.NoError(t, ms.Put(k, k))
	}
	require.NoError(t, setup.Commit())

	reader := e.Begin(false, ReadCommitted)
	cur := openTestMap(reader, s, "bounds").Cursor("b", "d")
	var keys []string
	for cur.Next() {
		keys = append(keys, cur.Key())
	}
	assert.Equal(t, []string{"b", "c"}, keys)
	reader.Rollback()
}

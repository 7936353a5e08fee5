package mvcc

import (
	"fmt"
	"sync/atomic"
	"unsafe"

	"github.com/pingcap/errors"

	"github.com/veradb/veradb/kv/storage"
	"github.com/veradb/veradb/kv/util/codec"
)

// sightless is a distinguished marker: the cell holds no version this reader
// is allowed to see. Distinct from a stored nil value.
type sightless struct{}

var Sightless interface{} = sightless{}

// RowLock is the in-progress writer of a cell: the owning transaction plus
// the committed value captured when the lock was taken. Immutable once
// published; the slot itself is swapped by CAS.
type RowLock struct {
	owner    *Transaction
	preImage interface{}
}

func (rl *RowLock) committed() bool {
	return rl.owner.Committed()
}

// Cell is the per-row MVCC record: the current value plus an optional
// in-flight lock. One instance exists per row of every map, so no field may
// be added lightly.
type Cell struct {
	value interface{}
	lock  unsafe.Pointer // *RowLock
}

// NewCommitted constructs a cell with no in-flight writer.
func NewCommitted(value interface{}) *Cell {
	return &Cell{value: value}
}

// NewCell constructs a freshly inserted cell locked by t. The pre-image is
// nil: concurrent readers treat the row as not yet existing.
func NewCell(value interface{}, t *Transaction) *Cell {
	c := &Cell{value: value}
	rl := &RowLock{owner: t}
	c.lock = unsafe.Pointer(rl)
	t.addInsertLock(c)
	return c
}

func (c *Cell) loadLock() *RowLock {
	return (*RowLock)(atomic.LoadPointer(&c.lock))
}

// GetCurrent returns the current value without any visibility check.
func (c *Cell) GetCurrent() interface{} {
	return c.value
}

// SetValue is called by the current lock owner only.
func (c *Cell) SetValue(value interface{}) {
	c.value = value
}

// Value returns what t must see in this cell, or Sightless. Readers snapshot
// the lock slot once; the cell is only republished at commit and the
// old-value chain is append-only, so the pair is consistent.
func (c *Cell) Value(t *Transaction) interface{} {
	rl := c.loadLock()
	if rl != nil && rl.owner == t {
		return c.value
	}
	switch t.level {
	case ReadUncommitted:
		return c.value
	case ReadCommitted:
		if rl != nil {
			if rl.committed() {
				return c.value
			}
			if rl.preImage == nil {
				// an insert that has not committed yet
				return Sightless
			}
			return rl.preImage
		}
		return c.value
	case RepeatableRead, Serializable:
		tid := t.id
		if rl != nil && rl.committed() && tid >= rl.owner.CommitTS() {
			return c.value
		}
		old := t.engine.getOldValue(c)
		if old != nil {
			if tid >= old.tid {
				if rl != nil && rl.preImage != nil {
					return rl.preImage
				}
				return c.value
			}
			for old != nil {
				if tid >= old.tid {
					return old.value
				}
				old = old.next
			}
			// the row was inserted after this transaction began
			return Sightless
		}
		if rl != nil {
			if rl.preImage != nil {
				return rl.preImage
			}
			return Sightless
		}
		return c.value
	}
	panic(fmt.Sprintf("unknown isolation level %d", t.level))
}

// Tid returns 0 for a committed cell, else the writer's transaction id.
// Committed cells write tid 0, which the varlong encoding stores in a single
// byte.
func (c *Cell) Tid() uint64 {
	rl := c.loadLock()
	if rl == nil {
		return 0
	}
	return rl.owner.ID()
}

// TryLock attempts a single CAS of the lock slot. Re-entrant for the owner.
// No waiter queue lives in the cell; losers park at the lockwaiter level.
func (c *Cell) TryLock(t *Transaction) bool {
	rl := c.loadLock()
	if rl != nil && rl.owner == t {
		return true
	}
	cand := &RowLock{owner: t, preImage: c.value}
	if atomic.CompareAndSwapPointer(&c.lock, nil, unsafe.Pointer(cand)) {
		t.addLock(c)
		return true
	}
	return false
}

// Unlock clears the lock slot. Only the owner calls this, from commit or
// rollback.
func (c *Cell) Unlock() {
	atomic.StorePointer(&c.lock, nil)
}

// IsLockedBy reports whether some other transaction than t holds the lock.
func (c *Cell) IsLockedBy(t *Transaction) bool {
	rl := c.loadLock()
	return rl != nil && rl.owner != t
}

// LockOwner returns the current lock-holding transaction, if any.
func (c *Cell) LockOwner() *Transaction {
	rl := c.loadLock()
	if rl == nil {
		return nil
	}
	return rl.owner
}

// PreImage returns the value captured when the current lock was taken.
func (c *Cell) PreImage() interface{} {
	rl := c.loadLock()
	if rl == nil {
		return nil
	}
	return rl.preImage
}

// Committed reports whether the cell has no live uncommitted writer.
func (c *Cell) Committed() bool {
	rl := c.loadLock()
	return rl == nil || rl.committed()
}

// Commit publishes the pre-image into the old-value chain so live
// repeatable-read transactions keep their snapshot. Called by the owner with
// the commit timestamp already assigned; the lock slot is released later, at
// the commit-publish step.
func (c *Cell) Commit(isInsert bool) {
	rl := c.loadLock()
	if rl == nil {
		return
	}
	t := rl.owner
	e := t.engine
	if !e.ContainsRepeatableReadTransactions() {
		return
	}
	if isInsert {
		e.addOldValue(c, &OldValue{tid: t.CommitTS(), value: c.value})
		return
	}
	maxTid := e.maxRepeatableReadTid()
	old := e.getOldValue(c)
	// The existing chain already serves every live snapshot reader; remember
	// that the newest entry stands in for the current value.
	if old != nil && old.tid > maxTid {
		old.useLast = true
		return
	}
	v := &OldValue{tid: t.CommitTS(), value: c.value}
	if old == nil {
		v.next = &OldValue{tid: 0, value: rl.preImage}
	} else if old.useLast {
		ov := &OldValue{tid: old.tid + 1, value: rl.preImage, next: old}
		v.next = ov
	} else {
		v.next = old
	}
	e.addOldValue(c, v)
}

// Rollback restores the pre-image captured at lock time.
func (c *Cell) Rollback(preImage interface{}) {
	c.value = preImage
}

// Write serializes the cell: varlong tid, then the value with a one-byte
// presence flag.
func (c *Cell) Write(buf []byte, valueType storage.DataType) []byte {
	buf = c.WriteMeta(buf)
	return c.writeValue(buf, valueType)
}

// WriteMeta writes tid only: 0 means committed, anything else is the
// in-flight writer's transaction id.
func (c *Cell) WriteMeta(buf []byte) []byte {
	return codec.AppendVarlong(buf, c.Tid())
}

func (c *Cell) writeValue(buf []byte, valueType storage.DataType) []byte {
	if c.value == nil {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	return valueType.Write(buf, c.value)
}

// ReadCell is the inverse of Write. The cell is always materialized as
// committed with a nil lock: in-flight transactions are recovered from the
// redo log, never from serialized cells.
func ReadCell(buf []byte, valueType storage.DataType) (*Cell, []byte, error) {
	tid, rest, err := codec.DecodeVarlong(buf)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	value, rest, err := readValue(rest, valueType)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	return create(tid, value), rest, nil
}

// ReadCellMeta reads only the meta columns of the value.
func ReadCellMeta(buf []byte, valueType storage.DataType, colCount int) (*Cell, []byte, error) {
	tid, rest, err := codec.DecodeVarlong(buf)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	if len(rest) == 0 {
		return nil, nil, errors.New("cell value truncated")
	}
	if rest[0] == 0 {
		return create(tid, nil), rest[1:], nil
	}
	value, rest, err := valueType.ReadMeta(rest[1:], colCount)
	if err != nil {
		return nil, nil, errors.Trace(err)
	}
	return create(tid, value), rest, nil
}

func readValue(buf []byte, valueType storage.DataType) (interface{}, []byte, error) {
	if len(buf) == 0 {
		return nil, nil, errors.New("cell value truncated")
	}
	if buf[0] == 0 {
		return nil, buf[1:], nil
	}
	return valueType.Read(buf[1:])
}

// A non-zero tid on disk can only come from a crashed writer; the redo log
// replays or discards that write, so the cell is constructed committed.
func create(tid uint64, value interface{}) *Cell {
	return NewCommitted(value)
}

func (c *Cell) String() string {
	return fmt.Sprintf("Cell[tid=%d, value=%v]", c.Tid(), c.value)
}

package mvcc

import (
	"github.com/dgryski/go-farm"

	"github.com/veradb/veradb/kv/storage"
)

// TxnMap is a transaction's view of one ordered map. Every read is filtered
// through the cell visibility rule; every write takes the row lock first.
type TxnMap struct {
	txn *Transaction
	m   *storage.Map

	// key of the most recent Put, the target of Remove()
	lastKey string
}

func (tm *TxnMap) Name() string { return tm.m.Name() }

func (tm *TxnMap) Txn() *Transaction { return tm.txn }

func (tm *TxnMap) keyHash(key string) uint64 {
	return farm.Fingerprint64([]byte(tm.m.Name() + "/" + key))
}

// Get returns the value of key visible to this transaction. A deleted row or
// one with no visible version reads as absent.
func (tm *TxnMap) Get(key string) (interface{}, bool) {
	it := tm.m.Get(key)
	if it == nil {
		return nil, false
	}
	v := it.(*Cell).Value(tm.txn)
	if v == Sightless || v == nil {
		return nil, false
	}
	return v, true
}

// GetCell returns the raw cell for key without visibility filtering.
func (tm *TxnMap) GetCell(key string) *Cell {
	it := tm.m.Get(key)
	if it == nil {
		return nil
	}
	return it.(*Cell)
}

// Put writes key = v under this transaction. On a row-lock conflict it
// returns *ErrLocked without blocking.
func (tm *TxnMap) Put(key string, v interface{}) error {
	tm.lastKey = key
	return tm.write(key, v)
}

// Remove deletes the key of the most recent Put. RemoveKey and Remove do not
// change that target.
func (tm *TxnMap) Remove() error {
	return tm.write(tm.lastKey, nil)
}

// RemoveKey deletes key. Deletion writes a nil value; the row disappears for
// readers once the transaction commits.
func (tm *TxnMap) RemoveKey(key string) error {
	return tm.write(key, nil)
}

func (tm *TxnMap) write(key string, v interface{}) error {
	hash := tm.keyHash(key)
	for {
		existing := tm.m.Get(key)
		if existing == nil {
			cell := NewCell(v, tm.txn)
			if got := tm.m.PutIfAbsent(key, cell); got != cell {
				// lost the publish race; retry against the winner's cell
				tm.txn.dropLock(cell)
				continue
			}
			tm.txn.tagLock(cell, tm.m, key, hash, true)
			return nil
		}
		cell := existing.(*Cell)
		if !cell.TryLock(tm.txn) {
			holder := cell.LockOwner()
			if holder == nil {
				// released between load and CAS
				continue
			}
			return &ErrLocked{Key: key, LockTS: holder.ID(), KeyHash: hash}
		}
		tm.txn.tagLock(cell, tm.m, key, hash, false)
		cell.SetValue(v)
		return nil
	}
}

// TryLockRow locks the row without changing its value, the entry point for
// update/delete loops that mutate after predicate checks.
func (tm *TxnMap) TryLockRow(key string) (bool, *Cell) {
	it := tm.m.Get(key)
	if it == nil {
		return false, nil
	}
	cell := it.(*Cell)
	if cell.TryLock(tm.txn) {
		tm.txn.tagLock(cell, tm.m, key, tm.keyHash(key), false)
		return true, cell
	}
	return false, cell
}

// KeyHash exposes the waiter hash for a key.
func (tm *TxnMap) KeyHash(key string) uint64 {
	return tm.keyHash(key)
}

// Len reports the number of stored rows including ones invisible to this
// transaction.
func (tm *TxnMap) Len() int {
	return tm.m.Len()
}

// CountVisible counts the rows this transaction can see.
func (tm *TxnMap) CountVisible() int {
	n := 0
	cur := tm.Cursor("", "")
	for cur.Next() {
		n++
	}
	return n
}

// Cursor iterates the visible rows with from <= key < to. Empty bounds are
// open.
func (tm *TxnMap) Cursor(from, to string) *Cursor {
	return &Cursor{tm: tm, next: from, to: to}
}

// Cursor walks a TxnMap in key order, skipping rows with no visible version.
// Seek rebuilds the position after a suspension without losing its place.
type Cursor struct {
	tm   *TxnMap
	next string
	to   string

	key   string
	value interface{}
	cell  *Cell
}

// Next advances to the next visible row.
func (c *Cursor) Next() bool {
	for {
		key, it, ok := c.tm.m.FirstAtOrAfter(c.next, c.to)
		if !ok {
			return false
		}
		c.next = key + "\x00"
		cell := it.(*Cell)
		v := cell.Value(c.tm.txn)
		if v == Sightless || v == nil {
			continue
		}
		c.key, c.value, c.cell = key, v, cell
		return true
	}
}

// Seek repositions the cursor so the following Next returns the first
// visible row at or after key.
func (c *Cursor) Seek(key string) {
	c.next = key
}

func (c *Cursor) Key() string { return c.key }

func (c *Cursor) Value() interface{} { return c.value }

func (c *Cursor) Cell() *Cell { return c.cell }

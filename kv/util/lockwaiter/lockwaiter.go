package lockwaiter

import (
	"sort"
	"sync"
	"time"

	"github.com/ngaut/log"
)

// Manager tracks sessions parked on row locks, keyed by the id of the
// transaction holding the lock. Cells carry no waiter queue themselves; this
// is the coarse level at which waiters are registered and woken.
type Manager struct {
	mu            sync.Mutex
	waitingQueues map[uint64]*queue
}

func NewManager() *Manager {
	return &Manager{
		waitingQueues: map[uint64]*queue{},
	}
}

type queue struct {
	waiters []*Waiter
}

// getReadyWaiters returns the waiters blocked on one of keyHashes and the
// number left in the queue. Callers hold the manager lock.
func (q *queue) getReadyWaiters(keyHashes []uint64) (readyWaiters []*Waiter, remainSize int) {
	readyWaiters = make([]*Waiter, 0, 8)
	remainedWaiters := q.waiters[:0]
	for _, w := range q.waiters {
		if w.inKeys(keyHashes) {
			readyWaiters = append(readyWaiters, w)
		} else {
			remainedWaiters = append(remainedWaiters, w)
		}
	}
	remainSize = len(remainedWaiters)
	q.waiters = remainedWaiters
	return
}

// removeWaiter removes w from the pending array. Callers hold the manager lock.
func (q *queue) removeWaiter(w *Waiter) {
	for i, waiter := range q.waiters {
		if waiter == w {
			q.waiters = append(q.waiters[:i], q.waiters[i+1:]...)
			break
		}
	}
}

type Waiter struct {
	timeout time.Duration
	ch      chan WaitResult
	startTS uint64
	LockTS  uint64
	KeyHash uint64
}

// Position is the index a waiter was woken at; waiters woken together are
// ordered by transaction id so the oldest retries first.
type Position int

const WaitTimeout Position = -1

type WaitResult struct {
	Position Position
	CommitTS uint64
}

// Wait blocks until the holder releases the lock or the timeout fires.
func (w *Waiter) Wait() WaitResult {
	select {
	case <-time.After(w.timeout):
		return WaitResult{Position: WaitTimeout}
	case result := <-w.ch:
		return result
	}
}

func (w *Waiter) inKeys(keyHashes []uint64) bool {
	idx := sort.Search(len(keyHashes), func(i int) bool {
		return keyHashes[i] >= w.KeyHash
	})
	if idx == len(keyHashes) {
		return false
	}
	return keyHashes[idx] == w.KeyHash
}

// NewWaiter registers a waiter blocked on the transaction lockTS for the row
// identified by keyHash.
func (lw *Manager) NewWaiter(startTS, lockTS, keyHash uint64, timeout time.Duration) *Waiter {
	// allocate memory before holding the lock.
	q := new(queue)
	q.waiters = make([]*Waiter, 0, 8)
	waiter := &Waiter{
		timeout: timeout,
		ch:      make(chan WaitResult, 1),
		startTS: startTS,
		LockTS:  lockTS,
		KeyHash: keyHash,
	}
	q.waiters = append(q.waiters, waiter)
	lw.mu.Lock()
	if old, ok := lw.waitingQueues[lockTS]; ok {
		old.waiters = append(old.waiters, waiter)
	} else {
		lw.waitingQueues[lockTS] = q
	}
	lw.mu.Unlock()
	return waiter
}

// WakeUp wakes up waiters blocked on txn for the released keys.
func (lw *Manager) WakeUp(txn, commitTS uint64, keyHashes []uint64) {
	sort.Slice(keyHashes, func(i, j int) bool {
		return keyHashes[i] < keyHashes[j]
	})
	var waiters []*Waiter
	lw.mu.Lock()
	q := lw.waitingQueues[txn]
	if q != nil {
		var remainSize int
		waiters, remainSize = q.getReadyWaiters(keyHashes)
		if remainSize == 0 {
			delete(lw.waitingQueues, txn)
		}
	}
	lw.mu.Unlock()
	if len(waiters) == 0 {
		return
	}
	sort.Slice(waiters, func(i, j int) bool {
		return waiters[i].startTS < waiters[j].startTS
	})
	for i, w := range waiters {
		w.ch <- WaitResult{Position: Position(i), CommitTS: commitTS}
	}
	log.Debugf("woke up %d txns blocked by %d on keys %v", len(waiters), txn, keyHashes)
}

// CleanUp removes a waiter after its wait timed out.
func (lw *Manager) CleanUp(w *Waiter) {
	lw.mu.Lock()
	q := lw.waitingQueues[w.LockTS]
	if q != nil {
		q.removeWaiter(w)
		if len(q.waiters) == 0 {
			delete(lw.waitingQueues, w.LockTS)
		}
	}
	lw.mu.Unlock()
}

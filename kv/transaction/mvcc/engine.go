package mvcc

import (
	"math"
	"sync"
	"time"

	"github.com/ngaut/log"
	"go.uber.org/atomic"

	"github.com/veradb/veradb/kv/config"
	"github.com/veradb/veradb/kv/util/deadlock"
	"github.com/veradb/veradb/kv/util/lockwaiter"
	"github.com/veradb/veradb/kv/util/worker"
)

const (
	detectorEntryTTL       = 3 * time.Second
	detectorUrgentSize     = 100000
	detectorExpireInterval = 3600 * time.Second
)

// Engine allocates transaction ids and commit timestamps from one monotone
// counter, tracks live transactions, and owns the old-version index that
// backs repeatable-read snapshots.
type Engine struct {
	conf    *config.Config
	counter atomic.Uint64
	closed  atomic.Bool

	mu      sync.Mutex
	active  map[uint64]*Transaction
	rrCount int

	// cell identity -> *OldValue chain head
	oldValues sync.Map

	waiters  *lockwaiter.Manager
	detector *deadlock.Detector

	commitWorker *worker.Worker
	sweepStop    chan struct{}
	wg           sync.WaitGroup
}

func NewEngine(conf *config.Config) *Engine {
	e := &Engine{
		conf:      conf,
		active:    make(map[uint64]*Transaction),
		waiters:   lockwaiter.NewManager(),
		detector:  deadlock.NewDetector(detectorEntryTTL, detectorUrgentSize, detectorExpireInterval),
		sweepStop: make(chan struct{}),
	}
	e.commitWorker = worker.NewWorker("async-commit", &e.wg)
	e.commitWorker.Start(commitTaskHandler{})
	e.startSweeper()
	return e
}

// Begin starts a transaction at the given isolation level. The id doubles as
// the snapshot marker for snapshot-isolated reads.
func (e *Engine) Begin(autoCommit bool, level IsolationLevel) *Transaction {
	t := &Transaction{
		engine:     e,
		id:         e.counter.Inc(),
		level:      level,
		autoCommit: autoCommit,
	}
	t.status.Store(int32(StatusActive))
	e.mu.Lock()
	e.active[t.id] = t
	if level.snapshot() {
		e.rrCount++
	}
	e.mu.Unlock()
	return t
}

// nextTimestamp assigns a commit timestamp; ids and timestamps share the
// counter so they are directly comparable.
func (e *Engine) nextTimestamp() uint64 {
	return e.counter.Inc()
}

// ContainsRepeatableReadTransactions is the cheap gate that lets commits skip
// old-version bookkeeping entirely when no snapshot reader is alive.
func (e *Engine) ContainsRepeatableReadTransactions() bool {
	e.mu.Lock()
	n := e.rrCount
	e.mu.Unlock()
	return n > 0
}

// minRepeatableReadTid returns the smallest id among live snapshot
// transactions, or MaxUint64 when none is alive.
func (e *Engine) minRepeatableReadTid() uint64 {
	min := uint64(math.MaxUint64)
	e.mu.Lock()
	for id, t := range e.active {
		if t.level.snapshot() && id < min {
			min = id
		}
	}
	e.mu.Unlock()
	return min
}

// maxRepeatableReadTid returns the largest id among live snapshot
// transactions, or 0 when none is alive.
func (e *Engine) maxRepeatableReadTid() uint64 {
	max := uint64(0)
	e.mu.Lock()
	for id, t := range e.active {
		if t.level.snapshot() && id > max {
			max = id
		}
	}
	e.mu.Unlock()
	return max
}

func (e *Engine) getOldValue(c *Cell) *OldValue {
	if v, ok := e.oldValues.Load(c); ok {
		return v.(*OldValue)
	}
	return nil
}

func (e *Engine) addOldValue(c *Cell, v *OldValue) {
	e.oldValues.Store(c, v)
}

// endTransaction removes t from the live set, wakes its waiters and prunes
// opportunistically.
func (e *Engine) endTransaction(t *Transaction, keyHashes []uint64) {
	e.mu.Lock()
	delete(e.active, t.id)
	if t.level.snapshot() {
		e.rrCount--
	}
	e.mu.Unlock()
	e.detector.CleanUp(t.id)
	e.waiters.WakeUp(t.id, t.CommitTS(), keyHashes)
	e.pruneOldValues()
}

// pruneOldValues removes chain nodes no live snapshot reader can still see.
// Runs opportunistically on transaction end and on the periodic sweep.
func (e *Engine) pruneOldValues() {
	if !e.ContainsRepeatableReadTransactions() {
		removed := 0
		e.oldValues.Range(func(k, _ interface{}) bool {
			e.oldValues.Delete(k)
			removed++
			return true
		})
		if removed > 0 {
			log.Debugf("pruned all %d old-value chains, no live snapshot readers", removed)
		}
		return
	}
	minTid := e.minRepeatableReadTid()
	e.oldValues.Range(func(_, v interface{}) bool {
		v.(*OldValue).truncateBelow(minTid)
		return true
	})
}

func (e *Engine) startSweeper() {
	interval := e.conf.SweepInterval.Duration
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.pruneOldValues()
			case <-e.sweepStop:
				return
			}
		}
	}()
}

func (e *Engine) Conf() *config.Config {
	return e.conf
}

// WaiterManager exposes the coarse waiter registry to the executor.
func (e *Engine) WaiterManager() *lockwaiter.Manager {
	return e.waiters
}

// Detector exposes the wait-for graph used when a lock wait passes the
// session timeout.
func (e *Engine) Detector() *deadlock.Detector {
	return e.detector
}

func (e *Engine) Closed() bool {
	return e.closed.Load()
}

// Close stops background work and rejects further statements.
func (e *Engine) Close() {
	if !e.closed.CAS(false, true) {
		return
	}
	close(e.sweepStop)
	e.commitWorker.Stop()
	e.wg.Wait()
}

// ShutdownImmediately is the emergency stop used on out-of-memory: partial
// transaction state cannot be trusted, so nothing is flushed or completed.
func (e *Engine) ShutdownImmediately() {
	if !e.closed.CAS(false, true) {
		return
	}
	log.Errorf("emergency shutdown, in-flight transactions abandoned")
	close(e.sweepStop)
	e.commitWorker.Stop()
}

// commitTask finishes an async commit after the redo-log flush acknowledges.
type commitTask struct {
	txn     *Transaction
	handler func(error)
}

type commitTaskHandler struct{}

func (commitTaskHandler) Handle(t worker.Task) {
	task := t.(commitTask)
	task.txn.finishCommit()
	if task.handler != nil {
		task.handler(nil)
	}
}

// OldValueChainLen reports the chain length for a cell; test hook.
func (e *Engine) OldValueChainLen(c *Cell) int {
	old := e.getOldValue(c)
	if old == nil {
		return 0
	}
	return old.length()
}

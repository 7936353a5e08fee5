package deadlock

import (
	"sync"
	"time"

	"github.com/ngaut/log"
)

// Detector keeps a wait-for graph of transactions blocked on row locks and
// answers whether adding one more edge closes a cycle.
type Detector struct {
	mu              sync.Mutex
	waitForMap      map[uint64]*txnList
	entryTTL        time.Duration
	totalSize       uint64
	lastActiveExpire time.Time
	urgentSize      uint64
	expireInterval  time.Duration
}

type txnList struct {
	txns []txnKeyHashPair
}

type txnKeyHashPair struct {
	txn          uint64
	keyHash      uint64
	registerTime time.Time
}

// NewDetector creates a detector. Entries older than ttl are recycled lazily;
// once totalSize passes urgentSize expiration runs on every detect call.
func NewDetector(ttl time.Duration, urgentSize uint64, expireInterval time.Duration) *Detector {
	return &Detector{
		waitForMap:       map[uint64]*txnList{},
		entryTTL:         ttl,
		lastActiveExpire: time.Now(),
		urgentSize:       urgentSize,
		expireInterval:   expireInterval,
	}
}

// Detect reports whether sourceTxn waiting for waitForTxn creates a cycle.
// When no cycle is found the edge is registered so later detections see it.
// The returned key hash identifies the edge that closed the cycle.
func (d *Detector) Detect(sourceTxn, waitForTxn, keyHash uint64) (deadlock bool, deadlockKeyHash uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.activeExpire()
	if hash, ok := d.doDetect(sourceTxn, waitForTxn); ok {
		return true, hash
	}
	d.register(sourceTxn, waitForTxn, keyHash)
	return false, 0
}

func (d *Detector) doDetect(sourceTxn, waitForTxn uint64) (uint64, bool) {
	list := d.waitForMap[waitForTxn]
	if list == nil {
		return 0, false
	}
	now := time.Now()
	for i := 0; i < len(list.txns); {
		pair := list.txns[i]
		if now.Sub(pair.registerTime) > d.entryTTL {
			list.txns = append(list.txns[:i], list.txns[i+1:]...)
			d.totalSize--
			continue
		}
		if pair.txn == sourceTxn {
			return pair.keyHash, true
		}
		if hash, ok := d.doDetect(sourceTxn, pair.txn); ok {
			return hash, true
		}
		i++
	}
	if len(list.txns) == 0 {
		delete(d.waitForMap, waitForTxn)
	}
	return 0, false
}

func (d *Detector) register(sourceTxn, waitForTxn, keyHash uint64) {
	pair := txnKeyHashPair{txn: waitForTxn, keyHash: keyHash, registerTime: time.Now()}
	list := d.waitForMap[sourceTxn]
	if list == nil {
		d.waitForMap[sourceTxn] = &txnList{txns: []txnKeyHashPair{pair}}
		d.totalSize++
		return
	}
	for _, tp := range list.txns {
		if tp.txn == waitForTxn && tp.keyHash == keyHash {
			return
		}
	}
	list.txns = append(list.txns, pair)
	d.totalSize++
}

// CleanUp removes all wait-for edges of txn, called when it ends.
func (d *Detector) CleanUp(txn uint64) {
	d.mu.Lock()
	if list, ok := d.waitForMap[txn]; ok {
		d.totalSize -= uint64(len(list.txns))
		delete(d.waitForMap, txn)
	}
	d.mu.Unlock()
}

// CleanUpWaitFor removes one wait-for edge after the waiter acquired the lock.
func (d *Detector) CleanUpWaitFor(txn, waitForTxn, keyHash uint64) {
	d.mu.Lock()
	if list, ok := d.waitForMap[txn]; ok {
		for i, tp := range list.txns {
			if tp.txn == waitForTxn && tp.keyHash == keyHash {
				list.txns = append(list.txns[:i], list.txns[i+1:]...)
				d.totalSize--
				break
			}
		}
		if len(list.txns) == 0 {
			delete(d.waitForMap, txn)
		}
	}
	d.mu.Unlock()
}

func (d *Detector) activeExpire() {
	if d.totalSize < d.urgentSize && time.Since(d.lastActiveExpire) < d.expireInterval {
		return
	}
	now := time.Now()
	for txn, list := range d.waitForMap {
		kept := list.txns[:0]
		for _, pair := range list.txns {
			if now.Sub(pair.registerTime) <= d.entryTTL {
				kept = append(kept, pair)
			} else {
				d.totalSize--
			}
		}
		list.txns = kept
		if len(list.txns) == 0 {
			delete(d.waitForMap, txn)
		}
	}
	d.lastActiveExpire = now
	log.Debugf("deadlock detector expired stale edges, %d left", d.totalSize)
}

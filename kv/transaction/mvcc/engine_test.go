package mvcc

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veradb/veradb/kv/config"
)

func TestTransactionIdsAndTimestampsShareOneCounter(t *testing.T) {
	e := newTestEngine()
	defer e.Close()

	t1 := e.Begin(false, ReadCommitted)
	t2 := e.Begin(false, ReadCommitted)
	assert.True(t, t2.ID() > t1.ID())

	require.NoError(t, t1.Commit())
	assert.True(t, t1.CommitTS() > t2.ID())

	t3 := e.Begin(false, ReadCommitted)
	assert.True(t, t3.ID() > t1.CommitTS())
	t2.Rollback()
	t3.Rollback()
}

func TestRepeatableReadTracking(t *testing.T) {
	e := newTestEngine()
	defer e.Close()
	assert.False(t, e.ContainsRepeatableReadTransactions())
	assert.Equal(t, uint64(math.MaxUint64), e.minRepeatableReadTid())
	assert.Equal(t, uint64(0), e.maxRepeatableReadTid())

	rc := e.Begin(false, ReadCommitted)
	assert.False(t, e.ContainsRepeatableReadTransactions())

	rr1 := e.Begin(false, RepeatableRead)
	ser := e.Begin(false, Serializable)
	assert.True(t, e.ContainsRepeatableReadTransactions())
	assert.Equal(t, rr1.ID(), e.minRepeatableReadTid())
	assert.Equal(t, ser.ID(), e.maxRepeatableReadTid())

	require.NoError(t, rr1.Commit())
	assert.Equal(t, ser.ID(), e.minRepeatableReadTid())

	require.NoError(t, ser.Commit())
	assert.False(t, e.ContainsRepeatableReadTransactions())
	rc.Rollback()
}

func TestVersionRetentionForLiveSnapshotReaders(t *testing.T) {
	e := newTestEngine()
	defer e.Close()
	cell := NewCommitted("v0")
	reader := e.Begin(false, RepeatableRead)

	writer := e.Begin(false, ReadCommitted)
	require.True(t, cell.TryLock(writer))
	cell.SetValue("v1")
	require.NoError(t, writer.Commit())
	require.True(t, reader.ID() < writer.CommitTS())

	// the pre-image stays reachable while the snapshot reader is alive
	assert.Equal(t, 2, e.OldValueChainLen(cell))
	assert.Equal(t, "v0", cell.Value(reader))

	// once it ends, the prune at transaction end drops the whole chain
	require.NoError(t, reader.Commit())
	assert.Equal(t, 0, e.OldValueChainLen(cell))
}

func TestPeriodicSweepPrunesChains(t *testing.T) {
	conf := config.NewDefaultConfig()
	conf.SweepInterval = config.NewDuration(10 * time.Millisecond)
	e := NewEngine(conf)
	defer e.Close()
	cell := NewCommitted("v0")

	reader := e.Begin(false, RepeatableRead)
	writer := e.Begin(false, ReadCommitted)
	require.True(t, cell.TryLock(writer))
	cell.SetValue("v1")
	require.NoError(t, writer.Commit())
	require.Equal(t, 2, e.OldValueChainLen(cell))

	// ending the reader without a commit-time prune: clear the chain via
	// the background sweep only
	e.mu.Lock()
	delete(e.active, reader.id)
	e.rrCount--
	e.mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for e.OldValueChainLen(cell) != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, 0, e.OldValueChainLen(cell))
}

func TestClosedEngineRejectsWork(t *testing.T) {
	e := newTestEngine()
	assert.False(t, e.Closed())
	e.Close()
	assert.True(t, e.Closed())
	// Close is idempotent
	e.Close()
}

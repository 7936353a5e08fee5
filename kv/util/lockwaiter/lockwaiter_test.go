package lockwaiter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWakeUpDeliversCommitTS(t *testing.T) {
	mgr := NewManager()
	w := mgr.NewWaiter(10, 5, 77, time.Second)

	go mgr.WakeUp(5, 42, []uint64{77})
	res := w.Wait()
	require.NotEqual(t, WaitTimeout, res.Position)
	assert.Equal(t, uint64(42), res.CommitTS)
}

func TestWakeUpOnlyMatchingKeys(t *testing.T) {
	mgr := NewManager()
	w1 := mgr.NewWaiter(10, 5, 77, 50*time.Millisecond)
	w2 := mgr.NewWaiter(11, 5, 88, 50*time.Millisecond)

	mgr.WakeUp(5, 42, []uint64{88})
	res := w2.Wait()
	assert.NotEqual(t, WaitTimeout, res.Position)

	res = w1.Wait()
	assert.Equal(t, WaitTimeout, res.Position)
	mgr.CleanUp(w1)
}

func TestWakeUpOrdersByStartTS(t *testing.T) {
	mgr := NewManager()
	young := mgr.NewWaiter(20, 5, 77, time.Second)
	old := mgr.NewWaiter(10, 5, 77, time.Second)

	mgr.WakeUp(5, 42, []uint64{77})
	assert.Equal(t, Position(0), old.Wait().Position)
	assert.Equal(t, Position(1), young.Wait().Position)
}

func TestTimeoutAndCleanUp(t *testing.T) {
	mgr := NewManager()
	w := mgr.NewWaiter(10, 5, 77, 10*time.Millisecond)
	res := w.Wait()
	assert.Equal(t, WaitTimeout, res.Position)
	mgr.CleanUp(w)

	// a later wakeup finds no waiter and must not block
	mgr.WakeUp(5, 42, []uint64{77})
}

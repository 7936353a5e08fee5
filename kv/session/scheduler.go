package session

import (
	"sync"

	"github.com/ngaut/log"

	"github.com/veradb/veradb/kv/util/lockwaiter"
	"github.com/veradb/veradb/kv/util/worker"
)

// Yieldable is a long-running statement executing in cooperative steps. Run
// returns true when the statement suspended and must be re-invoked later;
// Back rebuilds the cursor position before a re-run after a lock conflict.
type Yieldable interface {
	Run() bool
	Back()
}

// Scheduler drives sessions cooperatively on a shared worker pool. A session
// is pinned to one worker, so its statement steps never run concurrently;
// different sessions run in parallel on independent workers.
type Scheduler struct {
	workers []*worker.Worker
	wg      sync.WaitGroup
}

type sessionTask struct {
	sess *Session
	y    Yieldable
}

func NewScheduler(workerCount int) *Scheduler {
	s := &Scheduler{}
	for i := 0; i < workerCount; i++ {
		w := worker.NewWorker("scheduler", &s.wg)
		w.Start(&schedulerHandler{sched: s})
		s.workers = append(s.workers, w)
	}
	return s
}

// Submit queues one execution step of y on the session's worker.
func (s *Scheduler) Submit(sess *Session, y Yieldable) {
	w := s.workers[sess.ID()%uint64(len(s.workers))]
	w.Sender() <- worker.Task(sessionTask{sess: sess, y: y})
}

func (s *Scheduler) Stop() {
	for _, w := range s.workers {
		w.Stop()
	}
	s.wg.Wait()
}

type schedulerHandler struct {
	sched *Scheduler
}

func (h *schedulerHandler) Handle(t worker.Task) {
	task := t.(sessionTask)
	suspended := task.y.Run()
	if !suspended {
		return
	}
	sess := task.sess
	if sess.Status() != Waiting {
		// cooperative yield, no conflict: take the next step right away
		h.sched.Submit(sess, task.y)
		return
	}
	waiter := sess.Waiter()
	if waiter == nil {
		log.Errorf("session %d is WAITING without a registered waiter", sess.ID())
		h.sched.Submit(sess, task.y)
		return
	}
	// Block off-worker until the lock holder releases, then rewake the
	// statement at the saved row.
	h.sched.wg.Add(1)
	go func() {
		defer h.sched.wg.Done()
		result := waiter.Wait()
		if result.Position == lockwaiter.WaitTimeout {
			sess.Engine().WaiterManager().CleanUp(waiter)
		}
		sess.SetWaiter(nil)
		sess.SetStatus(Retrying)
		task.y.Back()
		h.sched.Submit(sess, task.y)
	}()
}

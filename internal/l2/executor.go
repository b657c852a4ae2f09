package l2

import (
	"sync"
	"time"

	"github.com/marekvnovak/tlvcache/internal/shared/queue"
)

// executor is the single-worker, bounded-queue persistence pipeline: one
// goroutine drains a capacity-100 task queue; while Working a full queue
// blocks submitters, while Stopping it
// discards the oldest queued task instead so a final drain can never block
// on itself.
type executor struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	notFull  *sync.Cond
	idle     *sync.Cond

	tasks *queue.Queue[func()]

	stopping bool
	stopped  bool
	aborted  bool
	busy     bool

	exited chan struct{}
}

func newExecutor(capacity int) *executor {
	e := &executor{
		tasks:  queue.New[func()](capacity + 1),
		exited: make(chan struct{}),
	}
	e.notEmpty = sync.NewCond(&e.mu)
	e.notFull = sync.NewCond(&e.mu)
	e.idle = sync.NewCond(&e.mu)
	return e
}

func (e *executor) start() { go e.loop() }

func (e *executor) loop() {
	defer close(e.exited)
	for {
		e.mu.Lock()
		if e.aborted {
			e.mu.Unlock()
			return
		}
		for e.tasks.Len() == 0 {
			if e.stopped {
				e.mu.Unlock()
				return
			}
			e.idle.Broadcast()
			e.notEmpty.Wait()
			if e.aborted {
				e.mu.Unlock()
				return
			}
		}
		task, _ := e.tasks.TryPop()
		e.busy = true
		e.notFull.Signal()
		e.mu.Unlock()

		task()

		e.mu.Lock()
		e.busy = false
		if e.tasks.Len() == 0 {
			e.idle.Broadcast()
		}
		e.mu.Unlock()
	}
}

// submit enqueues task, blocking while Working if the queue is full, and
// discarding the oldest queued task to make room while Stopping. It is a
// no-op once the executor has stopped or aborted.
func (e *executor) submit(task func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped || e.aborted {
		return
	}
	if e.stopping {
		if !e.tasks.TryPush(task) {
			e.tasks.TryPop()
			e.tasks.TryPush(task)
		}
		e.notEmpty.Signal()
		return
	}
	for !e.tasks.TryPush(task) {
		if e.stopped || e.aborted {
			return
		}
		e.notFull.Wait()
	}
	e.notEmpty.Signal()
}

// beginDrain flips to the Stopping overflow policy (discard oldest queued
// task instead of blocking the submitter) ahead of a final flush submit, so
// the flush can never block on a queue filled by in-flight evictions.
func (e *executor) beginDrain() {
	e.mu.Lock()
	e.stopping = true
	e.mu.Unlock()
}

// drain waits for the queue (including whatever final task the caller
// submitted after beginDrain) to run empty, then stops the worker and
// waits for it to exit.
func (e *executor) drain() {
	e.mu.Lock()
	e.stopping = true
	for e.tasks.Len() > 0 || e.busy {
		e.idle.Wait()
	}
	e.stopped = true
	e.notEmpty.Broadcast()
	e.mu.Unlock()

	<-e.exited
}

// abort requests immediate termination, discarding any queued backlog
// without running it, and waits up to timeout for the worker to exit. It
// reports whether the worker exited within timeout.
func (e *executor) abort(timeout time.Duration) bool {
	e.mu.Lock()
	e.stopping = true
	e.stopped = true
	e.aborted = true
	for {
		if _, ok := e.tasks.TryPop(); !ok {
			break
		}
	}
	e.notEmpty.Broadcast()
	e.notFull.Broadcast()
	e.mu.Unlock()

	select {
	case <-e.exited:
		return true
	case <-time.After(timeout):
		return false
	}
}

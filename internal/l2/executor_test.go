package l2

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_RunsSubmittedTasks(t *testing.T) {
	e := newExecutor(4)
	e.start()

	var n atomic.Int32
	var wg sync.WaitGroup
	wg.Add(3)
	for i := 0; i < 3; i++ {
		e.submit(func() {
			n.Add(1)
			wg.Done()
		})
	}
	wg.Wait()
	assert.Equal(t, int32(3), n.Load())
	e.drain()
}

func TestExecutor_BlocksSubmitWhenFullInWorking(t *testing.T) {
	e := newExecutor(1) // capacity 1, ring buffer of size 2
	release := make(chan struct{})
	e.start()

	// Occupy the worker with a blocking task so the queue backs up.
	started := make(chan struct{})
	e.submit(func() {
		close(started)
		<-release
	})
	<-started

	e.submit(func() {}) // fills the single queue slot

	submitted := make(chan struct{})
	go func() {
		e.submit(func() {}) // should block: queue full, worker busy
		close(submitted)
	}()

	select {
	case <-submitted:
		t.Fatal("submit should have blocked while queue is full")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	<-submitted
	e.drain()
}

func TestExecutor_StoppingDiscardsOldest(t *testing.T) {
	e := newExecutor(1)

	var ran []int
	var mu sync.Mutex
	record := func(i int) func() {
		return func() {
			mu.Lock()
			ran = append(ran, i)
			mu.Unlock()
		}
	}

	// Don't start the worker yet, so submissions just accumulate.
	e.mu.Lock()
	e.stopping = true
	e.mu.Unlock()

	e.submit(record(1))
	e.submit(record(2)) // queue capacity 1: discards 1, keeps 2

	e.start()
	e.drain()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []int{2}, ran)
}

func TestExecutor_AbortTerminatesWithinTimeout(t *testing.T) {
	e := newExecutor(10)
	e.start()
	e.submit(func() {})
	ok := e.abort(time.Second)
	assert.True(t, ok)
}

func TestExecutor_AbortTimesOutOnSlowTask(t *testing.T) {
	e := newExecutor(10)
	e.start()
	block := make(chan struct{})
	started := make(chan struct{})
	e.submit(func() {
		close(started)
		<-block
	})
	<-started

	ok := e.abort(10 * time.Millisecond)
	assert.False(t, ok)
	close(block)
}

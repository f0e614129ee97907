// Package executor runs fire-and-forget tasks on a fixed pool of workers
// draining one shared FIFO queue.
package executor

import (
	"log"
	"sync"
)

// Task is a queued unit of work. Failures are the task's own business:
// nothing is reported back to the enqueuer.
type Task func()

// Executor owns W worker goroutines pulling from a locked FIFO queue.
type Executor struct {
	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Task
	stopped bool
	wg      sync.WaitGroup
}

// New starts an executor with the given number of workers.
func New(workers int) *Executor {
	if workers < 1 {
		workers = 1
	}
	e := &Executor{}
	e.cond = sync.NewCond(&e.mu)

	e.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go e.worker()
	}
	return e
}

// Enqueue appends a task and wakes one worker.
// Returns false once the executor has been shut down.
func (e *Executor) Enqueue(task Task) bool {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return false
	}
	e.queue = append(e.queue, task)
	e.mu.Unlock()

	e.cond.Signal()
	return true
}

// Shutdown stops the executor and blocks until every task enqueued before
// the call has run and all workers have exited. The queue always drains;
// shutdown never abandons queued work.
func (e *Executor) Shutdown() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	e.cond.Broadcast()
	e.wg.Wait()
}

func (e *Executor) worker() {
	defer e.wg.Done()

	for {
		e.mu.Lock()
		for len(e.queue) == 0 && !e.stopped {
			e.cond.Wait()
		}
		if len(e.queue) == 0 && e.stopped {
			e.mu.Unlock()
			return
		}
		task := e.queue[0]
		e.queue = e.queue[1:]
		e.mu.Unlock()

		runTask(task)
	}
}

func runTask(task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("executor: task panicked: %v", r)
		}
	}()
	task()
}

package utils

import (
	"sync"
)

// WorkerPool runs notification side effects on a bounded set of workers so
// report handling never blocks on a slow downstream provider.
type WorkerPool struct {
	queue chan func()
	wg    sync.WaitGroup
}

// NewWorkerPool starts workers goroutines consuming from a queue of the
// given depth.
func NewWorkerPool(workers, queueDepth int) *WorkerPool {
	pool := &WorkerPool{
		queue: make(chan func(), queueDepth),
	}

	pool.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go pool.worker()
	}

	return pool
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for task := range wp.queue {
		task()
	}
}

// Submit enqueues a task, blocking while the queue is full.
func (wp *WorkerPool) Submit(task func()) {
	wp.queue <- task
}

// TrySubmit enqueues a task without blocking, reporting whether it was
// accepted.
func (wp *WorkerPool) TrySubmit(task func()) bool {
	select {
	case wp.queue <- task:
		return true
	default:
		return false
	}
}

// Shutdown stops accepting tasks and waits for in-flight work to finish.
func (wp *WorkerPool) Shutdown() {
	close(wp.queue)
	wp.wg.Wait()
}

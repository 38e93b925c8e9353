package utils_test

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pawtrail/tracker/internal/utils"
)

func TestWorkerPool_RunsAllTasks(t *testing.T) {
	pool := utils.NewWorkerPool(4, 16)

	var ran int64
	for i := 0; i < 50; i++ {
		pool.Submit(func() { atomic.AddInt64(&ran, 1) })
	}
	pool.Shutdown()

	assert.Equal(t, int64(50), ran)
}

func TestWorkerPool_TrySubmitRejectsWhenFull(t *testing.T) {
	pool := utils.NewWorkerPool(1, 1)
	block := make(chan struct{})
	started := make(chan struct{})

	// Occupy the single worker, then fill the queue.
	pool.Submit(func() {
		close(started)
		<-block
	})
	<-started
	pool.Submit(func() {})

	assert.False(t, pool.TrySubmit(func() {}))

	close(block)
	pool.Shutdown()
}

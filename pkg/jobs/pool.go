package jobs

import (
	"context"
	"sync"

	"transcript-orchestrator/pkg/models"
)

// workerPool fans record checks out over a fixed number of goroutines.
// A pool lives for one reconciliation sweep: Start, Submit everything,
// Stop to drain and join.
type workerPool struct {
	workers    int
	taskQueue  chan *models.MappingRecord
	workerFunc func(context.Context, *models.MappingRecord)
	wg         sync.WaitGroup
}

func newWorkerPool(workers int, workerFunc func(context.Context, *models.MappingRecord)) *workerPool {
	if workers <= 0 {
		workers = 1
	}
	return &workerPool{
		workers:    workers,
		taskQueue:  make(chan *models.MappingRecord, workers*2),
		workerFunc: workerFunc,
	}
}

func (wp *workerPool) Start(ctx context.Context) {
	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx)
	}
}

// Submit enqueues a record, or reports false if ctx was cancelled
// before a worker could take it.
func (wp *workerPool) Submit(ctx context.Context, rec *models.MappingRecord) bool {
	select {
	case wp.taskQueue <- rec:
		return true
	case <-ctx.Done():
		return false
	}
}

func (wp *workerPool) Stop() {
	close(wp.taskQueue)
	wp.wg.Wait()
}

func (wp *workerPool) worker(ctx context.Context) {
	defer wp.wg.Done()

	for rec := range wp.taskQueue {
		select {
		case <-ctx.Done():
			return
		default:
		}
		wp.workerFunc(ctx, rec)
	}
}

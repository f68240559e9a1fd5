package service

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
)

const defaultQueueSize = 1024

// ErrPoolStopped is returned by Submit after Stop.
var ErrPoolStopped = errors.New("worker pool stopped")

// Job is one queued unit of work. Abandon runs instead of Run for jobs
// still queued when the pool stops.
type Job struct {
	ID      string
	Run     func()
	Abandon func()
}

// WorkerPool runs jobs on a fixed number of goroutines
type WorkerPool struct {
	logger    Logger
	queueSize int
	jobs      chan Job

	// mu guards started and the closing of jobs
	mu       sync.RWMutex
	started  bool
	stopping atomic.Bool
	wg       sync.WaitGroup
}

func NewWorkerPool(queueSize int, logger Logger) *WorkerPool {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &WorkerPool{logger: logger, queueSize: queueSize}
}

// Start begins the worker pool with the specified number of workers
func (wp *WorkerPool) Start(workers int) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.started {
		return
	}
	wp.started = true
	wp.jobs = make(chan Job, wp.queueSize)
	for i := 0; i < workers; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
}

// Submit queues a job, waiting for room while ctx allows.
func (wp *WorkerPool) Submit(ctx context.Context, job Job) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if !wp.started || wp.stopping.Load() {
		return ErrPoolStopped
	}
	select {
	case wp.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop waits for running jobs and abandons the ones still queued
func (wp *WorkerPool) Stop() {
	// workers abandon from here on, which frees room for blocked submitters
	if wp.stopping.Swap(true) {
		return
	}
	wp.mu.Lock()
	if wp.started {
		close(wp.jobs)
	}
	wp.mu.Unlock()

	wp.wg.Wait()
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()
	for job := range wp.jobs {
		if wp.stopping.Load() {
			wp.logger.Infof("Abandoning job %s: pool stopping", job.ID)
			if job.Abandon != nil {
				job.Abandon()
			}
			continue
		}
		wp.run(job)
	}
}

func (wp *WorkerPool) run(job Job) {
	defer func() {
		if r := recover(); r != nil {
			wp.logger.Errorf("Job %s panicked: %v", job.ID, r)
		}
	}()
	job.Run()
}

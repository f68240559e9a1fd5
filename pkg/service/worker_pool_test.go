package service_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bayuaji732/data-prep-api/pkg/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool(t *testing.T) {
	ctx := context.Background()

	t.Run("RunsJobs", func(t *testing.T) {
		pool := service.NewWorkerPool(0, testLogger{})
		pool.Start(4)
		var (
			wg  sync.WaitGroup
			ran int32
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			err := pool.Submit(ctx, service.Job{ID: "job", Run: func() {
				defer wg.Done()
				atomic.AddInt32(&ran, 1)
			}})
			require.NoError(t, err)
		}
		wg.Wait()
		pool.Stop()
		assert.Equal(t, int32(20), atomic.LoadInt32(&ran))
	})

	t.Run("SubmitBeforeStartOrAfterStop", func(t *testing.T) {
		pool := service.NewWorkerPool(1, testLogger{})
		assert.ErrorIs(t, pool.Submit(ctx, service.Job{ID: "early", Run: func() {}}), service.ErrPoolStopped)
		pool.Start(1)
		pool.Stop()
		assert.ErrorIs(t, pool.Submit(ctx, service.Job{ID: "late", Run: func() {}}), service.ErrPoolStopped)
		// a second Stop is a no-op
		pool.Stop()
	})

	t.Run("StopAbandonsQueuedJobs", func(t *testing.T) {
		pool := service.NewWorkerPool(4, testLogger{})
		pool.Start(1)

		release := make(chan struct{})
		started := make(chan struct{})
		var finished, abandoned int32
		require.NoError(t, pool.Submit(ctx, service.Job{
			ID: "running",
			Run: func() {
				close(started)
				<-release
				atomic.AddInt32(&finished, 1)
			},
		}))
		<-started
		for i := 0; i < 3; i++ {
			require.NoError(t, pool.Submit(ctx, service.Job{
				ID:      "queued",
				Run:     func() { atomic.AddInt32(&finished, 1) },
				Abandon: func() { atomic.AddInt32(&abandoned, 1) },
			}))
		}

		stopped := make(chan struct{})
		go func() {
			pool.Stop()
			close(stopped)
		}()
		time.Sleep(50 * time.Millisecond)
		close(release)
		<-stopped

		assert.Equal(t, int32(1), atomic.LoadInt32(&finished))
		assert.Equal(t, int32(3), atomic.LoadInt32(&abandoned))
	})

	t.Run("SubmitWaitsForRoom", func(t *testing.T) {
		pool := service.NewWorkerPool(1, testLogger{})
		pool.Start(1)
		release := make(chan struct{})
		started := make(chan struct{})
		require.NoError(t, pool.Submit(ctx, service.Job{ID: "busy", Run: func() { close(started); <-release }}))
		<-started
		require.NoError(t, pool.Submit(ctx, service.Job{ID: "fills-queue", Run: func() {}}))

		cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()
		err := pool.Submit(cctx, service.Job{ID: "no-room", Run: func() {}})
		assert.ErrorIs(t, err, context.DeadlineExceeded)

		close(release)
		pool.Stop()
	})

	t.Run("PanicDoesNotKillWorker", func(t *testing.T) {
		pool := service.NewWorkerPool(2, testLogger{})
		pool.Start(1)
		done := make(chan struct{})
		require.NoError(t, pool.Submit(ctx, service.Job{ID: "boom", Run: func() { panic("boom") }}))
		require.NoError(t, pool.Submit(ctx, service.Job{ID: "after", Run: func() { close(done) }}))
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatal("worker did not survive a panicking job")
		}
		pool.Stop()
	})
}
